// Package config provides unified configuration loading from minifast.ini,
// an optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/minifast/minifast/db"
	"github.com/minifast/minifast/dburl"
	"github.com/minifast/minifast/inifile"
)

// ConfigFilename is the name of the config file.
const ConfigFilename = "minifast.ini"

// DefaultConnection is the connection name used by DATABASE_URL.
const DefaultConnection = "default"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

var validate = validator.New()

// Config holds the complete configuration.
type Config struct {
	// ConfigDir is the directory containing minifast.ini (the project root).
	ConfigDir string

	App       AppConfig
	Databases []NamedDatabase
}

// AppConfig holds settings from the [app] and [static] sections.
type AppConfig struct {
	Env             string        `validate:"oneof=development production test"`
	Port            int           `validate:"gte=1,lte=65535"`
	Views           []string      `validate:"dive,required"`
	Static          []StaticMount `validate:"dive"`
	CORSOrigins     []string
	Metrics         bool
	MetricsPath     string `validate:"startswith=/"`
	LogIgnore       []string
	ThrottleRPS     float64 `validate:"gte=0"`
	ThrottleBurst   int     `validate:"gte=0"`
	ShutdownTimeout time.Duration
}

// StaticMount serves Dir under Route.
type StaticMount struct {
	Route string `validate:"startswith=/"`
	Dir   string `validate:"required"`
}

// NamedDatabase is a [db.<name>] section.
type NamedDatabase struct {
	Name       string
	Descriptor db.Descriptor
}

// Development reports whether stack traces and debug logs should be exposed.
func (c *Config) Development() bool {
	return c.App.Env == EnvDevelopment
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.App.Port)
}

// Database returns the descriptor registered under name.
func (c *Config) Database(name string) (db.Descriptor, bool) {
	for _, nd := range c.Databases {
		if nd.Name == name {
			return nd.Descriptor, true
		}
	}
	return db.Descriptor{}, false
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Env:             EnvProduction,
		Port:            3000,
		Views:           []string{"views"},
		MetricsPath:     "/metrics",
		LogIgnore:       []string{"/healthz"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads configuration from dir (or CWD if empty). minifast.ini and .env
// are both optional; environment variables override the file.
func Load(dir string) (*Config, error) {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg := &Config{ConfigDir: dir, App: defaultAppConfig()}

	iniPath := filepath.Join(dir, ConfigFilename)
	f, err := inifile.ParseFile(iniPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f = &inifile.File{}
	case err != nil:
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFilename, err)
	}

	if err := parseAppSection(f, &cfg.App); err != nil {
		return nil, err
	}
	parseStaticSection(f, &cfg.App)
	if err := parseDBSections(f, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validate.Struct(c.App); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("app.%s: invalid value %v (%s)", strings.ToLower(fe.Field()), fe.Value(), fe.Tag()))
			}
			return fmt.Errorf("%s: %s", ConfigFilename, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%s: %w", ConfigFilename, err)
	}
	for _, nd := range c.Databases {
		if err := nd.Descriptor.Validate(); err != nil {
			return fmt.Errorf("%s: [db.%s]: %w", ConfigFilename, nd.Name, err)
		}
	}
	return nil
}

// parseAppSection parses the [app] section from the INI file.
func parseAppSection(f *inifile.File, cfg *AppConfig) error {
	s := f.Section("app")
	if s == nil {
		return nil
	}

	if v := s.Get("env"); v != "" {
		cfg.Env = strings.ToLower(v)
	}

	var err error
	if cfg.Port, err = s.Int("port", cfg.Port); err != nil {
		return fmt.Errorf("%s: %w", ConfigFilename, err)
	}
	if views := s.Strings("views"); len(views) > 0 {
		cfg.Views = views
	}
	cfg.CORSOrigins = s.Strings("cors_origins")
	if cfg.Metrics, err = s.Bool("metrics", cfg.Metrics); err != nil {
		return fmt.Errorf("%s: %w", ConfigFilename, err)
	}
	if v := s.Get("metrics_path"); v != "" {
		cfg.MetricsPath = v
	}
	if s.HasKey("log_ignore") {
		cfg.LogIgnore = s.Strings("log_ignore")
	}
	if cfg.ThrottleRPS, err = s.Float("throttle_rps", cfg.ThrottleRPS); err != nil {
		return fmt.Errorf("%s: %w", ConfigFilename, err)
	}
	if cfg.ThrottleBurst, err = s.Int("throttle_burst", cfg.ThrottleBurst); err != nil {
		return fmt.Errorf("%s: %w", ConfigFilename, err)
	}
	if v := s.Get("shutdown_timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: app.shutdown_timeout: %w", ConfigFilename, err)
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}

// parseStaticSection reads "route = dir" pairs from [static].
func parseStaticSection(f *inifile.File, cfg *AppConfig) {
	s := f.Section("static")
	if s == nil {
		return
	}
	for _, kv := range s.Values {
		cfg.Static = append(cfg.Static, StaticMount{Route: kv.Key, Dir: kv.Value})
	}
}

// parseDBSections parses [db.<name>] sections. A url key is parsed with
// dburl; individual keys refine or replace its parts.
func parseDBSections(f *inifile.File, cfg *Config) error {
	for _, section := range f.SectionsWithPrefix("db.") {
		name := strings.TrimPrefix(section.Name, "db.")

		var d db.Descriptor
		if u := section.Get("url"); u != "" {
			parsed, err := dburl.Parse(u)
			if err != nil {
				return fmt.Errorf("%s: [db.%s] url: %w", ConfigFilename, name, err)
			}
			d = parsed
		}

		if v := section.Get("driver"); v != "" {
			d.Driver = v
		}
		if v := section.Get("host"); v != "" {
			d.Host = v
		}
		if v := section.Get("user"); v != "" {
			d.Username = v
		}
		if section.HasKey("password") {
			d.Password = section.Get("password")
		}
		if v := section.Get("database"); v != "" {
			d.Database = v
		}
		var err error
		if d.Port, err = section.Int("port", d.Port); err != nil {
			return fmt.Errorf("%s: %w", ConfigFilename, err)
		}
		if d.ConnectionLimit, err = section.Int("connection_limit", d.ConnectionLimit); err != nil {
			return fmt.Errorf("%s: %w", ConfigFilename, err)
		}

		setDatabase(cfg, name, d.WithDefaults())
	}
	return nil
}

func setDatabase(cfg *Config, name string, d db.Descriptor) {
	for i := range cfg.Databases {
		if cfg.Databases[i].Name == name {
			cfg.Databases[i].Descriptor = d
			return
		}
	}
	cfg.Databases = append(cfg.Databases, NamedDatabase{Name: name, Descriptor: d})
}

// applyEnv applies APP_ENV, PORT and DATABASE_URL.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = strings.ToLower(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: invalid integer %q", v)
		}
		cfg.App.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		d, err := dburl.Parse(v)
		if err != nil {
			return fmt.Errorf("DATABASE_URL: %w", err)
		}
		setDatabase(cfg, DefaultConnection, d)
	}
	return nil
}

// resolvePaths makes view and static directories absolute relative to ConfigDir.
func (c *Config) resolvePaths() {
	for i, v := range c.App.Views {
		if !filepath.IsAbs(v) {
			c.App.Views[i] = filepath.Join(c.ConfigDir, v)
		}
	}
	for i, m := range c.App.Static {
		if !filepath.IsAbs(m.Dir) {
			c.App.Static[i].Dir = filepath.Join(c.ConfigDir, m.Dir)
		}
	}
}
