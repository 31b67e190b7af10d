// Package db keeps the named MySQL connection pools of an application.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
)

// Driver is the only supported database driver.
const Driver = "mysql"

const (
	DefaultPort            = 3306
	DefaultConnectionLimit = 10
)

var validate = validator.New()

// ErrInvalidDescriptor is wrapped by every Descriptor validation failure.
var ErrInvalidDescriptor = errors.New("invalid database descriptor")

// Descriptor describes one connection pool.
type Descriptor struct {
	Driver          string            `validate:"required,eq=mysql"`
	Host            string            `validate:"required"`
	Port            int               `validate:"gte=1,lte=65535"`
	Username        string            `validate:"required"`
	Password        string            `validate:"-"`
	Database        string            `validate:"required"`
	ConnectionLimit int               `validate:"gte=1"`
	Params          map[string]string `validate:"-"`
}

// WithDefaults fills the driver, port and connection limit when unset.
func (d Descriptor) WithDefaults() Descriptor {
	if d.Driver == "" {
		d.Driver = Driver
	}
	d.Driver = strings.ToLower(d.Driver)
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.ConnectionLimit == 0 {
		d.ConnectionLimit = DefaultConnectionLimit
	}
	return d
}

// Validate checks a descriptor after defaults are applied.
func (d Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidDescriptor, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "eq":
		return fmt.Sprintf("%s must be %q, got %q", fe.Field(), fe.Param(), fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range: %v", fe.Field(), fe.Value())
	}
	return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
}

// DSN returns the go-sql-driver/mysql data source name.
func (d Descriptor) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = d.Username
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	cfg.DBName = d.Database
	cfg.ParseTime = true
	if len(d.Params) > 0 {
		cfg.Params = make(map[string]string, len(d.Params))
		for k, v := range d.Params {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

// String describes the descriptor without the password.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", d.Driver, d.Username, net.JoinHostPort(d.Host, strconv.Itoa(d.Port)), d.Database)
}

// OpenPool opens a pool sized by the connection limit. No connection is made
// until the pool is first used.
func OpenPool(d Descriptor) (*sql.DB, error) {
	pool, err := sql.Open(d.Driver, d.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d, err)
	}
	pool.SetMaxOpenConns(d.ConnectionLimit)
	pool.SetMaxIdleConns(d.ConnectionLimit)
	pool.SetConnMaxIdleTime(5 * time.Minute)
	return pool, nil
}
