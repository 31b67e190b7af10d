// Package view renders html/template files found on a list of search paths.
package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/minifast/minifast/httperror"
)

// Ext is the file extension of view templates.
const Ext = ".html"

// Renderer looks up "<name>.html" in its search paths, first match wins.
// Parsed templates are cached until a watched file changes.
type Renderer struct {
	mu     sync.RWMutex
	paths  []string
	cache  map[string]*template.Template
	funcs  template.FuncMap
	logger *slog.Logger

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// WithFuncs adds template functions.
func WithFuncs(funcs template.FuncMap) Option {
	return func(r *Renderer) {
		for k, v := range funcs {
			r.funcs[k] = v
		}
	}
}

// New returns a Renderer without search paths.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		cache:  make(map[string]*template.Template),
		funcs:  template.FuncMap{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddPath appends dir to the search paths. Paths are made absolute and added
// once; it reports whether dir was new.
func (r *Renderer) AddPath(dir string) (bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("view path %s: %w", dir, err)
	}

	r.mu.Lock()
	if slices.Contains(r.paths, abs) {
		r.mu.Unlock()
		return false, nil
	}
	r.paths = append(r.paths, abs)
	clear(r.cache)
	r.mu.Unlock()

	r.logger.Info("view path added", "path", abs)

	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		if err := r.watcher.Add(abs); err != nil {
			r.logger.Warn("failed to watch view path", "path", abs, "error", err)
		}
	}
	return true, nil
}

// Paths returns the search paths in lookup order.
func (r *Renderer) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.paths)
}

// find returns the first file for name. Names may contain slashes but may not
// leave the search path.
func (r *Renderer) find(name string) (string, bool) {
	clean := filepath.Clean("/" + filepath.FromSlash(name))
	if clean == string(filepath.Separator) || strings.Contains(name, "..") {
		return "", false
	}
	r.mu.RLock()
	paths := r.paths
	r.mu.RUnlock()

	for _, dir := range paths {
		p := filepath.Join(dir, clean+Ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func (r *Renderer) template(name string) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	file, ok := r.find(name)
	if !ok {
		return nil, httperror.NotFoundf("View not found: %s", name)
	}
	tmpl, err := template.New(filepath.Base(file)).Funcs(r.funcs).ParseFiles(file)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

// Render executes the view name with data.
func (r *Renderer) Render(name string, data any) ([]byte, error) {
	tmpl, err := r.template(name)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("view %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Respond renders name and writes it with status. Nothing is written when
// rendering fails.
func (r *Renderer) Respond(w http.ResponseWriter, name string, data any, status int) error {
	html, err := r.Render(name, data)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(html)
	return err
}

// Invalidate drops every cached template.
func (r *Renderer) Invalidate() {
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
}

// Watch invalidates the cache whenever a file under a search path changes,
// until ctx is done or Close is called.
func (r *Renderer) Watch(ctx context.Context) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		return errors.New("view: already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create view watcher: %w", err)
	}
	for _, dir := range r.Paths() {
		if err := w.Add(dir); err != nil {
			r.logger.Warn("failed to watch view path", "path", dir, "error", err)
		}
	}
	r.watcher = w
	r.done = make(chan struct{})
	go r.watchLoop(ctx, w, r.done)
	return nil
}

func (r *Renderer) watchLoop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.logger.Debug("view changed", "file", event.Name, "op", event.Op.String())
				r.Invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("view watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (r *Renderer) Close() error {
	r.watchMu.Lock()
	w, done := r.watcher, r.done
	r.watcher, r.done = nil, nil
	r.watchMu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
