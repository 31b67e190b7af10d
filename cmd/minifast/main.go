package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/minifast/minifast/app"
	"github.com/minifast/minifast/dburl"
	"github.com/minifast/minifast/internal/config"
	"github.com/minifast/minifast/logging"
	"github.com/minifast/minifast/server"
)

const usage = `minifast - A small MVC web server for MySQL-backed JSON APIs

Usage:
  minifast [command]

Commands:
  serve         Start the HTTP server (default)
  routes        List the registered routes
  check         Validate minifast.ini and ping every database

Options:
  -h, --help    Show this help message

Configuration is read from minifast.ini and .env in the current directory.
APP_ENV, PORT and DATABASE_URL override the file.
`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	case "serve":
		err = serveCmd()
	case "routes":
		err = routesCmd(os.Stdout)
	case "check":
		err = checkCmd(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'minifast --help' for usage.")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func build() (*server.App, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	a, err := server.New(cfg, logging.New(cfg.App.Env))
	if err != nil {
		return nil, err
	}
	if err := app.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

func serveCmd() error {
	a, err := build()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func routesCmd(w io.Writer) error {
	a, err := build()
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tHANDLER\tMIDDLEWARE")
	for _, r := range a.Routes.Routes() {
		mws := ""
		for i, mw := range r.Middlewares {
			if i > 0 {
				mws += ", "
			}
			mws += mw.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Method, r.Path, r.Handler, mws)
	}
	return tw.Flush()
}

func checkCmd(w io.Writer) error {
	a, err := build()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config()
	fmt.Fprintf(w, "env:  %s\n", cfg.App.Env)
	fmt.Fprintf(w, "addr: %s\n", cfg.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, name := range a.DB.Names() {
		d, _ := a.DB.Descriptor(name)
		if _, err := a.DB.Get(name); err != nil {
			return err
		}
		fmt.Fprintf(w, "db.%s: %s\n", name, dburl.Redact(dburl.Build(d)))
	}
	if err := a.DB.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "ok")
	return nil
}
