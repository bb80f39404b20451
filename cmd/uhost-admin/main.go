// Command uhost-admin manages the gateway's device store.
//
// Without arguments it starts an interactive shell. Otherwise the arguments
// are run as a single shell command.
//
// Usage:
//
//	uhost-admin [flags] [command [args...]]
//
// Flags:
//
//	-config string  Configuration file path (overrides UHOST_CONFIG)
//	-driver string  Storage driver override: memory, sqlite
//	-dsn string     Storage DSN override
//
// Examples:
//
//	# Register a device
//	uhost-admin -dsn /var/lib/uhost/uhost.db add 0a0b0c0d0e0f101112131415 pump
//
//	# Interactive shell
//	uhost-admin -config /etc/uhost/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/connax-utim/uhost-go/cmd/uhost-admin/interactive"
	"github.com/connax-utim/uhost-go/pkg/config"
	"github.com/connax-utim/uhost-go/pkg/store"
)

var (
	configPath string
	driver     string
	dsn        string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Configuration file path (overrides "+config.EnvConfig+")")
	flag.StringVar(&driver, "driver", "", "Storage driver override: memory, sqlite")
	flag.StringVar(&dsn, "dsn", "", "Storage DSN override")
}

func main() {
	flag.Parse()

	st, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "uhost-admin: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shell := interactive.New(st, os.Stdout)
	if flag.NArg() > 0 {
		shell.Exec(ctx, strings.Join(flag.Args(), " "))
		return
	}
	if err := shell.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "uhost-admin: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the store named by the configuration file, with the
// storage environment variables and flags applied on top. The master
// secret is not needed here.
func openStore() (store.Store, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath
		if v, ok := os.LookupEnv(config.EnvConfig); ok && v != "" {
			path = v
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(config.EnvStorageDriver); ok && v != "" {
		cfg.Storage.Driver = v
	}
	if v, ok := os.LookupEnv(config.EnvStorageDSN); ok && v != "" {
		cfg.Storage.DSN = v
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	if dsn != "" {
		cfg.Storage.DSN = dsn
	}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		return store.NewSQLite(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
