// Command uhost is the Utim device-authentication gateway.
//
// It reads the YAML configuration named by UHOST_CONFIG (default
// config.yaml), applies environment overrides and takes the master secret
// from UHOST_MASTER_KEY. It then connects to the MQTT broker and serves
// devices until SIGINT or SIGTERM.
//
// Usage:
//
//	uhost [flags]
//
// Flags:
//
//	-config string     Configuration file path (overrides UHOST_CONFIG)
//	-log-level string  Log level override: debug, info, warn, error
//	-check             Validate the configuration and exit
//
// Examples:
//
//	# Run against a local broker with a SQLite store
//	UHOST_MASTER_KEY=$(cat master.hex) uhost -config /etc/uhost/config.yaml
//
//	# Validate a configuration file
//	UHOST_MASTER_KEY=$(cat master.hex) uhost -config config.yaml -check
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/connax-utim/uhost-go/pkg/config"
	"github.com/connax-utim/uhost-go/pkg/connection"
	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/gateway"
	uhostlog "github.com/connax-utim/uhost-go/pkg/log"
	"github.com/connax-utim/uhost-go/pkg/metrics"
	"github.com/connax-utim/uhost-go/pkg/store"
	"github.com/connax-utim/uhost-go/pkg/transport/mqtt"
)

var (
	configPath string
	logLevel   string
	checkOnly  bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Configuration file path (overrides "+config.EnvConfig+")")
	flag.StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	flag.BoolVar(&checkOnly, "check", false, "Validate the configuration and exit")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "uhost: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if v, ok := os.LookupEnv(config.EnvConfig); ok && v != "" {
			path = v
		} else {
			path = config.DefaultPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	default:
		return store.NewSQLite(cfg.DSN)
	}
}

// openTrace combines the file and console trace sinks. The returned close
// function releases the file.
func openTrace(cfg config.TraceConfig, logger *slog.Logger) (uhostlog.Logger, func(), error) {
	var loggers []uhostlog.Logger
	closeFn := func() {}

	if cfg.File != "" {
		fl, err := uhostlog.NewRotatingFileLogger(cfg.File, cfg.MaxSize)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("trace events dropped", "count", n)
			}
			if n := fl.Rotations(); n > 0 {
				logger.Info("trace file rotated", "path", cfg.File, "rotations", n)
			}
			_ = fl.Close()
		}
	}
	if cfg.Console {
		loggers = append(loggers, uhostlog.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return uhostlog.NewMultiLogger(loggers...), closeFn, nil
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if checkOnly {
		fmt.Print(cfg.Summary())
		return nil
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Println("Utim Host Gateway")
	fmt.Println("=================")
	fmt.Print(cfg.Summary())

	name, _ := cfg.GatewayName()
	v, _ := cfg.ProtocolVersion()
	suite, err := envelope.ForVersion(v)
	if err != nil {
		return err
	}

	st, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	trace, closeTrace, err := openTrace(cfg.Trace, logger)
	if err != nil {
		return err
	}
	defer closeTrace()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, m, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Info("metrics endpoint", "addr", cfg.Metrics.Listen)
	}

	tr := mqtt.New(mqtt.Config{
		URL:      cfg.Broker.URL,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
		ClientID: cfg.Broker.ClientID,
		Name:     name,
		Attempts: cfg.Broker.Attempts,
		Backoff:  cfg.Broker.Backoff,
		Logger:   logger,
		OnStateChange: func(old, new connection.State) {
			logger.Info("broker connection", "from", old, "to", new)
			m.Connected(new == connection.StateConnected)
		},
	})

	gw, err := gateway.New(tr, st, gateway.Config{
		Name:               name,
		MasterKey:          cfg.MasterKey,
		Suite:              suite,
		KeepaliveInterval:  cfg.Gateway.KeepaliveInterval,
		KeepaliveThreshold: cfg.Gateway.KeepaliveThreshold,
		RepeatDelay:        cfg.Gateway.RepeatDelay,
		RepeatLimit:        cfg.Gateway.RepeatLimit,
		SessionTTL:         cfg.Gateway.SessionTTL,
		InboundQueue:       cfg.Gateway.InboundQueue,
		OutboundQueue:      cfg.Gateway.OutboundQueue,
		Rate:               cfg.Gateway.Rate,
		Burst:              cfg.Gateway.Burst,
		Logger:             logger,
		Trace:              trace,
		Metrics:            m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	logger.Info("gateway running", "topic", name, "state", gw.State())

	<-ctx.Done()
	logger.Info("shutting down")

	if err := gw.Stop(); err != nil {
		logger.Error("stop gateway", "error", err)
	}
	return nil
}
