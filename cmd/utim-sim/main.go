// Command utim-sim simulates a Utim device against a running gateway.
//
// It connects to the MQTT broker under its device id, runs the SRP
// handshake and completes onboarding either directly (TRUSTED) or through
// the platform test (CONNECTION_STRING, VERIFIED). It then answers
// keepalive probes until interrupted. The master secret is read from
// UHOST_MASTER_KEY.
//
// Usage:
//
//	utim-sim [flags]
//
// Flags:
//
//	-device string   Device id, 24 hex characters (required)
//	-gateway string  Hex gateway name (default from UHOST_NAME)
//	-broker string   Broker URL (default "tcp://localhost:1883")
//	-mode string     Onboarding: trusted, platform (default "trusted")
//	-message string  Signed message to send after onboarding
//	-once            Exit after onboarding instead of answering keepalives
//
// Examples:
//
//	# Onboard and stay online
//	utim-sim -device 0a0b0c0d0e0f101112131415 -gateway 75686f7374
//
//	# Platform test onboarding, then send one signed message
//	utim-sim -device 0a0b0c0d0e0f101112131415 -mode platform -message hello -once
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/connax-utim/uhost-go/pkg/config"
	"github.com/connax-utim/uhost-go/pkg/transport/mqtt"
	"github.com/connax-utim/uhost-go/pkg/utim"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

var (
	deviceID  string
	gateway   string
	brokerURL string
	mode      string
	message   string
	once      bool
	logLevel  string
)

func init() {
	flag.StringVar(&deviceID, "device", "", "Device id, 24 hex characters (required)")
	flag.StringVar(&gateway, "gateway", os.Getenv(config.EnvName), "Hex gateway name")
	flag.StringVar(&brokerURL, "broker", "tcp://localhost:1883", "Broker URL")
	flag.StringVar(&mode, "mode", "trusted", "Onboarding: trusted, platform")
	flag.StringVar(&message, "message", "", "Signed message to send after onboarding")
	flag.BoolVar(&once, "once", false, "Exit after onboarding instead of answering keepalives")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "utim-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	id, err := wire.ParseDeviceID(deviceID)
	if err != nil {
		return err
	}
	name, err := hex.DecodeString(gateway)
	if err != nil || len(name) == 0 {
		return errors.New("-gateway must be the hex gateway name")
	}
	master, err := config.ParseMasterKey(os.Getenv(config.EnvMasterKey))
	if err != nil {
		return err
	}
	if mode != "trusted" && mode != "platform" {
		return fmt.Errorf("unknown mode %q (must be trusted or platform)", mode)
	}
	level, err := config.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := mqtt.New(mqtt.Config{
		URL:      brokerURL,
		ClientID: "utim-" + id.String(),
		Name:     id.String(),
		Logger:   logger,
	})
	client := utim.New(tr, utim.Config{
		Device:          id,
		Gateway:         string(name),
		MasterKey:       master,
		AnswerKeepalive: true,
		Logger:          logger,
	})
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Handshake(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	logger.Info("session key agreed", "device", id, "took", time.Since(start).Round(time.Millisecond))

	switch mode {
	case "trusted":
		err = client.Trust(ctx)
	case "platform":
		var nonce []byte
		nonce, err = client.ReportConnection(ctx, wire.ConnectionSuccess)
		if err == nil {
			logger.Info("platform test nonce received", "size", len(nonce))
			err = client.Verify(ctx)
		}
	}
	if err != nil {
		return fmt.Errorf("onboarding: %w", err)
	}
	logger.Info("device authentic", "device", id, "mode", mode)

	if message != "" {
		if err := client.SendSigned(ctx, []byte(message)); err != nil {
			return fmt.Errorf("signed message: %w", err)
		}
		logger.Info("signed message sent", "size", len(message))
	}
	if once {
		return nil
	}

	<-ctx.Done()
	logger.Info("keepalives answered", "count", client.Keepalives())
	return nil
}
