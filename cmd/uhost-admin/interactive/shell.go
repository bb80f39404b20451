// Package interactive provides the command shell of uhost-admin.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/store"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Shell runs admin commands against a device store.
type Shell struct {
	store   store.Store
	devices *lifecycle.Manager
	out     io.Writer
}

// New creates a shell writing its output to out.
func New(st store.Store, out io.Writer) *Shell {
	return &Shell{
		store:   st,
		devices: lifecycle.NewManager(st, lifecycle.Config{}),
		out:     out,
	}
}

// Run starts the interactive command loop. It returns on quit, EOF or when
// ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "uhost> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	s.printHelp()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}
		if s.Exec(ctx, line) {
			return nil
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "add", "a":
		err = s.cmdAdd(ctx, args)
	case "list", "ls":
		err = s.cmdList(ctx)
	case "show", "s":
		err = s.cmdShow(ctx, args)
	case "assign":
		err = s.cmdAssign(ctx, args)
	case "clear":
		err = s.cmdClear(ctx, args)
	case "ack":
		err = s.cmdAck(ctx, args)
	case "reset":
		err = s.cmdReset(ctx, args)
	case "export":
		err = s.cmdExport(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Utim Host Admin Commands:
  Devices:
    add <id> [name]       - Register a NEWBORN device (id: 24 hex characters)
    list                  - List registered devices
    show <id>             - Show a device record

  Provisioning:
    assign <id> <file>    - Assign the YAML configuration in file
    clear <id>            - Remove the assigned configuration
    ack <id>              - Mark the assigned configuration as applied
    reset <id>            - Return a device to NEWBORN

  General:
    export [file]         - Write all records as YAML (stdout by default)
    help                  - Show this help
    quit                  - Exit`)
}

func deviceArg(args []string, usage string) (wire.DeviceID, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: %s", usage)
	}
	return wire.ParseDeviceID(args[0])
}

func (s *Shell) cmdAdd(ctx context.Context, args []string) error {
	id, err := deviceArg(args, "add <id> [name]")
	if err != nil {
		return err
	}
	name := strings.Join(args[1:], " ")
	if err := s.store.RegisterDevice(ctx, id, name); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Registered %s\n", id)
	return nil
}

func (s *Shell) cmdList(ctx context.Context) error {
	ids, err := s.store.DeviceIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "No devices registered")
		return nil
	}

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tNAME\tSTATUS\tKEY\tKEEPALIVE")
	for _, id := range ids {
		rec, err := s.store.Record(ctx, id)
		if err != nil {
			return err
		}
		key := "-"
		if rec.HasSessionKey {
			key = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", rec.ID, rec.Name, rec.Status, key, rec.KeepaliveCounter)
	}
	return w.Flush()
}

func (s *Shell) cmdShow(ctx context.Context, args []string) error {
	id, err := deviceArg(args, "show <id>")
	if err != nil {
		return err
	}
	rec, err := s.store.Record(ctx, id)
	if err != nil {
		return err
	}
	desc := rec.Status.Describe()

	fmt.Fprintf(s.out, "Device:     %s\n", rec.ID)
	if rec.Name != "" {
		fmt.Fprintf(s.out, "Name:       %s\n", rec.Name)
	}
	fmt.Fprintf(s.out, "Status:     %s\n", rec.Status.Code())
	fmt.Fprintf(s.out, "Provision:  %s\n", desc.Provision)
	fmt.Fprintf(s.out, "Network:    %s\n", desc.Network)
	fmt.Fprintf(s.out, "Security:   %s\n", desc.Security)
	fmt.Fprintf(s.out, "Session:    %t\n", rec.HasSessionKey)
	fmt.Fprintf(s.out, "Keepalive:  %d\n", rec.KeepaliveCounter)
	if rec.ConfigHash != "" {
		fmt.Fprintf(s.out, "Hash:       %s\n", rec.ConfigHash)
	}
	if rec.Config != nil {
		fmt.Fprintf(s.out, "Config:     %s %s\n", rec.Config.Type, rec.Config.HostName)
	}
	fmt.Fprintf(s.out, "Updated:    %s\n", rec.Updated.Format("2006-01-02 15:04:05"))
	return nil
}

func (s *Shell) cmdAssign(ctx context.Context, args []string) error {
	id, err := deviceArg(args, "assign <id> <file>")
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: assign <id> <file>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	var cfg store.Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", args[1], err)
	}
	if cfg.Type == "" {
		return fmt.Errorf("%s: type is required", args[1])
	}
	if err := s.store.SetConfiguration(ctx, id, &cfg); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Assigned %s configuration to %s (hash %s)\n", cfg.Type, id, store.ConfigHash(&cfg))
	return nil
}

func (s *Shell) cmdClear(ctx context.Context, args []string) error {
	id, err := deviceArg(args, "clear <id>")
	if err != nil {
		return err
	}
	if err := s.store.SetConfiguration(ctx, id, nil); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Cleared configuration of %s\n", id)
	return nil
}

func (s *Shell) cmdAck(ctx context.Context, args []string) error {
	id, err := deviceArg(args, "ack <id>")
	if err != nil {
		return err
	}
	cfg, err := s.store.Configuration(ctx, id)
	if err != nil {
		return err
	}
	hash := store.ConfigHash(cfg)
	if err := s.devices.AcknowledgeConfig(ctx, id, hash); err != nil {
		return err
	}
	st, err := s.devices.Status(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Acknowledged %s (status %s)\n", id, st)
	return nil
}

func (s *Shell) cmdReset(ctx context.Context, args []string) error {
	id, err := deviceArg(args, "reset <id>")
	if err != nil {
		return err
	}
	if err := s.store.SetSessionKey(ctx, id, nil); err != nil {
		return err
	}
	if err := s.store.SetKeepaliveCounter(ctx, id, 0); err != nil {
		return err
	}
	if err := s.store.SetConfigHash(ctx, id, ""); err != nil {
		return err
	}
	// Operator override: NEWBORN is not reachable through the transition table.
	if err := s.store.SetStatus(ctx, id, lifecycle.StatusNewborn); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Reset %s\n", id)
	return nil
}

func (s *Shell) cmdExport(ctx context.Context, args []string) error {
	ids, err := s.store.DeviceIDs(ctx)
	if err != nil {
		return err
	}
	records := make([]*store.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.Record(ctx, id)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	data, err := yaml.Marshal(map[string]any{"devices": records})
	if err != nil {
		return err
	}
	if len(args) == 0 {
		_, err = s.out.Write(data)
		return err
	}
	if err := os.WriteFile(args[0], data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Exported %d devices to %s\n", len(records), args[0])
	return nil
}
