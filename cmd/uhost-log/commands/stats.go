package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/connax-utim/uhost-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Commands          map[string]int
	ErrorsByKind      map[string]int
	Devices           map[string]*DeviceStats
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats holds statistics for a single device.
type DeviceStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Errors      int
	LastStatus  string
	Transitions int
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Commands:          make(map[string]int),
		ErrorsByKind:      make(map[string]int),
		Devices:           make(map[string]*DeviceStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.Command != nil {
		s.Commands[event.Direction.String()+" "+event.Command.Name]++
	}
	if event.Error != nil {
		kind := event.Error.Kind
		if kind == "" {
			kind = "other"
		}
		s.ErrorsByKind[kind]++
	}

	if event.DeviceID == "" {
		return
	}
	dev, ok := s.Devices[event.DeviceID]
	if !ok {
		dev = &DeviceStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Devices[event.DeviceID] = dev
	}
	dev.Events++
	if event.Timestamp.After(dev.LastSeen) {
		dev.LastSeen = event.Timestamp
	}
	if event.Error != nil {
		dev.Errors++
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityDevice {
		dev.Transitions++
		dev.LastStatus = sc.NewState
	}
}

// RunStats analyzes the trace file at path and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Utim Host Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerEnvelope, log.LayerDispatch, log.LayerLifecycle} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.Commands) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands:")
		for _, name := range sortedKeys(stats.Commands) {
			fmt.Fprintf(w, "  %-24s %d\n", name+":", stats.Commands[name])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Devices: %d\n", len(stats.Devices))
	if len(stats.Devices) > 0 {
		ids := make([]string, 0, len(stats.Devices))
		for id := range stats.Devices {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return stats.Devices[ids[i]].FirstSeen.Before(stats.Devices[ids[j]].FirstSeen)
		})

		fmt.Fprintln(w)
		for _, id := range ids {
			d := stats.Devices[id]
			duration := d.LastSeen.Sub(d.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", id, d.Events, duration)
			if d.LastStatus != "" {
				fmt.Fprintf(w, "           Status: %s (%d transitions)\n", d.LastStatus, d.Transitions)
			}
			if d.Errors > 0 {
				fmt.Fprintf(w, "           Errors: %d\n", d.Errors)
			}
		}
	}

	if len(stats.ErrorsByKind) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors by Kind:")
		for _, kind := range sortedKeys(stats.ErrorsByKind) {
			fmt.Fprintf(w, "  %-16s %d\n", kind+":", stats.ErrorsByKind[kind])
		}
	}
}
