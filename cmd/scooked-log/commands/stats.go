package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/scooked-app/scooked-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByComponent map[log.Component]int
	EventsBySeverity  map[log.Severity]int
	Identities        map[string]*IdentityStats
	StateChanges      int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// IdentityStats holds statistics for a single identity.
type IdentityStats struct {
	FirstSeen    time.Time
	LastSeen     time.Time
	Events       int
	StateChanges int
	LastState    string
	Countdowns   int
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByComponent: make(map[log.Component]int),
		EventsBySeverity:  make(map[log.Severity]int),
		Identities:        make(map[string]*IdentityStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByComponent[event.Component]++
		stats.EventsBySeverity[event.Severity]++

		// Track time range
		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		// Track per-identity stats
		if event.Identity != "" {
			ident, ok := stats.Identities[event.Identity]
			if !ok {
				ident = &IdentityStats{
					FirstSeen: event.Timestamp,
					LastSeen:  event.Timestamp,
				}
				stats.Identities[event.Identity] = ident
			}
			ident.Events++
			if event.Timestamp.After(ident.LastSeen) {
				ident.LastSeen = event.Timestamp
			}
			if event.StateChange != nil {
				ident.StateChanges++
				ident.LastState = event.StateChange.NewState
			}
			if event.Countdown != nil {
				ident.Countdowns++
			}
		}

		if event.StateChange != nil {
			stats.StateChanges++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Session Trace Statistics ===")
	fmt.Fprintln(w)

	// Time range
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	// Total events
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	// Events by component
	fmt.Fprintln(w, "Events by Component:")
	for _, component := range []log.Component{
		log.ComponentSession,
		log.ComponentStore,
		log.ComponentTransport,
		log.ComponentDiscovery,
		log.ComponentService,
		log.ComponentIdentity,
	} {
		if count := stats.EventsByComponent[component]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", component.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// Events by severity
	fmt.Fprintln(w, "Events by Severity:")
	for _, severity := range []log.Severity{log.SeverityDebug, log.SeverityInfo, log.SeverityWarn, log.SeverityError} {
		if count := stats.EventsBySeverity[severity]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", severity.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// State changes
	fmt.Fprintf(w, "State Changes: %d\n", stats.StateChanges)

	// Identities
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Identities: %d\n", len(stats.Identities))
	if len(stats.Identities) > 0 {
		// Sort by first seen time
		type identInfo struct {
			id    string
			stats *IdentityStats
		}
		idents := make([]identInfo, 0, len(stats.Identities))
		for id, is := range stats.Identities {
			idents = append(idents, identInfo{id, is})
		}
		sort.Slice(idents, func(i, j int) bool {
			return idents[i].stats.FirstSeen.Before(idents[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, ident := range idents {
			duration := ident.stats.LastSeen.Sub(ident.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", ident.id, ident.stats.Events, duration)
			if ident.stats.StateChanges > 0 {
				fmt.Fprintf(w, "           State changes: %d (last: %s)\n",
					ident.stats.StateChanges, ident.stats.LastState)
			}
			if ident.stats.Countdowns > 0 {
				fmt.Fprintf(w, "           Countdown ticks: %d\n", ident.stats.Countdowns)
			}
		}
	}

	// Errors
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
