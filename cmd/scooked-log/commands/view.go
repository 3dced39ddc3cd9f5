// Package commands implements the scooked-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/scooked-app/scooked-go/pkg/log"
)

// FilterOptions carries the string-typed filter criteria from flags.
type FilterOptions struct {
	Component string
	Severity  string
	Identity  string
	ConnID    string
	TimeStart string
	TimeEnd   string
}

// BuildFilter converts flag values into a reader filter.
func BuildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		Identity:     opts.Identity,
		ConnectionID: opts.ConnID,
	}

	if opts.Component != "" {
		c, err := log.ParseComponent(opts.Component)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Component = &c
	}

	if opts.Severity != "" {
		s, err := log.ParseSeverity(opts.Severity)
		if err != nil {
			return log.Filter{}, err
		}
		filter.MinSeverity = &s
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	return filter, nil
}

// RunView executes the view command.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		formatEvent(output, event)
	}

	return nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp SEVERITY COMPONENT message
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	fmt.Fprintf(w, "%s %-5s %-9s %s\n", ts, event.Severity, event.Component, event.Message)

	if event.Identity != "" {
		fmt.Fprintf(w, "  Identity: %s\n", event.Identity)
	}
	if event.ConnectionID != "" {
		fmt.Fprintf(w, "  Connection: %s", shortenConnID(event.ConnectionID))
		if event.RemoteAddr != "" {
			fmt.Fprintf(w, " (%s)", event.RemoteAddr)
		}
		fmt.Fprintln(w)
	}

	// Type-specific details
	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Countdown != nil:
		formatCountdownDetails(w, event.Countdown)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, " (%s)", sc.Reason)
	}
	fmt.Fprintln(w)
}

func formatCountdownDetails(w io.Writer, cd *log.CountdownEvent) {
	fmt.Fprintf(w, "  Remaining: %ds", cd.Remaining)
	if cd.EndTime != 0 {
		fmt.Fprintf(w, " (ends %s)", time.UnixMilli(cd.EndTime).UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)
}

func formatErrorDetails(w io.Writer, errData *log.ErrorEventData) {
	fmt.Fprintf(w, "  Error: %s\n", errData.Message)
	if errData.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", errData.Context)
	}
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  %s %d bytes\n", frame.Direction, frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}
