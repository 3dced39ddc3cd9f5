package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes session trace events to an slog.Logger.
// Useful for development when you want to watch events in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at the level matching its severity.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("component", event.Component.String()),
	}

	// Add optional identifiers
	if event.Identity != "" {
		attrs = append(attrs, slog.String("identity", event.Identity))
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	// Add type-specific attributes
	switch {
	case event.StateChange != nil:
		if event.StateChange.OldState != "" {
			attrs = append(attrs, slog.String("old_state", event.StateChange.OldState))
		}
		attrs = append(attrs, slog.String("new_state", event.StateChange.NewState))
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Countdown != nil:
		attrs = append(attrs, slog.Int64("remaining", event.Countdown.Remaining))
		if event.Countdown.EndTime != 0 {
			attrs = append(attrs, slog.Int64("end_time", event.Countdown.EndTime))
		}
	case event.Error != nil:
		attrs = append(attrs, slog.String("error", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	case event.Frame != nil:
		attrs = append(attrs,
			slog.String("direction", event.Frame.Direction.String()),
			slog.Int("frame_size", event.Frame.Size))
	}

	a.logger.LogAttrs(context.Background(), slogLevel(event.Severity), event.Message, attrs...)
}

func slogLevel(s Severity) slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
