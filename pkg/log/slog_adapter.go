package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes operational events to an slog.Logger.
// Useful for development when you want the event stream on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
// Attempt failures, emergencies and errors log at Warn; the rest at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}
	if event.ConnID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnID))
	}

	level := slog.LevelDebug

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Attempt != nil:
		attrs = append(attrs,
			slog.String("outcome", event.Attempt.Outcome),
			slog.Duration("latency", event.Attempt.Latency),
		)
		if event.Attempt.Retries > 0 {
			attrs = append(attrs, slog.Int("retries", event.Attempt.Retries))
		}
		if event.Attempt.Outcome != "SUCCESS" {
			level = slog.LevelWarn
		}
	case event.Heartbeat != nil:
		attrs = append(attrs, slog.Bool("ok", event.Heartbeat.OK))
		if event.Heartbeat.OK {
			attrs = append(attrs, slog.Duration("latency", event.Heartbeat.Latency))
		} else {
			attrs = append(attrs, slog.Int("missed", event.Heartbeat.Missed))
			level = slog.LevelWarn
		}
	case event.Emergency != nil:
		attrs = append(attrs,
			slog.String("event_id", event.Emergency.EventID),
			slog.String("reason", event.Emergency.Reason),
		)
		if event.Emergency.RestoreOutcome != "" {
			attrs = append(attrs, slog.String("restore_outcome", event.Emergency.RestoreOutcome))
		}
		level = slog.LevelWarn
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_context", event.Error.Context),
			slog.String("error_msg", event.Error.Message),
		)
		level = slog.LevelWarn
	}

	a.logger.LogAttrs(context.Background(), level, "sync event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
