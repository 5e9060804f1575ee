// ABOUTME: Observer hooks for handled and dropped events
// ABOUTME: LogObserver reports them through slog at a level chosen by error kind

package session

import (
	"context"
	"log/slog"
	"time"
)

// Observer is told about every event a session finishes with
type Observer interface {
	Handled(event, identity string, elapsed time.Duration)
	Dropped(event, identity string, kind ErrorKind, err error)
}

// LogObserver logs events. NotFound drops are routine and logged at debug.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. Pass nil logger for default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With("component", "session")}
}

func (o *LogObserver) Handled(event, identity string, elapsed time.Duration) {
	o.logger.Debug("event handled", "event", event, "identity", identity, "elapsed", elapsed)
}

func (o *LogObserver) Dropped(event, identity string, kind ErrorKind, err error) {
	level := slog.LevelWarn
	switch kind {
	case KindNotFound:
		level = slog.LevelDebug
	case KindStore:
		level = slog.LevelError
	}
	o.logger.Log(context.Background(), level, "event dropped",
		"event", event,
		"identity", identity,
		"kind", kind.String(),
		"error", err)
}
