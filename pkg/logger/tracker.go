package logger

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Tracker forwards error logs to Sentry.
type Tracker struct {
	hub *sentry.Hub
}

// NewTracker initializes the Sentry client. An empty DSN returns (nil, nil).
func NewTracker(dsn, environment string) (*Tracker, error) {
	if dsn == "" {
		return nil, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &Tracker{hub: sentry.CurrentHub()}, nil
}

func (t *Tracker) capture(msg string, fields []Field) {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for _, f := range fields {
			if f.kind == kindError {
				continue
			}
			scope.SetTag(f.Key, fmt.Sprint(f.Value()))
		}
		scope.SetTag("message", msg)
	})
	if err := errorFrom(fields); err != nil {
		hub.CaptureException(err)
		return
	}
	hub.CaptureMessage(msg)
}

// Flush waits for buffered events.
func (t *Tracker) Flush(timeout time.Duration) {
	if t == nil {
		return
	}
	sentry.Flush(timeout)
}
