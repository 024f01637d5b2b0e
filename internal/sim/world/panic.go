package world

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"circuitcraft.ai/internal/sim/grid"
)

// PanicReporter is told about every panic recovered from a unit of tick work.
type PanicReporter interface {
	ReportPanic(key grid.AreaKey, recovered any)
}

// SentryReporter forwards recovered panics to the current Sentry hub. Without a configured
// client it does nothing.
type SentryReporter struct {
	FlushTimeout time.Duration
}

func (r SentryReporter) ReportPanic(key grid.AreaKey, recovered any) {
	hub := sentry.CurrentHub().Clone()
	if hub.Client() == nil {
		return
	}
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("area", key.String())
	})
	hub.Recover(fmt.Errorf("circuit unit %v: %v", key, recovered))
	timeout := r.FlushTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hub.Flush(timeout)
}

// unit runs fn for the area at key and turns a panic into an error.
func (w *World) unit(key grid.AreaKey, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.ReportPanic(key, r)
			err = fmt.Errorf("area %v: panic: %v", key, r)
		}
	}()
	fn()
	return nil
}
