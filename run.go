package gtfs

import (
	"context"
	"errors"
	"time"
)

// Runs the engine until ctx is done. Reloads static data once per
// service date, at or after ReloadHour, and runs a reconciliation
// cycle every RealtimeInterval.
//
// Overlapping cycles and unavailable feeds are logged and retried on
// the next tick. A reload that reset storage is not retried for the
// same date even if some folders failed; one that couldn't open its
// folders left the data untouched and is retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	logger := e.logger("runner")

	interval := e.RealtimeInterval
	if interval <= 0 {
		interval = DefaultRealtimeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.tick(ctx)

		select {
		case <-ctx.Done():
			logger.Info("stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	logger := e.logger("runner")

	if e.reloadDue() {
		_, err := e.Reload(ctx)
		if err != nil {
			logger.Error("reload failed", "error", err)
		}
	}

	if e.RealtimeURL == "" {
		return
	}

	_, err := e.Reconcile(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		logger.Info("previous cycle still running, skipping")
	case errors.Is(err, ErrFeedUnavailable):
		// Logged by Reconcile.
	default:
		logger.Error("reconciliation failed", "error", err)
	}
}

// A reload is due if nothing has been loaded yet, or the service date
// has rolled over and ReloadHour has passed.
func (e *Engine) reloadDue() bool {
	if len(e.StaticFolders) == 0 {
		return false
	}

	e.mutex.Lock()
	loaded := e.loadedDate
	e.mutex.Unlock()

	if loaded == "" {
		return true
	}
	if loaded == e.today() {
		return false
	}
	return e.Now().In(e.Location).Hour() >= e.ReloadHour
}
