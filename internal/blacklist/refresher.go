package blacklist

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Refresher periodically re-pulls the live blacklist feed.
type Refresher struct {
	blacklist *Blacklist
	logger    *slog.Logger
	interval  time.Duration
	stop      chan struct{}
	running   atomic.Bool
}

// NewRefresher creates a refresh worker. An interval of 0 disables it
// (Start returns immediately).
func NewRefresher(b *Blacklist, logger *slog.Logger, interval time.Duration) *Refresher {
	return &Refresher{
		blacklist: b,
		logger:    logger,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the refresh loop is active.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// Start runs the refresh loop until ctx is cancelled or Stop is called.
// Call in a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 || r.blacklist.url == "" {
		return
	}
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeDoWork(ctx, r.refresh)
		}
	}
}

// Stop signals the refresher to stop.
func (r *Refresher) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Refresher) safeDoWork(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in blacklist refresher", "panic", fmt.Sprint(rec))
		}
	}()
	fn(ctx)
}

// refresh pulls the live feed; the current set stays in place on failure.
func (r *Refresher) refresh(ctx context.Context) {
	if err := r.blacklist.refreshFromFeed(ctx); err != nil {
		r.logger.Warn("blacklist refresh failed, keeping current set",
			"error", err, "size", r.blacklist.Size())
		return
	}
	r.logger.Info("blacklist refreshed", "size", r.blacklist.Size())
}
