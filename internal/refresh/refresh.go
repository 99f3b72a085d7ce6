// Package refresh implements the Refresh Coordinator.
//
// "Data may be stale" signals arrive from many places (reconnects, inbound
// events, manual user actions). The coordinator coalesces them so at most
// one refresh call is outstanding per window, bounding the rate of fetches
// into the external data collaborators.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func performs one refresh against the external data source.
type Func func(ctx context.Context) error

// Coordinator throttles trigger signals into bounded-rate refresh calls.
type Coordinator struct {
	window time.Duration
	fn     Func
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	scheduled bool
	timer     *time.Timer
}

// New creates a Coordinator that invokes fn at most once per coalescing
// window.
func New(window time.Duration, fn Func, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		window: window,
		fn:     fn,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger requests a refresh. Safe to call arbitrarily often and
// concurrently: while a refresh is already scheduled or running, additional
// triggers are no-ops. Once the refresh completes (success or failure) the
// coordinator re-arms for the next trigger.
func (c *Coordinator) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scheduled || c.ctx.Err() != nil {
		return
	}
	c.scheduled = true
	c.timer = time.AfterFunc(c.window, c.run)
}

func (c *Coordinator) run() {
	if err := c.fn(c.ctx); err != nil && c.ctx.Err() == nil {
		c.logger.Warn("refresh failed", "error", err)
	}

	c.mu.Lock()
	c.scheduled = false
	c.timer = nil
	c.mu.Unlock()
}

// Close cancels any pending refresh timer and stops future scheduling.
func (c *Coordinator) Close() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.scheduled = false
}
