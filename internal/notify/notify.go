// Package notify implements the Error Aggregator.
//
// Repeated failures are debounced and coalesced into a single user-visible
// notification per aggregation window, so a burst of retries or a flapping
// connection never produces a notification storm.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers one user-visible notification.
type Notifier func(title, message string)

// Aggregator accumulates distinct error descriptions and flushes them as a
// single notification after a configured delay.
type Aggregator struct {
	delay  time.Duration
	notify Notifier
	logger *slog.Logger

	mu     sync.Mutex
	title  string // title of the first report in the current window
	seen   map[string]struct{}
	order  []string // insertion order, for the single-message case
	timer  *time.Timer
	closed bool
}

// New creates an Aggregator flushing after delay. Use a short delay for
// user-initiated actions and a longer one for background polling.
func New(delay time.Duration, fn Notifier, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		delay:  delay,
		notify: fn,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Report adds description to the current window. Duplicate descriptions do
// not enlarge the window. The first Report of a window arms the flush
// timer; nothing is ever emitted synchronously from Report.
func (a *Aggregator) Report(title, description string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	if len(a.order) == 0 {
		a.title = title
	}
	if _, dup := a.seen[description]; !dup {
		a.seen[description] = struct{}{}
		a.order = append(a.order, description)
	}

	if a.timer == nil {
		a.timer = time.AfterFunc(a.delay, a.flush)
	}
}

// flush emits the coalesced notification and clears the window.
func (a *Aggregator) flush() {
	a.mu.Lock()
	title := a.title
	msgs := a.order
	a.seen = make(map[string]struct{})
	a.order = nil
	a.timer = nil
	closed := a.closed
	a.mu.Unlock()

	if closed || len(msgs) == 0 {
		return
	}

	if len(msgs) == 1 {
		a.notify(title, msgs[0])
		return
	}
	a.notify("Multiple errors occurred", fmt.Sprintf("%d errors occurred", len(msgs)))
}

// Close cancels any pending flush and drops the accumulated window.
// Subsequent Report calls are no-ops.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.seen = make(map[string]struct{})
	a.order = nil
}
