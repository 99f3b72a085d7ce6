package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scanboard/realtime/internal/connection"
)

// StateSource reports the current connection state.
type StateSource interface {
	State() connection.Snapshot
}

// TriggerFunc requests one coalesced refresh.
type TriggerFunc func()

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 60s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
	}
}

// Poller periodically triggers refreshes while the live channel is down.
type Poller struct {
	cfg     Config
	conn    StateSource
	trigger TriggerFunc
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, conn StateSource, trigger TriggerFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Poller{
		cfg:     cfg,
		conn:    conn,
		trigger: trigger,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick triggers a refresh unless the live channel is healthy.
func (p *Poller) tick() {
	snap := p.conn.State()
	if snap.State == connection.Connected {
		return
	}

	p.logger.Debug("live channel down, polling instead", "state", snap.State)
	p.trigger()
}
