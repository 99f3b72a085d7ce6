package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanboard/realtime/internal/auth"
	"github.com/scanboard/realtime/internal/backoff"
)

// Publisher receives inbound events for fan-out to subscribers. Publish is
// invoked synchronously from the manager's read path with its internal lock
// held; implementations must not call back into the Manager.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Reporter receives terminal failure notifications.
type Reporter interface {
	Report(title, description string)
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string         // ws endpoint of the dashboard backend
	Token                auth.TokenFunc // re-read at every dial, supports rotation
	PingInterval         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
	BufferSize           int
}

// Manager owns the duplex connection lifecycle: connect, heartbeat,
// teardown and the reconnect state machine. Inbound non-reserved messages
// are published to the Event Bus under their type as topic.
type Manager struct {
	cfg    ManagerConfig
	pub    Publisher
	errs   Reporter
	logger *slog.Logger
	policy backoff.Policy

	// dial is swappable so tests can substitute fake clients.
	dial func(ClientConfig, *slog.Logger) Client

	mu        sync.Mutex
	state     State
	attempts  int
	epoch     int64 // incremented for every new underlying connection
	client    Client
	lastPong  time.Time
	lastErr   error
	reconnect *time.Timer
	hbStop    chan struct{}
}

// NewManager creates a Connection Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, pub Publisher, errs Reporter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}

	return &Manager{
		cfg:    cfg,
		pub:    pub,
		errs:   errs,
		logger: logger,
		policy: backoff.Policy{
			Base:   cfg.ReconnectBaseDelay,
			Max:    cfg.ReconnectMaxDelay,
			Jitter: cfg.ReconnectBaseDelay / 2,
		},
		dial:  NewClient,
		state: Disconnected,
	}
}

// Connect starts a connection attempt. It is a no-op while a session is
// already starting, live, or recovering. Calling Connect from Failed (or
// Disconnected) resets the attempt counter.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Connecting, Connected, Reconnecting:
		m.logger.Debug("connect ignored", "state", m.state)
		return nil
	}

	m.attempts = 0
	return m.startDialLocked()
}

// startDialLocked moves to Connecting and launches the dial goroutine.
// Fails fast when no credential is available.
func (m *Manager) startDialLocked() error {
	token := m.cfg.Token()
	if token == "" {
		m.lastErr = ErrMissingToken
		m.logger.Warn("connect skipped: no auth token available")
		return ErrMissingToken
	}

	m.state = Connecting
	m.epoch++
	epoch := m.epoch

	go m.runDial(epoch, token)
	return nil
}

// runDial opens the transport for one epoch and hands it to the read loop.
func (m *Manager) runDial(epoch int64, token string) {
	cl := m.dial(ClientConfig{
		URL:          m.cfg.URL,
		Token:        token,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger.With("epoch", epoch))

	if err := cl.Connect(context.Background()); err != nil {
		m.handleFailure(epoch, err)
		return
	}

	m.mu.Lock()
	if epoch != m.epoch || m.state != Connecting {
		// Superseded while dialing
		m.mu.Unlock()
		cl.Close()
		return
	}
	m.client = cl
	m.mu.Unlock()

	go m.readLoop(cl, epoch)
}

// readLoop pumps one connection's messages and errors until it dies.
func (m *Manager) readLoop(cl Client, epoch int64) {
	for {
		select {
		case err := <-cl.Errors():
			m.handleFailure(epoch, err)
			return

		case msg, ok := <-cl.Messages():
			if !ok {
				// Channel closed by the client read loop. An abnormal close
				// leaves its error buffered; an intentional one leaves none.
				select {
				case err := <-cl.Errors():
					m.handleFailure(epoch, err)
				default:
				}
				return
			}
			m.handleMessage(epoch, msg)
		}
	}
}

// handleMessage dispatches one inbound message. Messages from a superseded
// epoch are discarded before any parsing.
func (m *Manager) handleMessage(epoch int64, msg TimestampedMessage) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		m.logger.Debug("dropping message from superseded connection", "epoch", epoch)
		return
	}
	m.mu.Unlock()

	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type == "" {
		// Protocol error: log and keep the connection open
		m.logger.Warn("malformed inbound message", "error", err)
		return
	}

	switch env.Type {
	case TypeConnectionEstablished:
		m.sessionEstablished(epoch, msg.ReceivedAt)

	case TypePong:
		m.mu.Lock()
		if epoch == m.epoch {
			m.lastPong = msg.ReceivedAt
		}
		m.mu.Unlock()

	case TypePing:
		// Server keepalive probe, answer immediately
		if err := m.Send(map[string]any{"type": TypePong}); err != nil {
			m.logger.Debug("pong reply failed", "error", err)
		}

	case TypeError:
		m.logger.Warn("server reported error", "message", env.Message)
		m.publishCurrent(epoch, TypeError, msg.Data)

	default:
		m.publishCurrent(epoch, env.Type, msg.Data)
	}
}

// publishCurrent forwards payload to the bus unless the connection was
// superseded after the message cleared the entry guard. The epoch re-check and
// the publish happen under the same lock so a concurrent teardown cannot slip
// a dead connection's payload past a fresh session.
func (m *Manager) publishCurrent(epoch int64, topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		m.logger.Debug("dropping message from superseded connection", "epoch", epoch)
		return
	}
	m.pub.Publish(topic, payload)
}

// sessionEstablished finishes the Connecting -> Connected transition. The
// transport opening alone does not mean the session is usable; only the
// server's control message does.
func (m *Manager) sessionEstablished(epoch int64, at time.Time) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	m.state = Connected
	m.attempts = 0
	m.lastPong = at
	m.lastErr = nil
	m.startHeartbeatLocked(epoch)
	m.mu.Unlock()

	m.logger.Info("session established", "epoch", epoch)
}

// handleFailure funnels every abnormal transport outcome into the
// reconnect-or-fail branch. Failures from superseded epochs or after an
// intentional Disconnect are ignored.
func (m *Manager) handleFailure(epoch int64, err error) {
	m.mu.Lock()

	if epoch != m.epoch || m.state == Disconnected || m.state == Failed {
		m.mu.Unlock()
		return
	}
	m.failLocked(err)
	m.mu.Unlock()
}

// failLocked applies the reconnect-or-fail branch. Callers hold m.mu.
func (m *Manager) failLocked(err error) {
	m.lastErr = err
	m.stopHeartbeatLocked()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	// Supersede the dead connection so trailing messages are discarded
	m.epoch++

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = Failed
		m.logger.Error("connection failed permanently",
			"attempts", m.attempts,
			"error", err,
		)
		// Reported once, not per attempt
		if m.errs != nil {
			m.errs.Report("Connection lost", "real-time updates unavailable: "+err.Error())
		}
		return
	}

	delay := m.policy.Delay(m.attempts)
	m.attempts++
	m.state = Reconnecting
	m.reconnect = time.AfterFunc(delay, m.retry)

	m.logger.Warn("connection lost, scheduling reconnect",
		"attempt", m.attempts,
		"delay", delay,
		"error", err,
	)
}

// retry fires when the scheduled reconnect delay elapses.
func (m *Manager) retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Reconnecting {
		return
	}
	m.reconnect = nil

	token := m.cfg.Token()
	if token == "" {
		// Token vanished between attempts: count it as a failed attempt
		m.failLocked(ErrMissingToken)
		return
	}

	m.state = Connecting
	m.epoch++
	epoch := m.epoch

	go m.runDial(epoch, token)
}

// startHeartbeatLocked launches the heartbeat loop for one epoch.
func (m *Manager) startHeartbeatLocked(epoch int64) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	m.hbStop = stop
	go m.heartbeat(epoch, stop)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// heartbeat periodically pings the server and force-closes the session when
// no pong arrives within twice the ping interval.
func (m *Manager) heartbeat(epoch int64, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			m.mu.Lock()
			if epoch != m.epoch || m.state != Connected {
				m.mu.Unlock()
				return
			}
			cl := m.client
			last := m.lastPong
			m.mu.Unlock()

			if time.Since(last) > 2*m.cfg.PingInterval {
				m.logger.Warn("no pong received, forcing reconnect", "last_pong", last)
				m.handleFailure(epoch, ErrStalePong)
				return
			}

			// Ping only while the underlying channel is open
			if cl == nil || !cl.IsConnected() {
				continue
			}
			data, err := withTimestamp(map[string]any{"type": TypePing})
			if err != nil {
				continue
			}
			if err := cl.Send(data); err != nil {
				m.logger.Debug("ping send failed", "error", err)
			}
		}
	}
}

// Send merges a timestamp into payload and writes it to the live session.
// It fails with ErrNotConnected outside the Connected state and never
// queues for later delivery.
func (m *Manager) Send(payload any) error {
	m.mu.Lock()
	if m.state != Connected || m.client == nil {
		m.lastErr = ErrNotConnected
		m.mu.Unlock()
		m.logger.Debug("send dropped: not connected")
		return ErrNotConnected
	}
	cl := m.client
	m.mu.Unlock()

	data, err := withTimestamp(payload)
	if err != nil {
		return err
	}
	return cl.Send(data)
}

// withTimestamp serializes payload as a JSON object with a timestamp field
// merged in.
func withTimestamp(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	obj["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return json.Marshal(obj)
}

// Disconnect tears the session down intentionally: it cancels any pending
// reconnect timer, stops the heartbeat, and closes the socket with a normal
// close code so no auto-reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.stopHeartbeatLocked()
	m.state = Disconnected
	m.attempts = 0
	m.epoch++
	cl := m.client
	m.client = nil
	m.mu.Unlock()

	if cl != nil {
		cl.Close()
	}

	m.logger.Info("disconnected")
}

// State returns a snapshot of the manager for observability.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		State:      m.state,
		Attempts:   m.attempts,
		Epoch:      m.epoch,
		LastPongAt: m.lastPong,
		LastErr:    m.lastErr,
	}
}
