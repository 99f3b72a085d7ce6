package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/scanboard/realtime/internal/auth"
)

// fakeClient is a scriptable Client for manager tests.
type fakeClient struct {
	cfg        ClientConfig
	connectErr error

	mu        sync.Mutex
	connected bool
	closed    bool
	sent      [][]byte

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient(cfg ClientConfig, connectErr error) *fakeClient {
	return &fakeClient{
		cfg:        cfg,
		connectErr: connectErr,
		messages:   make(chan TimestampedMessage, 64),
		errors:     make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

// Close mirrors the real client: the messages channel is closed so any
// consumer blocked on it is released.
func (f *fakeClient) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	close(f.messages)
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) sentMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeClient) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal test message: %v", err)
	}
	f.messages <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

// spyPublisher records publishes.
type spyPublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *spyPublisher) Publish(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, payload)
}

func (p *spyPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.topics))
	copy(out, p.topics)
	return out
}

// spyReporter counts terminal failure reports.
type spyReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *spyReporter) Report(title, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, description)
}

func (r *spyReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

type testHarness struct {
	m   *Manager
	pub *spyPublisher
	rep *spyReporter

	mu       sync.Mutex
	dials    []*fakeClient
	failFrom int // dial index from which connects fail (-1 = never)
}

func newHarness(t *testing.T, cfg ManagerConfig) *testHarness {
	t.Helper()
	if cfg.Token == nil {
		cfg.Token = auth.Static("test-token")
	}
	h := &testHarness{
		pub:      &spyPublisher{},
		rep:      &spyReporter{},
		failFrom: -1,
	}
	h.m = NewManager(cfg, h.pub, h.rep, nil)
	h.m.dial = func(c ClientConfig, _ *slog.Logger) Client {
		h.mu.Lock()
		defer h.mu.Unlock()
		var err error
		if h.failFrom >= 0 && len(h.dials) >= h.failFrom {
			err = errors.New("connection refused")
		}
		fc := newFakeClient(c, err)
		h.dials = append(h.dials, fc)
		return fc
	}
	return h
}

func (h *testHarness) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dials)
}

func (h *testHarness) lastDial() *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dials) == 0 {
		return nil
	}
	return h.dials[len(h.dials)-1]
}

// establish connects the manager and completes the session handshake.
func (h *testHarness) establish(t *testing.T) *fakeClient {
	t.Helper()
	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return h.dialCount() > 0 }, "no dial happened")
	fc := h.lastDial()
	waitFor(t, time.Second, func() bool { return fc.IsConnected() }, "client never connected")

	fc.push(t, map[string]any{
		"type":      TypeConnectionEstablished,
		"message":   "WebSocket connection established",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	waitFor(t, time.Second, func() bool { return h.m.State().State == Connected }, "never reached Connected")
	return fc
}

func defaultCfg() ManagerConfig {
	return ManagerConfig{
		URL:                  "ws://dashboard.test/ws/dashboard",
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func TestManager_TransportOpenIsNotConnected(t *testing.T) {
	h := newHarness(t, defaultCfg())

	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return h.dialCount() == 1 }, "no dial happened")
	fc := h.lastDial()
	waitFor(t, time.Second, func() bool { return fc.IsConnected() }, "transport never opened")

	// Transport is open, but no connection_established yet.
	if got := h.m.State().State; got != Connecting {
		t.Fatalf("state = %v, want Connecting", got)
	}
	if err := h.m.Send(map[string]any{"type": "ping"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before establishment = %v, want ErrNotConnected", err)
	}
}

func TestManager_EstablishResetsAttempts(t *testing.T) {
	h := newHarness(t, defaultCfg())
	h.establish(t)

	snap := h.m.State()
	if snap.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", snap.Attempts)
	}
	if snap.LastPongAt.IsZero() {
		t.Error("LastPongAt not initialized on establishment")
	}
}

func TestManager_ConnectIgnoredWhileActive(t *testing.T) {
	h := newHarness(t, defaultCfg())
	h.establish(t)

	epoch := h.m.State().Epoch
	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := h.m.State().Epoch; got != epoch {
		t.Errorf("epoch changed on redundant Connect: %d -> %d", epoch, got)
	}
	if n := h.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_ConnectWithoutToken(t *testing.T) {
	cfg := defaultCfg()
	cfg.Token = auth.Static("")
	h := newHarness(t, cfg)

	if err := h.m.Connect(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Connect = %v, want ErrMissingToken", err)
	}
	if got := h.m.State().State; got != Disconnected {
		t.Errorf("state = %v, want Disconnected", got)
	}
	if n := h.dialCount(); n != 0 {
		t.Errorf("dials = %d, want 0", n)
	}
}

func TestManager_ForwardsEventsByType(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	fc.push(t, map[string]any{"type": "scan_update", "data": map[string]any{"scan_id": 7}})
	fc.push(t, map[string]any{"type": "dashboard_update", "data": map[string]any{}})

	waitFor(t, time.Second, func() bool { return len(h.pub.published()) == 2 }, "events not forwarded")
	got := h.pub.published()
	if got[0] != "scan_update" || got[1] != "dashboard_update" {
		t.Errorf("topics = %v", got)
	}
}

func TestManager_ReservedTypesNotForwarded(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	fc.push(t, map[string]any{"type": TypePong})
	fc.push(t, map[string]any{"type": "notification", "data": map[string]any{}})

	waitFor(t, time.Second, func() bool { return len(h.pub.published()) == 1 }, "event not forwarded")
	if got := h.pub.published(); got[0] != "notification" {
		t.Errorf("topics = %v, want [notification]", got)
	}
}

func TestManager_ServerErrorRepublished(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	fc.push(t, map[string]any{"type": TypeError, "message": "Invalid JSON format"})

	waitFor(t, time.Second, func() bool { return len(h.pub.published()) == 1 }, "error not republished")
	if got := h.pub.published(); got[0] != TypeError {
		t.Errorf("topics = %v, want [error]", got)
	}
	if h.m.State().State != Connected {
		t.Error("protocol error must not close the session")
	}
}

func TestManager_MalformedMessageIgnored(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	fc.messages <- TimestampedMessage{Data: []byte("{not json"), ReceivedAt: time.Now()}
	fc.push(t, map[string]any{"type": "scan_update"})

	waitFor(t, time.Second, func() bool { return len(h.pub.published()) == 1 }, "later event lost")
	if h.m.State().State != Connected {
		t.Error("malformed message must not close the session")
	}
}

func TestManager_PongUpdatesTimestamp(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	before := h.m.State().LastPongAt
	time.Sleep(5 * time.Millisecond)
	fc.push(t, map[string]any{"type": TypePong})

	waitFor(t, time.Second, func() bool {
		return h.m.State().LastPongAt.After(before)
	}, "pong did not update LastPongAt")
}

func TestManager_AnswersServerPing(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	fc.push(t, map[string]any{"type": TypePing})

	waitFor(t, time.Second, func() bool {
		for _, raw := range fc.sentMessages() {
			var env Envelope
			if json.Unmarshal(raw, &env) == nil && env.Type == TypePong {
				return true
			}
		}
		return false
	}, "server ping was not answered")
}

func TestManager_HeartbeatSendsPings(t *testing.T) {
	cfg := defaultCfg()
	cfg.PingInterval = 10 * time.Millisecond
	h := newHarness(t, cfg)
	fc := h.establish(t)

	// Keep the session alive.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				fc.push(t, map[string]any{"type": TypePong})
			}
		}
	}()

	waitFor(t, time.Second, func() bool {
		for _, raw := range fc.sentMessages() {
			var env Envelope
			if json.Unmarshal(raw, &env) == nil && env.Type == TypePing {
				return env.Timestamp != ""
			}
		}
		return false
	}, "no timestamped ping sent")
}

func TestManager_StalePongForcesReconnect(t *testing.T) {
	cfg := defaultCfg()
	cfg.PingInterval = 10 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Hour // park in Reconnecting
	cfg.ReconnectMaxDelay = time.Hour
	h := newHarness(t, cfg)
	h.establish(t)

	// Never answer pings: liveness detection must kick in.
	waitFor(t, 2*time.Second, func() bool {
		return h.m.State().State == Reconnecting
	}, "stale pong did not force a reconnect")

	if err := h.m.State().LastErr; !errors.Is(err, ErrStalePong) {
		t.Errorf("LastErr = %v, want ErrStalePong", err)
	}
	h.m.Disconnect()
}

func TestManager_AbnormalCloseReconnects(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	fc.errors <- errors.New("abnormal closure")

	waitFor(t, time.Second, func() bool { return h.dialCount() == 2 }, "no reconnect dial")
	fc2 := h.lastDial()
	waitFor(t, time.Second, func() bool { return fc2.IsConnected() }, "reconnect never opened")

	fc2.push(t, map[string]any{"type": TypeConnectionEstablished})
	waitFor(t, time.Second, func() bool { return h.m.State().State == Connected }, "never recovered")

	if h.m.State().Attempts != 0 {
		t.Error("attempt counter not reset after recovery")
	}
	if h.rep.count() != 0 {
		t.Error("recoverable close must not produce a notification")
	}
}

func TestManager_FailsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	// Every dial after the initial one is refused.
	h.mu.Lock()
	h.failFrom = 1
	h.mu.Unlock()

	fc.errors <- errors.New("abnormal closure")

	waitFor(t, 2*time.Second, func() bool { return h.m.State().State == Failed }, "never reached Failed")

	// Exactly MaxReconnectAttempts reconnect dials after the initial one.
	if n := h.dialCount(); n != 4 {
		t.Errorf("total dials = %d, want 4 (1 initial + 3 reconnects)", n)
	}
	// Exhaustion is reported exactly once, not per attempt.
	if n := h.rep.count(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestManager_ConnectResetsFailed(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	h.mu.Lock()
	h.failFrom = 1
	h.mu.Unlock()
	fc.errors <- errors.New("abnormal closure")
	waitFor(t, 2*time.Second, func() bool { return h.m.State().State == Failed }, "never reached Failed")

	h.mu.Lock()
	h.failFrom = -1
	h.mu.Unlock()

	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect from Failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		fc := h.lastDial()
		return fc != nil && fc.IsConnected()
	}, "no fresh dial from Failed")
	if h.m.State().Attempts != 0 {
		t.Error("explicit Connect must reset the attempt counter")
	}
}

func TestManager_DisconnectDuringReconnecting(t *testing.T) {
	cfg := defaultCfg()
	cfg.ReconnectBaseDelay = 30 * time.Millisecond
	cfg.ReconnectMaxDelay = 30 * time.Millisecond
	h := newHarness(t, cfg)
	fc := h.establish(t)

	fc.errors <- errors.New("abnormal closure")
	waitFor(t, time.Second, func() bool { return h.m.State().State == Reconnecting }, "not reconnecting")

	h.m.Disconnect()

	// Wait well past the would-be reconnect delay.
	time.Sleep(100 * time.Millisecond)
	if n := h.dialCount(); n != 1 {
		t.Errorf("dials after Disconnect = %d, want 1", n)
	}
	if got := h.m.State().State; got != Disconnected {
		t.Errorf("state = %v, want Disconnected", got)
	}
}

func TestManager_CleanDisconnectNoReconnect(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	h.m.Disconnect()

	// The underlying read error from the closed socket must be suppressed.
	select {
	case fc.errors <- errors.New("use of closed network connection"):
	default:
	}

	time.Sleep(50 * time.Millisecond)
	if n := h.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if got := h.m.State().State; got != Disconnected {
		t.Errorf("state = %v, want Disconnected", got)
	}
}

func TestManager_StaleEpochMessagesDropped(t *testing.T) {
	cfg := defaultCfg()
	cfg.ReconnectBaseDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	h := newHarness(t, cfg)
	fc := h.establish(t)

	oldEpoch := h.m.State().Epoch

	// Abnormal close supersedes connection A.
	fc.errors <- errors.New("abnormal closure")
	waitFor(t, time.Second, func() bool { return h.m.State().Epoch > oldEpoch }, "epoch not incremented")

	// A queued message from connection A arrives late.
	data, _ := json.Marshal(map[string]any{"type": "scan_update"})
	h.m.handleMessage(oldEpoch, TimestampedMessage{Data: data, ReceivedAt: time.Now()})

	if n := len(h.pub.published()); n != 0 {
		t.Errorf("stale message was dispatched: %v", h.pub.published())
	}
	h.m.Disconnect()
}

func TestManager_SendMergesTimestamp(t *testing.T) {
	h := newHarness(t, defaultCfg())
	fc := h.establish(t)

	if err := h.m.Send(map[string]any{"type": "request_dashboard_update"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := fc.sentMessages()
	if len(sent) == 0 {
		t.Fatal("nothing sent")
	}
	var env Envelope
	if err := json.Unmarshal(sent[len(sent)-1], &env); err != nil {
		t.Fatalf("unmarshal sent: %v", err)
	}
	if env.Type != "request_dashboard_update" {
		t.Errorf("type = %q", env.Type)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", env.Timestamp, err)
	}
}

func TestManager_DisconnectReleasesReadLoop(t *testing.T) {
	h := newHarness(t, defaultCfg())

	cycle := func() {
		t.Helper()
		before := h.dialCount()
		if err := h.m.Connect(); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		waitFor(t, time.Second, func() bool { return h.dialCount() == before+1 }, "no dial happened")
		fc := h.lastDial()
		waitFor(t, time.Second, func() bool { return fc.IsConnected() }, "transport never opened")
		fc.push(t, map[string]any{"type": TypeConnectionEstablished})
		waitFor(t, time.Second, func() bool { return h.m.State().State == Connected }, "never reached Connected")
		h.m.Disconnect()
	}

	// Warm up once so one-time runtime goroutines do not skew the baseline.
	cycle()
	base := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		cycle()
	}

	// Each cycle's read loop must wind down once its connection is closed.
	waitFor(t, 2*time.Second, func() bool {
		return runtime.NumGoroutine() <= base+2
	}, "read loops leaked across connect/disconnect cycles")
}

func TestManager_SupersededForwardDropped(t *testing.T) {
	h := newHarness(t, defaultCfg())
	h.establish(t)

	epoch := h.m.State().Epoch
	h.m.Disconnect()

	// The payload cleared the entry guard before teardown; fan-out must still
	// notice the supersession.
	data, _ := json.Marshal(map[string]any{"type": "scan_update"})
	h.m.publishCurrent(epoch, "scan_update", data)

	if got := h.pub.published(); len(got) != 0 {
		t.Errorf("superseded payload reached the bus: %v", got)
	}
}

func TestManager_TokenRereadOnReconnect(t *testing.T) {
	var tokMu sync.Mutex
	tok := "token-a"
	cfg := defaultCfg()
	cfg.Token = func() string {
		tokMu.Lock()
		defer tokMu.Unlock()
		return tok
	}
	h := newHarness(t, cfg)
	fc := h.establish(t)

	tokMu.Lock()
	tok = "token-b"
	tokMu.Unlock()

	fc.errors <- errors.New("abnormal closure")
	waitFor(t, time.Second, func() bool { return h.dialCount() == 2 }, "no reconnect dial")

	if got := h.lastDial().cfg.Token; got != "token-b" {
		t.Errorf("reconnect token = %q, want the rotated token", got)
	}
}
