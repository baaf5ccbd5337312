// Package gateway owns the single transport connection to the chat gateway:
// dialing, reconnect backoff, heartbeats and status reporting. It never
// buffers outgoing payloads; Send fails fast and retry stays with the
// outbound queue.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/clock"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

// Status is the connection state reported to callbacks.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// StatusHandler receives state transitions with an optional detail
// annotation (close code, "offline", "background").
type StatusHandler func(st Status, detail string)

// FrameHandler receives raw incoming frames.
type FrameHandler func(data []byte)

// Options configures a Manager. Zero fields get defaults.
type Options struct {
	URL      string
	OnFrame  FrameHandler
	OnStatus StatusHandler

	Dialer    Dialer
	Clock     clock.Clock
	Logger    *zap.Logger
	NetMon    NetMonitor
	Backoff   Backoff
	Heartbeat time.Duration
	// Floor is the minimum reconnect delay after a connection that lived
	// less than ShortLife, so a rejecting server is not hammered in a hot
	// loop.
	Floor     time.Duration
	ShortLife time.Duration
	// Stabilize is how long a connection must stay open before the attempt
	// counter resets. Guards against backoff resetting on flapping links.
	Stabilize   time.Duration
	DialTimeout time.Duration
}

// Manager is the connection manager. All exported methods are safe for
// concurrent use.
type Manager struct {
	url      string
	dialer   Dialer
	clk      clock.Clock
	logger   *zap.Logger
	netmon   NetMonitor
	onFrame  FrameHandler
	onStatus StatusHandler

	backoff     Backoff
	heartbeat   time.Duration
	floor       time.Duration
	shortLife   time.Duration
	stabilize   time.Duration
	dialTimeout time.Duration

	mu             sync.Mutex
	conn           Conn
	connCancel     context.CancelFunc
	gen            int
	attempts       int
	dialing        bool
	closed         bool
	openedAt       time.Time
	status         Status
	reconnectTimer clock.Timer
	stableTimer    clock.Timer
	pingTimer      clock.Timer
}

// New creates a manager. Connect must be called to start it.
func New(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NetMon == nil {
		opts.NetMon = alwaysUp{}
	}
	if opts.Backoff.Base == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = 10 * time.Second
	}
	if opts.Floor == 0 {
		opts.Floor = time.Second
	}
	if opts.ShortLife == 0 {
		opts.ShortLife = 1200 * time.Millisecond
	}
	if opts.Stabilize == 0 {
		opts.Stabilize = 2 * time.Second
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func([]byte) {}
	}
	if opts.OnStatus == nil {
		opts.OnStatus = func(Status, string) {}
	}
	return &Manager{
		url:         opts.URL,
		dialer:      opts.Dialer,
		clk:         opts.Clock,
		logger:      opts.Logger,
		netmon:      opts.NetMon,
		onFrame:     opts.OnFrame,
		onStatus:    opts.OnStatus,
		backoff:     opts.Backoff,
		heartbeat:   opts.Heartbeat,
		floor:       opts.Floor,
		shortLife:   opts.ShortLife,
		stabilize:   opts.Stabilize,
		dialTimeout: opts.DialTimeout,
		status:      StatusDisconnected,
	}
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect opens the transport unless one is already open or opening. When
// the device is offline or the app is backgrounded, the manager stays
// disconnected and re-arms itself on the recovery signal instead of burning
// reconnect attempts.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked(&m.reconnectTimer)
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	if !m.netmon.Online() || !m.netmon.Foreground() {
		detail := "offline"
		if m.netmon.Online() {
			detail = "background"
		}
		m.mu.Unlock()
		m.setStatus(StatusDisconnected, detail)
		m.netmon.OnRecover(m.Connect)
		return
	}
	m.dialing = true
	m.mu.Unlock()

	m.setStatus(StatusConnecting, "")
	go m.dial()
}

func (m *Manager) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	conn, err := m.dialer.Dial(ctx, m.url)
	cancel()

	m.mu.Lock()
	m.dialing = false
	if m.closed {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.scheduleReconnectLocked(0)
		m.mu.Unlock()
		m.setStatus(StatusDisconnected, err.Error())
		return
	}

	m.gen++
	gen := m.gen
	m.conn = conn
	m.openedAt = m.clk.Now()
	readCtx, readCancel := context.WithCancel(context.Background())
	m.connCancel = readCancel
	m.stableTimer = m.clk.AfterFunc(m.stabilize, func() { m.markStable(gen) })
	m.mu.Unlock()

	m.setStatus(StatusConnected, "")
	m.heartbeatTick(gen)
	go m.readLoop(readCtx, conn, gen)
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.handleClosed(gen, CloseDetail(err))
			return
		}
		m.onFrame(data)
	}
}

func (m *Manager) handleClosed(gen int, detail string) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	_ = m.conn.Close()
	m.conn = nil
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.stopTimerLocked(&m.stableTimer)
	m.stopTimerLocked(&m.pingTimer)
	lived := m.clk.Now().Sub(m.openedAt)
	m.scheduleReconnectLocked(lived)
	m.mu.Unlock()

	m.logger.Info("gateway connection lost",
		zap.String("detail", detail), zap.Duration("lived", lived))
	m.setStatus(StatusDisconnected, detail)
}

// markStable resets the attempt counter once the connection has stayed open
// for the stabilization window.
func (m *Manager) markStable(gen int) {
	m.mu.Lock()
	if gen == m.gen && m.conn != nil {
		m.attempts = 0
	}
	m.mu.Unlock()
}

func (m *Manager) scheduleReconnectLocked(lived time.Duration) {
	m.stopTimerLocked(&m.reconnectTimer)
	delay := m.backoff.NextDelay(m.attempts)
	m.attempts++
	if lived > 0 && lived < m.shortLife && delay < m.floor {
		delay = m.floor
	}
	m.reconnectTimer = m.clk.AfterFunc(delay, m.Connect)
}

func (m *Manager) heartbeatTick(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	// Liveness only: a lost pong never triggers reconnection, close/error on
	// the transport does.
	m.Send(wire.NewPing())
	m.mu.Lock()
	if !m.closed && gen == m.gen && m.conn != nil {
		m.pingTimer = m.clk.AfterFunc(m.heartbeat, func() { m.heartbeatTick(gen) })
	}
	m.mu.Unlock()
}

// Send marshals v and writes it to the live connection. Returns false
// without buffering when not connected or on any write error; retry policy
// belongs to the caller.
func (m *Manager) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("marshal outgoing frame", zap.Error(err))
		return false
	}
	m.mu.Lock()
	conn := m.conn
	st := m.status
	m.mu.Unlock()
	if conn == nil || st != StatusConnected {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		m.logger.Debug("gateway write failed", zap.Error(err))
		return false
	}
	return true
}

// Close shuts the manager down for good: the connection is closed and no
// reconnect will be scheduled.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked(&m.reconnectTimer)
	m.stopTimerLocked(&m.stableTimer)
	m.stopTimerLocked(&m.pingTimer)
	conn := m.conn
	m.conn = nil
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) stopTimerLocked(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) setStatus(st Status, detail string) {
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
	m.onStatus(st, detail)
}
