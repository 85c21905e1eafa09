// Package conn owns the transport lifecycle: connect, authenticate,
// heartbeat, reconnect with bounded linear backoff, and teardown. Nothing
// else in the engine touches the live socket.
package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursemgmt/educhat/internal/bus"
	"github.com/coursemgmt/educhat/internal/status"
	"github.com/coursemgmt/educhat/internal/stomp"
	"github.com/coursemgmt/educhat/internal/timer"
	"github.com/coursemgmt/educhat/internal/wire"
)

// ErrAuthenticationRequired is returned by Connect when no credential is available.
var ErrAuthenticationRequired = errors.New("authentication required")

// ErrNotConnected is returned by Publish/Subscribe while the live channel is down.
// Callers fall back to the REST surface where one exists.
var ErrNotConnected = errors.New("not connected")

const (
	reconnectTimer = "conn/reconnect"
	heartbeatTimer = "conn/heartbeat"
)

// Options tunes the manager.
type Options struct {
	URL         string
	MaxAttempts int
	BaseDelay   time.Duration
	Heartbeat   time.Duration
}

// Manager drives the connection state machine and is the single owner of the
// transport. Inbound MESSAGE frames are decoded and published on the bus.
type Manager struct {
	opts    Options
	dialer  Dialer
	machine *status.Machine
	bus     *bus.Bus
	sched   *timer.Scheduler
	logger  *zap.Logger

	mu          sync.Mutex
	transport   Transport
	token       string
	attempts    int
	gen         int
	closed      bool
	onConnected func()
}

// NewManager creates a manager. The machine must start in Disconnected.
func NewManager(opts Options, dialer Dialer, machine *status.Machine, b *bus.Bus, sched *timer.Scheduler, logger *zap.Logger) *Manager {
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		machine: machine,
		bus:     b,
		sched:   sched,
		logger:  logger,
	}
}

// SetOnConnected registers the hook run after every successful (re)connect.
// The facade uses it to re-establish subscriptions and announce presence.
func (m *Manager) SetOnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// Connect establishes the transport and completes the STOMP handshake. No-op
// when already connected or connecting. Blocks until the handshake succeeds
// or fails; a failure also arms the reconnect schedule.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	switch m.machine.Current() {
	case status.Connected, status.Connecting:
		m.mu.Unlock()
		return nil
	}
	if token == "" {
		m.mu.Unlock()
		return ErrAuthenticationRequired
	}
	m.token = token
	m.closed = false
	m.attempts = 0
	_ = m.machine.Transition(status.Connecting)
	m.mu.Unlock()

	return m.dial(ctx)
}

// dial opens a transport and performs the STOMP handshake. On failure the
// retry schedule is armed before returning.
func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	t, err := m.dialer.Dial(ctx, m.opts.URL, header)
	if err != nil {
		m.failed(err)
		return err
	}

	connect := stomp.New(stomp.CmdConnect,
		stomp.HdrAcceptVersion, "1.2",
		stomp.HdrHeartBeat, "10000,10000",
		stomp.HdrAuthorization, "Bearer "+token,
	)
	if err := t.WriteMessage(connect.Marshal()); err != nil {
		_ = t.Close()
		m.failed(err)
		return err
	}

	if err := awaitConnected(t); err != nil {
		_ = t.Close()
		m.failed(err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = t.Close()
		return nil
	}
	m.transport = t
	m.gen++
	gen := m.gen
	m.attempts = 0
	_ = m.machine.Transition(status.Connected)
	onConnected := m.onConnected
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", m.opts.URL))
	go m.readLoop(t, gen)
	m.scheduleHeartbeat(gen)
	if onConnected != nil {
		onConnected()
	}
	return nil
}

func awaitConnected(t Transport) error {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			return err
		}
		f, err := stomp.Parse(data)
		if err != nil || f == nil {
			continue
		}
		switch f.Command {
		case stomp.CmdConnected:
			return nil
		case stomp.CmdError:
			return errors.New("handshake rejected: " + f.Header(stomp.HdrMessage))
		}
	}
}

// failed records a failed attempt and either schedules the next one or, once
// the budget is spent, settles in Disconnected and surfaces a persistent
// offline signal.
func (m *Manager) failed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.scheduleRetryLocked(err)
}

// scheduleRetryLocked counts one failure and arms the next attempt with a
// linearly growing delay. Caller holds mu.
func (m *Manager) scheduleRetryLocked(err error) {
	m.attempts++
	m.logger.Warn("connection attempt failed",
		zap.Error(err),
		zap.Int("attempt", m.attempts),
		zap.Int("max_attempts", m.opts.MaxAttempts),
	)
	if m.attempts >= m.opts.MaxAttempts {
		_ = m.machine.Transition(status.Disconnected)
		m.bus.Publish(bus.Event{Kind: bus.ConnOffline, Timestamp: time.Now()})
		m.logger.Error("reconnect attempts exhausted, going offline")
		return
	}
	_ = m.machine.Transition(status.Reconnecting)
	delay := time.Duration(m.attempts) * m.opts.BaseDelay
	m.sched.Schedule(reconnectTimer, delay, m.retry)
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.closed || m.machine.Current() != status.Reconnecting {
		m.mu.Unlock()
		return
	}
	_ = m.machine.Transition(status.Connecting)
	m.mu.Unlock()
	_ = m.dial(context.Background())
}

func (m *Manager) readLoop(t Transport, gen int) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.transportLost(gen, err)
			return
		}
		f, err := stomp.Parse(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f == nil {
			continue // heartbeat
		}
		switch f.Command {
		case stomp.CmdMessage:
			evt, err := wire.Decode(f.Body)
			if err != nil {
				m.logger.Warn("dropping undecodable payload",
					zap.Error(err),
					zap.String("destination", f.Header(stomp.HdrDestination)),
				)
				continue
			}
			m.bus.Publish(evt)
		case stomp.CmdError:
			m.logger.Warn("server error frame", zap.String("message", f.Header(stomp.HdrMessage)))
		case stomp.CmdReceipt:
			// Receipts are informational; subscriptions do not wait on them.
		}
	}
}

func (m *Manager) transportLost(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.transport == nil {
		return
	}
	_ = m.transport.Close()
	m.transport = nil
	m.sched.Cancel(heartbeatTimer)
	m.logger.Warn("transport lost", zap.Error(err))
	m.scheduleRetryLocked(err)
}

func (m *Manager) scheduleHeartbeat(gen int) {
	if m.opts.Heartbeat <= 0 {
		return
	}
	m.sched.Schedule(heartbeatTimer, m.opts.Heartbeat, func() {
		m.mu.Lock()
		if m.closed || gen != m.gen || m.transport == nil {
			m.mu.Unlock()
			return
		}
		err := m.transport.WriteMessage(stomp.Heartbeat)
		m.mu.Unlock()
		if err != nil {
			m.logger.Warn("heartbeat write failed", zap.Error(err))
			return
		}
		m.scheduleHeartbeat(gen)
	})
}

// Publish sends a JSON payload to a destination. Returns ErrNotConnected
// while the live channel is down so the caller can fall back to REST.
func (m *Manager) Publish(destination string, v any) error {
	body, err := wire.Encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil || m.machine.Current() != status.Connected {
		return ErrNotConnected
	}
	f := stomp.New(stomp.CmdSend,
		stomp.HdrDestination, destination,
		stomp.HdrContentType, "application/json",
	)
	f.Body = body
	return m.transport.WriteMessage(f.Marshal())
}

// Subscribe opens a subscription to a destination and returns its id.
func (m *Manager) Subscribe(destination string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil || m.machine.Current() != status.Connected {
		return "", ErrNotConnected
	}
	id := "sub-" + uuid.NewString()
	f := stomp.New(stomp.CmdSubscribe,
		stomp.HdrID, id,
		stomp.HdrDestination, destination,
	)
	if err := m.transport.WriteMessage(f.Marshal()); err != nil {
		return "", err
	}
	return id, nil
}

// Disconnect tears the transport down: a best-effort DISCONNECT frame, timer
// cancellation, transport release, and a transition to Disconnected. Safe to
// call repeatedly or when never connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.gen++
	m.sched.Cancel(reconnectTimer)
	m.sched.Cancel(heartbeatTimer)
	if m.transport != nil {
		// The socket may already be gone; errors are expected here.
		_ = m.transport.WriteMessage(stomp.New(stomp.CmdDisconnect).Marshal())
		_ = m.transport.Close()
		m.transport = nil
	}
	if m.machine.Current() != status.Disconnected {
		_ = m.machine.Transition(status.Disconnected)
	}
	m.logger.Info("disconnected")
}
