// Package mirror publishes a live copy of the bridge's externally visible
// activity to NATS: every state value pushed to the UI and every connection
// phase transition. Downstream consumers (dashboards, recorders) subscribe
// instead of scraping the UI protocol. The mirror is optional; with no URL
// configured every publish is a no-op.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/airdeck/skybridge/component"
	"github.com/airdeck/skybridge/errors"
)

// DefaultSubjectPrefix roots the mirror's subject hierarchy.
const DefaultSubjectPrefix = "skybridge"

// StateEvent is one state value change as published to
// "<prefix>.state.<state-id>".
type StateEvent struct {
	StateID   string    `json:"state_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent is one connection phase transition as published to
// "<prefix>.session".
type SessionEvent struct {
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// Mirror owns the NATS connection and the publish surface. All methods are
// safe on a disabled (nil-URL) mirror; they return immediately.
type Mirror struct {
	url    string
	prefix string
	logger *slog.Logger

	mu        sync.Mutex
	conn      *nats.Conn
	state     component.State
	startedAt time.Time
}

// New creates a mirror. An empty url disables it entirely.
func New(url, prefix string, logger *slog.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		url:    url,
		prefix: prefix,
		logger: logger.With("component", "mirror"),
	}
}

// Enabled reports whether the mirror has a broker configured.
func (m *Mirror) Enabled() bool {
	return m.url != ""
}

// Initialize validates the mirror configuration.
func (m *Mirror) Initialize() error {
	m.mu.Lock()
	m.state = component.StateInitialized
	m.mu.Unlock()
	return nil
}

// Health reports the mirror's lifecycle state. A disabled mirror is healthy
// by definition; an enabled one requires a live broker connection.
func (m *Mirror) Health() component.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	healthy := m.state == component.StateStarted
	if m.url != "" {
		healthy = healthy && m.conn != nil && m.conn.IsConnected()
	}
	h := component.HealthStatus{
		State:     m.state,
		Healthy:   healthy,
		LastCheck: time.Now(),
	}
	if m.state == component.StateStarted {
		h.Uptime = time.Since(m.startedAt)
	}
	return h
}

// Start connects to the broker. Reconnection is delegated to the client's
// own retry machinery; a publish while reconnecting is buffered by the
// client.
func (m *Mirror) Start(_ context.Context) error {
	if !m.Enabled() {
		m.logger.Debug("mirror disabled, no broker configured")
		m.mu.Lock()
		m.state = component.StateStarted
		m.startedAt = time.Now()
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return nil
	}

	conn, err := nats.Connect(m.url,
		nats.Name("skybridge-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.logger.Warn("broker connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			m.logger.Info("broker connection restored", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		m.state = component.StateFailed
		return errors.WrapSession(
			fmt.Errorf("connect %s: %w", m.url, err),
			"Mirror", "Start", "broker connection")
	}

	m.conn = conn
	m.state = component.StateStarted
	m.startedAt = time.Now()
	m.logger.Info("mirror connected", "url", m.url, "prefix", m.prefix)
	return nil
}

// Stop flushes pending publishes and closes the connection.
func (m *Mirror) Stop(timeout time.Duration) error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if m.state == component.StateStarted {
		m.state = component.StateStopped
	}
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.FlushTimeout(timeout); err != nil {
		conn.Close()
		return errors.WrapSession(err, "Mirror", "Stop", "flush")
	}
	conn.Close()
	return nil
}

var (
	_ component.Lifecycle      = (*Mirror)(nil)
	_ component.HealthReporter = (*Mirror)(nil)
)

// PublishState mirrors one state value change. Publish failures are logged,
// never surfaced: the mirror must not disturb the UI path.
func (m *Mirror) PublishState(stateID, name, value string) {
	m.publish(m.prefix+".state."+stateID, StateEvent{
		StateID:   stateID,
		Name:      name,
		Value:     value,
		Timestamp: time.Now().UTC(),
	})
}

// PublishSession mirrors one connection phase transition.
func (m *Mirror) PublishSession(phase string) {
	m.publish(m.prefix+".session", SessionEvent{
		Phase:     phase,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Mirror) publish(subject string, event any) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("event encoding failed", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		m.logger.Warn("publish failed", "subject", subject, "error", err)
	}
}
