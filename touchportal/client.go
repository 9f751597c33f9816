// Package touchportal speaks the desktop UI's plugin protocol: one TCP
// connection carrying newline-delimited JSON messages in both directions.
// Outbound traffic registers and updates dynamic states; inbound traffic
// delivers actions, hold edges, settings, and page-change broadcasts.
package touchportal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/airdeck/skybridge/component"
	"github.com/airdeck/skybridge/errors"
)

// Connection defaults. The UI only listens on loopback.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 12136

	// maxLineLen bounds a single inbound message; the entry-definition dump
	// on connect is the largest message the UI sends.
	maxLineLen = 1 << 20
)

// ActionKind distinguishes a plain press from the two hold edges.
type ActionKind int

const (
	ActionPress ActionKind = iota
	ActionHoldDown
	ActionHoldUp
)

func (k ActionKind) String() string {
	switch k {
	case ActionPress:
		return "press"
	case ActionHoldDown:
		return "down"
	case ActionHoldUp:
		return "up"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ActionEvent is one user interaction delivered by the UI. Data maps action
// field ids to the values the user entered.
type ActionEvent struct {
	ID   string
	Kind ActionKind
	Data map[string]string
}

// Value returns the action field whose id ends with the given suffix. Field
// ids are fully qualified ("<plugin>.act.X.data.command"); handlers match on
// the tail.
func (e ActionEvent) Value(suffix string) string {
	for id, v := range e.Data {
		if strings.HasSuffix(id, suffix) {
			return v
		}
	}
	return ""
}

// Handler receives inbound protocol events. Callbacks run on the client's
// read goroutine; they must not block on the client itself.
type Handler interface {
	OnConnect(settings map[string]string)
	OnSettings(settings map[string]string)
	OnAction(event ActionEvent)
	OnPageChange(page string)
	OnClose()
}

// StateID derives the wire identifier for a named state: the plugin id
// joined with the name's alphanumerics uppercased. "Gear Down" becomes
// "<plugin>.GEARDOWN".
func StateID(pluginID, name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return pluginID + "." + b.String()
}

// inbound covers every message shape the UI sends; unused fields stay zero.
type inbound struct {
	Type     string              `json:"type"`
	ActionID string              `json:"actionId"`
	Data     []actionField       `json:"data"`
	Event    string              `json:"event"`
	PageName string              `json:"pageName"`
	Settings []map[string]string `json:"settings"`
	Values   []map[string]string `json:"values"`
}

type actionField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Client is the plugin-side connection to the UI. Writes are serialized; the
// read loop runs in a background goroutine for the client's lifetime.
type Client struct {
	host     string
	port     int
	pluginID string
	handler  Handler
	logger   *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      net.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	state     component.State
	startedAt time.Time
}

// NewClient creates an unconnected client. Zero host/port select the
// defaults.
func NewClient(host string, port int, pluginID string, handler Handler, logger *slog.Logger) *Client {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:     host,
		port:     port,
		pluginID: pluginID,
		handler:  handler,
		logger:   logger.With("component", "touchportal"),
	}
}

// PluginID returns the identifier this client pairs as.
func (c *Client) PluginID() string {
	return c.pluginID
}

// SetHandler installs the event handler. Must be called before Start; the
// composition root needs it because the handler and the client reference
// each other.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// Initialize validates the client configuration.
func (c *Client) Initialize() error {
	if c.pluginID == "" {
		return errors.WrapSession(errors.New("empty plugin id"), "Client", "Initialize", "validation")
	}
	if c.handler == nil {
		return errors.WrapSession(errors.New("nil handler"), "Client", "Initialize", "validation")
	}
	c.mu.Lock()
	c.state = component.StateInitialized
	c.mu.Unlock()
	return nil
}

// Health reports the client's lifecycle state and connection health.
func (c *Client) Health() component.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := component.HealthStatus{
		State:     c.state,
		Healthy:   c.state == component.StateStarted && c.conn != nil,
		LastCheck: time.Now(),
	}
	if c.state == component.StateStarted {
		h.Uptime = time.Since(c.startedAt)
	}
	return h
}

// Start dials the UI, sends the pairing message, and launches the read loop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state = component.StateFailed
		return errors.WrapSession(
			fmt.Errorf("dial %s: %w", addr, err),
			"Client", "Start", "connection setup")
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	// Write on the captured conn: c.mu is held here and send would take it
	// again.
	if err := c.writeJSON(conn, map[string]string{"type": "pair", "id": c.pluginID}); err != nil {
		conn.Close()
		c.conn = nil
		c.cancel, c.done = nil, nil
		c.state = component.StateFailed
		cancel()
		return err
	}

	c.state = component.StateStarted
	c.startedAt = time.Now()
	c.logger.Info("paired with UI", "addr", addr, "plugin_id", c.pluginID)
	go c.readLoop(runCtx, conn, c.done)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (c *Client) Stop(timeout time.Duration) error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.cancel, c.done = nil, nil, nil
	if conn != nil {
		c.state = component.StateStopped
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	conn.Close()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapSession(
			fmt.Errorf("read loop did not stop within %s", timeout),
			"Client", "Stop", "shutdown")
	}
}

// CreateState registers a dynamic state with the UI.
func (c *Client) CreateState(id, description, defaultValue string) error {
	return c.send(map[string]string{
		"type":         "createState",
		"id":           id,
		"desc":         description,
		"defaultValue": defaultValue,
	})
}

// UpdateState pushes a new value for a dynamic state.
func (c *Client) UpdateState(id, value string) error {
	return c.send(map[string]string{
		"type":  "stateUpdate",
		"id":    id,
		"value": value,
	})
}

// RemoveState deregisters a dynamic state.
func (c *Client) RemoveState(id string) error {
	return c.send(map[string]string{
		"type": "removeState",
		"id":   id,
	})
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.WrapSession(errors.ErrNotConnected, "Client", "send", "message send")
	}
	return c.writeJSON(conn, v)
}

// writeJSON marshals and writes one line on conn. Takes only writeMu, so it
// is safe while c.mu is held.
func (c *Client) writeJSON(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapSession(err, "Client", "send", "message encoding")
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(data); err != nil {
		return errors.WrapSession(err, "Client", "send", "message send")
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineLen)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.logger.Warn("dropping undecodable message", "error", err)
			continue
		}
		c.dispatch(msg)
		if msg.Type == "closePlugin" {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Error("connection to UI lost", "error", err)
		c.handler.OnClose()
	}
}

func (c *Client) dispatch(msg inbound) {
	switch msg.Type {
	case "info":
		c.handler.OnConnect(flattenSettings(msg.Settings))
	case "settings":
		c.handler.OnSettings(flattenSettings(msg.Values))
	case "action":
		c.handler.OnAction(actionEvent(msg, ActionPress))
	case "down":
		c.handler.OnAction(actionEvent(msg, ActionHoldDown))
	case "up":
		c.handler.OnAction(actionEvent(msg, ActionHoldUp))
	case "broadcast":
		if msg.Event == "pageChange" && msg.PageName != "" {
			c.handler.OnPageChange(msg.PageName)
		}
	case "closePlugin":
		c.logger.Info("UI requested shutdown")
		c.handler.OnClose()
	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func actionEvent(msg inbound, kind ActionKind) ActionEvent {
	data := make(map[string]string, len(msg.Data))
	for _, f := range msg.Data {
		data[f.ID] = f.Value
	}
	return ActionEvent{ID: msg.ActionID, Kind: kind, Data: data}
}

var (
	_ component.Lifecycle      = (*Client)(nil)
	_ component.HealthReporter = (*Client)(nil)
)

// flattenSettings collapses the UI's list of single-entry objects into one
// map.
func flattenSettings(list []map[string]string) map[string]string {
	out := make(map[string]string, len(list))
	for _, entry := range list {
		for k, v := range entry {
			out[k] = v
		}
	}
	return out
}
