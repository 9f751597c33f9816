package xplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/airdeck/skybridge/errors"
)

// Session limits and timing. A session is declared lost after
// maxTimeoutCount consecutive silent read windows.
const (
	DefaultMaxDatarefs = 80

	socketTimeout   = 5 * time.Second
	maxTimeoutCount = 5
)

// SampleFunc receives one decoded dataref sample.
type SampleFunc func(path string, value float64)

// Session is one UDP conversation with a located simulator instance. It
// carries dataref subscriptions, scalar writes, and command dispatch. All
// outbound writes are serialized against connect/teardown; the read loop
// runs in the supervisor's worker goroutine.
type Session struct {
	maxDatarefs int
	onSample    SampleFunc
	logger      *slog.Logger
	metrics     *Metrics

	mu      sync.Mutex
	conn    *net.UDPConn
	nextIdx int32
	byPath  map[string]int32
	byIndex map[int32]string
}

// NewSession creates an unconnected session. Samples decoded by the read
// loop are delivered to onSample. A maxDatarefs of zero selects the default
// cap.
func NewSession(maxDatarefs int, onSample SampleFunc, logger *slog.Logger, metrics *Metrics) *Session {
	if maxDatarefs <= 0 {
		maxDatarefs = DefaultMaxDatarefs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		maxDatarefs: maxDatarefs,
		onSample:    onSample,
		logger:      logger.With("component", "xplane-session"),
		metrics:     metrics,
		byPath:      make(map[string]int32),
		byIndex:     make(map[int32]string),
	}
}

// connect dials the simulator's data port. Index assignments survive
// reconnects so the registry's resubscribe pass reuses stable indices.
func (s *Session) connect(remote *net.UDPAddr) error {
	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return errors.WrapSession(
			fmt.Errorf("dial %s: %w", remote, err),
			"Session", "connect", "socket setup")
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("session established", "remote", remote.String())
	return nil
}

// close tears the socket down. Safe to call repeatedly.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Connected reports whether a socket is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Subscribe requests periodic samples for a dataref at the given rate in Hz.
// Re-subscribing an already known path re-issues the request with its
// existing index, which is what the post-connect resubscribe pass relies on.
func (s *Session) Subscribe(path string, rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errors.WrapSession(errors.ErrNotConnected, "Session", "Subscribe", "subscription request")
	}

	idx, known := s.byPath[path]
	if !known {
		if len(s.byPath) >= s.maxDatarefs {
			return errors.WrapSession(
				fmt.Errorf("%w: limit %d", errors.ErrTooManySubscribed, s.maxDatarefs),
				"Session", "Subscribe", "subscription request")
		}
		idx = s.nextIdx
		s.nextIdx++
	}

	msg, err := encodeRREF(int32(rate), idx, path)
	if err != nil {
		return errors.WrapSession(err, "Session", "Subscribe", "request encoding")
	}
	if _, err := s.conn.Write(msg); err != nil {
		return errors.WrapSession(err, "Session", "Subscribe", "request send")
	}

	if !known {
		s.byPath[path] = idx
		s.byIndex[idx] = path
		if s.metrics != nil {
			s.metrics.subscriptions.Set(float64(len(s.byPath)))
		}
	}
	s.logger.Debug("dataref subscribed", "path", path, "index", idx, "rate", rate)
	return nil
}

// Unsubscribe cancels sampling for a dataref by re-issuing its request with
// frequency zero and releases its index.
func (s *Session) Unsubscribe(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, known := s.byPath[path]
	if !known {
		return nil
	}

	// With the socket down there is nothing to cancel on the wire; just
	// release the index.
	if s.conn != nil {
		msg, err := encodeRREF(0, idx, path)
		if err != nil {
			return errors.WrapSession(err, "Session", "Unsubscribe", "request encoding")
		}
		if _, err := s.conn.Write(msg); err != nil {
			return errors.WrapSession(err, "Session", "Unsubscribe", "request send")
		}
	}

	delete(s.byPath, path)
	delete(s.byIndex, idx)
	if s.metrics != nil {
		s.metrics.subscriptions.Set(float64(len(s.byPath)))
	}
	s.logger.Debug("dataref unsubscribed", "path", path, "index", idx)
	return nil
}

// Set writes a scalar value to a dataref.
func (s *Session) Set(path string, value float64) error {
	msg, err := encodeDREF(path, value)
	if err != nil {
		return errors.WrapSession(err, "Session", "Set", "request encoding")
	}
	return s.send("Set", msg)
}

// Command triggers a single command execution.
func (s *Session) Command(path string) error {
	return s.send("Command", encodeCMND(path))
}

func (s *Session) send(op string, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errors.WrapSession(errors.ErrNotConnected, "Session", op, "request send")
	}
	if _, err := s.conn.Write(msg); err != nil {
		return errors.WrapSession(err, "Session", op, "request send")
	}
	return nil
}

// run is the ingest loop: it reads telemetry packets until the context is
// cancelled or the session is considered lost. Consecutive read timeouts
// count toward session loss; any successful read resets the count.
func (s *Session) run(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.WrapSession(errors.ErrNotConnected, "Session", "run", "ingest loop")
	}

	// Unblock the pending read when the supervisor shuts down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxPacketLen)
	timeouts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := conn.SetReadDeadline(time.Now().Add(socketTimeout)); err != nil {
			return errors.WrapSession(err, "Session", "run", "deadline set")
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				timeouts++
				if s.metrics != nil {
					s.metrics.timeouts.Inc()
				}
				if timeouts >= maxTimeoutCount {
					return errors.WrapSession(
						fmt.Errorf("%w: no telemetry for %s", errors.ErrSessionLost,
							time.Duration(timeouts)*socketTimeout),
						"Session", "run", "ingest loop")
				}
				continue
			}
			return errors.WrapSession(err, "Session", "run", "ingest loop")
		}
		timeouts = 0

		if s.metrics != nil {
			s.metrics.packets.Inc()
		}

		samples, err := decodeSamples(buf[:n])
		if err != nil {
			s.logger.Debug("dropping undecodable packet", "error", err)
			continue
		}

		for _, smp := range samples {
			s.mu.Lock()
			path, ok := s.byIndex[smp.index]
			s.mu.Unlock()
			if !ok {
				// Sample for an index we already released.
				continue
			}
			if s.metrics != nil {
				s.metrics.samples.Inc()
			}
			s.onSample(path, smp.value)
		}
	}
}
