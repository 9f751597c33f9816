package xplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airdeck/skybridge/component"
	"github.com/airdeck/skybridge/errors"
	"github.com/airdeck/skybridge/pkg/retry"
)

// DefaultReconnectInterval is the pause between connection attempts while
// the simulator is unreachable.
const DefaultReconnectInterval = 10 * time.Second

// Phase is the supervisor's connection state. Transitions are strictly
// Disconnected -> Connecting -> Connected and back to Disconnected on any
// session loss.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Locator finds a running simulator instance. Beacon implements it; tests
// substitute a fixed address.
type Locator interface {
	Locate(ctx context.Context) (*net.UDPAddr, error)
}

// Resubscriber re-issues every live dataref subscription. The registry
// implements it; the supervisor calls it after each (re)connect so
// subscriptions taken while the session was down become effective.
type Resubscriber interface {
	Resubscribe() error
}

// PhaseFunc observes supervisor phase transitions. Called from the
// supervisor goroutine; implementations must not block on the supervisor.
type PhaseFunc func(Phase)

// Supervisor owns the connection lifecycle: locate, connect, resubscribe,
// monitor, and reconnect after loss, forever, until stopped.
type Supervisor struct {
	locator   Locator
	session   *Session
	resub     Resubscriber
	onPhase   PhaseFunc
	reconnect time.Duration
	logger    *slog.Logger
	metrics   *Metrics

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	state     component.State
	startedAt time.Time

	phase          atomic.Int32
	monitorRunning atomic.Bool
	loopRunning    atomic.Bool
}

// NewSupervisor creates a supervisor. resub and onPhase may be nil; a zero
// reconnect interval selects the default.
func NewSupervisor(locator Locator, session *Session, resub Resubscriber, onPhase PhaseFunc,
	reconnect time.Duration, logger *slog.Logger, metrics *Metrics) *Supervisor {

	if reconnect <= 0 {
		reconnect = DefaultReconnectInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		locator:   locator,
		session:   session,
		resub:     resub,
		onPhase:   onPhase,
		reconnect: reconnect,
		logger:    logger.With("component", "xplane-supervisor"),
		metrics:   metrics,
	}
}

// Initialize validates the supervisor's collaborators.
func (s *Supervisor) Initialize() error {
	if s.locator == nil {
		return errors.WrapSession(errors.New("nil locator"), "Supervisor", "Initialize", "validation")
	}
	if s.session == nil {
		return errors.WrapSession(errors.New("nil session"), "Supervisor", "Initialize", "validation")
	}
	s.mu.Lock()
	s.state = component.StateInitialized
	s.mu.Unlock()
	return nil
}

// Health reports the supervision loop's lifecycle state. Healthy means the
// loop is running, whether or not a session is currently up; the connection
// itself is visible through Connected.
func (s *Supervisor) Health() component.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := component.HealthStatus{
		State:     s.state,
		Healthy:   s.state == component.StateStarted && s.loopRunning.Load(),
		LastCheck: time.Now(),
	}
	if s.state == component.StateStarted {
		h.Uptime = time.Since(s.startedAt)
	}
	return h
}

// Start launches the supervision loop in a background goroutine. Idempotent
// while running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = component.StateStarted
	s.startedAt = time.Now()
	s.loopRunning.Store(true)

	// done is handed to the goroutine here: Stop detaches s.done, so the
	// worker must not read the field later.
	go s.supervise(runCtx, done)
	return nil
}

// Stop cancels the loop and waits for the monitor worker to exit. The
// supervisor is not Disconnected until the worker has actually stopped;
// callers relying on that ordering get it here synchronously.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	if cancel != nil {
		s.state = component.StateStopped
	}
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapSession(
			fmt.Errorf("supervision loop did not stop within %s", timeout),
			"Supervisor", "Stop", "shutdown")
	}
}

// Connected reports whether a live session is currently up.
func (s *Supervisor) Connected() bool {
	return Phase(s.phase.Load()) == PhaseConnected
}

// MonitorRunning reports whether the ingest worker is running.
func (s *Supervisor) MonitorRunning() bool {
	return s.monitorRunning.Load()
}

// LoopRunning reports whether the supervision loop is running.
func (s *Supervisor) LoopRunning() bool {
	return s.loopRunning.Load()
}

// CurrentPhase returns the supervisor's connection phase.
func (s *Supervisor) CurrentPhase() Phase {
	return Phase(s.phase.Load())
}

func (s *Supervisor) setPhase(p Phase) {
	old := Phase(s.phase.Swap(int32(p)))
	if old == p {
		return
	}
	s.logger.Info("phase transition", "from", old.String(), "to", p.String())
	if s.onPhase != nil {
		s.onPhase(p)
	}
}

func (s *Supervisor) supervise(ctx context.Context, done chan struct{}) {
	defer func() {
		s.session.close()
		s.monitorRunning.Store(false)
		s.setPhase(PhaseDisconnected)
		s.loopRunning.Store(false)
		close(done)
	}()

	for {
		s.setPhase(PhaseConnecting)

		err := retry.DoForever(ctx, s.reconnect, func() error {
			addr, err := s.locator.Locate(ctx)
			if err != nil {
				s.logger.Debug("simulator not located, will retry", "error", err)
				return err
			}
			return s.session.connect(addr)
		})
		if err != nil {
			return // context cancelled
		}

		s.setPhase(PhaseConnected)

		if s.resub != nil {
			if err := s.resub.Resubscribe(); err != nil {
				s.logger.Warn("resubscribe after connect failed", "error", err)
			}
		}

		s.monitorRunning.Store(true)
		err = s.session.run(ctx)
		s.monitorRunning.Store(false)
		s.session.close()
		s.setPhase(PhaseDisconnected)

		if ctx.Err() != nil {
			return
		}

		if s.metrics != nil {
			s.metrics.reconnects.Inc()
		}
		s.logger.Warn("session lost, reconnecting", "error", err, "interval", s.reconnect)

		if sleepErr := sleepCtx(ctx, s.reconnect); sleepErr != nil {
			return
		}
	}
}

var (
	_ component.Lifecycle      = (*Supervisor)(nil)
	_ component.HealthReporter = (*Supervisor)(nil)
)

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
