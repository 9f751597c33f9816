// Package dataref holds the per-process table of telemetry channels: their
// last raw and rounded samples, their subscriber sets, and the
// change-significance decision that gates recomputation. It is the single
// source of truth for "has anything worth recomputing changed."
package dataref

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/airdeck/skybridge/errors"
	"github.com/airdeck/skybridge/formula"
)

// Telemetry is the outbound half of the telemetry session as the registry
// sees it: subscribing to a channel causes periodic samples to arrive,
// unsubscribing stops them. Implementations serialize writes against session
// teardown.
type Telemetry interface {
	Subscribe(path string, rate int) error
	Unsubscribe(path string) error
}

// channel is a live telemetry channel. A channel exists in the registry iff
// it has at least one subscriber.
type channel struct {
	path      string
	precision int            // debounce precision: max over subscriber precisions
	subs      map[string]int // subscriber (state) id -> substitution precision
	raw       float64
	rounded   float64
	hasValue  bool
}

func (c *channel) recalcPrecision() {
	p := 0
	for _, sp := range c.subs {
		if sp > p {
			p = sp
		}
	}
	c.precision = p
}

// Registry maps channel identity to its current value and subscriber set.
// A single mutex guards the table; the ingest path and the page-activation
// path never observe a half-updated subscriber set.
type Registry struct {
	mu        sync.Mutex
	channels  map[string]*channel
	telemetry Telemetry
	rate      int
	logger    *slog.Logger
	metrics   *Metrics
}

// NewRegistry creates a registry issuing subscriptions at the given sample
// rate. Metrics may be nil.
func NewRegistry(telemetry Telemetry, rate int, logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels:  make(map[string]*channel),
		telemetry: telemetry,
		rate:      rate,
		logger:    logger.With("component", "dataref-registry"),
		metrics:   metrics,
	}
}

// Subscribe registers stateID's interest in a channel, rounded at the given
// precision when substituted into its formula. Idempotent per (path, stateID).
// The first subscriber creates the channel and issues a subscription request;
// a request refused because the session is down is not an error here, the
// supervisor re-issues every live subscription on connect.
func (r *Registry) Subscribe(path string, precision int, stateID string) error {
	if precision < 0 {
		precision = 0
	}

	r.mu.Lock()
	ch, ok := r.channels[path]
	if !ok {
		ch = &channel{path: path, subs: make(map[string]int)}
		r.channels[path] = ch
	}
	ch.subs[stateID] = precision
	ch.recalcPrecision()
	isNew := !ok
	count := len(r.channels)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.channels.Set(float64(count))
	}

	if !isNew {
		return nil
	}

	if err := r.telemetry.Subscribe(path, r.rate); err != nil {
		if errors.Is(err, errors.ErrNotConnected) {
			r.logger.Debug("subscription deferred until session is up", "path", path)
			return nil
		}
		return errors.WrapSession(err, "Registry", "Subscribe", "subscription request")
	}
	return nil
}

// Unsubscribe drops stateID's interest in a channel. When the reference
// count reaches zero the channel is removed and exactly one unsubscribe
// request is issued, no matter how many callers race here.
func (r *Registry) Unsubscribe(path, stateID string) error {
	r.mu.Lock()
	ch, ok := r.channels[path]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(ch.subs, stateID)
	last := len(ch.subs) == 0
	if last {
		delete(r.channels, path)
	} else {
		ch.recalcPrecision()
	}
	count := len(r.channels)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.channels.Set(float64(count))
	}

	if !last {
		return nil
	}

	if err := r.telemetry.Unsubscribe(path); err != nil {
		if errors.Is(err, errors.ErrNotConnected) {
			return nil
		}
		return errors.WrapSession(err, "Registry", "Unsubscribe", "unsubscribe request")
	}
	return nil
}

// Ingest records one incoming telemetry sample and returns the state ids to
// recompute, or nil when the rounded value did not change. The rounding is a
// deliberate debounce: channels fluttering below their configured precision
// never cause state churn.
func (r *Registry) Ingest(path string, raw float64) []string {
	r.mu.Lock()
	ch, ok := r.channels[path]
	if !ok {
		// Sample for an unsubscribed channel, likely in flight when the
		// unsubscribe request went out. Dropped.
		r.mu.Unlock()
		return nil
	}

	rounded := formula.RoundTo(raw, ch.precision)
	if ch.hasValue && rounded == ch.rounded {
		ch.raw = raw
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.samples.Inc()
		}
		return nil
	}

	ch.raw = raw
	ch.rounded = rounded
	ch.hasValue = true

	ids := make([]string, 0, len(ch.subs))
	for id := range ch.subs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.samples.Inc()
		r.metrics.changes.Inc()
	}
	return ids
}

// Value returns the channel's raw sample rounded at the given precision, for
// substitution into a formula. The second return is false when the channel
// is unknown or has no sample yet.
func (r *Registry) Value(path string, precision int) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[path]
	if !ok || !ch.hasValue {
		return 0, false
	}
	return formula.RoundTo(ch.raw, precision), true
}

// Paths returns the identities of every live channel.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.channels))
	for p := range r.channels {
		paths = append(paths, p)
	}
	return paths
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Resubscribe re-issues a subscription request for every live channel. The
// supervisor calls this after (re)establishing the telemetry session.
func (r *Registry) Resubscribe() error {
	var firstErr error
	for _, path := range r.Paths() {
		if err := r.telemetry.Subscribe(path, r.rate); err != nil && firstErr == nil {
			firstErr = errors.WrapSession(
				fmt.Errorf("resubscribe %s: %w", path, err),
				"Registry", "Resubscribe", "subscription request")
		}
	}
	return firstErr
}
