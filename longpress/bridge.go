// Package longpress relays press-and-hold gestures to the simulator as
// paired begin/end commands. Only commands on the catalog's allow-list may
// be held; everything else is refused before touching the wire.
package longpress

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/airdeck/skybridge/errors"
)

// Suffixes appended to the base command identifier for the press edges. The
// simulator treats <cmd>/begin and <cmd>/end as the hold and release halves
// of the command.
const (
	beginSuffix = "/begin"
	endSuffix   = "/end"
)

// Commander dispatches a single command execution. The telemetry session
// implements it.
type Commander interface {
	Command(path string) error
}

// AllowList answers whether a command identifier may be long-pressed. The
// catalog implements it.
type AllowList interface {
	Allowed(command string) bool
}

// Bridge tracks which commands are currently held and relays the press
// edges. One command is held at most once; a second begin for a held
// command is a no-op, as is an end for a command that is not held.
type Bridge struct {
	allow     AllowList
	commander Commander
	logger    *slog.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewBridge creates a long-press bridge.
func NewBridge(allow AllowList, commander Commander, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		allow:     allow,
		commander: commander,
		logger:    logger.With("component", "longpress"),
		held:      make(map[string]struct{}),
	}
}

// Begin starts holding a command. Refused with an authorization error when
// the command is not allow-listed; a duplicate begin for an already held
// command is silently ignored.
func (b *Bridge) Begin(command string) error {
	if !b.allow.Allowed(command) {
		return errors.WrapAuthorization(
			fmt.Errorf("%w: %q", errors.ErrNotAllowListed, command),
			"Bridge", "Begin", "allow-list check")
	}

	b.mu.Lock()
	if _, holding := b.held[command]; holding {
		b.mu.Unlock()
		b.logger.Debug("duplicate begin ignored", "command", command)
		return nil
	}
	b.held[command] = struct{}{}
	b.mu.Unlock()

	if err := b.commander.Command(command + beginSuffix); err != nil {
		b.mu.Lock()
		delete(b.held, command)
		b.mu.Unlock()
		return errors.WrapSession(err, "Bridge", "Begin", "command dispatch")
	}

	b.logger.Debug("hold started", "command", command)
	return nil
}

// End releases a held command. An end with no matching begin is tolerated,
// release events may arrive after a reload dropped the hold state.
func (b *Bridge) End(command string) error {
	b.mu.Lock()
	_, holding := b.held[command]
	delete(b.held, command)
	b.mu.Unlock()

	if !holding {
		b.logger.Debug("end without begin ignored", "command", command)
		return nil
	}

	if err := b.commander.Command(command + endSuffix); err != nil {
		return errors.WrapSession(err, "Bridge", "End", "command dispatch")
	}

	b.logger.Debug("hold released", "command", command)
	return nil
}

// ReleaseAll ends every held command, used when the session drops or the
// catalog reloads so no hold leaks across the discontinuity. Errors on
// individual releases are logged, not returned; the release pass always
// clears the table.
func (b *Bridge) ReleaseAll() {
	b.mu.Lock()
	held := make([]string, 0, len(b.held))
	for cmd := range b.held {
		held = append(held, cmd)
	}
	b.held = make(map[string]struct{})
	b.mu.Unlock()

	for _, cmd := range held {
		if err := b.commander.Command(cmd + endSuffix); err != nil {
			b.logger.Warn("release failed", "command", cmd, "error", err)
		}
	}
}

// Holding reports whether a command is currently held.
func (b *Bridge) Holding(command string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.held[command]
	return ok
}
