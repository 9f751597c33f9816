// Package engine glues the pieces together: it reacts to UI events, drives
// page-scoped subscriptions on the dataref registry, recomputes state values
// when telemetry changes, and pushes the results back to the UI.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airdeck/skybridge/catalog"
	"github.com/airdeck/skybridge/component"
	"github.com/airdeck/skybridge/dataref"
	"github.com/airdeck/skybridge/errors"
	"github.com/airdeck/skybridge/longpress"
	"github.com/airdeck/skybridge/metric"
	"github.com/airdeck/skybridge/mirror"
	"github.com/airdeck/skybridge/touchportal"
	"github.com/airdeck/skybridge/xplane"
)

// Action and state identifier tails. Full ids are "<plugin-id><suffix>"; the
// engine matches on the tail so the plugin id stays configurable.
const (
	actionExecuteCommand   = ".act.ExecuteCommand"
	actionExecuteLongPress = ".act.ExecuteLongPressCommand"
	actionSetDataref       = ".act.SetDataref"
	actionLeavingPage      = ".act.LeavingPage"

	fieldCommand      = "data.command"
	fieldDataref      = "data.dataref"
	fieldDatarefValue = "data.datarefvalue"
	fieldPagePath     = "data.pagePath"

	stateConnected  = ".state.XPlaneConnected"
	stateConnMon    = ".state.ConnectionMonitoringRunning"
	stateMonitoring = ".state.MonitoringRunning"

	// The UI compares state values as strings, so booleans are pushed as
	// "1"/"0" and never "1.0".
	valueTrue  = "1"
	valueFalse = "0"

	// Value a dynamic state carries before its first computation.
	initialStateValue = "None"

	// Reserved command word: typing it into an execute-command action
	// reloads the definition document instead of reaching the simulator.
	reloadStatesCommand = "RELOAD_STATES_FILE"

	// UI settings key overriding the definition file path.
	settingStatesFile = "Dynamic States File"
)

// noOpCommands are placeholder words page authors use for buttons that
// should do nothing. Compared lowercase.
var noOpCommands = map[string]struct{}{
	"none":         {},
	"noop":         {},
	"no-operation": {},
	"no-command":   {},
	"do-nothing":   {},
}

// UI is the outbound surface of the desktop client the engine needs.
type UI interface {
	PluginID() string
	CreateState(id, description, defaultValue string) error
	UpdateState(id, value string) error
	RemoveState(id string) error
}

// Telemetry is the write half of the simulator session.
type Telemetry interface {
	Set(path string, value float64) error
	Command(path string) error
}

// Engine implements touchportal.Handler and owns the recompute pipeline.
// Component lifecycles (mirror, UI client, supervisor, metrics server) are
// started and stopped in dependency order.
type Engine struct {
	catalog   *catalog.Catalog
	registry  *dataref.Registry
	ui        UI
	telemetry Telemetry
	bridge    *longpress.Bridge
	mirror    *mirror.Mirror
	logger    *slog.Logger
	metrics   *engineMetrics

	// Started in order, stopped in reverse.
	components []component.Lifecycle

	mu           sync.Mutex
	activePage   string
	activeStates map[string]*catalog.State
	created      map[string]bool   // state name -> announced to the UI
	lastValue    map[string]string // state name -> last pushed value

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates the engine. The components slice is the start order; it
// usually ends with the UI client and the connection supervisor.
func New(
	cat *catalog.Catalog,
	registry *dataref.Registry,
	ui UI,
	telemetry Telemetry,
	bridge *longpress.Bridge,
	mir *mirror.Mirror,
	components []component.Lifecycle,
	logger *slog.Logger,
	metricsRegistry *metric.Registry,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalog:      cat,
		registry:     registry,
		ui:           ui,
		telemetry:    telemetry,
		bridge:       bridge,
		mirror:       mir,
		logger:       logger.With("component", "engine"),
		metrics:      newEngineMetrics(metricsRegistry),
		components:   components,
		activeStates: make(map[string]*catalog.State),
		created:      make(map[string]bool),
		lastValue:    make(map[string]string),
		closed:       make(chan struct{}),
	}
}

// Start initializes and starts every component in order. A failure stops the
// already started ones in reverse and returns the error.
func (e *Engine) Start(ctx context.Context) error {
	for i, c := range e.components {
		if err := c.Initialize(); err != nil {
			e.stopComponents(i, 5*time.Second)
			return err
		}
		if err := c.Start(ctx); err != nil {
			e.stopComponents(i, 5*time.Second)
			return err
		}
	}
	e.pushStatus(stateConnMon, true)
	return nil
}

// Stop releases held long-press commands and stops every component in
// reverse order.
func (e *Engine) Stop(timeout time.Duration) error {
	if e.bridge != nil {
		e.bridge.ReleaseAll()
	}
	e.pushStatus(stateConnMon, false)
	return e.stopComponents(len(e.components), timeout)
}

func (e *Engine) stopComponents(n int, timeout time.Duration) error {
	var firstErr error
	for i := n - 1; i >= 0; i-- {
		if err := e.components[i].Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Done closes when the UI asked the plugin to shut down.
func (e *Engine) Done() <-chan struct{} {
	return e.closed
}

// ActivePage returns the currently activated page name.
func (e *Engine) ActivePage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activePage
}

// OnConnect handles the UI's pairing response: apply settings, load the
// definition document, and bring up the home page.
func (e *Engine) OnConnect(settings map[string]string) {
	e.applySettings(settings)
	e.loadCatalog()
}

// OnSettings handles a settings change from the UI, which may point the
// bridge at a different definition file.
func (e *Engine) OnSettings(settings map[string]string) {
	if e.applySettings(settings) {
		e.loadCatalog()
	}
}

func (e *Engine) applySettings(settings map[string]string) bool {
	path, ok := settings[settingStatesFile]
	if !ok || path == "" {
		return false
	}
	e.logger.Info("definition file set from UI settings", "path", path)
	e.catalog.SetFilePath(path)
	return true
}

// loadCatalog (re)loads the definition document and re-syncs UI states and
// page subscriptions. On failure the previous catalog stays in effect.
func (e *Engine) loadCatalog() {
	if err := e.catalog.Load(); err != nil {
		e.logger.Error("definition document rejected", "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.reloads.Inc()
	}
	if e.bridge != nil {
		e.bridge.ReleaseAll()
	}
	e.syncStates()

	// Reactivate: the current page if it survived the reload, else home.
	e.mu.Lock()
	current := e.activePage
	e.mu.Unlock()

	target := e.catalog.HomePage()
	if current != "" {
		if _, err := e.catalog.StatesFor(current); err == nil {
			target = current
		}
	}
	if target != "" {
		e.activatePage(target)
	}
}

// syncStates announces every catalog state to the UI and withdraws states
// that disappeared from the document.
func (e *Engine) syncStates() {
	states := e.catalog.States()
	live := make(map[string]bool, len(states))

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range states {
		live[st.Name] = true
		if e.created[st.Name] {
			continue
		}
		id := touchportal.StateID(e.ui.PluginID(), st.Name)
		if err := e.ui.CreateState(id, st.Name, initialStateValue); err != nil {
			e.logger.Warn("state announcement failed", "state", st.Name, "error", err)
			continue
		}
		e.created[st.Name] = true
	}

	for name := range e.created {
		if live[name] {
			continue
		}
		id := touchportal.StateID(e.ui.PluginID(), name)
		if err := e.ui.RemoveState(id); err != nil {
			e.logger.Warn("state withdrawal failed", "state", name, "error", err)
		}
		delete(e.created, name)
		delete(e.lastValue, name)
		if st, ok := e.activeStates[name]; ok {
			e.unsubscribeLocked(st)
			delete(e.activeStates, name)
		}
	}
}

// OnPageChange activates the page the UI navigated to. Pages outside the
// catalog are ignored, the user may browse unrelated pages freely.
func (e *Engine) OnPageChange(notified string) {
	page, ok := e.catalog.ResolvePage(notified)
	if !ok {
		e.logger.Debug("page not in catalog, ignored", "page", notified)
		return
	}
	e.activatePage(page)
}

// activatePage swaps the active subscription set to the given page. States
// shared between the outgoing and incoming page keep their subscriptions
// throughout; the registry's reference counting sees no churn for them.
func (e *Engine) activatePage(page string) {
	states, err := e.catalog.StatesFor(page)
	if err != nil {
		e.logger.Warn("page activation failed", "page", page, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.pageChanges.Inc()
	}

	next := make(map[string]*catalog.State, len(states))
	for _, st := range states {
		next[st.Name] = st
	}

	e.mu.Lock()
	for name, st := range next {
		if _, already := e.activeStates[name]; !already {
			e.subscribeLocked(st)
		}
	}
	for name, st := range e.activeStates {
		if _, keep := next[name]; !keep {
			e.unsubscribeLocked(st)
		}
	}
	e.activeStates = next
	e.activePage = page
	e.mu.Unlock()

	e.logger.Info("page activated", "page", page, "states", len(next))

	// Push whatever is already known so the page does not show stale values
	// while waiting for the next telemetry change.
	for name := range next {
		e.recompute(name)
	}
}

// DeactivatePage drops the active page's subscriptions, used when the UI
// reports the user is leaving a page without entering a catalog page.
func (e *Engine) DeactivatePage(page string) {
	e.mu.Lock()
	if e.activePage != page {
		e.mu.Unlock()
		return
	}
	for _, st := range e.activeStates {
		e.unsubscribeLocked(st)
	}
	e.activeStates = make(map[string]*catalog.State)
	e.activePage = ""
	e.mu.Unlock()

	e.logger.Info("page deactivated", "page", page)
}

func (e *Engine) subscribeLocked(st *catalog.State) {
	for _, ref := range st.Formula.Refs() {
		if err := e.registry.Subscribe(ref, st.Rounding, st.Name); err != nil {
			e.logger.Warn("channel subscription failed", "path", ref, "state", st.Name, "error", err)
		}
	}
}

func (e *Engine) unsubscribeLocked(st *catalog.State) {
	for _, ref := range st.Formula.Refs() {
		if err := e.registry.Unsubscribe(ref, st.Name); err != nil {
			e.logger.Warn("channel unsubscription failed", "path", ref, "state", st.Name, "error", err)
		}
	}
}

// OnAction dispatches a user interaction.
func (e *Engine) OnAction(ev touchportal.ActionEvent) {
	switch {
	case strings.HasSuffix(ev.ID, actionExecuteCommand):
		e.executeCommand(ev.Value(fieldCommand))

	case strings.HasSuffix(ev.ID, actionExecuteLongPress):
		e.longPress(ev.Value(fieldCommand), ev.Kind)

	case strings.HasSuffix(ev.ID, actionSetDataref):
		e.setDataref(ev.Value(fieldDataref), ev.Value(fieldDatarefValue))

	case strings.HasSuffix(ev.ID, actionLeavingPage):
		if page, ok := e.catalog.ResolvePage(ev.Value(fieldPagePath)); ok {
			e.DeactivatePage(page)
		}

	default:
		e.logger.Debug("unhandled action", "action", ev.ID, "kind", ev.Kind.String())
	}
}

func (e *Engine) executeCommand(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	if _, noop := noOpCommands[strings.ToLower(command)]; noop {
		e.logger.Debug("no-op command ignored", "command", command)
		return
	}
	if command == reloadStatesCommand {
		e.logger.Info("reloading definition document on request")
		e.loadCatalog()
		return
	}

	if err := e.telemetry.Command(command); err != nil {
		e.logger.Warn("command dispatch failed", "command", command, "error", err)
	}
}

func (e *Engine) longPress(command string, kind touchportal.ActionKind) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}

	var err error
	switch kind {
	case touchportal.ActionHoldDown:
		err = e.bridge.Begin(command)
	case touchportal.ActionHoldUp:
		err = e.bridge.End(command)
	default:
		e.logger.Debug("long-press action with non-hold kind ignored", "command", command)
		return
	}

	if err != nil {
		if errors.IsAuthorization(err) {
			e.logger.Warn("long-press refused", "command", command, "error", err)
		} else {
			e.logger.Warn("long-press relay failed", "command", command, "error", err)
		}
	}
}

func (e *Engine) setDataref(path, raw string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		e.logger.Warn("dataref write rejected, value is not numeric", "path", path, "value", raw)
		return
	}
	if err := e.telemetry.Set(path, value); err != nil {
		e.logger.Warn("dataref write failed", "path", path, "error", err)
	}
}

// OnClose handles the UI's shutdown request.
func (e *Engine) OnClose() {
	e.closeOnce.Do(func() {
		e.logger.Info("shutdown requested by UI")
		close(e.closed)
	})
}

// OnSample ingests one telemetry sample and recomputes the states whose
// channel changed significantly. Wired as the session's sample callback.
func (e *Engine) OnSample(path string, value float64) {
	for _, name := range e.registry.Ingest(path, value) {
		e.recompute(name)
	}
}

// recompute evaluates one state and pushes the result when it differs from
// the last pushed value. Evaluation failure keeps the previous value on
// display.
func (e *Engine) recompute(name string) {
	st, ok := e.catalog.State(name)
	if !ok {
		return
	}
	if e.metrics != nil {
		e.metrics.recomputes.Inc()
	}

	refs := st.Formula.Refs()
	vars := make(map[string]float64, len(refs))
	have := 0
	for _, ref := range refs {
		v, ok := e.registry.Value(ref, st.Rounding)
		if ok {
			have++
		}
		// A silent channel substitutes zero, same as an absent variable.
		vars[ref] = v
	}
	if len(refs) > 0 && have == 0 {
		// Every referenced channel silent so far: nothing meaningful to show.
		return
	}

	result, err := st.Formula.Eval(vars)
	if err != nil {
		if e.metrics != nil {
			e.metrics.evalFailures.Inc()
		}
		e.logger.Debug("evaluation failed, keeping previous value", "state", name, "error", err)
		return
	}

	value := st.Spec.Format(result)

	e.mu.Lock()
	if e.lastValue[name] == value {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	id := touchportal.StateID(e.ui.PluginID(), name)
	if err := e.ui.UpdateState(id, value); err != nil {
		// Not recorded as pushed: the next recompute retries even if the
		// formatted value has not moved.
		e.logger.Warn("state update failed", "state", name, "error", err)
		return
	}

	e.mu.Lock()
	e.lastValue[name] = value
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.updates.Inc()
	}
	if e.mirror != nil {
		e.mirror.PublishState(id, name, value)
	}
}

// OnPhase publishes connection status to the UI's built-in states. Wired as
// the supervisor's phase callback.
func (e *Engine) OnPhase(phase xplane.Phase) {
	connected := phase == xplane.PhaseConnected
	e.pushStatus(stateConnected, connected)
	e.pushStatus(stateMonitoring, connected)

	if !connected && e.bridge != nil {
		// Holds cannot outlive the session that carried them.
		e.bridge.ReleaseAll()
	}
	if e.mirror != nil {
		e.mirror.PublishSession(phase.String())
	}
}

func (e *Engine) pushStatus(suffix string, on bool) {
	value := valueFalse
	if on {
		value = valueTrue
	}
	id := e.ui.PluginID() + suffix
	if err := e.ui.UpdateState(id, value); err != nil {
		e.logger.Debug("status update failed", "state", id, "error", err)
	}
}

var _ touchportal.Handler = (*Engine)(nil)

// String identifies the engine in logs.
func (e *Engine) String() string {
	return fmt.Sprintf("engine(page=%s)", e.ActivePage())
}
