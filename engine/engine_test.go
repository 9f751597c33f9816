package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdeck/skybridge/catalog"
	"github.com/airdeck/skybridge/component"
	"github.com/airdeck/skybridge/dataref"
	"github.com/airdeck/skybridge/longpress"
	"github.com/airdeck/skybridge/touchportal"
	"github.com/airdeck/skybridge/xplane"
)

const testDoc = `{
  "version": 4,
  "home-page": "main",
  "pages": [
    {"name": "main", "states": [
      {"name": "Baro", "formula": "{$sim/baro$} 33.8639 * 0 round", "dataref-rounding": 2, "type": "int"},
      {"name": "Gear Down", "formula": "{$sim/gear$} 1 eq", "type": "bool"}
    ]},
    {"name": "overhead", "states": [
      {"name": "Baro", "formula": "{$sim/baro$} 33.8639 * 0 round", "dataref-rounding": 2, "type": "int"},
      {"name": "APU N1", "formula": "{$sim/apu$} 1 round", "dataref-rounding": 1, "type": "float4.1"}
    ]}
  ],
  "long-press-commands": ["cmd/fire_test"]
}`

// fakeUI records everything pushed toward the desktop client.
type fakeUI struct {
	mu        sync.Mutex
	created   map[string]string // id -> description
	updates   []stateUpdate
	removed   []string
	updateErr error
}

type stateUpdate struct {
	id    string
	value string
}

func newFakeUI() *fakeUI {
	return &fakeUI{created: make(map[string]string)}
}

func (f *fakeUI) PluginID() string { return "tp.plugin.test" }

func (f *fakeUI) CreateState(id, desc, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[id] = desc
	return nil
}

func (f *fakeUI) UpdateState(id, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, stateUpdate{id, value})
	return nil
}

func (f *fakeUI) setUpdateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErr = err
}

func (f *fakeUI) RemoveState(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeUI) updatesFor(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.updates {
		if u.id == id {
			out = append(out, u.value)
		}
	}
	return out
}

func (f *fakeUI) lastUpdate(id string) (string, bool) {
	vals := f.updatesFor(id)
	if len(vals) == 0 {
		return "", false
	}
	return vals[len(vals)-1], true
}

// fakeSim records simulator-bound traffic: subscriptions, writes, commands.
type fakeSim struct {
	mu         sync.Mutex
	subscribed map[string]bool
	sets       map[string]float64
	commands   []string
}

func newFakeSim() *fakeSim {
	return &fakeSim{subscribed: make(map[string]bool), sets: make(map[string]float64)}
}

func (f *fakeSim) Subscribe(path string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[path] = true
	return nil
}

func (f *fakeSim) Unsubscribe(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, path)
	return nil
}

func (f *fakeSim) Set(path string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[path] = value
	return nil
}

func (f *fakeSim) Command(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, path)
	return nil
}

func (f *fakeSim) isSubscribed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[path]
}

func (f *fakeSim) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type harness struct {
	engine *Engine
	ui     *fakeUI
	sim    *fakeSim
	file   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	file := filepath.Join(t.TempDir(), "states.json")
	require.NoError(t, os.WriteFile(file, []byte(testDoc), 0o644))

	ui := newFakeUI()
	sim := newFakeSim()
	cat := catalog.New(file, nil)
	registry := dataref.NewRegistry(sim, 2, nil, nil)
	bridge := longpress.NewBridge(cat, sim, nil)

	eng := New(cat, registry, ui, sim, bridge, nil, nil, nil, nil)
	return &harness{engine: eng, ui: ui, sim: sim, file: file}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.engine.OnConnect(nil)
	require.Equal(t, "main", h.engine.ActivePage())
}

func TestOnConnect_LoadsCatalogAndActivatesHomePage(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	// All three states announced, the shared Baro only once.
	assert.Len(t, h.ui.created, 3)
	assert.Equal(t, "Baro", h.ui.created["tp.plugin.test.BARO"])
	assert.Equal(t, "Gear Down", h.ui.created["tp.plugin.test.GEARDOWN"])
	assert.Equal(t, "APU N1", h.ui.created["tp.plugin.test.APUN1"])

	// Home page channels are live, the other page's are not.
	assert.True(t, h.sim.isSubscribed("sim/baro"))
	assert.True(t, h.sim.isSubscribed("sim/gear"))
	assert.False(t, h.sim.isSubscribed("sim/apu"))
}

func TestOnSample_RecomputesAndPushes(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.engine.OnSample("sim/baro", 29.92)

	// 29.92 * 33.8639 rounds to 1013 as an int state.
	got, ok := h.ui.lastUpdate("tp.plugin.test.BARO")
	require.True(t, ok)
	assert.Equal(t, "1013", got)

	// A sub-precision flutter changes nothing.
	before := len(h.ui.updatesFor("tp.plugin.test.BARO"))
	h.engine.OnSample("sim/baro", 29.9200001)
	assert.Len(t, h.ui.updatesFor("tp.plugin.test.BARO"), before)

	// A real change pushes once.
	h.engine.OnSample("sim/baro", 30.12)
	got, _ = h.ui.lastUpdate("tp.plugin.test.BARO")
	assert.Equal(t, "1020", got)
}

func TestRecompute_FailedPushRetriedWhileValueConstant(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	// The push fails; the value must not be remembered as delivered.
	h.ui.setUpdateErr(errors.New("ui unavailable"))
	h.engine.OnSample("sim/baro", 29.92)
	assert.Empty(t, h.ui.updatesFor("tp.plugin.test.BARO"))

	// 29.91 also formats to "1013"; with the UI back, the unchanged value
	// still goes out because the earlier push never landed.
	h.ui.setUpdateErr(nil)
	h.engine.OnSample("sim/baro", 29.91)
	assert.Equal(t, []string{"1013"}, h.ui.updatesFor("tp.plugin.test.BARO"))
}

func TestOnSample_BoolFormatting(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.engine.OnSample("sim/gear", 1.0)
	got, ok := h.ui.lastUpdate("tp.plugin.test.GEARDOWN")
	require.True(t, ok)
	assert.Equal(t, "TRUE", got)

	h.engine.OnSample("sim/gear", 0.0)
	got, _ = h.ui.lastUpdate("tp.plugin.test.GEARDOWN")
	assert.Equal(t, "FALSE", got)
}

func TestOnPageChange_SwapsSubscriptionsKeepingShared(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.engine.OnPageChange("/(overhead).tml")
	assert.Equal(t, "overhead", h.engine.ActivePage())

	assert.True(t, h.sim.isSubscribed("sim/baro")) // shared stays
	assert.True(t, h.sim.isSubscribed("sim/apu"))
	assert.False(t, h.sim.isSubscribed("sim/gear"))

	// Unknown page is ignored.
	h.engine.OnPageChange("/(scratchpad).tml")
	assert.Equal(t, "overhead", h.engine.ActivePage())
}

func TestOnAction_ExecuteCommand(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	press := func(cmd string) {
		h.engine.OnAction(touchportal.ActionEvent{
			ID:   "tp.plugin.test.act.ExecuteCommand",
			Kind: touchportal.ActionPress,
			Data: map[string]string{"tp.plugin.test.act.XPlaneCommand.data.command": cmd},
		})
	}

	press("sim/lights/landing_lights_toggle")
	assert.Equal(t, []string{"sim/lights/landing_lights_toggle"}, h.sim.sentCommands())

	// Placeholder words and blanks never reach the simulator.
	for _, word := range []string{"", "  ", "none", "NoOp", "NO-OPERATION", "no-command", "do-nothing"} {
		press(word)
	}
	assert.Len(t, h.sim.sentCommands(), 1)
}

func TestOnAction_ReloadStatesCommand(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	next := `{"version": 4, "home-page": "main", "pages": [{"name": "main", "states": [
		{"name": "Speed", "formula": "{$sim/speed$} 0 round", "type": "int"}]}]}`
	require.NoError(t, os.WriteFile(h.file, []byte(next), 0o644))

	h.engine.OnAction(touchportal.ActionEvent{
		ID:   "tp.plugin.test.act.ExecuteCommand",
		Kind: touchportal.ActionPress,
		Data: map[string]string{"tp.plugin.test.act.XPlaneCommand.data.command": "RELOAD_STATES_FILE"},
	})

	// Nothing went to the simulator; the catalog was reloaded instead.
	assert.Empty(t, h.sim.sentCommands())
	assert.Contains(t, h.ui.created, "tp.plugin.test.SPEED")
	assert.Contains(t, h.ui.removed, "tp.plugin.test.GEARDOWN")
	assert.True(t, h.sim.isSubscribed("sim/speed"))
	assert.False(t, h.sim.isSubscribed("sim/gear"))
}

func TestOnAction_SetDataref(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	set := func(path, value string) {
		h.engine.OnAction(touchportal.ActionEvent{
			ID:   "tp.plugin.test.act.SetDataref",
			Kind: touchportal.ActionPress,
			Data: map[string]string{
				"tp.plugin.test.act.SetDataref.data.dataref":      path,
				"tp.plugin.test.act.SetDataref.data.datarefvalue": value,
			},
		})
	}

	set("sim/autopilot/altitude", "18000")
	h.sim.mu.Lock()
	assert.Equal(t, 18000.0, h.sim.sets["sim/autopilot/altitude"])
	h.sim.mu.Unlock()

	// Non-numeric values are rejected before the wire.
	set("sim/autopilot/altitude", "high")
	h.sim.mu.Lock()
	assert.Len(t, h.sim.sets, 1)
	h.sim.mu.Unlock()
}

func TestOnAction_LongPress(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	hold := func(cmd string, kind touchportal.ActionKind) {
		h.engine.OnAction(touchportal.ActionEvent{
			ID:   "tp.plugin.test.act.ExecuteLongPressCommand",
			Kind: kind,
			Data: map[string]string{"tp.plugin.test.act.XPlaneLongPressCommand.data.command": cmd},
		})
	}

	hold("cmd/fire_test", touchportal.ActionHoldDown)
	hold("cmd/fire_test", touchportal.ActionHoldUp)
	assert.Equal(t, []string{"cmd/fire_test/begin", "cmd/fire_test/end"}, h.sim.sentCommands())

	// Not on the allow-list: refused, nothing sent.
	hold("cmd/eject", touchportal.ActionHoldDown)
	assert.Len(t, h.sim.sentCommands(), 2)
}

func TestOnAction_LeavingPage(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.engine.OnAction(touchportal.ActionEvent{
		ID:   "tp.plugin.test.act.LeavingPage",
		Kind: touchportal.ActionPress,
		Data: map[string]string{"tp.plugin.test.act.LeavingPage.data.pagePath": "/(main).tml"},
	})

	assert.Equal(t, "", h.engine.ActivePage())
	assert.False(t, h.sim.isSubscribed("sim/baro"))
	assert.False(t, h.sim.isSubscribed("sim/gear"))
}

func TestOnPhase_PushesStatusStates(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.engine.OnPhase(xplane.PhaseConnected)
	got, ok := h.ui.lastUpdate("tp.plugin.test.state.XPlaneConnected")
	require.True(t, ok)
	assert.Equal(t, "1", got)
	got, _ = h.ui.lastUpdate("tp.plugin.test.state.MonitoringRunning")
	assert.Equal(t, "1", got)

	h.engine.OnPhase(xplane.PhaseDisconnected)
	got, _ = h.ui.lastUpdate("tp.plugin.test.state.XPlaneConnected")
	assert.Equal(t, "0", got)
}

func TestOnPhase_DisconnectReleasesHolds(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.engine.OnAction(touchportal.ActionEvent{
		ID:   "tp.plugin.test.act.ExecuteLongPressCommand",
		Kind: touchportal.ActionHoldDown,
		Data: map[string]string{"tp.plugin.test.act.XPlaneLongPressCommand.data.command": "cmd/fire_test"},
	})

	h.engine.OnPhase(xplane.PhaseDisconnected)
	assert.Contains(t, h.sim.sentCommands(), "cmd/fire_test/end")
}

func TestOnSettings_SwitchesDefinitionFile(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	other := filepath.Join(t.TempDir(), "other.json")
	doc := `{"version": 4, "home-page": "alt", "pages": [{"name": "alt", "states": [
		{"name": "Heading", "formula": "{$sim/hdg$} 0 round", "type": "int3"}]}]}`
	require.NoError(t, os.WriteFile(other, []byte(doc), 0o644))

	h.engine.OnSettings(map[string]string{"Dynamic States File": other})

	assert.Contains(t, h.ui.created, "tp.plugin.test.HEADING")
	assert.Equal(t, "alt", h.engine.ActivePage())
}

func TestRecompute_SilentChannelsPushNothing(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	// No samples yet: page activation must not push a fabricated zero.
	assert.Empty(t, h.ui.updatesFor("tp.plugin.test.BARO"))
}

func TestOnClose_SignalsDone(t *testing.T) {
	h := newHarness(t)

	select {
	case <-h.engine.Done():
		t.Fatal("done before close")
	default:
	}

	h.engine.OnClose()
	h.engine.OnClose() // idempotent

	select {
	case <-h.engine.Done():
	case <-time.After(time.Second):
		t.Fatal("done never signalled")
	}
}

// fakeComponent records lifecycle calls in a shared order log.
type fakeComponent struct {
	name    string
	mark    func(string)
	initErr error
}

func (f *fakeComponent) Initialize() error {
	return f.initErr
}

func (f *fakeComponent) Start(_ context.Context) error {
	f.mark(f.name + ":start")
	return nil
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	f.mark(f.name + ":stop")
	return nil
}

func TestStartStop_ComponentOrdering(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	mark := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	a := &fakeComponent{name: "a", mark: mark}
	b := &fakeComponent{name: "b", mark: mark}
	h.engine.components = []component.Lifecycle{a, b}

	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a:start", "b:start", "b:stop", "a:stop"}, order)
}

func TestStart_InitFailureUnwindsStartedComponents(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	mark := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	a := &fakeComponent{name: "a", mark: mark}
	b := &fakeComponent{name: "b", mark: mark, initErr: assert.AnError}
	h.engine.components = []component.Lifecycle{a, b}

	require.Error(t, h.engine.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a:start", "a:stop"}, order)
}
