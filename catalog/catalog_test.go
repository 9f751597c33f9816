package catalog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdeck/skybridge/errors"
)

const validDoc = `{
  "version": 4,
  "home-page": "main",
  "folder": "Airbus A321",
  "pages": [
    {"name": "main", "states": [
      {"name": "Baro", "formula": "{$sim/cockpit/misc/barometer_setting$} 33.8639 * 0 round", "dataref-rounding": 2, "type": "int"},
      {"name": "Gear Down", "formula": "{$sim/cockpit2/tire_ratio$} 1 eq", "type": "bool"}
    ]},
    {"name": "overhead", "states": [
      {"name": "Baro", "formula": "{$sim/cockpit/misc/barometer_setting$} 33.8639 * 0 round", "dataref-rounding": 2, "type": "int"},
      {"name": "APU N1", "formula": "{$sim/apu/n1$} 1 round", "dataref-rounding": 1, "type": "float4.1"}
    ]}
  ],
  "long-press-commands": ["AirbusFBW/FireTestAPU", "AirbusFBW/FireTestENG1"],
  "future-field": {"ignored": true}
}`

func newLoaded(t *testing.T) *Catalog {
	t.Helper()
	c := New("states.json", nil)
	require.NoError(t, c.LoadBytes([]byte(validDoc)))
	return c
}

func TestLoad_Valid(t *testing.T) {
	c := newLoaded(t)

	assert.True(t, c.Loaded())
	assert.Equal(t, "main", c.HomePage())
	assert.Equal(t, []string{"main", "overhead"}, c.Pages())
	assert.Len(t, c.States(), 3) // Baro de-duplicated across pages
	assert.True(t, c.Allowed("AirbusFBW/FireTestAPU"))
	assert.False(t, c.Allowed("AirbusFBW/FireTestENG2"))
}

func TestLoad_StateAttributes(t *testing.T) {
	c := newLoaded(t)

	st, ok := c.State("Baro")
	require.True(t, ok)
	assert.Equal(t, 2, st.Rounding)
	assert.Equal(t, []string{"sim/cockpit/misc/barometer_setting"}, st.Formula.Refs())
}

func TestStatesFor(t *testing.T) {
	c := newLoaded(t)

	main, err := c.StatesFor("main")
	require.NoError(t, err)
	require.Len(t, main, 2)
	assert.Equal(t, "Baro", main[0].Name)
	assert.Equal(t, "Gear Down", main[1].Name)

	_, err = c.StatesFor("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownPage)
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", `{]`, errors.ErrInvalidDocument},
		{"wrong version", `{"version": 2, "pages": []}`, errors.ErrVersionMismatch},
		{"missing version", `{"pages": []}`, errors.ErrVersionMismatch},
		{"empty page name", `{"version": 4, "pages": [{"name": "", "states": []}]}`, errors.ErrInvalidDocument},
		{"duplicate page", `{"version": 4, "pages": [{"name": "p"}, {"name": "p"}]}`, errors.ErrInvalidDocument},
		{"bad formula", `{"version": 4, "pages": [{"name": "p", "states": [{"name": "s", "formula": "1 +", "type": "int"}]}]}`, errors.ErrStackUnderflow},
		{"bad type", `{"version": 4, "pages": [{"name": "p", "states": [{"name": "s", "formula": "1", "type": "int4x"}]}]}`, errors.ErrInvalidTypeSpec},
		{"negative rounding", `{"version": 4, "pages": [{"name": "p", "states": [{"name": "s", "formula": "1", "dataref-rounding": -1, "type": "int"}]}]}`, errors.ErrInvalidDocument},
		{"empty allow-list entry", `{"version": 4, "pages": [], "long-press-commands": [""]}`, errors.ErrInvalidDocument},
		{"unknown home page", `{"version": 4, "home-page": "gone", "pages": []}`, errors.ErrUnknownPage},
		{
			"ambiguous redefinition",
			`{"version": 4, "pages": [
				{"name": "a", "states": [{"name": "s", "formula": "1", "type": "int"}]},
				{"name": "b", "states": [{"name": "s", "formula": "2", "type": "int"}]}
			]}`,
			errors.ErrDuplicateState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("states.json", nil)
			err := c.LoadBytes([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsCatalog(err))
			assert.False(t, c.Loaded())
		})
	}
}

// Reload is all-or-nothing: a malformed document leaves the previous catalog
// fully intact.
func TestReload_AtomicOnFailure(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "states.json")
	require.NoError(t, os.WriteFile(file, []byte(validDoc), 0o644))

	c := New(file, nil)
	require.NoError(t, c.Load())
	require.Len(t, c.States(), 3)

	require.NoError(t, os.WriteFile(file, []byte(`{"version": 4, "pages": [{"name": ""}]}`), 0o644))
	err := c.Reload()
	require.Error(t, err)
	assert.True(t, errors.IsCatalog(err))

	// Previous catalog untouched.
	assert.Len(t, c.States(), 3)
	assert.Equal(t, "main", c.HomePage())
	assert.True(t, c.Allowed("AirbusFBW/FireTestAPU"))
}

func TestReload_PicksUpNewStates(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "states.json")
	require.NoError(t, os.WriteFile(file, []byte(validDoc), 0o644))

	c := New(file, nil)
	require.NoError(t, c.Load())

	next := `{"version": 4, "pages": [{"name": "main", "states": [
		{"name": "Speed", "formula": "{$sim/speed$} 0 round", "type": "int"}]}]}`
	require.NoError(t, os.WriteFile(file, []byte(next), 0o644))
	require.NoError(t, c.Reload())

	states := c.States()
	require.Len(t, states, 1)
	assert.Equal(t, "Speed", states[0].Name)
	assert.False(t, c.Allowed("AirbusFBW/FireTestAPU"))
}

func TestResolvePage(t *testing.T) {
	c := newLoaded(t)

	tests := []struct {
		notified string
		want     string
		ok       bool
	}{
		{"main", "main", true},
		{"/(main).tml", "main", true},
		{"/Airbus A321/(overhead).tml", "overhead", true},
		{"/Other Folder/(main).tml", "", false},
		{"/(missing).tml", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.notified, func(t *testing.T) {
			got, ok := c.ResolvePage(tt.notified)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetFilePath_ConcurrentWithLoad(t *testing.T) {
	// The UI settings handler may swap the path while a reload is in flight;
	// the path read inside Load is synchronized with SetFilePath.
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte(validDoc), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(validDoc), 0o644))

	c := New(a, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		path := a
		if i%2 == 1 {
			path = b
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Load()
		}()
		go func(p string) {
			defer wg.Done()
			c.SetFilePath(p)
		}(path)
	}
	wg.Wait()

	require.NoError(t, c.Load())
	assert.True(t, c.Loaded())
}

func TestLoad_MissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent.json"), nil)
	err := c.Load()
	require.Error(t, err)
	assert.True(t, errors.IsCatalog(err))
}
