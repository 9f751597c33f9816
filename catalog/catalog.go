// Package catalog owns the declarative definition document: the pages, the
// states they activate, and the long-press allow-list. Loading is
// all-or-nothing; a malformed document never partially replaces a working
// catalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/airdeck/skybridge/codec"
	"github.com/airdeck/skybridge/errors"
	"github.com/airdeck/skybridge/formula"
)

// SupportedVersion is the definition document schema version this build
// understands.
const SupportedVersion = 4

// State is a named, externally visible value driven by a formula. Immutable
// once loaded.
type State struct {
	Name     string
	Formula  *formula.Formula
	Rounding int // substitution rounding for referenced channel values
	Spec     codec.Spec
	typeName string // source type string, for redefinition comparison
}

// Page is a named grouping of states that are active together.
type Page struct {
	Name   string
	States []string // ordered state names
}

// snapshot is one successfully parsed document. Catalog swaps whole
// snapshots so readers never observe a half-loaded document.
type snapshot struct {
	version   int
	homePage  string
	folder    string
	states    map[string]*State
	pages     map[string]*Page
	pageOrder []string
	allowList map[string]struct{}
}

// Catalog loads and serves the definition document.
type Catalog struct {
	filePath string
	logger   *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// New creates a catalog bound to a definition file. Nothing is loaded until
// Load is called.
func New(filePath string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		filePath: filePath,
		logger:   logger.With("component", "catalog"),
	}
}

// document mirrors the on-disk schema. Unknown fields are ignored for
// forward compatibility.
type document struct {
	Version   int       `json:"version"`
	HomePage  string    `json:"home-page"`
	Folder    string    `json:"folder"`
	Pages     []pageDef `json:"pages"`
	LongPress []string  `json:"long-press-commands"`
}

type pageDef struct {
	Name   string     `json:"name"`
	States []stateDef `json:"states"`
}

type stateDef struct {
	Name     string `json:"name"`
	Formula  string `json:"formula"`
	Rounding int    `json:"dataref-rounding"`
	Type     string `json:"type"`
}

// Load reads and parses the definition file. On any validation failure the
// previously loaded catalog is left untouched.
func (c *Catalog) Load() error {
	c.mu.Lock()
	path := c.filePath
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapCatalog(err, "Catalog", "Load", "definition file read")
	}
	return c.LoadBytes(data)
}

// Reload re-parses the definition file in place. Identical semantics to
// Load; the name marks the intent at call sites.
func (c *Catalog) Reload() error {
	return c.Load()
}

// SetFilePath changes the definition file used by subsequent loads. The UI
// settings message may override the configured path at runtime.
func (c *Catalog) SetFilePath(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = p
}

// LoadBytes parses a definition document held in memory.
func (c *Catalog) LoadBytes(data []byte) error {
	snap, err := parse(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Info("catalog loaded",
		"states", len(snap.states),
		"pages", len(snap.pageOrder),
		"long_press_commands", len(snap.allowList))
	return nil
}

func parse(data []byte) (*snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: %v", errors.ErrInvalidDocument, err),
			"Catalog", "Load", "document parsing")
	}

	if doc.Version != SupportedVersion {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: got %d, want %d", errors.ErrVersionMismatch, doc.Version, SupportedVersion),
			"Catalog", "Load", "version check")
	}

	snap := &snapshot{
		version:   doc.Version,
		homePage:  doc.HomePage,
		folder:    doc.Folder,
		states:    make(map[string]*State),
		pages:     make(map[string]*Page),
		allowList: make(map[string]struct{}, len(doc.LongPress)),
	}

	for _, pd := range doc.Pages {
		if pd.Name == "" {
			return nil, errors.WrapCatalog(
				fmt.Errorf("%w: page with empty name", errors.ErrInvalidDocument),
				"Catalog", "Load", "page validation")
		}
		if _, dup := snap.pages[pd.Name]; dup {
			return nil, errors.WrapCatalog(
				fmt.Errorf("%w: page %q defined twice", errors.ErrInvalidDocument, pd.Name),
				"Catalog", "Load", "page validation")
		}

		page := &Page{Name: pd.Name}
		for _, sd := range pd.States {
			st, err := parseState(sd)
			if err != nil {
				return nil, err
			}

			if prev, exists := snap.states[st.Name]; exists {
				// One state, one formula: the same name under several pages
				// must be the same definition, ambiguous redefinition is an
				// error, not silently resolved.
				if prev.Formula.String() != st.Formula.String() ||
					prev.Rounding != st.Rounding ||
					prev.typeName != st.typeName {
					return nil, errors.WrapCatalog(
						fmt.Errorf("%w: %q", errors.ErrDuplicateState, st.Name),
						"Catalog", "Load", "state deduplication")
				}
			} else {
				snap.states[st.Name] = st
			}
			page.States = append(page.States, st.Name)
		}

		snap.pages[pd.Name] = page
		snap.pageOrder = append(snap.pageOrder, pd.Name)
	}

	for _, cmd := range doc.LongPress {
		if cmd == "" {
			return nil, errors.WrapCatalog(
				fmt.Errorf("%w: empty long-press command identifier", errors.ErrInvalidDocument),
				"Catalog", "Load", "allow-list validation")
		}
		snap.allowList[cmd] = struct{}{}
	}

	if doc.HomePage != "" {
		if _, ok := snap.pages[doc.HomePage]; !ok {
			return nil, errors.WrapCatalog(
				fmt.Errorf("%w: home page %q", errors.ErrUnknownPage, doc.HomePage),
				"Catalog", "Load", "home page validation")
		}
	}

	return snap, nil
}

func parseState(sd stateDef) (*State, error) {
	if sd.Name == "" {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: state with empty name", errors.ErrInvalidDocument),
			"Catalog", "Load", "state validation")
	}
	if sd.Rounding < 0 {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: state %q: negative dataref-rounding", errors.ErrInvalidDocument, sd.Name),
			"Catalog", "Load", "state validation")
	}

	f, err := formula.Parse(sd.Formula)
	if err != nil {
		return nil, errors.WrapCatalog(
			fmt.Errorf("state %q: %w", sd.Name, err),
			"Catalog", "Load", "formula validation")
	}

	spec, err := codec.ParseSpec(sd.Type)
	if err != nil {
		return nil, errors.WrapCatalog(
			fmt.Errorf("state %q: %w", sd.Name, err),
			"Catalog", "Load", "type validation")
	}

	return &State{
		Name:     sd.Name,
		Formula:  f,
		Rounding: sd.Rounding,
		Spec:     spec,
		typeName: sd.Type,
	}, nil
}

// Loaded reports whether a document has been successfully loaded.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

// HomePage returns the configured home page name, or "" when none is set.
func (c *Catalog) HomePage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return ""
	}
	return c.snap.homePage
}

// Pages returns the page names in document order.
func (c *Catalog) Pages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil
	}
	out := make([]string, len(c.snap.pageOrder))
	copy(out, c.snap.pageOrder)
	return out
}

// States returns every state, de-duplicated, in page then document order.
func (c *Catalog) States() []*State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil
	}

	seen := make(map[string]bool, len(c.snap.states))
	out := make([]*State, 0, len(c.snap.states))
	for _, pn := range c.snap.pageOrder {
		for _, sn := range c.snap.pages[pn].States {
			if !seen[sn] {
				seen[sn] = true
				out = append(out, c.snap.states[sn])
			}
		}
	}
	return out
}

// State returns a state by name.
func (c *Catalog) State(name string) (*State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, false
	}
	st, ok := c.snap.states[name]
	return st, ok
}

// StatesFor returns the full de-duplicated set of states a page needs, in
// document order. The caller uses this to subscribe the dataref registry.
func (c *Catalog) StatesFor(page string) ([]*State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, errors.WrapCatalog(errors.ErrInvalidDocument, "Catalog", "StatesFor", "no document loaded")
	}

	p, ok := c.snap.pages[page]
	if !ok {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: %q", errors.ErrUnknownPage, page),
			"Catalog", "StatesFor", "page lookup")
	}

	seen := make(map[string]bool, len(p.States))
	out := make([]*State, 0, len(p.States))
	for _, sn := range p.States {
		if !seen[sn] {
			seen[sn] = true
			out = append(out, c.snap.states[sn])
		}
	}
	return out, nil
}

// ResolvePage maps a page path announced by the UI (e.g. "/(main).tml" or
// "/Aircraft/(main).tml") to a catalog page name. The optional document
// folder is honored as a path prefix. Returns false when no page matches.
func (c *Catalog) ResolvePage(notified string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return "", false
	}

	// Exact name match first.
	if _, ok := c.snap.pages[notified]; ok {
		return notified, true
	}

	base := path.Base(notified)
	base = strings.TrimSuffix(base, ".tml")
	base = strings.TrimPrefix(base, "(")
	base = strings.TrimSuffix(base, ")")
	if _, ok := c.snap.pages[base]; !ok {
		return "", false
	}

	// With a folder configured, only accept pages inside it.
	if c.snap.folder != "" {
		dir := strings.Trim(path.Dir(notified), "/")
		if dir != "" && dir != c.snap.folder {
			return "", false
		}
	}
	return base, true
}

// Allowed reports whether a command identifier is in the long-press
// allow-list.
func (c *Catalog) Allowed(command string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return false
	}
	_, ok := c.snap.allowList[command]
	return ok
}

// AllowList returns the long-press allow-list as a sorted-free copy.
func (c *Catalog) AllowList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil
	}
	out := make([]string, 0, len(c.snap.allowList))
	for cmd := range c.snap.allowList {
		out = append(out, cmd)
	}
	return out
}
