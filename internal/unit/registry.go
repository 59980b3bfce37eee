package unit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/containerd/errdefs"

	"github.com/Osso/sysd/internal/logging"
)

// LoadState mirrors spec.md §3 Runtime state LoadState.
type LoadState string

const (
	LoadStateStub     LoadState = "stub"
	LoadStateLoaded   LoadState = "loaded"
	LoadStateNotFound LoadState = "not-found"
	LoadStateError    LoadState = "error"
)

// Entry is what the registry keeps per canonical name: the parsed unit
// (if load succeeded), its load state, and the parse error (if any).
type Entry struct {
	Name      string
	LoadState LoadState
	Unit      *Unit
	Err       error
}

// Identity is the set of facts the registry needs for specifier
// expansion and that do not change across a reload.
type Identity struct {
	Hostname string
	UID      string
	User     string
	Home     string
}

// Registry is the in-memory catalog of loaded units (spec.md §4.2). It
// never contains two entries under the same canonical name; aliases
// resolve by indirection through the alias map.
type Registry struct {
	mu       sync.RWMutex
	paths    LoadPaths
	identity Identity

	units   map[string]*Entry
	aliases map[string]string // alias -> canonical name
}

// New constructs an empty registry bound to the given load paths.
func New(paths LoadPaths, identity Identity) *Registry {
	return &Registry{
		paths:    paths,
		identity: identity,
		units:    map[string]*Entry{},
		aliases:  map[string]string{},
	}
}

func (r *Registry) canonicalLocked(name string) string {
	if c, ok := r.aliases[name]; ok {
		return c
	}
	return name
}

// Load resolves and parses a unit by name (spec.md §4.2 load()),
// registering it in the catalog. Loading an already-loaded unit
// re-parses it (used by single-unit reload paths); Get prefers the
// cached entry.
func (r *Registry) Load(name string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(name)
}

func (r *Registry) loadLocked(name string) (*Entry, error) {
	canonical := r.canonicalLocked(name)

	u, err := Load(r.paths, canonical, r.identity.Hostname, r.identity.UID, r.identity.User, r.identity.Home)
	if err != nil {
		if _, ok := err.(*ParseError); ok {
			entry := &Entry{Name: canonical, LoadState: LoadStateError, Err: err}
			r.units[canonical] = entry
			return entry, nil
		}
		entry := &Entry{Name: canonical, LoadState: LoadStateNotFound, Err: err}
		r.units[canonical] = entry
		return entry, fmt.Errorf("%s: %w", canonical, errdefs.ErrNotFound)
	}

	entry := &Entry{Name: canonical, LoadState: LoadStateLoaded, Unit: u}
	r.units[canonical] = entry
	for _, alias := range u.Aliases {
		r.aliases[alias] = canonical
	}
	logging.WithUnit(canonical).Debug("unit loaded")
	return entry, nil
}

// Get returns the cached entry for name, loading it on first reference
// if not yet present (spec.md §3 Lifecycle: "units materialize on first
// reference or full scan").
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	canonical := r.canonicalLocked(name)
	entry, ok := r.units[canonical]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}
	return r.Load(name)
}

// List returns every known entry, sorted by canonical name.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.units))
	for _, e := range r.units {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReloadAll rescans the full load path set and reloads every unit
// currently known plus any newly discovered *.wants/*.requires
// enablement links. In-flight jobs keep running against the entries
// they already captured a pointer to; only new Get/Load calls observe
// the new spec (spec.md §3 Lifecycle).
func (r *Registry) ReloadAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	discovered, err := r.discoverLocked()
	if err != nil {
		return err
	}
	for _, n := range discovered {
		if _, ok := r.units[n]; !ok {
			names = append(names, n)
		}
	}

	for _, name := range names {
		if _, err := r.loadLocked(name); err != nil {
			logging.WithUnit(name).WithError(err).Warn("reload failed")
		}
	}
	return nil
}

// discoverLocked walks every load-path root for unit files and the
// <target>.wants/ and <target>.requires/ enablement directories,
// returning every canonical name found.
func (r *Registry) discoverLocked() ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, root := range r.paths.roots() {
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if isUnitName(name) {
				add(name)
			}
		}
	}

	for _, root := range r.paths.roots() {
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			for _, suffix := range []string{".wants", ".requires"} {
				if filepath.Ext(e.Name()) == suffix {
					target := e.Name()[:len(e.Name())-len(suffix)]
					add(target)
					links, _ := os.ReadDir(filepath.Join(root, e.Name()))
					for _, l := range links {
						if isUnitName(l.Name()) {
							add(l.Name())
						}
					}
				}
			}
		}
	}
	return out, nil
}

func isUnitName(name string) bool {
	for _, k := range []Kind{KindService, KindSocket, KindTimer, KindMount, KindTarget, KindSlice, KindScope} {
		if filepath.Ext(name) == "."+string(k) {
			return true
		}
	}
	return false
}
