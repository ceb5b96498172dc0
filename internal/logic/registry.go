package logic

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/notify"
)

// Ext is the extension of handler definition files.
const Ext = ".yaml"

var (
	ErrInvalidName = errors.New("invalid logic name")
	ErrNoHandler   = errors.New("no handler found in definition")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// ValidName reports whether name may be used as a definition name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Broadcaster publishes dashboard events.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Registry holds the handlers loaded from a directory of definitions, in
// load order. A definition names a compiled-in Factory either through its
// "handler" key or by having a top-level section named after one.
type Registry struct {
	dir        string
	transcript *convlog.Writer
	bus        Broadcaster

	mu        sync.RWMutex
	factories map[string]Factory
	entries   map[string]*Entry
	order     []string
}

// NewRegistry creates an empty registry for dir. bus may be nil.
func NewRegistry(dir string, transcript *convlog.Writer, bus Broadcaster) *Registry {
	return &Registry{
		dir:        dir,
		transcript: transcript,
		bus:        bus,
		factories:  make(map[string]Factory),
		entries:    make(map[string]*Entry),
	}
}

// Register makes a handler kind available to definitions.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// Dir returns the definitions directory.
func (r *Registry) Dir() string {
	return r.dir
}

// LoadOne (re)loads a single definition file from disk. On failure the
// registry is left unchanged, including any previous entry for the name.
func (r *Registry) LoadOne(fileName string) error {
	err := r.loadOne(fileName)
	r.broadcast()
	return err
}

func (r *Registry) loadOne(fileName string) error {
	base := filepath.Base(fileName)
	if filepath.Ext(base) != Ext {
		base += Ext
	}
	name := strings.TrimSuffix(base, Ext)
	if !ValidName(name) {
		return errors.Wrapf(ErrInvalidName, "load %s", fileName)
	}
	path := filepath.Join(r.dir, base)

	src, err := os.ReadFile(path)
	if err != nil {
		zap.S().Errorf("[logic] failed to read %s: %v", path, err)
		return errors.Wrapf(err, "read %s", base)
	}

	entry, err := r.build(name, src)
	if err != nil {
		zap.S().Errorf("[logic] failed to load %s: %v", base, err)
		return errors.Wrapf(err, "load %s", base)
	}
	entry.Path = path

	r.mu.Lock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry
	r.mu.Unlock()

	zap.S().Infof("[logic] loaded %s (%s)", name, entry.Kind)
	return nil
}

func (r *Registry) build(name string, src []byte) (*Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, errors.Wrap(err, "parse definition")
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrNoHandler
	}

	root := doc.Content[0]
	kind := ""
	sections := make(map[string]*yaml.Node)
	var keys []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		if key == "handler" {
			kind = val.Value
			continue
		}
		sections[key] = val
		keys = append(keys, key)
	}

	r.mu.RLock()
	if kind == "" {
		for _, k := range keys {
			if _, ok := r.factories[k]; ok {
				kind = k
				break
			}
		}
	}
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		if kind != "" {
			return nil, errors.Wrapf(ErrNoHandler, "unknown handler %q", kind)
		}
		return nil, ErrNoHandler
	}

	section := map[string]any{}
	if node, ok := sections[kind]; ok {
		if err := node.Decode(&section); err != nil {
			return nil, errors.Wrapf(err, "decode %s section", kind)
		}
	}

	h, err := factory(Env{Name: name, Transcript: r.transcript}, section)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s handler", kind)
	}
	if h == nil {
		return nil, ErrNoHandler
	}
	return &Entry{Name: name, Kind: kind, Handler: h}, nil
}

// LoadAll clears the registry and loads every definition in the directory.
// Individual failures are logged and skipped. It returns the number loaded.
func (r *Registry) LoadAll() int {
	r.mu.Lock()
	r.entries = make(map[string]*Entry)
	r.order = nil
	r.mu.Unlock()

	defer r.broadcast()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		zap.S().Errorf("[logic] failed to create %s: %v", r.dir, err)
		return 0
	}
	files, err := os.ReadDir(r.dir)
	if err != nil {
		zap.S().Errorf("[logic] failed to read %s: %v", r.dir, err)
		return 0
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == Ext {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		if err := r.loadOne(name); err == nil {
			loaded++
		}
	}
	zap.S().Infof("[logic] %d/%d definitions loaded from %s", loaded, len(names), r.dir)
	return loaded
}

// Save writes source as <name>.yaml and loads it.
func (r *Registry) Save(name, source string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return errors.Wrap(err, "create logics directory")
	}
	if err := os.WriteFile(filepath.Join(r.dir, name+Ext), []byte(source), 0644); err != nil {
		return errors.Wrapf(err, "write %s", name+Ext)
	}
	return r.LoadOne(name + Ext)
}

// Remove deletes the definition file if present and unregisters the name.
// It reports whether anything was removed.
func (r *Registry) Remove(name string) bool {
	if !ValidName(name) {
		return false
	}

	removed := false
	path := filepath.Join(r.dir, name+Ext)
	if err := os.Remove(path); err == nil {
		removed = true
	} else if !os.IsNotExist(err) {
		zap.S().Errorf("[logic] failed to delete %s: %v", path, err)
	}

	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		delete(r.entries, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		removed = true
	}
	r.mu.Unlock()

	if removed {
		zap.S().Infof("[logic] removed %s", name)
		r.broadcast()
	}
	return removed
}

// Names lists registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List is Names in the dashboard shape.
func (r *Registry) List() []Info {
	names := r.Names()
	out := make([]Info, len(names))
	for i, n := range names {
		out[i] = Info{Name: n}
	}
	return out
}

// Snapshot returns a copy of the entries in order. Later registry changes
// do not affect it.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.entries[n])
	}
	return out
}

func (r *Registry) broadcast() {
	if r.bus != nil {
		r.bus.Broadcast(notify.EventLogicsList, r.List())
	}
}
