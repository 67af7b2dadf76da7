// Package registry keeps one drawer per (kind, entity id) for the controller's lifetime.
//
// Drawers are created on first sight of an id and reused afterwards. Every load marks
// the ids it contained so drawers missing from the newest snapshot can be hidden or
// pruned by Reconcile.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
)

var ErrUnknownKind = errors.New("unknown entity kind")

// Host is the drawers' back-reference to the controller that owns them.
type Host interface {
	Viewport() (geom.Rect, bool)
	ZoomFactor() float64
	IconSymbolForLevel(ctx context.Context, level int) (canvas.Symbol, error)
}

// Drawer owns the canvas representation of one entity.
type Drawer interface {
	Render(ctx context.Context) error
	Display() bool
	SetDisplay(visible bool)
}

// Updater is implemented by drawers that accept fresh entity data on re-encounter.
type Updater interface {
	Update(e mapdata.Entity) error
}

// Remover is implemented by drawers that can detach themselves from the canvas.
type Remover interface {
	Remove()
}

// Placed is implemented by drawers backed by a single canvas element. Arrange moves
// those elements so document order follows the kind's sort.
type Placed interface {
	Element() canvas.Element
}

type Factory func(host Host, group canvas.Group, e mapdata.Entity) (Drawer, error)

// Less orders entities of one kind; earlier entities draw underneath later ones.
type Less func(a, b mapdata.Entity) bool

type ReconcileMode int

const (
	// ReconcileNone keeps stale drawers displayed.
	ReconcileNone ReconcileMode = iota
	// ReconcileHide sets display=false on drawers absent from the newest load.
	ReconcileHide
	// ReconcilePrune removes drawers absent from the newest load.
	ReconcilePrune
)

func (m ReconcileMode) String() string {
	switch m {
	case ReconcileNone:
		return "none"
	case ReconcileHide:
		return "hide"
	case ReconcilePrune:
		return "prune"
	default:
		return fmt.Sprintf("ReconcileMode(%d)", int(m))
	}
}

func ParseReconcileMode(s string) (ReconcileMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hide":
		return ReconcileHide, nil
	case "none":
		return ReconcileNone, nil
	case "prune":
		return ReconcilePrune, nil
	default:
		return ReconcileHide, fmt.Errorf("unknown reconcile mode %q", s)
	}
}

type Options struct {
	// RefreshOnReencounter passes new entity data to drawers implementing Updater.
	RefreshOnReencounter bool
}

type Registry struct {
	host    Host
	surface canvas.Surface
	opts    Options

	mu         sync.Mutex
	generation uint64
	tables     map[mapdata.Kind]*table
}

type table struct {
	factory Factory
	less    Less
	group   canvas.Group
	order   []int64
	entries map[int64]*entry
	// unsorted is set when order may no longer follow less.
	unsorted bool
}

type entry struct {
	drawer Drawer
	entity mapdata.Entity
	seen   uint64
}

func New(host Host, surface canvas.Surface, opts Options) *Registry {
	return &Registry{
		host:    host,
		surface: surface,
		opts:    opts,
		tables:  make(map[mapdata.Kind]*table),
	}
}

// Register declares a kind and creates its canvas group. Groups are appended to the
// canvas in registration order. A nil less keeps creation order.
func (r *Registry) Register(kind mapdata.Kind, factory Factory, less Less) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[kind]; ok {
		return
	}
	r.tables[kind] = &table{
		factory: factory,
		less:    less,
		group:   r.surface.Group(string(kind)),
		entries: make(map[int64]*entry),
	}
}

// BeginLoad starts a new generation. Ids ensured after this call count as seen in the
// newest load.
func (r *Registry) BeginLoad() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	return r.generation
}

// EnsureDrawer returns the drawer for e, creating it on first sight. A re-encountered
// drawer is only marked displayed (and updated when RefreshOnReencounter is set).
func (r *Registry) EnsureDrawer(kind mapdata.Kind, e mapdata.Entity) (Drawer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[kind]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	id := e.EntityID()
	if en, ok := t.entries[id]; ok {
		en.seen = r.generation
		en.drawer.SetDisplay(true)
		if u, ok := en.drawer.(Updater); ok && r.opts.RefreshOnReencounter {
			if err := u.Update(e); err != nil {
				return en.drawer, false, fmt.Errorf("update %s drawer %d: %w", kind, id, err)
			}
			en.entity = e
			t.unsorted = t.less != nil
		}
		return en.drawer, false, nil
	}

	d, err := t.factory(r.host, t.group, e)
	if err != nil {
		return nil, false, fmt.Errorf("create %s drawer %d: %w", kind, id, err)
	}
	d.SetDisplay(true)
	if n := len(t.order); n > 0 && t.less != nil && t.less(e, t.entries[t.order[n-1]].entity) {
		t.unsorted = true
	}
	t.entries[id] = &entry{drawer: d, entity: e, seen: r.generation}
	t.order = append(t.order, id)
	return d, true, nil
}

// Arrange restores the kind's sort over every drawer, old and new, and reorders the
// canvas group to match. Ties keep creation order.
func (r *Registry) Arrange(kind mapdata.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[kind]
	if !ok || !t.unsorted {
		return
	}
	sort.SliceStable(t.order, func(i, j int) bool {
		return t.less(t.entries[t.order[i]].entity, t.entries[t.order[j]].entity)
	})
	t.unsorted = false

	elems := make([]canvas.Element, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.entries[id].drawer.(Placed); ok {
			elems = append(elems, p.Element())
		}
	}
	t.group.Reorder(elems)
}

// DrawersOfKind returns the kind's drawers in creation order, or in sorted order once
// Arrange has run.
func (r *Registry) DrawersOfKind(kind mapdata.Kind) []Drawer {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[kind]
	if !ok {
		return nil
	}
	out := make([]Drawer, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].drawer)
	}
	return out
}

// Drawer looks up a single drawer.
func (r *Registry) Drawer(kind mapdata.Kind, id int64) (Drawer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[kind]
	if !ok {
		return nil, false
	}
	en, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return en.drawer, true
}

func (r *Registry) Len(kind mapdata.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[kind]; ok {
		return len(t.order)
	}
	return 0
}

// Reconcile applies mode to the kind's drawers that were not ensured since the last
// BeginLoad and returns how many were affected.
func (r *Registry) Reconcile(kind mapdata.Kind, mode ReconcileMode) int {
	if mode == ReconcileNone {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[kind]
	if !ok {
		return 0
	}

	affected := 0
	kept := t.order[:0]
	for _, id := range t.order {
		en := t.entries[id]
		if en.seen == r.generation {
			kept = append(kept, id)
			continue
		}
		affected++
		switch mode {
		case ReconcileHide:
			en.drawer.SetDisplay(false)
			kept = append(kept, id)
		case ReconcilePrune:
			en.drawer.SetDisplay(false)
			if rm, ok := en.drawer.(Remover); ok {
				rm.Remove()
			}
			delete(t.entries, id)
		}
	}
	t.order = kept
	return affected
}
