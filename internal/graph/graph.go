// Package graph implements the generic, typed DAG substrate shared by
// every device graph: devices as nodes, holders as typed edges, indexed
// for O(log n) lookup by sid, with three traversal views.
//
// Grounded on the teacher's internal/containers.RBTree (kept as
// internal/containers) for the node/edge index, generalized from a single
// concrete node type to the polymorphic devices.Device/devices.Holder
// interfaces defined by the layer above (component C), per spec.md §4.B.
package graph

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/containers"
	"go.storagectl.dev/storagectl/internal/sid"
)

// Device is the minimal contract the graph substrate needs from a node.
// The concrete device variants (internal/devices) satisfy this.
type Device interface {
	Sid() sid.Sid
}

// HolderKind discriminates holder (edge) variants, per spec.md §3.
type HolderKind int

const (
	HolderUser HolderKind = iota
	HolderSubdevice
	HolderFilesystemUser
	HolderMdUser
	HolderSnapshot
	HolderBtrfsQgroupRelation
)

func (k HolderKind) String() string {
	switch k {
	case HolderUser:
		return "User"
	case HolderSubdevice:
		return "Subdevice"
	case HolderFilesystemUser:
		return "FilesystemUser"
	case HolderMdUser:
		return "MdUser"
	case HolderSnapshot:
		return "Snapshot"
	case HolderBtrfsQgroupRelation:
		return "BtrfsQgroupRelation"
	default:
		return fmt.Sprintf("HolderKind(%d)", int(k))
	}
}

// Holder is the minimal contract the graph substrate needs from an edge.
type Holder interface {
	Sid() sid.Sid
	Source() sid.Sid
	Target() sid.Sid
	Kind() HolderKind
}

// View filters which holders are visible during traversal.
type View int

const (
	// ViewAll traverses every holder.
	ViewAll View = iota
	// ViewClassic skips Snapshot and BtrfsQgroupRelation edges.
	ViewClassic
	// ViewRemove is the edge set used to drive cascading-delete decisions:
	// same as ViewClassic, but also skips User holders (a User edge never
	// forces its source to be removed when the target is removed).
	ViewRemove
)

func (v View) visible(k HolderKind) bool {
	switch v {
	case ViewAll:
		return true
	case ViewClassic:
		return k != HolderSnapshot && k != HolderBtrfsQgroupRelation
	case ViewRemove:
		return k != HolderSnapshot && k != HolderBtrfsQgroupRelation && k != HolderUser
	default:
		return false
	}
}

// Errors returned by Graph mutators and queries.
var (
	ErrNotFound             = fmt.Errorf("not found")
	ErrWrongNumberOfChildren = fmt.Errorf("wrong number of children")
	ErrHolderAlreadyExists   = fmt.Errorf("holder already exists")
	ErrDeviceHasWrongType    = fmt.Errorf("device has wrong type")
	ErrNullReference         = fmt.Errorf("null reference")
)

func notFound(what string, s sid.Sid) error {
	return fmt.Errorf("%s %v: %w", what, s, ErrNotFound)
}

// Graph is the typed DAG: devices are nodes, holders are edges, both
// indexed by sid in red-black trees for O(log n) lookup.
type Graph[D Device, H Holder] struct {
	devices *containers.RBTree[sidKey, D]
	holders *containers.RBTree[sidKey, H]

	// outEdges/inEdges index holder sids by endpoint sid, for fast
	// parents()/children() without a full holders scan.
	outEdges map[sid.Sid][]sid.Sid // source -> []holder sid
	inEdges  map[sid.Sid][]sid.Sid // target -> []holder sid
}

type sidKey = containers.NativeOrdered[sid.Sid]

func key(s sid.Sid) sidKey { return sidKey{Val: s} }

// New returns an empty graph.
func New[D Device, H Holder]() *Graph[D, H] {
	g := &Graph[D, H]{
		outEdges: make(map[sid.Sid][]sid.Sid),
		inEdges:  make(map[sid.Sid][]sid.Sid),
	}
	g.devices = &containers.RBTree[sidKey, D]{
		KeyFn: func(d D) sidKey { return key(d.Sid()) },
	}
	g.holders = &containers.RBTree[sidKey, H]{
		KeyFn: func(h H) sidKey { return key(h.Sid()) },
	}
	return g
}

// NumDevices returns the number of device nodes.
func (g *Graph[D, H]) NumDevices() int { return g.devices.Len() }

// NumHolders returns the number of holder edges.
func (g *Graph[D, H]) NumHolders() int { return g.holders.Len() }

// AddDevice inserts a device node. It is an error to insert two devices
// with the same sid (the second insert silently clobbers the first in the
// underlying RBTree, so callers must check HasDevice first).
func (g *Graph[D, H]) AddDevice(d D) {
	g.devices.Insert(d)
}

// HasDevice reports whether a device with the given sid exists.
func (g *Graph[D, H]) HasDevice(s sid.Sid) bool {
	return g.devices.Lookup(key(s)) != nil
}

// Device looks up a device by sid.
func (g *Graph[D, H]) Device(s sid.Sid) (D, error) {
	node := g.devices.Lookup(key(s))
	if node == nil {
		var zero D
		return zero, notFound("device", s)
	}
	return node.Value, nil
}

// Devices returns every device node, sorted by sid.
func (g *Graph[D, H]) Devices() []D {
	return g.devices.Values()
}

// Holder looks up a holder by sid.
func (g *Graph[D, H]) Holder(s sid.Sid) (H, error) {
	node := g.holders.Lookup(key(s))
	if node == nil {
		var zero H
		return zero, notFound("holder", s)
	}
	return node.Value, nil
}

// Holders returns every holder edge, sorted by sid.
func (g *Graph[D, H]) Holders() []H {
	return g.holders.Values()
}

// AddHolder inserts an edge. Returns ErrHolderAlreadyExists if an edge of
// the same kind already connects src to dst (two holders of different
// kinds, e.g. a Subdevice and a Snapshot, may coexist between the same
// pair).
func (g *Graph[D, H]) AddHolder(h H) error {
	if !g.HasDevice(h.Source()) {
		return notFound("holder source device", h.Source())
	}
	if !g.HasDevice(h.Target()) {
		return notFound("holder target device", h.Target())
	}
	for _, existing := range g.HoldersOut(h.Source(), ViewAll) {
		if existing.Target() == h.Target() && existing.Kind() == h.Kind() {
			return fmt.Errorf("holder %v -> %v (%v): %w", h.Source(), h.Target(), h.Kind(), ErrHolderAlreadyExists)
		}
	}
	g.holders.Insert(h)
	g.outEdges[h.Source()] = append(g.outEdges[h.Source()], h.Sid())
	g.inEdges[h.Target()] = append(g.inEdges[h.Target()], h.Sid())
	return nil
}

// RemoveHolder deletes an edge.
func (g *Graph[D, H]) RemoveHolder(s sid.Sid) error {
	node := g.holders.Lookup(key(s))
	if node == nil {
		return notFound("holder", s)
	}
	h := node.Value
	g.holders.Delete(key(s))
	g.outEdges[h.Source()] = removeSid(g.outEdges[h.Source()], s)
	g.inEdges[h.Target()] = removeSid(g.inEdges[h.Target()], s)
	return nil
}

// RemoveDevice deletes a device node and every holder incident to it.
func (g *Graph[D, H]) RemoveDevice(s sid.Sid) error {
	if !g.HasDevice(s) {
		return notFound("device", s)
	}
	for _, hs := range append(append([]sid.Sid{}, g.outEdges[s]...), g.inEdges[s]...) {
		_ = g.RemoveHolder(hs)
	}
	g.devices.Delete(key(s))
	delete(g.outEdges, s)
	delete(g.inEdges, s)
	return nil
}

func removeSid(list []sid.Sid, target sid.Sid) []sid.Sid {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// HoldersOut returns the holders whose source is s, visible in view.
func (g *Graph[D, H]) HoldersOut(s sid.Sid, view View) []H {
	var ret []H
	for _, hs := range g.outEdges[s] {
		h, err := g.Holder(hs)
		if err != nil {
			continue
		}
		if view.visible(h.Kind()) {
			ret = append(ret, h)
		}
	}
	return ret
}

// HoldersIn returns the holders whose target is s, visible in view.
func (g *Graph[D, H]) HoldersIn(s sid.Sid, view View) []H {
	var ret []H
	for _, hs := range g.inEdges[s] {
		h, err := g.Holder(hs)
		if err != nil {
			continue
		}
		if view.visible(h.Kind()) {
			ret = append(ret, h)
		}
	}
	return ret
}

// Children returns the devices held by s (s is their "source"/parent).
func (g *Graph[D, H]) Children(s sid.Sid, view View) []D {
	var ret []D
	for _, h := range g.HoldersOut(s, view) {
		if d, err := g.Device(h.Target()); err == nil {
			ret = append(ret, d)
		}
	}
	return ret
}

// Parents returns the devices holding s (s is their "target"/child).
func (g *Graph[D, H]) Parents(s sid.Sid, view View) []D {
	var ret []D
	for _, h := range g.HoldersIn(s, view) {
		if d, err := g.Device(h.Source()); err == nil {
			ret = append(ret, d)
		}
	}
	return ret
}

// Descendants returns the transitive closure of Children, not including s.
func (g *Graph[D, H]) Descendants(s sid.Sid, view View) []D {
	seen := containers.NewSet[sid.Sid]()
	var walk func(sid.Sid)
	var ret []D
	walk = func(cur sid.Sid) {
		for _, child := range g.Children(cur, view) {
			if seen.Has(child.Sid()) {
				continue
			}
			seen.Insert(child.Sid())
			ret = append(ret, child)
			walk(child.Sid())
		}
	}
	walk(s)
	return ret
}

// Ancestors returns the transitive closure of Parents, not including s.
func (g *Graph[D, H]) Ancestors(s sid.Sid, view View) []D {
	seen := containers.NewSet[sid.Sid]()
	var walk func(sid.Sid)
	var ret []D
	walk = func(cur sid.Sid) {
		for _, parent := range g.Parents(cur, view) {
			if seen.Has(parent.Sid()) {
				continue
			}
			seen.Insert(parent.Sid())
			ret = append(ret, parent)
			walk(parent.Sid())
		}
	}
	walk(s)
	return ret
}

// Clone produces a new graph with fresh index storage but identical sids
// and topology; copyDevice/copyHolder perform the type-dispatched deep
// copy of each node/edge's attributes (spec.md §4.B).
func (g *Graph[D, H]) Clone(copyDevice func(D) D, copyHolder func(H) H) *Graph[D, H] {
	out := New[D, H]()
	for _, d := range g.Devices() {
		out.AddDevice(copyDevice(d))
	}
	for _, h := range g.Holders() {
		_ = out.AddHolder(copyHolder(h))
	}
	return out
}

// FilterByType returns the subset of devices for which pred returns true;
// the devices package uses this with a type-assertion predicate to
// implement e.g. "all Btrfs devices in this graph".
func FilterByType[D Device, H Holder, T any](g *Graph[D, H], assert func(D) (T, bool)) []T {
	var ret []T
	for _, d := range g.Devices() {
		if v, ok := assert(d); ok {
			ret = append(ret, v)
		}
	}
	return ret
}
