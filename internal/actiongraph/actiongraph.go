// Package actiongraph implements the Action Graph Builder of spec.md
// §4.G: diff two device graphs (lhs="system", rhs="staging"), classify
// each sid as created/deleted/modified/unchanged, ask the Device's
// Emitter to produce the primitive actions for each, wire the
// inter-chain dependency edges, and topologically sort the result into
// a deterministic commit plan.
//
// Grounded on the teacher's graph-walk machinery in
// lib/containers/rbtree.go (kept as internal/containers) for the
// topological-sort priority queue, and on cmd/btrfs-rec/inspect's
// "build a derived graph from a parsed one, sids stable across both"
// pattern for the chain-before/after bookkeeping.
package actiongraph

import (
	"fmt"
	"sort"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/btrfscore"
	"go.storagectl.dev/storagectl/internal/containers"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// Builder implements devices.ChainBuilder while additionally recording
// a mapping from each Ref to its rendered action.Action, the scratch
// state the final Graph needs.
type Builder struct {
	actions []action.Action
	edges   map[action.Ref][]action.Ref // before -> []after
	bySid   map[sid.Sid][]action.Ref
}

var _ devices.ChainBuilder = (*Builder)(nil)

func newBuilder() *Builder {
	return &Builder{
		edges: make(map[action.Ref][]action.Ref),
		bySid: make(map[sid.Sid][]action.Ref),
	}
}

// AddAction appends a new primitive action and returns its Ref.
func (b *Builder) AddAction(a action.Action) action.Ref {
	ref := action.Ref(len(b.actions))
	b.actions = append(b.actions, a)
	b.bySid[a.Sid()] = append(b.bySid[a.Sid()], ref)
	return ref
}

// Chain records that after may not run before before completes.
func (b *Builder) Chain(before, after action.Ref) {
	b.edges[before] = append(b.edges[before], after)
}

// setArgv overwrites the Argv of an already-recorded action, used to
// patch in a btrfscore-synthesized invocation after the fact: the
// Action Graph Builder, unlike the per-kind Emitter, may import
// btrfscore (which itself imports devices) without creating a cycle.
func (b *Builder) setArgv(ref action.Ref, argv []string) {
	b.actions[ref].Argv = argv
}

func (b *Builder) dependsOn(after, before action.Ref) {
	b.edges[before] = append(b.edges[before], after)
}

// Graph is the computed, topologically-sorted commit plan: spec.md
// §4.G's Action Graph.
type Graph struct {
	Actions []action.Action
	// Order lists action.Ref indices into Actions in an order that
	// respects every dependency edge.
	Order []action.Ref
}

// Diff computes the Action Graph turning lhs ("system", the live state)
// into rhs ("staging", the desired state). Per spec.md §4.G step 1:
// classify every sid present in either graph as create (rhs-only),
// delete (lhs-only), or modify-or-unchanged (both); emit actions; wire
// dependencies; topologically sort.
func Diff(lhs, rhs *devices.Graph) (*Graph, error) {
	b := newBuilder()

	lhsSids := containers.NewSet[sid.Sid]()
	for _, d := range lhs.Devices() {
		lhsSids.Insert(d.Sid())
	}
	rhsSids := containers.NewSet[sid.Sid]()
	for _, d := range rhs.Devices() {
		rhsSids.Insert(d.Sid())
	}

	createRefs := make(map[sid.Sid][]action.Ref)
	deleteRefs := make(map[sid.Sid][]action.Ref)

	// d.Variant == nil only for a device built by a caller that skipped
	// devices.New*/devices.Reconstruct (both always populate Variant for
	// every Kind this package knows); the check below is a defensive
	// guard against that misuse, not an expected steady-state path.

	// Deletes: present in lhs, absent from rhs. Emit deepest descendants
	// first isn't required here since dependency edges (added below)
	// enforce "delete children before parents" regardless of emission
	// order.
	for _, d := range lhs.Devices() {
		if rhsSids.Has(d.Sid()) {
			continue
		}
		if d.Variant == nil {
			continue
		}
		deleteRefs[d.Sid()] = d.Variant.AddDeleteActions(b, lhs, d)
	}

	// Creates: present in rhs, absent from lhs.
	for _, d := range rhs.Devices() {
		if lhsSids.Has(d.Sid()) {
			continue
		}
		if d.Variant == nil {
			continue
		}
		createRefs[d.Sid()] = d.Variant.AddCreateActions(b, rhs, d)
	}

	// Modify: present in both, structurally unequal.
	for _, d := range rhs.Devices() {
		if !lhsSids.Has(d.Sid()) {
			continue
		}
		old, err := lhs.Device(d.Sid())
		if err != nil {
			return nil, fmt.Errorf("actiongraph: %w", err)
		}
		if d.Equal(old) || d.Variant == nil {
			continue
		}
		createRefs[d.Sid()] = append(createRefs[d.Sid()], d.Variant.AddModifyActions(b, rhs, d, old)...)
	}

	patchBtrfsArgv(b, lhs, rhs, createRefs, deleteRefs)
	addDependencies(b, lhs, rhs, createRefs, deleteRefs)

	order, err := topoSort(b)
	if err != nil {
		return nil, err
	}

	return &Graph{Actions: b.actions, Order: order}, nil
}

// addDependencies wires the inter-chain ordering rules of spec.md §4.G
// step 2: Create depends on Create(parent); Delete depends on
// Delete(children); a filesystem's shrink depends on nothing below it,
// but its backing device's shrink depends on the filesystem's shrink
// having already run (and the reverse for grow); Unmount precedes
// Delete of the mounted device; RemoveFromEtcFstab precedes Unmount
// (the latter two are already chained within MountPointData's own
// emitter, so only the cross-device edges are added here).
func addDependencies(b *Builder, lhs, rhs *devices.Graph, createRefs, deleteRefs map[sid.Sid][]action.Ref) {
	// Create(child) depends on Create(parent): every Subdevice/User edge
	// present in rhs but not lhs implies the parent must exist first.
	for _, h := range rhs.Holders() {
		if h.Kind() != graph.HolderSubdevice && h.Kind() != graph.HolderUser && h.Kind() != graph.HolderFilesystemUser && h.Kind() != graph.HolderMdUser {
			continue
		}
		childRefs, childIsNew := createRefs[h.Target()]
		parentRefs, parentIsNew := createRefs[h.Source()]
		childIsNew = childIsNew && !lhs.HasDevice(h.Target())
		if childIsNew && parentIsNew {
			for _, after := range childRefs {
				for _, before := range parentRefs {
					b.dependsOn(after, before)
				}
			}
		}
	}

	// Delete(parent) depends on Delete(child): reverse of the above,
	// since a parent can't be removed while a child still references it.
	for _, h := range lhs.Holders() {
		if h.Kind() != graph.HolderSubdevice && h.Kind() != graph.HolderUser && h.Kind() != graph.HolderFilesystemUser && h.Kind() != graph.HolderMdUser {
			continue
		}
		childRefs, childGone := deleteRefs[h.Target()]
		parentRefs, parentGone := deleteRefs[h.Source()]
		if childGone && parentGone {
			for _, after := range parentRefs {
				for _, before := range childRefs {
					b.dependsOn(after, before)
				}
			}
		}
	}

	// Resize ordering (spec.md §4.G): a filesystem sitting directly on a
	// block device (partition, LvmLv, ...) via a User holder must finish
	// shrinking before its backing device shrinks, since the backing
	// device may otherwise be truncated out from under still-live
	// filesystem data; conversely the backing device must finish growing
	// before the filesystem grows into the new space. h.Source() is the
	// backing device, h.Target() the filesystem (devices.AddUser).
	for _, h := range rhs.Holders() {
		if h.Kind() != graph.HolderUser {
			continue
		}
		fsRefs, fsIsMod := createRefs[h.Target()]
		belowRefs, belowIsMod := createRefs[h.Source()]
		if !fsIsMod || !belowIsMod {
			continue
		}
		if fsShrink := b.firstOfKind(fsRefs, action.ResizeShrink); fsShrink >= 0 {
			if belowShrink := b.firstOfKind(belowRefs, action.ResizeShrink); belowShrink >= 0 {
				b.dependsOn(belowShrink, fsShrink)
			}
		}
		if belowGrow := b.firstOfKind(belowRefs, action.ResizeGrow); belowGrow >= 0 {
			if fsGrow := b.firstOfKind(fsRefs, action.ResizeGrow); fsGrow >= 0 {
				b.dependsOn(fsGrow, belowGrow)
			}
		}
	}
}

// firstOfKind returns the first ref in refs whose recorded action has
// kind k, or -1 if none does.
func (b *Builder) firstOfKind(refs []action.Ref, k action.Kind) action.Ref {
	for _, r := range refs {
		if b.actions[r].Kind == k {
			return r
		}
	}
	return -1
}

// patchBtrfsArgv fills in the Argv the basicEmitter BtrfsSubvolume and
// BtrfsQgroup kinds leave empty (devices cannot import btrfscore without
// a cycle; this package already imports both). Grounded on
// btrfscore.SubvolumeCreateArgv/SnapshotArgv/SubvolumeDeleteArgv and the
// qgroup relation/limit/set-default argv synthesizers, per spec.md
// §4.I's subvolume and qgroup command examples.
func patchBtrfsArgv(b *Builder, lhs, rhs *devices.Graph, createRefs, deleteRefs map[sid.Sid][]action.Ref) {
	for _, d := range rhs.Devices() {
		refs, ok := createRefs[d.Sid()]
		if !ok {
			continue
		}
		ref := b.firstOfKind(refs, action.Create)
		if ref < 0 {
			continue
		}
		switch d.Kind {
		case devices.KindBtrfsSubvolume:
			if src, isSnapshot := btrfscore.ResolveSnapshotParent(rhs, d); isSnapshot {
				b.setArgv(ref, btrfscore.SnapshotArgv(src, d, false))
			} else {
				b.setArgv(ref, btrfscore.SubvolumeCreateArgv(d))
			}
			data, _ := d.Variant.(*devices.BtrfsSubvolumeData)
			if data != nil && data.IsDefault {
				if fs := governingFilesystem(rhs, d); fs != nil {
					r := b.AddAction(action.Action{
						Kind:   action.SetDefaultSubvolume,
						Sids:   []sid.Sid{d.Sid()},
						Device: d.Name,
						Argv:   btrfscore.DefaultSubvolumeArgv(fs, data.SubvolID),
					})
					b.Chain(ref, r)
				}
			}
		case devices.KindBtrfsQgroup:
			data, _ := d.Variant.(*devices.BtrfsQgroupData)
			if data == nil {
				continue
			}
			for _, h := range rhs.HoldersOut(d.Sid(), graph.ViewAll) {
				if h.Kind() != graph.HolderBtrfsQgroupRelation {
					continue
				}
				governed, err := rhs.Device(h.Target())
				if err != nil {
					continue
				}
				fs := governingFilesystem(rhs, governed)
				if fs == nil {
					continue
				}
				addr := btrfscore.QgroupAddress(data.Level, data.ID)
				// A level-0 qgroup is implicitly linked to its subvolume;
				// only an aggregating (level>0) relation to another qgroup
				// needs an explicit `btrfs qgroup assign`.
				if gd, ok := governed.Variant.(*devices.BtrfsQgroupData); ok {
					b.setArgv(ref, btrfscore.QgroupAssignArgv(fs, btrfscore.QgroupAddress(gd.Level, gd.ID), addr))
				}
				if data.ReferencedLimit != 0 || data.ExclusiveLimit != 0 {
					r := b.AddAction(action.Action{
						Kind:   action.SetQgroupLimit,
						Sids:   []sid.Sid{d.Sid()},
						Device: d.Name,
						Argv:   btrfscore.QgroupLimitArgv(fs, addr, data.ReferencedLimit, data.ExclusiveLimit),
					})
					b.Chain(ref, r)
				}
				break
			}
		}
	}

	for _, d := range lhs.Devices() {
		refs, ok := deleteRefs[d.Sid()]
		if !ok {
			continue
		}
		ref := b.firstOfKind(refs, action.Delete)
		if ref < 0 {
			continue
		}
		if d.Kind == devices.KindBtrfsSubvolume {
			b.setArgv(ref, btrfscore.SubvolumeDeleteArgv(d))
		}
	}
}

// governingFilesystem walks up from d (a subvolume or qgroup) to the
// Btrfs filesystem device that owns it, the fs argument every
// `btrfs qgroup`/`btrfs subvolume` invocation needs.
func governingFilesystem(g *devices.Graph, d *devices.Device) *devices.Device {
	for cur := d; cur != nil; {
		if cur.Kind == devices.KindFilesystemBtrfs {
			return cur
		}
		var next *devices.Device
		if cur.Kind == devices.KindBtrfsQgroup {
			// A qgroup reaches its filesystem through the subvolume or
			// qgroup its relation edge points at.
			for _, h := range g.HoldersOut(cur.Sid(), graph.ViewAll) {
				if h.Kind() == graph.HolderBtrfsQgroupRelation {
					next, _ = g.Device(h.Target())
					break
				}
			}
		} else if parents := g.Parents(cur.Sid(), graph.ViewClassic); len(parents) > 0 {
			next = parents[0]
		}
		cur = next
	}
	return nil
}

// kindPriority is the first dependency-sort tie-break key: action kind
// priority (lower runs first when otherwise unordered), then sid, a
// deterministic order so re-running Diff on unchanged input always
// produces the same commit plan (spec.md §8 "action determinism").
func kindPriority(k action.Kind) int {
	switch k {
	case action.Create:
		return 0
	case action.SetLabel, action.SetUUID, action.SetQuota, action.SetDefaultSubvolume, action.SetQgroupLimit:
		return 1
	case action.ReallotExtend:
		return 2
	case action.ActivateFilesystem:
		return 3
	case action.Mount:
		return 4
	case action.AddToEtcFstab:
		return 5
	case action.ResizeGrow:
		return 6
	case action.ResizeShrink:
		return 7
	case action.ReallotReduce:
		return 8
	case action.RemoveFromEtcFstab:
		return 9
	case action.Unmount:
		return 10
	case action.DeactivateFilesystem:
		return 11
	case action.Delete:
		return 12
	default:
		return 13
	}
}

// topoSort performs Kahn's algorithm over b.edges with a stable
// tie-break (kindPriority, then sid, then Ref) so the resulting order is
// fully deterministic given the same input graphs.
func topoSort(b *Builder) ([]action.Ref, error) {
	n := len(b.actions)
	indegree := make([]int, n)
	for _, afters := range b.edges {
		for _, after := range afters {
			indegree[after]++
		}
	}

	ready := make([]action.Ref, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, action.Ref(i))
		}
	}

	less := func(refs []action.Ref, i, j int) bool {
		a, bb := b.actions[refs[i]], b.actions[refs[j]]
		if pa, pb := kindPriority(a.Kind), kindPriority(bb.Kind); pa != pb {
			return pa < pb
		}
		if a.Sid() != bb.Sid() {
			return a.Sid() < bb.Sid()
		}
		return refs[i] < refs[j]
	}

	var order []action.Ref
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready, i, j) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, after := range b.edges[next] {
			indegree[after]--
			if indegree[after] == 0 {
				ready = append(ready, after)
			}
		}
	}

	if len(order) != n {
		return nil, fmt.Errorf("actiongraph: dependency cycle detected among %d unresolved actions", n-len(order))
	}
	return order, nil
}
