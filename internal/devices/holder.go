package devices

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// Holder is the polymorphic edge type of spec.md §3: User, Subdevice,
// FilesystemUser, MdUser, Snapshot, BtrfsQgroupRelation.
type Holder struct {
	id     sid.Sid
	kind   graph.HolderKind
	source sid.Sid
	target sid.Sid

	// FilesystemUser-only:
	Devid   uint64 // btrfs devid of the source device within the target Btrfs
	Journal bool   // true if source is an external journal device (XFS)

	// MdUser-only:
	MdSpare bool // source is a hot spare, not an active array member
}

var _ graph.Holder = (*Holder)(nil)

func (h *Holder) Sid() sid.Sid          { return h.id }
func (h *Holder) Source() sid.Sid       { return h.source }
func (h *Holder) Target() sid.Sid       { return h.target }
func (h *Holder) Kind() graph.HolderKind { return h.kind }

func (h *Holder) String() string {
	return fmt.Sprintf("%v{sid=%v %v->%v}", h.kind, h.id, h.source, h.target)
}

func newHolder(gen *sid.Generator, kind graph.HolderKind, source, target sid.Sid) *Holder {
	return &Holder{
		id:     gen.Next(),
		kind:   kind,
		source: source,
		target: target,
	}
}

// ReconstructHolder rebuilds a Holder with a previously-allocated sid, the
// Holder counterpart of Reconstruct.
func ReconstructHolder(s sid.Sid, kind graph.HolderKind, source, target sid.Sid, devid uint64, journal, mdSpare bool) *Holder {
	return &Holder{
		id:      s,
		kind:    kind,
		source:  source,
		target:  target,
		Devid:   devid,
		Journal: journal,
		MdSpare: mdSpare,
	}
}

// AddUser records that target (a Filesystem, Luks, etc.) sits directly on
// top of source (its single backing block device), the generic "User"
// holder of spec.md §3.
func AddUser(gen *sid.Generator, g *Graph, source, target sid.Sid) (*Holder, error) {
	h := newHolder(gen, graph.HolderUser, source, target)
	return h, g.AddHolder(h)
}

// AddSubdevice records a structural parent/child relationship: a
// Partition under its PartitionTable, an LvmLv under its LvmVg, a
// BtrfsSubvolume under its parent subvolume.
func AddSubdevice(gen *sid.Generator, g *Graph, parent, child sid.Sid) (*Holder, error) {
	h := newHolder(gen, graph.HolderSubdevice, parent, child)
	return h, g.AddHolder(h)
}

// AddFilesystemUser records that a block device (source) is a member of
// a multi-device filesystem (target, a Btrfs), carrying the btrfs devid.
func AddFilesystemUser(gen *sid.Generator, g *Graph, source, target sid.Sid, devid uint64, journal bool) (*Holder, error) {
	h := newHolder(gen, graph.HolderFilesystemUser, source, target)
	h.Devid = devid
	h.Journal = journal
	return h, g.AddHolder(h)
}

// AddMdUser records that a block device (source) is a member of an Md
// array (target).
func AddMdUser(gen *sid.Generator, g *Graph, source, target sid.Sid, spare bool) (*Holder, error) {
	h := newHolder(gen, graph.HolderMdUser, source, target)
	h.MdSpare = spare
	return h, g.AddHolder(h)
}

// AddSnapshot records that child (a BtrfsSubvolume) was created as a
// snapshot of parent; never traversed by ViewClassic/ViewRemove.
func AddSnapshot(gen *sid.Generator, g *Graph, parent, child sid.Sid) (*Holder, error) {
	h := newHolder(gen, graph.HolderSnapshot, parent, child)
	return h, g.AddHolder(h)
}

// AddQgroupRelation records a Btrfs qgroup parent->child relationship
// (inter-qgroup), or a level-0 qgroup's implicit link to its governing
// subvolume; never traversed by ViewClassic/ViewRemove.
func AddQgroupRelation(gen *sid.Generator, g *Graph, parent, child sid.Sid) (*Holder, error) {
	h := newHolder(gen, graph.HolderBtrfsQgroupRelation, parent, child)
	return h, g.AddHolder(h)
}
