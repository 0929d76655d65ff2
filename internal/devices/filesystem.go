package devices

import (
	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/sid"
)

// FilesystemData backs every Filesystem(...) kind other than Btrfs
// (which gets its own richer create chain in btrfs.go): Ext2/3/4, Xfs,
// Swap, Fat, Exfat, Ntfs, Reiserfs, Jfs, F2fs, Udf, Iso9660, Nilfs2,
// Bcachefs, Nfs, Tmpfs. Sits as a User on its single backing block
// device (spec.md §3).
type FilesystemData struct {
	basicEmitter
	MkfsExtraArgs []string
}

func NewFilesystem(gen *sid.Generator, g *Graph, backing *Device, k Kind, name string, data FilesystemData) (*Device, error) {
	d := newDevice(gen, k, name, &data)
	d.Size = backing.Size
	g.AddDevice(d)
	if _, err := AddUser(gen, g, backing.Sid(), d.Sid()); err != nil {
		return nil, err
	}
	return d, nil
}

// mkfsTool is the mkfs-family program and its label/UUID flag spellings
// for one filesystem Kind; not every tool accepts both (e.g. Fat/Exfat/
// Udf/Iso9660 take a volume name but not a kernel UUID).
type mkfsTool struct {
	program  string
	labelFlag string
	uuidFlag  string
}

// mkfsTools is the Create-command dispatch table: the one piece of
// per-filesystem domain knowledge FilesystemData's otherwise-generic
// Create chain needs. Grounded on original_source/Filesystems/*Impl.cc's
// own mkfs-argv-building functions, one per filesystem kind, collapsed
// here into a single table since the per-kind branching there is
// entirely argv spelling, not behavior.
var mkfsTools = map[Kind]mkfsTool{
	KindFilesystemExt2:     {"mkfs.ext2", "-L", "-U"},
	KindFilesystemExt3:     {"mkfs.ext3", "-L", "-U"},
	KindFilesystemExt4:     {"mkfs.ext4", "-L", "-U"},
	KindFilesystemXfs:      {"mkfs.xfs", "-L", "-m uuid="},
	KindFilesystemSwap:     {"mkswap", "-L", "-U"},
	KindFilesystemFat:      {"mkfs.fat", "-n", ""},
	KindFilesystemExfat:    {"mkfs.exfat", "-n", ""},
	KindFilesystemNtfs:     {"mkfs.ntfs", "-L", "-U"},
	KindFilesystemReiserfs: {"mkfs.reiserfs", "-l", "-u"},
	KindFilesystemJfs:      {"mkfs.jfs", "-L", ""},
	KindFilesystemF2fs:     {"mkfs.f2fs", "-l", "-U"},
	KindFilesystemUdf:      {"mkfs.udf", "-l", ""},
	KindFilesystemIso9660:  {"mkisofs", "-V", ""},
	KindFilesystemNilfs2:   {"mkfs.nilfs2", "-L", "-U"},
	KindFilesystemBcachefs: {"mkfs.bcachefs", "-L", "-U"},
	// Nfs (a remote mount, nothing to format) and Tmpfs (purely
	// in-memory) have no mkfs step; their absence from this table makes
	// mkfsArgv return ok=false for them.
}

// mkfsArgv synthesizes the mkfs-family invocation for d, or ok=false for
// kinds with no format step (Nfs, Tmpfs).
func mkfsArgv(d *Device, extra []string) (argv []string, ok bool) {
	tool, ok := mkfsTools[d.Kind]
	if !ok {
		return nil, false
	}
	argv = []string{tool.program}
	if tool.labelFlag != "" && d.Label != "" {
		argv = append(argv, tool.labelFlag, d.Label)
	}
	if tool.uuidFlag != "" && d.UUID != "" {
		argv = append(argv, tool.uuidFlag, d.UUID)
	}
	argv = append(argv, extra...)
	argv = append(argv, d.Name)
	return argv, true
}

var _ Emitter = (*FilesystemData)(nil)

// AddCreateActions overrides basicEmitter so the Create action's Argv
// carries the actual mkfs invocation (the backing device is d.Name by
// the NewFilesystem convention above). No SetLabel/SetUuid actions
// follow the Create: the mkfs invocation already bakes in a label/UUID
// known at creation time, and those actions come only from a later
// Modify.
func (f *FilesystemData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	create := action.Action{Kind: action.Create, Sids: []sid.Sid{d.Sid()}, Device: d.Name}
	if argv, ok := mkfsArgv(d, f.MkfsExtraArgs); ok {
		create.Argv = argv
	}
	return []action.Ref{b.AddAction(create)}
}

// MountPointData backs KindMountPoint: the mount table entry for a
// filesystem, spec.md §4.C's most elaborate create/delete chain —
// Create maps to Mount(+AddToEtcFstab if persistent), possibly preceded
// by ActivateFilesystem for filesystems needing one (Md, LvmLv, Luks are
// activated by their own device's create action instead; MountPoint's
// ActivateFilesystem use is for filesystem kinds that need an explicit
// activation step distinct from device assembly, e.g. swapon).
type MountPointData struct {
	Persistent bool // true -> chain includes AddToEtcFstab/RemoveFromEtcFstab
	MountOptions string
	NeedsActivate bool // true for Swap (swapon/swapoff)
}

var _ Emitter = (*MountPointData)(nil)

func (m *MountPointData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	var refs []action.Ref
	var last action.Ref
	chain := func(a action.Action) {
		r := b.AddAction(a)
		if len(refs) > 0 {
			b.Chain(last, r)
		}
		last = r
		refs = append(refs, r)
	}
	if m.NeedsActivate {
		chain(action.Action{Kind: action.ActivateFilesystem, Sids: []sid.Sid{d.Sid()}, Device: d.Name})
	}
	chain(action.Action{Kind: action.Mount, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: m.MountOptions})
	if m.Persistent {
		chain(action.Action{Kind: action.AddToEtcFstab, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: m.MountOptions})
	}
	return refs
}

func (m *MountPointData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	prior, _ := lhs.Variant.(*MountPointData)
	var refs []action.Ref
	if prior == nil || m.MountOptions != prior.MountOptions {
		refs = append(refs, b.AddAction(action.Action{Kind: action.Mount, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: m.MountOptions}))
	}
	if prior != nil && m.Persistent != prior.Persistent {
		if m.Persistent {
			refs = append(refs, b.AddAction(action.Action{Kind: action.AddToEtcFstab, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: m.MountOptions}))
		} else {
			refs = append(refs, b.AddAction(action.Action{Kind: action.RemoveFromEtcFstab, Sids: []sid.Sid{d.Sid()}, Device: d.Name}))
		}
	}
	return refs
}

func (m *MountPointData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	var refs []action.Ref
	var last action.Ref
	chain := func(a action.Action) {
		r := b.AddAction(a)
		if len(refs) > 0 {
			b.Chain(last, r)
		}
		last = r
		refs = append(refs, r)
	}
	// RemoveFromEtcFstab must run before Unmount (spec.md §4.G dependency
	// table), and Unmount before any DeactivateFilesystem/Delete of the
	// underlying device.
	if m.Persistent {
		chain(action.Action{Kind: action.RemoveFromEtcFstab, Sids: []sid.Sid{d.Sid()}, Device: d.Name})
	}
	chain(action.Action{Kind: action.Unmount, Sids: []sid.Sid{d.Sid()}, Device: d.Name})
	if m.NeedsActivate {
		chain(action.Action{Kind: action.DeactivateFilesystem, Sids: []sid.Sid{d.Sid()}, Device: d.Name})
	}
	return refs
}

func NewMountPoint(gen *sid.Generator, g *Graph, fs *Device, path string, data MountPointData) (*Device, error) {
	d := newDevice(gen, KindMountPoint, path, &data)
	g.AddDevice(d)
	if _, err := AddUser(gen, g, fs.Sid(), d.Sid()); err != nil {
		return nil, err
	}
	return d, nil
}
