package devices

import (
	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/sid"
)

// basicEmitter implements Emitter with the default chain spec.md §4.G
// describes for most device kinds: Create, optionally followed by
// SetLabel/SetUuid if the kind supports them and a value is set; Delete
// is the mirror single action, with no external-tool Argv populated.
// Variants whose Create/Delete maps to a real command invocation (Btrfs,
// MountPoint, Partition, Lvm{Pv,Vg,Lv}, Md, Luks) or a richer chain
// implement Emitter directly instead of embedding this; kinds that are
// discovered rather than provisioned by this engine (Disk, Multipath,
// DmRaid, Bcache, BitlockerV2, PartitionTable, MdContainer,
// BtrfsSubvolume, BtrfsQgroup) embed this and never override it.
type basicEmitter struct{}

func (basicEmitter) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	refs := []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
	})}
	return appendLabelUUIDChain(b, d, refs)
}

func (basicEmitter) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	return defaultModifyActions(b, d, lhs)
}

func (basicEmitter) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Delete,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
	})}
}

// appendLabelUUIDChain adds SetLabel/SetUuid actions after create, each
// chained after the previous action, when the kind supports the
// attribute and the device graph carries a non-empty value for it.
func appendLabelUUIDChain(b ChainBuilder, d *Device, refs []action.Ref) []action.Ref {
	last := refs[len(refs)-1]
	if d.Kind.SupportsLabel() && d.Label != "" {
		r := b.AddAction(action.Action{Kind: action.SetLabel, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: d.Label})
		b.Chain(last, r)
		last = r
		refs = append(refs, r)
	}
	if d.Kind.SupportsUUID() && d.UUID != "" {
		r := b.AddAction(action.Action{Kind: action.SetUUID, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: d.UUID})
		b.Chain(last, r)
		refs = append(refs, r)
	}
	return refs
}

// defaultModifyActions emits one Modify action per changed attribute
// class, per spec.md §4.G step 1 ("in both, unequal -> emit modify
// chain(s), one per changed attribute class").
func defaultModifyActions(b ChainBuilder, d, lhs *Device) []action.Ref {
	var refs []action.Ref
	if d.Label != lhs.Label && d.Kind.SupportsLabel() {
		refs = append(refs, b.AddAction(action.Action{Kind: action.SetLabel, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: d.Label}))
	}
	if d.UUID != lhs.UUID && d.Kind.SupportsUUID() {
		refs = append(refs, b.AddAction(action.Action{Kind: action.SetUUID, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Attr: d.UUID}))
	}
	if d.Size != lhs.Size {
		kind := action.ResizeGrow
		if d.Size < lhs.Size {
			kind = action.ResizeShrink
		}
		refs = append(refs, b.AddAction(action.Action{Kind: kind, Sids: []sid.Sid{d.Sid()}, Device: d.Name}))
	}
	return refs
}
