package devices

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// LvmPvData backs KindLvmPv: a physical volume, the User of a single
// block device and (once Reallot'd in) a Subdevice of an LvmVg.
type LvmPvData struct{}

var _ Emitter = (*LvmPvData)(nil)

func (p *LvmPvData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   []string{"pvcreate", d.Name},
	})}
}

func (p *LvmPvData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	return defaultModifyActions(b, d, lhs)
}

func (p *LvmPvData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Delete,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   []string{"pvremove", d.Name},
	})}
}

func NewLvmPv(gen *sid.Generator, g *Graph, name string, sizeBytes uint64) *Device {
	d := newDevice(gen, KindLvmPv, name, &LvmPvData{})
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// LvmVgData backs KindLvmVg: a volume group. Its Create runs
// `vgcreate <name> <pv>...` with the LvmPv Subdevice children it already
// has; AddReallotExtend/AddReallotReduce build the actions that add or
// remove a single PV afterwards.
type LvmVgData struct {
	ExtentSize uint64 // bytes, spec.md Pool allocation granularity
}

var _ Emitter = (*LvmVgData)(nil)

// vgMembers returns the names of the LvmPv devices a Vg is built on
// (Subdevice children, the edge AddReallotExtend expects in place), for the
// `vgcreate <name> <pv>...` argv.
func vgMembers(g *Graph, d *Device) []string {
	if g == nil {
		return nil
	}
	var members []string
	for _, child := range g.Children(d.Sid(), graph.ViewClassic) {
		if child.Kind == KindLvmPv {
			members = append(members, child.Name)
		}
	}
	return members
}

func (v *LvmVgData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	argv := append([]string{"vgcreate", d.Name}, vgMembers(g, d)...)
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   argv,
	})}
}

func (v *LvmVgData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	return defaultModifyActions(b, d, lhs)
}

func (v *LvmVgData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Delete,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   []string{"vgremove", "-f", d.Name},
	})}
}

// AddReallotExtend emits the action that attaches pv (already a
// Subdevice of vg in the target graph) to the live Vg.
func AddReallotExtend(b ChainBuilder, vg, pv *Device) action.Ref {
	return b.AddAction(action.Action{
		Kind:   action.ReallotExtend,
		Sids:   []sid.Sid{vg.Sid(), pv.Sid()},
		Device: vg.Name,
		Attr:   pv.Name,
	})
}

// AddReallotReduce emits the action that detaches pv from vg.
func AddReallotReduce(b ChainBuilder, vg, pv *Device) action.Ref {
	return b.AddAction(action.Action{
		Kind:   action.ReallotReduce,
		Sids:   []sid.Sid{vg.Sid(), pv.Sid()},
		Device: vg.Name,
		Attr:   pv.Name,
	})
}

func NewLvmVg(gen *sid.Generator, g *Graph, name string, data LvmVgData) *Device {
	d := newDevice(gen, KindLvmVg, name, &data)
	g.AddDevice(d)
	return d
}

// LvmLvData backs KindLvmLv: a logical volume, a Subdevice of its Vg,
// allocated from the pool of free extents (component J).
type LvmLvData struct {
	LvType  string // "linear", "thin", "thin-pool", "raid1", ...
	Stripes int
}

var _ Emitter = (*LvmLvData)(nil)

func (l *LvmLvData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	argv := []string{"lvcreate", "-L", fmt.Sprintf("%dB", d.Size), "-n", d.Name}
	if l.Stripes > 1 {
		argv = append(argv, "-i", fmt.Sprint(l.Stripes))
	}
	if g != nil {
		for _, parent := range g.Parents(d.Sid(), graph.ViewClassic) {
			if parent.Kind == KindLvmVg {
				argv = append(argv, parent.Name)
				break
			}
		}
	}
	refs := []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   argv,
	})}
	return appendLabelUUIDChain(b, d, refs)
}

func (l *LvmLvData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	return defaultModifyActions(b, d, lhs)
}

func (l *LvmLvData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Delete,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   []string{"lvremove", "-f", d.Name},
	})}
}

func NewLvmLv(gen *sid.Generator, g *Graph, vg *Device, name string, sizeBytes uint64, data LvmLvData) (*Device, error) {
	d := newDevice(gen, KindLvmLv, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	if _, err := AddSubdevice(gen, g, vg.Sid(), d.Sid()); err != nil {
		return nil, err
	}
	return d, nil
}
