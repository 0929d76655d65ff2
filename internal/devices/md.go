package devices

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// MdData backs KindMd: a Linux software-RAID array assembled from member
// block devices recorded as MdUser holders.
type MdData struct {
	Level           string // "raid0", "raid1", "raid5", "raid6", "raid10"
	MetadataVersion string // "1.2", "imsm", ...
}

var _ Emitter = (*MdData)(nil)

// mdMembers returns the non-spare MdUser source device names, in sid
// order, for the `mdadm --create ... <members>` argv; spares are passed
// separately via --spare-devices (original_source's mdadm wrapper keeps
// the two lists distinct so a spare never counts against --raid-devices).
func mdMembers(g *Graph, d *Device) (active, spare []string) {
	if g == nil {
		return nil, nil
	}
	for _, h := range g.HoldersIn(d.Sid(), graph.ViewAll) {
		if h.Kind() != graph.HolderMdUser {
			continue
		}
		src, err := g.Device(h.Source())
		if err != nil {
			continue
		}
		if h.MdSpare {
			spare = append(spare, src.Name)
		} else {
			active = append(active, src.Name)
		}
	}
	return active, spare
}

func (m *MdData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	active, spare := mdMembers(g, d)
	argv := []string{"mdadm", "--create", d.Name, "--run"}
	if m.Level != "" {
		argv = append(argv, "--level="+m.Level)
	}
	if m.MetadataVersion != "" {
		argv = append(argv, "--metadata="+m.MetadataVersion)
	}
	argv = append(argv, fmt.Sprintf("--raid-devices=%d", len(active)))
	if len(spare) > 0 {
		argv = append(argv, fmt.Sprintf("--spare-devices=%d", len(spare)))
	}
	argv = append(argv, active...)
	argv = append(argv, spare...)
	refs := []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   argv,
	})}
	return appendLabelUUIDChain(b, d, refs)
}

func (m *MdData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	return defaultModifyActions(b, d, lhs)
}

func (m *MdData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Delete,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   []string{"mdadm", "--stop", d.Name},
	})}
}

func NewMd(gen *sid.Generator, g *Graph, name string, sizeBytes uint64, data MdData) *Device {
	d := newDevice(gen, KindMd, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// MdContainerData backs KindMdContainer: an IMSM/DDF metadata container
// holding one or more member Md arrays.
type MdContainerData struct {
	basicEmitter
	MetadataVersion string
}

func NewMdContainer(gen *sid.Generator, g *Graph, name string, data MdContainerData) *Device {
	d := newDevice(gen, KindMdContainer, name, &data)
	g.AddDevice(d)
	return d
}
