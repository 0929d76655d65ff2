package devices

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// PartitionTableData backs the PartitionTable(Msdos/Gpt/Dasd/ImplicitPt)
// kinds: the partitioning scheme written to a Partitionable device.
type PartitionTableData struct {
	basicEmitter
	MaxPrimary int // 0 means unconstrained (Gpt); 4 for Msdos
}

// NewPartitionTable adds a PartitionTable device sitting on parent (a
// Disk/Md/Multipath/... satisfying Kind.IsPartitionable).
func NewPartitionTable(gen *sid.Generator, g *Graph, parent *Device, k Kind, name string, data PartitionTableData) (*Device, error) {
	d := newDevice(gen, k, name, &data)
	g.AddDevice(d)
	if _, err := AddUser(gen, g, parent.Sid(), d.Sid()); err != nil {
		return nil, err
	}
	return d, nil
}

// PartitionData backs KindPartition: a contiguous region of a
// PartitionTable, itself Partitionable in the ImplicitPt/nested case.
type PartitionData struct {
	PartitionType string // "primary", "extended", "logical", "" for Gpt
	Number        int
}

var _ Emitter = (*PartitionData)(nil)

// tableDeviceName looks up d's PartitionTable parent (the Subdevice
// source) and returns the underlying disk/partitionable node name parted
// targets, e.g. "/dev/sda" for a PartitionTable sitting on Disk /dev/sda.
func tableDeviceName(g *Graph, d *Device) string {
	if g == nil {
		return ""
	}
	for _, parent := range g.Parents(d.Sid(), graph.ViewClassic) {
		if parent.Kind.IsPartitionTable() {
			// The table itself has no backing device name of its own; its
			// parent (a User holder) is the disk parted targets.
			for _, tableParent := range g.Parents(parent.Sid(), graph.ViewClassic) {
				return tableParent.Name
			}
		}
	}
	return ""
}

// mkpartArgv synthesizes `parted <disk> mkpart <type> <start>B <end>B`.
func mkpartArgv(g *Graph, d *Device, p *PartitionData) []string {
	disk := tableDeviceName(g, d)
	if disk == "" {
		return nil
	}
	argv := []string{"parted", "-s", disk, "mkpart"}
	if p.PartitionType != "" {
		argv = append(argv, p.PartitionType)
	}
	argv = append(argv,
		fmt.Sprintf("%dB", d.Region.Start),
		fmt.Sprintf("%dB", d.Region.End()),
	)
	return argv
}

func (p *PartitionData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	refs := []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   mkpartArgv(g, d, p),
	})}
	return appendLabelUUIDChain(b, d, refs)
}

func (p *PartitionData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	// The Action Graph Builder orders this partition's resize relative to
	// the filesystem directly on top of it (fs-shrink before
	// partition-shrink, partition-grow before fs-grow, spec.md §4.G); this
	// emitter only needs to emit the primitive action itself.
	return defaultModifyActions(b, d, lhs)
}

func (p *PartitionData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	var argv []string
	if disk := tableDeviceName(g, d); disk != "" {
		argv = []string{"parted", "-s", disk, "rm", fmt.Sprint(p.Number)}
	}
	return []action.Ref{b.AddAction(action.Action{
		Kind:   action.Delete,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   argv,
	})}
}

// NewPartition adds a Partition device as a Subdevice child of table.
func NewPartition(gen *sid.Generator, g *Graph, table *Device, name string, sizeBytes uint64, region Region, data PartitionData) (*Device, error) {
	d := newDevice(gen, KindPartition, name, &data)
	d.Size = sizeBytes
	d.Region = region
	g.AddDevice(d)
	if _, err := AddSubdevice(gen, g, table.Sid(), d.Sid()); err != nil {
		return nil, err
	}
	return d, nil
}
