package actiongraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/sid"
)

// buildDiskWithPartition builds a Disk + PartitionTable + Partition graph,
// used as both lhs and rhs in the tests below so sids line up.
func buildDiskWithPartition(gen *sid.Generator, g *devices.Graph) (*devices.Device, *devices.Device, *devices.Device) {
	disk := devices.NewDisk(gen, g, "/dev/sda", 1<<30, devices.DiskData{})
	table, err := devices.NewPartitionTable(gen, g, disk, devices.KindPartitionTableGpt, "/dev/sda", devices.PartitionTableData{})
	if err != nil {
		panic(err)
	}
	part, err := devices.NewPartition(gen, g, table, "/dev/sda1", 1<<20, devices.Region{Start: 2048, Length: 2048}, devices.PartitionData{})
	if err != nil {
		panic(err)
	}
	return disk, table, part
}

// Empty diff (spec.md §8): actiongraph(g, g) is empty.
func TestEmptyDiff(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	buildDiskWithPartition(gen, g)

	clone := g.Clone(devices.CopyDevice, devices.CopyHolder)

	ag, err := Diff(g, clone)
	require.NoError(t, err)
	assert.Empty(t, ag.Order)
	assert.Empty(t, ag.Actions)
}

// Action determinism (spec.md §8): actiongraph(lhs, rhs) produces the
// same ordered sequence on repeated runs with the same inputs.
func TestActionDeterminism(t *testing.T) {
	lhs := devices.NewGraph()

	// Rebuild rhs twice from scratch with a fresh generator each time (so
	// sids line up identically across runs) and diff each independently
	// against the same (empty) lhs.
	var orders [][]string
	for i := 0; i < 2; i++ {
		g := devices.NewGraph()
		buildDiskWithPartition(sid.NewGenerator(), g)

		ag, err := Diff(lhs, g)
		require.NoError(t, err)

		var texts []string
		for _, ref := range ag.Order {
			texts = append(texts, ag.Actions[ref].Device)
		}
		orders = append(orders, texts)
	}
	assert.Equal(t, orders[0], orders[1])
}

// Dependency soundness (spec.md §8): in the ordered plan, for every
// edge (a, b), position(a) < position(b). Create(partition) must follow
// Create(table) must follow Create(disk).
func TestDependencySoundness(t *testing.T) {
	gen := sid.NewGenerator()
	lhs := devices.NewGraph()
	rhs := devices.NewGraph()
	disk, table, part := buildDiskWithPartition(gen, rhs)
	_ = disk

	ag, err := Diff(lhs, rhs)
	require.NoError(t, err)

	// Keyed by sid, not Device name: a PartitionTable has no device node
	// distinct from the disk it sits on, so table.Name == disk.Name here
	// and a name-keyed map would alias the two positions together.
	pos := make(map[sid.Sid]int)
	for i, ref := range ag.Order {
		a := ag.Actions[ref]
		if a.Kind == action.Create {
			pos[a.Sid()] = i
		}
	}
	require.Contains(t, pos, disk.Sid())
	require.Contains(t, pos, table.Sid())
	require.Contains(t, pos, part.Sid())
	assert.Less(t, pos[disk.Sid()], pos[table.Sid()])
	assert.Less(t, pos[table.Sid()], pos[part.Sid()])
}

// Inverse property (spec.md §8): planning g -> g' and then planning
// g' -> g each produce a non-empty action set, and the reverse plan's
// Delete actions name exactly the devices the forward plan's Create
// actions introduced — applying both in sequence returns the system to
// its starting device set.
func TestDiffInverseRestoresDeviceSet(t *testing.T) {
	gen := sid.NewGenerator()
	base := devices.NewGraph()
	devices.NewDisk(gen, base, "/dev/sda", 1<<30, devices.DiskData{})

	grown := base.Clone(devices.CopyDevice, devices.CopyHolder)
	devices.NewDisk(gen, grown, "/dev/sdb", 1<<30, devices.DiskData{})

	forward, err := Diff(base, grown)
	require.NoError(t, err)
	require.NotEmpty(t, forward.Order)

	backward, err := Diff(grown, base)
	require.NoError(t, err)
	require.NotEmpty(t, backward.Order)

	createdNames := make(map[string]bool)
	for _, a := range forward.Actions {
		if a.Kind == action.Create {
			createdNames[a.Device] = true
		}
	}
	deletedNames := make(map[string]bool)
	for _, a := range backward.Actions {
		if a.Kind == action.Delete {
			deletedNames[a.Device] = true
		}
	}
	assert.Equal(t, createdNames, deletedNames, "the reverse plan must delete exactly what the forward plan created")
}

// Resize ordering (spec.md §4.G): shrinking a filesystem and the
// partition it sits on must shrink the filesystem first; growing the
// same pair must grow the partition first.
func TestResizeOrderingShrinkFsBeforePartition(t *testing.T) {
	gen := sid.NewGenerator()
	lhs := devices.NewGraph()
	disk := devices.NewDisk(gen, lhs, "/dev/sda", 1<<30, devices.DiskData{})
	table, err := devices.NewPartitionTable(gen, lhs, disk, devices.KindPartitionTableGpt, "/dev/sda", devices.PartitionTableData{})
	require.NoError(t, err)
	part, err := devices.NewPartition(gen, lhs, table, "/dev/sda1", 1<<20, devices.Region{Start: 2048, Length: 2048}, devices.PartitionData{})
	require.NoError(t, err)
	fs, err := devices.NewFilesystem(gen, lhs, part, devices.KindFilesystemExt4, "/dev/sda1", devices.FilesystemData{})
	require.NoError(t, err)

	rhs := lhs.Clone(devices.CopyDevice, devices.CopyHolder)
	shrunkPart, err := rhs.Device(part.Sid())
	require.NoError(t, err)
	shrunkPart.Size /= 2
	shrunkFs, err := rhs.Device(fs.Sid())
	require.NoError(t, err)
	shrunkFs.Size /= 2

	ag, err := Diff(lhs, rhs)
	require.NoError(t, err)

	var fsPos, partPos int = -1, -1
	for i, ref := range ag.Order {
		a := ag.Actions[ref]
		if a.Kind != action.ResizeShrink {
			continue
		}
		switch a.Sid() {
		case fs.Sid():
			fsPos = i
		case part.Sid():
			partPos = i
		}
	}
	require.GreaterOrEqual(t, fsPos, 0)
	require.GreaterOrEqual(t, partPos, 0)
	assert.Less(t, fsPos, partPos, "filesystem must finish shrinking before its backing partition shrinks")
}

func TestResizeOrderingGrowPartitionBeforeFs(t *testing.T) {
	gen := sid.NewGenerator()
	lhs := devices.NewGraph()
	disk := devices.NewDisk(gen, lhs, "/dev/sda", 1<<30, devices.DiskData{})
	table, err := devices.NewPartitionTable(gen, lhs, disk, devices.KindPartitionTableGpt, "/dev/sda", devices.PartitionTableData{})
	require.NoError(t, err)
	part, err := devices.NewPartition(gen, lhs, table, "/dev/sda1", 1<<20, devices.Region{Start: 2048, Length: 2048}, devices.PartitionData{})
	require.NoError(t, err)
	fs, err := devices.NewFilesystem(gen, lhs, part, devices.KindFilesystemExt4, "/dev/sda1", devices.FilesystemData{})
	require.NoError(t, err)

	rhs := lhs.Clone(devices.CopyDevice, devices.CopyHolder)
	grownPart, err := rhs.Device(part.Sid())
	require.NoError(t, err)
	grownPart.Size *= 2
	grownFs, err := rhs.Device(fs.Sid())
	require.NoError(t, err)
	grownFs.Size *= 2

	ag, err := Diff(lhs, rhs)
	require.NoError(t, err)

	var fsPos, partPos int = -1, -1
	for i, ref := range ag.Order {
		a := ag.Actions[ref]
		if a.Kind != action.ResizeGrow {
			continue
		}
		switch a.Sid() {
		case fs.Sid():
			fsPos = i
		case part.Sid():
			partPos = i
		}
	}
	require.GreaterOrEqual(t, fsPos, 0)
	require.GreaterOrEqual(t, partPos, 0)
	assert.Less(t, partPos, fsPos, "the backing partition must finish growing before the filesystem grows into the new space")
}
