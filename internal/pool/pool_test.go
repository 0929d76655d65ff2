package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/containers"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/sid"
)

// diskWithTable builds a Disk + PartitionTable, with n existing
// partitions of partSize each laid out back-to-back starting at offset
// AlignmentUnits, leaving the rest of the disk free.
func diskWithTable(t *testing.T, gen *sid.Generator, g *devices.Graph, name string, diskSize uint64, existing int, partSize uint64) sid.Sid {
	t.Helper()
	disk := devices.NewDisk(gen, g, name, diskSize, devices.DiskData{})
	table, err := devices.NewPartitionTable(gen, g, disk, devices.KindPartitionTableGpt, name, devices.PartitionTableData{})
	require.NoError(t, err)

	start := uint64(AlignmentUnits)
	for i := 0; i < existing; i++ {
		_, err := devices.NewPartition(gen, g, table, name+string(rune('1'+i)), partSize,
			devices.Region{Start: start, Length: partSize}, devices.PartitionData{Number: i + 1})
		require.NoError(t, err)
		start += partSize
	}
	return disk.Sid()
}

func TestCreatePartitionsPrefersLeastUsed(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	a := diskWithTable(t, gen, g, "/dev/sda", 1<<30, 3, 1<<20) // busier
	b := diskWithTable(t, gen, g, "/dev/sdb", 1<<30, 0, 0)     // empty

	members := containers.NewSet[sid.Sid]()
	members.Insert(a)
	members.Insert(b)

	p := New(members)
	allocs, err := p.CreatePartitions(g, 1, 1<<20)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, b, allocs[0].Sid)
}

func TestCreatePartitionsSpreadsAcrossCandidates(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	a := diskWithTable(t, gen, g, "/dev/sda", 100_000, 0, 0)
	b := diskWithTable(t, gen, g, "/dev/sdb", 100_000, 0, 0)

	members := containers.NewSet[sid.Sid]()
	members.Insert(a)
	members.Insert(b)

	p := New(members)
	allocs, err := p.CreatePartitions(g, 2, 1000)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.NotEqual(t, allocs[0].Sid, allocs[1].Sid, "with two equally-empty candidates the two partitions should land on different disks")
}

func TestCreatePartitionsOutOfSpace(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	a := diskWithTable(t, gen, g, "/dev/sda", 10, 0, 0)

	members := containers.NewSet[sid.Sid]()
	members.Insert(a)

	p := New(members)
	_, err := p.CreatePartitions(g, 1, 1000)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestCreatePartitionsIgnoresNonPartitionableAndTablelessCandidates(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	good := diskWithTable(t, gen, g, "/dev/sda", 1<<20, 0, 0)
	bare := devices.NewDisk(gen, g, "/dev/sdb", 1<<20, devices.DiskData{}) // no partition table

	members := containers.NewSet[sid.Sid]()
	members.Insert(good)
	members.Insert(bare.Sid())

	p := New(members)
	allocs, err := p.CreatePartitions(g, 1, 1000)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, good, allocs[0].Sid)
}

func TestCreatePartitionsAlignmentWaste(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	a := diskWithTable(t, gen, g, "/dev/sda", 1<<20, 0, 0)

	members := containers.NewSet[sid.Sid]()
	members.Insert(a)

	p := New(members)
	allocs, err := p.CreatePartitions(g, 1, 5)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, uint64(0), allocs[0].Region.Start%AlignmentUnits)
}

func TestMaxPartitionSize(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	a := diskWithTable(t, gen, g, "/dev/sda", 10_000, 0, 0)

	members := containers.NewSet[sid.Sid]()
	members.Insert(a)

	p := New(members)
	size, err := p.MaxPartitionSize(g, 1)
	require.NoError(t, err)
	// A single free region spanning most of the disk: max size is the
	// whole remaining region (rounded down by alignment, negligible here).
	assert.InDelta(t, 10_000-AlignmentUnits, size, AlignmentUnits)
}

func TestMaxPartitionSizeSplitsOneRegionAcrossN(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	a := diskWithTable(t, gen, g, "/dev/sda", 20_000, 0, 0)

	members := containers.NewSet[sid.Sid]()
	members.Insert(a)

	p := New(members)
	size1, err := p.MaxPartitionSize(g, 1)
	require.NoError(t, err)
	size2, err := p.MaxPartitionSize(g, 2)
	require.NoError(t, err)
	assert.Greater(t, size1, size2, "splitting the same free region across more partitions should shrink the per-partition max")
}
