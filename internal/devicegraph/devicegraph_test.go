package devicegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/sid"
)

func buildSimpleGraph(t *testing.T) (*devices.Graph, *sid.Generator) {
	t.Helper()
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	disk := devices.NewDisk(gen, g, "/dev/sda", 1<<30, devices.DiskData{Transport: "sata"})
	table, err := devices.NewPartitionTable(gen, g, disk, devices.KindPartitionTableGpt, "/dev/sda", devices.PartitionTableData{})
	require.NoError(t, err)
	_, err = devices.NewPartition(gen, g, table, "/dev/sda1", 1<<20, devices.Region{Start: 2048, Length: 2048}, devices.PartitionData{})
	require.NoError(t, err)
	return g, gen
}

// Clone idempotence (spec.md §8): clone(g) == g by structural equality,
// and sids match pointwise.
func TestCloneIdempotence(t *testing.T) {
	g, _ := buildSimpleGraph(t)
	clone := g.Clone(devices.CopyDevice, devices.CopyHolder)
	assert.True(t, Equal(g, clone))

	for _, d := range g.Devices() {
		cd, err := clone.Device(d.Sid())
		require.NoError(t, err)
		assert.Equal(t, d.Sid(), cd.Sid())
	}
}

// Cloned devices/holders are independent copies: mutating the clone must
// not be observed through the original.
func TestCloneIsIndependent(t *testing.T) {
	g, _ := buildSimpleGraph(t)
	clone := g.Clone(devices.CopyDevice, devices.CopyHolder)

	cd := clone.Devices()[0]
	cd.Label = "mutated"

	orig, err := g.Device(cd.Sid())
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", orig.Label)
}

func TestComputeUsedFeaturesLvm(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()
	disk := devices.NewDisk(gen, g, "/dev/sdb", 1<<30, devices.DiskData{})
	pv := devices.NewLvmPv(gen, g, "/dev/sdb", disk.Size)
	_, err := devices.AddUser(gen, g, disk.Sid(), pv.Sid())
	require.NoError(t, err)
	vg := devices.NewLvmVg(gen, g, "vg0", devices.LvmVgData{ExtentSize: 4 << 20})
	_, err = devices.AddSubdevice(gen, g, pv.Sid(), vg.Sid())
	require.NoError(t, err)

	uf := ComputeUsedFeatures(g)
	assert.NotZero(t, uf&UfLvm)
}

func TestEqualDetectsDifference(t *testing.T) {
	a, _ := buildSimpleGraph(t)
	b := a.Clone(devices.CopyDevice, devices.CopyHolder)
	assert.True(t, Equal(a, b))

	bd := b.Devices()[0]
	bd.Label = "changed"
	b.AddDevice(bd)
	assert.False(t, Equal(a, b))
}
