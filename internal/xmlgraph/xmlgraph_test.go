package xmlgraph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/devicegraph"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/sid"
)

// rebuild turns Load's flat records back into a *devices.Graph the way
// every real caller (cmd/storagectl's loadGraph) does, so tests exercise
// the same path production code takes instead of spot-checking records.
func rebuild(t *testing.T, devRecs []DeviceRecord, holdRecs []HolderRecord) *devices.Graph {
	t.Helper()
	g := devices.NewGraph()
	for _, d := range devRecs {
		g.AddDevice(devices.Reconstruct(d.Sid, d.Kind, d.Name, d.Size, d.Region, d.UUID, d.Label, d.Props))
	}
	for _, h := range holdRecs {
		hold := devices.ReconstructHolder(h.Sid, h.Kind, h.Source, h.Target, h.Devid, h.Journal, h.MdSpare)
		require.NoError(t, g.AddHolder(hold))
	}
	return g
}

// Save/load round-trip (spec.md §8 "load(save(g)) == g"): saving g and
// loading it back, including each device's Variant, produces a
// structurally identical graph (devicegraph.Equal), and the generator
// used to load never reissues a sid it just observed.
func TestSaveLoadRoundTrip(t *testing.T) {
	gen := sid.NewGenerator()
	g := devices.NewGraph()

	disk := devices.NewDisk(gen, g, "/dev/sda", 10<<30, devices.DiskData{Transport: "sata", Rotational: true})
	table, err := devices.NewPartitionTable(gen, g, disk, devices.KindPartitionTableGpt, "/dev/sda", devices.PartitionTableData{MaxPrimary: 4})
	require.NoError(t, err)
	part, err := devices.NewPartition(gen, g, table, "/dev/sda1", 1<<30, devices.Region{Start: 1 << 20, Length: 1 << 30}, devices.PartitionData{PartitionType: "primary", Number: 1})
	require.NoError(t, err)
	part.Label = "boot"
	part.UUID = "11111111-1111-1111-1111-111111111111"

	fs, err := devices.NewFilesystem(gen, g, part, devices.KindFilesystemExt4, "/dev/sda1", devices.FilesystemData{MkfsExtraArgs: []string{"-O", "metadata_csum"}})
	require.NoError(t, err)
	fs.Label = "boot-fs"

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, g))

	loadGen := sid.NewGenerator()
	devRecs, holdRecs, err := Load(&buf, loadGen)
	require.NoError(t, err)
	require.Len(t, devRecs, 4)
	require.NotEmpty(t, holdRecs)

	loaded := rebuild(t, devRecs, holdRecs)
	assert.True(t, devicegraph.Equal(g, loaded), "load(save(g)) must be structurally equal to g, including Variant payloads")

	loadedPart, err := loaded.Device(part.Sid())
	require.NoError(t, err)
	require.NotNil(t, loadedPart.Variant, "a loaded device must carry a real Variant, not nil, to be usable by the Action Graph Builder")
	pd, ok := loadedPart.Variant.(*devices.PartitionData)
	require.True(t, ok)
	assert.Equal(t, "primary", pd.PartitionType)
	assert.Equal(t, 1, pd.Number)

	loadedFs, err := loaded.Device(fs.Sid())
	require.NoError(t, err)
	fd, ok := loadedFs.Variant.(*devices.FilesystemData)
	require.True(t, ok)
	assert.Equal(t, []string{"-O", "metadata_csum"}, fd.MkfsExtraArgs)

	// The loading generator must have observed every sid in the
	// document, so its next allocation cannot collide with any of them.
	next := loadGen.Next()
	for _, d := range devRecs {
		assert.NotEqual(t, d.Sid, next)
	}
}

func TestLoadEmptyDocument(t *testing.T) {
	g := devices.NewGraph()

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, g))

	loadGen := sid.NewGenerator()
	devRecs, holdRecs, err := Load(&buf, loadGen)
	require.NoError(t, err)
	assert.Empty(t, devRecs)
	assert.Empty(t, holdRecs)
}
