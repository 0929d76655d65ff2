package btrfscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/sid"
)

func buildBtrfs(t *testing.T, members int) (*devices.Graph, *devices.Device) {
	t.Helper()
	gen := sid.NewGenerator()
	g := devices.NewGraph()

	var backing []*devices.Device
	for i := 0; i < members; i++ {
		backing = append(backing, devices.NewDisk(gen, g, "/dev/sd"+string(rune('a'+i)), 16<<30, devices.DiskData{}))
	}

	fs, err := devices.NewFilesystem(gen, g, backing[0], devices.KindFilesystemBtrfs, "/dev/sda", devices.FilesystemData{})
	require.NoError(t, err)

	for i, dev := range backing {
		_, err := devices.AddFilesystemUser(gen, g, dev.Sid(), fs.Sid(), uint64(i+1), false)
		require.NoError(t, err)
	}
	return g, fs
}

func TestCheckShrinkRejectsMultiDevice(t *testing.T) {
	g, fs := buildBtrfs(t, 2)
	err := CheckShrink(g, fs, 1<<30)
	assert.ErrorIs(t, err, ErrShrinkUnsupported)
}

func TestCheckShrinkAllowsSingleDevice(t *testing.T) {
	g, fs := buildBtrfs(t, 1)
	err := CheckShrink(g, fs, fs.Kind.MinSize()+1<<20)
	assert.NoError(t, err)
}

func TestShrinkSafetyMargin(t *testing.T) {
	assert.Equal(t, uint64(150), ShrinkSafetyMargin(100))
}

func TestMkfsArgvListsMembers(t *testing.T) {
	g, fs := buildBtrfs(t, 2)
	argv := MkfsArgv(g, fs)
	assert.Contains(t, argv, "/dev/sda")
	assert.Contains(t, argv, "/dev/sdb")
}

func TestQgroupAddress(t *testing.T) {
	assert.Equal(t, "0/257", QgroupAddress(0, 257))
}
