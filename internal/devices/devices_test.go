package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/sid"
)

func TestCopyDeviceIsIndependent(t *testing.T) {
	gen := sid.NewGenerator()
	g := NewGraph()

	fsBacking := NewDisk(gen, g, "/dev/sda", 10<<30, DiskData{})
	fs, err := NewFilesystem(gen, g, fsBacking, KindFilesystemBtrfs, "/dev/sda", FilesystemData{
		MkfsExtraArgs: []string{"--csum", "sha256"},
	})
	require.NoError(t, err)

	cp := CopyDevice(fs)
	require.NotSame(t, fs, cp)

	fsData, ok := fs.Variant.(*FilesystemData)
	require.True(t, ok)
	cpData, ok := cp.Variant.(*FilesystemData)
	require.True(t, ok)
	require.NotSame(t, fsData, cpData)

	cpData.MkfsExtraArgs[0] = "mutated"
	assert.Equal(t, "--csum", fsData.MkfsExtraArgs[0], "mutating the copy's slice must not affect the original")

	cp.Label = "changed"
	assert.Empty(t, fs.Label, "mutating the copy's scalar fields must not affect the original")
}

func TestCopyDeviceNilMkfsExtraArgs(t *testing.T) {
	gen := sid.NewGenerator()
	g := NewGraph()
	backing := NewDisk(gen, g, "/dev/sda", 10<<30, DiskData{})
	fs, err := NewFilesystem(gen, g, backing, KindFilesystemBtrfs, "/dev/sda", FilesystemData{})
	require.NoError(t, err)

	cp := CopyDevice(fs)
	cpData := cp.Variant.(*FilesystemData)
	assert.Nil(t, cpData.MkfsExtraArgs)
}

func TestCopyDeviceNilVariant(t *testing.T) {
	d := &Device{Kind: KindPartition, Name: "/dev/sda1"}
	cp := CopyDevice(d)
	require.NotSame(t, d, cp)
	assert.Nil(t, cp.Variant)
}

func TestEqualDetectsVariantDifference(t *testing.T) {
	gen := sid.NewGenerator()
	g := NewGraph()
	backing := NewDisk(gen, g, "/dev/sda", 10<<30, DiskData{})
	fs, err := NewFilesystem(gen, g, backing, KindFilesystemBtrfs, "/dev/sda", FilesystemData{
		MkfsExtraArgs: []string{"--csum", "sha256"},
	})
	require.NoError(t, err)

	cp := CopyDevice(fs)
	assert.True(t, fs.Equal(cp))

	cpData := cp.Variant.(*FilesystemData)
	cpData.MkfsExtraArgs[0] = "mutated"
	assert.False(t, fs.Equal(cp))
}
