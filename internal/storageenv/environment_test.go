package storageenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOSEnvDefaults(t *testing.T) {
	e, err := FromOSEnv()
	require.NoError(t, err)
	assert.False(t, e.ReadOnly)
	assert.Equal(t, ProbeStandard, e.ProbeMode)
	assert.Equal(t, TargetDirect, e.TargetMode)
	assert.Equal(t, "/", e.Rootprefix)
	assert.Empty(t, e.MockupFilename)

	// spec.md §6's six LIBSTORAGE_* toggles and their documented defaults.
	assert.True(t, e.MultipleDevicesBtrfs)
	assert.True(t, e.BtrfsSnapshotRelations)
	assert.True(t, e.BtrfsQgroups)
	assert.False(t, e.DeveloperMode)
	assert.True(t, e.PreferFilesystemOverEmptyMsdos)
	assert.False(t, e.CryptsetupForBitlocker)
}

func TestFromOSEnvBtrfsTogglesOverride(t *testing.T) {
	t.Setenv("LIBSTORAGE_MULTIPLE_DEVICES_BTRFS", "false")
	t.Setenv("LIBSTORAGE_BTRFS_SNAPSHOT_RELATIONS", "false")
	t.Setenv("LIBSTORAGE_BTRFS_QGROUPS", "false")
	t.Setenv("LIBSTORAGE_DEVELOPER_MODE", "true")
	t.Setenv("LIBSTORAGE_PFSOEMS", "false")
	t.Setenv("LIBSTORAGE_CRYPTSETUP_FOR_BITLOCKER", "true")

	e, err := FromOSEnv()
	require.NoError(t, err)
	assert.False(t, e.MultipleDevicesBtrfs)
	assert.False(t, e.BtrfsSnapshotRelations)
	assert.False(t, e.BtrfsQgroups)
	assert.True(t, e.DeveloperMode)
	assert.False(t, e.PreferFilesystemOverEmptyMsdos)
	assert.True(t, e.CryptsetupForBitlocker)
}

func TestFromOSEnvOverrides(t *testing.T) {
	t.Setenv("LIBSTORAGE_READONLY", "true")
	t.Setenv("LIBSTORAGE_PROBE_MODE", "none")
	t.Setenv("LIBSTORAGE_TARGET_MODE", "chroot")
	t.Setenv("LIBSTORAGE_ROOTPREFIX", "/mnt/target")
	t.Setenv("LIBSTORAGE_MOCKUP_FILE", "/tmp/mockup.json")

	e, err := FromOSEnv()
	require.NoError(t, err)
	assert.True(t, e.ReadOnly)
	assert.Equal(t, ProbeNone, e.ProbeMode)
	assert.Equal(t, TargetChroot, e.TargetMode)
	assert.Equal(t, "/mnt/target", e.Rootprefix)
	assert.Equal(t, "/tmp/mockup.json", e.MockupFilename)
}

func TestFromOSEnvRejectsBadValues(t *testing.T) {
	t.Setenv("LIBSTORAGE_READONLY", "not-a-bool")
	_, err := FromOSEnv()
	assert.Error(t, err)

	t.Setenv("LIBSTORAGE_READONLY", "")
	t.Setenv("LIBSTORAGE_PROBE_MODE", "bogus")
	_, err = FromOSEnv()
	assert.Error(t, err)

	t.Setenv("LIBSTORAGE_PROBE_MODE", "")
	t.Setenv("LIBSTORAGE_TARGET_MODE", "bogus")
	_, err = FromOSEnv()
	assert.Error(t, err)
}

func TestRewriteUnderEachTargetMode(t *testing.T) {
	direct := &Environment{TargetMode: TargetDirect, Rootprefix: "/mnt/target"}
	assert.Equal(t, "/dev/sda1", direct.Rewrite("/dev/sda1"))

	chroot := &Environment{TargetMode: TargetChroot, Rootprefix: "/mnt/target"}
	assert.Equal(t, filepath.Join("/mnt/target", "/dev/sda1"), chroot.Rewrite("/dev/sda1"))

	image := &Environment{TargetMode: TargetImage, Rootprefix: "/mnt/image"}
	assert.Equal(t, filepath.Join("/mnt/image", "/etc/fstab"), image.Rewrite("/etc/fstab"))

	noPrefix := &Environment{TargetMode: TargetChroot, Rootprefix: "/"}
	assert.Equal(t, "/dev/sda1", noPrefix.Rewrite("/dev/sda1"), "Rootprefix of / is identity regardless of mode")
}

func TestLockAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	e := &Environment{DevicegraphFilename: filepath.Join(dir, "devicegraph.xml")}

	unlock, err := e.Lock()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "lock"))

	require.NoError(t, unlock())
	assert.NoFileExists(t, filepath.Join(dir, "lock"), "unlock must remove the lock file")
}

// An already-present lock file (e.g. left by another process) must make
// Lock fail via O_EXCL rather than silently succeed.
func TestLockRejectsPreexistingLockFile(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e := &Environment{DevicegraphFilename: filepath.Join(dir, "devicegraph.xml")}
	_, err = e.Lock()
	assert.Error(t, err)

	require.NoError(t, os.Remove(lockPath))
}
