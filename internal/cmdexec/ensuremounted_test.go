package cmdexec

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	calls [][]string
}

func (r *recordingExecutor) Run(ctx context.Context, argv ...string) (Result, error) {
	r.calls = append(r.calls, argv)
	return Result{Argv: argv}, nil
}

func TestEnsureMountedReusesExistingMountPoint(t *testing.T) {
	exec := &recordingExecutor{}
	em, err := NewEnsureMounted(context.Background(), exec, "/dev/sda1", "/mnt/existing")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/existing", em.MountPoint)
	assert.Empty(t, exec.calls, "reusing an existing mountpoint must not run mount(8)")

	require.NoError(t, em.Close(context.Background()))
	assert.Empty(t, exec.calls, "Close must not unmount a mountpoint this guard did not create")
}

func TestEnsureMountedMountsAndUnmountsOwnTempDir(t *testing.T) {
	exec := &recordingExecutor{}
	em, err := NewEnsureMounted(context.Background(), exec, "/dev/sda1", "")
	require.NoError(t, err)
	require.NotEmpty(t, em.MountPoint)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{"mount", "/dev/sda1", em.MountPoint}, exec.calls[0])
	_, statErr := os.Stat(em.MountPoint)
	require.NoError(t, statErr, "the temp mountpoint must exist while the guard is open")

	mp := em.MountPoint
	require.NoError(t, em.Close(context.Background()))
	require.Len(t, exec.calls, 2)
	assert.Equal(t, []string{"umount", mp}, exec.calls[1])
	_, statErr = os.Stat(mp)
	assert.True(t, os.IsNotExist(statErr), "Close must remove the temp mountpoint directory")

	require.NoError(t, em.Close(context.Background()))
	require.Len(t, exec.calls, 2, "Close must be idempotent")
}

type failingMountExecutor struct{}

func (failingMountExecutor) Run(ctx context.Context, argv ...string) (Result, error) {
	return Result{}, assert.AnError
}

func TestEnsureMountedCleansUpTempDirOnMountFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	_, err := NewEnsureMounted(context.Background(), failingMountExecutor{}, "/dev/sda1", "")
	assert.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed mount must remove the temp mountpoint it created")
}
