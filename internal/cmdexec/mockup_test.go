package cmdexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	result Result
	err    error
	calls  int
}

func (f *fakeExecutor) Run(ctx context.Context, argv ...string) (Result, error) {
	f.calls++
	return f.result, f.err
}

func TestMockupRecordThenPlayback(t *testing.T) {
	real := &fakeExecutor{result: Result{Stdout: "hello\n"}}
	rec := NewMockup(MockupRecord, real)

	res, err := rec.Run(context.Background(), "lsblk", "-b")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 1, real.calls)

	data, err := rec.SaveFile()
	require.NoError(t, err)

	playback, err := LoadMockupFile(data)
	require.NoError(t, err)

	res2, err := playback.Run(context.Background(), "lsblk", "-b")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res2.Stdout)
	assert.Empty(t, playback.UnusedEntries())
}

func TestMockupPlaybackMissingEntry(t *testing.T) {
	m := NewMockup(MockupPlayback, nil)
	_, err := m.Run(context.Background(), "pvs")
	assert.Error(t, err)
}

func TestMockupUnusedEntries(t *testing.T) {
	real := &fakeExecutor{result: Result{Stdout: "ok"}}
	rec := NewMockup(MockupRecord, real)
	_, err := rec.Run(context.Background(), "lsblk")
	require.NoError(t, err)
	_, err = rec.Run(context.Background(), "udevadm", "info")
	require.NoError(t, err)

	data, err := rec.SaveFile()
	require.NoError(t, err)
	playback, err := LoadMockupFile(data)
	require.NoError(t, err)

	_, err = playback.Run(context.Background(), "lsblk")
	require.NoError(t, err)

	unused := playback.UnusedEntries()
	require.Len(t, unused, 1)
}

func TestMockupNoneDelegatesDirectly(t *testing.T) {
	real := &fakeExecutor{result: Result{Stdout: "passthrough"}}
	m := NewMockup(MockupNone, real)
	res, err := m.Run(context.Background(), "true")
	require.NoError(t, err)
	assert.Equal(t, "passthrough", res.Stdout)
	assert.Equal(t, 1, real.calls)
}
