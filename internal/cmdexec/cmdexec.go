// Package cmdexec implements the Command Executor abstraction of
// spec.md §4 (External Interfaces): invoke an argv, capture
// line-buffered stdout/stderr, and return an exit code/error — plus a
// Mockup record/playback mode that lets tests substitute canned output
// for real command invocations, and lets `storagectl` record the
// commands it runs when LIBSTORAGE_MOCKUP_FILE is set.
//
// The real executor is built on github.com/datawire/dlib/dexec, the
// teacher's own process-execution wrapper; it tags each run's context
// with the "cmdexec.argv" log field, whose ordering and short name
// internal/textui/log.go defines.
package cmdexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
)

// Result is one command invocation's captured output.
type Result struct {
	Argv     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs an argv and returns its captured output, or an error if
// the command could not be started or exited non-zero.
type Executor interface {
	Run(ctx context.Context, argv ...string) (Result, error)
}

// Direct is the real Executor, invoking argv via dexec.CommandContext
// under a context carrying the "cmdexec.argv" log field; stdout/stderr
// are captured into the returned Result.
type Direct struct {
	// Rewrite rewrites a device/mount path before it is passed to argv[1:],
	// the target_mode path-prefix substitution of spec.md's Environment
	// (storageenv.Environment.Rewrite); nil means no rewriting (DIRECT mode).
	Rewrite func(path string) string
}

var _ Executor = Direct{}

func (e Direct) Run(ctx context.Context, argv ...string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("cmdexec: empty argv")
	}
	args := argv[1:]
	if e.Rewrite != nil {
		rewritten := make([]string, len(args))
		for i, a := range args {
			rewritten[i] = e.Rewrite(a)
		}
		args = rewritten
	}

	ctx = dlog.WithField(ctx, "cmdexec.argv", strings.Join(argv, " "))
	cmd := dexec.CommandContext(ctx, argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Argv:   argv,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		dlog.Errorf(ctx, "cmdexec: %v: %v", argv, err)
		return res, err
	}
	dlog.Debugf(ctx, "cmdexec: %v: ok", argv)
	return res, nil
}

// EnsureMounted is the scoped-mount guard spec.md §9 Design Notes and
// §4.I describe: several Btrfs operations (subvolume/qgroup probing,
// resize) need the filesystem mounted somewhere, but must not disturb
// an already-mounted filesystem's existing mountpoint. Grounded on
// original_source/Filesystems/BtrfsImpl.cc's
// `unique_ptr<EnsureMounted> ensure_mounted` + `get_any_mount_point()`
// idiom: if devName already has an active MountPoint the caller
// supplies, that path is reused and Close is a no-op; otherwise a fresh
// temporary directory is mounted for the guard's lifetime and unmounted
// (and removed) on Close.
type EnsureMounted struct {
	exec       Executor
	devName    string
	MountPoint string
	mountedByUs bool
}

// NewEnsureMounted acquires a mount for devName, scoped to the returned
// guard's lifetime. existingMountPoint, if non-empty (the device graph
// already has an active MountPoint for this filesystem), is reused
// as-is and nothing is mounted/unmounted by this guard.
func NewEnsureMounted(ctx context.Context, exec Executor, devName, existingMountPoint string) (*EnsureMounted, error) {
	if existingMountPoint != "" {
		return &EnsureMounted{exec: exec, devName: devName, MountPoint: existingMountPoint}, nil
	}

	dir, err := os.MkdirTemp("", "storagectl-mount-*")
	if err != nil {
		return nil, fmt.Errorf("cmdexec: EnsureMounted: creating temp mountpoint: %w", err)
	}
	if _, err := exec.Run(ctx, "mount", devName, dir); err != nil {
		os.Remove(dir)
		return nil, fmt.Errorf("cmdexec: EnsureMounted: mounting %s at %s: %w", devName, dir, err)
	}
	return &EnsureMounted{exec: exec, devName: devName, MountPoint: dir, mountedByUs: true}, nil
}

// Close unmounts and removes the temporary mountpoint, but only if this
// guard performed the mount itself; reusing an already-mounted
// filesystem's mountpoint leaves it exactly as found. Safe to call
// multiple times.
func (e *EnsureMounted) Close(ctx context.Context) error {
	if e == nil || !e.mountedByUs {
		return nil
	}
	_, err := e.exec.Run(ctx, "umount", e.MountPoint)
	os.RemoveAll(e.MountPoint)
	e.mountedByUs = false
	return err
}
