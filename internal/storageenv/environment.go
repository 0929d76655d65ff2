// Package storageenv implements the Environment/config layer of
// spec.md's ambient stack: the LIBSTORAGE_* environment-variable
// booleans, the target-mode path-prefix rewrite grounded on
// EnvironmentImpl.cc's chroot/image handling, and the advisory
// process-lifetime lock guarding a single writer per system (spec.md
// §5 Concurrency & Resource Model).
//
// Grounded on the teacher's cmd/btrfs-rec root command's flag/env
// wiring (cmd/btrfs-rec/main.go) for the LogLevelFlag/pflag pattern, and
// on StorageImpl.cc/EnvironmentImpl.cc in original_source/ for the
// config shape itself (read_only, probe_mode, target_mode, rootprefix,
// *_filename, the advisory lock).
package storageenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ProbeMode selects how the Prober (component D) discovers the system:
// spec.md §4.D's STANDARD probing (run lsblk/udevadm/etc for real) vs
// NONE (skip probing entirely, e.g. when only replaying a Mockup).
type ProbeMode int

const (
	ProbeStandard ProbeMode = iota
	ProbeNone
)

// TargetMode selects where commands actually act, mirroring
// EnvironmentImpl.cc: DIRECT acts on the running system, CHROOT/IMAGE
// rewrite every device/mount path under Rootprefix before the Command
// Executor invokes anything.
type TargetMode int

const (
	TargetDirect TargetMode = iota
	TargetChroot
	TargetImage
)

// Environment is storagectl's top-level configuration, assembled from
// LIBSTORAGE_* environment variables (spec.md's distilled config
// surface) with explicit field-by-field overrides for tests and CLI
// flags.
type Environment struct {
	ReadOnly  bool
	ProbeMode ProbeMode
	TargetMode TargetMode
	Rootprefix string

	DevicegraphFilename string
	ArchFilename        string
	MockupFilename      string

	// The six LIBSTORAGE_* toggles spec.md §6 names verbatim (not a
	// SPEC_FULL addition): each gates a specific Prober/btrfscore
	// behavior rather than the Environment's own shape.
	MultipleDevicesBtrfs      bool // LIBSTORAGE_MULTIPLE_DEVICES_BTRFS, default true
	BtrfsSnapshotRelations    bool // LIBSTORAGE_BTRFS_SNAPSHOT_RELATIONS, default true
	BtrfsQgroups              bool // LIBSTORAGE_BTRFS_QGROUPS, default true
	DeveloperMode             bool // LIBSTORAGE_DEVELOPER_MODE, default false
	PreferFilesystemOverEmptyMsdos bool // LIBSTORAGE_PFSOEMS, default true
	CryptsetupForBitlocker    bool // LIBSTORAGE_CRYPTSETUP_FOR_BITLOCKER, default false
}

// FromOSEnv populates an Environment from the process's environment,
// following the original's `LIBSTORAGE_*` naming, parsed with
// strconv.ParseBool the way the teacher's own flag defaults fall back
// to os.Getenv (cmd/btrfs-rec/main.go's editor/pager env lookups).
func FromOSEnv() (*Environment, error) {
	e := &Environment{
		Rootprefix:          "/",
		DevicegraphFilename: "/run/storagectl/devicegraph.xml",
		ArchFilename:        "/run/storagectl/arch.xml",
		MockupFilename:      "",

		MultipleDevicesBtrfs:           true,
		BtrfsSnapshotRelations:         true,
		BtrfsQgroups:                   true,
		DeveloperMode:                  false,
		PreferFilesystemOverEmptyMsdos: true,
		CryptsetupForBitlocker:         false,
	}

	if v, ok := os.LookupEnv("LIBSTORAGE_READONLY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("storageenv: LIBSTORAGE_READONLY: %w", err)
		}
		e.ReadOnly = b
	}

	if v, ok := os.LookupEnv("LIBSTORAGE_PROBE_MODE"); ok {
		switch strings.ToUpper(v) {
		case "STANDARD", "":
			e.ProbeMode = ProbeStandard
		case "NONE":
			e.ProbeMode = ProbeNone
		default:
			return nil, fmt.Errorf("storageenv: LIBSTORAGE_PROBE_MODE: unknown mode %q", v)
		}
	}

	if v, ok := os.LookupEnv("LIBSTORAGE_TARGET_MODE"); ok {
		switch strings.ToUpper(v) {
		case "DIRECT", "":
			e.TargetMode = TargetDirect
		case "CHROOT":
			e.TargetMode = TargetChroot
		case "IMAGE":
			e.TargetMode = TargetImage
		default:
			return nil, fmt.Errorf("storageenv: LIBSTORAGE_TARGET_MODE: unknown mode %q", v)
		}
	}

	if v, ok := os.LookupEnv("LIBSTORAGE_ROOTPREFIX"); ok && v != "" {
		e.Rootprefix = v
	}
	if v, ok := os.LookupEnv("LIBSTORAGE_DEVICEGRAPH_FILE"); ok && v != "" {
		e.DevicegraphFilename = v
	}
	if v, ok := os.LookupEnv("LIBSTORAGE_ARCH_FILE"); ok && v != "" {
		e.ArchFilename = v
	}
	if v, ok := os.LookupEnv("LIBSTORAGE_MOCKUP_FILE"); ok && v != "" {
		e.MockupFilename = v
	}

	if err := setBoolEnv("LIBSTORAGE_MULTIPLE_DEVICES_BTRFS", &e.MultipleDevicesBtrfs); err != nil {
		return nil, err
	}
	if err := setBoolEnv("LIBSTORAGE_BTRFS_SNAPSHOT_RELATIONS", &e.BtrfsSnapshotRelations); err != nil {
		return nil, err
	}
	if err := setBoolEnv("LIBSTORAGE_BTRFS_QGROUPS", &e.BtrfsQgroups); err != nil {
		return nil, err
	}
	if err := setBoolEnv("LIBSTORAGE_DEVELOPER_MODE", &e.DeveloperMode); err != nil {
		return nil, err
	}
	if err := setBoolEnv("LIBSTORAGE_PFSOEMS", &e.PreferFilesystemOverEmptyMsdos); err != nil {
		return nil, err
	}
	if err := setBoolEnv("LIBSTORAGE_CRYPTSETUP_FOR_BITLOCKER", &e.CryptsetupForBitlocker); err != nil {
		return nil, err
	}

	return e, nil
}

// setBoolEnv overwrites *dst with name's parsed value if name is set in
// the process environment, leaving the caller-supplied default in place
// otherwise (spec.md §6's "(default yes/no)" column).
func setBoolEnv(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("storageenv: %s: %w", name, err)
	}
	*dst = b
	return nil
}

// Rewrite prepends Rootprefix to path when TargetMode is CHROOT/IMAGE,
// the path-prefix substitution EnvironmentImpl.cc applies to every
// device node and mountpoint before acting on it; under TargetDirect it
// is the identity function.
func (e *Environment) Rewrite(path string) string {
	if e.TargetMode == TargetDirect || e.Rootprefix == "" || e.Rootprefix == "/" {
		return path
	}
	return filepath.Join(e.Rootprefix, path)
}

// lock is the advisory, process-lifetime single-writer lock spec.md §5
// requires: only one storagectl process may hold a writable Environment
// against a given system at a time. Grounded on StorageImpl.cc's
// lock file under /run, implemented here as an in-process mutex plus an
// O_EXCL lock file so it is effective across processes too.
type lock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

var processLock lock

// Lock acquires the advisory lock at path (conventionally
// "/run/storagectl/lock"), failing immediately if another process
// already holds it; ReadOnly Environments never need to call this.
func (e *Environment) Lock() (unlock func() error, err error) {
	processLock.mu.Lock()
	path := filepath.Join(filepath.Dir(e.DevicegraphFilename), "lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		processLock.mu.Unlock()
		return nil, fmt.Errorf("storageenv: acquiring lock %s: %w", path, err)
	}
	processLock.path = path
	processLock.file = f
	return func() error {
		defer processLock.mu.Unlock()
		_ = processLock.file.Close()
		err := os.Remove(processLock.path)
		processLock.file = nil
		processLock.path = ""
		return err
	}, nil
}
