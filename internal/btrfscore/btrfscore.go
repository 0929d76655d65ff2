// Package btrfscore implements the Btrfs-specific domain logic of
// spec.md §4.I: multi-device membership bookkeeping, the subvolume
// tree, the qgroup model, and the mkfs.btrfs/resize/reallot/label/quota
// command argv synthesis the Action Graph's Commander implementations
// ultimately run through the Command Executor.
//
// Grounded on original_source/Btrfs.cc and Qgroup.cc for the id=5
// top-level-subvolume convention, the toggle-quota rebuild semantics,
// and the +50% shrink safety margin on multi-device filesystems; on
// spec.md §8's literal "BtrfsFilesystemShow parse" testable property
// for the `btrfs filesystem show` output shape this package's siblings
// (the Prober) must parse to populate FilesystemUser.Devid.
package btrfscore

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/graph"
)

// ErrShrinkUnsupported is returned when a shrink is requested on a
// multi-device Btrfs filesystem; spec.md §9 Open Questions resolves
// this by rejecting the operation outright rather than attempting a
// risky multi-device shrink (DESIGN.md "Open Question: multi-device
// Btrfs shrink").
var ErrShrinkUnsupported = fmt.Errorf("btrfscore: shrinking a multi-device btrfs filesystem is not supported")

// TopLevelSubvolID is the always-present, unique default subvolume every
// Btrfs filesystem has (original_source/Btrfs.cc: "id 5 top-level").
const TopLevelSubvolID = 5

// Members returns the FilesystemUser holders attaching block devices to
// fs, the multi-device membership table (devid -> member device).
func Members(g *devices.Graph, fs *devices.Device) []*devices.Holder {
	var out []*devices.Holder
	for _, h := range g.HoldersIn(fs.Sid(), graph.ViewAll) {
		if h.Kind() == graph.HolderFilesystemUser {
			out = append(out, h)
		}
	}
	return out
}

// ShrinkSafetyMargin returns the space estimate for a shrink target on a
// multi-device filesystem: the requested new size plus 50% of it, the
// safety margin original_source/Btrfs.cc
// applies because btrfs's multi-device balance-based shrink can
// transiently need more free space than a single-device resize would.
func ShrinkSafetyMargin(newSize uint64) uint64 {
	return newSize + newSize/2
}

// CheckShrink validates a proposed shrink of fs to newSize, applying the
// Open Question's resolution: more than one FilesystemUser member makes
// shrinking unsupported outright.
func CheckShrink(g *devices.Graph, fs *devices.Device, newSize uint64) error {
	if len(Members(g, fs)) > 1 {
		return ErrShrinkUnsupported
	}
	if newSize < fs.Kind.MinSize() {
		return fmt.Errorf("btrfscore: %d bytes is below the %d byte minimum btrfs filesystem size", newSize, fs.Kind.MinSize())
	}
	return nil
}

// MkfsArgv synthesizes the `mkfs.btrfs` invocation for fs, one device
// path per FilesystemUser member plus --data/--metadata raid profiles and
// optional --label.
func MkfsArgv(g *devices.Graph, fs *devices.Device) []string {
	data, _ := fs.Variant.(*devices.BtrfsData)
	argv := []string{"mkfs.btrfs"}
	if fs.Label != "" {
		argv = append(argv, "--label", fs.Label)
	}
	if data != nil {
		if data.RaidLevelData != "" {
			argv = append(argv, "--data", data.RaidLevelData)
		}
		if data.RaidLevelMeta != "" {
			argv = append(argv, "--metadata", data.RaidLevelMeta)
		}
	}
	for _, h := range Members(g, fs) {
		if src, err := g.Device(h.Source()); err == nil {
			argv = append(argv, src.Name)
		}
	}
	return argv
}

// ResizeArgv synthesizes `btrfs filesystem resize`, delegating shrink
// eligibility to CheckShrink.
func ResizeArgv(g *devices.Graph, fs *devices.Device, newSize uint64, shrink bool) ([]string, error) {
	if shrink {
		if err := CheckShrink(g, fs, newSize); err != nil {
			return nil, err
		}
	}
	var size string
	if shrink {
		size = fmt.Sprintf("%d", newSize)
	} else {
		size = fmt.Sprintf("%d", newSize)
	}
	return []string{"btrfs", "filesystem", "resize", fmt.Sprintf("%d:%s", TopLevelSubvolID, size), fs.Name}, nil
}

// ReallotArgv synthesizes `btrfs device add`/`btrfs device remove`.
func ReallotArgv(fs, member *devices.Device, extend bool) []string {
	if extend {
		return []string{"btrfs", "device", "add", member.Name, fs.Name}
	}
	return []string{"btrfs", "device", "remove", member.Name, fs.Name}
}

// LabelArgv synthesizes `btrfs filesystem label`.
func LabelArgv(fs *devices.Device) []string {
	return []string{"btrfs", "filesystem", "label", fs.Name, fs.Label}
}

// QuotaArgv synthesizes `btrfs quota enable`/`btrfs quota disable`.
// Toggling quota from disabled to enabled forces a rescan of every
// existing subvolume (original_source/Qgroup.cc's rebuild semantics);
// that rescan is itself a long-running background operation the
// Command Executor does not wait on beyond the toggle command.
func QuotaArgv(fs *devices.Device, enable bool) []string {
	verb := "enable"
	if !enable {
		verb = "disable"
	}
	return []string{"btrfs", "quota", verb, fs.Name}
}

// SubvolumeCreateArgv synthesizes `btrfs subvolume create`.
func SubvolumeCreateArgv(subvol *devices.Device) []string {
	return []string{"btrfs", "subvolume", "create", subvol.Name}
}

// SnapshotArgv synthesizes `btrfs subvolume snapshot [-r]`.
func SnapshotArgv(src, dst *devices.Device, readOnly bool) []string {
	argv := []string{"btrfs", "subvolume", "snapshot"}
	if readOnly {
		argv = append(argv, "-r")
	}
	return append(argv, src.Name, dst.Name)
}

// SubvolumeDeleteArgv synthesizes `btrfs subvolume delete`.
func SubvolumeDeleteArgv(subvol *devices.Device) []string {
	return []string{"btrfs", "subvolume", "delete", subvol.Name}
}

// QgroupAddress renders a qgroup's (level, id) pair the way
// `btrfs qgroup` subcommands address it: "level/id".
func QgroupAddress(level int, id uint64) string {
	return fmt.Sprintf("%d/%d", level, id)
}

// QgroupAssignArgv synthesizes `btrfs qgroup assign` (child -> parent),
// establishing the inter-qgroup relation a BtrfsQgroupRelation holder
// records in the device graph.
func QgroupAssignArgv(fs *devices.Device, child, parentAddr string) []string {
	return []string{"btrfs", "qgroup", "assign", child, parentAddr, fs.Name}
}

// QgroupLimitArgv synthesizes `btrfs qgroup limit`.
func QgroupLimitArgv(fs *devices.Device, addr string, referenced, exclusive uint64) []string {
	return []string{"btrfs", "qgroup", "limit", fmt.Sprintf("%d", referenced), addr, fs.Name}
}

// DefaultSubvolumeArgv synthesizes `btrfs subvolume set-default`.
func DefaultSubvolumeArgv(fs *devices.Device, subvolID uint64) []string {
	return []string{"btrfs", "subvolume", "set-default", fmt.Sprintf("%d", subvolID), fs.Name}
}

// ResolveSnapshotParent looks up a BtrfsSubvolume's snapshot source,
// returning ok=false if subvol was not created as a snapshot. The action
// graph uses it to choose between a `btrfs subvolume snapshot` and a
// `btrfs subvolume create` argv; the prober links snapshot parents
// itself.
func ResolveSnapshotParent(g *devices.Graph, subvol *devices.Device) (parent *devices.Device, ok bool) {
	for _, h := range g.HoldersIn(subvol.Sid(), graph.ViewAll) {
		if h.Kind() == graph.HolderSnapshot {
			if p, err := g.Device(h.Source()); err == nil {
				return p, true
			}
		}
	}
	return nil, false
}
