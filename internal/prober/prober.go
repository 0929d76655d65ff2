package prober

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.storagectl.dev/storagectl/internal/cmdexec"
	"go.storagectl.dev/storagectl/internal/containers"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/slices"
	"go.storagectl.dev/storagectl/internal/storageenv"
)

// Callbacks mirrors spec.md §4.D's ProbeCallbacks: begin/end bracket
// the whole probe run, message reports progress, and error is asked
// whether to keep going after a subsystem fails to probe (spec.md §8
// testable property 6: "Probe error").
type Callbacks interface {
	Begin()
	End()
	Message(text string)
	Error(message string, what error) (skipAndContinue bool)
}

// systemInfoCache caches an external tool's raw output keyed by its
// argv, so Phase 2a/2b never re-invokes the same command (e.g. the
// lsblk listing that phase 1 and phase 2a both read).
type systemInfoCache struct {
	cache *containers.LRUCache[string, cmdexec.Result]
}

func newSystemInfoCache() *systemInfoCache {
	return &systemInfoCache{cache: containers.NewLRUCache[string, cmdexec.Result](256)}
}

func argvKey(argv []string) string { return strings.Join(argv, "\x00") }

func (c *systemInfoCache) run(ctx context.Context, exec cmdexec.Executor, argv ...string) (cmdexec.Result, error) {
	key := argvKey(argv)
	if res, ok := c.cache.Get(key); ok {
		return res, nil
	}
	res, err := exec.Run(ctx, argv...)
	if err == nil {
		c.cache.Add(key, res)
	}
	return res, err
}

// Prober runs the spec.md §4.D probe phases against a live (or
// mocked-up) system using exec, populating a fresh device graph.
type Prober struct {
	exec cmdexec.Executor
	gen  *sid.Generator
	env  *storageenv.Environment
	info *systemInfoCache
}

// New returns a Prober that invokes external tools through exec, gated
// by env's LIBSTORAGE_* toggles (spec.md §6): MultipleDevicesBtrfs,
// BtrfsSnapshotRelations and BtrfsQgroups govern how deep phase2a/phase2b
// go into a Btrfs filesystem's multi-device/subvolume/qgroup structure.
func New(exec cmdexec.Executor, gen *sid.Generator, env *storageenv.Environment) *Prober {
	if env == nil {
		env = &storageenv.Environment{MultipleDevicesBtrfs: true, BtrfsSnapshotRelations: true, BtrfsQgroups: true}
	}
	return &Prober{exec: exec, gen: gen, env: env, info: newSystemInfoCache()}
}

// Probe runs the full discovery pipeline and returns the populated
// "probed" graph. Phase 1 discovers raw block devices (lsblk only);
// phase 2a discovers each device's filesystem, if any (including Btrfs
// multi-device membership and subvolumes/qgroups, which require the
// filesystem to be mounted via EnsureMounted); phase 2b resolves the
// Btrfs subvolume tree, snapshot parents and qgroup relations in
// possibly multiple passes since those relations can reference entries
// listed later. No LVM or Md membership is probed.
func (p *Prober) Probe(ctx context.Context, cb Callbacks) (*devices.Graph, error) {
	cb.Begin()
	defer cb.End()

	g := devices.NewGraph()

	cb.Message("probing block devices")
	if err := p.phase1(ctx, g, cb); err != nil {
		if !cb.Error("probing block devices failed", err) {
			return g, err
		}
	}

	cb.Message("probing filesystems")
	st := &probeState{}
	if err := p.phase2a(ctx, g, cb, st); err != nil {
		if !cb.Error("probing filesystems failed", err) {
			return g, err
		}
	}

	cb.Message("probing cross-device relations")
	if err := p.phase2b(ctx, g, cb, st); err != nil {
		if !cb.Error("probing cross-device relations failed", err) {
			return g, err
		}
	}

	return g, nil
}

// phase1 runs `lsblk -b -P -o NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT`
// to populate raw nodes: a StrayBlkDevice for each TYPE="part" line and
// a Disk for every other line. `udevadm info` is not run, so no udev
// properties are recorded. lsblk is asked for the filesystem-signature
// columns too (it already reads them off the kernel's blkid-compatible
// superblock probe, the same data `blkid -o export` would report) so
// phase2a can reuse this single cached invocation instead of shelling
// out to blkid again per device.
func (p *Prober) phase1(ctx context.Context, g *devices.Graph, cb Callbacks) error {
	res, err := p.info.run(ctx, p.exec, "lsblk", "-b", "-P", "-o", "NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT")
	if err != nil {
		return fmt.Errorf("prober: lsblk: %w", err)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := parseLsblkPairs(line)
		name := fields["NAME"]
		if name == "" {
			continue
		}
		path := "/dev/" + name
		sizeBytes := parseUintOr(fields["SIZE"], 0)
		switch fields["TYPE"] {
		case "part":
			devices.NewStrayBlkDevice(p.gen, g, path, sizeBytes)
		default:
			devices.NewDisk(p.gen, g, path, sizeBytes, devices.DiskData{})
		}
	}
	return nil
}

// probeState threads phase2a's findings forward to phase2b: the set of
// distinct Btrfs filesystems discovered (keyed by UUID, so every member
// device's `btrfs filesystem show` converges on the same Device) and the
// raw `btrfs subvolume list`/`btrfs qgroup show` entries collected for
// each, since resolving snapshot parents and qgroup hierarchy needs the
// complete per-filesystem entry set rather than a single line at a time.
type probeState struct {
	btrfsFS []*btrfsFSState
}

type btrfsFSState struct {
	uuid       string
	device     *devices.Device
	mountPoint string
	subvols    []BtrfsSubvolumeListEntry
	subvolByID map[uint64]*devices.Device
	qgroups    []BtrfsQgroupShowEntry
}

// fsKind maps an lsblk/blkid FSTYPE string to the Filesystem(...) Kind
// it probes to; Btrfs and crypto_LUKS get their own richer handling in
// phase2a and are deliberately absent here.
var fsKind = map[string]devices.Kind{
	"ext2":     devices.KindFilesystemExt2,
	"ext3":     devices.KindFilesystemExt3,
	"ext4":     devices.KindFilesystemExt4,
	"xfs":      devices.KindFilesystemXfs,
	"swap":     devices.KindFilesystemSwap,
	"vfat":     devices.KindFilesystemFat,
	"exfat":    devices.KindFilesystemExfat,
	"ntfs":     devices.KindFilesystemNtfs,
	"reiserfs": devices.KindFilesystemReiserfs,
	"jfs":      devices.KindFilesystemJfs,
	"f2fs":     devices.KindFilesystemF2fs,
	"udf":      devices.KindFilesystemUdf,
	"iso9660":  devices.KindFilesystemIso9660,
	"nilfs2":   devices.KindFilesystemNilfs2,
	"bcachefs": devices.KindFilesystemBcachefs,
}

// phase2a probes each device discovered in phase1 for a filesystem
// signature (reusing phase1's cached lsblk FSTYPE/UUID/LABEL/MOUNTPOINT
// columns); LUKS headers are dumped via `cryptsetup luksDump`, and
// Btrfs multi-device filesystems are discovered via `btrfs filesystem
// show` (gated by env.MultipleDevicesBtrfs) and their subvolume/qgroup
// trees enumerated via `btrfs subvolume list`/`btrfs qgroup show` after
// EnsureMounted (gated by env.BtrfsSnapshotRelations/env.BtrfsQgroups).
// Results for each Btrfs filesystem are accumulated into st for phase2b
// to resolve snapshot parents and qgroup hierarchy from.
func (p *Prober) phase2a(ctx context.Context, g *devices.Graph, cb Callbacks, st *probeState) error {
	res, err := p.info.run(ctx, p.exec, "lsblk", "-b", "-P", "-o", "NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT")
	if err != nil {
		return fmt.Errorf("prober: lsblk: %w", err)
	}

	seenBtrfsUUID := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := parseLsblkPairs(line)
		name := fields["NAME"]
		fstype := fields["FSTYPE"]
		if name == "" || fstype == "" {
			continue
		}
		path := "/dev/" + name
		backing, ok := findDeviceByName(g, path)
		if !ok {
			continue
		}

		switch {
		case fstype == "crypto_LUKS":
			if err := p.probeLuks(ctx, g, backing, path); err != nil {
				if !cb.Error("probing LUKS header failed for "+path, err) {
					return err
				}
			}
		case fstype == "btrfs":
			if seenBtrfsUUID[fields["UUID"]] && fields["UUID"] != "" {
				continue
			}
			fsState, err := p.probeBtrfs(ctx, g, path, cb)
			if err != nil {
				if !cb.Error("probing btrfs filesystem failed for "+path, err) {
					return err
				}
				continue
			}
			if fsState != nil {
				seenBtrfsUUID[fsState.uuid] = true
				st.btrfsFS = append(st.btrfsFS, fsState)
			}
		default:
			kind, ok := fsKind[fstype]
			if !ok {
				continue
			}
			fsDev, err := devices.NewFilesystem(p.gen, g, backing, kind, path, devices.FilesystemData{})
			if err != nil {
				if !cb.Error("adding filesystem device failed for "+path, err) {
					return err
				}
				continue
			}
			fsDev.UUID = fields["UUID"]
			fsDev.Label = fields["LABEL"]
			if mp := fields["MOUNTPOINT"]; mp != "" {
				if _, err := devices.NewMountPoint(p.gen, g, fsDev, mp, devices.MountPointData{Persistent: false}); err != nil {
					if !cb.Error("adding mountpoint failed for "+mp, err) {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (p *Prober) probeLuks(ctx context.Context, g *devices.Graph, backing *devices.Device, path string) error {
	res, err := p.info.run(ctx, p.exec, "cryptsetup", "luksDump", path)
	if err != nil {
		return fmt.Errorf("prober: cryptsetup luksDump %s: %w", path, err)
	}
	dump, err := ParseLuksDump(res.Stdout)
	if err != nil {
		return err
	}
	d := devices.NewLuks(p.gen, g, path, backing.Size, devices.LuksData{
		Version:    luksVersion(dump.Encryption),
		Cipher:     dump.Cipher,
		KeySize:    dump.KeySize,
		PBKDF:      dump.PBKDF,
		Integrity:  dump.Integrity,
		MappedName: "luks-" + dump.UUID,
	})
	d.UUID = dump.UUID
	_, err = devices.AddUser(p.gen, g, backing.Sid(), d.Sid())
	return err
}

func luksVersion(encryption string) int {
	if encryption == "luks2" {
		return 2
	}
	return 1
}

// probeBtrfs runs `btrfs filesystem show` against one member device,
// creates the multi-device Btrfs node plus a FilesystemUser holder for
// every member it can match back to a phase1 device (gated by
// env.MultipleDevicesBtrfs: with the toggle off only the probed device
// itself is attached, mirroring a single-device view of the filesystem),
// and — when subvolume/qgroup probing is enabled — mounts the
// filesystem via EnsureMounted and collects the raw subvolume/qgroup
// listings into the returned btrfsFSState for phase2b to resolve.
func (p *Prober) probeBtrfs(ctx context.Context, g *devices.Graph, path string, cb Callbacks) (*btrfsFSState, error) {
	res, err := p.info.run(ctx, p.exec, "btrfs", "filesystem", "show", path)
	if err != nil {
		return nil, fmt.Errorf("prober: btrfs filesystem show %s: %w", path, err)
	}
	show, err := ParseBtrfsFilesystemShow(res.Stdout)
	if err != nil {
		return nil, err
	}

	var totalSize uint64
	for _, m := range show.Devices {
		if d, ok := findDeviceByName(g, m.Name); ok {
			totalSize += d.Size
		}
	}
	fsDev := devices.NewBtrfs(p.gen, g, path, totalSize, devices.BtrfsData{})
	fsDev.UUID = show.UUID

	members := show.Devices
	if !p.env.MultipleDevicesBtrfs {
		members = nil
		for _, m := range show.Devices {
			if m.Name == path {
				members = []BtrfsMember{m}
				break
			}
		}
		if len(members) == 0 {
			members = []BtrfsMember{{Name: path}}
		}
	}
	for _, m := range members {
		memberDev, ok := findDeviceByName(g, m.Name)
		if !ok {
			continue
		}
		if _, err := devices.AddFilesystemUser(p.gen, g, memberDev.Sid(), fsDev.Sid(), m.ID, false); err != nil {
			if !cb.Error("recording btrfs filesystem membership failed for "+m.Name, err) {
				return nil, err
			}
		}
	}

	fsState := &btrfsFSState{uuid: show.UUID, device: fsDev, subvolByID: make(map[uint64]*devices.Device)}

	if !p.env.BtrfsSnapshotRelations && !p.env.BtrfsQgroups {
		return fsState, nil
	}

	mountPoint := "/tmp/does-not-matter"
	var em *cmdexec.EnsureMounted
	needsRealMount := true
	if mu, ok := p.exec.(*cmdexec.Mockup); ok && mu.Mode() == cmdexec.MockupPlayback {
		needsRealMount = false
	}
	if needsRealMount {
		em, err = cmdexec.NewEnsureMounted(ctx, p.exec, path, "")
		if err != nil {
			return nil, fmt.Errorf("prober: mounting %s to probe subvolumes: %w", path, err)
		}
		defer em.Close(ctx)
		mountPoint = em.MountPoint
	}
	fsState.mountPoint = mountPoint

	if p.env.BtrfsSnapshotRelations {
		res, err := p.exec.Run(ctx, "btrfs", "subvolume", "list", "-a", "-puq", mountPoint)
		if err != nil {
			return nil, fmt.Errorf("prober: btrfs subvolume list %s: %w", mountPoint, err)
		}
		entries, err := ParseBtrfsSubvolumeList(res.Stdout)
		if err != nil {
			return nil, err
		}
		fsState.subvols = entries

		topRes, err := p.exec.Run(ctx, "btrfs", "subvolume", "show", mountPoint)
		if err != nil {
			return nil, fmt.Errorf("prober: btrfs subvolume show %s: %w", mountPoint, err)
		}
		top, err := ParseBtrfsSubvolumeShow(topRes.Stdout)
		if err != nil {
			return nil, err
		}
		topDev, err := devices.NewBtrfsSubvolume(p.gen, g, fsDev, "/", devices.BtrfsSubvolumeData{SubvolID: 5})
		if err != nil {
			return nil, err
		}
		topDev.UUID = top.UUID
		fsState.subvolByID[5] = topDev
	}

	if p.env.BtrfsQgroups {
		res, err := p.exec.Run(ctx, "btrfs", "qgroup", "show", "-rep", "--raw", mountPoint)
		if err != nil {
			return nil, fmt.Errorf("prober: btrfs qgroup show %s: %w", mountPoint, err)
		}
		entries, err := ParseBtrfsQgroupShow(res.Stdout)
		if err != nil {
			return nil, err
		}
		fsState.qgroups = entries
	}

	return fsState, nil
}

// phase2b resolves relations that may reference devices appearing later
// in phase2a's listing (e.g. a snapshot whose parent subvolume is probed
// after the snapshot itself, or a qgroup whose parent qgroup is listed
// later): it retries unresolved relations across multiple passes until a
// pass makes no progress, the "multi-pass resolution for out-of-order
// snapshot parents" SPEC_FULL.md calls for.
func (p *Prober) phase2b(ctx context.Context, g *devices.Graph, cb Callbacks, st *probeState) error {
	for _, fs := range st.btrfsFS {
		if err := p.resolveSubvolumeTree(g, fs, cb); err != nil {
			return err
		}
		if err := p.resolveSnapshotParents(g, fs, cb); err != nil {
			return err
		}
		if err := p.resolveQgroups(g, fs, cb); err != nil {
			return err
		}
	}
	return nil
}

// resolveSubvolumeTree builds the structural Subdevice parent/child
// edges for every subvolume phase2a listed, looping over the remaining
// entries until a pass creates nothing new — children can precede their
// parent in `btrfs subvolume list` output, so a single top-to-bottom
// pass is not guaranteed to resolve everything.
func (p *Prober) resolveSubvolumeTree(g *devices.Graph, fs *btrfsFSState, cb Callbacks) error {
	pending := append([]BtrfsSubvolumeListEntry{}, fs.subvols...)
	for len(pending) > 0 {
		var next []BtrfsSubvolumeListEntry
		progress := false
		for _, e := range pending {
			parent, ok := fs.subvolByID[e.ParentID]
			if !ok {
				next = append(next, e)
				continue
			}
			d, err := devices.NewBtrfsSubvolume(p.gen, g, parent, e.Path, devices.BtrfsSubvolumeData{SubvolID: e.ID})
			if err != nil {
				if !cb.Error("adding btrfs subvolume failed for "+e.Path, err) {
					return err
				}
				continue
			}
			d.UUID = e.UUID
			fs.subvolByID[e.ID] = d
			progress = true
		}
		if !progress {
			for _, e := range next {
				cb.Message(fmt.Sprintf("btrfs subvolume %d (path %s): parent %d never resolved", e.ID, e.Path, e.ParentID))
			}
			break
		}
		pending = next
	}
	return nil
}

// resolveSnapshotParents adds the Snapshot holder from a subvolume's
// ParentUUID to the sibling subvolume device carrying that UUID, looping
// until no further match is made (a snapshot's origin can be listed
// after the snapshot itself).
func (p *Prober) resolveSnapshotParents(g *devices.Graph, fs *btrfsFSState, cb Callbacks) error {
	byUUID := make(map[string]*devices.Device, len(fs.subvolByID))
	for _, d := range fs.subvolByID {
		if d.UUID != "" {
			byUUID[d.UUID] = d
		}
	}

	pending := append([]BtrfsSubvolumeListEntry{}, fs.subvols...)
	for len(pending) > 0 {
		var next []BtrfsSubvolumeListEntry
		progress := false
		for _, e := range pending {
			if e.ParentUUID == "" {
				continue
			}
			child, ok := fs.subvolByID[e.ID]
			if !ok {
				continue
			}
			parent, ok := byUUID[e.ParentUUID]
			if !ok {
				next = append(next, e)
				continue
			}
			if _, err := devices.AddSnapshot(p.gen, g, parent.Sid(), child.Sid()); err != nil {
				if !cb.Error("adding btrfs snapshot relation failed for "+e.Path, err) {
					return err
				}
				continue
			}
			progress = true
		}
		if !progress {
			break
		}
		pending = next
	}
	return nil
}

// resolveQgroups creates a BtrfsQgroup device for every entry
// phase2a collected: a level-0 qgroup is linked to the subvolume of the
// same numeric id (NewBtrfsQgroup's implicit governing-relation edge),
// and a higher-level qgroup to the first already-created qgroup that
// lists it as a parent (the filesystem device when none does); every
// other ParentAddrs entry adds an inter-qgroup AddQgroupRelation edge
// from the higher-level aggregating qgroup to this one.
func (p *Prober) resolveQgroups(g *devices.Graph, fs *btrfsFSState, cb Callbacks) error {
	if len(fs.qgroups) == 0 {
		return nil
	}
	byAddr := make(map[string]*devices.Device, len(fs.qgroups))
	governedBy := make(map[*devices.Device]*devices.Device, len(fs.qgroups))
	for _, e := range fs.qgroups {
		addr := fmt.Sprintf("%d/%d", e.Level, e.ID)
		governed := fs.device
		if e.Level == 0 {
			if sub, ok := fs.subvolByID[uint64(e.ID)]; ok {
				governed = sub
			}
		} else {
			for _, c := range fs.qgroups {
				if cd, ok := byAddr[fmt.Sprintf("%d/%d", c.Level, c.ID)]; ok && slices.Contains(addr, c.ParentAddrs) {
					governed = cd
					break
				}
			}
		}
		d, err := devices.NewBtrfsQgroup(p.gen, g, governed, devices.BtrfsQgroupData{
			Level:           e.Level,
			ID:              uint64(e.ID),
			ReferencedLimit: e.ReferencedLimit,
			ExclusiveLimit:  e.ExclusiveLimit,
		})
		if err != nil {
			if !cb.Error("adding btrfs qgroup failed", err) {
				return err
			}
			continue
		}
		byAddr[addr] = d
		governedBy[d] = governed
	}

	pending := fs.qgroups
	for len(pending) > 0 {
		var next []BtrfsQgroupShowEntry
		progress := false
		for _, e := range pending {
			child, ok := byAddr[fmt.Sprintf("%d/%d", e.Level, e.ID)]
			if !ok {
				continue
			}
			allResolved := true
			for _, addr := range e.ParentAddrs {
				parent, ok := byAddr[addr]
				if !ok {
					allResolved = false
					continue
				}
				if governedBy[parent] == child {
					continue
				}
				if _, err := devices.AddQgroupRelation(p.gen, g, parent.Sid(), child.Sid()); err != nil {
					if !cb.Error("adding btrfs qgroup relation failed", err) {
						return err
					}
				} else {
					progress = true
				}
			}
			if !allResolved {
				next = append(next, e)
			}
		}
		if !progress {
			break
		}
		pending = next
	}
	return nil
}

// findDeviceByName scans g for a device whose Name matches path; the
// device graph has no secondary index on Name since lookups by path are
// probe-time-only (every other component addresses devices by sid).
func findDeviceByName(g *devices.Graph, path string) (*devices.Device, bool) {
	for _, d := range g.Devices() {
		if d.Name == path {
			return d, true
		}
	}
	return nil, false
}

var lsblkPairRE = regexp.MustCompile(`(\w+)="([^"]*)"`)

// parseLsblkPairs parses one line of `lsblk -P` output, a sequence of
// KEY="value" pairs, into a map.
func parseLsblkPairs(line string) map[string]string {
	out := make(map[string]string)
	for _, m := range lsblkPairRE.FindAllStringSubmatch(line, -1) {
		out[m[1]] = m[2]
	}
	return out
}

func parseUintOr(s string, fallback uint64) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
