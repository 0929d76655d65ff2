package prober

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/cmdexec"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/storageenv"
)

// fakeExecutor answers a fixed table of argv -> Result, the way a
// cmdexec.Mockup loaded from a recorded fixture file would, but without
// needing a serialized fixture for these in-repo tests.
type fakeExecutor struct {
	t       *testing.T
	results map[string]cmdexec.Result
	// relaxTrailingArg makes Run match a registered entry on argv minus
	// its final element, for commands whose last argument is a
	// randomly-generated EnsureMounted tempdir this test can't predict.
	relaxTrailingArg bool
}

func newFakeExecutor(t *testing.T) *fakeExecutor {
	return &fakeExecutor{t: t, results: make(map[string]cmdexec.Result)}
}

func (f *fakeExecutor) on(result string, argv ...string) {
	f.results[strings.Join(argv, "\x00")] = cmdexec.Result{Argv: argv, Stdout: result}
}

func (f *fakeExecutor) Run(ctx context.Context, argv ...string) (cmdexec.Result, error) {
	if res, ok := f.results[strings.Join(argv, "\x00")]; ok {
		return res, nil
	}
	if f.relaxTrailingArg && len(argv) > 0 {
		if res, ok := f.results[strings.Join(argv[:len(argv)-1], "\x00")]; ok {
			return res, nil
		}
		if argv[0] == "umount" {
			return cmdexec.Result{Argv: argv}, nil
		}
	}
	f.t.Fatalf("fakeExecutor: unexpected command: %v", argv)
	return cmdexec.Result{}, nil
}

type noopCallbacks struct{}

func (noopCallbacks) Begin()         {}
func (noopCallbacks) End()           {}
func (noopCallbacks) Message(string) {}
func (noopCallbacks) Error(message string, what error) bool {
	return false
}

func findByName(t *testing.T, g *devices.Graph, name string) *devices.Device {
	t.Helper()
	for _, d := range g.Devices() {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("no device named %q", name)
	return nil
}

func defaultEnv() *storageenv.Environment {
	return &storageenv.Environment{
		MultipleDevicesBtrfs:   true,
		BtrfsSnapshotRelations: true,
		BtrfsQgroups:           true,
	}
}

// Phase 2a must attach an Ext4 Filesystem (with its UUID/label/mountpoint)
// as a User of the phase1-discovered block device.
func TestPhase2aPlainFilesystem(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.on(`NAME="sda1" SIZE="1000000000" TYPE="part" FSTYPE="ext4" UUID="11111111-0000-0000-0000-000000000000" LABEL="root" MOUNTPOINT="/"`,
		"lsblk", "-b", "-P", "-o", "NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT")

	p := New(exec, sid.NewGenerator(), defaultEnv())
	g, err := p.Probe(context.Background(), noopCallbacks{})
	require.NoError(t, err)

	fs := findByName(t, g, "/dev/sda1")
	require.NotNil(t, fs)

	var fsDev *devices.Device
	for _, d := range g.Devices() {
		if d.Kind == devices.KindFilesystemExt4 {
			fsDev = d
		}
	}
	require.NotNil(t, fsDev, "no Ext4 filesystem device created")
	assert.Equal(t, "11111111-0000-0000-0000-000000000000", fsDev.UUID)
	assert.Equal(t, "root", fsDev.Label)

	var mp *devices.Device
	for _, d := range g.Devices() {
		if d.Kind == devices.KindMountPoint {
			mp = d
		}
	}
	require.NotNil(t, mp, "no MountPoint device created")
	assert.Equal(t, "/", mp.Name)
}

// Phase 2a must dump a LUKS header and create a Luks device as a User
// of its backing block device.
func TestPhase2aLuks(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.on(`NAME="sda2" SIZE="2000000000" TYPE="part" FSTYPE="crypto_LUKS"`,
		"lsblk", "-b", "-P", "-o", "NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT")
	exec.on(`Version:       	2
Cipher name:   	aes
Cipher mode:   	xts-plain64
MK bits:       	512
UUID:          	22222222-0000-0000-0000-000000000000
Keyslots:
  0: luks2
	PBKDF:  argon2id
`, "cryptsetup", "luksDump", "/dev/sda2")

	p := New(exec, sid.NewGenerator(), defaultEnv())
	g, err := p.Probe(context.Background(), noopCallbacks{})
	require.NoError(t, err)

	var luks *devices.Device
	for _, d := range g.Devices() {
		if d.Kind == devices.KindLuks {
			luks = d
		}
	}
	require.NotNil(t, luks, "no Luks device created")
	assert.Equal(t, "22222222-0000-0000-0000-000000000000", luks.UUID)
	data := luks.Variant.(*devices.LuksData)
	assert.Equal(t, 2, data.Version)
	assert.Equal(t, "argon2id", data.PBKDF)

	// the backing block device must be a User of the Luks device
	parents := g.Parents(luks.Sid(), graph.ViewAll)
	require.Len(t, parents, 1)
	assert.Equal(t, "/dev/sda2", parents[0].Name)
}

// Phase 2a+2b: a two-device Btrfs filesystem gets one Btrfs device with
// a FilesystemUser holder per member, plus its subvolume tree (including
// a forward-referenced parent) and qgroup hierarchy.
func TestPhase2aAndPhase2bBtrfsMultiDevice(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.on(`NAME="sda1" SIZE="5000000000" TYPE="part" FSTYPE="btrfs" UUID="33333333-0000-0000-0000-000000000000"
NAME="sdb1" SIZE="5000000000" TYPE="part" FSTYPE="btrfs" UUID="33333333-0000-0000-0000-000000000000"
`, "lsblk", "-b", "-P", "-o", "NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT")

	exec.on(`Label: none  uuid: 33333333-0000-0000-0000-000000000000
	Total devices 2 FS bytes used 1.00GiB
	devid    1 size 5.00GiB used 1.00GiB path /dev/sda1
	devid    2 size 5.00GiB used 0.00GiB path /dev/sdb1
`, "btrfs", "filesystem", "show", "/dev/sda1")

	exec.on("", "mount", "/dev/sda1")

	exec.on(`ID 256 gen 10 parent 5 top level 5 uuid aaaaaaaa-0000-0000-0000-000000000000 parent_uuid - path root
ID 258 gen 15 parent 5 top level 5 uuid cccccccc-0000-0000-0000-000000000000 parent_uuid aaaaaaaa-0000-0000-0000-000000000000 path snap1
ID 257 gen 12 parent 256 top level 256 uuid bbbbbbbb-0000-0000-0000-000000000000 parent_uuid - path root/home
`, "btrfs", "subvolume", "list", "-a", "-puq")

	exec.on(`Subvolume ID: 5
UUID: 55555555-0000-0000-0000-000000000000
`, "btrfs", "subvolume", "show")

	exec.on(`qgroupid         rfer         excl     max_rfer     max_excl parents
--------         ----         ----     --------     -------- -------
0/256         16384          16384         none         none 1/1
1/1           32768          32768         none         none ---
`, "btrfs", "qgroup", "show", "-rep", "--raw")

	// mountPoint is a generated tempdir, so relax the mount/subvolume/show
	// argv matching by making the fake executor ignore the trailing
	// mountpoint argument for the commands above.
	exec.relaxTrailingArg = true

	p := New(exec, sid.NewGenerator(), defaultEnv())
	g, err := p.Probe(context.Background(), noopCallbacks{})
	require.NoError(t, err)

	var btrfs *devices.Device
	for _, d := range g.Devices() {
		if d.Kind == devices.KindFilesystemBtrfs {
			btrfs = d
		}
	}
	require.NotNil(t, btrfs)
	assert.Equal(t, "33333333-0000-0000-0000-000000000000", btrfs.UUID)

	members := g.Parents(btrfs.Sid(), graph.ViewAll)
	require.Len(t, members, 2)

	var root, home, snap1 *devices.Device
	for _, d := range g.Devices() {
		if d.Kind != devices.KindBtrfsSubvolume {
			continue
		}
		switch d.Name {
		case "root":
			root = d
		case "root/home":
			home = d
		case "snap1":
			snap1 = d
		}
	}
	require.NotNil(t, root)
	require.NotNil(t, home)
	require.NotNil(t, snap1)

	homeParents := g.Parents(home.Sid(), graph.ViewAll)
	require.Len(t, homeParents, 1)
	assert.Equal(t, root.Sid(), homeParents[0].Sid())

	// snap1's snapshot origin (root, via matching UUID) must be resolved
	// even though it was listed before root/home in tool output.
	var sawSnapshotOfRoot bool
	for _, h := range g.HoldersIn(snap1.Sid(), graph.ViewAll) {
		if h.Kind() == graph.HolderSnapshot && h.Source() == root.Sid() {
			sawSnapshotOfRoot = true
		}
	}
	assert.True(t, sawSnapshotOfRoot, "snap1 must record a Snapshot holder from root")

	var qgroup256, qgroup1 *devices.Device
	for _, d := range g.Devices() {
		if d.Kind != devices.KindBtrfsQgroup {
			continue
		}
		switch d.Name {
		case "0/256":
			qgroup256 = d
		case "1/1":
			qgroup1 = d
		}
	}
	require.NotNil(t, qgroup256)
	require.NotNil(t, qgroup1)
	rel := g.HoldersIn(qgroup256.Sid(), graph.ViewAll)
	var sawParentRelation bool
	for _, h := range rel {
		if h.Source() == qgroup1.Sid() {
			sawParentRelation = true
		}
	}
	assert.True(t, sawParentRelation, "qgroup 0/256 must record a relation from its parent 1/1")
}

// With MultipleDevicesBtrfs off, only the probed member is attached.
func TestPhase2aBtrfsSingleDeviceToggle(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.on(`NAME="sda1" SIZE="5000000000" TYPE="part" FSTYPE="btrfs" UUID="33333333-0000-0000-0000-000000000000"
NAME="sdb1" SIZE="5000000000" TYPE="part" FSTYPE="btrfs" UUID="33333333-0000-0000-0000-000000000000"
`, "lsblk", "-b", "-P", "-o", "NAME,SIZE,TYPE,FSTYPE,UUID,LABEL,MOUNTPOINT")
	exec.on(`Label: none  uuid: 33333333-0000-0000-0000-000000000000
	devid    1 size 5.00GiB used 1.00GiB path /dev/sda1
	devid    2 size 5.00GiB used 0.00GiB path /dev/sdb1
`, "btrfs", "filesystem", "show", "/dev/sda1")

	env := defaultEnv()
	env.MultipleDevicesBtrfs = false
	env.BtrfsSnapshotRelations = false
	env.BtrfsQgroups = false

	p := New(exec, sid.NewGenerator(), env)
	g, err := p.Probe(context.Background(), noopCallbacks{})
	require.NoError(t, err)

	var btrfs *devices.Device
	for _, d := range g.Devices() {
		if d.Kind == devices.KindFilesystemBtrfs {
			btrfs = d
		}
	}
	require.NotNil(t, btrfs)
	members := g.Parents(btrfs.Sid(), graph.ViewAll)
	require.Len(t, members, 1, "MultipleDevicesBtrfs=false must attach only the probed member")
	assert.Equal(t, "/dev/sda1", members[0].Name)
}
