package devices

import (
	"go.storagectl.dev/storagectl/internal/sid"
)

// DiskData backs KindDisk/KindDasd: a raw physical or virtual block
// device, never itself created/deleted by the engine (it's discovered,
// not provisioned) — its Emitter methods are therefore no-ops beyond the
// basicEmitter default, kept only so Disk satisfies the Device.Variant
// contract uniformly with every other kind.
type DiskData struct {
	basicEmitter
	Transport string // "sata", "nvme", "virtio", ...
	Removable bool
	Rotational bool
}

// NewDisk adds a Disk device node to g.
func NewDisk(gen *sid.Generator, g *Graph, name string, sizeBytes uint64, data DiskData) *Device {
	d := newDevice(gen, KindDisk, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// StrayBlkData backs KindStrayBlkDevice: a block device the prober saw
// but could not classify into any other variant (spec.md §4.D Phase 1).
type StrayBlkData struct {
	basicEmitter
}

func NewStrayBlkDevice(gen *sid.Generator, g *Graph, name string, sizeBytes uint64) *Device {
	d := newDevice(gen, KindStrayBlkDevice, name, &StrayBlkData{})
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// MultipathData backs KindMultipath: a device-mapper multipath device
// aggregating redundant paths to the same physical disk.
type MultipathData struct {
	basicEmitter
	VendorID string
	ProductID string
}

func NewMultipath(gen *sid.Generator, g *Graph, name string, sizeBytes uint64, data MultipathData) *Device {
	d := newDevice(gen, KindMultipath, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// DmRaidData backs KindDmRaid: a device-mapper RAID device (as opposed
// to an Md software-RAID array).
type DmRaidData struct {
	basicEmitter
	RaidType string // "raid1", "raid5", ...
}

func NewDmRaid(gen *sid.Generator, g *Graph, name string, sizeBytes uint64, data DmRaidData) *Device {
	d := newDevice(gen, KindDmRaid, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// BcacheData backs KindBcache: a bcache-backed block device presenting
// a cached view of a backing device.
type BcacheData struct {
	basicEmitter
	CachingUUID string // UUID of the BcacheCset caching this device, if any
}

func NewBcache(gen *sid.Generator, g *Graph, name string, sizeBytes uint64, data BcacheData) *Device {
	d := newDevice(gen, KindBcache, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// BcacheCsetData backs KindBcacheCset: a bcache caching set, which may
// back multiple Bcache devices.
type BcacheCsetData struct {
	basicEmitter
}

func NewBcacheCset(gen *sid.Generator, g *Graph, name string) *Device {
	d := newDevice(gen, KindBcacheCset, name, &BcacheCsetData{})
	g.AddDevice(d)
	return d
}
