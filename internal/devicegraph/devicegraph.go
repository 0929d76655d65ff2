// Package devicegraph implements the named-graph store of spec.md §4.E:
// the three well-known graphs ("probed", "system", "staging"), clone,
// rename, structural comparison, and the used-features bitset.
//
// Grounded on the teacher's btrfsinspect "open filesystem, hold several
// named views of it" pattern (cmd/btrfs-rec/inspect), generalized here
// from "one opened filesystem" to "a named set of device graphs".
package devicegraph

import (
	"fmt"
	"sync"

	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/fmtutil"
	"go.storagectl.dev/storagectl/internal/graph"
)

// Name identifies one of the three well-known graphs spec.md §4.E names.
type Name string

const (
	Probed  Name = "probed"
	System  Name = "system"
	Staging Name = "staging"
)

// UsedFeatures is a bitset of storage subsystems touched by a device
// graph, the supplemented feature-detection spec.md's distillation
// dropped but Actiongraph.cc's `used_features()` computes (SPEC_FULL.md
// "Supplemented features"). Rendered with fmtutil.BitfieldString the
// same way the teacher renders btrfsvol.BlockGroupFlags.
type UsedFeatures uint32

const (
	UfLvm UsedFeatures = 1 << iota
	UfBtrfs
	UfLuks
	UfMdraid
	UfMultipath
	UfBcache
	UfQuota
	UfSnapshots
)

var usedFeatureNames = []string{
	"UF_LVM",
	"UF_BTRFS",
	"UF_LUKS",
	"UF_MDRAID",
	"UF_MULTIPATH",
	"UF_BCACHE",
	"UF_QUOTA",
	"UF_SNAPSHOTS",
}

func (u UsedFeatures) String() string {
	return fmtutil.BitfieldString(uint32(u), usedFeatureNames, fmtutil.HexNone)
}

// ComputeUsedFeatures walks every device/holder in g and reports which
// storage subsystems it exercises.
func ComputeUsedFeatures(g *devices.Graph) UsedFeatures {
	var uf UsedFeatures
	for _, d := range g.Devices() {
		switch {
		case d.Kind == devices.KindLvmPv, d.Kind == devices.KindLvmVg, d.Kind == devices.KindLvmLv:
			uf |= UfLvm
		case d.Kind == devices.KindFilesystemBtrfs, d.Kind == devices.KindBtrfsSubvolume, d.Kind == devices.KindBtrfsQgroup:
			uf |= UfBtrfs
			if bd, ok := d.Variant.(*devices.BtrfsData); ok && bd.QuotaEnabled {
				uf |= UfQuota
			}
		case d.Kind == devices.KindLuks, d.Kind == devices.KindBitlockerV2:
			uf |= UfLuks
		case d.Kind == devices.KindMd, d.Kind == devices.KindMdContainer:
			uf |= UfMdraid
		case d.Kind == devices.KindMultipath:
			uf |= UfMultipath
		case d.Kind == devices.KindBcache, d.Kind == devices.KindBcacheCset:
			uf |= UfBcache
		}
	}
	for _, h := range g.Holders() {
		if h.Kind() == graph.HolderSnapshot {
			uf |= UfSnapshots
		}
	}
	return uf
}

// Store holds the three (or more, if the CLI stages named snapshots)
// named device graphs a storagectl process works with concurrently, per
// spec.md §4.E and the Concurrency & Resource Model (single writer,
// advisory process lock held by storageenv.Environment).
type Store struct {
	mu     sync.RWMutex
	graphs map[Name]*devices.Graph
}

// NewStore returns an empty store; callers typically populate "probed"
// via the Prober and "system" by loading the on-disk devicegraph file.
func NewStore() *Store {
	return &Store{graphs: make(map[Name]*devices.Graph)}
}

// Set installs (or replaces) the graph known by name.
func (s *Store) Set(name Name, g *devices.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[name] = g
}

// Get returns the graph known by name, or nil if unset.
func (s *Store) Get(name Name) *devices.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphs[name]
}

// Clone produces an independent deep copy of the graph known as src,
// installs it as dst, and returns it — spec.md §4.E "copy staging from
// system before computing a plan".
func (s *Store) Clone(src, dst Name) (*devices.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[src]
	if !ok {
		return nil, fmt.Errorf("devicegraph: no such graph %q", src)
	}
	cloned := g.Clone(devices.CopyDevice, devices.CopyHolder)
	s.graphs[dst] = cloned
	return cloned, nil
}

// Rename moves the graph known as src to dst, e.g. "staging" -> "system"
// once a commit completes successfully.
func (s *Store) Rename(src, dst Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[src]
	if !ok {
		return fmt.Errorf("devicegraph: no such graph %q", src)
	}
	delete(s.graphs, src)
	s.graphs[dst] = g
	return nil
}

// Equal reports whether the two named graphs are structurally
// identical: same device sids with Device.Equal payloads, and the same
// holder edges. The clone and XML save/load round-trip tests compare
// their results with it.
func Equal(a, b *devices.Graph) bool {
	if a.NumDevices() != b.NumDevices() || a.NumHolders() != b.NumHolders() {
		return false
	}
	for _, da := range a.Devices() {
		db, err := b.Device(da.Sid())
		if err != nil || !da.Equal(db) {
			return false
		}
	}
	for _, ha := range a.Holders() {
		hb, err := b.Holder(ha.Sid())
		if err != nil || ha.Kind() != hb.Kind() || ha.Source() != hb.Source() || ha.Target() != hb.Target() {
			return false
		}
	}
	return true
}
