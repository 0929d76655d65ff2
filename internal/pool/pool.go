// Package pool implements the Pool allocator of spec.md §4.J: given a
// candidate set of sids (an LvmVg's PVs, or a Btrfs's member devices)
// resolved against a devicegraph, provision N partitions of a requested
// size, choosing hosts to prefer less-used partitionables first,
// returning ErrOutOfSpace if the request cannot be satisfied.
//
// Grounded on original_source/storage/Pool.h for the contract shape
// (devicegraph-agnostic membership; query operations take a devicegraph
// and ignore sids that don't resolve in it; devices without a partition
// table are ignored) and the two-phase selection strategy described
// there: prefer less-used candidates first, then — a SPEC_FULL.md
// supplement, since Pool.h's own "TODO alignment considerations" leaves
// this unspecified — least alignment waste, then largest remaining
// capacity as a tie-break that preserves room for future large
// partitions. Grounded on the teacher's internal/containers.Set for the
// candidate membership type.
package pool

import (
	"fmt"
	"sort"

	"go.storagectl.dev/storagectl/internal/containers"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// ErrOutOfSpace is returned when no combination of candidates can
// satisfy a requested allocation size.
var ErrOutOfSpace = fmt.Errorf("pool: out of space")

// AlignmentUnits is the start-offset alignment allocations are rounded
// up to, in the same units as devices.Region. original_source's Pool.h
// leaves alignment as a "TODO"; this package picks the conventional
// 2048-sector (1 MiB at 512-byte sectors) boundary real partitioners
// default to.
const AlignmentUnits = 2048

// Region is one allocation's extent, in devices.Region's units.
type Region struct {
	Start  uint64
	Length uint64
}

// End returns the first unit past the region.
func (r Region) End() uint64 { return r.Start + r.Length }

// Pool holds the candidate member sids an allocation request draws
// from; membership is independent of any one devicegraph
// (original_source/Pool.h: "the devicegraph the device belongs to is
// irrelevant"). Resolve against a concrete *devices.Graph at
// CreatePartitions/MaxPartitionSize time.
type Pool struct {
	members containers.Set[sid.Sid]
}

// New builds a Pool from a candidate sid set (spec.md §4.J "candidate
// sid set").
func New(members containers.Set[sid.Sid]) *Pool {
	return &Pool{members: members}
}

// Allocation is one candidate's share of a satisfied request: the
// Partition device the CreatePartitions caller should materialize.
type Allocation struct {
	Sid    sid.Sid
	Region Region
}

// candidate is one pool member resolved against a devicegraph: a
// partitionable device with an existing partition table, plus its free
// regions computed as gaps between existing partitions.
// original_source/Pool.h: "Devices in the pool not of type partitionable
// or without a partition table are ignored."
type candidate struct {
	sid       sid.Sid
	usedCount int // number of existing partitions; the "less-used" tie-break key
	free      []Region
}

// resolve walks dg for every member sid, ignoring sids that don't
// resolve in it and members that aren't partitionable or carry no
// partition table (spec.md §4.J), and computes each survivor's free
// regions.
func (p *Pool) resolve(dg *devices.Graph) []*candidate {
	var out []*candidate
	for s := range p.members {
		d, err := dg.Device(s)
		if err != nil {
			continue
		}
		if !d.Kind.IsPartitionable() {
			continue
		}

		var table *devices.Device
		for _, child := range dg.Children(s, graph.ViewClassic) {
			if child.Kind.IsPartitionTable() {
				table = child
				break
			}
		}
		if table == nil {
			continue
		}

		var parts []*devices.Device
		for _, child := range dg.Children(table.Sid(), graph.ViewClassic) {
			if child.Kind == devices.KindPartition {
				parts = append(parts, child)
			}
		}
		out = append(out, &candidate{
			sid:       s,
			usedCount: len(parts),
			free:      freeRegions(d.Size, parts),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sid < out[j].sid })
	return out
}

// freeRegions computes the gaps in [0, size) not covered by any existing
// partition's Region.
func freeRegions(size uint64, parts []*devices.Device) []Region {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Region.Start < parts[j].Region.Start })

	var free []Region
	var cursor uint64
	for _, part := range parts {
		if part.Region.Start > cursor {
			free = append(free, Region{Start: cursor, Length: part.Region.Start - cursor})
		}
		if end := part.Region.End(); end > cursor {
			cursor = end
		}
	}
	if size > cursor {
		free = append(free, Region{Start: cursor, Length: size - cursor})
	}
	return free
}

// choice is one candidate region pickBest considered, scored against the
// requested size.
type choice struct {
	cand      *candidate
	regionIdx int
	aligned   Region
	waste     uint64
	leftover  uint64
}

// pickBest scans every candidate's free regions for one that can fit
// size after alignment, and returns the best by the two-phase strategy
// of spec.md §4.J: ascending usedCount (prefer less-used candidates
// first), then ascending alignment waste, then descending leftover
// capacity (preserve room for a future large partition).
func pickBest(cands []*candidate, size uint64) (best *candidate, regionIdx int, region Region, ok bool) {
	var choices []choice
	for _, c := range cands {
		for ri, r := range c.free {
			aligned := alignUp(r.Start, AlignmentUnits)
			if aligned >= r.End() {
				continue
			}
			waste := aligned - r.Start
			avail := r.Length - waste
			if avail < size {
				continue
			}
			choices = append(choices, choice{
				cand: c, regionIdx: ri,
				aligned:  Region{Start: aligned, Length: size},
				waste:    waste,
				leftover: avail - size,
			})
		}
	}
	if len(choices) == 0 {
		return nil, 0, Region{}, false
	}
	sort.Slice(choices, func(i, j int) bool {
		a, b := choices[i], choices[j]
		if a.cand.usedCount != b.cand.usedCount {
			return a.cand.usedCount < b.cand.usedCount
		}
		if a.waste != b.waste {
			return a.waste < b.waste
		}
		return a.leftover > b.leftover
	})
	pick := choices[0]
	return pick.cand, pick.regionIdx, pick.aligned, true
}

// consume removes the taken region from the candidate's free list,
// keeping whatever slack remains before/after it, and bumps usedCount so
// later picks in the same CreatePartitions call still prefer spreading
// across candidates.
func consume(c *candidate, regionIdx int, taken Region) {
	r := c.free[regionIdx]
	remaining := make([]Region, 0, 2)
	if taken.Start > r.Start {
		remaining = append(remaining, Region{Start: r.Start, Length: taken.Start - r.Start})
	}
	if end := taken.End(); end < r.End() {
		remaining = append(remaining, Region{Start: end, Length: r.End() - end})
	}
	next := make([]Region, 0, len(c.free)-1+len(remaining))
	next = append(next, c.free[:regionIdx]...)
	next = append(next, remaining...)
	next = append(next, c.free[regionIdx+1:]...)
	c.free = next
	c.usedCount++
}

func cloneCandidates(cands []*candidate) []*candidate {
	out := make([]*candidate, len(cands))
	for i, c := range cands {
		out[i] = &candidate{sid: c.sid, usedCount: c.usedCount, free: append([]Region(nil), c.free...)}
	}
	return out
}

// simulateCreate reports whether n partitions of size can be placed,
// running the same greedy algorithm CreatePartitions uses against a
// scratch copy of cands so MaxPartitionSize can probe feasibility
// without mutating the caller's state.
func simulateCreate(cands []*candidate, n int, size uint64) bool {
	if n <= 0 || size == 0 {
		return true
	}
	work := cloneCandidates(cands)
	for i := 0; i < n; i++ {
		c, ri, region, ok := pickBest(work, size)
		if !ok {
			return false
		}
		consume(c, ri, region)
	}
	return true
}

// MaxPartitionSize returns the largest size such that n partitions of
// that size can all be created right now (spec.md §4.J
// "max_partition_size"), binary-searching feasibility with the same
// greedy placement CreatePartitions performs since a single free region
// may itself host more than one of the n partitions.
func (p *Pool) MaxPartitionSize(dg *devices.Graph, n int) (uint64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("pool: n must be positive")
	}

	cands := p.resolve(dg)
	var maxRegion uint64
	for _, c := range cands {
		for _, r := range c.free {
			aligned := alignUp(r.Start, AlignmentUnits)
			if aligned >= r.End() {
				continue
			}
			if avail := r.End() - aligned; avail > maxRegion {
				maxRegion = avail
			}
		}
	}
	if maxRegion == 0 || !simulateCreate(cands, n, 1) {
		return 0, fmt.Errorf("%w: cannot fit %d partition(s) on any candidate", ErrOutOfSpace, n)
	}

	lo, hi := uint64(1), maxRegion
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if simulateCreate(cands, n, mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// CreatePartitions allocates exactly n partitions of size, resolved
// against dg (spec.md §4.J "create_partitions"). Each allocation's
// actual size may differ slightly from size due to alignment.
func (p *Pool) CreatePartitions(dg *devices.Graph, n int, size uint64) ([]Allocation, error) {
	if n <= 0 {
		return nil, nil
	}
	if size == 0 {
		return nil, fmt.Errorf("pool: size must be positive")
	}

	cands := p.resolve(dg)
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: no partitionable candidate with an existing partition table", ErrOutOfSpace)
	}

	var out []Allocation
	for i := 0; i < n; i++ {
		c, ri, region, ok := pickBest(cands, size)
		if !ok {
			return nil, fmt.Errorf("%w: placed %d of %d partitions of size %d", ErrOutOfSpace, len(out), n, size)
		}
		consume(c, ri, region)
		out = append(out, Allocation{Sid: c.sid, Region: region})
	}
	return out, nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}
