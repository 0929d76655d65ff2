// Package containers holds the generic index/set data structures that back
// the device graph substrate, the pool allocator's free-extent bookkeeping
// and the action graph's deterministic ordering. Adapted from the
// btrfs-progs-ng containers package; generalized to key on arbitrary
// orderable values instead of disk addresses.
package containers

import (
	"golang.org/x/exp/constraints"
)

// Ordered is satisfied by any type with a three-way comparison, the way a
// disk address or a sid needs one to live in an RBTree.
type Ordered[T any] interface {
	Cmp(T) int
}

// NativeOrdered adapts any constraints.Ordered builtin to the Ordered
// interface, so it can be used as an RBTree or SortedMap key.
type NativeOrdered[T constraints.Ordered] struct {
	Val T
}

func (a NativeOrdered[T]) Cmp(b NativeOrdered[T]) int {
	switch {
	case a.Val < b.Val:
		return -1
	case a.Val > b.Val:
		return 1
	default:
		return 0
	}
}

var _ Ordered[NativeOrdered[int]] = NativeOrdered[int]{}

func CmpUint[T constraints.Unsigned](a, b T) int {
	switch {
	case a < b:
		return -1
	case a == b:
		return 0
	default:
		return 1
	}
}
