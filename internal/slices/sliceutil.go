// Package slices provides small generic slice helpers shared across the
// storage engine's graph, pool and action-ordering code.
package slices

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// Contains reports whether needle is present in haystack.
func Contains[T comparable](needle T, haystack []T) bool {
	for _, straw := range haystack {
		if needle == straw {
			return true
		}
	}
	return false
}

// Reverse reverses slice in place.
func Reverse[T any](slice []T) {
	for i := 0; i < len(slice)/2; i++ {
		j := (len(slice) - 1) - i
		slice[i], slice[j] = slice[j], slice[i]
	}
}

// Sort sorts an ordered slice in place, ascending.
func Sort[T constraints.Ordered](slice []T) {
	sort.Slice(slice, func(i, j int) bool {
		return slice[i] < slice[j]
	})
}
