// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

// Optional[T] is an explicit maybe-value, used for device attributes that
// are legitimately absent (a Filesystem with no label, a MountPoint with
// no passno) as opposed to zero-valued.
type Optional[T any] struct {
	OK  bool
	Val T
}

func Some[T any](v T) Optional[T] { return Optional[T]{OK: true, Val: v} }

func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it was present.
func (o Optional[T]) Get() (T, bool) { return o.Val, o.OK }

// GetOr returns the value if present, else fallback.
func (o Optional[T]) GetOr(fallback T) T {
	if o.OK {
		return o.Val
	}
	return fallback
}
