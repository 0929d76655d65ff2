// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textui renders human-facing output: the commit engine's
// progress messages, x/text-backed printf wrappers, and IEC-scaled byte
// sizes for devices and partitions.
package textui

import (
	"fmt"
	"io"
	"math"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"go.storagectl.dev/storagectl/internal/fmtutil"
)

var printer = message.NewPrinter(language.English)

// Fprintf is like fmt.Fprintf but goes through the x/text message
// printer, for locale-aware number grouping in plan/commit output.
func Fprintf(w io.Writer, key string, a ...any) (n int, err error) {
	return printer.Fprintf(w, key, a...)
}

// Sprintf is like fmt.Sprintf but goes through the x/text message printer.
func Sprintf(key string, a ...any) string {
	return printer.Sprintf(key, a...)
}

// Portion renders a fraction N/D as a percentage and exact ratio, e.g.
// N=3, D=17 renders as "18% (3/17)".
type Portion[T constraints.Integer] struct {
	N, D T
}

var _ fmt.Stringer = Portion[int]{}

func (p Portion[T]) String() string {
	pct := float64(1)
	if p.D > 0 {
		pct = float64(p.N) / float64(p.D)
	}
	return printer.Sprintf("%v (%v/%v)", number.Percent(pct), uint64(p.N), uint64(p.D))
}

type iec[T constraints.Integer | constraints.Float] struct {
	Val  T
	Unit string
}

var (
	_ fmt.Formatter = iec[int]{}
	_ fmt.Stringer  = iec[int]{}
)

// IEC renders a byte count with a binary (Ki/Mi/Gi/...) unit prefix, used
// by `storagectl show` for device sizes.
func IEC[T constraints.Integer | constraints.Float](x T, unit string) iec[T] {
	return iec[T]{Val: x, Unit: unit}
}

var iecPrefixes = []string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi", "Yi"}

func (v iec[T]) Format(f fmt.State, verb rune) {
	var prefix string
	y := math.Abs(float64(v.Val))
	for i := 0; y > 1024 && i <= len(iecPrefixes); i++ {
		y /= 1024
		prefix = iecPrefixes[i]
	}
	if v.Val < 0 {
		y = -y
	}
	printer.Fprintf(f, fmtutil.FmtStateString(f, verb)+"%s%s", number.Decimal(y), prefix, v.Unit)
}

func (v iec[T]) String() string {
	return fmt.Sprint(v)
}
