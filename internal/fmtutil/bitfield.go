// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil holds small formatting helpers shared by the device
// model and the action graph's used-features reporting.
package fmtutil

import (
	"fmt"
	"strings"
)

type BitfieldFormat uint8

const (
	HexNone = BitfieldFormat(iota)
	HexLower
	HexUpper
)

// BitfieldString renders bitfield as a "NAME|NAME|..." string using
// bitnames[i] for bit i, falling back to "(1<<i)" for unnamed bits. Used
// by devicegraph.UsedFeatures.
func BitfieldString[T ~uint8 | ~uint16 | ~uint32 | ~uint64](bitfield T, bitnames []string, cfg BitfieldFormat) string {
	var out strings.Builder
	switch cfg {
	case HexNone:
	case HexLower:
		fmt.Fprintf(&out, "0x%0x(", uint64(bitfield))
	case HexUpper:
		fmt.Fprintf(&out, "0x%0X(", uint64(bitfield))
	}
	if bitfield == 0 {
		out.WriteString("none")
	} else {
		rest := bitfield
		first := true
		for i := 0; rest != 0; i++ {
			if rest&(1<<i) != 0 {
				if !first {
					out.WriteRune('|')
				}
				if i < len(bitnames) {
					out.WriteString(bitnames[i])
				} else {
					fmt.Fprintf(&out, "(1<<%v)", i)
				}
				first = false
			}
			rest &^= 1 << i
		}
	}
	if cfg != HexNone {
		out.WriteRune(')')
	}
	return out.String()
}

// FmtStateString returns the fmt.Printf format string that produced a
// given fmt.State and verb, so a custom Format method can delegate to
// golang.org/x/text/message.Printer while preserving width/precision/flags.
func FmtStateString(st fmt.State, verb rune) string {
	var ret strings.Builder
	ret.WriteByte('%')
	for _, flag := range []int{'-', '+', '#', ' ', '0'} {
		if st.Flag(flag) {
			ret.WriteByte(byte(flag))
		}
	}
	if width, ok := st.Width(); ok {
		fmt.Fprintf(&ret, "%v", width)
	}
	if prec, ok := st.Precision(); ok {
		if prec == 0 {
			ret.WriteByte('.')
		} else {
			fmt.Fprintf(&ret, ".%v", prec)
		}
	}
	ret.WriteRune(verb)
	return ret.String()
}
