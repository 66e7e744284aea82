// Copyright © 2015-2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package regio provides access to a single 32-bit memory mapped register.
package regio

// Word is a 32-bit read/write register. The software I2C driver is the only
// writer; concurrent writers corrupt its shadow state.
type Word interface {
	Read() uint32
	Write(uint32)
}

// Func adapts a pair of closures to Word.
type Func struct {
	R func() uint32
	W func(uint32)
}

func (f Func) Read() uint32   { return f.R() }
func (f Func) Write(v uint32) { f.W(v) }
