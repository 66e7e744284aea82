// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package pmbus

import (
	"fmt"

	"github.com/platinasystems/pmon/smbus"
)

// Format selects the numeric encoding of a telemetry word.
type Format int

const (
	FormatLinear11 Format = iota // signed exponent and mantissa in one word
	FormatLinear16               // unsigned mantissa scaled by VOUT_MODE
)

func (f Format) String() string {
	switch f {
	case FormatLinear11:
		return "linear11"
	case FormatLinear16:
		return "linear16"
	}
	return "unknown"
}

// Sensor statically describes one telemetry point of a device. Tables of
// these are defined per device profile and never mutated.
type Sensor struct {
	Command uint8
	Format  Format
	Paged   bool // replicated per output page
	Name    string
	Unit    string
}

// MaxPages bounds the per-page arrays of a Reading; the supported devices
// have at most two output pages.
const MaxPages = 2

// Reading is one polled sensor value: the raw register word and the scaled
// physical value, per page for paged sensors, at index 0 otherwise.
type Reading struct {
	Raw   [MaxPages]uint16
	Value [MaxPages]float64
}

// ErrVoutMode aborts a sensor scan when any page's VOUT_MODE is not in
// linear mode; no partial results are returned.
var ErrVoutMode = fmt.Errorf("unsupported VOUT_MODE data format")

// ReadSensors polls every sensor definition on a device with the given
// number of output pages and returns readings aligned with defs. The scan
// first reads VOUT_MODE on every page to derive the Linear16 scale, then
// gathers every raw word, then scales them.
func (d *Dev) ReadSensors(pages int, defs []Sensor) ([]Reading, error) {
	if pages < 1 || pages > MaxPages {
		return nil, fmt.Errorf("%d pages: out of range", pages)
	}

	var scale [MaxPages]float64
	for p := 0; p < pages; p++ {
		data, st := d.PagedRead(uint8(p), VoutMode, 1)
		if st != smbus.Ok {
			return nil, st
		}
		s, ok := VoutScale(data[0])
		if !ok {
			return nil, ErrVoutMode
		}
		scale[p] = s
	}

	rs := make([]Reading, len(defs))
	for i := range defs {
		def := &defs[i]
		n := 1
		if def.Paged {
			n = pages
		}
		for p := 0; p < n; p++ {
			var word uint16
			var st smbus.Status
			if def.Paged {
				word, st = d.PagedReadWord(uint8(p), def.Command)
			} else {
				word, st = d.ReadWord(def.Command)
			}
			if st != smbus.Ok {
				return nil, st
			}
			rs[i].Raw[p] = word
		}
	}

	for i := range defs {
		def := &defs[i]
		n := 1
		if def.Paged {
			n = pages
		}
		for p := 0; p < n; p++ {
			switch def.Format {
			case FormatLinear11:
				rs[i].Value[p] = Linear11(rs[i].Raw[p])
			case FormatLinear16:
				rs[i].Value[p] = Linear16(rs[i].Raw[p], scale[p])
			}
		}
	}
	return rs, nil
}

// Profile describes a supported device type: its identity, page count,
// sensor table and any manufacturer specific decode.
type Profile interface {
	Model() string
	Pages() int
	Sensors() []Sensor
	// WriteProtectText renders a WRITE_PROTECT byte for display.
	WriteProtectText(raw uint8) string
}

// Scan polls a device using its profile's page count and sensor table.
func (d *Dev) Scan(p Profile) ([]Reading, error) {
	return d.ReadSensors(p.Pages(), p.Sensors())
}

// WriteProtectText renders the standard PMBus WRITE_PROTECT levels;
// profiles with plain semantics can use it as is.
func WriteProtectText(raw uint8) string {
	switch raw & 0xe0 {
	case 0x80:
		return "all writes disabled but WRITE_PROTECT"
	case 0x40:
		return "writes disabled but WRITE_PROTECT, OPERATION and PAGE"
	case 0x20:
		return "writes disabled but WRITE_PROTECT, OPERATION, PAGE, ON_OFF_CONFIG and VOUT_COMMAND"
	case 0x00:
		return "all writes enabled"
	}
	return fmt.Sprintf("unknown (%#02x)", raw)
}
