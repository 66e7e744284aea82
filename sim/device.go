// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package sim

// RegFile is a byte addressable register file: the first written byte
// selects a register, further bytes are stored from there, and a read
// serves successive registers from the selection. It echoes what was
// written, which is what loopback tests need.
type RegFile struct {
	Regs [256]byte
	ptr  uint8
}

func (r *RegFile) Commit(written []byte) {
	if len(written) == 0 {
		return
	}
	r.ptr = written[0]
	for i, c := range written[1:] {
		r.Regs[r.ptr+uint8(i)] = c
	}
}

func (r *RegFile) Reply(written []byte) []byte {
	if len(written) > 0 {
		r.ptr = written[0]
	}
	out := make([]byte, 32)
	for i := range out {
		out[i] = r.Regs[r.ptr+uint8(i)]
	}
	return out
}

// PMBus models a two page PMBus telemetry device. Command codes are the
// part's own, from the PMBus command table.
type PMBus struct {
	Capability   uint8
	Revision     uint8
	Id           string
	Model        string
	WriteProtect uint8
	MfrCommon    uint8
	VoutMode     [2]uint8
	Words        map[uint16]uint16 // page<<8|command -> raw word

	// IdCount overrides the byte count announced for MFR_ID block
	// reads, for bounds testing. 0 means the true length.
	IdCount int

	page uint8
}

func (d *PMBus) Commit(written []byte) {
	if len(written) >= 2 && written[0] == 0x00 { // PAGE
		d.page = written[1]
	}
}

func (d *PMBus) Reply(written []byte) []byte {
	if len(written) == 0 {
		return []byte{0xff}
	}
	switch cmd := written[0]; cmd {
	case 0x06: // PAGE_PLUS_READ: count, page, command
		if len(written) != 4 || written[1] != 2 {
			return []byte{0}
		}
		data := d.value(written[2], written[3])
		return append([]byte{uint8(len(data))}, data...)
	case 0x19: // CAPABILITY
		return []byte{d.Capability}
	case 0x98: // PMBUS_REVISION
		return []byte{d.Revision}
	case 0x99: // MFR_ID
		return d.block(d.Id, d.IdCount)
	case 0x9a: // MFR_MODEL
		return d.block(d.Model, 0)
	default:
		return d.value(d.page, cmd)
	}
}

func (d *PMBus) value(page, cmd uint8) []byte {
	switch cmd {
	case 0x10: // WRITE_PROTECT
		return []byte{d.WriteProtect}
	case 0x20: // VOUT_MODE
		return []byte{d.VoutMode[page&1]}
	case 0xef: // MFR_COMMON
		return []byte{d.MfrCommon}
	}
	w := d.Words[uint16(page)<<8|uint16(cmd)]
	return []byte{uint8(w), uint8(w >> 8)}
}

func (d *PMBus) block(s string, count int) []byte {
	if count == 0 {
		count = len(s)
	}
	return append([]byte{uint8(count)}, s...)
}
