// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package pmbus implements the PMBus command protocol over SMBus: fixed
// size and block reads of the standard command set, the PAGE_PLUS_READ
// composite, and telemetry scans with linear numeric decoding.
package pmbus

import "github.com/platinasystems/pmon/smbus"

// PMBus command codes consumed by this package.
const (
	Page          = 0x00
	PagePlusRead  = 0x06
	WriteProtect  = 0x10
	Capability    = 0x19
	VoutMode      = 0x20
	ReadVin       = 0x88
	ReadIin       = 0x89
	ReadVout      = 0x8b
	ReadIout      = 0x8c
	ReadTemp1     = 0x8d
	ReadTemp2     = 0x8e
	ReadPout      = 0x96
	ReadPin       = 0x97
	Revision      = 0x98
	MfrId         = 0x99
	MfrModel      = 0x9a
)

// CAPABILITY bits.
const (
	CapabilityPec = 1 << 7 // device supports packet error checking
)

// Dev is one PMBus device on a bus.
type Dev struct {
	Bus  *smbus.Bus
	Addr uint8
}

// ReadCapability reads CAPABILITY and, when the device advertises packet
// error checking, enables PEC for this address so every later message is
// checked. Per PMBus 1.2 this must be the first command sent to a device:
// enabling PEC earlier would checksum the capability read itself against a
// device that may not support it, and enabling it later leaves the
// revision read unchecked.
func (d *Dev) ReadCapability() (uint8, smbus.Status) {
	st, data := d.Bus.Read(d.Addr, Capability, 1)
	if st != smbus.Ok {
		return 0, st
	}
	if data[0]&CapabilityPec != 0 {
		d.Bus.EnablePec(d.Addr)
	}
	return data[0], smbus.Ok
}

// ReadRevision reads PMBUS_REVISION. Call ReadCapability first.
func (d *Dev) ReadRevision() (uint8, smbus.Status) {
	st, data := d.Bus.Read(d.Addr, Revision, 1)
	if st != smbus.Ok {
		return 0, st
	}
	return data[0], smbus.Ok
}

func (d *Dev) ReadByte(command uint8) (uint8, smbus.Status) {
	st, data := d.Bus.Read(d.Addr, command, 1)
	if st != smbus.Ok {
		return 0, st
	}
	return data[0], smbus.Ok
}

// ReadWord reads a 16-bit register, low byte first on the wire.
func (d *Dev) ReadWord(command uint8) (uint16, smbus.Status) {
	st, data := d.Bus.Read(d.Addr, command, 2)
	if st != smbus.Ok {
		return 0, st
	}
	return uint16(data[0]) | uint16(data[1])<<8, smbus.Ok
}

// ReadString block-reads an ASCII identity register such as MFR_ID or
// MFR_MODEL.
func (d *Dev) ReadString(command uint8) (string, smbus.Status) {
	st, data := d.Bus.BlockRead(d.Addr, command, smbus.BlockMax)
	if st != smbus.Ok {
		return "", st
	}
	return string(data), smbus.Ok
}

func (d *Dev) ReadMfrId() (string, smbus.Status)    { return d.ReadString(MfrId) }
func (d *Dev) ReadMfrModel() (string, smbus.Status) { return d.ReadString(MfrModel) }

// PagedRead reads n bytes of a command on the given output page in one
// message, using the PAGE_PLUS_READ block process call so the page select
// and the read cannot be split. It is defined only for commands with a
// fixed known reply size: any other block byte count is an error.
func (d *Dev) PagedRead(page, command uint8, n int) ([]byte, smbus.Status) {
	st, data := d.Bus.BlockProcessCall(d.Addr, PagePlusRead,
		[]byte{page, command}, n)
	if st != smbus.Ok {
		return nil, st
	}
	if len(data) != n {
		return nil, smbus.InvalidBlockByteCount
	}
	return data, smbus.Ok
}

// PagedReadWord is PagedRead of one 16-bit register, low byte first.
func (d *Dev) PagedReadWord(page, command uint8) (uint16, smbus.Status) {
	data, st := d.PagedRead(page, command, 2)
	if st != smbus.Ok {
		return 0, st
	}
	return uint16(data[0]) | uint16(data[1])<<8, smbus.Ok
}
