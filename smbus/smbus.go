// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package smbus layers SMBus message semantics over the software I2C
// master: packet error checking with CRC-8, per-address PEC enablement and
// counted block transfers. Signaling is untouched; everything here is byte
// bookkeeping around the wire primitives.
package smbus

import "github.com/platinasystems/pmon/softi2c"

// Status is the outcome of one SMBus message.
type Status int

const (
	Ok Status = iota
	WriteAddressNack
	WriteDataNack
	ReadAddressNack
	IncorrectPec
	InvalidBlockByteCount
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case WriteAddressNack:
		return "no ack of address for write"
	case WriteDataNack:
		return "no ack of written data"
	case ReadAddressNack:
		return "no ack of address for read"
	case IncorrectPec:
		return "incorrect PEC"
	case InvalidBlockByteCount:
		return "invalid block byte count"
	}
	return "unknown status"
}

func (s Status) Error() string { return s.String() }

// Err returns nil for Ok and the status itself otherwise.
func (s Status) Err() error {
	if s == Ok {
		return nil
	}
	return s
}

// BlockMax is the SMBus limit on counted block payloads.
const BlockMax = 32

// Bus adds PEC and block semantics to one software I2C bus. Like the
// underlying master it is exclusively owned by the calling goroutine for
// the duration of any message.
type Bus struct {
	i2c    *softi2c.Bus
	table  [256]uint8
	pecFor map[uint8]bool

	pec    uint8 // running CRC, valid only within one message
	usePec bool

	// Diagnostics from the most recent message.
	LastCommand    uint8
	LastBlockCount uint8
	ExpectedPec    uint8
	ActualPec      uint8
}

// New builds the CRC-8 lookup table for the SMBus polynomial 0x07 and
// returns a Bus with PEC disabled for every address.
func New(i2c *softi2c.Bus) *Bus {
	b := &Bus{i2c: i2c, pecFor: make(map[uint8]bool)}
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
		b.table[i] = crc
	}
	return b
}

// CrcTable exposes the generated lookup table for self checks.
func (b *Bus) CrcTable() *[256]uint8 { return &b.table }

// EnablePec turns on packet error checking for every later message to the
// given 7-bit address.
func (b *Bus) EnablePec(addr uint8) { b.pecFor[addr&0x7f] = true }

func (b *Bus) PecEnabled(addr uint8) bool { return b.pecFor[addr&0x7f] }

// begin resets per-message state. The CRC accumulator is meaningful only
// from here to the message's STOP.
func (b *Bus) begin(addr, command uint8) {
	b.usePec = b.pecFor[addr&0x7f]
	b.pec = 0
	b.LastCommand = command
}

func (b *Bus) update(c uint8) {
	if b.usePec {
		b.pec = b.table[b.pec^c]
	}
}

// start issues a START or REPEATED START plus address byte and folds the
// address+direction byte into the running CRC. The address byte is part of
// the checksummed message even though callers never see it.
func (b *Bus) start(addr uint8, rw softi2c.RW) bool {
	if !b.i2c.Begin(addr, rw) {
		return false
	}
	b.update(addr<<1 | uint8(rw))
	return true
}

func (b *Bus) send(c uint8) bool {
	if !b.i2c.TransmitByte(c) {
		return false
	}
	b.update(c)
	return true
}

func (b *Bus) recv(last bool) uint8 {
	c := b.i2c.ReceiveByte(last)
	b.update(c)
	return c
}

// checkPec reads the slave's PEC byte (always the last byte of the read,
// so it is NACKed) and compares it to the accumulated value. Both bytes
// are kept for diagnostics.
func (b *Bus) checkPec() Status {
	if !b.usePec {
		return Ok
	}
	b.ExpectedPec = b.pec
	b.ActualPec = b.i2c.ReceiveByte(true)
	if b.ActualPec != b.ExpectedPec {
		return IncorrectPec
	}
	return Ok
}

// Write sends command plus data bytes as one message, with a trailing PEC
// byte when enabled for addr. The bus is freed on every return.
func (b *Bus) Write(addr, command uint8, data []byte) Status {
	b.begin(addr, command)
	defer b.i2c.Stop()
	if !b.start(addr, softi2c.Write) {
		return WriteAddressNack
	}
	if !b.send(command) {
		return WriteDataNack
	}
	for _, c := range data {
		if !b.send(c) {
			return WriteDataNack
		}
	}
	if b.usePec && !b.i2c.TransmitByte(b.pec) {
		return WriteDataNack
	}
	return Ok
}

// Read writes command, turns the bus around with a REPEATED START and
// reads n data bytes, then the PEC byte when enabled. The bus is freed on
// every return, including address NACKs.
func (b *Bus) Read(addr, command uint8, n int) (Status, []byte) {
	b.begin(addr, command)
	defer b.i2c.Stop()
	if !b.start(addr, softi2c.Write) {
		return WriteAddressNack, nil
	}
	if !b.send(command) {
		return WriteDataNack, nil
	}
	if !b.start(addr, softi2c.Read) {
		return ReadAddressNack, nil
	}
	data := b.recvN(n)
	if st := b.checkPec(); st != Ok {
		return st, nil
	}
	return Ok, data
}

// BlockRead is Read with a leading byte count from the slave. A count of
// zero or above max aborts with InvalidBlockByteCount; one more byte is
// then NACK-read so the slave releases the data line before the STOP.
func (b *Bus) BlockRead(addr, command uint8, max int) (Status, []byte) {
	b.begin(addr, command)
	defer b.i2c.Stop()
	if !b.start(addr, softi2c.Write) {
		return WriteAddressNack, nil
	}
	if !b.send(command) {
		return WriteDataNack, nil
	}
	if !b.start(addr, softi2c.Read) {
		return ReadAddressNack, nil
	}
	return b.recvBlock(max)
}

// BlockProcessCall writes a counted block for the given command, then
// turns the bus around and reads a counted block back within the same
// message. The PEC, when enabled, spans both phases.
func (b *Bus) BlockProcessCall(addr, command uint8, wr []byte, max int) (Status, []byte) {
	b.begin(addr, command)
	defer b.i2c.Stop()
	if !b.start(addr, softi2c.Write) {
		return WriteAddressNack, nil
	}
	if !b.send(command) || !b.send(uint8(len(wr))) {
		return WriteDataNack, nil
	}
	for _, c := range wr {
		if !b.send(c) {
			return WriteDataNack, nil
		}
	}
	if !b.start(addr, softi2c.Read) {
		return ReadAddressNack, nil
	}
	return b.recvBlock(max)
}

func (b *Bus) recvN(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = b.recv(i == n-1 && !b.usePec)
	}
	return data
}

func (b *Bus) recvBlock(max int) (Status, []byte) {
	count := int(b.recv(false))
	b.LastBlockCount = uint8(count)
	if count == 0 || count > max || count > BlockMax {
		// The count byte was already ACKed, so the slave is driving
		// the first data byte; drain it with a NACK to get the line
		// released, then let the deferred STOP free the bus.
		b.i2c.ReceiveByte(true)
		return InvalidBlockByteCount, nil
	}
	data := b.recvN(count)
	if st := b.checkPec(); st != Ok {
		return st, nil
	}
	return Ok, data
}
