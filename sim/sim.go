// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package sim provides a wire level simulated SMBus slave for testing the
// software I2C stack without hardware. A Slave implements regio.Word: it
// watches SCL and SDA edges in the words the master writes, decodes START,
// STOP and data bits, ACKs its address and serves bytes from a Device
// model, optionally followed by a PEC byte.
package sim

import "github.com/platinasystems/pmon/regio"

// Pins mirrors the register bit assignment of the bus under test.
type Pins struct {
	SDAIn  uint32
	SDAOut uint32
	SCLOut uint32
}

// Device models the register behavior behind a simulated slave.
type Device interface {
	// Reply builds the bytes served to a read phase, given the data
	// bytes written since the preceding START (the first one is the
	// command code). written is empty for a read with no write phase.
	// The master NACKs when it has read enough; a Device may return
	// more bytes than will be consumed.
	Reply(written []byte) []byte

	// Commit finalizes a message that ended in a STOP without a read
	// phase.
	Commit(written []byte)
}

// Slave is a regio.Word wired up like an SMBus slave.
type Slave struct {
	pins Pins
	addr uint8
	dev  Device

	// Fault injection.
	NoAckAddr     bool // never acknowledge the address byte
	NoAckRead     bool // acknowledge writes but NACK the read address
	NackDataAfter int  // NACK write data bytes from this index on, <0 off
	Pec           bool // append a PEC byte to read replies
	BadPec        bool // corrupt the appended PEC

	// Condition counters for tests.
	Starts int
	Stops  int
	Acks   int // master ACKs of served read bytes
	Nacks  int // master NACKs of served read bytes

	prev     uint32
	havePrev bool
	pullLow  bool // slave driving SDA low

	state    state
	bit      uint
	cur      uint8
	rw       uint8
	selected bool
	inMsg    bool
	acked    bool
	written  []byte
	msg      []byte // every acked byte of the message, for PEC
	queue    []byte
	qpos     int
}

type state int

const (
	idle state = iota
	addrBits
	addrAck
	wrBits
	wrAck
	rdBits
	rdAck
)

var _ regio.Word = &Slave{}

func New(addr uint8, pins Pins, dev Device) *Slave {
	return &Slave{pins: pins, addr: addr, dev: dev, NackDataAfter: -1}
}

// line is high when neither master nor slave drives SDA low.
func (s *Slave) line(word uint32) bool {
	return word&s.pins.SDAOut != 0 && !s.pullLow
}

func (s *Slave) Read() uint32 {
	var v uint32
	if s.line(s.prev) {
		v |= s.pins.SDAIn
	}
	return v
}

func (s *Slave) Write(word uint32) {
	if !s.havePrev {
		s.prev, s.havePrev = word, true
		return
	}
	prev := s.prev
	s.prev = word

	sclWas := prev&s.pins.SCLOut != 0
	sclNow := word&s.pins.SCLOut != 0
	sdaWas := s.line(prev)
	sdaNow := s.line(word)

	switch {
	case sclWas && sclNow:
		// SDA transitions while SCL is high frame the message.
		if sdaWas && !sdaNow {
			s.onStart()
		} else if !sdaWas && sdaNow {
			s.onStop()
		}
	case !sclWas && sclNow:
		s.onSclRise(sdaNow)
	case sclWas && !sclNow:
		s.onSclFall()
	}
}

func (s *Slave) onStart() {
	s.Starts++
	if !s.inMsg {
		s.inMsg = true
		s.written = nil
		s.msg = nil
	}
	s.state = addrBits
	s.bit, s.cur = 0, 0
	s.pullLow = false
}

func (s *Slave) onStop() {
	s.Stops++
	if s.inMsg && s.selected && s.rw == 0 && len(s.written) > 0 {
		s.dev.Commit(s.written)
	}
	s.inMsg = false
	s.selected = false
	s.state = idle
	s.pullLow = false
}

func (s *Slave) onSclRise(sda bool) {
	switch s.state {
	case addrBits, wrBits:
		s.cur = s.cur<<1 | b2u(sda)
		s.bit++
	case rdAck:
		s.acked = !sda
	}
}

// All slave-driven SDA changes happen on falling clock edges, while the
// master holds SCL low.
func (s *Slave) onSclFall() {
	switch s.state {
	case addrBits:
		if s.bit < 8 {
			break
		}
		s.rw = s.cur & 1
		s.selected = s.cur>>1 == s.addr && !s.NoAckAddr &&
			!(s.rw == 1 && s.NoAckRead)
		if s.selected {
			s.pullLow = true // ACK
			s.msg = append(s.msg, s.cur)
		}
		s.state = addrAck

	case addrAck:
		s.pullLow = false
		if !s.selected {
			s.state = idle
			break
		}
		if s.rw == 1 {
			s.buildReply()
			s.state = rdBits
			s.bit = 0
			s.driveBit()
		} else {
			s.state = wrBits
			s.bit, s.cur = 0, 0
		}

	case wrBits:
		if s.bit < 8 {
			break
		}
		if s.NackDataAfter < 0 || len(s.written) < s.NackDataAfter {
			s.pullLow = true
			s.written = append(s.written, s.cur)
			s.msg = append(s.msg, s.cur)
		}
		s.state = wrAck

	case wrAck:
		s.pullLow = false
		s.state = wrBits
		s.bit, s.cur = 0, 0

	case rdBits:
		s.bit++
		if s.bit < 8 {
			s.driveBit()
		} else {
			s.pullLow = false // release for the master's ACK
			s.state = rdAck
			s.acked = false
		}

	case rdAck:
		s.qpos++
		if s.acked {
			s.Acks++
		} else {
			s.Nacks++
		}
		if !s.acked {
			// NACK: the master is done with this read.
			s.pullLow = false
			s.state = idle
			break
		}
		s.state = rdBits
		s.bit = 0
		s.driveBit()
	}
}

func (s *Slave) driveBit() {
	c := uint8(0xff) // queue ran dry; a released line reads all ones
	if s.qpos < len(s.queue) {
		c = s.queue[s.qpos]
	}
	s.pullLow = c&(0x80>>s.bit) == 0
}

// buildReply queues the Device's reply bytes, optionally PEC terminated.
// The read-phase address byte is already in msg: the ACK path records every
// acknowledged byte, addresses included.
func (s *Slave) buildReply() {
	reply := s.dev.Reply(s.written)
	s.written = nil
	if s.Pec {
		pec := crc8(append(append([]byte{}, s.msg...), reply...))
		if s.BadPec {
			pec ^= 0xff
		}
		reply = append(append([]byte{}, reply...), pec)
	}
	s.msg = append(s.msg, reply...)
	s.queue, s.qpos = reply, 0
}

// crc8 is CRC-8/SMBus, polynomial 0x07, computed bitwise.
func crc8(data []byte) (crc uint8) {
	for _, c := range data {
		crc ^= c
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return
}

func b2u(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
