// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package softi2c is a software I2C bus master driven through two GPIO
// output bits and one input bit of a memory mapped register word. The
// target hardware has no I2C controller on this bus and cannot read the
// clock line back, so this driver is the sole master and runs open loop on
// busy-wait timing. Clock stretching slaves are not supported.
package softi2c

import (
	"time"

	"github.com/platinasystems/pmon/regio"
)

// Pins gives the register bit masks of the bus signals. SDAIn is the only
// readable bit; SDAOut and SCLOut read back as undefined, which is why Bus
// keeps a shadow of the output word. Select routes the bus to this software
// driver instead of the alternate hardware controller.
type Pins struct {
	SDAIn  uint32
	SDAOut uint32
	SCLOut uint32
	Select uint32
}

type RW int

const (
	Write RW = iota
	Read
)

// Bus is a software I2C master. One Bus exists per physical bus and must
// not be used from more than one goroutine at a time; the shadow word and
// the wire itself have no arbitration.
type Bus struct {
	io     regio.Word
	pins   Pins
	shadow uint32
}

// New claims the bus for the software driver and releases both lines.
// Outputs cannot be read back, so the shadow starts from this known state
// and every later write must go through Bus.
func New(io regio.Word, pins Pins) *Bus {
	b := &Bus{io: io, pins: pins}
	b.shadow = pins.Select | pins.SDAOut | pins.SCLOut
	b.io.Write(b.shadow)
	spin(tBuf)
	return b
}

// I2C Standard-Mode (100 kHz) minimum times.
const (
	tRise  = 1000 * time.Nanosecond // SDA/SCL rise
	tFall  = 300 * time.Nanosecond  // SDA/SCL fall
	tBuf   = 4700 * time.Nanosecond // bus free between STOP and START
	tSuSta = 4700 * time.Nanosecond // repeated START setup
	tHdSta = 4000 * time.Nanosecond // START hold
	tSuSto = 4000 * time.Nanosecond // STOP setup
	tLow   = 4700 * time.Nanosecond // SCL low period
	tHigh  = 4000 * time.Nanosecond // SCL high period
)

// spin busy-waits until at least d has elapsed on the monotonic clock.
// OS sleep granularity is far too coarse for protocol edges, so burn the
// CPU instead. Overshoot is harmless, returning early is not.
func spin(d time.Duration) {
	for t := time.Now(); time.Since(t) < d; {
	}
}

func (b *Bus) setSCL(hi bool) {
	if hi {
		b.shadow |= b.pins.SCLOut
	} else {
		b.shadow &^= b.pins.SCLOut
	}
	b.io.Write(b.shadow)
	if hi {
		spin(tRise)
	} else {
		spin(tFall)
	}
}

func (b *Bus) setSDA(hi bool) {
	if hi {
		b.shadow |= b.pins.SDAOut
	} else {
		b.shadow &^= b.pins.SDAOut
	}
	b.io.Write(b.shadow)
	if hi {
		spin(tRise)
	} else {
		spin(tFall)
	}
}

func (b *Bus) readSDA() bool { return b.io.Read()&b.pins.SDAIn != 0 }

// Begin claims the bus and transmits the address byte for the given
// direction. A high shadow SCL means the bus is idle and gets a START; a
// low one means a previous message left the bus claimed for a direction
// turn, so a REPEATED START is generated instead. Begin returns true only
// if a slave pulled SDA low on the ninth clock. On false the bus is still
// claimed and the caller must issue Stop to free it.
func (b *Bus) Begin(addr uint8, rw RW) bool {
	if b.shadow&b.pins.SCLOut != 0 {
		spin(tBuf)
		b.setSDA(false)
		spin(tHdSta)
		b.setSCL(false)
	} else {
		b.setSDA(true)
		b.setSCL(true)
		spin(tSuSta)
		b.setSDA(false)
		spin(tHdSta)
		b.setSCL(false)
	}
	return b.TransmitByte(addr<<1 | uint8(rw))
}

// TransmitByte shifts out one byte MSB first, each bit set while SCL is low
// and held through the high period, then releases SDA and samples the ACK
// on a ninth clock. True means the slave ACKed.
func (b *Bus) TransmitByte(c uint8) bool {
	for mask := uint8(0x80); mask != 0; mask >>= 1 {
		b.setSDA(c&mask != 0)
		b.setSCL(true)
		spin(tHigh)
		b.setSCL(false)
		spin(tLow)
	}
	b.setSDA(true)
	b.setSCL(true)
	spin(tHigh)
	ack := !b.readSDA()
	b.setSCL(false)
	spin(tLow)
	return ack
}

// ReceiveByte clocks in one byte MSB first. The ninth clock carries the
// master's acknowledge: SDA driven low when more bytes follow, left high
// (NACK) when last is true to tell the slave this was the final byte of
// the read.
func (b *Bus) ReceiveByte(last bool) (c uint8) {
	b.setSDA(true)
	for i := 0; i < 8; i++ {
		b.setSCL(true)
		spin(tHigh)
		c <<= 1
		if b.readSDA() {
			c |= 1
		}
		b.setSCL(false)
		spin(tLow)
	}
	b.setSDA(last)
	b.setSCL(true)
	spin(tHigh)
	b.setSCL(false)
	spin(tLow)
	b.setSDA(true)
	return
}

// Stop frees the bus: SDA rises while SCL is high. SCL is low on entry,
// which holds after Begin, TransmitByte and ReceiveByte.
func (b *Bus) Stop() {
	b.setSDA(false)
	b.setSCL(true)
	spin(tSuSto)
	b.setSDA(true)
	spin(tBuf)
}
