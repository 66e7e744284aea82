// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package smbus_test

import (
	"bytes"
	"testing"

	"github.com/platinasystems/pmon/sim"
	"github.com/platinasystems/pmon/smbus"
	"github.com/platinasystems/pmon/softi2c"
)

var pins = softi2c.Pins{
	Select: 1 << 0,
	SCLOut: 1 << 1,
	SDAOut: 1 << 2,
	SDAIn:  1 << 3,
}

var simPins = sim.Pins{
	SCLOut: 1 << 1,
	SDAOut: 1 << 2,
	SDAIn:  1 << 3,
}

const slaveAddr = 0x40

func newBus(t *testing.T, dev sim.Device) (*smbus.Bus, *sim.Slave) {
	t.Helper()
	s := sim.New(slaveAddr, simPins, dev)
	return smbus.New(softi2c.New(s, pins)), s
}

func TestCrcTable(t *testing.T) {
	b, _ := newBus(t, new(sim.RegFile))
	table := b.CrcTable()
	if table[0] != 0x00 {
		t.Errorf("table[0] = %#02x, want 0", table[0])
	}
	if table[1] != 0x07 {
		t.Errorf("table[1] = %#02x, want the polynomial", table[1])
	}
	// CRC-8/SMBUS check value.
	crc := uint8(0)
	for _, c := range []byte("123456789") {
		crc = table[crc^c]
	}
	if crc != 0xf4 {
		t.Errorf("check(123456789) = %#02x, want 0xf4", crc)
	}
}

func TestWriteReadBack(t *testing.T) {
	b, _ := newBus(t, new(sim.RegFile))

	if st := b.Write(slaveAddr, 0x30, []byte{0x11, 0x22, 0x33}); st != smbus.Ok {
		t.Fatal(st)
	}
	st, data := b.Read(slaveAddr, 0x30, 3)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if !bytes.Equal(data, []byte{0x11, 0x22, 0x33}) {
		t.Fatalf("read back % x", data)
	}
}

func TestReadWithPec(t *testing.T) {
	b, s := newBus(t, &sim.PMBus{Capability: 0xb0})
	s.Pec = true
	b.EnablePec(slaveAddr)

	st, data := b.Read(slaveAddr, 0x19, 1)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if len(data) != 1 || data[0] != 0xb0 {
		t.Fatalf("capability = % x", data)
	}
	if b.ExpectedPec != b.ActualPec {
		t.Fatalf("expected pec %#02x, slave sent %#02x",
			b.ExpectedPec, b.ActualPec)
	}
	// Both sides must agree with an independent CRC-8 over the full
	// addressed message: write address, command, read address, data.
	want := refCrc8([]byte{slaveAddr << 1, 0x19, slaveAddr<<1 | 1, 0xb0})
	if b.ActualPec != want {
		t.Fatalf("pec %#02x over the message, want %#02x",
			b.ActualPec, want)
	}
}

// refCrc8 is a bitwise CRC-8 with polynomial 0x07, independent of the
// table-driven one under test.
func refCrc8(data []byte) (crc uint8) {
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

func TestIncorrectPec(t *testing.T) {
	b, s := newBus(t, &sim.PMBus{Capability: 0xb0})
	s.Pec = true
	s.BadPec = true
	b.EnablePec(slaveAddr)

	st, data := b.Read(slaveAddr, 0x19, 1)
	if st != smbus.IncorrectPec {
		t.Fatalf("status %v, want IncorrectPec", st)
	}
	if data != nil {
		t.Fatal("data returned despite bad PEC")
	}
	if b.ActualPec != b.ExpectedPec^0xff {
		t.Fatalf("expected pec %#02x, slave sent %#02x",
			b.ExpectedPec, b.ActualPec)
	}
}

func TestBlockRead(t *testing.T) {
	b, _ := newBus(t, &sim.PMBus{Id: "LTC"})

	st, data := b.BlockRead(slaveAddr, 0x99, smbus.BlockMax)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if string(data) != "LTC" {
		t.Fatalf("block = %q", data)
	}
	if b.LastBlockCount != 3 {
		t.Fatalf("count = %d", b.LastBlockCount)
	}
}

func TestBlockReadWithPec(t *testing.T) {
	b, s := newBus(t, &sim.PMBus{Id: "LTC"})
	s.Pec = true
	b.EnablePec(slaveAddr)

	st, data := b.BlockRead(slaveAddr, 0x99, smbus.BlockMax)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if string(data) != "LTC" {
		t.Fatalf("block = %q", data)
	}
}

func TestBlockCountBounds(t *testing.T) {
	for _, tc := range []struct {
		name  string
		id    string
		count int
		max   int
		want  uint8
	}{
		{"zero", "", 0, smbus.BlockMax, 0},
		{"over max", "0123456789", 0, 4, 10},
		{"over smbus limit", "x", 40, smbus.BlockMax, 40},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, s := newBus(t, &sim.PMBus{
				Id:         tc.id,
				IdCount:    tc.count,
				Capability: 0xb0,
			})
			st, data := b.BlockRead(slaveAddr, 0x99, tc.max)
			if st != smbus.InvalidBlockByteCount {
				t.Fatalf("status %v, want InvalidBlockByteCount",
					st)
			}
			if data != nil {
				t.Fatal("data returned despite bad count")
			}
			if b.LastBlockCount != tc.want {
				t.Fatalf("count = %d, want %d",
					b.LastBlockCount, tc.want)
			}
			// The abort must leave the bus released and usable.
			if s.Stops == 0 {
				t.Fatal("no STOP after abort")
			}
			if st, _ := b.Read(slaveAddr, 0x19, 1); st != smbus.Ok {
				t.Fatalf("bus unusable after abort: %v", st)
			}
		})
	}
}

func TestBlockProcessCall(t *testing.T) {
	b, _ := newBus(t, &sim.PMBus{
		Words: map[uint16]uint16{1<<8 | 0x8b: 0x1234},
	})

	// PAGE_PLUS_READ of READ_VOUT on page 1.
	st, data := b.BlockProcessCall(slaveAddr, 0x06, []byte{1, 0x8b},
		smbus.BlockMax)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if !bytes.Equal(data, []byte{0x34, 0x12}) {
		t.Fatalf("reply = % x", data)
	}
}

func TestBlockProcessCallWithPec(t *testing.T) {
	b, s := newBus(t, &sim.PMBus{
		Words: map[uint16]uint16{1<<8 | 0x8b: 0x1234},
	})
	s.Pec = true
	b.EnablePec(slaveAddr)

	st, data := b.BlockProcessCall(slaveAddr, 0x06, []byte{1, 0x8b},
		smbus.BlockMax)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if !bytes.Equal(data, []byte{0x34, 0x12}) {
		t.Fatalf("reply = % x", data)
	}
}

func TestNacks(t *testing.T) {
	t.Run("address", func(t *testing.T) {
		b, s := newBus(t, new(sim.RegFile))
		s.NoAckAddr = true
		if st := b.Write(slaveAddr, 0x00, nil); st != smbus.WriteAddressNack {
			t.Fatalf("status %v, want WriteAddressNack", st)
		}
		if st, _ := b.Read(slaveAddr, 0x00, 1); st != smbus.WriteAddressNack {
			t.Fatalf("status %v, want WriteAddressNack", st)
		}
	})
	t.Run("command", func(t *testing.T) {
		b, s := newBus(t, new(sim.RegFile))
		s.NackDataAfter = 0
		if st := b.Write(slaveAddr, 0x00, nil); st != smbus.WriteDataNack {
			t.Fatalf("status %v, want WriteDataNack", st)
		}
	})
	t.Run("data", func(t *testing.T) {
		b, s := newBus(t, new(sim.RegFile))
		s.NackDataAfter = 1
		if st := b.Write(slaveAddr, 0x00, []byte{1}); st != smbus.WriteDataNack {
			t.Fatalf("status %v, want WriteDataNack", st)
		}
	})
	t.Run("read address", func(t *testing.T) {
		b, s := newBus(t, new(sim.RegFile))
		s.NoAckRead = true
		if st, _ := b.Read(slaveAddr, 0x00, 1); st != smbus.ReadAddressNack {
			t.Fatalf("status %v, want ReadAddressNack", st)
		}
	})
}

func TestStatusErr(t *testing.T) {
	if err := smbus.Ok.Err(); err != nil {
		t.Fatal(err)
	}
	if err := smbus.IncorrectPec.Err(); err == nil {
		t.Fatal("IncorrectPec.Err() = nil")
	}
}

func TestPecPerAddress(t *testing.T) {
	b, _ := newBus(t, new(sim.RegFile))
	b.EnablePec(0x40)
	if !b.PecEnabled(0x40) {
		t.Fatal("0x40 not enabled")
	}
	if b.PecEnabled(0x41) {
		t.Fatal("0x41 enabled by accident")
	}
}
