// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package pmbus_test

import (
	"testing"

	"github.com/platinasystems/pmon/pmbus"
	"github.com/platinasystems/pmon/pmbus/ltm4676"
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

func newDev(t *testing.T, model *sim.PMBus) (*pmbus.Dev, *sim.Slave) {
	t.Helper()
	s := sim.New(slaveAddr, simPins, model)
	bus := smbus.New(softi2c.New(s, pins))
	return &pmbus.Dev{Bus: bus, Addr: slaveAddr}, s
}

func TestIdentify(t *testing.T) {
	dev, s := newDev(t, &sim.PMBus{
		Capability: 0xb0,
		Revision:   0x22,
		Id:         "LTC",
		Model:      "LTM4676A",
	})
	s.Pec = true

	capa, st := dev.ReadCapability()
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if capa != 0xb0 {
		t.Fatalf("capability = %#02x", capa)
	}
	// Bit 7 advertised PEC, so everything from here on is checked.
	if !dev.Bus.PecEnabled(slaveAddr) {
		t.Fatal("PEC not enabled by capability bit")
	}

	rev, st := dev.ReadRevision()
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if rev != 0x22 {
		t.Fatalf("revision = %#02x", rev)
	}

	id, st := dev.ReadMfrId()
	if st != smbus.Ok {
		t.Fatal(st)
	}
	model, st := dev.ReadMfrModel()
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if id != "LTC" || model != "LTM4676A" {
		t.Fatalf("identity = %q %q", id, model)
	}
}

func TestCapabilityWithoutPec(t *testing.T) {
	dev, _ := newDev(t, &sim.PMBus{Capability: 0x30})

	if _, st := dev.ReadCapability(); st != smbus.Ok {
		t.Fatal(st)
	}
	if dev.Bus.PecEnabled(slaveAddr) {
		t.Fatal("PEC enabled without the capability bit")
	}
}

func TestPagedReadWord(t *testing.T) {
	dev, _ := newDev(t, &sim.PMBus{
		Words: map[uint16]uint16{
			0<<8 | pmbus.ReadVout: 0x1111,
			1<<8 | pmbus.ReadVout: 0x2222,
		},
	})

	for page, want := range []uint16{0x1111, 0x2222} {
		got, st := dev.PagedReadWord(uint8(page), pmbus.ReadVout)
		if st != smbus.Ok {
			t.Fatal(st)
		}
		if got != want {
			t.Fatalf("page %d: %#04x, want %#04x", page, got, want)
		}
	}
}

// The reply to PAGE_PLUS_READ must be exactly the caller's fixed size.
func TestPagedReadCountMismatch(t *testing.T) {
	dev, _ := newDev(t, &sim.PMBus{})

	if _, st := dev.PagedRead(0, pmbus.VoutMode, 3); st != smbus.InvalidBlockByteCount {
		t.Fatalf("status %v, want InvalidBlockByteCount", st)
	}
}

func TestScan(t *testing.T) {
	model := &sim.PMBus{
		Capability: 0xb0,
		VoutMode:   [2]uint8{0x13, 0x14}, // 2^-13, 2^-12
		Words: map[uint16]uint16{
			0<<8 | pmbus.ReadVin:   0xd3c0, // 15 V
			0<<8 | pmbus.ReadVout:  0x2000, // 1 V at 2^-13
			1<<8 | pmbus.ReadVout:  0x3000, // 3 V at 2^-12
			0<<8 | pmbus.ReadIout:  0xd8a0, // 5 A
			1<<8 | pmbus.ReadIout:  0xd850, // 2.5 A
			0<<8 | pmbus.ReadTemp1: 0xf846, // 35 C
			1<<8 | pmbus.ReadTemp1: 0xf850, // 40 C
			0<<8 | pmbus.ReadTemp2: 0x001e, // 30 C
			0<<8 | pmbus.ReadPout:  0x0805, // 10 W
			1<<8 | pmbus.ReadPout:  0x0803, // 6 W
		},
	}
	dev, s := newDev(t, model)
	s.Pec = true
	if _, st := dev.ReadCapability(); st != smbus.Ok {
		t.Fatal(st)
	}

	prof := ltm4676.Profile{}
	rs, err := dev.Scan(prof)
	if err != nil {
		t.Fatal(err)
	}
	defs := prof.Sensors()
	if len(rs) != len(defs) {
		t.Fatalf("%d readings for %d sensors", len(rs), len(defs))
	}

	want := map[string][2]float64{
		"vin":          {15, 0},
		"vout":         {1, 3},
		"iout":         {5, 2.5},
		"temp.power":   {35, 40},
		"temp.control": {30, 0},
		"pout":         {10, 6},
	}
	for i, def := range defs {
		w, ok := want[def.Name]
		if !ok {
			t.Fatalf("unexpected sensor %q", def.Name)
		}
		pages := 1
		if def.Paged {
			pages = prof.Pages()
		}
		for p := 0; p < pages; p++ {
			if rs[i].Value[p] != w[p] {
				t.Errorf("%s page %d = %v, want %v",
					def.Name, p, rs[i].Value[p], w[p])
			}
		}
	}
}

func TestScanRejectsNonLinearVoutMode(t *testing.T) {
	dev, _ := newDev(t, &sim.PMBus{
		VoutMode: [2]uint8{0x13, 0x40}, // page 1 in VID mode
	})

	if _, err := dev.Scan(ltm4676.Profile{}); err != pmbus.ErrVoutMode {
		t.Fatalf("err = %v, want ErrVoutMode", err)
	}
}

func TestReadSensorsPageBounds(t *testing.T) {
	dev, _ := newDev(t, &sim.PMBus{})
	for _, pages := range []int{0, pmbus.MaxPages + 1} {
		if _, err := dev.ReadSensors(pages, nil); err == nil {
			t.Errorf("%d pages accepted", pages)
		}
	}
}

func TestReadWordLittleEndian(t *testing.T) {
	dev, _ := newDev(t, &sim.PMBus{
		Words: map[uint16]uint16{0<<8 | pmbus.ReadVin: 0x1234},
	})
	got, st := dev.ReadWord(pmbus.ReadVin)
	if st != smbus.Ok {
		t.Fatal(st)
	}
	if got != 0x1234 {
		t.Fatalf("word = %#04x, want 0x1234", got)
	}
}
