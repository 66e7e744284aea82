// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Pmon is a one-shot diagnostic for PMBus devices on the software I2C
// bus. Don't run it while pmond owns the bus; use pmond's RPC socket
// instead.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"

	"github.com/platinasystems/pmon/pmbus"
	"github.com/platinasystems/pmon/pmbus/ltm4676"
	"github.com/platinasystems/pmon/regio"
	"github.com/platinasystems/pmon/smbus"
	"github.com/platinasystems/pmon/softi2c"
)

const usage = `pmon [OPTIONS] id ADDR
pmon [OPTIONS] scan ADDR
pmon [OPTIONS] wp ADDR
pmon [OPTIONS] get ADDR.CMD[.N]

OPTIONS: [base=HEXADDR | vendor=HEXID device=HEXID [bar=N]] [offset=HEXOFF]
ADDR, CMD are hex; N is a decimal byte count (default 1)`

var pins = softi2c.Pins{
	Select: 1 << 0,
	SCLOut: 1 << 1,
	SDAOut: 1 << 2,
	SDAIn:  1 << 3,
}

func main() {
	if err := Main(os.Args[1:]...); err != nil {
		log.Print("err", "pmon: ", err)
		os.Exit(1)
	}
}

func Main(args ...string) error {
	flag, args := flags.New(args, "-h")
	parm, args := parms.New(args, "base", "offset", "vendor", "device",
		"bar")
	if flag.ByName["-h"] || len(args) == 0 {
		fmt.Println(usage)
		return nil
	}

	word, err := openWord(parm)
	if err != nil {
		return err
	}
	bus := smbus.New(softi2c.New(word, pins))

	verb := args[0]
	args = args[1:]
	if len(args) != 1 {
		return fmt.Errorf("%s: expects one argument", verb)
	}

	switch verb {
	case "get":
		return get(bus, args[0])
	case "id", "scan", "wp":
		var addr uint8
		if _, err := fmt.Sscanf(args[0], "%x", &addr); err != nil {
			return fmt.Errorf("%q: invalid ADDR: %w", args[0], err)
		}
		dev := &pmbus.Dev{Bus: bus, Addr: addr}
		prof := ltm4676.Profile{}
		if _, st := dev.ReadCapability(); st != smbus.Ok {
			return fmt.Errorf("%#02x: %w", addr, st)
		}
		switch verb {
		case "id":
			return id(dev)
		case "scan":
			return scan(dev, prof)
		case "wp":
			return wp(dev, prof)
		}
	}
	return fmt.Errorf("%s: unknown command", verb)
}

func id(dev *pmbus.Dev) error {
	rev, st := dev.ReadRevision()
	if st != smbus.Ok {
		return st
	}
	mfr, st := dev.ReadMfrId()
	if st != smbus.Ok {
		return st
	}
	model, st := dev.ReadMfrModel()
	if st != smbus.Ok {
		return st
	}
	fmt.Printf("%#02x: %s %s pmbus r%d.%d pec %t\n", dev.Addr, mfr,
		model, rev>>4, rev&0xf, dev.Bus.PecEnabled(dev.Addr))
	return nil
}

func scan(dev *pmbus.Dev, prof pmbus.Profile) error {
	rs, err := dev.Scan(prof)
	if err != nil {
		return err
	}
	defs := prof.Sensors()
	fmt.Printf("%12s|%6s|%10s|%10s|%10s\n",
		"sensor", "page", "units", "raw", "value")
	for i, r := range rs {
		pages := 1
		if defs[i].Paged {
			pages = prof.Pages()
		}
		for p := 0; p < pages; p++ {
			fmt.Printf("%12s|%6d|%10s|%#10x|%10.3f\n",
				defs[i].Name, p, defs[i].Unit,
				r.Raw[p], r.Value[p])
		}
	}
	return nil
}

func wp(dev *pmbus.Dev, prof pmbus.Profile) error {
	raw, st := dev.ReadByte(pmbus.WriteProtect)
	if st != smbus.Ok {
		return st
	}
	common, st := dev.ReadByte(ltm4676.MfrCommon)
	if st != smbus.Ok {
		return st
	}
	fmt.Printf("%#02x: WRITE_PROTECT %#02x: %s\n", dev.Addr, raw,
		prof.WriteProtectText(raw))
	fmt.Printf("%#02x: MFR_COMMON %#02x: %s\n", dev.Addr, common,
		ltm4676.CommonText(common))
	return nil
}

// get reads N bytes of a raw command code, ADDR.CMD[.N] all hex but N.
func get(bus *smbus.Bus, arg string) error {
	var addr, cmd uint8
	n := 1
	if _, err := fmt.Sscanf(arg, "%x.%x.%d", &addr, &cmd, &n); err != nil {
		if _, err = fmt.Sscanf(arg, "%x.%x", &addr, &cmd); err != nil {
			return fmt.Errorf("%q: invalid ADDR.CMD[.N]: %w",
				arg, err)
		}
	}
	if n < 1 || n > smbus.BlockMax {
		return fmt.Errorf("%d: invalid byte count", n)
	}
	st, data := bus.Read(addr, cmd, n)
	if st != smbus.Ok {
		return st
	}
	fmt.Printf("%02x.%02x = % x\n", addr, cmd, data)
	return nil
}

func openWord(parm *parms.Parms) (regio.Word, error) {
	var base uintptr
	if s := parm.ByName["base"]; s != "" {
		if _, err := fmt.Sscanf(s, "%x", &base); err != nil {
			return nil, fmt.Errorf("base %q: %w", s, err)
		}
	} else {
		var vendor, device uint16
		bar := 0
		if _, err := fmt.Sscanf(parm.ByName["vendor"], "%x",
			&vendor); err != nil {
			return nil, fmt.Errorf("vendor: %w", err)
		}
		if _, err := fmt.Sscanf(parm.ByName["device"], "%x",
			&device); err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
		if s := parm.ByName["bar"]; s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("bar %q: %w", s, err)
			}
			bar = n
		}
		b, err := regio.FindBar(vendor, device, bar)
		if err != nil {
			return nil, err
		}
		base = b
	}
	var offset uintptr
	if s := parm.ByName["offset"]; s != "" {
		if _, err := fmt.Sscanf(s, "%x", &offset); err != nil {
			return nil, fmt.Errorf("offset %q: %w", s, err)
		}
	}
	return regio.OpenMem(base, offset)
}
