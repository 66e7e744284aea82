// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Pmond polls PMBus power monitors over the software I2C bus and publishes
// changed telemetry to the local redis hash. It is the sole owner of the
// bus; raw register access for field debug goes through its RPC socket
// instead of a second bus master.
package main

import (
	"fmt"
	"net/rpc"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/atsock"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/redis/publisher"

	"github.com/platinasystems/pmon/pmbus"
	"github.com/platinasystems/pmon/pmbus/ltm4676"
	"github.com/platinasystems/pmon/regio"
	"github.com/platinasystems/pmon/smbus"
	"github.com/platinasystems/pmon/softi2c"
)

const usage = `pmond [-dry-run] [base=HEXADDR | vendor=HEXID device=HEXID [bar=N]]
	[offset=HEXOFF] [addr=HEXADDR[,HEXADDR]] [interval=SECONDS]`

// Register bit assignment of the diag GPIO word.
var pins = softi2c.Pins{
	Select: 1 << 0,
	SCLOut: 1 << 1,
	SDAOut: 1 << 2,
	SDAIn:  1 << 3,
}

type daemon struct {
	mutex  sync.Mutex
	bus    *smbus.Bus
	devs   []*pmbus.Dev
	prof   pmbus.Profile
	pub    *publisher.Publisher
	last   map[string]float64
	dryRun bool
}

func main() {
	if err := Main(os.Args[1:]...); err != nil {
		log.Print("err", "pmond: ", err)
		os.Exit(1)
	}
}

func Main(args ...string) error {
	flag, args := flags.New(args, "-h", "-dry-run")
	parm, args := parms.New(args, "base", "offset", "vendor", "device",
		"bar", "addr", "interval")
	if flag.ByName["-h"] {
		fmt.Println(usage)
		return nil
	}
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}

	word, err := openWord(parm)
	if err != nil {
		return err
	}

	addrs, err := parseAddrs(parm.ByName["addr"])
	if err != nil {
		return err
	}

	interval := 10 * time.Second
	if s := parm.ByName["interval"]; s != "" {
		sec, err := strconv.Atoi(s)
		if err != nil || sec < 1 {
			return fmt.Errorf("interval %q: invalid", s)
		}
		interval = time.Duration(sec) * time.Second
	}

	d := &daemon{
		bus:    smbus.New(softi2c.New(word, pins)),
		prof:   ltm4676.Profile{},
		last:   make(map[string]float64),
		dryRun: flag.ByName["-dry-run"],
	}
	for _, a := range addrs {
		d.devs = append(d.devs, &pmbus.Dev{Bus: d.bus, Addr: a})
	}

	if !d.dryRun {
		if d.pub, err = publisher.New(); err != nil {
			return err
		}
		defer d.pub.Close()
	}

	if _, err := atsock.NewRpcServer("pmond"); err != nil {
		log.Print("warn", "pmond: rpc: ", err)
	} else {
		rpc.Register(&Raw{d})
	}

	d.identify()

	b := &backoff.Backoff{
		Min:    interval,
		Max:    10 * interval,
		Factor: 2,
		Jitter: false,
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		if err := d.update(); err != nil {
			log.Print("err", "pmond: ", err)
			time.Sleep(b.Duration())
		} else {
			b.Reset()
		}
	}
	return nil
}

// identify reads capability before anything else so PEC gets enabled for
// devices that support it, then revision and identity.
func (d *daemon) identify() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, dev := range d.devs {
		capa, st := dev.ReadCapability()
		if st != smbus.Ok {
			log.Print("warn", "pmond: ", dev.Addr, ": ", st)
			continue
		}
		rev, _ := dev.ReadRevision()
		id, _ := dev.ReadMfrId()
		model, _ := dev.ReadMfrModel()
		log.Print("pmond: ", fmt.Sprintf(
			"%#02x: %s %s capability %#02x revision %#02x pec %t",
			dev.Addr, id, model, capa, rev,
			d.bus.PecEnabled(dev.Addr)))
	}
}

func (d *daemon) update() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	defs := d.prof.Sensors()
	for _, dev := range d.devs {
		rs, err := dev.Scan(d.prof)
		if err != nil {
			return fmt.Errorf("%#02x: %w", dev.Addr, err)
		}
		for i, r := range rs {
			pages := 1
			if defs[i].Paged {
				pages = d.prof.Pages()
			}
			for p := 0; p < pages; p++ {
				k := fmt.Sprintf("pmon.%02x.%s.%d.units.%s",
					dev.Addr, defs[i].Name, p,
					defs[i].Unit)
				d.publish(k, r.Value[p])
			}
		}
	}
	return nil
}

func (d *daemon) publish(key string, v float64) {
	if v == d.last[key] {
		return
	}
	d.last[key] = v
	if d.dryRun {
		fmt.Printf("%s: %.3f\n", key, v)
		return
	}
	d.pub.Print(key, ": ", strconv.FormatFloat(v, 'f', 3, 64))
}

func openWord(parm *parms.Parms) (regio.Word, error) {
	var base uintptr
	if s := parm.ByName["base"]; s != "" {
		_, err := fmt.Sscanf(s, "%x", &base)
		if err != nil {
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

func parseAddrs(s string) ([]uint8, error) {
	if s == "" {
		return []uint8{0x40}, nil
	}
	var addrs []uint8
	for _, f := range strings.Split(s, ",") {
		var a uint8
		if _, err := fmt.Sscanf(f, "%x", &a); err != nil {
			return nil, fmt.Errorf("addr %q: %w", f, err)
		}
		if a > 0x7f {
			return nil, fmt.Errorf("addr %#x: not a 7-bit address", a)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// Raw serves one-off reads over the pmond RPC socket so field debug never
// races the poll loop for the bus.
type Raw struct {
	d *daemon
}

type RawReq struct {
	Addr    uint8
	Command uint8
	N       int
}

type RawRep struct {
	Data []byte
}

func (r *Raw) Read(req *RawReq, rep *RawRep) error {
	r.d.mutex.Lock()
	defer r.d.mutex.Unlock()
	st, data := r.d.bus.Read(req.Addr, req.Command, req.N)
	if st != smbus.Ok {
		return st
	}
	rep.Data = data
	return nil
}

func (r *Raw) BlockRead(req *RawReq, rep *RawRep) error {
	r.d.mutex.Lock()
	defer r.d.mutex.Unlock()
	st, data := r.d.bus.BlockRead(req.Addr, req.Command, smbus.BlockMax)
	if st != smbus.Ok {
		return st
	}
	rep.Data = data
	return nil
}
