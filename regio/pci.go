// Copyright © 2015-2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FindBar scans /sys/bus/pci/devices for the first function matching the
// given vendor and device IDs and returns the physical base address of the
// requested memory BAR with its attribute bits masked off.
func FindBar(vendor, device uint16, bar int) (base uintptr, err error) {
	if bar < 0 || bar > 5 {
		return 0, fmt.Errorf("BAR%d: out of range", bar)
	}

	matches, err := filepath.Glob("/sys/bus/pci/devices/*/config")
	if err != nil {
		return
	}

	for _, cfg := range matches {
		found := func() bool {
			f, ferr := os.Open(cfg)
			if ferr != nil {
				return false
			}
			defer f.Close()

			var buf [4]byte
			if _, ferr = f.Read(buf[:4]); ferr != nil {
				return false
			}
			v := uint16(buf[0]) + uint16(buf[1])<<8
			d := uint16(buf[2]) + uint16(buf[3])<<8
			if v != vendor || d != device {
				return false
			}

			// BAR0 lives at config offset 0x10.
			if _, ferr = f.Seek(int64(0x10+4*bar), io.SeekStart); ferr != nil {
				return false
			}
			if _, ferr = f.Read(buf[:4]); ferr != nil {
				return false
			}
			lo := le32(buf)

			// A 64-bit memory BAR holds its upper half in the
			// following dword.
			var hi uint32
			if lo&1 == 0 && lo>>1&3 == 2 {
				if bar == 5 {
					return false
				}
				if _, ferr = f.Read(buf[:4]); ferr != nil {
					return false
				}
				hi = le32(buf)
			}

			b, ok := barBase(lo, hi)
			if !ok {
				return false
			}
			base = b
			return base != 0
		}()
		if found {
			return
		}
	}

	err = fmt.Errorf("pci %04x:%04x: no device with memory BAR%d",
		vendor, device, bar)
	return
}

// barBase decodes a BAR's low dword, and for 64-bit memory BARs the
// following dword, into a physical base address. I/O space BARs, reserved
// type encodings and addresses beyond this platform's pointer width are
// rejected.
func barBase(lo, hi uint32) (uintptr, bool) {
	if lo&1 != 0 {
		// I/O space BAR, not memory.
		return 0, false
	}
	switch lo >> 1 & 3 {
	case 0: // 32-bit
		hi = 0
	case 2: // 64-bit
	default:
		return 0, false
	}
	b := uint64(hi)<<32 | uint64(lo&^0xf)
	base := uintptr(b)
	if uint64(base) != b {
		return 0, false
	}
	return base, true
}

func le32(buf [4]byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 |
		uint32(buf[2])<<16 | uint32(buf[3])<<24
}
