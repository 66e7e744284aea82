// Copyright © 2015-2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regio

import (
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Mem is a Word mapped from /dev/mem.
type Mem struct {
	f   *os.File
	mem []byte
	reg *uint32
}

// OpenMem maps the page containing base+offset and returns a Word for the
// 32-bit register there. The register must be 4 byte aligned.
func OpenMem(base, offset uintptr) (m *Mem, err error) {
	addr := base + offset
	if addr&3 != 0 {
		return nil, fmt.Errorf("regio: %#x: not 32-bit aligned", addr)
	}
	pagesz := uintptr(syscall.Getpagesize())
	pagebase := addr &^ (pagesz - 1)

	m = new(Mem)
	m.f, err = os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.f.Close()
		}
	}()

	m.mem, err = syscall.Mmap(int(m.f.Fd()), int64(pagebase), int(pagesz),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %#x: %s", pagebase, err)
	}
	m.reg = (*uint32)(unsafe.Pointer(&m.mem[addr-pagebase]))
	return m, nil
}

func (m *Mem) Read() uint32   { return atomic.LoadUint32(m.reg) }
func (m *Mem) Write(v uint32) { atomic.StoreUint32(m.reg, v) }

func (m *Mem) Close() (err error) {
	if m.mem != nil {
		err = syscall.Munmap(m.mem)
		m.mem = nil
	}
	if m.f != nil {
		m.f.Close()
		m.f = nil
	}
	return
}
