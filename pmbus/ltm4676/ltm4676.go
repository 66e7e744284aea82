// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package ltm4676 is the device profile for the LTM4676A dual output
// µModule regulator: its two page sensor table and the decode of its
// manufacturer specific status and write protect registers. It contains no
// protocol logic of its own.
package ltm4676

import (
	"strings"

	"github.com/platinasystems/pmon/pmbus"
)

// MfrCommon (0xEF) status bits.
const (
	MfrCommon = 0xef

	MfrCommonNotBusy      = 1 << 6 // chip not busy
	MfrCommonCalcsDone    = 1 << 5 // internal calculations not pending
	MfrCommonOutputSteady = 1 << 4 // output not in transition
	MfrCommonNvmDone      = 1 << 3 // NVM initialized
	MfrCommonWpPinHigh    = 1 << 2 // write protect pin asserted
)

type Profile struct{}

var _ pmbus.Profile = Profile{}

func (Profile) Model() string { return "LTM4676A" }

func (Profile) Pages() int { return 2 }

var sensors = []pmbus.Sensor{
	{Command: pmbus.ReadVin, Format: pmbus.FormatLinear11, Paged: false, Name: "vin", Unit: "V"},
	{Command: pmbus.ReadVout, Format: pmbus.FormatLinear16, Paged: true, Name: "vout", Unit: "V"},
	{Command: pmbus.ReadIout, Format: pmbus.FormatLinear11, Paged: true, Name: "iout", Unit: "A"},
	{Command: pmbus.ReadTemp1, Format: pmbus.FormatLinear11, Paged: true, Name: "temp.power", Unit: "C"},
	{Command: pmbus.ReadTemp2, Format: pmbus.FormatLinear11, Paged: false, Name: "temp.control", Unit: "C"},
	{Command: pmbus.ReadPout, Format: pmbus.FormatLinear11, Paged: true, Name: "pout", Unit: "W"},
}

func (Profile) Sensors() []pmbus.Sensor { return sensors }

// WriteProtectText renders the LTM4676A's four WRITE_PROTECT levels. The
// part implements the standard PMBus levels; any other value means the
// register was never programmed sanely.
func (Profile) WriteProtectText(raw uint8) string {
	return pmbus.WriteProtectText(raw)
}

// CommonText renders an MFR_COMMON byte as the list of conditions it
// reports.
func CommonText(raw uint8) string {
	var s []string
	if raw&MfrCommonNotBusy == 0 {
		s = append(s, "busy")
	}
	if raw&MfrCommonCalcsDone == 0 {
		s = append(s, "calculations pending")
	}
	if raw&MfrCommonOutputSteady == 0 {
		s = append(s, "output in transition")
	}
	if raw&MfrCommonNvmDone == 0 {
		s = append(s, "NVM uninitialized")
	}
	if raw&MfrCommonWpPinHigh != 0 {
		s = append(s, "write protect pin asserted")
	}
	if len(s) == 0 {
		return "ready"
	}
	return strings.Join(s, ", ")
}

// WriteProtectedByPin reports whether the hardware write protect pin is
// asserted in an MFR_COMMON byte, independent of the WRITE_PROTECT
// register level.
func WriteProtectedByPin(raw uint8) bool {
	return raw&MfrCommonWpPinHigh != 0
}
