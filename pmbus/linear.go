// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package pmbus

import "math"

// TwosComplement extracts the signed field of the given width whose least
// significant bit sits at position lsb. When the field's sign bit is set
// the complementary high bits are ORed in before reinterpreting as signed.
func TwosComplement(word uint16, width, lsb uint) int {
	f := (word >> lsb) & (1<<width - 1)
	if f&(1<<(width-1)) != 0 {
		f |= ^uint16(0) << width
	}
	return int(int16(f))
}

// Linear11 decodes the PMBus direct linear word format: a 5-bit signed
// exponent in bits 15-11 and an 11-bit signed mantissa in bits 10-0,
// value = mantissa * 2^exponent.
func Linear11(word uint16) float64 {
	exp := TwosComplement(word, 5, 11)
	man := TwosComplement(word, 11, 0)
	return float64(man) * math.Exp2(float64(exp))
}

// Linear16 decodes the unsigned voltage word format against the scale
// factor derived from VOUT_MODE.
func Linear16(word uint16, scale float64) float64 {
	return float64(word) * scale
}

// VOUT_MODE fields: bits 7-5 select the data format, bits 4-0 are a 5-bit
// two's complement exponent in linear mode.
const voutModeLinear = 0

// VoutScale returns the Linear16 multiplier 2^exponent for a VOUT_MODE
// byte. The second return is false for VID, direct or any other non-linear
// mode, which this package does not decode.
func VoutScale(mode uint8) (float64, bool) {
	if mode>>5 != voutModeLinear {
		return 0, false
	}
	exp := TwosComplement(uint16(mode), 5, 0)
	return math.Exp2(float64(exp)), true
}
