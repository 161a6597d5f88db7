// go-sereader
// Copyright (c) 2025 The SEReader Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sereader.
//
// go-sereader is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sereader is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sereader; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package se05x

import (
	"fmt"

	"github.com/SEReaderProject/go-sereader/internal/debuglog"
)

// The SE05x answers its reset with a proprietary ATR (see UM11225)
// that is longer than the 32 bytes ISO 7816-3 permits, so the host
// middleware cannot be handed the native bytes. ATR synthesizes a
// conforming one instead: a fixed interface-byte prologue announcing
// T=1 with IFSC 254, followed by the real historical bytes.
var atrPrologue = []byte{
	0x3B, // TS = 3B --> Direct Convention
	0xF0, // T0 = F0, Y(1): 1111, K: 0 (historical bytes)
	0x96, // TA(1) = 96 --> Fi=512, Di=32, 16 cycles/ETU
	0x00, // TB(1) = 00 --> VPP is not electrically connected
	0x00, // TC(1) = 00 --> Extra guard time: 0
	0x80, // TD(1) = 80 --> Y(i+1) = 1000, Protocol T = 0
	0x11, // TD(2) = 11 --> Y(i+1) = 0001, Protocol T = 1
	0xFE, // TA(3) = FE --> IFSC: 254
}

// maxHistoricalBytes is the K limit of the T0 byte.
const maxHistoricalBytes = 15

// ATR returns a conforming answer-to-reset synthesized from the ATR
// cached at the last reset.
//
// The native ATR is laid out as:
//
//	PVER(1) VID(5) DLLP_LEN(1) DLLP(DLLP_LEN)
//	PLID(1) PLP_LEN(1) PLP(PLP_LEN) HB_LEN(1) HB(HB_LEN)
//
// Only the historical bytes survive the rewrite.
func (d *Device) ATR() ([]byte, error) {
	if d.atr == nil {
		return nil, ErrNotPowered
	}

	debuglog.Debugf("native ATR from SE05x: %s", debuglog.Hex(d.atr))

	hb, err := historicalBytes(d.atr)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(atrPrologue)+len(hb)+1)
	out = append(out, atrPrologue...)
	out[1] |= byte(len(hb)) // K fixup in T0
	out = append(out, hb...)
	out = append(out, atrChecksum(out[1:])) // TCK

	return out, nil
}

// historicalBytes extracts the HB field from a native SE05x ATR.
func historicalBytes(atr []byte) ([]byte, error) {
	off := 1 + 5 // PVER, VID
	if off >= len(atr) {
		return nil, fmt.Errorf("%w: truncated ATR", ErrProtocol)
	}
	off += 1 + int(atr[off]) // DLLP_LEN + DLLP
	off++                    // PLID
	if off >= len(atr) {
		return nil, fmt.Errorf("%w: truncated ATR", ErrProtocol)
	}
	off += 1 + int(atr[off]) // PLP_LEN + PLP
	if off >= len(atr) {
		return nil, fmt.Errorf("%w: truncated ATR", ErrProtocol)
	}

	n := int(atr[off])
	off++ // HB_LEN

	if n > maxHistoricalBytes {
		return nil, fmt.Errorf("%w: %d historical bytes, at most %d allowed",
			ErrATRTooLong, n, maxHistoricalBytes)
	}
	if off+n > len(atr) {
		return nil, fmt.Errorf("%w: truncated ATR", ErrProtocol)
	}

	return atr[off : off+n], nil
}
