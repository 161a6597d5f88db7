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

/*
Package sereader exposes embedded secure elements wired over I2C as
smart-card readers.

Unlike a contactless card, a soldered-down secure element never leaves
the reader, has no slot to enumerate and often needs a GPIO line wiggled
to power it. This module hides those differences behind a uniform
Reader: power control, answer-to-reset, and APDU exchange. The SE05x
device speaks a T=1-style block protocol with CRC-16 framing, sequence
numbers, chaining and waiting-time extensions; the Kerkey device uses a
simpler length-prefixed framing. The ifd package maps readers onto the
surface a PC/SC IFD handler needs.

Basic usage:

	import (
	    sereader "github.com/SEReaderProject/go-sereader"

	    // Register the HAL backends referenced by the config string.
	    _ "github.com/SEReaderProject/go-sereader/hal/gpiodev"
	    _ "github.com/SEReaderProject/go-sereader/hal/i2cdev"
	)

	reader, err := sereader.Open("se05x:i2c:kernel:/dev/i2c-1:0x48@gpio:kernel:0:n16")
	if err != nil {
	    log.Fatal(err)
	}
	defer reader.Close()

	atr, err := reader.ATR()
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Printf("ATR: % X\n", atr)

	rx := make([]byte, 258)
	n, err := reader.Transceive([]byte{0x00, 0xA4, 0x04, 0x00}, rx)
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Printf("response: % X\n", rx[:n])

Readers are single-threaded by design; wrap them externally when
multiple goroutines must share one element.
*/
package sereader
