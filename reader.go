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

package sereader

import (
	"fmt"
	"strings"

	"github.com/SEReaderProject/go-sereader/hal"
	"github.com/SEReaderProject/go-sereader/kerkey"
	"github.com/SEReaderProject/go-sereader/se05x"
)

// Reader is a powered-up secure element behind an I2C bus, presented
// the way a smart-card reader presents a card: it answers a reset with
// an ATR and exchanges APDUs.
//
// Implementations are not safe for concurrent use by multiple callers.
type Reader interface {
	// ATR returns the answer-to-reset of the element
	ATR() ([]byte, error)
	// PowerUp powers the element on
	PowerUp() error
	// PowerDown powers the element off
	PowerDown() error
	// WarmReset resets the element without a power cycle
	WarmReset() error
	// Transceive exchanges one APDU and returns the response length
	Transceive(tx, rx []byte) (int, error)
	// Close releases the underlying bus and line handles
	Close() error
}

// Open creates a reader from a config string of the form
// "<provider>:<provider-config>", e.g.
//
//	se05x:i2c:kernel:/dev/i2c-1:0x48@gpio:kernel:0:n16
//	kerkey:i2c:kernel:/dev/i2c-0:0x20
//
// The provider-config syntax is documented by the device packages.
func Open(config string) (Reader, error) {
	idx := strings.IndexByte(config, ':')
	if idx < 0 {
		return nil, fmt.Errorf("%w: no provider in %q", hal.ErrInvalidConfig, config)
	}

	provider, args := config[:idx], config[idx+1:]
	switch provider {
	case "se05x":
		return se05x.Open(args)
	case "kerkey":
		return kerkey.Open(args)
	default:
		return nil, fmt.Errorf("%w: SE %q", hal.ErrUnknownProvider, provider)
	}
}

// Ensure the device packages satisfy Reader
var (
	_ Reader = (*se05x.Device)(nil)
	_ Reader = (*kerkey.Device)(nil)
)
