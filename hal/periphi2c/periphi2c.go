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

// Package periphi2c provides an I2C backend on top of the periph.io
// host drivers. It registers itself with hal under the provider name
// "periph" and accepts specs of the form "<bus-name>:<slave-addr>",
// e.g. "1:0x48" or "I2C1:0x48".
package periphi2c

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SEReaderProject/go-sereader/hal"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Max clock frequency (400 kHz).
const maxClockFreq = 400 * physic.KiloHertz

func init() {
	hal.RegisterI2C("periph", func(args string) (hal.I2C, error) {
		idx := strings.LastIndexByte(args, ':')
		if idx < 0 {
			return nil, fmt.Errorf("%w: no I2C slave address in %q", hal.ErrInvalidConfig, args)
		}
		addr, err := strconv.ParseUint(args[idx+1:], 0, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid I2C address %q: %w", hal.ErrInvalidConfig, args[idx+1:], err)
		}
		return New(args[:idx], uint16(addr))
	})
}

// Transport is an I2C slave connection through periph.io.
type Transport struct {
	bus     i2c.BusCloser
	dev     *i2c.Dev
	busName string
}

// New opens the named periph.io I2C bus and addresses the given slave.
func New(busName string, addr uint16) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	return &Transport{
		bus:     bus,
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		busName: busName,
	}, nil
}

// Read fills buf from the slave in a single transaction.
func (t *Transport) Read(buf []byte) (int, error) {
	if err := t.dev.Tx(nil, buf); err != nil {
		return 0, fmt.Errorf("I2C read on %s failed: %w", t.busName, err)
	}
	return len(buf), nil
}

// Write sends buf to the slave in a single transaction.
func (t *Transport) Write(buf []byte) (int, error) {
	if err := t.dev.Tx(buf, nil); err != nil {
		return 0, fmt.Errorf("I2C write on %s failed: %w", t.busName, err)
	}
	return len(buf), nil
}

// Close closes the underlying bus.
func (t *Transport) Close() error {
	if t.bus == nil {
		return nil
	}
	err := t.bus.Close()
	t.bus = nil
	if err != nil {
		return fmt.Errorf("failed to close I2C bus %s: %w", t.busName, err)
	}
	return nil
}

// Ensure Transport implements hal.I2C
var _ hal.I2C = (*Transport)(nil)
