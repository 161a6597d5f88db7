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

// Package i2cdev provides the Linux i2c-dev character-device backend.
// It registers itself with hal under the provider name "kernel" and
// accepts specs of the form "<device-path>:<slave-addr>", e.g.
// "/dev/i2c-1:0x48".
package i2cdev

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SEReaderProject/go-sereader/hal"
	"golang.org/x/sys/unix"
)

// I2C_SLAVE from <linux/i2c-dev.h>: bind the fd to a 7-bit slave address.
const i2cSlave = 0x0703

func init() {
	hal.RegisterI2C("kernel", func(args string) (hal.I2C, error) {
		path, addr, err := parseSpec(args)
		if err != nil {
			return nil, err
		}
		return New(path, addr)
	})
}

// Device is an I2C slave connection through the i2c-dev interface.
type Device struct {
	path string
	fd   int
}

// parseSpec parses "<device-path>:<slave-addr>". The address accepts
// decimal or 0x-prefixed hex.
func parseSpec(args string) (path string, addr uint16, err error) {
	idx := strings.IndexByte(args, ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("%w: no I2C slave address in %q", hal.ErrInvalidConfig, args)
	}

	path = args[:idx]
	v, err := strconv.ParseUint(args[idx+1:], 0, 16)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid I2C address %q: %w", hal.ErrInvalidConfig, args[idx+1:], err)
	}

	return path, uint16(v), nil
}

// New opens the given i2c-dev character device and binds the slave address.
func New(path string, addr uint16) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open I2C device %s: %w", path, err)
	}

	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("could not set I2C address %#x on %s: %w", addr, path, err)
	}

	return &Device{path: path, fd: fd}, nil
}

// Read reads up to len(buf) bytes from the slave. The raw errno is
// returned unwrapped so hal.IsNotReady can classify the NACK condition.
func (d *Device) Read(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes up to len(buf) bytes to the slave.
func (d *Device) Write(buf []byte) (int, error) {
	n, err := unix.Write(d.fd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close releases the device fd.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return fmt.Errorf("could not close I2C device %s: %w", d.path, err)
	}
	return nil
}

// Ensure Device implements hal.I2C
var _ hal.I2C = (*Device)(nil)
