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

// Package gpiodev provides the GPIO character-device backend using the
// gpiochip line-handle ABI. It registers itself with hal under the
// provider name "kernel" and accepts specs of the form
// "<chip-index>:<[n]line-offset>", where the "n" prefix marks the line
// as active-low, e.g. "0:n16".
package gpiodev

import (
	"fmt"
	"strconv"
	"strings"
	"unsafe"

	"github.com/SEReaderProject/go-sereader/hal"
	"golang.org/x/sys/unix"
)

// Line-handle ABI from <linux/gpio.h>.
const (
	gpioGetLineHandleIoctl    = 0xc16cb403
	gpioHandleSetLineValues   = 0xc040b409
	gpioHandleRequestOutput   = 1 << 1
	gpioHandleRequestActiveLo = 1 << 2

	consumerLabel = "go-sereader"
)

type gpioHandleRequest struct {
	LineOffsets   [64]uint32
	Flags         uint32
	DefaultValues [64]uint8
	ConsumerLabel [32]byte
	Lines         uint32
	Fd            int32
}

type gpioHandleData struct {
	Values [64]uint8
}

func init() {
	hal.RegisterLine("kernel", func(args string) (hal.Line, error) {
		chip, line, activeLow, err := parseSpec(args)
		if err != nil {
			return nil, err
		}
		return New(chip, line, activeLow)
	})
}

// Line is a single GPIO output requested through /dev/gpiochipN.
type Line struct {
	fd int
}

// parseSpec parses "<chip-index>:<[n]line-offset>".
func parseSpec(args string) (chip int, line uint32, activeLow bool, err error) {
	idx := strings.IndexByte(args, ':')
	if idx < 0 {
		return 0, 0, false, fmt.Errorf("%w: no GPIO line in %q", hal.ErrInvalidConfig, args)
	}

	c, err := strconv.ParseInt(args[:idx], 0, 32)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: invalid GPIO chip %q: %w", hal.ErrInvalidConfig, args[:idx], err)
	}

	rest := args[idx+1:]
	if strings.HasPrefix(rest, "n") {
		activeLow = true
		rest = rest[1:]
	}

	l, err := strconv.ParseUint(rest, 0, 32)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: invalid GPIO line %q: %w", hal.ErrInvalidConfig, rest, err)
	}

	return int(c), uint32(l), activeLow, nil
}

// New requests the given line of /dev/gpiochip<chip> as an output.
func New(chip int, line uint32, activeLow bool) (*Line, error) {
	path := fmt.Sprintf("/dev/gpiochip%d", chip)
	chipFd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open GPIO chip %s: %w", path, err)
	}
	defer func() { _ = unix.Close(chipFd) }()

	var req gpioHandleRequest
	req.LineOffsets[0] = line
	req.Flags = gpioHandleRequestOutput
	if activeLow {
		req.Flags |= gpioHandleRequestActiveLo
	}
	copy(req.ConsumerLabel[:], consumerLabel)
	req.Lines = 1

	if err := ioctl(chipFd, gpioGetLineHandleIoctl, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("could not get GPIO line %d on %s: %w", line, path, err)
	}

	return &Line{fd: int(req.Fd)}, nil
}

// Enable asserts the line.
func (l *Line) Enable() error {
	return l.set(1)
}

// Disable deasserts the line.
func (l *Line) Disable() error {
	return l.set(0)
}

func (l *Line) set(value uint8) error {
	if l.fd < 0 {
		return nil
	}

	var data gpioHandleData
	data.Values[0] = value
	if err := ioctl(l.fd, gpioHandleSetLineValues, unsafe.Pointer(&data)); err != nil {
		return fmt.Errorf("could not set GPIO value: %w", err)
	}
	return nil
}

// Close releases the line handle.
func (l *Line) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	if err != nil {
		return fmt.Errorf("could not close GPIO line: %w", err)
	}
	return nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Ensure Line implements hal.Line
var _ hal.Line = (*Line)(nil)
