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

// Package gpiosysfs provides the legacy sysfs GPIO backend. It
// registers itself with hal under the provider name "sysfs" and
// accepts specs of the form "[n]<gpio-number>", where the "n" prefix
// marks the line as active-low, e.g. "n16".
package gpiosysfs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/SEReaderProject/go-sereader/hal"
	"golang.org/x/sys/unix"
)

const sysfsRoot = "/sys/class/gpio"

func init() {
	hal.RegisterLine("sysfs", func(args string) (hal.Line, error) {
		num, activeLow, err := parseSpec(args)
		if err != nil {
			return nil, err
		}
		return New(num, activeLow)
	})
}

// Line is a single GPIO output exported through sysfs. The value file
// is kept open for the lifetime of the line.
type Line struct {
	value *os.File
}

// parseSpec parses "[n]<gpio-number>".
func parseSpec(args string) (num int, activeLow bool, err error) {
	rest := args
	if strings.HasPrefix(rest, "n") {
		activeLow = true
		rest = rest[1:]
	}

	n, err := strconv.ParseInt(rest, 0, 32)
	if err != nil {
		return 0, false, fmt.Errorf("%w: invalid GPIO %q: %w", hal.ErrInvalidConfig, args, err)
	}

	return int(n), activeLow, nil
}

// New exports the GPIO, configures polarity and direction, and opens
// its value file.
func New(num int, activeLow bool) (*Line, error) {
	// Exporting an already-exported GPIO yields EBUSY; that is fine.
	if err := writeFile(sysfsRoot+"/export", strconv.Itoa(num)); err != nil &&
		!errors.Is(err, unix.EBUSY) {
		return nil, fmt.Errorf("could not export GPIO %d: %w", num, err)
	}

	dir := fmt.Sprintf("%s/gpio%d", sysfsRoot, num)

	polarity := "0"
	if activeLow {
		polarity = "1"
	}
	if err := writeFile(dir+"/active_low", polarity); err != nil {
		return nil, fmt.Errorf("could not set GPIO %d polarity: %w", num, err)
	}

	if err := writeFile(dir+"/direction", "out"); err != nil {
		return nil, fmt.Errorf("could not set GPIO %d direction: %w", num, err)
	}

	value, err := os.OpenFile(dir+"/value", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open GPIO %d value file: %w", num, err)
	}

	return &Line{value: value}, nil
}

// Enable asserts the line.
func (l *Line) Enable() error {
	return l.set("1")
}

// Disable deasserts the line.
func (l *Line) Disable() error {
	return l.set("0")
}

func (l *Line) set(value string) error {
	if _, err := l.value.WriteString(value); err != nil {
		return fmt.Errorf("could not write GPIO value: %w", err)
	}
	return nil
}

// Close closes the held value file. The GPIO stays exported, matching
// the lifetime expectations of an always-wired reset line.
func (l *Line) Close() error {
	if l.value == nil {
		return nil
	}
	err := l.value.Close()
	l.value = nil
	if err != nil {
		return fmt.Errorf("could not close GPIO value file: %w", err)
	}
	return nil
}

func writeFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// Ensure Line implements hal.Line
var _ hal.Line = (*Line)(nil)
