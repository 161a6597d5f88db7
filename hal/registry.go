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

package hal

import (
	"fmt"
	"strings"
	"sync"
)

// I2CFactory creates an I2C backend from its provider-specific argument
// string (everything after "provider:" in the config).
type I2CFactory func(args string) (I2C, error)

// LineFactory creates a GPIO line backend from its provider-specific
// argument string.
type LineFactory func(args string) (Line, error)

var (
	registryMu    sync.RWMutex
	i2cProviders  = make(map[string]I2CFactory)
	lineProviders = make(map[string]LineFactory)
)

// RegisterI2C registers an I2C backend under the given provider name.
// Backends call this from init; importing a backend package for side
// effects makes its provider available to OpenI2C.
func RegisterI2C(name string, factory I2CFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	i2cProviders[name] = factory
}

// RegisterLine registers a GPIO line backend under the given provider name.
func RegisterLine(name string, factory LineFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	lineProviders[name] = factory
}

// OpenI2C opens an I2C connection from a "<provider>:<args>" spec,
// e.g. "kernel:/dev/i2c-1:0x48".
func OpenI2C(spec string) (I2C, error) {
	name, args := splitSpec(spec)

	registryMu.RLock()
	factory, ok := i2cProviders[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: I2C %q", ErrUnknownProvider, name)
	}

	return factory(args)
}

// OpenLine opens a GPIO line from a "<provider>:<args>" spec,
// e.g. "kernel:0:n16" or "sysfs:n16".
func OpenLine(spec string) (Line, error) {
	name, args := splitSpec(spec)

	registryMu.RLock()
	factory, ok := lineProviders[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: GPIO %q", ErrUnknownProvider, name)
	}

	return factory(args)
}

// splitSpec splits "<provider>:<args>" at the first colon.
func splitSpec(spec string) (name, args string) {
	if idx := strings.IndexByte(spec, ':'); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, ""
}
