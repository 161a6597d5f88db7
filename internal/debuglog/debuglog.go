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

// Package debuglog provides the shared debug logging used across the
// driver packages.
package debuglog

import (
	"fmt"
	"os"
	"strings"
)

// enabled controls whether debug logging is active
var enabled = false

func init() {
	// Enable debug logging if the environment asks for it
	if os.Getenv("SEREADER_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		enabled = true
	}
}

// SetEnabled allows programmatic control of debug logging
func SetEnabled(on bool) {
	enabled = on
}

// Enabled reports whether debug logging is active
func Enabled() bool {
	return enabled
}

// Debugf prints debug information when debug mode is enabled
func Debugf(format string, args ...any) {
	if !enabled {
		return
	}
	_, _ = fmt.Fprintf(os.Stderr, "DEBUG: "+format+"\n", args...)
}

// Debugln prints debug information when debug mode is enabled
func Debugln(args ...any) {
	if !enabled {
		return
	}
	_, _ = fmt.Fprint(os.Stderr, "DEBUG: ")
	_, _ = fmt.Fprintln(os.Stderr, args...)
}

// Hex formats a byte slice as space-separated hex values for debug output
func Hex(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}

	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
