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
	"errors"
)

// Protocol errors. All of them are fatal to the current exchange.
var (
	// ErrInvalidParameter indicates a bad argument from the caller
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrDataTooLarge indicates an INF field above the 254-byte IFSC
	ErrDataTooLarge = errors.New("data too large")
	// ErrProtocol indicates an unexpected or malformed block
	ErrProtocol = errors.New("protocol error")
	// ErrCRCMismatch indicates a block with a bad epilogue checksum
	ErrCRCMismatch = errors.New("crc mismatch")
	// ErrATRTooLong indicates historical bytes that cannot fit a
	// conforming ATR
	ErrATRTooLong = errors.New("historical bytes too long")
	// ErrNotPowered indicates an operation that needs a cached ATR
	// before the device was reset
	ErrNotPowered = errors.New("device has no cached ATR")
)
