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
	"time"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithGuardTime overrides the guard time between I2C transactions (SEGT)
func WithGuardTime(t time.Duration) Option {
	return func(d *Device) error {
		if t < 0 {
			return fmt.Errorf("%w: negative guard time", ErrInvalidParameter)
		}
		d.guardTime = t
		return nil
	}
}

// WithPollingTime overrides the minimum polling time between retries (MPOT)
func WithPollingTime(t time.Duration) Option {
	return func(d *Device) error {
		if t <= 0 {
			return fmt.Errorf("%w: polling time must be positive", ErrInvalidParameter)
		}
		d.pollingTime = t
		return nil
	}
}

// WithBlockWaitingTime overrides the block waiting time (BWT). The
// retry budget is derived from the BWT/MPOT ratio.
func WithBlockWaitingTime(t time.Duration) Option {
	return func(d *Device) error {
		if t <= 0 {
			return fmt.Errorf("%w: block waiting time must be positive", ErrInvalidParameter)
		}
		d.blockWaitingTime = t
		return nil
	}
}
