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
	"strings"

	"github.com/SEReaderProject/go-sereader/hal"
)

// parseConfig parses "i2c:<spec>[@gpio:<spec>]" and opens the named
// backends. The I2C token is mandatory; the GPIO token optional.
func parseConfig(config string) (i2c hal.I2C, line hal.Line, err error) {
	cleanup := func() {
		if i2c != nil {
			_ = i2c.Close()
		}
		_ = hal.CloseLine(line)
	}

	for _, token := range strings.Split(config, "@") {
		switch {
		case strings.HasPrefix(token, "i2c:"):
			i2c, err = hal.OpenI2C(strings.TrimPrefix(token, "i2c:"))
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to open I2C device: %w", err)
			}
		case strings.HasPrefix(token, "gpio:"):
			line, err = hal.OpenLine(strings.TrimPrefix(token, "gpio:"))
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to open GPIO line: %w", err)
			}
		default:
			cleanup()
			return nil, nil, fmt.Errorf("%w: invalid token %q", hal.ErrInvalidConfig, token)
		}
	}

	if i2c == nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: missing I2C device", hal.ErrInvalidConfig)
	}

	return i2c, line, nil
}
