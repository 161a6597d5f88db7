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

// setool opens a secure element reader from a config string, prints
// its ATR and exchanges APDUs given on the command line.
//
// Example:
//
//	setool -device "se05x:i2c:kernel:/dev/i2c-1:0x48@gpio:kernel:0:n16" 00A40400
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"

	sereader "github.com/SEReaderProject/go-sereader"
	"github.com/SEReaderProject/go-sereader/internal/debuglog"

	// Register all HAL backends so any config string resolves.
	_ "github.com/SEReaderProject/go-sereader/hal/gpiodev"
	_ "github.com/SEReaderProject/go-sereader/hal/gpiosysfs"
	_ "github.com/SEReaderProject/go-sereader/hal/i2cdev"
	_ "github.com/SEReaderProject/go-sereader/hal/periphi2c"
)

type config struct {
	device *string
	debug  *bool
}

func parseFlags() *config {
	cfg := &config{
		device: flag.String("device", "",
			"Reader config string (e.g. se05x:i2c:kernel:/dev/i2c-1:0x48@gpio:kernel:0:n16)"),
		debug: flag.Bool("debug", false, "Enable debug output"),
	}
	flag.Parse()

	if *cfg.debug {
		debuglog.SetEnabled(true)
	}

	return cfg
}

func run(cfg *config) error {
	if *cfg.device == "" {
		return errors.New("no -device config string given")
	}

	reader, err := sereader.Open(*cfg.device)
	if err != nil {
		return fmt.Errorf("failed to open reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	atr, err := reader.ATR()
	if err != nil {
		return fmt.Errorf("failed to read ATR: %w", err)
	}
	fmt.Printf("ATR: % X\n", atr)

	rx := make([]byte, 4096)
	for _, arg := range flag.Args() {
		apdu, err := hex.DecodeString(arg)
		if err != nil {
			return fmt.Errorf("invalid APDU %q: %w", arg, err)
		}

		n, err := reader.Transceive(apdu, rx)
		if err != nil {
			return fmt.Errorf("exchange failed: %w", err)
		}

		fmt.Printf("> % X\n< % X\n", apdu, rx[:n])
	}

	return nil
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
