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

// Package kerkey drives the Kerkey secure element, a simpler
// length-prefixed I2C device without the T=1 block framing of the
// SE05x. Responses carry a two-byte header whose top bit signals
// chaining and whose low byte is the payload length.
package kerkey

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SEReaderProject/go-sereader/hal"
	"github.com/SEReaderProject/go-sereader/internal/debuglog"
)

const (
	cmdGetTimeout = 0x75
	cmdGetATR     = 0x76

	frameLengthMax = 254

	// guardTime is the wait between transfer attempts
	guardTime = 1 * time.Millisecond
	// powerSettleTime is the wait around power cycling
	powerSettleTime = 200 * time.Millisecond
	// defaultTimeout bounds transfers until the device reports its own
	defaultTimeout = 10000 * time.Millisecond
)

// Device errors
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrProtocol         = errors.New("protocol error")
	ErrBufferTooSmall   = errors.New("buffer too small")
)

// Device is a session with one Kerkey on an I2C bus, optionally wired
// to a GPIO reset line. It is NOT safe for concurrent use.
type Device struct {
	i2c  hal.I2C
	line hal.Line

	atr     []byte
	timeout time.Duration
}

// New creates a session on the given I2C connection. line may be nil
// when no reset line is wired.
func New(i2c hal.I2C, line hal.Line) *Device {
	return &Device{
		i2c:     i2c,
		line:    line,
		timeout: defaultTimeout,
	}
}

// Open parses a config string of the form "i2c:<spec>[@gpio:<spec>]",
// creates the session and runs the power-up sequence. The device's ATR
// is cached and its self-reported command timeout adopted.
func Open(config string) (*Device, error) {
	i2c, line, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	d := New(i2c, line)
	if err := d.open(); err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

// parseConfig parses "i2c:<spec>[@gpio:<spec>]".
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

func (d *Device) open() error {
	if err := d.PowerDown(); err != nil {
		return fmt.Errorf("could not power down Kerkey: %w", err)
	}
	time.Sleep(powerSettleTime)

	if err := hal.EnableLine(d.line); err != nil {
		return fmt.Errorf("could not power up Kerkey: %w", err)
	}
	time.Sleep(powerSettleTime)

	if err := d.WarmReset(); err != nil {
		return fmt.Errorf("could not reset Kerkey: %w", err)
	}

	if err := d.getTimeout(); err != nil {
		return fmt.Errorf("could not get timeout: %w", err)
	}

	return nil
}

// attempts converts the configured timeout into the retry budget of
// the 1 ms-spaced transfer attempts.
func (d *Device) attempts() int {
	return int(d.timeout / time.Millisecond)
}

func (d *Device) readI2C(buf []byte) error {
	return hal.ReadFull(d.i2c, buf, d.attempts(), guardTime)
}

func (d *Device) writeI2C(buf []byte) error {
	return hal.WriteFull(d.i2c, buf, d.attempts(), guardTime)
}

// readHeader reads the two-byte response header, transparently waiting
// out WTX indications (no chain, zero length). The length field keeps
// only the low 8 bits of the 16-bit word; that is the device's wire
// contract.
func (d *Device) readHeader() (chain bool, length int, err error) {
	var hdr [2]byte
	for {
		if err := d.readI2C(hdr[:]); err != nil {
			return false, 0, fmt.Errorf("reading response header failed: %w", err)
		}

		chain = hdr[0]&0x80 != 0
		length = (int(hdr[0])<<8 | int(hdr[1])) & 0x00ff

		if !chain && length == 0 {
			debuglog.Debugln("received WTX")
			time.Sleep(guardTime)
			continue
		}

		return chain, length, nil
	}
}

// getTimeout asks the device for its command timeout in milliseconds.
func (d *Device) getTimeout() error {
	if err := d.writeI2C([]byte{cmdGetTimeout}); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	chain, length, err := d.readHeader()
	if err != nil {
		return err
	}
	if chain || length != 2 {
		return fmt.Errorf("%w: could not get timeout", ErrProtocol)
	}

	var value [2]byte
	if err := d.readI2C(value[:]); err != nil {
		return fmt.Errorf("reading timeout failed: %w", err)
	}

	d.timeout = time.Duration(int(value[0])<<8|int(value[1])) * time.Millisecond
	debuglog.Debugf("card timeout set to %v", d.timeout)

	return nil
}

// warmReset asks the device for its ATR, which triggers a warm reset,
// and caches the answer.
func (d *Device) warmReset() error {
	if err := d.writeI2C([]byte{cmdGetATR}); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	chain, length, err := d.readHeader()
	if err != nil {
		return err
	}
	if chain || length == 0 {
		return fmt.Errorf("%w: could not trigger warm reset", ErrProtocol)
	}

	atr := make([]byte, length)
	if err := d.readI2C(atr); err != nil {
		return fmt.Errorf("reading ATR failed: %w", err)
	}
	d.atr = atr

	// The warm reset behind the ATR command takes some time.
	time.Sleep(powerSettleTime)

	return nil
}

// ATR returns the cached answer-to-reset verbatim.
func (d *Device) ATR() ([]byte, error) {
	if d.atr == nil {
		return nil, fmt.Errorf("%w: no cached ATR", ErrProtocol)
	}
	return append([]byte(nil), d.atr...), nil
}

// PowerUp asserts the reset line and waits for the device to settle.
func (d *Device) PowerUp() error {
	err := hal.EnableLine(d.line)
	time.Sleep(powerSettleTime)
	return err
}

// PowerDown deasserts the reset line.
func (d *Device) PowerDown() error {
	return hal.DisableLine(d.line)
}

// WarmReset re-reads the ATR, which resets the device.
func (d *Device) WarmReset() error {
	return d.warmReset()
}

// Transceive sends the APDU in tx and stores the response in rx,
// returning the number of response bytes. The APDU is written in
// 254-byte chunks; a chained zero-length header asks for the next
// chunk. Unlike the SE05x engine, a too-small receive buffer is an
// error for this device.
func (d *Device) Transceive(tx, rx []byte) (int, error) {
	if len(tx) == 0 {
		return 0, fmt.Errorf("%w: empty APDU", ErrInvalidParameter)
	}

	txOff := 0
	rxOff := 0

	sendChunk := func() error {
		length := len(tx) - txOff
		if length > frameLengthMax {
			length = frameLengthMax
		}
		if err := d.writeI2C(tx[txOff : txOff+length]); err != nil {
			return fmt.Errorf("writing data failed: %w", err)
		}
		txOff += length
		return nil
	}

	if err := sendChunk(); err != nil {
		return 0, err
	}

	for {
		chain, length, err := d.readHeader()
		if err != nil {
			return 0, err
		}

		if chain && length == 0 {
			// Token for the next outbound chunk.
			if txOff >= len(tx) {
				return 0, fmt.Errorf("%w: unexpected chain token", ErrProtocol)
			}
			if err := sendChunk(); err != nil {
				return 0, err
			}
			continue
		}

		if rxOff+length > len(rx) {
			return 0, fmt.Errorf("%w: receive buffer full at %d bytes", ErrBufferTooSmall, rxOff)
		}

		if err := d.readI2C(rx[rxOff : rxOff+length]); err != nil {
			return 0, fmt.Errorf("reading data failed: %w", err)
		}
		rxOff += length

		if !chain {
			return rxOff, nil
		}
	}
}

// Close releases the I2C connection and the reset line.
func (d *Device) Close() error {
	var firstErr error

	if d.i2c != nil {
		if err := d.i2c.Close(); err != nil {
			firstErr = err
		}
		d.i2c = nil
	}

	if err := hal.CloseLine(d.line); err != nil && firstErr == nil {
		firstErr = err
	}
	d.line = nil
	d.atr = nil

	return firstErr
}
