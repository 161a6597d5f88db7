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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/SEReaderProject/go-sereader/hal"
	"github.com/SEReaderProject/go-sereader/internal/debuglog"
)

// Timing defaults
const (
	// DefaultGuardTime is the SE guard time between two I2C transactions (SEGT)
	DefaultGuardTime = 10 * time.Microsecond
	// DefaultPollingTime is the minimum polling time between retries (MPOT)
	DefaultPollingTime = 1 * time.Millisecond
	// DefaultBlockWaitingTime is the block waiting time (BWT)
	DefaultBlockWaitingTime = 1000 * time.Millisecond
	// powerWakeupTime is the delay after power-cycling the SE (PWT)
	powerWakeupTime = 5 * time.Millisecond

	// preExchangeDelay precedes every APDU exchange. Under high load
	// certain devices end up answering every block with EE=other-error
	// until reset; this pause reliably keeps them out of that state.
	preExchangeDelay = 1 * time.Millisecond
)

// Device is a session with one SE05x secure element on an I2C bus,
// optionally wired to a GPIO reset line.
//
// Device is NOT safe for concurrent use. All methods must be called
// from a single goroutine or protected with external synchronization.
type Device struct {
	i2c  hal.I2C
	line hal.Line

	// Cached data from the device
	atr []byte

	// Timing parameters
	guardTime        time.Duration
	pollingTime      time.Duration
	blockWaitingTime time.Duration
	maxRetries       int

	// Transfer state
	ns int
	nr int

	// Two buffers so the last transmitted block stays available
	// for retransmission.
	txbuf        [sizeBlockMax]byte
	txlen        int
	txretransmit bool
	rxbuf        [sizeBlockMax]byte
}

// New creates a session on the given I2C connection. line may be nil
// when no reset line is wired; power control then falls back to the
// RESET supervisory command.
func New(i2c hal.I2C, line hal.Line, opts ...Option) (*Device, error) {
	d := &Device{
		i2c:              i2c,
		line:             line,
		guardTime:        DefaultGuardTime,
		pollingTime:      DefaultPollingTime,
		blockWaitingTime: DefaultBlockWaitingTime,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	d.maxRetries = int(d.blockWaitingTime / d.pollingTime)

	return d, nil
}

// Open parses a config string of the form "i2c:<spec>[@gpio:<spec>]"
// (see the hal backends for the spec formats), creates the session and
// runs the power-up sequence: power down, wait, power up, warm reset.
// The warm reset leaves the native ATR cached.
func Open(config string, opts ...Option) (*Device, error) {
	i2c, line, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	d, err := New(i2c, line, opts...)
	if err != nil {
		_ = i2c.Close()
		_ = hal.CloseLine(line)
		return nil, err
	}

	if err := d.open(); err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

func (d *Device) open() error {
	if err := d.PowerDown(); err != nil {
		return fmt.Errorf("could not power down SE05x: %w", err)
	}

	time.Sleep(powerWakeupTime)

	if err := d.PowerUp(); err != nil {
		return fmt.Errorf("could not power up SE05x: %w", err)
	}

	if err := d.WarmReset(); err != nil {
		return fmt.Errorf("could not get ATR from SE05x: %w", err)
	}

	return nil
}

// clearState resets the sequence numbers.
func (d *Device) clearState() {
	d.ns = 0
	d.nr = 0
}

// clearBuf clears all data in the tx and rx buffers.
func (d *Device) clearBuf() {
	d.txbuf = [sizeBlockMax]byte{}
	d.txlen = 0
	d.txretransmit = false
	d.rxbuf = [sizeBlockMax]byte{}
}

// readI2C reads exactly len(buf) bytes, observing the guard time. As
// the guard time is so short, it is simply applied always.
func (d *Device) readI2C(buf []byte) error {
	time.Sleep(d.guardTime)
	return hal.ReadFull(d.i2c, buf, d.maxRetries, d.pollingTime)
}

// writeI2C writes exactly len(buf) bytes, observing the guard time.
func (d *Device) writeI2C(buf []byte) error {
	time.Sleep(d.guardTime)
	return hal.WriteFull(d.i2c, buf, d.maxRetries, d.pollingTime)
}

// crcAndSend appends the CRC to the first n prologue+INF bytes of the
// tx buffer and sends the block.
func (d *Device) crcAndSend(n int) error {
	crc := blockCRC(d.txbuf[:n])
	d.txbuf[n] = byte(crc >> 8)
	d.txbuf[n+1] = byte(crc)
	d.txlen = n + sizeEpilogue

	return d.writeI2C(d.txbuf[:d.txlen])
}

// resend retransmits the cached block. Only a single retransmission is
// permitted per exchange; a second request fails with a timeout.
func (d *Device) resend() error {
	if d.txretransmit {
		return hal.NewTimeoutError("resend", "")
	}
	d.txretransmit = true

	return d.writeI2C(d.txbuf[:d.txlen])
}

// sendIBlock sends an I-block carrying inf. If chain is set, the
// token-passing R-block from the SE is consumed and validated.
func (d *Device) sendIBlock(inf []byte, chain bool) error {
	if len(inf) > sizeInfMax {
		return fmt.Errorf("%w: %d INF bytes", ErrDataTooLarge, len(inf))
	}

	pcb := byte(iBlock)
	if d.ns != 0 {
		pcb |= iBlockSeq
	}
	if chain {
		pcb |= iBlockChain
	}

	d.txbuf[0] = nadHostToSE
	d.txbuf[1] = pcb
	d.txbuf[2] = byte(len(inf))
	copy(d.txbuf[sizePrologue:], inf)

	d.ns ^= 1

	if err := d.crcAndSend(sizePrologue + len(inf)); err != nil {
		return fmt.Errorf("sending I-block failed: %w", err)
	}

	if !chain {
		return nil
	}

	// In case of chaining, consume the token passing.
	if _, err := d.recvBlock(); err != nil {
		return fmt.Errorf("receiving token R-block failed: %w", err)
	}

	rpcb := d.rxbuf[1]
	if !isRBlock(rpcb) {
		return fmt.Errorf("%w: expected R-block, got PCB %#02x", ErrProtocol, rpcb)
	}
	if ee := rpcb & eeMask; ee != 0 {
		return fmt.Errorf("%w: R-block with error %#02x", ErrProtocol, ee)
	}
	if nr := int(rpcb>>4) & 1; nr != d.ns {
		return fmt.Errorf("%w: R-block with wrong N(R) %d", ErrProtocol, nr)
	}

	return nil
}

// sendRBlock sends an R-block acknowledging the peer's chained I-block.
func (d *Device) sendRBlock(nr, ee byte) error {
	d.txbuf[0] = nadHostToSE
	d.txbuf[1] = rBlock | nr<<4 | ee
	d.txbuf[2] = 0

	return d.crcAndSend(sizePrologue)
}

// sendSBlock sends a supervisory block with the given direction, type
// and INF payload.
func (d *Device) sendSBlock(dir, typ byte, inf []byte) error {
	if len(inf) > sizeInfMax {
		return fmt.Errorf("%w: %d INF bytes", ErrDataTooLarge, len(inf))
	}

	d.txbuf[0] = nadHostToSE
	d.txbuf[1] = sBlock | dir | typ
	d.txbuf[2] = byte(len(inf))
	copy(d.txbuf[sizePrologue:], inf)

	return d.crcAndSend(sizePrologue + len(inf))
}

// recvBlock reads one block from the SE. Waiting-time extensions are
// answered transparently and R-blocks with an error trigger a single
// retransmission of the cached tx block. The loop is bounded by the
// retry budget so a device streaming WTX requests forever terminates
// with a timeout instead of growing without bound.
//
// On success the INF length is returned; the raw block sits in the rx
// buffer in wire order (INF at offset 3).
func (d *Device) recvBlock() (int, error) {
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		// The wire block arrives in two reads: the 5 bytes covering
		// prologue plus epilogue size first, then LEN bytes. Both land
		// back to back, so the buffer holds the block contiguously.
		if err := d.readI2C(d.rxbuf[:sizePrologue+sizeEpilogue]); err != nil {
			return 0, fmt.Errorf("read from I2C failed: %w", err)
		}

		n := int(d.rxbuf[2])
		if n > sizeInfMax {
			return 0, fmt.Errorf("%w: invalid LEN %d", ErrProtocol, n)
		}
		if n > 0 {
			off := sizePrologue + sizeEpilogue
			if err := d.readI2C(d.rxbuf[off : off+n]); err != nil {
				return 0, fmt.Errorf("read from I2C failed: %w", err)
			}
		}

		if d.rxbuf[0] != nadSEToHost {
			// Not fatal; see the protocol hardening notes.
			debuglog.Debugf("invalid NAD received: %#02x", d.rxbuf[0])
		}

		expCRC := blockCRC(d.rxbuf[:sizePrologue+n])
		actCRC := binary.BigEndian.Uint16(d.rxbuf[sizePrologue+n:])
		if expCRC != actCRC {
			return 0, fmt.Errorf("%w: got %#04x, want %#04x", ErrCRCMismatch, actCRC, expCRC)
		}

		pcb := d.rxbuf[1]

		if isSBlockRequest(pcb) {
			if pcb&cmdTypeMask != cmdWTX {
				return 0, fmt.Errorf("%w: unsupported S-block request %#02x", ErrProtocol, pcb)
			}

			// Waiting time extension: ack it and await the real block.
			debuglog.Debugln("received WTX")
			if err := d.sendSBlock(cmdResponse, cmdWTX, d.rxbuf[sizePrologue:sizePrologue+1]); err != nil {
				return 0, fmt.Errorf("sending WTX response failed: %w", err)
			}
			continue
		}

		if isRBlockWithError(pcb) {
			debuglog.Debugf("received R-block with error (PCB %#02x), retransmitting", pcb)
			if err := d.resend(); err != nil {
				return 0, fmt.Errorf("retransmit failed: %w", err)
			}
			continue
		}

		return n, nil
	}

	return 0, hal.NewTimeoutError("recvBlock", "")
}

// softReset sends the SOFT_RESET supervisory command and caches the
// ATR carried in the response.
func (d *Device) softReset() error {
	if err := d.sendSBlock(cmdRequest, cmdSoftReset, nil); err != nil {
		return fmt.Errorf("sending SOFT_RESET command failed: %w", err)
	}

	n, err := d.recvBlock()
	if err != nil {
		return fmt.Errorf("receiving SOFT_RESET response failed: %w", err)
	}

	if pcb := d.rxbuf[1]; pcb != sBlock|cmdResponse|cmdSoftReset {
		return fmt.Errorf("%w: unexpected PCB %#02x", ErrProtocol, pcb)
	}

	d.atr = append([]byte(nil), d.rxbuf[sizePrologue:sizePrologue+n]...)
	debuglog.Debugf("cached ATR: %s", debuglog.Hex(d.atr))

	return nil
}

// hardReset sends the RESET supervisory command. Used for power control
// when no GPIO line is wired; the ATR cache is left untouched.
func (d *Device) hardReset() error {
	if err := d.sendSBlock(cmdRequest, cmdReset, nil); err != nil {
		return fmt.Errorf("sending RESET command failed: %w", err)
	}

	if _, err := d.recvBlock(); err != nil {
		return fmt.Errorf("receiving RESET response failed: %w", err)
	}

	if pcb := d.rxbuf[1]; pcb != sBlock|cmdResponse|cmdReset {
		return fmt.Errorf("%w: unexpected PCB %#02x", ErrProtocol, pcb)
	}

	return nil
}

// PowerUp powers the SE on, either by asserting the reset line or,
// without one, by issuing a chip reset over the bus. The session state
// is cleared and the power-wakeup time observed.
func (d *Device) PowerUp() error {
	if d.line != nil {
		if err := d.line.Enable(); err != nil {
			return fmt.Errorf("enabling SE05x failed: %w", err)
		}
	} else {
		if err := d.hardReset(); err != nil {
			return fmt.Errorf("reset of SE05x failed: %w", err)
		}
	}

	d.clearState()
	time.Sleep(powerWakeupTime)

	return nil
}

// PowerDown deasserts the reset line. Without one this is a no-op.
func (d *Device) PowerDown() error {
	return hal.DisableLine(d.line)
}

// WarmReset clears the session state, soft-resets the SE and refreshes
// the cached ATR.
func (d *Device) WarmReset() error {
	d.clearState()
	return d.softReset()
}

// Transceive sends the APDU in tx and stores the response in rx,
// returning the number of response bytes. The APDU is split into
// chained I-blocks as needed and the response chain is reassembled. A
// response longer than rx is truncated, not an error.
func (d *Device) Transceive(tx, rx []byte) (n int, err error) {
	time.Sleep(preExchangeDelay)

	if len(tx) == 0 {
		return 0, fmt.Errorf("%w: empty APDU", ErrInvalidParameter)
	}

	// Partial state must not leak into the next exchange.
	defer d.clearBuf()

	// Write loop
	txOff := 0
	for chain := true; chain; {
		blockLen := len(tx) - txOff
		if blockLen > sizeInfMax {
			blockLen = sizeInfMax
		}
		chain = txOff+blockLen < len(tx)

		if err := d.sendIBlock(tx[txOff:txOff+blockLen], chain); err != nil {
			return 0, fmt.Errorf("sending I-block failed: %w", err)
		}

		txOff += blockLen
	}

	// Read loop
	rxOff := 0
	for chain := true; chain; {
		blockLen, err := d.recvBlock()
		if err != nil {
			return 0, fmt.Errorf("receiving block failed: %w", err)
		}

		pcb := d.rxbuf[1]
		if !isIBlock(pcb) {
			return 0, fmt.Errorf("%w: expected I-block, got PCB %#02x", ErrProtocol, pcb)
		}

		if rxOff+blockLen > len(rx) {
			debuglog.Debugf("receive buffer too small (cap %d, data %d), truncating",
				len(rx), rxOff+blockLen)
			blockLen = len(rx) - rxOff
		}

		copy(rx[rxOff:], d.rxbuf[sizePrologue:sizePrologue+blockLen])
		rxOff += blockLen

		chain = pcb&iBlockChain != 0
		if chain {
			ns := byte(pcb>>6) & 1
			if err := d.sendRBlock(ns^1, eeNoError); err != nil {
				return 0, fmt.Errorf("sending R-block failed: %w", err)
			}
		}
	}

	return rxOff, nil
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
