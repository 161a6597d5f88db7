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
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/SEReaderProject/go-sereader/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWarmResetCachesATR covers the SOFT_RESET exchange with recorded
// wire bytes: the request carries no INF and the response INF is the
// native ATR.
func TestWarmResetCachesATR(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		writeStep([]byte{0x5A, 0xCF, 0x00, 0x37, 0x7F}),
		readStep([]byte{0xA5, 0xEF, 0x05, 0x11, 0x22}),
		readStep([]byte{0x33, 0x44, 0x55, 0x2E, 0x02}),
	)

	require.NoError(t, d.WarmReset())
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55}, d.atr)
	mock.done()
}

// TestWarmResetReallocatesATR verifies a second reset replaces the
// cached buffer instead of mutating it.
func TestWarmResetReallocatesATR(t *testing.T) {
	t.Parallel()

	first := deviceFrame(nadSEToHost, 0xEF, []byte{0x11, 0x22, 0x33, 0x44, 0x55})
	second := deviceFrame(nadSEToHost, 0xEF, []byte{0xAA, 0xBB})

	steps := []i2cStep{writeStep([]byte{0x5A, 0xCF, 0x00, 0x37, 0x7F})}
	steps = append(steps, readSteps(first)...)
	steps = append(steps, writeStep([]byte{0x5A, 0xCF, 0x00, 0x37, 0x7F}))
	steps = append(steps, readSteps(second)...)

	d, mock := newTestDevice(t, steps...)

	require.NoError(t, d.WarmReset())
	old := d.atr
	require.NoError(t, d.WarmReset())
	assert.Equal(t, []byte{0xAA, 0xBB}, d.atr)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55}, old)
	mock.done()
}

// TestTransceiveSingleBlock covers a one-block APDU exchange with
// recorded wire bytes.
func TestTransceiveSingleBlock(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		writeStep([]byte{0x5A, 0x00, 0x04, 0x00, 0xA4, 0x04, 0x00, 0x2E, 0x31}),
		readStep([]byte{0xA5, 0x00, 0x02, 0x90, 0x00}),
		readStep([]byte{0x02, 0xAF}),
	)

	rx := make([]byte, 256)
	n, err := d.Transceive([]byte{0x00, 0xA4, 0x04, 0x00}, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x90, 0x00}, rx[:n])
	assert.Equal(t, 1, d.ns, "N(S) must toggle after a sent I-block")
	mock.done()
}

// TestSequenceNumberToggles sends several APDUs and checks the N(S)
// bit alternates in the emitted PCBs.
func TestSequenceNumberToggles(t *testing.T) {
	t.Parallel()

	apdu := []byte{0x01}
	resp := deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00})

	var steps []i2cStep
	for _, pcb := range []byte{0x00, 0x40, 0x00, 0x40} {
		steps = append(steps, writeStep(deviceFrame(nadHostToSE, pcb, apdu)))
		steps = append(steps, readSteps(resp)...)
	}

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	for i := 0; i < 4; i++ {
		_, err := d.Transceive(apdu, rx)
		require.NoError(t, err)
		assert.Equal(t, (i+1)%2, d.ns)
	}
	mock.done()
}

// TestTransceiveChainedTx covers a 300-byte APDU split into a chained
// I-block, the token-passing R-block and the final I-block.
func TestTransceiveChainedTx(t *testing.T) {
	t.Parallel()

	tx := make([]byte, 300)
	for i := range tx {
		tx[i] = byte(i)
	}

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x20, tx[:254])))
	steps = append(steps, readStep([]byte{0xA5, 0x90, 0x00, 0xFB, 0xE9})) // token, N(R)=1
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x40, tx[254:])))
	steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00}))...)

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	n, err := d.Transceive(tx, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	mock.done()
}

// TestTransceiveChainedRx covers a response split over two I-blocks
// with the driver's interleaved R-block acknowledgement.
func TestTransceiveChainedRx(t *testing.T) {
	t.Parallel()

	part1 := make([]byte, 254)
	part2 := make([]byte, 46)
	for i := range part1 {
		part1[i] = byte(i)
	}
	for i := range part2 {
		part2[i] = byte(0x80 + i)
	}

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
	steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x20, part1))...) // chain, N(S)=0
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x90, nil)))      // ack, N(R)=1
	steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x40, part2))...) // final, N(S)=1

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 512)
	n, err := d.Transceive([]byte{0x01}, rx)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	assert.True(t, bytes.Equal(append(append([]byte{}, part1...), part2...), rx[:n]))
	mock.done()
}

// TestTransceiveWTX covers a waiting-time extension arriving before
// the real response, with recorded wire bytes for both directions.
func TestTransceiveWTX(t *testing.T) {
	t.Parallel()

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
	steps = append(steps, readStep([]byte{0xA5, 0xC3, 0x01, 0xAA, 0xC2})) // WTX request
	steps = append(steps, readStep([]byte{0xC6}))
	steps = append(steps, writeStep([]byte{0x5A, 0xE3, 0x01, 0xAA, 0x2B, 0x00})) // WTX response
	steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00}))...)

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	n, err := d.Transceive([]byte{0x01}, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x90, 0x00}, rx[:n])
	assert.Equal(t, 1, d.ns, "WTX handling must not disturb the sequence numbers")
	mock.done()
}

// TestTransceiveRetransmit covers an R-block with an error code: the
// cached block is resent verbatim exactly once.
func TestTransceiveRetransmit(t *testing.T) {
	t.Parallel()

	iblock := deviceFrame(nadHostToSE, 0x00, []byte{0x01})

	var steps []i2cStep
	steps = append(steps, writeStep(iblock))
	steps = append(steps, readStep([]byte{0xA5, 0x81, 0x00, 0xB2, 0x65})) // R-block, EE=1
	steps = append(steps, writeStep(iblock))                              // verbatim resend
	steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00}))...)

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	n, err := d.Transceive([]byte{0x01}, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	mock.done()
}

// TestTransceiveRetransmitExhausted verifies the second error R-block
// within one exchange fails with a timeout-class error.
func TestTransceiveRetransmitExhausted(t *testing.T) {
	t.Parallel()

	iblock := deviceFrame(nadHostToSE, 0x00, []byte{0x01})
	errRBlock := []byte{0xA5, 0x81, 0x00, 0xB2, 0x65}

	d, mock := newTestDevice(t,
		writeStep(iblock),
		readStep(errRBlock),
		writeStep(iblock),
		readStep(errRBlock),
	)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	require.Error(t, err)
	assert.ErrorIs(t, err, hal.ErrTransportTimeout)
	mock.done()
}

// TestRetransmitLatchClearsBetweenExchanges verifies the single-shot
// retransmit budget is per exchange, not per session.
func TestRetransmitLatchClearsBetweenExchanges(t *testing.T) {
	t.Parallel()

	errRBlock := []byte{0xA5, 0x81, 0x00, 0xB2, 0x65}
	resp := deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00})

	var steps []i2cStep
	for _, pcb := range []byte{0x00, 0x40} {
		iblock := deviceFrame(nadHostToSE, pcb, []byte{0x01})
		steps = append(steps, writeStep(iblock), readStep(errRBlock), writeStep(iblock))
		steps = append(steps, readSteps(resp)...)
	}

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	for i := 0; i < 2; i++ {
		_, err := d.Transceive([]byte{0x01}, rx)
		require.NoError(t, err, "exchange %d", i)
	}
	mock.done()
}

// TestTransceiveTruncates verifies a too-small receive buffer yields a
// truncated response without an error.
func TestTransceiveTruncates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rxCap  int
		expect []byte
	}{
		{name: "one byte", rxCap: 1, expect: []byte{0x90}},
		{name: "zero capacity", rxCap: 0, expect: []byte{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var steps []i2cStep
			steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
			steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00}))...)

			d, mock := newTestDevice(t, steps...)

			rx := make([]byte, tt.rxCap)
			n, err := d.Transceive([]byte{0x01}, rx)
			require.NoError(t, err)
			assert.Equal(t, tt.rxCap, n)
			assert.Equal(t, tt.expect, rx[:n])
			mock.done()
		})
	}
}

// TestTransceiveEmptyAPDU verifies an empty command is rejected before
// touching the bus.
func TestTransceiveEmptyAPDU(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t)
	_, err := d.Transceive(nil, make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	mock.done()
}

// TestTransceiveNonIBlockResponse verifies an unexpected block variant
// in the response position fails the exchange.
func TestTransceiveNonIBlockResponse(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})),
		readStep(deviceFrame(nadSEToHost, 0x80, nil)), // plain R-block
	)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	assert.ErrorIs(t, err, ErrProtocol)
	mock.done()
}

// TestRecvRejectsBadLen verifies a LEN above the IFSC is fatal.
func TestRecvRejectsBadLen(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})),
		readStep([]byte{0xA5, 0x00, 0xFF, 0x00, 0x00}),
	)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	assert.ErrorIs(t, err, ErrProtocol)
	mock.done()
}

// TestRecvRejectsBadCRC verifies a corrupted epilogue is fatal.
func TestRecvRejectsBadCRC(t *testing.T) {
	t.Parallel()

	bad := deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00})
	bad[len(bad)-1] ^= 0xFF

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
	steps = append(steps, readSteps(bad)...)

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	assert.ErrorIs(t, err, ErrCRCMismatch)
	mock.done()
}

// TestRecvToleratesBadNAD verifies a wrong source NAD is logged but
// the block is still accepted.
func TestRecvToleratesBadNAD(t *testing.T) {
	t.Parallel()

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
	steps = append(steps, readSteps(deviceFrame(0x00, 0x00, []byte{0x90, 0x00}))...)

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	n, err := d.Transceive([]byte{0x01}, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	mock.done()
}

// TestRecvRejectsUnsupportedSRequest verifies S-block requests other
// than WTX fail the exchange.
func TestRecvRejectsUnsupportedSRequest(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})),
		readStep(deviceFrame(nadSEToHost, sBlock|cmdRequest|cmdResync, nil)),
	)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	assert.ErrorIs(t, err, ErrProtocol)
	mock.done()
}

// TestRecvWTXFloodTimesOut verifies a device streaming WTX requests
// forever terminates with a timeout instead of looping unbounded.
func TestRecvWTXFloodTimesOut(t *testing.T) {
	t.Parallel()

	wtxReq := deviceFrame(nadSEToHost, 0xC3, []byte{0xAA})
	wtxRes := deviceFrame(nadHostToSE, 0xE3, []byte{0xAA})

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
	// maxRetries = 5 ms / 1 ms; the loop runs maxRetries+1 iterations.
	for i := 0; i < 6; i++ {
		steps = append(steps, readSteps(wtxReq)...)
		steps = append(steps, writeStep(wtxRes))
	}

	mock := newScriptI2C(t, steps...)
	d, err := New(mock, nil,
		WithBlockWaitingTime(5*time.Millisecond),
		WithPollingTime(1*time.Millisecond),
	)
	require.NoError(t, err)

	rx := make([]byte, 16)
	_, err = d.Transceive([]byte{0x01}, rx)
	require.Error(t, err)
	assert.ErrorIs(t, err, hal.ErrTransportTimeout)
	mock.done()
}

// TestChainTokenValidation covers the checks on the token-passing
// R-block consumed after a chained I-block.
func TestChainTokenValidation(t *testing.T) {
	t.Parallel()

	tx := make([]byte, 300)

	tests := []struct {
		name  string
		token []byte
	}{
		{name: "not an R-block", token: deviceFrame(nadSEToHost, 0x00, nil)},
		{name: "wrong N(R)", token: deviceFrame(nadSEToHost, 0x80, nil)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, mock := newTestDevice(t,
				writeStep(deviceFrame(nadHostToSE, 0x20, tx[:254])),
				readStep(tt.token),
			)

			rx := make([]byte, 16)
			_, err := d.Transceive(tx, rx)
			assert.ErrorIs(t, err, ErrProtocol)
			mock.done()
		})
	}
}

// TestSendIBlockRejectsOversizedINF verifies the IFSC bound.
func TestSendIBlockRejectsOversizedINF(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t)
	err := d.sendIBlock(make([]byte, sizeInfMax+1), false)
	assert.ErrorIs(t, err, ErrDataTooLarge)
	mock.done()
}

// TestPowerUpWithoutLineHardResets verifies power-up falls back to the
// RESET supervisory command when no GPIO line is wired, with recorded
// wire bytes.
func TestPowerUpWithoutLineHardResets(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		writeStep([]byte{0x5A, 0xC6, 0x00, 0x2F, 0xA8}),
		readStep([]byte{0xA5, 0xE6, 0x00, 0xEF, 0x4D}),
	)

	d.ns = 1
	d.nr = 1
	require.NoError(t, d.PowerUp())
	assert.Zero(t, d.ns)
	assert.Zero(t, d.nr)
	mock.done()
}

// fakeLine records power transitions.
type fakeLine struct {
	enabled  int
	disabled int
	closed   int
}

func (l *fakeLine) Enable() error  { l.enabled++; return nil }
func (l *fakeLine) Disable() error { l.disabled++; return nil }
func (l *fakeLine) Close() error   { l.closed++; return nil }

// TestPowerCycleWithLine verifies GPIO-backed power control does not
// touch the bus.
func TestPowerCycleWithLine(t *testing.T) {
	t.Parallel()

	line := &fakeLine{}
	mock := newScriptI2C(t)
	d, err := New(mock, line)
	require.NoError(t, err)

	d.ns = 1
	require.NoError(t, d.PowerUp())
	assert.Equal(t, 1, line.enabled)
	assert.Zero(t, d.ns)

	require.NoError(t, d.PowerDown())
	assert.Equal(t, 1, line.disabled)
	mock.done()
}

// TestPowerDownWithoutLine verifies the no-op contract of a missing
// reset line.
func TestPowerDownWithoutLine(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t)
	require.NoError(t, d.PowerDown())
	mock.done()
}

// TestCloseReleasesHandles verifies Close shuts both handles and drops
// the ATR cache.
func TestCloseReleasesHandles(t *testing.T) {
	t.Parallel()

	line := &fakeLine{}
	mock := newScriptI2C(t)
	d, err := New(mock, line)
	require.NoError(t, err)
	d.atr = []byte{0x01}

	require.NoError(t, d.Close())
	assert.True(t, mock.closed)
	assert.Equal(t, 1, line.closed)
	assert.Nil(t, d.atr)
}

// TestTransceiveClearsBuffers verifies no block bytes survive an
// exchange.
func TestTransceiveClearsBuffers(t *testing.T) {
	t.Parallel()

	var steps []i2cStep
	steps = append(steps, writeStep(deviceFrame(nadHostToSE, 0x00, []byte{0x01})))
	steps = append(steps, readSteps(deviceFrame(nadSEToHost, 0x00, []byte{0x90, 0x00}))...)

	d, mock := newTestDevice(t, steps...)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	require.NoError(t, err)

	assert.Equal(t, [sizeBlockMax]byte{}, d.txbuf)
	assert.Equal(t, [sizeBlockMax]byte{}, d.rxbuf)
	assert.Zero(t, d.txlen)
	assert.False(t, d.txretransmit)
	mock.done()
}

// TestTransceivePropagatesTransportErrors verifies a hard bus error
// fails the exchange.
func TestTransceivePropagatesTransportErrors(t *testing.T) {
	t.Parallel()

	d, mock := newTestDevice(t,
		i2cStep{op: "write", err: errors.New("bus fault")},
	)

	rx := make([]byte, 16)
	_, err := d.Transceive([]byte{0x01}, rx)
	require.Error(t, err)
	assert.ErrorIs(t, err, hal.ErrTransportWrite)
	mock.done()
}
