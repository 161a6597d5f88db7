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
	"testing"

	"github.com/stretchr/testify/require"
)

// i2cStep is one scripted bus transaction: an expected write or a
// canned read. The read sizes mirror the engine's two-read sequence,
// so a block longer than five bytes is scripted as two read steps.
type i2cStep struct {
	err  error
	op   string
	data []byte
}

func writeStep(data []byte) i2cStep { return i2cStep{op: "write", data: data} }
func readStep(data []byte) i2cStep  { return i2cStep{op: "read", data: data} }

// scriptI2C replays a fixed transaction script and fails the test on
// any deviation.
type scriptI2C struct {
	t      *testing.T
	steps  []i2cStep
	pos    int
	closed bool
}

func newScriptI2C(t *testing.T, steps ...i2cStep) *scriptI2C {
	t.Helper()
	return &scriptI2C{t: t, steps: steps}
}

func (m *scriptI2C) step(op string) i2cStep {
	m.t.Helper()
	require.Less(m.t, m.pos, len(m.steps), "unexpected extra %s transaction", op)
	s := m.steps[m.pos]
	m.pos++
	require.Equal(m.t, s.op, op, "transaction %d", m.pos)
	return s
}

func (m *scriptI2C) Read(buf []byte) (int, error) {
	m.t.Helper()
	s := m.step("read")
	if s.err != nil {
		return 0, s.err
	}
	require.Len(m.t, buf, len(s.data), "read size at transaction %d", m.pos)
	copy(buf, s.data)
	return len(buf), nil
}

func (m *scriptI2C) Write(buf []byte) (int, error) {
	m.t.Helper()
	s := m.step("write")
	if s.err != nil {
		return 0, s.err
	}
	require.Equal(m.t, s.data, append([]byte(nil), buf...), "write bytes at transaction %d", m.pos)
	return len(buf), nil
}

func (m *scriptI2C) Close() error {
	m.closed = true
	return nil
}

// done asserts the whole script was consumed.
func (m *scriptI2C) done() {
	m.t.Helper()
	require.Equal(m.t, len(m.steps), m.pos, "script not fully consumed")
}

// deviceFrame builds a full wire block with its CRC epilogue.
func deviceFrame(nad, pcb byte, inf []byte) []byte {
	b := make([]byte, 0, sizePrologue+len(inf)+sizeEpilogue)
	b = append(b, nad, pcb, byte(len(inf)))
	b = append(b, inf...)
	crc := blockCRC(b)
	return append(b, byte(crc>>8), byte(crc))
}

// readSteps splits a device frame into the engine's two-read sequence.
func readSteps(f []byte) []i2cStep {
	steps := []i2cStep{readStep(f[:sizePrologue+sizeEpilogue])}
	if len(f) > sizePrologue+sizeEpilogue {
		steps = append(steps, readStep(f[sizePrologue+sizeEpilogue:]))
	}
	return steps
}

func newTestDevice(t *testing.T, steps ...i2cStep) (*Device, *scriptI2C) {
	t.Helper()
	mock := newScriptI2C(t, steps...)
	d, err := New(mock, nil)
	require.NoError(t, err)
	return d, mock
}
