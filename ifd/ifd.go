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

// Package ifd adapts readers to the surface a PC/SC interface-device
// handler shim needs: a unit-number table, capability tags, power
// actions and IFD status codes. A Handler owns its table; there is no
// package-level state.
package ifd

import (
	sereader "github.com/SEReaderProject/go-sereader"
	"github.com/SEReaderProject/go-sereader/internal/debuglog"
)

// MaxReaders is the size of the unit table.
const MaxReaders = 16

// Status is an IFD handler response code.
type Status uint32

// IFD response codes, numerically compatible with pcsclite's
// ifdhandler.h.
const (
	StatusSuccess            Status = 0
	StatusErrorTag           Status = 600
	StatusErrorPowerAction   Status = 608
	StatusCommunicationError Status = 612
	StatusNotSupported       Status = 614
	StatusNoSuchDevice       Status = 617
)

// Tag identifies a reader capability.
type Tag uint32

// Capability tags, numerically compatible with pcsclite.
const (
	TagATR                Tag = 0x0303
	TagSlotThreadSafe     Tag = 0x0FAC
	TagThreadSafe         Tag = 0x0FAD
	TagSlotsNumber        Tag = 0x0FAE
	TagSimultaneousAccess Tag = 0x0FAF
)

// Action is a power action on the element.
type Action uint32

// Power actions, numerically compatible with pcsclite.
const (
	ActionPowerUp   Action = 500
	ActionPowerDown Action = 501
	ActionReset     Action = 502
)

// OpenFunc creates a reader from a device-name string.
type OpenFunc func(config string) (sereader.Reader, error)

type slot struct {
	reader sereader.Reader
	unit   uint32
	inUse  bool
}

// Handler maps unit numbers to open readers for an IFD shim.
// NewHandler(nil) uses sereader.Open to create readers; the
// host process must import the HAL backend packages its device-name
// strings refer to.
//
// A Handler is not safe for concurrent use; the shim reports the
// reader as not thread safe and pcscd serializes accordingly.
type Handler struct {
	open  OpenFunc
	slots [MaxReaders]slot
}

// NewHandler creates a Handler. A nil open falls back to sereader.Open.
func NewHandler(open OpenFunc) *Handler {
	if open == nil {
		open = sereader.Open
	}
	return &Handler{open: open}
}

func (h *Handler) get(unit uint32) *slot {
	for i := range h.slots {
		s := &h.slots[i]
		if s.inUse && s.unit == unit {
			return s
		}
	}
	return nil
}

// CreateChannel opens the reader described by deviceName and binds it
// to the unit number.
func (h *Handler) CreateChannel(unit uint32, deviceName string) Status {
	if h.get(unit) != nil {
		debuglog.Debugf("unit %#x already open", unit)
		return StatusNoSuchDevice
	}

	for i := range h.slots {
		s := &h.slots[i]
		if s.inUse {
			continue
		}

		reader, err := h.open(deviceName)
		if err != nil {
			debuglog.Debugf("could not create reader: %v", err)
			return StatusNoSuchDevice
		}

		s.inUse = true
		s.unit = unit
		s.reader = reader
		return StatusSuccess
	}

	return StatusNoSuchDevice
}

// CloseChannel closes the reader bound to the unit number and frees
// its slot.
func (h *Handler) CloseChannel(unit uint32) Status {
	s := h.get(unit)
	if s == nil {
		return StatusNoSuchDevice
	}

	_ = s.reader.Close()
	s.inUse = false
	s.reader = nil

	return StatusSuccess
}

// Capability answers a capability query into buf and returns the
// number of bytes written.
func (h *Handler) Capability(unit uint32, tag Tag, buf []byte) (int, Status) {
	s := h.get(unit)
	if s == nil {
		return 0, StatusNoSuchDevice
	}

	switch tag {
	case TagATR:
		atr, err := s.reader.ATR()
		if err != nil || len(atr) > len(buf) {
			return 0, StatusCommunicationError
		}
		return copy(buf, atr), StatusSuccess

	case TagSimultaneousAccess:
		return putByte(buf, MaxReaders)

	case TagThreadSafe, TagSlotThreadSafe:
		return putByte(buf, 0)

	case TagSlotsNumber:
		return putByte(buf, 1)

	default:
		return 0, StatusErrorTag
	}
}

func putByte(buf []byte, v byte) (int, Status) {
	if len(buf) < 1 {
		return 0, StatusCommunicationError
	}
	buf[0] = v
	return 1, StatusSuccess
}

// PowerICC performs a power action. Power-up and reset answer with the
// ATR written into buf.
func (h *Handler) PowerICC(unit uint32, action Action, buf []byte) (int, Status) {
	s := h.get(unit)
	if s == nil {
		return 0, StatusNoSuchDevice
	}

	switch action {
	case ActionPowerUp:
		if err := s.reader.PowerUp(); err != nil {
			return 0, StatusErrorPowerAction
		}
		return h.Capability(unit, TagATR, buf)

	case ActionPowerDown:
		if err := s.reader.PowerDown(); err != nil {
			return 0, StatusErrorPowerAction
		}
		return 0, StatusSuccess

	case ActionReset:
		if err := s.reader.WarmReset(); err != nil {
			return 0, StatusErrorPowerAction
		}
		return h.Capability(unit, TagATR, buf)

	default:
		return 0, StatusNotSupported
	}
}

// Transmit exchanges one APDU with the element.
func (h *Handler) Transmit(unit uint32, tx, rx []byte) (int, Status) {
	s := h.get(unit)
	if s == nil {
		return 0, StatusNoSuchDevice
	}

	n, err := s.reader.Transceive(tx, rx)
	if err != nil {
		return 0, StatusCommunicationError
	}
	return n, StatusSuccess
}

// Presence reports whether the element is present. A soldered-down
// secure element cannot be removed.
func (h *Handler) Presence(unit uint32) Status {
	if h.get(unit) == nil {
		return StatusNoSuchDevice
	}
	return StatusSuccess
}
