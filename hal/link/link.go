// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package link implements the emulator HAL over a framed request/response
// link to an RF front end. Every HAL method becomes one exchange: the host
// sends [op][args...] and the front end answers [op+1][status][data...].
package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	cardemu "github.com/ZaparooProject/go-cardemu"
	"github.com/ZaparooProject/go-cardemu/internal/syncutil"
)

// Front-end link operations.
const (
	OpInit          byte = 0x10
	OpConfigureRF   byte = 0x12
	OpProtocolMask  byte = 0x14
	OpEnable        byte = 0x16
	OpDisable       byte = 0x18
	OpSendRF        byte = 0x1A
	OpReceiveRF     byte = 0x1C
	OpSecurity      byte = 0x1E
	OpWriteRegister byte = 0x20
	OpFieldStatus   byte = 0x22
	OpReceiveHost   byte = 0x24
	OpSendHost      byte = 0x26
)

// maxStaleReplies bounds how many out-of-sequence replies one exchange
// discards before giving up.
const maxStaleReplies = 4

var opNames = map[byte]string{
	OpInit:          "InitHardware",
	OpConfigureRF:   "ConfigureRF",
	OpProtocolMask:  "SetProtocolMask",
	OpEnable:        "EnableEmulation",
	OpDisable:       "DisableEmulation",
	OpSendRF:        "SendResponse",
	OpReceiveRF:     "ReceiveCommand",
	OpSecurity:      "UpdateSecurityConfig",
	OpWriteRegister: "WriteProtocolRegister",
	OpFieldStatus:   "RFFieldPresent",
	OpReceiveHost:   "ReceiveHostCommand",
	OpSendHost:      "SendHostResponse",
}

// OpName returns the HAL method name for a link op.
func OpName(op byte) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Op(0x%02X)", op)
}

// HAL drives a front end over a Port. It implements cardemu.HAL,
// cardemu.HostChannel and cardemu.FieldSensor.
type HAL struct {
	port   Port
	retry  *RetryConfig
	trace  *cardemu.TraceBuffer
	mu     syncutil.Mutex
	closed bool
}

var (
	_ cardemu.HAL         = (*HAL)(nil)
	_ cardemu.HostChannel = (*HAL)(nil)
	_ cardemu.FieldSensor = (*HAL)(nil)
)

// Option configures a HAL.
type Option func(*HAL)

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(h *HAL) {
		if cfg != nil {
			h.retry = cfg
		}
	}
}

// WithTrace records every exchange in a trace buffer of the given size and
// attaches it to returned errors.
func WithTrace(size int) Option {
	return func(h *HAL) {
		h.trace = cardemu.NewTraceBuffer(h.port.String(), size)
	}
}

// New returns a HAL that talks to the front end on port.
func New(port Port, opts ...Option) *HAL {
	h := &HAL{
		port:  port,
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// String returns the port description.
func (h *HAL) String() string {
	return h.port.String()
}

// Close closes the underlying port. Later calls fail with ErrLinkClosed.
func (h *HAL) Close() error {
	var already bool
	h.mu.Do(func() {
		already = h.closed
		h.closed = true
	})
	if already {
		return nil
	}
	if err := h.port.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", h.port, err)
	}
	return nil
}

// InitHardware resets the front end.
func (h *HAL) InitHardware(ctx context.Context) error {
	_, err := h.call(ctx, OpInit, nil)
	return err
}

// ConfigureRF sets the carrier frequency and transmit power.
func (h *HAL) ConfigureRF(ctx context.Context, freqHz uint32, power byte) error {
	args := binary.LittleEndian.AppendUint32(make([]byte, 0, 5), freqHz)
	_, err := h.call(ctx, OpConfigureRF, append(args, power))
	return err
}

// SetProtocolMask selects the protocols the front end answers.
func (h *HAL) SetProtocolMask(ctx context.Context, mask cardemu.ProtocolMask) error {
	_, err := h.call(ctx, OpProtocolMask, []byte{byte(mask)})
	return err
}

// EnableEmulation starts card emulation on the front end.
func (h *HAL) EnableEmulation(ctx context.Context) error {
	_, err := h.call(ctx, OpEnable, nil)
	return err
}

// DisableEmulation stops card emulation on the front end.
func (h *HAL) DisableEmulation(ctx context.Context) error {
	_, err := h.call(ctx, OpDisable, nil)
	return err
}

// SendResponse transmits data to the reader.
func (h *HAL) SendResponse(ctx context.Context, data []byte) error {
	_, err := h.call(ctx, OpSendRF, data)
	return err
}

// ReceiveCommand waits for the next reader frame.
func (h *HAL) ReceiveCommand(ctx context.Context, maxLen int) ([]byte, error) {
	return h.receive(ctx, OpReceiveRF, maxLen)
}

// UpdateSecurityConfig pushes the bypass policy.
func (h *HAL) UpdateSecurityConfig(ctx context.Context, policy cardemu.SecurityPolicy) error {
	_, err := h.call(ctx, OpSecurity, []byte{byte(policy)})
	return err
}

// WriteProtocolRegister forwards raw register bytes.
func (h *HAL) WriteProtocolRegister(ctx context.Context, data []byte) error {
	_, err := h.call(ctx, OpWriteRegister, data)
	return err
}

// RFFieldPresent reports whether the front end senses a reader field.
func (h *HAL) RFFieldPresent(ctx context.Context) (bool, error) {
	data, err := h.call(ctx, OpFieldStatus, nil)
	if err != nil {
		return false, err
	}
	if len(data) < 1 {
		return false, cardemu.NewInvalidResponseError(OpName(OpFieldStatus), h.port.String())
	}
	return data[0] != 0, nil
}

// ReceiveHostCommand fetches a pending host command, or nil when none is
// waiting.
func (h *HAL) ReceiveHostCommand(ctx context.Context, maxLen int) ([]byte, error) {
	return h.receive(ctx, OpReceiveHost, maxLen)
}

// SendHostResponse returns a host command response.
func (h *HAL) SendHostResponse(ctx context.Context, data []byte) error {
	_, err := h.call(ctx, OpSendHost, data)
	return err
}

func (h *HAL) receive(ctx context.Context, op byte, maxLen int) ([]byte, error) {
	if maxLen <= 0 || maxLen > 0xFFFF {
		return nil, fmt.Errorf("%s: invalid max length %d", OpName(op), maxLen)
	}
	args := binary.LittleEndian.AppendUint16(nil, uint16(maxLen))
	data, err := h.call(ctx, op, args)
	if err != nil {
		return nil, err
	}
	if len(data) > maxLen {
		data = data[:maxLen]
	}
	return data, nil
}

// call performs one exchange with retries. The link lock is held for the
// whole exchange so replies cannot interleave.
func (h *HAL) call(ctx context.Context, op byte, args []byte) ([]byte, error) {
	var data []byte
	var err error
	h.mu.Do(func() {
		if h.closed {
			err = cardemu.NewLinkError(OpName(op), h.port.String(), cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
			return
		}
		if h.trace != nil {
			h.trace.Clear()
		}
		err = Retry(ctx, h.retry, func() error {
			var exErr error
			data, exErr = h.exchange(ctx, op, args)
			return exErr
		})
		if err != nil && h.trace != nil {
			err = h.trace.WrapError(err)
		}
	})
	return data, err
}

func (h *HAL) exchange(ctx context.Context, op byte, args []byte) ([]byte, error) {
	req := make([]byte, 0, 1+len(args))
	req = append(req, op)
	req = append(req, args...)

	if h.trace != nil {
		h.trace.RecordTX(req, OpName(op))
	}
	if err := h.port.WriteFrame(ctx, req); err != nil {
		return nil, err
	}

	for range maxStaleReplies {
		resp, err := h.port.ReadFrame(ctx)
		if err != nil {
			if h.trace != nil && errors.Is(err, cardemu.ErrLinkTimeout) {
				h.trace.RecordTimeout(OpName(op))
			}
			return nil, err
		}
		if h.trace != nil {
			h.trace.RecordRX(resp, OpName(op))
		}
		if len(resp) == 0 || resp[0] != op+1 {
			// A reply to an exchange abandoned by a cancelled context.
			cardemu.Debugf("link %s: discarding stale reply %X", OpName(op), resp)
			continue
		}
		if len(resp) < 2 {
			return nil, cardemu.NewInvalidResponseError(OpName(op), h.port.String())
		}
		if status := resp[1]; status != 0x00 {
			return nil, &cardemu.FrontendError{Op: OpName(op), Code: status}
		}
		return resp[2:], nil
	}
	return nil, cardemu.NewInvalidResponseError(OpName(op), h.port.String())
}
