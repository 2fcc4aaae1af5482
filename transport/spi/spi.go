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

// Package spi provides the SPI transport to the RF front end. The front end
// shifts bits LSB first, so every byte is bit-reversed on the wire.
package spi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	cardemu "github.com/ZaparooProject/go-cardemu"
	"github.com/ZaparooProject/go-cardemu/hal/link"
	"github.com/ZaparooProject/go-cardemu/internal/frame"
)

// Transaction prefixes.
const (
	prefixDataWrite  = 0x01
	prefixStatusRead = 0x02
	prefixDataRead   = 0x03
)

const (
	statusReady = 0x01

	defaultFreq = 1 * physic.MegaHertz
	mode        = spi.Mode0

	// DefaultTimeout bounds the wait for an ACK or a response.
	DefaultTimeout = 100 * time.Millisecond

	maxBadFrames = 3

	readSize = frame.MaxDataLength + 8
)

// Transport implements link.Port over SPI.
type Transport struct {
	conn     spi.Conn
	port     io.Closer
	portName string
	timeout  time.Duration
	mu       sync.Mutex
}

var _ link.Port = (*Transport)(nil)

// New opens the SPI port portName in mode 0 at 1 MHz.
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	t := newTransport(conn, port, portName)
	t.wakeUp()
	return t, nil
}

func newTransport(conn spi.Conn, port io.Closer, portName string) *Transport {
	return &Transport{
		conn:     conn,
		port:     port,
		portName: portName,
		timeout:  DefaultTimeout,
	}
}

// wakeUp clocks a dummy byte so a sleeping front end listens again.
func (t *Transport) wakeUp() {
	time.Sleep(time.Millisecond)
	_ = t.conn.Tx([]byte{0x00}, nil)
	time.Sleep(time.Millisecond)
}

// SetTimeout changes the ACK and response timeout.
func (t *Transport) SetTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timeout > 0 {
		t.timeout = timeout
	}
}

// String returns the port name.
func (t *Transport) String() string {
	return "spi:" + t.portName
}

// Close releases the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.conn = nil
	if t.port == nil {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

// reverse returns data with the bits of every byte reversed.
func reverse(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = bits.Reverse8(b)
	}
	return out
}

// WriteFrame sends data in a host information frame and waits for the ACK.
func (t *Transport) WriteFrame(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return cardemu.NewLinkError("WriteFrame", t.portName, cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := frame.Encode(frame.HostToFrontend, data)
	if err != nil {
		return cardemu.NewDataTooLargeError("WriteFrame", t.portName)
	}
	if err := t.write(out); err != nil {
		return err
	}
	return t.waitAck(ctx)
}

// ReadFrame returns the data of the next front-end information frame.
func (t *Transport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, cardemu.NewLinkError("ReadFrame", t.portName, cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
	}

	for range maxBadFrames {
		if err := t.waitReady(ctx); err != nil {
			return nil, err
		}
		raw, err := t.read(readSize)
		if err != nil {
			return nil, err
		}

		f, _, err := frame.Decode(raw)
		if err != nil {
			cardemu.Debugf("SPI %s: bad response: %v", t.portName, err)
			if err := t.write(frame.NACK); err != nil {
				return nil, err
			}
			continue
		}
		if f.Kind == frame.KindACK || f.Kind == frame.KindNACK {
			continue
		}

		if err := t.write(frame.ACK); err != nil {
			return nil, err
		}
		data, err := f.Payload("ReadFrame", frame.FrontendToHost)
		if err != nil {
			return nil, fmt.Errorf("SPI %s: %w", t.portName, err)
		}
		return data, nil
	}
	return nil, cardemu.NewFrameCorruptedError("ReadFrame", t.portName)
}

func (t *Transport) waitAck(ctx context.Context) error {
	if err := t.waitReady(ctx); err != nil {
		if errors.Is(err, cardemu.ErrLinkTimeout) {
			return cardemu.NewNoACKError("waitAck", t.portName)
		}
		return err
	}

	reply, err := t.read(len(frame.ACK))
	if err != nil {
		return err
	}
	switch {
	case bytes.Equal(reply, frame.ACK):
		return nil
	case bytes.Equal(reply, frame.NACK):
		return cardemu.NewNACKReceivedError("waitAck", t.portName)
	default:
		return cardemu.NewInvalidResponseError("waitAck", t.portName)
	}
}

// waitReady polls the status register until the front end has data.
func (t *Transport) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(t.timeout)
	w := []byte{bits.Reverse8(prefixStatusRead), 0x00}
	r := make([]byte, len(w))

	for {
		if err := t.conn.Tx(w, r); err != nil {
			return t.busError("waitReady", cardemu.ErrLinkRead, err)
		}
		if bits.Reverse8(r[1]) == statusReady {
			return nil
		}
		if time.Now().After(deadline) {
			return cardemu.NewLinkTimeoutError("waitReady", t.portName)
		}
		if err := sleepCtx(ctx, time.Millisecond); err != nil {
			return err
		}
	}
}

// write sends a data-write transaction carrying raw.
func (t *Transport) write(raw []byte) error {
	w := make([]byte, 0, 1+len(raw))
	w = append(w, bits.Reverse8(prefixDataWrite))
	w = append(w, reverse(raw)...)
	if err := t.conn.Tx(w, nil); err != nil {
		return t.busError("write", cardemu.ErrLinkWrite, err)
	}
	return nil
}

// read clocks n bytes out of the front end in one data-read transaction.
func (t *Transport) read(n int) ([]byte, error) {
	w := make([]byte, 1+n)
	w[0] = bits.Reverse8(prefixDataRead)
	r := make([]byte, len(w))
	if err := t.conn.Tx(w, r); err != nil {
		return nil, t.busError("read", cardemu.ErrLinkRead, err)
	}
	return reverse(r[1:]), nil
}

func (t *Transport) busError(op string, kind, err error) error {
	errType := cardemu.ErrorTypeTransient
	if cardemu.IsFatal(err) {
		errType = cardemu.ErrorTypePermanent
	}
	return cardemu.NewLinkError(op, t.portName, fmt.Errorf("%w: %w", kind, err), errType)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
