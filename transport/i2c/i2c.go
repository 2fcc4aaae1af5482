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

// Package i2c provides the I2C transport to the RF front end.
package i2c

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	cardemu "github.com/ZaparooProject/go-cardemu"
	"github.com/ZaparooProject/go-cardemu/hal/link"
	"github.com/ZaparooProject/go-cardemu/internal/frame"
)

const (
	// Addr is the front end's 7-bit I2C address.
	Addr = 0x24

	// statusReady is the first byte of every read once the front end has
	// data.
	statusReady = 0x01

	maxClockFreq = 400 * physic.KiloHertz

	// DefaultTimeout bounds the wait for an ACK or a response.
	DefaultTimeout = 100 * time.Millisecond

	maxBadFrames = 3

	// readSize covers the status byte and the largest normal frame.
	readSize = 1 + frame.MaxDataLength + 8
)

// Transport implements link.Port over I2C.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser
	busName string
	timeout time.Duration
	mu      sync.Mutex
}

var _ link.Port = (*Transport)(nil)

// parseBusPath strips an address suffix such as ":0x24".
func parseBusPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// New opens the I2C bus busName and addresses the front end on it.
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(parseBusPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	if err := bus.SetSpeed(maxClockFreq); err != nil {
		cardemu.Debugf("I2C %s: keeping default clock: %v", busName, err)
	}

	return newTransport(bus, busName), nil
}

func newTransport(bus i2c.BusCloser, busName string) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: Addr, Bus: bus},
		bus:     bus,
		busName: busName,
		timeout: DefaultTimeout,
	}
}

// SetTimeout changes the ACK and response timeout.
func (t *Transport) SetTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timeout > 0 {
		t.timeout = timeout
	}
}

// String returns the bus name.
func (t *Transport) String() string {
	return "i2c:" + t.busName
}

// Close releases the bus.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus == nil {
		return nil
	}
	err := t.bus.Close()
	t.bus = nil
	t.dev = nil
	if err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

// WriteFrame sends data in a host information frame and waits for the ACK.
func (t *Transport) WriteFrame(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return cardemu.NewLinkError("WriteFrame", t.busName, cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := frame.Encode(frame.HostToFrontend, data)
	if err != nil {
		return cardemu.NewDataTooLargeError("WriteFrame", t.busName)
	}
	if err := t.dev.Tx(out, nil); err != nil {
		return t.busError("WriteFrame", cardemu.ErrLinkWrite, err)
	}
	return t.waitAck(ctx)
}

// ReadFrame returns the data of the next front-end information frame.
func (t *Transport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil, cardemu.NewLinkError("ReadFrame", t.busName, cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
	}

	for range maxBadFrames {
		if err := t.waitReady(ctx); err != nil {
			return nil, err
		}

		buf := make([]byte, readSize)
		if err := t.dev.Tx(nil, buf); err != nil {
			return nil, t.busError("ReadFrame", cardemu.ErrLinkRead, err)
		}

		f, _, err := frame.Decode(buf[1:])
		if err != nil {
			cardemu.Debugf("I2C %s: bad response: %v", t.busName, err)
			if err := t.send(frame.NACK); err != nil {
				return nil, err
			}
			continue
		}
		if f.Kind == frame.KindACK || f.Kind == frame.KindNACK {
			continue
		}

		if err := t.send(frame.ACK); err != nil {
			return nil, err
		}
		data, err := f.Payload("ReadFrame", frame.FrontendToHost)
		if err != nil {
			return nil, fmt.Errorf("I2C %s: %w", t.busName, err)
		}
		return data, nil
	}
	return nil, cardemu.NewFrameCorruptedError("ReadFrame", t.busName)
}

// waitAck polls for the front end's ACK frame.
func (t *Transport) waitAck(ctx context.Context) error {
	if err := t.waitReady(ctx); err != nil {
		if errors.Is(err, cardemu.ErrLinkTimeout) {
			return cardemu.NewNoACKError("waitAck", t.busName)
		}
		return err
	}

	buf := make([]byte, 1+len(frame.ACK))
	if err := t.dev.Tx(nil, buf); err != nil {
		return t.busError("waitAck", cardemu.ErrLinkRead, err)
	}

	switch reply := buf[1:]; {
	case bytes.Equal(reply, frame.ACK):
		return nil
	case bytes.Equal(reply, frame.NACK):
		return cardemu.NewNACKReceivedError("waitAck", t.busName)
	default:
		return cardemu.NewFrameCorruptedError("waitAck", t.busName)
	}
}

// waitReady polls the status byte until the front end has data, backing
// off from 1ms up to 16ms between polls.
func (t *Transport) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(t.timeout)
	delay := time.Millisecond
	status := make([]byte, 1)

	for {
		if err := t.dev.Tx(nil, status); err != nil {
			return t.busError("waitReady", cardemu.ErrLinkRead, err)
		}
		if status[0] == statusReady {
			return nil
		}
		if time.Now().After(deadline) {
			return cardemu.NewLinkTimeoutError("waitReady", t.busName)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, 16*time.Millisecond)
	}
}

func (t *Transport) send(control []byte) error {
	if err := t.dev.Tx(control, nil); err != nil {
		return t.busError("send", cardemu.ErrLinkWrite, err)
	}
	return nil
}

func (t *Transport) busError(op string, kind, err error) error {
	errType := cardemu.ErrorTypeTransient
	if cardemu.IsFatal(err) {
		errType = cardemu.ErrorTypePermanent
	}
	return cardemu.NewLinkError(op, t.busName, fmt.Errorf("%w: %w", kind, err), errType)
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
