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

// Package uart provides the UART transport to the RF front end.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	cardemu "github.com/ZaparooProject/go-cardemu"
	"github.com/ZaparooProject/go-cardemu/hal/link"
	"github.com/ZaparooProject/go-cardemu/internal/frame"
)

const (
	baudRate = 115200

	// DefaultACKTimeout bounds the wait for the front end's ACK.
	DefaultACKTimeout = 100 * time.Millisecond
	// DefaultResponseTimeout bounds the wait for a response frame.
	DefaultResponseTimeout = time.Second

	// maxBadFrames is how many corrupted responses are NACKed before the
	// read gives up.
	maxBadFrames = 3
)

// wakeSequence brings a sleeping front end UART out of power-down.
var wakeSequence = []byte{
	0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// serialPort is the part of serial.Port the transport uses.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type drainer interface {
	Drain() error
}

// Transport implements link.Port over a serial line.
type Transport struct {
	port            serialPort
	portName        string
	pending         []frame.Frame
	asm             frame.Assembler
	ackTimeout      time.Duration
	responseTimeout time.Duration
	mu              sync.Mutex
}

var _ link.Port = (*Transport)(nil)

// readTimeout is the serial read timeout; Windows drivers need longer.
func readTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens portName at 115200 8N1.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return newTransport(port, portName), nil
}

func newTransport(port serialPort, portName string) *Transport {
	return &Transport{
		port:            port,
		portName:        portName,
		ackTimeout:      DefaultACKTimeout,
		responseTimeout: DefaultResponseTimeout,
	}
}

// SetTimeouts changes the ACK and response timeouts.
func (t *Transport) SetTimeouts(ack, response time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ack > 0 {
		t.ackTimeout = ack
	}
	if response > 0 {
		t.responseTimeout = response
	}
}

// String returns the port name.
func (t *Transport) String() string {
	return "uart:" + t.portName
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// WriteFrame sends data in a host information frame and waits for the ACK.
func (t *Transport) WriteFrame(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return cardemu.NewLinkError("WriteFrame", t.portName, cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := frame.Encode(frame.HostToFrontend, data)
	if err != nil {
		return cardemu.NewDataTooLargeError("WriteFrame", t.portName)
	}

	if err := t.write(wakeSequence, "wake up"); err != nil {
		return err
	}
	if err := t.write(out, "send frame"); err != nil {
		return err
	}
	return t.waitAck(ctx)
}

// ReadFrame returns the data of the next front-end information frame and
// acknowledges it. Corrupted frames are NACKed so the front end resends.
func (t *Transport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, cardemu.NewLinkError("ReadFrame", t.portName, cardemu.ErrLinkClosed, cardemu.ErrorTypePermanent)
	}

	if len(t.pending) > 0 {
		f := t.pending[0]
		t.pending = t.pending[1:]
		return t.accept(f)
	}

	deadline := time.Now().Add(t.responseTimeout)
	bad := 0
	for {
		f, err := t.next(ctx, deadline)
		switch {
		case isCorrupted(err):
			bad++
			cardemu.Debugf("UART %s: %v", t.portName, err)
			if bad >= maxBadFrames {
				return nil, cardemu.NewFrameCorruptedError("ReadFrame", t.portName)
			}
			if err := t.write(frame.NACK, "NACK"); err != nil {
				return nil, err
			}
			continue
		case errors.Is(err, cardemu.ErrLinkTimeout):
			return nil, cardemu.NewLinkTimeoutError("ReadFrame", t.portName)
		case err != nil:
			return nil, err
		}

		if f.Kind == frame.KindACK || f.Kind == frame.KindNACK {
			continue
		}
		return t.accept(f)
	}
}

// accept ACKs a received frame and returns its payload.
func (t *Transport) accept(f frame.Frame) ([]byte, error) {
	if err := t.write(frame.ACK, "ACK"); err != nil {
		return nil, err
	}
	data, err := f.Payload("ReadFrame", frame.FrontendToHost)
	if err != nil {
		return nil, fmt.Errorf("UART %s: %w", t.portName, err)
	}
	return data, nil
}

// waitAck reads until an ACK arrives. Response frames that overtake the
// ACK are kept for ReadFrame.
func (t *Transport) waitAck(ctx context.Context) error {
	deadline := time.Now().Add(t.ackTimeout)
	for {
		f, err := t.next(ctx, deadline)
		switch {
		case isCorrupted(err):
			cardemu.Debugf("UART %s: waiting for ACK: %v", t.portName, err)
			continue
		case errors.Is(err, cardemu.ErrLinkTimeout):
			return cardemu.NewNoACKError("waitAck", t.portName)
		case err != nil:
			return err
		}

		switch f.Kind {
		case frame.KindACK:
			return nil
		case frame.KindNACK:
			return cardemu.NewNACKReceivedError("waitAck", t.portName)
		default:
			t.pending = append(t.pending, f)
		}
	}
}

// next returns the next complete frame from the port.
func (t *Transport) next(ctx context.Context, deadline time.Time) (frame.Frame, error) {
	buf := make([]byte, 64)
	for {
		f, ok, err := t.asm.Next()
		if err != nil || ok {
			return f, err
		}
		if err := ctx.Err(); err != nil {
			return frame.Frame{}, err
		}
		if time.Now().After(deadline) {
			return frame.Frame{}, cardemu.ErrLinkTimeout
		}

		n, err := t.port.Read(buf)
		if err != nil {
			return frame.Frame{}, t.readError(err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		t.asm.Feed(buf[:n])
	}
}

func (t *Transport) write(data []byte, what string) error {
	n, err := t.port.Write(data)
	if err != nil {
		return cardemu.NewLinkError(what, t.portName, fmt.Errorf("%w: %w", cardemu.ErrLinkWrite, err), errorType(err))
	}
	if n != len(data) {
		return cardemu.NewLinkWriteError(what, t.portName)
	}
	if d, ok := t.port.(drainer); ok {
		if err := drainWithRetry(d); err != nil {
			return fmt.Errorf("UART %s drain failed: %w", what, err)
		}
	}
	return nil
}

func (t *Transport) readError(err error) error {
	return cardemu.NewLinkError("read", t.portName, fmt.Errorf("%w: %w", cardemu.ErrLinkRead, err), errorType(err))
}

// errorType classifies a serial port error; an unplugged adapter is
// permanent.
func errorType(err error) cardemu.ErrorType {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return cardemu.ErrorTypePermanent
	}
	if cardemu.IsFatal(err) {
		return cardemu.ErrorTypePermanent
	}
	return cardemu.ErrorTypeTransient
}

func isCorrupted(err error) bool {
	return errors.Is(err, cardemu.ErrFrameCorrupted) || errors.Is(err, cardemu.ErrChecksumMismatch)
}

// drainWithRetry drains the output buffer, retrying interrupted system
// calls.
func drainWithRetry(d drainer) error {
	const maxRetries = 3
	delay := 2 * time.Millisecond

	var err error
	for range maxRetries {
		if err = d.Drain(); err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

func isInterruptedSystemCall(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "interrupted system call") || strings.Contains(msg, "eintr")
}
