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

package spi

import (
	"bytes"
	"context"
	"errors"
	"math/bits"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"

	cardemu "github.com/ZaparooProject/go-cardemu"
	"github.com/ZaparooProject/go-cardemu/hal/link"
	"github.com/ZaparooProject/go-cardemu/internal/frame"
)

// mockConn is a front end on an SPI bus that speaks LSB first. Host frames
// are answered with an ACK followed by the handler's reply.
type mockConn struct {
	handler   func(data []byte) []byte
	txErr     error
	out       [][]byte
	writes    [][]byte
	lastReply []byte
	mu        sync.Mutex
	corrupt   int
	closed    bool
}

func newMockConn(handler func(data []byte) []byte) *mockConn {
	return &mockConn{handler: handler}
}

func (m *mockConn) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.txErr != nil {
		return m.txErr
	}
	if len(w) == 0 {
		return nil
	}
	if r != nil && len(r) != len(w) {
		return errors.New("mock spi: full duplex buffers differ in length")
	}

	switch bits.Reverse8(w[0]) {
	case prefixDataWrite:
		m.write(reverse(w[1:]))
	case prefixStatusRead:
		status := byte(0x00)
		if len(m.out) > 0 {
			status = statusReady
		}
		clear(r)
		r[1] = bits.Reverse8(status)
	case prefixDataRead:
		clear(r)
		if len(m.out) == 0 {
			return nil
		}
		head := m.out[0]
		copy(r[1:], reverse(head))
		if len(r)-1 >= len(head) {
			m.out = m.out[1:]
		}
	}
	return nil
}

func (m *mockConn) write(raw []byte) {
	m.writes = append(m.writes, raw)
	if bytes.Equal(raw, frame.NACK) && m.lastReply != nil {
		m.out = append(m.out, m.lastReply)
		return
	}
	f, _, err := frame.Decode(raw)
	if err != nil || f.Kind != frame.KindData || m.handler == nil {
		return
	}
	reply, _ := frame.Encode(frame.FrontendToHost, m.handler(f.Data))
	m.lastReply = reply
	m.out = append(m.out, frame.ACK)
	if m.corrupt > 0 {
		m.corrupt--
		bad := append([]byte(nil), reply...)
		bad[len(bad)-2]++
		m.out = append(m.out, bad)
		return
	}
	m.out = append(m.out, reply)
}

func (*mockConn) TxPackets([]spi.Packet) error { return errors.New("not supported") }

func (*mockConn) Duplex() conn.Duplex { return conn.Full }

func (*mockConn) String() string { return "mock-spi" }

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

var _ spi.Conn = (*mockConn)(nil)

func echoOK(data []byte) []byte {
	return []byte{data[0] + 1, 0x00}
}

func newTestTransport(c *mockConn) *Transport {
	tr := newTransport(c, c, "SPI0.0")
	tr.SetTimeout(30 * time.Millisecond)
	return tr
}

func TestReverse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x80, 0x40, 0xC0, 0x2B}, reverse([]byte{0x01, 0x02, 0x03, 0xD4}))
	assert.Equal(t, []byte{0x00, 0xFF}, reverse([]byte{0x00, 0xFF}))
}

func TestTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newMockConn(echoOK)
	tr := newTestTransport(c)
	ctx := context.Background()

	require.NoError(t, tr.WriteFrame(ctx, []byte{link.OpSecurity, 0xFF}))
	got, err := tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{link.OpSecurity + 1, 0x00}, got)

	want, err := frame.Encode(frame.HostToFrontend, []byte{link.OpSecurity, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{want, frame.ACK}, c.writes)
}

func TestTransport_NoACK(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(newMockConn(nil))
	err := tr.WriteFrame(context.Background(), []byte{link.OpInit})
	require.ErrorIs(t, err, cardemu.ErrNoACK)
}

func TestTransport_NACK(t *testing.T) {
	t.Parallel()

	c := newMockConn(nil)
	c.out = [][]byte{frame.NACK}
	tr := newTestTransport(c)

	err := tr.WriteFrame(context.Background(), []byte{link.OpInit})
	require.ErrorIs(t, err, cardemu.ErrNACKReceived)
}

func TestTransport_InvalidAck(t *testing.T) {
	t.Parallel()

	c := newMockConn(nil)
	c.out = [][]byte{{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}
	tr := newTestTransport(c)

	err := tr.WriteFrame(context.Background(), []byte{link.OpInit})
	require.ErrorIs(t, err, cardemu.ErrInvalidResponse)
}

func TestTransport_CorruptedResponseNACKed(t *testing.T) {
	t.Parallel()

	c := newMockConn(echoOK)
	c.corrupt = 1
	tr := newTestTransport(c)
	ctx := context.Background()

	require.NoError(t, tr.WriteFrame(ctx, []byte{link.OpDisable}))
	got, err := tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{link.OpDisable + 1, 0x00}, got)
	assert.Contains(t, c.writes, frame.NACK)
}

func TestTransport_ReadTimeout(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(newMockConn(nil))
	_, err := tr.ReadFrame(context.Background())
	require.ErrorIs(t, err, cardemu.ErrLinkTimeout)
}

func TestTransport_BusError(t *testing.T) {
	t.Parallel()

	c := newMockConn(echoOK)
	c.txErr = errors.New("spi glitch")
	tr := newTestTransport(c)

	err := tr.WriteFrame(context.Background(), []byte{link.OpInit})
	require.ErrorIs(t, err, cardemu.ErrLinkWrite)
	assert.True(t, cardemu.IsRetryable(err))
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	c := newMockConn(echoOK)
	tr := newTestTransport(c)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, c.closed)

	_, err := tr.ReadFrame(context.Background())
	require.ErrorIs(t, err, cardemu.ErrLinkClosed)
	assert.Equal(t, "spi:SPI0.0", tr.String())
}

func TestLinkOverSPI(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sent [][]byte
	tr := newTestTransport(newMockConn(func(data []byte) []byte {
		if data[0] == link.OpSendRF {
			mu.Lock()
			sent = append(sent, append([]byte(nil), data[1:]...))
			mu.Unlock()
		}
		return echoOK(data)
	}))
	hal := link.New(tr)

	require.NoError(t, hal.SendResponse(context.Background(), []byte{0x04, 0x00}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]byte{{0x04, 0x00}}, sent)
}
