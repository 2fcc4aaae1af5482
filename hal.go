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

package cardemu

import (
	"context"
	"sync"
)

// HAL is the hardware abstraction the emulator drives. Implementations talk
// to an RF front end (see package hal/link) or simulate one in tests.
//
// The emulator never holds its own lock while calling into the HAL.
type HAL interface {
	// InitHardware brings the front end to a known idle state.
	InitHardware(ctx context.Context) error
	// ConfigureRF sets carrier frequency in Hz and transmit power.
	ConfigureRF(ctx context.Context, freqHz uint32, power byte) error
	// SetProtocolMask selects the RF protocols the front end answers.
	SetProtocolMask(ctx context.Context, mask ProtocolMask) error
	// EnableEmulation starts listening for readers.
	EnableEmulation(ctx context.Context) error
	// DisableEmulation stops listening for readers.
	DisableEmulation(ctx context.Context) error
	// SendResponse transmits one frame to the reader.
	SendResponse(ctx context.Context, data []byte) error
	// ReceiveCommand returns the next reader frame, at most maxLen bytes.
	// An empty frame means the reader went away.
	ReceiveCommand(ctx context.Context, maxLen int) ([]byte, error)
	// UpdateSecurityConfig pushes the bypass policy to the front end.
	UpdateSecurityConfig(ctx context.Context, policy SecurityPolicy) error
	// WriteProtocolRegister hands raw register bytes to the front end.
	WriteProtocolRegister(ctx context.Context, data []byte) error
}

// HostChannel is implemented by HALs that carry host control commands on a
// separate channel from RF traffic. When absent, host responses go out via
// SendResponse.
type HostChannel interface {
	ReceiveHostCommand(ctx context.Context, maxLen int) ([]byte, error)
	SendHostResponse(ctx context.Context, data []byte) error
}

// FieldSensor is implemented by HALs that can report whether a reader field
// is present.
type FieldSensor interface {
	RFFieldPresent(ctx context.Context) (bool, error)
}

// MockHAL is an in-memory HAL for tests. Reader frames are queued with
// QueueRF; by default ReceiveCommand returns an empty frame when the queue
// runs dry, or blocks until a frame arrives after SetBlocking(true).
type MockHAL struct {
	errorMap     map[string]error
	callCount    map[string]int
	notify       chan struct{}
	rfQueue      [][]byte
	hostQueue    [][]byte
	sent         [][]byte
	hostSent     [][]byte
	registers    [][]byte
	calls        []string
	mu           sync.Mutex
	freqHz       uint32
	mask         ProtocolMask
	policy       SecurityPolicy
	power        byte
	enabled      bool
	blocking     bool
	fieldPresent bool
	initialized  bool
}

// NewMockHAL creates a mock HAL that answers host commands through
// SendResponse.
func NewMockHAL() *MockHAL {
	return &MockHAL{
		errorMap:  make(map[string]error),
		callCount: make(map[string]int),
		notify:    make(chan struct{}),
	}
}

// NewMockHALWithHostChannel creates a mock HAL whose host traffic uses the
// HostChannel methods.
func NewMockHALWithHostChannel() *MockHostHAL {
	m := NewMockHAL()
	return &MockHostHAL{MockHAL: m}
}

// MockHostHAL is a MockHAL that also implements HostChannel and FieldSensor.
type MockHostHAL struct {
	*MockHAL
}

// ReceiveHostCommand implements HostChannel. It returns an empty command
// when nothing is queued.
func (m *MockHostHAL) ReceiveHostCommand(ctx context.Context, maxLen int) ([]byte, error) {
	if err := m.enter(ctx, "ReceiveHostCommand"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.hostQueue) == 0 {
		return nil, nil
	}
	cmd := m.hostQueue[0]
	m.hostQueue = m.hostQueue[1:]
	if maxLen > 0 && len(cmd) > maxLen {
		cmd = cmd[:maxLen]
	}
	return cmd, nil
}

// SendHostResponse implements HostChannel.
func (m *MockHostHAL) SendHostResponse(ctx context.Context, data []byte) error {
	if err := m.enter(ctx, "SendHostResponse"); err != nil {
		return err
	}
	m.mu.Lock()
	m.hostSent = append(m.hostSent, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

// RFFieldPresent implements FieldSensor.
func (m *MockHostHAL) RFFieldPresent(ctx context.Context) (bool, error) {
	if err := m.enter(ctx, "RFFieldPresent"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fieldPresent, nil
}

// enter records the call and returns any injected error.
func (m *MockHAL) enter(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[name]++
	m.calls = append(m.calls, name)
	return m.errorMap[name]
}

// InitHardware implements HAL.
func (m *MockHAL) InitHardware(ctx context.Context) error {
	if err := m.enter(ctx, "InitHardware"); err != nil {
		return err
	}
	m.mu.Lock()
	m.initialized = true
	m.enabled = false
	m.mu.Unlock()
	return nil
}

// ConfigureRF implements HAL.
func (m *MockHAL) ConfigureRF(ctx context.Context, freqHz uint32, power byte) error {
	if err := m.enter(ctx, "ConfigureRF"); err != nil {
		return err
	}
	m.mu.Lock()
	m.freqHz = freqHz
	m.power = power
	m.mu.Unlock()
	return nil
}

// SetProtocolMask implements HAL.
func (m *MockHAL) SetProtocolMask(ctx context.Context, mask ProtocolMask) error {
	if err := m.enter(ctx, "SetProtocolMask"); err != nil {
		return err
	}
	m.mu.Lock()
	m.mask = mask
	m.mu.Unlock()
	return nil
}

// EnableEmulation implements HAL.
func (m *MockHAL) EnableEmulation(ctx context.Context) error {
	if err := m.enter(ctx, "EnableEmulation"); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return nil
}

// DisableEmulation implements HAL.
func (m *MockHAL) DisableEmulation(ctx context.Context) error {
	if err := m.enter(ctx, "DisableEmulation"); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	return nil
}

// SendResponse implements HAL.
func (m *MockHAL) SendResponse(ctx context.Context, data []byte) error {
	if err := m.enter(ctx, "SendResponse"); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

// ReceiveCommand implements HAL.
func (m *MockHAL) ReceiveCommand(ctx context.Context, maxLen int) ([]byte, error) {
	if err := m.enter(ctx, "ReceiveCommand"); err != nil {
		return nil, err
	}
	for {
		m.mu.Lock()
		if len(m.rfQueue) > 0 {
			frame := m.rfQueue[0]
			m.rfQueue = m.rfQueue[1:]
			m.mu.Unlock()
			if maxLen > 0 && len(frame) > maxLen {
				frame = frame[:maxLen]
			}
			return frame, nil
		}
		if !m.blocking {
			m.mu.Unlock()
			return nil, nil
		}
		wait := m.notify
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// UpdateSecurityConfig implements HAL.
func (m *MockHAL) UpdateSecurityConfig(ctx context.Context, policy SecurityPolicy) error {
	if err := m.enter(ctx, "UpdateSecurityConfig"); err != nil {
		return err
	}
	m.mu.Lock()
	m.policy = policy
	m.mu.Unlock()
	return nil
}

// WriteProtocolRegister implements HAL.
func (m *MockHAL) WriteProtocolRegister(ctx context.Context, data []byte) error {
	if err := m.enter(ctx, "WriteProtocolRegister"); err != nil {
		return err
	}
	m.mu.Lock()
	m.registers = append(m.registers, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

// Test helper methods

// QueueRF appends reader frames for ReceiveCommand.
func (m *MockHAL) QueueRF(frames ...[]byte) {
	m.mu.Lock()
	for _, f := range frames {
		m.rfQueue = append(m.rfQueue, append([]byte(nil), f...))
	}
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()
}

// QueueHost appends host commands for ReceiveHostCommand.
func (m *MockHAL) QueueHost(cmds ...[]byte) {
	m.mu.Lock()
	for _, c := range cmds {
		m.hostQueue = append(m.hostQueue, append([]byte(nil), c...))
	}
	m.mu.Unlock()
}

// SetBlocking makes ReceiveCommand wait for a frame instead of reporting an
// empty one.
func (m *MockHAL) SetBlocking(blocking bool) {
	m.mu.Lock()
	m.blocking = blocking
	m.mu.Unlock()
}

// SetFieldPresent sets the value reported by RFFieldPresent.
func (m *MockHAL) SetFieldPresent(present bool) {
	m.mu.Lock()
	m.fieldPresent = present
	m.mu.Unlock()
}

// SetError injects an error for the named method.
func (m *MockHAL) SetError(method string, err error) {
	m.mu.Lock()
	m.errorMap[method] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a method.
func (m *MockHAL) ClearError(method string) {
	m.mu.Lock()
	delete(m.errorMap, method)
	m.mu.Unlock()
}

// GetCallCount returns how many times a method was called.
func (m *MockHAL) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[method]
}

// Calls returns the method names in call order.
func (m *MockHAL) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Sent returns the frames passed to SendResponse.
func (m *MockHAL) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneFrames(m.sent)
}

// LastSent returns the most recent SendResponse frame, or nil.
func (m *MockHAL) LastSent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return append([]byte(nil), m.sent[len(m.sent)-1]...)
}

// HostSent returns the frames passed to SendHostResponse.
func (m *MockHAL) HostSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneFrames(m.hostSent)
}

// Registers returns the payloads passed to WriteProtocolRegister.
func (m *MockHAL) Registers() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneFrames(m.registers)
}

// Enabled reports whether emulation is enabled on the mock front end.
func (m *MockHAL) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Initialized reports whether InitHardware has succeeded at least once.
func (m *MockHAL) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// RF returns the last ConfigureRF arguments.
func (m *MockHAL) RF() (freqHz uint32, power byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freqHz, m.power
}

// Mask returns the last protocol mask.
func (m *MockHAL) Mask() ProtocolMask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mask
}

// Policy returns the last security configuration pushed.
func (m *MockHAL) Policy() SecurityPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Reset clears recorded traffic and call counts.
func (m *MockHAL) Reset() {
	m.mu.Lock()
	m.callCount = make(map[string]int)
	m.calls = nil
	m.sent = nil
	m.hostSent = nil
	m.registers = nil
	m.mu.Unlock()
}

func cloneFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}
