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
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-cardemu/internal/syncutil"
)

// Config holds emulator settings
type Config struct {
	PollInterval    time.Duration
	MaxFrameSize    int
	EventQueueDepth int
	RFFrequencyHz   uint32
	ProtocolMask    ProtocolMask
	BootPolicy      SecurityPolicy
	RFPower         byte
}

// DefaultConfig returns default emulator configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    50 * time.Millisecond,
		MaxFrameSize:    256,
		EventQueueDepth: 8,
		RFFrequencyHz:   DefaultRFFrequencyHz,
		RFPower:         DefaultRFPower,
		ProtocolMask:    ProtocolAll,
		BootPolicy:      BypassAll,
	}
}

// Option configures an Emulator
type Option func(*Emulator) error

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(e *Emulator) error {
		if cfg == nil {
			return errors.New("nil emulator config")
		}
		if cfg.PollInterval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", cfg.PollInterval)
		}
		if cfg.MaxFrameSize < BlockSize+2 {
			return fmt.Errorf("max frame size %d cannot hold a block", cfg.MaxFrameSize)
		}
		if cfg.EventQueueDepth < 1 {
			return fmt.Errorf("event queue depth must be at least 1, got %d", cfg.EventQueueDepth)
		}
		c := *cfg
		e.config = &c
		return nil
	}
}

// WithFirmwareStage grants FirmwareUpdate write access to stage. Without
// it every FirmwareUpdate is denied.
func WithFirmwareStage(stage *FirmwareStage) Option {
	return func(e *Emulator) error {
		e.stage = stage
		return nil
	}
}

// Interrupt is a bitmask of front-end interrupt causes.
type Interrupt byte

// Interrupt causes
const (
	IRQRFField      Interrupt = 0x01
	IRQCommandReady Interrupt = 0x02
	IRQError        Interrupt = 0x04
)

// Metrics tracks emulator activity
type Metrics struct {
	HostCommands int64 // Host commands dispatched
	RFSessions   int64 // RF sessions started while active
	Selections   int64 // Sessions that reached Selected
	NACKs        int64 // MIFARE NACKs sent
	Recoveries   int64 // Emergency recoveries
}

// Emulator owns the emulated card, the protocol state and the HAL binding.
//
// Thread Safety: HandleHostCommand, HandleRFField, RaiseInterrupt and
// EmergencyRecovery may be called from different goroutines. Card and state
// changes happen inside one critical section per logical transition; HAL
// calls are made without the lock held.
type Emulator struct {
	hal           HAL
	stage         *FirmwareStage
	config        *Config
	events        chan Interrupt
	sessionCancel context.CancelFunc
	card          EmulatedCard
	epoch         uint64
	hostCommands  int64
	rfSessions    int64
	selections    int64
	nacks         int64
	recoveries    int64
	mu            syncutil.Mutex
	state         ProtocolState
}

// NewEmulator creates an emulator bound to hal. The card starts zeroed and
// inactive.
func NewEmulator(hal HAL, opts ...Option) (*Emulator, error) {
	if hal == nil {
		return nil, errors.New("nil HAL")
	}
	e := &Emulator{
		hal:    hal,
		config: DefaultConfig(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.events = make(chan Interrupt, e.config.EventQueueDepth)
	return e, nil
}

// Config returns a copy of the emulator configuration.
func (e *Emulator) Config() Config {
	return *e.config
}

// Card returns a snapshot of the emulated card.
func (e *Emulator) Card() EmulatedCard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.card
}

// State returns the current protocol state.
func (e *Emulator) State() ProtocolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Metrics returns current activity counters.
func (e *Emulator) Metrics() Metrics {
	return Metrics{
		HostCommands: atomic.LoadInt64(&e.hostCommands),
		RFSessions:   atomic.LoadInt64(&e.rfSessions),
		Selections:   atomic.LoadInt64(&e.selections),
		NACKs:        atomic.LoadInt64(&e.nacks),
		Recoveries:   atomic.LoadInt64(&e.recoveries),
	}
}

// Boot runs the power-on sequence: hardware init, RF at the configured
// carrier and power, protocol mask, and the boot security policy, which is
// also recorded on the card.
func (e *Emulator) Boot(ctx context.Context) error {
	if err := e.hal.InitHardware(ctx); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}
	if err := e.hal.ConfigureRF(ctx, e.config.RFFrequencyHz, e.config.RFPower); err != nil {
		return fmt.Errorf("failed to configure RF: %w", err)
	}
	if err := e.hal.SetProtocolMask(ctx, e.config.ProtocolMask); err != nil {
		return fmt.Errorf("failed to set protocol mask: %w", err)
	}
	if err := e.hal.UpdateSecurityConfig(ctx, e.config.BootPolicy); err != nil {
		return fmt.Errorf("failed to apply security policy: %w", err)
	}

	e.mu.Do(func() {
		e.card.Reset()
		e.card.policy = e.config.BootPolicy
		e.state = StateIdle
	})
	Debugf("emulator booted: RF %d Hz power 0x%02X, protocols 0x%02X, policy %s",
		e.config.RFFrequencyHz, e.config.RFPower, byte(e.config.ProtocolMask), e.config.BootPolicy)
	return nil
}

// RaiseInterrupt reports front-end interrupt causes. An error cause runs
// EmergencyRecovery before returning and discards the other causes; field
// and command-ready causes are queued for Run. A full queue drops the event,
// since Run's next poll observes the same condition.
func (e *Emulator) RaiseInterrupt(ctx context.Context, irq Interrupt) error {
	if irq&IRQError != 0 {
		return e.EmergencyRecovery(ctx)
	}
	if irq&(IRQRFField|IRQCommandReady) == 0 {
		return nil
	}
	select {
	case e.events <- irq:
	default:
		Debugf("interrupt queue full, dropping 0x%02X", byte(irq))
	}
	return nil
}

// Run is the main loop. Each tick it polls for a host command and for the
// RF field; queued interrupts are serviced as they arrive. Run returns when
// ctx is done or the HAL reports a fatal error.
func (e *Emulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case irq := <-e.events:
			if err := e.service(ctx, irq); err != nil {
				return err
			}
		case <-ticker.C:
			if err := e.poll(ctx); err != nil {
				return err
			}
		}
	}
}

// service handles one queued interrupt.
func (e *Emulator) service(ctx context.Context, irq Interrupt) error {
	if irq&IRQCommandReady != 0 {
		if err := e.pollHost(ctx); err != nil {
			return err
		}
	}
	if irq&IRQRFField != 0 {
		return e.filterFatal(e.HandleRFField(ctx))
	}
	return nil
}

// poll performs one main-loop iteration.
func (e *Emulator) poll(ctx context.Context) error {
	if err := e.pollHost(ctx); err != nil {
		return err
	}

	sensor, ok := e.hal.(FieldSensor)
	if !ok {
		return nil
	}
	present, err := sensor.RFFieldPresent(ctx)
	if err != nil {
		return e.filterFatal(fmt.Errorf("failed to read RF field: %w", err))
	}
	if present {
		return e.filterFatal(e.HandleRFField(ctx))
	}
	return nil
}

// pollHost fetches and dispatches at most one host command. HALs without a
// separate host channel share ReceiveCommand with RF traffic, so the host is
// only polled there while no RF session is in progress.
//
// On a shared channel the first byte alone decides: a reader frame that
// arrives while Idle is dispatched as a host command. REQA (0x26) is read
// as StopEmulation and WUPA (0x52) as an unknown command. HALs that can
// tell the two sources apart should implement HostChannel.
func (e *Emulator) pollHost(ctx context.Context) error {
	var cmd []byte
	var err error
	if host, ok := e.hal.(HostChannel); ok {
		cmd, err = host.ReceiveHostCommand(ctx, e.config.MaxFrameSize)
	} else {
		if e.State() != StateIdle {
			return nil
		}
		cmd, err = e.hal.ReceiveCommand(ctx, e.config.MaxFrameSize)
	}
	if err != nil {
		return e.filterFatal(fmt.Errorf("failed to receive host command: %w", err))
	}
	if len(cmd) == 0 {
		return nil
	}
	_, err = e.HandleHostCommand(ctx, cmd)
	return e.filterFatal(err)
}

// filterFatal logs non-fatal errors and passes fatal ones through.
func (*Emulator) filterFatal(err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}
	Debugf("main loop: %v", err)
	return nil
}
