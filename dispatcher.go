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
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// HandleHostCommand executes one host control command ([id][payload]) and
// sends the two-byte answer {id, status} back to the host.
//
// HAL failures while executing a command are returned but never change the
// status on the wire. An empty buffer is rejected without an answer.
func (e *Emulator) HandleHostCommand(ctx context.Context, cmd []byte) (Status, error) {
	if len(cmd) == 0 {
		return StatusMalformed, ErrEmptyCommand
	}
	atomic.AddInt64(&e.hostCommands, 1)

	id := CommandID(cmd[0])
	payload := cmd[1:]
	Debugf("host command %s (%d byte payload)", id, len(payload))

	status, err := e.dispatch(ctx, id, payload)
	if err != nil {
		Debugf("host command %s: status 0x%02X: %v", id, byte(status), err)
	}

	if sendErr := e.respondHost(ctx, []byte{byte(id), byte(status)}); sendErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to send host response: %w", sendErr))
	}
	return status, err
}

func (e *Emulator) dispatch(ctx context.Context, id CommandID, payload []byte) (Status, error) {
	switch id {
	case CmdInitChip:
		if err := e.hal.InitHardware(ctx); err != nil {
			return StatusSuccess, fmt.Errorf("failed to reinitialize hardware: %w", err)
		}
		return StatusSuccess, nil

	case CmdConfigureEmulation:
		return e.configure(payload)

	case CmdStartEmulation:
		err := e.hal.EnableEmulation(ctx)
		e.mu.Do(func() { e.card.active = true })
		if err != nil {
			return StatusSuccess, fmt.Errorf("failed to enable emulation: %w", err)
		}
		return StatusSuccess, nil

	case CmdStopEmulation:
		err := e.hal.DisableEmulation(ctx)
		e.mu.Do(func() { e.card.active = false })
		if err != nil {
			return StatusSuccess, fmt.Errorf("failed to disable emulation: %w", err)
		}
		return StatusSuccess, nil

	case CmdRawProtocol:
		// Forwarded untouched: this is an unrestricted register write path.
		if len(payload) == 0 {
			return StatusSuccess, nil
		}
		if err := e.hal.WriteProtocolRegister(ctx, payload); err != nil {
			return StatusSuccess, fmt.Errorf("failed to write protocol register: %w", err)
		}
		return StatusSuccess, nil

	case CmdSecurityBypass:
		if len(payload) < 1 {
			return StatusMalformed, &CommandError{ID: id, Status: StatusMalformed, Err: ErrMalformedPayload}
		}
		policy := SecurityPolicy(payload[0])
		e.mu.Do(func() { e.card.policy = policy })
		if err := e.hal.UpdateSecurityConfig(ctx, policy); err != nil {
			return StatusSuccess, fmt.Errorf("failed to update security config: %w", err)
		}
		return StatusSuccess, nil

	case CmdFirmwareUpdate:
		return e.firmwareUpdate(payload)

	default:
		return StatusUnknown, &CommandError{ID: id, Status: StatusUnknown, Err: ErrUnknownCommand}
	}
}

// configure applies a ConfigureEmulation payload in one critical section.
// Identity and every complete sector record are kept even when the payload
// is truncated; the sector count then reflects only the sectors copied.
func (e *Emulator) configure(payload []byte) (Status, error) {
	cfg, parseErr := ParseConfiguration(payload)
	if cfg == nil {
		return StatusMalformed, &CommandError{ID: CmdConfigureEmulation, Status: StatusMalformed, Err: parseErr}
	}

	var applyErr error
	e.mu.Do(func() {
		if err := e.card.SetIdentity(cfg.UID, cfg.SAK, cfg.ATQA); err != nil {
			applyErr = err
			return
		}
		applyErr = e.card.SetSectors(cfg.Sectors)
	})
	if applyErr != nil {
		return StatusMalformed, &CommandError{ID: CmdConfigureEmulation, Status: StatusMalformed, Err: applyErr}
	}
	if parseErr != nil {
		return StatusMalformed, &CommandError{ID: CmdConfigureEmulation, Status: StatusMalformed, Err: parseErr}
	}
	Debugf("configured UID %X SAK 0x%02X ATQA 0x%04X with %d sectors",
		cfg.UID, cfg.SAK, cfg.ATQA, len(cfg.Sectors))
	return StatusSuccess, nil
}

// firmwareUpdate writes addr(LE32)|data into the staging buffer. Writes are
// denied when no stage was granted or the range falls outside it.
func (e *Emulator) firmwareUpdate(payload []byte) (Status, error) {
	if len(payload) < 4 {
		return StatusMalformed, &CommandError{ID: CmdFirmwareUpdate, Status: StatusMalformed, Err: ErrMalformedPayload}
	}
	if e.stage == nil {
		return StatusDenied, &CommandError{ID: CmdFirmwareUpdate, Status: StatusDenied, Err: ErrFirmwareWriteDenied}
	}
	addr := binary.LittleEndian.Uint32(payload)
	if err := e.stage.Write(addr, payload[4:]); err != nil {
		return StatusDenied, &CommandError{ID: CmdFirmwareUpdate, Status: StatusDenied, Err: err}
	}
	return StatusSuccess, nil
}

// respondHost sends a host answer over the host channel when the HAL has
// one, otherwise through SendResponse.
func (e *Emulator) respondHost(ctx context.Context, resp []byte) error {
	if host, ok := e.hal.(HostChannel); ok {
		return host.SendHostResponse(ctx, resp)
	}
	return e.hal.SendResponse(ctx, resp)
}
