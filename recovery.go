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
)

// EmergencyRecovery handles a fatal front-end error. Any RF session in
// flight is cancelled rather than awaited, the card is zeroed and the state
// forced to Idle in one critical section. The front end is then reset,
// security disabled, emulation disabled and the protocol mask reduced to
// ISO14443-A; those HAL steps are best effort and their errors are joined.
// No answer is sent to the host or the reader.
func (e *Emulator) EmergencyRecovery(ctx context.Context) error {
	var cancel context.CancelFunc
	e.mu.Do(func() {
		cancel = e.sessionCancel
		e.sessionCancel = nil
		e.epoch++
		e.card.Reset()
		e.state = StateIdle
	})
	if cancel != nil {
		cancel()
	}
	atomic.AddInt64(&e.recoveries, 1)
	Debugln("emergency recovery: card zeroed, state Idle")

	var errs []error
	if err := e.hal.InitHardware(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reset: %w", err))
	}
	if err := e.hal.UpdateSecurityConfig(ctx, 0); err != nil {
		errs = append(errs, fmt.Errorf("security config: %w", err))
	}
	if err := e.hal.DisableEmulation(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disable emulation: %w", err))
	}
	if err := e.hal.SetProtocolMask(ctx, ProtocolISO14443A); err != nil {
		errs = append(errs, fmt.Errorf("protocol mask: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("emergency recovery: %w", errors.Join(errs...))
	}
	return nil
}
