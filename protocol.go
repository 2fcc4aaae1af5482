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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// ProtocolState is the ISO14443-A card-side selection state.
type ProtocolState int

// Selection states, in order
const (
	StateIdle ProtocolState = iota
	StatePolledReady
	StateAnticollisionDone
	StateSelecting
	StateSelected
)

func (s ProtocolState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePolledReady:
		return "PolledReady"
	case StateAnticollisionDone:
		return "AnticollisionDone"
	case StateSelecting:
		return "Selecting"
	case StateSelected:
		return "Selected"
	default:
		return fmt.Sprintf("ProtocolState(%d)", int(s))
	}
}

// session identifies one RF session. A recovery bumps the emulator epoch,
// which invalidates every transition the session attempts afterwards.
type session struct {
	ctx   context.Context
	epoch uint64
}

// HandleRFField runs one RF session for a reader field that has appeared:
// selection, then MIFARE Classic sector access until the reader leaves.
//
// It returns nil when the session ends normally (field lost, unexpected
// frame, non-Classic SAK) and does nothing if emulation is not active or a
// session is already running. ErrSessionAborted is returned when
// EmergencyRecovery cut the session short.
func (e *Emulator) HandleRFField(ctx context.Context) error {
	sess, ok := e.beginSession(ctx)
	if !ok {
		return nil
	}
	defer e.endSession(sess)

	selected, err := e.selectCard(sess)
	if err != nil || !selected {
		return err
	}
	atomic.AddInt64(&e.selections, 1)

	for {
		var classic bool
		if err := e.locked(sess, func() { classic = e.card.IsMIFAREClassic() }); err != nil {
			return err
		}
		if !classic {
			Debugf("SAK does not announce MIFARE Classic, ending session")
			return nil
		}

		frame, err := e.receive(sess)
		if err != nil {
			return err
		}
		if len(frame) == 0 {
			Debugf("RF field lost in Selected")
			return nil
		}
		if err := e.handleMIFARE(sess, frame); err != nil {
			return err
		}
	}
}

// selectCard walks PolledReady → AnticollisionDone → Selecting → Selected.
// It reports false without error when the reader sent something else.
func (e *Emulator) selectCard(sess *session) (bool, error) {
	// REQA / WUPA → ATQA
	frame, err := e.receive(sess)
	if err != nil || len(frame) == 0 {
		return false, err
	}
	if frame[0] != cmdREQA && frame[0] != cmdWUPA {
		Debugf("expected REQA/WUPA, got %s", FormatHex(frame))
		return false, nil
	}
	var atqa []byte
	advanced, err := e.advance(sess, StatePolledReady, StateAnticollisionDone, func() {
		atqa = binary.LittleEndian.AppendUint16(nil, e.card.atqa)
	})
	if err != nil || !advanced {
		return false, err
	}
	if err := e.send(sess, atqa); err != nil {
		return false, err
	}

	// 93 20 → UID || BCC
	frame, err = e.receive(sess)
	if err != nil || len(frame) == 0 {
		return false, err
	}
	if len(frame) < 2 || frame[0] != cmdSelectCL1 || frame[1] != nvbAnticoll {
		Debugf("expected anticollision, got %s", FormatHex(frame))
		return false, nil
	}
	var uidBCC []byte
	advanced, err = e.advance(sess, StateAnticollisionDone, StateSelecting, func() {
		uidBCC = append(e.card.UID(), e.card.BCC())
	})
	if err != nil || !advanced {
		return false, err
	}
	if err := e.send(sess, uidBCC); err != nil {
		return false, err
	}

	// 93 70 UID → SAK
	frame, err = e.receive(sess)
	if err != nil || len(frame) == 0 {
		return false, err
	}
	var sak byte
	advanced, err = e.advanceIf(sess, StateSelecting, StateSelected, func() bool {
		n := e.card.uidSize
		if len(frame) < 2+n || frame[0] != cmdSelectCL1 || frame[1] != nvbSelect {
			return false
		}
		if !bytes.Equal(frame[2:2+n], e.card.uid[:n]) {
			return false
		}
		sak = e.card.sak
		return true
	})
	if err != nil || !advanced {
		if err == nil {
			Debugf("SELECT rejected: %s", FormatHex(frame))
		}
		return false, err
	}
	if err := e.send(sess, []byte{sak}); err != nil {
		return false, err
	}
	return true, nil
}

// beginSession moves Idle → PolledReady when emulation is active.
func (e *Emulator) beginSession(ctx context.Context) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.card.active || e.state != StateIdle {
		return nil, false
	}
	sctx, cancel := context.WithCancel(ctx)
	e.epoch++
	e.sessionCancel = cancel
	e.state = StatePolledReady
	atomic.AddInt64(&e.rfSessions, 1)
	return &session{ctx: sctx, epoch: e.epoch}, true
}

// endSession returns to Idle unless a recovery already took over.
func (e *Emulator) endSession(sess *session) {
	var cancel context.CancelFunc
	e.mu.Do(func() {
		if e.epoch != sess.epoch {
			return
		}
		e.state = StateIdle
		cancel = e.sessionCancel
		e.sessionCancel = nil
	})
	if cancel != nil {
		cancel()
	}
}

// locked runs fn under the emulator lock if sess is still current.
func (e *Emulator) locked(sess *session, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != sess.epoch {
		return ErrSessionAborted
	}
	fn()
	return nil
}

// advance performs from → to as one critical section, running fn inside it.
func (e *Emulator) advance(sess *session, from, to ProtocolState, fn func()) (bool, error) {
	return e.advanceIf(sess, from, to, func() bool {
		fn()
		return true
	})
}

// advanceIf performs from → to when accept returns true. A rejected
// transition returns the machine to Idle.
func (e *Emulator) advanceIf(sess *session, from, to ProtocolState, accept func() bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.epoch != sess.epoch {
		return false, ErrSessionAborted
	}
	if e.state != from || !accept() {
		e.state = StateIdle
		return false, nil
	}
	e.state = to
	return true, nil
}

// receive reads one reader frame for sess.
func (e *Emulator) receive(sess *session) ([]byte, error) {
	frame, err := e.hal.ReceiveCommand(sess.ctx, e.config.MaxFrameSize)
	if err != nil {
		if e.aborted(sess) {
			return nil, ErrSessionAborted
		}
		return nil, fmt.Errorf("failed to receive RF frame: %w", err)
	}
	return frame, nil
}

// send transmits one frame to the reader for sess.
func (e *Emulator) send(sess *session, data []byte) error {
	if err := e.hal.SendResponse(sess.ctx, data); err != nil {
		if e.aborted(sess) {
			return ErrSessionAborted
		}
		return fmt.Errorf("failed to send RF response: %w", err)
	}
	return nil
}

func (e *Emulator) aborted(sess *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch != sess.epoch
}
