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

import "sync/atomic"

// authToken is sent for every AUTH on a configured sector. No Crypto1
// exchange takes place.
var authToken = []byte{0x00, 0x00, 0x00, 0x00}

// handleMIFARE answers one MIFARE Classic command received in Selected.
// Every answer carries CRC_A.
func (e *Emulator) handleMIFARE(sess *session, frame []byte) error {
	if len(frame) < 2 {
		return e.nack(sess)
	}
	opcode, blockAddr := frame[0], frame[1]

	switch opcode {
	case mifareAuthKeyA, mifareAuthKeyB:
		var ok bool
		if err := e.locked(sess, func() { ok = e.card.HasSector(blockAddr) }); err != nil {
			return err
		}
		if !ok {
			return e.nack(sess)
		}
		Debugf("AUTH key %c block 0x%02X accepted", keyName(opcode), blockAddr)
		return e.sendMIFARE(sess, authToken)

	case mifareRead:
		var block Block
		var readErr error
		if err := e.locked(sess, func() { block, readErr = e.card.ReadBlock(blockAddr) }); err != nil {
			return err
		}
		if readErr != nil {
			Debugf("READ 0x%02X: %v", blockAddr, readErr)
			return e.nack(sess)
		}
		return e.sendMIFARE(sess, block[:])

	case mifareWrite:
		return e.handleWrite(sess, blockAddr)

	default:
		Debugf("unsupported MIFARE opcode 0x%02X", opcode)
		return e.nack(sess)
	}
}

// handleWrite runs the two-phase WRITE: ACK the command, receive 16 data
// bytes, store them and ACK again. Short data is answered with a NACK.
func (e *Emulator) handleWrite(sess *session, blockAddr byte) error {
	if err := e.sendMIFARE(sess, []byte{mifareACK}); err != nil {
		return err
	}

	data, err := e.receive(sess)
	if err != nil {
		return err
	}
	if len(data) < BlockSize {
		Debugf("WRITE 0x%02X: data phase carried %d bytes", blockAddr, len(data))
		return e.nack(sess)
	}

	var writeErr error
	if err := e.locked(sess, func() { writeErr = e.card.WriteBlock(blockAddr, data) }); err != nil {
		return err
	}
	if writeErr != nil {
		Debugf("WRITE 0x%02X: %v", blockAddr, writeErr)
		return e.nack(sess)
	}
	return e.sendMIFARE(sess, []byte{mifareACK})
}

func (e *Emulator) nack(sess *session) error {
	atomic.AddInt64(&e.nacks, 1)
	return e.sendMIFARE(sess, []byte{mifareNACK})
}

func (e *Emulator) sendMIFARE(sess *session, payload []byte) error {
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, payload...)
	return e.send(sess, AppendCRCA(frame))
}

func keyName(opcode byte) byte {
	if opcode == mifareAuthKeyB {
		return 'B'
	}
	return 'A'
}
