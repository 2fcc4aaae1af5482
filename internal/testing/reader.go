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

// Package testing provides byte-level fixtures for exercising the card
// emulator from the reader side: ISO14443-A selection frames, MIFARE Classic
// commands, sector records and ConfigureEmulation payloads.
//
// The package has no dependencies on the rest of the module so the root
// package's own tests can import it.
package testing

// ISO14443-A reader commands
const (
	REQACode      = 0x26
	WUPACode      = 0x52
	SelectCL1Code = 0x93
	NVBAnticoll   = 0x20
	NVBSelect     = 0x70
	AuthKeyACode  = 0x60
	AuthKeyBCode  = 0x61
	ReadCode      = 0x30
	WriteCode     = 0xA0
	MIFAREACK     = 0x0A
	MIFARENACK    = 0x04
	TransferCode  = 0xB0 // not answered by the emulator
)

// TestUID is the four-byte UID used throughout the tests.
var TestUID = []byte{0xAA, 0xBB, 0xCC, 0xDD}

// REQA returns the short REQA frame.
func REQA() []byte { return []byte{REQACode} }

// WUPA returns the short WUPA frame.
func WUPA() []byte { return []byte{WUPACode} }

// Anticollision returns the cascade level 1 anticollision request.
func Anticollision() []byte { return []byte{SelectCL1Code, NVBAnticoll} }

// Select returns SELECT CL1 for uid, followed by its BCC.
func Select(uid []byte) []byte {
	frame := []byte{SelectCL1Code, NVBSelect}
	frame = append(frame, uid...)
	return append(frame, BCC(uid))
}

// Auth returns a MIFARE AUTH request for block using key A or key B. The
// key bytes ride along the way a reader would send its nonce material.
func Auth(keyB bool, block byte, key []byte) []byte {
	code := byte(AuthKeyACode)
	if keyB {
		code = AuthKeyBCode
	}
	return append([]byte{code, block}, key...)
}

// Read returns a MIFARE READ request.
func Read(block byte) []byte { return []byte{ReadCode, block} }

// Write returns the first phase of a MIFARE WRITE request.
func Write(block byte) []byte { return []byte{WriteCode, block} }

// BCC returns the XOR of the UID bytes.
func BCC(uid []byte) byte {
	var bcc byte
	for _, b := range uid {
		bcc ^= b
	}
	return bcc
}

// Selection returns the full REQA, anticollision, SELECT sequence for uid.
func Selection(uid []byte) [][]byte {
	return [][]byte{REQA(), Anticollision(), Select(uid)}
}

// Sequence returns 16 consecutive bytes starting at first.
func Sequence(first byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = first + byte(i)
	}
	return out
}
