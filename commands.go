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

import "fmt"

// CommandID identifies a host control command (first byte of the buffer).
type CommandID byte

// Host control commands
const (
	CmdInitChip           CommandID = 0x20
	CmdConfigureEmulation CommandID = 0x24
	CmdStartEmulation     CommandID = 0x25
	CmdStopEmulation      CommandID = 0x26
	CmdRawProtocol        CommandID = 0x30
	CmdSecurityBypass     CommandID = 0x40
	CmdFirmwareUpdate     CommandID = 0xF0
)

func (c CommandID) String() string {
	switch c {
	case CmdInitChip:
		return "InitChip"
	case CmdConfigureEmulation:
		return "ConfigureEmulation"
	case CmdStartEmulation:
		return "StartEmulation"
	case CmdStopEmulation:
		return "StopEmulation"
	case CmdRawProtocol:
		return "RawProtocol"
	case CmdSecurityBypass:
		return "SecurityBypass"
	case CmdFirmwareUpdate:
		return "FirmwareUpdate"
	default:
		return fmt.Sprintf("Command(0x%02X)", byte(c))
	}
}

// Status is the second byte of a host command response.
type Status byte

// Host response status codes
const (
	StatusSuccess   Status = 0x00
	StatusMalformed Status = 0x01 // insufficient or inconsistent payload
	StatusDenied    Status = 0x02 // firmware write outside the staging capability
	StatusUnknown   Status = 0xFF // unrecognized command id
)

// ISO/IEC 14443-3 type A reader commands
const (
	cmdREQA       = 0x26
	cmdWUPA       = 0x52
	cmdSelectCL1  = 0x93
	nvbAnticoll   = 0x20 // NVB for the anticollision request (no UID bits)
	nvbSelect     = 0x70 // NVB for SELECT (full UID + BCC)
	sakMIFARE1K   = 0x08
	sakMIFAREMini = 0x09
	sakMIFARE4K   = 0x18
)

// MIFARE Classic commands and answers
const (
	mifareAuthKeyA = 0x60
	mifareAuthKeyB = 0x61
	mifareRead     = 0x30
	mifareWrite    = 0xA0
	mifareACK      = 0x0A
	mifareNACK     = 0x04
)

// ProtocolMask selects the RF protocols the front end listens for.
type ProtocolMask byte

// RF protocol bits
const (
	ProtocolISO14443A        ProtocolMask = 0x01
	ProtocolISO14443B        ProtocolMask = 0x02
	ProtocolFeliCa           ProtocolMask = 0x04
	ProtocolMIFAREClassic    ProtocolMask = 0x08
	ProtocolMIFAREUltralight ProtocolMask = 0x10

	ProtocolAll = ProtocolISO14443A | ProtocolISO14443B | ProtocolFeliCa |
		ProtocolMIFAREClassic | ProtocolMIFAREUltralight
)

// RF defaults applied at boot
const (
	DefaultRFFrequencyHz uint32 = 13_560_000
	DefaultRFPower       byte   = 0x80
)
