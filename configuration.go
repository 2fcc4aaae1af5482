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
	"encoding/binary"
	"fmt"
)

// configHeaderSize is uidLen + sak + atqa(2) + sectorCount, excluding the UID.
const configHeaderSize = 5

// EmulationConfig is the decoded ConfigureEmulation payload:
//
//	uidLen(1) | uid(uidLen) | sak(1) | atqa(2, LE) | sectorCount(1) | sectors(79 each)
type EmulationConfig struct {
	UID     []byte
	Sectors []Sector
	ATQA    uint16
	SAK     byte
}

// MarshalBinary encodes the configuration as a ConfigureEmulation payload
// (without the command id).
func (c *EmulationConfig) MarshalBinary() ([]byte, error) {
	if len(c.UID) > MaxUIDSize {
		return nil, fmt.Errorf("%w: got %d", ErrUIDTooLong, len(c.UID))
	}
	if len(c.Sectors) > MaxSectorCount {
		return nil, fmt.Errorf("%w: got %d", ErrTooManySectors, len(c.Sectors))
	}

	buf := make([]byte, 0, configHeaderSize+len(c.UID)+len(c.Sectors)*SectorRecordSize)
	buf = append(buf, byte(len(c.UID)))
	buf = append(buf, c.UID...)
	buf = append(buf, c.SAK)
	buf = binary.LittleEndian.AppendUint16(buf, c.ATQA)
	buf = append(buf, byte(len(c.Sectors)))
	for i := range c.Sectors {
		buf = c.Sectors[i].appendRecord(buf)
	}
	return buf, nil
}

// Command returns the complete host command buffer for this configuration.
func (c *EmulationConfig) Command() ([]byte, error) {
	payload, err := c.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(CmdConfigureEmulation)}, payload...), nil
}

// ParseConfiguration decodes a ConfigureEmulation payload.
//
// A bad header (UID longer than 10 bytes, or too short to hold the declared
// UID, SAK, ATQA and sector count) returns a nil config. Once the header is
// valid, up to min(sectorCount, 40) sector records are decoded; if the
// payload runs out mid-way the sectors decoded so far are returned together
// with an ErrMalformedPayload error so the caller can apply them.
func ParseConfiguration(payload []byte) (*EmulationConfig, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty configuration", ErrMalformedPayload)
	}
	uidLen := int(payload[0])
	if uidLen > MaxUIDSize {
		return nil, fmt.Errorf("%w: %w: got %d", ErrMalformedPayload, ErrUIDTooLong, uidLen)
	}
	if len(payload) < configHeaderSize+uidLen {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d",
			ErrMalformedPayload, configHeaderSize+uidLen, len(payload))
	}

	pos := 1
	cfg := &EmulationConfig{UID: append([]byte(nil), payload[pos:pos+uidLen]...)}
	pos += uidLen
	cfg.SAK = payload[pos]
	pos++
	cfg.ATQA = binary.LittleEndian.Uint16(payload[pos:])
	pos += 2
	declared := min(int(payload[pos]), MaxSectorCount)
	pos++

	cfg.Sectors = make([]Sector, 0, declared)
	for i := range declared {
		if len(payload)-pos < SectorRecordSize {
			return cfg, fmt.Errorf("%w: sector %d needs %d bytes, %d left",
				ErrMalformedPayload, i, SectorRecordSize, len(payload)-pos)
		}
		cfg.Sectors = append(cfg.Sectors, parseSectorRecord(payload[pos:pos+SectorRecordSize]))
		pos += SectorRecordSize
	}
	return cfg, nil
}

// appendRecord appends the 79-byte wire record: keyA | access | keyB | blocks.
func (s *Sector) appendRecord(buf []byte) []byte {
	buf = append(buf, s.KeyA[:]...)
	buf = append(buf, s.AccessBits[:]...)
	buf = append(buf, s.KeyB[:]...)
	for i := range s.Blocks {
		buf = append(buf, s.Blocks[i][:]...)
	}
	return buf
}

func parseSectorRecord(rec []byte) Sector {
	var s Sector
	pos := copy(s.KeyA[:], rec)
	pos += copy(s.AccessBits[:], rec[pos:])
	pos += copy(s.KeyB[:], rec[pos:])
	for i := range s.Blocks {
		pos += copy(s.Blocks[i][:], rec[pos:])
	}
	return s
}
