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

package profile

import (
	"errors"
	"fmt"

	"github.com/hsanjuan/go-ndef"

	cardemu "github.com/ZaparooProject/go-cardemu"
)

// Classic1KSectors is the sector count of a MIFARE Classic 1K.
const Classic1KSectors = 16

// NDEF application identifier in the MAD, stored application code first.
var ndefAID = [2]byte{0x03, 0xE1}

// Sector trailer keys.
var (
	TransportKey = [cardemu.KeySize]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	MADKey       = [cardemu.KeySize]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
	NDEFKey      = [cardemu.KeySize]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
)

// Access bits and general purpose byte of each trailer kind.
var (
	transportAccess = [cardemu.AccessBitsSize]byte{0xFF, 0x07, 0x80}
	madAccess       = [cardemu.AccessBitsSize]byte{0x78, 0x77, 0x88}
	ndefAccess      = [cardemu.AccessBitsSize]byte{0x7F, 0x07, 0x88}
)

const (
	transportGPB = 0x69
	madGPB       = 0xC1
	ndefGPB      = 0x40

	// madInfo points at no card publisher sector.
	madInfo = 0x01

	ndefTLV        = 0x03
	terminatorTLV  = 0xFE
	dataBlocks     = cardemu.BlocksPerSector - 1
	sectorCapacity = dataBlocks * cardemu.BlockSize
)

// ErrNDEFTooLarge is returned when a message does not fit the card.
var ErrNDEFTooLarge = errors.New("NDEF message does not fit a MIFARE Classic 1K")

// newSector returns a sector with zeroed data blocks and the given trailer.
func newSector(keyA [cardemu.KeySize]byte, access [cardemu.AccessBitsSize]byte, gpb byte,
	keyB [cardemu.KeySize]byte,
) cardemu.Sector {
	s := cardemu.Sector{KeyA: keyA, AccessBits: access, KeyB: keyB}
	trailer := &s.Blocks[cardemu.BlocksPerSector-1]
	copy(trailer[0:6], keyA[:])
	copy(trailer[6:9], access[:])
	trailer[9] = gpb
	copy(trailer[10:16], keyB[:])
	return s
}

// BlankSector is an empty sector with transport keys.
func BlankSector() cardemu.Sector {
	return newSector(TransportKey, transportAccess, transportGPB, TransportKey)
}

// ManufacturerBlock builds block 0: the UID, its BCC for 4-byte UIDs, then
// SAK and ATQA.
func ManufacturerBlock(uid []byte, sak byte, atqa uint16) cardemu.Block {
	var b cardemu.Block
	n := copy(b[:], uid)
	if len(uid) == 4 {
		var bcc byte
		for _, u := range uid {
			bcc ^= u
		}
		b[n] = bcc
		n++
	}
	if n+3 <= len(b) {
		b[n] = sak
		b[n+1] = byte(atqa)
		b[n+2] = byte(atqa >> 8)
	}
	return b
}

// madCRC is the CRC-8 over the MAD info byte and application directory.
func madCRC(data []byte) byte {
	crc := byte(0xC7)
	for _, d := range data {
		crc ^= d
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x1D
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// NDEFTLV wraps an NDEF message in its TLV and appends the terminator.
func NDEFTLV(msg []byte) ([]byte, error) {
	var out []byte
	switch {
	case len(msg) < 0xFF:
		out = []byte{ndefTLV, byte(len(msg))}
	case len(msg) <= 0xFFFF:
		out = []byte{ndefTLV, 0xFF, byte(len(msg) >> 8), byte(len(msg))}
	default:
		return nil, ErrNDEFTooLarge
	}
	out = append(out, msg...)
	return append(out, terminatorTLV), nil
}

// NDEFCard builds a MIFARE Classic 1K image formatted for NDEF that
// carries a single text record. Sector 0 holds the manufacturer block and
// a MAD v1 naming every other sector as NDEF.
func NDEFCard(uid []byte, text string) (*cardemu.EmulationConfig, error) {
	if len(uid) == 0 || len(uid) > cardemu.MaxUIDSize {
		return nil, fmt.Errorf("%w: %d bytes", cardemu.ErrUIDTooLong, len(uid))
	}

	msg, err := ndef.NewTextMessage(text, "en").Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal NDEF message: %w", err)
	}
	tlv, err := NDEFTLV(msg)
	if err != nil {
		return nil, err
	}
	if len(tlv) > (Classic1KSectors-1)*sectorCapacity {
		return nil, fmt.Errorf("%w: %d bytes", ErrNDEFTooLarge, len(tlv))
	}

	cfg := &cardemu.EmulationConfig{
		UID:     append([]byte(nil), uid...),
		SAK:     DefaultSAK,
		ATQA:    DefaultATQA,
		Sectors: make([]cardemu.Sector, Classic1KSectors),
	}

	mad := newSector(MADKey, madAccess, madGPB, TransportKey)
	mad.Blocks[0] = ManufacturerBlock(uid, cfg.SAK, cfg.ATQA)
	dir := make([]byte, 0, 2*cardemu.BlockSize)
	dir = append(dir, 0x00, madInfo)
	for range Classic1KSectors - 1 {
		dir = append(dir, ndefAID[:]...)
	}
	dir[0] = madCRC(dir[1:])
	copy(mad.Blocks[1][:], dir[:cardemu.BlockSize])
	copy(mad.Blocks[2][:], dir[cardemu.BlockSize:])
	cfg.Sectors[0] = mad

	for i := 1; i < Classic1KSectors; i++ {
		s := newSector(NDEFKey, ndefAccess, ndefGPB, TransportKey)
		start := (i - 1) * sectorCapacity
		for b := range dataBlocks {
			off := start + b*cardemu.BlockSize
			if off < len(tlv) {
				copy(s.Blocks[b][:], tlv[off:])
			}
		}
		cfg.Sectors[i] = s
	}
	return cfg, nil
}

// ReadNDEF extracts the NDEF message carried by an image built with
// NDEFCard or read from a formatted card.
func ReadNDEF(sectors []cardemu.Sector) (*ndef.Message, error) {
	var data []byte
	for i := 1; i < len(sectors); i++ {
		for b := range dataBlocks {
			data = append(data, sectors[i].Blocks[b][:]...)
		}
	}

	for i := 0; i < len(data); {
		switch data[i] {
		case 0x00:
			i++
			continue
		case terminatorTLV:
			return nil, errors.New("no NDEF TLV before terminator")
		}
		if i+1 >= len(data) {
			break
		}
		length, hdr := int(data[i+1]), 2
		if data[i+1] == 0xFF {
			if i+3 >= len(data) {
				break
			}
			length, hdr = int(data[i+2])<<8|int(data[i+3]), 4
		}
		body := i + hdr
		if body+length > len(data) {
			return nil, errors.New("NDEF TLV overruns card data")
		}
		if data[i] != ndefTLV {
			i = body + length
			continue
		}
		msg := &ndef.Message{}
		if _, err := msg.Unmarshal(data[body : body+length]); err != nil {
			return nil, fmt.Errorf("failed to parse NDEF message: %w", err)
		}
		return msg, nil
	}
	return nil, errors.New("no NDEF TLV found")
}
