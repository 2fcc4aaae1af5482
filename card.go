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
	"encoding/hex"
	"fmt"
)

// Card model limits
const (
	MaxUIDSize       = 10
	MaxSectorCount   = 40
	BlocksPerSector  = 4
	BlockSize        = 16
	KeySize          = 6
	AccessBitsSize   = 3
	SectorRecordSize = KeySize + AccessBitsSize + KeySize + BlocksPerSector*BlockSize // 79
)

// Block is one 16-byte MIFARE Classic data block.
type Block [BlockSize]byte

// Sector is one MIFARE Classic sector: two keys, the access bits and four
// blocks. AccessBits are stored verbatim and never interpreted.
type Sector struct {
	KeyA       [KeySize]byte
	AccessBits [AccessBitsSize]byte
	KeyB       [KeySize]byte
	Blocks     [BlocksPerSector]Block
}

// EmulatedCard is the card presented to readers. The zero value is an
// inactive card with no UID and no sectors.
//
// EmulatedCard is a plain value; the Emulator that owns it serializes access.
type EmulatedCard struct {
	sectors     [MaxSectorCount]Sector
	uid         [MaxUIDSize]byte
	uidSize     int
	sectorCount int
	atqa        uint16
	sak         byte
	policy      SecurityPolicy
	active      bool
}

// UID returns a copy of the emulated UID.
func (c EmulatedCard) UID() []byte {
	return append([]byte(nil), c.uid[:c.uidSize]...)
}

// UIDString returns the UID as upper-case hex.
func (c EmulatedCard) UIDString() string {
	return fmt.Sprintf("%X", c.uid[:c.uidSize])
}

// SAK returns the select acknowledge byte.
func (c EmulatedCard) SAK() byte { return c.sak }

// ATQA returns the answer to request value.
func (c EmulatedCard) ATQA() uint16 { return c.atqa }

// SectorCount returns the number of addressable sectors.
func (c EmulatedCard) SectorCount() int { return c.sectorCount }

// Active reports whether emulation has been started.
func (c EmulatedCard) Active() bool { return c.active }

// Policy returns the security bypass flags.
func (c EmulatedCard) Policy() SecurityPolicy { return c.policy }

// IsMIFAREClassic reports whether the SAK announces a MIFARE Classic card
// (Mini, 1K or 4K).
func (c EmulatedCard) IsMIFAREClassic() bool {
	switch c.sak {
	case sakMIFARE1K, sakMIFAREMini, sakMIFARE4K:
		return true
	default:
		return false
	}
}

// BCC returns the block check character: the XOR of all UID bytes.
func (c EmulatedCard) BCC() byte {
	var bcc byte
	for _, b := range c.uid[:c.uidSize] {
		bcc ^= b
	}
	return bcc
}

// SetIdentity replaces UID, SAK and ATQA. The UID must not exceed 10 bytes.
func (c *EmulatedCard) SetIdentity(uid []byte, sak byte, atqa uint16) error {
	if len(uid) > MaxUIDSize {
		return fmt.Errorf("%w: got %d", ErrUIDTooLong, len(uid))
	}
	c.uid = [MaxUIDSize]byte{}
	copy(c.uid[:], uid)
	c.uidSize = len(uid)
	c.sak = sak
	c.atqa = atqa
	return nil
}

// SetSectors replaces the sector table. Sectors past len(sectors) become
// unaddressable.
func (c *EmulatedCard) SetSectors(sectors []Sector) error {
	if len(sectors) > MaxSectorCount {
		return fmt.Errorf("%w: got %d", ErrTooManySectors, len(sectors))
	}
	copy(c.sectors[:], sectors)
	c.sectorCount = len(sectors)
	return nil
}

// Sector returns a copy of sector index.
func (c EmulatedCard) Sector(index int) (Sector, error) {
	if index < 0 || index >= c.sectorCount {
		return Sector{}, fmt.Errorf("%w: %d (have %d)", ErrSectorOutOfRange, index, c.sectorCount)
	}
	return c.sectors[index], nil
}

// locate maps a MIFARE block address to sector and block indices.
func (c EmulatedCard) locate(blockAddr byte) (sector, block int, err error) {
	sector = int(blockAddr) / BlocksPerSector
	block = int(blockAddr) % BlocksPerSector
	if sector >= c.sectorCount {
		return 0, 0, fmt.Errorf("%w: block 0x%02X is in sector %d (have %d)",
			ErrSectorOutOfRange, blockAddr, sector, c.sectorCount)
	}
	return sector, block, nil
}

// HasSector reports whether the sector holding blockAddr is configured.
func (c EmulatedCard) HasSector(blockAddr byte) bool {
	_, _, err := c.locate(blockAddr)
	return err == nil
}

// ReadBlock returns the block at blockAddr (sector = addr/4, block = addr%4).
func (c EmulatedCard) ReadBlock(blockAddr byte) (Block, error) {
	sector, block, err := c.locate(blockAddr)
	if err != nil {
		return Block{}, err
	}
	return c.sectors[sector].Blocks[block], nil
}

// WriteBlock overwrites the block at blockAddr with the first 16 bytes of
// data.
func (c *EmulatedCard) WriteBlock(blockAddr byte, data []byte) error {
	if len(data) < BlockSize {
		return fmt.Errorf("%w: got %d", ErrShortBlock, len(data))
	}
	sector, block, err := c.locate(blockAddr)
	if err != nil {
		return err
	}
	copy(c.sectors[sector].Blocks[block][:], data[:BlockSize])
	return nil
}

// Reset zeroes the card, including the active flag and policy.
func (c *EmulatedCard) Reset() {
	*c = EmulatedCard{}
}

func (c EmulatedCard) String() string {
	return fmt.Sprintf("UID=%s SAK=%02X ATQA=%04X sectors=%d active=%t policy=%s",
		hex.EncodeToString(c.uid[:c.uidSize]), c.sak, c.atqa, c.sectorCount, c.active, c.policy)
}
