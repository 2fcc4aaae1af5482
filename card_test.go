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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmulatedCardZeroValue(t *testing.T) {
	t.Parallel()

	var card EmulatedCard
	assert.Empty(t, card.UID())
	assert.Zero(t, card.SectorCount())
	assert.False(t, card.Active())
	assert.Equal(t, SecurityPolicy(0), card.Policy())
	assert.Equal(t, byte(0x00), card.BCC())

	_, err := card.ReadBlock(0)
	assert.ErrorIs(t, err, ErrSectorOutOfRange)
}

func TestEmulatedCardSetIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uid     []byte
		wantBCC byte
		wantErr bool
	}{
		{name: "four byte UID", uid: []byte{0xAA, 0xBB, 0xCC, 0xDD}, wantBCC: 0x00},
		{name: "NXP style UID", uid: []byte{0x04, 0x11, 0x22, 0x33}, wantBCC: 0x04 ^ 0x11 ^ 0x22 ^ 0x33},
		{name: "seven byte UID", uid: []byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, wantBCC: 0x04 ^ 0x01 ^ 0x02 ^ 0x03 ^ 0x04 ^ 0x05 ^ 0x06},
		{name: "ten byte UID", uid: make([]byte, 10), wantBCC: 0x00},
		{name: "eleven byte UID", uid: make([]byte, 11), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var card EmulatedCard
			err := card.SetIdentity(tt.uid, 0x08, 0x0004)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUIDTooLong)
				assert.Empty(t, card.UID())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.uid, card.UID())
			assert.Equal(t, tt.wantBCC, card.BCC())
			assert.Equal(t, byte(0x08), card.SAK())
			assert.Equal(t, uint16(0x0004), card.ATQA())
		})
	}
}

func TestEmulatedCardUIDIsCopied(t *testing.T) {
	t.Parallel()

	uid := []byte{0x01, 0x02, 0x03, 0x04}
	var card EmulatedCard
	require.NoError(t, card.SetIdentity(uid, 0x08, 0x0004))

	uid[0] = 0xFF
	got := card.UID()
	got[1] = 0xFF
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, card.UID())
	assert.Equal(t, "01020304", card.UIDString())
}

func TestEmulatedCardBlockAddressing(t *testing.T) {
	t.Parallel()

	var card EmulatedCard
	sectors := make([]Sector, 2)
	sectors[1].Blocks[2][0] = 0x42
	require.NoError(t, card.SetSectors(sectors))

	block, err := card.ReadBlock(0x06) // sector 1, block 2
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), block[0])

	assert.True(t, card.HasSector(0x07))
	assert.False(t, card.HasSector(0x08))

	_, err = card.ReadBlock(0x08)
	require.ErrorIs(t, err, ErrSectorOutOfRange)

	data := make([]byte, 18)
	for i := range data {
		data[i] = byte(i + 1)
	}
	require.NoError(t, card.WriteBlock(0x04, data))
	block, err = card.ReadBlock(0x04)
	require.NoError(t, err)
	assert.Equal(t, data[:16], block[:])

	require.ErrorIs(t, card.WriteBlock(0x04, data[:15]), ErrShortBlock)
	require.ErrorIs(t, card.WriteBlock(0x0C, data), ErrSectorOutOfRange)
}

func TestEmulatedCardSetSectorsLimit(t *testing.T) {
	t.Parallel()

	var card EmulatedCard
	require.NoError(t, card.SetSectors(make([]Sector, MaxSectorCount)))
	assert.Equal(t, MaxSectorCount, card.SectorCount())
	assert.True(t, card.HasSector(0x9F))

	require.ErrorIs(t, card.SetSectors(make([]Sector, MaxSectorCount+1)), ErrTooManySectors)
	assert.Equal(t, MaxSectorCount, card.SectorCount())
}

func TestEmulatedCardSector(t *testing.T) {
	t.Parallel()

	var card EmulatedCard
	s := Sector{KeyA: [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}}
	require.NoError(t, card.SetSectors([]Sector{s}))

	got, err := card.Sector(0)
	require.NoError(t, err)
	assert.Equal(t, s.KeyA, got.KeyA)

	_, err = card.Sector(1)
	require.ErrorIs(t, err, ErrSectorOutOfRange)
	_, err = card.Sector(-1)
	require.ErrorIs(t, err, ErrSectorOutOfRange)
}

func TestEmulatedCardIsMIFAREClassic(t *testing.T) {
	t.Parallel()

	for sak, want := range map[byte]bool{0x08: true, 0x09: true, 0x18: true, 0x00: false, 0x20: false, 0x28: false} {
		var card EmulatedCard
		require.NoError(t, card.SetIdentity(nil, sak, 0))
		assert.Equal(t, want, card.IsMIFAREClassic(), "SAK 0x%02X", sak)
	}
}

func TestEmulatedCardReset(t *testing.T) {
	t.Parallel()

	var card EmulatedCard
	require.NoError(t, card.SetIdentity([]byte{1, 2, 3, 4}, 0x08, 0x0004))
	require.NoError(t, card.SetSectors(make([]Sector, 4)))
	card.active = true
	card.policy = BypassAll

	card.Reset()
	assert.Equal(t, EmulatedCard{}, card)
}
