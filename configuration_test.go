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

	fixtures "github.com/ZaparooProject/go-cardemu/internal/testing"
)

func TestParseConfiguration(t *testing.T) {
	t.Parallel()

	uid := fixtures.TestUID
	tests := []struct {
		name        string
		payload     []byte
		wantSectors int
		wantNil     bool
		wantErr     bool
	}{
		{
			name:        "identity only",
			payload:     fixtures.ConfigurePayload(uid, 0x08, 0x0004, 0),
			wantSectors: 0,
		},
		{
			name:        "two sectors",
			payload:     fixtures.ConfigurePayload(uid, 0x08, 0x0004, 2, fixtures.PatternSector(0), fixtures.PatternSector(0x40)),
			wantSectors: 2,
		},
		{
			name:        "extra records beyond declared count are ignored",
			payload:     fixtures.ConfigurePayload(uid, 0x08, 0x0004, 1, fixtures.PatternSector(0), fixtures.PatternSector(0x40)),
			wantSectors: 1,
		},
		{
			name:        "truncated second sector keeps the first",
			payload:     fixtures.ConfigurePayload(uid, 0x08, 0x0004, 2, fixtures.PatternSector(0), fixtures.PatternSector(0x40)[:74]),
			wantSectors: 1,
			wantErr:     true,
		},
		{
			name:    "empty payload",
			payload: nil,
			wantNil: true,
			wantErr: true,
		},
		{
			name:    "UID longer than ten bytes",
			payload: fixtures.ConfigurePayload(make([]byte, 11), 0x08, 0x0004, 0),
			wantNil: true,
			wantErr: true,
		},
		{
			name:    "header cut before sector count",
			payload: fixtures.ConfigurePayload(uid, 0x08, 0x0004, 0)[:8],
			wantNil: true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := ParseConfiguration(tt.payload)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedPayload)
			} else {
				require.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, cfg)
				return
			}
			require.NotNil(t, cfg)
			assert.Equal(t, uid, cfg.UID)
			assert.Equal(t, byte(0x08), cfg.SAK)
			assert.Equal(t, uint16(0x0004), cfg.ATQA)
			assert.Len(t, cfg.Sectors, tt.wantSectors)
		})
	}
}

func TestParseConfigurationSectorFields(t *testing.T) {
	t.Parallel()

	keyA := []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
	keyB := []byte{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5}
	access := []byte{0x78, 0x77, 0x88}
	rec := fixtures.SectorRecord(keyA, access, keyB, [4][]byte{
		fixtures.Sequence(0x01), fixtures.Sequence(0x11), fixtures.Sequence(0x21), fixtures.Sequence(0x31),
	})

	cfg, err := ParseConfiguration(fixtures.ConfigurePayload(fixtures.TestUID, 0x08, 0x0004, 1, rec))
	require.NoError(t, err)
	require.Len(t, cfg.Sectors, 1)

	s := cfg.Sectors[0]
	assert.Equal(t, keyA, s.KeyA[:])
	assert.Equal(t, access, s.AccessBits[:])
	assert.Equal(t, keyB, s.KeyB[:])
	assert.Equal(t, fixtures.Sequence(0x21), s.Blocks[2][:])
}

func TestParseConfigurationCapsAtFortySectors(t *testing.T) {
	t.Parallel()

	records := make([][]byte, 41)
	for i := range records {
		records[i] = fixtures.PatternSector(byte(i))
	}
	cfg, err := ParseConfiguration(fixtures.ConfigurePayload(fixtures.TestUID, 0x18, 0x0002, 41, records...))
	require.NoError(t, err)
	assert.Len(t, cfg.Sectors, MaxSectorCount)
}

func TestEmulationConfigMarshalBinary(t *testing.T) {
	t.Parallel()

	want := fixtures.ConfigurePayload(fixtures.TestUID, 0x08, 0x0004, 1, fixtures.PatternSector(0x01))
	cfg, err := ParseConfiguration(want)
	require.NoError(t, err)

	got, err := cfg.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cmd, err := cfg.Command()
	require.NoError(t, err)
	assert.Equal(t, byte(CmdConfigureEmulation), cmd[0])
	assert.Equal(t, want, cmd[1:])

	_, err = (&EmulationConfig{UID: make([]byte, 11)}).MarshalBinary()
	require.ErrorIs(t, err, ErrUIDTooLong)
	_, err = (&EmulationConfig{Sectors: make([]Sector, 41)}).MarshalBinary()
	require.ErrorIs(t, err, ErrTooManySectors)
}

func TestSectorRecordSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 79, SectorRecordSize)
	assert.Equal(t, fixtures.SectorRecordSize, SectorRecordSize)

	cfg := &EmulationConfig{UID: fixtures.TestUID, Sectors: make([]Sector, 2)}
	payload, err := cfg.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, payload, 1+len(fixtures.TestUID)+4+2*79)
}

func TestParseConfigurationRejectsShortRecords(t *testing.T) {
	t.Parallel()

	// Two records of 75 bytes each: the first 79-byte record fits, the
	// second is four bytes short.
	records := make([]byte, 2*75)
	payload := fixtures.ConfigurePayload(fixtures.TestUID, 0x08, 0x0004, 2, records)

	cfg, err := ParseConfiguration(payload)
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Sectors, 1)
}
