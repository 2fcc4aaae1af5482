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
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cardemu "github.com/ZaparooProject/go-cardemu"
)

// sectorHex returns 64 bytes of hex: three data blocks filled with fill and
// a transport trailer.
func sectorHex(fill byte) string {
	data := make([]byte, 0, 64)
	for range 48 {
		data = append(data, fill)
	}
	data = append(data, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x07, 0x80, 0x69,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	return hex.EncodeToString(data)
}

func sampleDump() string {
	return `{
    "UID": "AABBCCDD",
    "Type": "Type2Tag 'MIFARE Classic 1K'",
    "Technologies": ["mifare"],
    "Timestamp": 1700000000,
    "MIFARE_Data": {
        "sector_0": "` + sectorHex(0x11) + `",
        "sector_1": "Error: authentication failed",
        "sector_2": "` + sectorHex(0x22) + `"
    },
    "RawData": {"Identifier": "aabbccdd"},
    "custom_response": "9000"
}`
}

func TestParse(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(sampleDump()))
	require.NoError(t, err)

	assert.Equal(t, Hex{0xAA, 0xBB, 0xCC, 0xDD}, p.UID)
	assert.Equal(t, "Type2Tag 'MIFARE Classic 1K'", p.Type)
	assert.Equal(t, int64(1700000000), p.Timestamp)
	assert.Len(t, p.Sectors, 3)
	assert.True(t, p.Sectors["sector_0"].Readable())
	assert.False(t, p.Sectors["sector_1"].Readable())
	assert.Equal(t, "authentication failed", p.Sectors["sector_1"].Error)
	assert.Equal(t, byte(DefaultSAK), p.SAKValue())
	assert.Equal(t, uint16(DefaultATQA), p.ATQAValue())
}

func TestParseYAMLWithOverrides(t *testing.T) {
	t.Parallel()

	doc := `
UID: "04 11 22 33 44 55 66"
SAK: 0x18
ATQA: 0x0042
MIFARE_Data:
  sector_0: "` + sectorHex(0x00) + `"
`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Len(t, p.UID, 7)
	assert.Equal(t, byte(0x18), p.SAKValue())
	assert.Equal(t, uint16(0x0042), p.ATQAValue())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "not a document", doc: "{"},
		{name: "no UID", doc: `{"Type": "x"}`},
		{name: "UID too long", doc: `{"UID": "0102030405060708090A0B"}`},
		{name: "bad UID hex", doc: `{"UID": "XYZ"}`},
		{name: "bad sector key", doc: `{"UID": "01020304", "MIFARE_Data": {"block_0": "00"}}`},
		{name: "sector out of range", doc: `{"UID": "01020304", "MIFARE_Data": {"sector_40": "` + sectorHex(0) + `"}}`},
		{name: "short sector", doc: `{"UID": "01020304", "MIFARE_Data": {"sector_0": "0011"}}`},
		{name: "SAK out of range", doc: `{"UID": "01020304", "SAK": 300}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
}

func TestConfigFromDump(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(sampleDump()))
	require.NoError(t, err)

	cfg, err := p.Config()
	require.NoError(t, err)

	require.Len(t, cfg.Sectors, 3)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, cfg.UID)
	assert.Equal(t, byte(0x08), cfg.SAK)
	assert.Equal(t, uint16(0x0004), cfg.ATQA)

	var filled cardemu.Block
	for i := range filled {
		filled[i] = 0x22
	}
	s2 := cfg.Sectors[2]
	assert.Equal(t, filled, s2.Blocks[0])
	assert.Equal(t, [6]byte{}, s2.KeyA, "key A reads back as zeros")
	assert.Equal(t, [3]byte{0xFF, 0x07, 0x80}, s2.AccessBits)
	assert.Equal(t, TransportKey, s2.KeyB)

	if diff := cmp.Diff(BlankSector(), cfg.Sectors[1]); diff != "" {
		t.Errorf("unreadable sector mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigRoundTripsThroughConfigure(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(sampleDump()))
	require.NoError(t, err)
	cfg, err := p.Config()
	require.NoError(t, err)

	payload, err := cfg.MarshalBinary()
	require.NoError(t, err)
	parsed, err := cardemu.ParseConfiguration(payload)
	require.NoError(t, err)

	if diff := cmp.Diff(cfg, parsed); diff != "" {
		t.Errorf("configure payload mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigMissingSectorZero(t *testing.T) {
	t.Parallel()

	doc := `{"UID": "01020304", "SAK": 8, "MIFARE_Data": {"sector_1": "` + sectorHex(0x33) + `"}}`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)

	cfg, err := p.Config()
	require.NoError(t, err)
	require.Len(t, cfg.Sectors, 2)
	assert.Equal(t, ManufacturerBlock([]byte{1, 2, 3, 4}, 0x08, 0x0004), cfg.Sectors[0].Blocks[0])
}

func TestConfigFromNDEFText(t *testing.T) {
	t.Parallel()

	doc := `{"UID": "DEADBEEF", "NDEF": [{"type": "54", "name": "", "data": "", "text": "launch/snes"}]}`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.Len(t, cfg.Sectors, Classic1KSectors)

	msg, err := ReadNDEF(cfg.Sectors)
	require.NoError(t, err)
	assert.Equal(t, "launch/snes", textOf(t, msg))
}

func TestConfigNoData(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`{"UID": "01020304"}`))
	require.NoError(t, err)

	_, err = p.Config()
	require.ErrorIs(t, err, ErrNoCardData)
}

func TestLoadAndList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, FileName([]byte{0xAA, 0xBB, 0xCC, 0xDD}))
	require.NoError(t, os.WriteFile(path, []byte(sampleDump()), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_01.json"), []byte(`{"UID": "01"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	assert.Equal(t, "card_AABBCCDD.json", filepath.Base(path))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Hex{0xAA, 0xBB, 0xCC, 0xDD}, p.UID)

	files, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "card_01.json"), path}, files)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestHexMarshal(t *testing.T) {
	t.Parallel()

	v, err := Hex{0x0A, 0xBC}.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "0ABC", v)
}
