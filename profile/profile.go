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

// Package profile loads saved card dumps and builds emulation images from
// them.
//
// A profile is the JSON document written when a physical card was read:
//
//	{
//	    "UID": "AABBCCDD",
//	    "Type": "Type2Tag 'MIFARE Classic 1K'",
//	    "MIFARE_Data": {"sector_0": "<128 hex digits>", "sector_1": "Error: auth failed"},
//	    "NDEF": [{"type": "54", "name": "", "data": "<base64>", "text": "hello"}]
//	}
//
// SAK and ATQA may be added by hand; they default to a MIFARE Classic 1K.
package profile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	cardemu "github.com/ZaparooProject/go-cardemu"
)

// Defaults for profiles without SAK or ATQA.
const (
	DefaultSAK  = 0x08
	DefaultATQA = 0x0004
)

const sectorKeyPrefix = "sector_"

var (
	// ErrInvalidProfile is returned for documents that cannot describe a card.
	ErrInvalidProfile = errors.New("invalid card profile")
	// ErrNoCardData is returned by Config for profiles with neither sector
	// dumps nor NDEF text.
	ErrNoCardData = errors.New("profile has no card data")
)

// Hex is a byte string written as hex digits. Spaces and colons are
// ignored when decoding.
type Hex []byte

// UnmarshalYAML decodes a hex scalar.
func (h *Hex) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("hex value: %w", err)
	}
	b, err := decodeHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// UnmarshalText decodes hex digits, as typed on a command line.
func (h *Hex) UnmarshalText(text []byte) error {
	b, err := decodeHex(string(text))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// MarshalYAML encodes h as upper-case hex.
func (h Hex) MarshalYAML() (any, error) {
	return strings.ToUpper(hex.EncodeToString(h)), nil
}

func decodeHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex %q: %w", ErrInvalidProfile, s, err)
	}
	return b, nil
}

// SectorDump is one sector of a dump: 64 bytes of block data, or the
// error the reader reported for it.
type SectorDump struct {
	Error string
	Data  []byte
}

// Readable reports whether the dump holds all four blocks.
func (d SectorDump) Readable() bool {
	return d.Error == "" && len(d.Data) == cardemu.BlocksPerSector*cardemu.BlockSize
}

// UnmarshalYAML accepts hex block data or an "Error: ..." string.
func (d *SectorDump) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("sector dump: %w", err)
	}
	if strings.HasPrefix(s, "Error") {
		d.Error = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "Error"), ":"))
		if d.Error == "" {
			d.Error = "unreadable"
		}
		return nil
	}
	b, err := decodeHex(s)
	if err != nil {
		return err
	}
	d.Data = b
	return nil
}

// NDEFRecord is a record captured from the card's NDEF message.
type NDEFRecord struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
	Data string `yaml:"data"`
	Text string `yaml:"text"`
}

// Profile is a saved card.
type Profile struct {
	Sectors   map[string]SectorDump `yaml:"MIFARE_Data"`
	SAK       *int                  `yaml:"SAK"`
	ATQA      *int                  `yaml:"ATQA"`
	Type      string                `yaml:"Type"`
	UID       Hex                   `yaml:"UID"`
	NDEF      []NDEFRecord          `yaml:"NDEF"`
	Timestamp int64                 `yaml:"Timestamp"`
}

// Load reads and parses the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a profile document. JSON dumps parse as YAML.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if len(p.UID) == 0 || len(p.UID) > cardemu.MaxUIDSize {
		return fmt.Errorf("%w: UID must be 1 to %d bytes, got %d", ErrInvalidProfile, cardemu.MaxUIDSize, len(p.UID))
	}
	if p.SAK != nil && (*p.SAK < 0 || *p.SAK > 0xFF) {
		return fmt.Errorf("%w: SAK %d out of range", ErrInvalidProfile, *p.SAK)
	}
	if p.ATQA != nil && (*p.ATQA < 0 || *p.ATQA > 0xFFFF) {
		return fmt.Errorf("%w: ATQA %d out of range", ErrInvalidProfile, *p.ATQA)
	}
	for key, dump := range p.Sectors {
		if _, err := sectorIndex(key); err != nil {
			return err
		}
		if dump.Error == "" && !dump.Readable() {
			return fmt.Errorf("%w: %s holds %d bytes, want %d", ErrInvalidProfile,
				key, len(dump.Data), cardemu.BlocksPerSector*cardemu.BlockSize)
		}
	}
	return nil
}

func sectorIndex(key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, sectorKeyPrefix))
	if !strings.HasPrefix(key, sectorKeyPrefix) || err != nil || n < 0 || n >= cardemu.MaxSectorCount {
		return 0, fmt.Errorf("%w: bad sector key %q", ErrInvalidProfile, key)
	}
	return n, nil
}

// SAKValue returns the profile's SAK or DefaultSAK.
func (p *Profile) SAKValue() byte {
	if p.SAK == nil {
		return DefaultSAK
	}
	return byte(*p.SAK)
}

// ATQAValue returns the profile's ATQA or DefaultATQA.
func (p *Profile) ATQAValue() uint16 {
	if p.ATQA == nil {
		return DefaultATQA
	}
	return uint16(*p.ATQA)
}

// Text returns the first NDEF text record, if any.
func (p *Profile) Text() (string, bool) {
	for _, rec := range p.NDEF {
		if rec.Text != "" {
			return rec.Text, true
		}
	}
	return "", false
}

// Config builds the emulation configuration for the profile. Sector dumps
// take precedence; sectors missing from the dump or unreadable are blank
// with transport keys. A profile with only NDEF text becomes an NDEF card.
func (p *Profile) Config() (*cardemu.EmulationConfig, error) {
	if len(p.Sectors) == 0 {
		text, ok := p.Text()
		if !ok {
			return nil, ErrNoCardData
		}
		cfg, err := NDEFCard(p.UID, text)
		if err != nil {
			return nil, err
		}
		cfg.SAK = p.SAKValue()
		cfg.ATQA = p.ATQAValue()
		cfg.Sectors[0].Blocks[0] = ManufacturerBlock(p.UID, cfg.SAK, cfg.ATQA)
		return cfg, nil
	}

	count := 0
	for key := range p.Sectors {
		n, err := sectorIndex(key)
		if err != nil {
			return nil, err
		}
		count = max(count, n+1)
	}

	cfg := &cardemu.EmulationConfig{
		UID:     append([]byte(nil), p.UID...),
		SAK:     p.SAKValue(),
		ATQA:    p.ATQAValue(),
		Sectors: make([]cardemu.Sector, count),
	}
	for i := range cfg.Sectors {
		dump, ok := p.Sectors[fmt.Sprintf("%s%d", sectorKeyPrefix, i)]
		if !ok || !dump.Readable() {
			cfg.Sectors[i] = BlankSector()
			continue
		}
		cfg.Sectors[i] = sectorFromDump(dump.Data)
	}
	if len(p.Sectors[sectorKeyPrefix+"0"].Data) == 0 {
		cfg.Sectors[0].Blocks[0] = ManufacturerBlock(p.UID, cfg.SAK, cfg.ATQA)
	}
	return cfg, nil
}

// sectorFromDump copies 64 bytes of blocks and takes keys and access bits
// from the trailer.
func sectorFromDump(data []byte) cardemu.Sector {
	var s cardemu.Sector
	for i := range s.Blocks {
		copy(s.Blocks[i][:], data[i*cardemu.BlockSize:])
	}
	trailer := s.Blocks[cardemu.BlocksPerSector-1]
	copy(s.KeyA[:], trailer[0:6])
	copy(s.AccessBits[:], trailer[6:9])
	copy(s.KeyB[:], trailer[10:16])
	return s
}

// FileName returns the conventional file name for a card's profile.
func FileName(uid []byte) string {
	return fmt.Sprintf("card_%X.json", uid)
}

// List returns the profile files in dir, sorted by name.
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "card_*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}
