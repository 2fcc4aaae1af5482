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

package testing

// Transport configuration of a blank MIFARE Classic sector trailer
var (
	DefaultKey        = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	DefaultAccessBits = []byte{0xFF, 0x07, 0x80}
)

// SectorRecordSize is the wire size of one sector in a configure payload.
const SectorRecordSize = 6 + 3 + 6 + 4*16

// SectorRecord builds a 75-byte sector record. Short inputs are zero padded.
func SectorRecord(keyA, access, keyB []byte, blocks [4][]byte) []byte {
	rec := make([]byte, SectorRecordSize)
	copy(rec[0:6], keyA)
	copy(rec[6:9], access)
	copy(rec[9:15], keyB)
	for i, b := range blocks {
		copy(rec[15+i*16:15+(i+1)*16], b)
	}
	return rec
}

// PatternSector builds a sector record with default keys whose block i
// holds Sequence(seed + 16*i). Block 3 is left as a default trailer.
func PatternSector(seed byte) []byte {
	trailer := make([]byte, 0, 16)
	trailer = append(trailer, DefaultKey...)
	trailer = append(trailer, DefaultAccessBits...)
	trailer = append(trailer, 0x69)
	trailer = append(trailer, DefaultKey...)
	return SectorRecord(DefaultKey, DefaultAccessBits, DefaultKey, [4][]byte{
		Sequence(seed),
		Sequence(seed + 16),
		Sequence(seed + 32),
		trailer,
	})
}

// ConfigurePayload builds a ConfigureEmulation payload. declared is the
// sector count written in the header, which may differ from len(records)
// to model truncated or inconsistent payloads.
func ConfigurePayload(uid []byte, sak byte, atqa uint16, declared byte, records ...[]byte) []byte {
	out := []byte{byte(len(uid))}
	out = append(out, uid...)
	out = append(out, sak, byte(atqa), byte(atqa>>8), declared)
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}

// ConfigureCommand is ConfigurePayload prefixed with command id 0x24.
func ConfigureCommand(uid []byte, sak byte, atqa uint16, records ...[]byte) []byte {
	return append([]byte{0x24}, ConfigurePayload(uid, sak, atqa, byte(len(records)), records...)...)
}
