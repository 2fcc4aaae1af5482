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

// crcAInitial is the CRC_A register preset defined by ISO/IEC 14443-3.
const crcAInitial uint16 = 0x6363

// CRCA computes the ISO/IEC 14443-3 type A CRC of data and returns it in
// transmission order (low byte first). The CRC of an empty slice is the
// register preset, 0x63 0x63.
func CRCA(data []byte) [2]byte {
	crc := uint32(crcAInitial)
	for _, b := range data {
		b ^= byte(crc & 0xFF)
		b ^= b << 4
		t := uint32(b)
		crc = (crc >> 8) ^ (t << 8) ^ (t << 3) ^ (t >> 4)
	}
	return [2]byte{byte(crc & 0xFF), byte((crc >> 8) & 0xFF)}
}

// AppendCRCA appends the CRC_A of data to data.
func AppendCRCA(data []byte) []byte {
	crc := CRCA(data)
	return append(data, crc[0], crc[1])
}

// CheckCRCA reports whether frame ends with a valid CRC_A over the bytes
// that precede it.
func CheckCRCA(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	crc := CRCA(frame[:len(frame)-2])
	return frame[len(frame)-2] == crc[0] && frame[len(frame)-1] == crc[1]
}
