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
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
)

// FirmwareStage is the only memory FirmwareUpdate may write to: a buffer
// mapped at [base, base+size). Granting one to the emulator is an explicit
// opt-in to host-controlled writes inside it.
type FirmwareStage struct {
	buf    []byte
	mu     sync.Mutex
	base   uint32
	writes int
}

// NewFirmwareStage creates a zeroed staging buffer of size bytes at base.
func NewFirmwareStage(base uint32, size int) (*FirmwareStage, error) {
	if size <= 0 {
		return nil, fmt.Errorf("staging buffer size must be positive, got %d", size)
	}
	if uint64(base)+uint64(size) > 1<<32 {
		return nil, fmt.Errorf("staging buffer 0x%08X+%d exceeds the 32-bit address space", base, size)
	}
	return &FirmwareStage{base: base, buf: make([]byte, size)}, nil
}

// Base returns the first staged address.
func (s *FirmwareStage) Base() uint32 { return s.base }

// Size returns the staging buffer size.
func (s *FirmwareStage) Size() int { return len(s.buf) }

// Write copies data to addr. The whole range must lie inside the stage.
func (s *FirmwareStage) Write(addr uint32, data []byte) error {
	if addr < s.base {
		return fmt.Errorf("%w: 0x%08X below stage base 0x%08X", ErrFirmwareWriteDenied, addr, s.base)
	}
	off := uint64(addr - s.base)
	if off+uint64(len(data)) > uint64(len(s.buf)) {
		return fmt.Errorf("%w: 0x%08X+%d past stage end 0x%08X",
			ErrFirmwareWriteDenied, addr, len(data), uint64(s.base)+uint64(len(s.buf)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.buf[off:], data)
	s.writes++
	return nil
}

// Bytes returns a copy of the staged image.
func (s *FirmwareStage) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf...)
}

// Writes returns the number of accepted writes.
func (s *FirmwareStage) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Checksum returns the CRC-32 (IEEE) of the staged image.
func (s *FirmwareStage) Checksum() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crc32.ChecksumIEEE(s.buf)
}

// Reset zeroes the staged image.
func (s *FirmwareStage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.buf)
	s.writes = 0
}

// IsDenied reports whether err is a rejected staging write.
func IsDenied(err error) bool {
	return errors.Is(err, ErrFirmwareWriteDenied)
}
