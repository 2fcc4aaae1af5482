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

package frame

import "errors"

// Assembler collects raw link bytes that arrive in arbitrary pieces and
// yields complete frames.
type Assembler struct {
	buf []byte
}

// Feed appends received bytes.
func (a *Assembler) Feed(p []byte) {
	a.buf = append(a.buf, p...)
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. Corrupted frames are skipped and reported as errors; calling Next
// again continues after them.
func (a *Assembler) Next() (f Frame, ok bool, err error) {
	f, consumed, err := Decode(a.buf)
	a.buf = a.buf[consumed:]
	if errors.Is(err, ErrIncomplete) {
		return Frame{}, false, nil
	}
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

// Buffered returns the number of bytes held.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Reset drops any buffered bytes.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}
