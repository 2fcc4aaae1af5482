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
)

func TestCRCA(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want [2]byte
	}{
		{
			name: "empty data yields register preset",
			data: []byte{},
			want: [2]byte{0x63, 0x63},
		},
		{
			name: "nil data",
			data: nil,
			want: [2]byte{0x63, 0x63},
		},
		{
			name: "two zero bytes",
			data: []byte{0x00, 0x00},
			want: [2]byte{0xA0, 0x1E},
		},
		{
			name: "ISO14443-3 annex example",
			data: []byte{0x12, 0x34},
			want: [2]byte{0x26, 0xCF},
		},
		{
			name: "MIFARE READ block 0",
			data: []byte{0x30, 0x00},
			want: [2]byte{0x02, 0xA8},
		},
		{
			name: "HLTA",
			data: []byte{0x50, 0x00},
			want: [2]byte{0x57, 0xCD},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CRCA(tt.data))
		})
	}
}

func TestAppendCRCA(t *testing.T) {
	t.Parallel()

	frame := AppendCRCA([]byte{0x30, 0x00})
	assert.Equal(t, []byte{0x30, 0x00, 0x02, 0xA8}, frame)
	assert.True(t, CheckCRCA(frame))

	frame[1] = 0x01
	assert.False(t, CheckCRCA(frame))
	assert.False(t, CheckCRCA([]byte{0x63}))
	assert.True(t, CheckCRCA([]byte{0x63, 0x63}))
}

func TestCRCADoesNotModifyInput(t *testing.T) {
	t.Parallel()

	data := []byte{0x01, 0x02, 0x03}
	_ = CRCA(data)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
}
