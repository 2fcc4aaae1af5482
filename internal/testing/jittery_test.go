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

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, conn *JitteryConn, want int) []byte {
	t.Helper()

	var out []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(time.Second)
	for len(out) < want {
		require.True(t, time.Now().Before(deadline), "timed out after %d bytes", len(out))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
	}
	return out
}

func TestJitteryConnPreservesStream(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD5, 0x11, 0x1A, 0x00}, 20)
	pipe := NewFragmentedPipe(len(data))
	pipe.Feed(data)

	conn := NewJitteryConn(pipe, JitterConfig{Seed: 42})
	assert.Equal(t, data, readAll(t, conn, len(data)))
	assert.Equal(t, len(data), conn.Delivered())
}

func TestJitteryConnFragments(t *testing.T) {
	t.Parallel()

	pipe := NewFragmentedPipe(256)
	pipe.Feed(make([]byte, 256))
	conn := NewJitteryConn(pipe, JitterConfig{Seed: 7})

	buf := make([]byte, 256)
	short := 0
	for range 10 {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		if n < len(buf) {
			short++
		}
	}
	assert.Positive(t, short, "reads are cut at random lengths")
}

func TestJitteryConnStallsOnce(t *testing.T) {
	t.Parallel()

	pipe := NewFragmentedPipe(1)
	pipe.Feed([]byte{1, 2, 3, 4})
	conn := NewJitteryConn(pipe, JitterConfig{Seed: 1, StallAfterBytes: 2, StallDuration: 50 * time.Millisecond})

	buf := make([]byte, 1)
	for range 2 {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	assert.True(t, conn.Stalled())

	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "stalled stream reads nothing")

	assert.Equal(t, []byte{3, 4}, readAll(t, conn, 2))
}

func TestJitteryConnWritePassthrough(t *testing.T) {
	t.Parallel()

	pipe := NewFragmentedPipe(8)
	conn := NewJitteryConn(pipe, DefaultJitterConfig())
	n, err := conn.Write([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xAA, 0xBB}, pipe.Written())
}
