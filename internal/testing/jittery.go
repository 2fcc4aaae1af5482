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
	"io"
	"math/rand/v2"
	"sync"
	"time"
)

// JitterConfig configures a JitteryConn.
type JitterConfig struct {
	MaxLatency      time.Duration
	StallDuration   time.Duration
	StallAfterBytes int
	Seed            uint64
}

// DefaultJitterConfig returns a few milliseconds of latency with no stall.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{MaxLatency: 2 * time.Millisecond}
}

// JitteryConn wraps a serial-like io.ReadWriter whose Read returns 0, nil
// when idle. Reads are delayed by a random latency and cut at random
// lengths, and the stream can stall once after a byte count, like a
// USB-UART bridge flushing on its own schedule.
type JitteryConn struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	config    JitterConfig
	stallEnd  time.Time
	delivered int
	stalled   bool
	mu        sync.Mutex
}

// NewJitteryConn wraps backend. A zero Seed picks a random one.
func NewJitteryConn(backend io.ReadWriter, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test fixture
	}
	return &JitteryConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5A5A5A5A)), //nolint:gosec // test fixture
	}
}

// Write passes straight through.
func (j *JitteryConn) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // fixture passthrough
}

// Read delivers a random-length prefix of what the backend has.
func (j *JitteryConn) Read(buf []byte) (int, error) {
	j.mu.Lock()
	if !j.stallEnd.IsZero() {
		if time.Now().Before(j.stallEnd) {
			j.mu.Unlock()
			return 0, nil
		}
		j.stallEnd = time.Time{}
	}
	var latency time.Duration
	if j.config.MaxLatency > 0 {
		latency = time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
	}
	n := len(buf)
	if n > 1 {
		n = 1 + j.rng.IntN(n)
	}
	j.mu.Unlock()

	time.Sleep(latency)
	got, err := j.backend.Read(buf[:n])

	j.mu.Lock()
	defer j.mu.Unlock()
	j.delivered += got
	if !j.stalled && j.config.StallAfterBytes > 0 && j.delivered >= j.config.StallAfterBytes {
		j.stalled = true
		j.stallEnd = time.Now().Add(j.config.StallDuration)
	}
	return got, err //nolint:wrapcheck // fixture passthrough
}

// Delivered returns the number of bytes read so far.
func (j *JitteryConn) Delivered() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.delivered
}

// Stalled reports whether the one-off stall has been triggered.
func (j *JitteryConn) Stalled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stalled
}
