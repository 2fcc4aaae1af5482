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
	"io"
	"sync"
)

// FragmentedPipe is an in-memory byte stream that hands out reads in
// chunks of at most Chunk bytes, the way USB-UART bridges deliver frames.
// Writes are recorded separately so tests can inspect what was sent.
type FragmentedPipe struct {
	rx      bytes.Buffer
	tx      bytes.Buffer
	onWrite func(written []byte) []byte
	mu      sync.Mutex
	Chunk   int
}

// NewFragmentedPipe creates a pipe that delivers reads in chunk-byte pieces.
func NewFragmentedPipe(chunk int) *FragmentedPipe {
	if chunk < 1 {
		chunk = 1
	}
	return &FragmentedPipe{Chunk: chunk}
}

// Feed appends bytes for subsequent reads.
func (p *FragmentedPipe) Feed(data ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range data {
		p.rx.Write(d)
	}
}

// OnWrite installs a responder: whatever it returns for a write is queued
// for reading.
func (p *FragmentedPipe) OnWrite(fn func(written []byte) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = fn
}

// Read returns at most Chunk pending bytes. With nothing pending it returns
// 0, nil like a serial port whose read timeout expired.
func (p *FragmentedPipe) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rx.Len() == 0 {
		return 0, nil
	}
	n := min(len(buf), p.Chunk)
	return p.rx.Read(buf[:n]) //nolint:wrapcheck // in-memory buffer
}

// Write records data and runs the responder, if any.
func (p *FragmentedPipe) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx.Write(data)
	if p.onWrite != nil {
		if reply := p.onWrite(append([]byte(nil), data...)); len(reply) > 0 {
			p.rx.Write(reply)
		}
	}
	return len(data), nil
}

// Written returns everything written so far.
func (p *FragmentedPipe) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.tx.Bytes()...)
}

// Pending returns the number of unread bytes.
func (p *FragmentedPipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx.Len()
}

var _ io.ReadWriter = (*FragmentedPipe)(nil)
