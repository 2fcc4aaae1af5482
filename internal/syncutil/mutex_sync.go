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

//go:build !deadlock

// Package syncutil provides the mutex types used for emulator critical
// sections. Building with -tags deadlock swaps in go-deadlock detectors.
package syncutil

import "sync"

// DetectorEnabled reports whether lock-order detection is compiled in.
const DetectorEnabled = false

// Mutex guards emulator state shared between the host command path, the RF
// session and interrupt handling.
type Mutex struct {
	sync.Mutex
}

// Do runs fn with the mutex held.
func (m *Mutex) Do(fn func()) {
	m.Lock()
	defer m.Unlock()
	fn()
}
