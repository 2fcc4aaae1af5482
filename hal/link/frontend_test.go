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

package link

import (
	"context"
	"sync"

	cardemu "github.com/ZaparooProject/go-cardemu"
)

// virtualFrontEnd is an in-memory front end answering link requests. Reader
// frames and host commands are served from queues; an empty queue answers
// with no data.
type virtualFrontEnd struct {
	replies   chan []byte
	status    map[byte]byte
	requests  [][]byte
	rfQueue   [][]byte
	hostQueue [][]byte
	writeErrs []error
	mu        sync.Mutex
	field     bool
	closed    bool
}

func newVirtualFrontEnd() *virtualFrontEnd {
	return &virtualFrontEnd{
		replies: make(chan []byte, 16),
		status:  make(map[byte]byte),
	}
}

func (v *virtualFrontEnd) WriteFrame(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return cardemu.ErrLinkClosed
	}
	if len(v.writeErrs) > 0 {
		err := v.writeErrs[0]
		v.writeErrs = v.writeErrs[1:]
		return err
	}
	v.requests = append(v.requests, append([]byte(nil), data...))

	op := data[0]
	if st := v.status[op]; st != 0x00 {
		v.replies <- []byte{op + 1, st}
		return nil
	}

	reply := []byte{op + 1, 0x00}
	switch op {
	case OpReceiveRF:
		if len(v.rfQueue) > 0 {
			reply = append(reply, v.rfQueue[0]...)
			v.rfQueue = v.rfQueue[1:]
		}
	case OpReceiveHost:
		if len(v.hostQueue) > 0 {
			reply = append(reply, v.hostQueue[0]...)
			v.hostQueue = v.hostQueue[1:]
		}
	case OpFieldStatus:
		if v.field {
			reply = append(reply, 0x01)
		} else {
			reply = append(reply, 0x00)
		}
	}
	v.replies <- reply
	return nil
}

func (v *virtualFrontEnd) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-v.replies:
		return r, nil
	}
}

func (v *virtualFrontEnd) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

func (*virtualFrontEnd) String() string {
	return "virtual"
}

func (v *virtualFrontEnd) queueRF(frames ...[]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rfQueue = append(v.rfQueue, frames...)
}

func (v *virtualFrontEnd) queueHost(cmds ...[]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hostQueue = append(v.hostQueue, cmds...)
}

func (v *virtualFrontEnd) setField(present bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.field = present
}

func (v *virtualFrontEnd) failWrites(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writeErrs = append(v.writeErrs, errs...)
}

func (v *virtualFrontEnd) setStatus(op, status byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status[op] = status
}

func (v *virtualFrontEnd) sent() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte(nil), v.requests...)
}

// sentOp returns the argument bytes of every request with the given op.
func (v *virtualFrontEnd) sentOp(op byte) [][]byte {
	var out [][]byte
	for _, req := range v.sent() {
		if req[0] == op {
			out = append(out, req[1:])
		}
	}
	return out
}
