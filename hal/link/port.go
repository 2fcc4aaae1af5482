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

import "context"

// Port moves link frames between the host and the RF front end. The
// transports in package transport implement it over UART, I2C and SPI.
//
// WriteFrame wraps data in a host-to-front-end information frame, sends it
// and waits for the front end's ACK. ReadFrame waits for the next
// front-end-to-host information frame and returns its data without the
// TFI. Both return early when ctx is done.
type Port interface {
	WriteFrame(ctx context.Context, data []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
	String() string
}
