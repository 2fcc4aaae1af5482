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

// Package frame encodes and decodes the normal information frames used on
// the link between the host and the RF front end:
//
//	00 00 FF LEN LCS TFI DATA... DCS 00
//
// LEN counts TFI and DATA, LCS makes LEN+LCS zero, DCS makes TFI+DATA+DCS
// zero. ACK is 00 00 FF 00 FF 00 and NACK is 00 00 FF FF 00 00.
package frame

import (
	"bytes"
	"errors"
	"fmt"

	cardemu "github.com/ZaparooProject/go-cardemu"
)

// Frame identifiers
const (
	HostToFrontend = 0xD4 // TFI for host requests
	FrontendToHost = 0xD5 // TFI for front-end answers
	ErrorTFI       = 0x7F // application-level error frame
)

// Frame markers
const (
	Preamble   = 0x00
	StartCode1 = 0x00
	StartCode2 = 0xFF
	Postamble  = 0x00
)

// MaxDataLength is the largest DATA section a normal frame can carry.
const MaxDataLength = 0xFF - 1

// Fixed control frames
var (
	ACK  = []byte{Preamble, StartCode1, StartCode2, 0x00, 0xFF, Postamble}
	NACK = []byte{Preamble, StartCode1, StartCode2, 0xFF, 0x00, Postamble}
)

// ErrIncomplete means more bytes are needed before a frame can be decoded.
var ErrIncomplete = errors.New("incomplete frame")

var startCode = []byte{StartCode1, StartCode2}

// Kind classifies a decoded frame.
type Kind int

// Frame kinds
const (
	KindData Kind = iota
	KindACK
	KindNACK
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindACK:
		return "ACK"
	case KindNACK:
		return "NACK"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Frame is one decoded link frame. Data excludes TFI.
type Frame struct {
	Data []byte
	Kind Kind
	TFI  byte
}

// Checksum returns the 8-bit sum of data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Encode builds a normal information frame carrying tfi and data.
func Encode(tfi byte, data []byte) ([]byte, error) {
	if len(data) > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", cardemu.ErrDataTooLarge, len(data), MaxDataLength)
	}
	length := byte(len(data) + 1)

	out := make([]byte, 0, len(data)+8)
	out = append(out, Preamble, StartCode1, StartCode2, length, -length, tfi)
	out = append(out, data...)
	out = append(out, -(tfi + Checksum(data)), Postamble)
	return out, nil
}

// EncodeError builds an error frame carrying code.
func EncodeError(code byte) []byte {
	out, _ := Encode(ErrorTFI, []byte{code})
	return out
}

// Decode parses the first frame in buf and returns it with the number of
// bytes consumed, including any leading garbage and the postamble.
//
// ErrIncomplete is returned, with consumed bytes of garbage that can be
// dropped, when buf holds only part of a frame. A bad length checksum
// returns ErrFrameCorrupted and a bad data checksum ErrChecksumMismatch; in
// both cases consumed skips past the start code so the caller can resync.
func Decode(buf []byte) (Frame, int, error) {
	start := bytes.Index(buf, startCode)
	if start < 0 {
		// Keep a trailing 0x00 that may begin the next start code.
		drop := len(buf)
		if drop > 0 && buf[drop-1] == StartCode1 {
			drop--
		}
		return Frame{}, drop, ErrIncomplete
	}

	off := start + len(startCode)
	if len(buf) < off+2 {
		return Frame{}, start, ErrIncomplete
	}
	length, lcs := buf[off], buf[off+1]

	switch {
	case length == 0x00 && lcs == 0xFF, length == 0xFF && lcs == 0x00:
		if len(buf) < off+3 {
			return Frame{}, start, ErrIncomplete
		}
		kind := KindACK
		if length == 0xFF {
			kind = KindNACK
		}
		return Frame{Kind: kind}, withPostamble(buf, off+2), nil
	case length+lcs != 0 || length == 0:
		return Frame{}, off, fmt.Errorf("%w: LEN 0x%02X LCS 0x%02X", cardemu.ErrFrameCorrupted, length, lcs)
	}

	body := off + 2
	end := body + int(length) // DCS position
	if len(buf) < end+2 {
		return Frame{}, start, ErrIncomplete
	}
	if Checksum(buf[body:end])+buf[end] != 0 {
		return Frame{}, off, fmt.Errorf("%w: DCS 0x%02X", cardemu.ErrChecksumMismatch, buf[end])
	}

	f := Frame{
		Kind: KindData,
		TFI:  buf[body],
		Data: append([]byte(nil), buf[body+1:end]...),
	}
	if f.TFI == ErrorTFI {
		f.Kind = KindError
	}
	return f, withPostamble(buf, end+1), nil
}

// withPostamble consumes the postamble at n. Decode waits for the byte
// after DCS so a frame never completes with its postamble still on the wire;
// a byte other than 0x00 there is left for the next frame.
func withPostamble(buf []byte, n int) int {
	if n < len(buf) && buf[n] == Postamble {
		return n + 1
	}
	return n
}

// Payload checks that f is a data frame with the expected TFI and returns
// its data. Error frames become *cardemu.FrontendError.
func (f Frame) Payload(op string, tfi byte) ([]byte, error) {
	switch f.Kind {
	case KindData:
	case KindError:
		var code byte
		if len(f.Data) > 0 {
			code = f.Data[0]
		}
		return nil, &cardemu.FrontendError{Op: op, Code: code}
	default:
		return nil, fmt.Errorf("%w: expected data frame, got %s", cardemu.ErrInvalidResponse, f.Kind)
	}
	if f.TFI != tfi {
		return nil, fmt.Errorf("%w: TFI 0x%02X, want 0x%02X", cardemu.ErrInvalidResponse, f.TFI, tfi)
	}
	return f.Data, nil
}
