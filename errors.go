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
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Error categories for the front-end link, the host command path and the
// emulated card.
var (
	// Link errors - potentially retryable
	ErrLinkTimeout  = errors.New("link timeout")
	ErrLinkWrite    = errors.New("link write failed")
	ErrLinkRead     = errors.New("link read failed")
	ErrLinkClosed   = errors.New("link is closed")
	ErrLinkNotReady = errors.New("link not ready")

	// Frame errors - potentially retryable
	ErrNoACK            = errors.New("no ACK received")
	ErrNACKReceived     = errors.New("NACK received")
	ErrFrameCorrupted   = errors.New("frame corrupted")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Front-end errors - generally not retryable
	ErrFrontendNotFound = errors.New("front end not found")
	ErrInvalidResponse  = errors.New("invalid response format")
	ErrDataTooLarge     = errors.New("data too large")

	// Host command errors
	ErrEmptyCommand        = errors.New("empty host command")
	ErrUnknownCommand      = errors.New("unknown host command")
	ErrMalformedPayload    = errors.New("malformed command payload")
	ErrFirmwareWriteDenied = errors.New("firmware write denied")

	// Card model errors
	ErrUIDTooLong         = errors.New("UID longer than 10 bytes")
	ErrTooManySectors     = errors.New("more than 40 sectors")
	ErrSectorOutOfRange   = errors.New("sector out of range")
	ErrBlockOutOfRange    = errors.New("block out of range")
	ErrShortBlock         = errors.New("block data shorter than 16 bytes")
	ErrEmulationNotActive = errors.New("emulation not active")

	// Protocol errors
	ErrSessionAborted = errors.New("RF session aborted by recovery")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// LinkError wraps front-end link failures with the operation and port.
type LinkError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or bus identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *LinkError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// FrontendError reports a non-zero status returned by the RF front end for
// a HAL operation.
type FrontendError struct {
	Op   string
	Code byte
}

func (e *FrontendError) Error() string {
	return fmt.Sprintf("%s: front end status 0x%02X (%s)", e.Op, e.Code, frontendStatusMeaning(e.Code))
}

// IsTimeout reports whether the front end timed out waiting for the radio.
func (e *FrontendError) IsTimeout() bool {
	return e.Code == 0x01
}

func frontendStatusMeaning(code byte) string {
	switch code {
	case 0x00:
		return "success"
	case 0x01:
		return "timeout"
	case 0x02:
		return "RF error"
	case 0x03:
		return "buffer overflow"
	case 0x10:
		return "invalid parameter"
	case 0x81:
		return "operation not supported"
	default:
		return "unknown error"
	}
}

// CommandError describes why a host command was answered with a non-success
// status.
type CommandError struct {
	Err    error
	ID     CommandID
	Status Status
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: status 0x%02X: %v", e.ID, byte(e.Status), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var le *LinkError
	if errors.As(err, &le) {
		return le.Retryable
	}

	var fe *FrontendError
	if errors.As(err, &fe) {
		return fe.IsTimeout()
	}

	switch {
	case errors.Is(err, ErrLinkTimeout),
		errors.Is(err, ErrLinkRead),
		errors.Is(err, ErrLinkWrite),
		errors.Is(err, ErrNoACK),
		errors.Is(err, ErrNACKReceived),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the front end is gone and the
// emulator should stop rather than keep polling.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var le *LinkError
	if errors.As(err, &le) {
		return le.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrLinkClosed),
		errors.Is(err, ErrFrontendNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// GetErrorType classifies err for retry decisions.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	var le *LinkError
	if errors.As(err, &le) {
		return le.Type
	}
	if errors.Is(err, ErrLinkTimeout) || errors.Is(err, ErrNoACK) {
		return ErrorTypeTimeout
	}
	if IsRetryable(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// Windows error codes for device disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB front end
// is unplugged mid-transfer.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// NewLinkError creates a link error with retryability derived from errType.
func NewLinkError(op, port string, err error, errType ErrorType) *LinkError {
	return &LinkError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewLinkTimeoutError creates a timeout error for link operations
func NewLinkTimeoutError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrLinkTimeout, ErrorTypeTimeout)
}

// NewFrameCorruptedError creates a frame corruption error
func NewFrameCorruptedError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewNoACKError creates a "no ACK received" error
func NewNoACKError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrNoACK, ErrorTypeTimeout)
}

// NewNACKReceivedError creates a "NACK received" error
func NewNACKReceivedError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrNACKReceived, ErrorTypeTransient)
}

// NewLinkWriteError creates a short or failed write error
func NewLinkWriteError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrLinkWrite, ErrorTypeTransient)
}

// NewInvalidResponseError creates an invalid response error (permanent)
func NewInvalidResponseError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrInvalidResponse, ErrorTypePermanent)
}

// NewDataTooLargeError creates a data too large error (permanent)
func NewDataTooLargeError(op, port string) *LinkError {
	return NewLinkError(op, port, ErrDataTooLarge, ErrorTypePermanent)
}

// TraceDirection indicates the direction of link data
type TraceDirection string

const (
	// TraceTX indicates data sent to the front end
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the front end
	TraceRX TraceDirection = "RX"
)

// TraceEntry is a single link-level transfer.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := FormatHex(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError carries the link trace collected while an operation failed.
//
//	var te *cardemu.TraceableError
//	if errors.As(err, &te) {
//	    fmt.Print(te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Port  string
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] link trace (%d entries):\n", e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, FormatHex(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, FormatHex(entry.Data))
		}
	}
	return sb.String()
}

// FormatHex formats a byte slice as space-separated hex values, truncating
// anything past 32 bytes.
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	n := min(len(data), 32)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	out := strings.Join(parts, " ")
	if len(data) > 32 {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer collects the most recent link transfers of one operation.
type TraceBuffer struct {
	port    string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a trace buffer holding at most maxSize entries.
func NewTraceBuffer(port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		port:    port,
	}
}

// RecordTX records a transmission to the front end
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the front end
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
		return
	}
	tb.entries = append(tb.entries, entry)
}

// WrapError attaches the collected trace to err. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:   err,
		Trace: append([]TraceEntry(nil), tb.entries...),
		Port:  tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
