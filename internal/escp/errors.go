package escp

import (
	"errors"
	"fmt"
)

// Decode failures. Returned wrapped in a *DecodeError.
var (
	ErrMalformedHeader     = errors.New("malformed header")
	ErrTruncatedRecord     = errors.New("truncated record")
	ErrMalformedInkRecord  = errors.New("malformed ink record")
	ErrMalformedTankRecord = errors.New("malformed maintenance tank record")
	ErrMissingStatus       = errors.New("missing status field")
	ErrMalformedNozzleLine = errors.New("malformed nozzle line")
)

// Transport failures. Returned wrapped in a *TransportError.
var (
	ErrTimeout = errors.New("timeout")
	ErrNetwork = errors.New("network error")
)

// Caller errors. Never retried.
var (
	ErrOutOfSequence       = errors.New("command out of sequence")
	ErrInvalidCommandCode  = errors.New("command code must be 2 bytes")
	ErrArgsTooLong         = errors.New("command arguments exceed 65535 bytes")
	ErrInvalidGroup        = errors.New("nozzle group must be in range 1..5")
	ErrNozzleNotFound      = errors.New("nozzle not found")
	ErrGroupNotFound       = errors.New("cleaning group not found")
	ErrNozzleCountMismatch = errors.New("nozzle count mismatch")
)

// DecodeError reports a frame the codec could not classify.
type DecodeError struct {
	Err    error // one of the ErrMalformed*/ErrTruncatedRecord/ErrMissingStatus sentinels
	Field  byte  // TLV type, 0 when not inside a field
	Offset int   // byte offset into the payload, -1 when unknown
	Detail string
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Err.Error()
	if e.Field != 0 {
		msg += fmt.Sprintf(" (field 0x%02X)", e.Field)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(kind error, field byte, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Err: kind, Field: field, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// TransportError reports a socket-level failure talking to the printer.
type TransportError struct {
	Op   string // "query", "dial", "write"
	Addr string
	Kind error // ErrTimeout or ErrNetwork
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool { return e.Kind == ErrTimeout }

// StateError reports a Remote Mode operation issued in the wrong session state.
type StateError struct {
	Op    string
	State SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (session %s)", e.Op, ErrOutOfSequence, e.State)
}

func (e *StateError) Unwrap() error { return ErrOutOfSequence }
