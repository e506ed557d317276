package errcode

import (
	"errors"
	"strconv"
	"strings"
)

// Code is a stable, caller-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"
	UnknownBus    Code = "unknown_bus"

	AddressNotFound   Code = "address_not_found"
	ProbeFailed       Code = "probe_failed"
	TransientIO       Code = "transient_io"
	PersistentIO      Code = "persistent_io"
	ProtocolViolation Code = "protocol_violation"
	Lifecycle         Code = "resource_lifecycle"

	Error Code = "error" // generic fallback
)

// None marks an absent address or register in E.
const None = -1

// E carries a code plus the bus context needed to debug hardware: which bus,
// which slave address, which register, which operation.
type E struct {
	C    Code
	Op   string
	Bus  string
	Addr int // None when not applicable
	Reg  int // None when not applicable
	Msg  string
	Err  error
}

func (e *E) Error() string {
	var b strings.Builder
	b.WriteString(string(e.C))
	b.WriteString(": i2c")
	if e.Bus != "" {
		b.WriteString(" bus ")
		b.WriteString(e.Bus)
	}
	if e.Addr >= 0 {
		b.WriteString(" addr ")
		b.WriteString(hex(e.Addr))
	}
	if e.Reg >= 0 {
		b.WriteString(" reg ")
		b.WriteString(hex(e.Reg))
	}
	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match by code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts the outermost Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch x := e.(type) {
		case Code:
			return x
		case coder:
			return x.Code()
		}
	}
	return Error
}

// Fatal reports codes that indicate a caller or configuration bug rather than
// a momentary bus condition. They are never retried.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	for _, c := range []Code{ProtocolViolation, InvalidParams, Lifecycle, Unsupported, AddressNotFound, UnknownBus} {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}

func hex(v int) string {
	s := strconv.FormatInt(int64(v), 16)
	if len(s) < 2 {
		s = "0" + s
	}
	return "0x" + strings.ToUpper(s)
}
