// Package smbus defines the low-level transfer primitives every bus backend
// provides, and the error classification the transaction layer relies on.
//
// A Bus performs exactly one blocking transfer per call. It never retries and
// never interprets payloads; that is the job of package i2c.
package smbus

import (
	"errors"
	"syscall"

	"robothat-go/errcode"
)

// BlockMax is the largest I²C block payload an SMBus adapter accepts.
const BlockMax = 32

// Bus is the minimal SMBus primitive set.
type Bus interface {
	// WriteQuick sends only the address byte (zero-length write).
	WriteQuick(addr uint16) error

	ReadByte(addr uint16) (byte, error)
	WriteByte(addr uint16, v byte) error

	ReadByteData(addr uint16, reg byte) (byte, error)
	WriteByteData(addr uint16, reg, v byte) error

	// Words are little-endian on the wire (low byte first).
	ReadWordData(addr uint16, reg byte) (uint16, error)
	WriteWordData(addr uint16, reg byte, v uint16) error

	// I²C block transfers prefixed by a one-byte register.
	ReadBlockData(addr uint16, reg byte, n int) ([]byte, error)
	WriteBlockData(addr uint16, reg byte, data []byte) error

	Close() error
}

// Primitive names, as used in traces, errors and test doubles.
const (
	OpWriteQuick     = "write_quick"
	OpReadByte       = "read_byte"
	OpWriteByte      = "write_byte"
	OpReadByteData   = "read_byte_data"
	OpWriteByteData  = "write_byte_data"
	OpReadWordData   = "read_word_data"
	OpWriteWordData  = "write_word_data"
	OpReadBlockData  = "read_i2c_block_data"
	OpWriteBlockData = "write_i2c_block_data"
)

// Opener creates the physical connection for a bus id.
type Opener func(id string) (Bus, error)

// ErrNoAck reports that no device acknowledged its address.
var ErrNoAck = errors.New("smbus: no acknowledge")

// IsAbsent reports whether err means "nobody answered at that address" as
// opposed to a fault on the bus itself.
func IsAbsent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoAck) {
		return true
	}
	for _, e := range absentErrnos {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is characteristic of a momentarily
// unresponsive bus and worth another attempt.
func IsTransient(err error) bool {
	if err == nil || errcode.Fatal(err) {
		return false
	}
	if IsAbsent(err) || errors.Is(err, errcode.Busy) || errors.Is(err, errcode.Timeout) ||
		errors.Is(err, errcode.TransientIO) {
		return true
	}
	var en syscall.Errno
	if errors.As(err, &en) {
		switch en {
		case syscall.EINVAL, syscall.EBADF, syscall.ENOTTY:
			return false
		}
		return true
	}
	var to interface{ Timeout() bool }
	if errors.As(err, &to) && to.Timeout() {
		return true
	}
	return false
}
