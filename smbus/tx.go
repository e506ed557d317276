package smbus

import (
	"fmt"

	"robothat-go/errcode"

	"tinygo.org/x/drivers"
)

// TxBus expresses every SMBus primitive as a single drivers.I2C Tx call, so a
// TinyGo machine.I2C (or any host fake of it) can back the transaction layer.
//
// Tx MUST perform a write followed by a repeated-start read when both w and r
// are provided, without releasing the bus.
type TxBus struct {
	tx drivers.I2C
	// Absent, when set, recognises the platform's NACK error. Matching errors
	// are reported as ErrNoAck; every other Tx error is reported transient.
	Absent func(error) bool

	w [BlockMax + 1]byte
	r [BlockMax]byte
}

// Ensure compile-time conformance.
var _ Bus = (*TxBus)(nil)

// FromTx wraps a configured drivers.I2C.
func FromTx(tx drivers.I2C) *TxBus { return &TxBus{tx: tx} }

// TxOpener maps bus ids onto pre-configured drivers.I2C instances.
func TxOpener(lookup func(id string) (drivers.I2C, bool)) Opener {
	return func(id string) (Bus, error) {
		tx, ok := lookup(id)
		if !ok {
			return nil, errcode.UnknownBus
		}
		return FromTx(tx), nil
	}
}

func (b *TxBus) do(addr uint16, w, r []byte) error {
	err := b.tx.Tx(addr, w, r)
	if err == nil {
		return nil
	}
	if b.Absent != nil && b.Absent(err) {
		return fmt.Errorf("%w: %w", ErrNoAck, err)
	}
	if errcode.Fatal(err) {
		return err
	}
	return fmt.Errorf("%w: %w", errcode.TransientIO, err)
}

func (b *TxBus) WriteQuick(addr uint16) error { return b.do(addr, nil, nil) }

func (b *TxBus) ReadByte(addr uint16) (byte, error) {
	if err := b.do(addr, nil, b.r[:1]); err != nil {
		return 0, err
	}
	return b.r[0], nil
}

func (b *TxBus) WriteByte(addr uint16, v byte) error {
	b.w[0] = v
	return b.do(addr, b.w[:1], nil)
}

func (b *TxBus) ReadByteData(addr uint16, reg byte) (byte, error) {
	b.w[0] = reg
	if err := b.do(addr, b.w[:1], b.r[:1]); err != nil {
		return 0, err
	}
	return b.r[0], nil
}

func (b *TxBus) WriteByteData(addr uint16, reg, v byte) error {
	b.w[0] = reg
	b.w[1] = v
	return b.do(addr, b.w[:2], nil)
}

func (b *TxBus) ReadWordData(addr uint16, reg byte) (uint16, error) {
	b.w[0] = reg
	if err := b.do(addr, b.w[:1], b.r[:2]); err != nil {
		return 0, err
	}
	return uint16(b.r[0]) | uint16(b.r[1])<<8, nil
}

func (b *TxBus) WriteWordData(addr uint16, reg byte, v uint16) error {
	b.w[0] = reg
	b.w[1] = byte(v)      // low
	b.w[2] = byte(v >> 8) // high
	return b.do(addr, b.w[:3], nil)
}

func (b *TxBus) ReadBlockData(addr uint16, reg byte, n int) ([]byte, error) {
	if n < 0 || n > BlockMax {
		return nil, errcode.ProtocolViolation
	}
	b.w[0] = reg
	if err := b.do(addr, b.w[:1], b.r[:n]); err != nil {
		return nil, err
	}
	return append([]byte(nil), b.r[:n]...), nil
}

func (b *TxBus) WriteBlockData(addr uint16, reg byte, data []byte) error {
	if len(data) > BlockMax {
		return errcode.ProtocolViolation
	}
	b.w[0] = reg
	n := copy(b.w[1:], data)
	return b.do(addr, b.w[:1+n], nil)
}

// Close is a no-op: the drivers.I2C instance belongs to the platform.
func (b *TxBus) Close() error { return nil }
