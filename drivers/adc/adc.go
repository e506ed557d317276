// Package adc reads the robot HAT MCU's 12-bit analog inputs.
//
//	a, err := adc.Open(reg, "1", "A4")
//	v, err := a.ReadVoltage()
//
// A conversion is a word write selecting the channel followed by two
// single-byte reads, MSB first.
package adc

import (
	"errors"
	"fmt"
	"strconv"

	"robothat-go/i2c"
)

// Addresses the MCU answers on, in probe order.
var Addresses = []uint16{0x14, 0x15}

// Channels is the number of analog inputs, A0..A6.
const Channels = 7

// Full-scale reference.
const (
	MaxRaw  = 4095
	VRef    = 3.3
	regBase = 0x10
)

var ErrInvalidChannel = errors.New("adc: invalid channel")

// Conn is the transport surface the ADC needs.
type Conn interface {
	Write(p []byte) error
	Read(n int) ([]byte, error)
}

// ADC is one analog input.
type ADC struct {
	c       Conn
	channel int
	closer  func() error
}

// New binds channel (0..6, or "A0".."A6") on an open connection.
func New(c Conn, channel any) (*ADC, error) {
	ch, err := ParseChannel(channel)
	if err != nil {
		return nil, err
	}
	return &ADC{c: c, channel: ch}, nil
}

// Open resolves the MCU on bus id and binds channel. Close releases the bus.
func Open(reg *i2c.Registry, id string, channel any, opts ...i2c.Option) (*ADC, error) {
	ch, err := ParseChannel(channel)
	if err != nil {
		return nil, err
	}
	t, err := i2c.Open(reg, id, Addresses, opts...)
	if err != nil {
		return nil, err
	}
	return &ADC{c: t, channel: ch, closer: t.Close}, nil
}

// Close releases the transport if Open created it.
func (a *ADC) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

// Channel is the bound channel index.
func (a *ADC) Channel() int { return a.channel }

// ParseChannel accepts an int index or an "An" pin name.
func ParseChannel(channel any) (int, error) {
	var ch int
	switch v := channel.(type) {
	case int:
		ch = v
	case string:
		if len(v) < 2 || v[0] != 'A' {
			return 0, fmt.Errorf("%w %q", ErrInvalidChannel, v)
		}
		n, err := strconv.Atoi(v[1:])
		if err != nil {
			return 0, fmt.Errorf("%w %q", ErrInvalidChannel, v)
		}
		ch = n
	default:
		return 0, fmt.Errorf("%w %v", ErrInvalidChannel, channel)
	}
	if ch < 0 || ch >= Channels {
		return 0, fmt.Errorf("%w %v: want A0..A%d", ErrInvalidChannel, channel, Channels-1)
	}
	return ch, nil
}

// Register is the channel select register for ch.
func Register(ch int) byte { return byte((Channels - ch) | regBase) }

// ReadRaw returns the bound channel's conversion, 0..4095.
func (a *ADC) ReadRaw() (uint16, error) { return a.readRaw(a.channel) }

// ReadRawChannel converts another channel on the same device.
func (a *ADC) ReadRawChannel(channel any) (uint16, error) {
	ch, err := ParseChannel(channel)
	if err != nil {
		return 0, err
	}
	return a.readRaw(ch)
}

// ReadVoltage returns the bound channel in volts.
func (a *ADC) ReadVoltage() (float64, error) {
	raw, err := a.ReadRaw()
	return Volts(raw), err
}

// ReadVoltageChannel returns another channel in volts.
func (a *ADC) ReadVoltageChannel(channel any) (float64, error) {
	raw, err := a.ReadRawChannel(channel)
	return Volts(raw), err
}

// Volts scales a raw reading.
func Volts(raw uint16) float64 { return float64(raw) * VRef / MaxRaw }

func (a *ADC) readRaw(ch int) (uint16, error) {
	if err := a.c.Write([]byte{Register(ch), 0, 0}); err != nil {
		return 0, err
	}
	b, err := a.c.Read(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}
