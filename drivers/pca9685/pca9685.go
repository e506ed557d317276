// Package pca9685 drives the PCA9685 16-channel 12-bit PWM controller.
package pca9685

import (
	"errors"
	"fmt"
	"math"
	"time"

	"robothat-go/i2c"
	"robothat-go/x/mathx"
)

// Address is the power-on default with all address pins low.
const Address = 0x40

// Registers.
const (
	RegMode1     = 0x00
	RegMode2     = 0x01
	RegSubAdr1   = 0x02
	RegSubAdr2   = 0x03
	RegSubAdr3   = 0x04
	RegLED0OnL   = 0x06
	RegAllLEDOnL = 0xFA
	RegPrescale  = 0xFE
)

// MODE1 bits.
const (
	mode1Sleep   = 0x10
	mode1Restart = 0x80
)

const (
	Channels   = 16
	oscHz      = 25_000_000
	wakeupWait = 5 * time.Millisecond

	// PRESCALE accepts 3..255; the chip forces smaller values to 3.
	PrescaleMin = 3
	PrescaleMax = 255
)

var (
	ErrInvalidChannel = errors.New("pca9685: invalid channel")
	ErrInvalidPulse   = errors.New("pca9685: pulse out of range")
)

// Conn is the transport surface the driver needs.
type Conn interface {
	Write(p []byte) error
	ReadByteData(reg byte) (byte, error)
}

// Config controls the PWM cycle. All fields are optional.
type Config struct {
	// Period is the number of counter steps per cycle. Default 4096.
	Period int
	// FrameWidth is the servo frame length. Default 20 ms.
	FrameWidth time.Duration
	// Sleep is used for the oscillator wake-up delay. Default time.Sleep.
	Sleep func(time.Duration)
}

// Device is one PCA9685.
type Device struct {
	c      Conn
	cfg    Config
	closer func() error
}

// New wraps an open connection. It does not touch the device.
func New(c Conn, cfg Config) *Device {
	if cfg.Period <= 0 {
		cfg.Period = 4096
	}
	if cfg.FrameWidth <= 0 {
		cfg.FrameWidth = 20 * time.Millisecond
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Device{c: c, cfg: cfg}
}

// Open resolves the controller at addr on bus id and configures it.
func Open(reg *i2c.Registry, id string, addr uint16, cfg Config, opts ...i2c.Option) (*Device, error) {
	t, err := i2c.Open(reg, id, []uint16{addr}, opts...)
	if err != nil {
		return nil, err
	}
	d := New(t, cfg)
	d.closer = t.Close
	if err := d.Configure(); err != nil {
		_ = t.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the transport if Open created it.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// Configure clears MODE1: oscillator on, no auto-increment.
func (d *Device) Configure() error { return d.write(RegMode1, 0x00) }

// Prescale is the PRESCALE value for freq Hz, rounded to nearest and held to
// PrescaleMin..PrescaleMax.
func (d *Device) Prescale(freq float64) byte {
	v := math.Floor(oscHz/float64(d.cfg.Period)/freq - 1 + 0.5)
	if math.IsNaN(v) {
		v = PrescaleMax
	}
	return byte(mathx.Clamp(v, PrescaleMin, PrescaleMax))
}

// SetPWMFreq sets the output frequency. The prescaler only latches while the
// oscillator sleeps, so MODE1 is put to sleep, restored, then restarted.
func (d *Device) SetPWMFreq(freq float64) error {
	if freq <= 0 {
		return fmt.Errorf("pca9685: frequency %v out of range", freq)
	}
	old, err := d.c.ReadByteData(RegMode1)
	if err != nil {
		return err
	}
	if err := d.write(RegMode1, (old&0x7F)|mode1Sleep); err != nil {
		return err
	}
	if err := d.write(RegPrescale, d.Prescale(freq)); err != nil {
		return err
	}
	if err := d.write(RegMode1, old); err != nil {
		return err
	}
	d.cfg.Sleep(wakeupWait)
	return d.write(RegMode1, old|mode1Restart)
}

// SetPWM sets the on and off counts of channel.
func (d *Device) SetPWM(channel int, on, off uint16) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("%w %d: want 0..%d", ErrInvalidChannel, channel, Channels-1)
	}
	base := byte(RegLED0OnL + 4*channel)
	for i, v := range []byte{byte(on), byte(on >> 8), byte(off), byte(off >> 8)} {
		if err := d.write(base+byte(i), v); err != nil {
			return err
		}
	}
	return nil
}

// SetServoPulse sets a high pulse of the given width at the start of each
// frame. The pulse must fit in the frame.
func (d *Device) SetServoPulse(channel int, pulse time.Duration) error {
	if pulse < 0 || pulse > d.cfg.FrameWidth {
		return fmt.Errorf("%w: %v, want 0..%v", ErrInvalidPulse, pulse, d.cfg.FrameWidth)
	}
	off := pulse.Seconds() * float64(d.cfg.Period) / d.cfg.FrameWidth.Seconds()
	return d.SetPWM(channel, 0, uint16(mathx.Min(off, float64(d.cfg.Period-1))))
}

func (d *Device) write(reg, v byte) error { return d.c.Write([]byte{reg, v}) }
