//go:build linux

package smbus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"robothat-go/errcode"

	"github.com/platinasystems/i2c"
)

// SMBus transaction size with no data phase.
const smbusQuick i2c.SMBusSize = 0

// LinuxBus drives /dev/i2c-N through SMBus ioctls.
type LinuxBus struct {
	bus  i2c.Bus
	id   string
	addr int // currently selected slave, -1 before the first transfer
}

var _ Bus = (*LinuxBus)(nil)

// OpenLinux opens /dev/i2c-N. id may be "1", "i2c1", "i2c-1" or "/dev/i2c-1".
func OpenLinux(id string) (Bus, error) {
	index, err := parseIndex(id)
	if err != nil {
		return nil, err
	}
	b := &LinuxBus{id: id, addr: -1}
	if err := b.bus.Open(index); err != nil {
		return nil, err
	}
	return b, nil
}

func parseIndex(id string) (int, error) {
	s := strings.TrimPrefix(strings.TrimSpace(id), "/dev/")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "i2c"), "-")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &errcode.E{C: errcode.InvalidParams, Bus: id, Addr: errcode.None, Reg: errcode.None, Msg: "bus id is not a /dev/i2c-N index"}
	}
	return n, nil
}

func (b *LinuxBus) selectAddr(addr uint16) error {
	if addr > 0x7F {
		return errcode.Unsupported // 10-bit addressing
	}
	if b.addr == int(addr) {
		return nil
	}
	if err := b.bus.ForceSlaveAddress(int(addr)); err != nil {
		return classify(err)
	}
	b.addr = int(addr)
	return nil
}

func (b *LinuxBus) do(addr uint16, rw i2c.RW, cmd uint8, size i2c.SMBusSize, data *i2c.SMBusData) error {
	if err := b.selectAddr(addr); err != nil {
		return err
	}
	if err := b.bus.Do(rw, cmd, size, data); err != nil {
		return classify(err)
	}
	return nil
}

func (b *LinuxBus) WriteQuick(addr uint16) error {
	var d i2c.SMBusData
	return b.do(addr, i2c.Write, 0, smbusQuick, &d)
}

func (b *LinuxBus) ReadByte(addr uint16) (byte, error) {
	var d i2c.SMBusData
	if err := b.do(addr, i2c.Read, 0, i2c.Byte, &d); err != nil {
		return 0, err
	}
	return d[0], nil
}

// WriteByte carries the value in the command slot, as i2c_smbus_write_byte.
func (b *LinuxBus) WriteByte(addr uint16, v byte) error {
	var d i2c.SMBusData
	return b.do(addr, i2c.Write, v, i2c.Byte, &d)
}

func (b *LinuxBus) ReadByteData(addr uint16, reg byte) (byte, error) {
	var d i2c.SMBusData
	if err := b.do(addr, i2c.Read, reg, i2c.ByteData, &d); err != nil {
		return 0, err
	}
	return d[0], nil
}

func (b *LinuxBus) WriteByteData(addr uint16, reg, v byte) error {
	var d i2c.SMBusData
	d[0] = v
	return b.do(addr, i2c.Write, reg, i2c.ByteData, &d)
}

func (b *LinuxBus) ReadWordData(addr uint16, reg byte) (uint16, error) {
	var d i2c.SMBusData
	if err := b.do(addr, i2c.Read, reg, i2c.WordData, &d); err != nil {
		return 0, err
	}
	return uint16(d[0]) | uint16(d[1])<<8, nil
}

func (b *LinuxBus) WriteWordData(addr uint16, reg byte, v uint16) error {
	var d i2c.SMBusData
	d[0] = byte(v)
	d[1] = byte(v >> 8)
	return b.do(addr, i2c.Write, reg, i2c.WordData, &d)
}

// Block buffers carry the length in the first byte.
func (b *LinuxBus) ReadBlockData(addr uint16, reg byte, n int) ([]byte, error) {
	if n < 0 || n > BlockMax {
		return nil, errcode.ProtocolViolation
	}
	var d i2c.SMBusData
	d[0] = byte(n)
	if err := b.do(addr, i2c.Read, reg, i2c.I2CBlockData, &d); err != nil {
		return nil, err
	}
	return append([]byte(nil), d[1:1+n]...), nil
}

func (b *LinuxBus) WriteBlockData(addr uint16, reg byte, data []byte) error {
	if len(data) > BlockMax {
		return errcode.ProtocolViolation
	}
	var d i2c.SMBusData
	d[0] = byte(len(data))
	copy(d[1:], data)
	return b.do(addr, i2c.Write, reg, i2c.I2CBlockData, &d)
}

func (b *LinuxBus) Close() error { return b.bus.Close() }

// classify restores error classes the ioctl wrapper flattens into text.
func classify(err error) error {
	var en syscall.Errno
	if errors.As(err, &en) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, syscall.EREMOTEIO.Error()), strings.Contains(msg, syscall.ENXIO.Error()):
		return fmt.Errorf("%w: %v", ErrNoAck, err)
	case strings.Contains(msg, syscall.EINVAL.Error()):
		return fmt.Errorf("%w: %v", errcode.ProtocolViolation, err)
	case strings.Contains(msg, syscall.ETIMEDOUT.Error()), strings.Contains(msg, syscall.EAGAIN.Error()),
		strings.Contains(msg, syscall.EBUSY.Error()), strings.Contains(msg, syscall.EIO.Error()):
		return fmt.Errorf("%w: %v", errcode.TransientIO, err)
	}
	return err
}
