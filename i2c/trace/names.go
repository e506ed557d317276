package trace

import (
	"sync"

	"robothat-go/x/conv"
)

// AnyAddr registers a name that applies at every address.
const AnyAddr uint16 = 0xFFFF

type regKey struct {
	addr uint16
	reg  int
}

type valKey struct {
	addr uint16
	reg  int
	v    byte
}

var (
	muNames sync.RWMutex
	regs    = map[regKey]string{}
	vals    = map[valKey]string{}
)

// RegisterName names register reg on the device at addr. Later calls replace
// earlier names.
func RegisterName(addr uint16, reg int, name string) {
	muNames.Lock()
	defer muNames.Unlock()
	regs[regKey{addr, reg}] = name
}

// ValueName names a single-byte value written to register reg at addr.
func ValueName(addr uint16, reg int, v byte, name string) {
	muNames.Lock()
	defer muNames.Unlock()
	vals[valKey{addr, reg, v}] = name
}

func lookupReg(addr uint16, reg int) (string, bool) {
	muNames.RLock()
	defer muNames.RUnlock()
	if s, ok := regs[regKey{addr, reg}]; ok {
		return s, true
	}
	s, ok := regs[regKey{AnyAddr, reg}]
	return s, ok
}

func lookupVal(addr uint16, reg int, v byte) (string, bool) {
	muNames.RLock()
	defer muNames.RUnlock()
	if s, ok := vals[valKey{addr, reg, v}]; ok {
		return s, true
	}
	s, ok := vals[valKey{AnyAddr, reg, v}]
	return s, ok
}

// Describe renders r on one line, e.g.
//
//	write_byte_data bus 1 addr 0x40 reg 0x00 (MODE1) data [0x10] (sleep) attempt 1
func (r Record) Describe() string {
	b := make([]byte, 0, 96)
	b = append(b, r.Op...)
	b = append(b, " bus "...)
	b = append(b, r.Bus...)
	b = append(b, " addr "...)
	b = conv.Addr(b, r.Addr)
	if r.Reg != NoReg {
		b = append(b, " reg 0x"...)
		b = conv.Hex8(b, byte(r.Reg))
		if s, ok := lookupReg(r.Addr, r.Reg); ok {
			b = append(b, " ("...)
			b = append(b, s...)
			b = append(b, ')')
		}
	}
	if len(r.Data) > 0 {
		b = append(b, " data "...)
		b = conv.Bytes(b, r.Data)
		if len(r.Data) == 1 && r.Dir == Write {
			if s, ok := lookupVal(r.Addr, r.Reg, r.Data[0]); ok {
				b = append(b, " ("...)
				b = append(b, s...)
				b = append(b, ')')
			}
		}
	}
	if r.Attempt > 0 {
		b = append(b, " attempt "...)
		b = conv.Utoa(b, uint64(r.Attempt))
	}
	if r.Err != nil {
		b = append(b, " err: "...)
		b = append(b, r.Err.Error()...)
	}
	return string(b)
}

func init() {
	// Robot HAT MCU.
	for _, addr := range []uint16{0x14, 0x15, 0x16} {
		for ch := 0; ch < 7; ch++ {
			RegisterName(addr, 0x10|(7-ch), "ADC A"+string(rune('0'+ch)))
		}
		for ch := 0; ch < 20; ch++ {
			RegisterName(addr, 0x20+ch, "PWM channel "+string(conv.Utoa(nil, uint64(ch))))
		}
		for t := 0; t < 4; t++ {
			n := string(rune('0' + t))
			RegisterName(addr, 0x40+t, "PWM timer "+n+" prescaler")
			RegisterName(addr, 0x44+t, "PWM timer "+n+" period")
		}
		for t := 0; t < 3; t++ {
			n := string(rune('4' + t))
			RegisterName(addr, 0x50+t, "PWM timer "+n+" prescaler")
			RegisterName(addr, 0x54+t, "PWM timer "+n+" period")
		}
	}

	// PCA9685 at its power-on address.
	const pca = 0x40
	RegisterName(pca, 0x00, "MODE1")
	RegisterName(pca, 0x01, "MODE2")
	RegisterName(pca, 0xFE, "PRESCALE")
	for ch := 0; ch < 16; ch++ {
		n := string(conv.Utoa(nil, uint64(ch)))
		base := 0x06 + 4*ch
		RegisterName(pca, base, "LED"+n+"_ON_L")
		RegisterName(pca, base+1, "LED"+n+"_ON_H")
		RegisterName(pca, base+2, "LED"+n+"_OFF_L")
		RegisterName(pca, base+3, "LED"+n+"_OFF_H")
	}
	RegisterName(pca, 0xFA, "ALL_LED_ON_L")
	RegisterName(pca, 0xFB, "ALL_LED_ON_H")
	RegisterName(pca, 0xFC, "ALL_LED_OFF_L")
	RegisterName(pca, 0xFD, "ALL_LED_OFF_H")
	ValueName(pca, 0x00, 0x00, "normal")
	ValueName(pca, 0x00, 0x10, "sleep")
	ValueName(pca, 0x00, 0x80, "restart")
	ValueName(pca, 0x00, 0xA1, "restart|auto-increment|allcall")
}
