package i2c

import (
	"time"

	"robothat-go/errcode"
	"robothat-go/i2c/trace"
	"robothat-go/smbus"
	"robothat-go/x/conv"
)

// MaxAddr is the largest valid (10-bit) slave address.
const MaxAddr = 0x3FF

// ProbeResult is the outcome of a probe that reached the bus.
type ProbeResult uint8

const (
	Absent ProbeResult = iota
	Present
)

func (p ProbeResult) String() string {
	if p == Present {
		return "present"
	}
	return "absent"
}

// ProbeMode selects the non-destructive write used to probe an address.
type ProbeMode uint8

const (
	// ProbeQuick is an SMBus quick write: address phase only, no data.
	ProbeQuick ProbeMode = iota
	// ProbeDummyByte writes a single zero byte, for controllers without
	// quick-command support.
	ProbeDummyByte
)

func (m ProbeMode) op() string {
	if m == ProbeDummyByte {
		return smbus.OpWriteByte
	}
	return smbus.OpWriteQuick
}

// Probe checks once, without retry, whether addr acknowledges. A missing
// acknowledge is Absent with a nil error; any other failure is returned as
// is.
func Probe(h *Handle, addr uint16, mode ProbeMode) (ProbeResult, error) {
	return probe(h, addr, mode, trace.Nop)
}

func probe(h *Handle, addr uint16, mode ProbeMode, sink trace.Sink) (ProbeResult, error) {
	if addr > MaxAddr {
		return Absent, badAddr(h.Bus(), "probe", addr)
	}
	op := mode.op()
	rec := trace.New(h.Bus(), addr, op, trace.NoReg, trace.Probe, nil)
	err := h.Transfer(op, func(b smbus.Bus) error {
		if mode == ProbeDummyByte {
			return b.WriteByte(addr, 0)
		}
		return b.WriteQuick(addr)
	})
	rec.Elapsed = time.Since(rec.Time)
	rec.Err = err
	sink.Record(rec)

	switch {
	case err == nil:
		return Present, nil
	case smbus.IsAbsent(err):
		return Absent, nil
	}
	return Absent, err
}

// Resolve probes candidates in order and returns the first that
// acknowledges. It fails with AddressNotFound when none do and ProbeFailed
// when a probe hits a bus fault.
func Resolve(h *Handle, candidates []uint16, mode ProbeMode) (uint16, error) {
	return resolve(h, candidates, mode, trace.Nop)
}

func resolve(h *Handle, candidates []uint16, mode ProbeMode, sink trace.Sink) (uint16, error) {
	if len(candidates) == 0 {
		return 0, &errcode.E{C: errcode.ProtocolViolation, Op: "resolve", Bus: h.Bus(), Addr: errcode.None, Reg: errcode.None, Msg: "no candidate addresses"}
	}
	for _, a := range candidates {
		if a > MaxAddr {
			return 0, badAddr(h.Bus(), "resolve", a)
		}
	}
	for _, a := range candidates {
		res, err := probe(h, a, mode, sink)
		if err != nil {
			if errcode.Fatal(err) {
				return 0, err
			}
			return 0, &errcode.E{C: errcode.ProbeFailed, Op: mode.op(), Bus: h.Bus(), Addr: int(a), Reg: errcode.None, Err: err}
		}
		if res == Present {
			return a, nil
		}
	}
	return 0, &errcode.E{C: errcode.AddressNotFound, Op: "resolve", Bus: h.Bus(), Addr: errcode.None, Reg: errcode.None,
		Msg: "no device acknowledged " + string(addrList(nil, candidates))}
}

func addrList(dst []byte, addrs []uint16) []byte {
	dst = append(dst, '[')
	for i, a := range addrs {
		if i > 0 {
			dst = append(dst, ' ')
		}
		dst = conv.Addr(dst, a)
	}
	return append(dst, ']')
}

func badAddr(bus, op string, a uint16) error {
	return &errcode.E{C: errcode.ProtocolViolation, Op: op, Bus: bus, Addr: int(a), Reg: errcode.None, Msg: "address out of range"}
}
