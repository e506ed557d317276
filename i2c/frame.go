package i2c

import (
	"golang.org/x/exp/constraints"

	"robothat-go/errcode"
	"robothat-go/smbus"
)

// Kind is the primitive a write payload is dispatched to.
type Kind uint8

const (
	KindByte     Kind = iota // single byte, no register
	KindByteData             // byte at register
	KindWordData             // little-endian word at register
	KindBlock                // block at register
)

// Op is the primitive name for the kind.
func (k Kind) Op() string {
	switch k {
	case KindByteData:
		return smbus.OpWriteByteData
	case KindWordData:
		return smbus.OpWriteWordData
	case KindBlock:
		return smbus.OpWriteBlockData
	default:
		return smbus.OpWriteByte
	}
}

// Frame is a write payload mapped onto one primitive call.
type Frame struct {
	Kind  Kind
	Reg   byte
	Byte  byte
	Word  uint16
	Block []byte
}

// FrameWrite applies the length-based dispatch rule downstream drivers rely
// on:
//
//	len 0   -> byte 0x00
//	len 1   -> byte p[0]
//	len 2   -> byte p[1] at register p[0]
//	len 3   -> word p[1] | p[2]<<8 at register p[0]
//	len >=4 -> block p[1:] at register p[0]
func FrameWrite(p []byte) Frame {
	switch len(p) {
	case 0:
		return Frame{Kind: KindByte}
	case 1:
		return Frame{Kind: KindByte, Byte: p[0]}
	case 2:
		return Frame{Kind: KindByteData, Reg: p[0], Byte: p[1]}
	case 3:
		return Frame{Kind: KindWordData, Reg: p[0], Word: uint16(p[1]) | uint16(p[2])<<8}
	}
	return Frame{Kind: KindBlock, Reg: p[0], Block: p[1:]}
}

// reg returns the frame's register, or -1 for register-less frames.
func (f Frame) reg() int {
	if f.Kind == KindByte {
		return -1
	}
	return int(f.Reg)
}

// data is the payload bytes as they go on the wire after the register.
func (f Frame) data() []byte {
	switch f.Kind {
	case KindByte, KindByteData:
		return []byte{f.Byte}
	case KindWordData:
		return []byte{byte(f.Word), byte(f.Word >> 8)}
	}
	return f.Block
}

func (f Frame) send(b smbus.Bus, addr uint16) error {
	switch f.Kind {
	case KindByteData:
		return b.WriteByteData(addr, f.Reg, f.Byte)
	case KindWordData:
		return b.WriteWordData(addr, f.Reg, f.Word)
	case KindBlock:
		return b.WriteBlockData(addr, f.Reg, f.Block)
	}
	return b.WriteByte(addr, f.Byte)
}

// Decompose splits a non-negative integer into bytes, least significant
// first. Zero is [0].
func Decompose[T constraints.Integer](v T) ([]byte, error) {
	if v < 0 {
		return nil, &errcode.E{C: errcode.ProtocolViolation, Op: "decompose", Addr: errcode.None, Reg: errcode.None, Msg: "negative integer payload"}
	}
	if v == 0 {
		return []byte{0}, nil
	}
	var out []byte
	for v > 0 {
		out = append(out, byte(v))
		v >>= 8
	}
	return out, nil
}
