package smbus

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"robothat-go/errcode"

	"tinygo.org/x/drivers"
)

func TestIsAbsent(t *testing.T) {
	if !IsAbsent(fmt.Errorf("probe: %w", ErrNoAck)) {
		t.Fatal("wrapped ErrNoAck should be absent")
	}
	if !IsAbsent(syscall.ENXIO) {
		t.Fatal("ENXIO should be absent")
	}
	if IsAbsent(syscall.EIO) || IsAbsent(nil) {
		t.Fatal("EIO and nil are not absence")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"nack", ErrNoAck, true},
		{"eio", syscall.EIO, true},
		{"ebusy", syscall.EBUSY, true},
		{"einval", syscall.EINVAL, false},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"busy code", errcode.Busy, true},
		{"protocol", errcode.ProtocolViolation, false},
		{"lifecycle", &errcode.E{C: errcode.Lifecycle, Addr: errcode.None, Reg: errcode.None}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Fatalf("%s: IsTransient = %v, want %v", c.name, got, c.want)
		}
	}
}

// fakeTx records the last Tx and answers reads from a fixed pattern.
type fakeTx struct {
	addr uint16
	w    []byte
	rn   int
	err  error
}

var _ drivers.I2C = (*fakeTx)(nil)

func (f *fakeTx) Tx(addr uint16, w, r []byte) error {
	f.addr = addr
	f.w = append([]byte(nil), w...)
	f.rn = len(r)
	for i := range r {
		r[i] = byte(0xA0 + i)
	}
	return f.err
}

func TestTxBusFraming(t *testing.T) {
	f := &fakeTx{}
	b := FromTx(f)

	if err := b.WriteWordData(0x40, 0x10, 0xABCD); err != nil {
		t.Fatal(err)
	}
	if f.addr != 0x40 || !bytes.Equal(f.w, []byte{0x10, 0xCD, 0xAB}) {
		t.Fatalf("word write = %#x %v", f.addr, f.w)
	}

	w, err := b.ReadWordData(0x40, 0x02)
	if err != nil || w != 0xA1A0 || f.rn != 2 {
		t.Fatalf("word read = %#x, %v (rn=%d)", w, err, f.rn)
	}

	if err := b.WriteBlockData(0x40, 0x06, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.w, []byte{0x06, 1, 2, 3, 4}) {
		t.Fatalf("block write = %v", f.w)
	}

	if err := b.WriteQuick(0x14); err != nil || len(f.w) != 0 || f.rn != 0 {
		t.Fatalf("quick write should be zero-length: %v %v %d", err, f.w, f.rn)
	}

	if _, err := b.ReadBlockData(0x40, 0, BlockMax+1); !errors.Is(err, errcode.ProtocolViolation) {
		t.Fatalf("oversized block: %v", err)
	}
}

func TestTxBusErrorMapping(t *testing.T) {
	nack := errors.New("i2c: no ack")
	f := &fakeTx{err: nack}
	b := FromTx(f)
	b.Absent = func(err error) bool { return err == nack }

	err := b.WriteQuick(0x14)
	if !IsAbsent(err) || !errors.Is(err, nack) {
		t.Fatalf("nack mapping: %v", err)
	}

	f.err = errors.New("i2c: timeout")
	err = b.WriteByte(0x14, 0)
	if !IsTransient(err) || IsAbsent(err) {
		t.Fatalf("other Tx errors should be transient: %v", err)
	}
}

func TestTxOpener(t *testing.T) {
	open := TxOpener(func(id string) (drivers.I2C, bool) {
		if id == "i2c0" {
			return &fakeTx{}, true
		}
		return nil, false
	})
	if _, err := open("i2c0"); err != nil {
		t.Fatal(err)
	}
	if _, err := open("i2c9"); !errors.Is(err, errcode.UnknownBus) {
		t.Fatalf("unknown id: %v", err)
	}
}
