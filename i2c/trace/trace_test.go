package trace

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewCopiesData(t *testing.T) {
	buf := []byte{1, 2}
	r := New("1", 0x14, "write_byte_data", 0x20, Write, buf)
	buf[0] = 9
	if r.Data[0] != 1 {
		t.Fatal("record must own its data")
	}
}

func TestMulti(t *testing.T) {
	if Multi() != Nop || Multi(nil, nil) != Nop {
		t.Fatal("empty Multi should be Nop")
	}
	var a, b int
	sa := SinkFunc(func(Record) { a++ })
	sb := SinkFunc(func(Record) { b++ })
	Multi(sa, nil, sb).Record(Record{})
	if a != 1 || b != 1 {
		t.Fatalf("a=%d b=%d", a, b)
	}
}

func TestDescribe(t *testing.T) {
	r := New("1", 0x40, "write_byte_data", 0x00, Write, []byte{0x10})
	r.Attempt = 2
	got := r.Describe()
	want := "write_byte_data bus 1 addr 0x40 reg 0x00 (MODE1) data [0x10] (sleep) attempt 2"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}

	r = New("1", 0x14, "read_byte", NoReg, Read, nil)
	r.Err = errors.New("remote I/O error")
	if got := r.Describe(); got != "read_byte bus 1 addr 0x14 err: remote I/O error" {
		t.Fatalf("got %q", got)
	}

	if got := New("1", 0x14, "write_i2c_block_data", 0x40, Write, []byte{0, 0x47}).Describe(); !strings.Contains(got, "(PWM timer 0 prescaler)") {
		t.Fatalf("robot HAT register not named: %q", got)
	}
	if got := New("1", 0x15, "write_word_data", 0x17, Write, nil).Describe(); !strings.Contains(got, "(ADC A0)") {
		t.Fatalf("ADC register not named: %q", got)
	}
}

func TestRegisterNameWildcard(t *testing.T) {
	RegisterName(AnyAddr, 0x99, "test register")
	if got := New("1", 0x33, "read_byte_data", 0x99, Read, nil).Describe(); !strings.Contains(got, "(test register)") {
		t.Fatalf("wildcard name not used: %q", got)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := Logger(zap.New(core))

	s.Record(New("1", 0x14, "write_byte", NoReg, Write, []byte{0}))
	fail := New("1", 0x14, "read_byte", NoReg, Read, nil)
	fail.Err = errors.New("timeout")
	s.Record(fail)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Level != zap.DebugLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "timeout" {
		t.Fatalf("fields = %v", entries[1].ContextMap())
	}
	if Logger(nil) != Nop {
		t.Fatal("nil logger should give Nop")
	}
}
