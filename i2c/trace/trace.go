// Package trace is the transaction log: an optional side channel that sees
// every bus transfer attempt, successful or not. Sinks observe; they never
// influence retry or framing decisions.
package trace

import (
	"time"
)

// Dir is the direction of a transfer.
type Dir uint8

const (
	Write Dir = iota
	Read
	Probe
)

func (d Dir) String() string {
	switch d {
	case Read:
		return "read"
	case Probe:
		return "probe"
	default:
		return "write"
	}
}

// NoReg marks a transfer without a register phase.
const NoReg = -1

// Record is one transfer attempt. Records are values; Data is owned by the
// record and must not be modified by sinks.
type Record struct {
	Time    time.Time
	Bus     string
	Addr    uint16
	Op      string
	Reg     int // NoReg when absent
	Dir     Dir
	Data    []byte // bytes written, or bytes read on success
	Attempt int    // 1-based; 0 for single-shot probes
	Elapsed time.Duration
	Err     error
}

// New builds a record, copying data.
func New(bus string, addr uint16, op string, reg int, dir Dir, data []byte) Record {
	return Record{
		Time: time.Now(),
		Bus:  bus,
		Addr: addr,
		Op:   op,
		Reg:  reg,
		Dir:  dir,
		Data: append([]byte(nil), data...),
	}
}

// Sink receives records. Implementations must be safe for concurrent use and
// must not block for long; they run on the caller's goroutine.
type Sink interface {
	Record(r Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Record(r Record) { f(r) }

type nop struct{}

func (nop) Record(Record) {}

// Nop discards everything.
var Nop Sink = nop{}

type multi []Sink

func (m multi) Record(r Record) {
	for _, s := range m {
		s.Record(r)
	}
}

// Multi fans a record out to several sinks in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return Nop
	case 1:
		return m[0]
	}
	return m
}
