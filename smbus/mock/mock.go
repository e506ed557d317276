// Package mock is a deterministic in-memory SMBus used by tests and by the
// simulation mode of the glue layer.
//
// A Bus models the devices on one physical bus: which addresses acknowledge,
// a register file per address, scripted byte streams, and injected failures.
// Every primitive call is recorded.
package mock

import (
	"os"
	"sync"

	"robothat-go/smbus"
)

// DefaultDevices are the addresses the simulated robot HAT answers on.
var DefaultDevices = []uint16{0x14, 0x36}

// Default responses for registers that were never written.
const (
	DefaultByte = 0x10
	DefaultWord = 0x1234
)

// DefaultBlock is returned for unwritten block reads, cycled as needed.
var DefaultBlock = []byte{12, 154, 3, 4, 5}

// Call is one recorded primitive invocation. Reg is -1 when the primitive has
// no register.
type Call struct {
	Op   string
	Addr uint16
	Reg  int
	Data []byte
}

type failure struct {
	n   int
	err error
}

// Bus implements smbus.Bus in memory.
type Bus struct {
	mu      sync.Mutex
	present map[uint16]bool
	regs    map[uint16]map[byte]byte
	queue   map[uint16][]byte
	fails   map[string]*failure
	calls   []Call
	closed  bool
}

var _ smbus.Bus = (*Bus)(nil)

// New returns a bus on which the given addresses acknowledge.
func New(present ...uint16) *Bus {
	b := &Bus{
		present: make(map[uint16]bool),
		regs:    make(map[uint16]map[byte]byte),
		queue:   make(map[uint16][]byte),
		fails:   make(map[string]*failure),
	}
	for _, a := range present {
		b.present[a] = true
	}
	return b
}

// SetPresent adds or removes a device, e.g. to simulate a disconnect.
func (b *Bus) SetPresent(addr uint16, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.present[addr] = true
	} else {
		delete(b.present, addr)
	}
}

// SetRegister preloads a register value.
func (b *Bus) SetRegister(addr uint16, reg, v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regFile(addr)[reg] = v
}

// Register returns a register value and whether it was ever written.
func (b *Bus) Register(addr uint16, reg byte) (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.regs[addr][reg]
	return v, ok
}

// QueueBytes scripts the values returned by successive ReadByte calls.
func (b *Bus) QueueBytes(addr uint16, vs ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue[addr] = append(b.queue[addr], vs...)
}

// FailNext makes the next n calls of op fail with err. An empty op matches
// every primitive.
func (b *Bus) FailNext(op string, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails[op] = &failure{n: n, err: err}
}

// Calls returns a copy of the call log.
func (b *Bus) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount counts recorded calls of op. An empty op counts everything.
func (b *Bus) CallCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if op == "" || c.Op == op {
			n++
		}
	}
	return n
}

// Mutations counts calls that can change device state. Quick writes carry no
// data and are not counted.
func (b *Bus) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		switch c.Op {
		case smbus.OpWriteByte, smbus.OpWriteByteData, smbus.OpWriteWordData, smbus.OpWriteBlockData:
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (b *Bus) ResetCalls() {
	b.mu.Lock()
	b.calls = nil
	b.mu.Unlock()
}

func (b *Bus) regFile(addr uint16) map[byte]byte {
	m := b.regs[addr]
	if m == nil {
		m = make(map[byte]byte)
		b.regs[addr] = m
	}
	return m
}

// begin records the call and decides its outcome. Callers hold b.mu.
func (b *Bus) begin(op string, addr uint16, reg int, data []byte) error {
	b.calls = append(b.calls, Call{Op: op, Addr: addr, Reg: reg, Data: append([]byte(nil), data...)})
	if b.closed {
		return os.ErrClosed
	}
	for _, key := range []string{op, ""} {
		if f := b.fails[key]; f != nil && f.n > 0 {
			f.n--
			return f.err
		}
	}
	if !b.present[addr] {
		return smbus.ErrNoAck
	}
	return nil
}

func (b *Bus) WriteQuick(addr uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begin(smbus.OpWriteQuick, addr, -1, nil)
}

func (b *Bus) ReadByte(addr uint16) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpReadByte, addr, -1, nil); err != nil {
		return 0, err
	}
	if q := b.queue[addr]; len(q) > 0 {
		b.queue[addr] = q[1:]
		return q[0], nil
	}
	return DefaultByte, nil
}

func (b *Bus) WriteByte(addr uint16, v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begin(smbus.OpWriteByte, addr, -1, []byte{v})
}

func (b *Bus) ReadByteData(addr uint16, reg byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpReadByteData, addr, int(reg), nil); err != nil {
		return 0, err
	}
	if v, ok := b.regs[addr][reg]; ok {
		return v, nil
	}
	return DefaultByte, nil
}

func (b *Bus) WriteByteData(addr uint16, reg, v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpWriteByteData, addr, int(reg), []byte{v}); err != nil {
		return err
	}
	b.regFile(addr)[reg] = v
	return nil
}

func (b *Bus) ReadWordData(addr uint16, reg byte) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpReadWordData, addr, int(reg), nil); err != nil {
		return 0, err
	}
	lo, okLo := b.regs[addr][reg]
	hi, okHi := b.regs[addr][reg+1]
	if !okLo || !okHi {
		return DefaultWord, nil
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (b *Bus) WriteWordData(addr uint16, reg byte, v uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpWriteWordData, addr, int(reg), []byte{byte(v), byte(v >> 8)}); err != nil {
		return err
	}
	m := b.regFile(addr)
	m[reg] = byte(v)
	m[reg+1] = byte(v >> 8)
	return nil
}

func (b *Bus) ReadBlockData(addr uint16, reg byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpReadBlockData, addr, int(reg), nil); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for i := range out {
		if v, ok := b.regs[addr][reg+byte(i)]; ok {
			out[i] = v
		} else {
			out[i] = DefaultBlock[i%len(DefaultBlock)]
		}
	}
	return out, nil
}

func (b *Bus) WriteBlockData(addr uint16, reg byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(smbus.OpWriteBlockData, addr, int(reg), data); err != nil {
		return err
	}
	m := b.regFile(addr)
	for i, v := range data {
		m[reg+byte(i)] = v
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
