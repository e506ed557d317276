package i2c

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/constraints"

	"robothat-go/errcode"
	"robothat-go/i2c/retry"
	"robothat-go/i2c/trace"
	"robothat-go/smbus"
	"robothat-go/x/conv"
)

// Transport talks to one device at a resolved address. Every transfer goes
// through the retry policy; probes and scans do not.
type Transport struct {
	h          *Handle
	candidates []uint16

	policy retry.Policy
	sink   trace.Sink
	log    *zap.Logger
	probe  ProbeMode

	mu     sync.RWMutex
	addr   uint16
	closed atomic.Bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithRetry replaces the default retry policy. A nil Retryable is filled
// with smbus.IsTransient.
func WithRetry(p retry.Policy) Option { return func(t *Transport) { t.policy = p } }

// WithSink attaches a transaction log.
func WithSink(s trace.Sink) Option {
	return func(t *Transport) {
		if s != nil {
			t.sink = s
		}
	}
}

// WithLogger sets the logger for resolution and retry events.
func WithLogger(z *zap.Logger) Option {
	return func(t *Transport) {
		if z != nil {
			t.log = z
		}
	}
}

// WithProbe selects the probe write used for resolution and availability.
func WithProbe(m ProbeMode) Option { return func(t *Transport) { t.probe = m } }

// Open acquires bus id from reg and resolves the first acknowledging
// candidate. On any failure the bus handle is released again.
func Open(reg *Registry, id string, candidates []uint16, opts ...Option) (*Transport, error) {
	t := &Transport{
		candidates: append([]uint16(nil), candidates...),
		policy:     retry.Default(),
		sink:       trace.Nop,
		log:        zap.NewNop(),
		probe:      ProbeQuick,
	}
	for _, o := range opts {
		o(t)
	}
	if t.policy.Retryable == nil {
		t.policy.Retryable = smbus.IsTransient
	}
	t.log = t.log.Named("i2c").With(zap.String("bus", id))

	h, err := reg.Acquire(id)
	if err != nil {
		return nil, err
	}
	addr, err := resolve(h, t.candidates, t.probe, t.sink)
	if err != nil {
		t.log.Warn("device not resolved", zap.String("candidates", string(addrList(nil, t.candidates))), zap.Error(err))
		if rerr := h.Release(); rerr != nil {
			t.log.Warn("release after failed open", zap.Error(rerr))
		}
		return nil, err
	}
	t.h = h
	t.addr = addr
	t.log.Debug("device resolved", zap.String("addr", string(conv.Addr(nil, addr))))
	return t, nil
}

// Bus is the bus id.
func (t *Transport) Bus() string { return t.h.Bus() }

// Address is the resolved slave address.
func (t *Transport) Address() uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

// Close releases the bus handle. Closing twice is a lifecycle error.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return lifecycle("close", t.Bus(), "transport already closed")
	}
	return t.h.Release()
}

// Write sends p using the length-based dispatch of FrameWrite.
func (t *Transport) Write(p []byte) error {
	f := FrameWrite(p)
	return t.do(f.Kind.Op(), f.reg(), trace.Write, f.data(), func(b smbus.Bus, addr uint16) ([]byte, error) {
		return nil, f.send(b, addr)
	})
}

// WriteInt decomposes v least significant byte first and writes the bytes.
func WriteInt[T constraints.Integer](t *Transport, v T) error {
	p, err := Decompose(v)
	if err != nil {
		return t.annotate("write", errcode.None, err)
	}
	return t.Write(p)
}

// Read performs n single-byte reads. Each byte is retried on its own; if any
// byte still fails the whole read fails and no partial data is returned.
func (t *Transport) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, t.violation(smbus.OpReadByte, errcode.None, "negative read length")
	}
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		var v byte
		err := t.do(smbus.OpReadByte, trace.NoReg, trace.Read, nil, func(b smbus.Bus, addr uint16) ([]byte, error) {
			var err error
			v, err = b.ReadByte(addr)
			return []byte{v}, err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// MemWrite writes p as a block at register memaddr.
func (t *Transport) MemWrite(p []byte, memaddr byte) error {
	data := append([]byte(nil), p...)
	return t.do(smbus.OpWriteBlockData, int(memaddr), trace.Write, data, func(b smbus.Bus, addr uint16) ([]byte, error) {
		return nil, b.WriteBlockData(addr, memaddr, data)
	})
}

// MemWriteInt decomposes v and block-writes the bytes at memaddr.
func MemWriteInt[T constraints.Integer](t *Transport, v T, memaddr byte) error {
	p, err := Decompose(v)
	if err != nil {
		return t.annotate(smbus.OpWriteBlockData, int(memaddr), err)
	}
	return t.MemWrite(p, memaddr)
}

// MemRead block-reads n bytes starting at register memaddr.
func (t *Transport) MemRead(n int, memaddr byte) ([]byte, error) {
	if n < 0 || n > smbus.BlockMax {
		return nil, t.violation(smbus.OpReadBlockData, int(memaddr), "block length out of range")
	}
	if n == 0 {
		return []byte{}, nil
	}
	var out []byte
	err := t.do(smbus.OpReadBlockData, int(memaddr), trace.Read, nil, func(b smbus.Bus, addr uint16) ([]byte, error) {
		var err error
		out, err = b.ReadBlockData(addr, memaddr, n)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, t.violation(smbus.OpReadBlockData, int(memaddr), "short block read")
	}
	return out, nil
}

// ReadByteData reads one byte from register reg.
func (t *Transport) ReadByteData(reg byte) (byte, error) {
	var v byte
	err := t.do(smbus.OpReadByteData, int(reg), trace.Read, nil, func(b smbus.Bus, addr uint16) ([]byte, error) {
		var err error
		v, err = b.ReadByteData(addr, reg)
		return []byte{v}, err
	})
	return v, err
}

// ReadWordData reads a little-endian word from register reg.
func (t *Transport) ReadWordData(reg byte) (uint16, error) {
	var v uint16
	err := t.do(smbus.OpReadWordData, int(reg), trace.Read, nil, func(b smbus.Bus, addr uint16) ([]byte, error) {
		var err error
		v, err = b.ReadWordData(addr, reg)
		return []byte{byte(v), byte(v >> 8)}, err
	})
	return v, err
}

// Scan probes the whole bus once per address.
func (t *Transport) Scan() ([]uint16, error) {
	return scan(t.h, t.probe, t.sink, t.log)
}

// IsReady reports whether the resolved address shows up in a full bus scan.
func (t *Transport) IsReady() (bool, error) {
	addrs, err := t.Scan()
	if err != nil {
		return false, err
	}
	a := t.Address()
	for _, x := range addrs {
		if x == a {
			return true, nil
		}
	}
	return false, nil
}

// IsAvailable probes the resolved address once.
func (t *Transport) IsAvailable() (bool, error) {
	res, err := probe(t.h, t.Address(), t.probe, t.sink)
	if err != nil {
		if errcode.Fatal(err) {
			return false, err
		}
		return false, &errcode.E{C: errcode.ProbeFailed, Op: t.probe.op(), Bus: t.h.Bus(), Addr: int(t.Address()), Reg: errcode.None, Err: err}
	}
	return res == Present, nil
}

// Reresolve runs address resolution again over the original candidates. The
// current address is kept if resolution fails.
func (t *Transport) Reresolve() (uint16, error) {
	addr, err := resolve(t.h, t.candidates, t.probe, t.sink)
	if err != nil {
		return t.Address(), err
	}
	t.mu.Lock()
	old := t.addr
	t.addr = addr
	t.mu.Unlock()
	if old != addr {
		t.log.Info("device moved", zap.String("from", string(conv.Addr(nil, old))), zap.String("to", string(conv.Addr(nil, addr))))
	}
	return addr, nil
}

// do runs one primitive under the retry policy, tracing every attempt. fn
// returns the bytes read, if any, for the trace.
func (t *Transport) do(op string, reg int, dir trace.Dir, data []byte, fn func(b smbus.Bus, addr uint16) ([]byte, error)) error {
	addr := t.Address()
	p := t.policy
	user := p.OnRetry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		t.log.Debug("retrying transfer",
			zap.String("op", op),
			zap.Int("reg", reg),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if user != nil {
			user(attempt, err, wait)
		}
	}

	attempt := 0
	err := p.Do(func() error {
		attempt++
		rec := trace.New(t.h.Bus(), addr, op, reg, dir, data)
		rec.Attempt = attempt
		var got []byte
		err := t.h.Transfer(op, func(b smbus.Bus) error {
			var err error
			got, err = fn(b, addr)
			return err
		})
		rec.Elapsed = time.Since(rec.Time)
		rec.Err = err
		if dir == trace.Read && err == nil {
			rec.Data = append([]byte(nil), got...)
		}
		t.sink.Record(rec)
		return err
	})
	if err != nil {
		return t.annotate(op, reg, err)
	}
	return nil
}

// annotate attaches bus, address and register context. Errors that already
// carry context pass through. A retryable error that survived the policy is
// PersistentIO; one the classifier rejected was never retried and gets the
// generic Error code. Both unwrap to the last attempt's error.
func (t *Transport) annotate(op string, reg int, err error) error {
	if e, ok := err.(*errcode.E); ok && errcode.Fatal(err) {
		if e.Bus != "" {
			return err
		}
		cp := *e
		cp.Bus, cp.Addr = t.h.Bus(), int(t.Address())
		if cp.Reg == errcode.None {
			cp.Reg = reg
		}
		return &cp
	}
	c := errcode.PersistentIO
	switch {
	case errcode.Fatal(err):
		c = errcode.Of(err)
	case !t.policy.Retryable(err):
		c = errcode.Error
	}
	return &errcode.E{C: c, Op: op, Bus: t.h.Bus(), Addr: int(t.Address()), Reg: reg, Err: err}
}

func (t *Transport) violation(op string, reg int, msg string) error {
	return &errcode.E{C: errcode.ProtocolViolation, Op: op, Bus: t.h.Bus(), Addr: int(t.Address()), Reg: reg, Msg: msg}
}
