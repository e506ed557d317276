package i2c

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"robothat-go/errcode"
	"robothat-go/i2c/retry"
	"robothat-go/i2c/trace"
	"robothat-go/smbus"
	"robothat-go/smbus/mock"
)

func fastRetry() retry.Policy {
	p := retry.Default()
	p.Sleep = func(time.Duration) {}
	return p
}

func openTransport(t *testing.T, present []uint16, candidates []uint16, opts ...Option) (*Transport, *mock.Opener, *Registry) {
	t.Helper()
	r, o := newRegistry(present...)
	tr, err := Open(r, "1", candidates, append([]Option{WithRetry(fastRetry())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	o.Bus("1").ResetCalls()
	return tr, o, r
}

func TestWriteDispatch(t *testing.T) {
	cases := []struct {
		in   []byte
		op   string
		reg  int
		data []byte
	}{
		{nil, smbus.OpWriteByte, -1, []byte{0}},
		{[]byte{}, smbus.OpWriteByte, -1, []byte{0}},
		{[]byte{0x55}, smbus.OpWriteByte, -1, []byte{0x55}},
		{[]byte{0x20, 0x01}, smbus.OpWriteByteData, 0x20, []byte{0x01}},
		{[]byte{0x10, 0xCD, 0xAB}, smbus.OpWriteWordData, 0x10, []byte{0xCD, 0xAB}},
		{[]byte{0x06, 1, 2, 3}, smbus.OpWriteBlockData, 0x06, []byte{1, 2, 3}},
		{[]byte{0x06, 1, 2, 3, 4, 5}, smbus.OpWriteBlockData, 0x06, []byte{1, 2, 3, 4, 5}},
	}
	for _, c := range cases {
		tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
		if err := tr.Write(c.in); err != nil {
			t.Fatalf("Write(%v): %v", c.in, err)
		}
		calls := o.Bus("1").Calls()
		if len(calls) != 1 {
			t.Fatalf("Write(%v): %d calls", c.in, len(calls))
		}
		got := calls[0]
		if got.Op != c.op || got.Addr != 0x14 || got.Reg != c.reg || !bytes.Equal(got.Data, c.data) {
			t.Fatalf("Write(%v) = %+v, want %s reg %d data %v", c.in, got, c.op, c.reg, c.data)
		}
	}
}

func TestWordWriteByteOrder(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	if err := tr.Write([]byte{0x10, 0xCD, 0xAB}); err != nil {
		t.Fatal(err)
	}
	if w, _ := o.Bus("1").ReadWordData(0x14, 0x10); w != 0xABCD {
		t.Fatalf("word = %#x, want 0xABCD", w)
	}
}

func TestWriteIntMatchesByteForm(t *testing.T) {
	for _, v := range []uint32{0, 0x7F, 0x2001, 0xABCD10, 0x04030206} {
		a, oa, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
		b, ob, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})

		if err := WriteInt(a, v); err != nil {
			t.Fatal(err)
		}
		p, _ := Decompose(v)
		if err := b.Write(p); err != nil {
			t.Fatal(err)
		}
		ca, cb := oa.Bus("1").Calls(), ob.Bus("1").Calls()
		if len(ca) != 1 || len(cb) != 1 || ca[0].Op != cb[0].Op || ca[0].Reg != cb[0].Reg || !bytes.Equal(ca[0].Data, cb[0].Data) {
			t.Fatalf("%#x: int form %+v, byte form %+v", v, ca, cb)
		}
	}

	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	if err := WriteInt(tr, -5); !errors.Is(err, errcode.ProtocolViolation) {
		t.Fatalf("negative: %v", err)
	}
	if o.Bus("1").CallCount("") != 0 {
		t.Fatal("negative payload must not reach the bus")
	}
}

func TestReadLengths(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5} {
		tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
		o.Bus("1").QueueBytes(0x14, 1, 2, 3, 4, 5)
		got, err := tr.Read(n)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}[:n]) {
			t.Fatalf("Read(%d) = %v", n, got)
		}
		if c := o.Bus("1").CallCount(smbus.OpReadByte); c != n {
			t.Fatalf("Read(%d) issued %d reads", n, c)
		}
	}

	tr, _, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	if _, err := tr.Read(-1); !errors.Is(err, errcode.ProtocolViolation) {
		t.Fatalf("negative length: %v", err)
	}
}

func TestReadRetriesEachByte(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	b := o.Bus("1")
	b.QueueBytes(0x14, 0xAA, 0xBB)
	b.FailNext(smbus.OpReadByte, 2, syscall.EIO)

	got, err := tr.Read(2)
	if err != nil || !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Fatalf("Read = %v, %v", got, err)
	}
	if c := b.CallCount(smbus.OpReadByte); c != 4 {
		t.Fatalf("calls = %d, want 2 failures + 2 reads", c)
	}
}

func TestReadFailsWholeCall(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	b := o.Bus("1")
	b.QueueBytes(0x14, 0xAA)
	got, err := tr.Read(1)
	if err != nil || got[0] != 0xAA {
		t.Fatal("setup read failed")
	}

	b.FailNext(smbus.OpReadByte, 100, syscall.EIO)
	got, err = tr.Read(3)
	if got != nil {
		t.Fatalf("partial data returned: %v", got)
	}
	if !errors.Is(err, errcode.PersistentIO) || !errors.Is(err, syscall.EIO) {
		t.Fatalf("got %v", err)
	}
	if c := b.CallCount(smbus.OpReadByte); c != 1+retry.DefaultAttempts {
		t.Fatalf("calls = %d", c)
	}
}

func TestPersistentFailureKeepsCauseAndContext(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	cause := &os.SyscallError{Syscall: "ioctl", Err: syscall.EBUSY}
	o.Bus("1").FailNext(smbus.OpWriteByteData, 100, cause)

	err := tr.Write([]byte{0x44, 0x10})
	var se *os.SyscallError
	if !errors.As(err, &se) || se != cause {
		t.Fatalf("last error not reachable: %v", err)
	}
	if errcode.Of(err) != errcode.PersistentIO {
		t.Fatalf("code = %v", errcode.Of(err))
	}
	msg := err.Error()
	for _, want := range []string{"bus 1", "addr 0x14", "reg 0x44", smbus.OpWriteByteData} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q lacks %q", msg, want)
		}
	}
	if c := o.Bus("1").CallCount(smbus.OpWriteByteData); c != retry.DefaultAttempts {
		t.Fatalf("attempts = %d", c)
	}
}

func TestUnclassifiedFailureNotRetried(t *testing.T) {
	for _, cause := range []error{os.ErrClosed, errors.New("adapter gone")} {
		tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
		o.Bus("1").FailNext(smbus.OpWriteByteData, 100, cause)

		err := tr.Write([]byte{0x44, 0x10})
		if !errors.Is(err, cause) {
			t.Fatalf("%v: cause not reachable: %v", cause, err)
		}
		if c := errcode.Of(err); c != errcode.Error {
			t.Fatalf("%v: code = %v, want %v", cause, c, errcode.Error)
		}
		if c := o.Bus("1").CallCount(smbus.OpWriteByteData); c != 1 {
			t.Fatalf("%v: attempts = %d", cause, c)
		}
		if !strings.Contains(err.Error(), "reg 0x44") {
			t.Fatalf("%v: message lacks context: %q", cause, err)
		}
	}
}

func TestProtocolViolationNotRetried(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	payload := make([]byte, smbus.BlockMax+2)
	o.Bus("1").FailNext(smbus.OpWriteBlockData, 100, errcode.ProtocolViolation)

	err := tr.Write(payload)
	if !errors.Is(err, errcode.ProtocolViolation) {
		t.Fatalf("got %v", err)
	}
	if c := o.Bus("1").CallCount(smbus.OpWriteBlockData); c != 1 {
		t.Fatalf("attempts = %d, want 1", c)
	}
}

func TestMemWriteAndRead(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x40}, []uint16{0x40})
	if err := tr.MemWrite([]byte{9, 8, 7}, 0x06); err != nil {
		t.Fatal(err)
	}
	calls := o.Bus("1").Calls()
	if len(calls) != 1 || calls[0].Op != smbus.OpWriteBlockData || calls[0].Reg != 0x06 {
		t.Fatalf("calls = %+v", calls)
	}
	got, err := tr.MemRead(3, 0x06)
	if err != nil || !bytes.Equal(got, []byte{9, 8, 7}) {
		t.Fatalf("MemRead = %v, %v", got, err)
	}
	if got, _ := tr.MemRead(0, 0x06); len(got) != 0 {
		t.Fatal("zero-length read")
	}
	if _, err := tr.MemRead(-1, 0); !errors.Is(err, errcode.ProtocolViolation) {
		t.Fatalf("negative: %v", err)
	}

	if err := MemWriteInt(tr, 0x0201, 0x10); err != nil {
		t.Fatal(err)
	}
	if v, _ := tr.ReadWordData(0x10); v != 0x0201 {
		t.Fatalf("word = %#x", v)
	}
	if v, _ := tr.ReadByteData(0x11); v != 0x02 {
		t.Fatalf("byte = %#x", v)
	}
}

func TestOpenReleasesOnFailure(t *testing.T) {
	r, o := newRegistry(0x14)
	keep, err := Open(r, "1", []uint16{0x14})
	if err != nil {
		t.Fatal(err)
	}

	_, err = Open(r, "1", []uint16{0x50, 0x51})
	if !errors.Is(err, errcode.AddressNotFound) {
		t.Fatalf("got %v", err)
	}
	if r.Refs("1") != 1 {
		t.Fatalf("refs = %d after failed open", r.Refs("1"))
	}
	if err := keep.Close(); err != nil {
		t.Fatal(err)
	}
	if r.Refs("1") != 0 || o.Closes("1") != 1 {
		t.Fatal("bus should close with its last transport")
	}
	if err := keep.Close(); !errors.Is(err, errcode.Lifecycle) {
		t.Fatalf("double close: %v", err)
	}
	if err := keep.Write([]byte{1}); !errors.Is(err, errcode.Lifecycle) {
		t.Fatalf("write after close: %v", err)
	}
}

func TestScanAndReadiness(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x15, 0x17}, []uint16{0x15})

	addrs, err := tr.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0] != 0x15 || addrs[1] != 0x17 {
		t.Fatalf("Scan = %#x", addrs)
	}
	if n := o.Bus("1").CallCount(""); n != int(ScanLast-ScanFirst+1) {
		t.Fatalf("scan probes = %d", n)
	}

	if ok, err := tr.IsReady(); !ok || err != nil {
		t.Fatalf("IsReady = %v, %v", ok, err)
	}
	o.Bus("1").SetPresent(0x15, false)
	if ok, _ := tr.IsReady(); ok {
		t.Fatal("disconnected device reported ready")
	}
	o.Bus("1").ResetCalls()
	if ok, err := tr.IsAvailable(); ok || err != nil {
		t.Fatalf("IsAvailable = %v, %v", ok, err)
	}
	if n := o.Bus("1").CallCount(""); n != 1 {
		t.Fatalf("IsAvailable should be one probe, got %d", n)
	}
}

func TestProbeFaultsAreNotRetried(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14})
	o.Bus("1").FailNext(smbus.OpWriteQuick, 1, syscall.EIO)
	_, err := tr.IsAvailable()
	if !errors.Is(err, errcode.ProbeFailed) || !errors.Is(err, syscall.EIO) {
		t.Fatalf("got %v", err)
	}
	if n := o.Bus("1").CallCount(smbus.OpWriteQuick); n != 1 {
		t.Fatalf("probe attempts = %d", n)
	}
}

func TestReresolve(t *testing.T) {
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14, 0x15})
	if tr.Address() != 0x14 {
		t.Fatal("initial address")
	}
	b := o.Bus("1")
	b.SetPresent(0x14, false)
	b.SetPresent(0x15, true)

	if err := tr.Write([]byte{1}); err == nil {
		t.Fatal("resolution must not happen implicitly")
	}
	if tr.Address() != 0x14 {
		t.Fatal("address changed without Reresolve")
	}
	addr, err := tr.Reresolve()
	if err != nil || addr != 0x15 || tr.Address() != 0x15 {
		t.Fatalf("Reresolve = %#x, %v", addr, err)
	}

	b.SetPresent(0x15, false)
	if _, err := tr.Reresolve(); !errors.Is(err, errcode.AddressNotFound) || tr.Address() != 0x15 {
		t.Fatalf("failed reresolve: %v addr=%#x", err, tr.Address())
	}
}

func TestTraceSeesEveryAttempt(t *testing.T) {
	var recs []trace.Record
	sink := trace.SinkFunc(func(r trace.Record) { recs = append(recs, r) })
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14}, WithSink(sink))
	if len(recs) != 1 || recs[0].Dir != trace.Probe {
		t.Fatalf("resolution probe not traced: %+v", recs)
	}
	recs = nil

	o.Bus("1").FailNext(smbus.OpReadByteData, 1, syscall.EIO)
	if _, err := tr.ReadByteData(0x20); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs[0].Attempt != 1 || recs[0].Err == nil || recs[1].Attempt != 2 || recs[1].Err != nil {
		t.Fatalf("attempts = %+v", recs)
	}
	if recs[1].Reg != 0x20 || !bytes.Equal(recs[1].Data, []byte{mock.DefaultByte}) {
		t.Fatalf("read record = %+v", recs[1])
	}
}

func TestRetryIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tr, o, _ := openTransport(t, []uint16{0x14}, []uint16{0x14}, WithLogger(zap.New(core)))
	o.Bus("1").FailNext(smbus.OpWriteByte, 2, syscall.EAGAIN)
	if err := tr.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if n := logs.FilterMessage("retrying transfer").Len(); n != 2 {
		t.Fatalf("retry log lines = %d", n)
	}
}
