package trace

import (
	"go.uber.org/zap"
)

type zapSink struct{ z *zap.Logger }

// Logger returns a sink writing each record to z: debug for successes, warn
// for failures.
func Logger(z *zap.Logger) Sink {
	if z == nil {
		return Nop
	}
	return zapSink{z: z.Named("i2c.trace")}
}

func (s zapSink) Record(r Record) {
	lvl := zap.DebugLevel
	if r.Err != nil {
		lvl = zap.WarnLevel
	}
	ce := s.z.Check(lvl, "i2c transfer")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("bus", r.Bus),
		zap.Uint16("addr", r.Addr),
		zap.String("op", r.Op),
		zap.Stringer("dir", r.Dir),
		zap.Binary("data", r.Data),
		zap.Int("attempt", r.Attempt),
		zap.Duration("elapsed", r.Elapsed),
		zap.String("desc", r.Describe()),
	}
	if r.Reg != NoReg {
		fields = append(fields, zap.Int("reg", r.Reg))
	}
	if r.Err != nil {
		fields = append(fields, zap.Error(r.Err))
	}
	ce.Write(fields...)
}
