package i2c

import (
	"strings"

	"go.uber.org/zap"

	"robothat-go/errcode"
	"robothat-go/i2c/trace"
	"robothat-go/x/conv"
)

// Scan range: the 7-bit addresses left after the reserved I2C blocks.
const (
	ScanFirst uint16 = 0x03
	ScanLast  uint16 = 0x77
)

// Scan probes every address in ScanFirst..ScanLast once and returns those
// that acknowledge, in ascending order. A fault on one address is skipped;
// lifecycle and other fatal errors abort the scan. Each probe is recorded
// to sinks.
func Scan(h *Handle, mode ProbeMode, sinks ...trace.Sink) ([]uint16, error) {
	return scan(h, mode, trace.Multi(sinks...), zap.NewNop())
}

func scan(h *Handle, mode ProbeMode, sink trace.Sink, log *zap.Logger) ([]uint16, error) {
	var found []uint16
	for a := ScanFirst; a <= ScanLast; a++ {
		res, err := probe(h, a, mode, sink)
		if err != nil {
			if errcode.Fatal(err) {
				return nil, err
			}
			log.Debug("probe fault during scan", zap.String("addr", string(conv.Addr(nil, a))), zap.Error(err))
			continue
		}
		if res == Present {
			found = append(found, a)
		}
	}
	return found, nil
}

// FormatGrid renders addrs as an i2cdetect-style 16-column table. Addresses
// outside the scan range are blank, absent ones are "--".
func FormatGrid(addrs []uint16) string {
	present := make(map[uint16]bool, len(addrs))
	for _, a := range addrs {
		present[a] = true
	}

	var b strings.Builder
	b.WriteString("   ")
	for c := 0; c < 16; c++ {
		b.WriteString("  ")
		b.WriteByte("0123456789ABCDEF"[c])
	}
	b.WriteByte('\n')

	cell := make([]byte, 0, 2)
	for row := uint16(0); row < 0x80; row += 0x10 {
		b.Write(conv.Hex8(cell[:0], byte(row)))
		b.WriteString(": ")
		for c := uint16(0); c < 16; c++ {
			a := row + c
			switch {
			case a < ScanFirst || a > ScanLast:
				b.WriteString("  ")
			case present[a]:
				b.Write(conv.Hex8(cell[:0], byte(a)))
			default:
				b.WriteString("--")
			}
			if c < 15 {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
