// Command i2cscan probes every address on a bus and prints an
// i2cdetect-style table.
//
// With -addr it then opens that device through the retrying transport and
// reads one byte, or one register with -reg.
//
//	i2cscan -bus 1
//	ROBOT_HAT_MOCK_SMBUS=1 i2cscan -v
//	i2cscan -addr 0x40 -reg 0xfe
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"robothat-go/config"
	"robothat-go/i2c"
	"robothat-go/i2c/trace"
	"robothat-go/observability"
)

// Options holds CLI options.
type Options struct {
	ConfigPath string
	Bus        string
	Mock       bool
	Verbose    bool
	Addr       string
	Reg        string
}

// ParseFlags parses CLI flags from args.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("i2cscan", flag.ExitOnError)
	var o Options
	fs.StringVar(&o.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&o.Bus, "bus", "", "Bus id, overrides config")
	fs.BoolVar(&o.Mock, "mock", false, "Use the simulated bus")
	fs.BoolVar(&o.Verbose, "v", false, "Print the last probe of every device found")
	fs.StringVar(&o.Addr, "addr", "", "Device address to read after the scan")
	fs.StringVar(&o.Reg, "reg", "", "Register to read at -addr")
	_ = fs.Parse(args)
	return o
}

func main() {
	if err := run(ParseFlags(os.Args[1:])); err != nil {
		fmt.Fprintln(os.Stderr, "i2cscan:", err)
		os.Exit(1)
	}
}

func run(o Options) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Bus != "" {
		cfg.Bus = o.Bus
	}
	if o.Mock {
		cfg.MockSMBus = true
	}

	log, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	fan := trace.NewFanout(1)
	sinks := []trace.Sink{fan}
	if cfg.Trace {
		sinks = append(sinks, trace.Logger(log))
	}

	reg := i2c.NewRegistry(cfg.Opener(), i2c.WithRegistryLogger(log))
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("registry close", zap.Error(err))
		}
	}()

	h, err := reg.Acquire(cfg.Bus)
	if err != nil {
		return err
	}
	addrs, err := i2c.Scan(h, cfg.ProbeMode(), sinks...)
	if rerr := h.Release(); rerr != nil {
		log.Warn("release", zap.Error(rerr))
	}
	if err != nil {
		return err
	}

	fmt.Print(i2c.FormatGrid(addrs))
	log.Info("scan complete", zap.String("bus", cfg.Bus), zap.Int("devices", len(addrs)), zap.Bool("mock", cfg.MockSMBus))
	if o.Verbose {
		for _, a := range addrs {
			if r, ok := fan.Retained(cfg.Bus, a); ok {
				fmt.Printf("%s (%s)\n", r.Describe(), r.Elapsed)
			}
		}
	}
	if o.Addr == "" {
		return nil
	}
	return readDevice(reg, cfg, o, trace.Multi(sinks...), log)
}

// readDevice opens the -addr device with the configured retry policy and
// prints one byte.
func readDevice(reg *i2c.Registry, cfg *config.Config, o Options, sink trace.Sink, log *zap.Logger) error {
	addr, err := strconv.ParseUint(o.Addr, 0, 16)
	if err != nil {
		return fmt.Errorf("invalid -addr %q: %w", o.Addr, err)
	}
	t, err := i2c.Open(reg, cfg.Bus, []uint16{uint16(addr)},
		i2c.WithRetry(cfg.RetryPolicy()),
		i2c.WithProbe(cfg.ProbeMode()),
		i2c.WithSink(sink),
		i2c.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	var v byte
	if o.Reg == "" {
		b, err := t.Read(1)
		if err != nil {
			return err
		}
		v = b[0]
	} else {
		r, err := strconv.ParseUint(o.Reg, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid -reg %q: %w", o.Reg, err)
		}
		if v, err = t.ReadByteData(byte(r)); err != nil {
			return err
		}
	}
	fmt.Printf("0x%02x\n", v)
	return nil
}
