// Package i2c is the bus transaction layer shared by every peripheral driver
// on the board: reference-counted bus handles, address resolution, retried
// and framed transfers, and bus scans.
package i2c

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"robothat-go/errcode"
	"robothat-go/smbus"
)

// Registry owns the live connection for each bus id. Acquire and Release
// are safe for concurrent use.
type Registry struct {
	open smbus.Opener
	log  *zap.Logger

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

// conn is one physical connection shared by every handle on a bus id.
type conn struct {
	id   string
	refs int // guarded by Registry.mu

	mu     sync.Mutex // serialises transfers
	bus    smbus.Bus
	closed bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for open and close events.
func WithRegistryLogger(z *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if z != nil {
			r.log = z
		}
	}
}

// NewRegistry returns a registry that creates connections with open.
func NewRegistry(open smbus.Opener, opts ...RegistryOption) *Registry {
	r := &Registry{
		open:  open,
		log:   zap.NewNop(),
		conns: make(map[string]*conn),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.Named("i2c.registry")
	return r
}

// Handle is one holder's share of a bus connection.
type Handle struct {
	r        *Registry
	c        *conn
	released atomic.Bool
}

// Acquire returns a handle on bus id, opening the connection if none is live.
func (r *Registry) Acquire(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, lifecycle("acquire", id, "registry closed")
	}

	c := r.conns[id]
	if c == nil {
		b, err := r.open(id)
		if err != nil {
			r.log.Warn("bus open failed", zap.String("bus", id), zap.Error(err))
			return nil, &errcode.E{C: errcode.UnknownBus, Op: "open", Bus: id, Addr: errcode.None, Reg: errcode.None, Err: err}
		}
		c = &conn{id: id, bus: b}
		r.conns[id] = c
		r.log.Debug("bus opened", zap.String("bus", id))
	}
	c.refs++
	return &Handle{r: r, c: c}, nil
}

// Refs reports the number of live handles on id.
func (r *Registry) Refs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.conns[id]; c != nil {
		return c.refs
	}
	return 0
}

// Close shuts every live connection. Outstanding handles are treated as
// released; their transfers fail with a lifecycle error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var first error
	for id, c := range r.conns {
		if err := c.shut(); err != nil {
			r.log.Warn("bus close failed", zap.String("bus", id), zap.Error(err))
			if first == nil {
				first = err
			}
		}
		delete(r.conns, id)
	}
	return first
}

func (c *conn) shut() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.bus.Close()
}

// Bus is the id this handle was acquired for.
func (h *Handle) Bus() string { return h.c.id }

// Release gives up this holder's share. The last release closes the
// connection. Releasing twice is a lifecycle error.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return lifecycle("release", h.c.id, "handle already released")
	}

	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[h.c.id] != h.c {
		// Registry shut down underneath us.
		return nil
	}
	h.c.refs--
	if h.c.refs > 0 {
		return nil
	}
	delete(r.conns, h.c.id)
	if err := h.c.shut(); err != nil {
		r.log.Warn("bus close failed", zap.String("bus", h.c.id), zap.Error(err))
		return &errcode.E{C: errcode.Error, Op: "close", Bus: h.c.id, Addr: errcode.None, Reg: errcode.None, Err: err}
	}
	r.log.Debug("bus closed", zap.String("bus", h.c.id))
	return nil
}

// Transfer runs exactly one raw primitive call with exclusive use of the
// bus. The primitive's error is returned unchanged.
func (h *Handle) Transfer(op string, fn func(smbus.Bus) error) error {
	if h.released.Load() {
		return lifecycle(op, h.c.id, "handle released")
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.closed {
		return lifecycle(op, h.c.id, "bus closed")
	}
	return fn(h.c.bus)
}

func lifecycle(op, bus, msg string) error {
	return &errcode.E{C: errcode.Lifecycle, Op: op, Bus: bus, Addr: errcode.None, Reg: errcode.None, Msg: msg}
}
