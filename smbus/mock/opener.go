package mock

import (
	"os"
	"sync"

	"robothat-go/smbus"
)

// Opener hands out connections to simulated buses and counts how often each
// bus id was physically opened and closed. Device state lives in one Bus per
// id and survives reconnects, like real hardware.
type Opener struct {
	mu      sync.Mutex
	present []uint16
	buses   map[string]*Bus
	opens   map[string]int
	closes  map[string]int

	// OpenErr, when set, makes every Open fail.
	OpenErr error
}

// NewOpener returns an opener whose buses start with the given devices.
func NewOpener(present ...uint16) *Opener {
	return &Opener{
		present: present,
		buses:   make(map[string]*Bus),
		opens:   make(map[string]int),
		closes:  make(map[string]int),
	}
}

// Open satisfies smbus.Opener.
func (o *Opener) Open(id string) (smbus.Bus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.opens[id]++
	return &conn{Bus: o.busLocked(id), o: o, id: id}, nil
}

// Bus returns the device model behind id, creating it if needed.
func (o *Opener) Bus(id string) *Bus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busLocked(id)
}

func (o *Opener) busLocked(id string) *Bus {
	b := o.buses[id]
	if b == nil {
		b = New(o.present...)
		o.buses[id] = b
	}
	return b
}

// Opens reports how many connections were opened for id.
func (o *Opener) Opens(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[id]
}

// Closes reports how many connections were closed for id.
func (o *Opener) Closes(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes[id]
}

// conn is one physical connection; it refuses I/O once closed.
type conn struct {
	*Bus
	o      *Opener
	id     string
	mu     sync.Mutex
	closed bool
}

func (c *conn) live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return os.ErrClosed
	}
	return nil
}

func (c *conn) WriteQuick(addr uint16) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.Bus.WriteQuick(addr)
}

func (c *conn) ReadByte(addr uint16) (byte, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.Bus.ReadByte(addr)
}

func (c *conn) WriteByte(addr uint16, v byte) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.Bus.WriteByte(addr, v)
}

func (c *conn) ReadByteData(addr uint16, reg byte) (byte, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.Bus.ReadByteData(addr, reg)
}

func (c *conn) WriteByteData(addr uint16, reg, v byte) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.Bus.WriteByteData(addr, reg, v)
}

func (c *conn) ReadWordData(addr uint16, reg byte) (uint16, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.Bus.ReadWordData(addr, reg)
}

func (c *conn) WriteWordData(addr uint16, reg byte, v uint16) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.Bus.WriteWordData(addr, reg, v)
}

func (c *conn) ReadBlockData(addr uint16, reg byte, n int) ([]byte, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return c.Bus.ReadBlockData(addr, reg, n)
}

func (c *conn) WriteBlockData(addr uint16, reg byte, data []byte) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.Bus.WriteBlockData(addr, reg, data)
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return os.ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.o.mu.Lock()
	c.o.closes[c.id]++
	c.o.mu.Unlock()
	return nil
}
