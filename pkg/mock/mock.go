package mock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/fako1024/kegscale/pkg/loadcell"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	defaultBusName = "I2C1"
	defaultAddress = 0x48
)

// ErrBusClosed denotes a transaction on a closed mock bus
var ErrBusClosed = errors.New("mock bus closed")

// Bus denotes a mock I2C bus with a simulated load sensor ADC attached
type Bus struct {
	mu sync.Mutex

	name      string
	address   uint16
	speed     physic.Frequency
	registers map[byte][]byte
	readings  func() int16
	closed    bool
	failErr   error

	transactions int
	samples      int
	inFlight     int
	maxInFlight  int

	beforeRead func()
}

// New instantiates a new mock bus, executing functional options, if any. Without
// options, every sample returns the zero load baseline.
func New(options ...func(*Bus)) *Bus {
	b := &Bus{
		name:      defaultBusName,
		address:   defaultAddress,
		registers: make(map[byte][]byte),
		readings:  func() int16 { return loadcell.Baseline },
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(b)
	}

	return b
}

// WithName sets the name of the bus
func WithName(name string) func(*Bus) {
	return func(b *Bus) {
		b.name = name
	}
}

// WithReadings sets the generator of raw readings
func WithReadings(fn func() int16) func(*Bus) {
	return func(b *Bus) {
		b.readings = fn
	}
}

// WithSequence returns the given raw readings in order, repeating the last one
func WithSequence(values ...int16) func(*Bus) {
	var (
		mu  sync.Mutex
		idx int
	)
	return WithReadings(func() int16 {
		mu.Lock()
		defer mu.Unlock()

		if len(values) == 0 {
			return loadcell.Baseline
		}
		v := values[idx]
		if idx < len(values)-1 {
			idx++
		}
		return v
	})
}

// WithBeforeRead sets a hook that is called during each sampling transaction,
// after the command byte was written and before the result is read (i.e. while
// the transaction is in flight)
func WithBeforeRead(fn func()) func(*Bus) {
	return func(b *Bus) {
		b.beforeRead = fn
	}
}

// String fulfils the Stringer interface
func (b *Bus) String() string {
	return b.name
}

// SetSpeed sets the bus speed
func (b *Bus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.speed = f
	return nil
}

// Speed returns the current bus speed
func (b *Bus) Speed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.speed
}

// Fail makes all subsequent transactions fail with err (nil restores normal operation)
func (b *Bus) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failErr = err
}

// Tx performs a transaction: register writes (no read) or a conversion read
// (single zero command byte followed by a 2 byte read)
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	if err := b.check(addr); err != nil {
		b.mu.Unlock()
		return err
	}
	b.transactions++

	// Register write
	if len(r) == 0 {
		defer b.mu.Unlock()
		if len(w) != 3 {
			return fmt.Errorf("invalid register write of %d bytes", len(w))
		}
		b.registers[w[0]] = append([]byte(nil), w[1:]...)
		return nil
	}

	if len(w) != 1 || w[0] != 0x00 || len(r) != loadcell.SampleSize {
		b.mu.Unlock()
		return fmt.Errorf("invalid conversion read (w: %x, r: %d bytes)", w, len(r))
	}
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	hook := b.beforeRead
	b.mu.Unlock()

	if hook != nil {
		hook()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight--

	// The bus may have been closed or broken while the transaction was in flight
	if err := b.check(addr); err != nil {
		return err
	}

	binary.BigEndian.PutUint16(r, uint16(b.readings()))
	b.samples++

	return nil
}

// Close closes the bus. Calling it on a closed bus is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

// IsClosed returns if the bus has been closed
func (b *Bus) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

// Register returns the last payload written to a register
func (b *Bus) Register(reg byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]byte(nil), b.registers[reg]...)
}

// Transactions returns the number of transactions that reached the bus
func (b *Bus) Transactions() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.transactions
}

// Samples returns the number of completed conversion reads
func (b *Bus) Samples() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.samples
}

// MaxInFlight returns the maximum number of concurrent conversion reads observed
func (b *Bus) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.maxInFlight
}

func (b *Bus) check(addr uint16) error {
	if b.closed {
		return ErrBusClosed
	}
	if b.failErr != nil {
		return b.failErr
	}
	if addr != b.address {
		return fmt.Errorf("no device at address 0x%02x", addr)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// Enumerator denotes a mock bus enumerator handing out mock buses
type Enumerator struct {
	mu sync.Mutex

	names   []string
	newBus  func() *Bus
	openErr error
	opened  []*Bus
}

// NewEnumerator instantiates a new Enumerator reporting the given bus names. Each
// Open() call creates a new bus using newBus.
func NewEnumerator(newBus func() *Bus, names ...string) *Enumerator {
	return &Enumerator{
		names:  names,
		newBus: newBus,
	}
}

// SetNames changes the bus names reported by subsequent enumerations
func (e *Enumerator) SetNames(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.names = names
}

// SetOpenError makes subsequent Open() calls fail with err (nil restores normal operation)
func (e *Enumerator) SetOpenError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.openErr = err
}

// Enumerate returns the configured bus names (ignoring the selector)
func (e *Enumerator) Enumerate(_ string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.names...), nil
}

// Open creates and returns a new mock bus
func (e *Enumerator) Open(name string) (i2c.BusCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.openErr != nil {
		return nil, e.openErr
	}

	b := e.newBus()
	b.name = name
	e.opened = append(e.opened, b)

	return b, nil
}

// Opened returns all buses opened so far, in order
func (e *Enumerator) Opened() []*Bus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]*Bus(nil), e.opened...)
}

// Draining returns a reading generator that starts at full and loses one raw point
// per sample until the zero load baseline is reached. Generators are called with
// the bus lock held.
func Draining(full int16) func() int16 {
	current := full
	return func() int16 {
		v := current
		if current > loadcell.Baseline {
			current--
		}
		return v
	}
}
