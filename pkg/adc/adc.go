// Package adc provides access to the load sensor ADC on an I2C bus
package adc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fako1024/kegscale/pkg/scale"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	defaultSelector = "I2C1"
	defaultAddress  = 0x48
	defaultSpeed    = 400 * physic.KiloHertz

	cmdReadConversion = 0x00
)

var (

	// ErrEnumerationEmpty denotes that no bus matched the selector
	ErrEnumerationEmpty = errors.New("no matching I2C bus found")

	// ErrDeviceOpenFailed denotes that the bus could not be opened or the ADC not be configured
	ErrDeviceOpenFailed = errors.New("I2C initialization failed")

	// ErrTransferFailed denotes a failed write or read on an open device
	ErrTransferFailed = errors.New("I2C transfer failed")

	// ErrDeviceClosed denotes an operation on an already released device
	ErrDeviceClosed = fmt.Errorf("%w: device closed", ErrTransferFailed)
)

// configSequence selects the gain / mux / comparator state of the ADC. Each entry
// is a register address followed by its payload.
var configSequence = [][]byte{
	{0x01, 0xc2, 0x20},
	{0x02, 0x00, 0x00},
	{0x03, 0xff, 0xff},
}

// Sharing denotes the bus access policy of a device
type Sharing int

const (

	// SharingShared allows other shared handles on the same bus / address
	SharingShared Sharing = iota

	// SharingExclusive rejects any other handle on the same bus / address
	SharingExclusive
)

func (s Sharing) String() string {
	if s == SharingExclusive {
		return "exclusive"
	}
	return "shared"
}

// Settings denotes the connection settings of the ADC
type Settings struct {
	Selector string
	Address  uint16
	Speed    physic.Frequency
	Sharing  Sharing
}

// DefaultSettings returns the settings of the load sensor ADC (0x48, fast mode, shared)
func DefaultSettings() Settings {
	return Settings{
		Selector: defaultSelector,
		Address:  defaultAddress,
		Speed:    defaultSpeed,
		Sharing:  SharingShared,
	}
}

// Enumerator finds and opens I2C buses
type Enumerator interface {

	// Enumerate returns the names of all buses matching the selector
	Enumerate(selector string) ([]string, error)

	// Open opens the bus with the given name
	Open(name string) (i2c.BusCloser, error)
}

// Device denotes an open handle to the ADC
type Device struct {
	busName  string
	settings Settings

	bus i2c.BusCloser
	dev *i2c.Dev

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	logger scale.Logger
}

// Open enumerates the buses matching the selector and opens the ADC on the first
// match, executing functional options, if any
func Open(e Enumerator, settings Settings, options ...func(*Device)) (*Device, error) {

	names, err := e.Enumerate(settings.Selector)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate buses: %s", ErrDeviceOpenFailed, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w (selector `%s`)", ErrEnumerationEmpty, settings.Selector)
	}

	d := &Device{
		busName:  names[0],
		settings: settings,
		logger:   &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(d)
	}

	if err := claim(d.key(), settings.Sharing); err != nil {
		return nil, err
	}

	bus, err := e.Open(d.busName)
	if err != nil {
		release(d.key())
		return nil, fmt.Errorf("%w: failed to open bus `%s`: %s", ErrDeviceOpenFailed, d.busName, err)
	}
	if settings.Speed > 0 {
		if err := bus.SetSpeed(settings.Speed); err != nil {
			_ = bus.Close()
			release(d.key())
			return nil, fmt.Errorf("%w: failed to set bus speed to %s: %s", ErrDeviceOpenFailed, settings.Speed, err)
		}
	}

	d.bus = bus
	d.dev = &i2c.Dev{Bus: bus, Addr: settings.Address}

	d.logger.Debugf("opened ADC on bus `%s` at address 0x%02x (%s, %s)", d.busName, settings.Address, settings.Speed, settings.Sharing)

	return d, nil
}

// Initialize opens and configures the ADC, releasing the handle if configuration fails
func Initialize(e Enumerator, settings Settings, options ...func(*Device)) (*Device, error) {
	d, err := Open(e, settings, options...)
	if err != nil {
		return nil, err
	}

	if err := d.Configure(); err != nil {
		if cerr := d.Close(); cerr != nil {
			d.logger.Warnf("failed to release ADC after configuration failure: %s", cerr)
		}
		return nil, err
	}

	return d, nil
}

// BusName returns the name of the bus the device was opened on
func (d *Device) BusName() string {
	return d.busName
}

// Configure writes the fixed register configuration to the ADC. No readback is
// performed.
func (d *Device) Configure() error {
	if d.closed.Load() {
		return fmt.Errorf("%w: %s", ErrDeviceOpenFailed, ErrDeviceClosed)
	}

	for _, cmd := range configSequence {
		if _, err := d.dev.Write(cmd); err != nil {
			return fmt.Errorf("%w: failed to write register 0x%02x: %s", ErrDeviceOpenFailed, cmd[0], err)
		}
	}

	return nil
}

// Sample reads the conversion register in a single write-then-read transaction
func (d *Device) Sample() (data [2]byte, err error) {
	if d.closed.Load() {
		return data, ErrDeviceClosed
	}

	if err = d.dev.Tx([]byte{cmdReadConversion}, data[:]); err != nil {
		return data, fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}

	return data, nil
}

// Close releases the bus handle. Calling it on a closed device is a no-op.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeErr = d.bus.Close()
		release(d.key())
		d.logger.Debugf("released ADC on bus `%s`", d.busName)
	})

	return d.closeErr
}

// String fulfils the Stringer interface
func (d *Device) String() string {
	return fmt.Sprintf("%s@0x%02x", d.busName, d.settings.Address)
}

func (d *Device) key() string {
	return d.String()
}
