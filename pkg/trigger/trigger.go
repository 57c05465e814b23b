// Package trigger requests out-of-cycle samples on edges of a digital input line
package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/kegscale/pkg/scale"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (

	// DefaultPin denotes the name of the conversion-ready line of the ADC
	DefaultPin = "GPIO27"

	// edgePollInterval bounds how long the edge loop waits before checking for
	// shutdown. Pins without interrupt support do not unblock on Halt().
	edgePollInterval = 100 * time.Millisecond
)

// Trigger denotes an edge-triggered input line. Every transition (rising or
// falling) invokes the callback; no debouncing is performed.
type Trigger struct {
	pin gpio.PinIn
	fn  func()

	armed    bool
	doneChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex

	logger scale.Logger
}

// ByName resolves a pin from the periph.io GPIO registry (e.g. "GPIO27" or "27")
func ByName(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("failed to find GPIO pin `%s`", name)
	}

	return pin, nil
}

// New instantiates a new Trigger for the given pin, executing functional options, if any
func New(pin gpio.PinIn, fn func(), options ...func(*Trigger)) *Trigger {
	t := &Trigger{
		pin:      pin,
		fn:       fn,
		doneChan: make(chan struct{}),
		logger:   &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	return t
}

// Arm configures the pin for edge detection on both edges and starts dispatching
// edges to the callback
func (t *Trigger) Arm() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.doneChan:
		return fmt.Errorf("failed to arm closed trigger on `%s`", t.pin)
	default:
	}
	if t.armed {
		return nil
	}

	if err := t.pin.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		return fmt.Errorf("failed to configure edge detection on `%s`: %w", t.pin, err)
	}
	t.armed = true

	t.wg.Add(1)
	go t.run()

	t.logger.Debugf("armed trigger on `%s`", t.pin)

	return nil
}

// Close stops dispatching edges and waits for the edge loop to terminate
func (t *Trigger) Close() error {
	t.mu.Lock()
	select {
	case <-t.doneChan:
		t.mu.Unlock()
		return nil
	default:
		close(t.doneChan)
	}
	armed := t.armed
	t.mu.Unlock()

	var err error
	if armed {
		err = t.pin.Halt()
	}
	t.wg.Wait()

	return err
}

func (t *Trigger) run() {
	defer t.wg.Done()

	for {
		select {
		case <-t.doneChan:
			return
		default:
		}

		if !t.pin.WaitForEdge(edgePollInterval) {
			continue
		}

		select {
		case <-t.doneChan:
			return
		default:
		}

		t.logger.Debugf("edge on `%s`, level %s", t.pin, t.pin.Read())
		t.fn()
	}
}
