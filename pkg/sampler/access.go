package sampler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fako1024/kegscale/pkg/adc"
)

// AccessMode denotes how acquisition cycles access the shared device handle
type AccessMode int

const (

	// AccessGuarded serializes all bus transactions and handle swaps: at most one
	// transaction is in flight and a reset waits for it to complete
	AccessGuarded AccessMode = iota

	// AccessLegacy loads the handle without synchronization. Known hazard: a reset
	// may release the handle while a transaction is in flight (the transaction then
	// fails) and timer / trigger cycles may be on the bus at the same time.
	AccessLegacy
)

func (m AccessMode) String() string {
	switch m {
	case AccessGuarded:
		return "guarded"
	case AccessLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("AccessMode(%d)", int(m))
	}
}

// deviceSlot holds the (possibly absent) device handle of a session
type deviceSlot interface {

	// with runs fn with the current device, nil if there is none
	with(fn func(d *adc.Device) error) error

	// swap replaces the current device and returns the previous one
	swap(d *adc.Device) *adc.Device
}

func newDeviceSlot(mode AccessMode) deviceSlot {
	if mode == AccessLegacy {
		return &legacySlot{}
	}
	return &guardedSlot{}
}

type legacySlot struct {
	dev atomic.Pointer[adc.Device]
}

func (s *legacySlot) with(fn func(d *adc.Device) error) error {
	return fn(s.dev.Load())
}

func (s *legacySlot) swap(d *adc.Device) *adc.Device {
	return s.dev.Swap(d)
}

type guardedSlot struct {
	mu  sync.Mutex
	dev *adc.Device
}

func (s *guardedSlot) with(fn func(d *adc.Device) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(s.dev)
}

func (s *guardedSlot) swap(d *adc.Device) *adc.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.dev
	s.dev = d
	return prev
}
