package scale

import (
	"fmt"
	"time"
)

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown = "--"

	// UnitPounds denotes imperial pounds
	UnitPounds = "lb"
)

// State denotes a state of the sampling session
type State int

const (

	// StateUninitialized is active before the session has been started
	StateUninitialized State = iota

	// StateInitializing is active while the ADC is enumerated and configured
	StateInitializing

	// StateReady is active once the ADC is configured but before the first tick
	StateReady

	// StateSampling is active while the periodic acquisition is running
	StateSampling

	// StateShuttingDown is active while the session is being torn down
	StateShuttingDown

	// StateClosed is active after the session has been torn down
	StateClosed

	// StateFailed is active after a failed initialization (until a reset succeeds)
	StateFailed
)

var stateNames = map[State]string{
	StateUninitialized: "Uninitialized",
	StateInitializing:  "Initializing",
	StateReady:         "Ready",
	StateSampling:      "Sampling",
	StateShuttingDown:  "ShuttingDown",
	StateClosed:        "Closed",
	StateFailed:        "Failed",
}

// String fulfils the Stringer interface
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status denotes the current status of the sampling session
type Status struct {
	Error error
	State

	// Generation counts the successful device initializations of the session
	Generation uint64
}

// Source denotes what requested an acquisition
type Source int

const (

	// SourceManual denotes a synchronous acquisition requested by the caller
	SourceManual Source = iota

	// SourceTimer denotes an acquisition requested by the periodic timer
	SourceTimer

	// SourceTrigger denotes an acquisition requested by an edge on the trigger line
	SourceTrigger
)

func (s Source) String() string {
	switch s {
	case SourceTimer:
		return "timer"
	case SourceTrigger:
		return "trigger"
	default:
		return "manual"
	}
}

// DataPoint denotes a weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Unit      Unit
	Raw       int16
	Weight    float64
	Source    Source
}

// Value provides a method to retrieve the current value (for interface use)
func (d DataPoint) Value() float64 {
	return d.Weight
}

// String fulfils the Stringer interface
func (d DataPoint) String() string {
	return fmt.Sprintf("raw: %d, weight: %.4f %s (%s)", d.Raw, d.Weight, d.Unit, d.Source)
}
