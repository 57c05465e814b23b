package scale

import (
	"context"
	"time"
)

// Basic denotes a basic load sensing scale
type Basic interface {

	// Status returns the current status of the sampling session
	Status() Status

	// Unit returns the weight unit of all data points
	Unit() Unit

	// Sample performs a single synchronous acquisition
	Sample(ctx context.Context) (DataPoint, error)

	// SetStateChangeHandler defines a handler function that is called upon state change
	SetStateChangeHandler(fn func(status Status))

	// SetStateChangeChannel defines a channel that receives state changes
	SetStateChangeChannel(ch chan Status)

	// SetDataHandler defines a handler function that is called upon retrieval of data
	SetDataHandler(fn func(data DataPoint))

	// SetDataChannel defines a channel that receives data points
	SetDataChannel(ch chan DataPoint)

	// Close terminates the sampling session and releases the device
	Close() error
}

// Resetter denotes the ability to re-initialize the device on user request
type Resetter interface {

	// Reset closes the current device handle and initializes a new one
	Reset(ctx context.Context) error
}

// Uptime denotes session uptime tracking
type Uptime interface {

	// ElapsedTime returns the time since the session was started
	ElapsedTime() time.Duration
}

// Scale denotes the "default" scale containing all functionality
type Scale interface {
	Basic
	Resetter
	Uptime
}
