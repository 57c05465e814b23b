package sampler

import (
	"time"

	"github.com/fako1024/kegscale/pkg/adc"
	"github.com/fako1024/kegscale/pkg/display"
	"github.com/fako1024/kegscale/pkg/scale"
	"periph.io/x/conn/v3/gpio"
)

// WithEnumerator sets the enumerator used to find and open the I2C bus
func WithEnumerator(e adc.Enumerator) func(*Sampler) {
	return func(s *Sampler) {
		s.enumerator = e
	}
}

// WithSettings sets the ADC connection settings
func WithSettings(settings adc.Settings) func(*Sampler) {
	return func(s *Sampler) {
		s.settings = settings
	}
}

// WithInterval sets the interval of the periodic acquisition
func WithInterval(interval time.Duration) func(*Sampler) {
	return func(s *Sampler) {
		s.interval = interval
	}
}

// WithAccessMode sets the device access mode
func WithAccessMode(mode AccessMode) func(*Sampler) {
	return func(s *Sampler) {
		s.accessMode = mode
	}
}

// WithTriggerPin sets the input line whose edges request out-of-cycle samples
func WithTriggerPin(pin gpio.PinIn) func(*Sampler) {
	return func(s *Sampler) {
		s.triggerPin = pin
	}
}

// WithPresenter sets the presentation surface
func WithPresenter(p display.Presenter) func(*Sampler) {
	return func(s *Sampler) {
		s.presenter = p
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Sampler) {
	return func(s *Sampler) {
		s.logger = logger
	}
}
