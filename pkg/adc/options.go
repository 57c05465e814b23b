package adc

import "github.com/fako1024/kegscale/pkg/scale"

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Device) {
	return func(d *Device) {
		d.logger = logger
	}
}
