package trigger

import "github.com/fako1024/kegscale/pkg/scale"

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Trigger) {
	return func(t *Trigger) {
		t.logger = logger
	}
}
