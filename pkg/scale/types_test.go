package scale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "Uninitialized", StateUninitialized.String())
	assert.Equal(t, "Sampling", StateSampling.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestDataPoint(t *testing.T) {
	d := DataPoint{
		TimeStamp: time.Now(),
		Unit:      UnitPounds,
		Raw:       5242,
		Weight:    0.200738,
		Source:    SourceTrigger,
	}

	assert.Equal(t, 0.200738, d.Value())
	assert.Equal(t, "raw: 5242, weight: 0.2007 lb (trigger)", d.String())
}

func TestNewDefaultLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		logger, err := NewDefaultLogger(debug)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Debugf("debug enabled: %v", debug)
	}
}
