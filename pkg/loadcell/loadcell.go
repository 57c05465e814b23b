// Package loadcell converts raw ADC readings of the load sensor into weights
package loadcell

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/fako1024/kegscale/pkg/scale"
)

const (

	// Baseline denotes the raw reading at zero load
	Baseline = 5226

	// OuncesPerPoint denotes the calibration slope (ounces per raw point)
	OuncesPerPoint = 0.200738

	// OuncesPerPound converts ounces to pounds
	OuncesPerPound = 16.

	// SampleSize denotes the number of bytes per raw sample on the wire
	SampleSize = 2

	// Unit denotes the unit of all converted weights
	Unit = scale.UnitPounds
)

// Convert maps a raw reading to a weight in pounds. Readings below the
// baseline yield negative weights.
func Convert(raw int16) float64 {
	return float64(int32(raw)-Baseline) * OuncesPerPoint / OuncesPerPound
}

// Decode reconstructs a raw reading from its big-endian wire representation
func Decode(data []byte) (int16, error) {
	if len(data) != SampleSize {
		return 0, fmt.Errorf("invalid sample length %d (expected %d)", len(data), SampleSize)
	}

	return int16(binary.BigEndian.Uint16(data)), nil
}

// FormatRaw renders a raw reading for presentation
func FormatRaw(raw int16) string {
	return strconv.Itoa(int(raw))
}

// FormatWeight renders a weight for presentation
func FormatWeight(weight float64) string {
	return strconv.FormatFloat(weight, 'f', 4, 64)
}
