package adc

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PeriphEnumerator denotes an Enumerator backed by the periph.io host drivers
type PeriphEnumerator struct{}

// Enumerate returns the names of all registered buses whose name, alias or number
// matches the selector (case-insensitive). An empty selector matches all buses.
func (PeriphEnumerator) Enumerate(selector string) ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	var names []string
	for _, ref := range i2creg.All() {
		if matchRef(ref, selector) {
			names = append(names, ref.Name)
		}
	}

	return names, nil
}

// Open opens the registered bus with the given name
func (PeriphEnumerator) Open(name string) (i2c.BusCloser, error) {
	return i2creg.Open(name)
}

func matchRef(ref *i2creg.Ref, selector string) bool {
	if selector == "" || strings.EqualFold(ref.Name, selector) {
		return true
	}
	for _, alias := range ref.Aliases {
		if strings.EqualFold(alias, selector) {
			return true
		}
	}

	return ref.Number >= 0 && strconv.Itoa(ref.Number) == selector
}
