package adc

import (
	"fmt"
	"sync"
)

type claimState struct {
	exclusive bool
	count     int
}

var (
	claimsMu sync.Mutex
	claims   = make(map[string]*claimState)
)

func claim(key string, sharing Sharing) error {
	claimsMu.Lock()
	defer claimsMu.Unlock()

	c, exists := claims[key]
	if exists && c.count > 0 {
		if c.exclusive || sharing == SharingExclusive {
			return fmt.Errorf("%w: `%s` is already in use", ErrDeviceOpenFailed, key)
		}
		c.count++
		return nil
	}

	claims[key] = &claimState{
		exclusive: sharing == SharingExclusive,
		count:     1,
	}
	return nil
}

func release(key string) {
	claimsMu.Lock()
	defer claimsMu.Unlock()

	c, exists := claims[key]
	if !exists {
		return
	}
	if c.count--; c.count <= 0 {
		delete(claims, key)
	}
}
