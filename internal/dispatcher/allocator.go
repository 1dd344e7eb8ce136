package dispatcher

import (
	"fmt"
	"math/rand/v2"
)

// Allocator maps an item's position in the batch to a device id.
// The id is routing metadata only and is stored on the result.
type Allocator func(index int) int

// RoundRobin cycles through devices in order
func RoundRobin(devices int) Allocator {
	return func(index int) int {
		return index % devices
	}
}

// Random picks a device uniformly per item
func Random(devices int) Allocator {
	return func(int) int {
		return rand.IntN(devices)
	}
}

// AllocatorByName resolves the configured strategy
func AllocatorByName(name string, devices int) (Allocator, error) {
	if devices <= 0 {
		return nil, nil
	}
	switch name {
	case "", "round_robin":
		return RoundRobin(devices), nil
	case "random":
		return Random(devices), nil
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", name)
	}
}
