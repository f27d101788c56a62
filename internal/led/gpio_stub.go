//go:build !linux || (!arm && !arm64)

package led

import "fmt"

// Stub implementation for non-Linux and/or non-ARM platforms.
func openGPIO(pin int, consumer string) (output, error) {
	return nil, fmt.Errorf("led: gpio unsupported on this platform (pin %d)", pin)
}

var openGPIOFn = openGPIO
