// Package gpio abstracts the digital output lines used to drive stepper
// drivers and lasers.
//
// A Bank hands out Outputs by pin number.  Several banks are available:
// SimBank keeps levels in memory and records every write, ChipBank uses the
// Linux GPIO character device, MemBank uses memory-mapped Raspberry Pi GPIO,
// and RemoteBank speaks a small line protocol to a pin expander over a serial
// port or TCP socket.
package gpio

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	errUnsupported = errors.New("backend not supported on this platform")
	errMemClosed   = errors.New("gpio registers are not mapped")
)

// Output is a single digital output line
type Output interface {
	// Set drives the line high (true) or low (false)
	Set(high bool) error
}

// Bank is a source of output lines
type Bank interface {
	// Output requests a line by pin number and configures it as an output
	// driven low
	Output(pin int) (Output, error)

	// Close releases every line handed out by the bank
	Close() error
}

// HardwareFault is returned when an output line could not be opened or written.
// Faults are not retried at this layer.
type HardwareFault struct {
	// Pin is the pin number of the line
	Pin int

	// Op is the operation that failed, e.g. "request" or "write"
	Op string

	// Err is the underlying error from the backend
	Err error
}

func (h *HardwareFault) Error() string {
	return fmt.Sprintf("gpio: %s pin %d: %v", h.Op, h.Pin, h.Err)
}

// Unwrap returns the underlying backend error
func (h *HardwareFault) Unwrap() error {
	return h.Err
}

func level(high bool) int {
	if high {
		return 1
	}
	return 0
}
