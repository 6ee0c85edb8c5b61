//go:build linux

package gpio

import (
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// Consumer is the label lines are requested under, visible in gpioinfo
var Consumer = "galvo"

// ChipBank hands out lines of a GPIO character device, e.g. gpiochip0
type ChipBank struct {
	Chip string

	mu    sync.Mutex
	lines []*gpiocdev.Line
}

// NewChipBank returns a bank on the named chip
func NewChipBank(chip string) *ChipBank {
	return &ChipBank{Chip: chip}
}

type chipLine struct {
	pin  int
	line *gpiocdev.Line
}

func (c chipLine) Set(high bool) error {
	if err := c.line.SetValue(level(high)); err != nil {
		return &HardwareFault{Pin: c.pin, Op: "write", Err: err}
	}
	return nil
}

// Output requests pin (a line offset on the chip) as an output driven low
func (b *ChipBank) Output(pin int) (Output, error) {
	l, err := gpiocdev.RequestLine(b.Chip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, &HardwareFault{Pin: pin, Op: "request", Err: err}
	}
	b.mu.Lock()
	b.lines = append(b.lines, l)
	b.mu.Unlock()
	return chipLine{pin: pin, line: l}, nil
}

// Close releases every requested line
func (b *ChipBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for _, l := range b.lines {
		err = multierr.Append(err, l.Close())
	}
	b.lines = nil
	return err
}

// MemBank drives Raspberry Pi GPIO through /dev/gpiomem.  Pins are BCM numbers.
type MemBank struct {
	mu   sync.Mutex
	open bool
	pins []rpio.Pin
}

// NewMemBank maps the GPIO registers
func NewMemBank() (*MemBank, error) {
	if err := rpio.Open(); err != nil {
		return nil, &HardwareFault{Pin: -1, Op: "open", Err: err}
	}
	return &MemBank{open: true}, nil
}

type memLine struct {
	pin rpio.Pin
}

// register writes cannot fail once the memory is mapped
func (m memLine) Set(high bool) error {
	if high {
		m.pin.High()
	} else {
		m.pin.Low()
	}
	return nil
}

// Output configures pin as an output driven low
func (b *MemBank) Output(pin int) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil, &HardwareFault{Pin: pin, Op: "request", Err: errMemClosed}
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	b.pins = append(b.pins, p)
	return memLine{pin: p}, nil
}

// Close drives the requested pins low and unmaps the registers
func (b *MemBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	for _, p := range b.pins {
		p.Low()
	}
	b.pins = nil
	b.open = false
	return rpio.Close()
}
