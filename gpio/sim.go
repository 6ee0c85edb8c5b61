package gpio

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrPinInUse is returned when a pin is requested twice from the same bank
var ErrPinInUse = errors.New("pin already requested")

// Write is a single recorded write to a simulated line
type Write struct {
	Pin  int
	High bool
}

// SimBank is an in-memory Bank.  It keeps the level of every line, records
// the order of writes, and can be told to fail writes to a pin.
// It is concurrent safe.
type SimBank struct {
	mu     sync.Mutex
	levels map[int]bool
	writes []Write
	faults map[int]error
	closed bool
}

// NewSimBank returns a new, empty simulated bank
func NewSimBank() *SimBank {
	return &SimBank{
		levels: make(map[int]bool),
		faults: make(map[int]error)}
}

type simLine struct {
	bank *SimBank
	pin  int
}

func (s simLine) Set(high bool) error {
	return s.bank.set(s.pin, high)
}

// Output requests a simulated line, driven low
func (b *SimBank) Output(pin int) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.levels[pin]; ok {
		return nil, &HardwareFault{Pin: pin, Op: "request", Err: ErrPinInUse}
	}
	b.levels[pin] = false
	b.closed = false
	return simLine{bank: b, pin: pin}, nil
}

func (b *SimBank) set(pin int, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faults[pin]; err != nil {
		return &HardwareFault{Pin: pin, Op: "write", Err: err}
	}
	b.levels[pin] = high
	b.writes = append(b.writes, Write{Pin: pin, High: high})
	return nil
}

// Close marks the bank closed and forgets the requested lines
func (b *SimBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels = make(map[int]bool)
	b.closed = true
	return nil
}

// Closed reports if Close has been called since the last Output
func (b *SimBank) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Level returns the current level of a pin, and false for ok if the pin was
// never requested
func (b *SimBank) Level(pin int) (high bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	high, ok = b.levels[pin]
	return
}

// Writes returns a copy of the write log
func (b *SimBank) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// WritesTo returns the levels written to a single pin, in order
func (b *SimBank) WritesTo(pin int) []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []bool{}
	for _, w := range b.writes {
		if w.Pin == pin {
			out = append(out, w.High)
		}
	}
	return out
}

// Rising counts the low to high transitions written to a pin.  For a step
// line this is the number of pulses issued.
func (b *SimBank) Rising(pin int) int {
	var (
		n    int
		prev bool
	)
	for _, high := range b.WritesTo(pin) {
		if high && !prev {
			n++
		}
		prev = high
	}
	return n
}

// ResetLog clears the write log without touching the levels
func (b *SimBank) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = nil
}

// Fail makes every subsequent write to pin return a HardwareFault wrapping err.
// A nil err clears the fault.
func (b *SimBank) Fail(pin int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, pin)
		return
	}
	b.faults[pin] = err
}
