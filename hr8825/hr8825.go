// Package hr8825 drives a single HR8825 (DRV8825 compatible) bipolar stepper
// driver through six digital outputs: direction, step, enable, and the three
// microstep mode selects.
//
// The driver knows nothing about position or travel limits; it is a
// deterministic pulse generator.
package hr8825

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/labpointer/galvo/gpio"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidDirection is returned for a Direction other than Forward or Backward
	ErrInvalidDirection = errors.New("direction must be forward or backward")

	// ErrDisabled is returned by Step when the driver is not enabled
	ErrDisabled = errors.New("driver is disabled, enable it before stepping")

	// ErrNegativeCount is returned by Step for a negative pulse count
	ErrNegativeCount = errors.New("step count must not be negative")
)

// Direction is the rotation sense of the motor
type Direction int

const (
	// Forward drives the DIR line low
	Forward Direction = iota

	// Backward drives the DIR line high
	Backward
)

// Valid reports if d is Forward or Backward
func (d Direction) Valid() bool {
	return d == Forward || d == Backward
}

// Reverse returns the opposite direction
func (d Direction) Reverse() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "invalid"
	}
}

// Microstep is the number of sub-steps a full step is divided into
type Microstep int

const (
	Full Microstep = iota
	Half
	Quarter
	Eighth
	Sixteenth
	ThirtySecond
)

// modeBits maps microstep modes to the levels of M0, M1, M2
var modeBits = map[Microstep][3]bool{
	Full:         {false, false, false},
	Half:         {true, false, false},
	Quarter:      {false, true, false},
	Eighth:       {true, true, false},
	Sixteenth:    {false, false, true},
	ThirtySecond: {true, false, true},
}

var microstepNames = map[string]Microstep{
	"full": Full, "fullstep": Full, "1": Full,
	"half": Half, "halfstep": Half, "2": Half, "1/2step": Half,
	"quarter": Quarter, "1/4step": Quarter, "4": Quarter,
	"eighth": Eighth, "1/8step": Eighth, "8": Eighth,
	"sixteenth": Sixteenth, "1/16step": Sixteenth, "16": Sixteenth,
	"thirty-second": ThirtySecond, "thirtysecond": ThirtySecond, "1/32step": ThirtySecond, "32": ThirtySecond,
}

// ParseMicrostep converts a name like "eighth", "1/8step", or "8" to a Microstep
func ParseMicrostep(s string) (Microstep, error) {
	m, ok := microstepNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return Full, errors.Errorf("unknown microstep mode %q", s)
	}
	return m, nil
}

// Bits returns the M0, M1, M2 levels for the mode
func (m Microstep) Bits() ([3]bool, bool) {
	b, ok := modeBits[m]
	return b, ok
}

// Divisor is the number of microsteps per full step
func (m Microstep) Divisor() int {
	return 1 << uint(m)
}

func (m Microstep) String() string {
	switch m {
	case Full:
		return "full"
	case Half:
		return "half"
	case Quarter:
		return "quarter"
	case Eighth:
		return "eighth"
	case Sixteenth:
		return "sixteenth"
	case ThirtySecond:
		return "thirty-second"
	default:
		return "invalid"
	}
}

// MarshalText makes Microstep readable in config files
func (m Microstep) MarshalText() ([]byte, error) {
	if _, ok := modeBits[m]; !ok {
		return nil, errors.Errorf("invalid microstep mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText parses any name accepted by ParseMicrostep
func (m *Microstep) UnmarshalText(b []byte) error {
	v, err := ParseMicrostep(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ControlMode selects who sets the microstep mode
type ControlMode int

const (
	// Software drives the mode select lines from ConfigureMicrostep
	Software ControlMode = iota

	// Hardware leaves the mode to the DIP switches on the module;
	// ConfigureMicrostep writes nothing
	Hardware
)

// ParseControlMode accepts "software" or "hardware"
func ParseControlMode(s string) (ControlMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "software", "softward":
		return Software, nil
	case "hardware", "hardward":
		return Hardware, nil
	}
	return Software, errors.Errorf("unknown control mode %q", s)
}

// Pins holds the pin numbers of the six lines of one driver
type Pins struct {
	Dir    int
	Step   int
	Enable int
	Mode   [3]int

	// EnableActiveLow is set for boards where a low EN line powers the motor
	EnableActiveLow bool
}

// State mirrors the direction and enable lines
type State struct {
	Direction Direction
	Enabled   bool
}

// Driver is one HR8825.  It is concurrent safe, but a Step call holds the
// driver for its full duration.
type Driver struct {
	mu sync.Mutex

	dir, step, enable gpio.Output
	mode              [3]gpio.Output

	activeLow bool
	control   ControlMode
	state     State
	microstep Microstep

	// Sleep waits between pulse edges; time.Sleep unless replaced in tests
	Sleep func(time.Duration)
}

// New requests the six lines from bank and leaves the driver disabled with
// the step line low
func New(bank gpio.Bank, pins Pins, control ControlMode) (*Driver, error) {
	d := &Driver{activeLow: pins.EnableActiveLow, control: control, Sleep: time.Sleep}
	var err error
	if d.dir, err = bank.Output(pins.Dir); err != nil {
		return nil, err
	}
	if d.step, err = bank.Output(pins.Step); err != nil {
		return nil, err
	}
	if d.enable, err = bank.Output(pins.Enable); err != nil {
		return nil, err
	}
	for i, p := range pins.Mode {
		if d.mode[i], err = bank.Output(p); err != nil {
			return nil, err
		}
	}
	if err = d.SetEnabled(false); err != nil {
		return nil, err
	}
	return d, nil
}

// ConfigureMicrostep writes the mode select lines.  In Hardware control mode
// nothing is written.
func (d *Driver) ConfigureMicrostep(m Microstep) error {
	bits, ok := m.Bits()
	if !ok {
		return errors.Errorf("invalid microstep mode %d", int(m))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.control == Software {
		for i, b := range bits {
			if err := d.mode[i].Set(b); err != nil {
				return err
			}
		}
	}
	d.microstep = m
	return nil
}

// Microstep returns the last configured microstep mode
func (d *Driver) Microstep() Microstep {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.microstep
}

// SetEnabled powers the motor on or off.  A disabled motor is free to drift.
func (d *Driver) SetEnabled(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enable.Set(on != d.activeLow); err != nil {
		return err
	}
	d.state.Enabled = on
	return nil
}

// Enabled reports if the motor is powered
func (d *Driver) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Enabled
}

// State returns a copy of the line state
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Step writes the direction line once and issues count pulses, each held
// high for pulseDelay then low for pulseDelay.  A count of zero touches no
// lines.
//
// ctx is checked before every pulse; on cancellation the number of pulses
// already completed is returned with ctx.Err().
func (d *Driver) Step(ctx context.Context, dir Direction, count int, pulseDelay time.Duration) (int, error) {
	if !dir.Valid() {
		return 0, ErrInvalidDirection
	}
	if count < 0 {
		return 0, ErrNegativeCount
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.Enabled {
		return 0, ErrDisabled
	}
	if count == 0 {
		return 0, nil
	}
	if err := d.dir.Set(dir == Backward); err != nil {
		return 0, err
	}
	d.state.Direction = dir
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := d.step.Set(true); err != nil {
			return i, err
		}
		d.wait(pulseDelay)
		if err := d.step.Set(false); err != nil {
			return i, err
		}
		d.wait(pulseDelay)
	}
	return count, nil
}

func (d *Driver) wait(t time.Duration) {
	if t > 0 && d.Sleep != nil {
		d.Sleep(t)
	}
}

// Close disables the motor.  The lines belong to the bank and are released
// when it is closed.
func (d *Driver) Close() error {
	return d.SetEnabled(false)
}
