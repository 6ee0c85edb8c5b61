package galvo

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/labpointer/galvo/hr8825"
	"github.com/labpointer/galvo/util"
)

// Position is the location of the galvo in motor steps (after microstep
// scaling) on each axis
type Position struct {
	X int `json:"x" yaml:"x" koanf:"x"`
	Y int `json:"y" yaml:"y" koanf:"y"`
}

// ConfigurationError is returned when a configuration is malformed
type ConfigurationError struct {
	Field  string
	Reason string
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("galvo: invalid configuration: %s: %s", c.Field, c.Reason)
}

// AxisConfig is the static configuration of one axis
type AxisConfig struct {
	// Min and Max are the travel limits, inclusive
	Min int
	Max int

	// Reversed inverts the direction written to the driver
	Reversed bool

	Microstep hr8825.Microstep
}

// Validate checks Min <= Max and that the microstep mode is known
func (a AxisConfig) Validate(name string) error {
	if a.Min > a.Max {
		return &ConfigurationError{Field: name, Reason: fmt.Sprintf("min %d > max %d", a.Min, a.Max)}
	}
	if _, ok := a.Microstep.Bits(); !ok {
		return &ConfigurationError{Field: name, Reason: fmt.Sprintf("invalid microstep mode %d", int(a.Microstep))}
	}
	return nil
}

// Limits returns the travel limits
func (a AxisConfig) Limits() util.Limiter {
	return util.Limiter{Min: a.Min, Max: a.Max}
}

// Contains reports if p lies within the travel limits
func (a AxisConfig) Contains(p int) bool {
	return a.Limits().Check(p)
}

// Clamp constrains p to [Min, Max]
func (a AxisConfig) Clamp(p int) int {
	return a.Limits().Clamp(p)
}

// offset returns Clamp(p + d) for p within the limits, without overflowing
// for extreme d
func (a AxisConfig) offset(p, d int) int {
	return a.Limits().Offset(p, d)
}

// Config configures a Controller
type Config struct {
	X, Y AxisConfig

	// Home is the reference position used at startup and shutdown
	Home Position

	// PulseDelay is the half period of the step signal used by Home and Shutdown
	PulseDelay time.Duration
}

// DefaultPulseDelay is 1 ms per edge, 500 steps per second
const DefaultPulseDelay = time.Millisecond

// Validate checks both axes and that Home is within their limits
func (c Config) Validate() error {
	if err := c.X.Validate("x"); err != nil {
		return err
	}
	if err := c.Y.Validate("y"); err != nil {
		return err
	}
	if !c.X.Contains(c.Home.X) || !c.Y.Contains(c.Home.Y) {
		return &ConfigurationError{Field: "home", Reason: fmt.Sprintf("%+v is outside the travel limits", c.Home)}
	}
	if c.PulseDelay < 0 {
		return &ConfigurationError{Field: "pulse_delay", Reason: "must not be negative"}
	}
	return nil
}

// Preset is a named deployment configuration
type Preset struct {
	Config

	// Timeout is the inactivity period after which the motors are powered down
	Timeout time.Duration

	Description string
}

// Presets holds the known deployment configurations.  "standard" is the default.
var Presets = map[string]Preset{
	"standard": {
		Config: Config{
			X:          AxisConfig{Min: 0, Max: 75, Microstep: hr8825.Eighth},
			Y:          AxisConfig{Min: 0, Max: 200, Microstep: hr8825.Eighth},
			PulseDelay: DefaultPulseDelay},
		Timeout:     time.Minute,
		Description: "X 0..75, Y 0..200, home at the origin"},
	"centered": {
		Config: Config{
			X:          AxisConfig{Min: -75, Max: 75, Microstep: hr8825.Eighth},
			Y:          AxisConfig{Min: 0, Max: 200, Microstep: hr8825.Eighth},
			PulseDelay: DefaultPulseDelay},
		Timeout:     time.Minute,
		Description: "X -75..75 about a centred mount, Y 0..200"},
	"reversed": {
		Config: Config{
			X:          AxisConfig{Min: 0, Max: 75, Reversed: true, Microstep: hr8825.Eighth},
			Y:          AxisConfig{Min: 0, Max: 200, Microstep: hr8825.Eighth},
			PulseDelay: DefaultPulseDelay},
		Timeout:     time.Minute,
		Description: "standard limits with the X motor mounted mirrored"},
	"offset-home": {
		Config: Config{
			X:          AxisConfig{Min: 0, Max: 75, Microstep: hr8825.Eighth},
			Y:          AxisConfig{Min: 0, Max: 200, Microstep: hr8825.Eighth},
			Home:       Position{X: 37, Y: 100},
			PulseDelay: DefaultPulseDelay},
		Timeout:     2 * time.Minute,
		Description: "standard limits, parks mid-field"},
}

// LookupPreset returns the named preset
func LookupPreset(name string) (Preset, error) {
	if name == "" {
		name = "standard"
	}
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, &ConfigurationError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q, known: %s", name, strings.Join(PresetNames(), ", "))}
	}
	return p, nil
}

// PresetNames lists the presets in alphabetical order
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for k := range Presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
