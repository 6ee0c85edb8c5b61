/*Package galvo points a two-axis galvo/laser mechanism driven by two stepper
motors.

The Controller tracks position by dead reckoning, clamps every move to the
travel limits of each axis, and steps the axes one after the other, X first.
A Watchdog powers the motors down after a period of inactivity, and DrawSquare
and Trace compose sequences of moves.

A typical lifecycle is

	c, err := galvo.NewController(xDriver, yDriver, cfg)
	...
	c.Home(ctx)
	go galvo.NewWatchdog(c, time.Minute, 0).Run(ctx)
	... serve requests ...
	c.Shutdown(context.Background())
*/
package galvo

import (
	"context"
	"sync"
	"time"

	"github.com/labpointer/galvo/hr8825"
	"go.uber.org/multierr"
)

// AxisDriver is the capability the Controller needs from a stepper driver.
// *hr8825.Driver satisfies it.
type AxisDriver interface {
	ConfigureMicrostep(hr8825.Microstep) error
	SetEnabled(bool) error
	Enabled() bool
	Step(ctx context.Context, dir hr8825.Direction, count int, pulseDelay time.Duration) (int, error)
}

type axis struct {
	drv AxisDriver
	cfg AxisConfig
}

// drive steps the axis by delta in the logical frame, enabling the driver
// first if it is powered down.  The number of steps completed is returned.
func (a axis) drive(ctx context.Context, delta int, pulseDelay time.Duration) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	dir, count := hr8825.Forward, delta
	if delta < 0 {
		dir, count = hr8825.Backward, -delta
	}
	if a.cfg.Reversed {
		dir = dir.Reverse()
	}
	if !a.drv.Enabled() {
		if err := a.drv.SetEnabled(true); err != nil {
			return 0, err
		}
	}
	return a.drv.Step(ctx, dir, count, pulseDelay)
}

func signed(delta, n int) int {
	if delta < 0 {
		return -n
	}
	return n
}

// Controller moves the galvo.  Motion operations are serialized; the
// position may be read at any time.
type Controller struct {
	x, y axis

	// motion is held for the full duration of every operation that writes to
	// the drivers
	motion sync.Mutex

	// mu guards the fields below
	mu           sync.Mutex
	pos          Position
	home         Position
	lastActivity time.Time
	cancel       context.CancelFunc
	pulseDelay   time.Duration

	// Now is the clock used for activity tracking; time.Now unless replaced in tests
	Now func() time.Time
}

// NewController validates cfg, configures the microstep mode of both drivers
// and returns a Controller whose position is cfg.Home
func NewController(x, y AxisDriver, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := x.ConfigureMicrostep(cfg.X.Microstep); err != nil {
		return nil, err
	}
	if err := y.ConfigureMicrostep(cfg.Y.Microstep); err != nil {
		return nil, err
	}
	delay := cfg.PulseDelay
	if delay == 0 {
		delay = DefaultPulseDelay
	}
	c := &Controller{
		x:          axis{drv: x, cfg: cfg.X},
		y:          axis{drv: y, cfg: cfg.Y},
		pulseDelay: delay,
		pos:        cfg.Home,
		home:       cfg.Home,
		Now:        time.Now}
	c.lastActivity = c.Now()
	return c, nil
}

// move runs one motion under the motion lock.  target maps the start
// position to the clamped target.
func (c *Controller) move(ctx context.Context, pulseDelay time.Duration, target func(Position) Position) (Position, error) {
	c.motion.Lock()
	defer c.motion.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	start := c.pos
	c.lastActivity = c.Now()
	c.cancel = cancel
	c.mu.Unlock()

	end := target(start)
	dx, dy := end.X-start.X, end.Y-start.Y

	reached := start
	n, err := c.x.drive(ctx, dx, pulseDelay)
	reached.X += signed(dx, n)
	if err == nil {
		n, err = c.y.drive(ctx, dy, pulseDelay)
		reached.Y += signed(dy, n)
	}

	c.mu.Lock()
	c.pos = reached
	c.lastActivity = c.Now()
	c.cancel = nil
	c.mu.Unlock()
	return reached, err
}

// MoveRelative moves by (dx, dy) steps.  Each axis target is clamped to its
// limits and the clamped delta is executed; clamping is not an error.
// The activity timer is refreshed even when nothing moves.
func (c *Controller) MoveRelative(ctx context.Context, dx, dy int, pulseDelay time.Duration) (Position, error) {
	return c.move(ctx, pulseDelay, func(p Position) Position {
		return Position{X: c.x.cfg.offset(p.X, dx), Y: c.y.cfg.offset(p.Y, dy)}
	})
}

// MoveTo moves to (x, y), clamped to the limits
func (c *Controller) MoveTo(ctx context.Context, x, y int, pulseDelay time.Duration) (Position, error) {
	return c.move(ctx, pulseDelay, func(Position) Position {
		return Position{X: c.x.cfg.Clamp(x), Y: c.y.cfg.Clamp(y)}
	})
}

// Home moves to the home position at the default pulse delay
func (c *Controller) Home(ctx context.Context) (Position, error) {
	home := c.HomePosition()
	return c.MoveTo(ctx, home.X, home.Y, c.PulseDelay())
}

// ResetHome makes the current position the home position.  Nothing moves.
func (c *Controller) ResetHome() Position {
	c.motion.Lock()
	defer c.motion.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.home = c.pos
	return c.home
}

func (c *Controller) disable() error {
	return multierr.Combine(c.x.drv.SetEnabled(false), c.y.drv.SetEnabled(false))
}

// Disable powers both motors down without moving
func (c *Controller) Disable() error {
	c.motion.Lock()
	defer c.motion.Unlock()
	return c.disable()
}

// DisableIfIdle powers both motors down if no motion was commanded within
// timeout, and reports if it did.  It waits for an in-flight move to finish.
func (c *Controller) DisableIfIdle(timeout time.Duration) (bool, error) {
	c.motion.Lock()
	defer c.motion.Unlock()
	c.mu.Lock()
	idle := c.Now().Sub(c.lastActivity) >= timeout
	c.mu.Unlock()
	if !idle {
		return false, nil
	}
	return true, c.disable()
}

// Shutdown returns home and powers the motors down.  It is safe to call more
// than once; later calls are zero step moves.
func (c *Controller) Shutdown(ctx context.Context) error {
	_, err := c.Home(ctx)
	return multierr.Append(err, c.Disable())
}

// Stop aborts the move in flight, if any.  The position is committed for
// the steps that completed.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Position returns the current position
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// HomePosition returns the home position
func (c *Controller) HomePosition() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.home
}

// LastActivity returns when motion was last commanded
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Enabled reports if each motor is powered
func (c *Controller) Enabled() (x, y bool) {
	return c.x.drv.Enabled(), c.y.drv.Enabled()
}

// Limits returns the configuration of each axis
func (c *Controller) Limits() (x, y AxisConfig) {
	return c.x.cfg, c.y.cfg
}

// PulseDelay returns the default pulse delay
func (c *Controller) PulseDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pulseDelay
}

// SetPulseDelay changes the default pulse delay used by Home and Shutdown
func (c *Controller) SetPulseDelay(d time.Duration) error {
	if d <= 0 {
		return &ConfigurationError{Field: "pulse_delay", Reason: "must be positive"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pulseDelay = d
	return nil
}

// Moving reports if a move is in flight
func (c *Controller) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Controller) setEnabled(a axis, on bool) error {
	c.motion.Lock()
	defer c.motion.Unlock()
	return a.drv.SetEnabled(on)
}
