package galvo

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/labpointer/galvo/util"
	"github.com/pkg/errors"
)

// ErrUnknownAxis is returned by AxisControl for an axis name other than x or y
var ErrUnknownAxis = errors.New("unknown axis, must be x or y")

// AxisControl presents the Controller one axis at a time.  Moving one axis
// leaves the other where it is.
type AxisControl struct {
	C *Controller
}

// Axes lists the axis names
func (a AxisControl) Axes() []string {
	return []string{"x", "y"}
}

// pick returns the axis and a function reading its coordinate
func (a AxisControl) pick(name string) (axis, func(Position) int, error) {
	switch strings.ToLower(name) {
	case "x":
		return a.C.x, func(p Position) int { return p.X }, nil
	case "y":
		return a.C.y, func(p Position) int { return p.Y }, nil
	}
	return axis{}, nil, errors.Wrapf(ErrUnknownAxis, "%q", name)
}

// GetPos returns the position of an axis
func (a AxisControl) GetPos(name string) (int, error) {
	_, coord, err := a.pick(name)
	if err != nil {
		return 0, err
	}
	return coord(a.C.Position()), nil
}

// MoveAbs moves an axis to pos, clamped to its limits
func (a AxisControl) MoveAbs(ctx context.Context, name string, pos int) error {
	if _, _, err := a.pick(name); err != nil {
		return err
	}
	_, err := a.C.move(ctx, a.C.PulseDelay(), func(p Position) Position {
		if strings.EqualFold(name, "x") {
			p.X = a.C.x.cfg.Clamp(pos)
		} else {
			p.Y = a.C.y.cfg.Clamp(pos)
		}
		return p
	})
	return err
}

// MoveRel moves an axis by delta steps, clamped to its limits
func (a AxisControl) MoveRel(ctx context.Context, name string, delta int) error {
	if _, _, err := a.pick(name); err != nil {
		return err
	}
	dx, dy := delta, 0
	if strings.EqualFold(name, "y") {
		dx, dy = 0, delta
	}
	_, err := a.C.MoveRelative(ctx, dx, dy, a.C.PulseDelay())
	return err
}

// Home moves an axis to its home coordinate
func (a AxisControl) Home(ctx context.Context, name string) error {
	_, coord, err := a.pick(name)
	if err != nil {
		return err
	}
	return a.MoveAbs(ctx, name, coord(a.C.HomePosition()))
}

// Enable powers an axis
func (a AxisControl) Enable(name string) error {
	ax, _, err := a.pick(name)
	if err != nil {
		return err
	}
	return a.C.setEnabled(ax, true)
}

// Disable powers an axis down
func (a AxisControl) Disable(name string) error {
	ax, _, err := a.pick(name)
	if err != nil {
		return err
	}
	return a.C.setEnabled(ax, false)
}

// GetEnabled reports if an axis is powered
func (a AxisControl) GetEnabled(name string) (bool, error) {
	ax, _, err := a.pick(name)
	if err != nil {
		return false, err
	}
	return ax.drv.Enabled(), nil
}

// Stop aborts the move in flight.  The axes move one after the other, so
// this stops both.
func (a AxisControl) Stop(name string) error {
	if _, _, err := a.pick(name); err != nil {
		return err
	}
	a.C.Stop()
	return nil
}

// GetInPosition is true when no move is in flight
func (a AxisControl) GetInPosition(name string) (bool, error) {
	if _, _, err := a.pick(name); err != nil {
		return false, err
	}
	return !a.C.Moving(), nil
}

// SetVelocity sets the default speed of both axes in steps per second.  Each
// step is one high and one low period of the pulse delay.
func (a AxisControl) SetVelocity(name string, stepsPerSecond float64) error {
	if _, _, err := a.pick(name); err != nil {
		return err
	}
	if !(stepsPerSecond > 0) || math.IsInf(stepsPerSecond, 0) {
		return errors.Errorf("velocity must be positive and finite, got %v", stepsPerSecond)
	}
	delay := time.Duration(float64(time.Second) / (2 * stepsPerSecond))
	if delay <= 0 {
		delay = 1
	}
	return a.C.SetPulseDelay(delay)
}

// GetVelocity returns the default speed in steps per second
func (a AxisControl) GetVelocity(name string) (float64, error) {
	if _, _, err := a.pick(name); err != nil {
		return 0, err
	}
	return float64(time.Second) / (2 * float64(a.C.PulseDelay())), nil
}

// GetLimits returns the travel limits of an axis
func (a AxisControl) GetLimits(name string) (util.Limiter, error) {
	ax, _, err := a.pick(name)
	if err != nil {
		return util.Limiter{}, err
	}
	return ax.cfg.Limits(), nil
}
