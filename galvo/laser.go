package galvo

import (
	"context"
	"sync"
	"time"

	"github.com/labpointer/galvo/gpio"
	"go.uber.org/multierr"
)

// Laser switches the pointing laser through a single output line
type Laser struct {
	mu  sync.Mutex
	out gpio.Output
	on  bool
}

// NewLaser returns a laser on out.  Emission is assumed off, matching a
// freshly requested line.
func NewLaser(out gpio.Output) *Laser {
	return &Laser{out: out}
}

// SetEmission turns the laser on or off
func (l *Laser) SetEmission(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.out.Set(on); err != nil {
		return err
	}
	l.on = on
	return nil
}

// GetEmission reports if the laser is on
func (l *Laser) GetEmission() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on, nil
}

// Pulse turns the laser on for d, or until ctx is done, then off.  The laser
// is off when Pulse returns, whatever it was before.
func (l *Laser) Pulse(ctx context.Context, d time.Duration) error {
	if err := l.SetEmission(true); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	var err error
	select {
	case <-t.C:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return multierr.Append(err, l.SetEmission(false))
}
