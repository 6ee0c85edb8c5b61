package galvo

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Mover moves to an absolute position.  *Controller is a Mover.
type Mover interface {
	MoveTo(ctx context.Context, x, y int, pulseDelay time.Duration) (Position, error)
}

// Trace visits each point in order with one MoveTo per point and returns the
// positions actually reached.  It stops at the first error.
func Trace(ctx context.Context, m Mover, points []Position, pulseDelay time.Duration) ([]Position, error) {
	reached := make([]Position, 0, len(points))
	for _, p := range points {
		pos, err := m.MoveTo(ctx, p.X, p.Y, pulseDelay)
		if err != nil {
			return reached, err
		}
		reached = append(reached, pos)
	}
	return reached, nil
}

// SquareCorners returns the five points tracing a square of side size
// centered on center, starting and ending at the lower left corner
func SquareCorners(center Position, size int) []Position {
	h := size / 2
	first := Position{X: center.X - h, Y: center.Y - h}
	return []Position{
		first,
		{X: center.X + h, Y: center.Y - h},
		{X: center.X + h, Y: center.Y + h},
		{X: center.X - h, Y: center.Y + h},
		first,
	}
}

// DrawSquare traces a square of side size centered on center.  Corners
// beyond the travel limits are clamped like any other move.
func DrawSquare(ctx context.Context, m Mover, center Position, size int, pulseDelay time.Duration) ([]Position, error) {
	if size < 0 {
		return nil, errors.Errorf("square size must not be negative, got %d", size)
	}
	return Trace(ctx, m, SquareCorners(center, size), pulseDelay)
}
