package galvo

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMover struct {
	calls  []Position
	failAt int
}

func (m *recordingMover) MoveTo(ctx context.Context, x, y int, pulseDelay time.Duration) (Position, error) {
	if m.failAt > 0 && len(m.calls)+1 == m.failAt {
		return Position{}, errors.New("driver fault")
	}
	m.calls = append(m.calls, Position{X: x, Y: y})
	return Position{X: x, Y: y}, nil
}

func TestDrawSquare(t *testing.T) {
	m := &recordingMover{}
	reached, err := DrawSquare(context.Background(), m, Position{X: 40, Y: 100}, 10, 0)
	require.NoError(t, err)
	want := []Position{{35, 95}, {45, 95}, {45, 105}, {35, 105}, {35, 95}}
	assert.Equal(t, want, m.calls)
	assert.Equal(t, want, reached)
}

func TestDrawSquareOddSize(t *testing.T) {
	corners := SquareCorners(Position{X: 10, Y: 10}, 5)
	assert.Equal(t, Position{X: 8, Y: 8}, corners[0])
	assert.Equal(t, Position{X: 12, Y: 12}, corners[2])
}

func TestDrawSquareNegative(t *testing.T) {
	m := &recordingMover{}
	_, err := DrawSquare(context.Background(), m, Position{}, -1, 0)
	assert.Error(t, err)
	assert.Empty(t, m.calls)
}

func TestTraceStopsAtFirstError(t *testing.T) {
	m := &recordingMover{failAt: 3}
	reached, err := Trace(context.Background(), m, SquareCorners(Position{X: 40, Y: 100}, 10), 0)
	assert.Error(t, err)
	assert.Len(t, reached, 2)
	assert.Len(t, m.calls, 2)
}

func TestDrawSquareClampsOnController(t *testing.T) {
	r := newRig(t, preset("standard"))
	reached, err := DrawSquare(context.Background(), r.c, Position{X: 0, Y: 0}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []Position{{0, 0}, {5, 0}, {5, 5}, {0, 5}, {0, 0}}, reached)
}
