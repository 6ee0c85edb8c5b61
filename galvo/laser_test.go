package galvo

import (
	"context"
	"testing"
	"time"

	"github.com/labpointer/galvo/gpio"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaserEmission(t *testing.T) {
	bank := gpio.NewSimBank()
	out, err := bank.Output(26)
	require.NoError(t, err)
	l := NewLaser(out)

	on, err := l.GetEmission()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, l.SetEmission(true))
	on, _ = l.GetEmission()
	assert.True(t, on)
	level, _ := bank.Level(26)
	assert.True(t, level)

	bank.Fail(26, errors.New("gone"))
	assert.Error(t, l.SetEmission(false))
	on, _ = l.GetEmission()
	assert.True(t, on, "a failed write leaves the state unchanged")
}

func TestLaserPulse(t *testing.T) {
	bank := gpio.NewSimBank()
	out, err := bank.Output(26)
	require.NoError(t, err)
	l := NewLaser(out)

	require.NoError(t, l.Pulse(context.Background(), time.Millisecond))
	assert.Equal(t, []bool{true, false}, bank.WritesTo(26))
	on, _ := l.GetEmission()
	assert.False(t, on)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = l.Pulse(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
	on, _ = l.GetEmission()
	assert.False(t, on)
}
