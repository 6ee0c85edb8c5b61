package galvo

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/labpointer/galvo/gpio"
	"github.com/labpointer/galvo/hr8825"
	"github.com/labpointer/galvo/util"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	xPins = hr8825.Pins{Dir: 13, Step: 19, Enable: 12, Mode: [3]int{16, 17, 20}}
	yPins = hr8825.Pins{Dir: 24, Step: 18, Enable: 4, Mode: [3]int{21, 22, 27}}
)

type rig struct {
	c    *Controller
	bank *gpio.SimBank
	x, y *hr8825.Driver
}

func newRig(t *testing.T, cfg Config) rig {
	t.Helper()
	bank := gpio.NewSimBank()
	x, err := hr8825.New(bank, xPins, hr8825.Software)
	require.NoError(t, err)
	y, err := hr8825.New(bank, yPins, hr8825.Software)
	require.NoError(t, err)
	x.Sleep, y.Sleep = nil, nil
	c, err := NewController(x, y, cfg)
	require.NoError(t, err)
	bank.ResetLog()
	return rig{c: c, bank: bank, x: x, y: y}
}

func preset(name string) Config {
	return Presets[name].Config
}

// fakeClock is a settable clock for activity tracking
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestNewControllerConfiguresDrivers(t *testing.T) {
	r := newRig(t, preset("standard"))
	assert.Equal(t, hr8825.Eighth, r.x.Microstep())
	assert.Equal(t, hr8825.Eighth, r.y.Microstep())
	assert.Equal(t, Position{}, r.c.Position())
	assert.Equal(t, Position{}, r.c.HomePosition())
	x, y := r.c.Enabled()
	assert.False(t, x)
	assert.False(t, y)
}

func TestInitialPositionIsHome(t *testing.T) {
	r := newRig(t, preset("offset-home"))
	assert.Equal(t, Position{X: 37, Y: 100}, r.c.Position())
}

func TestPositionStaysInBounds(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, preset(name))
			xl, yl := r.c.Limits()
			rng := rand.New(rand.NewSource(1))
			ctx := context.Background()
			for i := 0; i < 200; i++ {
				dx := rng.Intn(401) - 200
				dy := rng.Intn(801) - 400
				before := r.c.Position()
				r.bank.ResetLog()
				p, err := r.c.MoveRelative(ctx, dx, dy, 0)
				require.NoError(t, err)
				assert.Equal(t, p, r.c.Position())
				assert.True(t, xl.Contains(p.X), "x %d out of bounds", p.X)
				assert.True(t, yl.Contains(p.Y), "y %d out of bounds", p.Y)
				// pulses issued match the distance travelled
				assert.Equal(t, abs(p.X-before.X), r.bank.Rising(xPins.Step))
				assert.Equal(t, abs(p.Y-before.Y), r.bank.Rising(yPins.Step))
			}
		})
	}
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

func TestExtremeDeltasDoNotOverflow(t *testing.T) {
	r := newRig(t, preset("standard"))
	ctx := context.Background()
	p, err := r.c.MoveRelative(ctx, math.MaxInt, math.MinInt, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 75, Y: 0}, p)
	p, err = r.c.MoveRelative(ctx, math.MinInt, math.MaxInt, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 0, Y: 200}, p)
}

func TestMoveToClamps(t *testing.T) {
	r := newRig(t, preset("standard"))
	p, err := r.c.MoveTo(context.Background(), 100, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 75, Y: 0}, p)
	assert.Equal(t, 75, r.bank.Rising(xPins.Step))
	assert.Equal(t, 0, r.bank.Rising(yPins.Step))
}

func TestMoveToIsIdempotent(t *testing.T) {
	r := newRig(t, preset("standard"))
	ctx := context.Background()
	_, err := r.c.MoveTo(ctx, 30, 40, 0)
	require.NoError(t, err)
	r.bank.ResetLog()
	p, err := r.c.MoveTo(ctx, 30, 40, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 30, Y: 40}, p)
	assert.Empty(t, r.bank.Writes())
}

func TestRelativeRoundTrip(t *testing.T) {
	r := newRig(t, preset("standard"))
	ctx := context.Background()
	start, err := r.c.MoveTo(ctx, 20, 50, 0)
	require.NoError(t, err)
	_, err = r.c.MoveRelative(ctx, 10, -25, 0)
	require.NoError(t, err)
	p, err := r.c.MoveRelative(ctx, -10, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, start, p)
}

func TestDirectionMapping(t *testing.T) {
	r := newRig(t, preset("standard"))
	ctx := context.Background()
	_, err := r.c.MoveRelative(ctx, 5, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, r.bank.WritesTo(xPins.Dir), "forward drives DIR low")
	assert.Equal(t, []bool{false}, r.bank.WritesTo(yPins.Dir))

	r.bank.ResetLog()
	_, err = r.c.MoveRelative(ctx, -2, -2, 0)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, r.bank.WritesTo(xPins.Dir), "backward drives DIR high")
	assert.Equal(t, []bool{true}, r.bank.WritesTo(yPins.Dir))
}

func TestReversedAxis(t *testing.T) {
	r := newRig(t, preset("reversed"))
	p, err := r.c.MoveRelative(context.Background(), 5, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 5, Y: 5}, p)
	assert.Equal(t, []bool{true}, r.bank.WritesTo(xPins.Dir), "reversed X writes the backward level")
	assert.Equal(t, []bool{false}, r.bank.WritesTo(yPins.Dir))
	assert.Equal(t, 5, r.bank.Rising(xPins.Step))
}

func TestXStepsBeforeY(t *testing.T) {
	r := newRig(t, preset("standard"))
	_, err := r.c.MoveRelative(context.Background(), 3, 3, 0)
	require.NoError(t, err)
	lastX, firstY := -1, -1
	for i, w := range r.bank.Writes() {
		if w.Pin == xPins.Step {
			lastX = i
		}
		if w.Pin == yPins.Step && firstY < 0 {
			firstY = i
		}
	}
	require.True(t, lastX >= 0 && firstY >= 0)
	assert.Less(t, lastX, firstY)
}

func TestZeroDeltaRefreshesActivity(t *testing.T) {
	r := newRig(t, preset("standard"))
	clk := &fakeClock{now: time.Unix(1000, 0)}
	r.c.Now = clk.Now
	clk.Advance(time.Hour)

	p, err := r.c.MoveRelative(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{}, p)
	assert.Empty(t, r.bank.Writes())
	assert.Equal(t, clk.Now(), r.c.LastActivity())
}

func TestDisableIfIdleAndReenable(t *testing.T) {
	r := newRig(t, preset("standard"))
	clk := &fakeClock{now: time.Unix(1000, 0)}
	r.c.Now = clk.Now
	ctx := context.Background()

	_, err := r.c.MoveTo(ctx, 10, 10, 0)
	require.NoError(t, err)
	x, y := r.c.Enabled()
	assert.True(t, x)
	assert.True(t, y)

	clk.Advance(30 * time.Second)
	idle, err := r.c.DisableIfIdle(time.Minute)
	require.NoError(t, err)
	assert.False(t, idle)

	clk.Advance(31 * time.Second)
	idle, err = r.c.DisableIfIdle(time.Minute)
	require.NoError(t, err)
	assert.True(t, idle)
	x, y = r.c.Enabled()
	assert.False(t, x)
	assert.False(t, y)
	level, _ := r.bank.Level(xPins.Enable)
	assert.False(t, level)

	// only the axis that moves is powered back up
	r.bank.ResetLog()
	_, err = r.c.MoveTo(ctx, 20, 10, 0)
	require.NoError(t, err)
	x, y = r.c.Enabled()
	assert.True(t, x)
	assert.False(t, y)
	writes := r.bank.Writes()
	require.NotEmpty(t, writes)
	assert.Equal(t, gpio.Write{Pin: xPins.Enable, High: true}, writes[0], "enable precedes stepping")
}

func TestEmergencyStopCommitsCompletedSteps(t *testing.T) {
	r := newRig(t, preset("standard"))
	edges := 0
	r.x.Sleep = func(time.Duration) {
		edges++
		// reading the position mid-move must not block
		_ = r.c.Position()
		assert.True(t, r.c.Moving())
		if edges == 14 {
			r.c.Stop()
		}
	}
	p, err := r.c.MoveTo(context.Background(), 50, 50, time.Nanosecond)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Position{X: 7, Y: 0}, p)
	assert.Equal(t, p, r.c.Position())
	assert.Equal(t, 0, r.bank.Rising(yPins.Step))
	assert.False(t, r.c.Moving())
}

func TestStopWhenIdleIsHarmless(t *testing.T) {
	r := newRig(t, preset("standard"))
	r.c.Stop()
	p, err := r.c.MoveTo(context.Background(), 5, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 5, Y: 5}, p)
}

func TestHardwareFaultPropagates(t *testing.T) {
	r := newRig(t, preset("standard"))
	ioErr := errors.New("line vanished")
	r.bank.Fail(yPins.Step, ioErr)

	p, err := r.c.MoveTo(context.Background(), 10, 10, 0)
	var hf *gpio.HardwareFault
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, yPins.Step, hf.Pin)
	assert.True(t, errors.Is(err, ioErr))
	// X completed before Y faulted
	assert.Equal(t, Position{X: 10, Y: 0}, p)
	assert.Equal(t, p, r.c.Position())
}

func TestConfigurationErrors(t *testing.T) {
	bank := gpio.NewSimBank()
	x, err := hr8825.New(bank, xPins, hr8825.Software)
	require.NoError(t, err)
	y, err := hr8825.New(bank, yPins, hr8825.Software)
	require.NoError(t, err)

	cases := map[string]Config{
		"x": {X: AxisConfig{Min: 10, Max: 0}, Y: AxisConfig{Max: 200}},
		"y": {X: AxisConfig{Max: 75}, Y: AxisConfig{Max: 200, Microstep: hr8825.Microstep(42)}},
		"home": {X: AxisConfig{Max: 75}, Y: AxisConfig{Max: 200},
			Home: Position{X: 80}},
		"pulse_delay": {X: AxisConfig{Max: 75}, Y: AxisConfig{Max: 200}, PulseDelay: -1},
	}
	for field, cfg := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := NewController(x, y, cfg)
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, field, ce.Field)
		})
	}
}

func TestLookupPreset(t *testing.T) {
	p, err := LookupPreset("")
	require.NoError(t, err)
	assert.Equal(t, 75, p.X.Max)
	assert.Equal(t, 200, p.Y.Max)
	assert.Equal(t, time.Minute, p.Timeout)

	p, err = LookupPreset("Centered")
	require.NoError(t, err)
	assert.Equal(t, -75, p.X.Min)

	_, err = LookupPreset("sideways")
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"centered", "offset-home", "reversed", "standard"}, PresetNames())
}

func TestHomeAndResetHome(t *testing.T) {
	r := newRig(t, preset("standard"))
	ctx := context.Background()
	_, err := r.c.MoveTo(ctx, 40, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 40, Y: 100}, r.c.ResetHome())

	_, err = r.c.MoveTo(ctx, 0, 0, 0)
	require.NoError(t, err)
	p, err := r.c.Home(ctx)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 40, Y: 100}, p)
}

func TestShutdownIsIdempotent(t *testing.T) {
	r := newRig(t, preset("standard"))
	ctx := context.Background()
	_, err := r.c.MoveTo(ctx, 20, 30, 0)
	require.NoError(t, err)

	require.NoError(t, r.c.Shutdown(ctx))
	assert.Equal(t, Position{}, r.c.Position())
	x, y := r.c.Enabled()
	assert.False(t, x)
	assert.False(t, y)

	r.bank.ResetLog()
	require.NoError(t, r.c.Shutdown(ctx))
	assert.Equal(t, 0, r.bank.Rising(xPins.Step))
	assert.Equal(t, 0, r.bank.Rising(yPins.Step))
}

func TestSetPulseDelay(t *testing.T) {
	r := newRig(t, preset("standard"))
	assert.Equal(t, DefaultPulseDelay, r.c.PulseDelay())
	require.NoError(t, r.c.SetPulseDelay(2*time.Millisecond))
	assert.Equal(t, 2*time.Millisecond, r.c.PulseDelay())
	assert.Error(t, r.c.SetPulseDelay(0))
}

func TestAxisControl(t *testing.T) {
	r := newRig(t, preset("standard"))
	a := AxisControl{C: r.c}
	ctx := context.Background()

	assert.Equal(t, []string{"x", "y"}, a.Axes())
	require.NoError(t, a.MoveAbs(ctx, "x", 30))
	require.NoError(t, a.MoveAbs(ctx, "Y", 500))
	assert.Equal(t, Position{X: 30, Y: 200}, r.c.Position())

	require.NoError(t, a.MoveRel(ctx, "y", -50))
	pos, err := a.GetPos("y")
	require.NoError(t, err)
	assert.Equal(t, 150, pos)

	require.NoError(t, a.Home(ctx, "x"))
	assert.Equal(t, Position{X: 0, Y: 150}, r.c.Position())

	_, err = a.GetPos("z")
	assert.True(t, errors.Is(err, ErrUnknownAxis))
	assert.True(t, errors.Is(a.MoveAbs(ctx, "z", 1), ErrUnknownAxis))
	require.NoError(t, a.MoveRel(ctx, "x", math.MinInt))
	assert.Equal(t, Position{X: 0, Y: 150}, r.c.Position())

	require.NoError(t, a.Disable("y"))
	on, err := a.GetEnabled("y")
	require.NoError(t, err)
	assert.False(t, on)
	require.NoError(t, a.Enable("y"))
	on, _ = a.GetEnabled("y")
	assert.True(t, on)

	inpos, err := a.GetInPosition("x")
	require.NoError(t, err)
	assert.True(t, inpos)

	lim, err := a.GetLimits("y")
	require.NoError(t, err)
	assert.Equal(t, util.Limiter{Min: 0, Max: 200}, lim)
}

func TestAxisControlVelocity(t *testing.T) {
	r := newRig(t, preset("standard"))
	a := AxisControl{C: r.c}
	v, err := a.GetVelocity("x")
	require.NoError(t, err)
	assert.InDelta(t, 500, v, 1e-9)

	require.NoError(t, a.SetVelocity("x", 250))
	assert.Equal(t, 2*time.Millisecond, r.c.PulseDelay())
	assert.Error(t, a.SetVelocity("x", 0))
	assert.Error(t, a.SetVelocity("x", math.Inf(1)))
}
