package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/labpointer/galvo/galvo"
	"github.com/labpointer/galvo/generichttp"
	"github.com/labpointer/galvo/gpio"
	"github.com/labpointer/galvo/hr8825"
	"github.com/labpointer/galvo/locations"
	"github.com/labpointer/galvo/nlu"
	"github.com/labpointer/galvo/server/middleware/locker"
	"github.com/pkg/errors"
	"github.com/theckman/yacspin"
	"go.uber.org/multierr"
)

// PinSetup holds the BCM pin numbers of one HR8825
type PinSetup struct {
	Dir    int   `koanf:"dir" yaml:"dir"`
	Step   int   `koanf:"step" yaml:"step"`
	Enable int   `koanf:"enable" yaml:"enable"`
	Mode   []int `koanf:"mode" yaml:"mode"`

	// EnableActiveLow is for modules whose enable line powers the motor when low
	EnableActiveLow bool `koanf:"enable_active_low" yaml:"enable_active_low"`
}

// AxisSetup is the configuration of one axis
type AxisSetup struct {
	Min      int  `koanf:"min" yaml:"min"`
	Max      int  `koanf:"max" yaml:"max"`
	Reversed bool `koanf:"reversed" yaml:"reversed"`

	// Microstep is a mode name such as "eighth" or "1/8step"
	Microstep string   `koanf:"microstep" yaml:"microstep"`
	Pins      PinSetup `koanf:"pins" yaml:"pins"`
}

// RemoteSetup locates a pin expander
type RemoteSetup struct {
	// Addr is a host:port or a serial device such as /dev/ttyUSB0
	Addr   string `koanf:"addr" yaml:"addr"`
	Serial bool   `koanf:"serial" yaml:"serial"`
	Baud   int    `koanf:"baud" yaml:"baud"`
}

// WatchdogSetup configures the inactivity power-down.  A Timeout of zero
// or less turns it off.
type WatchdogSetup struct {
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	Poll    time.Duration `koanf:"poll" yaml:"poll"`
}

// OpenAISetup configures the voice command resolver
type OpenAISetup struct {
	Model string  `koanf:"model" yaml:"model"`
	RPS   float64 `koanf:"rps" yaml:"rps"`
	Burst int     `koanf:"burst" yaml:"burst"`
}

// Config is the complete server configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Root mounts every route under a prefix such as "omc/galvo", empty for none
	Root string `koanf:"root" yaml:"root"`

	// Preset names the deployment the other keys start from
	Preset string `koanf:"preset" yaml:"preset"`

	// Backend is one of sim, cdev, rpio, remote
	Backend string      `koanf:"backend" yaml:"backend"`
	Chip    string      `koanf:"chip" yaml:"chip"`
	Remote  RemoteSetup `koanf:"remote" yaml:"remote"`

	// PulseDelay is the half period of the step signal
	PulseDelay time.Duration `koanf:"pulse_delay" yaml:"pulse_delay"`

	X    AxisSetup      `koanf:"x" yaml:"x"`
	Y    AxisSetup      `koanf:"y" yaml:"y"`
	Home galvo.Position `koanf:"home" yaml:"home"`

	// ControlMode is software (mode lines driven) or hardware (DIP switches)
	ControlMode string `koanf:"control_mode" yaml:"control_mode"`

	Watchdog WatchdogSetup `koanf:"watchdog" yaml:"watchdog"`

	// LaserPin is the line switching the laser, negative for none
	LaserPin int `koanf:"laser_pin" yaml:"laser_pin"`

	// Locations is the JSON file of named positions
	Locations string `koanf:"locations" yaml:"locations"`

	OpenAI OpenAISetup `koanf:"openai" yaml:"openai"`
}

// Defaults returns the configuration of the named preset with the wiring of
// the reference build
func Defaults(name string, p galvo.Preset) Config {
	axis := func(a galvo.AxisConfig, pins PinSetup) AxisSetup {
		return AxisSetup{Min: a.Min, Max: a.Max, Reversed: a.Reversed, Microstep: a.Microstep.String(), Pins: pins}
	}
	return Config{
		Addr:        ":5000",
		Preset:      name,
		Backend:     "sim",
		Chip:        "gpiochip0",
		Remote:      RemoteSetup{Baud: 115200},
		PulseDelay:  p.PulseDelay,
		X:           axis(p.X, PinSetup{Dir: 13, Step: 19, Enable: 12, Mode: []int{16, 17, 20}}),
		Y:           axis(p.Y, PinSetup{Dir: 24, Step: 18, Enable: 4, Mode: []int{21, 22, 27}}),
		Home:        p.Home,
		ControlMode: "software",
		Watchdog:    WatchdogSetup{Timeout: p.Timeout, Poll: galvo.DefaultPoll},
		LaserPin:    -1,
		Locations:   locations.DefaultPath,
		OpenAI:      OpenAISetup{Model: nlu.DefaultModel, RPS: nlu.DefaultRPS, Burst: nlu.DefaultBurst}}
}

func (a AxisSetup) axisConfig(name string) (galvo.AxisConfig, error) {
	m, err := hr8825.ParseMicrostep(a.Microstep)
	if err != nil {
		return galvo.AxisConfig{}, &galvo.ConfigurationError{Field: name + ".microstep", Reason: err.Error()}
	}
	return galvo.AxisConfig{Min: a.Min, Max: a.Max, Reversed: a.Reversed, Microstep: m}, nil
}

func (p PinSetup) pins(name string) (hr8825.Pins, error) {
	if len(p.Mode) != 3 {
		return hr8825.Pins{}, &galvo.ConfigurationError{Field: name + ".pins.mode", Reason: "must list three pins"}
	}
	return hr8825.Pins{
		Dir:             p.Dir,
		Step:            p.Step,
		Enable:          p.Enable,
		Mode:            [3]int{p.Mode[0], p.Mode[1], p.Mode[2]},
		EnableActiveLow: p.EnableActiveLow}, nil
}

// GalvoConfig converts the server configuration to a controller configuration
func (c Config) GalvoConfig() (galvo.Config, error) {
	x, err := c.X.axisConfig("x")
	if err != nil {
		return galvo.Config{}, err
	}
	y, err := c.Y.axisConfig("y")
	if err != nil {
		return galvo.Config{}, err
	}
	cfg := galvo.Config{X: x, Y: y, Home: c.Home, PulseDelay: c.PulseDelay}
	return cfg, cfg.Validate()
}

// OpenBank opens the configured GPIO backend
func OpenBank(c Config) (gpio.Bank, error) {
	switch strings.ToLower(c.Backend) {
	case "", "sim", "mock":
		return gpio.NewSimBank(), nil
	case "cdev", "gpiocdev", "chip":
		return gpio.NewChipBank(c.Chip), nil
	case "rpio", "mem", "gpiomem":
		return gpio.NewMemBank()
	case "remote", "expander":
		return gpio.DialRemoteBank(c.Remote.Addr, c.Remote.Serial, c.Remote.Baud)
	}
	return nil, &galvo.ConfigurationError{Field: "backend", Reason: "unknown backend " + c.Backend}
}

// App is the assembled server
type App struct {
	Bank     gpio.Bank
	X, Y     *hr8825.Driver
	Ctl      *galvo.Controller
	Watchdog *galvo.Watchdog
	Store    *locations.Store
	Laser    *galvo.Laser
	HTTP     *galvo.HTTPGalvo
}

// Build opens the hardware and constructs every component.  apiKey may be
// empty, which disables voice commands.
func Build(c Config, apiKey string) (*App, error) {
	cfg, err := c.GalvoConfig()
	if err != nil {
		return nil, err
	}
	control, err := hr8825.ParseControlMode(c.ControlMode)
	if err != nil {
		return nil, &galvo.ConfigurationError{Field: "control_mode", Reason: err.Error()}
	}
	xp, err := c.X.Pins.pins("x")
	if err != nil {
		return nil, err
	}
	yp, err := c.Y.Pins.pins("y")
	if err != nil {
		return nil, err
	}

	bank, err := OpenBank(c)
	if err != nil {
		return nil, err
	}
	app := &App{Bank: bank}
	fail := func(err error) (*App, error) {
		return nil, multierr.Append(err, app.Close())
	}

	if app.X, err = hr8825.New(bank, xp, control); err != nil {
		return fail(errors.Wrap(err, "x driver"))
	}
	if app.Y, err = hr8825.New(bank, yp, control); err != nil {
		return fail(errors.Wrap(err, "y driver"))
	}
	if app.Ctl, err = galvo.NewController(app.X, app.Y, cfg); err != nil {
		return fail(err)
	}
	if c.Watchdog.Timeout > 0 {
		app.Watchdog = galvo.NewWatchdog(app.Ctl, c.Watchdog.Timeout, c.Watchdog.Poll)
	} else {
		log.Println("watchdog.timeout is not positive, motors stay powered while idle")
	}

	if c.LaserPin >= 0 {
		out, err := bank.Output(c.LaserPin)
		if err != nil {
			return fail(errors.Wrap(err, "laser"))
		}
		app.Laser = galvo.NewLaser(out)
	}

	if app.Store, err = locations.Open(c.Locations); err != nil {
		return fail(err)
	}

	var res galvo.Resolver
	if apiKey != "" {
		r := nlu.NewOpenAI(apiKey, c.OpenAI.RPS, c.OpenAI.Burst)
		if c.OpenAI.Model != "" {
			r.Model = c.OpenAI.Model
		}
		res = r
	} else {
		log.Println("OPENAI_API_KEY is not set, voice commands are disabled")
	}
	app.HTTP = galvo.NewHTTPGalvo(app.Ctl, app.Store, res, app.Laser)
	return app, nil
}

// HomeWithSpinner moves to the home position, showing a spinner when
// attached to a terminal
func (a *App) HomeWithSpinner(ctx context.Context) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " homing",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"}})
	if err != nil {
		// no spinner, home anyway
		spinner = nil
	}
	if spinner != nil {
		spinner.Start()
	}
	pos, err := a.Ctl.Home(ctx)
	if spinner != nil {
		if err != nil {
			spinner.StopFail()
		} else {
			spinner.Stop()
		}
	}
	if err != nil {
		return err
	}
	log.Printf("homed at %+v\n", pos)
	return nil
}

// Close turns the laser off and releases the hardware.  The drivers are
// disabled; it does not move.
func (a *App) Close() error {
	var err error
	if a.Laser != nil {
		err = multierr.Append(err, a.Laser.SetEmission(false))
	}
	if a.X != nil {
		err = multierr.Append(err, a.X.Close())
	}
	if a.Y != nil {
		err = multierr.Append(err, a.Y.Close())
	}
	if a.Bank != nil {
		err = multierr.Append(err, a.Bank.Close())
	}
	return err
}

// BuildMux makes the root router, with the routes mounted under mount when
// it is not empty.  While locked, only GET requests and /lock are served,
// and locking stops a move in flight.
func BuildMux(a *App, mount string) chi.Router {
	prefix := generichttp.SubMuxSanitize(mount)
	if prefix == "/" {
		prefix = ""
	}
	lock := locker.New()
	if prefix != "" {
		lock.DoNotProtect = []string{prefix + "/lock"}
	}
	lock.OnLock = a.Ctl.Stop
	locker.Inject(a.HTTP, lock)
	rt := a.HTTP.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/version"}] = generichttp.GetString(func() (string, error) {
		return Version, nil
	})

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(lock.Check)
	if prefix == "" {
		rt.Bind(root)
		return root
	}
	sub := chi.NewRouter()
	rt.Bind(sub)
	root.Mount(prefix, sub)
	return root
}
