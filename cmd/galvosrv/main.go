package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/labpointer/galvo/galvo"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "galvosrv.yml"

	// EnvPrefix marks environment variables that override the config file.
	// Nested keys are separated by a double underscore, e.g.
	// GALVO_WATCHDOG__TIMEOUT=30s
	EnvPrefix = "GALVO_"

	k = koanf.New(".")
)

func loadFile(kk *koanf.Koanf) {
	if err := kk.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadEnv(kk *koanf.Koanf) {
	err := kk.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "__", ".", -1)
	}), nil)
	if err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

// setupconfig layers the preset, the config file and the environment, in
// that order.  The file and environment are read twice: once to learn which
// preset they ask for, and again on top of it.
func setupconfig() {
	probe := koanf.New(".")
	loadFile(probe)
	loadEnv(probe)
	name := probe.String("preset")
	p, err := galvo.LookupPreset(name)
	if err != nil {
		log.Fatal(err)
	}
	if name == "" {
		name = "standard"
	}
	k.Load(structs.Provider(Defaults(name, p), "koanf"), nil)
	loadFile(k)
	loadEnv(k)
}

func root() {
	str := `galvosrv points a two-axis galvo/laser with a pair of HR8825 stepper drivers
and exposes it over HTTP.

Usage:
	galvosrv <command>

Commands:
	run
	help
	mkconf
	conf
	presets
	version`
	fmt.Println(str)
}

func help() {
	str := `galvosrv is amenable to configuration via its .yml file, galvosrv.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

Settings are layered, later ones winning:
	1. the preset named by "preset" (see galvosrv presets)
	2. galvosrv.yml
	3. environment variables prefixed GALVO_, with __ between nested keys,
	   e.g. GALVO_ADDR=:8080 or GALVO_WATCHDOG__TIMEOUT=2m

The OpenAI API key for voice commands is read from OPENAI_API_KEY, which may be
placed in a .env file.  Without it /voice_command responds 500.

Backends, the "backend" key:
	sim     in-memory lines, nothing moves (default)
	cdev    Linux GPIO character device, "chip" names it (gpiochip0)
	rpio    Raspberry Pi GPIO through /dev/gpiomem
	remote  a pin expander on a serial port or TCP socket, see "remote"

Pins are BCM numbers.  laser_pin < 0 disables the /emission routes.
watchdog.timeout <= 0 keeps the motors powered while idle.
root, e.g. "omc/galvo", serves every route under /omc/galvo.

Use galvosrv mkconf to write the effective configuration to galvosrv.yml
as a starting point.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func presets() {
	for _, name := range galvo.PresetNames() {
		p := galvo.Presets[name]
		fmt.Printf("%-12s %s (watchdog %v)\n", name, p.Description, p.Timeout)
	}
}

func pversion() {
	fmt.Printf("galvosrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if err = godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("error reading .env: %v\n", err)
	}

	app, err := Build(c, os.Getenv("OPENAI_API_KEY"))
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = app.HomeWithSpinner(ctx); err != nil {
		log.Fatalf("homing failed: %v", err)
	}
	if app.Watchdog != nil {
		go app.Watchdog.Run(ctx)
	}
	go func() {
		if err := app.Store.Watch(ctx); err != nil && err != context.Canceled {
			log.Printf("location file watch stopped: %v\n", err)
		}
	}()

	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(app, c.Root)}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		log.Printf("received %v, shutting down\n", sig)
		app.Ctl.Stop()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()

	log.Println("now listening for requests at ", c.Addr)
	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println(err)
	}
	cancel()
	log.Println("returning home and powering down")
	if err = app.Ctl.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown: %v\n", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "presets":
		presets()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
