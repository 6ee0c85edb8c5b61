package galvo

import (
	"context"
	"log"
	"time"
)

// DefaultPoll is how often the watchdog checks for inactivity
const DefaultPoll = 5 * time.Second

// Watchdog powers the motors down when no motion has been commanded for
// Timeout.  Any move re-arms it; the next move re-enables the motors.
type Watchdog struct {
	c       *Controller
	Timeout time.Duration
	Poll    time.Duration
}

// NewWatchdog returns a watchdog for c.  A zero poll uses DefaultPoll.
func NewWatchdog(c *Controller, timeout, poll time.Duration) *Watchdog {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Watchdog{c: c, Timeout: timeout, Poll: poll}
}

// Run checks for inactivity every Poll until ctx is done, and returns ctx.Err().
// Disabling an already disabled controller is harmless, so the check simply
// repeats while the galvo stays idle.
//
// A Timeout of zero or less turns the watchdog off and Run returns nil at once.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.Timeout <= 0 {
		log.Println("watchdog: timeout is not positive, watchdog off")
		return nil
	}
	tick := time.NewTicker(w.Poll)
	defer tick.Stop()
	var asleep bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			idle, err := w.c.DisableIfIdle(w.Timeout)
			if err != nil {
				log.Printf("watchdog: error powering down motors: %v\n", err)
				continue
			}
			if idle && !asleep {
				log.Printf("watchdog: no motion for %v, motors powered down\n", w.Timeout)
			}
			asleep = idle
		}
	}
}
