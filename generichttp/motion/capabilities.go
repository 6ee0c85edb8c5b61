package motion

import (
	"net/http"

	"github.com/labpointer/galvo/generichttp"
	"github.com/labpointer/galvo/util"
)

// Enabler describes an interface with methods to power axes up and down
type Enabler interface {
	// Enable powers an axis
	Enable(string) error

	// Disable powers an axis down.  It will not hold position.
	Disable(string) error

	// GetEnabled gets if an axis is powered
	GetEnabled(string) (bool, error)
}

// Stopper can abort motion
type Stopper interface {
	// Stop aborts motion of the axis.  Position stays accurate to the last
	// completed step.
	Stop(string) error
}

// Speeder describes an interface with velocity-related methods for axes.
// Velocities are in steps per second.
type Speeder interface {
	// SetVelocity sets the velocity setpoint on the axis
	SetVelocity(string, float64) error

	// GetVelocity gets the velocity setpoint on the axis
	GetVelocity(string) (float64, error)
}

// InPositionQueryer is a type which can query whether an axis is in position
type InPositionQueryer interface {
	// GetInPosition returns true if the axis is not moving
	GetInPosition(string) (bool, error)
}

// Limiter is a type that reports the travel limits of its axes.  Moves
// beyond the limits are clamped by the controller, not rejected.
type Limiter interface {
	// GetLimits returns the travel limits of an axis
	GetLimits(string) (util.Limiter, error)
}

func httpEnable(e Enabler, rs routes) {
	rs.add(http.MethodGet, "enabled", func(w http.ResponseWriter, r *http.Request, axis string) {
		generichttp.GetBool(func() (bool, error) { return e.GetEnabled(axis) })(w, r)
	})
	rs.add(http.MethodPost, "enabled", func(w http.ResponseWriter, r *http.Request, axis string) {
		generichttp.SetBool(func(on bool) error {
			if on {
				return e.Enable(axis)
			}
			return e.Disable(axis)
		})(w, r)
	})
}

func stop(s Stopper) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		if err := s.Stop(axis); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func httpSpeed(s Speeder, rs routes) {
	rs.add(http.MethodGet, "velocity", func(w http.ResponseWriter, r *http.Request, axis string) {
		generichttp.GetFloat(func() (float64, error) { return s.GetVelocity(axis) })(w, r)
	})
	rs.add(http.MethodPost, "velocity", func(w http.ResponseWriter, r *http.Request, axis string) {
		generichttp.SetFloat(func(v float64) error { return s.SetVelocity(axis, v) })(w, r)
	})
}

func getInPosition(i InPositionQueryer) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		generichttp.GetBool(func() (bool, error) { return i.GetInPosition(axis) })(w, r)
	}
}

func limits(l Limiter) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		lim, err := l.GetLimits(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, http.StatusOK, lim)
	}
}

// Status is a snapshot of one axis.  Fields the controller cannot report
// are omitted.
type Status struct {
	Pos        int           `json:"pos"`
	Enabled    *bool         `json:"enabled,omitempty"`
	InPosition *bool         `json:"in_position,omitempty"`
	Velocity   *float64      `json:"velocity,omitempty"`
	Limits     *util.Limiter `json:"limits,omitempty"`
}

// GetStatus queries every capability c has for one axis
func GetStatus(c Controller, axis string) (Status, error) {
	var (
		st  Status
		err error
	)
	if st.Pos, err = c.GetPos(axis); err != nil {
		return st, err
	}
	if e, ok := c.(Enabler); ok {
		on, err := e.GetEnabled(axis)
		if err != nil {
			return st, err
		}
		st.Enabled = &on
	}
	if i, ok := c.(InPositionQueryer); ok {
		inpos, err := i.GetInPosition(axis)
		if err != nil {
			return st, err
		}
		st.InPosition = &inpos
	}
	if s, ok := c.(Speeder); ok {
		v, err := s.GetVelocity(axis)
		if err != nil {
			return st, err
		}
		st.Velocity = &v
	}
	if l, ok := c.(Limiter); ok {
		lim, err := l.GetLimits(axis)
		if err != nil {
			return st, err
		}
		st.Limits = &lim
	}
	return st, nil
}

func status(c Controller) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		st, err := GetStatus(c, axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, http.StatusOK, st)
	}
}
