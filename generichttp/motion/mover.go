package motion

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labpointer/galvo/generichttp"
)

// Mover describes an interface with position-related methods for axes
type Mover interface {
	// GetPos gets the current position of an axis in steps
	GetPos(string) (int, error)

	// MoveAbs moves an axis to an absolute position.  Targets beyond the
	// travel limits are clamped.
	MoveAbs(context.Context, string, int) error

	// MoveRel moves an axis a relative number of steps
	MoveRel(context.Context, string, int) error

	// Home returns an axis to its home position
	Home(context.Context, string) error
}

func httpMove(m Mover, rs routes) {
	rs.add(http.MethodGet, "pos", getPos(m))
	rs.add(http.MethodPost, "pos", setPos(m))
	rs.add(http.MethodPost, "home", home(m))
}

func getPos(m Mover) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		generichttp.GetInt(func() (int, error) { return m.GetPos(axis) })(w, r)
	}
}

// setPos moves absolutely, or relatively with ?relative=true.  The move
// outlives the request; the stop route interrupts it.
func setPos(m Mover) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		relative := false
		if q := r.URL.Query().Get("relative"); q != "" {
			var err error
			if relative, err = strconv.ParseBool(q); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		move := m.MoveAbs
		if relative {
			move = m.MoveRel
		}
		generichttp.SetInt(func(steps int) error { return move(context.WithoutCancel(r.Context()), axis, steps) })(w, r)
	}
}

func home(m Mover) axisHandler {
	return func(w http.ResponseWriter, r *http.Request, axis string) {
		if err := m.Home(context.WithoutCancel(r.Context()), axis); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
