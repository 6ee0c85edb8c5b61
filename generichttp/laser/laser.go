// Package laser exposes a pointing laser over HTTP
package laser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labpointer/galvo/generichttp"
)

// MaxPulse is the longest pulse accepted over HTTP
const MaxPulse = 30 * time.Second

// Controller is a basic interface for laser controllers
type Controller interface {
	// SetEmission turns emission on or off
	SetEmission(bool) error

	// GetEmission queries if the laser is currently outputting
	GetEmission() (bool, error)
}

// Pulser can emit for a fixed time.  Pulse blocks until the laser is off
// again, and ends early when ctx is done.
type Pulser interface {
	Pulse(ctx context.Context, d time.Duration) error
}

// HTTPEmission adds the /emission routes to the route table
func HTTPEmission(c Controller, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/emission"}] = generichttp.GetBool(c.GetEmission)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/emission"}] = generichttp.SetBool(c.SetEmission)
}

// HTTPPulse adds the /emission/pulse route, which takes {"f64": seconds}
func HTTPPulse(p Pulser, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/emission/pulse"}] = Pulse(p)
}

// Pulse returns a handler that flashes the laser for the requested seconds
func Pulse(p Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !(f.F64 > 0) || f.F64 > MaxPulse.Seconds() {
			http.Error(w, fmt.Sprintf("pulse must be between 0 and %v", MaxPulse), http.StatusBadRequest)
			return
		}
		if err = p.Pulse(r.Context(), time.Duration(f.F64*float64(time.Second))); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPLaserController wraps a laser Controller in an HTTP route table
type HTTPLaserController struct {
	// Ctl is the underlying laser controller
	Ctl Controller

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPLaserController returns a new HTTP wrapper around an existing laser
// controller.  The pulse route is added when ctl is also a Pulser.
func NewHTTPLaserController(ctl Controller) HTTPLaserController {
	h := HTTPLaserController{Ctl: ctl, RouteTable: generichttp.RouteTable{}}
	HTTPEmission(ctl, h.RouteTable)
	if p, ok := ctl.(Pulser); ok {
		HTTPPulse(p, h.RouteTable)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPLaserController) RT() generichttp.RouteTable {
	return h.RouteTable
}
