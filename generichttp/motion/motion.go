// Package motion exposes motion controllers over HTTP one axis at a time.
// Positions are integer steps and velocities are steps per second.
//
// Every route lives under /axis/{axis}/.  Axis names are case insensitive,
// and a name the controller does not list is answered with 404 before the
// controller is called.
package motion

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/labpointer/galvo/generichttp"
)

// Controller is a motion controller with named axes.  Every controller
// moves; the other capabilities are detected when the HTTP wrapper is built.
type Controller interface {
	Mover

	// Axes lists the axis names
	Axes() []string
}

// axisHandler serves a request addressed to one axis
type axisHandler func(w http.ResponseWriter, r *http.Request, axis string)

// axisSet is the lowercase names of the axes a controller has
type axisSet map[string]struct{}

func newAxisSet(names []string) axisSet {
	s := axisSet{}
	for _, n := range names {
		s[strings.ToLower(n)] = struct{}{}
	}
	return s
}

// route resolves {axis} and calls h, or responds 404
func (s axisSet) route(h axisHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := strings.ToLower(chi.URLParam(r, "axis"))
		if _, ok := s[axis]; !ok {
			http.Error(w, "unknown axis "+axis, http.StatusNotFound)
			return
		}
		h(w, r, axis)
	}
}

// routes accumulates axis routes into a table
type routes struct {
	axes  axisSet
	table generichttp.RouteTable
}

func (rs routes) add(method, leaf string, h axisHandler) {
	rs.table[generichttp.MethodPath{Method: method, Path: "/axis/{axis}/" + leaf}] = rs.axes.route(h)
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	// Ctl is the underlying motion controller
	Ctl Controller

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper around the controller.
// Routes for Enabler, Stopper, Speeder, InPositionQueryer and Limiter are
// added when c implements them.
func NewHTTPMotionController(c Controller) HTTPMotionController {
	h := HTTPMotionController{Ctl: c, RouteTable: generichttp.RouteTable{}}
	rs := routes{axes: newAxisSet(c.Axes()), table: h.RouteTable}
	httpMove(c, rs)

	if enabler, ok := c.(Enabler); ok {
		httpEnable(enabler, rs)
	}
	if stopper, ok := c.(Stopper); ok {
		rs.add(http.MethodPost, "stop", stop(stopper))
	}
	if speeder, ok := c.(Speeder); ok {
		httpSpeed(speeder, rs)
	}
	if inpos, ok := c.(InPositionQueryer); ok {
		rs.add(http.MethodGet, "inposition", getInPosition(inpos))
	}
	if lim, ok := c.(Limiter); ok {
		rs.add(http.MethodGet, "limits", limits(lim))
	}
	rs.add(http.MethodGet, "status", status(c))
	h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/axes"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, http.StatusOK, c.Axes())
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
