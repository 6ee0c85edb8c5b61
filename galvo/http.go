package galvo

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/labpointer/galvo/generichttp"
	"github.com/labpointer/galvo/generichttp/laser"
	"github.com/labpointer/galvo/generichttp/motion"
	"github.com/labpointer/galvo/nlu"
	"github.com/pkg/errors"
)

const (
	// DefaultStepSize is the jog distance of /move_manual when none is given
	DefaultStepSize = 5

	// DefaultSquareSize is the side of the square drawn by /goto when none is given
	DefaultSquareSize = 10

	// StreamInterval is how often /position/stream checks for a new position
	StreamInterval = 100 * time.Millisecond

	streamPing  = 30 * time.Second
	streamWrite = 10 * time.Second
)

// Locations is a store of named positions.  *locations.Store is one.
type Locations interface {
	Get(string) (Position, bool)
	Put(string, Position) error
	Delete(string) (bool, error)
	All() map[string]Position
	Names() []string
}

// Resolver maps a free text command to one of names.  It returns the raw
// reply and nlu.ErrNoMatch when the reply names no location.
type Resolver interface {
	Resolve(ctx context.Context, text string, names []string) (string, error)
}

// HTTPGalvo binds a Controller, a location store, an optional resolver and an
// optional laser to HTTP routes
type HTTPGalvo struct {
	C     *Controller
	Locs  Locations
	NLU   Resolver
	Laser *Laser

	upgrader websocket.Upgrader

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPGalvo returns the HTTP wrapper.  res and l may be nil, in which
// case voice commands fail and the /emission routes are absent.
func NewHTTPGalvo(c *Controller, locs Locations, res Resolver, l *Laser) *HTTPGalvo {
	h := &HTTPGalvo{
		C:     c,
		Locs:  locs,
		NLU:   res,
		Laser: l,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }},
		RouteTable: generichttp.RouteTable{}}

	rt := h.RouteTable
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/get_position"}] = h.GetPosition
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/move_manual"}] = h.MoveManual
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/move"}] = h.Move
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/home"}] = h.Home
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/reset_home"}] = h.ResetHome
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = h.Stop
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/save_location"}] = h.SaveLocation
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/locations"}] = h.ListLocations
	rt[generichttp.MethodPath{Method: http.MethodDelete, Path: "/locations/{name}"}] = h.DeleteLocation
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/goto/{loc}"}] = h.Goto
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/square"}] = h.Square
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/voice_command"}] = h.VoiceCommand
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/position/stream"}] = h.Stream
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/endpoints"}] = h.Endpoints

	rt.Merge(motion.NewHTTPMotionController(AxisControl{C: c}).RT())
	if l != nil {
		rt.Merge(laser.NewHTTPLaserController(l).RT())
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPGalvo) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Endpoints lists the routes of the table
func (h *HTTPGalvo) Endpoints(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, http.StatusOK, h.RouteTable.Endpoints())
}

// detach keeps a move running when the client goes away.  Only Stop and the
// lock interrupt it.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// GetPosition responds with {"x":..,"y":..}
func (h *HTTPGalvo) GetPosition(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, http.StatusOK, h.C.Position())
}

type manualRequest struct {
	Direction string `json:"direction"`
	StepSize  *int   `json:"step_size"`
}

// MoveManual jogs one axis.  up and down move Y, left and right move X.  An
// unknown direction does nothing.
func (h *HTTPGalvo) MoveManual(w http.ResponseWriter, r *http.Request) {
	req := manualRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	step := DefaultStepSize
	if req.StepSize != nil {
		step = *req.StepSize
	}
	var dx, dy int
	switch req.Direction {
	case "up":
		dy = step
	case "down":
		dy = -step
	case "left":
		dx = -step
	case "right":
		dx = step
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, err = h.C.MoveRelative(detach(r), dx, dy, h.C.PulseDelay()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Relative bool `json:"relative"`
}

// Move moves to or by {"x","y"} and responds with the position reached
func (h *HTTPGalvo) Move(w http.ResponseWriter, r *http.Request) {
	req := moveRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var pos Position
	if req.Relative {
		pos, err = h.C.MoveRelative(detach(r), req.X, req.Y, h.C.PulseDelay())
	} else {
		pos, err = h.C.MoveTo(detach(r), req.X, req.Y, h.C.PulseDelay())
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, pos)
}

// Home returns to the home position
func (h *HTTPGalvo) Home(w http.ResponseWriter, r *http.Request) {
	pos, err := h.C.Home(detach(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, pos)
}

// ResetHome makes the current position home
func (h *HTTPGalvo) ResetHome(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, http.StatusOK, h.C.ResetHome())
}

// Stop aborts the move in flight
func (h *HTTPGalvo) Stop(w http.ResponseWriter, r *http.Request) {
	h.C.Stop()
	w.WriteHeader(http.StatusOK)
}

// SaveLocation stores the current position under {"name"}.  An empty name is
// ignored.
func (h *HTTPGalvo) SaveLocation(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Name string `json:"name"`
	}{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name != "" {
		if err = h.Locs.Put(req.Name, h.C.Position()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLocations responds with every saved location
func (h *HTTPGalvo) ListLocations(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, http.StatusOK, h.Locs.All())
}

// DeleteLocation removes a saved location
func (h *HTTPGalvo) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	existed, err := h.Locs.Delete(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !existed {
		http.Error(w, "Location not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Goto moves to a saved location.  With ?pattern=square a square of side
// ?size= is drawn around it after arrival.
func (h *HTTPGalvo) Goto(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.Locs.Get(chi.URLParam(r, "loc"))
	if !ok {
		http.Error(w, "Location not found", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	pattern := q.Get("pattern")
	size := DefaultSquareSize
	if s := q.Get("size"); s != "" {
		var err error
		size, err = strconv.Atoi(s)
		if err != nil || size < 0 {
			http.Error(w, "size must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}
	if pattern != "" && pattern != "square" {
		http.Error(w, "unknown pattern "+strconv.Quote(pattern), http.StatusBadRequest)
		return
	}

	ctx := detach(r)
	delay := h.C.PulseDelay()
	reached, err := h.C.MoveTo(ctx, pos.X, pos.Y, delay)
	if err == nil && pattern == "square" {
		_, err = DrawSquare(ctx, h.C, reached, size, delay)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type squareRequest struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Size int `json:"size"`
}

// Square draws a square around {"x","y"} and responds with the corners reached
func (h *HTTPGalvo) Square(w http.ResponseWriter, r *http.Request) {
	req := squareRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Size < 0 {
		http.Error(w, "size must not be negative", http.StatusBadRequest)
		return
	}
	corners, err := DrawSquare(detach(r), h.C, Position{X: req.X, Y: req.Y}, req.Size, h.C.PulseDelay())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, corners)
}

type voiceReply struct {
	Status   string `json:"status,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VoiceCommand resolves {"text"} to a saved location and moves there
func (h *HTTPGalvo) VoiceCommand(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Text string `json:"text"`
	}{}
	// an unparseable body is treated like an empty command
	_ = json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	text := nlu.Normalize(req.Text)
	if text == "" {
		http.Error(w, "Missing input", http.StatusBadRequest)
		return
	}
	if h.NLU == nil {
		generichttp.RespondJSON(w, http.StatusInternalServerError, voiceReply{Error: "voice commands are not configured"})
		return
	}

	locs := h.Locs.All()
	reply, err := h.NLU.Resolve(r.Context(), text, h.Locs.Names())
	if errors.Is(err, nlu.ErrNoMatch) {
		generichttp.RespondJSON(w, http.StatusOK, voiceReply{Status: "not found", Message: reply})
		return
	}
	if err != nil {
		generichttp.RespondJSON(w, http.StatusInternalServerError, voiceReply{Error: err.Error()})
		return
	}
	pos, ok := locs[reply]
	if !ok {
		// removed while the model was answering
		generichttp.RespondJSON(w, http.StatusOK, voiceReply{Status: "not found", Message: reply})
		return
	}
	if _, err = h.C.MoveTo(detach(r), pos.X, pos.Y, h.C.PulseDelay()); err != nil {
		generichttp.RespondJSON(w, http.StatusInternalServerError, voiceReply{Error: err.Error()})
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, voiceReply{Status: "success", Location: reply})
}

// Stream upgrades to a websocket and pushes the position as JSON whenever it
// changes, starting with the current one
func (h *HTTPGalvo) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("galvo: websocket upgrade error: %v\n", err)
		return
	}
	defer conn.Close()

	// the client sends nothing; reading detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("galvo: websocket read error: %v\n", err)
				}
				return
			}
		}
	}()

	tick := time.NewTicker(StreamInterval)
	defer tick.Stop()
	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	var last *Position
	for {
		if pos := h.C.Position(); last == nil || pos != *last {
			conn.SetWriteDeadline(time.Now().Add(streamWrite))
			if err := conn.WriteJSON(pos); err != nil {
				return
			}
			last = &pos
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWrite))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-tick.C:
		}
	}
}
