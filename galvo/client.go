package galvo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrLocationNotFound is returned by Client.Goto for an unknown location
var ErrLocationNotFound = errors.New("location not found")

// StatusError is a non-2xx response from the server
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "galvo: server responded " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code) + ": " + e.Body
}

// Client talks to a galvo server over HTTP
type Client struct {
	// Addr is the base URL, e.g. http://192.168.1.10:5000
	Addr string

	HTTP *http.Client
}

// NewClient returns a client for the server at addr.  A scheme is added if
// missing.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		Addr: strings.TrimSuffix(addr, "/"),
		HTTP: &http.Client{Timeout: 2 * time.Minute}}
}

// do sends body as JSON and decodes the response into out, if out is not nil
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Addr+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding response of %s %s", method, path)
}

// Position returns the current position
func (c *Client) Position(ctx context.Context) (Position, error) {
	var p Position
	err := c.do(ctx, http.MethodGet, "/get_position", nil, &p)
	return p, err
}

// Jog moves one step in direction, one of up, down, left or right
func (c *Client) Jog(ctx context.Context, direction string, step int) error {
	return c.do(ctx, http.MethodPost, "/move_manual", manualRequest{Direction: direction, StepSize: &step}, nil)
}

// MoveTo moves to (x, y)
func (c *Client) MoveTo(ctx context.Context, x, y int) (Position, error) {
	var p Position
	err := c.do(ctx, http.MethodPost, "/move", moveRequest{X: x, Y: y}, &p)
	return p, err
}

// MoveRelative moves by (dx, dy)
func (c *Client) MoveRelative(ctx context.Context, dx, dy int) (Position, error) {
	var p Position
	err := c.do(ctx, http.MethodPost, "/move", moveRequest{X: dx, Y: dy, Relative: true}, &p)
	return p, err
}

// Home returns to the home position
func (c *Client) Home(ctx context.Context) (Position, error) {
	var p Position
	err := c.do(ctx, http.MethodPost, "/home", nil, &p)
	return p, err
}

// ResetHome makes the current position home
func (c *Client) ResetHome(ctx context.Context) (Position, error) {
	var p Position
	err := c.do(ctx, http.MethodPost, "/reset_home", nil, &p)
	return p, err
}

// Stop aborts the move in flight
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil, nil)
}

// SaveLocation stores the current position under name
func (c *Client) SaveLocation(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/save_location", map[string]string{"name": name}, nil)
}

// Locations lists the saved locations
func (c *Client) Locations(ctx context.Context) (map[string]Position, error) {
	locs := map[string]Position{}
	err := c.do(ctx, http.MethodGet, "/locations", nil, &locs)
	return locs, err
}

// Goto moves to a saved location
func (c *Client) Goto(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodPost, "/goto/"+url.PathEscape(name), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return errors.Wrap(ErrLocationNotFound, name)
	}
	return err
}
