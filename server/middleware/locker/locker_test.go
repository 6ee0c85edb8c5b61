package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/labpointer/galvo/generichttp"
	"github.com/labpointer/galvo/server/middleware/locker"
	"github.com/stretchr/testify/assert"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func newServer(l *locker.Locker) *chi.Mux {
	rt := table{
		{Method: http.MethodPost, Path: "/move"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		{Method: http.MethodGet, Path: "/get_position"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		{Method: http.MethodPost, Path: "/goto/{loc}"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
		{Method: http.MethodDelete, Path: "/locations/{name}"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)
	return r
}

func do(h http.Handler, method, path, body string) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLockedRejectsMotion(t *testing.T) {
	l := locker.New()
	srv := newServer(l)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/move", ""))

	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/lock", `{"bool":true}`))
	assert.True(t, l.Locked())
	assert.Equal(t, http.StatusLocked, do(srv, http.MethodPost, "/move", ""))
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/get_position", ""))

	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/lock", `{"bool":false}`))
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/move", ""))
}

func TestUnprotectedPath(t *testing.T) {
	l := locker.New("/move")
	l.Lock()
	srv := newServer(l)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/move", ""))
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/move/", ""))
	assert.Equal(t, http.StatusLocked, do(srv, http.MethodPost, "/goto/move", ""))
}

func TestLockedRejectsNamesContainingLock(t *testing.T) {
	l := locker.New()
	l.Lock()
	srv := newServer(l)
	for _, rq := range [][2]string{
		{http.MethodPost, "/goto/clock"},
		{http.MethodPost, "/goto/blocked"},
		{http.MethodPost, "/goto/lock"},
		{http.MethodDelete, "/locations/clock"},
		{http.MethodDelete, "/locations/lock"},
	} {
		assert.Equal(t, http.StatusLocked, do(srv, rq[0], rq[1], ""), rq[1])
	}

	l.Unlock()
	assert.Equal(t, http.StatusNoContent, do(srv, http.MethodPost, "/goto/clock", ""))
}

func TestHTTPGet(t *testing.T) {
	l := locker.New()
	l.Lock()
	req := httptest.NewRequest(http.MethodGet, "/lock", nil)
	rec := httptest.NewRecorder()
	newServer(l).ServeHTTP(rec, req)
	assert.JSONEq(t, `{"bool":true}`, rec.Body.String())
}

func TestOnLockFiresOncePerEngagement(t *testing.T) {
	l := locker.New()
	n := 0
	l.OnLock = func() { n++ }
	srv := newServer(l)

	do(srv, http.MethodPost, "/lock", `{"bool":true}`)
	do(srv, http.MethodPost, "/lock", `{"bool":true}`)
	assert.Equal(t, 1, n)
	assert.False(t, l.Since().IsZero())

	l.Unlock()
	assert.True(t, l.Since().IsZero())
	l.Lock()
	assert.Equal(t, 2, n)
}

func TestBadLockBody(t *testing.T) {
	l := locker.New()
	assert.Equal(t, http.StatusBadRequest, do(newServer(l), http.MethodPost, "/lock", `{`))
	assert.False(t, l.Locked())
}
