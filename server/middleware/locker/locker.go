// Package locker provides an HTTP middleware that freezes a server.  While
// locked, requests that may move hardware are answered 423 (locked); reads
// pass through.
package locker

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labpointer/galvo/generichttp"
)

// Inject adds GET and POST /lock to a generichttp.HTTPer
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = generichttp.GetBool(l.get)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = generichttp.SetBool(l.set)
}

// Locker is a flag guarding a server, like a sync.Mutex that never blocks
type Locker struct {
	mu    sync.RWMutex
	since time.Time

	// DoNotProtect is a list of paths the lock does not apply to.  A path
	// must match exactly, up to a trailing slash.
	DoNotProtect []string

	// OnLock, if not nil, is called when the locker goes from unlocked to
	// locked, e.g. to stop motion in flight
	OnLock func()
}

// New returns a new Locker with DoNotProtect prepopulated with "/lock".
// Additional unprotected paths may be given.
func New(unprotected ...string) *Locker {
	return &Locker{DoNotProtect: append([]string{"/lock"}, unprotected...)}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	engaged := l.since.IsZero()
	if engaged {
		l.since = time.Now()
	}
	hook := l.OnLock
	l.mu.Unlock()
	if engaged && hook != nil {
		hook()
	}
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.since = time.Time{}
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return !l.Since().IsZero()
}

// Since returns when the locker was locked, or the zero time
func (l *Locker) Since() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.since
}

func (l *Locker) get() (bool, error) {
	return l.Locked(), nil
}

func (l *Locker) set(on bool) error {
	if on {
		l.Lock()
	} else {
		l.Unlock()
	}
	return nil
}

// protects compares whole paths, so a route parameter such as a location
// named "clock" does not slip past the lock
func (l *Locker) protects(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, str := range l.DoNotProtect {
		if path == strings.TrimSuffix(str, "/") {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked while locked
// for any request other than GET to a protected path
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && l.Locked() && l.protects(r.URL.Path) {
			http.Error(w, "locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}
