// Package locations stores named galvo positions in a JSON file
package locations

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/labpointer/galvo/galvo"
	"github.com/pkg/errors"
)

// DefaultPath is the file used when none is configured
const DefaultPath = "locations.json"

// Store is a set of named positions backed by a JSON object on disk, e.g.
//
//	{
//	  "door": {
//	    "x": 10,
//	    "y": 20
//	  }
//	}
//
// The file is read once when the store is opened, on Reload, and whenever it
// changes while Watch runs.  A missing or unparseable file reads as empty.
type Store struct {
	path string

	mu   sync.RWMutex
	locs map[string]galvo.Position
}

// Open returns a store backed by path.  The file need not exist.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	s := &Store{path: path, locs: map[string]galvo.Position{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path is the file backing the store
func (s *Store) Path() string {
	return s.path
}

func decode(buf []byte) (map[string]galvo.Position, error) {
	locs := map[string]galvo.Position{}
	if len(bytes.TrimSpace(buf)) == 0 {
		return locs, nil
	}
	err := json.Unmarshal(buf, &locs)
	if locs == nil {
		// the file held a JSON null
		locs = map[string]galvo.Position{}
	}
	return locs, err
}

// Reload replaces the contents of the store with the contents of the file.
// Only errors other than a missing or corrupt file are returned.
func (s *Store) Reload() error {
	buf, err := ioutil.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "reading locations from %s", s.path)
	}
	locs, err := decode(buf)
	if err != nil {
		log.Printf("locations: %s is not a valid location file, treating it as empty: %v\n", s.path, err)
		locs = map[string]galvo.Position{}
	}
	s.mu.Lock()
	s.locs = locs
	s.mu.Unlock()
	return nil
}

// Get returns the named position
func (s *Store) Get(name string) (galvo.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.locs[name]
	return p, ok
}

// Names lists the known locations in alphabetical order
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.locs))
	for k := range s.locs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every location
func (s *Store) All() map[string]galvo.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]galvo.Position, len(s.locs))
	for k, v := range s.locs {
		out[k] = v
	}
	return out
}

// Put saves a position under name, replacing any previous one, and writes
// the file
func (s *Store) Put(name string, p galvo.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.locs[name]
	s.locs[name] = p
	if err := s.flush(); err != nil {
		if had {
			s.locs[name] = prev
		} else {
			delete(s.locs, name)
		}
		return err
	}
	return nil
}

// Delete removes a location and writes the file.  It reports if the location
// existed.
func (s *Store) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.locs[name]
	if !ok {
		return false, nil
	}
	delete(s.locs, name)
	if err := s.flush(); err != nil {
		s.locs[name] = prev
		return true, err
	}
	return true, nil
}

// flush writes the map to a temporary file beside the store and renames it
// into place.  s.mu must be held.
func (s *Store) flush() error {
	buf, err := json.MarshalIndent(s.locs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding locations")
	}
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := ioutil.TempFile(dir, "."+base+".*")
	if err != nil {
		return errors.Wrap(err, "saving locations")
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(buf); err != nil {
		tmp.Close()
		return errors.Wrap(err, "saving locations")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "saving locations")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "saving locations")
}

// Watch reloads the store whenever the file is written, replaced or removed,
// until ctx is done.  The directory is watched so that replacement by rename
// is seen.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watching locations")
	}
	defer w.Close()

	target, err := filepath.Abs(s.path)
	if err != nil {
		return errors.Wrap(err, "watching locations")
	}
	if err = w.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "watching %s", filepath.Dir(target))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Printf("locations: reload failed: %v\n", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("locations: watcher error: %v\n", err)
		}
	}
}
