package locations

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/labpointer/galvo/galvo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "locations.json"))
	require.NoError(t, err)
	return s
}

func TestMissingFileIsEmpty(t *testing.T) {
	s := tempStore(t)
	assert.Empty(t, s.Names())
	_, ok := s.Get("door")
	assert.False(t, ok)
}

func TestCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")
	require.NoError(t, ioutil.WriteFile(path, []byte("{not json"), 0644))
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestNullFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")
	require.NoError(t, ioutil.WriteFile(path, []byte("null"), 0644))
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("a", galvo.Position{X: 1}))
	assert.Equal(t, []string{"a"}, s.Names())
}

func TestPutWritesIndentedJSON(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put("door", galvo.Position{X: 10, Y: 20}))

	buf, err := ioutil.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"door\": {\n    \"x\": 10,\n    \"y\": 20\n  }\n}", string(buf))
}

func TestPersistsAcrossOpen(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put("door", galvo.Position{X: 10, Y: 20}))
	require.NoError(t, s.Put("window", galvo.Position{X: 70, Y: 150}))
	require.NoError(t, s.Put("door", galvo.Position{X: 11, Y: 21}))

	s2, err := Open(s.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{"door", "window"}, s2.Names())
	p, ok := s2.Get("door")
	assert.True(t, ok)
	assert.Equal(t, galvo.Position{X: 11, Y: 21}, p)
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put("door", galvo.Position{X: 10, Y: 20}))

	existed, err := s.Delete("door")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete("door")
	require.NoError(t, err)
	assert.False(t, existed)

	s2, err := Open(s.Path())
	require.NoError(t, err)
	assert.Empty(t, s2.Names())
}

func TestAllIsACopy(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put("door", galvo.Position{X: 10, Y: 20}))
	all := s.All()
	all["door"] = galvo.Position{}
	p, _ := s.Get("door")
	assert.Equal(t, galvo.Position{X: 10, Y: 20}, p)
}

func TestWatchReloadsExternalEdits(t *testing.T) {
	s := tempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// the watcher is registered asynchronously; keep rewriting until seen
	require.Eventually(t, func() bool {
		_ = ioutil.WriteFile(s.Path(), []byte(`{"lamp": {"x": 5, "y": 6}}`), 0644)
		p, ok := s.Get("lamp")
		return ok && p == galvo.Position{X: 5, Y: 6}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
