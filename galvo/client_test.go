package galvo

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	hr := newHTTPRig(t)
	srv := httptest.NewServer(hr.srv)
	defer srv.Close()
	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	require.NoError(t, c.Jog(ctx, "up", 7))
	p, err := c.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 0, Y: 7}, p)

	p, err = c.MoveTo(ctx, 20, 30)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 20, Y: 30}, p)

	p, err = c.MoveRelative(ctx, -5, 5)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 15, Y: 35}, p)

	require.NoError(t, c.SaveLocation(ctx, "desk lamp"))
	locs, err := c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Position{"desk lamp": {X: 15, Y: 35}}, locs)

	p, err = c.ResetHome(ctx)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 15, Y: 35}, p)

	_, err = c.MoveTo(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.Goto(ctx, "desk lamp"))
	assert.Equal(t, Position{X: 15, Y: 35}, hr.c.Position())

	err = c.Goto(ctx, "nowhere")
	assert.True(t, errors.Is(err, ErrLocationNotFound))

	p, err = c.Home(ctx)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 15, Y: 35}, p)
	require.NoError(t, c.Stop(ctx))
}

func TestNewClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://pi.local:5000", NewClient("pi.local:5000").Addr)
	assert.Equal(t, "https://pi.local", NewClient("https://pi.local/").Addr)
}
