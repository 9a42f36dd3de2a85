package loom

import (
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/require"
)

func TestScenegraph_PathConflict(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	first, err := NewNodeAtPath(c, "/test/panel", true).AddToScenegraph()
	require.NoError(t, err)

	_, err = NewNodeAtPath(c, "/test/panel", true).AddToScenegraph()
	require.ErrorIs(t, err, ErrPathTaken)

	// The incumbent still resolves.
	got, has := c.Scenegraph().GetNode("/test/panel")
	require.True(t, has)
	require.Same(t, first, got)
}

func TestScenegraph_SignalByPath(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node, err := NewNodeAtPath(c, "/test/panel", true).AddToScenegraph()
	require.NoError(t, err)
	poked := false
	node.AddLocalSignal("poke", func(_ *Node, _ *Client, _ Message) error {
		poked = true
		return nil
	})

	require.NoError(t, c.Scenegraph().SendSignal("/test/panel", "poke", Message{}))
	require.True(t, poked)

	err = c.Scenegraph().SendSignal("/test/absent", "poke", Message{})
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestScenegraph_MethodOnMissingPathStillResponds(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	var results []MethodResult
	c.Scenegraph().ExecuteMethod("/test/absent", "anything", Message{},
		NewMethodResponseSender(func(res MethodResult) { results = append(results, res) }))
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, ErrNodeNotFound)
}

func TestScenegraph_CreationInterfaces(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	// A fresh client starts with its creation surface published.
	for _, path := range []string{"/spatial", "/field", "/data", "/audio", "/input", "/item"} {
		_, has := c.Scenegraph().GetNode(path)
		require.True(t, has, path)
	}

	err := c.Scenegraph().SendSignal("/spatial", "create_spatial", MessageFrom(mustSerialize(t, map[string]any{
		"name":     "anchor",
		"zoneable": true,
	})))
	require.NoError(t, err)

	spatial, err := c.FindSpatial("/spatial/spatial/anchor")
	require.NoError(t, err)
	require.True(t, spatial.Zoneable())

	err = c.Scenegraph().SendSignal("/field", "create_sphere_field", MessageFrom(mustSerialize(t, map[string]any{
		"name":   "bubble",
		"radius": 0.5,
	})))
	require.NoError(t, err)
	field, err := c.FindField("/field/bubble")
	require.NoError(t, err)
	require.InDelta(t, -0.5, field.Evaluate(v3.Vec{}), 1e-9)
}

func TestScenegraph_CreateRejectsInvalidName(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	err := c.Scenegraph().SendSignal("/spatial", "create_spatial", MessageFrom(mustSerialize(t, map[string]any{
		"name": "not ok",
	})))
	var sigErr *SignalError
	require.ErrorAs(t, err, &sigErr)
}

func TestClient_CloseDestroysObjectSpace(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node, err := NewNodeAtPath(c, "/test/panel", true).AddToScenegraph()
	require.NoError(t, err)

	c.Close()
	require.True(t, node.Destroyed())
	require.Equal(t, 0, c.Scenegraph().Len())
	require.Empty(t, srv.Clients())

	// Closing twice is harmless.
	c.Close()
}
