package loom

import (
	"math"
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/require"
)

func TestZone_CapturesFreeSpatial(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	Capture(s, zone)
	require.Same(t, zone, s.CurrentZone())
	require.Contains(t, zone.Captured(), s)
	require.InDelta(t, -1, s.ZoneDistance(), 1e-9)

	captures := sender.named("capture")
	require.Len(t, captures, 1)
	var id string
	require.NoError(t, Deserialize(captures[0].data, &id))
	require.Equal(t, s.ID(), id)
}

func TestZone_RecaptureBySameZoneIsNoop(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	Capture(s, zone)
	Capture(s, zone)

	require.Len(t, sender.named("capture"), 1)
	require.Empty(t, sender.named("release"))
	require.Len(t, zone.Captured(), 1)
}

func TestZone_StrictlyCloserZoneSteals(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	// far: |d| = 1 at the panel. near: |d| = 0.5.
	far := newTestSphereZone(t, c, "far", v3.Vec{}, 2)
	near := newTestSphereZone(t, c, "near", v3.Vec{X: 1}, 0.5)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	Capture(s, far)
	require.Same(t, far, s.CurrentZone())

	Capture(s, near)
	require.Same(t, near, s.CurrentZone())
	require.NotContains(t, far.Captured(), s)
	require.Contains(t, near.Captured(), s)

	// One release from the loser, two captures total, and the loser's
	// release arrives before the winner's capture.
	require.Len(t, sender.named("release"), 1)
	require.Len(t, sender.named("capture"), 2)
	var order []string
	for _, sig := range sender.signals {
		if sig.name == "capture" || sig.name == "release" {
			order = append(order, sig.name)
		}
	}
	require.Equal(t, []string{"capture", "release", "capture"}, order)
}

func TestZone_EqualDistanceKeepsIncumbent(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	first := newTestSphereZone(t, c, "first", v3.Vec{}, 2)
	second := newTestSphereZone(t, c, "second", v3.Vec{X: 2}, 2)
	// Equidistant from both fields: |d| = 1 for each.
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	Capture(s, first)
	Capture(s, second)
	require.Same(t, first, s.CurrentZone(), "first claim wins the tie")
}

func TestZone_DeadFieldCannotCapture(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	zone.field.Spatial().Node().Destroy()
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	// Both sides are infinitely far; infinity is not strictly less than
	// infinity, so the spatial stays free.
	Capture(s, zone)
	require.Nil(t, s.CurrentZone())
	require.True(t, math.IsInf(s.ZoneDistance(), 1))
}

func TestZone_ReleaseRestoresPoseInPlace(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	anchor := newTestSpatial(t, c, "anchor", v3.Vec{X: 5}, false)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)
	require.NoError(t, s.SetParentInPlace(anchor))
	world := s.GlobalTransform().MulPosition(v3.Vec{})

	// Capture rebases the pose into the root frame before snapshotting, so
	// the world position survives the whole cycle even as the zone
	// re-parents the capture however it likes.
	Capture(s, zone)
	requireVecInDelta(t, world, s.GlobalTransform().MulPosition(v3.Vec{}), 1e-9)
	require.NoError(t, s.SetParentInPlace(zone.Spatial()))
	require.Same(t, zone.Spatial(), s.Parent())

	Release(s)
	require.Nil(t, s.CurrentZone())
	require.Nil(t, s.Parent())
	requireVecInDelta(t, world, s.GlobalTransform().MulPosition(v3.Vec{}), 1e-9)
	require.Len(t, sender.named("release"), 1)
}

func TestZone_UpdateProjectsVisibleSet(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	inA := newTestSpatial(t, c, "in-a", v3.Vec{X: 1}, true)
	inB := newTestSpatial(t, c, "in-b", v3.Vec{Y: 1}, true)
	out := newTestSpatial(t, c, "out", v3.Vec{X: 5}, true)

	require.NoError(t, zone.Update())

	enters := sender.named("enter")
	require.Len(t, enters, 2)
	require.Empty(t, sender.named("leave"))

	entered := map[string]bool{}
	for _, sig := range enters {
		var id string
		require.NoError(t, Deserialize(sig.data, &id))
		entered[id] = true
	}
	require.True(t, entered[inA.ID()])
	require.True(t, entered[inB.ID()])
	require.False(t, entered[out.ID()])

	// The projections exist as alias nodes under the zone node.
	zonePath := zone.Spatial().Node().Path()
	for _, s := range []*Spatial{inA, inB} {
		proxy, has := c.Scenegraph().GetNode(zonePath + "/" + s.ID())
		require.True(t, has)
		alias, ok := proxy.Alias()
		require.True(t, ok)
		original, err := alias.Original()
		require.NoError(t, err)
		require.Same(t, s.Node(), original)
	}
}

func TestZone_UpdateDiffsEnterAndLeave(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	a := newTestSpatial(t, c, "a", v3.Vec{X: 1}, true)
	b := newTestSpatial(t, c, "b", v3.Vec{Y: 1}, true)
	cc := newTestSpatial(t, c, "c", v3.Vec{X: 5}, true)

	require.NoError(t, zone.Update())
	require.Len(t, sender.named("enter"), 2)

	// {a, b} becomes {b, c}.
	a.SetLocalTransform(Transform{Position: &[3]float64{5, 0, 0}})
	cc.SetLocalTransform(Transform{Position: &[3]float64{0, 0, 1}})

	require.NoError(t, zone.Update())

	enters := sender.named("enter")
	require.Len(t, enters, 3)
	var lastEnter string
	require.NoError(t, Deserialize(enters[2].data, &lastEnter))
	require.Equal(t, cc.ID(), lastEnter)

	leaves := sender.named("leave")
	require.Len(t, leaves, 1)
	var left string
	require.NoError(t, Deserialize(leaves[0].data, &left))
	require.Equal(t, a.ID(), left)

	// b stayed: no extra signal, but its projection is a live alias.
	zonePath := zone.Spatial().Node().Path()
	proxy, has := c.Scenegraph().GetNode(zonePath + "/" + b.ID())
	require.True(t, has)
	require.False(t, proxy.Destroyed())
	_, has = c.Scenegraph().GetNode(zonePath + "/" + a.ID())
	require.False(t, has)
}

func TestZone_UpdateRetainsCapturedOutsideField(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	Capture(s, zone)
	s.SetLocalTransform(Transform{Position: &[3]float64{10, 0, 0}})

	require.NoError(t, zone.Update())
	require.Len(t, sender.named("enter"), 1)
	require.Empty(t, sender.named("leave"))
}

func TestZone_UpdateSkipsSpatialsHeldDeeperElsewhere(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	wide := newTestSphereZone(t, c, "wide", v3.Vec{}, 2)
	tight := newTestSphereZone(t, c, "tight", v3.Vec{X: 1}, 0.5)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	// wide holds the panel at d = -1; tight only reaches d = -0.5, so the
	// holder's claim is deeper and tight must not project it.
	Capture(s, wide)
	require.NoError(t, tight.Update())

	zonePath := tight.Spatial().Node().Path()
	_, has := c.Scenegraph().GetNode(zonePath + "/" + s.ID())
	require.False(t, has)

	// The deeper zone still projects its own capture.
	require.NoError(t, wide.Update())
	_, has = c.Scenegraph().GetNode(wide.Spatial().Node().Path() + "/" + s.ID())
	require.True(t, has)
}

func TestZone_UpdateFailsWithoutField(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	zone.field.Spatial().Node().Destroy()

	require.ErrorIs(t, zone.Update(), ErrFieldGone)
}

func TestZone_TeardownReleasesEverything(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)

	Capture(s, zone)
	require.NoError(t, s.SetParentInPlace(zone.Spatial()))
	require.NoError(t, zone.Update())
	world := s.GlobalTransform().MulPosition(v3.Vec{})

	zone.Spatial().Node().Destroy()
	require.Nil(t, s.CurrentZone())
	require.Nil(t, s.Parent())
	requireVecInDelta(t, world, s.GlobalTransform().MulPosition(v3.Vec{}), 1e-9)
}

func TestZone_SignalSurface(t *testing.T) {
	srv := newTestServer(t)
	sender := &recordingSender{}
	c := srv.NewClient(sender)

	zone := newTestSphereZone(t, c, "zone", v3.Vec{}, 2)
	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)
	zoneNode := zone.Spatial().Node()

	err := zoneNode.SendLocalSignal(c, "capture", MessageFrom(mustSerialize(t, s.Node().Path())))
	require.NoError(t, err)
	require.Same(t, zone, s.CurrentZone())

	err = zoneNode.SendLocalSignal(c, "update", Message{})
	require.NoError(t, err)
	require.Len(t, sender.named("enter"), 1)

	err = zoneNode.SendLocalSignal(c, "release", MessageFrom(mustSerialize(t, s.Node().Path())))
	require.NoError(t, err)
	require.Nil(t, s.CurrentZone())
}

func TestZone_CreateZoneHandler(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	err := c.Scenegraph().SendSignal("/field", "create_sphere_field", MessageFrom(mustSerialize(t, map[string]any{
		"name":   "volume",
		"radius": 2,
	})))
	require.NoError(t, err)

	err = c.Scenegraph().SendSignal("/spatial", "create_zone", MessageFrom(mustSerialize(t, map[string]any{
		"name":       "room",
		"field_path": "/field/volume",
	})))
	require.NoError(t, err)

	node, err := c.FindNode("/spatial/zone/room")
	require.NoError(t, err)
	zone, has := node.Zone()
	require.True(t, has)

	s := newTestSpatial(t, c, "panel", v3.Vec{X: 1}, true)
	Capture(s, zone)
	require.Same(t, zone, s.CurrentZone())
}
