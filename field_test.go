package loom

import (
	"math"
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/require"
)

func newFieldFixture(t *testing.T, c *Client, name string, position v3.Vec) *Node {
	t.Helper()
	node, err := NewNode(c, "/test", name, true).AddToScenegraph()
	require.NoError(t, err)
	_, err = AddSpatial(node, nil, Transform{Position: vecWire(position)}, false)
	require.NoError(t, err)
	return node
}

func TestCylinderField_Distances(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "cyl", v3.Vec{})
	f, err := AddCylinderField(node, 2, 1)
	require.NoError(t, err)

	cases := []struct {
		name  string
		point v3.Vec
		want  float64
	}{
		{"center", v3.Vec{}, -1},
		{"on lateral surface", v3.Vec{X: 1}, 0},
		{"on cap", v3.Vec{Z: 1}, 0},
		{"above cap on axis", v3.Vec{Z: 2}, 1},
		{"radially outside", v3.Vec{X: 5}, 4},
		{"outside both, diagonal", v3.Vec{X: 2, Z: 2}, math.Sqrt2},
		{"halfway up inside", v3.Vec{Z: 0.5}, -0.5},
	}
	for _, tc := range cases {
		require.InDelta(t, tc.want, f.Evaluate(tc.point), 1e-9, tc.name)
	}
}

func TestCylinderField_NegativeSizeIsNormalized(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "cyl", v3.Vec{})
	f, err := AddCylinderField(node, -2, -1)
	require.NoError(t, err)

	length, radius := f.Size()
	require.Equal(t, 2.0, length)
	require.Equal(t, 1.0, radius)

	err = node.SendLocalSignal(c, "set_size", MessageFrom(mustSerialize(t, [2]float64{-4, -3})))
	require.NoError(t, err)
	length, radius = f.Size()
	require.Equal(t, 4.0, length)
	require.Equal(t, 3.0, radius)
}

func TestBoxField_Distances(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "box", v3.Vec{})
	f, err := AddBoxField(node, v3.Vec{X: 2, Y: 2, Z: 2})
	require.NoError(t, err)

	require.InDelta(t, -1, f.Evaluate(v3.Vec{}), 1e-9)
	require.InDelta(t, 0, f.Evaluate(v3.Vec{X: 1}), 1e-9)
	require.InDelta(t, 1, f.Evaluate(v3.Vec{X: 2}), 1e-9)
	// Corner distance is euclidean, not chebyshev.
	require.InDelta(t, math.Sqrt(3), f.Evaluate(v3.Vec{X: 2, Y: 2, Z: 2}), 1e-9)
}

func TestFieldDistance_AcrossFrames(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	// Sphere of radius 1 sitting at x=3.
	node := newFieldFixture(t, c, "bubble", v3.Vec{X: 3})
	f, err := AddSphereField(node, 1)
	require.NoError(t, err)

	probe := newTestSpatial(t, c, "probe", v3.Vec{X: 1}, false)

	// Probe origin is 2 from the sphere center, so 1 from the surface.
	require.InDelta(t, 1, FieldDistance(f, probe, v3.Vec{}), 1e-9)
	// A point offset in the probe's frame can be inside.
	require.InDelta(t, -1, FieldDistance(f, probe, v3.Vec{X: 2}), 1e-9)
	// A nil reference queries the field's own frame.
	require.InDelta(t, -1, FieldDistance(f, nil, v3.Vec{}), 1e-9)
}

func TestFieldDistance_TracksFieldSpatialMotion(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "bubble", v3.Vec{})
	f, err := AddSphereField(node, 1)
	require.NoError(t, err)
	probe := newTestSpatial(t, c, "probe", v3.Vec{}, false)

	require.InDelta(t, -1, FieldDistance(f, probe, v3.Vec{}), 1e-9)

	spatial, _ := node.Spatial()
	spatial.SetLocalTransform(Transform{Position: &[3]float64{0, 0, 10}})
	require.InDelta(t, 9, FieldDistance(f, probe, v3.Vec{}), 1e-9)
}

func TestFieldNormal_PointsOutward(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "bubble", v3.Vec{})
	f, err := AddSphereField(node, 1)
	require.NoError(t, err)

	normal := FieldNormal(f, nil, v3.Vec{X: 2})
	requireVecInDelta(t, v3.Vec{X: 1}, normal, 1e-3)

	normal = FieldNormal(f, nil, v3.Vec{Y: -3})
	requireVecInDelta(t, v3.Vec{Y: -1}, normal, 1e-3)
}

func TestField_QueryMethods(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "bubble", v3.Vec{X: 3})
	_, err := AddSphereField(node, 1)
	require.NoError(t, err)
	newTestSpatial(t, c, "probe", v3.Vec{X: 1}, false)

	var results []MethodResult
	node.ExecuteLocalMethod(c, "distance", MessageFrom(mustSerialize(t, fieldQuery{
		SpacePath: "/test/probe",
	})), NewMethodResponseSender(func(res MethodResult) { results = append(results, res) }))
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	var d float64
	require.NoError(t, Deserialize(results[0].Data, &d))
	require.InDelta(t, 1, d, 1e-9)

	results = nil
	node.ExecuteLocalMethod(c, "normal", MessageFrom(mustSerialize(t, fieldQuery{
		SpacePath: "/test/probe",
	})), NewMethodResponseSender(func(res MethodResult) { results = append(results, res) }))
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	var n [3]float64
	require.NoError(t, Deserialize(results[0].Data, &n))
	require.InDelta(t, -1, n[0], 1e-3, "outward normal faces the probe")
}

func TestSphereField_SetRadiusSignal(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewClient(nil)

	node := newFieldFixture(t, c, "bubble", v3.Vec{})
	f, err := AddSphereField(node, 1)
	require.NoError(t, err)

	require.NoError(t, node.SendLocalSignal(c, "set_radius", MessageFrom(mustSerialize(t, 2.5))))
	require.Equal(t, 2.5, f.Radius())
	require.InDelta(t, -2.5, f.Evaluate(v3.Vec{}), 1e-9)
}
