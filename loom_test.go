package loom

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, err)
	return srv
}

// countingSink tallies counter increments by dotted key, discarding
// everything else.
type countingSink struct {
	metrics.BlackholeSink
	lk     sync.Mutex
	counts map[string]int
}

func (cs *countingSink) IncrCounterWithLabels(key []string, val float32, _ []metrics.Label) {
	cs.lk.Lock()
	defer cs.lk.Unlock()
	if cs.counts == nil {
		cs.counts = map[string]int{}
	}
	cs.counts[strings.Join(key, ".")] += int(val)
}

func (cs *countingSink) count(key string) int {
	cs.lk.Lock()
	defer cs.lk.Unlock()
	return cs.counts[key]
}

type recordedSignal struct {
	path  string
	name  string
	data  []byte
	files int
}

// recordingSender captures outbound traffic instead of framing it onto a
// stream.
type recordingSender struct {
	lk      sync.Mutex
	signals []recordedSignal
}

func (rs *recordingSender) Signal(path, name string, msg Message) error {
	rs.lk.Lock()
	defer rs.lk.Unlock()
	rs.signals = append(rs.signals, recordedSignal{
		path:  path,
		name:  name,
		data:  msg.Data,
		files: len(msg.Files),
	})
	return nil
}

func (rs *recordingSender) Method(_ context.Context, _, _ string, _ Message) (Message, error) {
	return Message{}, ErrNoMessenger
}

func (rs *recordingSender) named(name string) []recordedSignal {
	rs.lk.Lock()
	defer rs.lk.Unlock()
	var out []recordedSignal
	for _, sig := range rs.signals {
		if sig.name == name {
			out = append(out, sig)
		}
	}
	return out
}

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "oob")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func mustSerialize(t *testing.T, v any) []byte {
	t.Helper()
	data, err := Serialize(v)
	require.NoError(t, err)
	return data
}

// newTestSpatial publishes a node carrying only a spatial aspect.
func newTestSpatial(t *testing.T, c *Client, name string, position v3.Vec, zoneable bool) *Spatial {
	t.Helper()
	node, err := NewNode(c, "/test", name, true).AddToScenegraph()
	require.NoError(t, err)
	spatial, err := AddSpatial(node, nil, Transform{Position: vecWire(position)}, zoneable)
	require.NoError(t, err)
	return spatial
}

// newTestSphereZone publishes a zone node driven by a sphere field of the
// given radius.
func newTestSphereZone(t *testing.T, c *Client, name string, position v3.Vec, radius float64) *Zone {
	t.Helper()
	fieldNode, err := NewNode(c, "/test", name+"-field", true).AddToScenegraph()
	require.NoError(t, err)
	_, err = AddSpatial(fieldNode, nil, Transform{Position: vecWire(position)}, false)
	require.NoError(t, err)
	field, err := AddSphereField(fieldNode, radius)
	require.NoError(t, err)

	zoneNode, err := NewNode(c, "/test", name, true).AddToScenegraph()
	require.NoError(t, err)
	spatial, err := AddSpatial(zoneNode, nil, Transform{Position: vecWire(position)}, false)
	require.NoError(t, err)
	zone, err := AddZone(zoneNode, spatial, field)
	require.NoError(t, err)
	return zone
}
