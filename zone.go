package loom

import (
	"math"
	"sync"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/hashicorp/go-metrics"
)

// zoneAliasInfo is the read-only-ish surface a zone projects for each
// visible object: pose mutation and bounds queries, nothing destructive
// and nothing that escapes the zone.
var zoneAliasInfo = AliasInfo{
	ServerSignals: []string{
		"set_transform",
		"set_spatial_parent",
		"set_spatial_parent_in_place",
	},
	ServerMethods: []string{"get_bounds", "get_transform"},
}

// Zone captures nearby zoneable spatials, exclusively re-parents them, and
// projects filtered, diffed visibility of its surroundings to its owning
// client. A spatial is captured by at most one zone at any instant.
type Zone struct {
	spatial *Spatial
	field   Field

	// lk guards the visible set so the diff computation and the swap are
	// atomic with respect to each other: the client never observes a
	// partial set.
	lk        sync.Mutex
	zoneables map[string]*Node

	captured *Registry[Spatial]
}

// AddZone attaches a zone aspect driven by the given field volume. The
// field reference is non-owning: a zone outliving its field reports
// ErrFieldGone on update instead of dangling.
func AddZone(node *Node, spatial *Spatial, field Field) (*Zone, error) {
	z := &Zone{
		spatial:   spatial,
		field:     field,
		zoneables: make(map[string]*Node),
		captured:  NewRegistry[Spatial](),
	}
	if err := node.zone.set(z); err != nil {
		return nil, err
	}
	node.AddLocalSignal("capture", func(node *Node, calling *Client, msg Message) error {
		zone, _ := node.Zone()
		var path string
		if err := Deserialize(msg.Data, &path); err != nil {
			return err
		}
		spatial, err := calling.FindSpatial(path)
		if err != nil {
			return err
		}
		Capture(spatial, zone)
		return nil
	})
	node.AddLocalSignal("release", func(_ *Node, calling *Client, msg Message) error {
		var path string
		if err := Deserialize(msg.Data, &path); err != nil {
			return err
		}
		spatial, err := calling.FindSpatial(path)
		if err != nil {
			return err
		}
		Release(spatial)
		return nil
	})
	node.AddLocalSignal("update", func(node *Node, _ *Client, _ Message) error {
		zone, _ := node.Zone()
		return zone.Update()
	})
	return z, nil
}

func (z *Zone) Spatial() *Spatial {
	return z.spatial
}

// Captured returns a snapshot of the spatials this zone currently holds.
func (z *Zone) Captured() []*Spatial {
	return z.captured.GetValidContents()
}

func (z *Zone) resolveField() (Field, error) {
	if z.field == nil || z.field.Spatial().Node().Destroyed() {
		return nil, ErrFieldGone
	}
	return z.field, nil
}

// notify pushes a capture/release event carrying the object's id to the
// zone's client.
func (z *Zone) notify(signal, id string) {
	node := z.spatial.Node()
	if node.Destroyed() {
		return
	}
	data, err := Serialize(id)
	if err != nil {
		return
	}
	_ = node.SendRemoteSignal(signal, MessageFrom(data))
}

// Capture binds a spatial to a zone iff the zone's field is strictly
// closer (in absolute distance) than the spatial's current zone; equal
// distance keeps the incumbent, so the first-claimed zone wins ties. A
// free spatial counts as infinitely far from its (absent) zone.
func Capture(spatial *Spatial, z *Zone) {
	oldDistance := spatial.ZoneDistance()
	newDistance := math.Inf(1)
	if field, err := z.resolveField(); err == nil {
		newDistance = FieldDistance(field, spatial, v3.Vec{})
	}
	if !(math.Abs(newDistance) < math.Abs(oldDistance)) {
		return
	}

	Release(spatial)

	// Per-spatial state is acquired before per-zone captured-set state,
	// always in that order.
	spatial.lk.Lock()
	spatial.oldParent = spatial.parent
	spatial.zone = z
	spatial.lk.Unlock()
	z.captured.Add(spatial)

	z.spatial.server.msink.IncrCounterWithLabels(MetricLoomCaptureCount, 1.0, []metrics.Label{
		LabelZoneID.M(z.spatial.ID()),
		LabelNodeID.M(spatial.ID()),
	})
	z.notify("capture", spatial.ID())
}

// Release unbinds a spatial: the parent snapshotted before capture is
// unconditionally restored in place, and the old zone's client is
// notified. No-op beyond the parent restore when the spatial is free.
func Release(spatial *Spatial) {
	spatial.lk.Lock()
	oldParent := spatial.oldParent
	spatial.oldParent = nil
	zone := spatial.zone
	spatial.zone = nil
	spatial.lk.Unlock()

	if err := spatial.SetParentInPlace(oldParent); err != nil {
		// The snapshot was reparented under this spatial since capture;
		// it cannot be restored, so fall back to the root frame.
		_ = spatial.SetParentInPlace(nil)
	}

	if zone == nil {
		return
	}
	zone.captured.Remove(spatial)
	zone.spatial.server.msink.IncrCounterWithLabels(MetricLoomReleaseCount, 1.0, []metrics.Label{
		LabelZoneID.M(zone.spatial.ID()),
		LabelNodeID.M(spatial.ID()),
	})
	zone.notify("release", spatial.ID())
}

// Update recomputes the visible set and projects it to the zone's client.
// An object is visible if it is already captured by this zone (captured
// objects are retained even momentarily outside the volume, so update
// order cannot flicker them), or if it is strictly inside the field and
// strictly closer than to its own capturing zone. Every visible object is
// projected as a fresh capability-scoped alias; ids entering the set emit
// "enter", ids leaving it emit "leave", and the swap is atomic with the
// diff.
func (z *Zone) Update() error {
	field, err := z.resolveField()
	if err != nil {
		return err
	}
	zoneNode := z.spatial.Node()
	client := zoneNode.Client()
	if client == nil {
		return ErrClientGone
	}

	z.lk.Lock()
	defer z.lk.Unlock()

	previous := z.zoneables
	for _, aliasNode := range previous {
		aliasNode.Destroy()
	}

	captured := z.captured.GetValidContents()
	fresh := make(map[string]*Node, len(previous))
	for _, zoneable := range z.spatial.server.zoneables.GetValidContents() {
		if zoneable.Node().Destroyed() || zoneable == z.spatial {
			continue
		}
		visible := false
		for _, held := range captured {
			if held == zoneable {
				visible = true
				break
			}
		}
		if !visible {
			selfDistance := FieldDistance(field, zoneable, v3.Vec{})
			visible = selfDistance < 0 && zoneable.ZoneDistance() > selfDistance
		}
		if !visible {
			continue
		}
		aliasNode, err := CreateAlias(client, zoneNode.Path(), zoneable.ID(), zoneable.Node(), zoneAliasInfo)
		if err != nil {
			continue
		}
		fresh[zoneable.ID()] = aliasNode
	}

	for id := range fresh {
		if _, had := previous[id]; !had {
			data, err := Serialize(id)
			if err != nil {
				continue
			}
			_ = zoneNode.SendRemoteSignal("enter", MessageFrom(data))
		}
	}
	for id := range previous {
		if _, has := fresh[id]; !has {
			data, err := Serialize(id)
			if err != nil {
				continue
			}
			_ = zoneNode.SendRemoteSignal("leave", MessageFrom(data))
		}
	}

	z.zoneables = fresh

	msink := z.spatial.server.msink
	msink.IncrCounterWithLabels(MetricLoomZoneUpdateCount, 1.0, []metrics.Label{
		LabelZoneID.M(z.spatial.ID()),
	})
	msink.SetGaugeWithLabels(MetricLoomZoneVisibleGauge, float32(len(fresh)), []metrics.Label{
		LabelZoneID.M(z.spatial.ID()),
	})
	return nil
}

// teardown releases every captured spatial so none is left re-parented
// with its pre-capture snapshot lost, then drops the projected aliases.
func (z *Zone) teardown() {
	for _, captured := range z.captured.GetValidContents() {
		Release(captured)
	}
	z.lk.Lock()
	previous := z.zoneables
	z.zoneables = make(map[string]*Node)
	z.lk.Unlock()
	for _, aliasNode := range previous {
		aliasNode.Destroy()
	}
}

func createZoneHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string    `json:"name"`
		ParentPath string    `json:"parent_path"`
		Transform  Transform `json:"transform"`
		FieldPath  string    `json:"field_path"`
	}
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	if !ValidateNodeName(info.Name) {
		return ErrNameInvalid
	}
	var parent *Spatial
	if info.ParentPath != "" {
		var err error
		parent, err = calling.FindSpatial(info.ParentPath)
		if err != nil {
			return err
		}
	}
	field, err := calling.FindField(info.FieldPath)
	if err != nil {
		return err
	}
	node, err := NewNode(calling, "/spatial/zone", info.Name, true).AddToScenegraph()
	if err != nil {
		return err
	}
	spatial, err := AddSpatial(node, parent, info.Transform, false)
	if err != nil {
		node.Destroy()
		return err
	}
	if _, err := AddZone(node, spatial, field); err != nil {
		node.Destroy()
		return err
	}
	return nil
}
