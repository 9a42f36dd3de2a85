package loom

import (
	"math"
	"sync"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Transform is the wire form of a local pose. Rotation is XYZ euler in
// degrees; absent components keep their current value on set and default
// to identity on creation.
type Transform struct {
	Position *[3]float64 `json:"position,omitempty"`
	Rotation *[3]float64 `json:"rotation,omitempty"`
	Scale    *[3]float64 `json:"scale,omitempty"`
}

func vecOf(v *[3]float64, fallback v3.Vec) v3.Vec {
	if v == nil {
		return fallback
	}
	return v3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

func vecWire(v v3.Vec) *[3]float64 {
	return &[3]float64{v.X, v.Y, v.Z}
}

func composeMatrix(position, rotation, scale v3.Vec) sdf.M44 {
	xRad := rotation.X * math.Pi / 180.0
	yRad := rotation.Y * math.Pi / 180.0
	zRad := rotation.Z * math.Pi / 180.0
	rot := sdf.RotateZ(zRad).Mul(sdf.RotateY(yRad)).Mul(sdf.RotateX(xRad))
	return sdf.Translate3d(position).Mul(rot).Mul(sdf.Scale3d(scale))
}

// Spatial is the pose aspect: a local transform under a swappable parent
// link, plus the capture bookkeeping a Zone relies on (current zone
// back-reference and the parent snapshot taken right before capture).
type Spatial struct {
	node   *Node
	server *Server

	// lk guards everything below. Capture and release acquire the
	// per-spatial lock before any per-zone captured-set state, in that
	// fixed order.
	lk        sync.Mutex
	position  v3.Vec
	rotation  v3.Vec
	scale     v3.Vec
	parent    *Spatial
	zone      *Zone
	oldParent *Spatial
	zoneable  bool
}

// AddSpatial attaches a spatial aspect to a node. Fails if the slot is
// already occupied. Zoneable spatials enter the server's zoneable registry
// and become candidates for zone capture.
func AddSpatial(node *Node, parent *Spatial, transform Transform, zoneable bool) (*Spatial, error) {
	client := node.Client()
	if client == nil {
		return nil, ErrClientGone
	}
	s := &Spatial{
		node:     node,
		server:   client.server,
		position: vecOf(transform.Position, v3.Vec{}),
		rotation: vecOf(transform.Rotation, v3.Vec{}),
		scale:    vecOf(transform.Scale, v3.Vec{X: 1, Y: 1, Z: 1}),
		parent:   parent,
		zoneable: zoneable,
	}
	if err := node.spatial.set(s); err != nil {
		return nil, err
	}
	s.addSpatialMembers()
	if zoneable {
		s.server.zoneables.Add(s)
	}
	return s, nil
}

func (s *Spatial) addSpatialMembers() {
	s.node.AddLocalSignal("set_transform", func(node *Node, _ *Client, msg Message) error {
		var transform Transform
		if err := Deserialize(msg.Data, &transform); err != nil {
			return err
		}
		spatial, _ := node.Spatial()
		spatial.SetLocalTransform(transform)
		return nil
	})
	s.node.AddLocalSignal("set_spatial_parent", func(node *Node, calling *Client, msg Message) error {
		spatial, _ := node.Spatial()
		parent, err := resolveParent(calling, msg)
		if err != nil {
			return err
		}
		return spatial.SetParent(parent)
	})
	s.node.AddLocalSignal("set_spatial_parent_in_place", func(node *Node, calling *Client, msg Message) error {
		spatial, _ := node.Spatial()
		parent, err := resolveParent(calling, msg)
		if err != nil {
			return err
		}
		return spatial.SetParentInPlace(parent)
	})
	s.node.AddLocalMethod("get_transform", func(node *Node, _ *Client, _ Message, response MethodResponseSender) {
		spatial, _ := node.Spatial()
		data, err := Serialize(spatial.LocalTransform())
		if err != nil {
			response.SendError(err)
			return
		}
		response.Send(MethodResult{Data: data})
	})
	s.node.AddLocalMethod("get_bounds", func(node *Node, _ *Client, _ Message, response MethodResponseSender) {
		spatial, _ := node.Spatial()
		bounds := spatial.Bounds()
		data, err := Serialize(struct {
			Min [3]float64 `json:"min"`
			Max [3]float64 `json:"max"`
		}{
			Min: [3]float64{bounds.Min.X, bounds.Min.Y, bounds.Min.Z},
			Max: [3]float64{bounds.Max.X, bounds.Max.Y, bounds.Max.Z},
		})
		if err != nil {
			response.SendError(err)
			return
		}
		response.Send(MethodResult{Data: data})
	})
}

func resolveParent(calling *Client, msg Message) (*Spatial, error) {
	var path string
	if err := Deserialize(msg.Data, &path); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	return calling.FindSpatial(path)
}

func (s *Spatial) Node() *Node {
	return s.node
}

func (s *Spatial) ID() string {
	return s.node.id
}

func (s *Spatial) Zoneable() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.zoneable
}

// LocalTransform returns the current pose relative to the parent.
func (s *Spatial) LocalTransform() Transform {
	s.lk.Lock()
	defer s.lk.Unlock()
	return Transform{
		Position: vecWire(s.position),
		Rotation: vecWire(s.rotation),
		Scale:    vecWire(s.scale),
	}
}

// SetLocalTransform overwrites the components present in the given
// transform; absent components are kept.
func (s *Spatial) SetLocalTransform(transform Transform) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.position = vecOf(transform.Position, s.position)
	s.rotation = vecOf(transform.Rotation, s.rotation)
	s.scale = vecOf(transform.Scale, s.scale)
}

func (s *Spatial) localMatrix() sdf.M44 {
	return composeMatrix(s.position, s.rotation, s.scale)
}

// GlobalTransform walks the parent chain. Locks are taken one level at a
// time, never two at once.
func (s *Spatial) GlobalTransform() sdf.M44 {
	s.lk.Lock()
	local := s.localMatrix()
	parent := s.parent
	s.lk.Unlock()
	if parent == nil {
		return local
	}
	return parent.GlobalTransform().Mul(local)
}

// RelativeTransform maps points in this spatial's frame into the target
// spatial's frame.
func (s *Spatial) RelativeTransform(to *Spatial) sdf.M44 {
	if to == nil {
		return s.GlobalTransform()
	}
	return to.GlobalTransform().Inverse().Mul(s.GlobalTransform())
}

func (s *Spatial) Parent() *Spatial {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.parent
}

// ancestorOf reports whether s appears in the parent chain starting at
// candidate, candidate included. Locks are taken one level at a time.
func (s *Spatial) ancestorOf(candidate *Spatial) bool {
	for p := candidate; p != nil; p = p.Parent() {
		if p == s {
			return true
		}
	}
	return false
}

// SetParent swaps the parent link, keeping the local transform. A parent
// whose ancestor chain contains the spatial itself is rejected; the pose
// walk must always terminate.
func (s *Spatial) SetParent(parent *Spatial) error {
	if s.ancestorOf(parent) {
		return ErrSpatialCycle
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	s.parent = parent
	return nil
}

// SetParentInPlace swaps the parent link while preserving the world
// position: the local origin is rebased into the new parent's frame. The
// same cycle rule as SetParent applies.
func (s *Spatial) SetParentInPlace(parent *Spatial) error {
	if s.ancestorOf(parent) {
		return ErrSpatialCycle
	}
	global := s.GlobalTransform()
	rebased := global
	if parent != nil {
		rebased = parent.GlobalTransform().Inverse().Mul(global)
	}
	origin := rebased.MulPosition(v3.Vec{})
	s.lk.Lock()
	defer s.lk.Unlock()
	s.position = origin
	s.parent = parent
	return nil
}

// Bounds returns the axis-aligned bounds of the node in its local frame:
// the attached field's box when one exists, a degenerate point otherwise.
func (s *Spatial) Bounds() sdf.Box3 {
	if field, has := s.node.Field(); has {
		return field.BoundingBox()
	}
	return sdf.Box3{}
}

// CurrentZone returns the zone currently capturing this spatial, if any.
func (s *Spatial) CurrentZone() *Zone {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.zone
}

// ZoneDistance is the signed distance from the capturing zone's field to
// this spatial's origin, or +Inf when free (or the field is gone).
func (s *Spatial) ZoneDistance() float64 {
	s.lk.Lock()
	zone := s.zone
	s.lk.Unlock()
	if zone == nil {
		return math.Inf(1)
	}
	field, err := zone.resolveField()
	if err != nil {
		return math.Inf(1)
	}
	return FieldDistance(field, s, v3.Vec{})
}

func (s *Spatial) teardown() {
	Release(s)
	s.lk.Lock()
	zoneable := s.zoneable
	s.zoneable = false
	s.lk.Unlock()
	if zoneable {
		s.server.zoneables.Remove(s)
	}
}

// addSpatialInterface publishes the /spatial creation surface on a fresh
// client.
func addSpatialInterface(c *Client) {
	node := NewNodeAtPath(c, "/spatial", false)
	node.AddLocalSignal("create_spatial", createSpatialHandler)
	node.AddLocalSignal("create_zone", createZoneHandler)
	if _, err := node.AddToScenegraph(); err != nil {
		c.logger.Error("failed to publish spatial interface", LabelError.L(err))
	}
}

func createSpatialHandler(_ *Node, calling *Client, msg Message) error {
	var info struct {
		Name       string    `json:"name"`
		ParentPath string    `json:"parent_path"`
		Transform  Transform `json:"transform"`
		Zoneable   bool      `json:"zoneable"`
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
	node, err := NewNode(calling, "/spatial/spatial", info.Name, true).AddToScenegraph()
	if err != nil {
		return err
	}
	_, err = AddSpatial(node, parent, info.Transform, info.Zoneable)
	if err != nil {
		node.Destroy()
	}
	return err
}
