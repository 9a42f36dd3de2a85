package loom

import (
	"math"
	"sync/atomic"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Field is the signed-distance aspect: a pure geometric predicate attached
// to exactly one spatial. Evaluation happens in the field's own local
// frame; callers bring query points in through FieldDistance. A Field
// satisfies sdf.SDF3, so sdfx renderers can consume it unchanged.
type Field interface {
	sdf.SDF3
	Spatial() *Spatial
}

// atomicFloat64 gives wait-free reads of a shape parameter while a setter
// updates it in place.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// FieldDistance evaluates the field for a point expressed in the reference
// spatial's frame. A nil reference means the point is already field-local.
func FieldDistance(f Field, reference *Spatial, point v3.Vec) float64 {
	local := point
	if reference != nil {
		local = reference.RelativeTransform(f.Spatial()).MulPosition(point)
	}
	return f.Evaluate(local)
}

const normalEpsilon = 1e-4

// FieldNormal estimates the surface normal at a point by central
// differences, returned in the field's local frame.
func FieldNormal(f Field, reference *Spatial, point v3.Vec) v3.Vec {
	local := point
	if reference != nil {
		local = reference.RelativeTransform(f.Spatial()).MulPosition(point)
	}
	grad := v3.Vec{
		X: f.Evaluate(v3.Vec{X: local.X + normalEpsilon, Y: local.Y, Z: local.Z}) -
			f.Evaluate(v3.Vec{X: local.X - normalEpsilon, Y: local.Y, Z: local.Z}),
		Y: f.Evaluate(v3.Vec{X: local.X, Y: local.Y + normalEpsilon, Z: local.Z}) -
			f.Evaluate(v3.Vec{X: local.X, Y: local.Y - normalEpsilon, Z: local.Z}),
		Z: f.Evaluate(v3.Vec{X: local.X, Y: local.Y, Z: local.Z + normalEpsilon}) -
			f.Evaluate(v3.Vec{X: local.X, Y: local.Y, Z: local.Z - normalEpsilon}),
	}
	length := math.Sqrt(grad.X*grad.X + grad.Y*grad.Y + grad.Z*grad.Z)
	if length == 0 {
		return v3.Vec{}
	}
	return v3.Vec{X: grad.X / length, Y: grad.Y / length, Z: grad.Z / length}
}

// attachField occupies the node's field slot and registers the dispatch
// surface common to all field variants. The node must already carry a
// spatial.
func attachField(node *Node, f Field) error {
	if _, has := node.Spatial(); !has {
		return ErrAspectMissing
	}
	if err := node.field.set(f); err != nil {
		return err
	}
	addFieldMembers(node)
	return nil
}

type fieldQuery struct {
	SpacePath string     `json:"space_path"`
	Point     [3]float64 `json:"point"`
}

func addFieldMembers(node *Node) {
	node.AddLocalMethod("distance", func(node *Node, calling *Client, msg Message, response MethodResponseSender) {
		field, reference, point, err := parseFieldQuery(node, calling, msg)
		if err != nil {
			response.SendError(err)
			return
		}
		data, err := Serialize(FieldDistance(field, reference, point))
		if err != nil {
			response.SendError(err)
			return
		}
		response.Send(MethodResult{Data: data})
	})
	node.AddLocalMethod("normal", func(node *Node, calling *Client, msg Message, response MethodResponseSender) {
		field, reference, point, err := parseFieldQuery(node, calling, msg)
		if err != nil {
			response.SendError(err)
			return
		}
		normal := FieldNormal(field, reference, point)
		data, err := Serialize([3]float64{normal.X, normal.Y, normal.Z})
		if err != nil {
			response.SendError(err)
			return
		}
		response.Send(MethodResult{Data: data})
	})
}

func parseFieldQuery(node *Node, calling *Client, msg Message) (Field, *Spatial, v3.Vec, error) {
	var query fieldQuery
	if err := Deserialize(msg.Data, &query); err != nil {
		return nil, nil, v3.Vec{}, err
	}
	field, has := node.Field()
	if !has {
		return nil, nil, v3.Vec{}, ErrAspectMissing
	}
	var reference *Spatial
	if query.SpacePath != "" {
		var err error
		reference, err = calling.FindSpatial(query.SpacePath)
		if err != nil {
			return nil, nil, v3.Vec{}, err
		}
	}
	return field, reference, v3.Vec{X: query.Point[0], Y: query.Point[1], Z: query.Point[2]}, nil
}

// addFieldInterface publishes the /field creation surface on a fresh
// client.
func addFieldInterface(c *Client) {
	node := NewNodeAtPath(c, "/field", false)
	node.AddLocalSignal("create_cylinder_field", createCylinderFieldHandler)
	node.AddLocalSignal("create_sphere_field", createSphereFieldHandler)
	node.AddLocalSignal("create_box_field", createBoxFieldHandler)
	if _, err := node.AddToScenegraph(); err != nil {
		c.logger.Error("failed to publish field interface", LabelError.L(err))
	}
}

type createFieldInfo struct {
	Name       string    `json:"name"`
	ParentPath string    `json:"parent_path"`
	Transform  Transform `json:"transform"`

	// cylinder
	Length float64 `json:"length,omitempty"`
	// cylinder, sphere
	Radius float64 `json:"radius,omitempty"`
	// box
	Size *[3]float64 `json:"size,omitempty"`
}

func newFieldNode(calling *Client, info createFieldInfo) (*Node, error) {
	if !ValidateNodeName(info.Name) {
		return nil, ErrNameInvalid
	}
	var parent *Spatial
	if info.ParentPath != "" {
		var err error
		parent, err = calling.FindSpatial(info.ParentPath)
		if err != nil {
			return nil, err
		}
	}
	node, err := NewNode(calling, "/field", info.Name, true).AddToScenegraph()
	if err != nil {
		return nil, err
	}
	if _, err := AddSpatial(node, parent, info.Transform, false); err != nil {
		node.Destroy()
		return nil, err
	}
	return node, nil
}

func createCylinderFieldHandler(_ *Node, calling *Client, msg Message) error {
	var info createFieldInfo
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	node, err := newFieldNode(calling, info)
	if err != nil {
		return err
	}
	if _, err := AddCylinderField(node, info.Length, info.Radius); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func createSphereFieldHandler(_ *Node, calling *Client, msg Message) error {
	var info createFieldInfo
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	node, err := newFieldNode(calling, info)
	if err != nil {
		return err
	}
	if _, err := AddSphereField(node, info.Radius); err != nil {
		node.Destroy()
		return err
	}
	return nil
}

func createBoxFieldHandler(_ *Node, calling *Client, msg Message) error {
	var info createFieldInfo
	if err := Deserialize(msg.Data, &info); err != nil {
		return err
	}
	node, err := newFieldNode(calling, info)
	if err != nil {
		return err
	}
	size := v3.Vec{X: 1, Y: 1, Z: 1}
	if info.Size != nil {
		size = v3.Vec{X: info.Size[0], Y: info.Size[1], Z: info.Size[2]}
	}
	if _, err := AddBoxField(node, size); err != nil {
		node.Destroy()
		return err
	}
	return nil
}
