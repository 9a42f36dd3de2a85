package loom

import (
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// CylinderField is a capped cylinder aligned on the local Z axis, centered
// on the local origin. Shape parameters are independently atomic: a
// concurrent set_size never blocks or tears a distance evaluation.
type CylinderField struct {
	space  *Spatial
	length atomicFloat64
	radius atomicFloat64
}

// AddCylinderField attaches a capped-cylinder field to a node that already
// carries a spatial. Negative dimensions are normalized to their absolute
// value.
func AddCylinderField(node *Node, length, radius float64) (*CylinderField, error) {
	space, has := node.Spatial()
	if !has {
		return nil, ErrAspectMissing
	}
	f := &CylinderField{space: space}
	f.SetSize(length, radius)
	if err := attachField(node, f); err != nil {
		return nil, err
	}
	node.AddLocalSignal("set_size", func(node *Node, _ *Client, msg Message) error {
		var size [2]float64
		if err := Deserialize(msg.Data, &size); err != nil {
			return err
		}
		field, _ := node.Field()
		cylinder, ok := field.(*CylinderField)
		if !ok {
			return ErrAspectMissing
		}
		cylinder.SetSize(size[0], size[1])
		return nil
	})
	return f, nil
}

func (f *CylinderField) SetSize(length, radius float64) {
	f.length.Store(math.Abs(length))
	f.radius.Store(math.Abs(radius))
}

func (f *CylinderField) Size() (length, radius float64) {
	return f.length.Load(), f.radius.Load()
}

func (f *CylinderField) Spatial() *Spatial {
	return f.space
}

// Evaluate returns the exact signed distance to the capped cylinder:
// negative strictly inside, zero on the surface, euclidean surface
// distance outside.
func (f *CylinderField) Evaluate(p v3.Vec) float64 {
	radius := f.radius.Load()
	length := f.length.Load()
	dx := math.Hypot(p.X, p.Y) - radius
	dz := math.Abs(p.Z) - length*0.5
	outside := math.Hypot(math.Max(dx, 0), math.Max(dz, 0))
	return math.Min(math.Max(dx, dz), 0) + outside
}

func (f *CylinderField) BoundingBox() sdf.Box3 {
	radius := f.radius.Load()
	h := f.length.Load() * 0.5
	return sdf.Box3{
		Min: v3.Vec{X: -radius, Y: -radius, Z: -h},
		Max: v3.Vec{X: radius, Y: radius, Z: h},
	}
}
