package loom

import (
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// SphereField is a sphere centered on the local origin.
type SphereField struct {
	space  *Spatial
	radius atomicFloat64
}

func AddSphereField(node *Node, radius float64) (*SphereField, error) {
	space, has := node.Spatial()
	if !has {
		return nil, ErrAspectMissing
	}
	f := &SphereField{space: space}
	f.SetRadius(radius)
	if err := attachField(node, f); err != nil {
		return nil, err
	}
	node.AddLocalSignal("set_radius", func(node *Node, _ *Client, msg Message) error {
		var radius float64
		if err := Deserialize(msg.Data, &radius); err != nil {
			return err
		}
		field, _ := node.Field()
		sphere, ok := field.(*SphereField)
		if !ok {
			return ErrAspectMissing
		}
		sphere.SetRadius(radius)
		return nil
	})
	return f, nil
}

func (f *SphereField) SetRadius(radius float64) {
	f.radius.Store(math.Abs(radius))
}

func (f *SphereField) Radius() float64 {
	return f.radius.Load()
}

func (f *SphereField) Spatial() *Spatial {
	return f.space
}

func (f *SphereField) Evaluate(p v3.Vec) float64 {
	return math.Sqrt(p.X*p.X+p.Y*p.Y+p.Z*p.Z) - f.radius.Load()
}

func (f *SphereField) BoundingBox() sdf.Box3 {
	radius := f.radius.Load()
	return sdf.Box3{
		Min: v3.Vec{X: -radius, Y: -radius, Z: -radius},
		Max: v3.Vec{X: radius, Y: radius, Z: radius},
	}
}
