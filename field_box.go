package loom

import (
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// BoxField is an axis-aligned box centered on the local origin. Each
// extent is its own atomic so a partial set_size still reads as a valid
// box.
type BoxField struct {
	space *Spatial
	x     atomicFloat64
	y     atomicFloat64
	z     atomicFloat64
}

func AddBoxField(node *Node, size v3.Vec) (*BoxField, error) {
	space, has := node.Spatial()
	if !has {
		return nil, ErrAspectMissing
	}
	f := &BoxField{space: space}
	f.SetSize(size)
	if err := attachField(node, f); err != nil {
		return nil, err
	}
	node.AddLocalSignal("set_size", func(node *Node, _ *Client, msg Message) error {
		var size [3]float64
		if err := Deserialize(msg.Data, &size); err != nil {
			return err
		}
		field, _ := node.Field()
		box, ok := field.(*BoxField)
		if !ok {
			return ErrAspectMissing
		}
		box.SetSize(v3.Vec{X: size[0], Y: size[1], Z: size[2]})
		return nil
	})
	return f, nil
}

func (f *BoxField) SetSize(size v3.Vec) {
	f.x.Store(math.Abs(size.X))
	f.y.Store(math.Abs(size.Y))
	f.z.Store(math.Abs(size.Z))
}

func (f *BoxField) Size() v3.Vec {
	return v3.Vec{X: f.x.Load(), Y: f.y.Load(), Z: f.z.Load()}
}

func (f *BoxField) Spatial() *Spatial {
	return f.space
}

func (f *BoxField) Evaluate(p v3.Vec) float64 {
	qx := math.Abs(p.X) - f.x.Load()*0.5
	qy := math.Abs(p.Y) - f.y.Load()*0.5
	qz := math.Abs(p.Z) - f.z.Load()*0.5
	ox := math.Max(qx, 0)
	oy := math.Max(qy, 0)
	oz := math.Max(qz, 0)
	outside := math.Sqrt(ox*ox + oy*oy + oz*oz)
	return outside + math.Min(math.Max(qx, math.Max(qy, qz)), 0)
}

func (f *BoxField) BoundingBox() sdf.Box3 {
	half := v3.Vec{X: f.x.Load() * 0.5, Y: f.y.Load() * 0.5, Z: f.z.Load() * 0.5}
	return sdf.Box3{
		Min: v3.Vec{X: -half.X, Y: -half.Y, Z: -half.Z},
		Max: half,
	}
}
