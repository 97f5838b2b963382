package actor

import "github.com/go-gl/mathgl/mgl64"

// Transform maps a body's motion space (centre of mass, principal inertia axes)
// into world space.
type Transform struct {
	Rotation mgl64.Quat
	Position mgl64.Vec3
}

// NewTransform creates an identity transform
func NewTransform() Transform {
	return Transform{
		Rotation: mgl64.QuatIdent(),
		Position: mgl64.Vec3{0, 0, 0},
	}
}

// Apply maps a point from the transform's local space into its parent space.
func (t Transform) Apply(point mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Rotate(point).Add(t.Position)
}

// ApplyInverse maps a point from the parent space into the transform's local space.
func (t Transform) ApplyInverse(point mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Conjugate().Rotate(point.Sub(t.Position))
}

// Inverse returns the transform going the other way. Rotations are assumed unit length.
func (t Transform) Inverse() Transform {
	return Transform{
		Rotation: t.Rotation.Conjugate(),
		Position: t.ApplyInverse(mgl64.Vec3{}),
	}
}

// Mul composes t with other: the result applies other first, then t.
func (t Transform) Mul(other Transform) Transform {
	return Transform{
		Rotation: t.Rotation.Mul(other.Rotation).Normalize(),
		Position: t.Apply(other.Position),
	}
}

// Axis returns the i-th column of the rotation, i.e. the local axis i expressed in
// the parent space.
func (t Transform) Axis(i int) mgl64.Vec3 {
	var unit mgl64.Vec3
	unit[i] = 1
	return t.Rotation.Rotate(unit)
}
