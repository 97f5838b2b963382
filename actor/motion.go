package actor

import (
	"github.com/go-gl/mathgl/mgl64"
)

// BodyType represents how a body takes part in the velocity solve
type BodyType int

const (
	// BodyTypeDynamic bodies have finite mass and receive impulses
	BodyTypeDynamic BodyType = iota

	// BodyTypeStatic bodies are immovable and have infinite mass.
	// They never own a slot in the velocity buffer.
	BodyTypeStatic

	// BodyTypeKinematic bodies move with a prescribed velocity but have infinite
	// mass: their inverse mass and inverse inertia are zero.
	BodyTypeKinematic
)

// MotionVelocity is the per dynamic body state read and written by the solver.
// Angular quantities live in motion space, where the inertia tensor is diagonal.
type MotionVelocity struct {
	LinearVelocity  mgl64.Vec3 // world space (m/s)
	AngularVelocity mgl64.Vec3 // motion space (rad/s)
	InverseInertia  mgl64.Vec3 // diagonal, motion space
	InverseMass     float64
}

// ZeroMotionVelocity is the sentinel used for static bodies: no velocity and
// infinite mass.
var ZeroMotionVelocity = MotionVelocity{}

// MotionData is the per dynamic body state the solver only reads.
type MotionData struct {
	WorldFromMotion Transform
	GravityFactor   float64
}

// IsKinematic reports whether the body has infinite mass and inertia.
func (mv MotionVelocity) IsKinematic() bool {
	return mv.InverseMass == 0 && mv.InverseInertia == (mgl64.Vec3{})
}

// ApplyLinearImpulse changes the linear velocity by impulse * inverse mass.
func (mv *MotionVelocity) ApplyLinearImpulse(impulse mgl64.Vec3) {
	mv.LinearVelocity = mv.LinearVelocity.Add(impulse.Mul(mv.InverseMass))
}

// ApplyAngularImpulse changes the angular velocity by impulse * inverse inertia.
// The impulse is expressed in motion space.
func (mv *MotionVelocity) ApplyAngularImpulse(impulse mgl64.Vec3) {
	mv.AngularVelocity = mv.AngularVelocity.Add(MulElem(impulse, mv.InverseInertia))
}

// Classify returns the type of the body stored at index. Indices at or above the
// dynamic count are static.
func Classify(index, numDynamic int, velocities []MotionVelocity) BodyType {
	if index >= numDynamic {
		return BodyTypeStatic
	}
	if velocities[index].IsKinematic() {
		return BodyTypeKinematic
	}
	return BodyTypeDynamic
}

// MulElem multiplies two vectors component by component.
func MulElem(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// DiagonalInverseInertia returns the inverse of a diagonal inertia, with zero for
// infinite or zero components.
func DiagonalInverseInertia(inertia mgl64.Vec3) mgl64.Vec3 {
	var inv mgl64.Vec3
	for i := range 3 {
		if inertia[i] > 0 {
			inv[i] = 1.0 / inertia[i]
		}
	}
	return inv
}
