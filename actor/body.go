package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Material holds the surface coefficients a contact between two bodies is
// built from.
type Material struct {
	Restitution float64 // 0= no rebound, 1= perfect restitution
	Friction    float64
}

// CombineRestitution averages the restitution of two materials.
func CombineRestitution(matA, matB Material) float64 {
	return (matA.Restitution + matB.Restitution) / 2.0
}

// CombineFriction returns the geometric mean of the friction of two materials.
func CombineFriction(matA, matB Material) float64 {
	return math.Sqrt(matA.Friction * matB.Friction)
}

// Body is a rigid body as a world owns it. Between steps its velocity and
// transform are the source of truth; during a step they are copied into the
// solver arenas and back.
type Body struct {
	Entity uuid.UUID

	// Transform maps motion space (centre of mass, principal axes) to world space.
	Transform Transform
	// Linear velocity (m/s)
	LinearVelocity mgl64.Vec3
	// Angular velocity in world space (rad/s)
	AngularVelocity mgl64.Vec3

	MassProperties MassProperties
	Material       Material
	GravityFactor  float64
	BodyType       BodyType
}

// NewBody creates a body with a fresh entity and full gravity.
func NewBody(transform Transform, massProperties MassProperties, bodyType BodyType) *Body {
	return &Body{
		Entity:         uuid.New(),
		Transform:      transform,
		MassProperties: massProperties,
		GravityFactor:  1.0,
		BodyType:       bodyType,
	}
}

// MotionData returns the read-only solver view of the body.
func (b *Body) MotionData() MotionData {
	gravityFactor := b.GravityFactor
	if b.BodyType != BodyTypeDynamic {
		gravityFactor = 0
	}
	return MotionData{WorldFromMotion: b.Transform, GravityFactor: gravityFactor}
}

// MotionVelocity returns the velocity the solver works on. Kinematic and static
// bodies get zero inverse mass and inertia.
func (b *Body) MotionVelocity() MotionVelocity {
	if b.BodyType == BodyTypeStatic {
		return ZeroMotionVelocity
	}

	mv := MotionVelocity{
		LinearVelocity:  b.LinearVelocity,
		AngularVelocity: b.Transform.Rotation.Conjugate().Rotate(b.AngularVelocity),
	}
	if b.BodyType == BodyTypeDynamic {
		mv.InverseMass, mv.InverseInertia = b.MassProperties.Inverse()
	}
	return mv
}

// SetMotion writes the solver state of a step back into the body.
func (b *Body) SetMotion(motion MotionData, velocity MotionVelocity) {
	if b.BodyType == BodyTypeStatic {
		return
	}
	b.Transform = motion.WorldFromMotion
	b.LinearVelocity = velocity.LinearVelocity
	b.AngularVelocity = motion.WorldFromMotion.Rotation.Rotate(velocity.AngularVelocity)
}
