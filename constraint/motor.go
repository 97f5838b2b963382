package constraint

import (
	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// LinearVelocityMotorJacobian drives the relative velocity of the pivots along
// one axis of frame B towards Target.
type LinearVelocityMotorJacobian struct {
	PivotAinA          mgl64.Vec3
	PivotBinB          mgl64.Vec3
	AxisInB            mgl64.Vec3
	WorldFromA         actor.Transform
	WorldFromB         actor.Transform
	Target             float64
	Damping            float64
	MaxImpulse         float64
	AccumulatedImpulse float64
}

func (jac *LinearVelocityMotorJacobian) Build(aFromConstraint, bFromConstraint actor.Transform,
	motionA, motionB actor.MotionData, c Constraint, damping float64) {
	jac.PivotAinA = aFromConstraint.Position
	jac.PivotBinB = bFromConstraint.Position
	jac.AxisInB = bFromConstraint.Axis(c.ConstrainedAxis())
	jac.WorldFromA = motionA.WorldFromMotion
	jac.WorldFromB = motionB.WorldFromMotion
	jac.Target = c.Target
	jac.Damping = damping
	jac.MaxImpulse = c.MaxImpulse
}

// Solve returns the world space linear impulse applied to A.
func (jac *LinearVelocityMotorJacobian) Solve(velocityA, velocityB *actor.MotionVelocity, input *StepInput) mgl64.Vec3 {
	axis := jac.WorldFromB.Rotation.Rotate(jac.AxisInB)
	angA := jac.PivotAinA.Cross(jac.WorldFromA.Rotation.Conjugate().Rotate(axis))
	angB := jac.PivotBinB.Cross(jac.WorldFromB.Rotation.Conjugate().Rotate(axis)).Mul(-1)

	row := ContactJacAngular{AngularA: angA, AngularB: angB}
	relativeVelocity := row.velocity(axis, *velocityA, *velocityB)
	invEffectiveMass := velocityA.InverseMass + velocityB.InverseMass +
		angularInvEffectiveMass(angA, velocityA.InverseInertia, angB, velocityB.InverseInertia)

	impulse := safeReciprocal(invEffectiveMass) * (jac.Target - relativeVelocity) * jac.Damping
	impulse = CapImpulse(impulse, &jac.AccumulatedImpulse, jac.MaxImpulse)

	applyRow(axis, angA, angB, impulse, velocityA, velocityB, 1, 1)
	return axis.Mul(impulse)
}

// AngularVelocityMotorJacobian drives the relative angular velocity about one
// axis of frame A towards Target.
type AngularVelocityMotorJacobian struct {
	AxisInMotionA      mgl64.Vec3
	MotionBFromA       mgl64.Quat
	Target             float64
	Damping            float64
	MaxImpulse         float64
	AccumulatedImpulse float64
}

func (jac *AngularVelocityMotorJacobian) Build(aFromConstraint, bFromConstraint actor.Transform,
	motionA, motionB actor.MotionData, c Constraint, damping float64) {
	jac.AxisInMotionA = aFromConstraint.Axis(c.ConstrainedAxis())
	jac.MotionBFromA = bFromA(motionA, motionB)
	jac.Target = c.Target
	jac.Damping = damping
	jac.MaxImpulse = c.MaxImpulse
}

// Solve returns the angular impulse applied to A, in A's motion space.
func (jac *AngularVelocityMotorJacobian) Solve(velocityA, velocityB *actor.MotionVelocity, input *StepInput) mgl64.Vec3 {
	future := IntegrateOrientationBFromA(jac.MotionBFromA, velocityA.AngularVelocity, velocityB.AngularVelocity, input.Timestep)
	axisA := jac.AxisInMotionA
	axisB := future.Rotate(axisA.Mul(-1))

	relativeVelocity := velocityA.AngularVelocity.Dot(axisA) + velocityB.AngularVelocity.Dot(axisB)
	effectiveMass := safeReciprocal(angularInvEffectiveMass(axisA, velocityA.InverseInertia, axisB, velocityB.InverseInertia))

	impulse := effectiveMass * (jac.Target - relativeVelocity) * jac.Damping
	impulse = CapImpulse(impulse, &jac.AccumulatedImpulse, jac.MaxImpulse)

	velocityA.ApplyAngularImpulse(axisA.Mul(impulse))
	velocityB.ApplyAngularImpulse(axisB.Mul(impulse))
	return axisA.Mul(impulse)
}
