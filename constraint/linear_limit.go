package constraint

import (
	"math"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// LinearLimitJacobian keeps the distance between the two joint pivots within
// [MinDistance, MaxDistance]. With one constrained axis the distance is
// measured along that axis of frame B; with two it is measured from the line
// through B's pivot along the free axis; with three it is the plain distance
// between the pivots.
//
// For one or two axes, A's pivot is projected onto B's line or plane and the
// distance is taken to that projection. When MinDistance != MaxDistance the
// projection is only an approximation of the admissible region.
type LinearLimitJacobian struct {
	PivotAinA   mgl64.Vec3 // motion space of A
	PivotBinB   mgl64.Vec3 // motion space of B
	AxisInB     mgl64.Vec3 // constrained axis (1D), free axis (2D), zero (3D)
	Is1D        bool
	MinDistance float64
	MaxDistance float64

	Tau          float64
	Damping      float64
	InitialError float64

	WorldFromA actor.Transform
	WorldFromB actor.Transform
}

func (jac *LinearLimitJacobian) Build(aFromConstraint, bFromConstraint actor.Transform,
	motionA, motionB actor.MotionData, c Constraint, tau, damping float64) {
	jac.PivotAinA = aFromConstraint.Position
	jac.PivotBinB = bFromConstraint.Position
	jac.MinDistance = c.Min
	jac.MaxDistance = c.Max
	jac.Tau = tau
	jac.Damping = damping
	jac.WorldFromA = motionA.WorldFromMotion
	jac.WorldFromB = motionB.WorldFromMotion

	switch c.Dimension() {
	case 1:
		jac.AxisInB = bFromConstraint.Axis(c.ConstrainedAxis())
		jac.Is1D = true
	case 2:
		jac.AxisInB = bFromConstraint.Axis(c.FreeAxis())
	}

	_, distance := jac.separation(jac.WorldFromA, jac.WorldFromB)
	jac.InitialError = CalculateError(distance, jac.MinDistance, jac.MaxDistance)
}

// separation returns the measured distance between the pivots and the unit
// direction, in world space, along which it grows when A moves.
func (jac *LinearLimitJacobian) separation(worldFromA, worldFromB actor.Transform) (direction mgl64.Vec3, distance float64) {
	diff := worldFromA.Apply(jac.PivotAinA).Sub(worldFromB.Apply(jac.PivotBinB))

	if jac.Is1D {
		axis := worldFromB.Rotation.Rotate(jac.AxisInB)
		return axis, diff.Dot(axis)
	}

	var fallback mgl64.Vec3
	if jac.AxisInB != (mgl64.Vec3{}) {
		axis := worldFromB.Rotation.Rotate(jac.AxisInB)
		diff = diff.Sub(axis.Mul(diff.Dot(axis)))
		fallback, _ = CalculatePerpendicularNormalized(axis)
	} else {
		fallback = worldFromB.Axis(0)
	}

	distance = diff.Len()
	if distance < 1e-12 {
		return fallback, 0
	}
	return diff.Mul(1.0 / distance), distance
}

// Solve returns the world space linear impulse applied to A.
func (jac *LinearLimitJacobian) Solve(velocityA, velocityB *actor.MotionVelocity, input *StepInput) mgl64.Vec3 {
	futureA := IntegrateTransform(jac.WorldFromA, *velocityA, input.Timestep)
	futureB := IntegrateTransform(jac.WorldFromB, *velocityB, input.Timestep)

	direction, distance := jac.separation(futureA, futureB)
	predictedError := CalculateError(distance, jac.MinDistance, jac.MaxDistance)
	correction := CalculateCorrection(predictedError, jac.InitialError, jac.Tau, jac.Damping)
	if correction == 0 {
		return mgl64.Vec3{}
	}

	invRotA := futureA.Rotation.Conjugate()
	invRotB := futureB.Rotation.Conjugate()
	var angA, angB [3]mgl64.Vec3
	for i := range 3 {
		var unit mgl64.Vec3
		unit[i] = 1
		angA[i] = jac.PivotAinA.Cross(invRotA.Rotate(unit))
		angB[i] = jac.PivotBinB.Cross(invRotB.Rotate(unit))
	}

	sumInvMass := velocityA.InverseMass + velocityB.InverseMass
	invIA, invIB := velocityA.InverseInertia, velocityB.InverseInertia
	diag := mgl64.Vec3{
		sumInvMass + angularInvEffectiveMass(angA[0], invIA, angB[0], invIB),
		sumInvMass + angularInvEffectiveMass(angA[1], invIA, angB[1], invIB),
		sumInvMass + angularInvEffectiveMass(angA[2], invIA, angB[2], invIB),
	}
	offDiag := mgl64.Vec3{
		angularInvEffectiveMassOffDiag(angA[0], angA[1], invIA, angB[0], angB[1], invIB),
		angularInvEffectiveMassOffDiag(angA[0], angA[2], invIA, angB[0], angB[2], invIB),
		angularInvEffectiveMassOffDiag(angA[1], angA[2], invIA, angB[1], angB[2], invIB),
	}
	effDiag, effOffDiag, ok := InvertSymmetricMatrix(diag, offDiag)
	if !ok || math.IsInf(effDiag[0], 0) || math.IsNaN(effDiag[0]) {
		return mgl64.Vec3{}
	}
	effectiveMass := BuildSymmetricMatrix(effDiag, effOffDiag)

	impulse := effectiveMass.Mul3x1(direction).Mul(-correction * input.InvTimestep)

	velocityA.ApplyLinearImpulse(impulse)
	velocityA.ApplyAngularImpulse(jac.PivotAinA.Cross(invRotA.Rotate(impulse)))
	velocityB.ApplyLinearImpulse(impulse.Mul(-1))
	velocityB.ApplyAngularImpulse(jac.PivotBinB.Cross(invRotB.Rotate(impulse.Mul(-1))))
	return impulse
}
