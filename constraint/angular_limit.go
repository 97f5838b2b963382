package constraint

import (
	"math"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// jointBFromA expresses the relative orientation of the bodies in the joint
// frames, on the positive hemisphere.
func jointBFromA(motionBFromA, motionAFromJoint, motionBFromJoint mgl64.Quat) mgl64.Quat {
	q := motionBFromJoint.Inverse().Mul(motionBFromA).Mul(motionAFromJoint)
	if q.W < 0 {
		q = q.Scale(-1)
	}
	return q
}

// AngularLimit1DJacobian limits the twist of A relative to B about one axis of
// the joint frames. The twist angle is exact only when the other two axes
// cannot rotate freely, as for a hinge.
type AngularLimit1DJacobian struct {
	AxisInMotionA    mgl64.Vec3
	MotionAFromJoint mgl64.Quat
	MotionBFromJoint mgl64.Quat
	MotionBFromA     mgl64.Quat
	AxisIndex        int32
	MinAngle         float64
	MaxAngle         float64

	Tau          float64
	Damping      float64
	InitialError float64
}

func (jac *AngularLimit1DJacobian) Build(aFromConstraint, bFromConstraint actor.Transform,
	motionA, motionB actor.MotionData, c Constraint, tau, damping float64) {
	jac.AxisIndex = int32(c.ConstrainedAxis())
	jac.AxisInMotionA = aFromConstraint.Axis(int(jac.AxisIndex))
	jac.MotionAFromJoint = aFromConstraint.Rotation
	jac.MotionBFromJoint = bFromConstraint.Rotation
	jac.MotionBFromA = bFromA(motionA, motionB)
	jac.MinAngle = c.Min
	jac.MaxAngle = c.Max
	jac.Tau = tau
	jac.Damping = damping
	jac.InitialError = CalculateError(jac.angle(jac.MotionBFromA), jac.MinAngle, jac.MaxAngle)
}

func (jac *AngularLimit1DJacobian) angle(motionBFromA mgl64.Quat) float64 {
	q := jointBFromA(motionBFromA, jac.MotionAFromJoint, jac.MotionBFromJoint)
	return 2.0 * math.Atan2(q.V[jac.AxisIndex], q.W)
}

// Solve returns the angular impulse applied to A, in A's motion space.
func (jac *AngularLimit1DJacobian) Solve(velocityA, velocityB *actor.MotionVelocity, input *StepInput) mgl64.Vec3 {
	future := IntegrateOrientationBFromA(jac.MotionBFromA, velocityA.AngularVelocity, velocityB.AngularVelocity, input.Timestep)
	predictedError := CalculateError(jac.angle(future), jac.MinAngle, jac.MaxAngle)
	correction := CalculateCorrection(predictedError, jac.InitialError, jac.Tau, jac.Damping)
	if correction == 0 {
		return mgl64.Vec3{}
	}

	axisA := jac.AxisInMotionA
	axisB := future.Rotate(axisA.Mul(-1))
	effectiveMass := safeReciprocal(angularInvEffectiveMass(axisA, velocityA.InverseInertia, axisB, velocityB.InverseInertia))
	impulse := -effectiveMass * correction * input.InvTimestep

	velocityA.ApplyAngularImpulse(axisA.Mul(impulse))
	velocityB.ApplyAngularImpulse(axisB.Mul(impulse))
	return axisA.Mul(impulse)
}

// AngularLimit2DJacobian limits the angle between the free axis of frame A and
// the free axis of frame B, like a cone.
type AngularLimit2DJacobian struct {
	AxisAinA     mgl64.Vec3
	AxisBinB     mgl64.Vec3
	MotionBFromA mgl64.Quat
	MinAngle     float64
	MaxAngle     float64

	Tau          float64
	Damping      float64
	InitialError float64
}

func (jac *AngularLimit2DJacobian) Build(aFromConstraint, bFromConstraint actor.Transform,
	motionA, motionB actor.MotionData, c Constraint, tau, damping float64) {
	free := c.FreeAxis()
	jac.AxisAinA = aFromConstraint.Axis(free)
	jac.AxisBinB = bFromConstraint.Axis(free)
	jac.MotionBFromA = bFromA(motionA, motionB)
	jac.MinAngle = c.Min
	jac.MaxAngle = c.Max
	jac.Tau = tau
	jac.Damping = damping
	jac.InitialError = CalculateError(jac.angle(jac.MotionBFromA.Rotate(jac.AxisAinA)), jac.MinAngle, jac.MaxAngle)
}

func (jac *AngularLimit2DJacobian) angle(axisAinB mgl64.Vec3) float64 {
	return math.Atan2(axisAinB.Cross(jac.AxisBinB).Len(), axisAinB.Dot(jac.AxisBinB))
}

// Solve returns the angular impulse applied to A, in A's motion space.
func (jac *AngularLimit2DJacobian) Solve(velocityA, velocityB *actor.MotionVelocity, input *StepInput) mgl64.Vec3 {
	future := IntegrateOrientationBFromA(jac.MotionBFromA, velocityA.AngularVelocity, velocityB.AngularVelocity, input.Timestep)
	axisAinB := future.Rotate(jac.AxisAinA)
	predictedError := CalculateError(jac.angle(axisAinB), jac.MinAngle, jac.MaxAngle)
	correction := CalculateCorrection(predictedError, jac.InitialError, jac.Tau, jac.Damping)
	if correction == 0 {
		return mgl64.Vec3{}
	}

	// row 0 rotates A's axis towards B's, row 1 sideways
	jacB0 := axisAinB.Cross(jac.AxisBinB)
	if jacB0.LenSqr() < 1e-12 {
		jacB0, _ = CalculatePerpendicularNormalized(axisAinB)
	} else {
		jacB0 = jacB0.Normalize()
	}
	jacB1 := jacB0.Cross(axisAinB).Normalize()

	aFromB := future.Inverse()
	jacA0 := aFromB.Rotate(jacB0.Mul(-1))
	jacA1 := aFromB.Rotate(jacB1.Mul(-1))

	invIA, invIB := velocityA.InverseInertia, velocityB.InverseInertia
	m00 := angularInvEffectiveMass(jacA0, invIA, jacB0, invIB)
	m11 := angularInvEffectiveMass(jacA1, invIA, jacB1, invIB)
	m01 := angularInvEffectiveMassOffDiag(jacA0, jacA1, invIA, jacB0, jacB1, invIB)

	target := -correction * input.InvTimestep
	var impulse0, impulse1 float64
	if det := m00*m11 - m01*m01; math.Abs(det) > 1e-9*math.Max(m00*m11, 1e-30) {
		impulse0 = m11 / det * target
		impulse1 = -m01 / det * target
	} else {
		// rows nearly parallel: solve row 0 alone
		impulse0 = safeReciprocal(m00) * target
	}

	angularA := jacA0.Mul(impulse0).Add(jacA1.Mul(impulse1))
	angularB := jacB0.Mul(impulse0).Add(jacB1.Mul(impulse1))
	velocityA.ApplyAngularImpulse(angularA)
	velocityB.ApplyAngularImpulse(angularB)
	return angularA
}

// AngularLimit3DJacobian limits the rotation angle between the two joint
// frames, whatever its axis.
type AngularLimit3DJacobian struct {
	MotionAFromJoint mgl64.Quat
	MotionBFromJoint mgl64.Quat
	MotionBFromA     mgl64.Quat
	MinAngle         float64
	MaxAngle         float64

	Tau          float64
	Damping      float64
	InitialError float64
}

func (jac *AngularLimit3DJacobian) Build(aFromConstraint, bFromConstraint actor.Transform,
	motionA, motionB actor.MotionData, c Constraint, tau, damping float64) {
	jac.MotionAFromJoint = aFromConstraint.Rotation
	jac.MotionBFromJoint = bFromConstraint.Rotation
	jac.MotionBFromA = bFromA(motionA, motionB)
	jac.MinAngle = c.Min
	jac.MaxAngle = c.Max
	jac.Tau = tau
	jac.Damping = damping
	_, angle := jac.axisAngle(jac.MotionBFromA)
	jac.InitialError = CalculateError(angle, jac.MinAngle, jac.MaxAngle)
}

// axisAngle returns the rotation of the joint frames as an axis in joint space
// and an angle in [0, pi].
func (jac *AngularLimit3DJacobian) axisAngle(motionBFromA mgl64.Quat) (mgl64.Vec3, float64) {
	q := jointBFromA(motionBFromA, jac.MotionAFromJoint, jac.MotionBFromJoint)
	sinHalfAngle := q.V.Len()
	if sinHalfAngle < 1e-12 {
		return mgl64.Vec3{1, 0, 0}, 0
	}
	return q.V.Mul(1.0 / sinHalfAngle), 2.0 * math.Asin(math.Min(sinHalfAngle, 1.0))
}

// Solve returns the angular impulse applied to A, in A's motion space.
func (jac *AngularLimit3DJacobian) Solve(velocityA, velocityB *actor.MotionVelocity, input *StepInput) mgl64.Vec3 {
	future := IntegrateOrientationBFromA(jac.MotionBFromA, velocityA.AngularVelocity, velocityB.AngularVelocity, input.Timestep)
	axis, angle := jac.axisAngle(future)
	predictedError := CalculateError(angle, jac.MinAngle, jac.MaxAngle)
	correction := CalculateCorrection(predictedError, jac.InitialError, jac.Tau, jac.Damping)
	if correction == 0 {
		return mgl64.Vec3{}
	}

	var jacA, jacB [3]mgl64.Vec3
	jacA[0] = jac.MotionAFromJoint.Rotate(axis)
	jacA[1], jacA[2] = CalculatePerpendicularNormalized(jacA[0])
	for i := range jacA {
		jacB[i] = future.Rotate(jacA[i].Mul(-1))
	}

	invIA, invIB := velocityA.InverseInertia, velocityB.InverseInertia
	diag := mgl64.Vec3{
		angularInvEffectiveMass(jacA[0], invIA, jacB[0], invIB),
		angularInvEffectiveMass(jacA[1], invIA, jacB[1], invIB),
		angularInvEffectiveMass(jacA[2], invIA, jacB[2], invIB),
	}
	offDiag := mgl64.Vec3{
		angularInvEffectiveMassOffDiag(jacA[0], jacA[1], invIA, jacB[0], jacB[1], invIB),
		angularInvEffectiveMassOffDiag(jacA[0], jacA[2], invIA, jacB[0], jacB[2], invIB),
		angularInvEffectiveMassOffDiag(jacA[1], jacA[2], invIA, jacB[1], jacB[2], invIB),
	}
	effDiag, effOffDiag, ok := InvertSymmetricMatrix(diag, offDiag)
	if !ok {
		return mgl64.Vec3{}
	}

	// only row 0 carries an error
	target := -correction * input.InvTimestep
	impulse := mgl64.Vec3{effDiag[0], effOffDiag[0], effOffDiag[1]}.Mul(target)

	var angularA, angularB mgl64.Vec3
	for i := range 3 {
		angularA = angularA.Add(jacA[i].Mul(impulse[i]))
		angularB = angularB.Add(jacB[i].Mul(impulse[i]))
	}
	velocityA.ApplyAngularImpulse(angularA)
	velocityB.ApplyAngularImpulse(angularB)
	return angularA
}
