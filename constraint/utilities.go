package constraint

import (
	"math"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// InvertSymmetricMatrix inverts a symmetric 3x3 matrix stored as its diagonal and
// its off-diagonal elements (0,1), (0,2), (1,2), using cofactors.
// ok is false when the determinant is exactly zero; the returned values are then
// not finite and the caller must regularize the matrix.
func InvertSymmetricMatrix(diag, offDiag mgl64.Vec3) (invDiag, invOffDiag mgl64.Vec3, ok bool) {
	a00, a11, a22 := diag[0], diag[1], diag[2]
	a01, a02, a12 := offDiag[0], offDiag[1], offDiag[2]

	determinant := a00*a11*a22 + 2.0*a01*a02*a12 -
		a00*a12*a12 - a11*a02*a02 - a22*a01*a01
	inv := 1.0 / determinant

	invDiag = mgl64.Vec3{
		(a11*a22 - a12*a12) * inv,
		(a00*a22 - a02*a02) * inv,
		(a00*a11 - a01*a01) * inv,
	}
	invOffDiag = mgl64.Vec3{
		(a02*a12 - a01*a22) * inv,
		(a01*a12 - a02*a11) * inv,
		(a01*a02 - a00*a12) * inv,
	}
	return invDiag, invOffDiag, determinant != 0
}

// BuildSymmetricMatrix expands a diagonal and off-diagonal triple into a full matrix.
func BuildSymmetricMatrix(diag, offDiag mgl64.Vec3) mgl64.Mat3 {
	// column major, symmetric so columns equal rows
	return mgl64.Mat3{
		diag[0], offDiag[0], offDiag[1],
		offDiag[0], diag[1], offDiag[2],
		offDiag[1], offDiag[2], diag[2],
	}
}

// CalculateError returns how far x lies outside [min, max]: positive above max,
// negative below min, zero inside.
func CalculateError(x, min, max float64) float64 {
	return math.Min(math.Max(x-max, 0.0), x-min)
}

// CalculateCorrection blends the velocity-level error (predicted minus initial,
// scaled by damping) with the position-level error (initial, scaled by tau).
func CalculateCorrection(predictedError, initialError, tau, damping float64) float64 {
	return (predictedError-initialError)*damping + initialError*tau
}

// CalculateConstraintTauAndDamping converts a spring frequency (Hz) and damping
// ratio into the per-iteration tau and damping factors, such that solving the
// constraint n times in Gauss-Seidel reproduces one implicit Euler step of the
// equivalent spring-damper.
func CalculateConstraintTauAndDamping(springFrequency, dampingRatio, timestep float64, iterations int) (tau, damping float64) {
	angularFrequency := springFrequency * 2.0 * math.Pi
	h2k := timestep * timestep * angularFrequency * angularFrequency
	hd := 2.0 * timestep * angularFrequency * dampingRatio
	denom := h2k + hd
	if denom == 0 || iterations <= 0 {
		return 0, 0
	}

	damping = 1.0 - math.Pow(1.0/(1.0+denom), 1.0/float64(iterations))
	tau = h2k / denom * damping
	return tau, damping
}

// CalculateSpringFrequencyAndDamping is the inverse of
// CalculateConstraintTauAndDamping.
func CalculateSpringFrequencyAndDamping(tau, damping, timestep float64, iterations int) (springFrequency, dampingRatio float64) {
	if damping <= 0 || damping >= 1 || timestep <= 0 || iterations <= 0 {
		return 0, 0
	}

	denom := math.Pow(1.0-damping, -float64(iterations)) - 1.0
	h2k := tau / damping * denom
	hd := denom - h2k
	if h2k <= 0 {
		return 0, 0
	}

	angularFrequency := math.Sqrt(h2k) / timestep
	springFrequency = angularFrequency / (2.0 * math.Pi)
	dampingRatio = hd / (2.0 * timestep * angularFrequency)
	return springFrequency, dampingRatio
}

// IntegrateAngularVelocity returns the (unnormalized) rotation produced by a
// motion-space angular velocity over one timestep.
func IntegrateAngularVelocity(angularVelocity mgl64.Vec3, timestep float64) mgl64.Quat {
	halfDeltaTime := timestep * 0.5
	return mgl64.Quat{W: 1.0, V: angularVelocity.Mul(halfDeltaTime)}
}

// IntegrateOrientationBFromA predicts the relative orientation of two bodies one
// timestep ahead from their current motion-space angular velocities.
func IntegrateOrientationBFromA(bFromA mgl64.Quat, angularVelocityA, angularVelocityB mgl64.Vec3, timestep float64) mgl64.Quat {
	dqA := IntegrateAngularVelocity(angularVelocityA, timestep)
	dqB := IntegrateAngularVelocity(angularVelocityB, timestep)
	return dqB.Inverse().Mul(bFromA).Mul(dqA).Normalize()
}

// IntegrateTransform advances a world-from-motion transform by the motion velocity.
func IntegrateTransform(worldFromMotion actor.Transform, velocity actor.MotionVelocity, timestep float64) actor.Transform {
	dq := IntegrateAngularVelocity(velocity.AngularVelocity, timestep)
	return actor.Transform{
		Rotation: worldFromMotion.Rotation.Mul(dq).Normalize(),
		Position: worldFromMotion.Position.Add(velocity.LinearVelocity.Mul(timestep)),
	}
}

// CapImpulse clips impulse so that the accumulated impulse stays in
// [-maxImpulse, maxImpulse]. It updates accumulated and returns the applicable impulse.
func CapImpulse(impulse float64, accumulated *float64, maxImpulse float64) float64 {
	newAccumulated := math.Max(-maxImpulse, math.Min(*accumulated+impulse, maxImpulse))
	applied := newAccumulated - *accumulated
	*accumulated = newAccumulated
	return applied
}

// CapImpulseVec3 is the vector form of CapImpulse: the accumulated impulse length
// never exceeds maxImpulse.
func CapImpulseVec3(impulse mgl64.Vec3, accumulated *mgl64.Vec3, maxImpulse float64) mgl64.Vec3 {
	newAccumulated := accumulated.Add(impulse)
	if lengthSq := newAccumulated.LenSqr(); lengthSq > maxImpulse*maxImpulse {
		newAccumulated = newAccumulated.Mul(maxImpulse / math.Sqrt(lengthSq))
	}
	applied := newAccumulated.Sub(*accumulated)
	*accumulated = newAccumulated
	return applied
}

// CalculatePerpendicularNormalized returns two unit vectors forming a right
// handed orthonormal basis with the unit vector v.
func CalculatePerpendicularNormalized(v mgl64.Vec3) (p, q mgl64.Vec3) {
	// cross with the axis v is least aligned with
	if math.Abs(v[0]) < 0.57735 {
		p = mgl64.Vec3{0, v[2], -v[1]}
	} else {
		p = mgl64.Vec3{v[1], -v[0], 0}
	}
	p = p.Normalize()
	q = v.Cross(p)
	return p, q
}

// invEffectiveMass returns J M^-1 J^T for an angular-only row pair.
func angularInvEffectiveMass(angA, invInertiaA, angB, invInertiaB mgl64.Vec3) float64 {
	return actor.MulElem(angA, angA).Dot(invInertiaA) + actor.MulElem(angB, angB).Dot(invInertiaB)
}

// angularInvEffectiveMassOffDiag returns the coupling between two angular rows.
func angularInvEffectiveMassOffDiag(angA0, angA1, invInertiaA, angB0, angB1, invInertiaB mgl64.Vec3) float64 {
	return actor.MulElem(angA0, angA1).Dot(invInertiaA) + actor.MulElem(angB0, angB1).Dot(invInertiaB)
}

// safeReciprocal returns 1/x, or zero for x == 0.
func safeReciprocal(x float64) float64 {
	if x == 0 {
		return 0
	}
	return 1.0 / x
}
