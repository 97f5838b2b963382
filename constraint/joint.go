package constraint

import (
	"math"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Default spring settings: stiff enough that a limit is fully enforced in one
// step at the usual timesteps and iteration counts.
const (
	DefaultSpringFrequency = 74341.31
	DefaultDampingRatio    = 2530.126
)

// ConstraintType is the kind of a joint row.
type ConstraintType uint8

const (
	ConstraintTypeLinear ConstraintType = iota
	ConstraintTypeAngular
	ConstraintTypeLinearVelocityMotor
	ConstraintTypeAngularVelocityMotor
)

// Constraint is one row of a joint. Limits keep the relative position or
// orientation of the joint frames within [Min, Max] along the constrained axes
// of frame B. Motors drive the relative velocity along their single
// constrained axis towards Target.
type Constraint struct {
	Type            ConstraintType
	ConstrainedAxes [3]bool
	Min, Max        float64
	SpringFrequency float64
	DampingRatio    float64
	// MaxImpulse caps the accumulated impulse of motors. With
	// EnableImpulseEvents it is also the threshold above which an impulse event
	// is raised.
	MaxImpulse          float64
	Target              float64
	EnableImpulseEvents bool
}

// Dimension returns the number of constrained axes.
func (c Constraint) Dimension() int {
	n := 0
	for _, constrained := range c.ConstrainedAxes {
		if constrained {
			n++
		}
	}
	return n
}

// ConstrainedAxis returns the index of the first constrained axis, or -1.
func (c Constraint) ConstrainedAxis() int {
	for i, constrained := range c.ConstrainedAxes {
		if constrained {
			return i
		}
	}
	return -1
}

// FreeAxis returns the index of the first unconstrained axis, or -1.
func (c Constraint) FreeAxis() int {
	for i, constrained := range c.ConstrainedAxes {
		if !constrained {
			return i
		}
	}
	return -1
}

// RecordType returns the Jacobian a row is solved with; TypeNone when it
// constrains nothing or has no matching Jacobian.
func (c Constraint) RecordType() Type {
	dimension := c.Dimension()
	if dimension == 0 {
		return TypeNone
	}
	switch c.Type {
	case ConstraintTypeLinear:
		return TypeLinearLimit
	case ConstraintTypeAngular:
		return [4]Type{TypeNone, TypeAngularLimit1D, TypeAngularLimit2D, TypeAngularLimit3D}[dimension]
	case ConstraintTypeLinearVelocityMotor:
		if dimension == 1 {
			return TypeLinearVelocityMotor
		}
	case ConstraintTypeAngularVelocityMotor:
		if dimension == 1 {
			return TypeAngularVelocityMotor
		}
	}
	return TypeNone
}

// Joint links two bodies through up to three constraint rows expressed in the
// joint frames. AFromJoint and BFromJoint place the frames in the motion
// space of each body.
type Joint struct {
	Entity      uuid.UUID
	BodyA       int32
	BodyB       int32
	AFromJoint  actor.Transform
	BFromJoint  actor.Transform
	Constraints []Constraint
}

// BallAndSocket returns the row pinning both frame origins together.
func BallAndSocket() Constraint {
	return Constraint{
		Type:            ConstraintTypeLinear,
		ConstrainedAxes: [3]bool{true, true, true},
		SpringFrequency: DefaultSpringFrequency,
		DampingRatio:    DefaultDampingRatio,
		MaxImpulse:      math.Inf(1),
	}
}

// Twist returns an angular row limiting rotation about one axis of the frames.
func Twist(axis int, minAngle, maxAngle float64) Constraint {
	c := Constraint{
		Type:            ConstraintTypeAngular,
		Min:             minAngle,
		Max:             maxAngle,
		SpringFrequency: DefaultSpringFrequency,
		DampingRatio:    DefaultDampingRatio,
		MaxImpulse:      math.Inf(1),
	}
	c.ConstrainedAxes[axis] = true
	return c
}

// Cone returns an angular row limiting the angle between the free axis of both
// frames.
func Cone(freeAxis int, minAngle, maxAngle float64) Constraint {
	c := Twist(freeAxis, minAngle, maxAngle)
	for i := range c.ConstrainedAxes {
		c.ConstrainedAxes[i] = i != freeAxis
	}
	return c
}

// RecordHeader returns the header of the record built for row.
func (j *Joint) RecordHeader(row int) Header {
	c := j.Constraints[row]
	h := Header{BodyA: j.BodyA, BodyB: j.BodyB, Type: c.RecordType()}
	if c.EnableImpulseEvents {
		h.Flags |= FlagImpulseEvents
	}
	return h
}

// BuildJointRow fills the record of one active row of j. The record must have
// been allocated with the shape of j.RecordHeader(row).
func BuildJointRow(r Record, j *Joint, row int, motionA, motionB actor.MotionData,
	velocityA, velocityB actor.MotionVelocity, input *StepInput) {
	c := j.Constraints[row]
	tau, damping := CalculateConstraintTauAndDamping(c.SpringFrequency, c.DampingRatio, input.Timestep, input.NumIterations)

	h := r.Header()
	switch h.Type {
	case TypeLinearLimit:
		var jac LinearLimitJacobian
		jac.Build(j.AFromJoint, j.BFromJoint, motionA, motionB, c, tau, damping)
		r.SetPayload(&jac)
	case TypeAngularLimit1D:
		var jac AngularLimit1DJacobian
		jac.Build(j.AFromJoint, j.BFromJoint, motionA, motionB, c, tau, damping)
		r.SetPayload(&jac)
	case TypeAngularLimit2D:
		var jac AngularLimit2DJacobian
		jac.Build(j.AFromJoint, j.BFromJoint, motionA, motionB, c, tau, damping)
		r.SetPayload(&jac)
	case TypeAngularLimit3D:
		var jac AngularLimit3DJacobian
		jac.Build(j.AFromJoint, j.BFromJoint, motionA, motionB, c, tau, damping)
		r.SetPayload(&jac)
	case TypeLinearVelocityMotor:
		var jac LinearVelocityMotorJacobian
		jac.Build(j.AFromJoint, j.BFromJoint, motionA, motionB, c, damping)
		r.SetPayload(&jac)
	case TypeAngularVelocityMotor:
		var jac AngularVelocityMotorJacobian
		jac.Build(j.AFromJoint, j.BFromJoint, motionA, motionB, c, damping)
		r.SetPayload(&jac)
	default:
		assert(false, "row %d of joint %v has no Jacobian", row, j.Entity)
		return
	}

	if h.Flags.Has(FlagImpulseEvents) {
		r.SetImpulseEventData(ImpulseEventData{Threshold: c.MaxImpulse, JointEntity: j.Entity})
	}
}

// bFromA returns the orientation of A's motion space seen from B's.
func bFromA(motionA, motionB actor.MotionData) mgl64.Quat {
	return motionB.WorldFromMotion.Inverse().Mul(motionA.WorldFromMotion).Rotation
}

// LinearMotor returns a row driving the pivots apart along axis at target m/s.
func LinearMotor(axis int, target, maxImpulse float64) Constraint {
	c := Constraint{
		Type:            ConstraintTypeLinearVelocityMotor,
		Target:          target,
		SpringFrequency: DefaultSpringFrequency,
		DampingRatio:    DefaultDampingRatio,
		MaxImpulse:      maxImpulse,
	}
	c.ConstrainedAxes[axis] = true
	return c
}

// AngularMotor returns a row spinning A relative to B about axis at target rad/s.
func AngularMotor(axis int, target, maxImpulse float64) Constraint {
	c := LinearMotor(axis, target, maxImpulse)
	c.Type = ConstraintTypeAngularVelocityMotor
	return c
}
