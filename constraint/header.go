package constraint

import (
	"fmt"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// Type identifies the kind of Jacobian record stored in the stream.
type Type uint8

const (
	TypeNone Type = iota
	TypeContact
	TypeTrigger
	TypeLinearLimit
	TypeAngularLimit1D
	TypeAngularLimit2D
	TypeAngularLimit3D
	TypeLinearVelocityMotor
	TypeAngularVelocityMotor
	numTypes
)

var typeNames = [numTypes]string{
	"None", "Contact", "Trigger", "LinearLimit", "AngularLimit1D",
	"AngularLimit2D", "AngularLimit3D", "LinearVelocityMotor", "AngularVelocityMotor",
}

func (t Type) String() string {
	if t < numTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsContact reports whether t is built from the contact stream.
func (t Type) IsContact() bool {
	return t == TypeContact || t == TypeTrigger
}

// IsJoint reports whether t is built from a joint constraint.
func (t Type) IsJoint() bool {
	return t >= TypeLinearLimit && t < numTypes
}

// Flags select the optional blocks trailing a record's payload.
type Flags uint8

const (
	// FlagMassFactors stores per-body inverse mass and inertia multipliers (contacts).
	FlagMassFactors Flags = 1 << iota
	// FlagCollisionEvents stores collider keys, entities and raw contact points (contacts).
	FlagCollisionEvents
	// FlagSurfaceVelocity stores a target surface velocity for friction (contacts).
	FlagSurfaceVelocity
	// FlagImpulseEvents stores an impulse accumulator (joints).
	FlagImpulseEvents
)

const (
	contactFlags = FlagMassFactors | FlagCollisionEvents | FlagSurfaceVelocity
	triggerFlags = FlagMassFactors
	jointFlags   = FlagImpulseEvents
)

// ValidFor reports whether every flag in f is meaningful for records of type t.
func (f Flags) ValidFor(t Type) bool {
	switch {
	case t == TypeContact:
		return f&^contactFlags == 0
	case t == TypeTrigger:
		return f&^triggerFlags == 0
	case t.IsJoint():
		return f&^jointFlags == 0
	}
	return false
}

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Header is the fixed part of every record, right after the size prefix.
type Header struct {
	BodyA int32
	BodyB int32
	Type  Type
	Flags Flags
}

// StepInput is the per-iteration view of the step configuration.
type StepInput struct {
	Timestep         float64
	InvTimestep      float64
	Gravity          mgl64.Vec3
	NumIterations    int
	InvNumIterations float64
	Iteration        int
}

// NewStepInput prepares the step input for the first iteration.
func NewStepInput(timestep float64, gravity mgl64.Vec3, iterations int) StepInput {
	return StepInput{
		Timestep:         timestep,
		InvTimestep:      safeReciprocal(timestep),
		Gravity:          gravity,
		NumIterations:    iterations,
		InvNumIterations: safeReciprocal(float64(iterations)),
	}
}

func (in StepInput) IsFirstIteration() bool {
	return in.Iteration == 0
}

func (in StepInput) IsLastIteration() bool {
	return in.Iteration == in.NumIterations-1
}

// MotionStabilizationInput is what the stabilization heuristic feeds to the
// contact solve of one body.
type MotionStabilizationInput struct {
	InputVelocity       actor.MotionVelocity
	InverseInertiaScale float64
}

// DefaultMotionStabilizationInput leaves a body's inertia untouched.
var DefaultMotionStabilizationInput = MotionStabilizationInput{InverseInertiaScale: 1.0}

// SolveContext carries everything a record needs besides its bytes and the two
// velocities it corrects.
type SolveContext struct {
	Input *StepInput
	// Events is nil except on the last iteration.
	Events *EventWriter

	StabilizationA           MotionStabilizationInput
	StabilizationB           MotionStabilizationInput
	EnableFrictionVelocities bool
}

// SolveRecord solves one record against the velocities of its two bodies.
// Records carry their own state (accumulated impulses), which is written back.
func SolveRecord(r Record, velocityA, velocityB *actor.MotionVelocity, ctx *SolveContext) {
	h := r.Header()
	assert(r.Size() == len(r), "record prefix says %d bytes, record holds %d", r.Size(), len(r))
	assert(h.Flags.ValidFor(h.Type), "invalid flags %08b for %v", h.Flags, h.Type)

	var impulse mgl64.Vec3
	switch h.Type {
	case TypeContact:
		var jac ContactJacobian
		r.Payload(&jac)
		jac.Solve(r, velocityA, velocityB, ctx)
		r.SetPayload(&jac)
		return
	case TypeTrigger:
		var jac TriggerJacobian
		r.Payload(&jac)
		jac.Solve(r, velocityA, velocityB, ctx)
		return
	case TypeLinearLimit:
		var jac LinearLimitJacobian
		r.Payload(&jac)
		impulse = jac.Solve(velocityA, velocityB, ctx.Input)
	case TypeAngularLimit1D:
		var jac AngularLimit1DJacobian
		r.Payload(&jac)
		impulse = jac.Solve(velocityA, velocityB, ctx.Input)
	case TypeAngularLimit2D:
		var jac AngularLimit2DJacobian
		r.Payload(&jac)
		impulse = jac.Solve(velocityA, velocityB, ctx.Input)
	case TypeAngularLimit3D:
		var jac AngularLimit3DJacobian
		r.Payload(&jac)
		impulse = jac.Solve(velocityA, velocityB, ctx.Input)
	case TypeLinearVelocityMotor:
		var jac LinearVelocityMotorJacobian
		r.Payload(&jac)
		impulse = jac.Solve(velocityA, velocityB, ctx.Input)
		r.SetPayload(&jac)
	case TypeAngularVelocityMotor:
		var jac AngularVelocityMotorJacobian
		r.Payload(&jac)
		impulse = jac.Solve(velocityA, velocityB, ctx.Input)
		r.SetPayload(&jac)
	default:
		assert(false, "cannot solve record of type %v", h.Type)
		return
	}

	if h.Flags.Has(FlagImpulseEvents) {
		accumulateImpulse(r, h, impulse, ctx)
	}
}

// accumulateImpulse adds the impulse of this iteration to the record's
// accumulator and, on the last iteration, reports it once if it crosses the
// threshold.
func accumulateImpulse(r Record, h Header, impulse mgl64.Vec3, ctx *SolveContext) {
	data := r.ImpulseEventData()
	data.AccumulatedImpulse = data.AccumulatedImpulse.Add(impulse)
	r.SetImpulseEventData(data)

	if ctx.Input.IsLastIteration() && ctx.Events != nil &&
		data.AccumulatedImpulse.Len() > data.Threshold {
		ctx.Events.Impulses.Write(ImpulseEvent{
			Type:        h.Type,
			JointEntity: data.JointEntity,
			BodyA:       h.BodyA,
			BodyB:       h.BodyB,
			Impulse:     data.AccumulatedImpulse,
		})
	}
}
