package constraint

import (
	"github.com/akmonengine/tendon/actor"
)

// TriggerJacobian shares the normal rows of a contact but never applies an
// impulse: it only tells whether the bodies would touch.
type TriggerJacobian struct {
	BaseJacobian BaseContactJacobian
}

// BuildTrigger fills a trigger record from one manifold.
func BuildTrigger(r Record, m *Manifold, entities EntityPair, motionA, motionB actor.MotionData,
	velocityA, velocityB actor.MotionVelocity, input *StepInput, maxDepenetration float64) {
	assert(len(m.Points) > 0, "trigger manifold without points")
	if m.Flags.Has(FlagMassFactors) {
		m.MassFactors.apply(&velocityA, &velocityB)
	}

	jac := TriggerJacobian{
		BaseJacobian: BaseContactJacobian{NumContacts: int32(len(m.Points)), Normal: m.Normal},
	}
	buildNormalRows(r, m, motionA, motionB, velocityA, velocityB, input.Timestep, maxDepenetration)
	r.SetPayload(&jac)
	writeOptionalBlocks(r, m, entities)
}

// Solve runs on the last iteration only. It reports a trigger event if any point
// is penetrating or would receive a positive normal impulse.
func (jac *TriggerJacobian) Solve(r Record, velocityA, velocityB *actor.MotionVelocity, ctx *SolveContext) {
	if !ctx.Input.IsLastIteration() || ctx.Events == nil {
		return
	}

	hit := false
	var buf [4]PointJacobian
	for _, point := range r.PointJacobians(buf[:0]) {
		relativeVelocity := point.Angular.velocity(jac.BaseJacobian.Normal, *velocityA, *velocityB)
		dv := point.VelToReachCp - relativeVelocity
		if point.VelToReachCp > 0 || dv > 0 {
			hit = true
			break
		}
	}
	if !hit {
		return
	}

	h := r.Header()
	ctx.Events.Triggers.Write(TriggerEvent{
		BodyA:        h.BodyA,
		BodyB:        h.BodyB,
		ColliderKeys: r.ColliderKeys(),
		Entities:     r.Entities(),
	})
}
