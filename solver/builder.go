package solver

import (
	"math"

	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/akmonengine/tendon/stream"
	"github.com/google/uuid"
)

// StepData is the world state one solver step reads and writes.
type StepData struct {
	Schedule *Schedule
	// Contacts holds, per work item, the manifolds of its contact pairs in
	// dispatch order.
	Contacts *stream.Events[constraint.Manifold]
	Joints   []constraint.Joint
	// Motions covers every body; dynamic bodies come first.
	Motions []actor.MotionData
	// Velocities covers dynamic bodies only.
	Velocities []actor.MotionVelocity
	// Entities covers every body. It may be nil.
	Entities []uuid.UUID
}

func (d *StepData) NumDynamic() int {
	return len(d.Velocities)
}

// velocity returns the velocity of a body, or the zero motion of static bodies.
func (d *StepData) velocity(body int32) actor.MotionVelocity {
	if int(body) < len(d.Velocities) {
		return d.Velocities[body]
	}
	return actor.ZeroMotionVelocity
}

func (d *StepData) entity(body int32) uuid.UUID {
	if int(body) < len(d.Entities) {
		return d.Entities[body]
	}
	return uuid.Nil
}

func (d *StepData) bodyType(body int32) actor.BodyType {
	return actor.Classify(int(body), d.NumDynamic(), d.Velocities)
}

func (d *StepData) isStatic(body int32) bool {
	return d.bodyType(body) == actor.BodyTypeStatic
}

// buildWorkItem writes the Jacobian records of one work item into its
// sub-stream. It only reads the velocities.
func (s *Solver) buildWorkItem(workItem int, data *StepData, input *constraint.StepInput) {
	writer := stream.NewWriter(s.jacobians)
	writer.Begin(workItem)
	defer writer.End()

	var manifolds []constraint.Manifold
	if data.Contacts != nil && workItem < data.Contacts.WorkItemCount() {
		manifolds = data.Contacts.Item(workItem)
	}

	next := 0
	for _, pair := range data.Schedule.WorkItemPairs(workItem) {
		switch pair.Kind {
		case PairContact:
			for next < len(manifolds) && manifolds[next].BodyA == pair.BodyA && manifolds[next].BodyB == pair.BodyB {
				s.buildContact(writer, &manifolds[next], data, input)
				next++
			}
		case PairJoint:
			s.buildJoint(writer, &data.Joints[pair.JointIndex], data, input)
		}
	}
}

func (s *Solver) buildContact(writer *stream.Writer, m *constraint.Manifold, data *StepData, input *constraint.StepInput) {
	if len(m.Points) == 0 {
		return
	}
	if !m.IsTrigger && !m.Flags.Has(constraint.FlagCollisionEvents) &&
		data.bodyType(m.BodyA) != actor.BodyTypeDynamic && data.bodyType(m.BodyB) != actor.BodyTypeDynamic {
		return
	}
	velocityA, velocityB := data.velocity(m.BodyA), data.velocity(m.BodyB)

	maxDepenetration := constraint.MaxDepenetrationVelocity
	if data.isStatic(m.BodyA) || data.isStatic(m.BodyB) {
		maxDepenetration = math.Inf(1)
	}

	h := m.RecordHeader()
	r := constraint.NewRecord(writer.Allocate(constraint.CalculateSize(h.Type, h.Flags, len(m.Points))), h, len(m.Points))
	entities := constraint.EntityPair{EntityA: data.entity(m.BodyA), EntityB: data.entity(m.BodyB)}
	motionA, motionB := data.Motions[m.BodyA], data.Motions[m.BodyB]
	if m.IsTrigger {
		constraint.BuildTrigger(r, m, entities, motionA, motionB, velocityA, velocityB, input, maxDepenetration)
	} else {
		constraint.BuildContact(r, m, entities, motionA, motionB, velocityA, velocityB, input, maxDepenetration)
	}
}

func (s *Solver) buildJoint(writer *stream.Writer, j *constraint.Joint, data *StepData, input *constraint.StepInput) {
	if data.isStatic(j.BodyA) && data.isStatic(j.BodyB) {
		return
	}
	velocityA, velocityB := data.velocity(j.BodyA), data.velocity(j.BodyB)
	motionA, motionB := data.Motions[j.BodyA], data.Motions[j.BodyB]

	for row := range j.Constraints {
		h := j.RecordHeader(row)
		if h.Type == constraint.TypeNone {
			continue
		}
		r := constraint.NewRecord(writer.Allocate(constraint.CalculateSize(h.Type, h.Flags, 0)), h, 0)
		constraint.BuildJointRow(r, j, row, motionA, motionB, velocityA, velocityB, input)
	}
}
