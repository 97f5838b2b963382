package constraint

import (
	"github.com/akmonengine/tendon/stream"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// CollisionEvent reports a contact that exchanged impulse, or penetrates, at
// the end of the solve.
type CollisionEvent struct {
	BodyA, BodyB       int32
	ColliderKeys       ColliderKeyPair
	Entities           EntityPair
	Normal             mgl64.Vec3
	AccumulatedImpulse float64
	Points             []ContactPoint
}

// TriggerEvent reports an overlapping trigger pair.
type TriggerEvent struct {
	BodyA, BodyB int32
	ColliderKeys ColliderKeyPair
	Entities     EntityPair
}

// ImpulseEvent reports a joint row whose accumulated impulse over the step
// exceeded its threshold.
type ImpulseEvent struct {
	Type         Type
	JointEntity  uuid.UUID
	BodyA, BodyB int32
	Impulse      mgl64.Vec3
}

// ImpulseEventData is the optional accumulator block of joint records.
type ImpulseEventData struct {
	AccumulatedImpulse mgl64.Vec3
	Threshold          float64
	JointEntity        uuid.UUID
}

// Events are the three event streams of one step.
type Events struct {
	Collisions *stream.Events[CollisionEvent]
	Triggers   *stream.Events[TriggerEvent]
	Impulses   *stream.Events[ImpulseEvent]
}

// NewEvents creates empty event streams with workItems buckets each.
func NewEvents(workItems int) *Events {
	return &Events{
		Collisions: stream.NewEvents[CollisionEvent](workItems),
		Triggers:   stream.NewEvents[TriggerEvent](workItems),
		Impulses:   stream.NewEvents[ImpulseEvent](workItems),
	}
}

func (e *Events) Reset(workItems int) {
	e.Collisions.Reset(workItems)
	e.Triggers.Reset(workItems)
	e.Impulses.Reset(workItems)
}

// EventWriter bundles the writers of one work item.
type EventWriter struct {
	Collisions *stream.EventWriter[CollisionEvent]
	Triggers   *stream.EventWriter[TriggerEvent]
	Impulses   *stream.EventWriter[ImpulseEvent]
}

// Writer opens the three streams for workItem.
func (e *Events) Writer(workItem int) *EventWriter {
	return &EventWriter{
		Collisions: e.Collisions.Writer(workItem),
		Triggers:   e.Triggers.Writer(workItem),
		Impulses:   e.Impulses.Writer(workItem),
	}
}

func (w *EventWriter) End() {
	w.Collisions.End()
	w.Triggers.End()
	w.Impulses.End()
}
