package tendon

import (
	"bytes"

	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

const (
	TRIGGER_ENTER EventType = iota
	COLLISION_ENTER
	TRIGGER_STAY
	COLLISION_STAY
	TRIGGER_EXIT
	COLLISION_EXIT
	JOINT_IMPULSE
)

type pairKey struct {
	entityA uuid.UUID
	entityB uuid.UUID
}

// makePairKey creates a normalized pair key with consistent ordering
func makePairKey(entityA, entityB uuid.UUID) pairKey {
	if bytes.Compare(entityB[:], entityA[:]) < 0 {
		entityA, entityB = entityB, entityA
	}

	return pairKey{entityA: entityA, entityB: entityB}
}

// activePair is what a step learned about a touching pair.
type activePair struct {
	bodyA     *actor.Body
	bodyB     *actor.Body
	isTrigger bool
	normal    mgl64.Vec3
	impulse   float64
}

type EventType uint8

// Event interface - all events implement this
type Event interface {
	Type() EventType
}

// Trigger events
type TriggerEnterEvent struct {
	BodyA *actor.Body
	BodyB *actor.Body
}

func (e TriggerEnterEvent) Type() EventType { return TRIGGER_ENTER }

type TriggerStayEvent struct {
	BodyA *actor.Body
	BodyB *actor.Body
}

func (e TriggerStayEvent) Type() EventType { return TRIGGER_STAY }

type TriggerExitEvent struct {
	BodyA *actor.Body
	BodyB *actor.Body
}

func (e TriggerExitEvent) Type() EventType { return TRIGGER_EXIT }

// Collision events carry the normal (from B towards A) and the total normal
// impulse of the pair over the step.
type CollisionEnterEvent struct {
	BodyA   *actor.Body
	BodyB   *actor.Body
	Normal  mgl64.Vec3
	Impulse float64
}

func (e CollisionEnterEvent) Type() EventType { return COLLISION_ENTER }

type CollisionStayEvent struct {
	BodyA   *actor.Body
	BodyB   *actor.Body
	Normal  mgl64.Vec3
	Impulse float64
}

func (e CollisionStayEvent) Type() EventType { return COLLISION_STAY }

type CollisionExitEvent struct {
	BodyA *actor.Body
	BodyB *actor.Body
}

func (e CollisionExitEvent) Type() EventType { return COLLISION_EXIT }

// JointImpulseEvent reports a joint row that pushed harder than its
// MaxImpulse during the step.
type JointImpulseEvent struct {
	Joint   *Joint
	Row     constraint.Type
	Impulse mgl64.Vec3
}

func (e JointImpulseEvent) Type() EventType { return JOINT_IMPULSE }

// EventListener - callback for events
type EventListener func(event Event)

// Events manager
type Events struct {
	// Listeners by event type
	listeners map[EventType][]EventListener

	// Event buffer to send at flush
	buffer []Event

	// Contact tracking for Enter/Stay/Exit detection
	previousActivePairs map[pairKey]activePair
	currentActivePairs  map[pairKey]activePair
}

func NewEvents() Events {
	return Events{
		listeners:           make(map[EventType][]EventListener),
		buffer:              make([]Event, 0, 256),
		previousActivePairs: make(map[pairKey]activePair),
		currentActivePairs:  make(map[pairKey]activePair),
	}
}

// Subscribe adds a listener for an event type
func (e *Events) Subscribe(eventType EventType, listener EventListener) {
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// recordCollision marks a pair as touching during the current step. Several
// manifolds of the same pair add up their impulse.
func (e *Events) recordCollision(bodyA, bodyB *actor.Body, normal mgl64.Vec3, impulse float64) {
	pair := makePairKey(bodyA.Entity, bodyB.Entity)
	active, ok := e.currentActivePairs[pair]
	if !ok {
		active = activePair{bodyA: bodyA, bodyB: bodyB, normal: normal}
	}
	active.impulse += impulse
	e.currentActivePairs[pair] = active
}

// recordTrigger marks a trigger pair as overlapping during the current step.
func (e *Events) recordTrigger(bodyA, bodyB *actor.Body) {
	pair := makePairKey(bodyA.Entity, bodyB.Entity)
	e.currentActivePairs[pair] = activePair{bodyA: bodyA, bodyB: bodyB, isTrigger: true}
}

// emitImpulse buffers a joint impulse event.
func (e *Events) emitImpulse(joint *Joint, row constraint.Type, impulse mgl64.Vec3) {
	e.buffer = append(e.buffer, JointImpulseEvent{Joint: joint, Row: row, Impulse: impulse})
}

// forget drops every tracked pair involving entity, without Exit events.
func (e *Events) forget(entity uuid.UUID) {
	for pair := range e.previousActivePairs {
		if pair.entityA == entity || pair.entityB == entity {
			delete(e.previousActivePairs, pair)
		}
	}
}

// processCollisionEvents compares current and previous pairs to detect Enter/Stay/Exit
// Should be called once per step
func (e *Events) processCollisionEvents() {
	// Detect Enter and Stay events
	for pair, active := range e.currentActivePairs {
		if _, ok := e.previousActivePairs[pair]; ok {
			// Pair was active before and still is, Stay
			if active.isTrigger {
				e.buffer = append(e.buffer, TriggerStayEvent{BodyA: active.bodyA, BodyB: active.bodyB})
			} else {
				e.buffer = append(e.buffer, CollisionStayEvent{
					BodyA:   active.bodyA,
					BodyB:   active.bodyB,
					Normal:  active.normal,
					Impulse: active.impulse,
				})
			}
		} else {
			// New pair, Enter
			if active.isTrigger {
				e.buffer = append(e.buffer, TriggerEnterEvent{BodyA: active.bodyA, BodyB: active.bodyB})
			} else {
				e.buffer = append(e.buffer, CollisionEnterEvent{
					BodyA:   active.bodyA,
					BodyB:   active.bodyB,
					Normal:  active.normal,
					Impulse: active.impulse,
				})
			}
		}
	}

	// Detect Exit events
	for pair, previous := range e.previousActivePairs {
		if _, ok := e.currentActivePairs[pair]; !ok {
			// Pair was active but is no longer, Exit
			if previous.isTrigger {
				e.buffer = append(e.buffer, TriggerExitEvent{BodyA: previous.bodyA, BodyB: previous.bodyB})
			} else {
				e.buffer = append(e.buffer, CollisionExitEvent{BodyA: previous.bodyA, BodyB: previous.bodyB})
			}
		}
	}

	// Swap for next step and clear current
	e.previousActivePairs, e.currentActivePairs = e.currentActivePairs, e.previousActivePairs
	clear(e.currentActivePairs)
}

// flush sends all buffered events and clears the buffer
func (e *Events) flush() {
	e.processCollisionEvents()

	for _, event := range e.buffer {
		if listeners, ok := e.listeners[event.Type()]; ok {
			for _, listener := range listeners {
				listener(event)
			}
		}
	}
	clear(e.buffer)
	e.buffer = e.buffer[:0]
}
