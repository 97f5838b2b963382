// Package tendon steps a world of rigid bodies through the velocity
// constraint solver: contacts from an external collision detection and joints
// are turned into Jacobians, solved, integrated, and reported as events.
package tendon

import (
	"context"
	"errors"
	"fmt"

	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/akmonengine/tendon/solver"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/akmonengine/tendon"

var (
	ErrUnknownBody   = errors.New("unknown body")
	ErrDuplicateBody = errors.New("body already in world")
	ErrInvalidJoint  = errors.New("invalid joint")
)

// Joint links two bodies of the world by entity.
type Joint struct {
	Entity      uuid.UUID
	BodyA       uuid.UUID
	BodyB       uuid.UUID
	AFromJoint  actor.Transform
	BFromJoint  actor.Transform
	Constraints []constraint.Constraint
}

// Contact is one manifold found by collision detection between two bodies of
// the world. Points lie on the surface of B; Normal points from B towards A.
type Contact struct {
	BodyA     uuid.UUID
	BodyB     uuid.UUID
	Normal    mgl64.Vec3
	Points    []constraint.ContactPoint
	IsTrigger bool

	ColliderKeys constraint.ColliderKeyPair
	// Flags may hold FlagSurfaceVelocity and FlagMassFactors.
	Flags           constraint.Flags
	SurfaceVelocity constraint.SurfaceVelocity
	MassFactors     constraint.MassFactors
}

type World struct {
	// List of all bodies in the world
	Bodies []*actor.Body
	Joints []*Joint

	Events Events

	config solver.Config
	solver *solver.Solver
	tracer trace.Tracer

	// per step arenas, dynamic and kinematic bodies first
	order      []*actor.Body
	indices    map[uuid.UUID]int32
	motions    []actor.MotionData
	velocities []actor.MotionVelocity
	entities   []uuid.UUID
}

func NewWorld(config solver.Config) (*World, error) {
	s, err := solver.New(config)
	if err != nil {
		return nil, fmt.Errorf("new world: %w", err)
	}

	return &World{
		Events:  NewEvents(),
		config:  s.Config(),
		solver:  s,
		tracer:  otel.Tracer(tracerName),
		indices: make(map[uuid.UUID]int32),
	}, nil
}

func (w *World) Config() solver.Config {
	return w.config
}

// AddBody adds a body to the world, giving it an entity if it has none.
func (w *World) AddBody(body *actor.Body) error {
	if body.Entity == uuid.Nil {
		body.Entity = uuid.New()
	}
	if w.Body(body.Entity) != nil {
		return fmt.Errorf("add body %v: %w", body.Entity, ErrDuplicateBody)
	}

	w.Bodies = append(w.Bodies, body)
	return nil
}

// Body returns the body with the given entity, or nil.
func (w *World) Body(entity uuid.UUID) *actor.Body {
	for _, b := range w.Bodies {
		if b.Entity == entity {
			return b
		}
	}
	return nil
}

// RemoveBody removes a body and every joint attached to it
func (w *World) RemoveBody(entity uuid.UUID) {
	k := -1
	for i, b := range w.Bodies {
		if b.Entity == entity {
			k = i
			break
		}
	}

	if k != -1 {
		w.Bodies = append(w.Bodies[:k], w.Bodies[k+1:]...)
	}

	n := 0
	for _, j := range w.Joints {
		if j.BodyA != entity && j.BodyB != entity {
			w.Joints[n] = j
			n++
		}
	}
	clear(w.Joints[n:])
	w.Joints = w.Joints[:n]

	w.Events.forget(entity)
}

// AddJoint checks and adds a joint, giving it an entity if it has none.
func (w *World) AddJoint(joint *Joint) error {
	if w.Body(joint.BodyA) == nil || w.Body(joint.BodyB) == nil {
		return fmt.Errorf("add joint between %v and %v: %w", joint.BodyA, joint.BodyB, ErrUnknownBody)
	}
	if joint.BodyA == joint.BodyB {
		return fmt.Errorf("%w: joint links body %v to itself", ErrInvalidJoint, joint.BodyA)
	}
	if len(joint.Constraints) == 0 || len(joint.Constraints) > 3 {
		return fmt.Errorf("%w: %d constraint rows", ErrInvalidJoint, len(joint.Constraints))
	}
	for i, c := range joint.Constraints {
		isMotor := c.Type == constraint.ConstraintTypeLinearVelocityMotor || c.Type == constraint.ConstraintTypeAngularVelocityMotor
		if isMotor && c.Dimension() != 1 {
			return fmt.Errorf("%w: motor row %d constrains %d axes", ErrInvalidJoint, i, c.Dimension())
		}
	}

	if joint.Entity == uuid.Nil {
		joint.Entity = uuid.New()
	}
	w.Joints = append(w.Joints, joint)
	return nil
}

// NewJoint links a to b through a frame given in world space. The frame is
// placed in both motion spaces from the current body transforms.
func NewJoint(a, b *actor.Body, worldFromJoint actor.Transform, constraints ...constraint.Constraint) *Joint {
	return &Joint{
		Entity:      uuid.New(),
		BodyA:       a.Entity,
		BodyB:       b.Entity,
		AFromJoint:  a.Transform.Inverse().Mul(worldFromJoint),
		BFromJoint:  b.Transform.Inverse().Mul(worldFromJoint),
		Constraints: constraints,
	}
}

// RemoveJoint removes the joint with the given entity.
func (w *World) RemoveJoint(entity uuid.UUID) {
	for i, j := range w.Joints {
		if j.Entity == entity {
			w.Joints = append(w.Joints[:i], w.Joints[i+1:]...)
			return
		}
	}
}

// Step advances the world by one timestep: contacts and joints are solved,
// bodies are integrated, and events are flushed to the listeners.
func (w *World) Step(ctx context.Context, contacts []Contact) error {
	ctx, span := w.tracer.Start(ctx, "tendon.World.Step",
		trace.WithAttributes(
			attribute.Int("bodies", len(w.Bodies)),
			attribute.Int("joints", len(w.Joints)),
			attribute.Int("contacts", len(contacts)),
		))
	defer span.End()

	w.prepareBodies()
	manifolds, err := w.manifolds(contacts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid contacts")
		return err
	}
	joints, err := w.joints()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid joints")
		return err
	}

	data := w.build(ctx, manifolds, joints)
	events := w.solve(ctx, data)
	w.integrate(ctx, data)

	w.recordEvents(events)
	w.Events.flush()
	return nil
}

// prepareBodies fills the solver arenas: dynamic and kinematic bodies first,
// in insertion order, then static bodies.
func (w *World) prepareBodies() {
	w.order = w.order[:0]
	clear(w.indices)
	for _, b := range w.Bodies {
		if b.BodyType != actor.BodyTypeStatic {
			w.order = append(w.order, b)
		}
	}
	numDynamic := len(w.order)
	for _, b := range w.Bodies {
		if b.BodyType == actor.BodyTypeStatic {
			w.order = append(w.order, b)
		}
	}

	w.motions = w.motions[:0]
	w.velocities = w.velocities[:0]
	w.entities = w.entities[:0]
	for i, b := range w.order {
		w.indices[b.Entity] = int32(i)
		w.motions = append(w.motions, b.MotionData())
		w.entities = append(w.entities, b.Entity)
		if i < numDynamic {
			w.velocities = append(w.velocities, b.MotionVelocity())
		}
	}
}

func (w *World) index(entity uuid.UUID) (int32, error) {
	i, ok := w.indices[entity]
	if !ok {
		return 0, fmt.Errorf("body %v: %w", entity, ErrUnknownBody)
	}
	return i, nil
}

// manifolds resolves the contacts against the arenas and combines the
// materials of both bodies.
func (w *World) manifolds(contacts []Contact) ([]constraint.Manifold, error) {
	manifolds := make([]constraint.Manifold, 0, len(contacts))
	for _, c := range contacts {
		a, err := w.index(c.BodyA)
		if err != nil {
			return nil, fmt.Errorf("contact: %w", err)
		}
		b, err := w.index(c.BodyB)
		if err != nil {
			return nil, fmt.Errorf("contact: %w", err)
		}
		if len(c.Points) == 0 {
			continue
		}

		matA, matB := w.order[a].Material, w.order[b].Material
		manifolds = append(manifolds, constraint.Manifold{
			ContactHeader: constraint.ContactHeader{
				BodyA:                    a,
				BodyB:                    b,
				Normal:                   c.Normal,
				CoefficientOfFriction:    actor.CombineFriction(matA, matB),
				CoefficientOfRestitution: actor.CombineRestitution(matA, matB),
				Flags:                    c.Flags | constraint.FlagCollisionEvents,
				IsTrigger:                c.IsTrigger,
				ColliderKeys:             c.ColliderKeys,
				SurfaceVelocity:          c.SurfaceVelocity,
				MassFactors:              c.MassFactors,
			},
			Points: c.Points,
		})
	}
	return manifolds, nil
}

func (w *World) joints() ([]constraint.Joint, error) {
	joints := make([]constraint.Joint, 0, len(w.Joints))
	for _, j := range w.Joints {
		a, err := w.index(j.BodyA)
		if err != nil {
			return nil, fmt.Errorf("joint %v: %w", j.Entity, err)
		}
		b, err := w.index(j.BodyB)
		if err != nil {
			return nil, fmt.Errorf("joint %v: %w", j.Entity, err)
		}

		joints = append(joints, constraint.Joint{
			Entity:      j.Entity,
			BodyA:       a,
			BodyB:       b,
			AFromJoint:  j.AFromJoint,
			BFromJoint:  j.BFromJoint,
			Constraints: j.Constraints,
		})
	}
	return joints, nil
}

func (w *World) build(ctx context.Context, manifolds []constraint.Manifold, joints []constraint.Joint) *solver.StepData {
	_, span := w.tracer.Start(ctx, "tendon.World.build")
	defer span.End()

	schedule, contacts := solver.Dispatch(manifolds, joints, len(w.velocities), w.config)
	data := &solver.StepData{
		Schedule:   schedule,
		Contacts:   contacts,
		Joints:     joints,
		Motions:    w.motions,
		Velocities: w.velocities,
		Entities:   w.entities,
	}
	w.solver.ApplyGravityAndCopyInputVelocities(data)
	w.solver.Build(data)

	span.SetAttributes(
		attribute.Int("pairs", len(schedule.Pairs)),
		attribute.Int("work_items", schedule.NumWorkItems()),
		attribute.Int("phases", len(schedule.Phases)),
		attribute.Int("records", w.solver.RecordCount()),
	)
	return data
}

func (w *World) solve(ctx context.Context, data *solver.StepData) *constraint.Events {
	_, span := w.tracer.Start(ctx, "tendon.World.solve",
		trace.WithAttributes(attribute.Int("iterations", w.config.SolverIterations)))
	defer span.End()

	events := w.solver.Solve(data)
	span.SetAttributes(
		attribute.Int("collision_events", events.Collisions.Len()),
		attribute.Int("trigger_events", events.Triggers.Len()),
		attribute.Int("impulse_events", events.Impulses.Len()),
	)
	return events
}

func (w *World) integrate(ctx context.Context, data *solver.StepData) {
	_, span := w.tracer.Start(ctx, "tendon.World.integrate")
	defer span.End()

	solver.Integrate(w.config.Workers, data.Motions, data.Velocities, w.config.Timestep)
	for i := range data.Velocities {
		w.order[i].SetMotion(data.Motions[i], data.Velocities[i])
	}
}

// recordEvents feeds the solver events of the step to the event manager.
func (w *World) recordEvents(events *constraint.Events) {
	for _, e := range events.Collisions.All() {
		w.Events.recordCollision(w.order[e.BodyA], w.order[e.BodyB], e.Normal, e.AccumulatedImpulse)
	}
	for _, e := range events.Triggers.All() {
		w.Events.recordTrigger(w.order[e.BodyA], w.order[e.BodyB])
	}
	for _, e := range events.Impulses.All() {
		if joint := w.joint(e.JointEntity); joint != nil {
			w.Events.emitImpulse(joint, e.Type, e.Impulse)
		}
	}
}

func (w *World) joint(entity uuid.UUID) *Joint {
	for _, j := range w.Joints {
		if j.Entity == entity {
			return j
		}
	}
	return nil
}
