package tendon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/akmonengine/tendon/solver"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
)

const epsilon = 1e-9

func vec3AlmostEqual(a, b mgl64.Vec3) bool {
	return math.Abs(a.X()-b.X()) < epsilon &&
		math.Abs(a.Y()-b.Y()) < epsilon &&
		math.Abs(a.Z()-b.Z()) < epsilon
}

// Test helper functions
func newTestWorld(t *testing.T, cfg solver.Config) *World {
	t.Helper()
	w, err := NewWorld(cfg)
	if err != nil {
		t.Fatalf("NewWorld() error = %v", err)
	}
	return w
}

func createSphere(position mgl64.Vec3, radius float64, bodyType actor.BodyType) *actor.Body {
	return actor.NewBody(
		actor.Transform{Position: position, Rotation: mgl64.QuatIdent()},
		actor.SphereMassProperties(radius, 1.0),
		bodyType,
	)
}

func createPlane() *actor.Body {
	return actor.NewBody(actor.NewTransform(), actor.MassProperties{}, actor.BodyTypeStatic)
}

func addBodies(t *testing.T, w *World, bodies ...*actor.Body) {
	t.Helper()
	for _, b := range bodies {
		if err := w.AddBody(b); err != nil {
			t.Fatalf("AddBody() error = %v", err)
		}
	}
}

// sphereContacts is a tiny narrow phase for spheres of one radius over the
// plane y = 0.
func sphereContacts(plane *actor.Body, spheres []*actor.Body, radius float64) []Contact {
	var contacts []Contact
	for i, a := range spheres {
		center := a.Transform.Position
		if distance := center.Y() - radius; distance < 0.01 {
			contacts = append(contacts, Contact{
				BodyA:  a.Entity,
				BodyB:  plane.Entity,
				Normal: mgl64.Vec3{0, 1, 0},
				Points: []constraint.ContactPoint{{Position: mgl64.Vec3{center.X(), 0, center.Z()}, Distance: distance}},
			})
		}

		for _, b := range spheres[:i] {
			delta := center.Sub(b.Transform.Position)
			length := delta.Len()
			if distance := length - 2*radius; distance < 0.01 && length > 0 {
				normal := delta.Mul(1 / length)
				contacts = append(contacts, Contact{
					BodyA:  a.Entity,
					BodyB:  b.Entity,
					Normal: normal,
					Points: []constraint.ContactPoint{{Position: b.Transform.Position.Add(normal.Mul(radius)), Distance: distance}},
				})
			}
		}
	}
	return contacts
}

// =============================================================================
// World Setup Tests
// =============================================================================

func TestNewWorld_InvalidConfig(t *testing.T) {
	cfg := solver.DefaultConfig()
	cfg.Timestep = 0

	if _, err := NewWorld(cfg); !errors.Is(err, solver.ErrInvalidTimestep) {
		t.Errorf("NewWorld() error = %v, want %v", err, solver.ErrInvalidTimestep)
	}
}

func TestWorld_AddBody(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())

	body := createSphere(mgl64.Vec3{}, 1, actor.BodyTypeDynamic)
	body.Entity = uuid.Nil
	if err := w.AddBody(body); err != nil {
		t.Fatalf("AddBody() error = %v", err)
	}
	if body.Entity == uuid.Nil {
		t.Error("AddBody() should give the body an entity")
	}
	if w.Body(body.Entity) != body {
		t.Error("Body() should find the added body")
	}
	if err := w.AddBody(body); !errors.Is(err, ErrDuplicateBody) {
		t.Errorf("AddBody() twice error = %v, want %v", err, ErrDuplicateBody)
	}
}

func TestWorld_AddJoint(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	a := createSphere(mgl64.Vec3{}, 1, actor.BodyTypeDynamic)
	b := createSphere(mgl64.Vec3{2, 0, 0}, 1, actor.BodyTypeDynamic)
	addBodies(t, w, a, b)

	twoAxisMotor := constraint.LinearMotor(0, 1, 10)
	twoAxisMotor.ConstrainedAxes[1] = true

	tests := []struct {
		name    string
		joint   Joint
		wantErr error
	}{
		{
			name:    "ball and socket",
			joint:   Joint{BodyA: a.Entity, BodyB: b.Entity, Constraints: []constraint.Constraint{constraint.BallAndSocket()}},
			wantErr: nil,
		},
		{
			name:    "unknown body",
			joint:   Joint{BodyA: a.Entity, BodyB: uuid.New(), Constraints: []constraint.Constraint{constraint.BallAndSocket()}},
			wantErr: ErrUnknownBody,
		},
		{
			name:    "same body",
			joint:   Joint{BodyA: a.Entity, BodyB: a.Entity, Constraints: []constraint.Constraint{constraint.BallAndSocket()}},
			wantErr: ErrInvalidJoint,
		},
		{
			name:    "no rows",
			joint:   Joint{BodyA: a.Entity, BodyB: b.Entity},
			wantErr: ErrInvalidJoint,
		},
		{
			name: "too many rows",
			joint: Joint{BodyA: a.Entity, BodyB: b.Entity, Constraints: []constraint.Constraint{
				constraint.BallAndSocket(), constraint.Twist(0, -1, 1), constraint.Twist(1, -1, 1), constraint.Twist(2, -1, 1),
			}},
			wantErr: ErrInvalidJoint,
		},
		{
			name:    "motor on two axes",
			joint:   Joint{BodyA: a.Entity, BodyB: b.Entity, Constraints: []constraint.Constraint{twoAxisMotor}},
			wantErr: ErrInvalidJoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joint := tt.joint
			err := w.AddJoint(&joint)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("AddJoint() error = %v", err)
				}
				if joint.Entity == uuid.Nil {
					t.Error("AddJoint() should give the joint an entity")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddJoint() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewJoint_FramesMeetInWorldSpace(t *testing.T) {
	a := createSphere(mgl64.Vec3{1, 2, 3}, 1, actor.BodyTypeDynamic)
	a.Transform.Rotation = mgl64.QuatRotate(math.Pi/3, mgl64.Vec3{0, 0, 1})
	b := createSphere(mgl64.Vec3{-2, 0, 1}, 1, actor.BodyTypeDynamic)
	b.Transform.Rotation = mgl64.QuatRotate(-math.Pi/4, mgl64.Vec3{1, 0, 0})
	worldFromJoint := actor.Transform{
		Rotation: mgl64.QuatRotate(math.Pi/6, mgl64.Vec3{0, 1, 0}),
		Position: mgl64.Vec3{0, 1, 2},
	}

	joint := NewJoint(a, b, worldFromJoint, constraint.BallAndSocket())

	if joint.BodyA != a.Entity || joint.BodyB != b.Entity || joint.Entity == uuid.Nil {
		t.Fatalf("NewJoint() = %+v, want bodies %v and %v with an entity", joint, a.Entity, b.Entity)
	}
	for _, tt := range []struct {
		name      string
		body      *actor.Body
		jointFrom actor.Transform
	}{
		{"A", a, joint.AFromJoint},
		{"B", b, joint.BFromJoint},
	} {
		got := tt.body.Transform.Mul(tt.jointFrom)
		if !vec3AlmostEqual(got.Position, worldFromJoint.Position) {
			t.Errorf("%s: pivot in world = %v, want %v", tt.name, got.Position, worldFromJoint.Position)
		}
		if !vec3AlmostEqual(got.Rotation.Rotate(mgl64.Vec3{1, 0, 0}), worldFromJoint.Rotation.Rotate(mgl64.Vec3{1, 0, 0})) {
			t.Errorf("%s: joint rotation in world = %v, want %v", tt.name, got.Rotation, worldFromJoint.Rotation)
		}
	}
}

func TestWorld_RemoveBody(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	a := createSphere(mgl64.Vec3{}, 1, actor.BodyTypeDynamic)
	b := createSphere(mgl64.Vec3{2, 0, 0}, 1, actor.BodyTypeDynamic)
	c := createSphere(mgl64.Vec3{4, 0, 0}, 1, actor.BodyTypeDynamic)
	addBodies(t, w, a, b, c)

	for _, pair := range [][2]*actor.Body{{a, b}, {b, c}} {
		joint := &Joint{BodyA: pair[0].Entity, BodyB: pair[1].Entity, Constraints: []constraint.Constraint{constraint.BallAndSocket()}}
		if err := w.AddJoint(joint); err != nil {
			t.Fatalf("AddJoint() error = %v", err)
		}
	}

	w.RemoveBody(a.Entity)
	if len(w.Bodies) != 2 {
		t.Errorf("len(Bodies) = %d, want 2", len(w.Bodies))
	}
	if len(w.Joints) != 1 || w.Joints[0].BodyA != b.Entity {
		t.Errorf("Joints = %v, want only the joint between b and c", w.Joints)
	}

	w.RemoveJoint(w.Joints[0].Entity)
	if len(w.Joints) != 0 {
		t.Errorf("len(Joints) = %d, want 0", len(w.Joints))
	}
}

// =============================================================================
// Step Tests
// =============================================================================

func TestWorld_Step_UnknownBody(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	sphere := createSphere(mgl64.Vec3{0, 1, 0}, 1, actor.BodyTypeDynamic)
	addBodies(t, w, sphere)

	contacts := []Contact{{
		BodyA:  sphere.Entity,
		BodyB:  uuid.New(),
		Normal: mgl64.Vec3{0, 1, 0},
		Points: []constraint.ContactPoint{{}},
	}}
	if err := w.Step(context.Background(), contacts); !errors.Is(err, ErrUnknownBody) {
		t.Errorf("Step() error = %v, want %v", err, ErrUnknownBody)
	}
}

func TestWorld_Step_FreeFall(t *testing.T) {
	cfg := solver.DefaultConfig()
	w := newTestWorld(t, cfg)
	sphere := createSphere(mgl64.Vec3{0, 10, 0}, 1, actor.BodyTypeDynamic)
	kinematic := createSphere(mgl64.Vec3{}, 1, actor.BodyTypeKinematic)
	kinematic.LinearVelocity = mgl64.Vec3{1, 0, 0}
	addBodies(t, w, sphere, kinematic)

	if err := w.Step(context.Background(), nil); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	h := cfg.Timestep
	wantVelocity := cfg.Gravity.Mul(h)
	if !vec3AlmostEqual(sphere.LinearVelocity, wantVelocity) {
		t.Errorf("sphere LinearVelocity = %v, want %v", sphere.LinearVelocity, wantVelocity)
	}
	wantPosition := mgl64.Vec3{0, 10, 0}.Add(wantVelocity.Mul(h))
	if !vec3AlmostEqual(sphere.Transform.Position, wantPosition) {
		t.Errorf("sphere Position = %v, want %v", sphere.Transform.Position, wantPosition)
	}
	if !vec3AlmostEqual(kinematic.Transform.Position, mgl64.Vec3{h, 0, 0}) {
		t.Errorf("kinematic Position = %v, want (%v, 0, 0)", kinematic.Transform.Position, h)
	}
	if kinematic.LinearVelocity != (mgl64.Vec3{1, 0, 0}) {
		t.Errorf("kinematic LinearVelocity = %v, want (1, 0, 0)", kinematic.LinearVelocity)
	}
}

func TestWorld_Step_RestingSphereEvents(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	plane := createPlane()
	sphere := createSphere(mgl64.Vec3{0, 1, 0}, 1, actor.BodyTypeDynamic)
	addBodies(t, w, plane, sphere)

	capture := &eventCapture{}
	subscribeAll(&w.Events, capture)

	for step := range 3 {
		capture.reset()
		if err := w.Step(context.Background(), sphereContacts(plane, []*actor.Body{sphere}, 1)); err != nil {
			t.Fatalf("Step() error = %v", err)
		}

		want := COLLISION_STAY
		if step == 0 {
			want = COLLISION_ENTER
		}
		if capture.count() != 1 || !capture.hasEventType(want) {
			t.Fatalf("step %d: events = %v, want one of type %d", step, capture.events, want)
		}
	}

	if stay, ok := capture.events[0].(CollisionStayEvent); !ok || stay.Impulse <= 0 {
		t.Errorf("last event = %+v, want a stay with a positive impulse", capture.events[0])
	}
	if math.Abs(sphere.Transform.Position.Y()-1) > 1e-6 {
		t.Errorf("sphere height = %v, want 1", sphere.Transform.Position.Y())
	}

	capture.reset()
	sphere.Transform.Position = mgl64.Vec3{0, 5, 0}
	if err := w.Step(context.Background(), sphereContacts(plane, []*actor.Body{sphere}, 1)); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !capture.hasEventType(COLLISION_EXIT) {
		t.Errorf("events = %v, want a COLLISION_EXIT", capture.events)
	}
}

func TestWorld_Step_Bounce(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	plane := createPlane()
	sphere := createSphere(mgl64.Vec3{0, 1, 0}, 1, actor.BodyTypeDynamic)
	plane.Material.Restitution = 0.5
	sphere.Material.Restitution = 0.5
	sphere.LinearVelocity = mgl64.Vec3{0, -4, 0}
	addBodies(t, w, plane, sphere)

	if err := w.Step(context.Background(), sphereContacts(plane, []*actor.Body{sphere}, 1)); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if vy := sphere.LinearVelocity.Y(); vy < 1.5 || vy > 2.5 {
		t.Errorf("bounce velocity = %v, want about 2", vy)
	}
}

func TestWorld_Step_Trigger(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	volume := createPlane()
	sphere := createSphere(mgl64.Vec3{0, 0.5, 0}, 1, actor.BodyTypeDynamic)
	addBodies(t, w, volume, sphere)

	capture := &eventCapture{}
	subscribeAll(&w.Events, capture)

	contacts := sphereContacts(volume, []*actor.Body{sphere}, 1)
	contacts[0].IsTrigger = true
	if err := w.Step(context.Background(), contacts); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if !capture.hasEventType(TRIGGER_ENTER) {
		t.Errorf("events = %v, want a TRIGGER_ENTER", capture.events)
	}
	if capture.hasEventType(COLLISION_ENTER) {
		t.Error("a trigger should not raise collision events")
	}
	if sphere.LinearVelocity.Y() >= 0 {
		t.Errorf("LinearVelocity.Y = %v, a trigger should not push", sphere.LinearVelocity.Y())
	}
}

func TestWorld_Step_JointImpulseEvent(t *testing.T) {
	w := newTestWorld(t, solver.DefaultConfig())
	anchor := createPlane()
	bob := createSphere(mgl64.Vec3{0, -1, 0}, 0.25, actor.BodyTypeDynamic)
	addBodies(t, w, anchor, bob)

	row := constraint.BallAndSocket()
	row.EnableImpulseEvents = true
	row.MaxImpulse = 1e-3
	joint := &Joint{
		BodyA:       bob.Entity,
		BodyB:       anchor.Entity,
		AFromJoint:  actor.Transform{Rotation: mgl64.QuatIdent(), Position: mgl64.Vec3{0, 1, 0}},
		BFromJoint:  actor.NewTransform(),
		Constraints: []constraint.Constraint{row},
	}
	if err := w.AddJoint(joint); err != nil {
		t.Fatalf("AddJoint() error = %v", err)
	}

	capture := &eventCapture{}
	w.Events.Subscribe(JOINT_IMPULSE, capture.capture)
	if err := w.Step(context.Background(), nil); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if capture.count() != 1 {
		t.Fatalf("got %d impulse events, want 1", capture.count())
	}
	if e := capture.events[0].(JointImpulseEvent); e.Joint != joint {
		t.Errorf("Joint = %p, want %p", e.Joint, joint)
	}
	if math.Abs(bob.LinearVelocity.Y()) > 1e-3 {
		t.Errorf("bob LinearVelocity.Y = %v, want about 0", bob.LinearVelocity.Y())
	}
}

// =============================================================================
// Determinism Tests
// =============================================================================

// runPile drops a small pile of spheres and dumps every position at every step.
func runPile(t *testing.T, workers int) string {
	cfg := solver.DefaultConfig()
	cfg.Workers = workers
	cfg.WorkItemSize = 2
	cfg.MaxPhases = 4
	cfg.Stabilization.Enabled = true
	w := newTestWorld(t, cfg)

	plane := createPlane()
	plane.Material.Friction = 0.5
	addBodies(t, w, plane)

	var spheres []*actor.Body
	for i := range 12 {
		x := float64(i%3) * 1.05
		z := float64(i%2) * 0.3
		y := 0.5 + float64(i/3)*1.1
		sphere := createSphere(mgl64.Vec3{x, y, z}, 0.5, actor.BodyTypeDynamic)
		sphere.Entity = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprint(i)))
		sphere.Material.Friction = 0.5
		spheres = append(spheres, sphere)
	}
	addBodies(t, w, spheres...)

	var dump strings.Builder
	for step := range 60 {
		if err := w.Step(context.Background(), sphereContacts(plane, spheres, 0.5)); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		for i, s := range spheres {
			p := s.Transform.Position
			fmt.Fprintf(&dump, "%d %d %.12f %.12f %.12f\n", step, i, p.X(), p.Y(), p.Z())
		}
	}
	return dump.String()
}

func TestWorld_Deterministic(t *testing.T) {
	expected := runPile(t, 1)

	for _, workers := range []int{1, 4} {
		output := runPile(t, workers)
		if output != expected {
			diff := difflib.UnifiedDiff{
				A:        difflib.SplitLines(expected),
				B:        difflib.SplitLines(output),
				FromFile: "Expected",
				ToFile:   fmt.Sprintf("Workers=%d", workers),
				Context:  0,
			}
			text, _ := difflib.GetUnifiedDiffString(diff)
			t.Fatalf("runs diverge:\n%s", text)
		}
	}
}
