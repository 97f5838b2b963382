package constraint

import (
	"math"
	"testing"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// =============================================================================
// Helpers
// =============================================================================

const testTimestep = 1.0 / 60.0

var testGravity = mgl64.Vec3{0, -9.81, 0}

func motionAt(position mgl64.Vec3) actor.MotionData {
	return actor.MotionData{
		WorldFromMotion: actor.Transform{Rotation: mgl64.QuatIdent(), Position: position},
		GravityFactor:   1,
	}
}

// unitSphere is a dynamic sphere of radius 1 and mass 1.
func unitSphere(velocity mgl64.Vec3) actor.MotionVelocity {
	return actor.MotionVelocity{
		LinearVelocity: velocity,
		InverseMass:    1,
		InverseInertia: mgl64.Vec3{2.5, 2.5, 2.5},
	}
}

// pointMass is a dynamic body with mass 1 that cannot rotate.
func pointMass(velocity mgl64.Vec3) actor.MotionVelocity {
	return actor.MotionVelocity{LinearVelocity: velocity, InverseMass: 1}
}

// withGravity applies one step of gravity, as the solver does before building.
func withGravity(v actor.MotionVelocity) actor.MotionVelocity {
	if v.InverseMass > 0 {
		v.LinearVelocity = v.LinearVelocity.Add(testGravity.Mul(testTimestep))
	}
	return v
}

func buildRecord(m *Manifold, entities EntityPair, motionA, motionB actor.MotionData,
	velocityA, velocityB actor.MotionVelocity, input *StepInput, maxDepenetration float64) Record {
	h := m.RecordHeader()
	buf := make([]byte, CalculateSize(h.Type, h.Flags, len(m.Points)))
	byteOrder.PutUint32(buf, uint32(len(buf)))
	r := NewRecord(buf, h, len(m.Points))
	if m.IsTrigger {
		BuildTrigger(r, m, entities, motionA, motionB, velocityA, velocityB, input, maxDepenetration)
	} else {
		BuildContact(r, m, entities, motionA, motionB, velocityA, velocityB, input, maxDepenetration)
	}
	return r
}

// solveIterations solves r for every iteration of input and calls after, if
// not nil, once per iteration. Events are collected on the last iteration.
func solveIterations(r Record, velocityA, velocityB *actor.MotionVelocity, input *StepInput,
	after func(iteration int)) *Events {
	events := NewEvents(1)
	for i := range input.NumIterations {
		input.Iteration = i
		ctx := SolveContext{
			Input:          input,
			StabilizationA: DefaultMotionStabilizationInput,
			StabilizationB: DefaultMotionStabilizationInput,
		}
		if input.IsLastIteration() {
			ctx.Events = events.Writer(0)
		}
		SolveRecord(r, velocityA, velocityB, &ctx)
		if ctx.Events != nil {
			ctx.Events.End()
		}
		if after != nil {
			after(i)
		}
	}
	return events
}

// restingManifold is A lying on B along +y, touching at the origin.
func restingManifold(distance float64) *Manifold {
	return &Manifold{
		ContactHeader: ContactHeader{
			BodyA:  0,
			BodyB:  1,
			Normal: mgl64.Vec3{0, 1, 0},
		},
		Points: []ContactPoint{{Position: mgl64.Vec3{0, 0, 0}, Distance: distance}},
	}
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuildContact_DepenetrationCap(t *testing.T) {
	tests := []struct {
		name     string
		maxDepen float64
		want     float64
	}{
		{name: "against static", maxDepen: math.Inf(1), want: 60},
		{name: "between dynamics", maxDepen: MaxDepenetrationVelocity, want: MaxDepenetrationVelocity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewStepInput(testTimestep, testGravity, 4)
			m := restingManifold(-1)
			r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 0.5, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
				unitSphere(mgl64.Vec3{}), actor.ZeroMotionVelocity, &input, tt.maxDepen)

			if got := r.PointJacobian(0).VelToReachCp; !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("VelToReachCp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildContact_SeparatedTarget(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	r := buildRecord(restingManifold(0.1), EntityPair{}, motionAt(mgl64.Vec3{0, 1.1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		unitSphere(mgl64.Vec3{}), actor.ZeroMotionVelocity, &input, math.Inf(1))

	// A may approach at 0.1 m per step
	if got := r.PointJacobian(0).VelToReachCp; !almostEqual(got, -6, 1e-9) {
		t.Errorf("VelToReachCp = %v, want -6", got)
	}
}

func TestBuildContact_KinematicPairHasNoFriction(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	kinematic := actor.MotionVelocity{LinearVelocity: mgl64.Vec3{1, 0, 0}}
	m := restingManifold(0)
	m.CoefficientOfFriction = 1
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		kinematic, kinematic, &input, MaxDepenetrationVelocity)

	var jac ContactJacobian
	r.Payload(&jac)
	if jac.Friction0.EffectiveMass != 0 || jac.Friction1.EffectiveMass != 0 || jac.AngularFriction.EffectiveMass != 0 {
		t.Errorf("friction effective masses = (%v, %v, %v), want zero",
			jac.Friction0.EffectiveMass, jac.Friction1.EffectiveMass, jac.AngularFriction.EffectiveMass)
	}
}

func TestBuildContact_SingularFrictionRegularized(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	m := restingManifold(0)
	m.CoefficientOfFriction = 1
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		pointMass(mgl64.Vec3{}), actor.ZeroMotionVelocity, &input, math.Inf(1))

	var jac ContactJacobian
	r.Payload(&jac)
	if !almostEqual(jac.Friction0.EffectiveMass, 1, 1e-12) || !almostEqual(jac.Friction1.EffectiveMass, 1, 1e-12) {
		t.Errorf("linear friction effective masses = (%v, %v), want 1",
			jac.Friction0.EffectiveMass, jac.Friction1.EffectiveMass)
	}
	if !almostEqual(jac.AngularFriction.EffectiveMass, 1, 1e-12) {
		t.Errorf("angular friction effective mass = %v, want pinned to 1", jac.AngularFriction.EffectiveMass)
	}
	if jac.FrictionEffectiveMassOffDiag != (mgl64.Vec3{}) {
		t.Errorf("friction off diagonal = %v, want zero", jac.FrictionEffectiveMassOffDiag)
	}
}

func TestBuildContact_RestitutionThreshold(t *testing.T) {
	tests := []struct {
		name     string
		velocity float64
		want     bool
	}{
		{name: "fast impact bounces", velocity: -5, want: true},
		{name: "slow approach does not", velocity: 0.1, want: false},
		{name: "separating does not", velocity: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewStepInput(testTimestep, testGravity, 4)
			m := restingManifold(0)
			m.CoefficientOfRestitution = 0.5
			m.CoefficientOfFriction = 0.5
			r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
				withGravity(unitSphere(mgl64.Vec3{0, tt.velocity, 0})), actor.ZeroMotionVelocity, &input, math.Inf(1))

			var jac ContactJacobian
			r.Payload(&jac)
			if jac.ApplyRestitution != tt.want {
				t.Errorf("ApplyRestitution = %v, want %v", jac.ApplyRestitution, tt.want)
			}
		})
	}
}

// =============================================================================
// Solve Tests
// =============================================================================

func TestContact_RestingSphereDoesNotSink(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	velocityA := withGravity(unitSphere(mgl64.Vec3{}))
	velocityB := actor.ZeroMotionVelocity

	// two unit spheres, A resting on static B
	m := restingManifold(0)
	m.Points[0].Position = mgl64.Vec3{0, 1, 0}
	m.CoefficientOfFriction = 0.5
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 2, 0}), motionAt(mgl64.Vec3{0, 0, 0}),
		velocityA, velocityB, &input, math.Inf(1))

	solveIterations(r, &velocityA, &velocityB, &input, nil)

	if velocityA.LinearVelocity.Y() < -1e-9 {
		t.Errorf("velocity Y = %v, want >= 0", velocityA.LinearVelocity.Y())
	}
	if impulse := r.PointJacobian(0).Angular.Impulse; impulse <= 0 {
		t.Errorf("normal impulse = %v, want > 0", impulse)
	}
	if velocityB != actor.ZeroMotionVelocity {
		t.Errorf("static body velocity = %+v, want zero", velocityB)
	}
}

func TestContact_Unilateral(t *testing.T) {
	tests := []struct {
		name     string
		velocity mgl64.Vec3
		spin     mgl64.Vec3
		distance float64
	}{
		{name: "approaching", velocity: mgl64.Vec3{0, -3, 0}},
		{name: "separating", velocity: mgl64.Vec3{0, 4, 0}},
		{name: "separated and approaching slowly", velocity: mgl64.Vec3{0, -1, 0}, distance: 0.5},
		{name: "penetrating and separating", velocity: mgl64.Vec3{0, 2, 0}, distance: -0.05},
		{name: "spinning and sliding", velocity: mgl64.Vec3{3, -1, 1}, spin: mgl64.Vec3{5, 0, -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewStepInput(testTimestep, testGravity, 8)
			velocityA := withGravity(unitSphere(tt.velocity))
			velocityA.AngularVelocity = tt.spin
			velocityB := actor.ZeroMotionVelocity

			m := &Manifold{
				ContactHeader: ContactHeader{BodyA: 0, BodyB: 1, Normal: mgl64.Vec3{0, 1, 0}, CoefficientOfFriction: 0.8},
				Points: []ContactPoint{
					{Position: mgl64.Vec3{0.5, 0, 0.5}, Distance: tt.distance},
					{Position: mgl64.Vec3{-0.5, 0, 0.5}, Distance: tt.distance},
					{Position: mgl64.Vec3{0, 0, -0.5}, Distance: tt.distance},
				},
			}
			r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 0.5, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
				velocityA, velocityB, &input, math.Inf(1))

			solveIterations(r, &velocityA, &velocityB, &input, func(iteration int) {
				for i := range 3 {
					if impulse := r.PointJacobian(i).Angular.Impulse; impulse < 0 {
						t.Errorf("iteration %d point %d: accumulated impulse = %v, want >= 0", iteration, i, impulse)
					}
				}
			})
		})
	}
}

func TestContact_FrictionBound(t *testing.T) {
	const friction = 0.6
	input := NewStepInput(testTimestep, testGravity, 4)
	velocityA := withGravity(unitSphere(mgl64.Vec3{4, -2, 1}))
	velocityA.AngularVelocity = mgl64.Vec3{0, 3, 0}
	velocityB := actor.ZeroMotionVelocity

	m := restingManifold(-0.02)
	m.CoefficientOfFriction = friction
	m.Points = append(m.Points, ContactPoint{Position: mgl64.Vec3{0.3, 0, 0}, Distance: -0.02})
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		velocityA, velocityB, &input, math.Inf(1))

	solveIterations(r, &velocityA, &velocityB, &input, func(iteration int) {
		var jac ContactJacobian
		r.Payload(&jac)
		sumImpulses := r.PointJacobian(0).Angular.Impulse + r.PointJacobian(1).Angular.Impulse
		applied := mgl64.Vec3{jac.Friction0.Impulse, jac.Friction1.Impulse, jac.AngularFriction.Impulse}.Len()
		bound := sumImpulses * friction * input.InvNumIterations
		if applied > bound+1e-12 {
			t.Errorf("iteration %d: friction impulse %v exceeds %v", iteration, applied, bound)
		}
	})
}

func TestContact_FrictionSlowsSliding(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	// no rotation: the friction block is singular and gets regularized
	velocityA := withGravity(pointMass(mgl64.Vec3{5, 0, 0}))
	velocityB := actor.ZeroMotionVelocity

	m := restingManifold(-0.01)
	m.CoefficientOfFriction = 1
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		velocityA, velocityB, &input, math.Inf(1))

	previous := math.Abs(velocityA.LinearVelocity.X())
	solveIterations(r, &velocityA, &velocityB, &input, func(iteration int) {
		current := math.Abs(velocityA.LinearVelocity.X())
		if current >= previous {
			t.Errorf("iteration %d: |vx| = %v, want < %v", iteration, current, previous)
		}
		previous = current
	})

	if velocityA.LinearVelocity.Z() != 0 {
		t.Errorf("vz = %v, want 0", velocityA.LinearVelocity.Z())
	}
}

func TestContact_SurfaceVelocityDrivesFriction(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	velocityA := withGravity(pointMass(mgl64.Vec3{}))
	velocityB := actor.ZeroMotionVelocity

	m := restingManifold(-0.01)
	m.CoefficientOfFriction = 1
	m.Flags = FlagSurfaceVelocity
	m.SurfaceVelocity = SurfaceVelocity{LinearVelocity: mgl64.Vec3{2, 0, 0}}
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		velocityA, velocityB, &input, math.Inf(1))

	solveIterations(r, &velocityA, &velocityB, &input, nil)

	if vx := velocityA.LinearVelocity.X(); vx <= 0 || vx > 2 {
		t.Errorf("vx = %v, want in (0, 2]", vx)
	}
}

func TestContact_Restitution(t *testing.T) {
	input := NewStepInput(testTimestep, testGravity, 4)
	velocityA := withGravity(unitSphere(mgl64.Vec3{0, -5, 0}))
	impactSpeed := -velocityA.LinearVelocity.Y()
	velocityB := actor.ZeroMotionVelocity

	m := restingManifold(0)
	m.CoefficientOfRestitution = 0.5
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		velocityA, velocityB, &input, math.Inf(1))

	solveIterations(r, &velocityA, &velocityB, &input, nil)

	if got := velocityA.LinearVelocity.Y(); !almostEqual(got, 0.5*impactSpeed, 1e-9) {
		t.Errorf("bounce velocity = %v, want %v", got, 0.5*impactSpeed)
	}
}

func TestContact_MassFactors(t *testing.T) {
	input := NewStepInput(testTimestep, mgl64.Vec3{}, 1)
	velocityA := pointMass(mgl64.Vec3{0, -1, 0})
	velocityB := pointMass(mgl64.Vec3{})

	m := restingManifold(0)
	m.Flags = FlagMassFactors
	m.MassFactors = DefaultMassFactors
	m.MassFactors.InverseMassFactorA = 0
	r := buildRecord(m, EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		velocityA, velocityB, &input, MaxDepenetrationVelocity)

	solveIterations(r, &velocityA, &velocityB, &input, nil)

	if !vec3AlmostEqual(velocityA.LinearVelocity, mgl64.Vec3{0, -1, 0}, 1e-12) {
		t.Errorf("A velocity = %v, want unchanged", velocityA.LinearVelocity)
	}
	if !vec3AlmostEqual(velocityB.LinearVelocity, mgl64.Vec3{0, -1, 0}, 1e-12) {
		t.Errorf("B velocity = %v, want (0, -1, 0)", velocityB.LinearVelocity)
	}
	if velocityA.InverseMass != 1 {
		t.Errorf("A inverse mass = %v, want 1 after solve", velocityA.InverseMass)
	}
}

func TestLowerEnergyVelocity(t *testing.T) {
	current := unitSphere(mgl64.Vec3{3, 0, 0})
	slower := unitSphere(mgl64.Vec3{1, 0, 0})
	slower.InverseMass = 7

	got := lowerEnergyVelocity(slower, current)
	if got.LinearVelocity != slower.LinearVelocity || got.InverseMass != current.InverseMass {
		t.Errorf("lowerEnergyVelocity() = %+v, want the slower velocity with current mass", got)
	}

	faster := unitSphere(mgl64.Vec3{9, 0, 0})
	if got := lowerEnergyVelocity(faster, current); got != current {
		t.Errorf("lowerEnergyVelocity() = %+v, want current", got)
	}
}

// =============================================================================
// Event Tests
// =============================================================================

func TestContact_CollisionEvent(t *testing.T) {
	entities := EntityPair{EntityA: uuid.New(), EntityB: uuid.New()}
	tests := []struct {
		name      string
		velocity  float64
		distance  float64
		wantEvent bool
	}{
		{name: "impact", velocity: -2, distance: 0, wantEvent: true},
		{name: "penetrating while separating", velocity: 5, distance: -0.01, wantEvent: true},
		{name: "far apart", velocity: 0, distance: 1, wantEvent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewStepInput(testTimestep, mgl64.Vec3{}, 4)
			velocityA := unitSphere(mgl64.Vec3{0, tt.velocity, 0})
			velocityB := actor.ZeroMotionVelocity

			m := restingManifold(tt.distance)
			m.Flags = FlagCollisionEvents
			m.ColliderKeys = ColliderKeyPair{ColliderKeyA: 3, ColliderKeyB: 4}
			r := buildRecord(m, entities, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
				velocityA, velocityB, &input, math.Inf(1))

			events := solveIterations(r, &velocityA, &velocityB, &input, nil).Collisions.All()
			if !tt.wantEvent {
				if len(events) != 0 {
					t.Errorf("got %d collision events, want none", len(events))
				}
				return
			}
			if len(events) != 1 {
				t.Fatalf("got %d collision events, want 1", len(events))
			}
			event := events[0]
			if event.BodyA != 0 || event.BodyB != 1 || event.Entities != entities || event.ColliderKeys != m.ColliderKeys {
				t.Errorf("event identity = %+v", event)
			}
			if event.Normal != m.Normal || len(event.Points) != 1 || event.Points[0] != m.Points[0] {
				t.Errorf("event geometry = %v %v", event.Normal, event.Points)
			}
			if event.AccumulatedImpulse < 0 {
				t.Errorf("AccumulatedImpulse = %v, want >= 0", event.AccumulatedImpulse)
			}
		})
	}
}

func TestContact_NoEventsWithoutFlag(t *testing.T) {
	input := NewStepInput(testTimestep, mgl64.Vec3{}, 4)
	velocityA := unitSphere(mgl64.Vec3{0, -2, 0})
	velocityB := actor.ZeroMotionVelocity
	r := buildRecord(restingManifold(0), EntityPair{}, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
		velocityA, velocityB, &input, math.Inf(1))

	if n := solveIterations(r, &velocityA, &velocityB, &input, nil).Collisions.Len(); n != 0 {
		t.Errorf("got %d collision events, want none", n)
	}
}

func TestTrigger(t *testing.T) {
	entities := EntityPair{EntityA: uuid.New(), EntityB: uuid.New()}
	tests := []struct {
		name      string
		velocity  float64
		distance  float64
		wantEvent bool
	}{
		{name: "overlapping", velocity: 0, distance: -0.2, wantEvent: true},
		{name: "about to touch", velocity: -30, distance: 0.1, wantEvent: true},
		{name: "apart", velocity: 0, distance: 0.5, wantEvent: false},
		{name: "leaving", velocity: 3, distance: 0.01, wantEvent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewStepInput(testTimestep, mgl64.Vec3{}, 4)
			velocityA := unitSphere(mgl64.Vec3{0, tt.velocity, 0})
			velocityB := actor.ZeroMotionVelocity
			before := velocityA

			m := restingManifold(tt.distance)
			m.IsTrigger = true
			m.ColliderKeys = ColliderKeyPair{ColliderKeyA: 1, ColliderKeyB: 2}
			r := buildRecord(m, entities, motionAt(mgl64.Vec3{0, 1, 0}), motionAt(mgl64.Vec3{0, -1, 0}),
				velocityA, velocityB, &input, math.Inf(1))

			events := solveIterations(r, &velocityA, &velocityB, &input, nil).Triggers.All()
			if velocityA != before {
				t.Errorf("trigger changed velocity to %+v", velocityA)
			}
			if got := len(events) == 1; got != tt.wantEvent {
				t.Fatalf("got %d trigger events, want event = %v", len(events), tt.wantEvent)
			}
			if tt.wantEvent && (events[0].Entities != entities || events[0].ColliderKeys != m.ColliderKeys) {
				t.Errorf("trigger event = %+v", events[0])
			}
		})
	}
}
