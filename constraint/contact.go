package constraint

import (
	"math"

	"github.com/akmonengine/tendon/actor"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// MaxDepenetrationVelocity caps the separating velocity a contact between two
// movable bodies may ask for, in m/s. Contacts against static bodies are not capped.
const MaxDepenetrationVelocity = 3.0

// ContactPoint is one point of a manifold, lying on the surface of body B.
type ContactPoint struct {
	Position mgl64.Vec3
	Distance float64 // signed, negative when penetrating
}

type ColliderKeyPair struct {
	ColliderKeyA uint32
	ColliderKeyB uint32
}

type EntityPair struct {
	EntityA uuid.UUID
	EntityB uuid.UUID
}

// SurfaceVelocity is the relative velocity of A's surface over B's that
// friction drives towards, expressed in world space. LinearVelocity is taken in
// the contact plane, AngularVelocity about the contact normal.
type SurfaceVelocity struct {
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// MassFactors scale the inverse mass and inverse inertia of both bodies while
// one contact is built and solved.
type MassFactors struct {
	InverseInertiaFactorA mgl64.Vec3
	InverseMassFactorA    float64
	InverseInertiaFactorB mgl64.Vec3
	InverseMassFactorB    float64
}

// DefaultMassFactors leaves both bodies unchanged.
var DefaultMassFactors = MassFactors{
	InverseInertiaFactorA: mgl64.Vec3{1, 1, 1},
	InverseMassFactorA:    1,
	InverseInertiaFactorB: mgl64.Vec3{1, 1, 1},
	InverseMassFactorB:    1,
}

func (f MassFactors) apply(a, b *actor.MotionVelocity) {
	a.InverseMass *= f.InverseMassFactorA
	a.InverseInertia = actor.MulElem(a.InverseInertia, f.InverseInertiaFactorA)
	b.InverseMass *= f.InverseMassFactorB
	b.InverseInertia = actor.MulElem(b.InverseInertia, f.InverseInertiaFactorB)
}

// ContactHeader describes one manifold of the contact stream.
type ContactHeader struct {
	BodyA, BodyB             int32
	Normal                   mgl64.Vec3 // unit, from B towards A
	CoefficientOfFriction    float64
	CoefficientOfRestitution float64
	// Flags may hold FlagCollisionEvents, FlagSurfaceVelocity and FlagMassFactors.
	Flags           Flags
	IsTrigger       bool
	ColliderKeys    ColliderKeyPair
	SurfaceVelocity SurfaceVelocity
	MassFactors     MassFactors
}

// Manifold is a contact header with its points.
type Manifold struct {
	ContactHeader
	Points []ContactPoint
}

// RecordHeader returns the header of the record built from the manifold.
func (m *Manifold) RecordHeader() Header {
	h := Header{BodyA: m.BodyA, BodyB: m.BodyB, Type: TypeContact, Flags: m.Flags & contactFlags}
	if m.IsTrigger {
		h.Type = TypeTrigger
		h.Flags = m.Flags & triggerFlags
	}
	return h
}

// ContactJacAngular is one row of a contact: its angular arms in each body's
// motion space, its effective mass and the impulse it holds.
type ContactJacAngular struct {
	AngularA      mgl64.Vec3
	AngularB      mgl64.Vec3
	EffectiveMass float64
	// Impulse is the accumulated impulse of a normal row, or the last impulse
	// applied by a friction row.
	Impulse float64
}

// velocity returns the relative velocity along the row; positive separates.
func (jac ContactJacAngular) velocity(linear mgl64.Vec3, a, b actor.MotionVelocity) float64 {
	return a.LinearVelocity.Sub(b.LinearVelocity).Dot(linear) +
		a.AngularVelocity.Dot(jac.AngularA) +
		b.AngularVelocity.Dot(jac.AngularB)
}

// PointJacobian is the normal row of one contact point.
type PointJacobian struct {
	Angular ContactJacAngular
	// VelToReachCp is the relative normal velocity that brings the bodies exactly
	// onto the contact plane at the end of the step.
	VelToReachCp float64
}

// BaseContactJacobian is shared by contacts and triggers. NumContacts must stay
// the first field: the record layout reads it back to size the point blocks.
type BaseContactJacobian struct {
	NumContacts int32
	Normal      mgl64.Vec3
}

type ContactJacobian struct {
	BaseJacobian BaseContactJacobian

	// Friction0 and Friction1 act along two tangents of the normal,
	// AngularFriction about the normal itself. The three share one 3x3
	// effective mass: the diagonal in the rows, the rest here.
	Friction0                    ContactJacAngular
	Friction1                    ContactJacAngular
	AngularFriction              ContactJacAngular
	FrictionEffectiveMassOffDiag mgl64.Vec3

	CoefficientOfFriction float64
	ApplyRestitution      bool
}

// buildNormalRows writes one PointJacobian per manifold point and returns the
// world-space arms of the averaged contact, used for friction.
func buildNormalRows(r Record, m *Manifold, motionA, motionB actor.MotionData,
	velocityA, velocityB actor.MotionVelocity, timestep, maxDepenetration float64) (centerArmA, centerArmB mgl64.Vec3) {
	normal := m.Normal
	invTimestep := safeReciprocal(timestep)
	invRotA := motionA.WorldFromMotion.Rotation.Conjugate()
	invRotB := motionB.WorldFromMotion.Rotation.Conjugate()
	sumInvMass := velocityA.InverseMass + velocityB.InverseMass

	var centerA, centerB mgl64.Vec3
	for i, point := range m.Points {
		pointOnB := point.Position
		pointOnA := point.Position.Add(normal.Mul(point.Distance))
		armA := pointOnA.Sub(motionA.WorldFromMotion.Position)
		armB := pointOnB.Sub(motionB.WorldFromMotion.Position)
		centerA = centerA.Add(pointOnA)
		centerB = centerB.Add(pointOnB)

		var jac PointJacobian
		jac.Angular.AngularA = invRotA.Rotate(armA.Cross(normal))
		jac.Angular.AngularB = invRotB.Rotate(normal.Cross(armB))
		invEffectiveMass := sumInvMass + angularInvEffectiveMass(
			jac.Angular.AngularA, velocityA.InverseInertia, jac.Angular.AngularB, velocityB.InverseInertia)
		jac.Angular.EffectiveMass = safeReciprocal(invEffectiveMass)

		solveVelocity := math.Max(-maxDepenetration, point.Distance*invTimestep)
		jac.VelToReachCp = -solveVelocity

		r.SetPointJacobian(i, jac)
	}

	invCount := 1.0 / float64(len(m.Points))
	centerArmA = centerA.Mul(invCount).Sub(motionA.WorldFromMotion.Position)
	centerArmB = centerB.Mul(invCount).Sub(motionB.WorldFromMotion.Position)
	return centerArmA, centerArmB
}

// writeOptionalBlocks copies the manifold data the record's flags ask for.
func writeOptionalBlocks(r Record, m *Manifold, entities EntityPair) {
	if r.Has(BlockColliderKeys) {
		r.SetColliderKeys(m.ColliderKeys)
	}
	if r.Has(BlockEntities) {
		r.SetEntities(entities)
	}
	if r.Has(BlockSurfaceVelocity) {
		r.SetSurfaceVelocity(m.SurfaceVelocity)
	}
	if r.Has(BlockMassFactors) {
		r.SetMassFactors(m.MassFactors)
	}
	if r.Has(BlockContactPoints) {
		for i, point := range m.Points {
			r.SetContactPoint(i, point)
		}
	}
}

// BuildContact fills a contact record, allocated with the shape returned by
// m.RecordHeader, from one manifold. Velocities must already include gravity.
func BuildContact(r Record, m *Manifold, entities EntityPair, motionA, motionB actor.MotionData,
	velocityA, velocityB actor.MotionVelocity, input *StepInput, maxDepenetration float64) {
	assert(len(m.Points) > 0, "contact manifold without points")
	if m.Flags.Has(FlagMassFactors) {
		m.MassFactors.apply(&velocityA, &velocityB)
	}

	jac := ContactJacobian{
		BaseJacobian:          BaseContactJacobian{NumContacts: int32(len(m.Points)), Normal: m.Normal},
		CoefficientOfFriction: m.CoefficientOfFriction,
	}
	armA, armB := buildNormalRows(r, m, motionA, motionB, velocityA, velocityB, input.Timestep, maxDepenetration)

	if m.CoefficientOfRestitution > 0 {
		jac.ApplyRestitution = buildRestitution(r, &jac.BaseJacobian, m.CoefficientOfRestitution, velocityA, velocityB, input)
	}

	if !velocityA.IsKinematic() || !velocityB.IsKinematic() {
		jac.buildFriction(armA, armB, motionA, motionB, velocityA, velocityB)
	}

	r.SetPayload(&jac)
	writeOptionalBlocks(r, m, entities)
}

// buildRestitution raises the target normal velocity of approaching points so
// that A leaves with the bounce velocity it would have after free flight
// back to the contact plane. It reports whether any point was changed.
func buildRestitution(r Record, base *BaseContactJacobian, restitution float64,
	velocityA, velocityB actor.MotionVelocity, input *StepInput) bool {
	gravity := input.Gravity.Len()
	restingVelocity := gravity * input.Timestep
	applied := false

	var buf [4]PointJacobian
	points := r.PointJacobians(buf[:0])
	for i := range points {
		jac := &points[i]
		relativeVelocity := jac.Angular.velocity(base.Normal, velocityA, velocityB)
		dv := jac.VelToReachCp - relativeVelocity
		if dv <= 0 || relativeVelocity >= -restingVelocity {
			continue
		}

		restitutionVelocity := -relativeVelocity * restitution
		distanceToGround := math.Max(-jac.VelToReachCp*input.Timestep, 0)
		// speed left after climbing back the distance to the plane against gravity
		effectiveVelocity := math.Sqrt(math.Max(
			restitutionVelocity*restitutionVelocity-2.0*gravity*distanceToGround, 0))
		jac.VelToReachCp = math.Max(jac.VelToReachCp-effectiveVelocity, 0) + effectiveVelocity
		applied = true
	}
	if applied {
		r.SetPointJacobians(points)
	}
	return applied
}

func (jac *ContactJacobian) buildFriction(armA, armB mgl64.Vec3, motionA, motionB actor.MotionData,
	velocityA, velocityB actor.MotionVelocity) {
	normal := jac.BaseJacobian.Normal
	invRotA := motionA.WorldFromMotion.Rotation.Conjugate()
	invRotB := motionB.WorldFromMotion.Rotation.Conjugate()
	dir0, dir1 := CalculatePerpendicularNormalized(normal)

	jac.Friction0.AngularA = invRotA.Rotate(armA.Cross(dir0))
	jac.Friction0.AngularB = invRotB.Rotate(dir0.Cross(armB))
	jac.Friction1.AngularA = invRotA.Rotate(armA.Cross(dir1))
	jac.Friction1.AngularB = invRotB.Rotate(dir1.Cross(armB))
	jac.AngularFriction.AngularA = invRotA.Rotate(normal)
	jac.AngularFriction.AngularB = invRotB.Rotate(normal.Mul(-1))

	invIA, invIB := velocityA.InverseInertia, velocityB.InverseInertia
	sumInvMass := velocityA.InverseMass + velocityB.InverseMass
	diag := mgl64.Vec3{
		sumInvMass + angularInvEffectiveMass(jac.Friction0.AngularA, invIA, jac.Friction0.AngularB, invIB),
		sumInvMass + angularInvEffectiveMass(jac.Friction1.AngularA, invIA, jac.Friction1.AngularB, invIB),
		angularInvEffectiveMass(jac.AngularFriction.AngularA, invIA, jac.AngularFriction.AngularB, invIB),
	}
	offDiag := mgl64.Vec3{
		angularInvEffectiveMassOffDiag(jac.Friction0.AngularA, jac.Friction1.AngularA, invIA,
			jac.Friction0.AngularB, jac.Friction1.AngularB, invIB),
		angularInvEffectiveMassOffDiag(jac.Friction0.AngularA, jac.AngularFriction.AngularA, invIA,
			jac.Friction0.AngularB, jac.AngularFriction.AngularB, invIB),
		angularInvEffectiveMassOffDiag(jac.Friction1.AngularA, jac.AngularFriction.AngularA, invIA,
			jac.Friction1.AngularB, jac.AngularFriction.AngularB, invIB),
	}

	effDiag, effOffDiag, ok := InvertSymmetricMatrix(diag, offDiag)
	if !ok {
		// no inertia about the normal: pin the twist row so the tangents still solve
		diag[2] = 1
		offDiag[1], offDiag[2] = 0, 0
		effDiag, effOffDiag, ok = InvertSymmetricMatrix(diag, offDiag)
		if !ok {
			effDiag, effOffDiag = mgl64.Vec3{}, mgl64.Vec3{}
		}
	}

	if jac.ApplyRestitution {
		effDiag = effDiag.Mul(0.25)
		effOffDiag = effOffDiag.Mul(0.25)
	}

	jac.Friction0.EffectiveMass = effDiag[0]
	jac.Friction1.EffectiveMass = effDiag[1]
	jac.AngularFriction.EffectiveMass = effDiag[2]
	jac.FrictionEffectiveMassOffDiag = effOffDiag
}

// Solve applies the normal impulses point by point, then the friction block once
// for the whole manifold. On the last iteration it reports a collision event
// when the record asks for one.
func (jac *ContactJacobian) Solve(r Record, velocityA, velocityB *actor.MotionVelocity, ctx *SolveContext) {
	a, b := *velocityA, *velocityB
	if r.Has(BlockMassFactors) {
		r.MassFactors().apply(&a, &b)
	}

	normal := jac.BaseJacobian.Normal
	scaleA := ctx.StabilizationA.InverseInertiaScale
	scaleB := ctx.StabilizationB.InverseInertiaScale

	sumImpulses := 0.0
	forceCollisionEvent := false
	var buf [4]PointJacobian
	points := r.PointJacobians(buf[:0])
	for i := range points {
		point := &points[i]
		relativeVelocity := point.Angular.velocity(normal, a, b)
		dv := point.VelToReachCp - relativeVelocity

		impulse := dv * point.Angular.EffectiveMass
		accumulated := math.Max(point.Angular.Impulse+impulse, 0)
		if accumulated != point.Angular.Impulse {
			delta := accumulated - point.Angular.Impulse
			applyRow(normal, point.Angular.AngularA, point.Angular.AngularB, delta, &a, &b, scaleA, scaleB)
		}
		point.Angular.Impulse = accumulated

		sumImpulses += accumulated
		forceCollisionEvent = forceCollisionEvent || point.VelToReachCp > 0
	}
	r.SetPointJacobians(points)

	if sumImpulses > 0 {
		jac.solveFriction(r, sumImpulses, &a, &b, ctx)
	} else {
		jac.Friction0.Impulse, jac.Friction1.Impulse, jac.AngularFriction.Impulse = 0, 0, 0
	}

	velocityA.LinearVelocity, velocityA.AngularVelocity = a.LinearVelocity, a.AngularVelocity
	velocityB.LinearVelocity, velocityB.AngularVelocity = b.LinearVelocity, b.AngularVelocity

	if ctx.Input.IsLastIteration() && ctx.Events != nil && r.Has(BlockContactPoints) &&
		(sumImpulses > 0 || forceCollisionEvent) {
		h := r.Header()
		points := make([]ContactPoint, jac.BaseJacobian.NumContacts)
		for i := range points {
			points[i] = r.ContactPoint(i)
		}
		ctx.Events.Collisions.Write(CollisionEvent{
			BodyA:              h.BodyA,
			BodyB:              h.BodyB,
			ColliderKeys:       r.ColliderKeys(),
			Entities:           r.Entities(),
			Normal:             normal,
			AccumulatedImpulse: sumImpulses,
			Points:             points,
		})
	}
}

func (jac *ContactJacobian) solveFriction(r Record, sumImpulses float64, a, b *actor.MotionVelocity, ctx *SolveContext) {
	normal := jac.BaseJacobian.Normal
	dir0, dir1 := CalculatePerpendicularNormalized(normal)

	frictionA, frictionB := *a, *b
	if ctx.EnableFrictionVelocities {
		frictionA = lowerEnergyVelocity(ctx.StabilizationA.InputVelocity, *a)
		frictionB = lowerEnergyVelocity(ctx.StabilizationB.InputVelocity, *b)
	}

	dv := mgl64.Vec3{
		-jac.Friction0.velocity(dir0, frictionA, frictionB),
		-jac.Friction1.velocity(dir1, frictionA, frictionB),
		-jac.AngularFriction.velocity(mgl64.Vec3{}, frictionA, frictionB),
	}
	if r.Has(BlockSurfaceVelocity) {
		surface := r.SurfaceVelocity()
		dv = dv.Add(mgl64.Vec3{
			surface.LinearVelocity.Dot(dir0),
			surface.LinearVelocity.Dot(dir1),
			surface.AngularVelocity.Dot(normal),
		})
	}

	effectiveMass := BuildSymmetricMatrix(
		mgl64.Vec3{jac.Friction0.EffectiveMass, jac.Friction1.EffectiveMass, jac.AngularFriction.EffectiveMass},
		jac.FrictionEffectiveMassOffDiag)
	impulses := effectiveMass.Mul3x1(dv)

	maxImpulse := sumImpulses * jac.CoefficientOfFriction * ctx.Input.InvNumIterations
	if lengthSq := impulses.LenSqr(); lengthSq > maxImpulse*maxImpulse {
		impulses = impulses.Mul(maxImpulse / math.Sqrt(lengthSq))
	}
	jac.Friction0.Impulse = impulses[0]
	jac.Friction1.Impulse = impulses[1]
	jac.AngularFriction.Impulse = impulses[2]

	linear := dir0.Mul(impulses[0]).Add(dir1.Mul(impulses[1]))
	angularA := jac.Friction0.AngularA.Mul(impulses[0]).
		Add(jac.Friction1.AngularA.Mul(impulses[1])).
		Add(jac.AngularFriction.AngularA.Mul(impulses[2]))
	angularB := jac.Friction0.AngularB.Mul(impulses[0]).
		Add(jac.Friction1.AngularB.Mul(impulses[1])).
		Add(jac.AngularFriction.AngularB.Mul(impulses[2]))

	a.ApplyLinearImpulse(linear)
	a.ApplyAngularImpulse(angularA.Mul(ctx.StabilizationA.InverseInertiaScale))
	b.ApplyLinearImpulse(linear.Mul(-1))
	b.ApplyAngularImpulse(angularB.Mul(ctx.StabilizationB.InverseInertiaScale))
}

// applyRow applies a scalar impulse along a row: linear along +normal on A and
// -normal on B, angular along the row's arms.
func applyRow(normal, angularA, angularB mgl64.Vec3, impulse float64, a, b *actor.MotionVelocity, scaleA, scaleB float64) {
	a.ApplyLinearImpulse(normal.Mul(impulse))
	a.ApplyAngularImpulse(angularA.Mul(impulse * scaleA))
	b.ApplyLinearImpulse(normal.Mul(-impulse))
	b.ApplyAngularImpulse(angularB.Mul(impulse * scaleB))
}

// lowerEnergyVelocity returns whichever of the pre-solve and current velocity
// carries less kinetic energy. Bodies with infinite mass keep their current velocity.
func lowerEnergyVelocity(input, current actor.MotionVelocity) actor.MotionVelocity {
	if current.InverseMass == 0 {
		return current
	}
	if kineticEnergy(input, current) < kineticEnergy(current, current) {
		input.InverseMass, input.InverseInertia = current.InverseMass, current.InverseInertia
		return input
	}
	return current
}

// kineticEnergy of v's velocities with the mass properties of mass, doubled.
func kineticEnergy(v, mass actor.MotionVelocity) float64 {
	energy := v.LinearVelocity.LenSqr() / mass.InverseMass
	for i := range 3 {
		if mass.InverseInertia[i] > 0 {
			energy += v.AngularVelocity[i] * v.AngularVelocity[i] / mass.InverseInertia[i]
		}
	}
	return energy
}
