package solver

import (
	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/go-gl/mathgl/mgl64"
)

// StabilizationData is the per dynamic body scratch of the heuristic.
type StabilizationData struct {
	NumPairs            int32
	InverseInertiaScale float64
}

func (s *Solver) resetStabilization(numDynamic int) {
	if cap(s.stabilization) < numDynamic {
		s.stabilization = make([]StabilizationData, numDynamic)
	}
	s.stabilization = s.stabilization[:numDynamic]
	for i := range s.stabilization {
		s.stabilization[i] = StabilizationData{InverseInertiaScale: 1.0}
	}
}

// stabilizationInput returns what a contact solve needs for one body.
func (s *Solver) stabilizationInput(body int32) constraint.MotionStabilizationInput {
	if int(body) >= len(s.stabilization) {
		return constraint.DefaultMotionStabilizationInput
	}
	return constraint.MotionStabilizationInput{
		InputVelocity:       s.inputVelocities[body],
		InverseInertiaScale: s.stabilization[body].InverseInertiaScale,
	}
}

// countPair records one more contact pair on each dynamic body of a record.
func (s *Solver) countPair(bodyA, bodyB int32) {
	for _, body := range [2]int32{bodyA, bodyB} {
		if int(body) < len(s.stabilization) {
			s.stabilization[body].NumPairs++
		}
	}
}

// stabilizeVelocities clips the small sideways and angular velocities of
// bodies resting on contacts, after every iteration. After the first one it
// also computes the inertia scale of bodies with several contact pairs.
func (s *Solver) stabilizeVelocities(data *StepData, input *constraint.StepInput) {
	settings := s.config.Stabilization
	gravity := input.Gravity
	gravityLength := gravity.Len()
	var up mgl64.Vec3
	if gravityLength > 0 {
		up = gravity.Mul(-1.0 / gravityLength)
	}

	task(s.config.Workers, 0, len(data.Velocities), func(i int) {
		stabilization := &s.stabilization[i]
		if stabilization.NumPairs == 0 {
			return
		}
		if input.IsFirstIteration() && stabilization.NumPairs > 1 {
			stabilization.InverseInertiaScale = 1.0 / (1.0 + settings.InertiaScalingFactor*float64(stabilization.NumPairs-1))
		}

		velocity := &data.Velocities[i]
		if velocity.InverseMass == 0 {
			return
		}
		limit := settings.VelocityClippingFactor * gravityLength * input.Timestep * data.Motions[i].GravityFactor
		if limit <= 0 {
			return
		}
		clipVelocity(velocity, up, limit, stabilization.NumPairs > 1)
	})
}

// clipVelocity clears the part of the linear velocity across up, and the
// angular velocity when clipAngular is set, if they are slower than limit.
func clipVelocity(velocity *actor.MotionVelocity, up mgl64.Vec3, limit float64, clipAngular bool) {
	parallel := up.Mul(velocity.LinearVelocity.Dot(up))
	perpendicular := velocity.LinearVelocity.Sub(parallel)
	if perpendicular.Len() >= limit {
		return
	}

	velocity.LinearVelocity = parallel
	if clipAngular && velocity.AngularVelocity.Len() < limit {
		velocity.AngularVelocity = mgl64.Vec3{}
	}
}
