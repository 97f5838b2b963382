// Package solver runs the velocity-level constraint solver of one step: it
// builds the Jacobian stream from contacts and joints, then iterates over it
// phase by phase to correct the body velocities.
package solver

import (
	"fmt"

	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/akmonengine/tendon/stream"
)

type Solver struct {
	config Config

	jacobians       *stream.Stream
	events          *constraint.Events
	stabilization   []StabilizationData
	inputVelocities []actor.MotionVelocity
	// set by ApplyGravityAndCopyInputVelocities, cleared once the step is solved
	hasInputVelocities bool
}

func New(config Config) (*Solver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new solver: %w", err)
	}
	config.Workers = max(DEFAULT_WORKERS, config.Workers)

	return &Solver{
		config:    config,
		jacobians: stream.New(0),
		events:    constraint.NewEvents(0),
	}, nil
}

func (s *Solver) Config() Config {
	return s.config
}

// Events returns the events of the last solved step. They stay valid until
// the next call to Build.
func (s *Solver) Events() *constraint.Events {
	return s.events
}

// RecordCount returns the number of Jacobian records built by the last Build.
func (s *Solver) RecordCount() int {
	n := 0
	for workItem := range s.jacobians.WorkItemCount() {
		n += s.jacobians.Count(workItem)
	}
	return n
}

// ApplyGravityAndCopyInputVelocities keeps a copy of the velocities entering
// the step, then adds gravity to every dynamic body with a finite mass.
func (s *Solver) ApplyGravityAndCopyInputVelocities(data *StepData) {
	s.copyInputVelocities(data)

	gravity := s.config.Gravity.Mul(s.config.Timestep)
	task(s.config.Workers, 0, data.NumDynamic(), func(i int) {
		velocity := &data.Velocities[i]
		if velocity.InverseMass > 0 {
			velocity.LinearVelocity = velocity.LinearVelocity.Add(gravity.Mul(data.Motions[i].GravityFactor))
		}
	})
}

func (s *Solver) copyInputVelocities(data *StepData) {
	numDynamic := data.NumDynamic()
	if cap(s.inputVelocities) < numDynamic {
		s.inputVelocities = make([]actor.MotionVelocity, numDynamic)
	}
	s.inputVelocities = s.inputVelocities[:numDynamic]
	copy(s.inputVelocities, data.Velocities)
	s.hasInputVelocities = true
}

// Build writes the Jacobian records of every work item of the schedule.
// Work items are built concurrently; velocities are only read.
func (s *Solver) Build(data *StepData) {
	numWorkItems := data.Schedule.NumWorkItems()
	s.jacobians.Reset(numWorkItems)
	s.events.Reset(numWorkItems)
	s.resetStabilization(data.NumDynamic())
	if !s.hasInputVelocities || len(s.inputVelocities) != data.NumDynamic() {
		// gravity was not applied through the solver: the current velocities
		// are the input of the step
		s.copyInputVelocities(data)
	}

	input := constraint.NewStepInput(s.config.Timestep, s.config.Gravity, s.config.SolverIterations)
	task(s.config.Workers, 0, numWorkItems, func(workItem int) {
		s.buildWorkItem(workItem, data, &input)
	})
}

// Solve runs the solver iterations over the built records and returns the
// events emitted on the last iteration.
func (s *Solver) Solve(data *StepData) *constraint.Events {
	input := constraint.NewStepInput(s.config.Timestep, s.config.Gravity, s.config.SolverIterations)

	for iteration := range s.config.SolverIterations {
		input.Iteration = iteration
		for _, phase := range data.Schedule.Phases {
			workers := s.config.Workers
			if phase.ContainsDuplicateIndices {
				workers = 1
			}
			task(workers, phase.FirstWorkItem, phase.FirstWorkItem+phase.NumWorkItems, func(workItem int) {
				s.solveWorkItem(workItem, data, &input)
			})
		}

		if s.config.Stabilization.Enabled {
			s.stabilizeVelocities(data, &input)
		}
	}
	s.hasInputVelocities = false
	return s.events
}

// Step applies gravity, builds and solves. Transforms are not integrated.
func (s *Solver) Step(data *StepData) *constraint.Events {
	s.ApplyGravityAndCopyInputVelocities(data)
	s.Build(data)
	return s.Solve(data)
}

func (s *Solver) solveWorkItem(workItem int, data *StepData, input *constraint.StepInput) {
	ctx := constraint.SolveContext{
		Input:                    input,
		EnableFrictionVelocities: s.config.Stabilization.Enabled && s.config.Stabilization.FrictionVelocities,
	}
	if input.IsLastIteration() {
		ctx.Events = s.events.Writer(workItem)
		defer ctx.Events.End()
	}

	stabilize := s.config.Stabilization.Enabled
	reader := stream.NewReader(s.jacobians, workItem)
	for buf, ok := reader.Next(); ok; buf, ok = reader.Next() {
		r := constraint.Record(buf)
		h := r.Header()
		constraint.Assert(!(data.isStatic(h.BodyA) && data.isStatic(h.BodyB)),
			"record %v between two static bodies %d and %d", h.Type, h.BodyA, h.BodyB)

		ctx.StabilizationA = constraint.DefaultMotionStabilizationInput
		ctx.StabilizationB = constraint.DefaultMotionStabilizationInput
		if stabilize && h.Type == constraint.TypeContact {
			if input.IsFirstIteration() {
				s.countPair(h.BodyA, h.BodyB)
			}
			ctx.StabilizationA = s.stabilizationInput(h.BodyA)
			ctx.StabilizationB = s.stabilizationInput(h.BodyB)
		}

		velocityA, velocityB := s.velocityRef(data, h.BodyA), s.velocityRef(data, h.BodyB)
		constraint.SolveRecord(r, velocityA, velocityB, &ctx)
	}
}

// velocityRef returns the velocity a record writes to. Static bodies get a
// fresh zero velocity whose changes are dropped.
func (s *Solver) velocityRef(data *StepData, body int32) *actor.MotionVelocity {
	if data.isStatic(body) {
		zero := actor.ZeroMotionVelocity
		return &zero
	}
	return &data.Velocities[body]
}

// Integrate advances the transform of every dynamic body by its velocity.
func Integrate(workers int, motions []actor.MotionData, velocities []actor.MotionVelocity, timestep float64) {
	task(workers, 0, len(velocities), func(i int) {
		motions[i].WorldFromMotion = constraint.IntegrateTransform(motions[i].WorldFromMotion, velocities[i], timestep)
	})
}
