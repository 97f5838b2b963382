package solver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const DEFAULT_WORKERS = 1

var (
	ErrInvalidTimestep      = errors.New("invalid timestep")
	ErrInvalidGravity       = errors.New("invalid gravity")
	ErrInvalidIterations    = errors.New("invalid solver iteration count")
	ErrInvalidSchedule      = errors.New("invalid schedule settings")
	ErrInvalidStabilization = errors.New("invalid stabilization settings")
)

// StabilizationSettings tune the heuristic that calms resting stacks.
type StabilizationSettings struct {
	Enabled bool `json:"enabled"`
	// FrictionVelocities solves friction against whichever of the pre-solve or
	// current velocity has less energy.
	FrictionVelocities bool `json:"frictionVelocities"`
	// VelocityClippingFactor scales the velocity below which a body in contact
	// has its sideways and angular velocity cleared. Zero disables clipping.
	VelocityClippingFactor float64 `json:"velocityClippingFactor"`
	// InertiaScalingFactor inflates the inertia of bodies with several contact
	// pairs. Zero disables scaling.
	InertiaScalingFactor float64 `json:"inertiaScalingFactor"`
}

// Config holds the settings of one solver step.
type Config struct {
	Timestep         float64    `json:"timestep"`
	Gravity          mgl64.Vec3 `json:"gravity"`
	SolverIterations int        `json:"solverIterations"`
	// Workers is the number of goroutines a phase is spread over.
	Workers int `json:"workers"`
	// MaxPhases bounds the number of body-disjoint phases; pairs that do not fit
	// go to a last phase solved sequentially.
	MaxPhases int `json:"maxPhases"`
	// WorkItemSize is the number of dispatch pairs per work item.
	WorkItemSize  int                   `json:"workItemSize"`
	Stabilization StabilizationSettings `json:"stabilization"`
}

func DefaultConfig() Config {
	return Config{
		Timestep:         1.0 / 60.0,
		Gravity:          mgl64.Vec3{0, -9.81, 0},
		SolverIterations: 4,
		Workers:          DEFAULT_WORKERS,
		MaxPhases:        16,
		WorkItemSize:     32,
		Stabilization: StabilizationSettings{
			Enabled:                false,
			FrictionVelocities:     true,
			VelocityClippingFactor: 1.0,
			InertiaScalingFactor:   0.0,
		},
	}
}

// LoadConfig reads a JSON configuration over the defaults and validates it.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode solver config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !(c.Timestep > 0) || math.IsInf(c.Timestep, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTimestep, c.Timestep)
	}
	for _, g := range c.Gravity {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidGravity, c.Gravity)
		}
	}
	if c.SolverIterations < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, c.SolverIterations)
	}
	if c.Workers < 0 || c.MaxPhases < 1 || c.MaxPhases > MaxPhasesLimit || c.WorkItemSize < 1 {
		return fmt.Errorf("%w: workers %d, max phases %d, work item size %d",
			ErrInvalidSchedule, c.Workers, c.MaxPhases, c.WorkItemSize)
	}
	s := c.Stabilization
	if s.VelocityClippingFactor < 0 || s.InertiaScalingFactor < 0 ||
		math.IsNaN(s.VelocityClippingFactor) || math.IsNaN(s.InertiaScalingFactor) {
		return fmt.Errorf("%w: clipping %v, inertia scaling %v",
			ErrInvalidStabilization, s.VelocityClippingFactor, s.InertiaScalingFactor)
	}
	return nil
}
