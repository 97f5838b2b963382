package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MassProperties are the mass and the principal moments of inertia of a body,
// expressed in its motion space.
type MassProperties struct {
	Mass    float64
	Inertia mgl64.Vec3
}

// SphereMassProperties returns the mass properties of a solid sphere.
func SphereMassProperties(radius, density float64) MassProperties {
	// Volume of sphere = (4/3) * π * r³
	mass := density * (4.0 / 3.0) * math.Pi * radius * radius * radius
	i := (2.0 / 5.0) * mass * radius * radius

	return MassProperties{Mass: mass, Inertia: mgl64.Vec3{i, i, i}}
}

// BoxMassProperties returns the mass properties of a solid box.
func BoxMassProperties(halfExtents mgl64.Vec3, density float64) MassProperties {
	x := halfExtents.X() * 2
	y := halfExtents.Y() * 2
	z := halfExtents.Z() * 2
	mass := density * x * y * z

	// I = (m/12) * (dimension1² + dimension2²)
	factor := mass / 12.0
	return MassProperties{
		Mass: mass,
		Inertia: mgl64.Vec3{
			factor * (y*y + z*z),
			factor * (x*x + z*z),
			factor * (x*x + y*y),
		},
	}
}

// Inverse returns the inverse mass and the diagonal inverse inertia. Zero
// components invert to zero, infinite ones to zero as well.
func (mp MassProperties) Inverse() (inverseMass float64, inverseInertia mgl64.Vec3) {
	if mp.Mass > 0 {
		inverseMass = 1.0 / mp.Mass
	}
	return inverseMass, DiagonalInverseInertia(mp.Inertia)
}
