package main

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/akmonengine/tendon"
	"github.com/akmonengine/tendon/actor"
	"github.com/akmonengine/tendon/constraint"
	"github.com/akmonengine/tendon/solver"
	"github.com/go-gl/mathgl/mgl64"
)

const radius = 0.5

// sphereOnPlane stands in for a narrow phase: one point between a sphere and
// the plane y = 0, reported while the sphere is closer than margin.
func sphereOnPlane(sphere, plane *actor.Body, margin float64) []tendon.Contact {
	center := sphere.Transform.Position
	distance := center.Y() - radius
	if distance > margin {
		return nil
	}

	return []tendon.Contact{{
		BodyA:  sphere.Entity,
		BodyB:  plane.Entity,
		Normal: mgl64.Vec3{0, 1, 0},
		Points: []constraint.ContactPoint{{
			Position: mgl64.Vec3{center.X(), 0, center.Z()},
			Distance: distance,
		}},
	}}
}

func SetupScene() (*tendon.World, *actor.Body, *actor.Body, *actor.Body) {
	cfg := solver.DefaultConfig()
	cfg.Stabilization.Enabled = true
	world, err := tendon.NewWorld(cfg)
	if err != nil {
		log.Fatal(err)
	}

	plane := actor.NewBody(actor.NewTransform(), actor.MassProperties{}, actor.BodyTypeStatic)
	plane.Material = actor.Material{Restitution: 0.5, Friction: 0.6}

	ball := actor.NewBody(actor.Transform{
		Rotation: mgl64.QuatIdent(),
		Position: mgl64.Vec3{0, 3, 0},
	}, actor.SphereMassProperties(radius, 1.0), actor.BodyTypeDynamic)
	ball.Material = actor.Material{Restitution: 0.8, Friction: 0.6}

	// A box swinging from a fixed point, limited to a 60° cone.
	anchor := actor.NewBody(actor.Transform{
		Rotation: mgl64.QuatIdent(),
		Position: mgl64.Vec3{3, 4, 0},
	}, actor.MassProperties{}, actor.BodyTypeStatic)
	box := actor.NewBody(actor.Transform{
		Rotation: mgl64.QuatIdent(),
		Position: mgl64.Vec3{4, 4, 0},
	}, actor.BoxMassProperties(mgl64.Vec3{0.2, 0.2, 0.2}, 1.0), actor.BodyTypeDynamic)

	for _, b := range []*actor.Body{plane, ball, anchor, box} {
		if err := world.AddBody(b); err != nil {
			log.Fatal(err)
		}
	}

	err = world.AddJoint(tendon.NewJoint(box, anchor, anchor.Transform,
		constraint.BallAndSocket(),
		constraint.Cone(0, 0, math.Pi/3),
	))
	if err != nil {
		log.Fatal(err)
	}

	return world, plane, ball, box
}

func main() {
	world, plane, ball, box := SetupScene()

	world.Events.Subscribe(tendon.COLLISION_ENTER, func(event tendon.Event) {
		e := event.(tendon.CollisionEnterEvent)
		fmt.Printf("  collision enter, impulse %.4f\n", e.Impulse)
	})
	world.Events.Subscribe(tendon.COLLISION_EXIT, func(event tendon.Event) {
		fmt.Println("  collision exit")
	})

	const maxSteps = 180
	ctx := context.Background()
	for step := range maxSteps {
		contacts := sphereOnPlane(ball, plane, 0.05)
		if err := world.Step(ctx, contacts); err != nil {
			log.Fatal(err)
		}

		if step%10 == 0 {
			fmt.Printf("step %3d: ball y=%.4f vy=%.4f, box at %v\n",
				step, ball.Transform.Position.Y(), ball.LinearVelocity.Y(), box.Transform.Position)
		}
	}
}
