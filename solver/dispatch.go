package solver

import (
	"github.com/akmonengine/tendon/constraint"
	"github.com/akmonengine/tendon/stream"
)

type bodyPair [2]int32

// Dispatch turns the manifolds and joints of a step into a schedule and the
// per work item contact stream the builder reads. Manifolds sharing a body
// pair become one contact pair; each joint becomes one joint pair. Pairs
// between two static bodies are dropped.
func Dispatch(manifolds []constraint.Manifold, joints []constraint.Joint, numDynamic int, config Config) (*Schedule, *stream.Events[constraint.Manifold]) {
	isStatic := func(body int32) bool { return int(body) >= numDynamic }

	var pairs []DispatchPair
	byPair := make(map[bodyPair][]int)
	for i := range manifolds {
		m := &manifolds[i]
		if isStatic(m.BodyA) && isStatic(m.BodyB) {
			continue
		}
		key := bodyPair{m.BodyA, m.BodyB}
		if _, ok := byPair[key]; !ok {
			pairs = append(pairs, DispatchPair{BodyA: m.BodyA, BodyB: m.BodyB, Kind: PairContact})
		}
		byPair[key] = append(byPair[key], i)
	}
	for i := range joints {
		j := &joints[i]
		if isStatic(j.BodyA) && isStatic(j.BodyB) {
			continue
		}
		pairs = append(pairs, DispatchPair{BodyA: j.BodyA, BodyB: j.BodyB, Kind: PairJoint, JointIndex: int32(i)})
	}

	schedule := NewSchedule(pairs, numDynamic, config.MaxPhases, config.WorkItemSize)
	contacts := stream.NewEvents[constraint.Manifold](schedule.NumWorkItems())
	for workItem := range schedule.NumWorkItems() {
		writer := contacts.Writer(workItem)
		for _, pair := range schedule.WorkItemPairs(workItem) {
			if pair.Kind != PairContact {
				continue
			}
			for _, i := range byPair[bodyPair{pair.BodyA, pair.BodyB}] {
				writer.Write(manifolds[i])
			}
		}
		writer.End()
	}
	return schedule, contacts
}
