package solver

import (
	"math/bits"
)

// MaxPhasesLimit is the largest MaxPhases a schedule supports.
const MaxPhasesLimit = 64

// PairKind tells the builder where a dispatch pair's constraints come from.
type PairKind uint8

const (
	// PairContact pairs consume the manifolds of their body pair from the
	// contact stream of their work item.
	PairContact PairKind = iota
	// PairJoint pairs build the rows of Joints[JointIndex].
	PairJoint
)

// DispatchPair is one unit of builder work: a body pair and the source of its
// constraints.
type DispatchPair struct {
	BodyA      int32
	BodyB      int32
	Kind       PairKind
	JointIndex int32
}

// WorkItem is a contiguous range of the schedule's pairs.
type WorkItem struct {
	Start int
	End   int
}

// Phase is a run of work items that touch disjoint dynamic bodies and may be
// solved concurrently, unless ContainsDuplicateIndices is set.
type Phase struct {
	FirstWorkItem            int
	NumWorkItems             int
	ContainsDuplicateIndices bool
}

// Schedule orders the dispatch pairs into phases of work items.
type Schedule struct {
	Pairs     []DispatchPair
	WorkItems []WorkItem
	Phases    []Phase
}

// NumWorkItems returns the number of work items over all phases.
func (s *Schedule) NumWorkItems() int {
	return len(s.WorkItems)
}

// WorkItemPairs returns the pairs of one work item.
func (s *Schedule) WorkItemPairs(workItem int) []DispatchPair {
	wi := s.WorkItems[workItem]
	return s.Pairs[wi.Start:wi.End]
}

// NewSchedule greedily assigns each pair, in order, to the first phase where
// none of its dynamic bodies is used yet. Bodies at or above numDynamic are
// static and never conflict. Pairs that fit no phase go to a last phase
// solved sequentially.
func NewSchedule(pairs []DispatchPair, numDynamic, maxPhases, workItemSize int) *Schedule {
	maxPhases = min(max(maxPhases, 1), MaxPhasesLimit)
	workItemSize = max(workItemSize, 1)
	overflow := maxPhases - 1

	bodyPhases := make([]uint64, numDynamic)
	phaseOf := make([]int, len(pairs))
	counts := make([]int, maxPhases)
	duplicates := false
	available := uint64(1)<<overflow - 1

	for i, pair := range pairs {
		var used uint64
		for _, body := range [2]int32{pair.BodyA, pair.BodyB} {
			if int(body) < numDynamic {
				used |= bodyPhases[body]
			}
		}

		phase := overflow
		if free := ^used & available; free != 0 {
			phase = bits.TrailingZeros64(free)
		}
		if phase == overflow {
			duplicates = duplicates || used&(1<<overflow) != 0 || pair.BodyA == pair.BodyB
		}

		for _, body := range [2]int32{pair.BodyA, pair.BodyB} {
			if int(body) < numDynamic {
				bodyPhases[body] |= 1 << phase
			}
		}
		phaseOf[i] = phase
		counts[phase]++
	}

	s := &Schedule{Pairs: make([]DispatchPair, 0, len(pairs))}
	for phase := range maxPhases {
		if counts[phase] == 0 {
			continue
		}
		start := len(s.Pairs)
		for i, pair := range pairs {
			if phaseOf[i] == phase {
				s.Pairs = append(s.Pairs, pair)
			}
		}

		p := Phase{
			FirstWorkItem:            len(s.WorkItems),
			ContainsDuplicateIndices: phase == overflow && duplicates,
		}
		for first := start; first < len(s.Pairs); first += workItemSize {
			s.WorkItems = append(s.WorkItems, WorkItem{Start: first, End: min(first+workItemSize, len(s.Pairs))})
		}
		p.NumWorkItems = len(s.WorkItems) - p.FirstWorkItem
		s.Phases = append(s.Phases, p)
	}
	return s
}
