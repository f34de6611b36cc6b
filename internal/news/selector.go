package news

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// Strategy chooses how the non-quality part of a plan is filled.
type Strategy int

const (
	// Greedy adds the candidate maximising score * (1 - similarity to the plan).
	Greedy Strategy = iota
	// Random samples uniformly without replacement.
	Random
)

// ParseStrategy maps a config value to a Strategy. Unknown values fall back to Greedy.
func ParseStrategy(s string) Strategy {
	if s == "random" {
		return Random
	}
	return Greedy
}

func (s Strategy) String() string {
	if s == Random {
		return "random"
	}
	return "greedy"
}

type Selector struct {
	topFraction float64
	strategy    Strategy

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a Selector. rng may be nil; it is only used by Random.
func NewSelector(topFraction float64, strategy Strategy, rng *rand.Rand) *Selector {
	if topFraction <= 0 || topFraction > 1 {
		topFraction = 0.7
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{topFraction: topFraction, strategy: strategy, rng: rng}
}

// QualityCount is the number of plan slots reserved for the best scores.
func (s *Selector) QualityCount(target int) int {
	if target <= 0 {
		return 0
	}
	n := int(float64(target)*s.topFraction + 1e-9)
	if n < 1 {
		n = 1
	}
	return n
}

// Select returns an ordered publication plan of at most target items.
// Ineligible items (blocked or uncategorised) never appear in the plan.
func (s *Selector) Select(items []ScoredItem, target int) []ScoredItem {
	if target <= 0 {
		return nil
	}

	sorted := make([]ScoredItem, 0, len(items))
	for _, it := range items {
		if it.Eligible() {
			sorted = append(sorted, it)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	if len(sorted) <= target {
		return sorted
	}

	quality := s.QualityCount(target)
	plan := append(make([]ScoredItem, 0, target), sorted[:quality]...)
	rest := sorted[quality:]
	need := target - quality

	switch s.strategy {
	case Random:
		plan = append(plan, s.sample(rest, need)...)
	default:
		plan = append(plan, diversify(plan, rest, need)...)
	}
	return plan
}

func (s *Selector) sample(pool []ScoredItem, n int) []ScoredItem {
	s.mu.Lock()
	perm := s.rng.Perm(len(pool))
	s.mu.Unlock()

	out := make([]ScoredItem, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, pool[idx])
	}
	return out
}

// diversify greedily picks n items from pool, each maximising
// score * (1 - max cosine similarity to anything already chosen).
func diversify(chosen, pool []ScoredItem, n int) []ScoredItem {
	chosenVecs := make([]termVector, 0, len(chosen)+n)
	for _, c := range chosen {
		chosenVecs = append(chosenVecs, vectorize(c.CandidateItem))
	}
	poolVecs := make([]termVector, len(pool))
	for i, p := range pool {
		poolVecs[i] = vectorize(p.CandidateItem)
	}

	used := make([]bool, len(pool))
	out := make([]ScoredItem, 0, n)
	for len(out) < n {
		best, bestVal := -1, 0.0
		for i := range pool {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, cv := range chosenVecs {
				if sim := cosine(poolVecs[i], cv); sim > maxSim {
					maxSim = sim
				}
			}
			val := pool[i].Score * (1 - maxSim)
			if best < 0 || val > bestVal {
				best, bestVal = i, val
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		out = append(out, pool[best])
		chosenVecs = append(chosenVecs, poolVecs[best])
	}
	return out
}
