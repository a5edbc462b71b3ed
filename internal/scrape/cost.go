package scrape

import "sync"

// Per-use dollar estimates. The primary tier is a local fetch and the
// reader tier is free on the anonymous endpoint; keyed reader access
// runs about $0.02 per thousand requests, and the Serper scrape API
// bills $0.005 per call.
const (
	jinaKeyedUnitCost = 0.02 / 1000
	serperUnitCost    = 0.005
)

// CostTracker counts tier uses and estimates spend across a run. It is
// observability only; nothing consults it to make decisions.
type CostTracker struct {
	mu        sync.Mutex
	uses      map[Tier]int
	jinaKeyed bool
}

// Stats is a point-in-time snapshot of tier usage.
type Stats struct {
	Primary       int
	Fallback1     int
	Fallback2     int
	EstimatedCost float64
}

func NewCostTracker(jinaKeyed bool) *CostTracker {
	return &CostTracker{
		uses:      make(map[Tier]int),
		jinaKeyed: jinaKeyed,
	}
}

// Record counts one use of a tier. A use is an outbound request, not a
// successful extraction; paid services bill either way.
func (t *CostTracker) Record(tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uses[tier]++
}

func (t *CostTracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Primary:   t.uses[TierPrimary],
		Fallback1: t.uses[TierFallback1],
		Fallback2: t.uses[TierFallback2],
	}
	s.EstimatedCost = float64(s.Fallback2) * serperUnitCost
	if t.jinaKeyed {
		s.EstimatedCost += float64(s.Fallback1) * jinaKeyedUnitCost
	}
	return s
}
