package metrics

import (
	"fmt"
	"sync"
)

// cardinalityGuard tracks the set of distinct label-value combinations each
// metric has been observed with and fires onExceeded once, the first time a
// metric's combination count crosses limit. It is backend-agnostic: both the
// Prometheus and OTel providers share one implementation and each supplies
// its own onExceeded to bump its own warning counter.
type cardinalityGuard struct {
	mu         sync.Mutex
	combos     map[string]map[string]struct{}
	warned     map[string]struct{}
	limit      int
	onExceeded func(metricName string)
}

func newCardinalityGuard(limit int, onExceeded func(metricName string)) *cardinalityGuard {
	if limit <= 0 {
		limit = 100
	}
	return &cardinalityGuard{
		combos:     make(map[string]map[string]struct{}),
		warned:     make(map[string]struct{}),
		limit:      limit,
		onExceeded: onExceeded,
	}
}

// observe records one (metricName, labelValues) sighting and reports via
// onExceeded the first time metricName's distinct-combination count exceeds
// the guard's limit. A metric observed with no labels is never tracked: an
// unlabeled instrument has exactly one combination by construction.
func (g *cardinalityGuard) observe(metricName string, labelValues []string) {
	if len(labelValues) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := g.combos[metricName]
	if seen == nil {
		seen = make(map[string]struct{})
		g.combos[metricName] = seen
	}
	key := fmt.Sprint(labelValues)
	if _, ok := seen[key]; ok {
		return
	}
	seen[key] = struct{}{}
	if len(seen) <= g.limit {
		return
	}
	if _, already := g.warned[metricName]; already {
		return
	}
	g.warned[metricName] = struct{}{}
	fmt.Printf("[telemetry] metric %s exceeded cardinality limit of %d distinct label combinations\n", metricName, g.limit)
	if g.onExceeded != nil {
		g.onExceeded(metricName)
	}
}
