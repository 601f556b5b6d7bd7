package cluster

import "sort"

// primaryWeight is the share of the composite score given to the prioritized
// dimension; the secondary dimension gets the remainder.
const primaryWeight = 0.65

// BestCluster runs the placement scoring algorithm and returns the best
// candidate for the criteria, or nil when no registered cluster qualifies.
//
// Candidates must be active, report enough free agents, satisfy any GPU
// requirement, and sit under the latency cap. Latency and cost are min-max
// normalized to [0,1] across the candidate set (1 = lowest); a dimension
// where all candidates tie normalizes to 1 for everyone. The composite score
// blends the prioritized dimension at primaryWeight with the other at
// 1-primaryWeight; ties break by ascending cluster id.
func (r *Registry) BestCluster(criteria PlacementCriteria) *Cluster {
	minAgents := criteria.MinAgents
	if minAgents < 1 {
		minAgents = 1
	}

	candidates := r.snapshot(func(c *Cluster) bool {
		if c.Status != StatusActive {
			return false
		}
		if c.Capabilities.AvailableAgents < minAgents {
			return false
		}
		if criteria.RequiresGPU && !c.Capabilities.HasGPUType(criteria.GPUType) {
			return false
		}
		if criteria.MaxLatencyMs > 0 && c.Capabilities.LatencyMs > criteria.MaxLatencyMs {
			return false
		}
		return true
	})
	if len(candidates) == 0 {
		return nil
	}

	latency := normalizeAscending(candidates, func(c *Cluster) float64 {
		return c.Capabilities.LatencyMs
	})
	cost := normalizeAscending(candidates, func(c *Cluster) float64 {
		return c.Capabilities.CostPerHour
	})

	primary, secondary := cost, latency
	if criteria.Priority == PriorityLatency {
		primary, secondary = latency, cost
	}

	// snapshot orders by ascending id, so taking a strictly higher score
	// implements the id tie-break.
	best := 0
	bestScore := primaryWeight*primary[0] + (1-primaryWeight)*secondary[0]
	for i := 1; i < len(candidates); i++ {
		score := primaryWeight*primary[i] + (1-primaryWeight)*secondary[i]
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return candidates[best]
}

// normalizeAscending min-max scales a lower-is-better dimension to [0,1]
// with 1 as best. All-equal values normalize to 1 so ties in one dimension
// neither divide by zero nor penalize anyone.
func normalizeAscending(candidates []*Cluster, dim func(*Cluster) float64) []float64 {
	values := make([]float64, len(candidates))
	for i, c := range candidates {
		values[i] = dim(c)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]

	out := make([]float64, len(values))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (hi - v) / (hi - lo)
	}
	return out
}
