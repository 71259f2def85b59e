package sim

import "github.com/awmpietro/reaction-sim/internal/scenario"

type LayerStats struct {
	TotalDecisions        int     `json:"total_decisions"`
	SuccessfulDecisions   int     `json:"successful_decisions"`
	FailedDecisions       int     `json:"failed_decisions"`
	AverageResponseTimeMS float64 `json:"average_response_time_ms"`
	AutomationRate        float64 `json:"automation_rate"`
}

type ReactionMetrics struct {
	TotalReactions        int                           `json:"total_reactions"`
	AverageReactionTimeMS float64                       `json:"average_reaction_time_ms"`
	LayerStatistics       map[scenario.Layer]LayerStats `json:"layer_statistics"`
	PathExecutionRate     map[string]int                `json:"path_execution_rate"`
	// CriticalPathMS is the longest single node duration.
	CriticalPathMS int64 `json:"critical_path_ms"`
	// CumulativeCriticalPathMS is the longest root-to-leaf sum of durations.
	CumulativeCriticalPathMS int64 `json:"cumulative_critical_path_ms"`
}

// Aggregate derives metrics from a scenario plus one state and log snapshot.
// A node's duration is the one the engine assigned when it ran, falling back
// to the configured duration for nodes that never started.
func Aggregate(s *scenario.ReactionScenario, snap StateSnapshot, logs []LogEntry) ReactionMetrics {
	m := ReactionMetrics{
		LayerStatistics:   make(map[scenario.Layer]LayerStats, len(scenario.Layers)),
		PathExecutionRate: map[string]int{},
	}
	for _, l := range scenario.Layers {
		m.LayerStatistics[l] = LayerStats{}
	}

	for _, e := range logs {
		if e.Status == LogCompleted {
			m.TotalReactions++
		}
	}
	if s == nil {
		return m
	}

	idx := s.Index()
	durationMS := func(id string) int64 {
		if d, ok := snap.DurationsMS[id]; ok {
			return d
		}
		if n := idx[id]; n != nil && n.DurationMS > 0 {
			return n.DurationMS
		}
		return 0
	}

	var total int64
	for _, id := range snap.Completed {
		total += durationMS(id)
	}
	if len(snap.Completed) > 0 {
		m.AverageReactionTimeMS = float64(total) / float64(len(snap.Completed))
	}

	for _, layer := range scenario.Layers {
		var st LayerStats
		var automated int
		for _, n := range s.Nodes {
			if n == nil || n.Layer != layer {
				continue
			}
			st.TotalDecisions++
			if n.Metadata.Automated {
				automated++
			}
		}

		var completedMS int64
		for _, id := range snap.Completed {
			if n := idx[id]; n != nil && n.Layer == layer {
				st.SuccessfulDecisions++
				completedMS += durationMS(id)
			}
		}
		for _, id := range snap.Failed {
			if n := idx[id]; n != nil && n.Layer == layer {
				st.FailedDecisions++
			}
		}
		if st.SuccessfulDecisions > 0 {
			st.AverageResponseTimeMS = float64(completedMS) / float64(st.SuccessfulDecisions)
		}
		if st.TotalDecisions > 0 {
			st.AutomationRate = 100 * float64(automated) / float64(st.TotalDecisions)
		}
		m.LayerStatistics[layer] = st
	}

	for _, p := range s.Paths {
		count := 0
		for _, e := range logs {
			if e.NodeID == p.FromNodeID || e.NodeID == p.ToNodeID {
				count++
			}
		}
		m.PathExecutionRate[p.ID] = count
	}

	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		m.CriticalPathMS = max(m.CriticalPathMS, durationMS(n.ID))
	}
	m.CumulativeCriticalPathMS = longestChain(s, idx, durationMS)

	return m
}

func longestChain(s *scenario.ReactionScenario, idx map[string]*scenario.DecisionNode, durationMS func(string) int64) int64 {
	memo := map[string]int64{}
	onStack := map[string]bool{}
	var walk func(id string) int64
	walk = func(id string) int64 {
		if v, ok := memo[id]; ok {
			return v
		}
		n := idx[id]
		if n == nil || onStack[id] {
			return 0
		}
		onStack[id] = true
		var best int64
		for _, c := range n.Children {
			best = max(best, walk(c))
		}
		onStack[id] = false
		memo[id] = durationMS(id) + best
		return memo[id]
	}

	var out int64
	for _, r := range s.Roots() {
		out = max(out, walk(r.ID))
	}
	return out
}
