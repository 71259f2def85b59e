package scenario

import "time"

type Layer string

const (
	LayerCrew   Layer = "crew"
	LayerSystem Layer = "system"
	LayerAI     Layer = "ai"
)

// Layers lists every layer in reporting order.
var Layers = []Layer{LayerCrew, LayerSystem, LayerAI}

func (l Layer) Valid() bool {
	switch l {
	case LayerCrew, LayerSystem, LayerAI:
		return true
	}
	return false
}

type Kind string

const (
	KindDecision  Kind = "decision"
	KindAction    Kind = "action"
	KindCondition Kind = "condition"
	KindOutcome   Kind = "outcome"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDecision, KindAction, KindCondition, KindOutcome:
		return true
	}
	return false
}

type PathType string

const (
	PathSequential  PathType = "sequential"
	PathParallel    PathType = "parallel"
	PathConditional PathType = "conditional"
	PathFallback    PathType = "fallback"
)

func (t PathType) Valid() bool {
	switch t {
	case PathSequential, PathParallel, PathConditional, PathFallback:
		return true
	}
	return false
}

type ReactionScenario struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerEvent    string           `json:"trigger_event,omitempty" yaml:"trigger_event,omitempty"`
	ExpectedOutcome string           `json:"expected_outcome,omitempty" yaml:"expected_outcome,omitempty"`
	Nodes           []*DecisionNode  `json:"nodes" yaml:"nodes"`
	Paths           []DecisionPath   `json:"paths,omitempty" yaml:"paths,omitempty"`
	Metadata        ScenarioMetadata `json:"metadata" yaml:"metadata"`
}

type ScenarioMetadata struct {
	Category            string   `json:"category,omitempty" yaml:"category,omitempty"`
	Severity            string   `json:"severity,omitempty" yaml:"severity,omitempty"`
	Vessel              string   `json:"vessel,omitempty" yaml:"vessel,omitempty"`
	Tags                []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	EstimatedDurationMS int64    `json:"estimated_duration_ms,omitempty" yaml:"estimated_duration_ms,omitempty"`
}

// DecisionNode is one unit of reaction work owned by a single layer.
// A node without ParentID is a root.
type DecisionNode struct {
	ID          string       `json:"id" yaml:"id"`
	Layer       Layer        `json:"layer" yaml:"layer"`
	Kind        Kind         `json:"kind" yaml:"kind"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Children    []string     `json:"children,omitempty" yaml:"children,omitempty"`
	ParentID    string       `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	DurationMS  int64        `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Metadata    NodeMetadata `json:"metadata" yaml:"metadata"`
}

type NodeMetadata struct {
	Priority   string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Actor      string   `json:"actor,omitempty" yaml:"actor,omitempty"`
	Automated  bool     `json:"automated" yaml:"automated"`
}

func (n *DecisionNode) IsRoot() bool { return n.ParentID == "" }

// Duration reports the configured duration; ok is false when the node leaves
// it to the engine.
func (n *DecisionNode) Duration() (d time.Duration, ok bool) {
	if n.DurationMS <= 0 {
		return 0, false
	}
	return time.Duration(n.DurationMS) * time.Millisecond, true
}

// DecisionPath annotates a structural edge. It never changes reachability.
type DecisionPath struct {
	ID              string   `json:"id" yaml:"id"`
	FromNodeID      string   `json:"from_node_id" yaml:"from_node_id"`
	ToNodeID        string   `json:"to_node_id" yaml:"to_node_id"`
	Type            PathType `json:"type" yaml:"type"`
	Condition       string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Probability     *float64 `json:"probability,omitempty" yaml:"probability,omitempty"`
	Executed        bool     `json:"executed" yaml:"executed"`
	ExecutionTimeMS int64    `json:"execution_time_ms,omitempty" yaml:"execution_time_ms,omitempty"`
}

// Roots returns the nodes without a parent, in declaration order.
func (s *ReactionScenario) Roots() []*DecisionNode {
	roots := make([]*DecisionNode, 0, 1)
	for _, n := range s.Nodes {
		if n != nil && n.IsRoot() {
			roots = append(roots, n)
		}
	}
	return roots
}

// Index maps node ids to nodes. With duplicate ids the first declaration wins.
func (s *ReactionScenario) Index() map[string]*DecisionNode {
	idx := make(map[string]*DecisionNode, len(s.Nodes))
	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		if _, ok := idx[n.ID]; !ok {
			idx[n.ID] = n
		}
	}
	return idx
}

func (s *ReactionScenario) Node(id string) *DecisionNode {
	for _, n := range s.Nodes {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// Descendants returns every node id below id in depth-first children order.
// It assumes a validated (acyclic) scenario.
func (s *ReactionScenario) Descendants(id string) []string {
	idx := s.Index()
	var out []string
	var walk func(string)
	walk = func(cur string) {
		n := idx[cur]
		if n == nil {
			return
		}
		for _, c := range n.Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}
