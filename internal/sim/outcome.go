package sim

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim/eval"
)

// OutcomePolicy decides whether a node that finished waiting completed or failed.
type OutcomePolicy interface {
	Decide(node *scenario.DecisionNode) bool
}

type OutcomeFunc func(node *scenario.DecisionNode) bool

func (f OutcomeFunc) Decide(node *scenario.DecisionNode) bool { return f(node) }

func AlwaysSucceed() OutcomePolicy {
	return OutcomeFunc(func(*scenario.DecisionNode) bool { return true })
}

// FailNodes fails exactly the listed node ids and completes everything else.
func FailNodes(ids ...string) OutcomePolicy {
	failing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		failing[id] = struct{}{}
	}
	return OutcomeFunc(func(n *scenario.DecisionNode) bool {
		_, fail := failing[n.ID]
		return !fail
	})
}

// Probabilistic completes a node with a fixed probability.
type Probabilistic struct {
	mu  sync.Mutex
	p   float64
	rng *rand.Rand
}

func NewProbabilistic(p float64, seed *uint64) *Probabilistic {
	return &Probabilistic{p: p, rng: newRand(seed)}
}

func (o *Probabilistic) Decide(*scenario.DecisionNode) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64() < o.p
}

func newRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
}

// Rule forces an outcome for nodes matching When.
type Rule struct {
	When    string `json:"when" yaml:"when"`
	Succeed bool   `json:"succeed" yaml:"succeed"`
}

type compiledRule struct {
	cond    *eval.Compiled
	succeed bool
}

// RulePolicy applies the first matching rule; unmatched nodes go to the fallback.
type RulePolicy struct {
	rules    []compiledRule
	fallback OutcomePolicy
}

func NewRulePolicy(rules []Rule, fallback OutcomePolicy) (*RulePolicy, error) {
	if fallback == nil {
		fallback = AlwaysSucceed()
	}
	p := &RulePolicy{fallback: fallback, rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		c, err := eval.Compile(r.When)
		if err != nil {
			return nil, fmt.Errorf("outcome rule %d: %w", i, err)
		}
		p.rules = append(p.rules, compiledRule{cond: c, succeed: r.Succeed})
	}
	return p, nil
}

func (p *RulePolicy) Decide(node *scenario.DecisionNode) bool {
	vars := NodeVars(node)
	for _, r := range p.rules {
		ok, err := r.cond.Eval(vars)
		if err != nil || !ok {
			continue
		}
		return r.succeed
	}
	return p.fallback.Decide(node)
}

// NodeVars exposes node attributes to outcome rules.
func NodeVars(n *scenario.DecisionNode) map[string]any {
	confidence := 0.0
	if n.Metadata.Confidence != nil {
		confidence = *n.Metadata.Confidence
	}
	return map[string]any{
		"id":          n.ID,
		"layer":       string(n.Layer),
		"kind":        string(n.Kind),
		"title":       n.Title,
		"priority":    n.Metadata.Priority,
		"actor":       n.Metadata.Actor,
		"confidence":  confidence,
		"automated":   n.Metadata.Automated,
		"duration_ms": int(n.DurationMS),
		"root":        n.IsRoot(),
	}
}
