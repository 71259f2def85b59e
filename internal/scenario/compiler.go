package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// Compiler turns a DOT document into a validated ReactionScenario.
//
// Graph attributes carry scenario fields, node attributes carry node fields and
// every directed edge is a parent -> child relation. Children keep the textual
// edge order.
type Compiler struct{}

func NewCompiler() *Compiler { return &Compiler{} }

func (c *Compiler) Compile(dot string) (*ReactionScenario, error) {
	ast, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}

	b := newDotBuilder()
	if err := gographviz.Analyse(ast, b); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}

	s, err := b.scenario()
	if err != nil {
		return nil, err
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// dotBuilder receives the analysed graph in statement order. The stock
// gographviz.Graph rejects attribute names Graphviz does not know, so scenario
// attributes are collected here instead.
type dotBuilder struct {
	name       string
	graphAttrs map[string]string
	order      []string
	nodeAttrs  map[string]map[string]string
	edges      []dotEdge
}

type dotEdge struct {
	from, to string
	attrs    map[string]string
}

var _ gographviz.Interface = (*dotBuilder)(nil)

func newDotBuilder() *dotBuilder {
	return &dotBuilder{
		graphAttrs: map[string]string{},
		nodeAttrs:  map[string]map[string]string{},
	}
}

func (b *dotBuilder) SetStrict(bool) error { return nil }

func (b *dotBuilder) SetDir(directed bool) error {
	if !directed {
		return fmt.Errorf("scenario graph must be a digraph")
	}
	return nil
}

func (b *dotBuilder) SetName(name string) error {
	b.name = unquote(name)
	return nil
}

func (b *dotBuilder) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	if !directed {
		return fmt.Errorf("undirected edge %s -- %s", src, dst)
	}
	b.edges = append(b.edges, dotEdge{from: unquote(src), to: unquote(dst), attrs: copyAttrs(attrs)})
	return nil
}

func (b *dotBuilder) AddEdge(src, dst string, directed bool, attrs map[string]string) error {
	return b.AddPortEdge(src, "", dst, "", directed, attrs)
}

func (b *dotBuilder) AddNode(_ string, name string, attrs map[string]string) error {
	name = unquote(name)
	existing, ok := b.nodeAttrs[name]
	if !ok {
		existing = map[string]string{}
		b.nodeAttrs[name] = existing
		b.order = append(b.order, name)
	}
	for k, v := range attrs {
		existing[k] = v
	}
	return nil
}

func (b *dotBuilder) AddAttr(parentGraph string, field, value string) error {
	if unquote(parentGraph) == b.name {
		b.graphAttrs[field] = value
	}
	return nil
}

func (b *dotBuilder) AddSubGraph(string, string, map[string]string) error { return nil }

func (b *dotBuilder) String() string { return b.name }

func (b *dotBuilder) scenario() (*ReactionScenario, error) {
	id := attr(b.graphAttrs, "id")
	if id == "" {
		id = b.name
	}
	s := &ReactionScenario{
		ID:              id,
		Name:            firstNonEmpty(attr(b.graphAttrs, "name"), attr(b.graphAttrs, "label"), id),
		Description:     attr(b.graphAttrs, "description"),
		TriggerEvent:    attr(b.graphAttrs, "trigger_event"),
		ExpectedOutcome: attr(b.graphAttrs, "expected_outcome"),
		Metadata: ScenarioMetadata{
			Category: attr(b.graphAttrs, "category"),
			Severity: attr(b.graphAttrs, "severity"),
			Vessel:   attr(b.graphAttrs, "vessel"),
			Tags:     splitList(attr(b.graphAttrs, "tags")),
		},
	}
	if raw := attr(b.graphAttrs, "estimated_duration_ms"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid estimated_duration_ms %q: %w", raw, err)
		}
		s.Metadata.EstimatedDurationMS = v
	}

	nodes := make(map[string]*DecisionNode, len(b.order))
	for _, name := range b.order {
		n, err := nodeFromAttrs(name, b.nodeAttrs[name])
		if err != nil {
			return nil, fmt.Errorf("invalid node %q: %w", name, err)
		}
		nodes[name] = n
		s.Nodes = append(s.Nodes, n)
	}

	for i, e := range b.edges {
		from, to := nodes[e.from], nodes[e.to]
		if from == nil || to == nil {
			return nil, fmt.Errorf("edge %d (%s -> %s) must connect two nodes", i, e.from, e.to)
		}
		from.Children = append(from.Children, e.to)
		if to.ParentID == "" {
			to.ParentID = e.from
		}

		p := DecisionPath{
			ID:         firstNonEmpty(attr(e.attrs, "id"), fmt.Sprintf("%s->%s", e.from, e.to)),
			FromNodeID: e.from,
			ToNodeID:   e.to,
			Type:       PathType(firstNonEmpty(attr(e.attrs, "type"), string(PathSequential))),
			Condition:  firstNonEmpty(attr(e.attrs, "condition"), attr(e.attrs, "cond")),
		}
		if raw := attr(e.attrs, "probability"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid probability on edge %d (%s -> %s): %w", i, e.from, e.to, err)
			}
			p.Probability = &v
		}
		s.Paths = append(s.Paths, p)
	}

	return s, nil
}

func nodeFromAttrs(id string, attrs map[string]string) (*DecisionNode, error) {
	n := &DecisionNode{
		ID:          id,
		Layer:       Layer(attr(attrs, "layer")),
		Kind:        Kind(firstNonEmpty(attr(attrs, "kind"), string(KindAction))),
		Title:       firstNonEmpty(attr(attrs, "title"), attr(attrs, "label"), id),
		Description: attr(attrs, "description"),
	}

	// meta="priority=high,automated=true" is applied first so that explicit
	// attributes win.
	meta, err := ParseAssignments(attr(attrs, "meta"))
	if err != nil {
		return nil, fmt.Errorf("invalid meta: %w", err)
	}
	fields := map[string]any{}
	for _, a := range meta {
		fields[a.Key] = a.Value
	}
	for _, key := range []string{"duration_ms", "priority", "confidence", "actor", "automated"} {
		if raw, ok := attrs[key]; ok {
			fields[key] = parseLiteral(unquote(raw))
		}
	}

	for key, v := range fields {
		switch key {
		case "duration_ms":
			d, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("duration_ms must be a number (got %v)", v)
			}
			n.DurationMS = int64(d)
		case "priority":
			n.Metadata.Priority = fmt.Sprint(v)
		case "actor":
			n.Metadata.Actor = fmt.Sprint(v)
		case "confidence":
			c, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("confidence must be a number (got %v)", v)
			}
			n.Metadata.Confidence = &c
		case "automated":
			a, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("automated must be true or false (got %v)", v)
			}
			n.Metadata.Automated = a
		default:
			return nil, fmt.Errorf("unknown meta key %q", key)
		}
	}
	return n, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// attr reads a DOT attribute value without its surrounding quotes.
func attr(attrs map[string]string, key string) string {
	return unquote(attrs[key])
}

func unquote(val string) string {
	val = strings.TrimSpace(val)
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		if s, err := strconv.Unquote(val); err == nil {
			return s
		}
		val = val[1 : len(val)-1]
	}
	return val
}

func copyAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
