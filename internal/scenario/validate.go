package scenario

import (
	"errors"
	"fmt"
	"strings"
)

type DefectKind string

const (
	DefectOrphanReference DefectKind = "OrphanReference"
	DefectCycleDetected   DefectKind = "CycleDetected"
	DefectMultipleParents DefectKind = "MultipleParents"
	DefectParentMismatch  DefectKind = "ParentMismatch"
	DefectDuplicateNode   DefectKind = "DuplicateNode"
	DefectInvalidField    DefectKind = "InvalidField"
	DefectNoRoot          DefectKind = "NoRoot"
)

var (
	ErrOrphanReference = errors.New("orphan reference")
	ErrCycleDetected   = errors.New("cycle detected")
	ErrMultipleParents = errors.New("multiple parents")
	ErrParentMismatch  = errors.New("parent mismatch")
	ErrDuplicateNode   = errors.New("duplicate node")
	ErrInvalidField    = errors.New("invalid field")
	ErrNoRoot          = errors.New("no root node")
)

var defectSentinels = map[DefectKind]error{
	DefectOrphanReference: ErrOrphanReference,
	DefectCycleDetected:   ErrCycleDetected,
	DefectMultipleParents: ErrMultipleParents,
	DefectParentMismatch:  ErrParentMismatch,
	DefectDuplicateNode:   ErrDuplicateNode,
	DefectInvalidField:    ErrInvalidField,
	DefectNoRoot:          ErrNoRoot,
}

type Defect struct {
	Kind    DefectKind `json:"kind"`
	NodeID  string     `json:"node_id,omitempty"`
	Ref     string     `json:"ref,omitempty"`
	Cycle   []string   `json:"cycle,omitempty"`
	Message string     `json:"message"`
}

// ValidationError lists every structural defect found in one validation phase.
type ValidationError struct {
	ScenarioID string   `json:"scenario_id"`
	Defects    []Defect `json:"defects"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Defects))
	for _, d := range e.Defects {
		msgs = append(msgs, fmt.Sprintf("%s: %s", d.Kind, d.Message))
	}
	return fmt.Sprintf("invalid scenario %q: %s", e.ScenarioID, strings.Join(msgs, "; "))
}

// Is matches the sentinel of any contained defect kind.
func (e *ValidationError) Is(target error) bool {
	for _, d := range e.Defects {
		if defectSentinels[d.Kind] == target {
			return true
		}
	}
	return false
}

// Kind returns the kind of the first defect.
func (e *ValidationError) Kind() DefectKind {
	if len(e.Defects) == 0 {
		return ""
	}
	return e.Defects[0].Kind
}

// Validate checks structural integrity before a scenario may be simulated.
// Phases stop at the first one reporting defects, so a cycle is never reported
// on top of an unresolved reference.
func Validate(s *ReactionScenario) error {
	if s == nil {
		return fmt.Errorf("scenario is nil")
	}

	phases := []func(*ReactionScenario) []Defect{
		checkFields,
		checkReferences,
		checkCycles,
		checkParents,
		checkRoots,
	}
	for _, phase := range phases {
		if defects := phase(s); len(defects) > 0 {
			return &ValidationError{ScenarioID: s.ID, Defects: defects}
		}
	}
	return nil
}

func checkFields(s *ReactionScenario) []Defect {
	var out []Defect
	seen := make(map[string]struct{}, len(s.Nodes))

	for i, n := range s.Nodes {
		if n == nil {
			out = append(out, Defect{Kind: DefectInvalidField, Message: fmt.Sprintf("node at index %d is null", i)})
			continue
		}
		if strings.TrimSpace(n.ID) == "" {
			out = append(out, Defect{Kind: DefectInvalidField, Message: fmt.Sprintf("node at index %d has an empty id", i)})
			continue
		}
		if _, dup := seen[n.ID]; dup {
			out = append(out, Defect{Kind: DefectDuplicateNode, NodeID: n.ID, Message: fmt.Sprintf("node %q declared more than once", n.ID)})
		}
		seen[n.ID] = struct{}{}

		if !n.Layer.Valid() {
			out = append(out, invalidField(n.ID, "layer", string(n.Layer)))
		}
		if !n.Kind.Valid() {
			out = append(out, invalidField(n.ID, "kind", string(n.Kind)))
		}
		if n.DurationMS < 0 {
			out = append(out, invalidField(n.ID, "duration_ms", fmt.Sprint(n.DurationMS)))
		}
		if c := n.Metadata.Confidence; c != nil && (*c < 0 || *c > 1) {
			out = append(out, invalidField(n.ID, "metadata.confidence", fmt.Sprint(*c)))
		}
	}

	for _, p := range s.Paths {
		if !p.Type.Valid() {
			out = append(out, Defect{Kind: DefectInvalidField, Ref: p.ID, Message: fmt.Sprintf("path %q has invalid type %q", p.ID, p.Type)})
		}
		if pr := p.Probability; pr != nil && (*pr < 0 || *pr > 1) {
			out = append(out, Defect{Kind: DefectInvalidField, Ref: p.ID, Message: fmt.Sprintf("path %q has probability %v outside [0,1]", p.ID, *pr)})
		}
	}
	return out
}

func invalidField(nodeID, field, value string) Defect {
	return Defect{
		Kind:    DefectInvalidField,
		NodeID:  nodeID,
		Message: fmt.Sprintf("node %q has invalid %s %q", nodeID, field, value),
	}
}

func checkReferences(s *ReactionScenario) []Defect {
	var out []Defect
	idx := s.Index()

	for _, n := range s.Nodes {
		if n.ParentID != "" {
			if _, ok := idx[n.ParentID]; !ok {
				out = append(out, Defect{Kind: DefectOrphanReference, NodeID: n.ID, Ref: n.ParentID,
					Message: fmt.Sprintf("node %q references unknown parent %q", n.ID, n.ParentID)})
			}
		}
		for _, c := range n.Children {
			if _, ok := idx[c]; !ok {
				out = append(out, Defect{Kind: DefectOrphanReference, NodeID: n.ID, Ref: c,
					Message: fmt.Sprintf("node %q references unknown child %q", n.ID, c)})
			}
		}
	}

	for _, p := range s.Paths {
		for _, end := range []string{p.FromNodeID, p.ToNodeID} {
			if _, ok := idx[end]; !ok {
				out = append(out, Defect{Kind: DefectOrphanReference, NodeID: end, Ref: p.ID,
					Message: fmt.Sprintf("path %q references unknown node %q", p.ID, end)})
			}
		}
	}
	return out
}

const (
	unvisited = iota
	visiting
	done
)

func checkCycles(s *ReactionScenario) []Defect {
	var out []Defect
	idx := s.Index()
	state := make(map[string]int, len(idx))
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		stack = append(stack, id)
		for _, c := range idx[id].Children {
			switch state[c] {
			case visiting:
				cycle := cyclePath(stack, c)
				out = append(out, Defect{Kind: DefectCycleDetected, NodeID: c, Cycle: cycle,
					Message: fmt.Sprintf("cycle %s", strings.Join(cycle, " -> "))})
			case unvisited:
				visit(c)
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, n := range s.Nodes {
		if state[n.ID] == unvisited {
			visit(n.ID)
		}
	}
	return out
}

func cyclePath(stack []string, back string) []string {
	for i, id := range stack {
		if id == back {
			cycle := append([]string{}, stack[i:]...)
			return append(cycle, back)
		}
	}
	return []string{back}
}

func checkParents(s *ReactionScenario) []Defect {
	var out []Defect
	idx := s.Index()
	listedBy := make(map[string][]string, len(idx))

	for _, n := range s.Nodes {
		for _, c := range n.Children {
			listedBy[c] = append(listedBy[c], n.ID)
		}
	}

	for _, n := range s.Nodes {
		parents := listedBy[n.ID]
		if len(parents) > 1 {
			out = append(out, Defect{Kind: DefectMultipleParents, NodeID: n.ID,
				Message: fmt.Sprintf("node %q is a child of %s", n.ID, strings.Join(parents, ", "))})
			continue
		}
		switch {
		case n.ParentID != "" && (len(parents) == 0 || parents[0] != n.ParentID):
			out = append(out, Defect{Kind: DefectParentMismatch, NodeID: n.ID, Ref: n.ParentID,
				Message: fmt.Sprintf("node %q names parent %q but is not among its children", n.ID, n.ParentID)})
		case n.ParentID == "" && len(parents) == 1:
			out = append(out, Defect{Kind: DefectParentMismatch, NodeID: n.ID, Ref: parents[0],
				Message: fmt.Sprintf("node %q is a child of %q but has no parent_id", n.ID, parents[0])})
		}
	}
	return out
}

func checkRoots(s *ReactionScenario) []Defect {
	if len(s.Nodes) > 0 && len(s.Roots()) == 0 {
		return []Defect{{Kind: DefectNoRoot, Message: "scenario has nodes but no root"}}
	}
	return nil
}
