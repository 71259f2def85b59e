package scenario

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain() *ReactionScenario {
	return &ReactionScenario{
		ID: "chain",
		Nodes: []*DecisionNode{
			{ID: "A", Layer: LayerCrew, Kind: KindDecision, Children: []string{"B"}},
			{ID: "B", Layer: LayerSystem, Kind: KindAction, ParentID: "A", Children: []string{"C"}},
			{ID: "C", Layer: LayerAI, Kind: KindOutcome, ParentID: "B"},
		},
	}
}

func requireDefect(t *testing.T, err error, kind DefectKind) *ValidationError {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected *ValidationError, got %v", err)
	for _, d := range ve.Defects {
		if d.Kind == kind {
			return ve
		}
	}
	t.Fatalf("expected defect %s, got %+v", kind, ve.Defects)
	return nil
}

func TestValidate_AcceptsChain(t *testing.T) {
	require.NoError(t, Validate(chain()))
}

func TestValidate_EmptyScenarioIsValid(t *testing.T) {
	require.NoError(t, Validate(&ReactionScenario{ID: "empty"}))
}

func TestValidate_RejectsCycle(t *testing.T) {
	s := &ReactionScenario{
		ID: "cycle",
		Nodes: []*DecisionNode{
			{ID: "A", Layer: LayerCrew, Kind: KindDecision, Children: []string{"B"}},
			{ID: "B", Layer: LayerSystem, Kind: KindAction, ParentID: "A", Children: []string{"A"}},
		},
	}

	err := Validate(s)
	ve := requireDefect(t, err, DefectCycleDetected)
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Equal(t, []string{"A", "B", "A"}, ve.Defects[0].Cycle)
}

func TestValidate_RejectsSelfLoop(t *testing.T) {
	s := &ReactionScenario{
		ID: "self",
		Nodes: []*DecisionNode{
			{ID: "R", Layer: LayerCrew, Kind: KindAction, Children: []string{"A"}},
			{ID: "A", Layer: LayerCrew, Kind: KindAction, ParentID: "R", Children: []string{"A"}},
		},
	}
	requireDefect(t, Validate(s), DefectCycleDetected)
}

func TestValidate_RejectsOrphanChild(t *testing.T) {
	s := chain()
	s.Nodes[2].Children = []string{"ghost"}

	err := Validate(s)
	ve := requireDefect(t, err, DefectOrphanReference)
	assert.Equal(t, "ghost", ve.Defects[0].Ref)
	assert.True(t, errors.Is(err, ErrOrphanReference))
}

func TestValidate_RejectsOrphanParent(t *testing.T) {
	s := chain()
	s.Nodes[0].ParentID = "nobody"
	requireDefect(t, Validate(s), DefectOrphanReference)
}

func TestValidate_RejectsOrphanPathEndpoint(t *testing.T) {
	s := chain()
	s.Paths = []DecisionPath{{ID: "p", FromNodeID: "A", ToNodeID: "Z", Type: PathSequential}}
	requireDefect(t, Validate(s), DefectOrphanReference)
}

func TestValidate_RejectsMultipleParents(t *testing.T) {
	s := &ReactionScenario{
		ID: "shared",
		Nodes: []*DecisionNode{
			{ID: "A", Layer: LayerCrew, Kind: KindAction, Children: []string{"C"}},
			{ID: "B", Layer: LayerCrew, Kind: KindAction, Children: []string{"C"}},
			{ID: "C", Layer: LayerAI, Kind: KindAction, ParentID: "A"},
		},
	}
	err := Validate(s)
	requireDefect(t, err, DefectMultipleParents)
	assert.True(t, errors.Is(err, ErrMultipleParents))
}

func TestValidate_RejectsParentMismatch(t *testing.T) {
	s := chain()
	s.Nodes[1].Children = nil // C still claims B as parent

	requireDefect(t, Validate(s), DefectParentMismatch)
}

func TestValidate_RejectsChildWithoutParentID(t *testing.T) {
	s := chain()
	s.Nodes[2].ParentID = ""

	requireDefect(t, Validate(s), DefectParentMismatch)
}

func TestValidate_RejectsDuplicatesAndBadFields(t *testing.T) {
	conf := 1.5
	s := &ReactionScenario{
		ID: "bad",
		Nodes: []*DecisionNode{
			{ID: "A", Layer: "deck", Kind: KindAction},
			{ID: "A", Layer: LayerCrew, Kind: "wish", DurationMS: -5, Metadata: NodeMetadata{Confidence: &conf}},
		},
	}

	err := Validate(s)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	kinds := map[DefectKind]int{}
	for _, d := range ve.Defects {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[DefectDuplicateNode])
	assert.Equal(t, 4, kinds[DefectInvalidField])
}

func TestValidationError_MessageNamesDefect(t *testing.T) {
	s := chain()
	s.Nodes[0].Children = []string{"B", "nope"}

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OrphanReference")
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestScenario_RootsAndDescendants(t *testing.T) {
	s := chain()
	s.Nodes = append(s.Nodes, &DecisionNode{ID: "X", Layer: LayerCrew, Kind: KindAction})

	roots := s.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "A", roots[0].ID)
	assert.Equal(t, "X", roots[1].ID)
	assert.Equal(t, []string{"B", "C"}, s.Descendants("A"))
	assert.Empty(t, s.Descendants("X"))
}
