package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestCandidateOutcome(t *testing.T) {
	svc := &Service{config: Config{AutoMergeEnabled: true}}

	assert.Equal(t, OutcomeAutoMerged, svc.candidateOutcome(models.ScoredCandidate{Decision: models.DecisionAutoMerge}))
	assert.Equal(t, OutcomeQueued, svc.candidateOutcome(models.ScoredCandidate{Decision: models.DecisionSuggestMerge}))
	assert.Equal(t, Outcome(""), svc.candidateOutcome(models.ScoredCandidate{Decision: models.DecisionNoMerge}))

	// with auto merge disabled, confident pairs still land in review
	svc.config.AutoMergeEnabled = false
	assert.Equal(t, OutcomeQueued, svc.candidateOutcome(models.ScoredCandidate{Decision: models.DecisionAutoMerge}))
}

func TestOrderedPair(t *testing.T) {
	a, b := orderedPair("e2", "e1")
	assert.Equal(t, "e1", a)
	assert.Equal(t, "e2", b)

	a, b = orderedPair("e1", "e2")
	assert.Equal(t, "e1", a)
	assert.Equal(t, "e2", b)
}

func TestBatchKey(t *testing.T) {
	assert.Equal(t, batchKey("c1", "jane smith"), batchKey("c1", "jane smith"))
	assert.NotEqual(t, batchKey("c1", "jane smith"), batchKey("c2", "jane smith"))
	// the separator keeps corpus and name from colliding across the boundary
	assert.NotEqual(t, batchKey("c1x", "y"), batchKey("c1", "xy"))
}

func TestDerefOr(t *testing.T) {
	v := "set"
	assert.Equal(t, "set", derefOr(&v, "fallback"))
	assert.Equal(t, "fallback", derefOr(nil, "fallback"))
}
