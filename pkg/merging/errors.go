package merging

import "fmt"

// CircularMergeError reports a merge that would create a redirect cycle
type CircularMergeError struct {
	SourceID string
	TargetID string
}

func (e *CircularMergeError) Error() string {
	return fmt.Sprintf("merging %s into %s would create a redirect cycle", e.SourceID, e.TargetID)
}

// CrossTypeError reports a merge between entities of different declared
// types attempted without an override
type CrossTypeError struct {
	SourceID   string
	SourceType string
	TargetID   string
	TargetType string
}

func (e *CrossTypeError) Error() string {
	return fmt.Sprintf("cannot merge %s (%s) into %s (%s) without override", e.SourceID, e.SourceType, e.TargetID, e.TargetType)
}

// AlreadyMergedError reports an operation against an entity that has been
// merged away
type AlreadyMergedError struct {
	EntityID   string
	ResolvedTo string
}

func (e *AlreadyMergedError) Error() string {
	return fmt.Sprintf("entity %s is already merged into %s", e.EntityID, e.ResolvedTo)
}
