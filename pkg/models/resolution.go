package models

import (
	"encoding/json"
	"time"
)

// MatchStrategy identifies one of the independent candidate-generation strategies
type MatchStrategy string

const (
	MatchStrategyExact    MatchStrategy = "exact"         // normalized strings are equal
	MatchStrategyJaccard  MatchStrategy = "jaccard"       // token overlap ratio above 0.5
	MatchStrategyInitial  MatchStrategy = "initial"       // "J. Smith" vs "John Smith"
	MatchStrategyEdit     MatchStrategy = "edit_distance" // Levenshtein distance <= 2
	MatchStrategyPhonetic MatchStrategy = "phonetic"      // Soundex/Metaphone code equality
)

// StrategySignal is the output of a single match strategy for a candidate pair
type StrategySignal struct {
	Strategy  MatchStrategy `json:"strategy"`
	Signal    float64       `json:"signal"`
	Rationale string        `json:"rationale"`
}

// MatchEvidence collects everything the scorer saw for a pair, for review
// explanations and the audit trail
type MatchEvidence struct {
	Signals         []StrategySignal `json:"signals"`
	SharedDocuments []string         `json:"shared_documents,omitempty"`
	CoOccurrence    bool             `json:"co_occurrence"`
	SharedRole      *string          `json:"shared_role,omitempty"`
	SameSentence    bool             `json:"same_sentence"`
	TypeMatch       bool             `json:"type_match"`
	TypesDeclared   bool             `json:"types_declared"`
	BaseScore       float64          `json:"base_score"`
	FinalScore      float64          `json:"final_score"`
}

// MatchDecision is the clusterer's classification of a scored pair
type MatchDecision string

const (
	DecisionAutoMerge    MatchDecision = "auto_merge"
	DecisionSuggestMerge MatchDecision = "suggest_merge"
	DecisionNoMerge      MatchDecision = "no_merge"
)

// ScoredCandidate is a candidate entity with its final score and decision
type ScoredCandidate struct {
	EntityID string        `json:"entity_id"`
	Score    float64       `json:"score"`
	Decision MatchDecision `json:"decision"`
	Evidence MatchEvidence `json:"evidence"`
}

// ReviewItem is a suggested merge awaiting human disposition. Immutable once
// created except for status, reviewed_at, and reviewed_by.
type ReviewItem struct {
	ID         string          `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	CorpusID   string          `json:"corpus_id" db:"corpus_id"`
	EntityAID  string          `json:"entity_a_id" db:"entity_a_id"`
	EntityBID  string          `json:"entity_b_id" db:"entity_b_id"`
	Confidence float64         `json:"confidence" db:"confidence"`
	Evidence   json.RawMessage `json:"evidence" db:"evidence"`
	Status     string          `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewedBy *string         `json:"reviewed_by,omitempty" db:"reviewed_by"`
}

// Review item status constants
const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
	ReviewStatusSkipped  = "skipped"
	ReviewStatusExpired  = "expired"
	ReviewStatusFlagged  = "flagged" // auto-merge applied below threshold, needs retroactive review
)

// ReviewItemListResponse is the response for listing review queue items
type ReviewItemListResponse struct {
	Items      []ReviewItem `json:"items"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}

// ReviewDisposition is the request body for disposing of a review item
type ReviewDisposition struct {
	Reason string `json:"reason" validate:"required"`
}

// ResolutionLogEntry records one merge, reject, or split decision.
// Append-only: entries are never mutated or deleted. A split entry references
// the merge entry it reverses via reverses_log_id.
type ResolutionLogEntry struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	CorpusID      string    `json:"corpus_id" db:"corpus_id"`
	SourceID      string    `json:"source_id" db:"source_id"`
	TargetID      string    `json:"target_id" db:"target_id"`
	Action        string    `json:"action" db:"action"`
	Confidence    float64   `json:"confidence" db:"confidence"`
	Method        string    `json:"method" db:"method"`
	Reason        string    `json:"reason" db:"reason"`
	ReversesLogID *string   `json:"reverses_log_id,omitempty" db:"reverses_log_id"`
	PerformedBy   *string   `json:"performed_by,omitempty" db:"performed_by"`
	RunID         *string   `json:"run_id,omitempty" db:"run_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Resolution log action constants
const (
	ResolutionActionMerge  = "merge"
	ResolutionActionReject = "reject"
	ResolutionActionSplit  = "split"
)

// ResolutionRun tracks a full-corpus resolution pass so it can resume after a
// crash or cancellation without re-applying merges
type ResolutionRun struct {
	ID                string     `json:"id" db:"id"`
	TenantID          string     `json:"tenant_id" db:"tenant_id"`
	CorpusID          string     `json:"corpus_id" db:"corpus_id"`
	Status            string     `json:"status" db:"status"`
	LastMentionID     *string    `json:"last_mention_id,omitempty" db:"last_mention_id"`
	MentionsProcessed int        `json:"mentions_processed" db:"mentions_processed"`
	AutoMergedCount   int        `json:"auto_merged_count" db:"auto_merged_count"`
	QueuedCount       int        `json:"queued_count" db:"queued_count"`
	NoMatchCount      int        `json:"no_match_count" db:"no_match_count"`
	OverflowCount     int        `json:"overflow_count" db:"overflow_count"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Error             *string    `json:"error,omitempty" db:"error"`
}

// Resolution run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// ResolveAllRequest starts a full-corpus resolution run
type ResolveAllRequest struct {
	CorpusID        string   `json:"corpus_id" validate:"required"`
	AutoThreshold   *float64 `json:"auto_threshold,omitempty"`
	ReviewThreshold *float64 `json:"review_threshold,omitempty"`
}

// ResolveAllResponse summarizes the outcome of a resolution run
type ResolveAllResponse struct {
	RunID       string               `json:"run_id"`
	AutoMerged  int                  `json:"auto_merged"`
	ReviewQueue int                  `json:"review_queue"`
	NoMatch     int                  `json:"no_match"`
	Overflow    int                  `json:"overflow"`
	Log         []ResolutionLogEntry `json:"log"`
}

// MergeRequest asks the executor to merge source into target
type MergeRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
	Override bool   `json:"override"` // required for cross-type merges
}

// MergeResponse reports the surviving canonical name and everything preserved,
// so callers can verify nothing was silently dropped
type MergeResponse struct {
	Success           bool     `json:"success"`
	CanonicalName     string   `json:"canonical_name"`
	AliasesPreserved  []string `json:"aliases_preserved"`
	DocumentsAffected int      `json:"documents_affected"`
	LogID             string   `json:"log_id"`
}

// SplitRequest reverses a prior merge by moving aliases to a new entity.
// Splits are always human-initiated.
type SplitRequest struct {
	AliasIDs []string `json:"alias_ids" validate:"required,min=1"`
	Reason   string   `json:"reason" validate:"required"`
}

// SplitResponse reports the new entity created by a split
type SplitResponse struct {
	NewEntityID      string `json:"new_entity_id"`
	NewEntityName    string `json:"new_entity_name"`
	DocumentsUpdated int    `json:"documents_updated"`
	LogID            string `json:"log_id"`
}

// DuplicatePair is one suspected-duplicate entity pair with its evidence
type DuplicatePair struct {
	EntityAID  string        `json:"entity_a_id"`
	EntityBID  string        `json:"entity_b_id"`
	Confidence float64       `json:"confidence"`
	Evidence   MatchEvidence `json:"evidence"`
}
