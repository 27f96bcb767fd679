package models

import (
	"time"

	"github.com/lib/pq"
)

// Entity type constants
const (
	EntityTypePerson = "person"
	EntityTypePlace  = "place"
	EntityTypeOrg    = "org"
)

// Entity represents a canonical, deduplicated identity. An entity that has
// been merged away is never deleted: it persists with resolved_to pointing at
// the surviving entity and acts as a redirect.
type Entity struct {
	ID                   string     `json:"id" db:"id"`
	TenantID             string     `json:"tenant_id" db:"tenant_id"`
	CorpusID             string     `json:"corpus_id" db:"corpus_id"`
	EntityType           string     `json:"entity_type" db:"entity_type"`
	CanonicalName        string     `json:"canonical_name" db:"canonical_name"`
	NormalizedName       string     `json:"normalized_name" db:"normalized_name"`
	ResolvedTo           *string    `json:"resolved_to,omitempty" db:"resolved_to"`
	ResolutionConfidence *float64   `json:"resolution_confidence,omitempty" db:"resolution_confidence"`
	ResolutionMethod     *string    `json:"resolution_method,omitempty" db:"resolution_method"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	Version              int        `json:"version" db:"version"`
}

// IsMergedAway returns true if this entity redirects to another canonical entity
func (e *Entity) IsMergedAway() bool {
	return e.ResolvedTo != nil
}

// Resolution method constants
const (
	ResolutionMethodAuto   = "auto"
	ResolutionMethodManual = "manual"
)

// EntityAlias is a known textual variant of an entity's name with provenance.
// Aliases are append-only across merges; a split moves a subset to a new
// entity but never drops any.
type EntityAlias struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Alias         string    `json:"alias" db:"alias"`
	Normalized    string    `json:"normalized" db:"normalized"`
	SourceDoc     string    `json:"source_doc" db:"source_doc"`
	SentenceIndex *int      `json:"sentence_index,omitempty" db:"sentence_index"`
	Role          *string   `json:"role,omitempty" db:"role"`
	FirstSeen     time.Time `json:"first_seen" db:"first_seen"`
}

// EntityWithAliases bundles an entity with its full alias list
type EntityWithAliases struct {
	Entity  Entity        `json:"entity"`
	Aliases []EntityAlias `json:"aliases"`
}

// EntityListResponse is the response for listing entities
type EntityListResponse struct {
	Items      []Entity `json:"items"`
	TotalCount int      `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}

// CandidateQuery carries the blocking keys used to bound a candidate lookup
type CandidateQuery struct {
	CorpusID   string
	Normalized string
	Tokens     []string
	LastToken  string
	Soundex    string
	Metaphone  string
	Limit      int
}

// EntityMatchIndex holds the blocking keys for one entity: normalized name,
// name tokens, and phonetic codes. Candidate generation reads this table so
// it never degrades to a full pairwise scan of the entity store.
type EntityMatchIndex struct {
	ID         string         `json:"id" db:"id"`
	TenantID   string         `json:"tenant_id" db:"tenant_id"`
	EntityID   string         `json:"entity_id" db:"entity_id"`
	CorpusID   string         `json:"corpus_id" db:"corpus_id"`
	EntityType string         `json:"entity_type" db:"entity_type"`
	Normalized string         `json:"normalized" db:"normalized"`
	Tokens     pq.StringArray `json:"tokens" db:"tokens"`
	FirstToken *string        `json:"first_token,omitempty" db:"first_token"`
	LastToken  *string        `json:"last_token,omitempty" db:"last_token"`
	Soundex    *string        `json:"soundex,omitempty" db:"soundex"`
	Metaphone  *string        `json:"metaphone,omitempty" db:"metaphone"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}
