// Package types provides shared type definitions used across mnemo packages.
// This package exists to break import cycles between store, search, and
// curation. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PROJECTS & ACCESS CONTROL
// =============================================================================

// AccessLevel classifies how widely a project may read other projects' rows.
type AccessLevel string

const (
	AccessSuper    AccessLevel = "super"
	AccessShared   AccessLevel = "shared"
	AccessIsolated AccessLevel = "isolated"
)

// Valid reports whether the level is one of the closed set.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessSuper, AccessShared, AccessIsolated:
		return true
	}
	return false
}

// RLSPhase is the rollout phase of row-level isolation for a project.
type RLSPhase string

const (
	PhasePending   RLSPhase = "pending"
	PhaseShadow    RLSPhase = "shadow"
	PhaseEnforcing RLSPhase = "enforcing"
)

// Valid reports whether the phase is one of the closed set.
func (p RLSPhase) Valid() bool {
	switch p {
	case PhasePending, PhaseShadow, PhaseEnforcing:
		return true
	}
	return false
}

// Rank orders phases from weakest to strictest. Unknown phases rank
// strictest so that a bad value never weakens isolation.
func (p RLSPhase) Rank() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseShadow:
		return 1
	case PhaseEnforcing:
		return 2
	}
	return 2
}

// Project is a logical tenant, the unit of access-control isolation.
type Project struct {
	ID          string      `json:"project_id"`
	Name        string      `json:"name"`
	AccessLevel AccessLevel `json:"access_level"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ReadGrant allows Reader to read Target's rows. One-directional;
// self-grants are implicit and never stored.
type ReadGrant struct {
	Reader    string    `json:"reader_project_id"`
	Target    string    `json:"target_project_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RLSStatus records the rollout phase of a single project.
type RLSStatus struct {
	ProjectID string    `json:"project_id"`
	Phase     RLSPhase  `json:"phase"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// ACTORS & CURATION
// =============================================================================

// Actor identifies who initiated a mutation. I/O is privileged; ethr
// mutations go through the proposal workflow.
type Actor string

const (
	ActorIO   Actor = "I/O"
	ActorEthr Actor = "ethr"
)

// Valid reports whether the actor is one of the closed set.
func (a Actor) Valid() bool {
	return a == ActorIO || a == ActorEthr
}

// Privileged reports whether the actor may mutate without consent.
func (a Actor) Privileged() bool {
	return a == ActorIO
}

// RevisionAction is the kind of mutation a revision row records.
type RevisionAction string

const (
	RevisionUpdate RevisionAction = "UPDATE"
	RevisionDelete RevisionAction = "DELETE"
)

// =============================================================================
// MEMORY CLASSES
// =============================================================================

// Insight is a derived, curated memory with an embedding and a strength
// that biases retrieval. Soft-deleted insights keep their history but
// never appear in search.
type Insight struct {
	ID             int64                  `json:"id"`
	Content        string                 `json:"content"`
	Embedding      []float32              `json:"-"`
	SourceIDs      []int64                `json:"source_ids,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	MemoryStrength float64                `json:"memory_strength"`
	IsDeleted      bool                   `json:"is_deleted"`
	DeletedAt      *time.Time             `json:"deleted_at,omitempty"`
	DeletedBy      string                 `json:"deleted_by,omitempty"`
	DeletedReason  string                 `json:"deleted_reason,omitempty"`
	ProjectID      string                 `json:"project_id"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// InsightRevision is an immutable history row. VersionID is a per-insight
// counter assigned by a database trigger, starting at 1.
type InsightRevision struct {
	InsightID        int64          `json:"insight_id"`
	VersionID        int            `json:"version_id"`
	Action           RevisionAction `json:"action"`
	Actor            Actor          `json:"actor"`
	PreviousContent  string         `json:"previous_content"`
	NewContent       *string        `json:"new_content,omitempty"`
	PreviousStrength float64        `json:"previous_strength"`
	NewStrength      *float64       `json:"new_strength,omitempty"`
	Reason           string         `json:"reason"`
	ProjectID        string         `json:"project_id"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Node is a graph vertex classified into a memory sector.
type Node struct {
	ID           int64                  `json:"id"`
	Name         string                 `json:"name"`
	NodeType     string                 `json:"node_type,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Embedding    []float32              `json:"-"`
	MemorySector string                 `json:"memory_sector,omitempty"`
	ProjectID    string                 `json:"project_id"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Edge is a typed, directed graph edge. (SourceID, TargetID, Relation)
// is logically unique.
type Edge struct {
	ID           int64                  `json:"id"`
	SourceID     int64                  `json:"source_id"`
	TargetID     int64                  `json:"target_id"`
	Relation     string                 `json:"relation"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	MemorySector string                 `json:"memory_sector,omitempty"`
	ProjectID    string                 `json:"project_id"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Episode is one turn of raw dialogue memory.
type Episode struct {
	ID        int64                  `json:"id"`
	Content   string                 `json:"content"`
	Embedding []float32              `json:"-"`
	Role      string                 `json:"role,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ProjectID string                 `json:"project_id"`
	CreatedAt time.Time              `json:"created_at"`
}

// WorkingEntry is a short-lived scratch memory slot. Working memory is
// bounded per project and evicted LRU-by-access.
type WorkingEntry struct {
	ID           int64     `json:"id"`
	Slot         string    `json:"slot"`
	Content      string    `json:"content"`
	ProjectID    string    `json:"project_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// RawEntry is unprocessed L0 input kept for later distillation.
type RawEntry struct {
	ID        int64                  `json:"id"`
	Content   string                 `json:"content"`
	Embedding []float32              `json:"-"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ProjectID string                 `json:"project_id"`
	CreatedAt time.Time              `json:"created_at"`
}

// =============================================================================
// FEEDBACK
// =============================================================================

// FeedbackType is the caller's verdict on a retrieved insight.
type FeedbackType string

const (
	FeedbackHelpful     FeedbackType = "helpful"
	FeedbackNotRelevant FeedbackType = "not_relevant"
	FeedbackNotNow      FeedbackType = "not_now"
)

// Valid reports whether the feedback type is one of the closed set.
func (f FeedbackType) Valid() bool {
	switch f {
	case FeedbackHelpful, FeedbackNotRelevant, FeedbackNotNow:
		return true
	}
	return false
}

// Feedback is one append-only feedback event for an insight.
type Feedback struct {
	ID        int64        `json:"id"`
	InsightID int64        `json:"insight_id"`
	Type      FeedbackType `json:"feedback_type"`
	Context   string       `json:"context,omitempty"`
	ProjectID string       `json:"project_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// FeedbackCounts aggregates feedback events for one insight.
// not_now events are counted but carry no score effect.
type FeedbackCounts struct {
	Helpful     int `json:"helpful"`
	NotRelevant int `json:"not_relevant"`
	NotNow      int `json:"not_now"`
}

// =============================================================================
// PROPOSALS
// =============================================================================

// ProposalStatus is the state of a consent proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// ProposedAction tags the mutation a proposal would perform.
type ProposedAction string

const (
	ProposeDeleteInsight ProposedAction = "DELETE_INSIGHT"
	ProposeUpdateInsight ProposedAction = "UPDATE_INSIGHT"
)

// ProposalPayload carries the arguments of the deferred mutation.
type ProposalPayload struct {
	InsightID   int64    `json:"insight_id"`
	NewContent  *string  `json:"new_content,omitempty"`
	NewStrength *float64 `json:"new_strength,omitempty"`
	Reason      string   `json:"reason"`
}

// Proposal is a pending (or reviewed) request by a non-privileged actor
// to perform a destructive mutation. Approval executes the mutation
// exactly once; rejection leaves the target untouched.
type Proposal struct {
	ID            uuid.UUID       `json:"id"`
	Action        ProposedAction  `json:"proposed_action"`
	Payload       ProposalPayload `json:"payload"`
	OriginalState *Insight        `json:"original_state,omitempty"`
	Status        ProposalStatus  `json:"status"`
	ProposedBy    Actor           `json:"proposed_by"`
	Reviewer      string          `json:"reviewer,omitempty"`
	ReviewNotes   string          `json:"review_notes,omitempty"`
	ProjectID     string          `json:"project_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty"`
}

// =============================================================================
// SEARCH
// =============================================================================

// SourceType labels which memory class produced a candidate.
type SourceType string

const (
	SourceInsight SourceType = "insight"
	SourceEpisode SourceType = "episode"
	SourceRaw     SourceType = "raw"
	SourceGraph   SourceType = "graph"
)

// Candidate is one per-source search hit. Score is the raw per-source
// score (similarity or lexical rank); fusion re-scores across variants.
type Candidate struct {
	ID             int64                  `json:"id"`
	SourceType     SourceType             `json:"source_type"`
	Score          float64                `json:"score"`
	MemoryStrength float64                `json:"memory_strength"`
	CreatedAt      time.Time              `json:"created_at"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// Key returns the stable cross-source identity used for fusion dedup.
func (c Candidate) Key() string {
	return string(c.SourceType) + ":" + strconv.FormatInt(c.ID, 10)
}

// =============================================================================
// STATS
// =============================================================================

// Stats holds the single-round-trip counts of every memory class.
type Stats struct {
	Insights         int64 `json:"insights"`
	DeletedInsights  int64 `json:"deleted_insights"`
	Episodes         int64 `json:"episodes"`
	WorkingEntries   int64 `json:"working_entries"`
	RawEntries       int64 `json:"raw_entries"`
	Nodes            int64 `json:"graph_nodes"`
	Edges            int64 `json:"graph_edges"`
	FeedbackEvents   int64 `json:"feedback_events"`
	PendingProposals int64 `json:"pending_proposals"`
}

// ClampStrength clamps a memory strength to its legal range [0,1].
func ClampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
