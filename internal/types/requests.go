package types

import "time"

// =============================================================================
// CANONICAL SEARCH FILTERS
// =============================================================================

// Filters is the canonical, validated filter spec produced by the filter
// engine and consumed by the per-source candidate generators. A zero
// Filters constrains nothing.
type Filters struct {
	// Tags constrains insights to rows overlapping these tags. Nil or
	// empty means no tag constraint.
	Tags []string `json:"tags,omitempty"`

	// DateFrom and DateTo bound created_at inclusively.
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	// Sources selects which memory classes generate candidates. Nil
	// means all.
	Sources []SourceType `json:"sources,omitempty"`

	// Sector restricts graph expansion to edges of this memory sector.
	// Ignored by non-graph sources.
	Sector string `json:"sector,omitempty"`

	// GraphDepth bounds the neighbour walk. Zero means the configured
	// default.
	GraphDepth int `json:"graph_depth,omitempty"`
}

// WantsSource reports whether the given source should generate candidates.
func (f Filters) WantsSource(s SourceType) bool {
	if len(f.Sources) == 0 {
		return true
	}
	for _, src := range f.Sources {
		if src == s {
			return true
		}
	}
	return false
}

// =============================================================================
// CURATION PARAMETERS
// =============================================================================

// InsightUpdate carries one validated update mutation. Nil fields are
// left untouched. NewEmbedding accompanies NewContent when the caller
// re-embedded the text before opening the transaction.
type InsightUpdate struct {
	InsightID    int64
	NewContent   *string
	NewEmbedding []float32
	NewStrength  *float64
	Actor        Actor
	Reason       string
}

// InsightDelete carries one validated soft-delete mutation.
type InsightDelete struct {
	InsightID int64
	Actor     Actor
	Reason    string
}
