// Package search orchestrates hybrid retrieval: pure filter
// canonicalisation, parallel per-source candidate generation, Reciprocal
// Rank Fusion across query variants, and lazy feedback re-scoring.
package search

import (
	"fmt"
	"time"

	"mnemo/internal/types"
)

// FilterOptions is the caller's raw, unvalidated filter input.
type FilterOptions struct {
	Tags        []string
	DateFrom    string // RFC 3339 or date-only, inclusive
	DateTo      string
	SourceTypes []string // subset of insight, episode, raw, graph; nil = all
	Sector      string   // graph edges only
	GraphDepth  int
}

// maxGraphDepth bounds the neighbour walk regardless of caller input.
const maxGraphDepth = 3

// Canonicalize validates the options into a canonical filter spec. It is
// pure: no I/O, equal inputs produce equal outputs. All violations are
// collected into a single validation error. An empty tag list means "no
// tag constraint", never "match nothing".
func Canonicalize(opts FilterOptions) (types.Filters, error) {
	var fields []types.FieldError
	var f types.Filters

	if len(opts.Tags) > 0 {
		f.Tags = make([]string, 0, len(opts.Tags))
		for _, tag := range opts.Tags {
			if tag == "" {
				fields = append(fields, types.FieldError{
					Field: "tags_filter", Message: "tags must be non-empty strings"})
				continue
			}
			f.Tags = append(f.Tags, tag)
		}
		if len(f.Tags) == 0 {
			f.Tags = nil
		}
	}

	from, fromErrs := parseDate("date_from", opts.DateFrom, false)
	to, toErrs := parseDate("date_to", opts.DateTo, true)
	fields = append(fields, fromErrs...)
	fields = append(fields, toErrs...)
	f.DateFrom, f.DateTo = from, to
	if from != nil && to != nil && from.After(*to) {
		fields = append(fields, types.FieldError{
			Field: "date_from", Message: "date_from must not be after date_to"})
	}

	if opts.SourceTypes != nil {
		seen := map[types.SourceType]bool{}
		for _, raw := range opts.SourceTypes {
			st := types.SourceType(raw)
			switch st {
			case types.SourceInsight, types.SourceEpisode, types.SourceRaw, types.SourceGraph:
				if !seen[st] {
					seen[st] = true
					f.Sources = append(f.Sources, st)
				}
			default:
				fields = append(fields, types.FieldError{
					Field:   "source_type_filter",
					Message: fmt.Sprintf("unknown source type %q", raw)})
			}
		}
	}

	if opts.Sector != "" {
		if len(f.Sources) > 0 && !f.WantsSource(types.SourceGraph) {
			fields = append(fields, types.FieldError{
				Field:   "sector_filter",
				Message: "sector_filter applies only to graph results, which are excluded"})
		}
		f.Sector = opts.Sector
	}

	switch {
	case opts.GraphDepth < 0:
		fields = append(fields, types.FieldError{
			Field: "graph_depth", Message: "graph_depth must not be negative"})
	case opts.GraphDepth > maxGraphDepth:
		fields = append(fields, types.FieldError{
			Field:   "graph_depth",
			Message: fmt.Sprintf("graph_depth must be at most %d", maxGraphDepth)})
	default:
		f.GraphDepth = opts.GraphDepth
	}

	if len(fields) > 0 {
		return types.Filters{}, types.NewValidation(fields...)
	}
	return f, nil
}

// parseDate accepts RFC 3339 timestamps or bare dates. A bare date used
// as an upper bound extends to the end of that day so the range stays
// inclusive.
func parseDate(field, raw string, endOfDay bool) (*time.Time, []types.FieldError) {
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			day = day.Add(24*time.Hour - time.Nanosecond)
		}
		return &day, nil
	}
	return nil, []types.FieldError{{
		Field:   field,
		Message: fmt.Sprintf("%q is not an RFC 3339 timestamp or YYYY-MM-DD date", raw)}}
}
