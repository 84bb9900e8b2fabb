package event

import (
	"fmt"
	"strings"
)

// FilterType selects how a filter set combines.
type FilterType string

const (
	// FilterTypeAnd narrows the candidate set one predicate at a time;
	// zero filters leave the full (non-deleted) set unchanged.
	FilterTypeAnd FilterType = "and"

	// FilterTypeOr unions the matches of each predicate; zero filters
	// select nothing.
	FilterTypeOr FilterType = "or"
)

// Validate checks if the FilterType is a valid enum value.
func (ft FilterType) Validate() error {
	switch ft {
	case FilterTypeAnd, FilterTypeOr:
		return nil
	default:
		return fmt.Errorf("unknown filter type: %q", ft)
	}
}

// FilterField names the predicate a Filter applies.
type FilterField string

const (
	// FilterIdentifiers matches records whose identifier is in a set
	FilterIdentifiers FilterField = "identifiers"

	// FilterName substring-matches the record name
	FilterName FilterField = "name"

	// FilterStartDate matches records whose start date falls in a window
	FilterStartDate FilterField = "start_date"

	// FilterEndDate matches records whose end date falls in a window
	FilterEndDate FilterField = "end_date"

	// FilterOwner matches records owned by an identity
	FilterOwner FilterField = "owner"

	// FilterTag matches records carrying a tag
	FilterTag FilterField = "tag"

	// FilterIsCanceled matches records by cancellation state
	FilterIsCanceled FilterField = "is_canceled"

	// FilterUpdatedAt matches records last updated inside a window
	FilterUpdatedAt FilterField = "updated_at"

	// FilterCreatedAt matches records created inside a window
	FilterCreatedAt FilterField = "created_at"
)

// Filter is a single predicate. Field selects the predicate kind; only the
// matching value field is consulted. Range-based predicates treat a zero
// EndAt as open-ended (lower bound only).
type Filter struct {
	Field       FilterField `json:"field"`
	Text        string      `json:"text,omitempty"`
	Range       DateRange   `json:"range,omitempty"`
	Owner       string      `json:"owner,omitempty"`
	Identifiers []string    `json:"identifiers,omitempty"`
	Tag         uint32      `json:"tag,omitempty"`
	Canceled    bool        `json:"canceled,omitempty"`
}

// Validate checks if the filter names a known predicate.
func (f Filter) Validate() error {
	switch f.Field {
	case FilterIdentifiers, FilterName, FilterStartDate, FilterEndDate,
		FilterOwner, FilterTag, FilterIsCanceled, FilterUpdatedAt, FilterCreatedAt:
		return nil
	default:
		return fmt.Errorf("unknown filter field: %q", f.Field)
	}
}

// matches evaluates the predicate against a single entry.
func (f Filter) matches(e *Entry) bool {
	switch f.Field {
	case FilterIdentifiers:
		for _, id := range f.Identifiers {
			if id == e.Identifier {
				return true
			}
		}
		return false
	case FilterName:
		return strings.Contains(e.Name, f.Text)
	case FilterStartDate:
		return f.Range.Contains(e.Date.StartAt)
	case FilterEndDate:
		return f.Range.Contains(e.Date.EndAt)
	case FilterOwner:
		return e.Owner == f.Owner
	case FilterTag:
		for _, tag := range e.Tags {
			if tag == f.Tag {
				return true
			}
		}
		return false
	case FilterIsCanceled:
		return e.Canceled.Flag == f.Canceled
	case FilterUpdatedAt:
		return f.Range.Contains(e.UpdatedAt)
	case FilterCreatedAt:
		return f.Range.Contains(e.CreatedAt)
	default:
		return false
	}
}

// ApplyFilters evaluates a filter set over entries. Soft-deleted entries
// are excluded before any predicate runs, in both modes.
//
// And-mode narrows sequentially: each filter keeps only its matches, so an
// empty filter set returns the full non-deleted input. Or-mode lets each
// filter independently select matches into an identifier-keyed union, so
// an empty filter set returns nothing.
func ApplyFilters(entries []*Entry, filters []Filter, filterType FilterType) []*Entry {
	kept := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDeleted {
			kept = append(kept, e)
		}
	}

	switch filterType {
	case FilterTypeOr:
		matched := make(map[string]*Entry)
		order := make([]string, 0)
		for _, f := range filters {
			for _, e := range kept {
				if !f.matches(e) {
					continue
				}
				if _, seen := matched[e.Identifier]; !seen {
					order = append(order, e.Identifier)
				}
				matched[e.Identifier] = e
			}
		}
		result := make([]*Entry, 0, len(matched))
		for _, id := range order {
			result = append(result, matched[id])
		}
		return result

	default: // and
		for _, f := range filters {
			narrowed := make([]*Entry, 0, len(kept))
			for _, e := range kept {
				if f.matches(e) {
					narrowed = append(narrowed, e)
				}
			}
			kept = narrowed
			if len(kept) == 0 {
				break
			}
		}
		return kept
	}
}
