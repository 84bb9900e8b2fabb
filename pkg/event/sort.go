package event

import (
	"fmt"
	"sort"
)

// SortDirection orders ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Validate checks if the SortDirection is a valid enum value.
func (d SortDirection) Validate() error {
	switch d {
	case SortAsc, SortDesc:
		return nil
	default:
		return fmt.Errorf("unknown sort direction: %q", d)
	}
}

// SortField names the key an ordered read sorts by.
type SortField string

const (
	SortCreatedAt     SortField = "created_at"
	SortUpdatedAt     SortField = "updated_at"
	SortStartDate     SortField = "start_date"
	SortEndDate       SortField = "end_date"
	SortAttendeeCount SortField = "attendee_count"
)

// Validate checks if the SortField is a valid enum value.
func (f SortField) Validate() error {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortStartDate, SortEndDate, SortAttendeeCount:
		return nil
	default:
		return fmt.Errorf("unknown sort field: %q", f)
	}
}

// Sort combines a key and a direction.
type Sort struct {
	Field     SortField     `json:"field"`
	Direction SortDirection `json:"direction"`
}

// Validate checks both components of the sort.
func (s Sort) Validate() error {
	if err := s.Field.Validate(); err != nil {
		return err
	}
	return s.Direction.Validate()
}

// key extracts the comparable value for an entry.
func (s Sort) key(e *Entry) int64 {
	switch s.Field {
	case SortUpdatedAt:
		return e.UpdatedAt
	case SortStartDate:
		return e.Date.StartAt
	case SortEndDate:
		return e.Date.EndAt
	case SortAttendeeCount:
		return int64(e.AttendeeCount)
	default:
		return e.CreatedAt
	}
}

// Order sorts entries in place with a stable sort (ties keep input order)
// and returns the slice for chaining.
func Order(entries []*Entry, s Sort) []*Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := s.key(entries[i]), s.key(entries[j])
		if s.Direction == SortDesc {
			return a > b
		}
		return a < b
	})
	return entries
}
