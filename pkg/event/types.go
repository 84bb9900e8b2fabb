// Package event provides the shared event model for the drey cluster:
// the record type held by every shard, the input/output shapes exchanged
// over the wire, and the filter, sort and pagination engine applied to
// filtered reads. The package has no knowledge of sharding; the shard and
// orchestrator processes both build on it.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Privacy controls who can discover an event.
type Privacy string

const (
	// PrivacyPublic events are visible to everyone
	PrivacyPublic Privacy = "public"

	// PrivacyPrivate events are visible to group members only
	PrivacyPrivate Privacy = "private"

	// PrivacyInviteOnly events are visible to invited identities only
	PrivacyInviteOnly Privacy = "invite_only"
)

// Validate checks if the Privacy is a valid enum value.
func (p Privacy) Validate() error {
	switch p {
	case PrivacyPublic, PrivacyPrivate, PrivacyInviteOnly:
		return nil
	default:
		return fmt.Errorf("unknown privacy mode: %q", p)
	}
}

// DateRange is a start/end window in unix nanoseconds. An EndAt of zero
// means the range is open-ended (lower bound only); every range filter in
// this package honors that convention.
type DateRange struct {
	StartAt int64 `json:"start_at"`
	EndAt   int64 `json:"end_at"`
}

// Contains reports whether v falls inside the range, treating a zero EndAt
// as open-ended.
func (r DateRange) Contains(v int64) bool {
	if r.EndAt > 0 {
		return v >= r.StartAt && v <= r.EndAt
	}
	return v >= r.StartAt
}

// CancelState is the soft-cancellation flag with its reason.
type CancelState struct {
	Flag   bool   `json:"flag"`
	Reason string `json:"reason"`
}

// Event is the record stored within a shard. Identity is immutable once
// created; mutation happens in place through edit/cancel/delete calls.
// Delete and cancel are soft - they flip a flag, never remove the row.
type Event struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Date        DateRange `json:"date"`
	Privacy     Privacy   `json:"privacy"`

	// Group is the identity of the owning group; reads can be scoped to
	// it and a scope mismatch reads as NotFound.
	Group     string `json:"group"`
	CreatedBy string `json:"created_by"`
	Owner     string `json:"owner"`

	Website  string   `json:"website"`
	Metadata string   `json:"metadata,omitempty"`
	Tags     []uint32 `json:"tags"`

	// AttendeeCount tracks participation per counting source, keyed by
	// the source's identity. Displayed values sum across sources.
	AttendeeCount map[string]int `json:"attendee_count"`

	Canceled  CancelState `json:"canceled"`
	IsDeleted bool        `json:"is_deleted"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// PostEvent is the input shape for creating an event.
type PostEvent struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Date        DateRange `json:"date"`
	Privacy     Privacy   `json:"privacy"`
	Website     string    `json:"website"`
	Owner       string    `json:"owner"`
	Metadata    string    `json:"metadata,omitempty"`
	Tags        []uint32  `json:"tags"`
}

// UpdateEvent is the input shape for editing an event. Every field is
// overwritten; there is no partial patch.
type UpdateEvent struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Date        DateRange `json:"date"`
	Privacy     Privacy   `json:"privacy"`
	Website     string    `json:"website"`
	Owner       string    `json:"owner"`
	Metadata    string    `json:"metadata,omitempty"`
	Tags        []uint32  `json:"tags"`
}

// Entry is the read shape returned by every query path. The per-source
// attendee counts are summed into a single display value.
type Entry struct {
	Identifier    string      `json:"identifier"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Date          DateRange   `json:"date"`
	Privacy       Privacy     `json:"privacy"`
	Group         string      `json:"group"`
	CreatedBy     string      `json:"created_by"`
	Owner         string      `json:"owner"`
	Website       string      `json:"website"`
	Metadata      string      `json:"metadata,omitempty"`
	Tags          []uint32    `json:"tags"`
	AttendeeCount int         `json:"attendee_count"`
	Canceled      CancelState `json:"canceled"`
	IsDeleted     bool        `json:"is_deleted"`
	CreatedAt     int64       `json:"created_at"`
	UpdatedAt     int64       `json:"updated_at"`
}

// ToEntry maps a stored event to its read shape under the given identifier.
func (e *Event) ToEntry(identifier string) *Entry {
	total := 0
	for _, n := range e.AttendeeCount {
		total += n
	}

	tags := e.Tags
	if tags == nil {
		tags = []uint32{}
	}

	return &Entry{
		Identifier:    identifier,
		Name:          e.Name,
		Description:   e.Description,
		Date:          e.Date,
		Privacy:       e.Privacy,
		Group:         e.Group,
		CreatedBy:     e.CreatedBy,
		Owner:         e.Owner,
		Website:       e.Website,
		Metadata:      e.Metadata,
		Tags:          tags,
		AttendeeCount: total,
		Canceled:      e.Canceled,
		IsDeleted:     e.IsDeleted,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// Validate checks the structural fields of a stored event. Length bounds
// are enforced separately at the write entry points.
func (e *Event) Validate() error {
	if err := e.Privacy.Validate(); err != nil {
		return fmt.Errorf("invalid privacy: %w", err)
	}
	if !isValidIdentity(e.Group) {
		return fmt.Errorf("invalid group identity: %q", e.Group)
	}
	if !isValidIdentity(e.Owner) {
		return fmt.Errorf("invalid owner identity: %q", e.Owner)
	}
	if !isValidIdentity(e.CreatedBy) {
		return fmt.Errorf("invalid creator identity: %q", e.CreatedBy)
	}
	return nil
}

// isValidIdentity checks if a string is a valid UUID-format identity.
func isValidIdentity(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
