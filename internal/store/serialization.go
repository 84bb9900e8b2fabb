package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dreyhq/drey/pkg/event"
)

// Serialization helpers for converting between the event model and Redis
// hashes.
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// the date window, tags and per-source attendee counts are JSON-encoded
// into single hash fields. This keeps scalar fields individually readable
// while still round-tripping the nested structures.

// EventToHash converts an Event to a Redis hash format.
func EventToHash(e *event.Event) (map[string]interface{}, error) {
	dateJSON, err := json.Marshal(e.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal date: %w", err)
	}

	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	attendeesJSON, err := json.Marshal(e.AttendeeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attendee counts: %w", err)
	}

	canceledJSON, err := json.Marshal(e.Canceled)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cancel state: %w", err)
	}

	hash := map[string]interface{}{
		"name":           e.Name,
		"description":    e.Description,
		"date":           string(dateJSON),
		"privacy":        string(e.Privacy),
		"group":          e.Group,
		"created_by":     e.CreatedBy,
		"owner":          e.Owner,
		"website":        e.Website,
		"metadata":       e.Metadata,
		"tags":           string(tagsJSON),
		"attendee_count": string(attendeesJSON),
		"canceled":       string(canceledJSON),
		"is_deleted":     strconv.FormatBool(e.IsDeleted),
		"created_at":     e.CreatedAt,
		"updated_at":     e.UpdatedAt,
	}

	return hash, nil
}

// HashToEvent converts a Redis hash back to an Event.
func HashToEvent(hash map[string]string) (*event.Event, error) {
	var date event.DateRange
	if dateJSON := hash["date"]; dateJSON != "" {
		if err := json.Unmarshal([]byte(dateJSON), &date); err != nil {
			return nil, fmt.Errorf("failed to unmarshal date: %w", err)
		}
	}

	var tags []uint32
	if tagsJSON := hash["tags"]; tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if tags == nil {
		tags = []uint32{}
	}

	var attendees map[string]int
	if attendeesJSON := hash["attendee_count"]; attendeesJSON != "" {
		if err := json.Unmarshal([]byte(attendeesJSON), &attendees); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attendee counts: %w", err)
		}
	}
	if attendees == nil {
		attendees = map[string]int{}
	}

	var canceled event.CancelState
	if canceledJSON := hash["canceled"]; canceledJSON != "" {
		if err := json.Unmarshal([]byte(canceledJSON), &canceled); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cancel state: %w", err)
		}
	}

	isDeleted, _ := strconv.ParseBool(hash["is_deleted"])
	createdAt, _ := strconv.ParseInt(hash["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(hash["updated_at"], 10, 64)

	e := &event.Event{
		Name:          hash["name"],
		Description:   hash["description"],
		Date:          date,
		Privacy:       event.Privacy(hash["privacy"]),
		Group:         hash["group"],
		CreatedBy:     hash["created_by"],
		Owner:         hash["owner"],
		Website:       hash["website"],
		Metadata:      hash["metadata"],
		Tags:          tags,
		AttendeeCount: attendees,
		Canceled:      canceled,
		IsDeleted:     isDeleted,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}

	return e, nil
}

// RootToHash converts the shard root record to a Redis hash format.
func RootToHash(r *Root) map[string]interface{} {
	return map[string]interface{}{
		"name":       r.Name,
		"identity":   r.Identity,
		"index":      r.Index,
		"parent":     r.Parent,
		"available":  strconv.FormatBool(r.Available),
		"version":    r.Version,
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
	}
}

// HashToRoot converts a Redis hash back to the shard root record.
func HashToRoot(hash map[string]string) (*Root, error) {
	index, err := strconv.ParseUint(hash["index"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid root index field: %w", err)
	}

	available, _ := strconv.ParseBool(hash["available"])
	version, _ := strconv.ParseInt(hash["version"], 10, 64)
	createdAt, _ := strconv.ParseInt(hash["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(hash["updated_at"], 10, 64)

	return &Root{
		Name:      hash["name"],
		Identity:  hash["identity"],
		Index:     index,
		Parent:    hash["parent"],
		Available: available,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
