package cluster

import (
	"encoding/json"

	"github.com/dreyhq/drey/pkg/chunk"
	"github.com/dreyhq/drey/pkg/event"
)

// ShardKind distinguishes a provisioned-but-empty shard from one holding
// installed code.
type ShardKind string

const (
	ShardEmpty   ShardKind = "empty"
	ShardHolding ShardKind = "holding"
)

// ShardInfo is the wire shape of one registry entry.
type ShardInfo struct {
	Identity  string    `json:"identity"`
	Addr      string    `json:"addr"`
	Kind      ShardKind `json:"kind"`
	Available bool      `json:"available"`
	Version   int64     `json:"version"`

	// RangeStart and RangeEnd bound the sequence numbers this shard holds.
	// RangeEnd nil means the range is still open (the shard is the current
	// write target).
	RangeStart uint64  `json:"range_start"`
	RangeEnd   *uint64 `json:"range_end,omitempty"`
}

// AttendeeSource identifies the participation-tracking process an event's
// owner is registered with after a successful add.
type AttendeeSource struct {
	Identity string `json:"identity"`
	Addr     string `json:"addr"`
}

// AddEventRequest creates an event in the owning group.
type AddEventRequest struct {
	Group          string          `json:"group"`
	Event          event.PostEvent `json:"event"`
	AttendeeSource AttendeeSource  `json:"attendee_source"`
}

// EditEventRequest overwrites an event's mutable fields.
type EditEventRequest struct {
	Group          string            `json:"group"`
	Event          event.UpdateEvent `json:"event"`
	AttendeeSource AttendeeSource    `json:"attendee_source"`
}

// CancelEventRequest soft-cancels an event with a reason.
type CancelEventRequest struct {
	Group  string `json:"group"`
	Reason string `json:"reason"`
}

// DeleteEventRequest soft-deletes an event.
type DeleteEventRequest struct {
	Group string `json:"group"`
}

// AttendeeCountRequest replaces one counting source's attendee count.
// The caller identity must equal Source.
type AttendeeCountRequest struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// EventQueryRequest is the filtered, sorted, paginated read. Group, when
// set, scopes the result to one owning group.
type EventQueryRequest struct {
	Filters    []event.Filter   `json:"filters"`
	FilterType event.FilterType `json:"filter_type"`
	Sort       event.Sort       `json:"sort"`
	Limit      int              `json:"limit"`
	Page       int              `json:"page"`
	Group      *string          `json:"group,omitempty"`
}

// GroupCount pairs a group identity with its live event count.
type GroupCount struct {
	Group string `json:"group"`
	Count int    `json:"count"`
}

// CountRequest asks for live event counts per group.
type CountRequest struct {
	Groups []string `json:"groups"`
}

// AccessResponse is the privacy and owner tuple of one event.
type AccessResponse struct {
	Privacy event.Privacy `json:"privacy"`
	Owner   string        `json:"owner"`
}

// ChunkQuery fetches one chunk of a filtered result set.
type ChunkQuery struct {
	Filters    []event.Filter   `json:"filters"`
	FilterType event.FilterType `json:"filter_type"`
	Chunk      int              `json:"chunk"`
	MaxBytes   int              `json:"max_bytes"`
}

// ChunkResponse carries one chunk and its position in the logical read.
type ChunkResponse struct {
	Data  []byte      `json:"data"`
	Range chunk.Range `json:"range"`
}

// AddEntryRequest forwards a serialized record to a shard. Kind is the
// identifier kind tag the receiving shard must accept.
type AddEntryRequest struct {
	Kind  string          `json:"kind"`
	Entry json.RawMessage `json:"entry"`
}

// AddEntryResponse returns the identifier the receiving shard minted.
type AddEntryResponse struct {
	Identifier string `json:"identifier"`
}

// ReshardRequest is the full-shard's plea to its parent: close me, spawn a
// sibling, and land this pending record there. LastSequence is the highest
// sequence the closing shard holds, fixing its range end.
type ReshardRequest struct {
	LastSequence uint64          `json:"last_sequence"`
	Kind         string          `json:"kind"`
	Entry        json.RawMessage `json:"entry"`
}

// ReshardResponse reports where the forwarded record landed.
type ReshardResponse struct {
	Shard      ShardInfo `json:"shard"`
	Identifier string    `json:"identifier"`
}

// InstallMode distinguishes a first install from an upgrade.
type InstallMode string

const (
	InstallModeInstall InstallMode = "install"
	InstallModeUpgrade InstallMode = "upgrade"
)

// InstallRequest delivers a code artifact to a shard.
type InstallRequest struct {
	Bytes   []byte      `json:"bytes"`
	Version int64       `json:"version"`
	Mode    InstallMode `json:"mode"`
}

// ArtifactRequest replaces the orchestrator's held code artifact.
type ArtifactRequest struct {
	Label   string `json:"label"`
	Bytes   []byte `json:"bytes"`
	Version int64  `json:"version"`
}

// ArtifactVersionResponse reports the held artifact's version, with Held
// false when no artifact has ever been pushed.
type ArtifactVersionResponse struct {
	Held    bool   `json:"held"`
	Label   string `json:"label"`
	Version int64  `json:"version"`
}

// UpgradeResponse summarizes an upgrade-all sweep.
type UpgradeResponse struct {
	Upgraded []string `json:"upgraded"`
	Failed   []string `json:"failed"`
	Skipped  []string `json:"skipped"`
}

// HealthResponse reports a process's liveness and storage connectivity.
type HealthResponse struct {
	Status   string `json:"status"`
	Identity string `json:"identity"`
	Redis    string `json:"redis"`
}
