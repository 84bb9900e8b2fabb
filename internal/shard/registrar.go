package shard

import (
	"context"
	"fmt"

	"github.com/dreyhq/drey/internal/cluster"
)

// HTTPRegistrar registers event owners with their attendee-counting
// source over JSON HTTP. The source's address arrives with each add/edit
// request, so a single registrar serves every source.
type HTTPRegistrar struct {
	caller string
}

// NewHTTPRegistrar builds a registrar asserting the shard's identity.
func NewHTTPRegistrar(caller string) *HTTPRegistrar {
	return &HTTPRegistrar{caller: caller}
}

type registerAttendeeRequest struct {
	Identifier string `json:"identifier"`
	Owner      string `json:"owner"`
}

// Register records the owner as the first attendee of the event at the
// counting source.
func (r *HTTPRegistrar) Register(ctx context.Context, source cluster.AttendeeSource, identifier, owner string) error {
	if source.Addr == "" {
		return fmt.Errorf("attendee source %s has no address", source.Identity)
	}
	return cluster.PostJSON(ctx, fmt.Sprintf("%s/attendees", source.Addr), r.caller,
		registerAttendeeRequest{Identifier: identifier, Owner: owner}, nil)
}
