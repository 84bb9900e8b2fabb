package cluster

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dreyhq/drey/pkg/event"
)

// ShardClient is the orchestrator's (or the CLI's) view of one shard.
type ShardClient struct {
	addr   string
	caller string
}

// NewShardClient builds a client for the shard at addr, asserting the
// given caller identity on every call.
func NewShardClient(addr, caller string) *ShardClient {
	return &ShardClient{addr: addr, caller: caller}
}

// Addr returns the shard base address.
func (c *ShardClient) Addr() string {
	return c.addr
}

// AddEvent creates an event on the shard.
func (c *ShardClient) AddEvent(ctx context.Context, req AddEventRequest) (*event.Entry, error) {
	var entry event.Entry
	if err := PostJSON(ctx, fmt.Sprintf("%s/events", c.addr), c.caller, req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEvent fetches one event, optionally scoped to a group.
func (c *ShardClient) GetEvent(ctx context.Context, identifier, group string) (*event.Entry, error) {
	u := fmt.Sprintf("%s/events/%s", c.addr, url.PathEscape(identifier))
	if group != "" {
		u += "?group=" + url.QueryEscape(group)
	}
	var entry event.Entry
	if err := GetJSON(ctx, u, c.caller, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// QueryEvents runs a filtered, sorted, paginated read on the shard.
func (c *ShardClient) QueryEvents(ctx context.Context, req EventQueryRequest) (event.Paged[*event.Entry], error) {
	var resp event.Paged[*event.Entry]
	if err := PostJSON(ctx, fmt.Sprintf("%s/events/query", c.addr), c.caller, req, &resp); err != nil {
		return event.Paged[*event.Entry]{}, err
	}
	return resp, nil
}

// EventCounts fetches per-group live event counts.
func (c *ShardClient) EventCounts(ctx context.Context, groups []string) ([]GroupCount, error) {
	var counts []GroupCount
	if err := PostJSON(ctx, fmt.Sprintf("%s/events/counts", c.addr), c.caller, CountRequest{Groups: groups}, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// ChunkedData fetches one chunk of a filtered result set. Parent-only on
// the shard side.
func (c *ShardClient) ChunkedData(ctx context.Context, req ChunkQuery) (ChunkResponse, error) {
	var resp ChunkResponse
	if err := PostJSON(ctx, fmt.Sprintf("%s/chunks/query", c.addr), c.caller, req, &resp); err != nil {
		return ChunkResponse{}, err
	}
	return resp, nil
}

// AddEntryByParent lands a forwarded serialized record on the shard.
// Parent-only on the shard side.
func (c *ShardClient) AddEntryByParent(ctx context.Context, req AddEntryRequest) (string, error) {
	var resp AddEntryResponse
	if err := PostJSON(ctx, fmt.Sprintf("%s/entries", c.addr), c.caller, req, &resp); err != nil {
		return "", err
	}
	return resp.Identifier, nil
}

// Entries fetches the raw entry dump, soft-deleted rows included.
// Admin-only on the shard side.
func (c *ShardClient) Entries(ctx context.Context) ([]*event.Entry, error) {
	var entries []*event.Entry
	if err := GetJSON(ctx, fmt.Sprintf("%s/entries", c.addr), c.caller, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Install delivers a code artifact to the shard. Parent-only.
func (c *ShardClient) Install(ctx context.Context, req InstallRequest) error {
	return PostJSON(ctx, fmt.Sprintf("%s/install", c.addr), c.caller, req, nil)
}

// Health checks the shard's liveness.
func (c *ShardClient) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	if err := GetJSON(ctx, fmt.Sprintf("%s/healthz", c.addr), c.caller, &resp); err != nil {
		return HealthResponse{}, err
	}
	return resp, nil
}
