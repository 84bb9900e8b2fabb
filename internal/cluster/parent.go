package cluster

import (
	"context"
	"fmt"

	"github.com/dreyhq/drey/pkg/event"
)

// ParentClient is a shard's (or the CLI's) view of the orchestrator.
type ParentClient struct {
	addr   string
	caller string
}

// NewParentClient builds a client for the orchestrator at addr, asserting
// the given caller identity on every call.
func NewParentClient(addr, caller string) *ParentClient {
	return &ParentClient{addr: addr, caller: caller}
}

// Addr returns the orchestrator base address.
func (c *ParentClient) Addr() string {
	return c.addr
}

// Shards lists every registered shard.
func (c *ParentClient) Shards(ctx context.Context) ([]ShardInfo, error) {
	var shards []ShardInfo
	if err := GetJSON(ctx, fmt.Sprintf("%s/shards", c.addr), c.caller, &shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// AvailableShard resolves the current write target, excluding the caller.
func (c *ParentClient) AvailableShard(ctx context.Context) (ShardInfo, error) {
	var shard ShardInfo
	if err := GetJSON(ctx, fmt.Sprintf("%s/shards/available", c.addr), c.caller, &shard); err != nil {
		return ShardInfo{}, err
	}
	return shard, nil
}

// Reshard asks the orchestrator to close the calling shard, spawn a
// sibling and land the pending record there.
func (c *ParentClient) Reshard(ctx context.Context, req ReshardRequest) (ReshardResponse, error) {
	var resp ReshardResponse
	if err := PostJSON(ctx, fmt.Sprintf("%s/reshard", c.addr), c.caller, req, &resp); err != nil {
		return ReshardResponse{}, err
	}
	return resp, nil
}

// ArtifactVersion reports the orchestrator's held artifact version.
func (c *ParentClient) ArtifactVersion(ctx context.Context) (ArtifactVersionResponse, error) {
	var resp ArtifactVersionResponse
	if err := GetJSON(ctx, fmt.Sprintf("%s/artifact/version", c.addr), c.caller, &resp); err != nil {
		return ArtifactVersionResponse{}, err
	}
	return resp, nil
}

// PushArtifact replaces the orchestrator's held code artifact.
func (c *ParentClient) PushArtifact(ctx context.Context, req ArtifactRequest) error {
	return PostJSON(ctx, fmt.Sprintf("%s/artifact", c.addr), c.caller, req, nil)
}

// UpgradeAll asks the orchestrator to upgrade every outdated shard.
func (c *ParentClient) UpgradeAll(ctx context.Context) (UpgradeResponse, error) {
	var resp UpgradeResponse
	if err := PostJSON(ctx, fmt.Sprintf("%s/upgrade", c.addr), c.caller, struct{}{}, &resp); err != nil {
		return UpgradeResponse{}, err
	}
	return resp, nil
}

// QueryEvents runs a cross-shard aggregated read.
func (c *ParentClient) QueryEvents(ctx context.Context, req EventQueryRequest) (event.Paged[*event.Entry], error) {
	var resp event.Paged[*event.Entry]
	if err := PostJSON(ctx, fmt.Sprintf("%s/events/query", c.addr), c.caller, req, &resp); err != nil {
		return event.Paged[*event.Entry]{}, err
	}
	return resp, nil
}

// Health checks the orchestrator's liveness.
func (c *ParentClient) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	if err := GetJSON(ctx, fmt.Sprintf("%s/healthz", c.addr), c.caller, &resp); err != nil {
		return HealthResponse{}, err
	}
	return resp, nil
}
