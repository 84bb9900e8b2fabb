package shard

import (
	"context"
	"fmt"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/chunk"
	"github.com/dreyhq/drey/pkg/event"
)

// GetEvent fetches one live event, optionally scoped to a group.
func (e *Engine) GetEvent(ctx context.Context, identifier, group string) (*event.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadScoped(ctx, identifier, group, "GetEvent")
	if err != nil {
		return nil, err
	}
	return record.ToEntry(identifier), nil
}

// GetAccess returns the privacy and owner tuple of one live event, the
// minimum another service needs to run its own visibility checks.
func (e *Engine) GetAccess(ctx context.Context, identifier string) (cluster.AccessResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.load(ctx, identifier, "GetAccess")
	if err != nil {
		return cluster.AccessResponse{}, err
	}
	return cluster.AccessResponse{Privacy: record.Privacy, Owner: record.Owner}, nil
}

// QueryEvents runs the filtered, sorted, paginated read over this shard's
// records.
func (e *Engine) QueryEvents(ctx context.Context, req cluster.EventQueryRequest) (event.Paged[*event.Entry], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.filtered(ctx, req.Filters, req.FilterType, req.Group)
	if err != nil {
		return event.Paged[*event.Entry]{}, err
	}

	if err := req.Sort.Validate(); err != nil {
		return event.Paged[*event.Entry]{}, apierr.BadRequest("INVALID_SORT", err.Error()).At(component, "QueryEvents")
	}
	event.Order(entries, req.Sort)
	return event.Paginate(entries, req.Limit, req.Page), nil
}

// EventCounts reports live (non-deleted) event counts per group.
func (e *Engine) EventCounts(ctx context.Context, groups []string) ([]cluster.GroupCount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.store.All(ctx)
	if err != nil {
		return nil, apierr.Convert(err, "STORE_LIST_FAILED", component, "EventCounts")
	}

	counts := make([]cluster.GroupCount, 0, len(groups))
	for _, group := range groups {
		n := 0
		for _, record := range events {
			if !record.IsDeleted && record.Group == group {
				n++
			}
		}
		counts = append(counts, cluster.GroupCount{Group: group, Count: n})
	}
	return counts, nil
}

// ChunkedData serves one chunk of a filtered result set to the parent.
// The caller must not mutate the shard between chunk 0 and the final
// chunk of one logical read; the serialization is redone per call.
func (e *Engine) ChunkedData(ctx context.Context, caller string, req cluster.ChunkQuery) (cluster.ChunkResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.parentIdentity {
		return cluster.ChunkResponse{}, apierr.Unauthorized("NOT_PARENT",
			fmt.Sprintf("caller %s is not this shard's parent", caller)).At(component, "ChunkedData")
	}

	entries, err := e.filtered(ctx, req.Filters, req.FilterType, nil)
	if err != nil {
		return cluster.ChunkResponse{}, err
	}

	data, rng, err := chunk.Split(entries, req.Chunk, req.MaxBytes)
	if err != nil {
		return cluster.ChunkResponse{}, apierr.Convert(err, "CHUNK_SPLIT_FAILED", component, "ChunkedData")
	}
	return cluster.ChunkResponse{Data: data, Range: rng}, nil
}

// filtered loads entries, applies the optional group scope, then the
// filter set. The store's sequence order is the pre-sort order.
func (e *Engine) filtered(ctx context.Context, filters []event.Filter, filterType event.FilterType, group *string) ([]*event.Entry, error) {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, apierr.BadRequest("INVALID_FILTER", err.Error()).At(component, "QueryEvents")
		}
	}
	if filterType == "" {
		filterType = event.FilterTypeAnd
	}
	if err := filterType.Validate(); err != nil {
		return nil, apierr.BadRequest("INVALID_FILTER", err.Error()).At(component, "QueryEvents")
	}

	entries, err := e.store.Entries(ctx)
	if err != nil {
		return nil, apierr.Convert(err, "STORE_LIST_FAILED", component, "QueryEvents")
	}

	if group != nil {
		scoped := make([]*event.Entry, 0, len(entries))
		for _, entry := range entries {
			if entry.Group == *group {
				scoped = append(scoped, entry)
			}
		}
		entries = scoped
	}

	return event.ApplyFilters(entries, filters, filterType), nil
}
