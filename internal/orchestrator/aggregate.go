package orchestrator

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/registry"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/chunk"
	"github.com/dreyhq/drey/pkg/event"
)

// QueryEvents runs the cross-shard aggregated read: every Holding shard
// is asked for its filtered entries through the chunk codec, the partial
// sets are merged, and sort and pagination run once over the merged set.
// A shard that fails mid-fetch is logged and skipped; partial answers
// beat no answer for a read path. The registry is snapshotted under the
// lock and the fetches run without it; a shard hitting capacity mid-read
// must be able to start its reshard while its chunks are still being
// pulled.
func (e *Engine) QueryEvents(ctx context.Context, req cluster.EventQueryRequest) (event.Paged[*event.Entry], error) {
	if err := req.Sort.Validate(); err != nil {
		return event.Paged[*event.Entry]{}, apierr.BadRequest("INVALID_SORT", err.Error()).At(component, "QueryEvents")
	}

	e.mu.Lock()
	details, err := e.registry.All(ctx)
	e.mu.Unlock()
	if err != nil {
		return event.Paged[*event.Entry]{}, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "QueryEvents")
	}

	var (
		mu     sync.Mutex
		merged []*event.Entry
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range details {
		if d.Kind != cluster.ShardHolding {
			continue
		}
		d := d
		g.Go(func() error {
			entries, err := e.fetchShardEntries(gctx, d, req)
			if err != nil {
				log.Printf("[Orchestrator] Skipping shard %s in aggregation: %v", d.Identity, err)
				return nil
			}
			mu.Lock()
			merged = append(merged, entries...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return event.Paged[*event.Entry]{}, apierr.Convert(err, "AGGREGATION_FAILED", component, "QueryEvents")
	}

	if req.Group != nil {
		scoped := make([]*event.Entry, 0, len(merged))
		for _, entry := range merged {
			if entry.Group == *req.Group {
				scoped = append(scoped, entry)
			}
		}
		merged = scoped
	}

	event.Order(merged, req.Sort)
	return event.Paginate(merged, req.Limit, req.Page), nil
}

// fetchShardEntries pulls one shard's filtered entries: chunk 0 first to
// learn the last index, then the remaining chunks in order, one join at
// the end. The shard must not be mutated between the first and last
// fetch of this logical read.
func (e *Engine) fetchShardEntries(ctx context.Context, d *registry.ShardDetails, req cluster.EventQueryRequest) ([]*event.Entry, error) {
	caller := e.shards(d.Addr)

	query := cluster.ChunkQuery{
		Filters:    req.Filters,
		FilterType: req.FilterType,
		Chunk:      0,
		MaxBytes:   e.opts.ChunkMaxBytes,
	}
	first, err := caller.ChunkedData(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks := [][]byte{first.Data}
	for i := 1; i <= first.Range.Last; i++ {
		query.Chunk = i
		next, err := caller.ChunkedData(ctx, query)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, next.Data)
	}

	var entries []*event.Entry
	if err := chunk.Join(chunks, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
