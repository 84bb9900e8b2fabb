package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/internal/backup"
	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/registry"
	"github.com/dreyhq/drey/internal/roles"
	"github.com/dreyhq/drey/internal/shard"
	"github.com/dreyhq/drey/internal/store"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/event"
)

type allowAll struct{}

func (allowAll) Check(ctx context.Context, caller, group string, action roles.Action) error {
	return nil
}

type nopRegistrar struct{}

func (nopRegistrar) Register(ctx context.Context, source cluster.AttendeeSource, identifier, owner string) error {
	return nil
}

// gatedParent fronts the orchestrator as a shard's parent and parks the
// handoff until released, holding the saga mid-flight.
type gatedParent struct {
	engine  *Engine
	caller  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedParent) Reshard(ctx context.Context, req cluster.ReshardRequest) (cluster.ReshardResponse, error) {
	close(g.entered)
	<-g.release
	return g.engine.Reshard(ctx, g.caller, req)
}

// liveShardCaller routes the orchestrator's calls to an in-process
// shard engine.
type liveShardCaller struct {
	engine *shard.Engine
	parent string
}

func (c *liveShardCaller) AddEntryByParent(ctx context.Context, req cluster.AddEntryRequest) (string, error) {
	return c.engine.AddEntryByParent(ctx, c.parent, req)
}

func (c *liveShardCaller) Install(ctx context.Context, req cluster.InstallRequest) error {
	return c.engine.Install(ctx, c.parent, req)
}

func (c *liveShardCaller) ChunkedData(ctx context.Context, req cluster.ChunkQuery) (cluster.ChunkResponse, error) {
	return c.engine.ChunkedData(ctx, c.parent, req)
}

// A full shard's handoff and the orchestrator's aggregated read cross
// in flight. The read pulls chunked data from the very shard that is
// resharding; both must complete.
func TestReshardDuringAggregatedRead(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	ctx := context.Background()

	reg, err := registry.New(&redis.Options{Addr: mr.Addr()}, "race-registry")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	admin := uuid.New().String()
	orchIdentity := uuid.New().String()
	shardIdentity := uuid.New().String()
	shardAddr := "http://drey-shard-live:8090"

	s, err := store.New(&redis.Options{Addr: mr.Addr()}, "race-shard", shardIdentity, 1)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.InitRoot(ctx, &store.Root{
		Name:      "race-shard",
		Identity:  shardIdentity,
		Parent:    orchIdentity,
		Available: true,
	})
	require.NoError(t, err)

	gate := &gatedParent{
		caller:  shardIdentity,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	shardEng := shard.NewEngine(s, allowAll{}, gate, orchIdentity, nopRegistrar{},
		backup.NewManager(s, 1024), []string{admin}, "race-shard")

	siblings := newFleet()
	orch := NewEngine(reg, &fakeProvisioner{}, func(addr string) ShardCaller {
		if addr == shardAddr {
			return &liveShardCaller{engine: shardEng, parent: orchIdentity}
		}
		return siblings.at(addr)
	}, Options{
		Identity:     orchIdentity,
		InstanceName: "race-orch",
		Admins:       []string{admin},
		ShardImage:   "drey-shard:test",
		OwnAddr:      "http://orchestrator:8080",
	})
	gate.engine = orch

	require.NoError(t, orch.ReplaceArtifact(ctx, admin, cluster.ArtifactRequest{
		Label: "shard", Bytes: []byte("artifact-v1"), Version: 1,
	}))
	require.NoError(t, reg.Register(ctx, &registry.ShardDetails{
		Identity: shardIdentity, Addr: shardAddr, Index: 0,
		Kind: cluster.ShardHolding, Available: true, Version: 1, RangeStart: 1,
	}))
	siblings.at("http://drey-shard-1:8090").identifier = "evt.sibling.1"

	group := uuid.New().String()
	caller := uuid.New().String()
	addRequest := func(name string) cluster.AddEventRequest {
		return cluster.AddEventRequest{
			Group: group,
			Event: event.PostEvent{
				Name:        name,
				Description: "a racing event",
				Date:        event.DateRange{StartAt: 100, EndAt: 200},
				Privacy:     event.PrivacyPublic,
			},
			AttendeeSource: cluster.AttendeeSource{Identity: uuid.New().String(), Addr: "http://attendees:9000"},
		}
	}

	// The shard holds one record at capacity one; the next add overflows.
	_, err = shardEng.AddEvent(ctx, caller, addRequest("seeded event"))
	require.NoError(t, err)

	overflowDone := make(chan error, 1)
	go func() {
		_, err := shardEng.AddEvent(ctx, caller, addRequest("overflow event"))
		overflowDone <- err
	}()

	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("overflow write never reached the parent")
	}

	// The saga is parked at the parent hop. The aggregated read must
	// still complete against the closing shard.
	type queryResult struct {
		page event.Paged[*event.Entry]
		err  error
	}
	queried := make(chan queryResult, 1)
	go func() {
		page, err := orch.QueryEvents(ctx, cluster.EventQueryRequest{
			Sort:  event.Sort{Field: event.SortCreatedAt, Direction: event.SortAsc},
			Limit: 10,
		})
		queried <- queryResult{page: page, err: err}
	}()

	select {
	case res := <-queried:
		require.NoError(t, res.err)
		require.Len(t, res.page.Data, 1)
		assert.Equal(t, "seeded event", res.page.Data[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregated read wedged behind the in-flight reshard")
	}

	close(gate.release)
	select {
	case err := <-overflowDone:
		assert.True(t, apierr.Is(err, apierr.KindAtCapacity))
	case <-time.After(2 * time.Second):
		t.Fatal("overflow write never returned")
	}

	// The saga completed: the record landed on the sibling and both
	// sides closed the full shard.
	require.Len(t, siblings.at("http://drey-shard-1:8090").forwarded, 1)

	root, err := s.Root(ctx)
	require.NoError(t, err)
	assert.False(t, root.Available)

	closed, err := reg.Get(ctx, shardIdentity)
	require.NoError(t, err)
	assert.False(t, closed.Available)
	require.NotNil(t, closed.RangeEnd)
	assert.Equal(t, uint64(1), *closed.RangeEnd)
}
