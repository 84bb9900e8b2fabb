package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/internal/backup"
	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/roles"
	"github.com/dreyhq/drey/internal/store"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/chunk"
	"github.com/dreyhq/drey/pkg/event"
)

type fakeChecker struct {
	err     error
	actions []roles.Action
}

func (f *fakeChecker) Check(ctx context.Context, caller, group string, action roles.Action) error {
	f.actions = append(f.actions, action)
	return f.err
}

type fakeParent struct {
	resp     cluster.ReshardResponse
	err      error
	requests []cluster.ReshardRequest
}

func (f *fakeParent) Reshard(ctx context.Context, req cluster.ReshardRequest) (cluster.ReshardResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

type registration struct {
	identifier string
	owner      string
}

type fakeRegistrar struct {
	err           error
	registrations []registration
}

func (f *fakeRegistrar) Register(ctx context.Context, source cluster.AttendeeSource, identifier, owner string) error {
	f.registrations = append(f.registrations, registration{identifier: identifier, owner: owner})
	return f.err
}

type harness struct {
	engine    *Engine
	store     *store.Store
	checker   *fakeChecker
	parent    *fakeParent
	registrar *fakeRegistrar
	identity  string
	parentID  string
	admin     string
	caller    string
	group     string
	source    cluster.AttendeeSource
}

// setupTestEngine wires a shard engine over a miniredis store with fakes
// for the parent, the role checker and the attendee registrar.
func setupTestEngine(t *testing.T, capacity int64) *harness {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	identity := uuid.New().String()
	s, err := store.New(&redis.Options{Addr: mr.Addr()}, "test-instance", identity, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	parentID := uuid.New().String()
	_, err = s.InitRoot(context.Background(), &store.Root{
		Name:      "test-shard",
		Identity:  identity,
		Parent:    parentID,
		Available: true,
	})
	require.NoError(t, err)

	h := &harness{
		store:     s,
		checker:   &fakeChecker{},
		parent:    &fakeParent{},
		registrar: &fakeRegistrar{},
		identity:  identity,
		parentID:  parentID,
		admin:     uuid.New().String(),
		caller:    uuid.New().String(),
		group:     uuid.New().String(),
		source:    cluster.AttendeeSource{Identity: uuid.New().String(), Addr: "http://attendees:9000"},
	}
	h.engine = NewEngine(s, h.checker, h.parent, parentID, h.registrar,
		backup.NewManager(s, 1024), []string{h.admin}, "test-instance")
	return h
}

func (h *harness) addRequest(name string) cluster.AddEventRequest {
	return cluster.AddEventRequest{
		Group: h.group,
		Event: event.PostEvent{
			Name:        name,
			Description: "a test event",
			Date:        event.DateRange{StartAt: 100, EndAt: 200},
			Privacy:     event.PrivacyPublic,
			Tags:        []uint32{7},
		},
		AttendeeSource: h.source,
	}
}

func TestAddEvent(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("evt.%s.1", h.identity), entry.Identifier)
	assert.Equal(t, "launch party", entry.Name)
	// Owner defaults to the caller when the request leaves it empty.
	assert.Equal(t, h.caller, entry.Owner)
	assert.Equal(t, h.caller, entry.CreatedBy)
	// The counting source starts the event at one attendee, the owner.
	assert.Equal(t, 1, entry.AttendeeCount)

	require.Len(t, h.registrar.registrations, 1)
	assert.Equal(t, entry.Identifier, h.registrar.registrations[0].identifier)
	assert.Equal(t, h.caller, h.registrar.registrations[0].owner)
	assert.Equal(t, []roles.Action{roles.ActionWrite}, h.checker.actions)
}

func TestAddEventRoleDenied(t *testing.T) {
	h := setupTestEngine(t, 100)
	h.checker.err = apierr.Unauthorized("NO_PERMISSION", "nope")

	_, err := h.engine.AddEvent(context.Background(), h.caller, h.addRequest("launch party"))
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))
}

func TestAddEventValidatesFieldLengths(t *testing.T) {
	h := setupTestEngine(t, 100)

	req := h.addRequest("ab")
	_, err := h.engine.AddEvent(context.Background(), h.caller, req)
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddEventRegistrarFailureRollsBack(t *testing.T) {
	h := setupTestEngine(t, 100)
	h.registrar.err = errors.New("attendee service down")
	ctx := context.Background()

	_, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.True(t, apierr.Is(err, apierr.KindUnauthorized))

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ATTENDEE_ADD_FAILED", apiErr.Tag)

	// The stored record must not outlive the failed registration.
	count, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddEventAtCapacityResharding(t *testing.T) {
	h := setupTestEngine(t, 1)
	ctx := context.Background()

	sibling := uuid.New().String()
	h.parent.resp = cluster.ReshardResponse{
		Shard:      cluster.ShardInfo{Identity: sibling, Kind: cluster.ShardHolding},
		Identifier: fmt.Sprintf("evt.%s.1", sibling),
	}

	_, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("first event"))
	require.NoError(t, err)

	// The second add overflows: the record travels to the parent and the
	// caller still sees AtCapacity.
	_, err = h.engine.AddEvent(ctx, h.caller, h.addRequest("overflow event"))
	assert.True(t, apierr.Is(err, apierr.KindAtCapacity))

	require.Len(t, h.parent.requests, 1)
	req := h.parent.requests[0]
	assert.Equal(t, uint64(1), req.LastSequence)
	assert.Equal(t, event.KindEvent, req.Kind)

	var forwarded event.Event
	require.NoError(t, json.Unmarshal(req.Entry, &forwarded))
	assert.Equal(t, "overflow event", forwarded.Name)
	assert.Equal(t, h.group, forwarded.Group)

	// The shard closed its own root after the handoff.
	root, err := h.store.Root(ctx)
	require.NoError(t, err)
	assert.False(t, root.Available)
}

func TestAddEventReshardFailure(t *testing.T) {
	h := setupTestEngine(t, 1)
	h.parent.err = errors.New("no available shard")
	ctx := context.Background()

	_, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("first event"))
	require.NoError(t, err)

	_, err = h.engine.AddEvent(ctx, h.caller, h.addRequest("overflow event"))
	require.Error(t, err)

	// A failed handoff leaves the shard open.
	root, err := h.store.Root(ctx)
	require.NoError(t, err)
	assert.True(t, root.Available)
}

// chunkPullingParent mirrors the production parent, which reads the
// closing shard's chunked data while the handoff request is in flight.
type chunkPullingParent struct {
	engine   *Engine
	parentID string
	resp     cluster.ReshardResponse
	pulled   []*event.Entry
}

func (p *chunkPullingParent) Reshard(ctx context.Context, req cluster.ReshardRequest) (cluster.ReshardResponse, error) {
	chunkResp, err := p.engine.ChunkedData(ctx, p.parentID, cluster.ChunkQuery{MaxBytes: 1 << 20})
	if err != nil {
		return cluster.ReshardResponse{}, err
	}
	if err := chunk.Join([][]byte{chunkResp.Data}, &p.pulled); err != nil {
		return cluster.ReshardResponse{}, err
	}
	return p.resp, nil
}

func TestReshardHandoffAllowsConcurrentReads(t *testing.T) {
	h := setupTestEngine(t, 1)
	ctx := context.Background()

	sibling := uuid.New().String()
	parent := &chunkPullingParent{
		engine:   h.engine,
		parentID: h.parentID,
		resp: cluster.ReshardResponse{
			Shard:      cluster.ShardInfo{Identity: sibling, Kind: cluster.ShardHolding},
			Identifier: fmt.Sprintf("evt.%s.1", sibling),
		},
	}
	h.engine.parent = parent

	first, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("first event"))
	require.NoError(t, err)

	// The parent reads this shard mid-saga; the handoff completes only
	// when the engine is not holding its lock across the parent call.
	_, err = h.engine.AddEvent(ctx, h.caller, h.addRequest("overflow event"))
	assert.True(t, apierr.Is(err, apierr.KindAtCapacity))
	require.Len(t, parent.pulled, 1)
	assert.Equal(t, first.Identifier, parent.pulled[0].Identifier)
}

func TestAddEventOnClosedShardSkipsHandoff(t *testing.T) {
	h := setupTestEngine(t, 1)
	ctx := context.Background()

	_, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("first event"))
	require.NoError(t, err)

	// Close the root the way a concurrent overflow's saga would.
	root, err := h.store.Root(ctx)
	require.NoError(t, err)
	root.Available = false
	require.NoError(t, h.store.SetRoot(ctx, root))

	// An overflow against a closed shard never reaches the parent; one
	// saga per shard.
	_, err = h.engine.AddEvent(ctx, h.caller, h.addRequest("overflow event"))
	assert.True(t, apierr.Is(err, apierr.KindAtCapacity))
	assert.Empty(t, h.parent.requests)
}

func TestEditEventOwnerBypass(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	// Every role check is denied from here on; only the owner may edit.
	h.checker.err = apierr.Unauthorized("NO_PERMISSION", "nope")

	edit := cluster.EditEventRequest{
		Group: h.group,
		Event: event.UpdateEvent{
			Name:        "renamed party",
			Description: "a test event",
			Date:        entry.Date,
			Privacy:     event.PrivacyPrivate,
		},
	}

	updated, err := h.engine.EditEvent(ctx, h.caller, entry.Identifier, edit)
	require.NoError(t, err)
	assert.Equal(t, "renamed party", updated.Name)
	assert.Equal(t, event.PrivacyPrivate, updated.Privacy)

	stranger := uuid.New().String()
	_, err = h.engine.EditEvent(ctx, stranger, entry.Identifier, edit)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))
}

func TestCancelEvent(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	canceled, err := h.engine.CancelEvent(ctx, h.caller, entry.Identifier,
		cluster.CancelEventRequest{Group: h.group, Reason: "venue flooded"})
	require.NoError(t, err)
	assert.True(t, canceled.Canceled.Flag)
	assert.Equal(t, "venue flooded", canceled.Canceled.Reason)

	// A canceled event still reads back.
	got, err := h.engine.GetEvent(ctx, entry.Identifier, h.group)
	require.NoError(t, err)
	assert.True(t, got.Canceled.Flag)
}

func TestDeleteEventIsSoft(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	require.NoError(t, h.engine.DeleteEvent(ctx, h.caller, entry.Identifier,
		cluster.DeleteEventRequest{Group: h.group}))

	_, err = h.engine.GetEvent(ctx, entry.Identifier, h.group)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))

	// The row stays behind the flag; the admin dump still sees it.
	entries, err := h.engine.Entries(ctx, h.admin)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDeleted)
}

func TestGetEventGroupScopeMismatch(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	_, err = h.engine.GetEvent(ctx, entry.Identifier, uuid.New().String())
	assert.True(t, apierr.Is(err, apierr.KindNotFound))

	// No scope reads fine.
	_, err = h.engine.GetEvent(ctx, entry.Identifier, "")
	assert.NoError(t, err)
}

func TestGetAccess(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	access, err := h.engine.GetAccess(ctx, entry.Identifier)
	require.NoError(t, err)
	assert.Equal(t, event.PrivacyPublic, access.Privacy)
	assert.Equal(t, h.caller, access.Owner)
}

func TestUpdateAttendeeCount(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	source := h.source.Identity

	t.Run("only the source reports its count", func(t *testing.T) {
		err := h.engine.UpdateAttendeeCount(ctx, h.caller, entry.Identifier,
			cluster.AttendeeCountRequest{Source: source, Count: 5})
		assert.True(t, apierr.Is(err, apierr.KindUnauthorized))
	})

	t.Run("negative counts rejected", func(t *testing.T) {
		err := h.engine.UpdateAttendeeCount(ctx, source, entry.Identifier,
			cluster.AttendeeCountRequest{Source: source, Count: -1})
		assert.True(t, apierr.Is(err, apierr.KindValidation))
	})

	t.Run("non-event identifiers rejected", func(t *testing.T) {
		err := h.engine.UpdateAttendeeCount(ctx, source, fmt.Sprintf("usr.%s.1", h.identity),
			cluster.AttendeeCountRequest{Source: source, Count: 5})
		assert.True(t, apierr.Is(err, apierr.KindBadRequest))
	})

	t.Run("count replaces the source slot", func(t *testing.T) {
		require.NoError(t, h.engine.UpdateAttendeeCount(ctx, source, entry.Identifier,
			cluster.AttendeeCountRequest{Source: source, Count: 5}))

		got, err := h.engine.GetEvent(ctx, entry.Identifier, "")
		require.NoError(t, err)
		assert.Equal(t, 5, got.AttendeeCount)
	})
}

func TestQueryEventsPagination(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.engine.AddEvent(ctx, h.caller, h.addRequest(fmt.Sprintf("event number %d", i)))
		require.NoError(t, err)
	}

	page, err := h.engine.QueryEvents(ctx, cluster.EventQueryRequest{
		Sort:  event.Sort{Field: event.SortCreatedAt, Direction: event.SortAsc},
		Limit: 2,
		Page:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Data, 2)

	_, err = h.engine.QueryEvents(ctx, cluster.EventQueryRequest{Limit: 2})
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))
}

func TestEventCounts(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	_, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("kept event"))
	require.NoError(t, err)
	deleted, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("deleted event"))
	require.NoError(t, err)
	require.NoError(t, h.engine.DeleteEvent(ctx, h.caller, deleted.Identifier,
		cluster.DeleteEventRequest{Group: h.group}))

	other := uuid.New().String()
	counts, err := h.engine.EventCounts(ctx, []string{h.group, other})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, cluster.GroupCount{Group: h.group, Count: 1}, counts[0])
	assert.Equal(t, cluster.GroupCount{Group: other, Count: 0}, counts[1])
}

func TestChunkedDataParentOnly(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)

	_, err = h.engine.ChunkedData(ctx, h.caller, cluster.ChunkQuery{MaxBytes: 1 << 20})
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))

	resp, err := h.engine.ChunkedData(ctx, h.parentID, cluster.ChunkQuery{MaxBytes: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, chunk.Range{Index: 0, Last: 0}, resp.Range)

	var entries []*event.Entry
	require.NoError(t, chunk.Join([][]byte{resp.Data}, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, entry.Identifier, entries[0].Identifier)
}

func TestAddEntryByParent(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	record := event.Event{
		Name:      "forwarded event",
		Privacy:   event.PrivacyPublic,
		Group:     h.group,
		CreatedBy: h.caller,
		Owner:     h.caller,
	}
	raw, err := json.Marshal(record)
	require.NoError(t, err)

	_, err = h.engine.AddEntryByParent(ctx, h.caller, cluster.AddEntryRequest{Kind: event.KindEvent, Entry: raw})
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))

	_, err = h.engine.AddEntryByParent(ctx, h.parentID, cluster.AddEntryRequest{Kind: "usr", Entry: raw})
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))

	identifier, err := h.engine.AddEntryByParent(ctx, h.parentID, cluster.AddEntryRequest{Kind: event.KindEvent, Entry: raw})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("evt.%s.1", h.identity), identifier)
}

func TestInstall(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	req := cluster.InstallRequest{Bytes: []byte("artifact"), Version: 4, Mode: cluster.InstallModeUpgrade}

	err := h.engine.Install(ctx, h.caller, req)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))

	err = h.engine.Install(ctx, h.parentID, cluster.InstallRequest{Version: 4})
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))

	require.NoError(t, h.engine.Install(ctx, h.parentID, req))
	root, err := h.store.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), root.Version)
}

func TestAdminGates(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()
	stranger := uuid.New().String()

	_, err := h.engine.Entries(ctx, stranger)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))

	_, err = h.engine.BackupSnapshot(ctx, stranger)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))

	err = h.engine.BackupRestore(ctx, stranger)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))
}

func TestBackupRoundTripThroughEngine(t *testing.T) {
	h := setupTestEngine(t, 100)
	ctx := context.Background()

	entry, err := h.engine.AddEvent(ctx, h.caller, h.addRequest("launch party"))
	require.NoError(t, err)
	require.NoError(t, h.engine.DeleteEvent(ctx, h.caller, entry.Identifier,
		cluster.DeleteEventRequest{Group: h.group}))

	total, err := h.engine.BackupSnapshot(ctx, h.admin)
	require.NoError(t, err)
	assert.Greater(t, total, 0)

	require.NoError(t, h.engine.BackupFinalize(ctx, h.admin))
	require.NoError(t, h.engine.BackupRestore(ctx, h.admin))

	// The deleted row survives the round trip, flag intact.
	entries, err := h.engine.Entries(ctx, h.admin)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.Identifier, entries[0].Identifier)
	assert.True(t, entries[0].IsDeleted)
}
