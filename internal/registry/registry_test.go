package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
)

// setupTestRegistry creates a registry connected to a miniredis instance
func setupTestRegistry(t *testing.T) *Registry {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	reg, err := New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	return reg
}

func testShard(index uint64) *ShardDetails {
	return &ShardDetails{
		Identity:   uuid.New().String(),
		Addr:       "http://shard:8090",
		Index:      index,
		Kind:       cluster.ShardEmpty,
		Available:  true,
		RangeStart: 1,
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	d := testShard(0)
	require.NoError(t, reg.Register(ctx, d))

	got, err := reg.Get(ctx, d.Identity)
	require.NoError(t, err)
	assert.Equal(t, d.Identity, got.Identity)
	assert.Equal(t, cluster.ShardEmpty, got.Kind)
	assert.True(t, got.Available)
	assert.Nil(t, got.RangeEnd)

	_, err = reg.Get(ctx, uuid.New().String())
	assert.True(t, IsNotFound(err))
}

func TestUpdateClosesRange(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	d := testShard(0)
	require.NoError(t, reg.Register(ctx, d))

	end := uint64(4999)
	d.Available = false
	d.RangeEnd = &end
	d.Kind = cluster.ShardHolding
	d.Version = 2
	require.NoError(t, reg.Update(ctx, d))

	got, err := reg.Get(ctx, d.Identity)
	require.NoError(t, err)
	assert.False(t, got.Available)
	require.NotNil(t, got.RangeEnd)
	assert.Equal(t, end, *got.RangeEnd)
	assert.Equal(t, int64(2), got.Version)
}

func TestAllOrderedByIndex(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	for _, i := range []uint64{2, 0, 1} {
		require.NoError(t, reg.Register(ctx, testShard(i)))
	}

	shards, err := reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	for i, d := range shards {
		assert.Equal(t, uint64(i), d.Index)
	}

	count, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestReplaceArtifactRules(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	t.Run("nothing held initially", func(t *testing.T) {
		_, err := reg.Artifact(ctx)
		assert.True(t, IsNotFound(err))
	})

	t.Run("empty payload rejected", func(t *testing.T) {
		err := reg.ReplaceArtifact(ctx, "shard", nil, 1)
		assert.True(t, apierr.Is(err, apierr.KindBadRequest))
	})

	t.Run("first push accepted", func(t *testing.T) {
		require.NoError(t, reg.ReplaceArtifact(ctx, "shard", []byte("v1-bytes"), 1))

		artifact, err := reg.Artifact(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), artifact.Version)
		assert.Equal(t, []byte("v1-bytes"), artifact.Bytes)
	})

	t.Run("identical bytes rejected", func(t *testing.T) {
		err := reg.ReplaceArtifact(ctx, "shard", []byte("v1-bytes"), 2)
		assert.True(t, apierr.Is(err, apierr.KindBadRequest))
	})

	t.Run("equal version rejected", func(t *testing.T) {
		err := reg.ReplaceArtifact(ctx, "shard", []byte("v1-bytes-patched"), 1)
		assert.True(t, apierr.Is(err, apierr.KindBadRequest))
	})

	t.Run("lower version rejected", func(t *testing.T) {
		require.NoError(t, reg.ReplaceArtifact(ctx, "shard", []byte("v5-bytes"), 5))
		err := reg.ReplaceArtifact(ctx, "shard", []byte("v3-bytes"), 3)
		assert.True(t, apierr.Is(err, apierr.KindBadRequest))
	})

	t.Run("strictly higher version accepted", func(t *testing.T) {
		require.NoError(t, reg.ReplaceArtifact(ctx, "shard", []byte("v6-bytes"), 6))
		artifact, err := reg.Artifact(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), artifact.Version)
	})
}
