// Package registry is the orchestrator's durable shard membership and
// code-artifact store, backed by Redis under the instance namespace. The
// registry is deliberately dumb: it records what the orchestrator engine
// decides, and the artifact replacement rules are the only policy it
// enforces itself.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
)

// ShardDetails is one shard's registry entry. Kind starts Empty on
// registration and moves to Holding once an artifact is installed; the
// entry survives an install failure so operators can see the half-open
// shard. RangeEnd nil marks the shard as the open end of the sequence
// space.
type ShardDetails struct {
	Identity   string            `json:"identity"`
	Addr       string            `json:"addr"`
	Index      uint64            `json:"index"`
	Kind       cluster.ShardKind `json:"kind"`
	Available  bool              `json:"available"`
	Version    int64             `json:"version"`
	RangeStart uint64            `json:"range_start"`
	RangeEnd   *uint64           `json:"range_end,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// ToInfo maps the registry entry to its wire shape.
func (d *ShardDetails) ToInfo() cluster.ShardInfo {
	return cluster.ShardInfo{
		Identity:   d.Identity,
		Addr:       d.Addr,
		Kind:       d.Kind,
		Available:  d.Available,
		Version:    d.Version,
		RangeStart: d.RangeStart,
		RangeEnd:   d.RangeEnd,
	}
}

// Artifact is the held code artifact. Version is strictly increasing
// across replacements.
type Artifact struct {
	Label     string `json:"label"`
	Bytes     []byte `json:"-"`
	Version   int64  `json:"version"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Registry provides instance-scoped Redis operations for the orchestrator.
type Registry struct {
	rdb          *redis.Client
	instanceName string
}

// New creates a registry for the given orchestrator instance.
func New(redisOpts *redis.Options, instanceName string) (*Registry, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Registry{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (r *Registry) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *Registry) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Register writes a new shard entry.
func (r *Registry) Register(ctx context.Context, d *ShardDetails) error {
	now := time.Now().UnixNano()
	d.CreatedAt = now
	d.UpdatedAt = now

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, ShardKey(r.instanceName, d.Identity), shardToHash(d))
	pipe.SAdd(ctx, ShardIndexKey(r.instanceName), d.Identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register shard in Redis: %w", err)
	}
	return nil
}

// Update replaces an existing shard entry, bumping its update timestamp.
func (r *Registry) Update(ctx context.Context, d *ShardDetails) error {
	d.UpdatedAt = time.Now().UnixNano()
	if err := r.rdb.HSet(ctx, ShardKey(r.instanceName, d.Identity), shardToHash(d)).Err(); err != nil {
		return fmt.Errorf("failed to update shard in Redis: %w", err)
	}
	return nil
}

// Get retrieves one shard entry by identity.
// Returns (nil, redis.Nil) if the shard is not registered.
func (r *Registry) Get(ctx context.Context, identity string) (*ShardDetails, error) {
	hashData, err := r.rdb.HGetAll(ctx, ShardKey(r.instanceName, identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read shard from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return hashToShard(hashData)
}

// All retrieves every shard entry, ordered by shard index.
func (r *Registry) All(ctx context.Context) ([]*ShardDetails, error) {
	identities, err := r.rdb.SMembers(ctx, ShardIndexKey(r.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	shards := make([]*ShardDetails, 0, len(identities))
	for _, id := range identities {
		d, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		shards = append(shards, d)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].Index < shards[j].Index })
	return shards, nil
}

// Count reports how many shards are registered.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.SCard(ctx, ShardIndexKey(r.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count shards: %w", err)
	}
	return n, nil
}

// Artifact retrieves the held code artifact.
// Returns (nil, redis.Nil) if no artifact has ever been pushed.
func (r *Registry) Artifact(ctx context.Context) (*Artifact, error) {
	hashData, err := r.rdb.HGetAll(ctx, ArtifactKey(r.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	version, _ := strconv.ParseInt(hashData["version"], 10, 64)
	createdAt, _ := strconv.ParseInt(hashData["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(hashData["updated_at"], 10, 64)
	return &Artifact{
		Label:     hashData["label"],
		Bytes:     []byte(hashData["bytes"]),
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// ReplaceArtifact swaps the held artifact wholesale, enforcing the
// replacement rules: the payload must be non-empty, must differ from the
// held bytes, and must carry a strictly higher version than a held one.
func (r *Registry) ReplaceArtifact(ctx context.Context, label string, payload []byte, version int64) error {
	if len(payload) == 0 {
		return apierr.BadRequest("ARTIFACT_EMPTY", "artifact payload cannot be empty")
	}
	if version < 1 {
		return apierr.BadRequest("ARTIFACT_VERSION", fmt.Sprintf("artifact version must be >= 1, got %d", version))
	}

	current, err := r.Artifact(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	now := time.Now().UnixNano()
	createdAt := now
	if current != nil {
		if bytes.Equal(current.Bytes, payload) {
			return apierr.BadRequest("ARTIFACT_UNCHANGED", "artifact payload is identical to the held one")
		}
		if version <= current.Version {
			return apierr.BadRequest("ARTIFACT_VERSION",
				fmt.Sprintf("artifact version %d does not exceed held version %d", version, current.Version))
		}
		createdAt = current.CreatedAt
	}

	hash := map[string]interface{}{
		"label":      label,
		"bytes":      payload,
		"version":    version,
		"created_at": createdAt,
		"updated_at": now,
	}
	if err := r.rdb.HSet(ctx, ArtifactKey(r.instanceName), hash).Err(); err != nil {
		return fmt.Errorf("failed to write artifact to Redis: %w", err)
	}
	return nil
}

func shardToHash(d *ShardDetails) map[string]interface{} {
	rangeEnd := ""
	if d.RangeEnd != nil {
		rangeEnd = strconv.FormatUint(*d.RangeEnd, 10)
	}
	return map[string]interface{}{
		"identity":    d.Identity,
		"addr":        d.Addr,
		"index":       d.Index,
		"kind":        string(d.Kind),
		"available":   strconv.FormatBool(d.Available),
		"version":     d.Version,
		"range_start": d.RangeStart,
		"range_end":   rangeEnd,
		"created_at":  d.CreatedAt,
		"updated_at":  d.UpdatedAt,
	}
}

func hashToShard(hash map[string]string) (*ShardDetails, error) {
	index, err := strconv.ParseUint(hash["index"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid shard index field: %w", err)
	}

	var rangeEnd *uint64
	if raw := hash["range_end"]; raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard range_end field: %w", err)
		}
		rangeEnd = &v
	}

	available, _ := strconv.ParseBool(hash["available"])
	version, _ := strconv.ParseInt(hash["version"], 10, 64)
	rangeStart, _ := strconv.ParseUint(hash["range_start"], 10, 64)
	createdAt, _ := strconv.ParseInt(hash["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(hash["updated_at"], 10, 64)

	return &ShardDetails{
		Identity:   hash["identity"],
		Addr:       hash["addr"],
		Index:      index,
		Kind:       cluster.ShardKind(hash["kind"]),
		Available:  available,
		Version:    version,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
