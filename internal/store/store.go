// Package store provides the Redis-backed record storage for a single
// shard: the root record describing the shard itself, the event rows, the
// monotonic sequence counter behind record identifiers, and the staging
// area for chunked backups. All keys are namespaced by instance name.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/event"
)

// Root is the shard's own record: who it is, who provisioned it, and
// whether it still accepts writes. Version is the installed code artifact
// version, zero when none has been installed yet.
type Root struct {
	Name      string `json:"name"`
	Identity  string `json:"identity"`
	Index     uint64 `json:"index"`
	Parent    string `json:"parent"`
	Available bool   `json:"available"`
	Version   int64  `json:"version"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Store provides instance-scoped Redis operations for one shard.
// The store is thread-safe and can be used concurrently from multiple
// goroutines.
type Store struct {
	rdb          *redis.Client
	instanceName string
	identity     string
	capacity     int64
}

// New creates a store for the given shard. The shard identity is baked
// into every record identifier this store mints.
func New(redisOpts *redis.Options, instanceName, identity string, capacity int64) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if identity == "" {
		return nil, fmt.Errorf("shard identity cannot be empty")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}

	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		identity:     identity,
		capacity:     capacity,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Identity returns the shard identity this store mints identifiers for.
func (s *Store) Identity() string {
	return s.identity
}

// Capacity returns the record ceiling this store enforces on Add.
func (s *Store) Capacity() int64 {
	return s.capacity
}

// InitRoot writes the root record if none exists yet. Returns the stored
// root, which is the existing one when the shard restarts against a
// populated namespace.
func (s *Store) InitRoot(ctx context.Context, root *Root) (*Root, error) {
	existing, err := s.Root(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	now := time.Now().UnixNano()
	root.CreatedAt = now
	root.UpdatedAt = now

	if err := s.rdb.HSet(ctx, RootKey(s.instanceName), RootToHash(root)).Err(); err != nil {
		return nil, fmt.Errorf("failed to write root record to Redis: %w", err)
	}
	return root, nil
}

// Root retrieves the shard root record.
// Returns (nil, redis.Nil) if the root has not been initialized.
func (s *Store) Root(ctx context.Context) (*Root, error) {
	hashData, err := s.rdb.HGetAll(ctx, RootKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read root record from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToRoot(hashData)
}

// SetRoot replaces the root record, bumping its update timestamp.
func (s *Store) SetRoot(ctx context.Context, root *Root) error {
	root.UpdatedAt = time.Now().UnixNano()
	if err := s.rdb.HSet(ctx, RootKey(s.instanceName), RootToHash(root)).Err(); err != nil {
		return fmt.Errorf("failed to update root record in Redis: %w", err)
	}
	return nil
}

// Count returns the number of stored records, soft-deleted rows included.
// The capacity check runs against this number.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, EventIndexKey(s.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// NextSequence atomically advances the record sequence counter. The first
// record a shard mints carries sequence 1.
func (s *Store) NextSequence(ctx context.Context) (uint64, error) {
	seq, err := s.rdb.Incr(ctx, SequenceKey(s.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence counter: %w", err)
	}
	return uint64(seq), nil
}

// LastSequence reports the highest sequence minted so far, zero when the
// shard has never stored a record.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	raw, err := s.rdb.Get(ctx, SequenceKey(s.instanceName)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read sequence counter: %w", err)
	}
	return raw, nil
}

// Add mints an identifier for the event and stores it. Fails with an
// at-capacity error before minting when the shard is full, so a rejected
// write never consumes a sequence number.
func (s *Store) Add(ctx context.Context, e *event.Event) (string, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return "", err
	}
	if count >= s.capacity {
		return "", apierr.AtCapacity("SHARD_FULL",
			fmt.Sprintf("shard %s holds %d of %d records", s.identity, count, s.capacity))
	}

	seq, err := s.NextSequence(ctx)
	if err != nil {
		return "", err
	}

	identifier := event.NewIdentifier(event.KindEvent, s.identity, seq).String()
	if err := s.put(ctx, identifier, e); err != nil {
		return "", err
	}
	return identifier, nil
}

// AddWithIdentifier stores an event under an identifier minted elsewhere.
// Used when restoring a backup or accepting a forwarded entry whose
// identifier must survive the move. The capacity check still applies.
func (s *Store) AddWithIdentifier(ctx context.Context, identifier string, e *event.Event) error {
	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if count >= s.capacity {
		return apierr.AtCapacity("SHARD_FULL",
			fmt.Sprintf("shard %s holds %d of %d records", s.identity, count, s.capacity))
	}
	return s.put(ctx, identifier, e)
}

func (s *Store) put(ctx context.Context, identifier string, e *event.Event) error {
	hash, err := EventToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, EventKey(s.instanceName, identifier), hash)
	pipe.SAdd(ctx, EventIndexKey(s.instanceName), identifier)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write event to Redis: %w", err)
	}
	return nil
}

// Get retrieves an event by identifier.
// Returns (nil, redis.Nil) if the event doesn't exist.
func (s *Store) Get(ctx context.Context, identifier string) (*event.Event, error) {
	hashData, err := s.rdb.HGetAll(ctx, EventKey(s.instanceName, identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToEvent(hashData)
}

// Update replaces an existing event. Fails with redis.Nil when the
// identifier is unknown; Update never creates rows.
func (s *Store) Update(ctx context.Context, identifier string, e *event.Event) error {
	exists, err := s.rdb.SIsMember(ctx, EventIndexKey(s.instanceName), identifier).Result()
	if err != nil {
		return fmt.Errorf("failed to check event existence: %w", err)
	}
	if !exists {
		return redis.Nil
	}

	hash, err := EventToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := s.rdb.HSet(ctx, EventKey(s.instanceName, identifier), hash).Err(); err != nil {
		return fmt.Errorf("failed to update event in Redis: %w", err)
	}
	return nil
}

// Remove hard-deletes an event row and its index entry. The write path
// uses this only to roll back a record whose attendee registration failed;
// user-facing deletion is the soft flag on the event itself.
func (s *Store) Remove(ctx context.Context, identifier string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, EventKey(s.instanceName, identifier))
	pipe.SRem(ctx, EventIndexKey(s.instanceName), identifier)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove event from Redis: %w", err)
	}
	return nil
}

// All retrieves every stored event keyed by identifier, soft-deleted rows
// included. The filter layer decides what a caller may see.
func (s *Store) All(ctx context.Context) (map[string]*event.Event, error) {
	identifiers, err := s.rdb.SMembers(ctx, EventIndexKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list event identifiers: %w", err)
	}

	events := make(map[string]*event.Event, len(identifiers))
	for _, id := range identifiers {
		e, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Index entry with no row, skip. Can happen if a Remove
				// raced a concurrent restore.
				continue
			}
			return nil, err
		}
		events[id] = e
	}
	return events, nil
}

// Entries retrieves every stored event as its read shape, ordered by
// sequence number so repeated reads see a stable order.
func (s *Store) Entries(ctx context.Context) ([]*event.Entry, error) {
	events, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]*event.Entry, 0, len(events))
	for id, e := range events {
		entries = append(entries, e.ToEntry(id))
	}
	sort.Slice(entries, func(i, j int) bool {
		a, errA := event.ParseIdentifier(entries[i].Identifier)
		b, errB := event.ParseIdentifier(entries[j].Identifier)
		if errA != nil || errB != nil {
			return entries[i].Identifier < entries[j].Identifier
		}
		return a.Sequence < b.Sequence
	})
	return entries, nil
}

// Replace swaps the full record set for the given one. Used when a backup
// restore lands. The sequence counter is advanced past the highest restored
// sequence so future mints cannot collide.
func (s *Store) Replace(ctx context.Context, events map[string]*event.Event) error {
	if err := s.clearEvents(ctx); err != nil {
		return err
	}

	var maxSeq uint64
	for identifier, e := range events {
		if err := s.put(ctx, identifier, e); err != nil {
			return err
		}
		if id, err := event.ParseIdentifier(identifier); err == nil && id.Shard == s.identity && id.Sequence > maxSeq {
			maxSeq = id.Sequence
		}
	}

	last, err := s.LastSequence(ctx)
	if err != nil {
		return err
	}
	if maxSeq > last {
		if err := s.rdb.Set(ctx, SequenceKey(s.instanceName), maxSeq, 0).Err(); err != nil {
			return fmt.Errorf("failed to advance sequence counter after restore: %w", err)
		}
	}
	return nil
}

func (s *Store) clearEvents(ctx context.Context) error {
	identifiers, err := s.rdb.SMembers(ctx, EventIndexKey(s.instanceName)).Result()
	if err != nil {
		return fmt.Errorf("failed to list event identifiers: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, id := range identifiers {
		pipe.Del(ctx, EventKey(s.instanceName, id))
	}
	pipe.Del(ctx, EventIndexKey(s.instanceName))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear event records: %w", err)
	}
	return nil
}

// StageBackupChunk stores one chunk of an incoming backup. Chunks are
// staged outside the live record set until Finalize swaps them in.
func (s *Store) StageBackupChunk(ctx context.Context, chunk int, data []byte) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, BackupChunkKey(s.instanceName, chunk), data, 0)
	pipe.SAdd(ctx, BackupIndexKey(s.instanceName), chunk)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to stage backup chunk %d: %w", chunk, err)
	}
	return nil
}

// BackupChunk retrieves one staged backup chunk.
// Returns (nil, redis.Nil) if the chunk was never staged.
func (s *Store) BackupChunk(ctx context.Context, chunk int) ([]byte, error) {
	data, err := s.rdb.Get(ctx, BackupChunkKey(s.instanceName, chunk)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read backup chunk %d: %w", chunk, err)
	}
	return data, nil
}

// BackupChunkCount reports how many chunks are currently staged.
func (s *Store) BackupChunkCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, BackupIndexKey(s.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count backup chunks: %w", err)
	}
	return n, nil
}

// ClearBackup drops all staged backup chunks.
func (s *Store) ClearBackup(ctx context.Context) error {
	chunks, err := s.rdb.SMembers(ctx, BackupIndexKey(s.instanceName)).Result()
	if err != nil {
		return fmt.Errorf("failed to list backup chunks: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, c := range chunks {
		n, err := strconv.Atoi(c)
		if err != nil {
			return fmt.Errorf("corrupt backup index entry %q: %w", c, err)
		}
		pipe.Del(ctx, BackupChunkKey(s.instanceName, n))
	}
	pipe.Del(ctx, BackupIndexKey(s.instanceName))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear backup chunks: %w", err)
	}
	return nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
