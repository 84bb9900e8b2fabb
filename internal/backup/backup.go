// Package backup moves a whole shard's record set in and out through the
// chunk codec. Snapshot serializes the live store into staged chunks;
// the chunks travel one HTTP call at a time; Restore swaps the staged
// payload in wholesale. The staging area lives in the shard's own Redis
// namespace, outside the live record keys.
package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dreyhq/drey/internal/store"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/event"
)

// Payload is the serialized form of one shard's full record set, deleted
// rows included. Identity records which shard produced the snapshot; a
// restore onto a different shard is allowed, migration tooling depends
// on it.
type Payload struct {
	Identity string                  `json:"identity"`
	Events   map[string]*event.Event `json:"events"`
}

// Manager drives snapshot, chunk transfer and restore for one shard.
type Manager struct {
	store    *store.Store
	maxBytes int
}

// NewManager builds a backup manager over the shard's store. maxBytes is
// the chunk payload ceiling.
func NewManager(s *store.Store, maxBytes int) *Manager {
	return &Manager{store: s, maxBytes: maxBytes}
}

// Snapshot serializes the full record set into staged chunks, replacing
// any previous staging. Returns the number of chunks staged.
func (m *Manager) Snapshot(ctx context.Context) (int, error) {
	events, err := m.store.All(ctx)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(Payload{Identity: m.store.Identity(), Events: events})
	if err != nil {
		return 0, fmt.Errorf("failed to serialize backup payload: %w", err)
	}

	if err := m.store.ClearBackup(ctx); err != nil {
		return 0, err
	}

	total := len(payload)/m.maxBytes + 1
	for i := 0; i < total; i++ {
		start := i * m.maxBytes
		end := start + m.maxBytes
		if start > len(payload) {
			start = len(payload)
		}
		if end > len(payload) {
			end = len(payload)
		}
		if err := m.store.StageBackupChunk(ctx, i, payload[start:end]); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// TotalChunks reports how many chunks are currently staged.
func (m *Manager) TotalChunks(ctx context.Context) (int, error) {
	n, err := m.store.BackupChunkCount(ctx)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DownloadChunk retrieves one staged chunk.
func (m *Manager) DownloadChunk(ctx context.Context, chunk int) ([]byte, error) {
	data, err := m.store.BackupChunk(ctx, chunk)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apierr.NotFound("BACKUP_CHUNK_NOT_FOUND",
				fmt.Sprintf("backup chunk %d is not staged", chunk))
		}
		return nil, err
	}
	return data, nil
}

// UploadChunk stages one incoming chunk.
func (m *Manager) UploadChunk(ctx context.Context, chunk int, data []byte) error {
	if chunk < 0 {
		return apierr.BadRequest("BAD_CHUNK_INDEX", fmt.Sprintf("chunk index must be >= 0, got %d", chunk))
	}
	return m.store.StageBackupChunk(ctx, chunk, data)
}

// Finalize verifies the staged chunks join into a parseable payload
// without touching the live record set.
func (m *Manager) Finalize(ctx context.Context) (*Payload, error) {
	total, err := m.store.BackupChunkCount(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, apierr.BadRequest("BACKUP_EMPTY", "no backup chunks are staged")
	}

	joined := make([]byte, 0)
	for i := 0; i < int(total); i++ {
		data, err := m.store.BackupChunk(ctx, i)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, apierr.BadRequest("BACKUP_CHUNK_MISSING",
					fmt.Sprintf("backup chunk %d of %d is missing", i, total))
			}
			return nil, err
		}
		joined = append(joined, data...)
	}

	var payload Payload
	if err := json.Unmarshal(joined, &payload); err != nil {
		return nil, apierr.BadRequest("BACKUP_CORRUPT", fmt.Sprintf("staged backup does not parse: %v", err))
	}
	if payload.Events == nil {
		payload.Events = map[string]*event.Event{}
	}
	return &payload, nil
}

// Restore replaces the live record set with the staged payload.
func (m *Manager) Restore(ctx context.Context) error {
	payload, err := m.Finalize(ctx)
	if err != nil {
		return err
	}
	if err := m.store.Replace(ctx, payload.Events); err != nil {
		return err
	}
	return m.store.ClearBackup(ctx)
}

// Clear drops the staging area.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.ClearBackup(ctx)
}
