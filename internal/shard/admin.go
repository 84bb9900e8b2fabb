package shard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/event"
)

// Parent-only and admin-only surfaces: entry forwarding, artifact
// install, raw dump, backup.

// AddEntryByParent lands a forwarded serialized record under a fresh
// local identifier. Only the parent may call it, and only with the event
// kind tag; a forwarded record of any other kind would mint identifiers
// this store cannot serve.
func (e *Engine) AddEntryByParent(ctx context.Context, caller string, req cluster.AddEntryRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.parentIdentity {
		return "", apierr.Unauthorized("NOT_PARENT",
			fmt.Sprintf("caller %s is not this shard's parent", caller)).At(component, "AddEntryByParent")
	}
	if req.Kind != event.KindEvent {
		return "", apierr.BadRequest("INVALID_KIND",
			fmt.Sprintf("cannot store entries of kind %q", req.Kind)).At(component, "AddEntryByParent")
	}

	var record event.Event
	if err := json.Unmarshal(req.Entry, &record); err != nil {
		return "", apierr.BadRequest("MALFORMED_ENTRY",
			fmt.Sprintf("forwarded entry does not parse: %v", err)).At(component, "AddEntryByParent")
	}
	if err := record.Validate(); err != nil {
		return "", apierr.Validation("INVALID_EVENT", err.Error()).At(component, "AddEntryByParent")
	}

	identifier, err := e.store.Add(ctx, &record)
	if err != nil {
		return "", apierr.Convert(err, "STORE_ADD_FAILED", component, "AddEntryByParent")
	}

	e.logEvent("entry_accepted", map[string]interface{}{"identifier": identifier})
	return identifier, nil
}

// Install records a delivered code artifact. The payload is acknowledged
// and its version pinned on the root; rolling the process itself is the
// provisioner's job.
func (e *Engine) Install(ctx context.Context, caller string, req cluster.InstallRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.parentIdentity {
		return apierr.Unauthorized("NOT_PARENT",
			fmt.Sprintf("caller %s is not this shard's parent", caller)).At(component, "Install")
	}
	if len(req.Bytes) == 0 {
		return apierr.BadRequest("ARTIFACT_EMPTY", "install payload cannot be empty").At(component, "Install")
	}

	root, err := e.store.Root(ctx)
	if err != nil {
		return apierr.Convert(err, "ROOT_READ_FAILED", component, "Install")
	}
	root.Version = req.Version
	if err := e.store.SetRoot(ctx, root); err != nil {
		return apierr.Convert(err, "ROOT_WRITE_FAILED", component, "Install")
	}

	e.logEvent("artifact_installed", map[string]interface{}{
		"version": req.Version,
		"mode":    string(req.Mode),
	})
	return nil
}

// Entries returns the raw entry dump including soft-deleted rows.
// Migration tooling reads this; admin identities only.
func (e *Engine) Entries(ctx context.Context, caller string) ([]*event.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "Entries"); err != nil {
		return nil, err
	}

	entries, err := e.store.Entries(ctx)
	if err != nil {
		return nil, apierr.Convert(err, "STORE_LIST_FAILED", component, "Entries")
	}
	return entries, nil
}

// BackupSnapshot stages the full record set as backup chunks and returns
// the chunk count.
func (e *Engine) BackupSnapshot(ctx context.Context, caller string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupSnapshot"); err != nil {
		return 0, err
	}
	total, err := e.backups.Snapshot(ctx)
	if err != nil {
		return 0, apierr.Convert(err, "BACKUP_FAILED", component, "BackupSnapshot")
	}
	e.logEvent("backup_staged", map[string]interface{}{"chunks": total})
	return total, nil
}

// BackupTotalChunks reports the staged chunk count.
func (e *Engine) BackupTotalChunks(ctx context.Context, caller string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupTotalChunks"); err != nil {
		return 0, err
	}
	total, err := e.backups.TotalChunks(ctx)
	if err != nil {
		return 0, apierr.Convert(err, "BACKUP_FAILED", component, "BackupTotalChunks")
	}
	return total, nil
}

// BackupDownloadChunk retrieves one staged chunk.
func (e *Engine) BackupDownloadChunk(ctx context.Context, caller string, chunk int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupDownloadChunk"); err != nil {
		return nil, err
	}
	return e.backups.DownloadChunk(ctx, chunk)
}

// BackupUploadChunk stages one incoming chunk.
func (e *Engine) BackupUploadChunk(ctx context.Context, caller string, chunk int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupUploadChunk"); err != nil {
		return err
	}
	return e.backups.UploadChunk(ctx, chunk, data)
}

// BackupFinalize verifies the staged chunks parse without touching the
// live record set.
func (e *Engine) BackupFinalize(ctx context.Context, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupFinalize"); err != nil {
		return err
	}
	_, err := e.backups.Finalize(ctx)
	return err
}

// BackupRestore replaces the live record set with the staged payload.
func (e *Engine) BackupRestore(ctx context.Context, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupRestore"); err != nil {
		return err
	}
	if err := e.backups.Restore(ctx); err != nil {
		return apierr.Convert(err, "RESTORE_FAILED", component, "BackupRestore")
	}
	e.logEvent("backup_restored", map[string]interface{}{})
	return nil
}

// BackupClear drops the staging area.
func (e *Engine) BackupClear(ctx context.Context, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "BackupClear"); err != nil {
		return err
	}
	return e.backups.Clear(ctx)
}

func (e *Engine) requireAdmin(caller, method string) error {
	if !e.admins[caller] {
		return apierr.Unauthorized("NOT_ADMIN",
			fmt.Sprintf("caller %s is not an admin identity", caller)).At(component, method)
	}
	return nil
}
