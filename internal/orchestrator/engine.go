// Package orchestrator implements the parent process of the drey
// cluster: the shard registry, code-artifact custody, two-phase shard
// provisioning, the reshard saga, fleet upgrades and cross-shard
// aggregated reads. The engine is an actor: one mutex serializes every
// mutating entry point. The aggregated read only snapshots the registry
// under the lock and fetches shard data without it, so a shard that
// fills up mid-read can still run its reshard through this process.
// Every local mutation committed before a failed remote step stays
// committed.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/provision"
	"github.com/dreyhq/drey/internal/registry"
	"github.com/dreyhq/drey/pkg/apierr"
)

const component = "orchestrator"

// ShardCaller is the engine's view of one shard process.
type ShardCaller interface {
	AddEntryByParent(ctx context.Context, req cluster.AddEntryRequest) (string, error)
	Install(ctx context.Context, req cluster.InstallRequest) error
	ChunkedData(ctx context.Context, req cluster.ChunkQuery) (cluster.ChunkResponse, error)
}

// ShardCallerFactory builds a ShardCaller for a shard address. Tests
// substitute in-process engines here.
type ShardCallerFactory func(addr string) ShardCaller

// Options carries the engine's fixed configuration.
type Options struct {
	Identity      string
	InstanceName  string
	Admins        []string
	ShardImage    string
	ShardRedisURL string
	ShardCapacity int64
	OwnAddr       string
	ChunkMaxBytes int
}

// Engine holds the orchestrator's state and implements every operation
// the transport layer exposes.
type Engine struct {
	mu sync.Mutex

	registry    *registry.Registry
	provisioner provision.Provisioner
	shards      ShardCallerFactory
	opts        Options
	admins      map[string]bool
}

// NewEngine creates an orchestrator engine.
func NewEngine(reg *registry.Registry, provisioner provision.Provisioner, shards ShardCallerFactory, opts Options) *Engine {
	adminSet := make(map[string]bool, len(opts.Admins))
	for _, a := range opts.Admins {
		adminSet[a] = true
	}
	if opts.ChunkMaxBytes < 1 {
		opts.ChunkMaxBytes = 2_000_000
	}
	return &Engine{
		registry:    reg,
		provisioner: provisioner,
		shards:      shards,
		opts:        opts,
		admins:      adminSet,
	}
}

// Identity returns the orchestrator's identity.
func (e *Engine) Identity() string {
	return e.opts.Identity
}

// Bootstrap provisions shard 0 when an artifact is held and the registry
// is empty. A cold start without an artifact is not an error; the first
// artifact push is simply still pending.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.Artifact(ctx); err != nil {
		if registry.IsNotFound(err) {
			log.Printf("[Orchestrator] No artifact held yet, skipping bootstrap")
			return nil
		}
		return fmt.Errorf("bootstrap artifact check failed: %w", err)
	}

	count, err := e.registry.Count(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap shard count failed: %w", err)
	}
	if count > 0 {
		return nil
	}

	shard, err := e.provisionAndInstall(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap provisioning failed: %w", err)
	}
	e.logEvent("bootstrapped", map[string]interface{}{"shard": shard.Identity})
	return nil
}

// Shards lists every registered shard.
func (e *Engine) Shards(ctx context.Context) ([]cluster.ShardInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	details, err := e.registry.All(ctx)
	if err != nil {
		return nil, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "Shards")
	}
	infos := make([]cluster.ShardInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, d.ToInfo())
	}
	return infos, nil
}

// AvailableShard resolves the current write target, excluding the caller.
// A full shard asking where to send writers must never be pointed back at
// itself.
func (e *Engine) AvailableShard(ctx context.Context, caller string) (cluster.ShardInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shard, err := e.availableShard(ctx, caller)
	if err != nil {
		return cluster.ShardInfo{}, err
	}
	return shard.ToInfo(), nil
}

func (e *Engine) availableShard(ctx context.Context, exclude string) (*registry.ShardDetails, error) {
	details, err := e.registry.All(ctx)
	if err != nil {
		return nil, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "AvailableShard")
	}
	for _, d := range details {
		if d.Available && d.Kind == cluster.ShardHolding && d.Identity != exclude {
			return d, nil
		}
	}
	return nil, apierr.NotFound("NO_AVAILABLE_SHARD", "no shard is accepting writes").At(component, "AvailableShard")
}

// Reshard runs the parent half of the full-shard saga: spawn and install
// a sibling, close the calling shard's registry entry, then land the
// pending record on the sibling. The closure is committed before the
// forward so a crash between the two never leaves the full shard open.
func (e *Engine) Reshard(ctx context.Context, caller string, req cluster.ReshardRequest) (cluster.ReshardResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.Artifact(ctx); err != nil {
		if registry.IsNotFound(err) {
			return cluster.ReshardResponse{}, apierr.BadRequest("NO_ARTIFACT",
				"cannot spawn a sibling without a held artifact").At(component, "Reshard")
		}
		return cluster.ReshardResponse{}, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "Reshard")
	}

	callerShard, err := e.registry.Get(ctx, caller)
	if err != nil {
		if registry.IsNotFound(err) {
			return cluster.ReshardResponse{}, apierr.BadRequest("UNKNOWN_SHARD",
				fmt.Sprintf("caller %s is not a registered shard", caller)).At(component, "Reshard")
		}
		return cluster.ReshardResponse{}, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "Reshard")
	}

	sibling, err := e.provisionAndInstall(ctx)
	if err != nil {
		return cluster.ReshardResponse{}, apierr.Convert(err, "PROVISION_FAILED", component, "Reshard")
	}

	rangeEnd := req.LastSequence
	callerShard.Available = false
	callerShard.RangeEnd = &rangeEnd
	if err := e.registry.Update(ctx, callerShard); err != nil {
		return cluster.ReshardResponse{}, apierr.Convert(err, "REGISTRY_WRITE_FAILED", component, "Reshard")
	}

	identifier, err := e.shards(sibling.Addr).AddEntryByParent(ctx, cluster.AddEntryRequest{
		Kind:  req.Kind,
		Entry: req.Entry,
	})
	if err != nil {
		// The caller is already closed and the sibling is live; only the
		// pending record is lost. The caller still holds it and reports
		// the failure upstream.
		return cluster.ReshardResponse{}, apierr.BadRequest("FAILED_TO_STORE_DATA",
			fmt.Sprintf("sibling %s rejected the forwarded entry: %v", sibling.Identity, err)).At(component, "Reshard")
	}

	e.logEvent("resharded", map[string]interface{}{
		"closed":     callerShard.Identity,
		"sibling":    sibling.Identity,
		"identifier": identifier,
	})
	return cluster.ReshardResponse{Shard: sibling.ToInfo(), Identifier: identifier}, nil
}

// provisionAndInstall is the two-phase shard birth: spawn the process and
// register it Empty and available, then install the held artifact and
// promote the entry to Holding. A failed install leaves the Empty entry
// in the registry so operators can see and retry the half-open shard.
func (e *Engine) provisionAndInstall(ctx context.Context) (*registry.ShardDetails, error) {
	artifact, err := e.registry.Artifact(ctx)
	if err != nil {
		if registry.IsNotFound(err) {
			return nil, apierr.BadRequest("NO_ARTIFACT", "no code artifact is held").At(component, "ProvisionAndInstall")
		}
		return nil, err
	}

	count, err := e.registry.Count(ctx)
	if err != nil {
		return nil, err
	}

	unit, err := e.provisioner.Spawn(ctx, provision.ShardSpec{
		Identity:       uuid.New().String(),
		Index:          uint64(count),
		Image:          e.opts.ShardImage,
		ParentIdentity: e.opts.Identity,
		ParentAddr:     e.opts.OwnAddr,
		RedisURL:       e.opts.ShardRedisURL,
		Capacity:       e.opts.ShardCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to spawn shard: %w", err)
	}

	details := &registry.ShardDetails{
		Identity:   unit.Identity,
		Addr:       unit.Addr,
		Index:      uint64(count),
		Kind:       cluster.ShardEmpty,
		Available:  true,
		RangeStart: 1,
	}
	if err := e.registry.Register(ctx, details); err != nil {
		return nil, fmt.Errorf("failed to register shard: %w", err)
	}

	if err := e.shards(unit.Addr).Install(ctx, cluster.InstallRequest{
		Bytes:   artifact.Bytes,
		Version: artifact.Version,
		Mode:    cluster.InstallModeInstall,
	}); err != nil {
		log.Printf("[Orchestrator] Install failed on shard %s, entry stays empty: %v", unit.Identity, err)
		return nil, fmt.Errorf("failed to install artifact on shard %s: %w", unit.Identity, err)
	}

	details.Kind = cluster.ShardHolding
	details.Version = artifact.Version
	if err := e.registry.Update(ctx, details); err != nil {
		return nil, fmt.Errorf("failed to promote shard entry: %w", err)
	}

	e.logEvent("shard_provisioned", map[string]interface{}{
		"shard":   details.Identity,
		"index":   details.Index,
		"version": details.Version,
	})
	return details, nil
}

// ReplaceArtifact swaps the held code artifact. Admin-only; the registry
// enforces the replacement rules.
func (e *Engine) ReplaceArtifact(ctx context.Context, caller string, req cluster.ArtifactRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "ReplaceArtifact"); err != nil {
		return err
	}
	if err := e.registry.ReplaceArtifact(ctx, req.Label, req.Bytes, req.Version); err != nil {
		return apierr.Convert(err, "ARTIFACT_REPLACE_FAILED", component, "ReplaceArtifact")
	}
	e.logEvent("artifact_replaced", map[string]interface{}{"label": req.Label, "version": req.Version})
	return nil
}

// ArtifactVersion reports the held artifact's version.
func (e *Engine) ArtifactVersion(ctx context.Context) (cluster.ArtifactVersionResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	artifact, err := e.registry.Artifact(ctx)
	if err != nil {
		if registry.IsNotFound(err) {
			return cluster.ArtifactVersionResponse{Held: false}, nil
		}
		return cluster.ArtifactVersionResponse{}, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "ArtifactVersion")
	}
	return cluster.ArtifactVersionResponse{Held: true, Label: artifact.Label, Version: artifact.Version}, nil
}

// UpgradeAll pushes the held artifact to every Holding shard whose
// installed version differs. One shard's failure never blocks the rest;
// the sweep reports who upgraded, who failed and who was already current.
func (e *Engine) UpgradeAll(ctx context.Context, caller string) (cluster.UpgradeResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller, "UpgradeAll"); err != nil {
		return cluster.UpgradeResponse{}, err
	}

	artifact, err := e.registry.Artifact(ctx)
	if err != nil {
		if registry.IsNotFound(err) {
			return cluster.UpgradeResponse{}, apierr.BadRequest("NO_ARTIFACT", "no code artifact is held").At(component, "UpgradeAll")
		}
		return cluster.UpgradeResponse{}, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "UpgradeAll")
	}

	details, err := e.registry.All(ctx)
	if err != nil {
		return cluster.UpgradeResponse{}, apierr.Convert(err, "REGISTRY_READ_FAILED", component, "UpgradeAll")
	}

	resp := cluster.UpgradeResponse{Upgraded: []string{}, Failed: []string{}, Skipped: []string{}}
	for _, d := range details {
		if d.Kind != cluster.ShardHolding || d.Version == artifact.Version {
			resp.Skipped = append(resp.Skipped, d.Identity)
			continue
		}

		err := e.shards(d.Addr).Install(ctx, cluster.InstallRequest{
			Bytes:   artifact.Bytes,
			Version: artifact.Version,
			Mode:    cluster.InstallModeUpgrade,
		})
		if err != nil {
			log.Printf("[Orchestrator] Upgrade failed on shard %s: %v", d.Identity, err)
			resp.Failed = append(resp.Failed, d.Identity)
			continue
		}

		d.Version = artifact.Version
		if err := e.registry.Update(ctx, d); err != nil {
			log.Printf("[Orchestrator] Failed to record upgrade of shard %s: %v", d.Identity, err)
			resp.Failed = append(resp.Failed, d.Identity)
			continue
		}
		resp.Upgraded = append(resp.Upgraded, d.Identity)
	}

	e.logEvent("upgrade_swept", map[string]interface{}{
		"upgraded": len(resp.Upgraded),
		"failed":   len(resp.Failed),
		"skipped":  len(resp.Skipped),
	})
	return resp, nil
}

// Ping verifies registry connectivity for health checks.
func (e *Engine) Ping(ctx context.Context) error {
	return e.registry.Ping(ctx)
}

func (e *Engine) requireAdmin(caller, method string) error {
	if !e.admins[caller] {
		return apierr.Unauthorized("NOT_ADMIN",
			fmt.Sprintf("caller %s is not an admin identity", caller)).At(component, method)
	}
	return nil
}

// logEvent emits a structured JSON log line.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = component
	data["event_type"] = eventType
	data["instance"] = e.opts.InstanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
