// Package shard implements the child process of the drey cluster: a
// capacity-bounded event record store with role-gated mutation, the
// chunked transfer endpoint its parent aggregates through, and the
// backup surface. The engine is an actor: one mutex serializes every
// entry point. The mutex is never held across the parent handoff; the
// parent pulls chunked data from this process while a reshard is in
// flight, so holding the lock there would wedge both sides.
package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dreyhq/drey/internal/backup"
	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/roles"
	"github.com/dreyhq/drey/internal/store"
	"github.com/dreyhq/drey/internal/validate"
	"github.com/dreyhq/drey/pkg/apierr"
	"github.com/dreyhq/drey/pkg/event"
)

const component = "shard"

// RoleChecker gates an action by the caller's role within a group.
type RoleChecker interface {
	Check(ctx context.Context, caller, group string, action roles.Action) error
}

// ParentService is the engine's view of the orchestrator.
type ParentService interface {
	Reshard(ctx context.Context, req cluster.ReshardRequest) (cluster.ReshardResponse, error)
}

// AttendeeRegistrar registers an event's owner with the participation
// tracking process after a successful add.
type AttendeeRegistrar interface {
	Register(ctx context.Context, source cluster.AttendeeSource, identifier, owner string) error
}

// Engine holds the shard's state and implements every operation the
// transport layer exposes.
type Engine struct {
	mu sync.Mutex

	store          *store.Store
	checker        RoleChecker
	parent         ParentService
	parentIdentity string
	registrar      AttendeeRegistrar
	backups        *backup.Manager
	admins         map[string]bool
	instanceName   string
}

// NewEngine creates a shard engine. admins are the identities allowed on
// the raw-dump and backup surfaces.
func NewEngine(s *store.Store, checker RoleChecker, parent ParentService, parentIdentity string,
	registrar AttendeeRegistrar, backups *backup.Manager, admins []string, instanceName string) *Engine {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &Engine{
		store:          s,
		checker:        checker,
		parent:         parent,
		parentIdentity: parentIdentity,
		registrar:      registrar,
		backups:        backups,
		admins:         adminSet,
		instanceName:   instanceName,
	}
}

// Identity returns the shard identity.
func (e *Engine) Identity() string {
	return e.store.Identity()
}

// AddEvent validates and stores a new event. When the shard is full the
// pending record is handed to the parent, which lands it on a fresh
// sibling; the caller still sees AtCapacity and must re-resolve the write
// target. A stored record whose attendee registration fails is rolled
// back so the failure leaves no trace.
func (e *Engine) AddEvent(ctx context.Context, caller string, req cluster.AddEventRequest) (*event.Entry, error) {
	entry, overflow, err := e.addEvent(ctx, caller, req)
	if overflow != nil {
		return nil, e.reshard(ctx, overflow)
	}
	return entry, err
}

// addEvent is the locked half of AddEvent. A capacity rejection returns
// the unstored record so the reshard handoff can run without the lock.
func (e *Engine) addEvent(ctx context.Context, caller string, req cluster.AddEventRequest) (*event.Entry, *event.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checker.Check(ctx, caller, req.Group, roles.ActionWrite); err != nil {
		return nil, nil, apierr.Convert(err, "ROLE_CHECK_FAILED", component, "AddEvent")
	}
	if err := validatePost(req.Event); err != nil {
		return nil, nil, err
	}

	now := time.Now().UnixNano()
	record := &event.Event{
		Name:        req.Event.Name,
		Description: req.Event.Description,
		Date:        req.Event.Date,
		Privacy:     req.Event.Privacy,
		Group:       req.Group,
		CreatedBy:   caller,
		Owner:       req.Event.Owner,
		Website:     req.Event.Website,
		Metadata:    req.Event.Metadata,
		Tags:        req.Event.Tags,
		AttendeeCount: map[string]int{
			req.AttendeeSource.Identity: 1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.Owner == "" {
		record.Owner = caller
	}
	if err := record.Validate(); err != nil {
		return nil, nil, apierr.Validation("INVALID_EVENT", err.Error())
	}

	identifier, err := e.store.Add(ctx, record)
	if err != nil {
		if apierr.Is(err, apierr.KindAtCapacity) {
			return nil, record, nil
		}
		return nil, nil, apierr.Convert(err, "STORE_ADD_FAILED", component, "AddEvent")
	}

	if err := e.registrar.Register(ctx, req.AttendeeSource, identifier, record.Owner); err != nil {
		// The record must not outlive a failed registration; hard-delete
		// it and surface the failure.
		if remErr := e.store.Remove(ctx, identifier); remErr != nil {
			log.Printf("[Shard] Failed to roll back event %s: %v", identifier, remErr)
		}
		return nil, nil, apierr.Unauthorized("ATTENDEE_ADD_FAILED",
			fmt.Sprintf("owner registration failed for %s: %v", identifier, err)).At(component, "AddEvent")
	}

	e.logEvent("event_added", map[string]interface{}{"identifier": identifier, "group": record.Group})
	return record.ToEntry(identifier), nil, nil
}

// reshard runs the full-shard saga: hand the pending record to the
// parent, then close this shard locally. The mutex is held only for the
// local reads and the closure, never across the parent call; the parent
// pulls this shard's chunked data while the saga runs. The local closure
// stays committed even if this process dies immediately afterwards; the
// parent has already marked this shard unavailable on its side before
// forwarding.
func (e *Engine) reshard(ctx context.Context, record *event.Event) error {
	entryJSON, err := json.Marshal(record)
	if err != nil {
		return apierr.Convert(err, "RESHARD_FAILED", component, "AddEvent")
	}

	e.mu.Lock()
	root, err := e.store.Root(ctx)
	if err != nil {
		e.mu.Unlock()
		return apierr.Convert(err, "RESHARD_FAILED", component, "AddEvent")
	}
	if !root.Available {
		// A concurrent overflow already ran the saga; this shard is closed.
		e.mu.Unlock()
		return apierr.AtCapacity("SHARD_FULL",
			"shard is closed; re-resolve the write target").At(component, "AddEvent")
	}
	lastSeq, err := e.store.LastSequence(ctx)
	e.mu.Unlock()
	if err != nil {
		return apierr.Convert(err, "RESHARD_FAILED", component, "AddEvent")
	}

	resp, err := e.parent.Reshard(ctx, cluster.ReshardRequest{
		LastSequence: lastSeq,
		Kind:         event.KindEvent,
		Entry:        entryJSON,
	})
	if err != nil {
		return apierr.Convert(err, "RESHARD_FAILED", component, "AddEvent")
	}

	e.mu.Lock()
	if root, err := e.store.Root(ctx); err == nil {
		root.Available = false
		if err := e.store.SetRoot(ctx, root); err != nil {
			log.Printf("[Shard] Failed to close root after reshard: %v", err)
		}
	}
	e.mu.Unlock()

	e.logEvent("resharded", map[string]interface{}{
		"sibling":    resp.Shard.Identity,
		"identifier": resp.Identifier,
	})
	return apierr.AtCapacity("SHARD_FULL",
		fmt.Sprintf("record forwarded to shard %s as %s; re-resolve the write target", resp.Shard.Identity, resp.Identifier)).
		At(component, "AddEvent")
}

// EditEvent overwrites an event's mutable fields. The owner may edit
// without holding a role; anyone else needs the edit permission. The
// owner is re-registered with the attendee source best-effort, a failure
// there never rolls the edit back.
func (e *Engine) EditEvent(ctx context.Context, caller, identifier string, req cluster.EditEventRequest) (*event.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadScoped(ctx, identifier, req.Group, "EditEvent")
	if err != nil {
		return nil, err
	}

	if caller != record.Owner {
		if err := e.checker.Check(ctx, caller, record.Group, roles.ActionEdit); err != nil {
			return nil, apierr.Convert(err, "ROLE_CHECK_FAILED", component, "EditEvent")
		}
	}
	if err := validateUpdate(req.Event); err != nil {
		return nil, err
	}

	record.Name = req.Event.Name
	record.Description = req.Event.Description
	record.Date = req.Event.Date
	record.Privacy = req.Event.Privacy
	record.Website = req.Event.Website
	record.Metadata = req.Event.Metadata
	record.Tags = req.Event.Tags
	if req.Event.Owner != "" {
		record.Owner = req.Event.Owner
	}
	record.UpdatedAt = time.Now().UnixNano()

	if err := record.Validate(); err != nil {
		return nil, apierr.Validation("INVALID_EVENT", err.Error())
	}
	if err := e.store.Update(ctx, identifier, record); err != nil {
		return nil, apierr.Convert(err, "STORE_UPDATE_FAILED", component, "EditEvent")
	}

	if req.AttendeeSource.Identity != "" {
		if err := e.registrar.Register(ctx, req.AttendeeSource, identifier, record.Owner); err != nil {
			log.Printf("[Shard] Owner re-registration failed for %s: %v", identifier, err)
		}
	}

	e.logEvent("event_edited", map[string]interface{}{"identifier": identifier})
	return record.ToEntry(identifier), nil
}

// CancelEvent soft-cancels an event with a reason. Owner bypass, edit
// permission otherwise.
func (e *Engine) CancelEvent(ctx context.Context, caller, identifier string, req cluster.CancelEventRequest) (*event.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadScoped(ctx, identifier, req.Group, "CancelEvent")
	if err != nil {
		return nil, err
	}

	if caller != record.Owner {
		if err := e.checker.Check(ctx, caller, record.Group, roles.ActionEdit); err != nil {
			return nil, apierr.Convert(err, "ROLE_CHECK_FAILED", component, "CancelEvent")
		}
	}

	record.Canceled = event.CancelState{Flag: true, Reason: req.Reason}
	record.UpdatedAt = time.Now().UnixNano()
	if err := e.store.Update(ctx, identifier, record); err != nil {
		return nil, apierr.Convert(err, "STORE_UPDATE_FAILED", component, "CancelEvent")
	}

	e.logEvent("event_canceled", map[string]interface{}{"identifier": identifier})
	return record.ToEntry(identifier), nil
}

// DeleteEvent soft-deletes an event. Owner bypass, delete permission
// otherwise. The row stays behind the flag; identifiers are never reused.
func (e *Engine) DeleteEvent(ctx context.Context, caller, identifier string, req cluster.DeleteEventRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadScoped(ctx, identifier, req.Group, "DeleteEvent")
	if err != nil {
		return err
	}

	if caller != record.Owner {
		if err := e.checker.Check(ctx, caller, record.Group, roles.ActionDelete); err != nil {
			return apierr.Convert(err, "ROLE_CHECK_FAILED", component, "DeleteEvent")
		}
	}

	record.IsDeleted = true
	record.UpdatedAt = time.Now().UnixNano()
	if err := e.store.Update(ctx, identifier, record); err != nil {
		return apierr.Convert(err, "STORE_UPDATE_FAILED", component, "DeleteEvent")
	}

	e.logEvent("event_deleted", map[string]interface{}{"identifier": identifier})
	return nil
}

// UpdateAttendeeCount replaces one counting source's attendee count. Only
// the source itself may report its count.
func (e *Engine) UpdateAttendeeCount(ctx context.Context, caller, identifier string, req cluster.AttendeeCountRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != req.Source {
		return apierr.Unauthorized("SOURCE_MISMATCH",
			fmt.Sprintf("caller %s cannot report counts for source %s", caller, req.Source)).
			At(component, "UpdateAttendeeCount")
	}
	if req.Count < 0 {
		return apierr.Validation("NEGATIVE_COUNT", "attendee count cannot be negative")
	}

	parsed, err := event.ParseIdentifier(identifier)
	if err != nil {
		return apierr.BadRequest("MALFORMED_IDENTIFIER", err.Error()).At(component, "UpdateAttendeeCount")
	}
	if parsed.Kind != event.KindEvent {
		return apierr.BadRequest("INVALID_KIND",
			fmt.Sprintf("identifier kind %q is not an event", parsed.Kind)).At(component, "UpdateAttendeeCount")
	}

	record, err := e.load(ctx, identifier, "UpdateAttendeeCount")
	if err != nil {
		return err
	}

	record.AttendeeCount[req.Source] = req.Count
	record.UpdatedAt = time.Now().UnixNano()
	if err := e.store.Update(ctx, identifier, record); err != nil {
		return apierr.Convert(err, "STORE_UPDATE_FAILED", component, "UpdateAttendeeCount")
	}
	return nil
}

// load fetches a live (non-deleted) event or reports NotFound.
func (e *Engine) load(ctx context.Context, identifier, method string) (*event.Event, error) {
	record, err := e.store.Get(ctx, identifier)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apierr.NotFound("EVENT_NOT_FOUND",
				fmt.Sprintf("no event %s on this shard", identifier)).At(component, method)
		}
		return nil, apierr.Convert(err, "STORE_GET_FAILED", component, method)
	}
	if record.IsDeleted {
		return nil, apierr.NotFound("EVENT_NOT_FOUND",
			fmt.Sprintf("no event %s on this shard", identifier)).At(component, method)
	}
	return record, nil
}

// loadScoped is load plus the optional group scope: a caller asking for
// an event through the wrong group learns nothing beyond NotFound.
func (e *Engine) loadScoped(ctx context.Context, identifier, group, method string) (*event.Event, error) {
	record, err := e.load(ctx, identifier, method)
	if err != nil {
		return nil, err
	}
	if group != "" && record.Group != group {
		return nil, apierr.NotFound("EVENT_NOT_FOUND",
			fmt.Sprintf("no event %s in group %s", identifier, group)).At(component, method)
	}
	return record, nil
}

func validatePost(in event.PostEvent) error {
	return validateFields(in.Name, in.Description, in.Website, len(in.Tags))
}

func validateUpdate(in event.UpdateEvent) error {
	return validateFields(in.Name, in.Description, in.Website, len(in.Tags))
}

func validateFields(name, description, website string, tags int) error {
	if err := validate.StringLength("name", name, 3, 64); err != nil {
		return err
	}
	if err := validate.StringLength("description", description, 0, 500); err != nil {
		return err
	}
	if err := validate.StringLength("website", website, 0, 200); err != nil {
		return err
	}
	return validate.Count("tags", tags, 50)
}

// logEvent emits a structured JSON log line.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = component
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Shard] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
