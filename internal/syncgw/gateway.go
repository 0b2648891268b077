// Package syncgw is the offline-first sync gateway. Devices upload batches
// of events; each event is idempotent by event_id, mergeable entities use
// last-write-wins on client time, and append-only entities only accept
// creates. Every item gets an explicit outcome so the device can settle its
// local queue.
package syncgw

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/metrics"
)

// MaxBatchSize is the default cap on items per upload.
const MaxBatchSize = 500

// Wire operations. Devices may send any casing; the gateway normalizes
// before matching.
const (
	opCreate = "CREATE"
	opUpdate = "UPDATE"
	opDelete = "DELETE"
)

// Store is the subset of the database layer one sync item needs. All calls
// for a single item run inside one transaction.
type Store interface {
	GetSyncEvent(ctx context.Context, eventID string) (*core.SyncEvent, error)
	RecordSyncEvent(ctx context.Context, e *core.SyncEvent) error
	GetProfile(ctx context.Context, userID string) (*core.Profile, error)
	UpsertProfile(ctx context.Context, p *core.Profile) error
	InsertVitalsLog(ctx context.Context, id, userID, kind, value string, unit *string, measuredAt time.Time) error
	InsertMoodLog(ctx context.Context, id, userID string, moodScale int, loggedAt time.Time) error
	InsertWaterLog(ctx context.Context, id, userID string, amountML int, loggedAt time.Time) error
	LastAuditEntryForUpdate(ctx context.Context) (*core.AuditEntry, error)
	InsertAuditEntry(ctx context.Context, e *core.AuditEntry) error
	AuditEntriesRange(ctx context.Context, from, to int64) ([]core.AuditEntry, error)
	AuditEntriesForEntity(ctx context.Context, entityType, entityID string) ([]core.AuditEntry, error)
}

// Runner executes fn transactionally against a Store.
type Runner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Item is one uploaded event.
type Item struct {
	EventID    string          `json:"event_id"`
	EntityType string          `json:"entity_type"`
	Operation  string          `json:"operation"`
	ClientTime time.Time       `json:"client_time"`
	Payload    json.RawMessage `json:"payload"`
	// UserID is the subject the device claims; it must match the
	// authenticated caller.
	UserID string `json:"user_id"`
}

// Result is the per-item outcome returned to the device.
type Result struct {
	EventID string           `json:"event_id"`
	Outcome core.SyncOutcome `json:"outcome"`
}

// Gateway processes sync batches.
type Gateway struct {
	runner   Runner
	schemas  map[string]*jsonschema.Schema
	metrics  *metrics.Metrics
	maxBatch int
	now      func() time.Time
}

// NewGateway compiles the entity schemas. maxBatch <= 0 falls back to
// MaxBatchSize.
func NewGateway(runner Runner, maxBatch int, m *metrics.Metrics) (*Gateway, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if maxBatch <= 0 {
		maxBatch = MaxBatchSize
	}
	return &Gateway{runner: runner, schemas: schemas, metrics: m, maxBatch: maxBatch, now: time.Now}, nil
}

// ProcessBatch applies each item in its own transaction so one poisoned item
// cannot roll back its neighbours. Items are processed in upload order.
func (g *Gateway) ProcessBatch(ctx context.Context, userID, deviceID string, items []Item) ([]Result, error) {
	if len(items) > g.maxBatch {
		return nil, core.Ef(core.KindValidation, "batch exceeds %d items", g.maxBatch)
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		outcome := g.processItem(ctx, userID, deviceID, item)
		if g.metrics != nil {
			g.metrics.SyncItems.WithLabelValues(string(outcome)).Inc()
		}
		results = append(results, Result{EventID: item.EventID, Outcome: outcome})
	}
	return results, nil
}

func (g *Gateway) processItem(ctx context.Context, userID, deviceID string, item Item) core.SyncOutcome {
	var outcome core.SyncOutcome
	err := g.runner.InTx(ctx, func(s Store) error {
		var err error
		outcome, err = g.applyItem(ctx, s, userID, deviceID, item)
		return err
	})
	if err != nil {
		log.Printf("sync: event %s failed transiently: %v", item.EventID, err)
		return core.SyncRejected("transient")
	}
	return outcome
}

func (g *Gateway) applyItem(ctx context.Context, s Store, userID, deviceID string, item Item) (core.SyncOutcome, error) {
	// Idempotency first: a replayed event_id returns duplicate without
	// re-validating, so an event once accepted stays settled even if the
	// schema later tightens.
	if item.EventID != "" {
		prior, err := s.GetSyncEvent(ctx, item.EventID)
		if err != nil {
			return "", err
		}
		if prior != nil {
			return core.SyncDuplicate, nil
		}
	}

	outcome := g.validateAndApply(ctx, s, userID, item)

	record := &core.SyncEvent{
		EventID:    item.EventID,
		UserID:     userID,
		DeviceID:   deviceID,
		EntityType: item.EntityType,
		Operation:  strings.ToUpper(item.Operation),
		ClientTime: item.ClientTime.UTC(),
		ServerTime: g.now().UTC(),
		Payload:    item.Payload,
		Outcome:    string(outcome),
	}
	if record.EventID == "" {
		// Still record the rejection for diagnostics.
		record.EventID = uuid.New().String()
	}
	if record.Payload == nil {
		record.Payload = []byte("null")
	}
	if err := s.RecordSyncEvent(ctx, record); err != nil {
		return "", err
	}

	chain := audit.NewChain(s)
	_, err := chain.Append(ctx, audit.Record{
		ActorUserID: &userID,
		Action:      "sync." + string(outcome),
		EntityType:  "sync_event",
		EntityID:    &record.EventID,
		DeviceID:    &deviceID,
	})
	return outcome, err
}

func (g *Gateway) validateAndApply(ctx context.Context, s Store, userID string, item Item) core.SyncOutcome {
	if item.EventID == "" {
		return core.SyncRejected("invalid_payload")
	}
	if item.UserID != "" && item.UserID != userID {
		return core.SyncRejected("user_mismatch")
	}

	op := strings.ToUpper(item.Operation)
	switch op {
	case opCreate, opUpdate, opDelete:
	default:
		return core.SyncRejected("invalid_payload")
	}

	schema, ok := g.schemas[item.EntityType]
	if !ok {
		return core.SyncRejected("invalid_entity")
	}
	if appendOnlyEntities[item.EntityType] && op != opCreate {
		return core.SyncRejected("append_only")
	}
	if item.ClientTime.IsZero() {
		return core.SyncRejected("invalid_payload")
	}

	var payload interface{}
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return core.SyncRejected("invalid_payload")
	}
	if err := schema.Validate(payload); err != nil {
		return core.SyncRejected("invalid_payload")
	}

	apply, err := g.applyEntity(ctx, s, userID, op, item)
	if err != nil {
		// Bubble the database error so the tx rolls back and the device
		// retries; apply covers LWW staleness itself.
		log.Printf("sync: apply %s/%s: %v", item.EntityType, item.EventID, err)
		return core.SyncRejected("transient")
	}
	return apply
}

func (g *Gateway) applyEntity(ctx context.Context, s Store, userID, op string, item Item) (core.SyncOutcome, error) {
	switch item.EntityType {
	case "profile":
		return g.applyProfile(ctx, s, userID, op, item)
	case "vitals":
		var p struct {
			Kind       string    `json:"kind"`
			Value      string    `json:"value"`
			Unit       *string   `json:"unit"`
			MeasuredAt time.Time `json:"measured_at"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return core.SyncRejected("invalid_payload"), nil
		}
		return core.SyncAccepted, s.InsertVitalsLog(ctx, uuid.New().String(), userID, p.Kind, p.Value, p.Unit, p.MeasuredAt.UTC())
	case "mood":
		var p struct {
			MoodScale int       `json:"mood_scale"`
			LoggedAt  time.Time `json:"logged_at"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return core.SyncRejected("invalid_payload"), nil
		}
		return core.SyncAccepted, s.InsertMoodLog(ctx, uuid.New().String(), userID, p.MoodScale, p.LoggedAt.UTC())
	case "water":
		var p struct {
			AmountML int       `json:"amount_ml"`
			LoggedAt time.Time `json:"logged_at"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return core.SyncRejected("invalid_payload"), nil
		}
		return core.SyncAccepted, s.InsertWaterLog(ctx, uuid.New().String(), userID, p.AmountML, p.LoggedAt.UTC())
	}
	return core.SyncRejected("invalid_entity"), nil
}

// applyProfile merges with last-write-wins on client time. A strictly newer
// write wins; an equal timestamp falls back to the lexicographically greater
// event_id so two replicas converge on the same winner; anything older is
// stale. DELETE clears the demographic fields but keeps the row, so the
// tombstone still carries the winning client time.
func (g *Gateway) applyProfile(ctx context.Context, s Store, userID, op string, item Item) (core.SyncOutcome, error) {
	current, err := s.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}

	if current != nil && current.ClientTime != nil {
		ct := item.ClientTime.UTC()
		cur := current.ClientTime.UTC()
		switch {
		case ct.After(cur):
			// newer, proceed
		case ct.Equal(cur):
			if current.ClientEventID != nil && item.EventID <= *current.ClientEventID {
				return core.SyncRejected("stale"), nil
			}
		default:
			return core.SyncRejected("stale"), nil
		}
	}

	var p struct {
		FullName *string `json:"full_name"`
		Age      *int    `json:"age"`
		Sex      *string `json:"sex"`
		Pincode  *string `json:"pincode"`
	}
	if op != opDelete {
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return core.SyncRejected("invalid_payload"), nil
		}
	}

	ct := item.ClientTime.UTC()
	next := &core.Profile{
		ID:            uuid.New().String(),
		UserID:        userID,
		FullName:      p.FullName,
		Age:           p.Age,
		Sex:           p.Sex,
		Pincode:       p.Pincode,
		ClientTime:    &ct,
		ClientEventID: &item.EventID,
		CreatedAt:     g.now().UTC(),
	}
	if current != nil {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
	}
	if err := s.UpsertProfile(ctx, next); err != nil {
		return "", err
	}
	return core.SyncAccepted, nil
}
