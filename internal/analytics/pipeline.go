// Package analytics is the de-identification pipeline. Events are gated on
// consent, stripped to coarse buckets, counted in memory and flushed into
// aggregate rows. Raw identifiers never reach the aggregate tables, and
// queries only return buckets with at least k people behind them.
package analytics

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/database"
	"github.com/sahay/backend/internal/metrics"
)

// Store is the subset of the database layer the pipeline needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*core.Profile, error)
	InsertAnalyticsEvent(ctx context.Context, e *core.AnalyticsEvent) error
	IncrementAggregate(ctx context.Context, a *core.AggregatedEvent) error
	QueryAggregates(ctx context.Context, f database.AggregateFilter) ([]core.AggregatedEvent, error)
}

// Runner executes fn transactionally against a Store.
type Runner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// ConsentGate answers whether a data-sharing consent is in force.
type ConsentGate interface {
	IsGranted(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, asOf time.Time) (bool, error)
}

// Config tunes the pipeline.
type Config struct {
	KThreshold      int
	BufferSize      int
	TimeBucket      time.Duration
	GeoPrefixDigits int
}

func (c Config) withDefaults() Config {
	if c.KThreshold <= 0 {
		c.KThreshold = 5
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.TimeBucket <= 0 {
		c.TimeBucket = 15 * time.Minute
	}
	if c.GeoPrefixDigits <= 0 {
		c.GeoPrefixDigits = 3
	}
	return c
}

// buffered is one de-identified event waiting for flush. The audit user id
// travels alongside for the raw audit row but never into an aggregate.
type buffered struct {
	auditUserID string
	eventType   string
	category    string
	bucket      time.Time
	geoCell     string
	ageBucket   string
	gender      string
	payload     []byte
}

// Pipeline buffers de-identified events and flushes them into aggregates.
type Pipeline struct {
	runner  Runner
	consent ConsentGate
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	buffer []buffered
}

func NewPipeline(runner Runner, consent ConsentGate, cfg Config, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		runner:  runner,
		consent: consent,
		cfg:     cfg.withDefaults(),
		metrics: m,
		now:     time.Now,
	}
}

// ValidateEvent reports why an event would be dropped. Internal emitters
// rely on Emit's silent-drop behavior; the HTTP ingest path calls this first
// so a client gets a validation error instead of a hollow accept.
func ValidateEvent(eventType string, payload map[string]interface{}) error {
	if !allowedEventTypes[eventType] {
		return core.Ef(core.KindValidation, "unknown event type %q", eventType)
	}
	if payload == nil {
		return nil
	}
	if !payloadClean(payload) {
		return core.E(core.KindValidation, "payload carries a disallowed key")
	}
	if category, _ := payload["category"].(string); !categoryAllowed(category) {
		return core.Ef(core.KindValidation, "category %q is not in the allow-list", category)
	}
	return nil
}

// Emit ingests one event. It silently drops anything that fails a privacy
// check: an unknown event type, missing consent, or a payload carrying an
// identifying key. Emission must never fail the calling operation.
func (p *Pipeline) Emit(ctx context.Context, userID, eventType string, payload map[string]interface{}) {
	if !allowedEventTypes[eventType] {
		log.Printf("analytics: dropped event with unknown type %q", eventType)
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if !payloadClean(payload) {
		log.Printf("analytics: dropped %s event carrying a disallowed key", eventType)
		return
	}
	if category, _ := payload["category"].(string); !categoryAllowed(category) {
		log.Printf("analytics: dropped %s event with category outside the allow-list", eventType)
		return
	}

	now := p.now().UTC()
	granted, err := p.consent.IsGranted(ctx, userID, core.ConsentAnalytics, core.ScopeGovAggregated, now)
	if err != nil {
		log.Printf("analytics: consent check failed, dropping %s event: %v", eventType, err)
		return
	}
	if !granted {
		return
	}

	var profile *core.Profile
	if err := p.runner.InTx(ctx, func(s Store) error {
		var err error
		profile, err = s.GetProfile(ctx, userID)
		return err
	}); err != nil {
		log.Printf("analytics: profile load failed, dropping %s event: %v", eventType, err)
		return
	}

	category, _ := payload["category"].(string)
	b := buffered{
		auditUserID: userID,
		eventType:   eventType,
		category:    category,
		bucket:      timeBucket(now, p.cfg.TimeBucket),
		geoCell:     "unknown",
		ageBucket:   "unknown",
		gender:      "unknown",
	}
	if profile != nil {
		b.geoCell = geoCell(profile.Pincode, p.cfg.GeoPrefixDigits)
		b.ageBucket = ageBucket(profile.Age)
		b.gender = genderBucket(profile.Sex)
	}
	if raw, err := json.Marshal(payload); err == nil {
		b.payload = raw
	} else {
		b.payload = []byte("{}")
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, b)
	full := len(p.buffer) >= p.cfg.BufferSize
	size := len(p.buffer)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.AnalyticsBuffer.Set(float64(size))
	}
	if full {
		if err := p.Flush(ctx); err != nil {
			log.Printf("analytics: flush failed: %v", err)
		}
	}
}

// Flush drains the buffer into aggregate rows and raw audit rows in one
// transaction. On failure the drained events are requeued.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := p.runner.InTx(ctx, func(s Store) error {
		type key struct {
			eventType, category, geoCell, ageBucket, gender string
			bucket                                          time.Time
		}
		counts := make(map[key]int64)

		now := p.now().UTC()
		for _, b := range batch {
			if err := s.InsertAnalyticsEvent(ctx, &core.AnalyticsEvent{
				ID:          uuid.New().String(),
				AuditUserID: b.auditUserID,
				EventType:   b.eventType,
				PayloadJSON: b.payload,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			counts[key{b.eventType, b.category, b.geoCell, b.ageBucket, b.gender, b.bucket}]++
		}

		for k, n := range counts {
			if err := s.IncrementAggregate(ctx, &core.AggregatedEvent{
				EventType:  k.eventType,
				Category:   k.category,
				TimeBucket: k.bucket,
				GeoCell:    k.geoCell,
				AgeBucket:  k.ageBucket,
				Gender:     k.gender,
				Count:      n,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		p.mu.Unlock()
		return err
	}

	if p.metrics != nil {
		p.metrics.AnalyticsFlushes.Inc()
		p.mu.Lock()
		p.metrics.AnalyticsBuffer.Set(float64(len(p.buffer)))
		p.mu.Unlock()
	}
	return nil
}

// QueryFilter narrows an aggregate query.
type QueryFilter struct {
	EventType string
	Category  string
	GeoCell   string
	From      time.Time
	To        time.Time
}

// Query returns aggregate rows, k-anonymity enforced: no bucket with fewer
// than k events is ever returned, regardless of the caller's role.
func (p *Pipeline) Query(ctx context.Context, f QueryFilter) ([]core.AggregatedEvent, error) {
	var out []core.AggregatedEvent
	err := p.runner.InTx(ctx, func(s Store) error {
		var err error
		out, err = s.QueryAggregates(ctx, database.AggregateFilter{
			EventType: f.EventType,
			Category:  f.Category,
			GeoCell:   f.GeoCell,
			From:      f.From,
			To:        f.To,
			MinCount:  int64(p.cfg.KThreshold),
		})
		return err
	})
	return out, err
}

// BufferLen reports the current buffer depth.
func (p *Pipeline) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
