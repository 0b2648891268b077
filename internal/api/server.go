// Package api assembles the HTTP server: services, middleware chain and the
// versioned route table.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sahay/backend/internal/analytics"
	"github.com/sahay/backend/internal/anchor"
	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/auth"
	"github.com/sahay/backend/internal/complaints"
	"github.com/sahay/backend/internal/config"
	"github.com/sahay/backend/internal/consent"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/dashboard"
	"github.com/sahay/backend/internal/database"
	"github.com/sahay/backend/internal/evidence"
	"github.com/sahay/backend/internal/handlers"
	"github.com/sahay/backend/internal/metrics"
	"github.com/sahay/backend/internal/middleware"
	"github.com/sahay/backend/internal/outbox"
	"github.com/sahay/backend/internal/scheduler"
	"github.com/sahay/backend/internal/syncgw"
	"github.com/sahay/backend/internal/tele"
	"github.com/sahay/backend/internal/triage"
)

// buildVersion is overridden at release time via -ldflags.
var buildVersion = "dev"

// Server owns the service graph and the HTTP listener.
type Server struct {
	cfg     *config.Config
	store   *database.Store
	rdb     *redis.Client
	metrics *metrics.Metrics

	auth       *auth.Service
	consents   *consent.Registry
	sync       *syncgw.Gateway
	triage     *triage.Engine
	tele       *tele.Service
	complaints *complaints.Engine
	pipeline   *analytics.Pipeline
	dashboard  *dashboard.Service
	vault      *evidence.Vault
	dispatcher *outbox.Dispatcher

	anchorWorker *anchor.Worker
	sched        *scheduler.Scheduler
	httpServer   *http.Server
}

// New wires the full service graph. backend is nil when anchoring is
// disabled; complaints then skip anchor scheduling entirely.
func New(cfg *config.Config, store *database.Store, rdb *redis.Client, backend anchor.Backend) (*Server, error) {
	m := metrics.New()

	vault, err := evidence.NewVault(cfg.Evidence.Dir)
	if err != nil {
		return nil, err
	}

	consents := consent.NewRegistry(store, cfg.Consent.CurrentVersion)
	pipeline := analytics.NewPipeline(analyticsRunner{store}, consents, analytics.Config{
		KThreshold:      cfg.Analytics.KThreshold,
		BufferSize:      cfg.Analytics.BufferSize,
		TimeBucket:      time.Duration(cfg.Analytics.TimeBucketMins) * time.Minute,
		GeoPrefixDigits: cfg.Analytics.GeoPrefixDigits,
	}, m)

	gateway, err := syncgw.NewGateway(syncRunner{store}, cfg.Sync.MaxBatchSize, m)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		rdb:        rdb,
		metrics:    m,
		auth:       auth.NewService(store),
		consents:   consents,
		sync:       gateway,
		triage:     triage.NewEngine(triageRunner{store}, pipeline, m),
		tele:       tele.NewService(teleRunner{store}, consents, pipeline),
		pipeline:   pipeline,
		dashboard:  dashboard.NewService(store, m),
		vault:      vault,
		dispatcher: outbox.NewDispatcher(outboxRunner{store}),
	}
	s.dispatcher.RegisterSender("sms", outbox.LogSender{})

	var anchorQueue complaints.AnchorQueue
	if backend != nil && rdb != nil {
		s.anchorWorker = anchor.NewWorker(anchorRunner{store}, backend, rdb, m,
			time.Duration(cfg.Anchor.MaxRetrySeconds)*time.Second)
		anchorQueue = anchor.NewQueue(rdb)
	}

	s.complaints = complaints.NewEngine(complaintsRunner{store}, consents, pipeline,
		anchorQueue, m, func(category string, level core.EscalationLevel) time.Duration {
			return cfg.SLAFor(category, string(level))
		})

	s.sched = s.buildScheduler()
	return s, nil
}

// buildScheduler registers the periodic jobs. Cross-instance jobs take a
// Postgres advisory lock; the analytics flush drains a per-process buffer
// and runs everywhere.
func (s *Server) buildScheduler() *scheduler.Scheduler {
	sched := scheduler.New(s.store)
	sched.Add(scheduler.Job{
		Name:      "sla_escalation",
		Interval:  time.Duration(s.cfg.Scheduler.SLAIntervalS) * time.Second,
		Exclusive: true,
		Run: func(ctx context.Context) error {
			n, err := s.complaints.EscalateOverdue(ctx, 100)
			if n > 0 {
				log.Printf("sla: escalated %d overdue complaints", n)
			}
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:     "analytics_flush",
		Interval: time.Duration(s.cfg.Analytics.FlushIntervalS) * time.Second,
		Run:      s.pipeline.Flush,
	})
	sched.Add(scheduler.Job{
		Name:      "view_refresh",
		Interval:  time.Duration(s.cfg.Dashboard.RefreshIntervalS) * time.Second,
		Exclusive: true,
		Run:       s.dashboard.RefreshAll,
	})
	sched.Add(scheduler.Job{
		Name:      "outbox_dispatch",
		Interval:  time.Duration(s.cfg.Scheduler.OutboxIntervalS) * time.Second,
		Exclusive: true,
		Run: func(ctx context.Context) error {
			_, err := s.dispatcher.Dispatch(ctx)
			return err
		},
	})
	if s.anchorWorker != nil {
		sched.Add(scheduler.Job{
			Name:      "anchor_sweep",
			Interval:  time.Duration(s.cfg.Scheduler.AnchorIntervalS) * time.Second,
			Exclusive: true,
			Run: func(ctx context.Context) error {
				return s.anchorWorker.Sweep(ctx, 50)
			},
		})
	}
	return sched
}

// Router builds the full route table with the middleware chain.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.Logging(s.metrics))

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", handlers.Health(s.store, s.rdb)).Methods(http.MethodGet)
	r.HandleFunc("/version", handlers.Version(buildVersion)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes are limited per source IP; there is no identity yet.
	api.Handle("/auth/register", limiter.Middleware(handlers.Register(s.auth))).Methods(http.MethodPost)
	api.Handle("/auth/login", limiter.Middleware(handlers.Login(s.auth))).Methods(http.MethodPost)

	// Authenticated routes. The limiter runs after Auth so its key is the
	// user id, not the client address.
	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Auth(s.auth), limiter.Middleware)

	authed.HandleFunc("/auth/logout", handlers.Logout(s.auth)).Methods(http.MethodPost)
	authed.HandleFunc("/auth/me", handlers.Me()).Methods(http.MethodGet)

	authed.HandleFunc("/consents", handlers.SetConsent(s.consents)).Methods(http.MethodPost)
	authed.HandleFunc("/consents", handlers.ConsentHistory(s.consents)).Methods(http.MethodGet)

	authed.HandleFunc("/sync/batch", handlers.SyncBatch(s.sync)).Methods(http.MethodPost)

	authed.HandleFunc("/analytics/events", handlers.EmitAnalyticsEvent(s.pipeline, s.consents)).Methods(http.MethodPost)
	authed.HandleFunc("/export/profile", handlers.ExportProfile(s.store)).Methods(http.MethodGet)

	authed.HandleFunc("/triage", handlers.RunTriage(s.triage)).Methods(http.MethodPost)
	authed.HandleFunc("/triage", handlers.TriageHistory(s.triage)).Methods(http.MethodGet)
	authed.HandleFunc("/triage/{id}", handlers.GetTriageSession(s.triage)).Methods(http.MethodGet)

	authed.HandleFunc("/tele/requests", handlers.CreateTeleRequest(s.tele)).Methods(http.MethodPost)
	authed.HandleFunc("/tele/requests", handlers.MyTeleRequests(s.tele)).Methods(http.MethodGet)
	authed.HandleFunc("/tele/requests/{id}/prescription", handlers.GetPrescription(s.tele)).Methods(http.MethodGet)

	clinician := authed.NewRoute().Subrouter()
	clinician.Use(middleware.RequireRole(core.RoleClinician))
	clinician.HandleFunc("/tele/queue", handlers.TeleQueue(s.tele)).Methods(http.MethodGet)
	clinician.HandleFunc("/tele/requests/{id}/claim", handlers.ClaimTele(s.tele)).Methods(http.MethodPost)
	clinician.HandleFunc("/tele/requests/{id}/start", handlers.StartTele(s.tele)).Methods(http.MethodPost)
	clinician.HandleFunc("/tele/requests/{id}/complete", handlers.CompleteTele(s.tele)).Methods(http.MethodPost)
	clinician.HandleFunc("/tele/requests/{id}/prescription", handlers.Prescribe(s.tele)).Methods(http.MethodPost)

	authed.HandleFunc("/complaints", handlers.SubmitComplaint(s.complaints)).Methods(http.MethodPost)
	authed.HandleFunc("/complaints/mine", handlers.MyComplaints(s.complaints)).Methods(http.MethodGet)
	authed.HandleFunc("/complaints/{id}", handlers.GetComplaint(s.complaints)).Methods(http.MethodGet)
	authed.HandleFunc("/complaints/{id}/history", handlers.ComplaintHistory(s.complaints)).Methods(http.MethodGet)
	authed.HandleFunc("/complaints/{id}/close", handlers.CloseComplaint(s.complaints)).Methods(http.MethodPost)
	authed.HandleFunc("/complaints/{id}/evidence", handlers.UploadEvidence(s.complaints, s.vault, s.store)).Methods(http.MethodPost)
	authed.HandleFunc("/complaints/{id}/evidence", handlers.ListEvidence(s.complaints, s.store)).Methods(http.MethodGet)
	authed.HandleFunc("/complaints/{id}/anchor", handlers.ComplaintAnchor(s.complaints, s.store)).Methods(http.MethodGet)

	officer := authed.NewRoute().Subrouter()
	officer.Use(middleware.RequireRole(core.OfficerRoles...))
	officer.HandleFunc("/complaints", handlers.ComplaintsByStatus(s.complaints)).Methods(http.MethodGet)
	officer.HandleFunc("/complaints/{id}/transition", handlers.TransitionComplaint(s.complaints)).Methods(http.MethodPost)
	officer.HandleFunc("/analytics/aggregates", handlers.QueryAggregates(s.pipeline)).Methods(http.MethodGet)
	officer.HandleFunc("/dashboard/health-trends", handlers.HealthTrends(s.dashboard)).Methods(http.MethodGet)
	officer.HandleFunc("/dashboard/complaint-stats", handlers.ComplaintStats(s.dashboard)).Methods(http.MethodGet)
	officer.HandleFunc("/dashboard/neuro-screenings", handlers.NeuroScreenings(s.dashboard)).Methods(http.MethodGet)
	officer.HandleFunc("/dashboard/tele-activity", handlers.TeleActivity(s.dashboard)).Methods(http.MethodGet)
	officer.HandleFunc("/dashboard/stats", handlers.DashboardStats(s.dashboard)).Methods(http.MethodGet)
	officer.HandleFunc("/dashboard/refresh", handlers.RefreshViews(s.dashboard)).Methods(http.MethodPost)
	officer.HandleFunc("/sla-rules", handlers.ListSLARules(s.store)).Methods(http.MethodGet)
	officer.HandleFunc("/audit/verify", handlers.VerifyAuditChain(audit.NewChain(s.store))).Methods(http.MethodGet)
	officer.HandleFunc("/audit/trail", handlers.AuditTrail(audit.NewChain(s.store))).Methods(http.MethodGet)

	admin := authed.NewRoute().Subrouter()
	admin.Use(middleware.RequireRole(core.RoleNationalAdmin))
	admin.HandleFunc("/admin/roles", handlers.GrantRole(s.auth)).Methods(http.MethodPost)
	admin.HandleFunc("/sla-rules", handlers.PutSLARule(s.store)).Methods(http.MethodPost)

	return r
}

// Start runs the scheduler, the anchor worker and the HTTP listener. It
// blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	if err := s.dashboard.Init(ctx, s.cfg.Analytics.KThreshold); err != nil {
		return fmt.Errorf("init dashboard views: %w", err)
	}
	if err := s.seedSLARules(ctx); err != nil {
		return fmt.Errorf("seed sla rules: %w", err)
	}

	s.sched.Start(ctx)
	if s.anchorWorker != nil {
		go s.anchorWorker.Run(ctx)
	}

	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("api: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// seedSLARules upserts the configured per-category deadlines so the rules
// table always reflects config at boot. Operator edits made through the API
// survive restarts only for pairs the config does not name.
func (s *Server) seedSLARules(ctx context.Context) error {
	for category, lv := range s.cfg.SLA.Categories {
		for level, hours := range map[core.EscalationLevel]int{
			core.LevelDistrict: lv.District,
			core.LevelState:    lv.State,
			core.LevelNational: lv.National,
		} {
			if hours <= 0 {
				continue
			}
			rule := &core.SLARule{
				ID:             uuid.NewString(),
				Category:       category,
				Level:          level,
				TimeLimitHours: hours,
			}
			if err := s.store.UpsertSLARule(ctx, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shutdown drains in-flight requests, stops the jobs and flushes the
// analytics buffer.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.sched.Stop()
	if flushErr := s.pipeline.Flush(ctx); flushErr != nil {
		log.Printf("api: final analytics flush failed: %v", flushErr)
	}
	return err
}
