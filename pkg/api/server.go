package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/allocator"
	"github.com/voltmesh/dlm-go/pkg/breaker"
	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/config"
	"github.com/voltmesh/dlm-go/pkg/constraints"
	"github.com/voltmesh/dlm-go/pkg/control"
	"github.com/voltmesh/dlm-go/pkg/discovery"
	"github.com/voltmesh/dlm-go/pkg/failsafe"
	"github.com/voltmesh/dlm-go/pkg/metrics"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/schedule"
	"github.com/voltmesh/dlm-go/pkg/shedding"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Deps wires the server to the rest of the service. Store, Events, and
// Config are required; optional fields disable their endpoints when
// nil.
type Deps struct {
	Store        *store.Store
	Events       *bus.Bus
	Config       *config.Config
	Capabilities *capability.Registry
	AC           *control.AC
	DC           *control.DC
	Dispatcher   *control.Dispatcher
	Drivers      control.DriverSource
	Constraints  *constraints.Evaluator
	Shedding     *shedding.Controller
	Allocator    *allocator.Allocator
	FailSafe     *failsafe.Manager
	Scheduler    *schedule.Scheduler
	Discovery    *discovery.Manager
	Metrics      *metrics.Metrics
	Logger       *zap.Logger

	// Breakers supplies the per-endpoint circuit breakers for the
	// health endpoints.
	Breakers func() map[string]*breaker.Breaker

	// AuditPath is the audit log file for bounded queries.
	AuditPath string

	// Provision is called after a station is registered: driver
	// connection and capability discovery. Deprovision after removal.
	Provision   func(ctx context.Context, st model.Station) error
	Deprovision func(ctx context.Context, st model.Station)

	// Interrogator supplies the protocol-level capability interrogator
	// for a station. Nil falls back to the conservative envelope.
	Interrogator func(st model.Station) capability.Interrogator
}

// Server is the HTTP control surface.
type Server struct {
	deps    Deps
	logger  *zap.Logger
	hub     *Hub
	started time.Time
}

// New creates the server and its push hub.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	return &Server{
		deps:    deps,
		logger:  logger,
		hub:     NewHub(deps.Events, deps.Store, deps.Config, deps.Metrics, logger),
		started: time.Now(),
	}
}

// Hub returns the push hub for supervision.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.hub.Handle)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		r.Route("/stations", func(r chi.Router) {
			r.Get("/", s.handleListStations)
			r.Post("/", s.handleRegisterStation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetStation)
				r.Patch("/", s.handleUpdateStation)
				r.Delete("/", s.handleRemoveStation)
				r.Post("/power", s.handleSetPower)
				r.Post("/sessions/start", s.handleStartSession)
				r.Post("/sessions/stop", s.handleStopSession)
			})
		})

		r.Route("/load", func(r chi.Router) {
			r.Get("/status", s.handleLoadStatus)
			r.Get("/capacity", s.handleCapacity)
			r.Put("/limits", s.handleSetLimits)
			r.Get("/history", s.handleHistory)
			r.Post("/rebalance", s.handleRebalance)
			r.Get("/zones", s.handleGetZones)
			r.Put("/zones", s.handleSetZones)
			r.Get("/phases", s.handlePhaseBalance)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleAddSchedule)
			r.Delete("/{id}", s.handleRemoveSchedule)
		})

		r.Route("/meters", func(r chi.Router) {
			r.Get("/", s.handleListMeters)
			r.Post("/", s.handleRegisterMeter)
			r.Get("/{id}", s.handleGetMeter)
			r.Delete("/{id}", s.handleRemoveMeter)
		})

		r.Route("/energy", func(r chi.Router) {
			r.Get("/pv", s.handleGetPV)
			r.Put("/pv", s.handleSetPV)
			r.Get("/consumption", s.handleConsumption)
			r.Get("/cost", s.handleCost)
		})

		r.Route("/control", func(r chi.Router) {
			r.Get("/discovery", s.handleDiscoveryCandidates)
			r.Get("/taper", s.handleGetTaper)
			r.Put("/taper", s.handleSetTaper)
			r.Route("/stations/{id}", func(r chi.Router) {
				r.Get("/capability", s.handleGetCapability)
				r.Post("/discover", s.handleDiscoverCapability)
				r.Post("/phases", s.handleSetPhases)
				r.Post("/ramp", s.handleRampPhases)
				r.Post("/dc/power", s.handleSetDCPower)
				r.Post("/dc/current", s.handleSetDCCurrent)
				r.Post("/soc", s.handleUpdateSoC)
				r.Post("/v2g", s.handleSetV2G)
			})
		})

		r.Route("/health", func(r chi.Router) {
			r.Get("/shedding", s.handleSheddingStatus)
			r.Put("/shedding", s.handleConfigureShedding)
			r.Get("/constraints", s.handleConstraintsStatus)
			r.Get("/violations", s.handleViolations)
			r.Get("/failsafe", s.handleFailSafeStatus)
			r.Put("/failsafe/{id}", s.handleConfigureFailSafe)
			r.Post("/failsafe/{id}/test", s.handleTestFailSafe)
			r.Get("/breakers", s.handleBreakers)
			r.Post("/breakers/reset", s.handleResetBreaker)
			r.Get("/watchdog", s.handleWatchdog)
		})

		r.Get("/audit", s.handleAuditQuery)
	})

	return r
}
