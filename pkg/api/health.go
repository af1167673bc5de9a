package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"

	"github.com/voltmesh/dlm-go/pkg/auditlog"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/shedding"
	"github.com/voltmesh/dlm-go/pkg/store"
	"github.com/voltmesh/dlm-go/pkg/version"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if s.deps.FailSafe != nil && s.deps.FailSafe.SystemOffline() {
		status = http.StatusServiceUnavailable
		state = "offline"
	}
	respond(w, status, map[string]any{
		"status":         state,
		"version":        version.Get().Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, version.Get())
}

func (s *Server) handleSheddingStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Shedding == nil {
		respondNotFound(w, "load shedding disabled")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"level":      s.deps.Shedding.Level(),
		"max_level":  shedding.MaxLevel,
		"strategies": s.deps.Shedding.Strategies(),
	})
}

func (s *Server) handleConfigureShedding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level    int               `json:"level"`
		Strategy shedding.Strategy `json:"strategy"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Shedding == nil {
		respondNotFound(w, "load shedding disabled")
		return
	}
	if req.Level < 1 || req.Level > shedding.MaxLevel {
		respondBadRequest(w, "level must be between 1 and 5")
		return
	}

	s.deps.Shedding.SetStrategy(req.Level, req.Strategy)
	respond(w, http.StatusOK, s.deps.Shedding.Strategies())
}

func (s *Server) handleConstraintsStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Constraints == nil || !s.deps.Constraints.Configured() {
		respond(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"configured":            true,
		"available_capacity_kw": s.deps.Constraints.AvailableCapacityKW(),
		"topology":              s.deps.Constraints.Topology(),
	})
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	respond(w, http.StatusOK, s.deps.Store.Violations(limit))
}

func (s *Server) handleFailSafeStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot()
	respond(w, http.StatusOK, map[string]any{
		"system_offline": s.deps.FailSafe != nil && s.deps.FailSafe.SystemOffline(),
		"stations":       snap.FailSafe,
	})
}

func (s *Server) handleConfigureFailSafe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		SafePowerKW   float64 `json:"safe_power_kw"`
		OfflineAction string  `json:"offline_action"`
		CommTimeoutS  int     `json:"comm_timeout_seconds"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	action := model.OfflineAction(req.OfflineAction)
	if !action.Valid() {
		respondBadRequest(w, "offline_action must be maintain, reduce, or stop")
		return
	}

	snap := s.deps.Store.Snapshot()
	fs, ok := snap.FailSafe[id]
	if !ok {
		fs = model.FailSafeState{StationID: id}
	}
	fs.SafePowerKW = req.SafePowerKW
	fs.Action = action
	if req.CommTimeoutS > 0 {
		fs.CommTimeout = time.Duration(req.CommTimeoutS) * time.Second
	}

	if err := s.deps.Store.Apply(store.SetFailSafeState{State: fs}); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, fs)
}

func (s *Server) handleTestFailSafe(w http.ResponseWriter, r *http.Request) {
	if s.deps.FailSafe == nil {
		respondNotFound(w, "fail-safe manager not running")
		return
	}
	id := chi.URLParam(r, "id")
	result, err := s.deps.FailSafe.Test(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func breakerStateName(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "open"
	}
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	states := map[string]string{}
	if s.deps.Breakers != nil {
		for endpoint, b := range s.deps.Breakers() {
			states[endpoint] = breakerStateName(b.State())
		}
	}
	respond(w, http.StatusOK, states)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		respondBadRequest(w, "endpoint query parameter is required")
		return
	}
	if s.deps.Breakers == nil {
		respondNotFound(w, "no breakers registered")
		return
	}
	b, ok := s.deps.Breakers()[endpoint]
	if !ok {
		respondNotFound(w, "no breaker for endpoint "+endpoint)
		return
	}

	b.Reset()
	respond(w, http.StatusOK, map[string]string{
		"endpoint": endpoint,
		"state":    breakerStateName(b.State()),
	})
}

func (s *Server) handleWatchdog(w http.ResponseWriter, r *http.Request) {
	if s.deps.FailSafe == nil {
		respondNotFound(w, "fail-safe manager not running")
		return
	}
	respond(w, http.StatusOK, s.deps.FailSafe.WatchdogStatus())
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.AuditPath == "" {
		respondNotFound(w, "audit log disabled")
		return
	}

	q := auditlog.Query{
		Category:  auditlog.ParseCategory(r.URL.Query().Get("category")),
		StationID: r.URL.Query().Get("station"),
		Limit:     queryInt(r, "limit", 0),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondBadRequest(w, "since must be RFC 3339")
			return
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondBadRequest(w, "until must be RFC 3339")
			return
		}
		q.Until = t
	}

	entries, err := auditlog.Read(s.deps.AuditPath, q)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, entries)
}
