package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voltmesh/dlm-go/pkg/schedule"
)

// scheduleRequest is the window creation body. Duration is expressed
// in minutes on the wire.
type scheduleRequest struct {
	ID            string `json:"id"`
	StationID     string `json:"station_id"`
	Cron          string `json:"cron"`
	DurationMin   int    `json:"duration_minutes"`
	PriorityBoost int    `json:"priority_boost"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondNotFound(w, "scheduler not running")
		return
	}
	respond(w, http.StatusOK, s.deps.Scheduler.Windows())
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondNotFound(w, "scheduler not running")
		return
	}
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if _, ok := s.deps.Store.Station(req.StationID); !ok {
		respondNotFound(w, "station "+req.StationID+" not registered")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	win := schedule.Window{
		ID:            req.ID,
		StationID:     req.StationID,
		Cron:          req.Cron,
		Duration:      time.Duration(req.DurationMin) * time.Minute,
		PriorityBoost: req.PriorityBoost,
	}
	if err := s.deps.Scheduler.Add(win); err != nil {
		respondError(w, err)
		return
	}
	s.deps.Scheduler.Sync()
	respond(w, http.StatusCreated, win)
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondNotFound(w, "scheduler not running")
		return
	}
	id := chi.URLParam(r, "id")
	s.deps.Scheduler.Remove(id)
	s.deps.Scheduler.Sync()
	respond(w, http.StatusOK, map[string]string{"id": id})
}
