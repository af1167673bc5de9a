package api

import (
	"net/http"
	"strconv"

	"github.com/voltmesh/dlm-go/pkg/control"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// capacityStatus is the load/capacity reply.
type capacityStatus struct {
	MaxCapacityKW   float64 `json:"max_capacity_kw"`
	PeakThresholdKW float64 `json:"peak_threshold_kw"`
	CurrentLoadKW   float64 `json:"current_load_kw"`
	AvailableKW     float64 `json:"available_kw"`
	Utilization     float64 `json:"utilization_percent"`
	IsPeak          bool    `json:"is_peak"`
}

func (s *Server) capacityStatus() capacityStatus {
	snap := s.deps.Store.Snapshot()
	current := snap.ChargingLoadKW()
	maxKW := snap.Capacity.MaxCapacityKW

	status := capacityStatus{
		MaxCapacityKW:   maxKW,
		PeakThresholdKW: snap.Capacity.PeakThresholdKW,
		CurrentLoadKW:   current,
	}
	if maxKW > 0 {
		status.AvailableKW = maxKW - current
		if status.AvailableKW < 0 {
			status.AvailableKW = 0
		}
		status.Utilization = current / maxKW * 100
	}
	status.IsPeak = snap.Capacity.PeakThresholdKW > 0 && current >= snap.Capacity.PeakThresholdKW
	return status
}

func (s *Server) handleLoadStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot()
	respond(w, http.StatusOK, map[string]any{
		"charging_load_kw":        snap.ChargingLoadKW(),
		"grid_power_kw":           snap.GridPowerKW(),
		"solar_power_kw":          snap.SolarPowerKW(),
		"building_consumption_kw": snap.BuildingConsumptionKW(),
		"pv_production_kw":        snap.PVKW,
		"active_stations":         len(snap.ActiveStations()),
		"total_stations":          len(snap.Stations),
		"capacity":                s.capacityStatus(),
	})
}

func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.capacityStatus())
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxCapacityKW   *float64 `json:"max_capacity_kw"`
		PeakThresholdKW *float64 `json:"peak_threshold_kw"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.MaxCapacityKW == nil && req.PeakThresholdKW == nil {
		respondBadRequest(w, "no limits given")
		return
	}

	err := s.deps.Store.Apply(store.SetCapacityLimits{
		MaxCapacityKW:   req.MaxCapacityKW,
		PeakThresholdKW: req.PeakThresholdKW,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, s.capacityStatus())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	respond(w, http.StatusOK, s.deps.Store.AllocationHistory(limit))
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Allocator == nil {
		respondNotFound(w, "allocator not running")
		return
	}
	tick := s.deps.Allocator.Tick(r.Context())
	respond(w, http.StatusOK, tick)
}

func (s *Server) handleGetZones(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.deps.Store.Snapshot().ZoneCaps)
}

func (s *Server) handleSetZones(w http.ResponseWriter, r *http.Request) {
	// Null clears a zone cap, a number sets it.
	var req map[string]*float64
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	for zone, capKW := range req {
		if err := s.deps.Store.Apply(store.SetZoneCap{Zone: zone, CapKW: capKW}); err != nil {
			respondError(w, err)
			return
		}
	}
	respond(w, http.StatusOK, s.deps.Store.Snapshot().ZoneCaps)
}

func (s *Server) handlePhaseBalance(w http.ResponseWriter, r *http.Request) {
	maxImbalance := control.DefaultMaxImbalance
	if s.deps.Config != nil && s.deps.Config.Site.MaxPhaseImbalance > 0 {
		maxImbalance = s.deps.Config.Site.MaxPhaseImbalance
	}
	snap := s.deps.Store.Snapshot()
	respond(w, http.StatusOK, control.SystemPhaseBalance(snap.Stations, maxImbalance))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
