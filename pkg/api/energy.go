package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// meterRequest is the meter registration body.
type meterRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Protocol string `json:"protocol"`
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleListMeters(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.deps.Store.Snapshot().Meters)
}

func (s *Server) handleGetMeter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, ok := s.deps.Store.Meter(id)
	if !ok {
		respondNotFound(w, "meter "+id+" not registered")
		return
	}
	respond(w, http.StatusOK, m)
}

func (s *Server) handleRegisterMeter(w http.ResponseWriter, r *http.Request) {
	var req meterRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ID == "" {
		respondBadRequest(w, "id is required")
		return
	}

	meter := model.Meter{
		ID:       req.ID,
		Name:     req.Name,
		Role:     model.MeterRole(req.Role),
		Protocol: model.Protocol(req.Protocol),
		Endpoint: req.Endpoint,
	}
	if err := s.deps.Store.Apply(store.RegisterMeter{Meter: meter}); err != nil {
		respondError(w, err)
		return
	}

	m, _ := s.deps.Store.Meter(req.ID)
	respond(w, http.StatusCreated, m)
}

func (s *Server) handleRemoveMeter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Store.Meter(id); !ok {
		respondNotFound(w, "meter "+id+" not registered")
		return
	}
	if err := s.deps.Store.Apply(store.RemoveMeter{MeterID: id}); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleGetPV(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot()
	enabled := s.deps.Config != nil && s.deps.Config.Grid.PVSystemEnabled
	respond(w, http.StatusOK, map[string]any{
		"enabled":          enabled,
		"production_kw":    snap.PVKW,
		"solar_metered_kw": snap.SolarPowerKW(),
		"excess_charging":  s.deps.Config != nil && s.deps.Config.Grid.EnablePVExcessCharging,
	})
}

// handleSetPV sets (or simulates) the current PV production.
func (s *Server) handleSetPV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PowerKW float64 `json:"power_kw"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.PowerKW < 0 {
		respondBadRequest(w, "pv production must not be negative")
		return
	}
	if err := s.deps.Store.Apply(store.SetPVProduction{PowerKW: req.PowerKW}); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]float64{"production_kw": req.PowerKW})
}

func (s *Server) handleConsumption(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot()
	respond(w, http.StatusOK, map[string]float64{
		"grid_kw":     snap.GridPowerKW(),
		"solar_kw":    snap.SolarPowerKW(),
		"building_kw": snap.BuildingConsumptionKW(),
		"charging_kw": snap.ChargingLoadKW(),
	})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	status := s.capacityStatus()
	var energyRate, peakRate float64
	if s.deps.Config != nil {
		energyRate = s.deps.Config.Grid.EnergyCostPerKWh
		peakRate = s.deps.Config.Grid.PeakCostPerKWh
	}
	rate := energyRate
	if status.IsPeak {
		rate = peakRate
	}
	respond(w, http.StatusOK, map[string]any{
		"energy_cost_per_kwh": energyRate,
		"peak_cost_per_kwh":   peakRate,
		"current_rate":        rate,
		"is_peak":             status.IsPeak,
		"current_load_kw":     status.CurrentLoadKW,
	})
}
