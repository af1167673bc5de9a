package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cap, err := s.deps.Capabilities.Get(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, cap)
}

func (s *Server) handleDiscoverCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Profile string `json:"profile"`
	}
	// Empty body means interrogate over the wire.
	_ = decode(r, &req)

	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	if req.Profile != "" {
		respond(w, http.StatusOK, s.deps.Capabilities.Assign(id, capability.Profile(req.Profile)))
		return
	}

	var in capability.Interrogator
	if s.deps.Interrogator != nil {
		in = s.deps.Interrogator(st)
	}
	respond(w, http.StatusOK, s.deps.Capabilities.Discover(r.Context(), id, in))
}

func (s *Server) handleSetPhases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
		C float64 `json:"c"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	applied, err := s.deps.AC.SetPhaseCurrents(r.Context(), st, model.PhaseCurrents{A: req.A, B: req.B, C: req.C})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, applied)
}

func (s *Server) handleRampPhases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		A      float64 `json:"a"`
		B      float64 `json:"b"`
		C      float64 `json:"c"`
		StepMS int     `json:"step_ms"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	step := time.Duration(req.StepMS) * time.Millisecond
	target := model.PhaseCurrents{A: req.A, B: req.B, C: req.C}
	if err := s.deps.AC.RampPhaseCurrents(r.Context(), st, target, step); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, target)
}

func (s *Server) handleSetDCPower(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		PowerKW float64 `json:"power_kw"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	res, err := s.deps.DC.SetPowerLimit(r.Context(), st, req.PowerKW)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (s *Server) handleSetDCCurrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		CurrentA float64 `json:"current_a"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	res, err := s.deps.DC.SetCurrentLimit(r.Context(), st, req.CurrentA)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// handleUpdateSoC records vehicle state reported out of band, for
// example by an ISO 15118 session or a fleet integration.
func (s *Server) handleUpdateSoC(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		SoC          float64  `json:"soc"`
		PowerKW      *float64 `json:"power_kw"`
		TemperatureC *float64 `json:"temperature_c"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.SoC < 0 || req.SoC > 100 {
		respondBadRequest(w, "soc must be between 0 and 100")
		return
	}
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	power := st.MeasuredPower
	if req.PowerKW != nil {
		power = *req.PowerKW
	}
	soc := req.SoC
	err := s.deps.Store.Apply(store.ObserveStationMeasurement{
		Observation: model.StationObservation{
			StationID:    id,
			Status:       st.Status,
			PowerKW:      power,
			VehicleSoC:   &soc,
			TemperatureC: req.TemperatureC,
			ObservedAt:   time.Now(),
		},
	})
	if err != nil {
		respondError(w, err)
		return
	}

	st, _ = s.deps.Store.Station(id)
	respond(w, http.StatusOK, st)
}

func (s *Server) handleSetV2G(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if err := s.deps.Capabilities.SetFeature(id, capability.FeatureBidirectional, req.Enabled); err != nil {
		respondError(w, err)
		return
	}
	cap, _ := s.deps.Capabilities.Get(id)
	respond(w, http.StatusOK, cap)
}

func (s *Server) handleGetTaper(w http.ResponseWriter, r *http.Request) {
	start, rate := s.deps.DC.TaperConfig()
	respond(w, http.StatusOK, map[string]float64{"start_soc": start, "rate": rate})
}

func (s *Server) handleSetTaper(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartSoC float64 `json:"start_soc"`
		Rate     float64 `json:"rate"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.StartSoC < 0 || req.StartSoC >= 100 {
		respondBadRequest(w, "start_soc must be in [0, 100)")
		return
	}

	s.deps.DC.ConfigureTaper(req.StartSoC, req.Rate)
	start, rate := s.deps.DC.TaperConfig()
	respond(w, http.StatusOK, map[string]float64{"start_soc": start, "rate": rate})
}

func (s *Server) handleDiscoveryCandidates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Discovery == nil {
		respondNotFound(w, "endpoint discovery disabled")
		return
	}
	respond(w, http.StatusOK, s.deps.Discovery.Candidates())
}
