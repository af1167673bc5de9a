package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// stationRequest is the station registration body.
type stationRequest struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Zone              string  `json:"zone"`
	Class             string  `json:"class"`
	ConnectorType     string  `json:"connector_type"`
	NominalVoltage    float64 `json:"nominal_voltage"`
	Protocol          string  `json:"protocol"`
	Endpoint          string  `json:"endpoint"`
	Priority          int     `json:"priority"`
	UserPriorityClass int     `json:"user_priority_class"`
	RequestedPower    float64 `json:"requested_power"`
}

// parseClass maps the wire class name to the model enum.
func parseClass(s string) (model.StationClass, error) {
	switch s {
	case "ac_single_phase":
		return model.ClassACSinglePhase, nil
	case "ac_three_phase":
		return model.ClassACThreePhase, nil
	case "dc":
		return model.ClassDC, nil
	default:
		return 0, fault.New(fault.KindValidation, "unknown station class %q", s)
	}
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.deps.Store.Snapshot().Stations)
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}
	respond(w, http.StatusOK, st)
}

func (s *Server) handleRegisterStation(w http.ResponseWriter, r *http.Request) {
	var req stationRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ID == "" || req.Endpoint == "" {
		respondBadRequest(w, "id and endpoint are required")
		return
	}
	class, err := parseClass(req.Class)
	if err != nil {
		respondError(w, err)
		return
	}

	station := model.Station{
		ID:                req.ID,
		Name:              req.Name,
		Zone:              req.Zone,
		Class:             class,
		ConnectorType:     req.ConnectorType,
		NominalVoltage:    req.NominalVoltage,
		Protocol:          model.Protocol(req.Protocol),
		Endpoint:          req.Endpoint,
		Priority:          req.Priority,
		UserPriorityClass: req.UserPriorityClass,
		RequestedPower:    req.RequestedPower,
	}
	if station.Priority == 0 {
		station.Priority = 5
	}

	if err := s.deps.Store.Apply(store.RegisterStation{Station: station}); err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Provision != nil {
		if err := s.deps.Provision(r.Context(), station); err != nil {
			s.logger.Warn("station provisioning failed",
				zap.String("station", station.ID), zap.Error(err))
		}
	}

	st, _ := s.deps.Store.Station(station.ID)
	respond(w, http.StatusCreated, st)
}

// stationPatch carries optional field updates; absent fields stay.
type stationPatch struct {
	Name              *string  `json:"name"`
	Zone              *string  `json:"zone"`
	Priority          *int     `json:"priority"`
	UserPriorityClass *int     `json:"user_priority_class"`
	RequestedPower    *float64 `json:"requested_power"`
	ScheduledCharging *bool    `json:"scheduled_charging"`
}

func (s *Server) handleUpdateStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch stationPatch
	if err := decode(r, &patch); err != nil {
		respondError(w, err)
		return
	}

	err := s.deps.Store.Apply(store.UpdateStation{
		StationID:         id,
		Name:              patch.Name,
		Zone:              patch.Zone,
		Priority:          patch.Priority,
		UserPriorityClass: patch.UserPriorityClass,
		RequestedPowerKW:  patch.RequestedPower,
		ScheduledCharging: patch.ScheduledCharging,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	st, _ := s.deps.Store.Station(id)
	respond(w, http.StatusOK, st)
}

func (s *Server) handleRemoveStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	if err := s.deps.Store.Apply(store.RemoveStation{StationID: id}); err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Capabilities != nil {
		s.deps.Capabilities.Remove(id)
	}
	if s.deps.Deprovision != nil {
		s.deps.Deprovision(r.Context(), st)
	}
	respond(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
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

	applied, err := s.deps.Dispatcher.Dispatch(r.Context(), st, req.PowerKW)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"station_id": id,
		"target_kw":  req.PowerKW,
		"applied_kw": applied,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		User string `json:"user"`
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

	if s.deps.Drivers != nil {
		d, err := s.deps.Drivers.DriverFor(r.Context(), st)
		if err != nil {
			respondError(w, err)
			return
		}
		if err := d.StartSession(r.Context(), id, req.User); err != nil {
			respondError(w, err)
			return
		}
	}
	if err := s.deps.Store.Apply(store.StartSession{StationID: id, UserTag: req.User}); err != nil {
		respondError(w, err)
		return
	}

	st, _ = s.deps.Store.Station(id)
	respond(w, http.StatusOK, st)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.deps.Store.Station(id)
	if !ok {
		respondNotFound(w, "station "+id+" not registered")
		return
	}

	if s.deps.Drivers != nil {
		d, err := s.deps.Drivers.DriverFor(r.Context(), st)
		if err != nil {
			respondError(w, err)
			return
		}
		if err := d.StopSession(r.Context(), id); err != nil {
			respondError(w, err)
			return
		}
	}
	if err := s.deps.Store.Apply(store.StopSession{StationID: id}); err != nil {
		respondError(w, err)
		return
	}

	st, _ = s.deps.Store.Station(id)
	respond(w, http.StatusOK, st)
}
