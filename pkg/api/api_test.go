package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/auditlog"
	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/config"
	"github.com/voltmesh/dlm-go/pkg/constraints"
	"github.com/voltmesh/dlm-go/pkg/control"
	"github.com/voltmesh/dlm-go/pkg/driver"
	"github.com/voltmesh/dlm-go/pkg/failsafe"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/schedule"
	"github.com/voltmesh/dlm-go/pkg/shedding"
	"github.com/voltmesh/dlm-go/pkg/store"
)

type fixedCap struct{ cap capability.Capability }

func (f fixedCap) Interrogate(context.Context, string) (capability.Capability, error) {
	return f.cap, nil
}

type apiRig struct {
	store  *store.Store
	events *bus.Bus
	caps   *capability.Registry
	sim    *driver.SimDriver
	srv    *Server
	http   *httptest.Server
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	events := bus.New()
	t.Cleanup(events.Close)

	st := store.New(events, nil)
	caps := capability.NewRegistry(nil)
	sim := driver.NewSim()
	require.NoError(t, sim.Connect(context.Background()))

	drivers := control.DriverSourceFunc(func(context.Context, model.Station) (driver.Driver, error) {
		return sim, nil
	})
	ac := control.NewAC(caps, drivers, st, nil)
	dc := control.NewDC(caps, drivers, st, events, nil)

	srv := New(Deps{
		Store:        st,
		Events:       events,
		Config:       config.Default(),
		Capabilities: caps,
		AC:           ac,
		DC:           dc,
		Dispatcher:   control.NewDispatcher(ac, dc),
		Drivers:      drivers,
		Constraints:  constraints.New(st, nil),
		Shedding:     shedding.New(st, nil),
		FailSafe:     failsafe.New(st, time.Minute, nil),
		Scheduler:    schedule.New(st, nil),
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiRig{store: st, events: events, caps: caps, sim: sim, srv: srv, http: ts}
}

type reply struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

func (r *apiRig) do(t *testing.T, method, path string, body any) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (r *apiRig) registerStation(t *testing.T, id string) {
	t.Helper()
	cap := capability.FromProfile(capability.ProfileACL2ThreePhase)
	cap.MinUpdateInterval = 0
	r.caps.Discover(context.Background(), id, fixedCap{cap})

	status, env := r.do(t, http.MethodPost, "/api/v1/stations/", map[string]any{
		"id":              id,
		"name":            "Garage " + id,
		"class":           "ac_three_phase",
		"nominal_voltage": 400,
		"protocol":        "sim",
		"endpoint":        "sim://" + id,
	})
	require.Equal(t, http.StatusCreated, status)
	require.True(t, env.OK)
}

func TestHealthz(t *testing.T) {
	r := newAPIRig(t)

	status, env := r.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.OK)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data["status"])
}

func TestStationLifecycle(t *testing.T) {
	r := newAPIRig(t)
	r.registerStation(t, "cp-1")

	status, env := r.do(t, http.MethodGet, "/api/v1/stations/cp-1/", nil)
	require.Equal(t, http.StatusOK, status)
	var st model.Station
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "cp-1", st.ID)
	assert.Equal(t, 5, st.Priority, "default priority")

	// Duplicate registration conflicts.
	status, env = r.do(t, http.MethodPost, "/api/v1/stations/", map[string]any{
		"id": "cp-1", "class": "ac_three_phase", "endpoint": "sim://cp-1",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, env.OK)

	prio := 9
	status, env = r.do(t, http.MethodPatch, "/api/v1/stations/cp-1/", map[string]any{
		"priority": prio,
	})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, prio, st.Priority)

	status, _ = r.do(t, http.MethodDelete, "/api/v1/stations/cp-1/", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = r.do(t, http.MethodGet, "/api/v1/stations/cp-1/", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRegisterStationValidation(t *testing.T) {
	r := newAPIRig(t)

	status, env := r.do(t, http.MethodPost, "/api/v1/stations/", map[string]any{
		"class": "ac_three_phase", "endpoint": "sim://x",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.OK)

	status, env = r.do(t, http.MethodPost, "/api/v1/stations/", map[string]any{
		"id": "cp-x", "class": "hydro", "endpoint": "sim://x",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "class")
}

func TestSetPowerDispatches(t *testing.T) {
	r := newAPIRig(t)
	r.registerStation(t, "cp-1")

	status, env := r.do(t, http.MethodPost, "/api/v1/stations/cp-1/power", map[string]any{
		"power_kw": 11.0,
	})
	require.Equal(t, http.StatusOK, status)

	var data struct {
		AppliedKW float64 `json:"applied_kw"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Greater(t, data.AppliedKW, 0.0)

	st, ok := r.store.Station("cp-1")
	require.True(t, ok)
	assert.Greater(t, st.CurrentPower, 0.0)
}

func TestSetPowerUnknownStation(t *testing.T) {
	r := newAPIRig(t)
	status, _ := r.do(t, http.MethodPost, "/api/v1/stations/ghost/power", map[string]any{
		"power_kw": 5.0,
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCapacityLimits(t *testing.T) {
	r := newAPIRig(t)

	status, env := r.do(t, http.MethodPut, "/api/v1/load/limits", map[string]any{
		"max_capacity_kw":   100.0,
		"peak_threshold_kw": 80.0,
	})
	require.Equal(t, http.StatusOK, status)

	var cap capacityStatus
	require.NoError(t, json.Unmarshal(env.Data, &cap))
	assert.Equal(t, 100.0, cap.MaxCapacityKW)
	assert.Equal(t, 100.0, cap.AvailableKW)
	assert.False(t, cap.IsPeak)

	status, env = r.do(t, http.MethodPut, "/api/v1/load/limits", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.OK)
}

func TestZoneCaps(t *testing.T) {
	r := newAPIRig(t)

	status, env := r.do(t, http.MethodPut, "/api/v1/load/zones", map[string]any{
		"garage": 22.0,
	})
	require.Equal(t, http.StatusOK, status)

	var zones map[string]float64
	require.NoError(t, json.Unmarshal(env.Data, &zones))
	assert.Equal(t, 22.0, zones["garage"])

	// Null clears the cap.
	status, env = r.do(t, http.MethodPut, "/api/v1/load/zones", map[string]any{
		"garage": nil,
	})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &zones))
	assert.NotContains(t, zones, "garage")
}

func TestRebalanceWithoutAllocator(t *testing.T) {
	r := newAPIRig(t)
	status, _ := r.do(t, http.MethodPost, "/api/v1/load/rebalance", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSheddingConfiguration(t *testing.T) {
	r := newAPIRig(t)

	status, env := r.do(t, http.MethodGet, "/api/v1/health/shedding", nil)
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Level    int `json:"level"`
		MaxLevel int `json:"max_level"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 0, data.Level)
	assert.Equal(t, shedding.MaxLevel, data.MaxLevel)

	status, _ = r.do(t, http.MethodPut, "/api/v1/health/shedding", map[string]any{
		"level": 0,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = r.do(t, http.MethodPut, "/api/v1/health/shedding", map[string]any{
		"level": 2,
		"strategy": map[string]any{
			"priority_threshold": 4,
			"action":             "reduce",
			"reduction":          0.5,
		},
	})
	require.Equal(t, http.StatusOK, status)
	var strategies map[int]shedding.Strategy
	require.NoError(t, json.Unmarshal(env.Data, &strategies))
	assert.Equal(t, 0.5, strategies[2].Reduction)
}

func TestMeterAndConsumption(t *testing.T) {
	r := newAPIRig(t)

	status, _ := r.do(t, http.MethodPost, "/api/v1/meters/", map[string]any{
		"id": "grid-1", "role": "grid", "protocol": "sim",
	})
	require.Equal(t, http.StatusCreated, status)

	require.NoError(t, r.store.Apply(store.ObserveMeterMeasurement{
		Observation: model.MeterObservation{
			MeterID:    "grid-1",
			PowerKW:    12.5,
			ObservedAt: time.Now(),
		},
	}))

	status, env := r.do(t, http.MethodGet, "/api/v1/energy/consumption", nil)
	require.Equal(t, http.StatusOK, status)
	var data map[string]float64
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 12.5, data["grid_kw"])
}

func TestPVEndpoints(t *testing.T) {
	r := newAPIRig(t)

	status, _ := r.do(t, http.MethodPut, "/api/v1/energy/pv", map[string]any{
		"power_kw": -1.0,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = r.do(t, http.MethodPut, "/api/v1/energy/pv", map[string]any{
		"power_kw": 7.2,
	})
	require.Equal(t, http.StatusOK, status)

	status, env := r.do(t, http.MethodGet, "/api/v1/energy/pv", nil)
	require.Equal(t, http.StatusOK, status)
	var data struct {
		ProductionKW float64 `json:"production_kw"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 7.2, data.ProductionKW)
}

func TestScheduleEndpoints(t *testing.T) {
	r := newAPIRig(t)
	r.registerStation(t, "cp-1")

	status, env := r.do(t, http.MethodPost, "/api/v1/schedules/", map[string]any{
		"station_id":       "cp-1",
		"cron":             "0 22 * * *",
		"duration_minutes": 480,
		"priority_boost":   2,
	})
	require.Equal(t, http.StatusCreated, status)
	var win schedule.Window
	require.NoError(t, json.Unmarshal(env.Data, &win))
	assert.NotEmpty(t, win.ID)
	assert.Equal(t, 8*time.Hour, win.Duration)

	// Bad cron expressions are rejected.
	status, _ = r.do(t, http.MethodPost, "/api/v1/schedules/", map[string]any{
		"station_id":       "cp-1",
		"cron":             "not a cron",
		"duration_minutes": 60,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = r.do(t, http.MethodGet, "/api/v1/schedules/", nil)
	require.Equal(t, http.StatusOK, status)
	var wins []schedule.Window
	require.NoError(t, json.Unmarshal(env.Data, &wins))
	require.Len(t, wins, 1)

	status, _ = r.do(t, http.MethodDelete, "/api/v1/schedules/"+wins[0].ID, nil)
	require.Equal(t, http.StatusOK, status)
	status, env = r.do(t, http.MethodGet, "/api/v1/schedules/", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &wins))
	assert.Empty(t, wins)
}

func TestVersionEndpoint(t *testing.T) {
	r := newAPIRig(t)
	status, env := r.do(t, http.MethodGet, "/api/v1/version", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.OK)
}

func TestUnknownFieldRejected(t *testing.T) {
	r := newAPIRig(t)
	status, env := r.do(t, http.MethodPut, "/api/v1/load/limits", map[string]any{
		"max_capacity_kw": 100.0,
		"bogus":           true,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation", env.Error.Code)
}

func TestAuditQueryEndpoint(t *testing.T) {
	r := newAPIRig(t)
	path := filepath.Join(t.TempDir(), "audit.cbor")
	r.srv.deps.AuditPath = path

	w, err := auditlog.NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(auditlog.Entry{
		Timestamp: time.Now(),
		Category:  auditlog.CategoryStation,
		Topic:     bus.TopicStationRegistered,
		StationID: "cp-1",
	}))
	require.NoError(t, w.Close())

	status, env := r.do(t, http.MethodGet, "/api/v1/audit?category=station", nil)
	require.Equal(t, http.StatusOK, status)
	var entries []auditlog.Entry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "cp-1", entries[0].StationID)

	status, env = r.do(t, http.MethodGet, "/api/v1/audit?category=shedding", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Empty(t, entries)
}

func TestWebsocketGreeting(t *testing.T) {
	r := newAPIRig(t)
	r.registerStation(t, "cp-1")

	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var push struct {
		Type string `json:"type"`
		Data struct {
			Stations []model.Station `json:"stations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &push))
	assert.Equal(t, "connection.established", push.Type)
	require.Len(t, push.Data.Stations, 1)
	assert.Equal(t, "cp-1", push.Data.Stations[0].ID)
}

func TestWebsocketReceivesEvents(t *testing.T) {
	r := newAPIRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.srv.Hub().Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage() // greeting
	require.NoError(t, err)

	// Give the hub's subscription time to attach before publishing.
	require.Eventually(t, func() bool {
		return r.events.SubscriberCount() > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.store.Apply(store.SetPVProduction{PowerKW: 3.3}))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var push struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(msg, &push))
	assert.Equal(t, bus.TopicPVProduction, push.Type)
}
