package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// OCPP-J message type codes.
const (
	ocppCall       = 2
	ocppCallResult = 3
	ocppCallError  = 4
)

// OCPPConfig configures an OCPP 1.6J adapter.
type OCPPConfig struct {
	// Endpoint is the websocket base URL (ws://host:port/ocpp).
	// The station ID is appended as the path element.
	Endpoint string

	// CallTimeout bounds each request/response round trip.
	CallTimeout time.Duration

	// StatusMap translates OCPP status strings to station statuses.
	StatusStrings map[string]model.StationStatus
}

func defaultOCPPStatus() map[string]model.StationStatus {
	return map[string]model.StationStatus{
		"Available":     model.StatusReady,
		"Preparing":     model.StatusReady,
		"Charging":      model.StatusCharging,
		"SuspendedEV":   model.StatusCharging,
		"SuspendedEVSE": model.StatusCharging,
		"Finishing":     model.StatusReady,
		"Faulted":       model.StatusError,
		"Unavailable":   model.StatusUnavailable,
	}
}

type ocppConn struct {
	conn    *websocket.Conn
	pending map[string]chan json.RawMessage
	writeMu sync.Mutex
	mu      sync.Mutex
	obs     StationObserver
}

// OCPPDriver speaks OCPP 1.6 JSON over websocket, one connection per station.
type OCPPDriver struct {
	mu sync.Mutex

	cfg    OCPPConfig
	conns  map[string]*ocppConn
	logger *zap.Logger
}

// NewOCPP creates an OCPP-J driver.
func NewOCPP(cfg OCPPConfig, logger *zap.Logger) *OCPPDriver {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.StatusStrings == nil {
		cfg.StatusStrings = defaultOCPPStatus()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCPPDriver{
		cfg:    cfg,
		conns:  make(map[string]*ocppConn),
		logger: logger.Named("ocpp").With(zap.String("endpoint", cfg.Endpoint)),
	}
}

// Connect is a no-op at the driver level; per-station connections are
// dialed lazily on first use. Idempotent by construction.
func (d *OCPPDriver) Connect(context.Context) error { return nil }

// Disconnect closes all station connections.
func (d *OCPPDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.conns {
		_ = c.conn.Close()
		delete(d.conns, id)
	}
	return nil
}

func (d *OCPPDriver) connection(ctx context.Context, stationID string) (*ocppConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[stationID]; ok {
		return c, nil
	}

	url := fmt.Sprintf("%s/%s", d.cfg.Endpoint, stationID)
	dialer := websocket.Dialer{
		Subprotocols:     []string{"ocpp1.6"},
		HandshakeTimeout: d.cfg.CallTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, err, "ocpp dial %s", url)
	}

	c := &ocppConn{conn: conn, pending: make(map[string]chan json.RawMessage)}
	d.conns[stationID] = c
	go d.readPump(stationID, c)
	return c, nil
}

// readPump handles inbound frames: call results for our requests and
// station-initiated calls (StatusNotification, MeterValues).
func (d *OCPPDriver) readPump(stationID string, c *ocppConn) {
	defer func() {
		d.mu.Lock()
		delete(d.conns, stationID)
		d.mu.Unlock()
		_ = c.conn.Close()
	}()

	for {
		var frame []json.RawMessage
		if err := c.conn.ReadJSON(&frame); err != nil {
			d.logger.Warn("ocpp read failed", zap.String("station", stationID), zap.Error(err))
			return
		}
		if len(frame) < 3 {
			continue
		}

		var msgType int
		if err := json.Unmarshal(frame[0], &msgType); err != nil {
			continue
		}
		var uid string
		_ = json.Unmarshal(frame[1], &uid)

		switch msgType {
		case ocppCallResult:
			c.mu.Lock()
			ch, ok := c.pending[uid]
			delete(c.pending, uid)
			c.mu.Unlock()
			if ok {
				ch <- frame[2]
			}

		case ocppCall:
			if len(frame) < 4 {
				continue
			}
			var action string
			_ = json.Unmarshal(frame[2], &action)
			d.handleStationCall(stationID, c, uid, action, frame[3])
		}
	}
}

func (d *OCPPDriver) handleStationCall(stationID string, c *ocppConn, uid, action string, payload json.RawMessage) {
	c.mu.Lock()
	obs := c.obs
	c.mu.Unlock()

	switch action {
	case "StatusNotification":
		var body struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(payload, &body)
		if obs != nil {
			obs(model.StationObservation{
				StationID:  stationID,
				Status:     d.lookupStatus(body.Status),
				ObservedAt: time.Now(),
			})
		}

	case "MeterValues":
		if obs != nil {
			if o, ok := parseMeterValues(stationID, payload); ok {
				obs(o)
			}
		}

	case "Heartbeat":
		// Heartbeats refresh last_seen through an empty observation.
		if obs != nil {
			obs(model.StationObservation{
				StationID:  stationID,
				Status:     model.StatusReady,
				ObservedAt: time.Now(),
			})
		}
	}

	d.reply(c, uid, map[string]any{"currentTime": time.Now().UTC().Format(time.RFC3339)})
}

// parseMeterValues extracts power and energy from a MeterValues payload.
func parseMeterValues(stationID string, payload json.RawMessage) (model.StationObservation, bool) {
	var body struct {
		MeterValue []struct {
			SampledValue []struct {
				Value     string `json:"value"`
				Measurand string `json:"measurand"`
			} `json:"sampledValue"`
		} `json:"meterValue"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.MeterValue) == 0 {
		return model.StationObservation{}, false
	}

	obs := model.StationObservation{
		StationID:  stationID,
		Status:     model.StatusCharging,
		ObservedAt: time.Now(),
	}
	for _, sv := range body.MeterValue[len(body.MeterValue)-1].SampledValue {
		v, err := strconv.ParseFloat(sv.Value, 64)
		if err != nil {
			continue
		}
		switch sv.Measurand {
		case "Power.Active.Import":
			obs.PowerKW = v / 1000 // W to kW
		case "Energy.Active.Import.Register":
			obs.SessionEnergy = v / 1000 // Wh to kWh
		case "SoC":
			obs.VehicleSoC = &v
		case "Temperature":
			obs.TemperatureC = &v
		}
	}
	return obs, true
}

func (d *OCPPDriver) lookupStatus(s string) model.StationStatus {
	if st, ok := d.cfg.StatusStrings[s]; ok {
		return st
	}
	return model.StatusError
}

func (d *OCPPDriver) reply(c *ocppConn, uid string, payload any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteJSON([]any{ocppCallResult, uid, payload})
}

// call sends an OCPP CALL and waits for the result.
func (d *OCPPDriver) call(ctx context.Context, stationID, action string, payload any) (json.RawMessage, error) {
	c, err := d.connection(ctx, stationID)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[uid] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON([]any{ocppCall, uid, action, payload})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, uid)
		c.mu.Unlock()
		return nil, fault.Wrap(fault.KindTransport, err, "ocpp %s to %s", action, stationID)
	}

	select {
	case res := <-ch:
		return res, nil
	case <-time.After(d.cfg.CallTimeout):
		c.mu.Lock()
		delete(c.pending, uid)
		c.mu.Unlock()
		return nil, fault.New(fault.KindTimeout, "ocpp %s to %s timed out", action, stationID)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, uid)
		c.mu.Unlock()
		return nil, fault.Wrap(fault.KindTimeout, ctx.Err(), "ocpp %s to %s", action, stationID)
	}
}

// ObserveStation attaches the observation callback; OCPP is push-based.
func (d *OCPPDriver) ObserveStation(stationID string, fn StationObserver) error {
	c, err := d.connection(context.Background(), stationID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.obs = fn
	c.mu.Unlock()
	return nil
}

// ObserveMeter is unsupported: OCPP peers are stations, not meters.
func (d *OCPPDriver) ObserveMeter(meterID string, _ MeterObserver) error {
	return fault.New(fault.KindValidation, "ocpp driver has no meter %q", meterID)
}

// CommandAC sends a TxProfile charging profile limited in amperes.
// The limit is the highest phase value; per-phase control is not part
// of OCPP 1.6 smart charging.
func (d *OCPPDriver) CommandAC(ctx context.Context, stationID string, phases model.PhaseCurrents) error {
	return d.setChargingProfile(ctx, stationID, phases.Max(), "A")
}

// CommandDC sends a TxProfile charging profile limited in watts.
func (d *OCPPDriver) CommandDC(ctx context.Context, stationID string, powerKW float64) error {
	return d.setChargingProfile(ctx, stationID, powerKW*1000, "W")
}

func (d *OCPPDriver) setChargingProfile(ctx context.Context, stationID string, limit float64, unit string) error {
	payload := map[string]any{
		"connectorId": 1,
		"csChargingProfiles": map[string]any{
			"chargingProfileId":      1,
			"stackLevel":             0,
			"chargingProfilePurpose": "TxDefaultProfile",
			"chargingProfileKind":    "Absolute",
			"chargingSchedule": map[string]any{
				"chargingRateUnit": unit,
				"chargingSchedulePeriod": []map[string]any{
					{"startPeriod": 0, "limit": limit},
				},
			},
		},
	}

	res, err := d.call(ctx, stationID, "SetChargingProfile", payload)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(res, &body); err == nil && body.Status == "Rejected" {
		return fault.New(fault.KindStateConflict, "station %q rejected charging profile", stationID)
	}
	return nil
}

// StartSession sends RemoteStartTransaction.
func (d *OCPPDriver) StartSession(ctx context.Context, stationID, userTag string) error {
	if userTag == "" {
		userTag = "local"
	}
	_, err := d.call(ctx, stationID, "RemoteStartTransaction", map[string]any{"idTag": userTag})
	return err
}

// StopSession sends RemoteStopTransaction.
func (d *OCPPDriver) StopSession(ctx context.Context, stationID string) error {
	_, err := d.call(ctx, stationID, "RemoteStopTransaction", map[string]any{"transactionId": 1})
	return err
}

var _ Driver = (*OCPPDriver)(nil)
