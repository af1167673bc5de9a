package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// MQTTConfig configures an MQTT adapter.
type MQTTConfig struct {
	// BrokerURL is the broker address (tcp://host:1883).
	BrokerURL string

	// ClientID identifies this service on the broker.
	ClientID string

	Username string
	Password string

	// TopicPrefix roots the topic tree, default "dlm".
	// Stations publish on <prefix>/station/<id>/state and accept commands
	// on <prefix>/station/<id>/set; meters publish on <prefix>/meter/<id>/state.
	TopicPrefix string

	// ConnectTimeout bounds the initial connect.
	ConnectTimeout time.Duration
}

// mqttCommand is the command payload published to stations.
type mqttCommand struct {
	Phases  *model.PhaseCurrents `json:"phases,omitempty"`
	PowerKW *float64             `json:"power_kw,omitempty"`
	Session *string              `json:"session,omitempty"`
	User    string               `json:"user,omitempty"`
}

// MQTTDriver is a push-based adapter; it never polls.
type MQTTDriver struct {
	mu sync.Mutex

	cfg    MQTTConfig
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTT creates an MQTT driver.
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) *MQTTDriver {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "dlm"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTDriver{
		cfg:    cfg,
		logger: logger.Named("mqtt").With(zap.String("broker", cfg.BrokerURL)),
	}
}

// Connect establishes the broker session. Idempotent.
func (d *MQTTDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil && d.client.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(d.cfg.BrokerURL).
		SetClientID(d.cfg.ClientID).
		SetUsername(d.cfg.Username).
		SetPassword(d.cfg.Password).
		SetConnectTimeout(d.cfg.ConnectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(d.cfg.ConnectTimeout) {
		return fault.New(fault.KindTimeout, "mqtt connect to %s timed out", d.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fault.Wrap(fault.KindTransport, err, "mqtt connect %s", d.cfg.BrokerURL)
	}

	d.client = client
	d.logger.Info("mqtt connected")
	return nil
}

// Disconnect closes the broker session.
func (d *MQTTDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	d.client.Disconnect(250)
	d.client = nil
	return nil
}

// ObserveStation subscribes to the station's state topic.
func (d *MQTTDriver) ObserveStation(stationID string, fn StationObserver) error {
	topic := fmt.Sprintf("%s/station/%s/state", d.cfg.TopicPrefix, stationID)
	return d.subscribe(topic, func(payload []byte) {
		var obs model.StationObservation
		if err := json.Unmarshal(payload, &obs); err != nil {
			d.logger.Warn("bad station payload", zap.String("topic", topic), zap.Error(err))
			return
		}
		obs.StationID = stationID
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = time.Now()
		}
		fn(obs)
	})
}

// ObserveMeter subscribes to the meter's state topic.
func (d *MQTTDriver) ObserveMeter(meterID string, fn MeterObserver) error {
	topic := fmt.Sprintf("%s/meter/%s/state", d.cfg.TopicPrefix, meterID)
	return d.subscribe(topic, func(payload []byte) {
		var obs model.MeterObservation
		if err := json.Unmarshal(payload, &obs); err != nil {
			d.logger.Warn("bad meter payload", zap.String("topic", topic), zap.Error(err))
			return
		}
		obs.MeterID = meterID
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = time.Now()
		}
		fn(obs)
	})
}

func (d *MQTTDriver) subscribe(topic string, handle func([]byte)) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return fault.New(fault.KindTransport, "mqtt not connected")
	}

	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handle(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fault.Wrap(fault.KindTransport, err, "mqtt subscribe %s", topic)
	}
	return nil
}

func (d *MQTTDriver) publishCommand(stationID string, cmd mqttCommand) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return fault.New(fault.KindTransport, "mqtt not connected")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fault.Wrap(fault.KindValidation, err, "encode command")
	}

	topic := fmt.Sprintf("%s/station/%s/set", d.cfg.TopicPrefix, stationID)
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fault.Wrap(fault.KindTransport, err, "mqtt publish %s", topic)
	}
	return nil
}

// CommandAC publishes a phase-current command.
func (d *MQTTDriver) CommandAC(_ context.Context, stationID string, phases model.PhaseCurrents) error {
	return d.publishCommand(stationID, mqttCommand{Phases: &phases})
}

// CommandDC publishes a power command.
func (d *MQTTDriver) CommandDC(_ context.Context, stationID string, powerKW float64) error {
	return d.publishCommand(stationID, mqttCommand{PowerKW: &powerKW})
}

// StartSession publishes a session start command.
func (d *MQTTDriver) StartSession(_ context.Context, stationID, userTag string) error {
	start := "start"
	return d.publishCommand(stationID, mqttCommand{Session: &start, User: userTag})
}

// StopSession publishes a session stop command.
func (d *MQTTDriver) StopSession(_ context.Context, stationID string) error {
	stop := "stop"
	return d.publishCommand(stationID, mqttCommand{Session: &stop})
}

var _ Driver = (*MQTTDriver)(nil)
