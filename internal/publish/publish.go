// Package publish forwards logged fixes to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pizero-gpslog/internal/gpsd"
)

const (
	DefaultTopic = "pizero-gpslog/fix"
	clientPrefix = "pizero-gpslog-"
)

// Summary is the compact form of a fix sent to subscribers. Speed and climb
// inside their error estimates are reported as 0.
type Summary struct {
	Time     string   `json:"time,omitempty"`
	Mode     int      `json:"mode"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Alt      *float64 `json:"alt,omitempty"`
	Speed    float64  `json:"speed"`
	Track    float64  `json:"track"`
	Climb    *float64 `json:"climb,omitempty"`
	Sats     int      `json:"sats"`
	SatsUsed int      `json:"sats_used"`
	PrecH    float64  `json:"prec_h"`
	PrecV    *float64 `json:"prec_v,omitempty"`
	Device   string   `json:"device,omitempty"`
}

// Summarize builds a Summary from a fix of at least 2D.
func Summarize(fix *gpsd.Fix, device string) (Summary, error) {
	lat, lon, err := fix.Position()
	if err != nil {
		return Summary{}, err
	}
	speed, err := fix.Speed()
	if err != nil {
		return Summary{}, err
	}
	precH, precV, err := fix.PositionPrecision()
	if err != nil {
		return Summary{}, err
	}
	track, err := fix.Track()
	if err != nil {
		return Summary{}, err
	}
	ts, _ := fix.Timestamp()
	used, visible := fix.Satellites()
	s := Summary{
		Time:     ts,
		Mode:     int(fix.Mode()),
		Lat:      lat,
		Lon:      lon,
		Speed:    speed,
		Track:    track,
		Sats:     visible,
		SatsUsed: used,
		PrecH:    precH,
		Device:   device,
	}
	if alt, err := fix.Altitude(); err == nil {
		climb, _ := fix.SpeedVertical()
		s.Alt = &alt
		s.Climb = &climb
		s.PrecV = &precV
	}
	return s, nil
}

// client is the subset of the paho client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Config struct {
	Broker  string
	Topic   string
	QoS     byte
	Retain  bool
	Timeout time.Duration
	Logger  zerolog.Logger
}

type MQTTPublisher struct {
	cfg    Config
	client client
	log    zerolog.Logger
}

var newClientFn = func(opts *mqtt.ClientOptions) client { return mqtt.NewClient(opts) }

// NewMQTTPublisher connects to cfg.Broker. paho reconnects on its own after
// the first successful connect.
func NewMQTTPublisher(cfg Config) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("publish: broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("publish: qos must be 0, 1 or 2 (got %d)", cfg.QoS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	clientID := clientPrefix + uuid.NewString()
	log := cfg.Logger.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})

	c := newClientFn(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("publish: connect to %s timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("publish: connect to %s: %w", cfg.Broker, err)
	}
	log.Info().Str("client_id", clientID).Str("topic", cfg.Topic).Msg("mqtt connected")
	return &MQTTPublisher{cfg: cfg, client: c, log: log}, nil
}

// Publish sends s to the configured topic and waits up to the configured
// timeout for the broker to acknowledge.
func (p *MQTTPublisher) Publish(s Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("publish: marshal: %w", err)
	}
	tok := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !tok.WaitTimeout(p.cfg.Timeout) {
		return fmt.Errorf("publish: %s timed out", p.cfg.Topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish: %s: %w", p.cfg.Topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
	p.log.Info().Msg("mqtt disconnected")
}
