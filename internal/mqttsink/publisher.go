// Package mqttsink mirrors zone observations to an MQTT broker as retained
// JSON messages, next to the Prometheus gauges.
package mqttsink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/joshp123/tado-exporter/internal/config"
	"github.com/joshp123/tado-exporter/plugins/tado"
)

const (
	qos            = 1
	publishTimeout = 2 * time.Second
	connectTimeout = 10 * time.Second
	// pauseAfterTimeout is how long publishing stops after one timed out.
	pauseAfterTimeout = 30 * time.Second
)

var (
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	// ErrNotConnected is returned without waiting while paho reconnects.
	ErrNotConnected = errors.New("mqtt broker not connected")
)

// Message is the retained payload for one observation.
type Message struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
}

type publishFunc func(topic string, payload []byte) error

// Publisher implements tado.Observer.
type Publisher struct {
	prefix    string
	publish   publishFunc
	connected func() bool
	now       func() time.Time
	client    mqtt.Client

	pausedUntil time.Time
}

// Connect dials the broker. The paho client reconnects on its own after
// the first successful connect.
func Connect(cfg config.MQTTConfig, log *zap.SugaredLogger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("mqtt broker is not configured")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Infow("Connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnw("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}

	p := newPublisher(cfg.TopicPrefix, func(topic string, payload []byte) error {
		token := client.Publish(topic, qos, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
		}
		return token.Error()
	})
	p.client = client
	p.connected = client.IsConnectionOpen
	return p, nil
}

func newPublisher(prefix string, publish publishFunc) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = config.DefaultMQTTPrefix
	}
	return &Publisher{prefix: prefix, publish: publish, now: time.Now}
}

// Observe publishes obs to its topic. Observations are dropped without
// waiting while the broker connection is down or shortly after a publish
// timed out.
func (p *Publisher) Observe(obs tado.Observation) error {
	if p.connected != nil && !p.connected() {
		return ErrNotConnected
	}
	if p.now().Before(p.pausedUntil) {
		return ErrNotConnected
	}
	payload, err := json.Marshal(Message{
		Metric:    obs.Name,
		Value:     obs.Value,
		Labels:    obs.Labels,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return err
	}
	err = p.publish(p.Topic(obs), payload)
	if errors.Is(err, ErrPublishTimeout) {
		p.pausedUntil = p.now().Add(pauseAfterTimeout)
	}
	return err
}

// Topic is <prefix>/zones/<zone>/<metric> for zone metrics and
// <prefix>/<metric> for home-wide ones.
func (p *Publisher) Topic(obs tado.Observation) string {
	zone, ok := obs.Labels[tado.LabelZone]
	if !ok {
		return p.prefix + "/" + obs.Name
	}
	return p.prefix + "/zones/" + topicSegment(zone) + "/" + obs.Name
}

// Close disconnects, waiting briefly for in-flight publishes.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

// topicSegment lowercases a zone name and replaces characters that are
// not valid or convenient inside a single topic level.
func topicSegment(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '/', '+', '#', ' ', '\t':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
