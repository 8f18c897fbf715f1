package mqttsink

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/tado-exporter/internal/config"
	"github.com/joshp123/tado-exporter/plugins/tado"
)

type sent struct {
	topic   string
	payload []byte
}

func recorder(out *[]sent, err error) publishFunc {
	return func(topic string, payload []byte) error {
		*out = append(*out, sent{topic: topic, payload: payload})
		return err
	}
}

func TestTopic(t *testing.T) {
	p := newPublisher("home/tado/", nil)

	zone := tado.Observation{
		Name:   tado.MetricSensorTemperature,
		Labels: prometheus.Labels{tado.LabelZone: "Living Room", tado.LabelType: "HEATING", tado.LabelUnit: "celsius"},
	}
	assert.Equal(t, "home/tado/zones/living_room/"+tado.MetricSensorTemperature, p.Topic(zone))

	weather := tado.Observation{Name: tado.MetricOutsideTemperature, Labels: prometheus.Labels{tado.LabelUnit: "celsius"}}
	assert.Equal(t, "home/tado/"+tado.MetricOutsideTemperature, p.Topic(weather))

	odd := tado.Observation{Name: tado.MetricWindowOpened, Labels: prometheus.Labels{tado.LabelZone: "Kids/#1+2"}}
	assert.Equal(t, "home/tado/zones/kids__1_2/"+tado.MetricWindowOpened, p.Topic(odd))
}

func TestEmptyPrefixUsesDefault(t *testing.T) {
	p := newPublisher(" / ", nil)
	obs := tado.Observation{Name: tado.MetricOutsideTemperature}
	assert.Equal(t, config.DefaultMQTTPrefix+"/"+tado.MetricOutsideTemperature, p.Topic(obs))
}

func TestObservePublishesJSON(t *testing.T) {
	var out []sent
	p := newPublisher("tado", recorder(&out, nil))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return at }

	err := p.Observe(tado.Observation{
		Name:   tado.MetricSensorHumidity,
		Labels: prometheus.Labels{tado.LabelZone: "Bedroom", tado.LabelType: "HEATING"},
		Value:  54.2,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "tado/zones/bedroom/"+tado.MetricSensorHumidity, out[0].topic)

	var msg Message
	require.NoError(t, json.Unmarshal(out[0].payload, &msg))
	assert.Equal(t, tado.MetricSensorHumidity, msg.Metric)
	assert.Equal(t, 54.2, msg.Value)
	assert.Equal(t, "Bedroom", msg.Labels[tado.LabelZone])
	assert.True(t, at.Equal(msg.Timestamp))
}

func TestObserveReturnsPublishError(t *testing.T) {
	var out []sent
	boom := errors.New("broker gone")
	p := newPublisher("tado", recorder(&out, boom))

	err := p.Observe(tado.Observation{Name: tado.MetricOutsideTemperature})
	assert.ErrorIs(t, err, boom)
}

func TestObserveDropsWhileDisconnected(t *testing.T) {
	var out []sent
	p := newPublisher("tado", recorder(&out, nil))
	online := false
	p.connected = func() bool { return online }

	obs := tado.Observation{Name: tado.MetricOutsideTemperature, Labels: prometheus.Labels{tado.LabelUnit: "celsius"}}
	assert.ErrorIs(t, p.Observe(obs), ErrNotConnected)
	assert.Empty(t, out)

	online = true
	require.NoError(t, p.Observe(obs))
	assert.Len(t, out, 1)
}

func TestObservePausesAfterTimeout(t *testing.T) {
	var out []sent
	p := newPublisher("tado", recorder(&out, ErrPublishTimeout))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return at }
	obs := tado.Observation{Name: tado.MetricOutsideTemperature}

	assert.ErrorIs(t, p.Observe(obs), ErrPublishTimeout)
	assert.ErrorIs(t, p.Observe(obs), ErrNotConnected)
	assert.Len(t, out, 1)

	at = at.Add(pauseAfterTimeout)
	assert.ErrorIs(t, p.Observe(obs), ErrPublishTimeout)
	assert.Len(t, out, 2)
}

func TestPublisherIsAnObserver(t *testing.T) {
	var out []sent
	gauges := tado.NewGauges()
	observer := tado.Tee(gauges, newPublisher("tado", recorder(&out, nil)))

	obs := tado.Project(tado.Zone{Name: "Office", Type: "HEATING"}, tado.ZoneState{}, tado.UnitCelsius)
	for _, o := range obs {
		require.NoError(t, observer.Observe(o))
	}
	assert.Len(t, out, len(obs))
}

func TestConnectRequiresBroker(t *testing.T) {
	_, err := Connect(config.MQTTConfig{}, nil)
	assert.Error(t, err)
}
