package tado

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaugesObserveOverwrites(t *testing.T) {
	gauges := NewGauges()
	state := decodeState(t, `{"sensorDataPoints":{"insideTemperature":{"celsius":21.5},"humidity":{"percentage":40}}}`)

	publish := func() {
		for _, obs := range Project(livingRoom, state, UnitCelsius) {
			require.NoError(t, gauges.Observe(obs))
		}
	}

	publish()
	first := testutil.ToFloat64(gauges.Vec(MetricSensorTemperature).WithLabelValues("Living Room", "HEATING", "celsius"))
	publish()
	second := testutil.ToFloat64(gauges.Vec(MetricSensorTemperature).WithLabelValues("Living Room", "HEATING", "celsius"))

	assert.Equal(t, 21.5, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, testutil.CollectAndCount(gauges.Vec(MetricSensorTemperature)))
	assert.Equal(t, 40.0, testutil.ToFloat64(gauges.Vec(MetricSensorHumidity).WithLabelValues("Living Room", "HEATING")))
	assert.Equal(t, 0, testutil.CollectAndCount(gauges.Vec(MetricSettingTemperature)))
}

func TestGaugesRejectUnknownMetricAndLabels(t *testing.T) {
	gauges := NewGauges()

	err := gauges.Observe(Observation{Name: "tado_nope", Value: 1})
	assert.Error(t, err)

	err = gauges.Observe(Observation{
		Name:   MetricSensorHumidity,
		Labels: prometheus.Labels{LabelZone: "Hall", LabelType: "HEATING", LabelUnit: "celsius"},
		Value:  1,
	})
	assert.Error(t, err)
}

func TestGaugesRegisterAndSelfMetrics(t *testing.T) {
	gauges := NewGauges()
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(gauges))
	assert.False(t, gauges.Ready())

	gauges.RecordPoll(true, time.Unix(1700000000, 0))
	gauges.SetRetriesRemaining(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(gauges.pollSuccess))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(gauges.lastSuccess))
	assert.Equal(t, 3.0, testutil.ToFloat64(gauges.retriesRemaining))

	gauges.RecordPoll(false, time.Unix(1800000000, 0))
	assert.Equal(t, 0.0, testutil.ToFloat64(gauges.pollSuccess))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(gauges.lastSuccess))
	assert.True(t, gauges.Ready())
}

type recordingObserver struct {
	seen []Observation
	err  error
}

func (r *recordingObserver) Observe(obs Observation) error {
	r.seen = append(r.seen, obs)
	return r.err
}

func TestTeeFansOut(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{err: errors.New("broker down")}

	err := Tee(a, b).Observe(Observation{Name: MetricWindowOpened, Value: 1})

	assert.Error(t, err)
	assert.Len(t, a.seen, 1)
	assert.Len(t, b.seen, 1)
}
