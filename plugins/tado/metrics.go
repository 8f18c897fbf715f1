package tado

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricSettingTemperature = "tado_setting_temperature_value"
	MetricSensorTemperature  = "tado_sensor_temperature_value"
	MetricSensorHumidity     = "tado_sensor_humidity_percentage"
	MetricHeatingPower       = "tado_activity_heating_power_percentage"
	MetricACPower            = "tado_activity_ac_power_value"
	MetricWindowOpened       = "tado_sensor_window_opened"
	MetricOutsideTemperature = "weather_outside_temperature"
	MetricSolarIntensity     = "weather_solar_intensity_percentage"

	LabelZone = "zone"
	LabelType = "type"
	LabelUnit = "unit"
)

// Observation is one gauge write.
type Observation struct {
	Name   string
	Labels prometheus.Labels
	Value  float64
}

// Observer receives observations. Writes overwrite; nothing accumulates.
type Observer interface {
	Observe(obs Observation) error
}

// Gauges holds the exported zone gauges and the exporter's own health
// gauges. It is both an Observer and a prometheus.Collector.
type Gauges struct {
	vecs map[string]*prometheus.GaugeVec

	pollSuccess      prometheus.Gauge
	lastSuccess      prometheus.Gauge
	retriesRemaining prometheus.Gauge

	polled atomic.Bool
}

func NewGauges() *Gauges {
	zoneLabels := []string{LabelZone, LabelType}
	unitLabels := []string{LabelZone, LabelType, LabelUnit}

	newVec := func(name, help string, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}

	return &Gauges{
		vecs: map[string]*prometheus.GaugeVec{
			MetricSettingTemperature: newVec(MetricSettingTemperature, "The target temperature of a specific zone.", unitLabels),
			MetricSensorTemperature:  newVec(MetricSensorTemperature, "The measured temperature of a specific zone.", unitLabels),
			MetricSensorHumidity:     newVec(MetricSensorHumidity, "The % of humidity in a specific zone.", zoneLabels),
			MetricHeatingPower:       newVec(MetricHeatingPower, "The % of heating power in a specific zone.", zoneLabels),
			MetricACPower:            newVec(MetricACPower, "The value of ac power in a specific zone.", zoneLabels),
			MetricWindowOpened:       newVec(MetricWindowOpened, "1 if the sensor detected a window is open, 0 otherwise.", zoneLabels),
			MetricOutsideTemperature: newVec(MetricOutsideTemperature, "Temperature outside the house.", []string{LabelUnit}),
			MetricSolarIntensity:     newVec(MetricSolarIntensity, "The % of solar intensity outside the house.", nil),
		},
		pollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tado_exporter_poll_success",
			Help: "Last poll cycle success (1=ok, 0=error)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tado_exporter_last_success_timestamp_seconds",
			Help: "Last successful poll cycle timestamp (epoch seconds)",
		}),
		retriesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tado_exporter_rate_limit_retries_remaining",
			Help: "Rate-limit retries left before the exporter exits",
		}),
	}
}

// Observe sets the gauge named by obs.
func (g *Gauges) Observe(obs Observation) error {
	vec, ok := g.vecs[obs.Name]
	if !ok {
		return fmt.Errorf("unknown metric %q", obs.Name)
	}
	gauge, err := vec.GetMetricWith(obs.Labels)
	if err != nil {
		return fmt.Errorf("%s: %w", obs.Name, err)
	}
	gauge.Set(obs.Value)
	return nil
}

// Vec exposes a gauge vector by metric name, mainly for tests.
func (g *Gauges) Vec(name string) *prometheus.GaugeVec {
	return g.vecs[name]
}

func (g *Gauges) RecordPoll(success bool, at time.Time) {
	if !success {
		g.pollSuccess.Set(0)
		return
	}
	g.pollSuccess.Set(1)
	g.lastSuccess.Set(float64(at.Unix()))
	g.polled.Store(true)
}

// Ready reports whether at least one poll cycle has completed.
func (g *Gauges) Ready() bool {
	return g.polled.Load()
}

func (g *Gauges) SetRetriesRemaining(n int) {
	g.retriesRemaining.Set(float64(n))
}

func (g *Gauges) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range g.vecs {
		vec.Describe(ch)
	}
	g.pollSuccess.Describe(ch)
	g.lastSuccess.Describe(ch)
	g.retriesRemaining.Describe(ch)
}

func (g *Gauges) Collect(ch chan<- prometheus.Metric) {
	for _, vec := range g.vecs {
		vec.Collect(ch)
	}
	g.pollSuccess.Collect(ch)
	g.lastSuccess.Collect(ch)
	g.retriesRemaining.Collect(ch)
}

// Tee fans each observation out to every observer and joins their errors.
func Tee(observers ...Observer) Observer {
	return tee(observers)
}

type tee []Observer

func (t tee) Observe(obs Observation) error {
	var errs []error
	for _, o := range t {
		if err := o.Observe(obs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
