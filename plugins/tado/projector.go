package tado

import "github.com/prometheus/client_golang/prometheus"

// Project maps one zone snapshot to gauge observations. Readings that are
// absent or null are skipped, except window_opened which is always 0 or 1.
func Project(zone Zone, state ZoneState, unit string) []Observation {
	zoneLabels := prometheus.Labels{LabelZone: zone.Name, LabelType: zone.Type}
	unitLabels := prometheus.Labels{LabelZone: zone.Name, LabelType: zone.Type, LabelUnit: unit}

	out := make([]Observation, 0, 6)
	add := func(name string, labels prometheus.Labels, value float64) {
		out = append(out, Observation{Name: name, Labels: labels, Value: value})
	}

	if v, ok := state.Setting.Temperature.In(unit); ok {
		add(MetricSettingTemperature, unitLabels, v)
	}
	if v, ok := state.SensorDataPoints.InsideTemperature.In(unit); ok {
		add(MetricSensorTemperature, unitLabels, v)
	}
	if v, ok := state.SensorDataPoints.Humidity.Value(); ok {
		add(MetricSensorHumidity, zoneLabels, v)
	}
	if v, ok := state.ActivityDataPoints.HeatingPower.Value(); ok {
		add(MetricHeatingPower, zoneLabels, v)
	}
	if v, ok := state.ActivityDataPoints.ACPower.Value(); ok {
		add(MetricACPower, zoneLabels, v)
	}
	add(MetricWindowOpened, zoneLabels, boolToFloat(state.OpenWindow != nil))

	return out
}

// ProjectWeather maps the home weather to the outside temperature and
// solar intensity gauges, skipping whichever is missing.
func ProjectWeather(weather Weather, unit string) []Observation {
	var out []Observation
	if v, ok := weather.OutsideTemperature.In(unit); ok {
		out = append(out, Observation{
			Name:   MetricOutsideTemperature,
			Labels: prometheus.Labels{LabelUnit: unit},
			Value:  v,
		})
	}
	if v, ok := weather.SolarIntensity.Value(); ok {
		out = append(out, Observation{
			Name:   MetricSolarIntensity,
			Labels: prometheus.Labels{},
			Value:  v,
		})
	}
	return out
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
