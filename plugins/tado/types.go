package tado

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Zone describes one Tado zone.
type Zone struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ZoneState is one zone's decoded state snapshot. Nil pointers mean the
// block was absent or null in the payload.
type ZoneState struct {
	Setting            Setting            `json:"setting"`
	SensorDataPoints   SensorDataPoints   `json:"sensorDataPoints"`
	ActivityDataPoints ActivityDataPoints `json:"activityDataPoints"`
	OpenWindow         *OpenWindow        `json:"openWindow"`
}

type Setting struct {
	Type        string       `json:"type"`
	Power       string       `json:"power"`
	Temperature *Temperature `json:"temperature"`
}

type SensorDataPoints struct {
	InsideTemperature *Temperature `json:"insideTemperature"`
	Humidity          *Percentage  `json:"humidity"`
}

type ActivityDataPoints struct {
	HeatingPower *Percentage `json:"heatingPower"`
	ACPower      *ACPower    `json:"acPower"`
}

type Temperature struct {
	Celsius    *float64 `json:"celsius"`
	Fahrenheit *float64 `json:"fahrenheit"`
}

// In returns the reading in unit ("celsius" or "fahrenheit").
func (t *Temperature) In(unit string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	var v *float64
	switch strings.ToLower(unit) {
	case UnitCelsius:
		v = t.Celsius
	case UnitFahrenheit:
		v = t.Fahrenheit
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

type Percentage struct {
	Percentage *float64 `json:"percentage"`
}

func (p *Percentage) Value() (float64, bool) {
	if p == nil || p.Percentage == nil {
		return 0, false
	}
	return *p.Percentage, true
}

type ACPower struct {
	Power PowerValue `json:"value"`
}

// PowerValue accepts a JSON number or the strings "ON"/"OFF".
type PowerValue struct {
	value float64
	valid bool
}

func (p *PowerValue) UnmarshalJSON(data []byte) error {
	*p = PowerValue{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "ON":
			*p = PowerValue{value: 1, valid: true}
		case "OFF":
			*p = PowerValue{value: 0, valid: true}
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = PowerValue{value: f, valid: true}
	return nil
}

func (a *ACPower) Value() (float64, bool) {
	if a == nil || !a.Power.valid {
		return 0, false
	}
	return a.Power.value, true
}

type OpenWindow struct {
	DetectedTime           string `json:"detectedTime"`
	DurationInSeconds      int    `json:"durationInSeconds"`
	Expiry                 string `json:"expiry"`
	RemainingTimeInSeconds int    `json:"remainingTimeInSeconds"`
}

// Weather holds the home weather readings.
type Weather struct {
	OutsideTemperature *Temperature `json:"outsideTemperature"`
	SolarIntensity     *Percentage  `json:"solarIntensity"`
}
