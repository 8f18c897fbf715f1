package tado

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/tado-exporter/internal/config"
)

const (
	ProviderName   = "tado"
	UnitCelsius    = "celsius"
	UnitFahrenheit = "fahrenheit"

	defaultTimeout = 15 * time.Second
)

// Config defines runtime configuration for the Tado client.
type Config struct {
	BaseURL string
	HomeID  *int
	Timeout time.Duration
}

func ConfigFromAPI(api config.APIConfig) (Config, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(api.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	var homeID *int
	if api.HomeID != nil {
		value := *api.HomeID
		if value <= 0 {
			return Config{}, fmt.Errorf("tado home_id must be positive")
		}
		homeID = &value
	}

	return Config{
		BaseURL: baseURL,
		HomeID:  homeID,
		Timeout: defaultTimeout,
	}, nil
}
