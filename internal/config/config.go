// Package config loads the exporter configuration from the environment.
//
// Values are read once at startup. An optional .env file in the working
// directory is loaded first and never overrides variables already set.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultBaseURL        = "https://my.tado.com/api/v2"
	DefaultClientID       = "1bb50063-6b0c-4d11-bd99-387f4a91cc46"
	DefaultTokenURL       = "https://login.tado.com/oauth2/token"
	DefaultDeviceAuthURL  = "https://login.tado.com/oauth2/device_authorize"
	DefaultOAuthScope     = "offline_access"
	DefaultBlobPrefix     = "tado-exporter/oauth"
	DefaultMQTTPrefix     = "tado"
	DefaultMQTTClientID   = "tado-exporter"
	DefaultListenAddr     = ":8000"
	DefaultTokenFile      = "refresh_token.json"
	DefaultRefreshSeconds = 30
	DefaultMaxRetries     = 5
)

// Config is the full runtime configuration.
type Config struct {
	TemperatureUnit string `envconfig:"TADO_TEMPERATURE_UNIT" default:"celsius" validate:"oneof=celsius fahrenheit"`
	RefreshRate     int    `envconfig:"TADO_EXPORTER_REFRESH_RATE" default:"30" validate:"gt=0"`
	MaxRetries      int    `envconfig:"TADO_API_MAX_RETRIES" default:"5" validate:"gte=0"`
	LogLevel        string `envconfig:"LOGLEVEL" default:"INFO" validate:"oneof=DEBUG INFO WARN WARNING ERROR CRITICAL"`
	LogFormat       string `envconfig:"LOGFORMAT" default:"console" validate:"oneof=console json"`
	ListenAddr      string `envconfig:"TADO_EXPORTER_LISTEN_ADDR" default:":8000" validate:"required"`
	Weather         bool   `envconfig:"TADO_EXPORTER_WEATHER" default:"false"`

	API   APIConfig
	OAuth OAuthConfig
	Blob  BlobConfig
	MQTT  MQTTConfig
}

// APIConfig points the client at the Tado REST API.
type APIConfig struct {
	BaseURL string `envconfig:"TADO_API_BASE_URL" default:"https://my.tado.com/api/v2" validate:"required,url"`
	HomeID  *int   `envconfig:"TADO_HOME_ID" validate:"omitempty,gt=0"`
}

// OAuthConfig describes the device-code client used to obtain refresh tokens.
type OAuthConfig struct {
	ClientID      string `envconfig:"TADO_OAUTH_CLIENT_ID" default:"1bb50063-6b0c-4d11-bd99-387f4a91cc46" validate:"required"`
	TokenURL      string `envconfig:"TADO_OAUTH_TOKEN_URL" default:"https://login.tado.com/oauth2/token" validate:"required,url"`
	DeviceAuthURL string `envconfig:"TADO_OAUTH_DEVICE_URL" default:"https://login.tado.com/oauth2/device_authorize" validate:"required,url"`
	Scope         string `envconfig:"TADO_OAUTH_SCOPE" default:"offline_access" validate:"required"`
	TokenFile     string `envconfig:"TADO_TOKEN_FILE" default:"refresh_token.json" validate:"required"`
}

// BlobConfig optionally mirrors the token state to S3-compatible storage.
type BlobConfig struct {
	Endpoint      string `envconfig:"TADO_TOKEN_BLOB_ENDPOINT"`
	Bucket        string `envconfig:"TADO_TOKEN_BLOB_BUCKET" validate:"required_with=Endpoint"`
	Prefix        string `envconfig:"TADO_TOKEN_BLOB_PREFIX" default:"tado-exporter/oauth"`
	AccessKeyFile string `envconfig:"TADO_TOKEN_BLOB_ACCESS_KEY_FILE" validate:"required_with=Endpoint"`
	SecretKeyFile string `envconfig:"TADO_TOKEN_BLOB_SECRET_KEY_FILE" validate:"required_with=Endpoint"`
	Region        string `envconfig:"TADO_TOKEN_BLOB_REGION"`
}

func (b BlobConfig) Enabled() bool {
	return strings.TrimSpace(b.Endpoint) != ""
}

// MQTTConfig optionally mirrors zone observations to an MQTT broker.
type MQTTConfig struct {
	Broker      string `envconfig:"TADO_EXPORTER_MQTT_BROKER" validate:"omitempty,url"`
	TopicPrefix string `envconfig:"TADO_EXPORTER_MQTT_TOPIC_PREFIX" default:"tado" validate:"required"`
	Username    string `envconfig:"TADO_EXPORTER_MQTT_USERNAME"`
	Password    string `envconfig:"TADO_EXPORTER_MQTT_PASSWORD"`
	ClientID    string `envconfig:"TADO_EXPORTER_MQTT_CLIENT_ID" default:"tado-exporter"`
}

func (m MQTTConfig) Enabled() bool {
	return strings.TrimSpace(m.Broker) != ""
}

// RefreshInterval is the configured tick interval.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshRate) * time.Second
}

// Load reads .env (if present) and the process environment, applies
// defaults, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv is Load without the .env step.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	cfg.TemperatureUnit = strings.ToLower(strings.TrimSpace(cfg.TemperatureUnit))
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the struct tag rules.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
