package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// AppConfig holds all configuration for the greenhouse server
type AppConfig struct {
	Server     ServerSettings     `yaml:"server"`
	Greenhouse GreenhouseSettings `yaml:"greenhouse"`
	Sensor     SensorSettings     `yaml:"sensor"`
	Irrigation IrrigationSettings `yaml:"irrigation"`
	Alerts     AlertSettings      `yaml:"alerts"`
	Database   DatabaseSettings   `yaml:"database"`
	MQTT       MQTTSettings       `yaml:"mqtt"`
	Metrics    MetricsSettings    `yaml:"metrics"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	StaticDir      string        `yaml:"static_dir"`
}

// Addr returns host:port for the listener
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GreenhouseSettings identifies the monitored greenhouse
type GreenhouseSettings struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// Channel is the simulated range of one measured quantity
type Channel struct {
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Optimum   float64 `yaml:"optimum"`
	Variation float64 `yaml:"variation"`
}

// SensorSettings configures the simulated feed
type SensorSettings struct {
	Temperature  Channel       `yaml:"temperature"`
	Humidity     Channel       `yaml:"humidity"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// IrrigationSettings configures the watering scheduler
type IrrigationSettings struct {
	models.IrrigationConfig `yaml:",inline"`

	ProgressInterval           time.Duration `yaml:"progress_interval"`
	ScheduleTolerance          time.Duration `yaml:"schedule_tolerance"`
	InitialLastWateringDaysAgo int           `yaml:"initial_last_watering_days_ago"`
}

// AlertSettings configures alert lifetimes
type AlertSettings struct {
	Retention     time.Duration `yaml:"retention"`
	NormalizedTTL time.Duration `yaml:"normalized_ttl"`
	CompletedTTL  time.Duration `yaml:"completed_ttl"`
	StoppedTTL    time.Duration `yaml:"stopped_ttl"`
	FollowUpDelay time.Duration `yaml:"follow_up_delay"`
}

// DatabaseSettings contains storage configuration
type DatabaseSettings struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path"`
	BatchSize      int           `yaml:"batch_size"`
	FlushPeriod    time.Duration `yaml:"flush_period"`
	ChannelSize    int           `yaml:"channel_size"`
	RetentionDays  int           `yaml:"retention_days"`
	CleanupPeriod  time.Duration `yaml:"cleanup_period"`
	RecordInterval time.Duration `yaml:"record_interval"`
}

// MQTTSettings configures the telemetry mirror
type MQTTSettings struct {
	Enabled        bool          `yaml:"enabled"`
	BrokerURL      string        `yaml:"broker_url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Retained       bool          `yaml:"retained"`
	MaxRetries     uint64        `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // "json" or "text"
	FilePath string `yaml:"file_path"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Irrigation is enabled unless the file says otherwise
	var config AppConfig
	config.Irrigation.Enabled = true
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *AppConfig {
	var config AppConfig
	config.Irrigation.Enabled = true
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}

	if ac.Greenhouse.ID == 0 {
		ac.Greenhouse.ID = 1
	}
	if ac.Greenhouse.Name == "" {
		ac.Greenhouse.Name = "Greenhouse"
	}

	if ac.Sensor.Temperature == (Channel{}) {
		ac.Sensor.Temperature = Channel{Min: 18, Max: 24, Optimum: 21, Variation: 0.5}
	}
	if ac.Sensor.Humidity == (Channel{}) {
		ac.Sensor.Humidity = Channel{Min: 75, Max: 82, Optimum: 80, Variation: 1.0}
	}
	if ac.Sensor.TickInterval == 0 {
		ac.Sensor.TickInterval = 5 * time.Second
	}

	if ac.Irrigation.FrequencyDays == 0 {
		ac.Irrigation.FrequencyDays = 7
	}
	if ac.Irrigation.DurationMinutes == 0 {
		ac.Irrigation.DurationMinutes = 15
	}
	if ac.Irrigation.StartTime == "" {
		ac.Irrigation.StartTime = "08:00"
	}
	if ac.Irrigation.ProgressInterval == 0 {
		ac.Irrigation.ProgressInterval = 5 * time.Second
	}
	if ac.Irrigation.ScheduleTolerance == 0 {
		ac.Irrigation.ScheduleTolerance = 5 * time.Minute
	}
	if ac.Irrigation.InitialLastWateringDaysAgo == 0 {
		ac.Irrigation.InitialLastWateringDaysAgo = 5
	}

	if ac.Alerts.Retention == 0 {
		ac.Alerts.Retention = 24 * time.Hour
	}
	if ac.Alerts.NormalizedTTL == 0 {
		ac.Alerts.NormalizedTTL = 30 * time.Second
	}
	if ac.Alerts.CompletedTTL == 0 {
		ac.Alerts.CompletedTTL = 2 * time.Minute
	}
	if ac.Alerts.StoppedTTL == 0 {
		ac.Alerts.StoppedTTL = time.Minute
	}
	if ac.Alerts.FollowUpDelay == 0 {
		ac.Alerts.FollowUpDelay = time.Second
	}

	if ac.Database.Path == "" {
		ac.Database.Path = "./data/greenhouse.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 50
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 10 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 500
	}
	if ac.Database.RetentionDays == 0 {
		ac.Database.RetentionDays = 30
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = 24 * time.Hour
	}
	if ac.Database.RecordInterval == 0 {
		ac.Database.RecordInterval = time.Minute
	}

	if ac.MQTT.ClientID == "" {
		ac.MQTT.ClientID = fmt.Sprintf("greenhouse-%d", ac.Greenhouse.ID)
	}
	if ac.MQTT.Topic == "" {
		ac.MQTT.Topic = fmt.Sprintf("greenhouse/%d/state", ac.Greenhouse.ID)
	}
	if ac.MQTT.MaxRetries == 0 {
		ac.MQTT.MaxRetries = 5
	}
	if ac.MQTT.ConnectTimeout == 0 {
		ac.MQTT.ConnectTimeout = 10 * time.Second
	}
	if ac.MQTT.BreakerTimeout == 0 {
		ac.MQTT.BreakerTimeout = 30 * time.Second
	}

	if ac.Metrics.Path == "" {
		ac.Metrics.Path = "/metrics"
	}

	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables.
// Only non-empty variables are applied.
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"TEMP_MIN", &ac.Sensor.Temperature.Min},
		{"TEMP_MAX", &ac.Sensor.Temperature.Max},
		{"HUMIDITY_MIN", &ac.Sensor.Humidity.Min},
		{"HUMIDITY_MAX", &ac.Sensor.Humidity.Max},
	}
	for _, f := range floats {
		v := os.Getenv(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = parsed
	}

	if v := os.Getenv("SENSOR_UPDATE_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("SENSOR_UPDATE_INTERVAL: %w", err)
		}
		ac.Sensor.TickInterval = d
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		ac.Database.Path = v
		ac.Database.Enabled = true
	}
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		ac.MQTT.BrokerURL = v
		ac.MQTT.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// parseInterval accepts a Go duration ("5s") or a bare millisecond count ("5000")
func parseInterval(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	var errs []error

	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535"))
	}
	if ac.Greenhouse.ID <= 0 {
		errs = append(errs, fmt.Errorf("greenhouse id must be positive"))
	}

	for name, ch := range map[string]Channel{"temperature": ac.Sensor.Temperature, "humidity": ac.Sensor.Humidity} {
		if ch.Min >= ch.Max {
			errs = append(errs, fmt.Errorf("%s min must be below max", name))
		}
		if ch.Variation < 0 {
			errs = append(errs, fmt.Errorf("%s variation cannot be negative", name))
		}
	}
	if ac.Sensor.TickInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("tick interval must be at least 100ms"))
	}

	if err := ac.Irrigation.IrrigationConfig.Validate(); err != nil {
		errs = append(errs, err)
	}
	if ac.Irrigation.ProgressInterval <= 0 {
		errs = append(errs, fmt.Errorf("progress interval must be positive"))
	}
	// The automatic start window is only reliable if a tick lands inside it
	if ac.Sensor.TickInterval > ac.Irrigation.ScheduleTolerance {
		errs = append(errs, fmt.Errorf("tick interval %s exceeds schedule tolerance %s",
			ac.Sensor.TickInterval, ac.Irrigation.ScheduleTolerance))
	}

	if ac.Database.Enabled {
		if ac.Database.BatchSize < 1 {
			errs = append(errs, fmt.Errorf("database batch size must be at least 1"))
		}
		if ac.Database.RetentionDays < 1 {
			errs = append(errs, fmt.Errorf("retention days must be at least 1"))
		}
	}

	if ac.MQTT.Enabled {
		if ac.MQTT.BrokerURL == "" {
			errs = append(errs, fmt.Errorf("mqtt broker url is required when mqtt is enabled"))
		}
		if ac.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2"))
		}
	}

	switch strings.ToLower(ac.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging format must be json or text"))
	}

	return errors.Join(errs...)
}

// String returns a safe string representation (hides secrets)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: [Addr=%s, Token=%s], Greenhouse: %+v, Sensor: %+v, Irrigation: %+v, Database: %+v, MQTT: [Enabled=%t, Broker=%s, Topic=%s, Password=%s], Logging: %+v}",
		ac.Server.Addr(),
		maskToken(ac.Server.AuthToken),
		ac.Greenhouse,
		ac.Sensor,
		ac.Irrigation.IrrigationConfig,
		ac.Database,
		ac.MQTT.Enabled,
		ac.MQTT.BrokerURL,
		ac.MQTT.Topic,
		maskToken(ac.MQTT.Password),
		ac.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
