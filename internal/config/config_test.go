// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
server:
  host: "0.0.0.0"
  port: 9090
  auth_token: "test-token-12345"
  allowed_origins: ["http://localhost:3000"]

greenhouse:
  id: 2
  name: "North house"

sensor:
  temperature: {min: 16, max: 26, optimum: 22, variation: 0.4}
  tick_interval: 2s

irrigation:
  frequency_days: 3
  duration_minutes: 20
  start_time: "06:30"
  enabled: false

database:
  enabled: true
  path: "/tmp/greenhouse.db"
  retention_days: 14

logging:
  level: "debug"
  format: "text"
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("Server.Addr() = %v, want 0.0.0.0:9090", cfg.Server.Addr())
	}
	if cfg.Greenhouse.ID != 2 {
		t.Errorf("Greenhouse.ID = %v, want 2", cfg.Greenhouse.ID)
	}
	if cfg.Sensor.Temperature.Optimum != 22 {
		t.Errorf("Temperature.Optimum = %v, want 22", cfg.Sensor.Temperature.Optimum)
	}
	// Humidity was omitted and falls back to defaults
	if cfg.Sensor.Humidity.Min != 75 || cfg.Sensor.Humidity.Max != 82 {
		t.Errorf("Humidity = %+v, want default 75..82", cfg.Sensor.Humidity)
	}
	if cfg.Sensor.TickInterval != 2*time.Second {
		t.Errorf("TickInterval = %v, want 2s", cfg.Sensor.TickInterval)
	}
	if cfg.Irrigation.FrequencyDays != 3 || cfg.Irrigation.DurationMinutes != 20 {
		t.Errorf("Irrigation = %+v", cfg.Irrigation.IrrigationConfig)
	}
	if cfg.Irrigation.Enabled {
		t.Error("Irrigation.Enabled should honour explicit false")
	}
	if cfg.Database.RetentionDays != 14 {
		t.Errorf("RetentionDays = %v, want 14", cfg.Database.RetentionDays)
	}
	if cfg.MQTT.Topic != "greenhouse/2/state" {
		t.Errorf("MQTT.Topic = %v, want greenhouse/2/state", cfg.MQTT.Topic)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %v, want text", cfg.Logging.Format)
	}
}

func TestLoadConfig_EnabledByDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "minimal.yaml")
	if err := os.WriteFile(configPath, []byte("greenhouse:\n  name: test\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Irrigation.Enabled {
		t.Error("Irrigation should be enabled when the file does not mention it")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8081 {
		t.Errorf("Default Server.Port = %v, want 8081", cfg.Server.Port)
	}
	if cfg.Sensor.Temperature != (Channel{Min: 18, Max: 24, Optimum: 21, Variation: 0.5}) {
		t.Errorf("Default Temperature = %+v", cfg.Sensor.Temperature)
	}
	if cfg.Sensor.TickInterval != 5*time.Second {
		t.Errorf("Default TickInterval = %v, want 5s", cfg.Sensor.TickInterval)
	}
	if cfg.Irrigation.FrequencyDays != 7 || cfg.Irrigation.DurationMinutes != 15 || cfg.Irrigation.StartTime != "08:00" {
		t.Errorf("Default Irrigation = %+v", cfg.Irrigation.IrrigationConfig)
	}
	if cfg.Irrigation.ScheduleTolerance != 5*time.Minute {
		t.Errorf("Default ScheduleTolerance = %v, want 5m", cfg.Irrigation.ScheduleTolerance)
	}
	if cfg.Alerts.NormalizedTTL != 30*time.Second || cfg.Alerts.CompletedTTL != 2*time.Minute || cfg.Alerts.StoppedTTL != time.Minute {
		t.Errorf("Default Alerts = %+v", cfg.Alerts)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Default Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate, got %v", err)
	}
}

func TestConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("SERVER_AUTH_TOKEN", "env-token-xyz")
	t.Setenv("TEMP_MIN", "15.5")
	t.Setenv("HUMIDITY_MAX", "90")
	t.Setenv("SENSOR_UPDATE_INTERVAL", "2500")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	if err := cfg.OverrideFromEnv(); err != nil {
		t.Fatalf("OverrideFromEnv failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %v, want 9000", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "env-token-xyz" {
		t.Errorf("Server.AuthToken = %v", cfg.Server.AuthToken)
	}
	if cfg.Sensor.Temperature.Min != 15.5 {
		t.Errorf("Temperature.Min = %v, want 15.5", cfg.Sensor.Temperature.Min)
	}
	if cfg.Sensor.Humidity.Max != 90 {
		t.Errorf("Humidity.Max = %v, want 90", cfg.Sensor.Humidity.Max)
	}
	if cfg.Sensor.TickInterval != 2500*time.Millisecond {
		t.Errorf("TickInterval = %v, want 2.5s", cfg.Sensor.TickInterval)
	}
	if !cfg.Database.Enabled || cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.BrokerURL != "tcp://broker:1883" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestConfig_OverrideFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port", "SERVER_PORT", "eighty"},
		{"temperature", "TEMP_MAX", "warm"},
		{"interval", "SENSOR_UPDATE_INTERVAL", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if err := Default().OverrideFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*AppConfig)
		wantError bool
	}{
		{"defaults", func(*AppConfig) {}, false},
		{"bad port", func(c *AppConfig) { c.Server.Port = 70000 }, true},
		{"inverted temperature range", func(c *AppConfig) { c.Sensor.Temperature.Min = 30 }, true},
		{"tick slower than tolerance", func(c *AppConfig) { c.Sensor.TickInterval = 10 * time.Minute }, true},
		{"duration too long", func(c *AppConfig) { c.Irrigation.DurationMinutes = 500 }, true},
		{"mqtt without broker", func(c *AppConfig) { c.MQTT.Enabled = true }, true},
		{"unknown log format", func(c *AppConfig) { c.Logging.Format = "xml" }, true},
		{"database disabled ignores batch", func(c *AppConfig) { c.Database.BatchSize = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "super-secret-token"
	cfg.MQTT.Password = "hunter22"

	s := cfg.String()

	if strings.Contains(s, "super-secret-token") {
		t.Error("String() should not contain full auth token")
	}
	if strings.Contains(s, "hunter22") {
		t.Error("String() should not contain mqtt password")
	}
	if !strings.Contains(s, "supe****") {
		t.Error("String() should contain masked token")
	}
}
