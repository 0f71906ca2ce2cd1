package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/alert"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			modify:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "disabled http ignores port",
			modify:      func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Port = 0 },
			expectError: false,
		},
		{
			name:        "empty app name",
			modify:      func(c *Config) { c.UE.AppName = "" },
			expectError: true,
			errorMsg:    "app_name cannot be empty",
		},
		{
			name:        "zero radius",
			modify:      func(c *Config) { c.UE.Circle.Radius = 0 },
			expectError: true,
			errorMsg:    "circle",
		},
		{
			name:        "unknown ue alert layout",
			modify:      func(c *Config) { c.UE.AlertLayout = "sideways" },
			expectError: true,
			errorMsg:    "unknown alert layout",
		},
		{
			name:        "ue layout disagrees with mec",
			modify:      func(c *Config) { c.UE.AlertLayout = "flag-before-length" },
			expectError: true,
			errorMsg:    "does not match mec alert layout",
		},
		{
			name:        "direct source with derived ue layout",
			modify:      func(c *Config) { c.MEC.AlertSource = "direct" },
			expectError: false,
		},
		{
			name:        "bad registry address",
			modify:      func(c *Config) { c.UE.RegistryAddress = "localhost" },
			expectError: true,
			errorMsg:    "registry_address must be host:port",
		},
		{
			name:        "reports without trajectory",
			modify:      func(c *Config) { c.UE.ReportInterval = time.Second },
			expectError: true,
			errorMsg:    "trajectory is empty",
		},
		{
			name:        "unknown alert source",
			modify:      func(c *Config) { c.MEC.AlertSource = "radio" },
			expectError: true,
			errorMsg:    "alert_source must be",
		},
		{
			name:        "negative session timeout",
			modify:      func(c *Config) { c.MEC.SessionTimeout = -time.Second },
			expectError: true,
			errorMsg:    "timeouts cannot be negative",
		},
		{
			name: "location from registry only",
			modify: func(c *Config) {
				c.Location.Address = ""
				c.Location.ServiceRegistryURL = "http://10.0.0.1:8080/mec_service_mgmt/v1"
			},
			expectError: false,
		},
		{
			name:        "no location endpoint",
			modify:      func(c *Config) { c.Location.Address = "" },
			expectError: true,
			errorMsg:    "address or service_registry_url must be set",
		},
		{
			name:        "registry app without port",
			modify:      func(c *Config) { c.Registry.Apps["OtherApp"] = "10.0.0.1" },
			expectError: true,
			errorMsg:    "apps.OtherApp must be host:port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "full configuration",
			configYAML: `
logging:
  level: debug
  format: json
  output: stderr
http:
  enabled: true
  address: 127.0.0.1
  port: 9090
ue:
  app_name: MECWarningAlertApp
  udp_port: 4022
  registry_address: 127.0.0.1:4500
  circle: {x: 210, y: 260, radius: 60}
  alert_layout: flag-before-length
  receive_timeout: 5s
  alert_timeout: 2m
  report_interval: 500ms
  trajectory:
    - {x: 0, y: 0}
    - {x: 215, y: 262}
mec:
  alert_source: direct
  receive_timeout: 15s
location:
  address: 10.0.0.2:10020
  notify_url: mec.example/notify
registry:
  udp_port: 4501
`,
			expectError: false,
		},
		{
			name:        "empty file keeps defaults",
			configYAML:  "",
			expectError: false,
		},
		{
			name: "invalid duration",
			configYAML: `
ue:
  alert_timeout: soon
`,
			expectError: true,
			errorMsg:    "failed to parse config file",
		},
		{
			name: "invalid logging level",
			configYAML: `
logging:
  level: verbose
`,
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadOverridesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlText := `
ue:
  alert_layout: flag-before-length
  report_interval: 250ms
  trajectory:
    - {x: 1, y: 2}
mec:
  alert_source: direct
location:
  address: 10.0.0.2:10020
`
	if err := os.WriteFile(configPath, []byte(yamlText), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.UE.ReportInterval != 250*time.Millisecond {
		t.Errorf("Expected report_interval 250ms, got %v", config.UE.ReportInterval)
	}
	if len(config.UE.Trajectory) != 1 || config.UE.Trajectory[0] != (wire.Point{X: 1, Y: 2}) {
		t.Errorf("Expected one trajectory point (1,2), got %v", config.UE.Trajectory)
	}
	if config.UEAlertLayout() != wire.LayoutFlagBeforeLength {
		t.Errorf("Expected flag-before-length UE layout, got %v", config.UEAlertLayout())
	}
	if config.MEC.GetAlertSource() != alert.KindDirect {
		t.Errorf("Expected direct alert source, got %v", config.MEC.GetAlertSource())
	}
	if config.Location.Address != "10.0.0.2:10020" {
		t.Errorf("Expected overridden location address, got %s", config.Location.Address)
	}

	// Untouched keys keep their defaults
	if config.UE.AppName != "MECWarningAlertApp" {
		t.Errorf("Expected default app name, got %s", config.UE.AppName)
	}
	if config.Location.BasePath != "/example/location/v2" {
		t.Errorf("Expected default base path, got %s", config.Location.BasePath)
	}
	if config.Registry.UDPPort != 4500 {
		t.Errorf("Expected default registry port, got %d", config.Registry.UDPPort)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestMECAlertLayout(t *testing.T) {
	tests := []struct {
		name   string
		config MECConfig
		want   wire.AlertLayout
	}{
		{
			name:   "subscription default",
			config: MECConfig{AlertSource: "subscription"},
			want:   wire.LayoutFlagAfterLength,
		},
		{
			name:   "direct default",
			config: MECConfig{AlertSource: "direct"},
			want:   wire.LayoutFlagBeforeLength,
		},
		{
			name:   "explicit layout wins",
			config: MECConfig{AlertSource: "direct", AlertLayout: "flag-after-length"},
			want:   wire.LayoutFlagAfterLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetAlertLayout(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestUEAlertLayoutFollowsMEC(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   wire.AlertLayout
	}{
		{name: "subscription", source: "subscription", want: wire.LayoutFlagAfterLength},
		{name: "direct", source: "direct", want: wire.LayoutFlagBeforeLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			config.MEC.AlertSource = tt.source

			if err := config.Validate(); err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if got := config.UEAlertLayout(); got != tt.want {
				t.Errorf("Expected UE layout %v, got %v", tt.want, got)
			}
			if got := config.MEC.GetAlertLayout(); got != config.UEAlertLayout() {
				t.Errorf("Expected UE and MEC layouts to agree, MEC uses %v", got)
			}
		})
	}
}

func TestLocationHelpers(t *testing.T) {
	l := Default().Location

	client := l.GetClientConfig()
	if client.Address != l.Address || client.ReadTimeout != 5*time.Minute || !client.AckNotifications {
		t.Errorf("Unexpected client config: %+v", client)
	}

	template := l.GetSubscriptionTemplate()
	if template.NotifyURL != "example.com/notification/1234" || template.Frequency != 5 || template.TrackingAccuracy != 10 {
		t.Errorf("Unexpected subscription template: %+v", template)
	}
	if template.Criterion != "" || template.Address != "" {
		t.Errorf("Template must leave per-session fields empty: %+v", template)
	}

	discovery := l.GetDiscoveryConfig()
	if discovery.ServiceName != "LocationService" || discovery.MaxRetries != 3 {
		t.Errorf("Unexpected discovery config: %+v", discovery)
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid text to stdout",
			config: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid json to file",
			config: LoggingConfig{Level: "debug", Format: "json", Output: "/var/log/mec.log"},
			valid:  true,
		},
		{
			name:   "invalid level",
			config: LoggingConfig{Level: "trace", Format: "text", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "empty output",
			config: LoggingConfig{Level: "info", Format: "text"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
