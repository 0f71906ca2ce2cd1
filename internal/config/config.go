package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/mec-geofence-alert/internal/alert"
	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// Config represents the complete configuration of all three apps
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	HTTP     HTTPConfig     `yaml:"http"`
	UE       UEConfig       `yaml:"ue"`
	MEC      MECConfig      `yaml:"mec"`
	Location LocationConfig `yaml:"location"`
	Registry RegistryConfig `yaml:"registry"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HTTPConfig contains monitoring API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// UEConfig contains UE app configuration
type UEConfig struct {
	AppName         string        `yaml:"app_name"`
	BindAddress     string        `yaml:"bind_address"`
	UDPPort         int           `yaml:"udp_port"`
	RegistryAddress string        `yaml:"registry_address"`
	Circle          wire.Circle   `yaml:"circle"`
	AlertLayout     string        `yaml:"alert_layout"`
	ReceiveTimeout  time.Duration `yaml:"receive_timeout"`
	AlertTimeout    time.Duration `yaml:"alert_timeout"`
	ReportInterval  time.Duration `yaml:"report_interval"`
	Trajectory      []wire.Point  `yaml:"trajectory"`
}

// MECConfig contains MEC app configuration
type MECConfig struct {
	BindAddress    string        `yaml:"bind_address"`
	UDPPort        int           `yaml:"udp_port"`
	AlertSource    string        `yaml:"alert_source"`
	AlertLayout    string        `yaml:"alert_layout"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	ReportTimeout  time.Duration `yaml:"report_timeout"`
	UEAddress      string        `yaml:"ue_address"`
	HistorySize    int           `yaml:"history_size"`
}

// LocationConfig contains Location service configuration
type LocationConfig struct {
	Address            string        `yaml:"address"`
	BasePath           string        `yaml:"base_path"`
	ServiceRegistryURL string        `yaml:"service_registry_url"`
	ServiceName        string        `yaml:"service_name"`
	DiscoveryRetries   int           `yaml:"discovery_retries"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	AckNotifications   bool          `yaml:"ack_notifications"`
	DeleteOnLeave      bool          `yaml:"delete_on_leave"`
	NotifyURL          string        `yaml:"notify_url"`
	CallbackData       string        `yaml:"callback_data"`
	ClientCorrelator   string        `yaml:"client_correlator"`
	Frequency          int           `yaml:"frequency"`
	TrackingAccuracy   float64       `yaml:"tracking_accuracy"`
	CheckImmediate     bool          `yaml:"check_immediate"`
}

// RegistryConfig contains Device App registry configuration
type RegistryConfig struct {
	BindAddress string            `yaml:"bind_address"`
	UDPPort     int               `yaml:"udp_port"`
	Apps        map[string]string `yaml:"apps"`
}

// Default returns the configuration used for every key the file leaves out
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		UE: UEConfig{
			AppName:         "MECWarningAlertApp",
			BindAddress:     "0.0.0.0",
			UDPPort:         4022,
			RegistryAddress: "127.0.0.1:4500",
			Circle:          wire.Circle{X: 210, Y: 260, Radius: 60},
			ReceiveTimeout:  10 * time.Second,
			AlertTimeout:    5 * time.Minute,
		},
		MEC: MECConfig{
			BindAddress:    "0.0.0.0",
			UDPPort:        4022,
			AlertSource:    string(alert.KindSubscription),
			ReceiveTimeout: 30 * time.Second,
			SessionTimeout: 10 * time.Minute,
			ReportTimeout:  time.Minute,
			HistorySize:    100,
		},
		Location: LocationConfig{
			Address:          "192.168.2.1:10020",
			BasePath:         "/example/location/v2",
			ServiceName:      "LocationService",
			DiscoveryRetries: 3,
			DialTimeout:      5 * time.Second,
			ReadTimeout:      5 * time.Minute,
			AckNotifications: true,
			DeleteOnLeave:    true,
			NotifyURL:        "example.com/notification/1234",
			Frequency:        5,
			TrackingAccuracy: 10,
		},
		Registry: RegistryConfig{
			BindAddress: "0.0.0.0",
			UDPPort:     4500,
			Apps: map[string]string{
				"MECWarningAlertApp": "127.0.0.1:4022",
			},
		},
	}
}

// Load reads the configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.UE.Validate(); err != nil {
		return fmt.Errorf("ue config: %w", err)
	}

	if err := c.MEC.Validate(); err != nil {
		return fmt.Errorf("mec config: %w", err)
	}

	if err := c.Location.Validate(); err != nil {
		return fmt.Errorf("location config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if ue, mec := c.UEAlertLayout(), c.MEC.GetAlertLayout(); ue != mec {
		return fmt.Errorf("ue alert_layout %s does not match mec alert layout %s", ue, mec)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout and stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates UE configuration
func (u *UEConfig) Validate() error {
	if u.AppName == "" {
		return fmt.Errorf("app_name cannot be empty")
	}

	if len(u.AppName) > wire.MaxPayloadSize {
		return fmt.Errorf("app_name exceeds %d bytes", wire.MaxPayloadSize)
	}

	if err := validatePort("udp_port", u.UDPPort); err != nil {
		return err
	}

	if err := validateHostPort("registry_address", u.RegistryAddress); err != nil {
		return err
	}

	if err := u.Circle.Validate(); err != nil {
		return fmt.Errorf("circle: %w", err)
	}

	if u.AlertLayout != "" {
		if _, err := wire.ParseAlertLayout(u.AlertLayout); err != nil {
			return err
		}
	}

	if u.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive_timeout must be positive, got %v", u.ReceiveTimeout)
	}

	if u.AlertTimeout < 0 || u.ReportInterval < 0 {
		return fmt.Errorf("alert_timeout and report_interval cannot be negative")
	}

	if u.ReportInterval > 0 && len(u.Trajectory) == 0 {
		return fmt.Errorf("report_interval is set but trajectory is empty")
	}

	return nil
}

// Validate validates MEC configuration
func (m *MECConfig) Validate() error {
	if m.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if err := validatePort("udp_port", m.UDPPort); err != nil {
		return err
	}

	if !alert.Kind(m.AlertSource).Valid() {
		return fmt.Errorf("alert_source must be 'subscription' or 'direct', got '%s'", m.AlertSource)
	}

	if m.AlertLayout != "" {
		if _, err := wire.ParseAlertLayout(m.AlertLayout); err != nil {
			return err
		}
	}

	if m.ReceiveTimeout < 0 || m.SessionTimeout < 0 || m.ReportTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if m.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", m.HistorySize)
	}

	return nil
}

// Validate validates Location service configuration
func (l *LocationConfig) Validate() error {
	if l.Address == "" && l.ServiceRegistryURL == "" {
		return fmt.Errorf("address or service_registry_url must be set")
	}

	if l.Address != "" {
		if err := validateHostPort("address", l.Address); err != nil {
			return err
		}
	}

	if l.ServiceRegistryURL != "" {
		if _, err := url.ParseRequestURI(l.ServiceRegistryURL); err != nil {
			return fmt.Errorf("service_registry_url is invalid: %w", err)
		}
	}

	if l.DiscoveryRetries < 0 {
		return fmt.Errorf("discovery_retries cannot be negative, got %d", l.DiscoveryRetries)
	}

	if l.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %v", l.DialTimeout)
	}

	if l.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout cannot be negative, got %v", l.ReadTimeout)
	}

	if l.Frequency < 0 {
		return fmt.Errorf("frequency cannot be negative, got %d", l.Frequency)
	}

	if l.TrackingAccuracy < 0 {
		return fmt.Errorf("tracking_accuracy cannot be negative, got %v", l.TrackingAccuracy)
	}

	return nil
}

// Validate validates Device App registry configuration
func (r *RegistryConfig) Validate() error {
	if err := validatePort("udp_port", r.UDPPort); err != nil {
		return err
	}

	for app, endpoint := range r.Apps {
		if app == "" {
			return fmt.Errorf("apps cannot contain an empty name")
		}
		if err := validateHostPort("apps."+app, endpoint); err != nil {
			return err
		}
	}

	return nil
}

// UEAlertLayout returns the layout the UE decodes alerts with. An empty
// ue.alert_layout follows the MEC app's effective layout.
func (c *Config) UEAlertLayout() wire.AlertLayout {
	if c.UE.AlertLayout == "" {
		return c.MEC.GetAlertLayout()
	}
	layout, _ := wire.ParseAlertLayout(c.UE.AlertLayout)
	return layout
}

// GetAlertSource returns the configured alert source variant
func (m *MECConfig) GetAlertSource() alert.Kind {
	return alert.Kind(m.AlertSource)
}

// GetAlertLayout returns the configured layout, or the default of the
// alert source when none is set
func (m *MECConfig) GetAlertLayout() wire.AlertLayout {
	if m.AlertLayout == "" {
		return m.GetAlertSource().DefaultLayout()
	}
	layout, _ := wire.ParseAlertLayout(m.AlertLayout)
	return layout
}

// GetClientConfig returns the Location client configuration
func (l *LocationConfig) GetClientConfig() location.Config {
	return location.Config{
		Address:          l.Address,
		BasePath:         l.BasePath,
		DialTimeout:      l.DialTimeout,
		ReadTimeout:      l.ReadTimeout,
		AckNotifications: l.AckNotifications,
	}
}

// GetDiscoveryConfig returns the service registry lookup configuration
func (l *LocationConfig) GetDiscoveryConfig() location.DiscoveryConfig {
	return location.DiscoveryConfig{
		RegistryURL: l.ServiceRegistryURL,
		ServiceName: l.ServiceName,
		Timeout:     l.DialTimeout,
		MaxRetries:  l.DiscoveryRetries,
	}
}

// GetSubscriptionTemplate returns the fixed fields of every subscription
func (l *LocationConfig) GetSubscriptionTemplate() location.Subscription {
	return location.Subscription{
		CallbackData:     l.CallbackData,
		NotifyURL:        l.NotifyURL,
		ClientCorrelator: l.ClientCorrelator,
		Frequency:        l.Frequency,
		TrackingAccuracy: l.TrackingAccuracy,
		CheckImmediate:   l.CheckImmediate,
	}
}

func validatePort(name string, port int) error {
	// Zero binds an ephemeral port
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, port)
	}
	return nil
}

func validateHostPort(name, value string) error {
	host, port, err := net.SplitHostPort(value)
	if err != nil {
		return fmt.Errorf("%s must be host:port, got '%s'", name, value)
	}
	if host == "" {
		return fmt.Errorf("%s has no host, got '%s'", name, value)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s has an invalid port, got '%s'", name, value)
	}
	return nil
}
