package config

import (
	"fmt"
	"time"

	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/file"
)

// Config represents the structure of the configuration file. Duration
// fields hold whole seconds and are scaled at wiring time.
type Config struct {
	Auth struct {
		Mode        string `yaml:"mode"`         // Authentication mode: identity-token or access-token
		AuthToken   string `yaml:"auth_token"`   // User token, required in identity-token mode
		AccessToken string `yaml:"access_token"` // Slicer access token, required in access-token mode
		DeviceID    string `yaml:"device_id"`    // Optional fixed device identifier
		DeviceFile  string `yaml:"device_file"`  // Optional path persisting a generated identity
		SSLCertDir  string `yaml:"ssl_cert_dir"` // Directory with the three Anycubic TLS artifacts
	} `yaml:"auth"`

	LocalMQTT struct {
		Host      string `yaml:"host"`       // Local broker hostname
		Port      int    `yaml:"port"`       // Local broker port
		Username  string `yaml:"username"`   // Optional local broker username
		Password  string `yaml:"password"`   // Optional local broker password
		ClientID  string `yaml:"client_id"`  // Local client ID prefix
		BaseTopic string `yaml:"base_topic"` // Root of the bridge's local topic tree
	} `yaml:"local_mqtt"`

	Cloud struct {
		AllowPublishPrefix string `yaml:"allow_publish_prefix"` // Only topics under this prefix reach the cloud
	} `yaml:"cloud"`

	Connection struct {
		ConnectTimeout     time.Duration `yaml:"connect_timeout"`     // Handshake timeout per attempt (seconds)
		BackoffFloor       time.Duration `yaml:"backoff_floor"`       // Initial reconnect delay (seconds)
		BackoffCeiling     time.Duration `yaml:"backoff_ceiling"`     // Maximum reconnect delay (seconds)
		StabilityThreshold time.Duration `yaml:"stability_threshold"` // Connected period that resets backoff (seconds)
	} `yaml:"connection"`

	Services struct {
		Discovery struct {
			Enabled  bool          `yaml:"enabled"`  // Enable/disable HA discovery publishing
			Interval time.Duration `yaml:"interval"` // Status republish interval (seconds)
		} `yaml:"discovery"`

		Telemetry struct {
			Enabled     bool          `yaml:"enabled"`      // Enable/disable bridge telemetry
			TopicSuffix string        `yaml:"topic_suffix"` // Telemetry topic under the base topic
			Interval    time.Duration `yaml:"interval"`     // Publish interval (seconds)
		} `yaml:"telemetry"`
	} `yaml:"services"`

	Logging struct {
		Level string `yaml:"level"` // Log level: debug, info, warn, error
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file and fills
// in defaults for everything the user omitted.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Auth.SSLCertDir == "" {
		c.Auth.SSLCertDir = "/ssl/anycubic"
	}
	if c.LocalMQTT.Host == "" {
		c.LocalMQTT.Host = "core-mosquitto"
	}
	if c.LocalMQTT.Port == 0 {
		c.LocalMQTT.Port = 1883
	}
	if c.LocalMQTT.ClientID == "" {
		c.LocalMQTT.ClientID = "anycubic_bridge"
	}
	if c.LocalMQTT.BaseTopic == "" {
		c.LocalMQTT.BaseTopic = "anycubic_cloud_proxy"
	}
	if c.Cloud.AllowPublishPrefix == "" {
		c.Cloud.AllowPublishPrefix = "anycubic/anycubicCloud/v1/printer/public/"
	}
	if c.Connection.ConnectTimeout <= 0 {
		c.Connection.ConnectTimeout = 10
	}
	if c.Connection.BackoffFloor <= 0 {
		c.Connection.BackoffFloor = 1
	}
	if c.Connection.BackoffCeiling <= 0 {
		c.Connection.BackoffCeiling = 120
	}
	if c.Connection.StabilityThreshold <= 0 {
		c.Connection.StabilityThreshold = 30
	}
	if c.Services.Discovery.Interval <= 0 {
		c.Services.Discovery.Interval = 60
	}
	if c.Services.Telemetry.TopicSuffix == "" {
		c.Services.Telemetry.TopicSuffix = "bridge/metrics"
	}
	if c.Services.Telemetry.Interval <= 0 {
		c.Services.Telemetry.Interval = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// AuthMode parses the configured authentication mode.
func (c *Config) AuthMode() (anycubic.AuthMode, error) {
	return anycubic.ParseAuthMode(c.Auth.Mode)
}

// Token returns the token for the given mode.
func (c *Config) Token(mode anycubic.AuthMode) string {
	if mode == anycubic.ModeAccessToken {
		return c.Auth.AccessToken
	}
	return c.Auth.AuthToken
}

// Validate checks everything that must fail fast before any connection is
// attempted: a recognized mode, the token that mode requires, and the TLS
// material on disk.
func (c *Config) Validate(fileClient file.FileOperations) error {
	mode, err := c.AuthMode()
	if err != nil {
		return err
	}

	if c.Token(mode) == "" {
		switch mode {
		case anycubic.ModeIdentityToken:
			return fmt.Errorf("auth.auth_token is required in %s mode", mode)
		default:
			return fmt.Errorf("auth.access_token is required in %s mode", mode)
		}
	}

	if c.LocalMQTT.Host == "" {
		return fmt.Errorf("local_mqtt.host must not be empty")
	}
	if c.LocalMQTT.BaseTopic == "" {
		return fmt.Errorf("local_mqtt.base_topic must not be empty")
	}

	ca, cert, key := anycubic.CertPaths(c.Auth.SSLCertDir)
	for _, path := range []string{ca, cert, key} {
		exists, err := fileClient.IsFileExists(path)
		if err != nil {
			return fmt.Errorf("failed to check TLS artifact %s: %w", path, err)
		}
		if !exists {
			return fmt.Errorf("missing TLS artifact %s", path)
		}
	}

	return nil
}
