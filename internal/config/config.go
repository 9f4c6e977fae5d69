// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sercom/internal/model"
	"sercom/internal/protocol/serial"
)

// DefaultConfigFile is where preferences are saved when no config file was
// loaded
const DefaultConfigFile = "sercom.yaml"

// Config represents the application configuration
type Config struct {
	Serial    SerialConfig       `mapstructure:"serial"`
	Terminal  TerminalConfig     `mapstructure:"terminal"`
	Reconnect ReconnectConfig    `mapstructure:"reconnect"`
	Session   SessionConfig      `mapstructure:"session"`
	Monitor   MonitorConfig      `mapstructure:"monitor"`
	Devices   []model.DeviceSpec `mapstructure:"devices"`
	Server    ServerConfig       `mapstructure:"server"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	App       AppConfig          `mapstructure:"app"`
}

// SerialConfig represents the default serial port configuration
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	ResetOnOpen bool          `mapstructure:"reset_on_open"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// TerminalConfig represents console rendering preferences
type TerminalConfig struct {
	Timestamp bool   `mapstructure:"timestamp"`
	Hex       bool   `mapstructure:"hex"`
	Prompt    string `mapstructure:"prompt"`
}

// ReconnectConfig represents the reconnect policy
type ReconnectConfig struct {
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// SessionConfig represents session coordinator configuration
type SessionConfig struct {
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	InputBuffer int           `mapstructure:"input_buffer"`
}

// MonitorConfig represents multi-device fan-in configuration
type MonitorConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	IdleInterval time.Duration `mapstructure:"idle_interval"`
}

// ServerConfig represents the optional remote observer HTTP server
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// New returns a viper instance with search paths, environment binding and
// defaults registered
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("sercom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "sercom"))
	}

	// Environment variable support
	v.SetEnvPrefix("SERCOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads the configuration file, if any, and decodes it together with
// environment variables and bound flags. A missing file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.reset_on_open", true)
	v.SetDefault("serial.settle_delay", "100ms")

	// Terminal defaults
	v.SetDefault("terminal.timestamp", true)
	v.SetDefault("terminal.hex", false)
	v.SetDefault("terminal.prompt", "?> ")

	// Reconnect defaults
	v.SetDefault("reconnect.backoff", "3s")
	v.SetDefault("reconnect.max_attempts", 0)

	// Session defaults
	v.SetDefault("session.join_timeout", "2s")
	v.SetDefault("session.input_buffer", 16)

	// Monitor defaults
	v.SetDefault("monitor.queue_size", 64)
	v.SetDefault("monitor.idle_interval", "10ms")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "./logs/sercom.log")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "sercom")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if !serial.IsSupportedBaudRate(config.Serial.BaudRate) {
		return fmt.Errorf("serial.baud_rate %d is not supported", config.Serial.BaudRate)
	}
	if config.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if config.Reconnect.Backoff <= 0 {
		return fmt.Errorf("reconnect.backoff must be positive")
	}
	if config.Monitor.QueueSize <= 0 {
		return fmt.Errorf("monitor.queue_size must be positive")
	}

	seen := make(map[model.DeviceID]bool, len(config.Devices))
	for i := range config.Devices {
		device := &config.Devices[i]
		if device.ID == "" {
			return fmt.Errorf("devices[%d].id is required", i)
		}
		if seen[device.ID] {
			return fmt.Errorf("devices[%d].id %q is duplicated", i, device.ID)
		}
		seen[device.ID] = true

		if device.Address == "" {
			return fmt.Errorf("devices[%d].port is required", i)
		}
		if device.BaudRate == 0 {
			device.BaudRate = config.Serial.BaudRate
		}
		if !serial.IsSupportedBaudRate(device.BaudRate) {
			return fmt.Errorf("devices[%d].baud_rate %d is not supported", i, device.BaudRate)
		}
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// SavePreferences persists the last used port, baud rate and timestamp
// preference to path, keeping any other keys already in the file
func SavePreferences(path, port string, baudRate int, timestamp bool) error {
	if path == "" {
		path = DefaultConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.Set("serial.port", port)
	v.Set("serial.baud_rate", baudRate)
	v.Set("terminal.timestamp", timestamp)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DeviceSpecs returns the configured devices, or a single device built from
// the serial section when no device list is configured
func (c *Config) DeviceSpecs() []model.DeviceSpec {
	if len(c.Devices) > 0 {
		return c.Devices
	}
	if c.Serial.Port == "" {
		return nil
	}
	return []model.DeviceSpec{{
		ID:       model.DeviceID(filepath.Base(c.Serial.Port)),
		Identity: model.Identity{Address: c.Serial.Port, BaudRate: c.Serial.BaudRate},
	}}
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.Logging.Level == "debug"
}
