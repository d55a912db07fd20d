// Package config provides YAML-based configuration management for the agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Buffer sizes
	Buffer BufferConfig `yaml:"buffer"`

	// Observation processing
	Processing ProcessingConfig `yaml:"processing"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// SHDR adapters
	Adapters []AdapterConfig `yaml:"adapters,omitempty"`

	// MQTT relay
	Relay RelayConfig `yaml:"relay"`

	// Advanced options
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port              int      `yaml:"port"`
	BindAddress       string   `yaml:"bindAddress"`
	EnableCORS        bool     `yaml:"enableCors"`
	AllowOrigins      []string `yaml:"allowOrigins"`
	ReadTimeout       int      `yaml:"readTimeoutSeconds"`
	WriteTimeout      int      `yaml:"writeTimeoutSeconds"`
	IdleTimeout       int      `yaml:"idleTimeoutSeconds"`
	BodyLimit         string   `yaml:"bodyLimit"`
	EnableCompression bool     `yaml:"enableCompression"`
	CompressionLevel  int      `yaml:"compressionLevel"`
}

// BufferConfig sizes the in-memory buffers
type BufferConfig struct {
	ObservationBufferSize int  `yaml:"observationBufferSize"`
	AssetBufferSize       int  `yaml:"assetBufferSize"`
	RetainRemovedAssets   bool `yaml:"retainRemovedAssets"`
}

// ProcessingConfig controls how incoming observations are normalized and validated
type ProcessingConfig struct {
	ConvertUnits           bool   `yaml:"convertUnits"`
	IgnoreCase             bool   `yaml:"ignoreCase"`
	IgnoreTimestamps       bool   `yaml:"ignoreTimestamps"`
	ValidationLevel        string `yaml:"validationLevel"`
	DefaultVersion         string `yaml:"defaultVersion"`
	InitializeUnavailable  bool   `yaml:"initializeUnavailable"`
	EnableAgentDevice      bool   `yaml:"enableAgentDevice"`
	MetricsIntervalSeconds int    `yaml:"metricsIntervalSeconds"`
}

// StorageConfig contains file locations
type StorageConfig struct {
	DataDirectory      string        `yaml:"dataDirectory"`
	DevicesFile        string        `yaml:"devicesFile"`
	AgentInfoFile      string        `yaml:"agentInfoFile"`
	MonitorConfigFiles bool          `yaml:"monitorConfigFiles"`
	Archive            ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig controls the DuckDB observation archive
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batchSize"`
}

// AdapterConfig describes one SHDR adapter connection
type AdapterConfig struct {
	Device              string `yaml:"device"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	HeartbeatMs         int    `yaml:"heartbeatMs"`
	ReconnectIntervalMs int    `yaml:"reconnectIntervalMs"`
	IgnoreTimestamps    bool   `yaml:"ignoreTimestamps"`
}

// RelayConfig controls the MQTT relay
type RelayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	ClientID    string `yaml:"clientId"`
	TopicPrefix string `yaml:"topicPrefix"`
	QoS         byte   `yaml:"qos"`
	QueueSize   int    `yaml:"queueSize"`
	Format      string `yaml:"format"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `yaml:"logLevel"`
	EnableRequestLogging bool   `yaml:"enableRequestLogging"`
	Sender               string `yaml:"sender"`
	DuckDBThreads        int    `yaml:"duckdbThreads"`
	DuckDBMemoryLimit    string `yaml:"duckdbMemoryLimit"`
}

// Validation levels
const (
	ValidationIgnore  = "ignore"
	ValidationWarning = "warning"
	ValidationRemove  = "remove"
	ValidationStrict  = "strict"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:              5000,
			BindAddress:       "0.0.0.0",
			EnableCORS:        true,
			AllowOrigins:      []string{"*"},
			ReadTimeout:       30,
			WriteTimeout:      30,
			IdleTimeout:       120,
			BodyLimit:         "10M",
			EnableCompression: true,
			CompressionLevel:  5,
		},
		Buffer: BufferConfig{
			ObservationBufferSize: 131072,
			AssetBufferSize:       1024,
			RetainRemovedAssets:   true,
		},
		Processing: ProcessingConfig{
			ConvertUnits:           true,
			IgnoreCase:             false,
			IgnoreTimestamps:       false,
			ValidationLevel:        ValidationWarning,
			DefaultVersion:         "2.3",
			InitializeUnavailable:  false,
			EnableAgentDevice:      true,
			MetricsIntervalSeconds: 60,
		},
		Storage: StorageConfig{
			DataDirectory:      "./data",
			DevicesFile:        "./devices.xml",
			AgentInfoFile:      "./data/agent.information.json",
			MonitorConfigFiles: true,
			Archive: ArchiveConfig{
				Enabled:   false,
				Path:      "./data/archive.duckdb",
				BatchSize: 1000,
			},
		},
		Relay: RelayConfig{
			Enabled:     false,
			Address:     "localhost:1883",
			TopicPrefix: "MTConnect",
			QoS:         1,
			QueueSize:   1024,
			Format:      "json",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			Sender:               "mtconnect-agent",
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "512MB",
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// missing keys keep their defaults
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# MTConnect Agent Configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that would make the agent unusable
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Buffer.ObservationBufferSize <= 0 {
		return fmt.Errorf("observationBufferSize must be positive, got %d", c.Buffer.ObservationBufferSize)
	}
	if c.Buffer.AssetBufferSize < 0 {
		return fmt.Errorf("assetBufferSize must not be negative, got %d", c.Buffer.AssetBufferSize)
	}
	switch c.Processing.ValidationLevel {
	case ValidationIgnore, ValidationWarning, ValidationRemove, ValidationStrict:
	default:
		return fmt.Errorf("unknown validationLevel %q", c.Processing.ValidationLevel)
	}
	for i, a := range c.Adapters {
		if a.Device == "" || a.Host == "" || a.Port <= 0 {
			return fmt.Errorf("adapter %d requires device, host and port", i)
		}
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if devicesFile := os.Getenv("DEVICES_FILE"); devicesFile != "" {
		c.Storage.DevicesFile = devicesFile
	}

	if level := os.Getenv("MTCONNECT_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = strings.ToLower(level)
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.DevicesFile,
		&c.Storage.AgentInfoFile,
		&c.Storage.Archive.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// MetricsInterval returns the metrics logging period
func (c *AppConfig) MetricsInterval() time.Duration {
	return time.Duration(c.Processing.MetricsIntervalSeconds) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		filepath.Dir(c.Storage.AgentInfoFile),
	}
	if c.Storage.Archive.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Archive.Path))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
