package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Subject SubjectConfig `json:"subject" yaml:"subject"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ServerConfig holds the peer listener settings
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address"`
	PortFirst         int           `json:"port_first" yaml:"port_first"`
	PortLast          int           `json:"port_last" yaml:"port_last"`
	ReadChunkSize     int64         `json:"read_chunk_size" yaml:"read_chunk_size"`
	SleepDuration     time.Duration `json:"sleep_duration" yaml:"sleep_duration"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
}

// UnmarshalJSON reads durations either as strings ("30s", as in YAML) or as
// integer nanoseconds.
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type plain ServerConfig
	aux := struct {
		*plain
		SleepDuration     jsonDuration `json:"sleep_duration"`
		ReadHeaderTimeout jsonDuration `json:"read_header_timeout"`
	}{
		plain:             (*plain)(s),
		SleepDuration:     jsonDuration(s.SleepDuration),
		ReadHeaderTimeout: jsonDuration(s.ReadHeaderTimeout),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.SleepDuration = time.Duration(aux.SleepDuration)
	s.ReadHeaderTimeout = time.Duration(aux.ReadHeaderTimeout)
	return nil
}

type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = jsonDuration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s: %w", data, err)
	}
	*d = jsonDuration(n)
	return nil
}

// SubjectConfig holds settings for launching the program under test
type SubjectConfig struct {
	PortEnv         string   `json:"port_env" yaml:"port_env"`
	ValgrindCommand []string `json:"valgrind_command" yaml:"valgrind_command"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // "json" or "console"
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// Load loads configuration from a file or environment variables
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		if err := loadFromFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           "127.0.0.1",
			PortFirst:         8000,
			PortLast:          8019,
			ReadChunkSize:     10 * 1024 * 1024,
			SleepDuration:     30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Subject: SubjectConfig{
			PortEnv:         "LL_TEST_PORT",
			ValgrindCommand: []string{"valgrind", "--log-file=./valgrind.log"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// loadFromFile loads configuration from a YAML or JSON file
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		// Try YAML first, then JSON
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return json.Unmarshal(data, cfg)
		}
		return nil
	}
}

// loadFromEnv overrides configuration with LLPEER_* environment variables
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("LLPEER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("LLPEER_PORT_FIRST"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LLPEER_PORT_FIRST: %w", err)
		}
		cfg.Server.PortFirst = port
	}
	if v := os.Getenv("LLPEER_PORT_LAST"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LLPEER_PORT_LAST: %w", err)
		}
		cfg.Server.PortLast = port
	}
	if v := os.Getenv("LLPEER_SLEEP_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LLPEER_SLEEP_DURATION: %w", err)
		}
		cfg.Server.SleepDuration = d
	}
	if v := os.Getenv("LLPEER_PORT_ENV"); v != "" {
		cfg.Subject.PortEnv = v
	}
	if v := os.Getenv("LLPEER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LLPEER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.PortFirst < 1 || c.Server.PortFirst > 65535 {
		return fmt.Errorf("invalid first port: %d", c.Server.PortFirst)
	}
	if c.Server.PortLast < c.Server.PortFirst || c.Server.PortLast > 65535 {
		return fmt.Errorf("invalid port range: %d-%d", c.Server.PortFirst, c.Server.PortLast)
	}
	if c.Server.ReadChunkSize <= 0 {
		return fmt.Errorf("read chunk size must be positive")
	}
	if c.Server.SleepDuration < 0 {
		return fmt.Errorf("sleep duration must not be negative")
	}
	if c.Subject.PortEnv == "" || strings.ContainsAny(c.Subject.PortEnv, "= ") {
		return fmt.Errorf("invalid port environment variable name: %q", c.Subject.PortEnv)
	}
	if len(c.Subject.ValgrindCommand) == 0 {
		return fmt.Errorf("valgrind command is required")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /")
		}
	}
	return nil
}
