package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for wabridge.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	Phone     PhoneConfig     `json:"phone" yaml:"phone"`
	Media     MediaConfig     `json:"media" yaml:"media"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Responder ResponderConfig `json:"responder" yaml:"responder"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	APIKey      string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // bearer token for POST endpoints; empty = open
	CORSOrigins []string `json:"corsOrigins,omitempty" yaml:"corsOrigins,omitempty"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SessionConfig struct {
	StorePath  string `json:"storePath" yaml:"storePath"` // sqlite file holding the paired device
	TerminalQR bool   `json:"terminalQR" yaml:"terminalQR"`
}

type PhoneConfig struct {
	CountryCode string `json:"countryCode" yaml:"countryCode"`
}

type MediaConfig struct {
	TimeoutSeconds int   `json:"timeoutSeconds" yaml:"timeoutSeconds"` // 0 = no timeout
	MaxBytes       int64 `json:"maxBytes" yaml:"maxBytes"`             // 0 = unbounded
}

type DispatchConfig struct {
	Serialize          string  `json:"serialize" yaml:"serialize"` // "none" | "local" | "redis"
	RedisAddr          string  `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`
	RedisPassword      string  `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	LockTTLSeconds     int     `json:"lockTTLSeconds" yaml:"lockTTLSeconds"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond" yaml:"rateLimitPerSecond"` // 0 = off
	RedactErrors       bool    `json:"redactErrors" yaml:"redactErrors"`
}

type LogConfig struct {
	Level     string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format    string `json:"format" yaml:"format"` // text | json
	AddSource bool   `json:"addSource,omitempty" yaml:"addSource,omitempty"`
}

type ResponderConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns ~/.wabridge.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(home, ".wabridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a JSON or YAML config (by extension) on top of Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Session.StorePath = ExpandPath(cfg.Session.StorePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		cfg.Session.StorePath = ExpandPath(cfg.Session.StorePath)
		return cfg, nil
	}
	return Load(path)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unknown variables
// without a default are left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON or YAML depending on the extension of path.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Session.StorePath == "" {
		errs = append(errs, "session.storePath is required")
	}
	if cfg.Phone.CountryCode != "" && strings.Trim(cfg.Phone.CountryCode, "0123456789") != "" {
		errs = append(errs, "phone.countryCode must contain digits only")
	}
	if cfg.Media.TimeoutSeconds < 0 {
		errs = append(errs, "media.timeoutSeconds must be >= 0")
	}
	if cfg.Media.MaxBytes < 0 {
		errs = append(errs, "media.maxBytes must be >= 0")
	}

	switch cfg.Dispatch.Serialize {
	case "", "none", "local":
	case "redis":
		if cfg.Dispatch.RedisAddr == "" {
			errs = append(errs, "dispatch.redisAddr is required when dispatch.serialize is redis")
		}
	default:
		errs = append(errs, "dispatch.serialize must be one of: none, local, redis")
	}
	if cfg.Dispatch.LockTTLSeconds < 0 {
		errs = append(errs, "dispatch.lockTTLSeconds must be >= 0")
	}
	if cfg.Dispatch.RateLimitPerSecond < 0 {
		errs = append(errs, "dispatch.rateLimitPerSecond must be >= 0")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
