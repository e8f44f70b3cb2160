// Package config loads the process configuration: a JSON file in a well-known
// location with OSU_* environment overrides layered on top.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// Defaults for the tunables that also have environment overrides.
const (
	DefaultPort             = 1337
	DefaultStreamBatchChars = 256
	DefaultStreamBatchMS    = 16
	DefaultToolProbeTokens  = 12
	DefaultToolProbeBytes   = 2048
	DefaultShutdownGraceMS  = 5000
)

// Settings is the full process configuration.
type Settings struct {
	Port            int      `mapstructure:"port" json:"port"`
	ExposeToNetwork bool     `mapstructure:"exposeToNetwork" json:"exposeToNetwork"`
	AllowedOrigins  []string `mapstructure:"allowedOrigins" json:"allowedOrigins"`

	GenTopP             float64 `mapstructure:"genTopP" json:"genTopP"`
	GenKVBits           *int    `mapstructure:"genKVBits" json:"genKVBits"`
	GenKVGroupSize      int     `mapstructure:"genKVGroupSize" json:"genKVGroupSize"`
	GenQuantizedKVStart int     `mapstructure:"genQuantizedKVStart" json:"genQuantizedKVStart"`
	GenMaxKVSize        *int    `mapstructure:"genMaxKVSize" json:"genMaxKVSize"`
	GenPrefillStepSize  int     `mapstructure:"genPrefillStepSize" json:"genPrefillStepSize"`

	StreamBatchChars int `mapstructure:"streamBatchChars" json:"streamBatchChars"`
	StreamBatchMS    int `mapstructure:"streamBatchMS" json:"streamBatchMS"`
	ToolProbeTokens  int `mapstructure:"toolProbeTokens" json:"toolProbeTokens"`
	ToolProbeBytes   int `mapstructure:"toolProbeBytes" json:"toolProbeBytes"`

	ModelsDir       string `mapstructure:"modelsDir" json:"modelsDir"`
	ControlSocket   string `mapstructure:"controlSocket" json:"controlSocket"`
	ShutdownGraceMS int    `mapstructure:"shutdownGraceMS" json:"shutdownGraceMS"`

	Upstream  UpstreamSettings  `mapstructure:"upstream" json:"upstream"`
	Log       LogSettings       `mapstructure:"log" json:"log"`
	RateLimit RateLimitSettings `mapstructure:"rateLimit" json:"rateLimit"`
}

// UpstreamSettings points the system-default service at an OpenAI-compatible
// runtime. Empty BaseURL leaves the service unavailable.
type UpstreamSettings struct {
	BaseURL   string `mapstructure:"baseURL" json:"baseURL"`
	APIKeyEnv string `mapstructure:"apiKeyEnv" json:"apiKeyEnv"`
	Model     string `mapstructure:"model" json:"model"`
}

// LogSettings controls the zap logger. File enables a rotated file sink.
type LogSettings struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups" json:"maxBackups"`
}

// RateLimitSettings gates the optional token-bucket limiter on generation
// endpoints. Disabled by default.
type RateLimitSettings struct {
	Enabled bool    `mapstructure:"enabled" json:"enabled"`
	RPS     float64 `mapstructure:"rps" json:"rps"`
	Burst   int     `mapstructure:"burst" json:"burst"`
}

// DefaultConfigPath returns ~/.config/osaurus/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".config", "osaurus", "config.json")
}

// DefaultModelsDir returns ~/.osaurus/models.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".osaurus", "models")
}

// DefaultControlSocket returns the per-user control socket path.
func DefaultControlSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "osaurus.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("osaurus-%d.sock", os.Getuid()))
}

// Load reads the JSON config at path (DefaultConfigPath when empty), applies
// defaults and environment overrides, and validates the result. A missing
// file is not an error.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	v.SetEnvPrefix("OSU")
	v.AutomaticEnv()
	// The documented overrides use underscores viper cannot derive from the
	// camelCase keys.
	bindings := map[string]string{
		"port":             "OSU_PORT",
		"streamBatchChars": "OSU_STREAM_BATCH_CHARS",
		"streamBatchMS":    "OSU_STREAM_BATCH_MS",
		"toolProbeTokens":  "OSU_TOOL_PROBE_TOKENS",
		"toolProbeBytes":   "OSU_TOOL_PROBE_BYTES",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("exposeToNetwork", false)
	v.SetDefault("allowedOrigins", []string{})

	v.SetDefault("genTopP", 1.0)
	v.SetDefault("genKVGroupSize", 64)
	v.SetDefault("genQuantizedKVStart", 0)
	v.SetDefault("genPrefillStepSize", 512)

	v.SetDefault("streamBatchChars", DefaultStreamBatchChars)
	v.SetDefault("streamBatchMS", DefaultStreamBatchMS)
	v.SetDefault("toolProbeTokens", DefaultToolProbeTokens)
	v.SetDefault("toolProbeBytes", DefaultToolProbeBytes)

	v.SetDefault("modelsDir", DefaultModelsDir())
	v.SetDefault("controlSocket", DefaultControlSocket())
	v.SetDefault("shutdownGraceMS", DefaultShutdownGraceMS)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.maxSizeMB", 50)
	v.SetDefault("log.maxBackups", 3)

	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.rps", 10.0)
	v.SetDefault("rateLimit.burst", 20)
}

// Validate checks bounds that would make the server unable to start.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.StreamBatchChars < 1 {
		return fmt.Errorf("streamBatchChars must be positive, got %d", s.StreamBatchChars)
	}
	if s.StreamBatchMS < 1 {
		return fmt.Errorf("streamBatchMS must be positive, got %d", s.StreamBatchMS)
	}
	if s.ToolProbeTokens < 1 {
		return fmt.Errorf("toolProbeTokens must be positive, got %d", s.ToolProbeTokens)
	}
	if s.ToolProbeBytes < 1 {
		return fmt.Errorf("toolProbeBytes must be positive, got %d", s.ToolProbeBytes)
	}
	return nil
}

// Host returns the listen host derived from exposeToNetwork.
func (s *Settings) Host() string {
	if s.ExposeToNetwork {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// Addr returns the listen address host:port.
func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port))
}

// BatchInterval returns the micro-batch flush interval.
func (s *Settings) BatchInterval() time.Duration {
	return time.Duration(s.StreamBatchMS) * time.Millisecond
}

// ShutdownGrace returns the bound on connection draining during stop.
func (s *Settings) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceMS) * time.Millisecond
}

// GenDefaults seeds backend params from the configured generation knobs.
// Per-request fields (temperature, max tokens, session) are filled by the
// handler.
func (s *Settings) GenDefaults() types.GenerationParams {
	return types.GenerationParams{
		TopP:             s.GenTopP,
		KVBits:           s.GenKVBits,
		KVGroupSize:      s.GenKVGroupSize,
		QuantizedKVStart: s.GenQuantizedKVStart,
		MaxKVSize:        s.GenMaxKVSize,
		PrefillStepSize:  s.GenPrefillStepSize,
	}
}
