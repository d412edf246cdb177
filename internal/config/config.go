package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.parley/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Backend        BackendConfig `toml:"backend"`
	Remote         RemoteConfig  `toml:"remote"`
	Auth           AuthConfig    `toml:"auth"`
	Outbox         OutboxConfig  `toml:"outbox"`
	Log            LogConfig     `toml:"log"`
	Metrics        MetricsConfig `toml:"metrics"`
}

// BackendConfig locates the remote GraphQL/HTTP backend.
type BackendConfig struct {
	URL         string `toml:"url"`
	GraphQLPath string `toml:"graphql_path"`
	RefreshPath string `toml:"refresh_path"`
	SignInPath  string `toml:"sign_in_path"`
	SignOutPath string `toml:"sign_out_path"`
}

// RemoteConfig tunes the outbound gateway.
type RemoteConfig struct {
	RPS     float64  `toml:"rps"`
	Burst   int      `toml:"burst"`
	Timeout Duration `toml:"timeout"`
}

// AuthConfig tunes the token refresh coordinator.
type AuthConfig struct {
	RefreshTimeout Duration `toml:"refresh_timeout"`
}

// OutboxConfig tunes the send orchestrator. A zero SendTimeout waits forever.
type OutboxConfig struct {
	SendTimeout Duration `toml:"send_timeout"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration that reads and writes as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:         "http://localhost:4000",
			GraphQLPath: "/graphql",
			RefreshPath: "/auth/refresh",
			SignInPath:  "/auth/sign-in",
			SignOutPath: "/auth/sign-out",
		},
		Remote: RemoteConfig{
			RPS:     10,
			Burst:   20,
			Timeout: Duration{20 * time.Second},
		},
		Auth:   AuthConfig{RefreshTimeout: Duration{15 * time.Second}},
		Outbox: OutboxConfig{SendTimeout: Duration{30 * time.Second}},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist. Parse errors are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv loads a .env file from the working directory (if any) and
// overrides cfg with PARLEY_* variables.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load(".env")

	if v := os.Getenv("PARLEY_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PARLEY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("PARLEY_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Outbox.SendTimeout = Duration{d}
		}
	}
	if v := os.Getenv("PARLEY_REMOTE_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Remote.RPS = rps
		}
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
