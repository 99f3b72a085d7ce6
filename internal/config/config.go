package config

import "time"

// Config is the top-level configuration.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Sync   SyncConfig   `yaml:"sync"`
	Notify NotifyConfig `yaml:"notify"`
}

// APIConfig describes how to reach the dashboard backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	WSURL   string        `yaml:"ws_url"`
	Timeout time.Duration `yaml:"timeout"`

	// TokenEnv names the environment variable holding the bearer token.
	// TokenFile, when set, takes precedence and is re-read on every use.
	TokenEnv  string `yaml:"token_env"`
	TokenFile string `yaml:"token_file"`
}

// SyncConfig holds the timing policies of the sync layer.
type SyncConfig struct {
	ReconnectBaseDelay    time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	MaxRetries            int           `yaml:"max_retries"`
	BaseRetryDelay        time.Duration `yaml:"base_retry_delay"`
	RefreshCoalesceWindow time.Duration `yaml:"refresh_coalesce_window"`
	PollFallbackInterval  time.Duration `yaml:"poll_fallback_interval"`
}

// NotifyConfig holds the error aggregation windows.
type NotifyConfig struct {
	// ErrorFlushDelay debounces failures from user-initiated actions.
	ErrorFlushDelay time.Duration `yaml:"error_flush_delay"`

	// BackgroundFlushDelay debounces failures from background polling,
	// which tolerates more latency in exchange for less noise.
	BackgroundFlushDelay time.Duration `yaml:"background_flush_delay"`
}
