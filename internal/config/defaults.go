package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout            = 30 * time.Second
	DefaultTokenEnv              = "SCANBOARD_TOKEN"
	DefaultReconnectBaseDelay    = 1 * time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultMaxReconnectAttempts  = 10
	DefaultPingInterval          = 30 * time.Second
	DefaultMaxRetries            = 3
	DefaultBaseRetryDelay        = 1 * time.Second
	DefaultRefreshCoalesceWindow = 2 * time.Second
	DefaultPollFallbackInterval  = 60 * time.Second
	DefaultErrorFlushDelay       = 5 * time.Second
	DefaultBackgroundFlushDelay  = 30 * time.Second
)

func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.TokenEnv == "" && c.API.TokenFile == "" {
		c.API.TokenEnv = DefaultTokenEnv
	}

	if c.Sync.ReconnectBaseDelay == 0 {
		c.Sync.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Sync.ReconnectMaxDelay == 0 {
		c.Sync.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Sync.MaxReconnectAttempts == 0 {
		c.Sync.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Sync.PingInterval == 0 {
		c.Sync.PingInterval = DefaultPingInterval
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = DefaultMaxRetries
	}
	if c.Sync.BaseRetryDelay == 0 {
		c.Sync.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.Sync.RefreshCoalesceWindow == 0 {
		c.Sync.RefreshCoalesceWindow = DefaultRefreshCoalesceWindow
	}
	if c.Sync.PollFallbackInterval == 0 {
		c.Sync.PollFallbackInterval = DefaultPollFallbackInterval
	}

	if c.Notify.ErrorFlushDelay == 0 {
		c.Notify.ErrorFlushDelay = DefaultErrorFlushDelay
	}
	if c.Notify.BackgroundFlushDelay == 0 {
		c.Notify.BackgroundFlushDelay = DefaultBackgroundFlushDelay
	}
}
