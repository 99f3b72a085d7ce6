package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}
	if !strings.HasPrefix(c.API.WSURL, "ws://") && !strings.HasPrefix(c.API.WSURL, "wss://") {
		return fmt.Errorf("api.ws_url must be a ws:// or wss:// URL, got %q", c.API.WSURL)
	}

	if c.Sync.MaxReconnectAttempts < 1 {
		return errors.New("sync.max_reconnect_attempts must be >= 1")
	}
	if c.Sync.ReconnectMaxDelay < c.Sync.ReconnectBaseDelay {
		return fmt.Errorf("sync.reconnect_max_delay (%s) cannot be below sync.reconnect_base_delay (%s)",
			c.Sync.ReconnectMaxDelay, c.Sync.ReconnectBaseDelay)
	}
	if c.Sync.PingInterval <= 0 {
		return errors.New("sync.ping_interval must be > 0")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must be >= 0")
	}
	if c.Sync.RefreshCoalesceWindow <= 0 {
		return errors.New("sync.refresh_coalesce_window must be > 0")
	}

	if c.Notify.ErrorFlushDelay <= 0 {
		return errors.New("notify.error_flush_delay must be > 0")
	}

	return nil
}
