// Package config loads and validates the synchronization layer settings.
//
// Configuration comes from a YAML file with ${VAR} environment expansion.
// Every timing knob of the sync layer (reconnect backoff, heartbeat, retry,
// error flush, refresh coalescing) is independently overridable; zero values
// are backfilled with documented defaults.
package config
