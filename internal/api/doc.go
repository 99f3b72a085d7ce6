// Package api provides the typed REST client for the dashboard backend.
//
// It is the request/response fallback path of the synchronization layer:
// every call goes through the resilient request executor, so transient
// failures (5xx, 429, 422, or no response at all) are retried with backoff
// and only surfaced after exhausting retries.
package api
