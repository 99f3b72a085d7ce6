// Package poller implements the fallback polling loop.
//
// The fallback poller:
//   - Watches the Connection Manager state on a fixed interval
//   - Triggers a coalesced refresh whenever the real-time channel is not
//     Connected, so the view keeps converging while the socket recovers
//   - Stays quiet while the live channel is healthy
package poller
