// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one WebSocket session to the dashboard backend
//   - Treats the session as usable only after the server's
//     connection_established control message, not on transport open
//   - Sends application-level ping heartbeats and tracks pong acks
//   - Reconnects with exponential backoff on abnormal close, up to a
//     configured attempt limit
//   - Tags every underlying connection with an epoch so trailing messages
//     from a superseded connection are discarded
//   - Forwards non-reserved inbound messages to the Event Bus under a
//     topic equal to the message type
package connection
