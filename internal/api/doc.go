// Package api implements the local HTTP REST API and WebSocket push
// server of the web-boiler bridge.
//
// This package provides:
//   - Read endpoints for devices, parameters and widgets
//   - Power and heating circuit commands, forwarded to the portal
//   - A refresh endpoint that asks every device to resend its values
//   - A WebSocket hub broadcasting parameter.updated and
//     connectivity.changed events
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server reads device state straight from the session controller's
// collection; it keeps no state of its own. Live feed updates reach
// WebSocket clients through Hub.HandleUpdate, registered as a collection
// observer by the caller.
//
// # Security
//
// There is no authentication. Bind the listener to a trusted interface.
package api
