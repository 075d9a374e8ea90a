// Package automation is the external control surface of the transmitter.
//
// Commands
//
// Handler implements the automation commands on top of a transmit
// controller: SEND_PACKET, CONNECT, DISCONNECT and GET_CONNECTION_STATUS.
// SEND_PACKET fields are optional and fall back to the last saved config.
// ExecuteLink runs the same commands from a udptrigger:// deep link.
// Preset links resolve configs saved with SavePreset.
//
// Server
//
// Server exposes the commands over a local HTTP control plane. Results are
// returned as PACKET_RESULT and STATUS_RESULT JSON. GET /events upgrades to
// a WebSocket carrying controller events as JSON, one per message, and
// GET /metrics serves Prometheus metrics.
//
// Routes
//
//   - POST /send, /trigger, /burst
//   - POST /connect, /disconnect, /connectivity
//   - POST /listen, DELETE /listen
//   - POST /link
//   - GET /presets, PUT /presets/{name}, DELETE /presets/{name}
//   - GET /status, /events, /metrics
package automation
