// ABOUTME: Package documentation for hub
// ABOUTME: In-memory WebSocket session registry with heartbeat and fanout

// Package hub tracks live WebSocket connections and the users behind them.
//
// The hub knows nothing about the frame protocol: inbound frames and
// lifecycle events are forwarded to a Handler, implemented by the realtime
// gateway. Outbound delivery is non-blocking per session; a full buffer
// drops the frame rather than stalling the sender. One heartbeat ticker
// sweeps all sessions, so dead connections are detected within two
// intervals.
package hub
