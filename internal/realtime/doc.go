// ABOUTME: Package documentation for realtime
// ABOUTME: WebSocket gateway: dispatcher, chat, receipts, presence, typing

// Package realtime implements the WebSocket side of the server.
//
// The gateway upgrades /ws requests, authenticates sessions via the first
// frame, and routes inbound frames: chat:send persists and fans out,
// chat:read upgrades receipts in bulk, chat:typing rebroadcasts with an
// auto-clear timer. Presence transitions fire on a user's first connection
// and last disconnect only. The hub carries bytes; every protocol decision
// is made here.
package realtime
