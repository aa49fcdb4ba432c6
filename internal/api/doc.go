// Package api serves the REST surface of the parley server: accounts and
// sessions, conversations and groups, message edit/delete/forward/search,
// contacts, blocks, and unread summaries, plus /health, /metrics, and the
// /ws upgrade.
//
// Handlers stay thin. Domain rules live in the conversation package and the
// store; this package shapes requests and responses, enforces the auth
// middleware and per-IP rate limits on the open endpoints, and translates
// apperr values into the shared error envelope.
package api
