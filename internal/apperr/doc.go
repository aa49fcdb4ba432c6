// ABOUTME: Package documentation for apperr
// ABOUTME: Typed errors shared by the HTTP API and the WebSocket gateway

// Package apperr defines the application error taxonomy.
//
// Services return *apperr.Error values; the ingress layers map them to the
// HTTP error envelope or a WebSocket error frame. Anything that is not an
// *apperr.Error is treated as internal: logged with full detail, surfaced
// to the client as a generic INTERNAL_ERROR.
package apperr
