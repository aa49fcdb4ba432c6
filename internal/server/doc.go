// Package server assembles the parley process: SQLite store, token service,
// conversation and group services, the connection hub, the realtime gateway,
// and the REST API, behind a single HTTP listener with graceful shutdown.
package server
