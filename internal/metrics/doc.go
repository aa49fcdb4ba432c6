// ABOUTME: Package documentation for metrics
// ABOUTME: Prometheus collectors on a private registry

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics
