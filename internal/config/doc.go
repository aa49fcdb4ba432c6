// ABOUTME: Package documentation for config
// ABOUTME: YAML + environment configuration with fail-fast validation

// Package config loads parley-server configuration.
//
// Configuration comes from an optional YAML file (with ${VAR} expansion),
// overridden by the recognized environment options PORT, DATABASE_URL,
// JWT_SECRET, and NODE_ENV. Missing required values abort startup.
package config
