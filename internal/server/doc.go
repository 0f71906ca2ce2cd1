// Package server implements the HTTP monitoring API of the MEC app: health,
// current and recent sessions, statistics, sanitized configuration and
// Prometheus metrics.
package server
