// Package timeouts defines shared timeout constants used across the broker.
// Centralizing these values prevents drift between the entrypoint, the
// websocket bridge and tests.
package timeouts

import "time"

// ReadHeader limits how long the bridge HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the bridge HTTP server waits for in-flight
// connections during graceful shutdown.
const Shutdown = 5 * time.Second

// TelemetryShutdown caps how long pending spans may take to flush on exit.
const TelemetryShutdown = 5 * time.Second

// StoreOpen caps how long a file-backed store waits for its file lock.
const StoreOpen = time.Second
