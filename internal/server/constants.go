// Package server exposes the detector over HTTP and WebSocket.
package server

import "time"

// Server configuration constants
const (
	// Test pings go to real phones, so they are limited per client IP.
	TestRateLimitMessages = 3
	TestRateLimitWindow   = 10 * time.Second

	IPRateLimitCleanupInterval = 5 * time.Minute  // How often to purge stale IP entries
	IPRateLimitEntryTTL        = 10 * time.Minute // TTL for inactive IP entries

	WSEventBuffer  = 64
	WSWriteTimeout = 5 * time.Second

	MaxRequestBody = 64 << 10

	TestMessage = "Desktop test ping"
)
