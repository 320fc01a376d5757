package dispatch

import "time"

const (
	DefaultSendTimeout    = 10 * time.Second
	DefaultMaxConcurrency = 8

	TokenPrefixLength = 12
	MaxDetailLength   = 160
)
