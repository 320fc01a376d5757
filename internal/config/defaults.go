package config

import "time"

const (
	DefaultThreshold       = 0.7
	DefaultDebounce        = 4 * time.Second
	DefaultFailureCooldown = 3 * time.Second
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultDedupWindow     = 60 * time.Second
	DefaultSendTimeout     = 10 * time.Second
	DefaultStopGrace       = 2 * time.Second
	DefaultMaxConcurrency  = 8

	DefaultTitle   = "Game Alert!"
	DefaultMessage = "Match found !! Hurry up and accept on your PC !!"

	DefaultHTTPAddr = "127.0.0.1:8765"
)

// Defaults returns the default value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"engine.user_id":          "local",
		"engine.template_path":    "~/.omnicall/template.png",
		"engine.threshold":        DefaultThreshold,
		"engine.debounce":         DefaultDebounce,
		"engine.failure_cooldown": DefaultFailureCooldown,
		"engine.poll_interval":    DefaultPollInterval,
		"engine.dedup_window":     DefaultDedupWindow,
		"engine.send_timeout":     DefaultSendTimeout,
		"engine.stop_grace":       DefaultStopGrace,
		"engine.max_concurrency":  DefaultMaxConcurrency,
		"engine.downsample":       1,
		"engine.title":            DefaultTitle,
		"engine.message":          DefaultMessage,
		"engine.payload_url":      "",

		"store.driver":     "memory",
		"store.tokens":     []string{},
		"store.state_file": "~/.omnicall/state.json",

		"push.driver": "log",

		"server.http_addr": DefaultHTTPAddr,
		"server.grpc_addr": "",

		"mqtt.enabled":   false,
		"mqtt.topic":     "omnicall/events",
		"mqtt.client_id": "omnicall-detector",
		"mqtt.encoding":  "json",

		"log.level":  "info",
		"log.format": "text",
	}
}

// DefaultEngine returns an engine section populated with defaults.
func DefaultEngine(userID, templatePath string) EngineConfig {
	return EngineConfig{
		UserID:          userID,
		TemplatePath:    templatePath,
		Threshold:       DefaultThreshold,
		Debounce:        DefaultDebounce,
		FailureCooldown: DefaultFailureCooldown,
		PollInterval:    DefaultPollInterval,
		DedupWindow:     DefaultDedupWindow,
		SendTimeout:     DefaultSendTimeout,
		StopGrace:       DefaultStopGrace,
		MaxConcurrency:  DefaultMaxConcurrency,
		Downsample:      1,
		Title:           DefaultTitle,
		Message:         DefaultMessage,
	}
}
