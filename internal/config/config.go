// Package config loads detector configuration.
// Sources are layered: defaults, then ~/.omnicall/config.json, then an
// explicit file, then OMNICALL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OMNICALL_"

// EngineConfig controls one detection run.
type EngineConfig struct {
	UserID          string        `koanf:"user_id" yaml:"user_id" validate:"required"`
	TemplatePath    string        `koanf:"template_path" yaml:"template_path" validate:"required"`
	Threshold       float64       `koanf:"threshold" yaml:"threshold" validate:"gt=0,lte=1"`
	Debounce        time.Duration `koanf:"debounce" yaml:"debounce" validate:"gte=1s"`
	FailureCooldown time.Duration `koanf:"failure_cooldown" yaml:"failure_cooldown" validate:"gte=1s,ltfield=Debounce"`
	PollInterval    time.Duration `koanf:"poll_interval" yaml:"poll_interval" validate:"gte=1ms"`
	DedupWindow     time.Duration `koanf:"dedup_window" yaml:"dedup_window" validate:"gt=0"`
	SendTimeout     time.Duration `koanf:"send_timeout" yaml:"send_timeout" validate:"gt=0"`
	StopGrace       time.Duration `koanf:"stop_grace" yaml:"stop_grace" validate:"gt=0"`
	MaxConcurrency  int           `koanf:"max_concurrency" yaml:"max_concurrency" validate:"min=1,max=64"`
	Downsample      int           `koanf:"downsample" yaml:"downsample" validate:"min=1,max=8"`
	Title           string        `koanf:"title" yaml:"title" validate:"required"`
	Message         string        `koanf:"message" yaml:"message" validate:"required"`
	PayloadURL      string        `koanf:"payload_url" yaml:"payload_url" validate:"omitempty,url"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver          string   `koanf:"driver" yaml:"driver" validate:"oneof=memory postgres firestore"`
	Tokens          []string `koanf:"tokens" yaml:"-"`
	StateFile       string   `koanf:"state_file" yaml:"state_file"`
	DSN             string   `koanf:"dsn" yaml:"-" validate:"required_if=Driver postgres"`
	CredentialsFile string   `koanf:"credentials_file" yaml:"credentials_file"`
	ProjectID       string   `koanf:"project_id" yaml:"project_id" validate:"required_if=Driver firestore"`
}

// PushConfig selects the notification transport.
type PushConfig struct {
	Driver          string `koanf:"driver" yaml:"driver" validate:"oneof=log fcm"`
	CredentialsFile string `koanf:"credentials_file" yaml:"credentials_file"`
	ProjectID       string `koanf:"project_id" yaml:"project_id" validate:"required_if=Driver fcm"`
}

// ServerConfig controls the local control surfaces.
type ServerConfig struct {
	HTTPAddr string `koanf:"http_addr" yaml:"http_addr" validate:"required"`
	GRPCAddr string `koanf:"grpc_addr" yaml:"grpc_addr"`
}

// MQTTConfig controls the optional MQTT event sink.
type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Broker   string `koanf:"broker" yaml:"broker" validate:"required_if=Enabled true"`
	Topic    string `koanf:"topic" yaml:"topic" validate:"required_if=Enabled true"`
	ClientID string `koanf:"client_id" yaml:"client_id"`
	Encoding string `koanf:"encoding" yaml:"encoding" validate:"oneof=json msgpack"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=text json"`
}

// Config is the full detector configuration.
type Config struct {
	Engine EngineConfig `koanf:"engine" yaml:"engine"`
	Store  StoreConfig  `koanf:"store" yaml:"store"`
	Push   PushConfig   `koanf:"push" yaml:"push"`
	Server ServerConfig `koanf:"server" yaml:"server"`
	MQTT   MQTTConfig   `koanf:"mqtt" yaml:"mqtt"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
}

var validate = validator.New()

// Load builds the effective configuration.
// explicitPath may be empty; a missing explicit file is an error.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeInvalidConfig, "set default %s", key)
		}
	}

	if globalPath := GlobalPath(); globalPath != "" {
		if _, err := os.Stat(globalPath); err == nil {
			if err := k.Load(file.Provider(globalPath), json.Parser()); err != nil {
				return nil, apperrors.Wrapf(err, apperrors.CodeInvalidConfig, "load global config %s", globalPath)
			}
		}
	}

	if explicitPath != "" {
		if err := k.Load(file.Provider(explicitPath), json.Parser()); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeInvalidConfig, "load config %s", explicitPath)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "load environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "unmarshal config")
	}

	cfg.Engine.TemplatePath = ExpandHome(cfg.Engine.TemplatePath)
	cfg.Store.StateFile = ExpandHome(cfg.Store.StateFile)
	cfg.Store.CredentialsFile = ExpandHome(cfg.Store.CredentialsFile)
	cfg.Push.CredentialsFile = ExpandHome(cfg.Push.CredentialsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidConfig, "config validation failed")
	}
	return nil
}

// ValidateEngine checks an engine section on its own.
func ValidateEngine(c EngineConfig) error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidConfig, "engine config validation failed")
	}
	return nil
}

// YAML renders the config for display. Secrets are tagged out.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

// GlobalPath returns ~/.omnicall/config.json, or "" without a home dir.
func GlobalPath() string {
	dir := HomeDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// HomeDir returns ~/.omnicall, or "" without a home dir.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".omnicall")
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// envTransform maps OMNICALL_ENGINE__POLL_INTERVAL to engine.poll_interval.
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
