// Package config loads layered configuration with koanf: built-in defaults,
// then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pelusa-v/chatsync/internal/models"
)

// Config is the root configuration.
type Config struct {
	Client  ClientConfig  `koanf:"client"`
	Relay   RelayConfig   `koanf:"relay"`
	Logging LoggingConfig `koanf:"logging"`
}

// ClientConfig configures the synchronization engine.
type ClientConfig struct {
	ServerURL           string        `koanf:"server_url" validate:"required,url"`
	WSPath              string        `koanf:"ws_path" validate:"required,startswith=/"`
	SessionToken        string        `koanf:"session_token"`
	UserID              string        `koanf:"user_id"`
	Username            string        `koanf:"username"`
	PageSize            int           `koanf:"page_size" validate:"gte=1,lte=100"`
	PresenceDebounce    time.Duration `koanf:"presence_debounce" validate:"gt=0"`
	SnapshotResyncDelay time.Duration `koanf:"snapshot_resync_delay" validate:"gte=0"`
	TypingTimeout       time.Duration `koanf:"typing_timeout" validate:"gt=0"`
	// TypingRate caps outbound typing_start frames per second. Zero means unlimited.
	TypingRate       float64       `koanf:"typing_rate" validate:"gte=0"`
	SendBuffer       int           `koanf:"send_buffer" validate:"gte=1"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	HTTPTimeout      time.Duration `koanf:"http_timeout" validate:"gt=0"`
	DirectoryPath    string        `koanf:"directory_path" validate:"required,startswith=/"`
}

// Identity returns the configured local user.
func (c ClientConfig) Identity() models.Identity {
	return models.Identity{UserID: models.NormalizeID(c.UserID), Username: c.Username}
}

// RelayConfig configures the reference relay server.
type RelayConfig struct {
	Listen  string   `koanf:"listen" validate:"required,hostname_port"`
	Store   string   `koanf:"store" validate:"oneof=memory pebble"`
	DataDir string   `koanf:"data_dir" validate:"required_if=Store pebble"`
	Users   []string `koanf:"users" validate:"dive,contains=:"`
}

// Seed parses Users entries of the form "id:name".
func (r RelayConfig) Seed() []models.UserRef {
	out := make([]models.UserRef, 0, len(r.Users))
	for _, u := range r.Users {
		id, name, ok := strings.Cut(u, ":")
		if !ok {
			continue
		}
		out = append(out, models.UserRef{UserID: models.NormalizeID(id), Username: strings.TrimSpace(name)})
	}
	return out
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			ServerURL:           "http://127.0.0.1:3000",
			WSPath:              "/ws",
			PageSize:            10,
			PresenceDebounce:    100 * time.Millisecond,
			SnapshotResyncDelay: 300 * time.Millisecond,
			TypingTimeout:       1500 * time.Millisecond,
			TypingRate:          0,
			SendBuffer:          64,
			HandshakeTimeout:    10 * time.Second,
			HTTPTimeout:         10 * time.Second,
			DirectoryPath:       "/users/ordered-by-last-message",
		},
		Relay: RelayConfig{
			Listen: "127.0.0.1:3000",
			Store:  "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
