package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CHATSYNC_CONFIG"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"chatsync.yaml",
	"chatsync.yml",
}

const envPrefix = "CHATSYNC_"

// envMappings maps environment variables (without prefix, lower-cased) to
// koanf paths. Unmapped variables are ignored.
var envMappings = map[string]string{
	"server_url":            "client.server_url",
	"ws_path":               "client.ws_path",
	"session_token":         "client.session_token",
	"user_id":               "client.user_id",
	"username":              "client.username",
	"page_size":             "client.page_size",
	"presence_debounce":     "client.presence_debounce",
	"snapshot_resync_delay": "client.snapshot_resync_delay",
	"typing_timeout":        "client.typing_timeout",
	"typing_rate":           "client.typing_rate",
	"send_buffer":           "client.send_buffer",
	"handshake_timeout":     "client.handshake_timeout",
	"http_timeout":          "client.http_timeout",
	"directory_path":        "client.directory_path",
	"relay_listen":          "relay.listen",
	"relay_store":           "relay.store",
	"relay_data_dir":        "relay.data_dir",
	"relay_users":           "relay.users",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
}

var sliceConfigPaths = []string{"relay.users"}

// Load reads defaults, the config file at path (or the first default path
// found when path is empty) and CHATSYNC_* environment variables, in that
// order of increasing priority.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform returns "" for variables that have no mapping, which makes
// koanf skip them.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
