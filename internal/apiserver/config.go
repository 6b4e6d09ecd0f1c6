package apiserver

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Config is the server's configuration, SPEC_FULL.md §6: unknown keys are
// rejected, matching the original's serde(deny_unknown_fields). Decoded
// with mapstructure.ErrorUnused rather than hand-rolled key checking, the
// Go analogue of deny_unknown_fields used throughout the teacher's
// go.mod-adjacent toolchain (internal/config uses its own INI scanner, but
// for structured JSON/TOML-shaped config this pack's way of enforcing
// "strict decode" is mapstructure, not encoding/json).
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	RepoPath string `mapstructure:"repo-path"`
	Token    string `mapstructure:"token"`
}

// DefaultConfig returns the default configuration per SPEC_FULL.md §6.
func DefaultConfig() Config {
	return Config{
		Host:     "127.0.0.1",
		Port:     8080,
		RepoPath: "repo",
	}
}

// DecodeConfig strictly decodes raw (as produced by a TOML/YAML/JSON
// unmarshal into map[string]interface{}) into a Config, starting from the
// defaults and rejecting unknown keys.
func DecodeConfig(raw map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &cfg,
	})
	if err != nil {
		return Config{}, fmt.Errorf("building config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decoding server configuration: %w", err)
	}
	return cfg, nil
}

// Addr returns the host:port this configuration binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
