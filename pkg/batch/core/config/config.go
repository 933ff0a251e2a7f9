package config

// Package config provides structures and utilities for managing engine configuration.

import (
	"gopkg.in/yaml.v3"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/support/util/configbinder"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// EngineConfig holds the engine-wide processing defaults. A per-batch override
// map merges over these values at batch creation.
type EngineConfig struct {
	model.ProcessingConfig
}

// UnmarshalYAML decodes the engine section through the property binder so that
// duration fields accept values like "1s" or "5m".
func (e *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return configbinder.BindProperties(raw, &e.ProcessingConfig)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedPayloadKeys is a list of payload keys whose values should be masked in logs.
	MaskedPayloadKeys []string `yaml:"masked_payload_keys"`
}

// CleanupConfig holds retention settings for terminal batches.
type CleanupConfig struct {
	// RetentionDays is the default age in days beyond which terminal batches are removed.
	RetentionDays int `yaml:"retention_days"`
}

// RiptideConfig holds all configuration under the "riptide" top-level key.
type RiptideConfig struct {
	// Engine contains the engine-wide processing defaults.
	Engine EngineConfig `yaml:"engine"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Security contains security-related configurations.
	Security SecurityConfig `yaml:"security"`
	// Cleanup contains retention settings.
	Cleanup CleanupConfig `yaml:"cleanup"`
	// AdapterConfigs holds configurations for database connections, keyed by logical name.
	AdapterConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire engine configuration.
type Config struct {
	// Riptide contains the top-level configuration for the batch engine.
	Riptide RiptideConfig `yaml:"riptide"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is expected to be set via fx.Supply or fx.Provide.
var GlobalConfig *Config

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Riptide: RiptideConfig{
			Engine: EngineConfig{ProcessingConfig: model.DefaultProcessingConfig()},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Security: SecurityConfig{
				MaskedPayloadKeys: []string{"password", "api_key", "secret", "token"},
			},
			Cleanup: CleanupConfig{
				RetentionDays: 30,
			},
		},
	}

	// Initialize AdapterConfigs as an empty map, to be populated by YAML or by mergeConfig.
	cfg.Riptide.AdapterConfigs = map[string]interface{}{}
	return cfg
}
