package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	"github.com/tidewave/riptide/pkg/batch/support/util/logger"
	"github.com/tidewave/riptide/pkg/batch/support/util/serialization"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing engine configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	// 1. Load defaults from NewConfig()
	cfg := NewConfig()

	// 2. Load configuration from embedded YAML into a temporary Config struct.
	// This ensures that YAML values are correctly parsed into their respective types.
	var yamlConfig Config
	if err := yaml.Unmarshal(embeddedConfig, &yamlConfig); err != nil {
		return nil, exception.NewInvalidConfigError(moduleName, "failed to unmarshal embedded config", err)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewInvalidConfigError(moduleName, "failed to load config from environment variables", err)
	}

	if err := cfg.Riptide.Engine.Validate(); err != nil {
		return nil, exception.NewInvalidConfigError(moduleName, "invalid engine processing defaults", err)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the engine configuration by loading defaults, merging from
// embedded YAML, and overriding with environment variables. It also sets the
// global logger level and the payload masking keys.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	// Set global configuration
	GlobalConfig = cfg

	// Set log level
	logger.SetLogLevel(cfg.Riptide.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Riptide.System.Logging.Level)

	serialization.SetMaskedKeys(cfg.Riptide.Security.MaskedPayloadKeys)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig will overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeRiptideConfig(&destConfig.Riptide, &sourceConfig.Riptide)
}

// mergeRiptideConfig merges source into dest.
func mergeRiptideConfig(dest, source *RiptideConfig) {
	mergeEngineConfig(&dest.Engine, &source.Engine)
	mergeSystemConfig(&dest.System, &source.System)

	if source.Security.MaskedPayloadKeys != nil {
		dest.Security.MaskedPayloadKeys = source.Security.MaskedPayloadKeys
	}
	if source.Cleanup.RetentionDays != 0 {
		dest.Cleanup.RetentionDays = source.Cleanup.RetentionDays
	}

	// Merge AdapterConfigs (this is the critical part for database configs)
	if source.AdapterConfigs != nil {
		if dest.AdapterConfigs == nil {
			dest.AdapterConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdapterConfigs {
			dest.AdapterConfigs[key] = value
		}
	}
}

// mergeEngineConfig merges source into dest. Only non-zero source values overwrite.
// Boolean flags are merged as a unit: a YAML engine section that sets any value
// also takes its booleans, since "false" is indistinguishable from "absent" here.
func mergeEngineConfig(dest, source *EngineConfig) {
	if source.MaxConcurrentJobs != 0 {
		dest.MaxConcurrentJobs = source.MaxConcurrentJobs
	}
	if source.MaxRetries != 0 {
		dest.MaxRetries = source.MaxRetries
	}
	if source.RetryDelay != 0 {
		dest.RetryDelay = source.RetryDelay
	}
	if source.TimeoutPerJob != 0 {
		dest.TimeoutPerJob = source.TimeoutPerJob
	}
	if source.ChunkSize != 0 {
		dest.ChunkSize = source.ChunkSize
	}
	if !isZeroEngineConfig(source) {
		dest.EnableValidation = source.EnableValidation
		dest.EnableEnrichment = source.EnableEnrichment
		dest.PriorityProcessing = source.PriorityProcessing
	}
}

func isZeroEngineConfig(c *EngineConfig) bool {
	return c.MaxConcurrentJobs == 0 && c.MaxRetries == 0 && c.RetryDelay == 0 &&
		c.TimeoutPerJob == 0 && c.ChunkSize == 0 &&
		!c.EnableValidation && !c.EnableEnrichment && !c.PriorityProcessing
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Embedded structs share the parent's prefix.
		if fieldType.Anonymous && field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		yamlTag = strings.Split(yamlTag, ",")[0]
		if yamlTag == "" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, bool, and time.Duration types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
