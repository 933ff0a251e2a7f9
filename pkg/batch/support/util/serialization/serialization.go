// Package serialization provides utilities for serializing and deserializing the JSON
// payload and metadata maps carried by batches and jobs.
package serialization

import (
	"encoding/json"
	"sync"

	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

// maskedKeys is the set of map keys whose values are masked before persistence or logging.
var maskedKeys = []string{"password", "secret", "token", "api_key", "credential"}

// maskedKeysMutex protects access to maskedKeys.
var maskedKeysMutex sync.RWMutex

// SetMaskedKeys replaces the set of keys to mask. Called once from the config loader.
func SetMaskedKeys(keys []string) {
	maskedKeysMutex.Lock()
	defer maskedKeysMutex.Unlock()
	if keys != nil {
		maskedKeys = keys
	}
}

// GetMaskedPayloadMap creates a copy of a payload map and masks sensitive keys.
func GetMaskedPayloadMap(payload map[string]interface{}) map[string]interface{} {
	if len(payload) == 0 {
		return map[string]interface{}{}
	}

	// Create a masked copy
	masked := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		masked[k] = v
	}

	maskedKeysMutex.RLock()
	keys := maskedKeys
	maskedKeysMutex.RUnlock()

	for _, key := range keys {
		if _, ok := masked[key]; ok {
			masked[key] = "********" // Masking
		}
	}
	return masked
}

// MarshalPayload serializes a payload map into a JSON byte slice.
func MarshalPayload(payload map[string]interface{}) ([]byte, error) {
	module := "serialization"

	if payload == nil {
		logger.Debugf("Payload is nil. Returning empty JSON object.")
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("Failed to serialize payload: %v", err)
		return nil, exception.NewInternalError(module, "Failed to serialize payload", err)
	}
	return data, nil
}

// UnmarshalPayload deserializes a JSON byte slice into a payload map.
func UnmarshalPayload(data []byte, payload *map[string]interface{}) error {
	module := "serialization"

	if *payload == nil {
		*payload = make(map[string]interface{})
	} else {
		for k := range *payload {
			delete(*payload, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		logger.Debugf("Payload is nil or empty data. Created/cleared empty payload map.")
		return nil
	}

	if err := json.Unmarshal(data, payload); err != nil {
		logger.Errorf("Failed to deserialize payload: %v", err)
		return exception.NewInternalError(module, "Failed to deserialize payload", err)
	}
	return nil
}
