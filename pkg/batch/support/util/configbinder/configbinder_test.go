package configbinder_test

import (
	"testing"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/support/util/configbinder"

	"github.com/stretchr/testify/assert"
)

func TestBindProperties_OverridesOnlyGivenKeys(t *testing.T) {
	cfg := model.DefaultProcessingConfig()

	err := configbinder.BindProperties(map[string]interface{}{
		"max_concurrent_jobs": 2,
		"max_retries":         1,
	}, &cfg)
	assert.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, 1, cfg.MaxRetries)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.ChunkSize)
	assert.Equal(t, 5*time.Minute, cfg.TimeoutPerJob)
}

func TestBindProperties_DurationStrings(t *testing.T) {
	cfg := model.DefaultProcessingConfig()

	err := configbinder.BindProperties(map[string]interface{}{
		"retry_delay":     "250ms",
		"timeout_per_job": "90s",
	}, &cfg)
	assert.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 90*time.Second, cfg.TimeoutPerJob)
}

func TestBindProperties_WeaklyTypedInput(t *testing.T) {
	cfg := model.DefaultProcessingConfig()

	// Strings for ints and bools are accepted, matching YAML and env var sources.
	err := configbinder.BindProperties(map[string]interface{}{
		"chunk_size":          "25",
		"priority_processing": "true",
	}, &cfg)
	assert.NoError(t, err)

	assert.Equal(t, 25, cfg.ChunkSize)
	assert.True(t, cfg.PriorityProcessing)
}

func TestBindProperties_MalformedDuration(t *testing.T) {
	cfg := model.DefaultProcessingConfig()

	err := configbinder.BindProperties(map[string]interface{}{
		"retry_delay": "soon",
	}, &cfg)
	assert.Error(t, err)
}
