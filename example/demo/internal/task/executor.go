// Package task provides the demo workflow task executed by the engine.
package task

import (
	"context"
	"fmt"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	port "github.com/tidewave/riptide/pkg/batch/core/port"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

const moduleName = "DemoTaskExecutor"

// DemoTaskExecutor is a workflow task that simulates processing one item.
// Inputs steer its behavior: "item" names the work unit, "work_ms" delays
// execution by the given number of milliseconds, and "fail": true makes the
// attempt fail with a retryable error.
type DemoTaskExecutor struct{}

// NewDemoTaskExecutor creates a new DemoTaskExecutor.
func NewDemoTaskExecutor() *DemoTaskExecutor {
	return &DemoTaskExecutor{}
}

// Execute processes one job input and returns the result payload.
func (e *DemoTaskExecutor) Execute(ctx context.Context, workflowID string, input model.Payload) (model.Payload, error) {
	item := fmt.Sprintf("%v", input["item"])

	if ms := workMillis(input["work_ms"]); ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, exception.NewExecutionFailure(moduleName,
				fmt.Sprintf("processing of item %q interrupted", item), ctx.Err())
		}
	}

	if fail, ok := input["fail"].(bool); ok && fail {
		return nil, exception.NewExecutionFailure(moduleName,
			fmt.Sprintf("simulated failure while processing item %q", item), nil)
	}

	logger.Debugf("Processed item %q for workflow %s.", item, workflowID)
	return model.Payload{
		"message":      fmt.Sprintf("processed %s", item),
		"workflow_id":  workflowID,
		"processed_at": time.Now().Format(time.RFC3339),
	}, nil
}

// workMillis reads the work duration from a payload value. Inputs round-trip
// through JSON persistence, so numbers may arrive as float64.
func workMillis(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Verify interface
var _ port.TaskExecutor = (*DemoTaskExecutor)(nil)
