package repository

// BatchRepository is the interface for persisting and managing batch execution state.
// It embeds multiple smaller store interfaces to separate concerns.
type BatchRepository interface {
	BatchStore    // Batch rows (definition in batch.go)
	JobStore      // Job rows (definition in job.go)
	ProgressStore // Progress snapshots (definition in progress.go)

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
