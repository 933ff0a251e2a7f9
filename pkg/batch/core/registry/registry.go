// Package registry maintains the in-memory mirror of active batches.
// It caches batch state, the latest progress snapshot, and the per-batch
// control block used to pause, cancel, and join background runs.
package registry

import (
	"context"
	"sync"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// RunHandle is the handle of a managed background batch run.
// The scheduler closes Done when the run returns; Cancel stops further dispatch.
type RunHandle struct {
	Cancel context.CancelFunc
	Done   chan struct{}
}

// NewRunHandle creates a run handle around the given cancel function.
func NewRunHandle(cancel context.CancelFunc) *RunHandle {
	return &RunHandle{
		Cancel: cancel,
		Done:   make(chan struct{}),
	}
}

// entry is the per-batch control block.
type entry struct {
	batch     model.Batch
	progress  *model.Progress
	cancelled bool
	paused    bool
	handle    *RunHandle
}

// BatchRegistry mirrors the persisted state of active batches in memory.
// All operations are O(1) under a single coarse mutex; the lock is never
// held across I/O. The registry is rebuilt from the repository at engine start.
type BatchRegistry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewBatchRegistry creates an empty BatchRegistry.
func NewBatchRegistry() *BatchRegistry {
	return &BatchRegistry{
		entries: make(map[string]*entry),
	}
}

// Register adds or replaces the registry entry for a batch.
// Control flags of an existing entry are preserved.
func (r *BatchRegistry) Register(batch *model.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[batch.ID]; ok {
		e.batch = *batch
		return
	}
	r.entries[batch.ID] = &entry{batch: *batch}
}

// Deregister removes the registry entry for a batch, typically once it is terminal.
func (r *BatchRegistry) Deregister(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, batchID)
}

// Get returns a copy of the cached batch state.
func (r *BatchRegistry) Get(batchID string) (model.Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[batchID]
	if !ok {
		return model.Batch{}, false
	}
	return e.batch, true
}

// Update replaces the cached batch state. The entry must already exist.
func (r *BatchRegistry) Update(batch *model.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[batch.ID]; ok {
		e.batch = *batch
	}
}

// Snapshot returns a copy of the cached batch state for later rollback.
func (r *BatchRegistry) Snapshot(batchID string) (model.Batch, bool) {
	return r.Get(batchID)
}

// Restore rolls the cached batch state back to a previously taken snapshot.
// Used when a persistence failure aborts a controller mutation.
func (r *BatchRegistry) Restore(snapshot model.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[snapshot.ID]; ok {
		e.batch = snapshot
	}
}

// ApplyTerminalJob folds one terminal job outcome into the cached counters.
func (r *BatchRegistry) ApplyTerminalJob(batchID string, status model.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[batchID]
	if !ok {
		return
	}
	switch status {
	case model.JobStatusCompleted:
		e.batch.CompletedJobs++
	case model.JobStatusFailed:
		e.batch.FailedJobs++
	case model.JobStatusSkipped:
		e.batch.SkippedJobs++
	}
}

// SetCancelled raises the cancel flag of a batch.
func (r *BatchRegistry) SetCancelled(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[batchID]; ok {
		e.cancelled = true
	}
}

// IsCancelled reports whether the cancel flag of a batch is raised.
// Unknown batches report true so a stale run stops dispatching.
func (r *BatchRegistry) IsCancelled(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[batchID]
	if !ok {
		return true
	}
	return e.cancelled
}

// SetPaused sets or clears the pause flag of a batch.
func (r *BatchRegistry) SetPaused(batchID string, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[batchID]; ok {
		e.paused = paused
	}
}

// IsPaused reports whether the pause flag of a batch is raised.
func (r *BatchRegistry) IsPaused(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[batchID]
	if !ok {
		return false
	}
	return e.paused
}

// SetRunHandle stores the handle of the managed background run of a batch.
func (r *BatchRegistry) SetRunHandle(batchID string, handle *RunHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[batchID]; ok {
		e.handle = handle
	}
}

// GetRunHandle returns the handle of the managed background run, if any.
func (r *BatchRegistry) GetRunHandle(batchID string) (*RunHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[batchID]
	if !ok || e.handle == nil {
		return nil, false
	}
	return e.handle, true
}

// ClearRunHandle drops the run handle of a batch once the run has been joined.
func (r *BatchRegistry) ClearRunHandle(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[batchID]; ok {
		e.handle = nil
	}
}

// ActiveRunHandles returns the handles of every outstanding background run.
func (r *BatchRegistry) ActiveRunHandles() []*RunHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*RunHandle, 0, len(r.entries))
	for _, e := range r.entries {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	return handles
}

// SetProgress caches the latest progress snapshot of a batch.
func (r *BatchRegistry) SetProgress(progress *model.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[progress.BatchID]; ok {
		p := *progress
		e.progress = &p
	}
}

// GetProgress returns a copy of the cached progress snapshot of a batch.
func (r *BatchRegistry) GetProgress(batchID string) (*model.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[batchID]
	if !ok || e.progress == nil {
		return nil, false
	}
	p := *e.progress
	return &p, true
}

// ActiveIDs returns the identifiers of every registered batch.
func (r *BatchRegistry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered batches.
func (r *BatchRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
