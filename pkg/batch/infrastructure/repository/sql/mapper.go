package sql

import (
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// --- Mapper functions ---

func fromDomainBatch(b *model.Batch) *BatchEntity {
	if b == nil {
		return nil
	}
	return &BatchEntity{
		ID:            b.ID,
		Name:          b.Name,
		WorkflowID:    b.WorkflowID,
		Status:        b.Status,
		TotalJobs:     b.TotalJobs,
		CompletedJobs: b.CompletedJobs,
		FailedJobs:    b.FailedJobs,
		SkippedJobs:   b.SkippedJobs,
		Config:        b.Config,
		Metadata:      b.Metadata,
		CreatedAt:     b.CreatedAt,
		StartedAt:     b.StartedAt,
		CompletedAt:   b.CompletedAt,
		Version:       b.Version,
	}
}

func toDomainBatch(entity *BatchEntity) *model.Batch {
	if entity == nil {
		return nil
	}
	return &model.Batch{
		ID:            entity.ID,
		Name:          entity.Name,
		WorkflowID:    entity.WorkflowID,
		Status:        entity.Status,
		TotalJobs:     entity.TotalJobs,
		CompletedJobs: entity.CompletedJobs,
		FailedJobs:    entity.FailedJobs,
		SkippedJobs:   entity.SkippedJobs,
		Config:        entity.Config,
		Metadata:      entity.Metadata,
		CreatedAt:     entity.CreatedAt,
		StartedAt:     entity.StartedAt,
		CompletedAt:   entity.CompletedAt,
		Version:       entity.Version,
	}
}

func fromDomainJob(j *model.Job) *JobEntity {
	if j == nil {
		return nil
	}
	return &JobEntity{
		ID:              j.ID,
		BatchID:         j.BatchID,
		WorkflowID:      j.WorkflowID,
		Input:           j.Input,
		Status:          j.Status,
		Result:          j.Result,
		ErrorMessage:    j.ErrorMessage,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		ExecutionTimeMs: j.ExecutionTime.Milliseconds(),
		RetryCount:      j.RetryCount,
		Priority:        j.Priority,
		Ordinal:         j.Ordinal,
		CreatedAt:       j.CreatedAt,
		Version:         j.Version,
	}
}

func toDomainJob(entity *JobEntity) *model.Job {
	if entity == nil {
		return nil
	}
	return &model.Job{
		ID:            entity.ID,
		BatchID:       entity.BatchID,
		WorkflowID:    entity.WorkflowID,
		Input:         entity.Input,
		Status:        entity.Status,
		Result:        entity.Result,
		ErrorMessage:  entity.ErrorMessage,
		StartedAt:     entity.StartedAt,
		CompletedAt:   entity.CompletedAt,
		ExecutionTime: time.Duration(entity.ExecutionTimeMs) * time.Millisecond,
		RetryCount:    entity.RetryCount,
		Priority:      entity.Priority,
		Ordinal:       entity.Ordinal,
		CreatedAt:     entity.CreatedAt,
		Version:       entity.Version,
	}
}

func fromDomainProgress(p *model.Progress) *ProgressEntity {
	if p == nil {
		return nil
	}
	return &ProgressEntity{
		BatchID:          p.BatchID,
		TotalJobs:        p.TotalJobs,
		CompletedJobs:    p.CompletedJobs,
		FailedJobs:       p.FailedJobs,
		SkippedJobs:      p.SkippedJobs,
		Percentage:       p.Percentage,
		AvgJobDurationMs: p.AvgJobDuration.Milliseconds(),
		ETA:              p.ETA,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toDomainProgress(entity *ProgressEntity) *model.Progress {
	if entity == nil {
		return nil
	}
	return &model.Progress{
		BatchID:        entity.BatchID,
		TotalJobs:      entity.TotalJobs,
		CompletedJobs:  entity.CompletedJobs,
		FailedJobs:     entity.FailedJobs,
		SkippedJobs:    entity.SkippedJobs,
		Percentage:     entity.Percentage,
		AvgJobDuration: time.Duration(entity.AvgJobDurationMs) * time.Millisecond,
		ETA:            entity.ETA,
		UpdatedAt:      entity.UpdatedAt,
	}
}
