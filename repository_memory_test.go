package batchcore

import (
	"context"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/chararch/batchcore/status"
)

func TestMemoryJobRepository_Instances(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	params := NewJobParametersBuilder().String("day", "2024-01-31").String("operator", "ops", false).Build()

	instance, err := repo.CreateOrGetInstance(ctx, "importJob", params)
	assert.Equal(t, nil, err)
	same, err := repo.CreateOrGetInstance(ctx, "importJob", NewJobParametersBuilder().String("day", "2024-01-31").Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, instance.JobInstanceId, same.JobInstanceId)
	assert.Equal(t, 1, instance.JobParams.Len())

	for _, day := range []string{"2024-02-01", "2024-02-02"} {
		_, err = repo.CreateOrGetInstance(ctx, "importJob", NewJobParametersBuilder().String("day", day).Build())
		assert.Equal(t, nil, err)
	}
	page, _ := repo.GetJobInstances(ctx, "importJob", 0, 2)
	assert.Equal(t, 2, len(page))
	assert.T(t, page[0].JobInstanceId > page[1].JobInstanceId)
	page, _ = repo.GetJobInstances(ctx, "importJob", 2, 2)
	assert.Equal(t, 1, len(page))
	assert.Equal(t, instance.JobInstanceId, page[0].JobInstanceId)
	page, _ = repo.GetJobInstances(ctx, "importJob", 5, 2)
	assert.Equal(t, 0, len(page))

	missing, err := repo.GetJobInstance(ctx, 999)
	assert.Equal(t, nil, err)
	assert.T(t, missing == nil)
}

func TestMemoryJobRepository_ExecutionLifecycle(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	params := NewJobParameters()
	instance, _ := repo.CreateOrGetInstance(ctx, "importJob", params)

	execution, err := repo.CreateJobExecution(ctx, instance, params)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.STARTING, execution.JobStatus)
	_, err = repo.CreateJobExecution(ctx, instance, params)
	assert.T(t, IsIdentityConflict(err))

	stale, _ := repo.GetJobExecution(ctx, execution.JobExecutionId)
	execution.JobStatus = status.STARTED
	assert.Equal(t, nil, repo.UpdateJobExecution(ctx, execution))
	stale.JobStatus = status.STOPPING
	assert.Equal(t, ErrCodeConcurrency, ErrorCode(repo.UpdateJobExecution(ctx, stale)))

	execution.JobStatus = status.FAILED
	assert.Equal(t, nil, repo.UpdateJobExecution(ctx, execution))
	restart, err := repo.CreateJobExecution(ctx, instance, params)
	assert.Equal(t, nil, err)
	last, _ := repo.GetLastJobExecution(ctx, instance)
	assert.Equal(t, restart.JobExecutionId, last.JobExecutionId)

	restart.JobStatus = status.COMPLETED
	assert.Equal(t, nil, repo.UpdateJobExecution(ctx, restart))
	_, err = repo.CreateOrGetInstance(ctx, "importJob", params)
	assert.T(t, IsRestartExhausted(err))
	_, err = repo.CreateJobExecution(ctx, instance, params)
	assert.T(t, IsRestartExhausted(err))
}

func TestMemoryJobRepository_Checkpoint(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	instance, _ := repo.CreateOrGetInstance(ctx, "importJob", NewJobParameters())
	jobExecution, _ := repo.CreateJobExecution(ctx, instance, NewJobParameters())
	execution := &StepExecution{StepName: "load", JobExecutionId: jobExecution.JobExecutionId, StepStatus: status.STARTED, StepExecutionContext: NewBatchContext()}
	assert.Equal(t, nil, repo.CreateStepExecution(ctx, execution))

	tm := repo.TransactionManager()
	tx, _ := tm.BeginTx(ctx)
	pending := execution.withContribution(&stepContribution{readCount: 10, writeCount: 10, commitCount: 1})
	pending.StepExecutionContext.Put("offset", 10)
	enlisted, err := repo.CheckpointStepExecution(ctx, tx, pending)
	assert.Equal(t, nil, err)
	assert.T(t, enlisted)
	assert.Equal(t, nil, tm.Rollback(tx))
	stored, _ := repo.GetLastStepExecution(ctx, instance.JobInstanceId, "load")
	assert.Equal(t, int64(0), stored.CommitCount)
	assert.T(t, !stored.StepExecutionContext.Exists("offset"))

	tx, _ = tm.BeginTx(ctx)
	pending = execution.withContribution(&stepContribution{readCount: 10, writeCount: 10, commitCount: 1})
	pending.StepExecutionContext.Put("offset", 10)
	_, err = repo.CheckpointStepExecution(ctx, tx, pending)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, tm.Commit(tx))
	assert.NotEqual(t, nil, tm.Commit(tx))
	execution.apply(pending)
	stored, _ = repo.GetLastStepExecution(ctx, instance.JobInstanceId, "load")
	assert.Equal(t, int64(1), stored.CommitCount)
	assert.Equal(t, int64(10), stored.WriteCount)
	assert.Equal(t, execution.Version, stored.Version)
	offset, _ := stored.StepExecutionContext.GetInt("offset")
	assert.Equal(t, 10, offset)

	//a stale copy is rejected
	stale := execution.copy()
	stale.Version--
	_, err = repo.CheckpointStepExecution(ctx, &MemoryTx{}, stale)
	assert.Equal(t, ErrCodeConcurrency, ErrorCode(err))
	enlisted, err = repo.CheckpointStepExecution(ctx, "not a memory tx", execution)
	assert.Equal(t, nil, err)
	assert.T(t, !enlisted)
}
