package batchcore

import (
	"context"

	"github.com/chararch/batchcore/status"
)

//LoggingListener writes job, step, chunk, skip and retry events to the engine logger
type LoggingListener struct {
}

func NewLoggingListener() *LoggingListener {
	return &LoggingListener{}
}

func (l *LoggingListener) BeforeJob(execution *JobExecution) BatchError {
	logger.Info(context.Background(), "job starting, jobName:%v, jobExecutionId:%v, params:%v", execution.JobName, execution.JobExecutionId, execution.JobParams)
	return nil
}

func (l *LoggingListener) AfterJob(execution *JobExecution) BatchError {
	ctx := context.Background()
	if execution.JobStatus == status.COMPLETED {
		logger.Info(ctx, "job finished, jobName:%v, jobExecutionId:%v, status:%v, cost:%v", execution.JobName, execution.JobExecutionId, execution.JobStatus, execution.EndTime.Sub(execution.StartTime))
	} else {
		logger.Warn(ctx, "job finished, jobName:%v, jobExecutionId:%v, status:%v, exit:%v", execution.JobName, execution.JobExecutionId, execution.JobStatus, execution.ExitDescription)
	}
	return nil
}

func (l *LoggingListener) BeforeStep(execution *StepExecution) BatchError {
	logger.Info(context.Background(), "step starting, jobExecutionId:%v, stepName:%v, stepExecutionId:%v", execution.JobExecutionId, execution.StepName, execution.StepExecutionId)
	return nil
}

func (l *LoggingListener) AfterStep(execution *StepExecution) BatchError {
	logger.Info(context.Background(), "step finished, jobExecutionId:%v, stepName:%v, status:%v, read:%v, write:%v, filter:%v, skip:%v, commit:%v, rollback:%v",
		execution.JobExecutionId, execution.StepName, execution.StepStatus, execution.ReadCount, execution.WriteCount, execution.FilterCount,
		execution.SkipCount(), execution.CommitCount, execution.RollbackCount)
	return nil
}

func (l *LoggingListener) BeforeChunk(chunkCtx *ChunkContext) BatchError {
	return nil
}

func (l *LoggingListener) AfterChunk(chunkCtx *ChunkContext) BatchError {
	execution := chunkCtx.StepExecution
	logger.Debug(chunkCtx.Context(), "chunk committed, stepName:%v, commit:%v, read:%v, write:%v", execution.StepName, execution.CommitCount, execution.ReadCount, execution.WriteCount)
	return nil
}

func (l *LoggingListener) OnError(chunkCtx *ChunkContext, err BatchError) {
	logger.Error(chunkCtx.Context(), "chunk rolled back, stepName:%v, commit:%v, err:%v", chunkCtx.StepExecution.StepName, chunkCtx.StepExecution.CommitCount, err)
}

func (l *LoggingListener) OnSkipInRead(chunkCtx *ChunkContext, err error) {
	logger.Warn(chunkCtx.Context(), "skip item in read, stepName:%v, err:%v", chunkCtx.StepExecution.StepName, err)
}

func (l *LoggingListener) OnSkipInProcess(chunkCtx *ChunkContext, item interface{}, err error) {
	logger.Warn(chunkCtx.Context(), "skip item in process, stepName:%v, item:%v, err:%v", chunkCtx.StepExecution.StepName, item, err)
}

func (l *LoggingListener) OnSkipInWrite(chunkCtx *ChunkContext, item interface{}, err error) {
	logger.Warn(chunkCtx.Context(), "skip item in write, stepName:%v, item:%v, err:%v", chunkCtx.StepExecution.StepName, item, err)
}

func (l *LoggingListener) OnRetry(chunkCtx *ChunkContext, err error, attempt int) {
	logger.Info(chunkCtx.Context(), "retry, stepName:%v, attempt:%v, err:%v", chunkCtx.StepExecution.StepName, attempt, err)
}
