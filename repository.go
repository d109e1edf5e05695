package batchcore

import (
	"context"
	"time"

	"github.com/chararch/batchcore/status"
)

//JobRepository durable store of job instances, job executions, step executions and their contexts.
//Implementations must make CreateJobExecution an exclusive check-then-create per JobInstance.
type JobRepository interface {
	//CreateOrGetInstance return the JobInstance of jobName and the identifying part of params, creating it when absent.
	//Fails with ErrCodeInstanceComplete when the latest execution of the instance is COMPLETED.
	CreateOrGetInstance(ctx context.Context, jobName string, params JobParameters) (*JobInstance, BatchError)
	//CreateJobExecution register a new STARTING execution of instance.
	//Fails with ErrCodeAlreadyRunning when the latest execution is still running and with
	//ErrCodeInstanceComplete when it is COMPLETED.
	CreateJobExecution(ctx context.Context, instance *JobInstance, params JobParameters) (*JobExecution, BatchError)
	UpdateJobExecution(ctx context.Context, execution *JobExecution) BatchError
	GetJobInstance(ctx context.Context, jobInstanceId int64) (*JobInstance, BatchError)
	GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*JobInstance, BatchError)
	GetLastJobExecution(ctx context.Context, instance *JobInstance) (*JobExecution, BatchError)
	GetJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError)
	CreateStepExecution(ctx context.Context, execution *StepExecution) BatchError
	UpdateStepExecution(ctx context.Context, execution *StepExecution) BatchError
	//CheckpointStepExecution persist counters and context of execution as part of transaction tx.
	//enlisted is false when the repository can not join tx, the caller must then persist the
	//checkpoint with UpdateStepExecution after tx commits.
	CheckpointStepExecution(ctx context.Context, tx interface{}, execution *StepExecution) (enlisted bool, err BatchError)
	GetLastStepExecution(ctx context.Context, jobInstanceId int64, stepName string) (*StepExecution, BatchError)
	GetStepExecutions(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError)
	//TransactionManager transactions this repository can take part in
	TransactionManager() TransactionManager
}

//CheckLaunchable decide whether a new execution of instance may follow its latest execution last
func CheckLaunchable(instance *JobInstance, last *JobExecution) BatchError {
	if last == nil {
		return nil
	}
	switch {
	case last.JobStatus.IsRunning():
		return NewBatchError(ErrCodeAlreadyRunning, "an execution of job instance is running, jobName:%v, jobInstanceId:%v, jobExecutionId:%v, status:%v", instance.JobName, instance.JobInstanceId, last.JobExecutionId, last.JobStatus)
	case last.JobStatus == status.COMPLETED:
		return NewBatchError(ErrCodeInstanceComplete, "job instance has already completed, jobName:%v, jobInstanceId:%v", instance.JobName, instance.JobInstanceId)
	case last.JobStatus == status.UNKNOWN:
		return NewBatchError(ErrCodeGeneral, "last execution of job instance exited abnormally and can not be restarted, jobName:%v, jobExecutionId:%v", instance.JobName, last.JobExecutionId)
	}
	return nil
}

//NewJobExecution a STARTING execution of instance
func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		JobInstanceId:  instance.JobInstanceId,
		JobName:        instance.JobName,
		JobParams:      params,
		JobStatus:      status.STARTING,
		StepExecutions: make([]*StepExecution, 0),
		JobContext:     NewBatchContext(),
		CreateTime:     now,
		LastUpdated:    now,
	}
}

//checkJobStopping reload the execution from repository and report whether a stop has been requested
func checkJobStopping(ctx context.Context, repo JobRepository, execution *JobExecution) (bool, BatchError) {
	stored, err := repo.GetJobExecution(ctx, execution.JobExecutionId)
	if err != nil || stored == nil {
		return false, err
	}
	stopping := stored.JobStatus == status.STOPPING
	if stored.Version != execution.Version {
		execution.Version = stored.Version
		if stopping {
			execution.JobStatus = status.STOPPING
		}
	}
	return stopping, nil
}

//saveJobExecution update execution, adopting a newer version written by a stop request when needed
func saveJobExecution(ctx context.Context, repo JobRepository, execution *JobExecution) BatchError {
	var err BatchError
	for i := 0; i < 3; i++ {
		err = repo.UpdateJobExecution(ctx, execution)
		if err == nil || err.Code() != ErrCodeConcurrency {
			return err
		}
		logger.Warn(ctx, "save job execution conflicted, reload version and retry, jobExecutionId:%v, times:%v", execution.JobExecutionId, i)
		stored, e := repo.GetJobExecution(ctx, execution.JobExecutionId)
		if e != nil {
			return e
		}
		if stored != nil {
			execution.Version = stored.Version
			if stored.JobStatus == status.STOPPING && execution.JobStatus.IsRunning() {
				execution.JobStatus = status.STOPPING
			}
		}
	}
	return err
}

//saveStepExecution update execution, db errors are retried
func saveStepExecution(ctx context.Context, repo JobRepository, execution *StepExecution) BatchError {
	var err BatchError
	for i := 0; i < 3; i++ {
		err = repo.UpdateStepExecution(ctx, execution)
		if err == nil || err.Code() != ErrCodeDbFail {
			return err
		}
		logger.Error(ctx, "save step execution failed and retry for recoverable err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
	}
	return err
}
