package batchcore

import (
	"context"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/chararch/batchcore/status"
)

//Job job interface
type Job interface {
	Name() string
	//Start run the steps of execution in order, the final status is saved in execution
	Start(ctx context.Context, repo JobRepository, execution *JobExecution) BatchError
	GetSteps() []Step
	//Incrementer parameters for the next instance of the job, nil if the job has none
	Incrementer() JobParametersIncrementer
}

type simpleJob struct {
	name        string
	steps       []Step
	listeners   []JobListener
	incrementer JobParametersIncrementer
}

func newSimpleJob(name string, steps []Step, listeners []JobListener, incrementer JobParametersIncrementer) *simpleJob {
	return &simpleJob{
		name:        name,
		steps:       steps,
		listeners:   listeners,
		incrementer: incrementer,
	}
}

func (job *simpleJob) Name() string {
	return job.name
}

func (job *simpleJob) GetSteps() []Step {
	return job.steps
}

func (job *simpleJob) Incrementer() JobParametersIncrementer {
	return job.incrementer
}

func (job *simpleJob) Start(ctx context.Context, repo JobRepository, execution *JobExecution) (err BatchError) {
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic in job executing, jobName:%v, jobExecutionId:%v, err:%v, stack:%v", job.name, execution.JobExecutionId, er, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic in job execution:%v", er)
		}
		if err != nil {
			execution.finish(status.FAILED, err)
		}
		if e := saveJobExecution(ctx, repo, execution); e != nil {
			logger.Error(ctx, "save job execution failed, jobName:%v, JobExecution:%+v, err:%v", job.name, execution, e)
			if err == nil {
				err = e
			}
		}
	}()
	logger.Info(ctx, "start running job, jobName:%v, jobExecutionId:%v", job.name, execution.JobExecutionId)
	for _, listener := range job.listeners {
		if e := listener.BeforeJob(execution); e != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%+v, listener:%v, err:%v", job.name, execution.JobExecutionId, reflect.TypeOf(listener).String(), e)
			execution.finish(status.FAILED, e)
			return nil
		}
	}
	execution.JobStatus = status.STARTED
	execution.StartTime = time.Now()
	if err = saveJobExecution(ctx, repo, execution); err != nil {
		logger.Error(ctx, "save job execution failed, jobName:%v, JobExecution:%+v, err:%v", job.name, execution, err)
		return err
	}
	jobStatus := status.COMPLETED
	var failure error
	var failedStep *StepExecution
	for _, step := range job.steps {
		stepExecution, e := job.execStep(ctx, repo, step, execution)
		if e != nil {
			logger.Error(ctx, "execute step failed, jobExecutionId:%v, step:%v, err:%v", execution.JobExecutionId, step.Name(), e)
			jobStatus, failure = status.FAILED, e
			break
		}
		if stepExecution != nil && stepExecution.StepStatus != status.COMPLETED {
			jobStatus, failure, failedStep = stepExecution.StepStatus, stepExecution.FailError, stepExecution
			break
		}
	}
	execution.finish(jobStatus, failure)
	if failedStep != nil {
		execution.ExitDescription = failedStep.ExitDescription
	}
	for _, listener := range job.listeners {
		if e := listener.AfterJob(execution); e != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%+v, listener:%v, err:%v", job.name, execution.JobExecutionId, reflect.TypeOf(listener).String(), e)
			execution.finish(status.FAILED, e)
			break
		}
	}
	logger.Info(ctx, "finish job execution, jobName:%v, jobExecutionId:%v, jobStatus:%v", job.name, execution.JobExecutionId, execution.JobStatus)
	return nil
}

//execStep run step as part of execution, a nil StepExecution means the step was already completed
func (job *simpleJob) execStep(ctx context.Context, repo JobRepository, step Step, execution *JobExecution) (*StepExecution, BatchError) {
	last, err := repo.GetLastStepExecution(ctx, execution.JobInstanceId, step.Name())
	if err != nil {
		logger.Error(ctx, "find last StepExecution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.Name(), err)
		return nil, err
	}
	if last != nil {
		switch {
		case last.StepStatus == status.COMPLETED && !step.AllowStartIfComplete():
			logger.Info(ctx, "skip completed step, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, step.Name())
			return nil, nil
		case last.StepStatus.IsRunning():
			logger.Error(ctx, "last StepExecution is in progress, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, step.Name())
			return nil, NewBatchError(ErrCodeConcurrency, "last StepExecution of the Step:%v is in progress", step.Name())
		case last.StepStatus == status.UNKNOWN:
			return nil, NewBatchError(ErrCodeGeneral, "last StepExecution of the Step:%v exited abnormally and can not be restarted", step.Name())
		}
	}
	stepExecution := &StepExecution{
		StepName:             step.Name(),
		StepStatus:           status.STARTING,
		StepExecutionContext: NewBatchContext(),
		JobExecution:         execution,
		JobExecutionId:       execution.JobExecutionId,
		CreateTime:           time.Now(),
	}
	if last != nil && last.StepStatus != status.COMPLETED {
		stepExecution.StepExecutionContext.Merge(last.StepExecutionContext)
		logger.Info(ctx, "restart step from last execution, jobExecutionId:%v, stepName:%v, lastStepExecutionId:%v, lastStatus:%v", execution.JobExecutionId, step.Name(), last.StepExecutionId, last.StepStatus)
	}
	if err = repo.CreateStepExecution(ctx, stepExecution); err != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.Name(), err)
		return nil, err
	}
	execution.AddStepExecution(stepExecution)
	if err = step.Exec(ctx, repo, stepExecution); err != nil {
		logger.Error(ctx, "step executing failed, jobExecutionId:%v, stepName:%v, stepStatus:%v, err:%v", execution.JobExecutionId, step.Name(), stepExecution.StepStatus, err)
	}
	return stepExecution, nil
}
