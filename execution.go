package batchcore

import (
	"time"

	"github.com/chararch/batchcore/status"
)

//JobInstance a logical run of a job, identified by job name and identifying parameters
type JobInstance struct {
	JobInstanceId int64
	JobName       string
	JobKey        string
	JobParams     JobParameters
	CreateTime    time.Time
}

//JobExecution one attempt to run a JobInstance
type JobExecution struct {
	JobExecutionId  int64
	JobInstanceId   int64
	JobName         string
	JobParams       JobParameters
	JobStatus       status.BatchStatus
	ExitCode        string
	ExitDescription string
	StepExecutions  []*StepExecution
	JobContext      *BatchContext
	CreateTime      time.Time
	StartTime       time.Time
	EndTime         time.Time
	LastUpdated     time.Time
	FailError       error `json:"-"`
	Version         int64
}

func (e *JobExecution) AddStepExecution(execution *StepExecution) {
	e.StepExecutions = append(e.StepExecutions, execution)
}

//GetStepExecution the step execution with the given step name in this job execution
func (e *JobExecution) GetStepExecution(stepName string) *StepExecution {
	for _, se := range e.StepExecutions {
		if se.StepName == stepName {
			return se
		}
	}
	return nil
}

func (e *JobExecution) finish(jobStatus status.BatchStatus, err error) {
	e.JobStatus = jobStatus
	e.ExitCode = string(jobStatus)
	if err != nil {
		e.FailError = err
		e.ExitDescription = err.Error()
	}
	e.EndTime = time.Now()
}

//copy a detached copy, step executions are not included
func (e *JobExecution) copy() *JobExecution {
	c := *e
	c.StepExecutions = nil
	if e.JobContext != nil {
		c.JobContext = e.JobContext.DeepCopy()
	}
	return &c
}

//StepExecution one attempt to run a step within a JobExecution
type StepExecution struct {
	StepExecutionId      int64
	StepName             string
	StepStatus           status.BatchStatus
	StepExecutionContext *BatchContext
	JobExecution         *JobExecution `json:"-"`
	JobExecutionId       int64
	CreateTime           time.Time
	StartTime            time.Time
	EndTime              time.Time
	ReadCount            int64
	WriteCount           int64
	CommitCount          int64
	FilterCount          int64
	ReadSkipCount        int64
	WriteSkipCount       int64
	ProcessSkipCount     int64
	RollbackCount        int64
	ExitCode             string
	ExitDescription      string
	FailError            error `json:"-"`
	LastUpdated          time.Time
	Version              int64
}

//SkipCount total number of skipped items
func (execution *StepExecution) SkipCount() int64 {
	return execution.ReadSkipCount + execution.ProcessSkipCount + execution.WriteSkipCount
}

func (execution *StepExecution) start() {
	execution.StartTime = time.Now()
	execution.StepStatus = status.STARTED
}

//finish set terminal status according to err, a stop request ends as STOPPED
func (execution *StepExecution) finish(err error) {
	switch {
	case err == nil:
		execution.StepStatus = status.COMPLETED
	case IsStop(err):
		execution.StepStatus = status.STOPPED
		execution.ExitDescription = err.Error()
	default:
		execution.StepStatus = status.FAILED
		execution.FailError = err
		execution.ExitDescription = err.Error()
	}
	execution.ExitCode = string(execution.StepStatus)
	execution.EndTime = time.Now()
}

//copy a detached copy that shares the parent JobExecution
func (execution *StepExecution) copy() *StepExecution {
	c := *execution
	if execution.StepExecutionContext != nil {
		c.StepExecutionContext = execution.StepExecutionContext.DeepCopy()
	}
	return &c
}

//stepContribution counters of a chunk that are applied to the StepExecution once the chunk commits
type stepContribution struct {
	readCount        int64
	writeCount       int64
	filterCount      int64
	readSkipCount    int64
	processSkipCount int64
	writeSkipCount   int64
	rollbackCount    int64
	commitCount      int64
}

func (c *stepContribution) skipCount() int64 {
	return c.readSkipCount + c.processSkipCount + c.writeSkipCount
}

//withContribution a copy of execution with the contribution added, it is what a commit will persist
func (execution *StepExecution) withContribution(c *stepContribution) *StepExecution {
	pending := execution.copy()
	pending.ReadCount += c.readCount
	pending.WriteCount += c.writeCount
	pending.FilterCount += c.filterCount
	pending.ReadSkipCount += c.readSkipCount
	pending.ProcessSkipCount += c.processSkipCount
	pending.WriteSkipCount += c.writeSkipCount
	pending.RollbackCount += c.rollbackCount
	pending.CommitCount += c.commitCount
	pending.LastUpdated = time.Now()
	return pending
}

//apply adopt the counters and version of a committed checkpoint
func (execution *StepExecution) apply(committed *StepExecution) {
	execution.ReadCount = committed.ReadCount
	execution.WriteCount = committed.WriteCount
	execution.FilterCount = committed.FilterCount
	execution.ReadSkipCount = committed.ReadSkipCount
	execution.ProcessSkipCount = committed.ProcessSkipCount
	execution.WriteSkipCount = committed.WriteSkipCount
	execution.RollbackCount = committed.RollbackCount
	execution.CommitCount = committed.CommitCount
	execution.LastUpdated = committed.LastUpdated
	execution.Version = committed.Version
}
