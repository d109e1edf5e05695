package batchcore

import (
	"context"
	"sort"
	"sync"

	"github.com/chararch/batchcore/status"
)

//JobRegistry jobs a JobLauncher can run, by name
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

//NewJobRegistry a registry holding jobs
func NewJobRegistry(jobs ...Job) *JobRegistry {
	r := &JobRegistry{jobs: make(map[string]Job)}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			panic(err)
		}
	}
	return r
}

// Register register job, a name can only be registered once
func (r *JobRegistry) Register(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Name()]; ok {
		return NewBatchError(ErrCodeGeneral, "job with name:%v has already been registered", job.Name())
	}
	r.jobs[job.Name()] = job
	return nil
}

// Unregister remove the job with name
func (r *JobRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, name)
}

func (r *JobRegistry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	return job, ok
}

//Names registered job names in order
func (r *JobRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//JobLauncher starts, stops and restarts job executions against a JobRepository
type JobLauncher struct {
	repo     JobRepository
	registry *JobRegistry
	pool     *taskPool
}

type LauncherOption func(l *JobLauncher)

//WithPoolSize max number of jobs running in parallel, DefaultJobPoolSize by default
func WithPoolSize(size int) LauncherOption {
	return func(l *JobLauncher) {
		if size > 0 {
			l.pool.SetMaxSize(size)
		}
	}
}

//NewJobLauncher a launcher running the jobs of registry
func NewJobLauncher(repo JobRepository, registry *JobRegistry, opts ...LauncherOption) *JobLauncher {
	if repo == nil || registry == nil {
		panic("job repository and job registry must not be nil")
	}
	l := &JobLauncher{
		repo:     repo,
		registry: registry,
		pool:     newTaskPool(DefaultJobPoolSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

//Repository the JobRepository of the launcher
func (l *JobLauncher) Repository() JobRepository {
	return l.repo
}

//launch register a new STARTING execution for jobName and params
func (l *JobLauncher) launch(ctx context.Context, jobName string, params JobParameters) (Job, *JobExecution, error) {
	job, ok := l.registry.Get(jobName)
	if !ok {
		logger.Error(ctx, "can not find job with name:%v", jobName)
		return nil, nil, NewBatchError(ErrCodeNoSuchJob, "can not find job with name:%v", jobName)
	}
	instance, err := l.repo.CreateOrGetInstance(ctx, jobName, params)
	if err != nil {
		logger.Error(ctx, "find JobInstance error, jobName:%v, params:%v, err:%v", jobName, params, err)
		return nil, nil, err
	}
	execution, err := l.repo.CreateJobExecution(ctx, instance, params)
	if err != nil {
		logger.Error(ctx, "create JobExecution error, jobName:%v, jobInstanceId:%v, err:%v", jobName, instance.JobInstanceId, err)
		return nil, nil, err
	}
	logger.Info(ctx, "job launched, jobName:%v, jobInstanceId:%v, jobExecutionId:%v, params:%v", jobName, instance.JobInstanceId, execution.JobExecutionId, params)
	return job, execution, nil
}

//start run execution on the task pool, an execution the pool rejects is saved as FAILED
//so that its JobInstance can be launched again
func (l *JobLauncher) start(ctx context.Context, job Job, execution *JobExecution) (Future[*JobExecution], error) {
	future, err := submit(ctx, l.pool, func() (*JobExecution, error) {
		if err := job.Start(ctx, l.repo, execution); err != nil {
			return execution, err
		}
		return execution, nil
	})
	if err != nil {
		logger.Error(ctx, "start job failed, jobName:%v, jobExecutionId:%v, err:%v", execution.JobName, execution.JobExecutionId, err)
		execution.finish(status.FAILED, err)
		if e := saveJobExecution(ctx, l.repo, execution); e != nil {
			logger.Error(ctx, "save rejected job execution failed, jobExecutionId:%v, err:%v", execution.JobExecutionId, e)
		}
		return nil, err
	}
	return future, nil
}

//Run launch jobName with params and wait until the execution reaches a terminal status.
//A FAILED or STOPPED execution is not an error, check JobStatus of the returned execution.
func (l *JobLauncher) Run(ctx context.Context, jobName string, params JobParameters) (*JobExecution, error) {
	job, execution, err := l.launch(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	future, err := l.start(ctx, job, execution)
	if err != nil {
		return nil, err
	}
	return future.Get()
}

//RunAsync launch jobName with params and return once the execution is registered as STARTING.
//The returned execution is a snapshot, poll the repository or wait on the Future for its progress.
func (l *JobLauncher) RunAsync(ctx context.Context, jobName string, params JobParameters) (*JobExecution, Future[*JobExecution], error) {
	job, execution, err := l.launch(ctx, jobName, params)
	if err != nil {
		return nil, nil, err
	}
	snapshot := execution.copy()
	future, err := l.start(ctx, job, execution)
	if err != nil {
		return nil, nil, err
	}
	return snapshot, future, nil
}

//Stop request a running execution to stop, its steps stop after their current chunk
func (l *JobLauncher) Stop(ctx context.Context, jobExecutionId int64) error {
	var err BatchError
	for i := 0; i < 3; i++ {
		execution, e := l.repo.GetJobExecution(ctx, jobExecutionId)
		if e != nil {
			return e
		}
		if execution == nil {
			return NewBatchError(ErrCodeGeneral, "can not find job execution:%v", jobExecutionId)
		}
		if execution.JobStatus == status.STOPPING {
			return nil
		}
		if !execution.JobStatus.IsRunning() {
			return NewBatchError(ErrCodeGeneral, "job execution:%v is not running, status:%v", jobExecutionId, execution.JobStatus)
		}
		logger.Info(ctx, "stop job, jobName:%v, jobExecutionId:%v, jobStatus:%v", execution.JobName, jobExecutionId, execution.JobStatus)
		execution.JobStatus = status.STOPPING
		if err = l.repo.UpdateJobExecution(ctx, execution); err == nil || err.Code() != ErrCodeConcurrency {
			return err
		}
	}
	return err
}

//Restart launch the job instance of a FAILED or STOPPED execution again with the parameters of that execution
func (l *JobLauncher) Restart(ctx context.Context, jobExecutionId int64) (*JobExecution, error) {
	execution, err := l.repo.GetJobExecution(ctx, jobExecutionId)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		return nil, NewBatchError(ErrCodeGeneral, "can not find job execution:%v", jobExecutionId)
	}
	if !execution.JobStatus.IsRestartable() {
		return nil, NewBatchError(ErrCodeGeneral, "job execution:%v can not be restarted, status:%v", jobExecutionId, execution.JobStatus)
	}
	logger.Info(ctx, "restart job, jobName:%v, jobExecutionId:%v, jobStatus:%v", execution.JobName, jobExecutionId, execution.JobStatus)
	return l.Run(ctx, execution.JobName, execution.JobParams)
}

//StartNextInstance run jobName as a new JobInstance, parameters are derived by the incrementer of the job
func (l *JobLauncher) StartNextInstance(ctx context.Context, jobName string, params JobParameters) (*JobExecution, error) {
	job, ok := l.registry.Get(jobName)
	if !ok {
		return nil, NewBatchError(ErrCodeNoSuchJob, "can not find job with name:%v", jobName)
	}
	var incrementer JobParametersIncrementer = &RunIdIncrementer{}
	if job.Incrementer() != nil {
		incrementer = job.Incrementer()
	}
	return l.Run(ctx, jobName, incrementer.GetNext(params))
}

//Close release the task pool, running jobs are not interrupted
func (l *JobLauncher) Close() {
	l.pool.Release()
}
