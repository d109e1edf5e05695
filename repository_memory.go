package batchcore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chararch/batchcore/status"
)

//MemoryJobRepository JobRepository kept in process memory, for tests and single-run tools.
//It stores detached copies, so callers never share state with it.
type MemoryJobRepository struct {
	mu                  sync.Mutex
	seq                 int64
	txManager           *MemoryTxManager
	instances           map[int64]*JobInstance
	instanceKeys        map[string]int64
	jobExecutions       map[int64]*JobExecution
	instanceExecutions  map[int64][]int64
	stepExecutions      map[int64]*StepExecution
	jobStepExecutions   map[int64][]int64
	instanceStepExecIds map[int64][]int64
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		txManager:           NewMemoryTxManager(),
		instances:           map[int64]*JobInstance{},
		instanceKeys:        map[string]int64{},
		jobExecutions:       map[int64]*JobExecution{},
		instanceExecutions:  map[int64][]int64{},
		stepExecutions:      map[int64]*StepExecution{},
		jobStepExecutions:   map[int64][]int64{},
		instanceStepExecIds: map[int64][]int64{},
	}
}

func (r *MemoryJobRepository) nextId() int64 {
	r.seq++
	return r.seq
}

func instanceKey(jobName string, params JobParameters) string {
	return jobName + "|" + params.Hash()
}

func (r *MemoryJobRepository) lastExecution(instanceId int64) *JobExecution {
	ids := r.instanceExecutions[instanceId]
	if len(ids) == 0 {
		return nil
	}
	return r.jobExecutions[ids[len(ids)-1]]
}

func (r *MemoryJobRepository) CreateOrGetInstance(ctx context.Context, jobName string, params JobParameters) (*JobInstance, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := instanceKey(jobName, params)
	if id, ok := r.instanceKeys[key]; ok {
		instance := r.instances[id]
		last := r.lastExecution(id)
		if last != nil && last.JobStatus == status.COMPLETED {
			return nil, NewBatchError(ErrCodeInstanceComplete, "job instance has already completed, jobName:%v, jobInstanceId:%v", jobName, id)
		}
		c := *instance
		return &c, nil
	}
	instance := &JobInstance{
		JobInstanceId: r.nextId(),
		JobName:       jobName,
		JobKey:        params.Hash(),
		JobParams:     params.Identifying(),
		CreateTime:    time.Now(),
	}
	r.instances[instance.JobInstanceId] = instance
	r.instanceKeys[key] = instance.JobInstanceId
	c := *instance
	return &c, nil
}

func (r *MemoryJobRepository) CreateJobExecution(ctx context.Context, instance *JobInstance, params JobParameters) (*JobExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[instance.JobInstanceId]; !ok {
		return nil, NewBatchError(ErrCodeGeneral, "job instance not found, jobInstanceId:%v", instance.JobInstanceId)
	}
	if err := CheckLaunchable(instance, r.lastExecution(instance.JobInstanceId)); err != nil {
		return nil, err
	}
	execution := NewJobExecution(instance, params)
	execution.JobExecutionId = r.nextId()
	execution.Version = 1
	r.jobExecutions[execution.JobExecutionId] = execution.copy()
	r.instanceExecutions[instance.JobInstanceId] = append(r.instanceExecutions[instance.JobInstanceId], execution.JobExecutionId)
	return execution, nil
}

func (r *MemoryJobRepository) UpdateJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobExecutions[execution.JobExecutionId]
	if !ok {
		return NewBatchError(ErrCodeGeneral, "job execution not found, jobExecutionId:%v", execution.JobExecutionId)
	}
	if stored.Version != execution.Version {
		return NewBatchError(ErrCodeConcurrency, "job execution has been modified concurrently, jobExecutionId:%v, version:%v, stored version:%v", execution.JobExecutionId, execution.Version, stored.Version)
	}
	execution.Version++
	execution.LastUpdated = time.Now()
	r.jobExecutions[execution.JobExecutionId] = execution.copy()
	return nil
}

func (r *MemoryJobRepository) GetJobInstance(ctx context.Context, jobInstanceId int64) (*JobInstance, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[jobInstanceId]
	if !ok {
		return nil, nil
	}
	c := *instance
	return &c, nil
}

func (r *MemoryJobRepository) GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*JobInstance, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*JobInstance, 0)
	for _, instance := range r.instances {
		if instance.JobName == jobName {
			c := *instance
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].JobInstanceId > all[j].JobInstanceId
	})
	if start >= len(all) {
		return []*JobInstance{}, nil
	}
	end := start + count
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (r *MemoryJobRepository) GetLastJobExecution(ctx context.Context, instance *JobInstance) (*JobExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.lastExecution(instance.JobInstanceId)
	if last == nil {
		return nil, nil
	}
	return r.detachJobExecution(last), nil
}

func (r *MemoryJobRepository) GetJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobExecutions[jobExecutionId]
	if !ok {
		return nil, nil
	}
	return r.detachJobExecution(stored), nil
}

func (r *MemoryJobRepository) detachJobExecution(stored *JobExecution) *JobExecution {
	execution := stored.copy()
	execution.StepExecutions = make([]*StepExecution, 0)
	for _, id := range r.jobStepExecutions[stored.JobExecutionId] {
		se := r.stepExecutions[id].copy()
		se.JobExecution = execution
		execution.StepExecutions = append(execution.StepExecutions, se)
	}
	return execution
}

func (r *MemoryJobRepository) storeStepExecution(execution *StepExecution) {
	c := execution.copy()
	c.JobExecution = nil
	r.stepExecutions[execution.StepExecutionId] = c
}

func (r *MemoryJobRepository) CreateStepExecution(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobExecution, ok := r.jobExecutions[execution.JobExecutionId]
	if !ok {
		return NewBatchError(ErrCodeGeneral, "job execution not found, jobExecutionId:%v", execution.JobExecutionId)
	}
	execution.StepExecutionId = r.nextId()
	execution.Version = 1
	execution.LastUpdated = time.Now()
	r.storeStepExecution(execution)
	r.jobStepExecutions[execution.JobExecutionId] = append(r.jobStepExecutions[execution.JobExecutionId], execution.StepExecutionId)
	r.instanceStepExecIds[jobExecution.JobInstanceId] = append(r.instanceStepExecIds[jobExecution.JobInstanceId], execution.StepExecutionId)
	return nil
}

func (r *MemoryJobRepository) checkStepVersion(execution *StepExecution) BatchError {
	stored, ok := r.stepExecutions[execution.StepExecutionId]
	if !ok {
		return NewBatchError(ErrCodeGeneral, "step execution not found, stepExecutionId:%v", execution.StepExecutionId)
	}
	if stored.Version != execution.Version {
		return NewBatchError(ErrCodeConcurrency, "step execution has been modified concurrently, stepName:%v, version:%v, stored version:%v", execution.StepName, execution.Version, stored.Version)
	}
	return nil
}

func (r *MemoryJobRepository) UpdateStepExecution(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkStepVersion(execution); err != nil {
		return err
	}
	execution.Version++
	execution.LastUpdated = time.Now()
	r.storeStepExecution(execution)
	return nil
}

//CheckpointStepExecution joins a *MemoryTx, the checkpoint becomes visible when it commits
func (r *MemoryJobRepository) CheckpointStepExecution(ctx context.Context, tx interface{}, execution *StepExecution) (bool, BatchError) {
	mtx, ok := tx.(*MemoryTx)
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	err := r.checkStepVersion(execution)
	r.mu.Unlock()
	if err != nil {
		return false, err
	}
	execution.Version++
	snapshot := execution.copy()
	snapshot.JobExecution = nil
	mtx.OnCommit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if stored, ok := r.stepExecutions[snapshot.StepExecutionId]; ok && stored.Version == snapshot.Version-1 {
			r.stepExecutions[snapshot.StepExecutionId] = snapshot
		}
	})
	return true, nil
}

func (r *MemoryJobRepository) GetLastStepExecution(ctx context.Context, jobInstanceId int64, stepName string) (*StepExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.instanceStepExecIds[jobInstanceId]
	for i := len(ids) - 1; i >= 0; i-- {
		se := r.stepExecutions[ids[i]]
		if se.StepName == stepName {
			return se.copy(), nil
		}
	}
	return nil, nil
}

func (r *MemoryJobRepository) GetStepExecutions(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*StepExecution, 0)
	for _, id := range r.jobStepExecutions[jobExecutionId] {
		result = append(result, r.stepExecutions[id].copy())
	}
	return result, nil
}

func (r *MemoryJobRepository) TransactionManager() TransactionManager {
	return r.txManager
}
