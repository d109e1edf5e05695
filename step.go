package batchcore

import (
	"context"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/chararch/batchcore/status"
	"github.com/hashicorp/go-multierror"
)

// Step step interface
type Step interface {
	Name() string
	Exec(ctx context.Context, repo JobRepository, execution *StepExecution) BatchError
	//AllowStartIfComplete a COMPLETED step is executed again when its job instance restarts
	AllowStartIfComplete() bool
	addListener(listener StepListener)
}

// baseStep lifecycle shared by tasklet and chunk steps
type baseStep struct {
	name                 string
	txManager            TransactionManager
	allowStartIfComplete bool
	listeners            []StepListener
}

func (step *baseStep) Name() string {
	return step.name
}

func (step *baseStep) AllowStartIfComplete() bool {
	return step.allowStartIfComplete
}

func (step *baseStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

func (step *baseStep) transactionManager(repo JobRepository) TransactionManager {
	if step.txManager != nil {
		return step.txManager
	}
	return repo.TransactionManager()
}

// run drive a step execution through STARTED to a terminal status around body.
// resources that implement OpenCloser are opened before body and closed after it.
func (step *baseStep) run(ctx context.Context, repo JobRepository, execution *StepExecution, resources []interface{}, body func() BatchError) (err BatchError) {
	defer func() {
		err = execEnd(ctx, repo, execution, err, recover())
	}()
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, execution.StepName)
	for _, listener := range step.listeners {
		err = listener.BeforeStep(execution)
		if err != nil {
			logger.Error(ctx, "step listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	execution.start()
	if e := saveStepExecution(ctx, repo, execution); e != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, e)
		return e
	}
	be := openResources(resources, execution)
	if be != nil {
		logger.Error(ctx, "open resource failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, be)
	} else {
		be = body()
		if e := closeResources(resources, execution); e != nil {
			logger.Error(ctx, "close resource failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, e)
			if be == nil {
				be = e
			}
		}
	}
	execution.finish(be)
	for _, listener := range step.listeners {
		if e := listener.AfterStep(execution); e != nil {
			logger.Error(ctx, "step listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), e)
			if execution.StepStatus == status.COMPLETED {
				be = e
				execution.finish(e)
			}
			break
		}
	}
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, stepStatus:%v, readCount:%v, writeCount:%v, skipCount:%v, commitCount:%v", execution.JobExecutionId, execution.StepName, execution.StepStatus, execution.ReadCount, execution.WriteCount, execution.SkipCount(), execution.CommitCount)
	return be
}

// execEnd settle the status after a panic or an early error and persist the final state
func execEnd(ctx context.Context, repo JobRepository, execution *StepExecution, err BatchError, recoverErr interface{}) BatchError {
	if recoverErr != nil {
		logger.Error(ctx, "panic in step executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", execution.JobExecutionId, execution.StepName, recoverErr, string(debug.Stack()))
		err = NewBatchError(ErrCodeGeneral, "panic in step execution:%v", recoverErr)
		execution.finish(err)
	}
	if err != nil && !execution.StepStatus.IsTerminal() {
		logger.Error(ctx, "step executing error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		execution.finish(err)
	}
	if e := saveStepExecution(ctx, repo, execution); e != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, StepExecution:%+v, err:%v", execution.JobExecutionId, execution.StepName, execution, e)
		execution.StepStatus = status.UNKNOWN
		execution.EndTime = time.Now()
		return e
	}
	return err
}

func uniqueResources(resources []interface{}) []interface{} {
	result := make([]interface{}, 0, len(resources))
	for _, r := range resources {
		if r == nil || reflect.ValueOf(r).IsNil() {
			continue
		}
		dup := false
		for _, o := range result {
			if o == r {
				dup = true
				break
			}
		}
		if !dup {
			result = append(result, r)
		}
	}
	return result
}

func openResources(resources []interface{}, execution *StepExecution) BatchError {
	for i, r := range resources {
		oc, ok := r.(OpenCloser)
		if !ok {
			continue
		}
		if err := oc.Open(execution); err != nil {
			closeResources(resources[:i], execution)
			return err
		}
	}
	return nil
}

func closeResources(resources []interface{}, execution *StepExecution) BatchError {
	var result *multierror.Error
	for _, r := range resources {
		if oc, ok := r.(OpenCloser); ok {
			if err := oc.Close(execution); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if result == nil {
		return nil
	}
	return NewBatchError(ErrCodeGeneral, "close step resources failed", result.ErrorOrNil())
}

// stopRequested the step context is done or the job execution has been marked STOPPING
func stopRequested(ctx context.Context, repo JobRepository, execution *StepExecution) (bool, BatchError) {
	if ctx.Err() != nil {
		return true, nil
	}
	if execution.JobExecution == nil {
		return false, nil
	}
	return checkJobStopping(ctx, repo, execution.JobExecution)
}

// taskletStep step that repeats a Tasklet until it is FINISHED, one transaction per invocation
type taskletStep struct {
	baseStep
	tasklet Tasklet
}

func (step *taskletStep) Exec(ctx context.Context, repo JobRepository, execution *StepExecution) BatchError {
	return step.run(ctx, repo, execution, uniqueResources([]interface{}{step.tasklet}), func() BatchError {
		committed := execution.StepExecutionContext.DeepCopy()
		err := step.repeat(ctx, repo, execution)
		if err != nil {
			execution.StepExecutionContext = committed
		}
		return err
	})
}

func (step *taskletStep) repeat(ctx context.Context, repo JobRepository, execution *StepExecution) BatchError {
	tm := step.transactionManager(repo)
	for {
		stopping, err := stopRequested(ctx, repo, execution)
		if err != nil {
			return err
		}
		if stopping {
			logger.Info(ctx, "tasklet step stopped on request, jobExecutionId:%v, stepName:%v, commitCount:%v", execution.JobExecutionId, execution.StepName, execution.CommitCount)
			return NewBatchError(ErrCodeStop, "step:%v stopped", step.name)
		}
		repeatStatus, err := step.invoke(ctx, repo, tm, execution)
		if err != nil {
			return err
		}
		if repeatStatus == FINISHED {
			return nil
		}
		logger.Debug(ctx, "tasklet is continuable, jobExecutionId:%v, stepName:%v, commitCount:%v", execution.JobExecutionId, execution.StepName, execution.CommitCount)
	}
}

func (step *taskletStep) invoke(ctx context.Context, repo JobRepository, tm TransactionManager, execution *StepExecution) (repeatStatus RepeatStatus, err BatchError) {
	tx, err := tm.BeginTx(ctx)
	if err != nil {
		logger.Error(ctx, "start transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return FINISHED, err
	}
	chunkCtx := &ChunkContext{Ctx: context.WithoutCancel(ctx), StepExecution: execution, Tx: tx}
	committed := false
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic on tasklet executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", execution.JobExecutionId, execution.StepName, er, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic on tasklet executing, stepName:%v, err:%v", execution.StepName, er)
		}
		if err != nil && !committed {
			if e := tm.Rollback(chunkCtx.Tx); e != nil {
				logger.Error(ctx, "rollback transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, e)
			}
			execution.RollbackCount++
		}
	}()
	repeatStatus, err = step.tasklet.Execute(chunkCtx)
	if err != nil {
		logger.Error(ctx, "tasklet execute failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return repeatStatus, err
	}
	if err = updateStreams([]interface{}{step.tasklet}, execution); err != nil {
		return repeatStatus, err
	}
	pending := execution.withContribution(&stepContribution{commitCount: 1})
	enlisted, err := repo.CheckpointStepExecution(ctx, chunkCtx.Tx, pending)
	if err != nil {
		logger.Error(ctx, "checkpoint step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return repeatStatus, err
	}
	if err = tm.Commit(chunkCtx.Tx); err != nil {
		logger.Error(ctx, "commit transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return repeatStatus, err
	}
	committed = true
	execution.apply(pending)
	if !enlisted {
		if err = saveStepExecution(ctx, repo, execution); err != nil {
			return repeatStatus, err
		}
	}
	return repeatStatus, nil
}

func updateStreams(resources []interface{}, execution *StepExecution) BatchError {
	for _, r := range resources {
		if stream, ok := r.(ItemStream); ok {
			if err := stream.Update(execution); err != nil {
				return err
			}
		}
	}
	return nil
}
