package batchcore

import (
	"context"
	"reflect"
	"runtime/debug"
)

//chunkStep step that reads, processes and writes items in chunks of commitInterval items,
//each chunk in its own transaction together with the checkpoint of the step execution
type chunkStep struct {
	baseStep
	reader         Reader
	processor      Processor
	writer         Writer
	commitInterval uint
	retryPolicy    *RetryPolicy
	skipPolicy     *SkipPolicy
	chunkListeners []ChunkListener
	skipListeners  []SkipListener
	retryListeners []RetryListener
}

//chunk items of one transaction
type chunk struct {
	inputs  []interface{}
	outputs []interface{}
	end     bool
}

func (step *chunkStep) resources() []interface{} {
	return uniqueResources([]interface{}{step.reader, step.processor, step.writer})
}

func (step *chunkStep) Exec(ctx context.Context, repo JobRepository, execution *StepExecution) BatchError {
	return step.run(ctx, repo, execution, step.resources(), func() BatchError {
		return step.processChunks(ctx, repo, execution)
	})
}

func (step *chunkStep) processChunks(ctx context.Context, repo JobRepository, execution *StepExecution) BatchError {
	tm := step.transactionManager(repo)
	committed := execution.StepExecutionContext.DeepCopy()
	for {
		stopping, err := stopRequested(ctx, repo, execution)
		if err != nil {
			return err
		}
		if stopping {
			logger.Info(ctx, "chunk step stopped on request, jobExecutionId:%v, stepName:%v, commitCount:%v", execution.JobExecutionId, execution.StepName, execution.CommitCount)
			return NewBatchError(ErrCodeStop, "step:%v stopped after %v commits", step.name, execution.CommitCount)
		}
		end, err := step.doChunk(ctx, repo, tm, execution)
		if err != nil {
			//the context must match the last committed checkpoint for a later restart
			execution.StepExecutionContext = committed
			return err
		}
		committed = execution.StepExecutionContext.DeepCopy()
		if end {
			return nil
		}
	}
}

//doChunk run one chunk, end is true once the reader is exhausted
func (step *chunkStep) doChunk(ctx context.Context, repo JobRepository, tm TransactionManager, execution *StepExecution) (end bool, err BatchError) {
	tx, err := tm.BeginTx(ctx)
	if err != nil {
		logger.Error(ctx, "start transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return false, err
	}
	//a started chunk always runs to commit or rollback, cancellation is observed between chunks
	chunkCtx := &ChunkContext{Ctx: context.WithoutCancel(ctx), StepExecution: execution, Tx: tx}
	contribution := &stepContribution{}
	committed := false
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic on chunk executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", execution.JobExecutionId, execution.StepName, er, string(debug.Stack()))
			err = NewFatalError("panic on chunk executing, stepName:%v, err:%v", execution.StepName, er)
		}
		if err != nil && !committed {
			if e := tm.Rollback(chunkCtx.Tx); e != nil {
				logger.Error(ctx, "rollback transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, e)
			}
			execution.RollbackCount += contribution.rollbackCount + 1
			for _, listener := range step.chunkListeners {
				listener.OnError(chunkCtx, err)
			}
		}
	}()
	for _, listener := range step.chunkListeners {
		if err = listener.BeforeChunk(chunkCtx); err != nil {
			logger.Error(ctx, "chunk listener execute err, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return false, err
		}
	}
	ch, err := step.readChunk(chunkCtx, contribution)
	if err != nil {
		return false, err
	}
	if len(ch.inputs) == 0 && contribution.readSkipCount == 0 {
		//nothing left to read, the empty transaction is not counted as a commit
		if e := tm.Rollback(chunkCtx.Tx); e != nil {
			logger.Warn(ctx, "rollback empty chunk err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, e)
		}
		committed = true
		return true, nil
	}
	if err = step.processChunk(chunkCtx, ch, contribution); err != nil {
		return false, err
	}
	if err = step.writeChunk(chunkCtx, tm, ch, contribution); err != nil {
		return false, err
	}
	if err = updateStreams(step.resources(), execution); err != nil {
		return false, err
	}
	contribution.commitCount = 1
	pending := execution.withContribution(contribution)
	enlisted, err := repo.CheckpointStepExecution(ctx, chunkCtx.Tx, pending)
	if err != nil {
		logger.Error(ctx, "checkpoint step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return false, err
	}
	if err = tm.Commit(chunkCtx.Tx); err != nil {
		logger.Error(ctx, "commit transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, execution.StepName, err)
		return false, NewBatchError(ErrCodeDbFail, "commit chunk failed, stepName:%v", execution.StepName, err)
	}
	committed = true
	execution.apply(pending)
	if !enlisted {
		if err = saveStepExecution(ctx, repo, execution); err != nil {
			return false, err
		}
	}
	for _, listener := range step.chunkListeners {
		if err = listener.AfterChunk(chunkCtx); err != nil {
			logger.Error(ctx, "chunk listener execute err, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return false, err
		}
	}
	logger.Debug(ctx, "chunk committed, jobExecutionId:%v, stepName:%v, read:%v, write:%v, skip:%v, commitCount:%v", execution.JobExecutionId, execution.StepName, contribution.readCount, contribution.writeCount, contribution.skipCount(), execution.CommitCount)
	return ch.end, nil
}

func (step *chunkStep) skipBudgetUsed(execution *StepExecution, contribution *stepContribution) int64 {
	return execution.SkipCount() + contribution.skipCount()
}

func (step *chunkStep) notifyRetry(chunkCtx *ChunkContext, op string) func(err error, attempt int) {
	return func(err error, attempt int) {
		logger.Warn(chunkCtx.Ctx, "%v failed and will be retried, jobExecutionId:%v, stepName:%v, attempt:%v, err:%v", op, chunkCtx.StepExecution.JobExecutionId, step.name, attempt, err)
		for _, listener := range step.retryListeners {
			listener.OnRetry(chunkCtx, err, attempt)
		}
	}
}

//chunkFailure a fatal error for a failure that could neither be retried nor skipped
func (step *chunkStep) chunkFailure(op string, err error) BatchError {
	if IsFatal(err) || IsStop(err) {
		return ToBatchError(ErrCodeFatal, err)
	}
	return NewFatalError("%v failed, stepName:%v", op, step.name, err)
}

//readChunk read up to commitInterval items, skipped reads do not count towards the chunk size
func (step *chunkStep) readChunk(chunkCtx *ChunkContext, contribution *stepContribution) (*chunk, BatchError) {
	ch := &chunk{inputs: make([]interface{}, 0, step.commitInterval)}
	execution := chunkCtx.StepExecution
	for uint(len(ch.inputs)) < step.commitInterval {
		item, err := retry(chunkCtx.Ctx, step.retryPolicy, func() (interface{}, error) {
			item, err := step.reader.Read(chunkCtx)
			if err != nil {
				return nil, err
			}
			return item, nil
		}, step.notifyRetry(chunkCtx, "read"))
		if err != nil {
			if step.skipPolicy.ShouldSkip(err, step.skipBudgetUsed(execution, contribution)) {
				contribution.readSkipCount++
				logger.Warn(chunkCtx.Ctx, "skip item on read, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.name, err)
				for _, listener := range step.skipListeners {
					listener.OnSkipInRead(chunkCtx, err)
				}
				continue
			}
			logger.Error(chunkCtx.Ctx, "read item failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.name, err)
			return nil, step.chunkFailure("read", err)
		}
		if item == nil {
			ch.end = true
			break
		}
		ch.inputs = append(ch.inputs, item)
	}
	chunkCtx.End = ch.end
	contribution.readCount = int64(len(ch.inputs))
	return ch, nil
}

func (step *chunkStep) processChunk(chunkCtx *ChunkContext, ch *chunk, contribution *stepContribution) BatchError {
	if step.processor == nil {
		ch.outputs = ch.inputs
		return nil
	}
	execution := chunkCtx.StepExecution
	ch.outputs = make([]interface{}, 0, len(ch.inputs))
	for _, item := range ch.inputs {
		out, err := retry(chunkCtx.Ctx, step.retryPolicy, func() (interface{}, error) {
			out, err := step.processor.Process(item, chunkCtx)
			if err != nil {
				return nil, err
			}
			return out, nil
		}, step.notifyRetry(chunkCtx, "process"))
		if err != nil {
			if step.skipPolicy.ShouldSkip(err, step.skipBudgetUsed(execution, contribution)) {
				contribution.processSkipCount++
				logger.Warn(chunkCtx.Ctx, "skip item on process, jobExecutionId:%v, stepName:%v, item:%v, err:%v", execution.JobExecutionId, step.name, item, err)
				for _, listener := range step.skipListeners {
					listener.OnSkipInProcess(chunkCtx, item, err)
				}
				continue
			}
			logger.Error(chunkCtx.Ctx, "process item failed, jobExecutionId:%v, stepName:%v, item:%v, err:%v", execution.JobExecutionId, step.name, item, err)
			return step.chunkFailure("process", err)
		}
		if out == nil {
			contribution.filterCount++
			continue
		}
		ch.outputs = append(ch.outputs, out)
	}
	return nil
}

//renewTx roll back the current transaction of chunkCtx and begin a new one
func (step *chunkStep) renewTx(chunkCtx *ChunkContext, tm TransactionManager) BatchError {
	if err := tm.Rollback(chunkCtx.Tx); err != nil {
		logger.Error(chunkCtx.Ctx, "rollback transaction err, jobExecutionId:%v, stepName:%v, err:%v", chunkCtx.StepExecution.JobExecutionId, step.name, err)
	}
	tx, err := tm.BeginTx(chunkCtx.Ctx)
	if err != nil {
		return err
	}
	chunkCtx.Tx = tx
	return nil
}

//writeChunk write the outputs of ch, a failed write is retried in a new transaction.
//A skippable failure falls back to scanning the chunk item by item.
func (step *chunkStep) writeChunk(chunkCtx *ChunkContext, tm TransactionManager, ch *chunk, contribution *stepContribution) BatchError {
	if len(ch.outputs) == 0 || step.writer == nil {
		return nil
	}
	execution := chunkCtx.StepExecution
	b := step.retryPolicy.newBackOff()
	for attempt := 1; ; attempt++ {
		err := step.writer.Write(ch.outputs, chunkCtx)
		if err == nil {
			contribution.writeCount = int64(len(ch.outputs))
			return nil
		}
		logger.Warn(chunkCtx.Ctx, "write chunk failed, jobExecutionId:%v, stepName:%v, attempt:%v, err:%v", execution.JobExecutionId, step.name, attempt, err)
		if step.retryPolicy.CanRetry(err, attempt) {
			step.notifyRetry(chunkCtx, "write")(err, attempt)
			contribution.rollbackCount++
			if e := step.renewTx(chunkCtx, tm); e != nil {
				return e
			}
			sleepBackOff(chunkCtx.Ctx, b)
			continue
		}
		if step.skipPolicy.ShouldSkip(err, step.skipBudgetUsed(execution, contribution)) {
			contribution.rollbackCount++
			return step.scanChunk(chunkCtx, tm, ch, contribution)
		}
		return step.chunkFailure("write", err)
	}
}

//scanChunk write each item alone in a transaction that is always rolled back to find the failing items,
//then write the remaining items in a fresh transaction that also carries the checkpoint.
//Writers must be transactional for the probe writes to leave no trace.
func (step *chunkStep) scanChunk(chunkCtx *ChunkContext, tm TransactionManager, ch *chunk, contribution *stepContribution) BatchError {
	execution := chunkCtx.StepExecution
	logger.Info(chunkCtx.Ctx, "scan chunk for failed items, jobExecutionId:%v, stepName:%v, items:%v", execution.JobExecutionId, step.name, len(ch.outputs))
	survivors := make([]interface{}, 0, len(ch.outputs))
	for _, item := range ch.outputs {
		err := step.probeItem(chunkCtx, tm, item)
		if err == nil {
			survivors = append(survivors, item)
			continue
		}
		if step.skipPolicy.ShouldSkip(err, step.skipBudgetUsed(execution, contribution)) {
			contribution.writeSkipCount++
			logger.Warn(chunkCtx.Ctx, "skip item on write, jobExecutionId:%v, stepName:%v, item:%v, err:%v", execution.JobExecutionId, step.name, item, err)
			for _, listener := range step.skipListeners {
				listener.OnSkipInWrite(chunkCtx, item, err)
			}
			continue
		}
		logger.Error(chunkCtx.Ctx, "write item failed, jobExecutionId:%v, stepName:%v, item:%v, err:%v", execution.JobExecutionId, step.name, item, err)
		return step.chunkFailure("write", err)
	}
	if err := step.renewTx(chunkCtx, tm); err != nil {
		return err
	}
	ch.outputs = survivors
	if len(survivors) > 0 {
		if err := step.writer.Write(survivors, chunkCtx); err != nil {
			logger.Error(chunkCtx.Ctx, "write scanned chunk failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.name, err)
			return step.chunkFailure("write", err)
		}
	}
	contribution.writeCount = int64(len(survivors))
	return nil
}

//probeItem write item alone in a new transaction that is rolled back, transient failures are retried
func (step *chunkStep) probeItem(chunkCtx *ChunkContext, tm TransactionManager, item interface{}) error {
	b := step.retryPolicy.newBackOff()
	for attempt := 1; ; attempt++ {
		if err := step.renewTx(chunkCtx, tm); err != nil {
			return err
		}
		err := step.writer.Write([]interface{}{item}, chunkCtx)
		if err == nil {
			return nil
		}
		if !step.retryPolicy.CanRetry(err, attempt) {
			return err
		}
		step.notifyRetry(chunkCtx, "write")(err, attempt)
		sleepBackOff(chunkCtx.Ctx, b)
	}
}
