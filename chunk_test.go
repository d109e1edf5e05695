package batchcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/batchcore/status"
)

//memoryWriter keeps written items once the chunk transaction commits
type memoryWriter struct {
	mu        sync.Mutex
	committed []interface{}
	calls     int
	//fail returns the error for a write of items, nil to accept them
	fail func(items []interface{}, call int) BatchError
}

func (w *memoryWriter) Write(items []interface{}, chunkCtx *ChunkContext) BatchError {
	w.mu.Lock()
	w.calls++
	call := w.calls
	w.mu.Unlock()
	if w.fail != nil {
		if err := w.fail(items, call); err != nil {
			return err
		}
	}
	batch := append([]interface{}(nil), items...)
	chunkCtx.Tx.(*MemoryTx).OnCommit(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.committed = append(w.committed, batch...)
	})
	return nil
}

func (w *memoryWriter) items() []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]interface{}(nil), w.committed...)
}

func numbers(n int) []interface{} {
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i + 1
	}
	return items
}

func contains(items []interface{}, item interface{}) bool {
	for _, v := range items {
		if v == item {
			return true
		}
	}
	return false
}

//processorFunc adapts a function to Processor
type processorFunc func(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError)

func (f processorFunc) Process(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
	return f(item, chunkCtx)
}

func rejectItems(bad ...int) Processor {
	return processorFunc(func(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
		for _, b := range bad {
			if item == b {
				return nil, NewSkippableError("bad item:%v", item)
			}
		}
		return item, nil
	})
}

type chunkCounter struct {
	before, after, errors int
}

func (c *chunkCounter) BeforeChunk(chunkCtx *ChunkContext) BatchError {
	c.before++
	return nil
}

func (c *chunkCounter) AfterChunk(chunkCtx *ChunkContext) BatchError {
	c.after++
	return nil
}

func (c *chunkCounter) OnError(chunkCtx *ChunkContext, err BatchError) {
	c.errors++
}

type retryCounter struct {
	attempts []int
}

func (c *retryCounter) OnRetry(chunkCtx *ChunkContext, err error, attempt int) {
	c.attempts = append(c.attempts, attempt)
}

func runSingleStep(t *testing.T, step Step) (*MemoryJobRepository, *JobExecution) {
	repo := NewMemoryJobRepository()
	launcher := NewJobLauncher(repo, NewJobRegistry(NewJob("chunkJob", step).Build()))
	defer launcher.Close()
	execution, err := launcher.Run(context.Background(), "chunkJob", NewJobParameters())
	assert.Equal(t, nil, err)
	return repo, execution
}

func TestChunkStep_CommitInterval(t *testing.T) {
	writer := &memoryWriter{}
	counter := &chunkCounter{}
	step := NewStep("numbers").Reader(NewListReader(numbers(250)...)).Writer(writer).CommitInterval(100).Listener(counter).Build()
	repo, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	se := execution.GetStepExecution("numbers")
	assert.Equal(t, status.COMPLETED, se.StepStatus)
	assert.Equal(t, int64(250), se.ReadCount)
	assert.Equal(t, int64(250), se.WriteCount)
	assert.Equal(t, int64(3), se.CommitCount)
	assert.Equal(t, int64(0), se.RollbackCount)
	assert.Equal(t, numbers(250), writer.items())
	assert.Equal(t, 3, counter.after)

	stored, _ := repo.GetStepExecutions(context.Background(), execution.JobExecutionId)
	assert.Equal(t, 1, len(stored))
	assert.Equal(t, int64(3), stored[0].CommitCount)
	assert.Equal(t, status.COMPLETED, stored[0].StepStatus)
}

func TestChunkStep_EmptyLastChunkIsNotCounted(t *testing.T) {
	writer := &memoryWriter{}
	counter := &chunkCounter{}
	step := NewStep("numbers").Reader(NewListReader(numbers(200)...)).Writer(writer).CommitInterval(100).Listener(counter).Build()
	_, execution := runSingleStep(t, step)

	se := execution.GetStepExecution("numbers")
	assert.Equal(t, int64(2), se.CommitCount)
	assert.Equal(t, 200, len(writer.items()))
	assert.Equal(t, 3, counter.before)
	assert.Equal(t, 2, counter.after)
	assert.Equal(t, 0, counter.errors)
}

func TestChunkStep_SkipInProcess(t *testing.T) {
	writer := &memoryWriter{}
	step := NewStep("numbers").Reader(NewListReader(numbers(250)...)).Processor(rejectItems(150)).Writer(writer).
		CommitInterval(100).SkipLimit(1).Build()
	_, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	se := execution.GetStepExecution("numbers")
	assert.Equal(t, int64(250), se.ReadCount)
	assert.Equal(t, int64(249), se.WriteCount)
	assert.Equal(t, int64(1), se.ProcessSkipCount)
	assert.Equal(t, int64(1), se.SkipCount())
	assert.Equal(t, 249, len(writer.items()))
	assert.T(t, !contains(writer.items(), 150))
}

func TestChunkStep_SkipLimitExceeded(t *testing.T) {
	writer := &memoryWriter{}
	counter := &chunkCounter{}
	step := NewStep("numbers").Reader(NewListReader(numbers(250)...)).Processor(rejectItems(150, 160)).Writer(writer).
		CommitInterval(100).SkipLimit(1).Listener(counter).Build()
	repo, execution := runSingleStep(t, step)

	assert.Equal(t, status.FAILED, execution.JobStatus)
	se := execution.GetStepExecution("numbers")
	assert.Equal(t, status.FAILED, se.StepStatus)
	assert.T(t, IsFatal(se.FailError))
	//the second chunk was rolled back with its skip
	assert.Equal(t, numbers(100), writer.items())
	assert.Equal(t, int64(1), se.CommitCount)
	assert.Equal(t, int64(100), se.WriteCount)
	assert.Equal(t, int64(0), se.ProcessSkipCount)
	assert.Equal(t, int64(1), se.RollbackCount)
	assert.Equal(t, 1, counter.errors)

	last, _ := repo.GetLastStepExecution(context.Background(), execution.JobInstanceId, "numbers")
	index, _ := last.StepExecutionContext.GetInt(ItemReaderCurrentIndex)
	assert.Equal(t, 100, index)
}

func TestChunkStep_SkipBudgetBoundary(t *testing.T) {
	writer := &memoryWriter{}
	step := NewStep("numbers").Reader(NewListReader(numbers(30)...)).Processor(rejectItems(3, 13, 23)).Writer(writer).
		CommitInterval(10).SkipLimit(3).Build()
	_, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	assert.Equal(t, int64(3), execution.GetStepExecution("numbers").ProcessSkipCount)
	assert.Equal(t, 27, len(writer.items()))

	writer = &memoryWriter{}
	step = NewStep("numbers").Reader(NewListReader(numbers(30)...)).Processor(rejectItems(3, 13, 23)).Writer(writer).
		CommitInterval(10).SkipLimit(2).Build()
	_, execution = runSingleStep(t, step)
	assert.Equal(t, status.FAILED, execution.JobStatus)
	assert.Equal(t, 18, len(writer.items()))
}

func TestChunkStep_SkipInWrite(t *testing.T) {
	writer := &memoryWriter{fail: func(items []interface{}, call int) BatchError {
		if contains(items, 42) {
			return NewSkippableError("constraint violation")
		}
		return nil
	}}
	step := NewStep("numbers").Reader(NewListReader(numbers(50)...)).Writer(writer).CommitInterval(10).SkipLimit(1).Build()
	_, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	se := execution.GetStepExecution("numbers")
	assert.Equal(t, int64(1), se.WriteSkipCount)
	assert.Equal(t, int64(49), se.WriteCount)
	assert.Equal(t, int64(5), se.CommitCount)
	assert.Equal(t, int64(1), se.RollbackCount)
	items := writer.items()
	//probe writes are rolled back, every surviving item is committed once
	assert.Equal(t, 49, len(items))
	assert.T(t, !contains(items, 42))
}

func TestChunkStep_RetryTransientWrite(t *testing.T) {
	writer := &memoryWriter{fail: func(items []interface{}, call int) BatchError {
		if call <= 2 {
			return NewTransientError("connection reset")
		}
		return nil
	}}
	retries := &retryCounter{}
	policy := &RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	step := NewStep("numbers").Reader(NewListReader(numbers(15)...)).Writer(writer).CommitInterval(10).
		RetryPolicy(policy).Listener(retries).Build()
	_, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	se := execution.GetStepExecution("numbers")
	assert.Equal(t, int64(15), se.WriteCount)
	assert.Equal(t, int64(2), se.CommitCount)
	assert.Equal(t, int64(2), se.RollbackCount)
	assert.Equal(t, []int{1, 2}, retries.attempts)
	assert.Equal(t, numbers(15), writer.items())
}

func TestChunkStep_RetryExhausted(t *testing.T) {
	writer := &memoryWriter{fail: func(items []interface{}, call int) BatchError {
		return NewTransientError("connection reset")
	}}
	step := NewStep("numbers").Reader(NewListReader(numbers(5)...)).Writer(writer).RetryLimit(2).Build()
	_, execution := runSingleStep(t, step)

	assert.Equal(t, status.FAILED, execution.JobStatus)
	assert.Equal(t, 2, writer.calls)
	assert.Equal(t, 0, len(writer.items()))
}

type flakyItems struct {
	failures map[int]int
}

func (f *flakyItems) ReadKeys() ([]interface{}, error) {
	return numbers(5), nil
}

func (f *flakyItems) ReadItem(key interface{}) (interface{}, error) {
	k := key.(int)
	if f.failures[k] > 0 {
		f.failures[k]--
		return nil, NewTransientError("read timeout of key:%v", k)
	}
	return k * 10, nil
}

func TestChunkStep_RetryTransientRead(t *testing.T) {
	writer := &memoryWriter{}
	retries := &retryCounter{}
	policy := &RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	step := NewStep("numbers").Reader(&flakyItems{failures: map[int]int{2: 2}}).Writer(writer).
		RetryPolicy(policy).Listener(retries).Build()
	_, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	assert.Equal(t, []interface{}{10, 20, 30, 40, 50}, writer.items())
	assert.Equal(t, 2, len(retries.attempts))
}

func TestChunkStep_FilterItems(t *testing.T) {
	writer := &memoryWriter{}
	evenOnly := processorFunc(func(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
		if item.(int)%2 == 1 {
			return nil, nil
		}
		return item, nil
	})
	step := NewStep("numbers").Reader(NewListReader(numbers(10)...)).Processor(evenOnly).Writer(writer).CommitInterval(4).Build()
	_, execution := runSingleStep(t, step)

	se := execution.GetStepExecution("numbers")
	assert.Equal(t, int64(10), se.ReadCount)
	assert.Equal(t, int64(5), se.FilterCount)
	assert.Equal(t, int64(5), se.WriteCount)
	assert.Equal(t, []interface{}{2, 4, 6, 8, 10}, writer.items())
}

func TestChunkStep_RestartResumesFromCheckpoint(t *testing.T) {
	failed := false
	writer := &memoryWriter{fail: func(items []interface{}, call int) BatchError {
		if !failed && contains(items, 180) {
			failed = true
			return NewBatchError(ErrCodeGeneral, "disk full")
		}
		return nil
	}}
	step := NewStep("numbers").Reader(NewListReader(numbers(250)...)).Writer(writer).CommitInterval(100).Build()
	repo := NewMemoryJobRepository()
	launcher := NewJobLauncher(repo, NewJobRegistry(NewJob("chunkJob", step).Build()))
	defer launcher.Close()
	ctx := context.Background()
	params := NewJobParametersBuilder().String("file", "numbers.csv").Build()

	execution, err := launcher.Run(ctx, "chunkJob", params)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.FAILED, execution.JobStatus)
	assert.Equal(t, numbers(100), writer.items())

	restarted, err := launcher.Restart(ctx, execution.JobExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, restarted.JobStatus)
	assert.Equal(t, execution.JobInstanceId, restarted.JobInstanceId)
	assert.NotEqual(t, execution.JobExecutionId, restarted.JobExecutionId)
	//each item is written exactly once over both executions
	assert.Equal(t, numbers(250), writer.items())
	se := restarted.GetStepExecution("numbers")
	assert.Equal(t, int64(150), se.ReadCount)
	assert.Equal(t, int64(2), se.CommitCount)

	_, err = launcher.Restart(ctx, restarted.JobExecutionId)
	assert.NotEqual(t, nil, err)
	_, err = launcher.Run(ctx, "chunkJob", params)
	assert.T(t, IsRestartExhausted(err))
}

//plainTxManager transactions the memory repository can not join
type plainTxManager struct {
	commits, rollbacks int
}

type plainTx struct{}

func (tm *plainTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	return &plainTx{}, nil
}

func (tm *plainTxManager) Commit(tx interface{}) BatchError {
	tm.commits++
	return nil
}

func (tm *plainTxManager) Rollback(tx interface{}) BatchError {
	tm.rollbacks++
	return nil
}

type sliceWriter struct {
	items []interface{}
}

func (w *sliceWriter) Write(items []interface{}, chunkCtx *ChunkContext) BatchError {
	w.items = append(w.items, items...)
	return nil
}

func TestChunkStep_CheckpointAfterCommit(t *testing.T) {
	tm := &plainTxManager{}
	writer := &sliceWriter{}
	step := NewStep("numbers").Reader(NewListReader(numbers(25)...)).Writer(writer).CommitInterval(10).TransactionManager(tm).Build()
	repo, execution := runSingleStep(t, step)

	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	assert.Equal(t, 3, tm.commits)
	assert.Equal(t, 0, tm.rollbacks)
	assert.Equal(t, 25, len(writer.items))
	stored, _ := repo.GetStepExecutions(context.Background(), execution.JobExecutionId)
	assert.Equal(t, int64(3), stored[0].CommitCount)
	assert.Equal(t, int64(25), stored[0].WriteCount)
	index, _ := stored[0].StepExecutionContext.GetInt(ItemReaderCurrentIndex)
	assert.Equal(t, 25, index)
}
