package batchcore

import (
	"context"
	"runtime/debug"

	"github.com/panjf2000/ants/v2"
)

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) *taskPool {
	pool, err := ants.NewPool(size)
	if err != nil {
		panic(err)
	}
	return &taskPool{
		pool: pool,
	}
}

// Future get result in future
type Future[T any] interface {
	//Get block until the task finishes
	Get() (T, error)
}

type futureImpl[T any] struct {
	done   chan struct{}
	result T
	err    error
}

func (f *futureImpl[T]) Get() (T, error) {
	<-f.done
	return f.result, f.err
}

func (f *futureImpl[T]) complete(result T, err error) {
	f.result, f.err = result, err
	close(f.done)
}

//submit run task on pool, a panic in task is returned as the error of the future.
//An error is returned when the pool rejects the task, task is not run then.
func submit[T any](ctx context.Context, pool *taskPool, task func() (T, error)) (Future[T], BatchError) {
	f := &futureImpl[T]{done: make(chan struct{})}
	err := pool.pool.Submit(func() {
		var zero T
		defer func() {
			if err := recover(); err != nil {
				logger.Error(ctx, "panic in task, err:%v, stack:%v", err, string(debug.Stack()))
				f.complete(zero, NewBatchError(ErrCodeGeneral, "panic:%v", err))
			}
		}()
		val, err := task()
		f.complete(val, err)
	})
	if err != nil {
		return nil, NewBatchError(ErrCodeGeneral, "submit task failed", err)
	}
	return f, nil
}

func (pool *taskPool) Release() {
	pool.pool.Release()
}

func (pool *taskPool) SetMaxSize(size int) {
	pool.pool.Tune(size)
}
