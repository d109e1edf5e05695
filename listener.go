package batchcore

//JobListener job listener
type JobListener interface {
	//BeforeJob execute before job start
	BeforeJob(execution *JobExecution) BatchError
	//AfterJob execute after job end either normally or abnormally
	AfterJob(execution *JobExecution) BatchError
}

//StepListener step listener
type StepListener interface {
	//BeforeStep execute before step start
	BeforeStep(execution *StepExecution) BatchError
	//AfterStep execute after step end either normally or abnormally
	AfterStep(execution *StepExecution) BatchError
}

//ChunkListener chunk listener
type ChunkListener interface {
	//BeforeChunk execute after the chunk transaction began and before the first item is read
	BeforeChunk(context *ChunkContext) BatchError
	//AfterChunk execute after the chunk transaction committed
	AfterChunk(context *ChunkContext) BatchError
	//OnError execute when the chunk failed and its transaction was rolled back
	OnError(context *ChunkContext, err BatchError)
}

//SkipListener notified of each skipped item, within the transaction of the chunk that skips it
type SkipListener interface {
	OnSkipInRead(context *ChunkContext, err error)
	OnSkipInProcess(context *ChunkContext, item interface{}, err error)
	OnSkipInWrite(context *ChunkContext, item interface{}, err error)
}

//RetryListener notified before an operation is attempted again
type RetryListener interface {
	OnRetry(context *ChunkContext, err error, attempt int)
}
