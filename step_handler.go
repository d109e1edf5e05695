package batchcore

//RepeatStatus result of a tasklet invocation
type RepeatStatus int

const (
	//FINISHED the tasklet is done
	FINISHED RepeatStatus = iota
	//CONTINUABLE the tasklet wants to be invoked again in a new transaction
	CONTINUABLE
)

func (s RepeatStatus) String() string {
	if s == CONTINUABLE {
		return "CONTINUABLE"
	}
	return "FINISHED"
}

//Tasklet unit of work of a tasklet step, each invocation runs in its own transaction
type Tasklet interface {
	Execute(chunkCtx *ChunkContext) (RepeatStatus, BatchError)
}

//TaskletFunc adapts a function to Tasklet
type TaskletFunc func(chunkCtx *ChunkContext) (RepeatStatus, BatchError)

func (f TaskletFunc) Execute(chunkCtx *ChunkContext) (RepeatStatus, BatchError) {
	return f(chunkCtx)
}

//Task a tasklet that always finishes in one invocation
type Task func(execution *StepExecution) BatchError

func (task Task) Execute(chunkCtx *ChunkContext) (RepeatStatus, BatchError) {
	return FINISHED, task(chunkCtx.StepExecution)
}

//Reader reads the next item, (nil, nil) signals the end of input
type Reader interface {
	Read(chunkCtx *ChunkContext) (interface{}, BatchError)
}

//Processor transforms an item, returning nil filters it out
type Processor interface {
	Process(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError)
}

//Writer writes the items of a chunk in the chunk transaction
type Writer interface {
	Write(items []interface{}, chunkCtx *ChunkContext) BatchError
}

//OpenCloser resources that are opened before and closed after a step execution.
//Open sees the ExecutionContext restored from the last failed or stopped execution.
type OpenCloser interface {
	Open(execution *StepExecution) BatchError
	Close(execution *StepExecution) BatchError
}

//ItemStream saves restart state into the StepExecutionContext before each chunk commit
type ItemStream interface {
	Update(execution *StepExecution) BatchError
}
