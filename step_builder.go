package batchcore

import (
	"fmt"

	"github.com/chararch/batchcore/file"
)

const (
	//DefaultCommitInterval default number of items per chunk transaction
	DefaultCommitInterval = 10
)

type stepBuilder struct {
	name                 string
	tasklet              Tasklet
	reader               Reader
	processor            Processor
	writer               Writer
	commitInterval       uint
	retryPolicy          *RetryPolicy
	skipPolicy           *SkipPolicy
	txManager            TransactionManager
	allowStartIfComplete bool
	stepListeners        []StepListener
	chunkListeners       []ChunkListener
	skipListeners        []SkipListener
	retryListeners       []RetryListener
}

//NewStep initialize a step builder
func NewStep(name string, handler ...interface{}) *stepBuilder {
	if name == "" {
		panic("step name must not be empty")
	}
	builder := &stepBuilder{
		name:           name,
		commitInterval: DefaultCommitInterval,
		retryPolicy:    NoRetryPolicy(),
		stepListeners:  make([]StepListener, 0),
		chunkListeners: make([]ChunkListener, 0),
	}
	for _, h := range handler {
		builder.Handler(h)
	}
	return builder
}

//Handler register a tasklet, a reader, a processor, a writer or listeners by type
func (builder *stepBuilder) Handler(handler interface{}) *stepBuilder {
	valid := false
	switch val := handler.(type) {
	case Tasklet:
		builder.Tasklet(val)
		valid = true
	case func(chunkCtx *ChunkContext) (RepeatStatus, BatchError):
		builder.Tasklet(TaskletFunc(val))
		valid = true
	case func(execution *StepExecution) BatchError:
		builder.Task(val)
		valid = true
	case func(execution *StepExecution):
		builder.Task(func(execution *StepExecution) BatchError {
			val(execution)
			return nil
		})
		valid = true
	case func() error:
		builder.Task(func(execution *StepExecution) BatchError {
			if e := val(); e != nil {
				switch et := e.(type) {
				case BatchError:
					return et
				default:
					return NewBatchError(ErrCodeGeneral, "execute step:%v error", execution.StepName, e)
				}
			}
			return nil
		})
		valid = true
	case func():
		builder.Task(func(execution *StepExecution) BatchError {
			val()
			return nil
		})
		valid = true
	default:
		if val2, ok2 := handler.(Reader); ok2 {
			builder.Reader(val2)
			valid = true
		} else if val2, ok2 := handler.(ItemReader); ok2 {
			builder.Reader(val2)
			valid = true
		}
		if val2, ok2 := handler.(Processor); ok2 {
			builder.Processor(val2)
			valid = true
		}
		if val2, ok2 := handler.(Writer); ok2 {
			builder.Writer(val2)
			valid = true
		}
		if builder.addListener(handler) {
			valid = true
		}
	}
	if !valid {
		panic(fmt.Sprintf("invalid handler type:%T for step:%v", handler, builder.name))
	}
	return builder
}

func (builder *stepBuilder) Tasklet(tasklet Tasklet) *stepBuilder {
	builder.tasklet = tasklet
	return builder
}

func (builder *stepBuilder) Task(task Task) *stepBuilder {
	builder.tasklet = task
	return builder
}

//Reader set the item source, an ItemReader is wrapped into a resumable KeyReader
func (builder *stepBuilder) Reader(reader interface{}) *stepBuilder {
	switch r := reader.(type) {
	case Reader:
		builder.reader = r
	case ItemReader:
		builder.reader = NewKeyReader(r)
	default:
		panic("the type of Reader() argument is neither Reader nor ItemReader")
	}
	return builder
}

func (builder *stepBuilder) Processor(processor Processor) *stepBuilder {
	builder.processor = processor
	return builder
}

func (builder *stepBuilder) Writer(writer Writer) *stepBuilder {
	builder.writer = writer
	return builder
}

//ReadFile read items from a delimited file, mapper converts each record, a nil mapper yields FieldSet maps
func (builder *stepBuilder) ReadFile(fd file.FileDescriptor, mapper file.RecordMapper) *stepBuilder {
	builder.reader = newFileReader(fd, mapper)
	return builder
}

//CommitInterval number of items read per chunk transaction
func (builder *stepBuilder) CommitInterval(interval uint) *stepBuilder {
	builder.commitInterval = interval
	return builder
}

func (builder *stepBuilder) RetryPolicy(policy *RetryPolicy) *stepBuilder {
	builder.retryPolicy = policy
	return builder
}

//RetryLimit retry transient errors up to attempts times with the default backoff
func (builder *stepBuilder) RetryLimit(attempts int) *stepBuilder {
	return builder.RetryPolicy(NewRetryPolicy(attempts))
}

func (builder *stepBuilder) SkipPolicy(policy *SkipPolicy) *stepBuilder {
	builder.skipPolicy = policy
	return builder
}

//SkipLimit skip up to limit items failing with skippable errors
func (builder *stepBuilder) SkipLimit(limit int64) *stepBuilder {
	return builder.SkipPolicy(NewSkipPolicy(limit))
}

//TransactionManager override the transaction manager of the job repository
func (builder *stepBuilder) TransactionManager(txManager TransactionManager) *stepBuilder {
	builder.txManager = txManager
	return builder
}

func (builder *stepBuilder) AllowStartIfComplete(allow bool) *stepBuilder {
	builder.allowStartIfComplete = allow
	return builder
}

func (builder *stepBuilder) addListener(l interface{}) bool {
	added := false
	if ll, ok := l.(StepListener); ok {
		builder.stepListeners = append(builder.stepListeners, ll)
		added = true
	}
	if ll, ok := l.(ChunkListener); ok {
		builder.chunkListeners = append(builder.chunkListeners, ll)
		added = true
	}
	if ll, ok := l.(SkipListener); ok {
		builder.skipListeners = append(builder.skipListeners, ll)
		added = true
	}
	if ll, ok := l.(RetryListener); ok {
		builder.retryListeners = append(builder.retryListeners, ll)
		added = true
	}
	return added
}

func (builder *stepBuilder) Listener(listener ...interface{}) *stepBuilder {
	for _, l := range listener {
		if !builder.addListener(l) {
			panic(fmt.Sprintf("not supported listener:%+v for step:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *stepBuilder) Build() Step {
	base := baseStep{
		name:                 builder.name,
		txManager:            builder.txManager,
		allowStartIfComplete: builder.allowStartIfComplete,
		listeners:            builder.stepListeners,
	}
	if builder.tasklet != nil {
		if builder.reader != nil {
			panic(fmt.Sprintf("step:%v has both a tasklet and a reader", builder.name))
		}
		return &taskletStep{baseStep: base, tasklet: builder.tasklet}
	}
	if builder.reader == nil {
		panic(fmt.Sprintf("no tasklet or reader specified for step: %s", builder.name))
	}
	if builder.commitInterval == 0 {
		panic(fmt.Sprintf("commit interval of step:%v must be positive", builder.name))
	}
	return &chunkStep{
		baseStep:       base,
		reader:         builder.reader,
		processor:      builder.processor,
		writer:         builder.writer,
		commitInterval: builder.commitInterval,
		retryPolicy:    builder.retryPolicy,
		skipPolicy:     builder.skipPolicy,
		chunkListeners: builder.chunkListeners,
		skipListeners:  builder.skipListeners,
		retryListeners: builder.retryListeners,
	}
}
