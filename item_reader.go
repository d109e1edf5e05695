package batchcore

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

const (
	//ItemReaderCurrentIndex context key of the index of the next key to read
	ItemReaderCurrentIndex = "batchcore.item.reader.current.index"
)

//ItemReader reads items by key, ReadKeys is called when a step execution opens the reader.
//ReadKeys must return the same keys in the same order for a restart to resume correctly.
type ItemReader interface {
	ReadKeys() ([]interface{}, error)
	ReadItem(key interface{}) (interface{}, error)
}

//executionStates state of a resource per running StepExecution, the same step may run in several jobs at once
type executionStates[T any] struct {
	mu     sync.Mutex
	states map[*StepExecution]T
}

func (s *executionStates[T]) put(execution *StepExecution, state T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[*StepExecution]T)
	}
	s.states[execution] = state
}

func (s *executionStates[T]) get(execution *StepExecution) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[execution]
	return state, ok
}

func (s *executionStates[T]) remove(execution *StepExecution) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[execution]
	delete(s.states, execution)
	return state, ok
}

type keyCursor struct {
	keys  []interface{}
	index int
}

//KeyReader a resumable Reader over an ItemReader, only the index of the next key is saved in the context
type KeyReader struct {
	itemReader ItemReader
	cursors    executionStates[*keyCursor]
}

//NewKeyReader wrap itemReader into a resumable Reader
func NewKeyReader(itemReader ItemReader) *KeyReader {
	if itemReader == nil {
		panic("item reader must not be nil")
	}
	return &KeyReader{itemReader: itemReader}
}

func (reader *KeyReader) Open(execution *StepExecution) BatchError {
	keys, err := reader.itemReader.ReadKeys()
	if err != nil {
		return NewBatchError(ErrCodeGeneral, "ReadKeys() err", err)
	}
	index, err := execution.StepExecutionContext.GetInt(ItemReaderCurrentIndex, 0)
	if err != nil {
		return NewBatchError(ErrCodeGeneral, "invalid reader index in step context, stepName:%v", execution.StepName, err)
	}
	if index < 0 || index > len(keys) {
		return NewBatchError(ErrCodeGeneral, "reader index:%v out of range, keys:%v, stepName:%v", index, len(keys), execution.StepName)
	}
	reader.cursors.put(execution, &keyCursor{keys: keys, index: index})
	return nil
}

func (reader *KeyReader) Read(chunkCtx *ChunkContext) (item interface{}, e BatchError) {
	defer func() {
		if err := recover(); err != nil {
			e = NewBatchError(ErrCodeGeneral, "panic on Read() in item reader, err:%v", err)
		}
	}()
	cursor, ok := reader.cursors.get(chunkCtx.StepExecution)
	if !ok {
		return nil, NewBatchError(ErrCodeGeneral, "item reader is not opened for step:%v", chunkCtx.StepExecution.StepName)
	}
	if cursor.index >= len(cursor.keys) {
		return nil, nil
	}
	key := cursor.keys[cursor.index]
	item, err := reader.itemReader.ReadItem(key)
	if err != nil {
		//a transient failure reads the same key again, any other failure moves past it
		if !IsTransient(err) {
			cursor.index++
		}
		var be BatchError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewBatchError(ErrCodeGeneral, "read item of key:%v err", key, err)
	}
	if item == nil || (reflect.ValueOf(item).Kind() == reflect.Ptr && reflect.ValueOf(item).IsNil()) {
		return nil, NewBatchError(ErrCodeGeneral, "ReadItem() returned nil for key:%v", key)
	}
	cursor.index++
	return item, nil
}

//Update save the index of the next key
func (reader *KeyReader) Update(execution *StepExecution) BatchError {
	if cursor, ok := reader.cursors.get(execution); ok {
		execution.StepExecutionContext.Put(ItemReaderCurrentIndex, cursor.index)
	}
	return nil
}

func (reader *KeyReader) Close(execution *StepExecution) BatchError {
	reader.cursors.remove(execution)
	return nil
}

type listItems []interface{}

func (l listItems) ReadKeys() ([]interface{}, error) {
	keys := make([]interface{}, len(l))
	for i := range l {
		keys[i] = i
	}
	return keys, nil
}

func (l listItems) ReadItem(key interface{}) (interface{}, error) {
	return l[key.(int)], nil
}

//NewListReader a resumable Reader over a fixed list of items
func NewListReader(items ...interface{}) *KeyReader {
	list := make(listItems, len(items))
	copy(list, items)
	return NewKeyReader(list)
}
