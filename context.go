package batchcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/chararch/batchcore/util"
	"github.com/pkg/errors"
)

//BatchContext key-value properties of a job or step execution, persisted as a json object.
//Values read back from storage hold numbers as json.Number, the typed getters accept both forms.
type BatchContext struct {
	kvs   map[string]interface{}
	dirty bool
}

//NewBatchContext new instance
func NewBatchContext() *BatchContext {
	return &BatchContext{kvs: map[string]interface{}{}}
}

func (ctx *BatchContext) Put(key string, value interface{}) {
	ctx.kvs[key] = value
	ctx.dirty = true
}

func (ctx *BatchContext) Exists(key string) bool {
	return ctx.kvs[key] != nil
}

func (ctx *BatchContext) Remove(key string) {
	if _, ok := ctx.kvs[key]; ok {
		delete(ctx.kvs, key)
		ctx.dirty = true
	}
}

func (ctx *BatchContext) Get(key string, def ...interface{}) interface{} {
	val := ctx.kvs[key]
	if val == nil && len(def) > 0 {
		val = def[0]
	}
	return val
}

func (ctx *BatchContext) GetInt(key string, def ...int) (int, error) {
	v := ctx.kvs[key]
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	r, err := toInt64(v)
	if err != nil {
		return 0, errors.WithMessagef(err, "get int of key:%v", key)
	}
	return int(r), nil
}

func (ctx *BatchContext) GetInt64(key string, def ...int64) (int64, error) {
	v := ctx.kvs[key]
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	r, err := toInt64(v)
	if err != nil {
		return 0, errors.WithMessagef(err, "get int64 of key:%v", key)
	}
	return r, nil
}

func (ctx *BatchContext) GetFloat64(key string, def ...float64) (float64, error) {
	v := ctx.kvs[key]
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	switch r := v.(type) {
	case float64:
		return r, nil
	case float32:
		return float64(r), nil
	case json.Number:
		return r.Float64()
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, errors.Errorf("value is nil or not float64: %v", v)
	}
	return float64(i), nil
}

func toInt64(v interface{}) (int64, error) {
	switch r := v.(type) {
	case int:
		return int64(r), nil
	case int8:
		return int64(r), nil
	case int16:
		return int64(r), nil
	case int32:
		return int64(r), nil
	case int64:
		return r, nil
	case uint:
		return int64(r), nil
	case uint8:
		return int64(r), nil
	case uint16:
		return int64(r), nil
	case uint32:
		return int64(r), nil
	case uint64:
		return int64(r), nil
	case float32:
		return int64(r), nil
	case float64:
		return int64(r), nil
	case json.Number:
		if i, err := r.Int64(); err == nil {
			return i, nil
		}
		f, err := r.Float64()
		return int64(f), err
	case string:
		return strconv.ParseInt(r, 10, 64)
	}
	return 0, errors.Errorf("value is nil or not integer: %v", v)
}

func (ctx *BatchContext) GetString(key string, def ...string) (string, error) {
	v := ctx.kvs[key]
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := v.(string); ok {
		return r, nil
	}
	return "", errors.Errorf("value is nil or not string: %v", v)
}

func (ctx *BatchContext) GetBool(key string, def ...bool) (bool, error) {
	v := ctx.kvs[key]
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := v.(bool); ok {
		return r, nil
	}
	return false, errors.Errorf("value is nil or not bool: %v", v)
}

func (ctx *BatchContext) Keys() []string {
	return util.SortedKeys(ctx.kvs)
}

func (ctx *BatchContext) Len() int {
	return len(ctx.kvs)
}

//IsDirty the context has been changed since it was created or ClearDirty was called
func (ctx *BatchContext) IsDirty() bool {
	return ctx.dirty
}

func (ctx *BatchContext) ClearDirty() {
	ctx.dirty = false
}

//DeepCopy copy of the key set, values are shared
func (ctx *BatchContext) DeepCopy() *BatchContext {
	result := NewBatchContext()
	for key, value := range ctx.kvs {
		result.kvs[key] = value
	}
	result.dirty = ctx.dirty
	return result
}

func (ctx *BatchContext) Merge(other *BatchContext) {
	if other == nil {
		return
	}
	for key, value := range other.kvs {
		ctx.Put(key, value)
	}
}

func (ctx *BatchContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(ctx.kvs)
}

func (ctx *BatchContext) UnmarshalJSON(b []byte) error {
	kvs := map[string]interface{}{}
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.UseNumber()
	if err := decoder.Decode(&kvs); err != nil {
		return err
	}
	ctx.kvs = kvs
	ctx.dirty = false
	return nil
}

//ChunkContext context of one transaction of a step: a chunk of a chunk step or an invocation of a tasklet
type ChunkContext struct {
	Ctx           context.Context
	StepExecution *StepExecution
	//Tx the current transaction, *sql.Tx with DefaultTxManager and *MemoryTx with MemoryTxManager
	Tx  interface{}
	End bool
}

//Context the context.Context of the running step
func (chunk *ChunkContext) Context() context.Context {
	if chunk.Ctx == nil {
		return context.Background()
	}
	return chunk.Ctx
}
