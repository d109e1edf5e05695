package batchcore

import (
	"fmt"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/chararch/batchcore/util"
)

func TestBatchContext_Get(t *testing.T) {
	ctx := NewBatchContext()
	v := ctx.Get("key")
	assert.Equal(t, v, nil)
	assert.Equal(t, "def", ctx.Get("key", "def"))
	assert.T(t, !ctx.IsDirty())

	ctx.Put("key", "1111")
	assert.Equal(t, ctx.Get("key"), "1111")
	assert.T(t, ctx.IsDirty())

	n, err := ctx.GetInt("missing", 7)
	assert.Equal(t, nil, err)
	assert.Equal(t, 7, n)
	_, err = ctx.GetInt("key2")
	assert.NotEqual(t, nil, err)
}

type Key struct {
	Id   int64
	Code string
}

func TestBatchContext_MarshalJSON(t *testing.T) {
	batchCtx := NewBatchContext()
	batchCtx.Put("count", 100)
	batchCtx.Put("current", int64(5))
	batchCtx.Put("ratio", 0.25)
	batchCtx.Put("done", true)
	batchCtx.Put("keys", []Key{{Id: 1, Code: "1"}, {Id: 2, Code: "2"}, {Id: 3, Code: "3"}})
	json, err := util.JsonString(batchCtx)
	assert.Equal(t, nil, err)
	fmt.Printf("json:%v\n", json)

	batchCtx2 := NewBatchContext()
	err = util.ParseJson(json, batchCtx2)
	assert.Equal(t, nil, err)
	count, err := batchCtx2.GetInt("count")
	assert.Equal(t, nil, err)
	assert.Equal(t, 100, count)
	current, _ := batchCtx2.GetInt64("current")
	assert.Equal(t, int64(5), current)
	ratio, _ := batchCtx2.GetFloat64("ratio")
	assert.Equal(t, 0.25, ratio)
	done, _ := batchCtx2.GetBool("done")
	assert.T(t, done)
	assert.Equal(t, batchCtx.Keys(), batchCtx2.Keys())
	assert.T(t, !batchCtx2.IsDirty())
}

func TestBatchContext_MergeAndCopy(t *testing.T) {
	c1 := NewBatchContext()
	c1.Put("a", 1)
	c2 := c1.DeepCopy()
	c2.Put("b", 2)
	assert.Equal(t, 1, c1.Len())
	assert.Equal(t, 2, c2.Len())

	c1.Merge(c2)
	assert.Equal(t, 2, c1.Get("b"))
	c1.Merge(nil)
	c1.Remove("a")
	assert.T(t, !c1.Exists("a"))
}
