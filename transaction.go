package batchcore

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
)

// TransactionManager used by steps to execute a chunk or a tasklet invocation in a transaction.
type TransactionManager interface {
	BeginTx(ctx context.Context) (tx interface{}, err BatchError)
	Commit(tx interface{}) BatchError
	Rollback(tx interface{}) BatchError
}

// DefaultTxManager TransactionManager over a *sql.DB, transactions are *sql.Tx
type DefaultTxManager struct {
	db *sql.DB
}

// txOwners database of every open transaction begun by a DefaultTxManager
var txOwners sync.Map

// TxDB the database of tx when tx is an open transaction begun by a DefaultTxManager
func TxDB(tx interface{}) (*sql.DB, bool) {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok {
		return nil, false
	}
	db, ok := txOwners.Load(sqlTx)
	if !ok {
		return nil, false
	}
	return db.(*sql.DB), true
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// BeginTx begin a transaction. The transaction outlives cancellation of ctx so that a stopping
// step can still commit its in-flight chunk.
func (tm *DefaultTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	tx, err := tm.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "start transaction failed", err)
	}
	txOwners.Store(tx, tm.db)
	return tx, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx interface{}) BatchError {
	sqlTx := tx.(*sql.Tx)
	txOwners.Delete(sqlTx)
	err := sqlTx.Commit()
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx interface{}) BatchError {
	sqlTx := tx.(*sql.Tx)
	txOwners.Delete(sqlTx)
	err := sqlTx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return NewBatchError(ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}

// MemoryTx transaction of MemoryTxManager. Resources join it by registering callbacks
// that run when the transaction commits or rolls back.
type MemoryTx struct {
	Id         int64
	mu         sync.Mutex
	onCommit   []func()
	onRollback []func()
	done       bool
}

// OnCommit register fn to run if the transaction commits
func (tx *MemoryTx) OnCommit(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.onCommit = append(tx.onCommit, fn)
}

// OnRollback register fn to run if the transaction rolls back
func (tx *MemoryTx) OnRollback(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.onRollback = append(tx.onRollback, fn)
}

func (tx *MemoryTx) finish(commit bool) bool {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return false
	}
	tx.done = true
	fns := tx.onRollback
	if commit {
		fns = tx.onCommit
	}
	tx.onCommit, tx.onRollback = nil, nil
	tx.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

// MemoryTxManager TransactionManager for resources that live in process memory
type MemoryTxManager struct {
	seq int64
}

func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

func (tm *MemoryTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	return &MemoryTx{Id: atomic.AddInt64(&tm.seq, 1)}, nil
}

func (tm *MemoryTxManager) Commit(tx interface{}) BatchError {
	if !tx.(*MemoryTx).finish(true) {
		return NewBatchError(ErrCodeDbFail, "transaction has already been completed")
	}
	return nil
}

func (tm *MemoryTxManager) Rollback(tx interface{}) BatchError {
	tx.(*MemoryTx).finish(false)
	return nil
}
