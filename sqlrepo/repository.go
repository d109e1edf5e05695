package sqlrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/status"
	"github.com/chararch/batchcore/util"
)

//sqlExecutor common methods of *sql.DB and *sql.Tx
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

//rowScanner common method of *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const (
	jobInstanceColumns  = "job_instance_id, job_name, job_key, job_params, create_time"
	jobExecutionColumns = "job_execution_id, job_instance_id, job_name, create_time, start_time, end_time, status, exit_code, exit_message, last_updated, version"
	stepExecutionColumns = "step_execution_id, job_execution_id, step_name, create_time, start_time, end_time, status, " +
		"read_count, write_count, commit_count, filter_count, read_skip_count, process_skip_count, write_skip_count, rollback_count, " +
		"exit_code, exit_message, last_updated, version"
)

//Repository JobRepository persisting to batch_* tables of a relational database.
//Chunk checkpoints join the chunk transaction when it is a *sql.Tx of the same database.
type Repository struct {
	db        *sql.DB
	dialect   dialect
	txManager batchcore.TransactionManager
}

//New a repository over db, dbType is one of mysql, postgres and sqlite3.
//The schema must have been installed by Migrate.
func New(db *sql.DB, dbType string) (*Repository, error) {
	if db == nil {
		return nil, batchcore.NewBatchError(batchcore.ErrCodeGeneral, "db must not be nil")
	}
	d, err := lookupDialect(dbType)
	if err != nil {
		return nil, err
	}
	return &Repository{
		db:        db,
		dialect:   d,
		txManager: batchcore.NewTransactionManager(db),
	}, nil
}

//DB the underlying database
func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) TransactionManager() batchcore.TransactionManager {
	return r.txManager
}

func dbError(err error, msg string, args ...interface{}) batchcore.BatchError {
	return batchcore.NewBatchError(batchcore.ErrCodeDbFail, msg, append(args, err)...)
}

func (r *Repository) exec(ctx context.Context, ex sqlExecutor, query string, args ...interface{}) (sql.Result, error) {
	return ex.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, ex sqlExecutor, query string, args ...interface{}) (*sql.Rows, error) {
	return ex.QueryContext(ctx, r.dialect.rebind(query), args...)
}

//insert run an insert statement and return the generated value of idColumn
func (r *Repository) insert(ctx context.Context, ex sqlExecutor, idColumn string, query string, args ...interface{}) (int64, error) {
	if r.dialect.returning {
		var id int64
		err := ex.QueryRowContext(ctx, r.dialect.rebind(query+" RETURNING "+idColumn), args...).Scan(&id)
		return id, err
	}
	res, err := r.exec(ctx, ex, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

//inTx run fn in a database transaction, committing when fn succeeds
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) batchcore.BatchError) batchcore.BatchError {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError(err, "start transaction failed")
	}
	if be := fn(tx); be != nil {
		tx.Rollback()
		return be
	}
	if err = tx.Commit(); err != nil {
		return dbError(err, "transaction commit failed")
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalContext(ctx *batchcore.BatchContext) (string, error) {
	if ctx == nil {
		ctx = batchcore.NewBatchContext()
	}
	return util.JsonString(ctx)
}

func unmarshalContext(s sql.NullString) (*batchcore.BatchContext, error) {
	ctx := batchcore.NewBatchContext()
	if !s.Valid || s.String == "" {
		return ctx, nil
	}
	if err := util.ParseJson(s.String, ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func scanJobInstance(row rowScanner) (*batchcore.JobInstance, error) {
	instance := &batchcore.JobInstance{}
	var params sql.NullString
	if err := row.Scan(&instance.JobInstanceId, &instance.JobName, &instance.JobKey, &params, &instance.CreateTime); err != nil {
		return nil, err
	}
	instance.JobParams = batchcore.NewJobParameters()
	if params.Valid && params.String != "" {
		if err := util.ParseJson(params.String, &instance.JobParams); err != nil {
			return nil, err
		}
	}
	return instance, nil
}

func (r *Repository) findJobInstance(ctx context.Context, ex sqlExecutor, where string, args ...interface{}) (*batchcore.JobInstance, batchcore.BatchError) {
	rows, err := r.query(ctx, ex, "SELECT "+jobInstanceColumns+" FROM batch_job_instance WHERE "+where, args...)
	if err != nil {
		return nil, dbError(err, "query job instance failed")
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, dbError(err, "query job instance failed")
		}
		return nil, nil
	}
	instance, err := scanJobInstance(rows)
	if err != nil {
		return nil, dbError(err, "scan job instance failed")
	}
	return instance, nil
}

func (r *Repository) CreateOrGetInstance(ctx context.Context, jobName string, params batchcore.JobParameters) (*batchcore.JobInstance, batchcore.BatchError) {
	key := params.Hash()
	instance, be := r.findJobInstance(ctx, r.db, "job_name = ? AND job_key = ?", jobName, key)
	if be != nil {
		return nil, be
	}
	if instance != nil {
		last, be := r.lastJobExecution(ctx, r.db, instance.JobInstanceId)
		if be != nil {
			return nil, be
		}
		if last != nil && last.JobStatus == status.COMPLETED {
			return nil, batchcore.NewBatchError(batchcore.ErrCodeInstanceComplete, "job instance has already completed, jobName:%v, jobInstanceId:%v", jobName, instance.JobInstanceId)
		}
		return instance, nil
	}
	identifying := params.Identifying()
	paramsJson, err := util.JsonString(identifying)
	if err != nil {
		return nil, batchcore.NewBatchError(batchcore.ErrCodeGeneral, "serialize job parameters:%v err", params, err)
	}
	instance = &batchcore.JobInstance{
		JobName:    jobName,
		JobKey:     key,
		JobParams:  identifying,
		CreateTime: time.Now(),
	}
	id, err := r.insert(ctx, r.db, "job_instance_id", "INSERT INTO batch_job_instance(job_name, job_key, job_params, create_time, version) VALUES (?, ?, ?, ?, 0)",
		jobName, key, paramsJson, instance.CreateTime)
	if err != nil {
		if isUniqueViolation(err) {
			//created by a concurrent launch of the same instance
			return r.CreateOrGetInstance(ctx, jobName, params)
		}
		return nil, dbError(err, "insert job instance failed, jobName:%v", jobName)
	}
	instance.JobInstanceId = id
	return instance, nil
}

//CreateJobExecution locks the instance row by bumping its version, so that concurrent launches of
//one instance check the last execution and insert the new one strictly one after another
func (r *Repository) CreateJobExecution(ctx context.Context, instance *batchcore.JobInstance, params batchcore.JobParameters) (*batchcore.JobExecution, batchcore.BatchError) {
	execution := batchcore.NewJobExecution(instance, params)
	execution.Version = 1
	be := r.inTx(ctx, func(tx *sql.Tx) batchcore.BatchError {
		res, err := r.exec(ctx, tx, "UPDATE batch_job_instance SET version = version + 1 WHERE job_instance_id = ?", instance.JobInstanceId)
		if err != nil {
			return dbError(err, "lock job instance failed, jobInstanceId:%v", instance.JobInstanceId)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return batchcore.NewBatchError(batchcore.ErrCodeGeneral, "job instance not found, jobInstanceId:%v", instance.JobInstanceId)
		}
		last, be := r.lastJobExecution(ctx, tx, instance.JobInstanceId)
		if be != nil {
			return be
		}
		if be = batchcore.CheckLaunchable(instance, last); be != nil {
			return be
		}
		id, err := r.insert(ctx, tx, "job_execution_id", "INSERT INTO batch_job_execution(job_instance_id, job_name, create_time, start_time, end_time, status, exit_code, exit_message, last_updated, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			execution.JobInstanceId, execution.JobName, execution.CreateTime, nullTime(execution.StartTime), nullTime(execution.EndTime), string(execution.JobStatus),
			nullString(execution.ExitCode), nullString(execution.ExitDescription), execution.LastUpdated, execution.Version)
		if err != nil {
			return dbError(err, "insert job execution failed, jobName:%v", execution.JobName)
		}
		execution.JobExecutionId = id
		if be = r.insertJobParams(ctx, tx, id, params); be != nil {
			return be
		}
		jobCtx, err := marshalContext(execution.JobContext)
		if err != nil {
			return batchcore.NewBatchError(batchcore.ErrCodeGeneral, "serialize job context err", err)
		}
		if _, err = r.exec(ctx, tx, "INSERT INTO batch_job_execution_context(job_execution_id, serialized_context) VALUES (?, ?)", id, jobCtx); err != nil {
			return dbError(err, "insert job execution context failed, jobExecutionId:%v", id)
		}
		return nil
	})
	if be != nil {
		return nil, be
	}
	return execution, nil
}

func (r *Repository) insertJobParams(ctx context.Context, ex sqlExecutor, jobExecutionId int64, params batchcore.JobParameters) batchcore.BatchError {
	for _, name := range params.Keys() {
		p, _ := params.Get(name)
		identifying := "N"
		if p.Identifying {
			identifying = "Y"
		}
		_, err := r.exec(ctx, ex, "INSERT INTO batch_job_execution_params(job_execution_id, param_name, param_type, param_value, identifying) VALUES (?, ?, ?, ?, ?)",
			jobExecutionId, name, string(p.Type), p.String(), identifying)
		if err != nil {
			return dbError(err, "insert job parameter failed, jobExecutionId:%v, name:%v", jobExecutionId, name)
		}
	}
	return nil
}

func (r *Repository) loadJobParams(ctx context.Context, ex sqlExecutor, jobExecutionId int64) (batchcore.JobParameters, batchcore.BatchError) {
	params := batchcore.NewJobParameters()
	rows, err := r.query(ctx, ex, "SELECT param_name, param_type, param_value, identifying FROM batch_job_execution_params WHERE job_execution_id = ?", jobExecutionId)
	if err != nil {
		return params, dbError(err, "query job parameters failed, jobExecutionId:%v", jobExecutionId)
	}
	defer rows.Close()
	for rows.Next() {
		var name, tp, identifying string
		var value sql.NullString
		if err = rows.Scan(&name, &tp, &value, &identifying); err != nil {
			return params, dbError(err, "scan job parameter failed, jobExecutionId:%v", jobExecutionId)
		}
		p, err := batchcore.ParseJobParameter(batchcore.ParamType(tp), value.String, identifying == "Y")
		if err != nil {
			return params, batchcore.NewBatchError(batchcore.ErrCodeGeneral, "invalid job parameter:%v of job execution:%v", name, jobExecutionId, err)
		}
		params = params.With(name, p)
	}
	if err = rows.Err(); err != nil {
		return params, dbError(err, "query job parameters failed, jobExecutionId:%v", jobExecutionId)
	}
	return params, nil
}

func scanJobExecution(row rowScanner) (*batchcore.JobExecution, error) {
	execution := &batchcore.JobExecution{StepExecutions: make([]*batchcore.StepExecution, 0)}
	var startTime, endTime sql.NullTime
	var jobStatus string
	var exitCode, exitMessage sql.NullString
	err := row.Scan(&execution.JobExecutionId, &execution.JobInstanceId, &execution.JobName, &execution.CreateTime, &startTime, &endTime,
		&jobStatus, &exitCode, &exitMessage, &execution.LastUpdated, &execution.Version)
	if err != nil {
		return nil, err
	}
	execution.StartTime = startTime.Time
	execution.EndTime = endTime.Time
	execution.JobStatus = status.BatchStatus(jobStatus)
	execution.ExitCode = exitCode.String
	execution.ExitDescription = exitMessage.String
	return execution, nil
}

//loadJobExecution query one job execution with its parameters and context, step executions are not loaded
func (r *Repository) loadJobExecution(ctx context.Context, ex sqlExecutor, where string, args ...interface{}) (*batchcore.JobExecution, batchcore.BatchError) {
	rows, err := r.query(ctx, ex, "SELECT "+jobExecutionColumns+" FROM batch_job_execution WHERE "+where, args...)
	if err != nil {
		return nil, dbError(err, "query job execution failed")
	}
	var execution *batchcore.JobExecution
	if rows.Next() {
		execution, err = scanJobExecution(rows)
	}
	if err == nil {
		err = rows.Err()
	}
	rows.Close()
	if err != nil {
		return nil, dbError(err, "scan job execution failed")
	}
	if execution == nil {
		return nil, nil
	}
	var be batchcore.BatchError
	if execution.JobParams, be = r.loadJobParams(ctx, ex, execution.JobExecutionId); be != nil {
		return nil, be
	}
	var serialized sql.NullString
	err = ex.QueryRowContext(ctx, r.dialect.rebind("SELECT serialized_context FROM batch_job_execution_context WHERE job_execution_id = ?"), execution.JobExecutionId).Scan(&serialized)
	if err != nil && err != sql.ErrNoRows {
		return nil, dbError(err, "query job execution context failed, jobExecutionId:%v", execution.JobExecutionId)
	}
	if execution.JobContext, err = unmarshalContext(serialized); err != nil {
		return nil, batchcore.NewBatchError(batchcore.ErrCodeGeneral, "deserialize job context of execution:%v err", execution.JobExecutionId, err)
	}
	return execution, nil
}

func (r *Repository) lastJobExecution(ctx context.Context, ex sqlExecutor, jobInstanceId int64) (*batchcore.JobExecution, batchcore.BatchError) {
	return r.loadJobExecution(ctx, ex, "job_instance_id = ? ORDER BY job_execution_id DESC LIMIT 1", jobInstanceId)
}

//UpdateJobExecution the job context is only written when it changed since it was loaded or last saved
func (r *Repository) UpdateJobExecution(ctx context.Context, execution *batchcore.JobExecution) batchcore.BatchError {
	dirty := execution.JobContext != nil && execution.JobContext.IsDirty()
	var jobCtx string
	if dirty {
		var err error
		if jobCtx, err = marshalContext(execution.JobContext); err != nil {
			return batchcore.NewBatchError(batchcore.ErrCodeGeneral, "serialize job context err", err)
		}
	}
	now := time.Now()
	be := r.inTx(ctx, func(tx *sql.Tx) batchcore.BatchError {
		res, err := r.exec(ctx, tx, "UPDATE batch_job_execution SET start_time = ?, end_time = ?, status = ?, exit_code = ?, exit_message = ?, last_updated = ?, version = version + 1 WHERE job_execution_id = ? AND version = ?",
			nullTime(execution.StartTime), nullTime(execution.EndTime), string(execution.JobStatus), nullString(execution.ExitCode), nullString(execution.ExitDescription),
			now, execution.JobExecutionId, execution.Version)
		if err != nil {
			return dbError(err, "update job execution failed, jobExecutionId:%v", execution.JobExecutionId)
		}
		if be := r.checkUpdated(ctx, tx, res, "batch_job_execution", "job_execution_id", execution.JobExecutionId, execution.Version); be != nil {
			return be
		}
		if !dirty {
			return nil
		}
		if _, err = r.exec(ctx, tx, "UPDATE batch_job_execution_context SET serialized_context = ? WHERE job_execution_id = ?", jobCtx, execution.JobExecutionId); err != nil {
			return dbError(err, "update job execution context failed, jobExecutionId:%v", execution.JobExecutionId)
		}
		return nil
	})
	if be != nil {
		return be
	}
	if dirty {
		execution.JobContext.ClearDirty()
	}
	execution.Version++
	execution.LastUpdated = now
	return nil
}

//checkUpdated tell a lost optimistic lock from a missing row when an update matched nothing
func (r *Repository) checkUpdated(ctx context.Context, ex sqlExecutor, res sql.Result, table, idColumn string, id, version int64) batchcore.BatchError {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "read affected rows failed, %v:%v", idColumn, id)
	}
	if n > 0 {
		return nil
	}
	var stored int64
	err = ex.QueryRowContext(ctx, r.dialect.rebind("SELECT version FROM "+table+" WHERE "+idColumn+" = ?"), id).Scan(&stored)
	if err == sql.ErrNoRows {
		return batchcore.NewBatchError(batchcore.ErrCodeGeneral, "%v not found, %v:%v", table, idColumn, id)
	}
	if err != nil {
		return dbError(err, "query version of %v failed, %v:%v", table, idColumn, id)
	}
	return batchcore.NewBatchError(batchcore.ErrCodeConcurrency, "%v has been modified concurrently, %v:%v, version:%v, stored version:%v", table, idColumn, id, version, stored)
}

func (r *Repository) GetJobInstance(ctx context.Context, jobInstanceId int64) (*batchcore.JobInstance, batchcore.BatchError) {
	return r.findJobInstance(ctx, r.db, "job_instance_id = ?", jobInstanceId)
}

//GetJobInstances instances of jobName, newest first
func (r *Repository) GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*batchcore.JobInstance, batchcore.BatchError) {
	rows, err := r.query(ctx, r.db, "SELECT "+jobInstanceColumns+" FROM batch_job_instance WHERE job_name = ? ORDER BY job_instance_id DESC LIMIT ? OFFSET ?", jobName, count, start)
	if err != nil {
		return nil, dbError(err, "query job instances failed, jobName:%v", jobName)
	}
	defer rows.Close()
	result := make([]*batchcore.JobInstance, 0)
	for rows.Next() {
		instance, err := scanJobInstance(rows)
		if err != nil {
			return nil, dbError(err, "scan job instance failed, jobName:%v", jobName)
		}
		result = append(result, instance)
	}
	if err = rows.Err(); err != nil {
		return nil, dbError(err, "query job instances failed, jobName:%v", jobName)
	}
	return result, nil
}

func (r *Repository) GetLastJobExecution(ctx context.Context, instance *batchcore.JobInstance) (*batchcore.JobExecution, batchcore.BatchError) {
	execution, be := r.lastJobExecution(ctx, r.db, instance.JobInstanceId)
	if be != nil || execution == nil {
		return nil, be
	}
	if be = r.attachStepExecutions(ctx, execution); be != nil {
		return nil, be
	}
	return execution, nil
}

//GetJobExecution the job execution with its step executions, nil if absent
func (r *Repository) GetJobExecution(ctx context.Context, jobExecutionId int64) (*batchcore.JobExecution, batchcore.BatchError) {
	execution, be := r.loadJobExecution(ctx, r.db, "job_execution_id = ?", jobExecutionId)
	if be != nil || execution == nil {
		return nil, be
	}
	if be = r.attachStepExecutions(ctx, execution); be != nil {
		return nil, be
	}
	return execution, nil
}

func (r *Repository) attachStepExecutions(ctx context.Context, execution *batchcore.JobExecution) batchcore.BatchError {
	stepExecutions, be := r.GetStepExecutions(ctx, execution.JobExecutionId)
	if be != nil {
		return be
	}
	for _, se := range stepExecutions {
		se.JobExecution = execution
		execution.AddStepExecution(se)
	}
	return nil
}

func (r *Repository) CreateStepExecution(ctx context.Context, execution *batchcore.StepExecution) batchcore.BatchError {
	stepCtx, err := marshalContext(execution.StepExecutionContext)
	if err != nil {
		return batchcore.NewBatchError(batchcore.ErrCodeGeneral, "serialize step context err", err)
	}
	now := time.Now()
	if execution.CreateTime.IsZero() {
		execution.CreateTime = now
	}
	return r.inTx(ctx, func(tx *sql.Tx) batchcore.BatchError {
		id, err := r.insert(ctx, tx, "step_execution_id", "INSERT INTO batch_step_execution(job_execution_id, step_name, create_time, start_time, end_time, status, "+
			"read_count, write_count, commit_count, filter_count, read_skip_count, process_skip_count, write_skip_count, rollback_count, "+
			"exit_code, exit_message, last_updated, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			execution.JobExecutionId, execution.StepName, execution.CreateTime, nullTime(execution.StartTime), nullTime(execution.EndTime), string(execution.StepStatus),
			execution.ReadCount, execution.WriteCount, execution.CommitCount, execution.FilterCount,
			execution.ReadSkipCount, execution.ProcessSkipCount, execution.WriteSkipCount, execution.RollbackCount,
			nullString(execution.ExitCode), nullString(execution.ExitDescription), now, 1)
		if err != nil {
			return dbError(err, "insert step execution failed, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, execution.StepName)
		}
		if _, err = r.exec(ctx, tx, "INSERT INTO batch_step_execution_context(step_execution_id, serialized_context) VALUES (?, ?)", id, stepCtx); err != nil {
			return dbError(err, "insert step execution context failed, stepExecutionId:%v", id)
		}
		execution.StepExecutionId = id
		execution.Version = 1
		execution.LastUpdated = now
		return nil
	})
}

//updateStepExecution write counters, status and context of execution guarded by its version
func (r *Repository) updateStepExecution(ctx context.Context, ex sqlExecutor, execution *batchcore.StepExecution, now time.Time) batchcore.BatchError {
	stepCtx, err := marshalContext(execution.StepExecutionContext)
	if err != nil {
		return batchcore.NewBatchError(batchcore.ErrCodeGeneral, "serialize step context err", err)
	}
	res, err := r.exec(ctx, ex, "UPDATE batch_step_execution SET start_time = ?, end_time = ?, status = ?, "+
		"read_count = ?, write_count = ?, commit_count = ?, filter_count = ?, read_skip_count = ?, process_skip_count = ?, write_skip_count = ?, rollback_count = ?, "+
		"exit_code = ?, exit_message = ?, last_updated = ?, version = version + 1 WHERE step_execution_id = ? AND version = ?",
		nullTime(execution.StartTime), nullTime(execution.EndTime), string(execution.StepStatus),
		execution.ReadCount, execution.WriteCount, execution.CommitCount, execution.FilterCount,
		execution.ReadSkipCount, execution.ProcessSkipCount, execution.WriteSkipCount, execution.RollbackCount,
		nullString(execution.ExitCode), nullString(execution.ExitDescription), now, execution.StepExecutionId, execution.Version)
	if err != nil {
		return dbError(err, "update step execution failed, stepExecutionId:%v", execution.StepExecutionId)
	}
	if be := r.checkUpdated(ctx, ex, res, "batch_step_execution", "step_execution_id", execution.StepExecutionId, execution.Version); be != nil {
		return be
	}
	if _, err = r.exec(ctx, ex, "UPDATE batch_step_execution_context SET serialized_context = ? WHERE step_execution_id = ?", stepCtx, execution.StepExecutionId); err != nil {
		return dbError(err, "update step execution context failed, stepExecutionId:%v", execution.StepExecutionId)
	}
	return nil
}

func (r *Repository) UpdateStepExecution(ctx context.Context, execution *batchcore.StepExecution) batchcore.BatchError {
	now := time.Now()
	be := r.inTx(ctx, func(tx *sql.Tx) batchcore.BatchError {
		return r.updateStepExecution(ctx, tx, execution, now)
	})
	if be != nil {
		return be
	}
	execution.Version++
	execution.LastUpdated = now
	return nil
}

//CheckpointStepExecution writes the checkpoint through tx when it is an open transaction on the
//database of the repository, so it commits or rolls back together with the items of the chunk.
//Transactions of other databases are not enlisted.
func (r *Repository) CheckpointStepExecution(ctx context.Context, tx interface{}, execution *batchcore.StepExecution) (bool, batchcore.BatchError) {
	if owner, ok := batchcore.TxDB(tx); !ok || owner != r.db {
		return false, nil
	}
	sqlTx := tx.(*sql.Tx)
	now := time.Now()
	if be := r.updateStepExecution(ctx, sqlTx, execution, now); be != nil {
		return true, be
	}
	execution.Version++
	execution.LastUpdated = now
	return true, nil
}

func scanStepExecution(row rowScanner) (*batchcore.StepExecution, error) {
	execution := &batchcore.StepExecution{}
	var startTime, endTime sql.NullTime
	var stepStatus string
	var exitCode, exitMessage sql.NullString
	err := row.Scan(&execution.StepExecutionId, &execution.JobExecutionId, &execution.StepName, &execution.CreateTime, &startTime, &endTime, &stepStatus,
		&execution.ReadCount, &execution.WriteCount, &execution.CommitCount, &execution.FilterCount,
		&execution.ReadSkipCount, &execution.ProcessSkipCount, &execution.WriteSkipCount, &execution.RollbackCount,
		&exitCode, &exitMessage, &execution.LastUpdated, &execution.Version)
	if err != nil {
		return nil, err
	}
	execution.StartTime = startTime.Time
	execution.EndTime = endTime.Time
	execution.StepStatus = status.BatchStatus(stepStatus)
	execution.ExitCode = exitCode.String
	execution.ExitDescription = exitMessage.String
	return execution, nil
}

func (r *Repository) loadStepExecutions(ctx context.Context, where string, args ...interface{}) ([]*batchcore.StepExecution, batchcore.BatchError) {
	rows, err := r.query(ctx, r.db, "SELECT "+stepExecutionColumns+" FROM batch_step_execution WHERE "+where, args...)
	if err != nil {
		return nil, dbError(err, "query step executions failed")
	}
	result := make([]*batchcore.StepExecution, 0)
	for rows.Next() {
		execution, err := scanStepExecution(rows)
		if err != nil {
			rows.Close()
			return nil, dbError(err, "scan step execution failed")
		}
		result = append(result, execution)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, dbError(err, "query step executions failed")
	}
	for _, execution := range result {
		var serialized sql.NullString
		err = r.db.QueryRowContext(ctx, r.dialect.rebind("SELECT serialized_context FROM batch_step_execution_context WHERE step_execution_id = ?"), execution.StepExecutionId).Scan(&serialized)
		if err != nil && err != sql.ErrNoRows {
			return nil, dbError(err, "query step execution context failed, stepExecutionId:%v", execution.StepExecutionId)
		}
		if execution.StepExecutionContext, err = unmarshalContext(serialized); err != nil {
			return nil, batchcore.NewBatchError(batchcore.ErrCodeGeneral, "deserialize step context of execution:%v err", execution.StepExecutionId, err)
		}
	}
	return result, nil
}

//GetLastStepExecution the latest execution of stepName across all executions of the job instance
func (r *Repository) GetLastStepExecution(ctx context.Context, jobInstanceId int64, stepName string) (*batchcore.StepExecution, batchcore.BatchError) {
	result, be := r.loadStepExecutions(ctx, "step_name = ? AND job_execution_id IN (SELECT job_execution_id FROM batch_job_execution WHERE job_instance_id = ?) ORDER BY step_execution_id DESC LIMIT 1",
		stepName, jobInstanceId)
	if be != nil || len(result) == 0 {
		return nil, be
	}
	return result[0], nil
}

func (r *Repository) GetStepExecutions(ctx context.Context, jobExecutionId int64) ([]*batchcore.StepExecution, batchcore.BatchError) {
	return r.loadStepExecutions(ctx, "job_execution_id = ? ORDER BY step_execution_id", jobExecutionId)
}
