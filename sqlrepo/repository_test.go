package sqlrepo

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	dsn := filepath.Join(t.TempDir(), "batch.db")
	require.NoError(t, Migrate(SQLite, dsn))
	//migrating twice is a no-op
	require.NoError(t, Migrate(SQLite, dsn))
	db, err := Open(SQLite, dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	repo, err := New(db, SQLite)
	require.NoError(t, err)
	return repo
}

func TestRebind(t *testing.T) {
	query := "UPDATE t SET a = ? WHERE id = ? AND version = ?"
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2 AND version = $3", Rebind("postgresql", query))
	assert.Equal(t, query, Rebind(MySQL, query))
	assert.Equal(t, query, Rebind(SQLite, query))
}

func TestDriverName(t *testing.T) {
	name, ok := DriverName("SQLite")
	assert.True(t, ok)
	assert.Equal(t, SQLite, name)
	name, ok = DriverName("pg")
	assert.True(t, ok)
	assert.Equal(t, Postgres, name)
	_, ok = DriverName("oracle")
	assert.False(t, ok)

	_, err := New(nil, SQLite)
	assert.Error(t, err)
	_, err = Open("oracle", "")
	assert.Error(t, err)
}

func TestRepository_InstanceLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	params := batchcore.NewJobParametersBuilder().
		String("file", "vgsales.csv").
		Long("attempt", 1, false).
		Build()

	instance, err := repo.CreateOrGetInstance(ctx, "importSales", params)
	require.Nil(t, err)
	assert.NotZero(t, instance.JobInstanceId)
	assert.Equal(t, params.Hash(), instance.JobKey)

	//non identifying parameters do not change the instance
	again, err := repo.CreateOrGetInstance(ctx, "importSales", params.With("attempt", batchcore.JobParameter{Type: batchcore.ParamLong, Value: int64(2)}))
	require.Nil(t, err)
	assert.Equal(t, instance.JobInstanceId, again.JobInstanceId)
	assert.True(t, params.Identifying().Equal(again.JobParams))

	other, err := repo.CreateOrGetInstance(ctx, "importSales", batchcore.NewJobParametersBuilder().String("file", "other.csv").Build())
	require.Nil(t, err)
	assert.NotEqual(t, instance.JobInstanceId, other.JobInstanceId)

	execution, err := repo.CreateJobExecution(ctx, instance, params)
	require.Nil(t, err)
	assert.Equal(t, status.STARTING, execution.JobStatus)
	assert.Equal(t, int64(1), execution.Version)

	_, err = repo.CreateJobExecution(ctx, instance, params)
	require.NotNil(t, err)
	assert.True(t, batchcore.IsIdentityConflict(err))

	execution.JobStatus = status.COMPLETED
	execution.ExitCode = string(status.COMPLETED)
	execution.StartTime = time.Now()
	execution.EndTime = time.Now()
	require.Nil(t, repo.UpdateJobExecution(ctx, execution))

	_, err = repo.CreateOrGetInstance(ctx, "importSales", params)
	require.NotNil(t, err)
	assert.True(t, batchcore.IsRestartExhausted(err))
	_, err = repo.CreateJobExecution(ctx, instance, params)
	require.NotNil(t, err)
	assert.True(t, batchcore.IsRestartExhausted(err))

	instances, err := repo.GetJobInstances(ctx, "importSales", 0, 10)
	require.Nil(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, other.JobInstanceId, instances[0].JobInstanceId)
	instances, err = repo.GetJobInstances(ctx, "importSales", 1, 10)
	require.Nil(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, instance.JobInstanceId, instances[0].JobInstanceId)

	loaded, err := repo.GetJobInstance(ctx, instance.JobInstanceId)
	require.Nil(t, err)
	assert.Equal(t, "importSales", loaded.JobName)
	missing, err := repo.GetJobInstance(ctx, 9999)
	require.Nil(t, err)
	assert.Nil(t, missing)
}

func TestRepository_JobExecutionRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	params := batchcore.NewJobParametersBuilder().
		String("name", "sales").
		Long("limit", 250).
		Double("ratio", 0.5).
		Date("day", day).
		Bool("dryRun", false, false).
		Build()
	instance, err := repo.CreateOrGetInstance(ctx, "roundTrip", params)
	require.Nil(t, err)
	execution, err := repo.CreateJobExecution(ctx, instance, params)
	require.Nil(t, err)

	execution.JobStatus = status.STARTED
	execution.StartTime = time.Now()
	execution.JobContext.Put("rows", 42)
	require.Nil(t, repo.UpdateJobExecution(ctx, execution))
	assert.Equal(t, int64(2), execution.Version)
	assert.False(t, execution.JobContext.IsDirty())

	loaded, err := repo.GetJobExecution(ctx, execution.JobExecutionId)
	require.Nil(t, err)
	assert.Equal(t, status.STARTED, loaded.JobStatus)
	assert.Equal(t, int64(2), loaded.Version)
	assert.True(t, params.Equal(loaded.JobParams), "params: %v", loaded.JobParams)
	rows, e := loaded.JobContext.GetInt("rows")
	require.NoError(t, e)
	assert.Equal(t, 42, rows)
	assert.False(t, loaded.StartTime.IsZero())
	assert.True(t, loaded.EndTime.IsZero())

	//a stale copy loses the optimistic lock
	loaded.Version = 1
	err = repo.UpdateJobExecution(ctx, loaded)
	require.NotNil(t, err)
	assert.Equal(t, batchcore.ErrCodeConcurrency, err.Code())

	last, err := repo.GetLastJobExecution(ctx, instance)
	require.Nil(t, err)
	assert.Equal(t, execution.JobExecutionId, last.JobExecutionId)

	none, err := repo.GetJobExecution(ctx, 12345)
	require.Nil(t, err)
	assert.Nil(t, none)
}

func newStepExecution(jobExecution *batchcore.JobExecution, name string) *batchcore.StepExecution {
	return &batchcore.StepExecution{
		StepName:             name,
		StepStatus:           status.STARTING,
		StepExecutionContext: batchcore.NewBatchContext(),
		JobExecution:         jobExecution,
		JobExecutionId:       jobExecution.JobExecutionId,
		CreateTime:           time.Now(),
	}
}

func TestRepository_StepExecutionCheckpoint(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	params := batchcore.NewJobParametersBuilder().String("k", "v").Build()
	instance, err := repo.CreateOrGetInstance(ctx, "steps", params)
	require.Nil(t, err)
	jobExecution, err := repo.CreateJobExecution(ctx, instance, params)
	require.Nil(t, err)

	se := newStepExecution(jobExecution, "csvToDb")
	require.Nil(t, repo.CreateStepExecution(ctx, se))
	assert.NotZero(t, se.StepExecutionId)
	assert.Equal(t, int64(1), se.Version)

	se.StepStatus = status.STARTED
	se.StartTime = time.Now()
	require.Nil(t, repo.UpdateStepExecution(ctx, se))

	//a checkpoint joins the chunk transaction
	tm := repo.TransactionManager()
	tx, err := tm.BeginTx(ctx)
	require.Nil(t, err)
	pending := *se
	pending.StepExecutionContext = se.StepExecutionContext.DeepCopy()
	pending.ReadCount, pending.WriteCount, pending.CommitCount = 100, 100, 1
	pending.StepExecutionContext.Put(batchcore.ItemReaderCurrentIndex, 100)
	enlisted, err := repo.CheckpointStepExecution(ctx, tx, &pending)
	require.Nil(t, err)
	assert.True(t, enlisted)
	require.Nil(t, tm.Rollback(tx))

	last, err := repo.GetLastStepExecution(ctx, instance.JobInstanceId, "csvToDb")
	require.Nil(t, err)
	assert.Equal(t, int64(0), last.ReadCount)
	assert.False(t, last.StepExecutionContext.Exists(batchcore.ItemReaderCurrentIndex))

	tx, err = tm.BeginTx(ctx)
	require.Nil(t, err)
	pending = *se
	pending.StepExecutionContext = se.StepExecutionContext.DeepCopy()
	pending.ReadCount, pending.WriteCount, pending.CommitCount = 100, 100, 1
	pending.StepExecutionContext.Put(batchcore.ItemReaderCurrentIndex, 100)
	_, err = repo.CheckpointStepExecution(ctx, tx, &pending)
	require.Nil(t, err)
	require.Nil(t, tm.Commit(tx))

	last, err = repo.GetLastStepExecution(ctx, instance.JobInstanceId, "csvToDb")
	require.Nil(t, err)
	assert.Equal(t, int64(100), last.WriteCount)
	assert.Equal(t, pending.Version, last.Version)
	index, e := last.StepExecutionContext.GetInt64(batchcore.ItemReaderCurrentIndex)
	require.NoError(t, e)
	assert.Equal(t, int64(100), index)

	//transactions of other managers can not be joined
	enlisted, err = repo.CheckpointStepExecution(ctx, &batchcore.MemoryTx{}, &pending)
	require.Nil(t, err)
	assert.False(t, enlisted)

	//the step execution still carries the version before the checkpoint
	err = repo.UpdateStepExecution(ctx, se)
	require.NotNil(t, err)
	assert.Equal(t, batchcore.ErrCodeConcurrency, err.Code())

	loaded, err := repo.GetJobExecution(ctx, jobExecution.JobExecutionId)
	require.Nil(t, err)
	require.Len(t, loaded.StepExecutions, 1)
	assert.Equal(t, "csvToDb", loaded.StepExecutions[0].StepName)
	assert.Same(t, loaded, loaded.StepExecutions[0].JobExecution)

	missing, err := repo.GetLastStepExecution(ctx, instance.JobInstanceId, "nope")
	require.Nil(t, err)
	assert.Nil(t, missing)
}

type saleWriter struct {
	db *sql.DB
}

func (w *saleWriter) Write(items []interface{}, chunkCtx *batchcore.ChunkContext) batchcore.BatchError {
	tx := chunkCtx.Tx.(*sql.Tx)
	for _, item := range items {
		if _, err := tx.ExecContext(chunkCtx.Context(), "INSERT INTO sale(id) VALUES (?)", item); err != nil {
			return batchcore.NewBatchError(batchcore.ErrCodeDbFail, "insert sale err", err)
		}
	}
	return nil
}

func TestRepository_RunChunkJob(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	_, e := repo.DB().Exec("CREATE TABLE sale (id INTEGER PRIMARY KEY)")
	require.NoError(t, e)

	items := make([]interface{}, 0, 25)
	for i := 1; i <= 25; i++ {
		items = append(items, i)
	}
	step := batchcore.NewStep("load").
		Reader(batchcore.NewListReader(items...)).
		Writer(&saleWriter{db: repo.DB()}).
		CommitInterval(10).
		Build()
	job := batchcore.NewJob("loadSales", step).Build()
	launcher := batchcore.NewJobLauncher(repo, batchcore.NewJobRegistry(job))
	defer launcher.Close()

	execution, err := launcher.Run(ctx, "loadSales", batchcore.NewJobParametersBuilder().String("run", "1").Build())
	require.NoError(t, err)
	assert.Equal(t, status.COMPLETED, execution.JobStatus)

	var count int
	require.NoError(t, repo.DB().QueryRow("SELECT COUNT(*) FROM sale").Scan(&count))
	assert.Equal(t, 25, count)

	stored, be := repo.GetJobExecution(ctx, execution.JobExecutionId)
	require.Nil(t, be)
	assert.Equal(t, status.COMPLETED, stored.JobStatus)
	require.Len(t, stored.StepExecutions, 1)
	se := stored.StepExecutions[0]
	assert.Equal(t, status.COMPLETED, se.StepStatus)
	assert.Equal(t, int64(25), se.WriteCount)
	assert.Equal(t, int64(3), se.CommitCount)
}

func TestRepository_RunChunkJobOnOtherDatabase(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	target, err := Open(SQLite, filepath.Join(t.TempDir(), "target.db"))
	require.NoError(t, err)
	t.Cleanup(func() { target.Close() })
	_, err = target.Exec("CREATE TABLE sale (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	items := make([]interface{}, 0, 25)
	for i := 1; i <= 25; i++ {
		items = append(items, i)
	}
	step := batchcore.NewStep("load").
		Reader(batchcore.NewListReader(items...)).
		Writer(&saleWriter{db: target}).
		TransactionManager(batchcore.NewTransactionManager(target)).
		CommitInterval(10).
		Build()
	job := batchcore.NewJob("loadTarget", step).Build()
	launcher := batchcore.NewJobLauncher(repo, batchcore.NewJobRegistry(job))
	defer launcher.Close()

	execution, be := launcher.Run(ctx, "loadTarget", batchcore.NewJobParameters())
	require.NoError(t, be)
	assert.Equal(t, status.COMPLETED, execution.JobStatus)

	var count int
	require.NoError(t, target.QueryRow("SELECT COUNT(*) FROM sale").Scan(&count))
	assert.Equal(t, 25, count)

	//checkpoints are saved to the repository database after each commit of the target
	stored, ge := repo.GetJobExecution(ctx, execution.JobExecutionId)
	require.Nil(t, ge)
	require.Len(t, stored.StepExecutions, 1)
	se := stored.StepExecutions[0]
	assert.Equal(t, status.COMPLETED, se.StepStatus)
	assert.Equal(t, int64(25), se.WriteCount)
	assert.Equal(t, int64(3), se.CommitCount)
	assert.Equal(t, int64(0), se.RollbackCount)

	targetTm := batchcore.NewTransactionManager(target)
	tx, te := targetTm.BeginTx(ctx)
	require.Nil(t, te)
	enlisted, ce := repo.CheckpointStepExecution(ctx, tx, se)
	require.Nil(t, ce)
	assert.False(t, enlisted)
	require.Nil(t, targetTm.Rollback(tx))
}

func TestCreateJobExecution_AlreadyRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo, err := New(db, MySQL)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_job_instance SET version = version + 1 WHERE job_instance_id = ?")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + jobExecutionColumns + " FROM batch_job_execution WHERE job_instance_id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"job_execution_id", "job_instance_id", "job_name", "create_time", "start_time", "end_time",
			"status", "exit_code", "exit_message", "last_updated", "version"}).
			AddRow(int64(3), int64(7), "importSales", now, now, nil, "STARTED", nil, nil, now, int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT param_name, param_type, param_value, identifying FROM batch_job_execution_params")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"param_name", "param_type", "param_value", "identifying"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT serialized_context FROM batch_job_execution_context")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"serialized_context"}).AddRow("{}"))
	mock.ExpectRollback()

	instance := &batchcore.JobInstance{JobInstanceId: 7, JobName: "importSales"}
	_, be := repo.CreateJobExecution(context.Background(), instance, batchcore.NewJobParameters())
	require.NotNil(t, be)
	assert.True(t, batchcore.IsIdentityConflict(be))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobExecution_InstanceMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo, err := New(db, Postgres)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_job_instance SET version = version + 1 WHERE job_instance_id = $1")).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, be := repo.CreateJobExecution(context.Background(), &batchcore.JobInstance{JobInstanceId: 8}, batchcore.NewJobParameters())
	require.NotNil(t, be)
	assert.Equal(t, batchcore.ErrCodeGeneral, be.Code())
	assert.NoError(t, mock.ExpectationsWereMet())
}
