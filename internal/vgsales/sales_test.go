package vgsales

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/file"
	"github.com/chararch/batchcore/sqlrepo"
	"github.com/chararch/batchcore/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "Rank,Name,Platform,Year,Genre,Publisher,NA_Sales,EU_Sales,JP_Sales,Other_Sales,Global_Sales\n"

func setup(t *testing.T, csvContent string) (*sqlrepo.Repository, *batchcore.JobLauncher, string) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "batch.db")
	require.NoError(t, sqlrepo.Migrate(sqlrepo.SQLite, dsn))
	db, err := sqlrepo.Open(sqlrepo.SQLite, dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, CreateTable(context.Background(), db))
	repo, err := sqlrepo.New(db, sqlrepo.SQLite)
	require.NoError(t, err)

	csvFile := filepath.Join(dir, "vgsales.csv")
	require.NoError(t, os.WriteFile(csvFile, []byte(csvContent), 0644))
	job := NewJob(Options{
		DBType:         sqlrepo.SQLite,
		Input:          file.FileDescriptor{FileStore: &file.LocalFileSystem{}, FileName: csvFile},
		CommitInterval: 2,
		SkipLimit:      1,
		Listeners:      []interface{}{batchcore.NewLoggingListener()},
	})
	launcher := batchcore.NewJobLauncher(repo, batchcore.NewJobRegistry(job))
	t.Cleanup(launcher.Close)
	return repo, launcher, csvFile
}

func countSales(t *testing.T, db *sql.DB) int {
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM vgsales").Scan(&n))
	return n
}

func dateParams() batchcore.JobParameters {
	return batchcore.NewJobParametersBuilder().Date(DateParamName, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)).Build()
}

func TestMapper(t *testing.T) {
	mapper := Mapper()
	item, err := mapper(file.FieldSet{Record: 1, Names: Fields, Values: []string{"1", "Wii Sports", "Wii", "2006", "Sports", "Nintendo", "41.49", "29.02", "3.77", "8.46", "82.74"}})
	require.NoError(t, err)
	assert.Equal(t, &Sale{Rank: 1, Name: "Wii Sports", Platform: "Wii", Year: 2006, Genre: "Sports", Publisher: "Nintendo",
		NASales: 41.49, EUSales: 29.02, JPSales: 3.77, OtherSales: 8.46, GlobalSales: 82.74}, item)

	_, err = mapper(file.FieldSet{Record: 2, Names: Fields, Values: []string{"2", "Madden", "PS2", "N/A", "Sports", "EA", "1", "1", "1", "1", "4"}})
	assert.Error(t, err)
	_, err = mapper(file.FieldSet{Record: 3, Names: Fields, Values: []string{"3", " ", "PS2", "2001", "Sports", "EA", "1", "1", "1", "1", "4"}})
	assert.Error(t, err)
}

func TestJob_ImportSkipsBadRecord(t *testing.T) {
	repo, launcher, _ := setup(t, header+
		"1,Wii Sports,Wii,2006,Sports,Nintendo,41.49,29.02,3.77,8.46,82.74\n"+
		"2,Super Mario Bros.,NES,1985,Platform,Nintendo,29.08,3.58,6.81,0.77,40.24\n"+
		"3,Madden NFL 2004,PS2,N/A,Sports,Electronic Arts,4.26,0.26,0.01,0.71,5.23\n"+
		"4,Mario Kart Wii,Wii,2008,Racing,Nintendo,15.85,12.88,3.79,3.31,35.82\n"+
		"5,\"Pokemon Red/Pokemon Blue\",GB,1996,Role-Playing,Nintendo,11.27,8.89,10.22,1,31.37\n")

	execution, err := launcher.Run(context.Background(), JobName, dateParams())
	require.NoError(t, err)
	assert.Equal(t, status.COMPLETED, execution.JobStatus)
	assert.Equal(t, 4, countSales(t, repo.DB()))

	se := execution.GetStepExecution(ImportStep)
	require.NotNil(t, se)
	assert.Equal(t, int64(4), se.ReadCount)
	assert.Equal(t, int64(1), se.ReadSkipCount)
	assert.Equal(t, int64(4), se.WriteCount)
	assert.Equal(t, int64(2), se.CommitCount)

	_, err = launcher.Run(context.Background(), JobName, dateParams())
	assert.True(t, batchcore.IsRestartExhausted(err))
}

func TestJob_RestartAfterWriteFailure(t *testing.T) {
	rows := "1,Wii Sports,Wii,2006,Sports,Nintendo,41.49,29.02,3.77,8.46,82.74\n" +
		"2,Super Mario Bros.,NES,1985,Platform,Nintendo,29.08,3.58,6.81,0.77,40.24\n" +
		"3,Mario Kart Wii,Wii,2008,Racing,Nintendo,15.85,12.88,3.79,3.31,35.82\n"
	repo, launcher, csvFile := setup(t, header+rows+
		"3,Wii Sports Resort,Wii,2009,Sports,Nintendo,15.75,11.01,3.28,2.96,33\n"+
		"5,Tetris,GB,1989,Puzzle,Nintendo,23.2,2.26,4.22,0.58,30.26\n")

	execution, err := launcher.Run(context.Background(), JobName, dateParams())
	require.NoError(t, err)
	assert.Equal(t, status.FAILED, execution.JobStatus)
	//the failed chunk was rolled back, the first one stays committed
	assert.Equal(t, 2, countSales(t, repo.DB()))
	se := execution.GetStepExecution(ImportStep)
	assert.Equal(t, int64(1), se.CommitCount)
	assert.Equal(t, int64(2), se.WriteCount)

	require.NoError(t, os.WriteFile(csvFile, []byte(header+rows+
		"4,Wii Sports Resort,Wii,2009,Sports,Nintendo,15.75,11.01,3.28,2.96,33\n"+
		"5,Tetris,GB,1989,Puzzle,Nintendo,23.2,2.26,4.22,0.58,30.26\n"), 0644))

	restarted, err := launcher.Restart(context.Background(), execution.JobExecutionId)
	require.NoError(t, err)
	assert.Equal(t, status.COMPLETED, restarted.JobStatus)
	assert.Equal(t, execution.JobInstanceId, restarted.JobInstanceId)
	assert.Equal(t, 5, countSales(t, repo.DB()))

	//step1 completed in the first execution and is not run again
	assert.Nil(t, restarted.GetStepExecution(ParamsStep))
	se = restarted.GetStepExecution(ImportStep)
	require.NotNil(t, se)
	assert.Equal(t, int64(3), se.WriteCount)
	assert.Equal(t, int64(2), se.CommitCount)
}
