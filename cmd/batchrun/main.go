// Command batchrun launches, restarts and stops the sales import job.
//
//	batchrun -config batch.yaml [-new-instance] vgsalesJob date(date)=2024-01-31 [-name(type)=value ...]
//	batchrun -config batch.yaml -restart <jobExecutionId>
//	batchrun -config batch.yaml -stop <jobExecutionId>
//
// The exit code is 0 when the execution COMPLETED, 1 when it FAILED, 2 when it STOPPED and 3 when it could not be launched.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/config"
	"github.com/chararch/batchcore/file"
	"github.com/chararch/batchcore/internal/logs"
	"github.com/chararch/batchcore/internal/vgsales"
	"github.com/chararch/batchcore/metrics"
	"github.com/chararch/batchcore/sqlrepo"
	"github.com/chararch/batchcore/status"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	exitCompleted   = 0
	exitFailed      = 1
	exitStopped     = 2
	exitLaunchError = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath  string
	newInstance bool
	restartId   int64
	stopId      int64
	jobName     string
	params      []string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("batchrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path of the YAML config file")
	fs.BoolVar(&opts.newInstance, "new-instance", false, "run a new job instance by adding a unique run.id parameter")
	fs.Int64Var(&opts.restartId, "restart", 0, "restart the FAILED or STOPPED job execution with this id")
	fs.Int64Var(&opts.stopId, "stop", 0, "request the running job execution with this id to stop")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.restartId == 0 && opts.stopId == 0 {
		if fs.NArg() == 0 {
			return nil, errors.New("job name is required")
		}
		opts.jobName = fs.Arg(0)
		opts.params = fs.Args()[1:]
	}
	return opts, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) logs.Logger {
	level, _ := logs.ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "json") {
		return logs.NewJSONLogger(w, level)
	}
	return logs.NewLogger(w, level)
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Migrate {
		if err := sqlrepo.Migrate(cfg.Type, cfg.DSN); err != nil {
			return nil, err
		}
	}
	db, err := sqlrepo.Open(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func exitCode(execution *batchcore.JobExecution) int {
	switch execution.JobStatus {
	case status.COMPLETED:
		return exitCompleted
	case status.STOPPED:
		return exitStopped
	}
	return exitFailed
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "invalid arguments:", err)
		return exitLaunchError
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "load config:", err)
		return exitLaunchError
	}
	logger := newLogger(cfg.Log, stderr)
	batchcore.SetLogger(logger)
	if syncer, ok := logger.(interface{ Sync() error }); ok {
		defer syncer.Sync()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		logger.Error(ctx, "open database err, type:%v, err:%v", cfg.Database.Type, err)
		return exitLaunchError
	}
	defer db.Close()
	if err = vgsales.CreateTable(ctx, db); err != nil {
		logger.Error(ctx, "prepare output table err:%v", err)
		return exitLaunchError
	}
	repo, err := sqlrepo.New(db, cfg.Database.Type)
	if err != nil {
		logger.Error(ctx, "create job repository err:%v", err)
		return exitLaunchError
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	input := cfg.Batch.Input
	job := vgsales.NewJob(vgsales.Options{
		DBType: cfg.Database.Type,
		Input: file.FileDescriptor{
			FileStore: input.FileStorage(),
			FileName:  input.File,
			Checksum:  input.Checksum,
		},
		CommitInterval: cfg.Batch.CommitInterval,
		SkipLimit:      cfg.Batch.SkipLimit,
		RetryPolicy: &batchcore.RetryPolicy{
			MaxAttempts:     cfg.Batch.Retry.MaxAttempts,
			InitialInterval: cfg.Batch.Retry.InitialInterval,
			MaxInterval:     cfg.Batch.Retry.MaxInterval,
		},
		Listeners: []interface{}{batchcore.NewLoggingListener(), metrics.NewListener(reg)},
		Logger:    logger,
	})
	launcher := batchcore.NewJobLauncher(repo, batchcore.NewJobRegistry(job), batchcore.WithPoolSize(cfg.Batch.PoolSize))
	defer launcher.Close()

	if cfg.Metrics.Addr != "" {
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: newAdminRouter(reg, launcher.Repository()), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "admin server err:%v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			server.Shutdown(shutdownCtx)
		}()
	}

	var execution *batchcore.JobExecution
	switch {
	case opts.stopId > 0:
		if err = launcher.Stop(ctx, opts.stopId); err != nil {
			logger.Error(ctx, "stop job execution:%v err:%v", opts.stopId, err)
			return exitLaunchError
		}
		fmt.Fprintf(stdout, "stop requested for job execution %v\n", opts.stopId)
		return exitCompleted
	case opts.restartId > 0:
		execution, err = launcher.Restart(ctx, opts.restartId)
	default:
		params, e := batchcore.ParseJobParameters(opts.params)
		if e != nil {
			logger.Error(ctx, "invalid job parameters:%v", e)
			return exitLaunchError
		}
		if opts.newInstance {
			execution, err = launcher.StartNextInstance(ctx, opts.jobName, params)
		} else {
			execution, err = launcher.Run(ctx, opts.jobName, params)
		}
	}
	if execution == nil {
		logger.Error(ctx, "launch job err:%v", err)
		fmt.Fprintf(stdout, "job could not be launched: %v\n", err)
		return exitLaunchError
	}
	fmt.Fprintf(stdout, "job:%v jobExecutionId:%v status:%v exitDescription:%v\n", execution.JobName, execution.JobExecutionId, execution.JobStatus, execution.ExitDescription)
	return exitCode(execution)
}
