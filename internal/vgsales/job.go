package vgsales

import (
	"context"
	"os"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/file"
	"github.com/chararch/batchcore/internal/logs"
)

const (
	JobName       = "vgsalesJob"
	ParamsStep    = "step1"
	ImportStep    = "csvToDb"
	DateParamName = "date"
)

//Options settings of the sales import job
type Options struct {
	//DBType type of the database holding the vgsales table
	DBType string
	//Input the csv file, FileName may contain {param,format} placeholders
	Input          file.FileDescriptor
	CommitInterval uint
	SkipLimit      int64
	RetryPolicy    *batchcore.RetryPolicy
	//Listeners job, step, chunk, skip or retry listeners added to the job
	Listeners []interface{}
	Logger    logs.Logger
}

//NewJob the two step import job: step1 logs the launch parameters, csvToDb loads the csv file into the vgsales table
func NewJob(opts Options) batchcore.Job {
	input := opts.Input
	input.Header = true
	if len(input.Fields) == 0 {
		input.Fields = Fields
	}
	logger := opts.Logger
	if logger == nil {
		logger = logs.NewLogger(os.Stdout, logs.Info)
	}
	commitInterval := opts.CommitInterval
	if commitInterval == 0 {
		commitInterval = batchcore.DefaultCommitInterval
	}
	paramsStep := batchcore.NewStep(ParamsStep).
		Task(func(execution *batchcore.StepExecution) batchcore.BatchError {
			params := execution.JobExecution.JobParams
			if date, ok := params.GetDate(DateParamName); ok {
				logger.Info(context.Background(), "import sales of date:%v", date.Format(batchcore.DateLayout))
			}
			logger.Info(context.Background(), "job parameters:%v", params)
			return nil
		}).
		Build()
	importStep := batchcore.NewStep(ImportStep).
		ReadFile(input, Mapper()).
		Writer(NewWriter(opts.DBType)).
		CommitInterval(commitInterval).
		SkipLimit(opts.SkipLimit).
		RetryPolicy(opts.RetryPolicy).
		Build()
	builder := batchcore.NewJob(JobName, paramsStep, importStep)
	if len(opts.Listeners) > 0 {
		builder.Listener(opts.Listeners...)
	}
	return builder.Build()
}
