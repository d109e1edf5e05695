package batchcore

import (
	"os"

	"github.com/chararch/batchcore/internal/logs"
)

//log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set a logger instance for the batch engine
func SetLogger(l logs.Logger) {
	if l == nil {
		panic("logger must not be nil")
	}
	logger = l
}

//task pool
const (
	//DefaultJobPoolSize default max number of jobs a JobLauncher runs in parallel
	DefaultJobPoolSize = 10
)
