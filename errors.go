package batchcore

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

//BatchError error type of batchcore, carries an error code and an optional cause
type BatchError interface {
	Code() string
	Message() string
	Error() string
	Cause() error
	StackTrace() string
}

type batchErr struct {
	code  string
	msg   string
	cause error
	stack error
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.msg
}

func (err *batchErr) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("batch err, code:%v, message:%v, cause:%v", err.code, err.msg, err.cause)
	}
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.msg)
}

func (err *batchErr) Cause() error {
	return err.cause
}

func (err *batchErr) Unwrap() error {
	return err.cause
}

//Is two batch errors match when their codes are equal
func (err *batchErr) Is(target error) bool {
	t, ok := target.(*batchErr)
	return ok && t.code == err.code
}

func (err *batchErr) StackTrace() string {
	return fmt.Sprintf("%+v", err.stack)
}

func (err *batchErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s\n%s", err.Error(), err.StackTrace())
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

//NewBatchError create a BatchError. msg is a format string, when the last argument is an error it becomes the cause.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			cause = e
			if countVerbs(msg) < len(args) {
				args = args[:len(args)-1]
			}
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := &batchErr{code: code, msg: msg, cause: cause}
	if cause != nil {
		err.stack = errors.WithStack(cause)
	} else {
		err.stack = errors.New(msg)
	}
	return err
}

func countVerbs(format string) int {
	return strings.Count(format, "%") - 2*strings.Count(format, "%%")
}

//ToBatchError convert any error to BatchError, errors that already are BatchError are returned as is
func ToBatchError(code string, err error) BatchError {
	if err == nil {
		return nil
	}
	var be BatchError
	if errors.As(err, &be) {
		return be
	}
	return NewBatchError(code, err.Error(), err)
}

const (
	ErrCodeStop             = "stop"
	ErrCodeConcurrency      = "concurrency"
	ErrCodeDbFail           = "db_fail"
	ErrCodeGeneral          = "general"
	ErrCodeAlreadyRunning   = "already_running"
	ErrCodeInstanceComplete = "instance_complete"
	ErrCodeNoSuchJob        = "no_such_job"
	ErrCodeTransient        = "transient"
	ErrCodeSkippable        = "skippable"
	ErrCodeFatal            = "fatal"
)

var (
	StopError       BatchError = &batchErr{code: ErrCodeStop, msg: "job stopping", stack: errors.New("job stopping")}
	ConcurrentError BatchError = &batchErr{code: ErrCodeConcurrency, msg: "concurrency error", stack: errors.New("concurrency error")}
	DbError         BatchError = &batchErr{code: ErrCodeDbFail, msg: "db fail", stack: errors.New("db fail")}
)

//NewTransientError an error that may succeed when the operation is retried
func NewTransientError(msg string, args ...interface{}) BatchError {
	return NewBatchError(ErrCodeTransient, msg, args...)
}

//NewSkippableError an error caused by a single bad item
func NewSkippableError(msg string, args ...interface{}) BatchError {
	return NewBatchError(ErrCodeSkippable, msg, args...)
}

//NewFatalError an error that fails the step immediately
func NewFatalError(msg string, args ...interface{}) BatchError {
	return NewBatchError(ErrCodeFatal, msg, args...)
}

//ErrorCode the code of the outermost BatchError in err's chain, empty if there is none
func ErrorCode(err error) string {
	var be BatchError
	if errors.As(err, &be) {
		return be.Code()
	}
	return ""
}

func hasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

//IsIdentityConflict an execution of the same JobInstance is still running
func IsIdentityConflict(err error) bool {
	return hasCode(err, ErrCodeAlreadyRunning)
}

//IsRestartExhausted the JobInstance has already completed and can not be run again
func IsRestartExhausted(err error) bool {
	return hasCode(err, ErrCodeInstanceComplete)
}

func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient)
}

func IsSkippable(err error) bool {
	return hasCode(err, ErrCodeSkippable)
}

func IsFatal(err error) bool {
	return hasCode(err, ErrCodeFatal)
}

func IsStop(err error) bool {
	return hasCode(err, ErrCodeStop)
}
