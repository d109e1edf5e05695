package batchcore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

//FilePath an abstract file path, placeholders like {date,yyyyMMdd} or {step:part,#3} are
//replaced by job parameters or context values of the running execution
type FilePath struct {
	NamePattern string
}

var paramRegexp = regexp.MustCompile(`\{[^}]+\}`)

func (f *FilePath) lookup(execution *StepExecution, category, param string) (interface{}, error) {
	var jobCtx *BatchContext
	var jobParams map[string]interface{}
	if execution.JobExecution != nil {
		jobCtx = execution.JobExecution.JobContext
		jobParams = execution.JobExecution.JobParams.ToMap()
	}
	stepCtx := execution.StepExecutionContext
	switch category {
	case "":
		if v, ok := jobParams[param]; ok {
			return v, nil
		}
		if stepCtx != nil && stepCtx.Exists(param) {
			return stepCtx.Get(param), nil
		}
		if jobCtx != nil && jobCtx.Exists(param) {
			return jobCtx.Get(param), nil
		}
		return nil, errors.Errorf("can not find param:%v", param)
	case "job":
		if jobCtx != nil && jobCtx.Exists(param) {
			return jobCtx.Get(param), nil
		}
		return nil, errors.Errorf("can not find param:%v in JobExecution", param)
	case "step":
		if stepCtx != nil && stepCtx.Exists(param) {
			return stepCtx.Get(param), nil
		}
		return nil, errors.Errorf("can not find param:%v in StepExecution", param)
	}
	return nil, errors.Errorf("unsupported param category: %v", category)
}

//Format generate a real file path by formatting FilePath according to *StepExecution instance
func (f *FilePath) Format(execution *StepExecution) (string, error) {
	var err error
	factPath := paramRegexp.ReplaceAllStringFunc(f.NamePattern, func(s string) string {
		if err != nil {
			return s
		}
		s = s[1 : len(s)-1]
		category, param, format := "", s, ""
		if idx := strings.Index(s, ":"); idx > 0 {
			category, param = s[0:idx], s[idx+1:]
		}
		if idx := strings.Index(param, ","); idx > 0 {
			param, format = param[0:idx], param[idx+1:]
		}
		var paramVal interface{}
		if paramVal, err = f.lookup(execution, category, param); err != nil {
			return s
		}
		var str string
		str, err = formatParam(paramVal, format)
		return str
	})
	if err != nil {
		return "", err
	}
	return factPath, nil
}

//dateLayout converts yyyyMMdd style patterns to go layouts
var dateLayout = strings.NewReplacer("yyyy", "2006", "MM", "01", "dd", "02", "HH", "15", "mm", "04", "SS", "05")

var dateFmtRegexp = regexp.MustCompile("yyyy|MM|dd|HH|mm|SS")

//formatParam render a placeholder value, format is empty, a date pattern or a zero padded width like #4
func formatParam(val interface{}, format string) (string, error) {
	switch {
	case val == nil:
		return "", nil
	case format == "":
		if t, ok := val.(time.Time); ok {
			return t.Format(DateLayout), nil
		}
		return fmt.Sprint(val), nil
	case dateFmtRegexp.MatchString(format):
		dt, err := toDate(val)
		if err != nil {
			return "", err
		}
		return dt.Format(dateLayout.Replace(format)), nil
	case strings.Contains(format, "#"):
		width, err := strconv.Atoi(strings.Trim(format, "#"))
		if err != nil {
			return "", errors.Errorf("unsupported format:%v", format)
		}
		n, err := toInt64(val)
		if err != nil {
			return "", errors.Errorf("can not format %v as integer", val)
		}
		return fmt.Sprintf("%0*d", width, n), nil
	}
	return "", errors.Errorf("unsupported format:%v", format)
}

var dateInputLayouts = map[int]string{
	len("20060102"):            "20060102",
	len(DateLayout):            DateLayout,
	len("2006-01-02 15:04:05"): "2006-01-02 15:04:05",
}

func toDate(val interface{}) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case string:
		if layout, ok := dateInputLayouts[len(v)]; ok {
			return time.ParseInLocation(layout, v, time.Local)
		}
	}
	return time.Time{}, errors.Errorf("can not format %v as date", val)
}
