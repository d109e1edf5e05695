// Package metrics exports job and step progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/chararch/batchcore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//item kinds of batch_step_items_total
const (
	KindRead   = "read"
	KindWrite  = "write"
	KindFilter = "filter"
)

//skip phases of batch_step_skips_total
const (
	PhaseRead    = "read"
	PhaseProcess = "process"
	PhaseWrite   = "write"
)

// Listener records job executions, step counters, skips and retries.
// Register it on a job with jobBuilder.Listener, it serves as job, step, skip and retry listener.
type Listener struct {
	jobExecutions *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	stepItems     *prometheus.CounterVec
	stepCommits   *prometheus.CounterVec
	stepRollbacks *prometheus.CounterVec
	stepSkips     *prometheus.CounterVec
	stepRetries   *prometheus.CounterVec
}

// NewListener creates the collectors and registers them on reg.
func NewListener(reg prometheus.Registerer) *Listener {
	l := &Listener{
		jobExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_executions_total",
			Help: "Finished job executions by terminal status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"job", "status"}),
		stepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_items_total",
			Help: "Items read, written and filtered by step.",
		}, []string{"job", "step", "kind"}),
		stepCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_commits_total",
			Help: "Committed chunks by step.",
		}, []string{"job", "step"}),
		stepRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_rollbacks_total",
			Help: "Rolled back chunk transactions by step.",
		}, []string{"job", "step"}),
		stepSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_skips_total",
			Help: "Skipped items by step and phase.",
		}, []string{"job", "step", "phase"}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_retries_total",
			Help: "Retried operations by step.",
		}, []string{"job", "step"}),
	}
	reg.MustRegister(l.jobExecutions, l.jobDuration, l.stepItems, l.stepCommits, l.stepRollbacks, l.stepSkips, l.stepRetries)
	return l
}

func (l *Listener) BeforeJob(execution *batchcore.JobExecution) batchcore.BatchError {
	return nil
}

func (l *Listener) AfterJob(execution *batchcore.JobExecution) batchcore.BatchError {
	jobStatus := string(execution.JobStatus)
	l.jobExecutions.WithLabelValues(execution.JobName, jobStatus).Inc()
	if !execution.StartTime.IsZero() && !execution.EndTime.IsZero() {
		l.jobDuration.WithLabelValues(execution.JobName, jobStatus).Observe(execution.EndTime.Sub(execution.StartTime).Seconds())
	}
	return nil
}

func (l *Listener) BeforeStep(execution *batchcore.StepExecution) batchcore.BatchError {
	return nil
}

//AfterStep adds the counters of the finished step execution
func (l *Listener) AfterStep(execution *batchcore.StepExecution) batchcore.BatchError {
	job := jobName(execution)
	l.stepItems.WithLabelValues(job, execution.StepName, KindRead).Add(float64(execution.ReadCount))
	l.stepItems.WithLabelValues(job, execution.StepName, KindWrite).Add(float64(execution.WriteCount))
	l.stepItems.WithLabelValues(job, execution.StepName, KindFilter).Add(float64(execution.FilterCount))
	l.stepCommits.WithLabelValues(job, execution.StepName).Add(float64(execution.CommitCount))
	l.stepRollbacks.WithLabelValues(job, execution.StepName).Add(float64(execution.RollbackCount))
	return nil
}

func (l *Listener) OnSkipInRead(chunkCtx *batchcore.ChunkContext, err error) {
	l.skip(chunkCtx, PhaseRead)
}

func (l *Listener) OnSkipInProcess(chunkCtx *batchcore.ChunkContext, item interface{}, err error) {
	l.skip(chunkCtx, PhaseProcess)
}

func (l *Listener) OnSkipInWrite(chunkCtx *batchcore.ChunkContext, item interface{}, err error) {
	l.skip(chunkCtx, PhaseWrite)
}

func (l *Listener) skip(chunkCtx *batchcore.ChunkContext, phase string) {
	l.stepSkips.WithLabelValues(jobName(chunkCtx.StepExecution), chunkCtx.StepExecution.StepName, phase).Inc()
}

func (l *Listener) OnRetry(chunkCtx *batchcore.ChunkContext, err error, attempt int) {
	l.stepRetries.WithLabelValues(jobName(chunkCtx.StepExecution), chunkCtx.StepExecution.StepName).Inc()
}

func jobName(execution *batchcore.StepExecution) string {
	if execution.JobExecution == nil {
		return ""
	}
	return execution.JobExecution.JobName
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
