package ports

import "context"

// MetricsCollector records quantitative observability signals. Metric names
// used by the scheduler:
//   - Counters:
//     assetq_jobs_submitted_total{platform}
//     assetq_jobs_finished_total{platform, status}
//     assetq_dependencies_resolved_total{type}
//   - Gauges:
//     assetq_jobs_pending{platform}
//     assetq_jobs_in_flight{platform}
//     assetq_jobs_pending_critical{platform}
//   - Histograms:
//     assetq_job_duration_seconds{platform, builder}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}

// Metric names shared by producers and the Prometheus adapter.
const (
	MetricJobsSubmitted        = "assetq_jobs_submitted_total"
	MetricJobsFinished         = "assetq_jobs_finished_total"
	MetricDependenciesResolved = "assetq_dependencies_resolved_total"
	MetricJobsPending          = "assetq_jobs_pending"
	MetricJobsInFlight         = "assetq_jobs_in_flight"
	MetricJobsPendingCritical  = "assetq_jobs_pending_critical"
	MetricJobDurationSeconds   = "assetq_job_duration_seconds"
)

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(context.Context, string, map[string]string)                {}
func (NoopMetrics) SetGauge(context.Context, string, float64, map[string]string)         {}
func (NoopMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}
