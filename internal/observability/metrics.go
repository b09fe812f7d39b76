package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// Metrics is the service's Prometheus registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *GaugeVec
	webhook      *CounterVec
	jobRuns      *CounterVec
	jobLatency   *HistogramVec
	queueDepth   *GaugeVec
	suggestCalls *CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("myshop_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"myshop_api_request_duration_seconds",
			"API request latency in seconds by method/route.",
			[]string{"method", "route"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		apiInflight: NewGaugeVec("myshop_api_inflight_requests", "In-flight API requests.", nil),
		webhook:     NewCounterVec("myshop_payment_webhook_total", "Payment webhook deliveries by outcome.", []string{"outcome"}),
		jobRuns:     NewCounterVec("myshop_job_runs_total", "Job runs by type and final status.", []string{"job_type", "status"}),
		jobLatency: NewHistogramVec(
			"myshop_job_run_duration_seconds",
			"Job run latency in seconds by type.",
			[]string{"job_type"},
			nil,
		),
		queueDepth:   NewGaugeVec("myshop_job_queue_depth", "job_run rows by status.", []string{"status"}),
		suggestCalls: NewCounterVec("myshop_recommendation_requests_total", "Suggestion requests by basket shape.", []string{"basket"}),
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(1)
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(-1)
}

// IncWebhook counts one delivery; outcome is a reconcile outcome or a
// rejection reason.
func (m *Metrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhook.Inc(outcome)
}

func (m *Metrics) WebhookCount(outcome string) float64 {
	if m == nil {
		return 0
	}
	return m.webhook.Value(outcome)
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.Inc(jobType, status)
	m.jobLatency.Observe(dur.Seconds(), jobType)
}

func (m *Metrics) JobCount(jobType, status string) float64 {
	if m == nil {
		return 0
	}
	return m.jobRuns.Value(jobType, status)
}

func (m *Metrics) IncSuggest(basketSize int) {
	if m == nil {
		return
	}
	shape := "multi"
	if basketSize <= 1 {
		shape = "single"
	}
	m.suggestCalls.Inc(shape)
}

// StartJobQueueCollector refreshes queue depth per status until ctx is done.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.CollectJobQueue(ctx, db); err != nil && log != nil {
					log.Warn("metrics: job queue depth query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) CollectJobQueue(ctx context.Context, db *gorm.DB) error {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, s := range []string{types.JobStatusQueued, types.JobStatusRunning, types.JobStatusSucceeded, types.JobStatusFailed} {
		m.queueDepth.Set(0, s)
	}
	for _, row := range rows {
		status := strings.TrimSpace(row.Status)
		if status == "" {
			status = "unknown"
		}
		m.queueDepth.Set(float64(row.Count), status)
	}
	return nil
}

func (m *Metrics) QueueDepth(status string) float64 {
	if m == nil {
		return 0
	}
	return m.queueDepth.Value(status)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests,
		m.apiLatency,
		m.apiInflight,
		m.webhook,
		m.jobRuns,
		m.jobLatency,
		m.queueDepth,
		m.suggestCalls,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}
