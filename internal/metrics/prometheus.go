// Package metrics 收集安装运行的 Prometheus 指标，可写成 node-exporter textfile 或通过 /metrics 暴露。
package metrics

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Namespace 默认指标前缀
const Namespace = "toolsetup"

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 运行指标
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	componentsTotal *prometheus.CounterVec
	lastRunFailed   prometheus.Gauge

	// 下载指标
	downloadBytesTotal *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec

	// Worker Pool 指标
	workerPoolSize      prometheus.Gauge
	workerPoolQueueSize prometheus.Gauge

	// 重试指标
	retryAttemptsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
// 每个收集器使用独立的 Registry，测试之间互不干扰。
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = Namespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of install and verify runs",
			},
			[]string{"mode", "result"}, // result: success/failure
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"mode"},
		),
		componentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_total",
				Help:      "Component outcomes by status",
			},
			[]string{"mode", "component", "status"},
		),
		lastRunFailed: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_failed",
				Help:      "1 if any component failed in the last run",
			},
		),

		downloadBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_bytes_total",
				Help:      "Bytes downloaded per component",
			},
			[]string{"component"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Asset download duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"component"},
		),

		workerPoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Total number of workers in the pool",
			},
		),
		workerPoolQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_size",
				Help:      "Number of jobs waiting in queue",
			},
		),

		retryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"kind", "attempt"},
		),
	}

	logger.Debug("Prometheus metrics initialized")
	return pm
}

// Registry 指标注册表
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{Registry: pm.registry})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveRecord 记录组件结果
func (pm *PrometheusMetrics) ObserveRecord(mode string, rec domain.InstallationRecord) {
	pm.componentsTotal.WithLabelValues(mode, rec.ID, string(rec.Status)).Inc()
}

// ObserveRun 记录一次运行
func (pm *PrometheusMetrics) ObserveRun(mode string, duration time.Duration, failed bool) {
	result := "success"
	if failed {
		result = "failure"
		pm.lastRunFailed.Set(1)
	} else {
		pm.lastRunFailed.Set(0)
	}
	pm.runsTotal.WithLabelValues(mode, result).Inc()
	pm.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveDownload 记录资产下载
func (pm *PrometheusMetrics) ObserveDownload(component string, bytes int64, duration time.Duration) {
	pm.downloadBytesTotal.WithLabelValues(component).Add(float64(bytes))
	pm.fetchDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// UpdateWorkerPoolStats 更新 Worker Pool 统计
func (pm *PrometheusMetrics) UpdateWorkerPoolStats(size, queueSize int) {
	pm.workerPoolSize.Set(float64(size))
	pm.workerPoolQueueSize.Set(float64(queueSize))
}

// RecordRetryAttempt 记录重试尝试，kind 为失败类型
func (pm *PrometheusMetrics) RecordRetryAttempt(attempt int, err error) {
	kind := string(domain.KindOf(err))
	pm.retryAttemptsTotal.WithLabelValues(kind, strconv.Itoa(attempt)).Inc()
}

// WriteTextfile 把当前指标写成 node-exporter textfile
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, pm.registry); err != nil {
		return err
	}
	pm.logger.WithField("path", path).Debug("Metrics textfile written")
	return nil
}
