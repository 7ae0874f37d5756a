package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const meterName = "vcache-server"

// Config configures metric export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	FlushInterval  time.Duration
}

// Metrics holds every instrument this domain emits: HTTP traffic, blob
// upload/download sizes, archive inspection failures, and maintenance
// deletions (one total per pass, not broken down by policy). Every S3-FIFO and multi-protocol instrument the
// teacher had is gone -- this domain has neither.
type Metrics struct {
	requestsTotal      metric.Int64Counter
	responseBytesTotal metric.Int64Counter
	requestDuration    metric.Float64Histogram

	uploadBytesTotal   metric.Int64Counter
	downloadBytesTotal metric.Int64Counter
	uploadsTotal       metric.Int64Counter
	downloadsTotal     metric.Int64Counter

	inspectFailuresTotal metric.Int64Counter

	maintenanceDeletedTotal   metric.Int64Counter
	maintenanceDuration       metric.Float64Histogram

	promHandler http.Handler
}

var (
	once    sync.Once
	initErr error
	global  *Metrics
)

// Init sets up the OpenTelemetry meter provider (with a Prometheus
// exporter) and creates every instrument. Safe to call more than once;
// only the first call takes effect.
func Init(ctx context.Context, cfg Config) error {
	once.Do(func() {
		initErr = doInit(ctx, cfg)
	})
	return initErr
}

func doInit(_ context.Context, cfg Config) error {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	promExp, err := prometheus.New()
	if err != nil {
		return err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	m := &Metrics{promHandler: promhttp.Handler()}

	var errs [12]error
	m.requestsTotal, errs[0] = meter.Int64Counter("vcache_http_requests_total",
		metric.WithDescription("Total HTTP requests"), metric.WithUnit("{request}"))
	m.responseBytesTotal, errs[1] = meter.Int64Counter("vcache_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"), metric.WithUnit("By"))
	m.requestDuration, errs[2] = meter.Float64Histogram("vcache_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30))
	m.uploadBytesTotal, errs[3] = meter.Int64Counter("vcache_upload_bytes_total",
		metric.WithDescription("Total bytes uploaded to the cache"), metric.WithUnit("By"))
	m.downloadBytesTotal, errs[4] = meter.Int64Counter("vcache_download_bytes_total",
		metric.WithDescription("Total bytes served from the cache"), metric.WithUnit("By"))
	m.uploadsTotal, errs[5] = meter.Int64Counter("vcache_uploads_total",
		metric.WithDescription("Total successful cache uploads"), metric.WithUnit("{upload}"))
	m.downloadsTotal, errs[6] = meter.Int64Counter("vcache_downloads_total",
		metric.WithDescription("Total cache downloads"), metric.WithUnit("{download}"))
	m.inspectFailuresTotal, errs[7] = meter.Int64Counter("vcache_archive_inspect_failures_total",
		metric.WithDescription("Total archive inspection failures"), metric.WithUnit("{failure}"))
	m.maintenanceDeletedTotal, errs[8] = meter.Int64Counter("vcache_maintenance_deleted_total",
		metric.WithDescription("Total caches deleted by maintenance"), metric.WithUnit("{cache}"))
	m.maintenanceDuration, errs[9] = meter.Float64Histogram("vcache_maintenance_duration_seconds",
		metric.WithDescription("Duration of maintenance passes"), metric.WithUnit("s"))

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	global = m
	return nil
}

// PrometheusHandler returns the /metrics HTTP handler, or a 404 handler
// if Init has not been called.
func PrometheusHandler() http.Handler {
	if global == nil || global.promHandler == nil {
		return http.NotFoundHandler()
	}
	return global.promHandler
}

// RecordHTTP records one completed HTTP request.
func RecordHTTP(ctx context.Context, status int, bytesSent int64, d time.Duration) {
	if global == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status_class", StatusClass(status)))
	global.requestsTotal.Add(ctx, 1, attrs)
	global.responseBytesTotal.Add(ctx, bytesSent, attrs)
	global.requestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordUpload records a successful cache upload.
func RecordUpload(ctx context.Context, bytes int64) {
	if global == nil {
		return
	}
	global.uploadsTotal.Add(ctx, 1)
	global.uploadBytesTotal.Add(ctx, bytes)
}

// RecordDownload records a served cache GET.
func RecordDownload(ctx context.Context, bytes int64) {
	if global == nil {
		return
	}
	global.downloadsTotal.Add(ctx, 1)
	global.downloadBytesTotal.Add(ctx, bytes)
}

// RecordInspectFailure records a failed archive inspection at PUT
// finalize. Startup-scan failures are logged by the blob store but not
// counted here.
func RecordInspectFailure(ctx context.Context) {
	if global == nil {
		return
	}
	global.inspectFailuresTotal.Add(ctx, 1)
}

// RecordMaintenance records one completed maintenance pass.
func RecordMaintenance(ctx context.Context, deleted int, d time.Duration) {
	if global == nil {
		return
	}
	global.maintenanceDeletedTotal.Add(ctx, int64(deleted))
	global.maintenanceDuration.Record(ctx, d.Seconds())
}
