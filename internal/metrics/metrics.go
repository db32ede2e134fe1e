// Package metrics records gateway activity as OpenTelemetry instruments. The
// exporter is chosen by whoever owns the MeterProvider.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

const (
	attrDeviceType = "device_type"
	attrReason     = "reason"
	attrEndpoint   = "endpoint"
	attrMethod     = "method"
	attrStatus     = "status"
)

// Metrics holds every instrument the gateway reports. It implements
// dispatch.Recorder and is safe for concurrent use.
type Metrics struct {
	successfulPushes metric.Int64Counter
	failedPushes     metric.Int64Counter
	requestDuration  metric.Float64Histogram
	requestsTotal    metric.Int64Counter
	jitter           metric.Float64Histogram
}

func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.successfulPushes, err = meter.Int64Counter("successful_pushes",
		metric.WithDescription("Pushes accepted by a provider, by device type")); err != nil {
		return nil, fmt.Errorf("failed to create successful_pushes: %w", err)
	}
	if m.failedPushes, err = meter.Int64Counter("failed_pushes",
		metric.WithDescription("Push targets that ended rejected, by device type and reason")); err != nil {
		return nil, fmt.Errorf("failed to create failed_pushes: %w", err)
	}
	if m.requestDuration, err = meter.Float64Histogram("http_requests_duration_seconds",
		metric.WithDescription("HTTP request latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_duration_seconds: %w", err)
	}
	if m.requestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests handled")); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total: %w", err)
	}
	if m.jitter, err = meter.Float64Histogram("jitter_seconds",
		metric.WithDescription("Random delay applied before dispatch"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create jitter_seconds: %w", err)
	}
	return m, nil
}

func (m *Metrics) PushSucceeded(ctx context.Context, category push.Category) {
	m.successfulPushes.Add(ctx, 1, metric.WithAttributes(attribute.String(attrDeviceType, category.String())))
}

func (m *Metrics) PushFailed(ctx context.Context, category push.Category, reason string) {
	m.failedPushes.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrDeviceType, category.String()),
		attribute.String(attrReason, reason),
	))
}

// ObserveJitter records a rolled jitter delay.
func (m *Metrics) ObserveJitter(ctx context.Context, d time.Duration) {
	m.jitter.Record(ctx, d.Seconds())
}

// Middleware measures every request to next under the endpoint label.
func (m *Metrics) Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured := httpsnoop.CaptureMetrics(next, w, r)

		attrs := metric.WithAttributes(
			attribute.String(attrEndpoint, endpoint),
			attribute.String(attrMethod, r.Method),
			attribute.String(attrStatus, strconv.Itoa(captured.Code)),
		)
		// The request context may already be cancelled; the observation must
		// still land.
		ctx := context.WithoutCancel(r.Context())
		m.requestDuration.Record(ctx, captured.Duration.Seconds(), attrs)
		m.requestsTotal.Add(ctx, 1, attrs)
	})
}
