// Package observability exports service metrics in Prometheus format.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cexll/ci-agent/internal/stream"
)

const meterName = "github.com/cexll/ci-agent"

// Metrics records analysis, cache, RAG, stream and queue measurements.
// A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	analyses         metric.Int64Counter
	analysisDuration metric.Float64Histogram
	cacheLookups     metric.Int64Counter
	ragQueries       metric.Int64Counter
	sseEvents        metric.Int64Counter
	queueRejections  metric.Int64Counter
}

// New creates the instruments on a private registry
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	m := &Metrics{provider: provider, registry: registry}

	if m.analyses, err = meter.Int64Counter("ci_analyses",
		metric.WithDescription("Completed competitor analyses")); err != nil {
		return nil, fmt.Errorf("failed to create analyses counter: %w", err)
	}
	if m.analysisDuration, err = meter.Float64Histogram("ci_analysis_duration",
		metric.WithDescription("Analysis duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create analysis duration histogram: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("ci_cache_lookups",
		metric.WithDescription("Result cache lookups by kind and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create cache lookups counter: %w", err)
	}
	if m.ragQueries, err = meter.Int64Counter("ci_rag_queries",
		metric.WithDescription("Knowledge base queries")); err != nil {
		return nil, fmt.Errorf("failed to create rag queries counter: %w", err)
	}
	if m.sseEvents, err = meter.Int64Counter("ci_sse_events",
		metric.WithDescription("Server-sent events written")); err != nil {
		return nil, fmt.Errorf("failed to create sse events counter: %w", err)
	}
	if m.queueRejections, err = meter.Int64Counter("ci_queue_rejections",
		metric.WithDescription("Background analyses refused by the queue")); err != nil {
		return nil, fmt.Errorf("failed to create queue rejections counter: %w", err)
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// AnalysisFinished counts one analysis and records how long it took
func (m *Metrics) AnalysisFinished(ctx context.Context, mode, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analyses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status)))
	m.analysisDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}

// CacheLookup counts a cache hit or miss for kind
func (m *Metrics) CacheLookup(ctx context.Context, kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result)))
}

func (m *Metrics) RAGQuery(ctx context.Context, cached bool) {
	if m == nil {
		return
	}
	m.ragQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("cached", strconv.FormatBool(cached))))
}

// SSEEvent counts one written stream event. It matches stream.Writer.OnSend.
func (m *Metrics) SSEEvent(t stream.Type) {
	if m == nil {
		return
	}
	m.sseEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(t))))
}

func (m *Metrics) QueueRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.queueRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
