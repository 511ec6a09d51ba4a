package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BlockXAI/Ginie-User-Management/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	domainEventCounter metric.Int64Counter
	repoOpCounter      metric.Int64Counter
	rateLimitCounter   metric.Int64Counter
	sessionCounter     metric.Int64Counter
	streamCounter      metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("ginie-user-api")
	domainCounter, err := meter.Int64Counter("user_api.events")
	if err != nil {
		return nil, err
	}
	repoCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("rate_limit.decisions")
	if err != nil {
		return nil, err
	}
	sessionCounter, err := meter.Int64Counter("session.validations")
	if err != nil {
		return nil, err
	}
	streamCounter, err := meter.Int64Counter("gateway.stream.events")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		domainEventCounter: domainCounter,
		repoOpCounter:      repoCounter,
		rateLimitCounter:   rateLimitCounter,
		sessionCounter:     sessionCounter,
		streamCounter:      streamCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordDomainEvent(ctx context.Context, name string) {
	m := current()
	if m == nil {
		return
	}
	m.domainEventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", name)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoOpCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordSessionValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordStreamEvent(ctx context.Context, transport, event string) {
	m := current()
	if m == nil {
		return
	}
	m.streamCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("event", event),
		),
	)
}
