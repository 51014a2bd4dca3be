package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/transferwave/identity-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	sessionCounter      metric.Int64Counter
	refreshTokenCounter metric.Int64Counter
	mfaCounter          metric.Int64Counter
	vaultCounter        metric.Int64Counter
	permCheckCounter    metric.Int64Counter
	roleMutationCounter metric.Int64Counter
	repositoryCounter   metric.Int64Counter
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

	meter := mp.Meter("identity-core")
	sessionCounter, err := meter.Int64Counter("identity.session.events")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("identity.refresh_token.events")
	if err != nil {
		return nil, err
	}
	mfaCounter, err := meter.Int64Counter("identity.mfa.events")
	if err != nil {
		return nil, err
	}
	vaultCounter, err := meter.Int64Counter("identity.vault.operations")
	if err != nil {
		return nil, err
	}
	permCheckCounter, err := meter.Int64Counter("identity.permission.checks")
	if err != nil {
		return nil, err
	}
	roleMutationCounter, err := meter.Int64Counter("identity.role.mutations")
	if err != nil {
		return nil, err
	}
	repositoryCounter, err := meter.Int64Counter("identity.repository.operations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		sessionCounter:      sessionCounter,
		refreshTokenCounter: refreshCounter,
		mfaCounter:          mfaCounter,
		vaultCounter:        vaultCounter,
		permCheckCounter:    permCheckCounter,
		roleMutationCounter: roleMutationCounter,
		repositoryCounter:   repositoryCounter,
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

func RecordSessionEvent(op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

func RecordRefreshTokenEvent(op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.refreshTokenCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

func RecordMfaEvent(op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.mfaCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

func RecordVaultEvent(op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.vaultCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

func RecordPermissionCheck(outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.permCheckCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRoleMutation(action string) {
	m := current()
	if m == nil {
		return
	}
	m.roleMutationCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("action", action)))
}

// RecordRepositoryOperation is called by every repository method with the
// entity, operation, and result class.
func RecordRepositoryOperation(ctx context.Context, entity, op, result string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("op", op),
			attribute.String("result", result),
		),
	)
}
