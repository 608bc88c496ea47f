package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/health"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/observability/metrics"
	"github.com/nimburion/tabular/pkg/observability/tracing"
	"github.com/nimburion/tabular/pkg/refresh"
	"github.com/nimburion/tabular/pkg/store"
	redisstore "github.com/nimburion/tabular/pkg/store/redis"
	"github.com/nimburion/tabular/pkg/version"
)

// app is the wired service: store backend, engine and observability.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	backend store.Backend
	engine  *engine.Engine
	metrics *metrics.Registry
	tracer  *tracing.TracerProvider
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var queryMetrics *metrics.QueryMetrics
	if cfg.Observability.MetricsEnabled {
		a.metrics = metrics.NewRegistry()
		m, err := metrics.NewQueryMetrics(a.metrics.Registerer())
		if err != nil {
			return nil, fmt.Errorf("register query metrics: %w", err)
		}
		queryMetrics = m
	}

	info := version.Current(cfg.Service.Name)
	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	a.tracer = tracer

	backend, err := store.NewBackend(cfg, log)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("create store: %w", err)
	}
	a.backend = backend

	a.engine = engine.New(backend, backend, engine.Options{
		Logger:         log,
		Metrics:        queryMetrics,
		FetchBatchSize: cfg.Query.FetchBatchSize,
	})
	return a, nil
}

// lockProvider returns destination locks matching the backend: Redis locks share the
// store's client, the memory backend locks in process.
func (a *app) lockProvider() refresh.LockProvider {
	if adapter, ok := a.backend.(*redisstore.Adapter); ok {
		return refresh.NewRedisLockProviderFromClient(adapter.Client(), refresh.RedisLockProviderConfig{
			Prefix:           a.cfg.Refresh.LockPrefix,
			OperationTimeout: a.cfg.Redis.OperationTimeout,
		}, a.log)
	}
	return refresh.NewLocalLockProvider()
}

func (a *app) healthRegistry() *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewStoreChecker(a.backend, a.cfg.Redis.OperationTimeout))
	return registry
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withApp builds the app for one command and closes it afterwards, logging close failures.
func withApp(ctx context.Context, cfg *config.Config, log logger.Logger, fn func(*app) error) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()
	return fn(a)
}
