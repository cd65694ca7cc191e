package main

import (
	"context"
	"log"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"licensegate/pkg/config"
	"licensegate/pkg/db"
	"licensegate/pkg/featureflags"
	"licensegate/pkg/gen"
	"licensegate/pkg/hashistack/secretmanager"
	"licensegate/pkg/hashistack/servicediscover"
	"licensegate/pkg/health"
	"licensegate/pkg/logger"
	"licensegate/pkg/otelcol"
	"licensegate/pkg/otelcol/exporters"
	"licensegate/pkg/profiling"
	"licensegate/pkg/redis"
	"licensegate/pkg/server"
	"licensegate/pkg/task"
	"licensegate/services/billing"
	"licensegate/services/bootstrap"
	"licensegate/services/license"
	"licensegate/services/setting"
)

func main() {
	configModule := config.Module
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		configModule = config.RemoteModule
	}

	opts := []fx.Option{
		secretmanager.Module,
		configModule,
		logger.Module,
		db.Module,
		fx.Invoke(db.Otel, db.Metric),
		redis.Module,
		gen.Module,
		task.Client,
		featureflags.Module,
		fx.Provide(
			provideTracerProvider,
			provideMeterProvider,
		),
		setting.Module,
		billing.Module,
		license.Module,
		bootstrap.Module,
		health.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
		profiling.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	if cfg.Otel.Addr == "" {
		return otel.GetTracerProvider(), nil
	}

	var (
		exporter *otlptrace.Exporter
		err      error
	)
	switch cfg.Otel.Protocol {
	case "http":
		exporter, err = exporters.ProvideHttp(cfg)
	default:
		exporter, err = exporters.ProvideGrpc(cfg)
	}
	if err != nil {
		return nil, err
	}

	tp := otelcol.ProvideTrace(exporter)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp, nil
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
