package main

import (
	"forgefuzz/config"
	"forgefuzz/internal/cache"
	"forgefuzz/internal/campaign"
	"forgefuzz/internal/findings"
	"forgefuzz/internal/fuzzer"
	"forgefuzz/internal/fuzzer/embedded"
	"forgefuzz/internal/fuzzer/subproc"
	"forgefuzz/internal/livestats"
	"forgefuzz/internal/storage"
	"forgefuzz/pkg/database"
	"forgefuzz/pkg/logger"
	"forgefuzz/pkg/mq"
	"forgefuzz/pkg/telemetry"
	"forgefuzz/pkg/watchdog"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,           // inject config
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			logger.NewLogger,            // inject logger
			mq.NewRabbitMQ,              // inject rabbitmq service
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			watchdog.NewWatchDogFactory, // inject watchdog factory
			livestats.NewRedisRunSource, // inject run/log store
			findings.NewSink,            // inject finding sink
		),
		fx.Provide(
			func(s *livestats.RedisRunSource) livestats.RunSource { return s },
			func(s *livestats.RedisRunSource) fuzzer.StatsRecorder { return s },
		),
		embedded.EmbeddedModule, // inject embedded fuzzer module
		subproc.CargoModule,     // inject cargo-fuzz module
		fuzzer.RunnerModule,     // inject module registry + campaign runner
		cache.CacheModule,       // inject target cache + evictor
		storage.StorageModule,   // inject object store boundary
		livestats.LivestatsModule,
		fx.Invoke(
			campaign.NewDriver,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
