package main

// mock the campaign scheduler: publish one campaign job from a YAML spec

import (
	"forgefuzz/config"
	"forgefuzz/internal/campaign"
	"forgefuzz/internal/livestats"
	"forgefuzz/internal/module"
	"forgefuzz/pkg/database"
	"forgefuzz/pkg/logger"
	"forgefuzz/pkg/mq"
	"forgefuzz/pkg/telemetry"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// campaignSpec is the YAML shape accepted by -spec.
type campaignSpec struct {
	TargetID      string         `yaml:"target_id"`
	Workflow      string         `yaml:"workflow"`
	Module        string         `yaml:"module"`
	ResultsFormat string         `yaml:"results_format"`
	Config        map[string]any `yaml:"config"`
}

func defaultSpec() campaignSpec {
	return campaignSpec{
		TargetID:      "demo-target",
		Workflow:      "rust_fuzzing",
		Module:        "cargo_fuzz",
		ResultsFormat: "json",
		Config: map[string]any{
			"max_iterations":  100000,
			"timeout_seconds": 300,
			"sanitizer":       "address",
		},
	}
}

type mockApp struct {
	rabbitMQ     mq.RabbitMQ
	source       *livestats.RedisRunSource
	logger       *zap.Logger
	traceFactory *telemetry.TracerFactory
	shutdowner   fx.Shutdowner
}

type mockParams struct {
	fx.In
	RabbitMQ     mq.RabbitMQ
	Source       *livestats.RedisRunSource
	Logger       *zap.Logger
	TraceFactory *telemetry.TracerFactory
	Shutdowner   fx.Shutdowner
}

func newMockApp(p mockParams) *mockApp {
	return &mockApp{
		rabbitMQ:     p.RabbitMQ,
		source:       p.Source,
		logger:       p.Logger,
		traceFactory: p.TraceFactory,
		shutdowner:   p.Shutdowner,
	}
}

func (m *mockApp) sendCampaignJob(spec campaignSpec) error {
	channel := m.rabbitMQ.GetChannel()
	if channel == nil {
		return fmt.Errorf("failed to get RabbitMQ channel")
	}
	defer channel.Close()

	q, err := channel.QueueDeclare(
		campaign.CampaignQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	runID := uuid.New().String()
	now := time.Now()
	if err := m.source.RecordRun(context.Background(), livestats.RunInfo{
		RunID:     runID,
		Workflow:  spec.Workflow,
		StartTime: now,
		Created:   now,
	}); err != nil {
		return fmt.Errorf("failed to register run metadata: %w", err)
	}

	tracer := m.traceFactory.NewTracer(context.Background(), runID)
	tracer.Start()
	defer tracer.End()

	job := campaign.Job{
		RunID:         runID,
		TargetID:      spec.TargetID,
		Workflow:      spec.Workflow,
		Module:        spec.Module,
		Config:        module.Config(spec.Config),
		ResultsFormat: spec.ResultsFormat,
		TraceContext:  tracer.Export(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = channel.PublishWithContext(context.Background(),
		"",     // exchange
		q.Name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	m.logger.Info("Successfully sent campaign job",
		zap.String("run_id", job.RunID),
		zap.String("module", job.Module),
		zap.String("queue", q.Name))

	m.shutdowner.Shutdown()
	return nil
}

func main() {
	specPath := flag.String("spec", "", "path to a YAML campaign spec (optional)")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *help {
		fmt.Println("Usage: mock [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	spec := defaultSpec()
	if *specPath != "" {
		raw, err := os.ReadFile(*specPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read spec: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(raw, &spec); err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse spec: %v\n", err)
			os.Exit(1)
		}
	}

	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
			telemetry.NewTelemetry,
			telemetry.NewTracerFactory,
			mq.NewRabbitMQ,
			database.NewRedisClient,
			livestats.NewRedisRunSource,
			newMockApp,
		),
		fx.Invoke(func(lc fx.Lifecycle, app *mockApp) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := app.sendCampaignJob(spec); err != nil {
							app.logger.Error("failed to send campaign job", zap.Error(err))
							app.shutdowner.Shutdown()
						}
					}()
					return nil
				},
			})
		}),
	)
	app.Run()
}
