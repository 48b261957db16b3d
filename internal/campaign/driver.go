package campaign

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/internal/cache"
	"forgefuzz/internal/findings"
	"forgefuzz/internal/fuzzer"
	"forgefuzz/internal/livestats"
	"forgefuzz/internal/module"
	"forgefuzz/internal/storage"
	"forgefuzz/pkg/mq"
	"forgefuzz/pkg/telemetry"
)

const CampaignQueue = "campaign_queue"

// Job is one campaign run request as published on the queue.
type Job struct {
	RunID         string        `json:"run_id"`
	TargetID      string        `json:"target_id"`
	Workflow      string        `json:"workflow"`
	Module        string        `json:"module"`
	Config        module.Config `json:"config"`
	ResultsFormat string        `json:"results_format,omitempty"`
	TraceContext  string        `json:"trace_context,omitempty"`
}

// The driver's collaborators, narrowed to the calls it makes.
type campaignRunner interface {
	Run(ctx context.Context, runID, workflow, moduleName string, cfg module.Config, workspace string) (*module.Result, error)
}

type targetCache interface {
	Get(ctx context.Context, targetID string) (string, error)
	Cleanup(localPath string)
}

type resultStore interface {
	UploadResults(ctx context.Context, runID string, results []byte, format string) (string, error)
}

type findingSink interface {
	SubmitResult(runID string, result *module.Result)
}

type runRecorder interface {
	RecordRun(ctx context.Context, info livestats.RunInfo) error
}

type statsTracker interface {
	Forget(runID string)
}

// Driver consumes campaign jobs and runs them end to end: materialize the
// target, execute the module, persist findings, upload results, reclaim
// the cache entry.
type Driver struct {
	logger        *zap.Logger
	rabbitMQ      mq.RabbitMQ
	runner        campaignRunner
	cache         targetCache
	store         resultStore
	sink          findingSink
	source        runRecorder
	tracker       statsTracker
	tracerFactory *telemetry.TracerFactory

	done chan struct{}
}

type DriverParams struct {
	fx.In

	Lc            fx.Lifecycle
	Logger        *zap.Logger
	RabbitMQ      mq.RabbitMQ
	Runner        *fuzzer.CampaignRunner
	Cache         *cache.Cache
	Store         *storage.Client
	Sink          *findings.Sink
	Source        *livestats.RedisRunSource
	Tracker       *livestats.Tracker
	TracerFactory *telemetry.TracerFactory
}

func NewDriver(params DriverParams) *Driver {
	driver := &Driver{
		logger:        params.Logger,
		rabbitMQ:      params.RabbitMQ,
		runner:        params.Runner,
		cache:         params.Cache,
		store:         params.Store,
		sink:          params.Sink,
		source:        params.Source,
		tracker:       params.Tracker,
		tracerFactory: params.TracerFactory,
		done:          make(chan struct{}),
	}

	driverCtx, cancel := context.WithCancel(context.Background())
	params.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go driver.start(driverCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-driver.done
			return nil
		},
	})
	return driver
}

func (d *Driver) start(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("campaign driver stopped")
			return
		default:
		}
		if err := d.consume(ctx); err != nil {
			d.logger.Warn("campaign consumer stopped, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Second):
			}
		}
	}
}

func (d *Driver) consume(ctx context.Context) error {
	ch := d.rabbitMQ.GetChannel()
	if ch == nil {
		return errNoChannel
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(CampaignQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(CampaignQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	d.logger.Info("consuming campaign jobs", zap.String("queue", CampaignQueue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errChannelClosed
			}
			d.handle(ctx, delivery)
		}
	}
}

func (d *Driver) handle(ctx context.Context, delivery amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		d.logger.Error("malformed campaign job, dropping", zap.Error(err))
		_ = delivery.Nack(false, false)
		return
	}
	logger := d.logger.With(
		zap.String("run_id", job.RunID),
		zap.String("target_id", job.TargetID),
		zap.String("module", job.Module),
	)

	var tracer telemetry.Tracer
	if job.TraceContext != "" {
		tracer = d.tracerFactory.NewTracerSpawnedFrom(ctx, job.TraceContext, "campaign.run")
	} else {
		tracer = d.tracerFactory.NewTracer(ctx, "campaign.run")
	}
	tracer.Start()
	defer tracer.End()
	runCtx := context.WithValue(ctx, telemetry.TracerKey{}, tracer)

	now := time.Now()
	if err := d.source.RecordRun(runCtx, livestats.RunInfo{
		RunID:     job.RunID,
		Workflow:  job.Workflow,
		StartTime: now,
		Created:   now,
	}); err != nil {
		logger.Warn("failed to register run metadata", zap.Error(err))
	}

	tracer.AddEvent("campaign.cache.get", telemetry.EventAttributes{"target_id": job.TargetID})
	workspace, err := d.cache.Get(runCtx, job.TargetID)
	if err != nil {
		logger.Error("failed to materialize target, requeueing", zap.Error(err))
		_ = delivery.Nack(false, true)
		return
	}

	result, err := d.runner.Run(runCtx, job.RunID, job.Workflow, job.Module, job.Config, workspace)
	if err != nil {
		// validation errors are deterministic, requeueing cannot help
		logger.Error("campaign run rejected", zap.Error(err))
		_ = delivery.Nack(false, false)
		return
	}

	d.sink.SubmitResult(job.RunID, result)

	format := job.ResultsFormat
	if format == "" {
		format = "json"
	}
	payload, err := serializeResult(result, format)
	if err != nil {
		logger.Error("failed to serialize result", zap.Error(err))
		_ = delivery.Nack(false, false)
		return
	}
	url, err := d.store.UploadResults(runCtx, job.RunID, payload, format)
	if err != nil {
		logger.Error("failed to upload results, requeueing", zap.Error(err))
		_ = delivery.Nack(false, true)
		return
	}

	d.cache.Cleanup(workspace)
	logger.Info("campaign run complete",
		zap.String("status", string(result.Status)),
		zap.Int("findings", len(result.Findings)),
		zap.String("results_url", url),
	)
	_ = delivery.Ack(false)

	// the campaign is known complete; its live-stats record can go
	d.tracker.Forget(job.RunID)
}

func serializeResult(result *module.Result, format string) ([]byte, error) {
	if format == "sarif" {
		return json.Marshal(module.ToSarif(result))
	}
	return json.Marshal(result)
}
