package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forgefuzz/internal/livestats"
	"forgefuzz/internal/module"
	"forgefuzz/pkg/telemetry"
)

type fakeRunner struct {
	result *module.Result
	err    error
}

func (r *fakeRunner) Run(context.Context, string, string, string, module.Config, string) (*module.Result, error) {
	return r.result, r.err
}

type fakeCache struct {
	workspace string
	getErr    error
	cleaned   []string
}

func (c *fakeCache) Get(context.Context, string) (string, error) {
	return c.workspace, c.getErr
}

func (c *fakeCache) Cleanup(localPath string) {
	c.cleaned = append(c.cleaned, localPath)
}

type fakeStore struct {
	uploads map[string][]byte
}

func (s *fakeStore) UploadResults(_ context.Context, runID string, results []byte, format string) (string, error) {
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[runID+"."+format] = results
	return "minio/results/" + runID, nil
}

type fakeSink struct {
	runs []string
}

func (s *fakeSink) SubmitResult(runID string, _ *module.Result) {
	s.runs = append(s.runs, runID)
}

type fakeRecorder struct {
	runs []livestats.RunInfo
}

func (r *fakeRecorder) RecordRun(_ context.Context, info livestats.RunInfo) error {
	r.runs = append(r.runs, info)
	return nil
}

type fakeTracker struct {
	forgotten []string
}

func (t *fakeTracker) Forget(runID string) {
	t.forgotten = append(t.forgotten, runID)
}

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func newTestDriver(runner *fakeRunner, cache *fakeCache) (*Driver, *fakeStore, *fakeTracker, *fakeSink) {
	store := &fakeStore{}
	tracker := &fakeTracker{}
	sink := &fakeSink{}
	d := &Driver{
		logger:        zap.NewNop(),
		runner:        runner,
		cache:         cache,
		store:         store,
		sink:          sink,
		source:        &fakeRecorder{},
		tracker:       tracker,
		tracerFactory: telemetry.NewTracerFactory(telemetry.TracerFactoryParams{}),
		done:          make(chan struct{}),
	}
	return d, store, tracker, sink
}

func jobDelivery(t *testing.T, job Job, ack *fakeAcknowledger) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
}

func TestHandleCompletesRun(t *testing.T) {
	runner := &fakeRunner{result: &module.Result{
		Module:   "cargo_fuzz",
		Status:   module.StatusSuccess,
		Findings: []module.Finding{},
	}}
	cache := &fakeCache{workspace: "/cache/t-1/workspace"}
	d, store, tracker, sink := newTestDriver(runner, cache)

	ack := &fakeAcknowledger{}
	d.handle(context.Background(), jobDelivery(t, Job{
		RunID:    "r-1",
		TargetID: "t-1",
		Workflow: "rust_fuzzing",
		Module:   "cargo_fuzz",
	}, ack))

	assert.True(t, ack.acked)
	assert.Contains(t, store.uploads, "r-1.json")
	assert.Equal(t, []string{"r-1"}, sink.runs)
	assert.Equal(t, []string{"/cache/t-1/workspace"}, cache.cleaned)
	assert.Equal(t, []string{"r-1"}, tracker.forgotten, "completed run must be dropped from the tracker")
}

func TestHandleCacheFailureRequeues(t *testing.T) {
	cache := &fakeCache{getErr: errors.New("connection reset")}
	d, store, tracker, _ := newTestDriver(&fakeRunner{}, cache)

	ack := &fakeAcknowledger{}
	d.handle(context.Background(), jobDelivery(t, Job{
		RunID:    "r-2",
		TargetID: "t-2",
		Module:   "cargo_fuzz",
	}, ack))

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
	assert.Empty(t, store.uploads)
	assert.Empty(t, tracker.forgotten, "a requeued run keeps its stats record")
}

func TestJobDecoding(t *testing.T) {
	body := []byte(`{
		"run_id": "r-1",
		"target_id": "t-1",
		"workflow": "rust_fuzzing",
		"module": "cargo_fuzz",
		"results_format": "sarif",
		"config": {"max_iterations": 5000, "sanitizer": "address"}
	}`)

	var job Job
	require.NoError(t, json.Unmarshal(body, &job))
	assert.Equal(t, "r-1", job.RunID)
	assert.Equal(t, "cargo_fuzz", job.Module)
	assert.Equal(t, "sarif", job.ResultsFormat)

	iters, err := job.Config.PositiveInt("max_iterations", 0)
	require.NoError(t, err)
	assert.Equal(t, 5000, iters)
}

func TestSerializeResultJSON(t *testing.T) {
	res := &module.Result{
		Module:   "embedded_fuzzer",
		Status:   module.StatusSuccess,
		Findings: []module.Finding{},
	}
	payload, err := serializeResult(res, "json")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "embedded_fuzzer", decoded["module"])
	assert.Equal(t, "success", decoded["status"])
}

func TestSerializeResultSarif(t *testing.T) {
	res := &module.Result{
		Module: "cargo_fuzz",
		Status: module.StatusSuccess,
		Findings: []module.Finding{
			{ID: "f1", Title: "crash", Severity: module.SeverityCritical, Category: "crash"},
		},
	}
	payload, err := serializeResult(res, "sarif")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "2.1.0", decoded["version"])
	runs, ok := decoded["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
}
