package module

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Severity levels for findings, highest first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Status is the outcome of one module execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Metadata is the static descriptor of a module. Created once per module
// type, never mutated.
type Metadata struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	Description       string         `json:"description"`
	Category          string         `json:"category"`
	Tags              []string       `json:"tags"`
	InputSchema       map[string]any `json:"input_schema,omitempty"`
	OutputSchema      map[string]any `json:"output_schema,omitempty"`
	RequiresWorkspace bool           `json:"requires_workspace"`
}

// Finding is one discovered issue. Immutable after creation.
type Finding struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity"`
	Category       string         `json:"category"`
	FilePath       string         `json:"file_path,omitempty"`
	LineStart      int            `json:"line_start,omitempty"`
	LineEnd        int            `json:"line_end,omitempty"`
	CodeSnippet    string         `json:"code_snippet,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of one Execute call. A module produces exactly one
// Result per call, even on failure.
type Result struct {
	Module        string         `json:"module"`
	Version       string         `json:"version,omitempty"`
	Status        Status         `json:"status"`
	Findings      []Finding      `json:"findings"`
	Summary       map[string]any `json:"summary,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
}

// Stats is a point-in-time snapshot of live campaign counters. All fields
// are absolute values, not deltas.
type Stats struct {
	Executions       int64   `json:"executions"`
	ExecutionsPerSec float64 `json:"executions_per_sec"`
	Crashes          int     `json:"crashes"`
	UniqueCrashes    int     `json:"unique_crashes"`
	Coverage         float64 `json:"coverage,omitempty"`
	CorpusSize       int     `json:"corpus_size"`
	ElapsedTime      int64   `json:"elapsed_time"`
}

// StatsFunc receives periodic stats snapshots during a run.
type StatsFunc func(ctx context.Context, stats Stats)

// Module is the uniform lifecycle every fuzz/scan unit implements.
//
// Execute must fold all engine and runtime errors into a failed Result
// rather than returning an error; only config and workspace validation
// failures, raised before the internal timer starts, may be returned as
// errors.
type Module interface {
	Metadata() Metadata
	ValidateConfig(cfg Config) error
	Execute(ctx context.Context, cfg Config, workspace string, stats StatsFunc) (*Result, error)
}

// Base carries the per-execution timer and finding/result helpers shared by
// all modules. Embed by value; one module instance owns one run's state.
type Base struct {
	meta    Metadata
	started time.Time
}

func NewBase(meta Metadata) Base {
	return Base{meta: meta}
}

// StartTimer begins the wall-clock measurement for the current execution.
func (b *Base) StartTimer() {
	b.started = time.Now()
}

// ExecutionTime returns seconds elapsed since StartTimer.
func (b *Base) ExecutionTime() float64 {
	if b.started.IsZero() {
		return 0
	}
	return time.Since(b.started).Seconds()
}

// NewFinding stamps an id onto a finding. Remaining optional fields are set
// by the caller on the returned value before it is aggregated.
func (b *Base) NewFinding(title, description string, severity Severity, category string) Finding {
	return Finding{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Severity:    severity,
		Category:    category,
	}
}

// NewResult builds a Result with the module identity and timer stamped in.
func (b *Base) NewResult(status Status, findings []Finding) *Result {
	if findings == nil {
		findings = []Finding{}
	}
	return &Result{
		Module:        b.meta.Name,
		Version:       b.meta.Version,
		Status:        status,
		Findings:      findings,
		ExecutionTime: b.ExecutionTime(),
	}
}

// FailedResult folds an execution error into a failed Result with zero
// findings.
func (b *Base) FailedResult(err error) *Result {
	res := b.NewResult(StatusFailed, nil)
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// ValidateWorkspace checks that the workspace exists and is a directory.
func ValidateWorkspace(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &WorkspaceError{Path: path, Reason: "workspace does not exist"}
	}
	if !info.IsDir() {
		return &WorkspaceError{Path: path, Reason: "workspace is not a directory"}
	}
	return nil
}

// Config is the free-form configuration map handed to a module. Getters
// return a ConfigError describing the first violation they detect.
type Config map[string]any

// Int reads an integer field, accepting JSON-decoded float64 values that
// are integral. Missing fields yield the default.
func (c Config) Int(key string, def int) (int, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, &ConfigError{Field: key, Reason: fmt.Sprintf("must be an integer, got %v", v)}
		}
		return int(v), nil
	default:
		return 0, &ConfigError{Field: key, Reason: fmt.Sprintf("must be an integer, got %T", raw)}
	}
}

// PositiveInt reads an integer field that must be strictly positive.
func (c Config) PositiveInt(key string, def int) (int, error) {
	v, err := c.Int(key, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, &ConfigError{Field: key, Reason: fmt.Sprintf("must be a positive integer, got %d", v)}
	}
	return v, nil
}

// String reads a string field. Missing fields yield the default.
func (c Config) String(key, def string) (string, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", &ConfigError{Field: key, Reason: fmt.Sprintf("must be a string, got %T", raw)}
	}
	return v, nil
}

// Enum reads a string field constrained to an allowed set.
func (c Config) Enum(key, def string, allowed ...string) (string, error) {
	v, err := c.String(key, def)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", &ConfigError{Field: key, Reason: fmt.Sprintf("must be one of %v, got %q", allowed, v)}
}
