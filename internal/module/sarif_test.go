package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSarifLevelMapping(t *testing.T) {
	assert.Equal(t, "error", sarifLevel(SeverityCritical))
	assert.Equal(t, "error", sarifLevel(SeverityHigh))
	assert.Equal(t, "warning", sarifLevel(SeverityMedium))
	assert.Equal(t, "note", sarifLevel(SeverityLow))
	assert.Equal(t, "note", sarifLevel(SeverityInfo))
}

func TestToSarif(t *testing.T) {
	res := &Result{
		Module:  "cargo_fuzz",
		Version: "1.0.0",
		Status:  StatusSuccess,
		Findings: []Finding{
			{
				ID:        "a",
				Title:     "heap buffer overflow",
				Severity:  SeverityCritical,
				Category:  "crash",
				FilePath:  "fuzz/fuzz_targets/parse.rs",
				LineStart: 12,
				LineEnd:   14,
			},
			{
				ID:       "b",
				Title:    "slow input",
				Severity: SeverityLow,
				Category: "timeout",
			},
		},
	}

	report := ToSarif(res)
	assert.Equal(t, "2.1.0", report.Version)
	require.Len(t, report.Runs, 1)

	run := report.Runs[0]
	assert.Equal(t, "cargo_fuzz", run.Tool.Driver.Name)
	require.Len(t, run.Results, 2)
	require.Len(t, run.Tool.Driver.Rules, 2)

	assert.Equal(t, "crash", run.Results[0].RuleID)
	assert.Equal(t, "error", run.Results[0].Level)
	require.Len(t, run.Results[0].Locations, 1)
	assert.Equal(t, 12, run.Results[0].Locations[0].PhysicalLocation.Region.StartLine)

	assert.Equal(t, "note", run.Results[1].Level)
	assert.Empty(t, run.Results[1].Locations)
}

func TestToSarifEmpty(t *testing.T) {
	report := ToSarif(&Result{Module: "m", Findings: []Finding{}})
	require.Len(t, report.Runs, 1)
	assert.NotNil(t, report.Runs[0].Results)
	assert.Empty(t, report.Runs[0].Results)
}
