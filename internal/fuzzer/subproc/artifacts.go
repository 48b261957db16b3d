package subproc

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"forgefuzz/internal/module"
)

const reproTimeout = 60 * time.Second

// crashClassifier maps sanitizer report markers to a crash type and
// severity, checked in order.
var crashClassifiers = []struct {
	marker    string
	errorType string
	severity  module.Severity
}{
	{"SEGV", "Segmentation Fault", module.SeverityCritical},
	{"heap-use-after-free", "Use After Free", module.SeverityCritical},
	{"heap-buffer-overflow", "Heap Buffer Overflow", module.SeverityCritical},
	{"stack-buffer-overflow", "Stack Buffer Overflow", module.SeverityHigh},
	{"panic", "Panic", module.SeverityMedium},
}

func classifyCrashOutput(output string) (string, module.Severity) {
	lower := strings.ToLower(output)
	for _, c := range crashClassifiers {
		marker := c.marker
		if marker == "panic" {
			if strings.Contains(lower, marker) {
				return c.errorType, c.severity
			}
			continue
		}
		if strings.Contains(output, marker) {
			return c.errorType, c.severity
		}
	}
	return "Unknown Crash", module.SeverityHigh
}

// artifactPrefixes maps artifact file-name prefixes to finding defaults.
// crash- artifacts are further classified by re-running the reproducer.
var artifactPrefixes = []struct {
	prefix    string
	errorType string
	severity  module.Severity
}{
	{"crash-", "", ""},
	{"leak-", "Memory Leak", module.SeverityMedium},
	{"timeout-", "Timeout", module.SeverityLow},
}

// collectArtifacts scans the cargo-fuzz artifacts directory for the target
// and turns each crash/leak/timeout artifact into a finding. A missing
// directory yields no findings.
func (f *CargoFuzzer) collectArtifacts(ctx context.Context, base *module.Base, workspace, target string, logger *zap.Logger) []module.Finding {
	artifactsDir := filepath.Join(workspace, "fuzz", "artifacts", target)
	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		logger.Debug("no crash artifacts directory", zap.String("dir", artifactsDir))
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var findings []module.Finding
	for _, name := range names {
		for _, ap := range artifactPrefixes {
			if !strings.HasPrefix(name, ap.prefix) {
				continue
			}
			artifactPath := filepath.Join(artifactsDir, name)
			finding, ok := f.analyzeArtifact(ctx, base, workspace, target, artifactPath, ap.errorType, ap.severity, logger)
			if ok {
				findings = append(findings, finding)
			}
			break
		}
	}
	logger.Info("parsed crash artifacts", zap.Int("findings", len(findings)))
	return findings
}

func (f *CargoFuzzer) analyzeArtifact(ctx context.Context, base *module.Base, workspace, target, artifactPath, errorType string, severity module.Severity, logger *zap.Logger) (module.Finding, bool) {
	input, err := os.ReadFile(artifactPath)
	if err != nil {
		logger.Warn("failed to read crash artifact", zap.String("artifact", artifactPath), zap.Error(err))
		return module.Finding{}, false
	}

	var reproOutput string
	if errorType == "" {
		// Re-run the reproducer once to classify the fault.
		output, err := f.runner.Run(ctx, workspace, reproTimeout, nil,
			"cargo", "fuzz", "run", target, artifactPath)
		if err != nil {
			logger.Debug("reproducer run exited non-zero", zap.String("artifact", artifactPath), zap.Error(err))
		}
		reproOutput = output
		errorType, severity = classifyCrashOutput(output)
	}

	finding := base.NewFinding(
		"Crash: "+errorType+" in "+target,
		"fuzzing discovered a fault in target '"+target+"', error type: "+errorType,
		severity,
		"crash",
	)
	finding.FilePath = filepath.Join("fuzz", "fuzz_targets", target+".rs")
	if len(reproOutput) > 500 {
		finding.CodeSnippet = reproOutput[:500]
	} else {
		finding.CodeSnippet = reproOutput
	}
	finding.Recommendation = "review the crash details and fix the underlying bug; use the sanitizer report to identify memory safety issues"
	finding.Metadata = map[string]any{
		"error_type": errorType,
		"crash_file": filepath.Base(artifactPath),
		"input_size": len(input),
		"reproducer": artifactPath,
	}
	return finding, true
}
