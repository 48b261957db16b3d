package module

import (
	"errors"
	"fmt"
)

// ConfigError reports the first configuration violation found during
// validation, in the order fields are declared.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Reason)
}

// WorkspaceError reports a workspace precondition failure.
type WorkspaceError struct {
	Path   string
	Reason string
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %q: %s", e.Path, e.Reason)
}

// EngineUnavailableError means the fuzzing engine backing a module cannot
// be used in this environment (missing toolchain, unloadable plugin).
type EngineUnavailableError struct {
	Engine string
	Reason string
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("engine %s unavailable: %s", e.Engine, e.Reason)
}

// BuildError carries the captured output of a failed target build.
type BuildError struct {
	Target string
	Output string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for target %s", e.Target)
}

// InvalidTargetError means a discovered target could not be loaded or does
// not export the required entry symbol.
type InvalidTargetError struct {
	Path   string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %s: %s", e.Path, e.Reason)
}

// ErrNoTargetFound is folded into a failed Result when discovery matches
// nothing in the workspace.
var ErrNoTargetFound = errors.New("No fuzz targets found")
