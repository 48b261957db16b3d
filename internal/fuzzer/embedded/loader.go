package embedded

import (
	"plugin"

	"forgefuzz/internal/module"
)

// TargetFunc is the entry point every fuzz target exports. It consumes one
// raw input and panics on failure.
type TargetFunc func([]byte)

// TargetLoader resolves a discovered target file into its entry point.
type TargetLoader interface {
	Load(path string) (TargetFunc, error)
}

// PluginLoader loads targets compiled with -buildmode=plugin and looks up
// the TestOneInput symbol.
type PluginLoader struct{}

func (PluginLoader) Load(path string) (TargetFunc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, &module.InvalidTargetError{Path: path, Reason: err.Error()}
	}
	sym, err := p.Lookup("TestOneInput")
	if err != nil {
		return nil, &module.InvalidTargetError{Path: path, Reason: "missing TestOneInput symbol"}
	}
	fn, ok := sym.(func([]byte))
	if !ok {
		return nil, &module.InvalidTargetError{Path: path, Reason: "TestOneInput is not func([]byte)"}
	}
	return fn, nil
}
