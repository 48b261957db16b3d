package module

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Registry resolves modules by name. Modules are contributed through the
// fx "modules" value group.
type Registry struct {
	logger  *zap.Logger
	modules map[string]Module
}

type RegistryParams struct {
	fx.In
	Logger  *zap.Logger
	Modules []Module `group:"modules"`
}

func NewRegistry(params RegistryParams) *Registry {
	moduleMap := make(map[string]Module)
	for _, mod := range params.Modules {
		modV := reflect.ValueOf(mod)
		if modV.Kind() == reflect.Ptr && modV.IsNil() {
			continue // skip nil module
		}
		name := mod.Metadata().Name
		moduleMap[name] = mod
		params.Logger.Debug("module registered", zap.String("module", name))
	}
	registry := &Registry{
		logger:  params.Logger,
		modules: moduleMap,
	}
	params.Logger.Info("module registry ready", zap.Strings("modules", registry.Names()))
	return registry
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (Module, error) {
	mod, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown module: %s (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return mod, nil
}

// Names lists the registered module names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
