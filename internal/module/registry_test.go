package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubModule struct {
	name string
}

func (m *stubModule) Metadata() Metadata {
	return Metadata{Name: m.name}
}

func (m *stubModule) ValidateConfig(Config) error {
	return nil
}

func (m *stubModule) Execute(context.Context, Config, string, StatsFunc) (*Result, error) {
	return &Result{Module: m.name, Status: StatusSuccess}, nil
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(RegistryParams{
		Logger:  zap.NewNop(),
		Modules: []Module{&stubModule{name: "cargo_fuzz"}, &stubModule{name: "embedded_fuzzer"}},
	})

	mod, err := r.Get("cargo_fuzz")
	require.NoError(t, err)
	assert.Equal(t, "cargo_fuzz", mod.Metadata().Name)
}

func TestRegistryUnknownModuleListsRegistered(t *testing.T) {
	r := NewRegistry(RegistryParams{
		Logger:  zap.NewNop(),
		Modules: []Module{&stubModule{name: "embedded_fuzzer"}, &stubModule{name: "cargo_fuzz"}},
	})

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module: nope")
	assert.Contains(t, err.Error(), "cargo_fuzz, embedded_fuzzer")
}

func TestRegistrySkipsNilModules(t *testing.T) {
	var nilMod *stubModule
	r := NewRegistry(RegistryParams{
		Logger:  zap.NewNop(),
		Modules: []Module{nilMod, &stubModule{name: "cargo_fuzz"}},
	})

	assert.Equal(t, []string{"cargo_fuzz"}, r.Names())
}
