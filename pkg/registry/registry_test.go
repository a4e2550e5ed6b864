package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/registry"
)

func stdioConfig(name string) *config.ServerConfig {
	return &config.ServerConfig{
		Name:      name,
		Image:     "example/" + name + ":latest",
		Transport: config.TransportTypeStdio,
	}
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))
	require.NoError(t, reg.Register(stdioConfig("fetch")))

	cfg, ok := reg.Get("fetch")
	require.True(t, ok)
	assert.Equal(t, "fetch", cfg.Name)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))

	assert.True(t, errors.IsConfig(reg.Register(nil)))
	assert.True(t, errors.IsConfig(reg.Register(&config.ServerConfig{Name: ""})))
}

func TestListAndNamesSorted(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))
	require.NoError(t, reg.Register(stdioConfig("zeta")))
	require.NoError(t, reg.Register(stdioConfig("alpha")))
	require.NoError(t, reg.Register(stdioConfig("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())

	configs := reg.List()
	require.Len(t, configs, 3)
	assert.Equal(t, "alpha", configs[0].Name)
	assert.Equal(t, "zeta", configs[2].Name)
}

func TestRegisterReplaceFiresHook(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))
	var replaced []string
	reg.OnReplace(func(name string) { replaced = append(replaced, name) })

	require.NoError(t, reg.Register(stdioConfig("fetch")))
	assert.Empty(t, replaced)

	// Same name again replaces the config and fires the hook.
	updated := stdioConfig("fetch")
	updated.Image = "example/fetch:v2"
	require.NoError(t, reg.Register(updated))
	assert.Equal(t, []string{"fetch"}, replaced)

	cfg, _ := reg.Get("fetch")
	assert.Equal(t, "example/fetch:v2", cfg.Image)
}

func TestReplaceHookObservesNewConfig(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))

	// The new config must already be stored when the hook runs, so anything
	// rebuilding a connection during the hook sees the replacement.
	var seenImage string
	reg.OnReplace(func(name string) {
		if cfg, ok := reg.Get(name); ok {
			seenImage = cfg.Image
		}
	})

	require.NoError(t, reg.Register(stdioConfig("fetch")))
	updated := stdioConfig("fetch")
	updated.Image = "example/fetch:v2"
	require.NoError(t, reg.Register(updated))

	assert.Equal(t, "example/fetch:v2", seenImage)
}

func TestUnregisterHookObservesRemoval(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))

	var present bool
	reg.OnReplace(func(name string) {
		_, present = reg.Get(name)
	})

	require.NoError(t, reg.Register(stdioConfig("fetch")))
	require.NoError(t, reg.Unregister("fetch"))
	assert.False(t, present)
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))
	var replaced []string
	reg.OnReplace(func(name string) { replaced = append(replaced, name) })

	require.NoError(t, reg.Register(stdioConfig("fetch")))
	require.NoError(t, reg.Unregister("fetch"))
	assert.Equal(t, []string{"fetch"}, replaced)

	_, ok := reg.Get("fetch")
	assert.False(t, ok)

	err := reg.Unregister("fetch")
	assert.True(t, errors.IsConfig(err))
}

func TestCheckAvailability(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader{"PRESENT_KEY": "value"})

	ready := stdioConfig("ready")
	ready.RequiredEnv = []string{"PRESENT_KEY"}
	require.NoError(t, reg.Register(ready))

	blocked := stdioConfig("blocked")
	blocked.RequiredEnv = []string{"PRESENT_KEY", "MISSING_KEY"}
	require.NoError(t, reg.Register(blocked))

	unconditional := stdioConfig("unconditional")
	require.NoError(t, reg.Register(unconditional))

	results := reg.CheckAvailability()
	require.Len(t, results, 3)

	assert.True(t, results["ready"].Available)
	assert.Empty(t, results["ready"].MissingEnv)

	assert.False(t, results["blocked"].Available)
	assert.Equal(t, []string{"MISSING_KEY"}, results["blocked"].MissingEnv)

	assert.True(t, results["unconditional"].Available)
}

func TestCheckAvailabilityUsesResolvedEnv(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(env.MapReader(nil))

	// A required key satisfied by a literal config value does not need to
	// exist in the hub's own environment.
	cfg := stdioConfig("selfcontained")
	cfg.RequiredEnv = []string{"API_KEY"}
	cfg.Env = map[string]string{"API_KEY": "literal-value"}
	require.NoError(t, reg.Register(cfg))

	result := reg.CheckServerAvailability(cfg)
	assert.True(t, result.Available)

	// A placeholder that resolves to nothing stays missing.
	cfg2 := stdioConfig("placeholder")
	cfg2.RequiredEnv = []string{"API_KEY"}
	cfg2.Env = map[string]string{"API_KEY": "${UNSET_KEY}"}
	require.NoError(t, reg.Register(cfg2))

	result = reg.CheckServerAvailability(cfg2)
	assert.False(t, result.Available)
	assert.Equal(t, []string{"API_KEY"}, result.MissingEnv)
}
