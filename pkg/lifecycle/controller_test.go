package lifecycle_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/lifecycle"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
)

type recordingDeployer struct {
	deployErr error
	running   atomic.Bool

	deployCalls atomic.Int32
	stopCalls   atomic.Int32
	lastSpec    atomic.Pointer[runtime.DeploySpec]
}

func (d *recordingDeployer) Deploy(_ context.Context, spec *runtime.DeploySpec) (*runtime.Handle, error) {
	d.deployCalls.Add(1)
	d.lastSpec.Store(spec)
	if d.deployErr != nil {
		return nil, d.deployErr
	}
	return &runtime.Handle{ID: "h-" + spec.Name, Name: spec.Name}, nil
}

func (d *recordingDeployer) Stop(_ context.Context, _ *runtime.Handle) error {
	d.stopCalls.Add(1)
	return nil
}

func (d *recordingDeployer) IsRunning(_ context.Context, _ *runtime.Handle) (bool, error) {
	return d.running.Load(), nil
}

func stdioCommandConfig(name string) *config.ServerConfig {
	return &config.ServerConfig{
		Name:      name,
		Command:   "/usr/local/bin/" + name,
		Transport: config.TransportTypeStdio,
	}
}

func httpConfigFor(t *testing.T, name, serverURL string) *config.ServerConfig {
	t.Helper()

	parsed, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	return &config.ServerConfig{
		Name:      name,
		Image:     "example/" + name,
		Transport: config.TransportTypeHTTP,
		Network:   &config.NetworkSpec{Host: parsed.Hostname(), Port: port},
	}
}

func TestStartStdioBackend(t *testing.T) {
	t.Parallel()

	processes := &recordingDeployer{}
	processes.running.Store(true)
	controller := lifecycle.NewController(&recordingDeployer{}, processes)

	handle, err := controller.Start(context.Background(), stdioCommandConfig("a"),
		map[string]string{"KEY": "value"})
	require.NoError(t, err)
	assert.Equal(t, "a", handle.Name)

	// Command configs go through the process deployer with stdio attached.
	assert.Equal(t, 1, int(processes.deployCalls.Load()))
	spec := processes.lastSpec.Load()
	assert.True(t, spec.AttachStdio)
	assert.Equal(t, "value", spec.Env["KEY"])
}

func TestStartStdioImmediateExit(t *testing.T) {
	t.Parallel()

	processes := &recordingDeployer{} // running stays false
	controller := lifecycle.NewController(&recordingDeployer{}, processes)

	_, err := controller.Start(context.Background(), stdioCommandConfig("a"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsLaunch(err))
	// The dead workload is cleaned up.
	assert.Equal(t, 1, int(processes.stopCalls.Load()))
}

func TestStartDeployFailure(t *testing.T) {
	t.Parallel()

	processes := &recordingDeployer{deployErr: assert.AnError}
	controller := lifecycle.NewController(&recordingDeployer{}, processes)

	_, err := controller.Start(context.Background(), stdioCommandConfig("a"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsLaunch(err))
}

func TestStartImageWithoutContainerRuntime(t *testing.T) {
	t.Parallel()

	// A controller built without a container deployer still serves command
	// configs but rejects image-backed ones.
	controller := lifecycle.NewController(nil, &recordingDeployer{})

	cfg := &config.ServerConfig{
		Name:      "web",
		Image:     "example/web",
		Transport: config.TransportTypeHTTP,
		Network:   &config.NetworkSpec{Port: 8080},
	}
	_, err := controller.Start(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.IsLaunch(err))
	assert.Contains(t, err.Error(), "container runtime unavailable")
}

func TestStartHTTPWaitsForHealth(t *testing.T) {
	t.Parallel()

	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Fail the first probe so the backoff retry is exercised.
		if probes.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	containers := &recordingDeployer{}
	containers.running.Store(true)
	controller := lifecycle.NewController(containers, &recordingDeployer{})

	cfg := httpConfigFor(t, "web", server.URL)
	handle, err := controller.Start(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, handle)
	assert.GreaterOrEqual(t, int(probes.Load()), 2)

	// Image configs carry their port binding into the deploy spec.
	spec := containers.lastSpec.Load()
	require.Len(t, spec.PortBindings, 1)
	assert.Equal(t, cfg.Network.Port, spec.PortBindings[0].HostPort)
}

func TestStartHTTPHealthTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	containers := &recordingDeployer{}
	containers.running.Store(true)
	controller := lifecycle.NewController(containers, &recordingDeployer{})

	cfg := httpConfigFor(t, "web", server.URL)
	cfg.HealthCheck = &config.HealthCheck{URL: server.URL + "/health", Timeout: 200 * time.Millisecond}

	_, err := controller.Start(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.IsHealthCheckTimeout(err))
	// The partially started workload is torn down.
	assert.Equal(t, 1, int(containers.stopCalls.Load()))
}

func TestStopNilHandle(t *testing.T) {
	t.Parallel()

	controller := lifecycle.NewController(&recordingDeployer{}, &recordingDeployer{})
	assert.NoError(t, controller.Stop(context.Background(), stdioCommandConfig("a"), nil))
}

func TestIsHealthyStdio(t *testing.T) {
	t.Parallel()

	processes := &recordingDeployer{}
	processes.running.Store(true)
	controller := lifecycle.NewController(&recordingDeployer{}, processes)

	cfg := stdioCommandConfig("a")
	handle := &runtime.Handle{ID: "h", Name: "a"}

	healthy, err := controller.IsHealthy(context.Background(), cfg, handle)
	require.NoError(t, err)
	assert.True(t, healthy)

	processes.running.Store(false)
	healthy, err = controller.IsHealthy(context.Background(), cfg, handle)
	require.NoError(t, err)
	assert.False(t, healthy)
}

func TestMonitorReportsCrash(t *testing.T) {
	t.Parallel()

	processes := &recordingDeployer{}
	processes.running.Store(true)
	controller := lifecycle.NewController(&recordingDeployer{}, processes)

	cfg := stdioCommandConfig("a")
	handle := &runtime.Handle{ID: "h", Name: "a"}

	errCh, stop, err := controller.Monitor(context.Background(), cfg, handle)
	require.NoError(t, err)
	t.Cleanup(stop)

	processes.running.Store(false)
	select {
	case exitErr := <-errCh:
		assert.ErrorIs(t, exitErr, runtime.ErrWorkloadExited)
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not report the crash")
	}
}
