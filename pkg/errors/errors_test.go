package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
)

func TestErrorMessageFormat(t *testing.T) {
	t.Parallel()

	err := errors.NewLaunchError("fetch", "workload failed to start", stderrors.New("exit 1"))
	msg := err.Error()
	assert.Contains(t, msg, "launch")
	assert.Contains(t, msg, "server=fetch")
	assert.Contains(t, msg, "phase=start")
	assert.Contains(t, msg, "workload failed to start")
	assert.Contains(t, msg, "exit 1")

	bare := errors.NewToolNotFoundError("tool not found: x")
	assert.NotContains(t, bare.Error(), "server=")
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("connection refused")
	err := errors.NewTransportError("fetch", "call failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestTypePredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"config", errors.NewConfigError("bad", nil), errors.IsConfig},
		{"availability", errors.NewAvailabilityError("s", "missing"), errors.IsAvailability},
		{"launch", errors.NewLaunchError("s", "boom", nil), errors.IsLaunch},
		{"health check timeout", errors.NewHealthCheckTimeoutError("s", "slow", nil), errors.IsHealthCheckTimeout},
		{"discovery", errors.NewDiscoveryError("s", "no tools", nil), errors.IsDiscovery},
		{"name collision", errors.NewNameCollisionError("s", "dup"), errors.IsNameCollision},
		{"transport", errors.NewTransportError("s", "broken pipe", nil), errors.IsTransport},
		{"call timeout", errors.NewCallTimeoutError("s", "slow call", nil), errors.IsCallTimeout},
		{"tool not found", errors.NewToolNotFoundError("x"), errors.IsToolNotFound},
		{"tool not visible", errors.NewToolNotVisibleError("x"), errors.IsToolNotVisible},
		{"server not active", errors.NewServerNotActiveError("s", "stopped"), errors.IsServerNotActive},
		{"internal", errors.NewInternalError("bug", nil), errors.IsInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.True(t, tc.check(tc.err))
			// A predicate only matches its own type.
			if tc.name != "config" {
				assert.False(t, errors.IsConfig(tc.err))
			}
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("starting server: %w", errors.NewLaunchError("fetch", "boom", nil))
	assert.True(t, errors.IsLaunch(err))

	var typed *errors.Error
	require.True(t, stderrors.As(err, &typed))
	assert.Equal(t, "fetch", typed.Server)
}

func TestPredicatesRejectForeignErrors(t *testing.T) {
	t.Parallel()

	assert.False(t, errors.IsLaunch(stderrors.New("plain")))
	assert.False(t, errors.IsLaunch(nil))
}
