package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SetupDatadog must never fail startup: an absent or misconfigured agent
// degrades tracing to a no-op, and the returned shutdown stays callable.
func TestSetupDatadog(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "empty config falls back to defaults",
			cfg:  Config{},
		},
		{
			name: "default agent host",
			cfg: Config{
				Environment: "test",
				ServiceName: "copilot-test",
			},
		},
		{
			name: "custom agent host",
			cfg: Config{
				AgentHost:   "custom-host:4318",
				Environment: "staging",
				ServiceName: "copilot-staging",
			},
		},
		{
			name: "unreachable agent degrades gracefully",
			cfg: Config{
				AgentHost:   "localhost:99999",
				Environment: "test",
				ServiceName: "copilot-test",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			shutdown, err := SetupDatadog(ctx, tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, shutdown)

			// Spans fail to export silently when no agent listens;
			// shutdown still flushes without error.
			assert.NoError(t, shutdown(ctx))
		})
	}
}

func TestDefaultAgentHost_Value(t *testing.T) {
	assert.Equal(t, "localhost:4318", DefaultAgentHost)
}
