package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/scangate/internal/model"
	"github.com/CZERTAINLY/scangate/internal/telemetry"
)

func TestInitDisabled(t *testing.T) {
	t.Parallel()
	shutdown, err := telemetry.Init(t.Context(), model.Telemetry{}, "run")
	require.NoError(t, err)
	require.NoError(t, shutdown(t.Context()))
}

func TestInitEnabled(t *testing.T) {
	shutdown, err := telemetry.Init(t.Context(), model.Telemetry{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		SampleRatio: 1,
	}, "run")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	// nothing listens on the endpoint, only the provider teardown matters
	_ = shutdown(ctx)
}
