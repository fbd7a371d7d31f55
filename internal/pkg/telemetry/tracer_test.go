package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/samirrijal/geoar/internal/pkg/telemetry"
)

func TestInitTracer_InstallsProvider(t *testing.T) {
	shutdown, err := telemetry.InitTracer(context.Background(), "geoar-test", "127.0.0.1:4317")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	defer shutdown()

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
}
