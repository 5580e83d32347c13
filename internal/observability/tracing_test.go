package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "marketchat-test", Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	span, ctx := NewSpan(context.Background(), "noop")
	require.NotNil(t, ctx)
	span.SetError(errors.New("recorded on a noop span"))
	span.End()
}

func TestInitTracingStdoutExporter(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{
		ServiceName:  "marketchat-test",
		Environment:  "test",
		Enabled:      true,
		Exporter:     "stdout",
		SamplerRatio: 1.0,
	})
	require.NoError(t, err)

	span, _ := NewSpan(context.Background(), "startup")
	assert.NotEmpty(t, span.TraceID())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
