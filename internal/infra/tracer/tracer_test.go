package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"wasm-arena/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok)
}

func TestSetupExporters(t *testing.T) {
	for _, exp := range []string{"", "noop", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp})
		require.NoError(t, err, exp)
		require.NoError(t, shutdown(context.Background()))
	}

	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestDoRecordsStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	err := Do(context.Background(), "wasm.call", func(context.Context) error { return nil },
		StringAttr("export", "render"))
	require.NoError(t, err)

	boom := errors.New("trap")
	err = Do(context.Background(), "wasm.call", func(context.Context) error { return boom },
		IntAttr("args", 2), BoolAttr("allocator", true))
	assert.ErrorIs(t, err, boom)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "wasm.call", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "trap", spans[1].Status().Description)
}

func TestAttrHelpers(t *testing.T) {
	assert.Equal(t, "key", string(StringAttr("key", "value").Key))
	assert.Equal(t, int64(42), IntAttr("count", 42).Value.AsInt64())
	assert.True(t, BoolAttr("ok", true).Value.AsBool())
}
