package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_DisabledIsNoop(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.Tracer())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestInstrumentedFunction_RecordsSuccessAndError(t *testing.T) {
	m, err := NewManager(DefaultConfig(), nil)
	require.NoError(t, err)

	fn := NewInstrumentedFunction(m.Tracer(), "flush_step")
	assert.NoError(t, fn.Execute(context.Background(), func(tc *TraceableContext) error {
		tc.SetAttribute("dispatched", 3)
		return nil
	}))

	wantErr := errors.New("downstream unavailable")
	err = fn.Execute(context.Background(), func(tc *TraceableContext) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestExtractTraceInfo_NoActiveSpan(t *testing.T) {
	traceID, spanID := ExtractTraceInfo(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}
