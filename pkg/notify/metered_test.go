package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeteredSinkCountsDeliveries(t *testing.T) {
	next := &captureSink{}
	counts := map[string]int{}
	sink := NewMeteredSink(next, func(template string) { counts[template]++ })

	require.NoError(t, sink.Emit(context.Background(), "agent-1", "reminder", "fu-1", nil))
	require.NoError(t, sink.Emit(context.Background(), "agent-1", "reminder", "fu-2", nil))
	require.NoError(t, sink.Emit(context.Background(), "agent-1", "digest", "d-1", nil))

	assert.Equal(t, map[string]int{"reminder": 2, "digest": 1}, counts)
}

func TestMeteredSinkSkipsFailedDeliveries(t *testing.T) {
	next := &captureSink{failures: 1}
	counts := map[string]int{}
	sink := NewMeteredSink(next, func(template string) { counts[template]++ })

	require.Error(t, sink.Emit(context.Background(), "agent-1", "reminder", "fu-1", nil))
	assert.Empty(t, counts)
}

func TestMeteredSinkNilCounter(t *testing.T) {
	sink := NewMeteredSink(&captureSink{}, nil)
	require.NoError(t, sink.Emit(context.Background(), "agent-1", "reminder", "fu-1", nil))
}
