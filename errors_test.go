package mprpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToWireErrorPreservesWrappedCode(t *testing.T) {
	inner := &WireError{Code: 42, Message: "boom"}
	wrapped := fmt.Errorf("context: %w", inner)

	got := toWireError(wrapped)
	require.Equal(t, int64(42), got.Code)
	require.Equal(t, "context: boom", got.Message)
}

func TestToWireErrorPlainError(t *testing.T) {
	got := toWireError(errors.New("plain"))
	require.Equal(t, "plain", got.Message)
	require.Equal(t, int64(0), got.Code)
}

func TestDefaultErrorDeserializerRoundTrip(t *testing.T) {
	we := &WireError{Code: 1, Message: "boom"}
	got := defaultErrorDeserializer(we)
	require.Same(t, we, got)
}

func TestIsShutdownSentinelFiltering(t *testing.T) {
	require.True(t, isShutdownSentinel(errShutdownSentinel))
	require.True(t, isShutdownSentinel(fmt.Errorf("wrap: %w", errShutdownSentinel)))
	require.False(t, isShutdownSentinel(errors.New("other")))
}

func TestJoinPipelineErrorsFiltersSentinelAndNil(t *testing.T) {
	require.NoError(t, joinPipelineErrors(nil, errShutdownSentinel))

	boom := errors.New("boom")
	err := joinPipelineErrors(boom, errShutdownSentinel)
	require.ErrorIs(t, err, boom)

	other := errors.New("other")
	err = joinPipelineErrors(boom, other)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, other)
}
