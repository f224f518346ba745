package labsterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewTransportError("Query", TransportTimeout, inner)

	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "Query")
	require.Contains(t, err.Error(), "timeout")
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewSafetyLimitError("PowerSupply.Set", "psu", 1, "voltage", 7.0, 6.0)

	require.True(t, errors.Is(err, &Error{Kind: KindSafetyLimit}))
	require.False(t, errors.Is(err, &Error{Kind: KindProfile}))
}

func TestIsHelperUnwrapsWrappedError(t *testing.T) {
	base := NewReplayMismatchError("Replayer.Query", 3, "*IDN?", ":MEAS:VOLT?")
	wrapped := fmt.Errorf("bench open: %w", base)

	require.True(t, Is(wrapped, KindReplayMismatch))
	require.False(t, Is(wrapped, KindSession))

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, 3, got.Cursor)
}

func TestSafetyLimitErrorFieldsSurfaceInMessage(t *testing.T) {
	err := NewSafetyLimitError("PowerSupply.Set", "psu", 1, "voltage", 7.0, 6.0)
	msg := err.Error()

	require.Contains(t, msg, "alias=psu")
	require.Contains(t, msg, "channel=1")
	require.Contains(t, msg, "bound=6")
}
