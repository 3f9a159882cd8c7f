package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSample = Conflict("capacity_exceeded", "offer queue full")

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("create offer: %w", errSample.WithField("exchange_id"))
	require.ErrorIs(t, wrapped, errSample)
	require.False(t, errors.Is(wrapped, Conflict("duplicate_offer", "dup")))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindConflict, KindOf(fmt.Errorf("x: %w", errSample)))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, KindValidation, KindOf(Validation("price_mxn", "too low")))
}

func TestExternalKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := External("stripe", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindExternal, err.Kind)
	require.Contains(t, err.Error(), "timeout")
}

func TestCopiesDoNotMutateSentinel(t *testing.T) {
	e := errSample.WithDetails(map[string]any{"pending": 4}).Msg("queue full: %d", 4)
	require.Nil(t, errSample.Details)
	require.Equal(t, "offer queue full", errSample.Message)
	require.Equal(t, "queue full: 4", e.Message)
	got, ok := As(e)
	require.True(t, ok)
	require.Equal(t, 4, got.Details["pending"])
}
