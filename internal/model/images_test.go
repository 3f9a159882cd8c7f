package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImageSlotsSetClear(t *testing.T) {
	var s ImageSlots
	old, err := s.Set(1, "https://b/p/1.jpg")
	require.NoError(t, err)
	require.Empty(t, old)

	old, err = s.Set(1, "https://b/p/2.jpg")
	require.NoError(t, err)
	require.Equal(t, "https://b/p/1.jpg", old)

	got, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, "https://b/p/2.jpg", got)
	require.Equal(t, "https://b/p/2.jpg", s.Main())

	old, err = s.Clear(1)
	require.NoError(t, err)
	require.Equal(t, "https://b/p/2.jpg", old)
	_, ok = s.Get(1)
	require.False(t, ok)

	_, err = s.Set(3, "x")
	require.Error(t, err)
}

func TestImageSlotsColumnRoundTrip(t *testing.T) {
	s := ImageSlots{"a", "", "c"}
	v, err := s.Value()
	require.NoError(t, err)

	var back ImageSlots
	require.NoError(t, back.Scan(v))
	require.Equal(t, s, back)
	require.Equal(t, []string{"a", "c"}, back.URLs())

	b, err := json.Marshal(back)
	require.NoError(t, err)
	require.JSONEq(t, `["a","c"]`, string(b))
}
