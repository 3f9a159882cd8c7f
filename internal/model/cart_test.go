package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCartLineValidates(t *testing.T) {
	_, err := NewCartLine(0, 1)
	require.ErrorIs(t, err, ErrInvalidProductID)
	_, err = NewCartLine(1, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	line, err := NewCartLine(7, 2)
	require.NoError(t, err)
	require.Equal(t, CartLine{ProductID: 7, Quantity: 2}, line)
}

func TestCartLinesMergeKeepsOrder(t *testing.T) {
	var lines CartLines
	lines = lines.Add(CartLine{ProductID: 1, Quantity: 1})
	lines = lines.Add(CartLine{ProductID: 2, Quantity: 3})
	lines = lines.Add(CartLine{ProductID: 1, Quantity: 2})

	require.Equal(t, CartLines{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 3}}, lines)
	require.Equal(t, 6, lines.TotalItems())
	require.Equal(t, []int64{1, 2}, lines.ProductIDs())
}

func TestCartLinesUpdateAndRemove(t *testing.T) {
	lines := CartLines{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}

	_, err := lines.SetQuantity(1, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = lines.SetQuantity(9, 2)
	require.ErrorIs(t, err, ErrLineNotInCart)

	updated, err := lines.SetQuantity(2, 5)
	require.NoError(t, err)
	require.Equal(t, 5, updated[1].Quantity)
	require.Equal(t, 1, lines[1].Quantity)

	removed, err := updated.Remove(1)
	require.NoError(t, err)
	require.Equal(t, CartLines{{ProductID: 2, Quantity: 5}}, removed)

	_, err = removed.Remove(1)
	require.ErrorIs(t, err, ErrLineNotInCart)
}

func TestCartLinesColumn(t *testing.T) {
	v, err := CartLines(nil).Value()
	require.NoError(t, err)
	require.Equal(t, "[]", v)

	var back CartLines
	require.NoError(t, back.Scan([]byte(`[{"product_id":3,"quantity":2}]`)))
	require.Equal(t, CartLines{{ProductID: 3, Quantity: 2}}, back)
}
