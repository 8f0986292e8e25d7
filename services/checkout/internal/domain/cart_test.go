package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	p1 = "6f1c2a9e-2a4b-4d7e-9d0a-0c5f4e1b2a11"
	p2 = "9b8a7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c22"
)

func rawItems(t *testing.T, items ...any) []json.RawMessage {
	t.Helper()

	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestNormalizeCart_MergesDuplicates(t *testing.T) {
	cart, err := NormalizeCart(rawItems(t,
		map[string]any{"productId": p1, "quantity": 2, "unitPrice": 500},
		map[string]any{"productId": p1, "title": "Mug", "quantity": 3, "unitPrice": 900},
		map[string]any{"productId": p2, "title": "Tee", "quantity": 1, "unitPrice": 1500},
	))
	require.NoError(t, err)

	require.Equal(t, []CartLine{
		{ProductID: p1, Title: "Mug", UnitPrice: 500, Quantity: 5},
		{ProductID: p2, Title: "Tee", UnitPrice: 1500, Quantity: 1},
	}, cart.Lines)
	require.Equal(t, map[string]int64{p1: 5, p2: 1}, cart.Quantities)
	require.Equal(t, []string{p1, p2}, cart.ProductIDs())
}

func TestNormalizeCart_CoercesNumbers(t *testing.T) {
	cart, err := NormalizeCart(rawItems(t,
		map[string]any{"productId": p1, "quantity": "2.9", "unitPrice": " 499.6 "},
	))
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	require.Equal(t, int64(2), cart.Lines[0].Quantity)
	require.Equal(t, int64(500), cart.Lines[0].UnitPrice)
}

func TestNormalizeCart_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		items []json.RawMessage
	}{
		{"empty", nil},
		{"not an object", []json.RawMessage{json.RawMessage(`"p1"`)}},
		{"null entry", []json.RawMessage{json.RawMessage(`null`)}},
		{"bad product id", rawItems(t, map[string]any{"productId": "abc", "quantity": 1, "unitPrice": 1})},
		{"zero quantity", rawItems(t, map[string]any{"productId": p1, "quantity": 0.5, "unitPrice": 1})},
		{"negative quantity", rawItems(t, map[string]any{"productId": p1, "quantity": -1, "unitPrice": 1})},
		{"non numeric quantity", rawItems(t, map[string]any{"productId": p1, "quantity": "two", "unitPrice": 1})},
		{"missing price", rawItems(t, map[string]any{"productId": p1, "quantity": 1})},
		{"negative price", rawItems(t, map[string]any{"productId": p1, "quantity": 1, "unitPrice": -3})},
		{"bool price", rawItems(t, map[string]any{"productId": p1, "quantity": 1, "unitPrice": true})},
		{"nan string", rawItems(t, map[string]any{"productId": p1, "quantity": "NaN", "unitPrice": 1})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeCart(tc.items)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNormalizeCart_OneBadEntryRejectsAll(t *testing.T) {
	_, err := NormalizeCart(rawItems(t,
		map[string]any{"productId": p1, "quantity": 1, "unitPrice": 100},
		map[string]any{"productId": p2, "quantity": 0, "unitPrice": 100},
	))
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "item 1")
}

func TestNormalizeCart_ErrorNamesTheFault(t *testing.T) {
	cases := []struct {
		name string
		item map[string]any
		want string
	}{
		{"missing product id", map[string]any{"quantity": 1, "unitPrice": 1}, "productId is required"},
		{"malformed product id", map[string]any{"productId": "abc", "quantity": 1, "unitPrice": 1}, "productId must be a valid id"},
		{"non numeric quantity", map[string]any{"productId": p1, "quantity": "two", "unitPrice": 1}, "quantity must be a positive integer"},
		{"zero quantity", map[string]any{"productId": p1, "quantity": 0, "unitPrice": 1}, "quantity must be between 1 and"},
		{"missing price", map[string]any{"productId": p1, "quantity": 1}, "unitPrice must be a number"},
		{"negative price", map[string]any{"productId": p1, "quantity": 1, "unitPrice": -3}, "unitPrice must be a non-negative amount"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeCart(rawItems(t, tc.item))
			require.ErrorIs(t, err, ErrValidation)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
