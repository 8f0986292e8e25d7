package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const maxLineValue = math.MaxInt32

var ErrValidation = errors.New("validation error")

// CartLine is a client-supplied line. Title and UnitPrice are hints only;
// they are replaced with catalogue values before an order is written.
type CartLine struct {
	ProductID string
	Title     string
	UnitPrice int64
	Quantity  int64
}

type NormalizedCart struct {
	Lines      []CartLine
	Quantities map[string]int64
}

func (c *NormalizedCart) ProductIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

// ValidProductID reports whether id has the catalogue identifier format.
func ValidProductID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// NormalizeCart validates raw line entries and merges duplicates by
// product id. Quantities are summed; the first non-empty title and the
// first price win. Output keeps first-seen order.
func NormalizeCart(raw []json.RawMessage) (*NormalizedCart, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrValidation)
	}

	cart := &NormalizedCart{Quantities: make(map[string]int64, len(raw))}
	index := make(map[string]int, len(raw))

	for i, entry := range raw {
		line, err := parseLine(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %s", ErrValidation, i, err.Error())
		}

		pos, seen := index[line.ProductID]
		if !seen {
			index[line.ProductID] = len(cart.Lines)
			cart.Lines = append(cart.Lines, line)
			cart.Quantities[line.ProductID] = line.Quantity
			continue
		}

		existing := &cart.Lines[pos]
		existing.Quantity += line.Quantity
		if existing.Quantity > maxLineValue {
			return nil, fmt.Errorf("%w: item %d: quantity too large", ErrValidation, i)
		}
		if existing.Title == "" {
			existing.Title = line.Title
		}
		cart.Quantities[line.ProductID] = existing.Quantity
	}

	return cart, nil
}

func parseLine(entry json.RawMessage) (CartLine, error) {
	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return CartLine{}, errors.New("expected object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return CartLine{}, errors.New("expected object")
	}

	productID := trimmedString(fields["productId"])
	if productID == "" {
		return CartLine{}, errors.New("productId is required")
	}
	if !ValidProductID(productID) {
		return CartLine{}, errors.New("productId must be a valid id")
	}

	quantity, ok := coerceNumber(fields["quantity"])
	if !ok {
		return CartLine{}, errors.New("quantity must be a positive integer")
	}
	quantity = math.Floor(quantity)
	if quantity < 1 || quantity > maxLineValue {
		return CartLine{}, fmt.Errorf("quantity must be between 1 and %d", maxLineValue)
	}

	unitPrice, ok := coerceNumber(fields["unitPrice"])
	if !ok {
		return CartLine{}, errors.New("unitPrice must be a number")
	}
	unitPrice = math.Round(unitPrice)
	if unitPrice < 0 || unitPrice > maxLineValue {
		return CartLine{}, errors.New("unitPrice must be a non-negative amount")
	}

	return CartLine{
		ProductID: strings.ToLower(productID),
		Title:     trimmedString(fields["title"]),
		UnitPrice: int64(unitPrice),
		Quantity:  int64(quantity),
	}, nil
}

func trimmedString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// coerceNumber accepts JSON numbers and numeric strings.
func coerceNumber(v any) (float64, bool) {
	var (
		f   float64
		err error
	)

	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return 0, false
	}

	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
