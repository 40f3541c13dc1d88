package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusOpen, StatusPayment, true},
		{StatusOpen, StatusClosed, true},
		{StatusPayment, StatusClosed, true},
		{StatusPayment, StatusOpen, false},
		{StatusPayment, StatusPayment, false},
		{StatusClosed, StatusOpen, false},
		{StatusClosed, StatusPayment, false},
		{StatusClosed, StatusClosed, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPriceCart_GrossIsSumOfSubtotals(t *testing.T) {
	lines, gross, err := PriceCart([]CartLineInput{
		{ItemID: 7, Name: "Nasi Goreng", Quantity: 2, UnitPrice: 15000},
		{ItemID: 3, Name: "Es Teh", Quantity: 3, UnitPrice: 4000},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, int64(30000), lines[0].Subtotal)
	assert.Equal(t, int64(12000), lines[1].Subtotal)
	assert.Equal(t, int64(42000), gross)
	assert.Equal(t, GrossOf(lines), gross)
	assert.Equal(t, int64(7), lines[0].ItemID, "order is preserved")
}

func TestPriceCart_Empty(t *testing.T) {
	lines, gross, err := PriceCart(nil)
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
	assert.Zero(t, gross)
}

func TestPriceCart_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   []CartLineInput
	}{
		{"zero item id", []CartLineInput{{ItemID: 0, Name: "x", Quantity: 1}}},
		{"zero quantity", []CartLineInput{{ItemID: 1, Name: "x", Quantity: 0}}},
		{"negative price", []CartLineInput{{ItemID: 1, Name: "x", Quantity: 1, UnitPrice: -1}}},
		{"blank name", []CartLineInput{{ItemID: 1, Name: "  ", Quantity: 1}}},
		{"duplicate", []CartLineInput{
			{ItemID: 1, Name: "x", Quantity: 1},
			{ItemID: 1, Name: "x", Quantity: 2},
		}},
		{"quantity above line maximum", []CartLineInput{{ItemID: 1, Name: "x", Quantity: MaxLineQuantity + 1}}},
		{"subtotal overflow", []CartLineInput{{ItemID: 1, Name: "x", Quantity: MaxLineQuantity, UnitPrice: math.MaxInt64 / 3}}},
		{"gross overflow", []CartLineInput{
			{ItemID: 1, Name: "x", Quantity: 1, UnitPrice: math.MaxInt64},
			{ItemID: 2, Name: "y", Quantity: 1, UnitPrice: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := PriceCart(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestNormalizeName_NFC(t *testing.T) {
	decomposed := "Cafe\u0301 Latte "
	assert.Equal(t, "Caf\u00e9 Latte", NormalizeName(decomposed))
}

func TestSnapshot_WireFormat(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{
		ID:     "s-1",
		Status: StatusOpen,
		Cart: []CartLine{
			{ItemID: 7, Name: "Nasi Goreng", Quantity: 2, UnitPrice: 15000, Subtotal: 30000},
		},
		GrossAmount: 30000,
		UpdatedAt:   updated,
		Version:     2,
	}

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.Equal(t,
		`{"sessionId":"s-1","status":"OPEN","cart":[{"itemId":7,"name":"Nasi Goreng","quantity":2,"unitPrice":15000,"subtotal":30000}],"grossAmount":30000,"updatedAt":"2026-03-01T10:00:00Z"}`,
		string(data))
}

func TestSnapshot_PaymentFields(t *testing.T) {
	exp := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	s := &Session{
		ID:          "s-1",
		Status:      StatusPayment,
		Cart:        []CartLine{},
		QRPayload:   "QR",
		ExpireAt:    exp,
		UpdatedAt:   exp.Add(-15 * time.Minute),
		GrossAmount: 0,
	}

	snap := s.Snapshot()
	require.NotNil(t, snap.ExpireAt)
	assert.Equal(t, exp, *snap.ExpireAt)
	assert.Equal(t, "QR", snap.QRPayload)
	assert.False(t, snap.Terminal())

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cart":[]`)
	assert.Contains(t, string(data), `"qrPayload":"QR","expireAt":"2026-03-01T10:15:00Z"`)
}

func TestSnapshot_CopiesCart(t *testing.T) {
	s := &Session{Cart: []CartLine{{ItemID: 1, Quantity: 1}}}
	snap := s.Snapshot()
	snap.Cart[0].Quantity = 99
	assert.Equal(t, int64(1), s.Cart[0].Quantity)
}
