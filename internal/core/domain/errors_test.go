package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("order", "o-1")
	assert.Equal(t, "order not found: id=o-1", err.Error())
	assert.True(t, errors.Is(err, &NotFoundError{}))

	wrapped := fmt.Errorf("load order: %w", err)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsForbidden(wrapped))

	var nf *NotFoundError
	require.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "o-1", nf.ID)
}

func TestForbiddenError(t *testing.T) {
	err := NewForbiddenError("store", "s-1")
	assert.True(t, IsForbidden(err))
	assert.True(t, errors.Is(err, &ForbiddenError{}))
	assert.Contains(t, err.Error(), "s-1")
}

func TestInsufficientStockError_NamesProduct(t *testing.T) {
	p := Product{ID: "p1", Name: "Olive Oil", Stock: 4, Price: decimal.NewFromInt(10)}
	err := NewInsufficientStockError(p, 5)

	assert.True(t, IsInsufficientStock(err))
	assert.Contains(t, err.Error(), "Olive Oil")

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 5, ise.Requested)
	assert.Equal(t, 4, ise.Available)
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("quantity", "must be at least 1", 0)
	assert.Equal(t, "invalid input: field=quantity, reason=must be at least 1, value=0", err.Error())
	assert.True(t, IsValidation(err))
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, st)

	st, err = ParseOrderStatus(" Delivered ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusDelivered, st)

	_, err = ParseOrderStatus("LOST")
	assert.True(t, IsValidation(err))
}

func TestAggregateQuantities(t *testing.T) {
	items := []OrderItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 3},
	}
	assert.Equal(t, map[string]int{"p1": 5, "p2": 1}, AggregateQuantities(items))
}

func TestOrderTotal(t *testing.T) {
	o := Order{Items: []OrderItem{
		{ProductID: "p1", Quantity: 2, Price: decimal.RequireFromString("9.99")},
		{ProductID: "p2", Quantity: 1, Price: decimal.RequireFromString("0.02")},
	}}
	assert.True(t, decimal.RequireFromString("20.00").Equal(o.Total()))
}

func TestProductValidate(t *testing.T) {
	valid := Product{StoreID: "s1", Name: "Mug", Price: decimal.NewFromInt(3), Stock: 0}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Price = decimal.Zero
	assert.True(t, IsValidation(bad.Validate()))

	bad = valid
	bad.Stock = -1
	assert.True(t, IsValidation(bad.Validate()))

	bad = valid
	bad.Price = decimal.RequireFromString("0.004")
	assert.True(t, IsValidation(bad.Validate()))

	bad = valid
	bad.Price = decimal.RequireFromString("19.999")
	assert.True(t, IsValidation(bad.Validate()))

	trailing := valid
	trailing.Price = decimal.RequireFromString("12.500")
	assert.NoError(t, trailing.Validate())
}
