package port

import "errors"

var (
	// ErrStockConflict is returned by Tx.AdjustStock when a decrement would
	// drive stock below zero.
	ErrStockConflict = errors.New("stock conflict")

	ErrProductInUse = errors.New("product is referenced by orders")
)
