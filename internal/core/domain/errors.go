package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrDuplicateRequest = errors.New("duplicate request")
)

// NotFoundError is returned when a resource does not exist or does not
// belong to the expected parent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: id=%s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ForbiddenError is returned when the acting user does not own the store
// that transitively owns the resource.
type ForbiddenError struct {
	Resource string
	ID       string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("access to %s denied: id=%s", e.Resource, e.ID)
}

func (e *ForbiddenError) Is(target error) bool {
	_, ok := target.(*ForbiddenError)
	return ok
}

// InsufficientStockError names the product whose stock cannot cover the
// aggregated quantity requested by an order.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q (id=%s): requested=%d, available=%d",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	_, ok := target.(*InsufficientStockError)
	return ok
}

type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: field=%s, reason=%s, value=%v", e.Field, e.Reason, e.Value)
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func NewForbiddenError(resource, id string) error {
	return &ForbiddenError{Resource: resource, ID: id}
}

func NewInsufficientStockError(product Product, requested int) error {
	return &InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Requested:   requested,
		Available:   product.Stock,
	}
}

func NewValidationError(field, reason string, value interface{}) error {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
