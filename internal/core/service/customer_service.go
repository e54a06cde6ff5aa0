package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

type CreateCustomerInput struct {
	StoreID string
	Name    string
	Phone   string
}

type customerRepository interface {
	port.StoreRepository
	port.CustomerRepository
}

type CustomerService struct {
	db  customerRepository
	now func() time.Time
}

func NewCustomerService(db customerRepository) *CustomerService {
	return &CustomerService{db: db, now: time.Now}
}

func (s *CustomerService) Create(ctx context.Context, in CreateCustomerInput, userID string) (*domain.Customer, error) {
	store, err := ownedStore(ctx, s.db, in.StoreID, userID)
	if err != nil {
		return nil, err
	}

	c := domain.Customer{
		ID:        uuid.NewString(),
		StoreID:   store.ID,
		Name:      strings.TrimSpace(in.Name),
		Phone:     strings.TrimSpace(in.Phone),
		CreatedAt: s.now().UTC(),
	}
	if c.Name == "" {
		return nil, domain.NewValidationError("name", "cannot be empty", in.Name)
	}
	if c.Phone == "" {
		return nil, domain.NewValidationError("phone", "cannot be empty", in.Phone)
	}

	if err := s.db.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CustomerService) Get(ctx context.Context, customerID, userID string) (*domain.Customer, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	c, err := s.db.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if c == nil {
		return nil, domain.NewNotFoundError("customer", customerID)
	}
	if _, err := ownedStore(ctx, s.db, c.StoreID, userID); err != nil {
		if domain.IsForbidden(err) {
			return nil, domain.NewForbiddenError("customer", customerID)
		}
		return nil, err
	}
	return c, nil
}

func (s *CustomerService) List(ctx context.Context, storeID, userID string) ([]domain.Customer, error) {
	if _, err := ownedStore(ctx, s.db, storeID, userID); err != nil {
		return nil, err
	}
	return s.db.ListCustomers(ctx, storeID)
}
