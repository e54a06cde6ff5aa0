package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

type CreateProductInput struct {
	StoreID     string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Published   bool
}

// UpdateProductInput carries a partial update; nil fields are left as is.
type UpdateProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	Published   *bool
}

type productRepository interface {
	port.StoreRepository
	port.ProductRepository
	port.TxRunner
}

type ProductService struct {
	db  productRepository
	now func() time.Time
}

func NewProductService(db productRepository) *ProductService {
	return &ProductService{db: db, now: time.Now}
}

func (s *ProductService) Create(ctx context.Context, in CreateProductInput, userID string) (*domain.Product, error) {
	store, err := ownedStore(ctx, s.db, in.StoreID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := domain.Product{
		ID:          uuid.NewString(),
		StoreID:     store.ID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Published:   in.Published,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProductService) Get(ctx context.Context, productID, userID string) (*domain.Product, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	p, err := s.db.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if p == nil {
		return nil, domain.NewNotFoundError("product", productID)
	}
	if _, err := ownedStore(ctx, s.db, p.StoreID, userID); err != nil {
		if domain.IsForbidden(err) {
			return nil, domain.NewForbiddenError("product", productID)
		}
		return nil, err
	}
	return p, nil
}

func (s *ProductService) List(ctx context.Context, storeID, userID string) ([]domain.Product, error) {
	if _, err := ownedStore(ctx, s.db, storeID, userID); err != nil {
		return nil, err
	}
	return s.db.ListProducts(ctx, storeID, false)
}

// ListPublished is the storefront view and needs no identity.
func (s *ProductService) ListPublished(ctx context.Context, storeID string) ([]domain.Product, error) {
	store, err := s.db.GetStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	if store == nil {
		return nil, domain.NewNotFoundError("store", storeID)
	}
	return s.db.ListProducts(ctx, storeID, true)
}

func (s *ProductService) Update(ctx context.Context, productID string, in UpdateProductInput, userID string) (*domain.Product, error) {
	p, err := s.Get(ctx, productID, userID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Published != nil {
		p.Published = *in.Published
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.db.UpdateProduct(ctx, *p); err != nil {
		return nil, err
	}
	if in.Stock != nil {
		if err := s.setStock(ctx, p.StoreID, p.ID, *in.Stock); err != nil {
			return nil, err
		}
	}

	updated, err := s.db.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if updated == nil {
		return nil, domain.NewNotFoundError("product", productID)
	}
	return updated, nil
}

// setStock moves stock to target under the product row lock.
func (s *ProductService) setStock(ctx context.Context, storeID, productID string, target int) error {
	return s.db.WithinTx(ctx, func(tx port.Tx) error {
		locked, err := tx.LockProducts(ctx, storeID, []string{productID})
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if len(locked) == 0 {
			return domain.NewNotFoundError("product", productID)
		}
		delta := target - locked[0].Stock
		if delta == 0 {
			return nil
		}
		return tx.AdjustStock(ctx, productID, delta)
	})
}

func (s *ProductService) Delete(ctx context.Context, productID, userID string) error {
	if _, err := s.Get(ctx, productID, userID); err != nil {
		return err
	}

	err := s.db.DeleteProduct(ctx, productID)
	if errors.Is(err, port.ErrProductInUse) {
		return domain.NewValidationError("productId", "product is referenced by orders", productID)
	}
	return err
}
