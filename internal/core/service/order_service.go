package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/port"
)

// ErrDuplicateRequest is returned when a RequestID is replayed.
var ErrDuplicateRequest = domain.ErrDuplicateRequest

type OrderItemInput struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

type CreateOrderInput struct {
	StoreID       string
	CustomerName  string
	CustomerPhone string
	Address       string
	Notes         string
	CustomerID    *string
	// RequestID makes the call idempotent when set.
	RequestID string
	Items     []OrderItemInput
}

func (in CreateOrderInput) validate() error {
	if strings.TrimSpace(in.StoreID) == "" {
		return domain.NewValidationError("storeId", "cannot be empty", in.StoreID)
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return domain.NewValidationError("customerName", "cannot be empty", in.CustomerName)
	}
	if strings.TrimSpace(in.CustomerPhone) == "" {
		return domain.NewValidationError("customerPhone", "cannot be empty", in.CustomerPhone)
	}
	if len(in.Items) == 0 {
		return domain.NewValidationError("items", "at least one item is required", len(in.Items))
	}
	for i, item := range in.Items {
		if item.ProductID == "" {
			return domain.NewValidationError(fmt.Sprintf("items[%d].productId", i), "cannot be empty", item.ProductID)
		}
		if item.Quantity < 1 {
			return domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be at least 1", item.Quantity)
		}
		if !item.Price.IsPositive() {
			return domain.NewValidationError(fmt.Sprintf("items[%d].price", i), "must be positive", item.Price.String())
		}
		if !domain.FitsPriceScale(item.Price) {
			return domain.NewValidationError(fmt.Sprintf("items[%d].price", i), "must have at most 2 decimal places", item.Price.String())
		}
	}
	return nil
}

type OrderService struct {
	db          port.DatabaseRepository
	idempotency port.IdempotencyGuard
	notifier    port.OrderNotifier
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

type OrderOption func(*OrderService)

func WithIdempotency(guard port.IdempotencyGuard) OrderOption {
	return func(s *OrderService) { s.idempotency = guard }
}

func WithNotifier(n port.OrderNotifier) OrderOption {
	return func(s *OrderService) { s.notifier = n }
}

func WithOrderMetrics(m *metrics.Metrics) OrderOption {
	return func(s *OrderService) { s.metrics = m }
}

func WithOrderLogger(log zerolog.Logger) OrderOption {
	return func(s *OrderService) { s.log = log }
}

func NewOrderService(db port.DatabaseRepository, opts ...OrderOption) *OrderService {
	s := &OrderService{
		db:  db,
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder places an order for a store owned by userID. Stock is
// checked and decremented per product on the aggregated quantity inside
// the same transaction that inserts the order.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput, userID string) (order *domain.Order, err error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	store, err := ownedStore(ctx, s.db, in.StoreID, userID)
	if err != nil {
		return nil, err
	}

	if in.RequestID != "" && s.idempotency != nil {
		key := fmt.Sprintf("order:%s:%s", userID, in.RequestID)
		ok, err := s.idempotency.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			// let the client retry a request that did not commit
			if relErr := s.idempotency.ReleaseIdempotency(context.WithoutCancel(ctx), key); relErr != nil {
				s.log.Warn().Err(relErr).Str("key", key).Msg("failed to release idempotency key")
			}
		}()
	}

	now := s.now().UTC()
	o := domain.Order{
		ID:            uuid.NewString(),
		StoreID:       store.ID,
		CustomerID:    in.CustomerID,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Address:       in.Address,
		Notes:         in.Notes,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range in.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	var customer *domain.Customer
	err = s.db.WithinTx(ctx, func(tx port.Tx) error {
		required := o.QuantitiesByProduct()
		ids := sortedKeys(required)

		products, err := tx.LockProducts(ctx, store.ID, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]domain.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		if len(byID) != len(ids) {
			for _, id := range ids {
				if _, ok := byID[id]; !ok {
					return domain.NewNotFoundError("product", id)
				}
			}
		}

		for _, id := range ids {
			if p := byID[id]; p.Stock < required[id] {
				return domain.NewInsufficientStockError(p, required[id])
			}
		}

		if o.CustomerID != nil {
			c, err := tx.GetCustomer(ctx, *o.CustomerID)
			if err != nil {
				return err
			}
			if c == nil || c.StoreID != store.ID {
				return domain.NewNotFoundError("customer", *o.CustomerID)
			}
			customer = c
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		for _, id := range ids {
			if err := tx.AdjustStock(ctx, id, -required[id]); err != nil {
				if errors.Is(err, port.ErrStockConflict) {
					return domain.NewInsufficientStockError(byID[id], required[id])
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if domain.IsInsufficientStock(err) {
			s.metrics.StockRejected()
		}
		return nil, err
	}

	o.Store = store
	o.Customer = customer
	s.metrics.OrderCreated()
	s.log.Info().
		Str("order_id", o.ID).
		Str("store_id", store.ID).
		Int("items", len(o.Items)).
		Str("total", o.Total().String()).
		Msg("order created")

	if s.notifier != nil {
		s.notifier.OrderCreated(ctx, o)
	}

	return &o, nil
}

// DeleteOrder removes the order and gives its aggregated quantities back
// to stock in one transaction.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID, userID string) error {
	// an order never changes store, so ownership is checked before the
	// transaction and the items are re-read inside it
	if _, err := s.GetOrder(ctx, orderID, userID); err != nil {
		return err
	}

	err := s.db.WithinTx(ctx, func(tx port.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.NewNotFoundError("order", orderID)
		}

		restored := o.QuantitiesByProduct()
		for _, id := range sortedKeys(restored) {
			if err := tx.AdjustStock(ctx, id, restored[id]); err != nil {
				return fmt.Errorf("restore stock for %s: %w", id, err)
			}
		}

		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return err
	}

	s.metrics.OrderDeleted()
	s.log.Info().Str("order_id", orderID).Msg("order deleted")
	return nil
}

// UpdateOrderStatus sets any known status. There are no transition rules.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, userID string) (*domain.Order, error) {
	status, err := domain.ParseOrderStatus(string(status))
	if err != nil {
		return nil, err
	}

	o, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.db.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return nil, err
	}

	o.Status = status
	o.UpdatedAt = s.now().UTC()
	return o, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o == nil {
		return nil, domain.NewNotFoundError("order", orderID)
	}

	store, err := ownedStore(ctx, s.db, o.StoreID, userID)
	if err != nil {
		if domain.IsForbidden(err) {
			return nil, domain.NewForbiddenError("order", orderID)
		}
		return nil, err
	}
	o.Store = store

	if o.CustomerID != nil {
		c, err := s.db.GetCustomer(ctx, *o.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("load customer: %w", err)
		}
		o.Customer = c
	}
	return o, nil
}

// ListOrders returns the store's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, storeID, userID string) ([]domain.Order, error) {
	if _, err := ownedStore(ctx, s.db, storeID, userID); err != nil {
		return nil, err
	}
	return s.db.ListOrders(ctx, storeID)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
