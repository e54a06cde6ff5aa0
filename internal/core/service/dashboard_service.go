package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

const DefaultLowStockThreshold = 5

type Stats struct {
	StoreID        string
	OrderCount     int
	OrdersByStatus map[domain.OrderStatus]int
	// Revenue sums every order except cancelled ones.
	Revenue       decimal.Decimal
	ProductCount  int
	LowStock      []domain.Product
	LowStockLimit int
}

type dashboardRepository interface {
	port.StoreRepository
	port.ProductRepository
	port.OrderRepository
}

type DashboardService struct {
	db                dashboardRepository
	lowStockThreshold int
}

// NewDashboardService reports products with stock at or below
// lowStockThreshold as low. Zero flags only sold-out products; a negative
// value selects the default.
func NewDashboardService(db dashboardRepository, lowStockThreshold int) *DashboardService {
	if lowStockThreshold < 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &DashboardService{db: db, lowStockThreshold: lowStockThreshold}
}

func (s *DashboardService) Stats(ctx context.Context, storeID, userID string) (*Stats, error) {
	if _, err := ownedStore(ctx, s.db, storeID, userID); err != nil {
		return nil, err
	}

	orders, err := s.db.ListOrders(ctx, storeID)
	if err != nil {
		return nil, err
	}
	products, err := s.db.ListProducts(ctx, storeID, false)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		StoreID:        storeID,
		OrderCount:     len(orders),
		OrdersByStatus: make(map[domain.OrderStatus]int),
		Revenue:        decimal.Zero,
		ProductCount:   len(products),
		LowStock:       make([]domain.Product, 0),
		LowStockLimit:  s.lowStockThreshold,
	}
	for _, st := range domain.OrderStatuses() {
		stats.OrdersByStatus[st] = 0
	}
	for _, o := range orders {
		stats.OrdersByStatus[o.Status]++
		if o.Status != domain.OrderStatusCancelled {
			stats.Revenue = stats.Revenue.Add(o.Total())
		}
	}
	for _, p := range products {
		if p.Stock <= s.lowStockThreshold {
			stats.LowStock = append(stats.LowStock, p)
		}
	}
	return stats, nil
}
