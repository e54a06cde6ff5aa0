package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukkani/dukkani/internal/adapter/storage"
	"github.com/dukkani/dukkani/internal/core/domain"
)

func TestStoreService(t *testing.T) {
	f := newFixture(t)
	svc := NewStoreService(f.db)
	ctx := context.Background()

	store, err := svc.Create(ctx, CreateStoreInput{Name: "Dar El Jeld Shop"}, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "dar-el-jeld-shop", store.Slug)
	assert.Equal(t, f.owner.ID, store.OwnerID)

	_, err = svc.Create(ctx, CreateStoreInput{Name: "Other", Slug: "dar-el-jeld-shop"}, f.stranger.ID)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(ctx, CreateStoreInput{Name: "Bad", Slug: "Not A Slug!"}, f.owner.ID)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(ctx, CreateStoreInput{Name: "x"}, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	mine, err := svc.ListMine(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = svc.Get(ctx, store.ID, f.stranger.ID)
	assert.True(t, domain.IsForbidden(err))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hello-world", Slugify("  Hello,   World! "))
	assert.Equal(t, "a-1", Slugify("A--1"))
}

func TestProductService(t *testing.T) {
	f := newFixture(t)
	svc := NewProductService(f.db)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateProductInput{
		StoreID: f.store.ID,
		Name:    "Chechia",
		Price:   decimal.RequireFromString("35.00"),
		Stock:   3,
	}, f.owner.ID)
	require.NoError(t, err)
	assert.False(t, p.Published)

	_, err = svc.Create(ctx, CreateProductInput{StoreID: f.store.ID, Name: "Free", Stock: 1}, f.owner.ID)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(ctx, CreateProductInput{StoreID: f.store.ID, Name: "X", Price: decimal.NewFromInt(1)}, f.stranger.ID)
	assert.True(t, domain.IsForbidden(err))

	public, err := svc.ListPublished(ctx, f.store.ID)
	require.NoError(t, err)
	assert.Empty(t, public)

	published := true
	stock := 8
	updated, err := svc.Update(ctx, p.ID, UpdateProductInput{Published: &published, Stock: &stock}, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, updated.Published)
	assert.Equal(t, 8, updated.Stock)

	public, err = svc.ListPublished(ctx, f.store.ID)
	require.NoError(t, err)
	assert.Len(t, public, 1)

	negative := -1
	_, err = svc.Update(ctx, p.ID, UpdateProductInput{Stock: &negative}, f.owner.ID)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Get(ctx, p.ID, f.stranger.ID)
	assert.True(t, domain.IsForbidden(err))

	_, err = svc.ListPublished(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

// interleavedRepo runs afterRead once, right after the first product read.
type interleavedRepo struct {
	*storage.MemoryAdapter
	once      sync.Once
	afterRead func()
}

func (r *interleavedRepo) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := r.MemoryAdapter.GetProduct(ctx, id)
	r.once.Do(r.afterRead)
	return p, err
}

func TestProductService_UpdateKeepsConcurrentSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Bsissa", 5)

	repo := &interleavedRepo{MemoryAdapter: f.db}
	repo.afterRead = func() {
		_, err := NewOrderService(f.db).CreateOrder(ctx, orderInput(f.store.ID, line(p.ID, 5)), f.owner.ID)
		require.NoError(t, err)
	}
	svc := NewProductService(repo)

	name := "Bsissa Premium"
	updated, err := svc.Update(ctx, p.ID, UpdateProductInput{Name: &name}, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bsissa Premium", updated.Name)
	assert.Equal(t, 0, updated.Stock)

	stored, err := f.db.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Stock)
}

func TestProductService_UpdateStockIsAbsolute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Zrir", 5)

	repo := &interleavedRepo{MemoryAdapter: f.db}
	repo.afterRead = func() {
		_, err := NewOrderService(f.db).CreateOrder(ctx, orderInput(f.store.ID, line(p.ID, 2)), f.owner.ID)
		require.NoError(t, err)
	}
	svc := NewProductService(repo)

	stock := 10
	updated, err := svc.Update(ctx, p.ID, UpdateProductInput{Stock: &stock}, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Stock)
}

func TestProductService_DeleteReferenced(t *testing.T) {
	f := newFixture(t)
	products := NewProductService(f.db)
	orders := NewOrderService(f.db)
	ctx := context.Background()

	p := f.product(t, "A", 5)
	_, err := orders.CreateOrder(ctx, orderInput(f.store.ID, line(p.ID, 1)), f.owner.ID)
	require.NoError(t, err)

	err = products.Delete(ctx, p.ID, f.owner.ID)
	assert.True(t, domain.IsValidation(err))

	free := f.product(t, "B", 5)
	require.NoError(t, products.Delete(ctx, free.ID, f.owner.ID))
	_, err = products.Get(ctx, free.ID, f.owner.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestCustomerService(t *testing.T) {
	f := newFixture(t)
	svc := NewCustomerService(f.db)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateCustomerInput{StoreID: f.store.ID, Name: " Yassine ", Phone: "+216 22 000 000"}, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Yassine", c.Name)

	_, err = svc.Create(ctx, CreateCustomerInput{StoreID: f.store.ID, Name: "No phone"}, f.owner.ID)
	assert.True(t, domain.IsValidation(err))

	got, err := svc.Get(ctx, c.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = svc.Get(ctx, c.ID, f.stranger.ID)
	assert.True(t, domain.IsForbidden(err))

	list, err := svc.List(ctx, f.store.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	orders := NewOrderService(f.db)
	dashboard := NewDashboardService(f.db, DefaultLowStockThreshold)
	ctx := context.Background()

	a := f.product(t, "A", 20)
	f.product(t, "B", 5)
	f.product(t, "C", 6)

	_, err := orders.CreateOrder(ctx, orderInput(f.store.ID, line(a.ID, 2)), f.owner.ID)
	require.NoError(t, err)
	second, err := orders.CreateOrder(ctx, orderInput(f.store.ID, line(a.ID, 1)), f.owner.ID)
	require.NoError(t, err)
	_, err = orders.UpdateOrderStatus(ctx, second.ID, domain.OrderStatusCancelled, f.owner.ID)
	require.NoError(t, err)

	stats, err := dashboard.Stats(ctx, f.store.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OrderCount)
	assert.Equal(t, 1, stats.OrdersByStatus[domain.OrderStatusPending])
	assert.Equal(t, 1, stats.OrdersByStatus[domain.OrderStatusCancelled])
	assert.Equal(t, 0, stats.OrdersByStatus[domain.OrderStatusShipped])
	assert.True(t, stats.Revenue.Equal(decimal.NewFromInt(20)), "cancelled orders excluded, got %s", stats.Revenue)
	assert.Equal(t, 3, stats.ProductCount)
	require.Len(t, stats.LowStock, 1)
	assert.Equal(t, "B", stats.LowStock[0].Name)
	assert.Equal(t, DefaultLowStockThreshold, stats.LowStockLimit)

	_, err = dashboard.Stats(ctx, f.store.ID, f.stranger.ID)
	assert.True(t, domain.IsForbidden(err))
}

func TestDashboardStats_ZeroThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(t, "Sold out", 0)
	f.product(t, "One left", 1)

	stats, err := NewDashboardService(f.db, 0).Stats(ctx, f.store.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.LowStockLimit)
	require.Len(t, stats.LowStock, 1)
	assert.Equal(t, "Sold out", stats.LowStock[0].Name)

	stats, err = NewDashboardService(f.db, -1).Stats(ctx, f.store.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultLowStockThreshold, stats.LowStockLimit)
	assert.Len(t, stats.LowStock, 2)
}
