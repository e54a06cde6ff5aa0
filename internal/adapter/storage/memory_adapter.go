package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

// MemoryAdapter is a process-local DatabaseRepository. One mutex guards all
// tables and WithinTx holds it for the whole unit of work, so transactions
// are fully serialized.
type MemoryAdapter struct {
	mu        sync.Mutex
	users     map[string]domain.User
	stores    map[string]domain.Store
	products  map[string]domain.Product
	customers map[string]domain.Customer
	orders    map[string]domain.Order
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		users:     make(map[string]domain.User),
		stores:    make(map[string]domain.Store),
		products:  make(map[string]domain.Product),
		customers: make(map[string]domain.Customer),
		orders:    make(map[string]domain.Order),
	}
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func (m *MemoryAdapter) CreateUser(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemoryAdapter) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	u = cloneUser(u)
	return &u, nil
}

func (m *MemoryAdapter) GetUserByTelegramChat(ctx context.Context, chatID int64) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.TelegramChatID != nil && *u.TelegramChatID == chatID {
			u = cloneUser(u)
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) SetUserTelegramChat(ctx context.Context, userID string, chatID *int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return domain.NewNotFoundError("user", userID)
	}
	if chatID != nil {
		// a chat links to at most one account
		for id, other := range m.users {
			if id != userID && other.TelegramChatID != nil && *other.TelegramChatID == *chatID {
				other.TelegramChatID = nil
				m.users[id] = other
			}
		}
		v := *chatID
		u.TelegramChatID = &v
	} else {
		u.TelegramChatID = nil
	}
	m.users[userID] = u
	return nil
}

func (m *MemoryAdapter) CreateStore(ctx context.Context, store domain.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.stores {
		if s.Slug == store.Slug {
			return domain.NewValidationError("slug", "already taken", store.Slug)
		}
	}
	m.stores[store.ID] = store
	return nil
}

func (m *MemoryAdapter) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryAdapter) GetStoreBySlug(ctx context.Context, slug string) (*domain.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.stores {
		if s.Slug == slug {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) ListStoresByOwner(ctx context.Context, ownerID string) ([]domain.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Store, 0)
	for _, s := range m.stores {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.products[product.ID]; exists {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	m.products[product.ID] = product
	return nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryAdapter) ListProducts(ctx context.Context, storeID string, publishedOnly bool) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Product, 0)
	for _, p := range m.products {
		if p.StoreID != storeID || (publishedOnly && !p.Published) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryAdapter) UpdateProduct(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.products[product.ID]
	if !ok {
		return domain.NewNotFoundError("product", product.ID)
	}
	product.Stock = prev.Stock
	m.products[product.ID] = product
	return nil
}

func (m *MemoryAdapter) DeleteProduct(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return domain.NewNotFoundError("product", id)
	}
	for _, o := range m.orders {
		for _, item := range o.Items {
			if item.ProductID == id {
				return port.ErrProductInUse
			}
		}
	}
	delete(m.products, id)
	return nil
}

func (m *MemoryAdapter) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.customers[customer.ID]; exists {
		return fmt.Errorf("customer %s already exists", customer.ID)
	}
	m.customers[customer.ID] = customer
	return nil
}

func (m *MemoryAdapter) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCustomer(id), nil
}

func (m *MemoryAdapter) getCustomer(id string) *domain.Customer {
	c, ok := m.customers[id]
	if !ok {
		return nil
	}
	return &c
}

func (m *MemoryAdapter) ListCustomers(ctx context.Context, storeID string) ([]domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Customer, 0)
	for _, c := range m.customers {
		if c.StoreID == storeID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrder(id), nil
}

func (m *MemoryAdapter) getOrder(id string) *domain.Order {
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	o = cloneOrder(o)
	return &o
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, storeID string) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range m.orders {
		if o.StoreID == storeID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryAdapter) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return domain.NewNotFoundError("order", id)
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{m: m}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(tx)
}

// memoryTx runs with MemoryAdapter.mu held and records an undo step for
// every write.
type memoryTx struct {
	m    *MemoryAdapter
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) LockProducts(ctx context.Context, storeID string, productIDs []string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(productIDs))
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := tx.m.products[id]; ok && p.StoreID == storeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tx.m.getCustomer(id), nil
}

func (tx *memoryTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tx.m.getOrder(id), nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := tx.m.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	order.Store, order.Customer = nil, nil
	tx.m.orders[order.ID] = cloneOrder(order)
	tx.undo = append(tx.undo, func() { delete(tx.m.orders, order.ID) })
	return nil
}

func (tx *memoryTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev, ok := tx.m.products[productID]
	if !ok {
		return domain.NewNotFoundError("product", productID)
	}
	if prev.Stock+delta < 0 {
		return port.ErrStockConflict
	}
	next := prev
	next.Stock += delta
	next.UpdatedAt = time.Now().UTC()
	tx.m.products[productID] = next
	tx.undo = append(tx.undo, func() { tx.m.products[productID] = prev })
	return nil
}

func (tx *memoryTx) DeleteOrder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev, ok := tx.m.orders[id]
	if !ok {
		return domain.NewNotFoundError("order", id)
	}
	delete(tx.m.orders, id)
	tx.undo = append(tx.undo, func() { tx.m.orders[id] = prev })
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

func cloneUser(u domain.User) domain.User {
	if u.TelegramChatID != nil {
		v := *u.TelegramChatID
		u.TelegramChatID = &v
	}
	return u
}
