package port

import (
	"context"

	"github.com/dukkani/dukkani/internal/core/domain"
)

// Lookups return (nil, nil) when the row does not exist.

type StoreRepository interface {
	CreateStore(ctx context.Context, store domain.Store) error
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	GetStoreBySlug(ctx context.Context, slug string) (*domain.Store, error)
	ListStoresByOwner(ctx context.Context, ownerID string) ([]domain.Store, error)
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string, publishedOnly bool) ([]domain.Product, error)
	// UpdateProduct writes the editable fields and leaves stock untouched;
	// stock only moves through Tx.AdjustStock.
	UpdateProduct(ctx context.Context, product domain.Product) error
	// DeleteProduct fails with ErrProductInUse while order items reference it.
	DeleteProduct(ctx context.Context, id string) error
}

type CustomerRepository interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) error
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, storeID string) ([]domain.Customer, error)
}

type OrderRepository interface {
	// GetOrder loads the order with its items.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// ListOrders returns the store's orders, newest first, with items.
	ListOrders(ctx context.Context, storeID string) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByTelegramChat(ctx context.Context, chatID int64) (*domain.User, error)
	// SetUserTelegramChat links (chatID != nil) or unlinks the user's chat.
	SetUserTelegramChat(ctx context.Context, userID string, chatID *int64) error
}

// Tx is the data access available inside one atomic unit of work.
type Tx interface {
	// LockProducts loads the given products of one store and holds them
	// against concurrent stock mutation until the transaction ends.
	// Missing products or products of another store are absent from the result.
	LockProducts(ctx context.Context, storeID string, productIDs []string) ([]domain.Product, error)

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// InsertOrder writes the order row and all of its items.
	InsertOrder(ctx context.Context, order domain.Order) error

	// AdjustStock adds delta to the product's stock. It fails with
	// ErrStockConflict when the result would be negative.
	AdjustStock(ctx context.Context, productID string, delta int) error

	// DeleteOrder removes the order and its items.
	DeleteOrder(ctx context.Context, id string) error
}

// TxRunner runs fn atomically: every write made through tx is committed
// when fn returns nil and rolled back otherwise.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// DatabaseRepository is the full persistence surface implemented by the
// storage adapters.
type DatabaseRepository interface {
	StoreRepository
	ProductRepository
	CustomerRepository
	OrderRepository
	UserRepository
	TxRunner
}
