package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dukkani/dukkani/internal/adapter/storage"
	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/core/service"
	"github.com/dukkani/dukkani/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	ownerID       = "stress-owner"
)

func main() {
	ctx := context.Background()

	db, cleanup := openDatabase(ctx)
	defer cleanup()

	guard, closeGuard := openGuard(ctx)
	defer closeGuard()

	store, product := seed(ctx, db)
	orderService := service.NewOrderService(db, service.WithIdempotency(guard))

	var successCount, soldOutCount, otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := orderService.CreateOrder(ctx, service.CreateOrderInput{
				StoreID:       store.ID,
				CustomerName:  fmt.Sprintf("customer-%d", n),
				CustomerPhone: "+21620000000",
				RequestID:     fmt.Sprintf("stress-%d-%s", n, store.ID),
				Items: []service.OrderItemInput{
					{ProductID: product.ID, Quantity: 1, Price: product.Price},
				},
			}, ownerID)
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.IsInsufficientStock(err):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("request %d: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", soldOut)
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	p, err := db.GetProduct(ctx, product.ID)
	if err != nil || p == nil {
		log.Fatalf("failed to reload product: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", p.Stock)
	if p.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", p.Stock)
	}

	// a replayed request id must be refused
	_, err = orderService.CreateOrder(ctx, service.CreateOrderInput{
		StoreID:       store.ID,
		CustomerName:  "customer-0",
		CustomerPhone: "+21620000000",
		RequestID:     fmt.Sprintf("stress-0-%s", store.ID),
		Items:         []service.OrderItemInput{{ProductID: product.ID, Quantity: 1, Price: product.Price}},
	}, ownerID)
	if errors.Is(err, service.ErrDuplicateRequest) || domain.IsInsufficientStock(err) {
		fmt.Println("PASS: Replayed request refused")
	} else {
		fmt.Printf("FAIL: Replayed request returned %v\n", err)
	}
}

// openDatabase uses MYSQL_DSN or POSTGRES_DSN when set, else memory.
func openDatabase(ctx context.Context) (port.DatabaseRepository, func()) {
	dialect, dsn := storage.DialectMySQL, os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dialect, dsn = storage.DialectPostgres, os.Getenv("POSTGRES_DSN")
	}
	if dsn == "" {
		return storage.NewMemoryAdapter(), func() {}
	}

	db, err := storage.OpenDB(ctx, dialect, dsn, storage.PoolOptions{MaxOpenConns: 50, MaxIdleConns: 25})
	if err != nil {
		log.Fatalf("failed to connect %s: %v", dialect, err)
	}
	adapter := storage.NewSQLAdapter(db, dialect)
	if err := adapter.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to create schema: %v", err)
	}
	return adapter, func() { db.Close() }
}

// openGuard uses REDIS_ADDR when set, else an in-process cache.
func openGuard(ctx context.Context) (port.IdempotencyGuard, func()) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return storage.NewMemoryCache(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	return storage.NewRedisAdapter(rdb), func() { rdb.Close() }
}

func seed(ctx context.Context, db port.DatabaseRepository) (domain.Store, domain.Product) {
	now := time.Now().UTC()
	owner, err := db.GetUser(ctx, ownerID)
	if err != nil {
		log.Fatalf("failed to load owner: %v", err)
	}
	if owner == nil {
		err := db.CreateUser(ctx, domain.User{ID: ownerID, Name: "Stress", Email: "stress@dukkani.local", CreatedAt: now})
		if err != nil {
			log.Fatalf("failed to create owner: %v", err)
		}
	}

	id := uuid.NewString()
	store := domain.Store{ID: id, OwnerID: ownerID, Name: "Stress " + id[:8], Slug: "stress-" + id[:8], CreatedAt: now, UpdatedAt: now}
	if err := db.CreateStore(ctx, store); err != nil {
		log.Fatalf("failed to create store: %v", err)
	}

	product := domain.Product{
		ID:        uuid.NewString(),
		StoreID:   store.ID,
		Name:      "flash-sale-item",
		Price:     decimal.RequireFromString("99.90"),
		Stock:     initialStock,
		Published: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.CreateProduct(ctx, product); err != nil {
		log.Fatalf("failed to create product: %v", err)
	}
	log.Printf("initialized stock: %s = %d", product.ID, initialStock)
	return store, product
}
