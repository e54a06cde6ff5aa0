package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukkani/dukkani/internal/adapter/handler/rpc"
	"github.com/dukkani/dukkani/internal/adapter/storage"
	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/core/service"
	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/ratelimit"
	"github.com/dukkani/dukkani/internal/telegram"
)

type nopSender struct{}

func (nopSender) SendMessage(ctx context.Context, msg telegram.OutgoingMessage) error { return nil }
func (nopSender) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return nil
}

type failingStore struct{}

func (failingStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

type apiFixture struct {
	db      *storage.MemoryAdapter
	svc     Services
	store   domain.Store
	handler http.Handler
}

func newServices(db *storage.MemoryAdapter) Services {
	orders := service.NewOrderService(db)
	return Services{
		Orders:    orders,
		Stores:    service.NewStoreService(db),
		Products:  service.NewProductService(db),
		Customers: service.NewCustomerService(db),
		Dashboard: service.NewDashboardService(db, service.DefaultLowStockThreshold),
		Telegram:  service.NewTelegramService(db, orders, storage.NewMemoryCache(), nopSender{}),
	}
}

func seedAPI(t *testing.T) (*storage.MemoryAdapter, domain.Store) {
	t.Helper()
	ctx := context.Background()
	db := storage.NewMemoryAdapter()
	now := time.Now().UTC()

	require.NoError(t, db.CreateUser(ctx, domain.User{ID: "owner", Name: "Owner", Email: "owner@example.com", CreatedAt: now}))
	require.NoError(t, db.CreateUser(ctx, domain.User{ID: "stranger", Name: "Stranger", Email: "stranger@example.com", CreatedAt: now}))
	store := domain.Store{ID: "store-1", OwnerID: "owner", Name: "Souk", Slug: "souk", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateStore(ctx, store))
	return db, store
}

func newAPIFixture(t *testing.T, opts HTTPOptions) *apiFixture {
	t.Helper()
	db, store := seedAPI(t)
	svc := newServices(db)
	opts.Logger = zerolog.Nop()
	return &apiFixture{
		db:      db,
		svc:     svc,
		store:   store,
		handler: NewHTTPHandler(svc, opts).Routes(),
	}
}

func (f *apiFixture) product(t *testing.T, stock int, published bool) domain.Product {
	t.Helper()
	p := domain.Product{
		ID:        uuid.NewString(),
		StoreID:   f.store.ID,
		Name:      "Harissa",
		Price:     decimal.RequireFromString("4.50"),
		Stock:     stock,
		Published: published,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.db.CreateProduct(context.Background(), p))
	return p
}

func (f *apiFixture) do(method, path, user, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if user != "" {
		r.Header.Set(UserIDHeader, user)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func orderBody(storeID, productID string, qty int) string {
	b, _ := json.Marshal(rpc.CreateOrderRequest{
		StoreID:       storeID,
		CustomerName:  "Amina",
		CustomerPhone: "+21620000000",
		Items:         []rpc.OrderItem{{ProductID: productID, Quantity: qty, Price: "4.50"}},
	})
	return string(b)
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{})

	w := f.do(http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestCreateOrder(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{})
	p := f.product(t, 5, true)

	w := f.do(http.MethodPost, "/api/orders", "owner", orderBody(f.store.ID, p.ID, 2))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[rpc.Order](t, w)
	assert.Equal(t, "PENDING", order.Status)
	assert.Equal(t, "9.00", order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "9.00", order.Items[0].Subtotal)
	require.NotNil(t, order.Store)
	assert.Equal(t, "souk", order.Store.Slug)

	got, err := f.db.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		body   func(f *apiFixture, productID string) string
		status int
		code   string
	}{
		{
			name:   "unauthenticated",
			body:   func(f *apiFixture, id string) string { return orderBody(f.store.ID, id, 1) },
			status: http.StatusUnauthorized,
			code:   "unauthenticated",
		},
		{
			name:   "foreign store",
			user:   "stranger",
			body:   func(f *apiFixture, id string) string { return orderBody(f.store.ID, id, 1) },
			status: http.StatusForbidden,
			code:   "forbidden",
		},
		{
			name:   "unknown store",
			user:   "owner",
			body:   func(f *apiFixture, id string) string { return orderBody("missing", id, 1) },
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "insufficient stock",
			user:   "owner",
			body:   func(f *apiFixture, id string) string { return orderBody(f.store.ID, id, 3) },
			status: http.StatusConflict,
			code:   "insufficient_stock",
		},
		{
			name:   "zero quantity",
			user:   "owner",
			body:   func(f *apiFixture, id string) string { return orderBody(f.store.ID, id, 0) },
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "malformed json",
			user:   "owner",
			body:   func(*apiFixture, string) string { return "{" },
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, HTTPOptions{})
			p := f.product(t, 2, true)

			w := f.do(http.MethodPost, "/api/orders", tt.user, tt.body(f, p.ID))

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Error)
			got, err := f.db.GetProduct(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Stock)
		})
	}
}

func TestCreateOrder_InternalErrorHidesDetails(t *testing.T) {
	status, body := httpError(errors.New("dial tcp 10.0.0.3:3306: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", body.Message)
}

func TestOrderLifecycle(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{})
	p := f.product(t, 4, true)

	w := f.do(http.MethodPost, "/api/orders", "owner", orderBody(f.store.ID, p.ID, 3))
	require.Equal(t, http.StatusCreated, w.Code)
	order := decode[rpc.Order](t, w)

	w = f.do(http.MethodPatch, "/api/orders/"+order.ID+"/status", "owner", `{"status":"SHIPPED"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SHIPPED", decode[rpc.Order](t, w).Status)

	w = f.do(http.MethodPatch, "/api/orders/"+order.ID+"/status", "owner", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/stores/"+f.store.ID+"/orders", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]rpc.Order](t, w), 1)

	w = f.do(http.MethodDelete, "/api/orders/"+order.ID, "stranger", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodDelete, "/api/orders/"+order.ID, "owner", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	got, err := f.db.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)

	w = f.do(http.MethodGet, "/api/orders/"+order.ID, "owner", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{})

	w := f.do(http.MethodPost, "/api/stores", "owner", `{"name":"Dar Zitoun"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	store := decode[StoreResponse](t, w)
	assert.Equal(t, "dar-zitoun", store.Slug)

	w = f.do(http.MethodPost, "/api/stores/"+store.ID+"/products", "owner", `{"name":"Olive oil","price":"12.5","stock":3,"published":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	product := decode[ProductResponse](t, w)
	assert.Equal(t, "12.50", product.Price)

	w = f.do(http.MethodPost, "/api/stores/"+store.ID+"/products", "owner", `{"name":"Draft","price":"1","stock":1}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(http.MethodPost, "/api/stores/"+store.ID+"/products", "owner", `{"name":"Bad","price":"abc","stock":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "price", decode[ErrorResponse](t, w).Field)

	w = f.do(http.MethodPost, "/api/stores/"+store.ID+"/products", "owner", `{"name":"Bad","price":"0.004","stock":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "price", decode[ErrorResponse](t, w).Field)

	w = f.do(http.MethodGet, "/api/public/stores/"+store.ID+"/products", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	public := decode[[]ProductResponse](t, w)
	require.Len(t, public, 1)
	assert.Equal(t, "Olive oil", public[0].Name)

	w = f.do(http.MethodGet, "/api/stores/"+store.ID+"/products", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]ProductResponse](t, w), 2)

	w = f.do(http.MethodPatch, "/api/products/"+product.ID, "owner", `{"stock":9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 9, decode[ProductResponse](t, w).Stock)

	w = f.do(http.MethodPost, "/api/stores/"+store.ID+"/customers", "owner", `{"name":"Amina","phone":"+21620000000"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/api/stores/"+store.ID+"/dashboard", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[DashboardResponse](t, w)
	assert.Equal(t, 2, dash.ProductCount)
	assert.Equal(t, "0.00", dash.Revenue)

	w = f.do(http.MethodDelete, "/api/products/"+product.ID, "owner", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/api/stores", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]StoreResponse](t, w), 2)
}

func TestRateLimit(t *testing.T) {
	presets := make(map[string]ratelimit.Preset, len(ratelimit.DefaultPresets))
	for name, p := range ratelimit.DefaultPresets {
		presets[name] = p
	}
	presets[ratelimit.PresetGenerous] = ratelimit.Preset{Max: 2, Window: time.Minute}
	m := metrics.New()
	f := newAPIFixture(t, HTTPOptions{
		Limiters: ratelimit.NewLimiters(ratelimit.NewMemoryStore(), presets),
		Metrics:  m,
	})

	w := f.do(http.MethodGet, "/api/stores", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	w = f.do(http.MethodGet, "/api/stores", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = f.do(http.MethodGet, "/api/stores", "owner", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "rate_limited", body.Error)
	assert.Contains(t, body.Message, "too many requests, try again in")

	// another user has its own counter
	w = f.do(http.MethodGet, "/api/stores", "stranger", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `dukkani_ratelimit_rejections_total{preset="generous"} 1`)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{
		Limiters: ratelimit.NewLimiters(failingStore{}, ratelimit.DefaultPresets),
	})

	w := f.do(http.MethodGet, "/api/stores", "owner", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_AnonymousByForwardedIP(t *testing.T) {
	presets := make(map[string]ratelimit.Preset, len(ratelimit.DefaultPresets))
	for name, p := range ratelimit.DefaultPresets {
		presets[name] = p
	}
	presets[ratelimit.PresetPublic] = ratelimit.Preset{Max: 1, Window: time.Minute}
	f := newAPIFixture(t, HTTPOptions{Limiters: ratelimit.NewLimiters(ratelimit.NewMemoryStore(), presets)})

	get := func(ip string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/public/stores/"+f.store.ID+"/products", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, get("203.0.113.7"))
	assert.Equal(t, http.StatusOK, get("198.51.100.2"))
}

func TestBodyTooLarge(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{})
	big := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`

	w := f.do(http.MethodPost, "/api/stores", "owner", big)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTelegramWebhook(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{WebhookSecret: "s3cret"})

	post := func(secret, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(body))
		if secret != "" {
			r.Header.Set(telegramSecretHeader, secret)
		}
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, r)
		return w
	}

	w := post("wrong", `{"update_id":1}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post("", `{"update_id":1}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for _, body := range []string{
		`{"update_id":1,"message":{"message_id":1,"chat":{"id":42},"text":"/help"}}`,
		`not json`,
		``,
	} {
		w = post("s3cret", body)
		assert.Equal(t, http.StatusOK, w.Code, body)
		assert.Equal(t, true, decode[map[string]bool](t, w)["ok"])
	}
}

func TestTelegramLinkEndpoints(t *testing.T) {
	f := newAPIFixture(t, HTTPOptions{})

	w := f.do(http.MethodGet, "/api/telegram/status", "owner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[TelegramStatusResponse](t, w).Linked)

	w = f.do(http.MethodPost, "/api/telegram/link", "owner", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	link := decode[LinkResponse](t, w)
	assert.Len(t, link.Token, 32)
	assert.NotEmpty(t, link.ExpiresAt)

	w = f.do(http.MethodPost, "/api/telegram/link", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodDelete, "/api/telegram/link", "owner", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
