package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dukkani/dukkani/internal/adapter/handler/rpc"
	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/core/service"
	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/ratelimit"
)

// Services groups what the HTTP API exposes.
type Services struct {
	Orders    *service.OrderService
	Stores    *service.StoreService
	Products  *service.ProductService
	Customers *service.CustomerService
	Dashboard *service.DashboardService
	Telegram  *service.TelegramService
}

type HTTPHandler struct {
	svc           Services
	limiters      *ratelimit.Limiters
	ipHeaders     []string
	webhookSecret string
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

type HTTPOptions struct {
	Limiters *ratelimit.Limiters
	// IPHeaders is the header priority used to identify anonymous clients.
	IPHeaders []string
	// WebhookSecret, when set, must match X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

func NewHTTPHandler(svc Services, opts HTTPOptions) *HTTPHandler {
	if opts.Limiters == nil {
		opts.Limiters = ratelimit.NewLimiters(ratelimit.NewMemoryStore(), ratelimit.DefaultPresets)
	}
	if len(opts.IPHeaders) == 0 {
		opts.IPHeaders = ratelimit.DefaultIPHeaders
	}
	return &HTTPHandler{
		svc:           svc,
		limiters:      opts.Limiters,
		ipHeaders:     opts.IPHeaders,
		webhookSecret: opts.WebhookSecret,
		metrics:       opts.Metrics,
		log:           opts.Logger,
	}
}

// Routes returns the full API wrapped in the common middleware.
func (h *HTTPHandler) Routes() http.Handler {
	const (
		public     = ratelimit.PresetPublic
		standard   = ratelimit.PresetStandard
		strict     = ratelimit.PresetStrict
		veryStrict = ratelimit.PresetVeryStrict
		generous   = ratelimit.PresetGenerous
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.Handle("GET /metrics", h.metrics.Handler())

	mux.HandleFunc("POST /api/stores", h.rateLimit(strict, h.CreateStore))
	mux.HandleFunc("GET /api/stores", h.rateLimit(generous, h.ListStores))
	mux.HandleFunc("GET /api/stores/{id}", h.rateLimit(generous, h.GetStore))
	mux.HandleFunc("GET /api/stores/{id}/dashboard", h.rateLimit(generous, h.Dashboard))

	mux.HandleFunc("POST /api/stores/{id}/products", h.rateLimit(standard, h.CreateProduct))
	mux.HandleFunc("GET /api/stores/{id}/products", h.rateLimit(generous, h.ListProducts))
	mux.HandleFunc("GET /api/products/{id}", h.rateLimit(generous, h.GetProduct))
	mux.HandleFunc("PATCH /api/products/{id}", h.rateLimit(standard, h.UpdateProduct))
	mux.HandleFunc("DELETE /api/products/{id}", h.rateLimit(standard, h.DeleteProduct))
	mux.HandleFunc("GET /api/public/stores/{id}/products", h.rateLimit(public, h.ListPublishedProducts))

	mux.HandleFunc("POST /api/stores/{id}/customers", h.rateLimit(standard, h.CreateCustomer))
	mux.HandleFunc("GET /api/stores/{id}/customers", h.rateLimit(generous, h.ListCustomers))
	mux.HandleFunc("GET /api/customers/{id}", h.rateLimit(generous, h.GetCustomer))

	mux.HandleFunc("POST /api/orders", h.rateLimit(standard, h.CreateOrder))
	mux.HandleFunc("GET /api/stores/{id}/orders", h.rateLimit(generous, h.ListOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.rateLimit(generous, h.GetOrder))
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.rateLimit(standard, h.UpdateOrderStatus))
	mux.HandleFunc("DELETE /api/orders/{id}", h.rateLimit(standard, h.DeleteOrder))

	mux.HandleFunc("POST /api/telegram/link", h.rateLimit(veryStrict, h.CreateTelegramLink))
	mux.HandleFunc("DELETE /api/telegram/link", h.rateLimit(strict, h.DeleteTelegramLink))
	mux.HandleFunc("GET /api/telegram/status", h.rateLimit(generous, h.TelegramStatus))
	mux.HandleFunc("POST /telegram/webhook", h.TelegramWebhook)

	return chain(mux, requestLogger(h.log, h.metrics), securityHeaders, limitBody)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	store, err := h.svc.Stores.Create(r.Context(), service.CreateStoreInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	}, userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStoreResponse(*store))
}

func (h *HTTPHandler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.svc.Stores.ListMine(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]StoreResponse, 0, len(stores))
	for _, s := range stores {
		out = append(out, toStoreResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetStore(w http.ResponseWriter, r *http.Request) {
	store, err := h.svc.Stores.Get(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreResponse(*store))
}

func (h *HTTPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Dashboard.Stats(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(stats))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	price, err := parsePrice("price", req.Price)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	p, err := h.svc.Products.Create(r.Context(), service.CreateProductInput{
		StoreID:     r.PathValue("id"),
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		Stock:       req.Stock,
		Published:   req.Published,
	}, userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(*p))
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products.List(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(products))
}

func (h *HTTPHandler) ListPublishedProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products.ListPublished(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(products))
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Products.Get(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	in := service.UpdateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Stock:       req.Stock,
		Published:   req.Published,
	}
	if req.Price != nil {
		price, err := parsePrice("price", *req.Price)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		in.Price = &price
	}

	p, err := h.svc.Products.Update(r.Context(), r.PathValue("id"), in, userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Products.Delete(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	c, err := h.svc.Customers.Create(r.Context(), service.CreateCustomerInput{
		StoreID: r.PathValue("id"),
		Name:    req.Name,
		Phone:   req.Phone,
	}, userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResponse(*c))
}

func (h *HTTPHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.Customers.List(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]CustomerResponse, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Customers.Get(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(*c))
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req rpc.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	in, err := toCreateOrderInput(&req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	order, err := h.svc.Orders.CreateOrder(r.Context(), in, userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderMessage(*order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders.ListOrders(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]*rpc.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderMessage(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.GetOrder(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderMessage(*order))
}

func (h *HTTPHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	order, err := h.svc.Orders.UpdateOrderStatus(r.Context(), r.PathValue("id"), domain.OrderStatus(req.Status), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderMessage(*order))
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Orders.DeleteOrder(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
