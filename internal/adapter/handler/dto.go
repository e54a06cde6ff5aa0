package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukkani/dukkani/internal/adapter/handler/rpc"
	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/core/service"
)

type StoreRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
}

type StoreResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

type ProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
	Published   bool   `json:"published"`
}

type ProductPatchRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *string `json:"price,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	Published   *bool   `json:"published,omitempty"`
}

type ProductResponse struct {
	ID          string `json:"id"`
	StoreID     string `json:"storeId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
	Published   bool   `json:"published"`
}

type CustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CustomerResponse struct {
	ID        string `json:"id"`
	StoreID   string `json:"storeId"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"createdAt"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type DashboardResponse struct {
	StoreID        string            `json:"storeId"`
	OrderCount     int               `json:"orderCount"`
	OrdersByStatus map[string]int    `json:"ordersByStatus"`
	Revenue        string            `json:"revenue"`
	ProductCount   int               `json:"productCount"`
	LowStock       []ProductResponse `json:"lowStock"`
	LowStockLimit  int               `json:"lowStockThreshold"`
}

type LinkResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url,omitempty"`
	ExpiresAt string `json:"expiresAt"`
}

type TelegramStatusResponse struct {
	Linked bool   `json:"linked"`
	ChatID *int64 `json:"chatId,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parsePrice(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.NewValidationError(field, "must be a decimal number", s)
	}
	return d, nil
}

func toStoreResponse(s domain.Store) StoreResponse {
	return StoreResponse{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		Name:        s.Name,
		Slug:        s.Slug,
		Description: s.Description,
		CreatedAt:   formatTime(s.CreatedAt),
	}
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		StoreID:     p.StoreID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Stock:       p.Stock,
		Published:   p.Published,
	}
}

func toProductResponses(products []domain.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}

func toCustomerResponse(c domain.Customer) CustomerResponse {
	return CustomerResponse{
		ID:        c.ID,
		StoreID:   c.StoreID,
		Name:      c.Name,
		Phone:     c.Phone,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func toOrderMessage(o domain.Order) *rpc.Order {
	msg := &rpc.Order{
		ID:            o.ID,
		StoreID:       o.StoreID,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		Address:       o.Address,
		Notes:         o.Notes,
		Status:        string(o.Status),
		Items:         make([]rpc.OrderItem, 0, len(o.Items)),
		Total:         o.Total().StringFixed(2),
		CreatedAt:     formatTime(o.CreatedAt),
		UpdatedAt:     formatTime(o.UpdatedAt),
	}
	if o.CustomerID != nil {
		msg.CustomerID = *o.CustomerID
	}
	for _, item := range o.Items {
		msg.Items = append(msg.Items, rpc.OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
		})
	}
	if o.Store != nil {
		msg.Store = &rpc.Store{ID: o.Store.ID, Name: o.Store.Name, Slug: o.Store.Slug}
	}
	if o.Customer != nil {
		msg.Customer = &rpc.Customer{ID: o.Customer.ID, Name: o.Customer.Name, Phone: o.Customer.Phone}
	}
	return msg
}

func toCreateOrderInput(req *rpc.CreateOrderRequest) (service.CreateOrderInput, error) {
	in := service.CreateOrderInput{
		StoreID:       req.StoreID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Address:       req.Address,
		Notes:         req.Notes,
		RequestID:     req.RequestID,
	}
	if req.CustomerID != "" {
		id := req.CustomerID
		in.CustomerID = &id
	}
	for _, item := range req.Items {
		price, err := parsePrice("price", item.Price)
		if err != nil {
			return service.CreateOrderInput{}, err
		}
		in.Items = append(in.Items, service.OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     price,
		})
	}
	return in, nil
}

func toDashboardResponse(s *service.Stats) DashboardResponse {
	byStatus := make(map[string]int, len(s.OrdersByStatus))
	for st, n := range s.OrdersByStatus {
		byStatus[string(st)] = n
	}
	return DashboardResponse{
		StoreID:        s.StoreID,
		OrderCount:     s.OrderCount,
		OrdersByStatus: byStatus,
		Revenue:        s.Revenue.StringFixed(2),
		ProductCount:   s.ProductCount,
		LowStock:       toProductResponses(s.LowStock),
		LowStockLimit:  s.LowStockLimit,
	}
}
