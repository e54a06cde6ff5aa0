package rpc

type OrderItem struct {
	ID        string `json:"id,omitempty"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	// Price is a decimal string, e.g. "12.50".
	Price    string `json:"price"`
	Subtotal string `json:"subtotal,omitempty"`
}

type Store struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Order struct {
	ID            string      `json:"id"`
	StoreID       string      `json:"storeId"`
	CustomerID    string      `json:"customerId,omitempty"`
	CustomerName  string      `json:"customerName"`
	CustomerPhone string      `json:"customerPhone"`
	Address       string      `json:"address,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	Status        string      `json:"status"`
	Items         []OrderItem `json:"items"`
	Total         string      `json:"total"`
	Store         *Store      `json:"store,omitempty"`
	Customer      *Customer   `json:"customer,omitempty"`
	CreatedAt     string      `json:"createdAt"`
	UpdatedAt     string      `json:"updatedAt"`
}

type CreateOrderRequest struct {
	StoreID       string      `json:"storeId"`
	CustomerName  string      `json:"customerName"`
	CustomerPhone string      `json:"customerPhone"`
	Address       string      `json:"address,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CustomerID    string      `json:"customerId,omitempty"`
	RequestID     string      `json:"requestId,omitempty"`
	Items         []OrderItem `json:"items"`
}

type OrderResponse struct {
	Order *Order `json:"order"`
}

type GetOrderRequest struct {
	OrderID string `json:"orderId"`
}

type DeleteOrderRequest struct {
	OrderID string `json:"orderId"`
}

type DeleteOrderResponse struct {
	Deleted bool `json:"deleted"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}
