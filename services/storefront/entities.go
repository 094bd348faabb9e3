package main

import (
	"time"

	"github.com/google/uuid"
)

// Order status values.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
	OrderStatusCanceled   = "canceled"
)

// Delivery status values. An order is "partial" when at least one credential
// was handed out but some line item still has an outstanding quantity.
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusPartial   = "partial"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// Delivery log status values.
const (
	DeliveryLogSuccess = "success"
	DeliveryLogFailed  = "failed"
)

// Product is a catalog entry. StockCount is a denormalized counter of the
// undelivered stock rows belonging to the product; every path that mutates
// stock rows adjusts it inside the same transaction.
type Product struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Price      int64     `json:"price" db:"price"` // minor currency units
	StockCount int       `json:"stock_count" db:"stock_count"`
	Published  bool      `json:"published" db:"published"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Stock is a single digital credential. Once delivered it is tagged with the
// consuming order and never reallocated.
type Stock struct {
	ID          string     `json:"id" db:"id"`
	ProductID   string     `json:"product_id" db:"product_id"`
	Content     string     `json:"content" db:"content"`
	IsDelivered bool       `json:"is_delivered" db:"is_delivered"`
	OrderID     *string    `json:"order_id,omitempty" db:"order_id"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Order representa um pedido pago com o saldo do usuário.
type Order struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	TotalAmount    int64       `json:"total_amount" db:"total_amount"`
	Status         string      `json:"status" db:"status"`
	DeliveryStatus string      `json:"delivery_status" db:"delivery_status"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	Items          []OrderItem `json:"items,omitempty" db:"-"`
}

// NewOrder cria uma nova instância de Order.
func NewOrder(userID string, totalAmount int64) *Order {
	return &Order{
		ID:             uuid.New().String(),
		UserID:         userID,
		TotalAmount:    totalAmount,
		Status:         OrderStatusPending,
		DeliveryStatus: DeliveryStatusPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

// Complete marks the order as paid. Balance payment is synchronous, so a
// checkout order completes inside the checkout transaction.
func (o *Order) Complete() {
	o.Status = OrderStatusCompleted
	o.UpdatedAt = time.Now()
}

// OrderItem is an immutable line-item snapshot. Price and product name are
// copied at purchase time and stay decoupled from later product edits.
type OrderItem struct {
	ID          string `json:"id" db:"id"`
	OrderID     string `json:"order_id" db:"order_id"`
	ProductID   string `json:"product_id" db:"product_id"`
	ProductName string `json:"product_name" db:"product_name"`
	Quantity    int    `json:"quantity" db:"quantity"`
	Price       int64  `json:"price" db:"price"`
}

// NewOrderItem cria uma nova instância de OrderItem.
func NewOrderItem(orderID, productID, productName string, quantity int, price int64) OrderItem {
	return OrderItem{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		ProductID:   productID,
		ProductName: productName,
		Quantity:    quantity,
		Price:       price,
	}
}

// DeliveryLog is an append-only audit record of one delivery attempt.
type DeliveryLog struct {
	ID             string    `json:"id" db:"id"`
	OrderID        string    `json:"order_id" db:"order_id"`
	Status         string    `json:"status" db:"status"`
	Message        string    `json:"message" db:"message"`
	DeliveredCount int       `json:"delivered_count" db:"delivered_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NewDeliveryLog cria uma nova instância de DeliveryLog.
func NewDeliveryLog(orderID, status, message string, deliveredCount int) *DeliveryLog {
	return &DeliveryLog{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		Status:         status,
		Message:        message,
		DeliveredCount: deliveredCount,
		CreatedAt:      time.Now(),
	}
}

// User holds the store balance used by the balance-payment path.
type User struct {
	ID      string `json:"id" db:"id"`
	Email   string `json:"email" db:"email"`
	Name    string `json:"name" db:"name"`
	Balance int64  `json:"balance" db:"balance"`
	IsAdmin bool   `json:"is_admin" db:"is_admin"`
}

// ValidOrderStatus reports whether s is one of the known order statuses.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted,
		OrderStatusFailed, OrderStatusCanceled:
		return true
	}
	return false
}

// deliveryStatusFor maps allocation progress to a delivery status: every unit
// allocated -> delivered, some -> partial, none -> pending.
func deliveryStatusFor(claimed, requested int) string {
	switch {
	case requested > 0 && claimed >= requested:
		return DeliveryStatusDelivered
	case claimed > 0:
		return DeliveryStatusPartial
	default:
		return DeliveryStatusPending
	}
}
