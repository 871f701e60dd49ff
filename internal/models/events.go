package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent is published once per created order. A multi-seller
// cart produces one event per seller order.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64            `json:"order_id"`
	BuyerID     int64            `json:"buyer_id"`
	SellerID    int64            `json:"seller_id"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Items       []OrderItemEvent `json:"items"`
}

// OrderStatusChangedEvent is published after a status transition commits.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	BuyerID    int64  `json:"buyer_id"`
	SellerID   int64  `json:"seller_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// OrderItemEvent represents item data in events
type OrderItemEvent struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}
