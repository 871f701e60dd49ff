package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User roles
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// ValidRole reports whether role is one of the three marketplace roles.
func ValidRole(role string) bool {
	return role == RoleBuyer || role == RoleSeller || role == RoleAdmin
}

// User represents a marketplace account. Identity comes from the external
// auth provider (firebase_uid); role drives authorization.
type User struct {
	ID           int64     `db:"id" json:"id"`
	FirebaseUID  string    `db:"firebase_uid" json:"firebase_uid"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Role         string    `db:"role" json:"role"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Address      *string   `db:"address" json:"address,omitempty"`
	ProfileImage *string   `db:"profile_image" json:"profile_image,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserPatch is the allow-listed partial update for a user profile.
// Nil fields are left untouched.
type UserPatch struct {
	Name         *string `json:"name"`
	Phone        *string `json:"phone"`
	Address      *string `json:"address"`
	ProfileImage *string `json:"profile_image"`
}

// Empty reports whether the patch carries no fields.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.Address == nil && p.ProfileImage == nil
}

// Category is a product grouping, read-only from this service's perspective.
type Category struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Product is a catalog entry owned by a seller. Stock is decremented on
// order creation and restored on cancellation.
type Product struct {
	ID            int64           `db:"id" json:"id"`
	SellerID      int64           `db:"seller_id" json:"seller_id"`
	CategoryID    *int64          `db:"category_id" json:"category_id,omitempty"`
	Name          string          `db:"name" json:"name"`
	Description   string          `db:"description" json:"description"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	ImageBase64   *string         `db:"image_base64" json:"image_base64,omitempty"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	// joined display fields
	SellerName   *string `db:"seller_name" json:"seller_name,omitempty"`
	CategoryName *string `db:"category_name" json:"category_name,omitempty"`
}

// ProductPatch is the allow-listed partial update for a product.
type ProductPatch struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int             `json:"stock_quantity"`
	CategoryID    *int64           `json:"category_id"`
	ImageBase64   *string          `json:"image_base64"`
	IsActive      *bool            `json:"is_active"`
}

// Empty reports whether the patch carries no fields.
func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil &&
		p.StockQuantity == nil && p.CategoryID == nil && p.ImageBase64 == nil &&
		p.IsActive == nil
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusShipped   = "shipped"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// ValidOrderStatus reports whether status is one of the four order states.
func ValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to
// another: pending -> {shipped, cancelled}, shipped -> {completed,
// cancelled}; completed and cancelled are terminal.
func CanTransition(from, to string) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusShipped || to == OrderStatusCancelled
	case OrderStatusShipped:
		return to == OrderStatusCompleted || to == OrderStatusCancelled
	}
	return false
}

// Order holds items from exactly one seller; a multi-seller cart produces
// one order per seller.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	BuyerID         int64           `db:"buyer_id" json:"buyer_id"`
	SellerID        int64           `db:"seller_id" json:"seller_id"`
	Status          string          `db:"status" json:"status"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	Phone           *string         `db:"phone" json:"phone,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ShippedAt       *time.Time      `db:"shipped_at" json:"shipped_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`

	// joined display fields
	BuyerName   *string `db:"buyer_name" json:"buyer_name,omitempty"`
	BuyerEmail  *string `db:"buyer_email" json:"buyer_email,omitempty"`
	SellerName  *string `db:"seller_name" json:"seller_name,omitempty"`
	SellerEmail *string `db:"seller_email" json:"seller_email,omitempty"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is a denormalized snapshot of a product line at order-creation
// time, so later catalog edits do not alter historical orders.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Quantity    int             `db:"quantity" json:"quantity"`
	ImageBase64 *string         `db:"image_base64" json:"image_base64,omitempty"`
}

// Subtotal is price * quantity for the line.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// AdminStats aggregates marketplace-wide counters.
type AdminStats struct {
	TotalUsers    int             `db:"total_users" json:"total_users"`
	TotalSellers  int             `db:"total_sellers" json:"total_sellers"`
	TotalBuyers   int             `db:"total_buyers" json:"total_buyers"`
	TotalProducts int             `db:"total_products" json:"total_products"`
	TotalOrders   int             `db:"total_orders" json:"total_orders"`
	TotalRevenue  decimal.Decimal `db:"total_revenue" json:"total_revenue"`
}

// SellerStats aggregates counters for one seller.
type SellerStats struct {
	TotalProducts int             `db:"total_products" json:"total_products"`
	TotalOrders   int             `db:"total_orders" json:"total_orders"`
	PendingOrders int             `db:"pending_orders" json:"pending_orders"`
	TotalRevenue  decimal.Decimal `db:"total_revenue" json:"total_revenue"`
}

// ProcessedEvent records a consumed event for exactly-once handling.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
