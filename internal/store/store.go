package store

import (
	"context"
	"time"

	"marketplace-api/internal/models"
)

// ProductFilter narrows and pages a product listing. Only active products
// are ever listed.
type ProductFilter struct {
	SellerID   int64
	CategoryID int64
	Search     string
	Page       int
	Limit      int
}

// Offset is the row offset for the filter's page.
func (f ProductFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// OrderFilter narrows an order listing. Zero values mean "no filter".
type OrderFilter struct {
	BuyerID  int64
	SellerID int64
	Status   string
}

// Store is the persistence boundary for the marketplace. Postgres backs it
// in production; MemStore backs it in tests and local runs.
type Store interface {
	// users
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error)
	GetActiveUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error)
	UserExists(ctx context.Context, firebaseUID, email string) (bool, error)
	ListUsers(ctx context.Context, role string) ([]models.User, error)
	UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (*models.User, error)
	SetUserRole(ctx context.Context, id int64, role string) (bool, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)

	// categories
	ListCategories(ctx context.Context) ([]models.Category, error)

	// products
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int, error)
	UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (bool, error)

	// orders (reads; writes go through InTx)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)

	// stats
	AdminStats(ctx context.Context) (*models.AdminStats, error)
	SellerStats(ctx context.Context, sellerID int64) (*models.SellerStats, error)

	// event idempotency
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	// InTx runs fn inside one transaction. Any error from fn rolls the
	// whole transaction back; nil commits it.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the row-locking writes used by the order workflow and the
// delete-product check. Reads through Tx lock the rows they return.
type Tx interface {
	// ProductForUpdate locks and returns the product row, active or not.
	ProductForUpdate(ctx context.Context, id int64) (*models.Product, error)
	InsertOrder(ctx context.Context, o *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	// AddStock adjusts stock_quantity by delta (negative to decrement).
	AddStock(ctx context.Context, productID int64, delta int) error

	// OrderForUpdate locks and returns the order row without joins.
	OrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	SetOrderStatus(ctx context.Context, id int64, status string, shippedAt, completedAt *time.Time) error
	OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)

	// CountPendingOrderItems counts order_items rows for the product that
	// belong to a pending order.
	CountPendingOrderItems(ctx context.Context, productID int64) (int, error)
	DeleteProduct(ctx context.Context, id int64) (bool, error)
}
