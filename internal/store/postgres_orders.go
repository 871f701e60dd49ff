package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-api/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderSelect = `
	SELECT o.*, buyer.name AS buyer_name, buyer.email AS buyer_email,
	       seller.name AS seller_name, seller.email AS seller_email
	FROM orders o
	LEFT JOIN users buyer ON o.buyer_id = buyer.id
	LEFT JOIN users seller ON o.seller_id = seller.id`

// GetOrder retrieves an order joined with buyer/seller names and its items.
func (s *Postgres) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := s.db.GetContext(ctx, &o, orderSelect+" WHERE o.id = $1", id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &o.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns orders matching the filter, newest first, each with
// joined names and its full item list.
func (s *Postgres) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	where := []string{}
	args := []interface{}{}

	cond := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.BuyerID != 0 {
		cond("o.buyer_id = $%d", f.BuyerID)
	}
	if f.SellerID != 0 {
		cond("o.seller_id = $%d", f.SellerID)
	}
	if f.Status != "" {
		cond("o.status = $%d", f.Status)
	}

	query := orderSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.created_at DESC"

	orders := []models.Order{}
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]*models.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = &orders[i]
	}

	itemsQuery, itemsArgs, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	itemsQuery = s.db.Rebind(itemsQuery)

	items := []models.OrderItem{}
	if err := s.db.SelectContext(ctx, &items, itemsQuery, itemsArgs...); err != nil {
		return nil, err
	}
	for _, item := range items {
		o := index[item.OrderID]
		o.Items = append(o.Items, item)
	}
	return orders, nil
}

// pgTx implements Tx over one sqlx transaction.
type pgTx struct {
	tx *sqlx.Tx
}

var _ Tx = (*pgTx)(nil)

// ProductForUpdate locks the product row so concurrent stock checks
// serialize on it.
func (t *pgTx) ProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := t.tx.GetContext(ctx, &p, "SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product %d: %w", id, err)
	}
	return &p, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (buyer_id, seller_id, status, total_amount, shipping_address, phone, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, o, query,
		o.BuyerID, o.SellerID, o.Status, o.TotalAmount, o.ShippingAddress, o.Phone, o.Notes)
}

func (t *pgTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, price, quantity, image_base64)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.Price, item.Quantity, item.ImageBase64)
}

func (t *pgTx) AddStock(ctx context.Context, productID int64, delta int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2",
		delta, productID)
	return err
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := t.tx.GetContext(ctx, &o, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", id, err)
	}
	return &o, nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id int64, status string, shippedAt, completedAt *time.Time) error {
	sets := []string{"status = $1"}
	args := []interface{}{status}

	if shippedAt != nil {
		args = append(args, *shippedAt)
		sets = append(sets, fmt.Sprintf("shipped_at = $%d", len(args)))
	}
	if completedAt != nil {
		args = append(args, *completedAt)
		sets = append(sets, fmt.Sprintf("completed_at = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *pgTx) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

func (t *pgTx) CountPendingOrderItems(ctx context.Context, productID int64) (int, error) {
	var count int
	err := t.tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM order_items oi
		JOIN orders o ON oi.order_id = o.id
		WHERE oi.product_id = $1 AND o.status = 'pending'`, productID)
	return count, err
}

func (t *pgTx) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
