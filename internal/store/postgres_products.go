package store

import (
	"context"
	"fmt"
	"strings"

	"marketplace-api/internal/models"
)

const productSelect = `
	SELECT p.*, u.name AS seller_name, c.name AS category_name
	FROM products p
	LEFT JOIN users u ON p.seller_id = u.id
	LEFT JOIN categories c ON p.category_id = c.id`

// CreateProduct inserts a product and fills the generated fields.
func (s *Postgres) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (seller_id, category_id, name, description, price, stock_quantity, image_base64)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, is_active, created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.SellerID, p.CategoryID, p.Name, p.Description, p.Price, p.StockQuantity, p.ImageBase64)
}

// GetProduct retrieves a product with seller and category names.
func (s *Postgres) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p, productSelect+" WHERE p.id = $1", id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns active products matching the filter plus the total
// count for pagination.
func (s *Postgres) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int, error) {
	where := []string{"p.is_active = true"}
	args := []interface{}{}

	cond := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.SellerID != 0 {
		cond("p.seller_id = $%d", f.SellerID)
	}
	if f.CategoryID != 0 {
		cond("p.category_id = $%d", f.CategoryID)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(p.name ILIKE $%d OR p.description ILIKE $%d)", len(args), len(args)))
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM products p" + whereClause
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset())
	query := fmt.Sprintf("%s%s ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d",
		productSelect, whereClause, len(args)-1, len(args))

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// UpdateProduct applies an allow-listed partial update; returns false when
// no row matched. The SET clause is built only from non-nil patch fields.
func (s *Postgres) UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (bool, error) {
	sets := []string{}
	args := []interface{}{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.StockQuantity != nil {
		add("stock_quantity", *patch.StockQuantity)
	}
	if patch.CategoryID != nil {
		add("category_id", *patch.CategoryID)
	}
	if patch.ImageBase64 != nil {
		add("image_base64", *patch.ImageBase64)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	if len(sets) == 0 {
		return false, fmt.Errorf("empty patch")
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE products SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
