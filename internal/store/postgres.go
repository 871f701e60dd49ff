package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-api/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist. Services
// translate it into the client-facing error taxonomy.
var ErrNotFound = errors.New("not found")

// Postgres implements Store on top of sqlx.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (s *Postgres) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a single transaction, rolling back on error.
func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txx.Rollback()

	if err := fn(&pgTx{tx: txx}); err != nil {
		return err
	}

	return txx.Commit()
}

// ListCategories returns active categories, name ascending.
func (s *Postgres) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT * FROM categories WHERE is_active = true ORDER BY name ASC")
	return categories, err
}

// IsEventProcessed checks if an event has been processed
func (s *Postgres) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Postgres) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// AdminStats aggregates marketplace-wide counters.
func (s *Postgres) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	var stats models.AdminStats
	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS total_users,
			(SELECT COUNT(*) FROM users WHERE role = 'seller') AS total_sellers,
			(SELECT COUNT(*) FROM users WHERE role = 'buyer') AS total_buyers,
			(SELECT COUNT(*) FROM products) AS total_products,
			(SELECT COUNT(*) FROM orders) AS total_orders,
			(SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status = 'completed') AS total_revenue`

	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SellerStats aggregates counters for one seller.
func (s *Postgres) SellerStats(ctx context.Context, sellerID int64) (*models.SellerStats, error) {
	var stats models.SellerStats
	query := `
		SELECT
			(SELECT COUNT(*) FROM products WHERE seller_id = $1) AS total_products,
			(SELECT COUNT(*) FROM orders WHERE seller_id = $1) AS total_orders,
			(SELECT COUNT(*) FROM orders WHERE seller_id = $1 AND status = 'pending') AS pending_orders,
			(SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE seller_id = $1 AND status = 'completed') AS total_revenue`

	if err := s.db.GetContext(ctx, &stats, query, sellerID); err != nil {
		return nil, err
	}
	return &stats, nil
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
