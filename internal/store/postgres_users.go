package store

import (
	"context"
	"fmt"
	"strings"

	"marketplace-api/internal/models"
)

const userColumns = "id, firebase_uid, email, name, role, phone, address, profile_image, is_active, created_at, updated_at"

// CreateUser inserts a user and fills the generated fields.
func (s *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (firebase_uid, email, name, role, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_active, created_at, updated_at`

	return s.db.GetContext(ctx, u, query,
		u.FirebaseUID, u.Email, u.Name, u.Role, u.Phone, u.Address)
}

// GetUserByID retrieves a user by internal id.
func (s *Postgres) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByFirebaseUID retrieves a user by auth-subject id, active or not.
func (s *Postgres) GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE firebase_uid = $1", uid)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetActiveUserByFirebaseUID retrieves an active user by auth-subject id.
// Deactivated accounts do not authenticate.
func (s *Postgres) GetActiveUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM users WHERE firebase_uid = $1 AND is_active = true", uid)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether a user with the given subject id or email
// already exists.
func (s *Postgres) UserExists(ctx context.Context, firebaseUID, email string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM users WHERE firebase_uid = $1 OR email = $2)",
		firebaseUID, email)
	return exists, err
}

// ListUsers returns users, optionally filtered by role, newest first.
func (s *Postgres) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	users := []models.User{}
	query := "SELECT " + userColumns + " FROM users"
	args := []interface{}{}
	if role != "" {
		query += " WHERE role = $1"
		args = append(args, role)
	}
	query += " ORDER BY created_at DESC"

	err := s.db.SelectContext(ctx, &users, query, args...)
	return users, err
}

// UpdateUser applies an allow-listed partial update and returns the updated
// row. The SET clause is built only from the patch's non-nil fields; client
// keys never reach the SQL text.
func (s *Postgres) UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (*models.User, error) {
	sets := []string{}
	args := []interface{}{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.ProfileImage != nil {
		add("profile_image", *patch.ProfileImage)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("empty patch")
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d RETURNING "+userColumns,
		strings.Join(sets, ", "), len(args))

	var u models.User
	err := s.db.GetContext(ctx, &u, query, args...)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserRole updates a user's role; returns false when no row matched.
func (s *Postgres) SetUserRole(ctx context.Context, id int64, role string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2", role, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteUser removes the user row; order and product history keep the id
// and surface null display names. Returns false when no row matched.
func (s *Postgres) DeleteUser(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
