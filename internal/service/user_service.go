package service

import (
	"context"
	"errors"

	"marketplace-api/internal/apperr"
	"marketplace-api/internal/models"
	"marketplace-api/internal/store"
	"marketplace-api/internal/util"

	"go.uber.org/zap"
)

// UserService manages registration, profiles and the admin user surface.
type UserService struct {
	store  store.Store
	logger *zap.Logger
}

func NewUserService(st store.Store) *UserService {
	return &UserService{store: st, logger: util.GetLogger()}
}

// RegisterRequest is the client input for first-login registration. The
// Firebase UID comes from the verified token, never from the body.
type RegisterRequest struct {
	Email   string  `json:"email"`
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

// Register creates the local account for a verified identity. Duplicate
// registration by uid or email is rejected.
func (s *UserService) Register(ctx context.Context, firebaseUID string, req *RegisterRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	if req.Email == "" || req.Name == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "Missing required fields: email, name")
	}
	role := req.Role
	if role == "" {
		role = models.RoleBuyer
	}
	if !models.ValidRole(role) || role == models.RoleAdmin {
		return nil, apperr.New(apperr.KindInvalidInput, "Invalid role. Must be: buyer or seller")
	}

	exists, err := s.store.UserExists(ctx, firebaseUID, req.Email)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to check existing user", err)
	}
	if exists {
		return nil, apperr.New(apperr.KindConflict, "User already exists")
	}

	user := &models.User{
		FirebaseUID: firebaseUID,
		Email:       req.Email,
		Name:        req.Name,
		Role:        role,
		Phone:       req.Phone,
		Address:     req.Address,
		IsActive:    true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to create user", err)
	}

	util.UsersRegisteredTotal.Inc()
	s.logger.Info("User registered",
		zap.Int64("user_id", user.ID),
		zap.String("role", user.Role))
	return user, nil
}

// GetUser returns one user. Callers may read themselves; admins may read
// anyone.
func (s *UserService) GetUser(ctx context.Context, caller *models.User, userID int64) (*models.User, error) {
	if caller.Role != models.RoleAdmin && caller.ID != userID {
		return nil, apperr.New(apperr.KindForbidden,
			"Access denied. You don't have permission to access this resource.")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load user", err)
	}
	return user, nil
}

// GetUserByFirebaseUID resolves a user by external auth subject. Callers
// may resolve their own subject; admins may resolve anyone's.
func (s *UserService) GetUserByFirebaseUID(ctx context.Context, caller *models.User, uid string) (*models.User, error) {
	if caller.Role != models.RoleAdmin && caller.FirebaseUID != uid {
		return nil, apperr.New(apperr.KindForbidden,
			"Access denied. You don't have permission to access this resource.")
	}
	user, err := s.store.GetUserByFirebaseUID(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load user", err)
	}
	return user, nil
}

// ListUsers returns users, optionally filtered by role. Admin only.
func (s *UserService) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	if role != "" && !models.ValidRole(role) {
		return nil, apperr.New(apperr.KindInvalidInput, "Invalid role. Must be: buyer, seller, or admin")
	}
	users, err := s.store.ListUsers(ctx, role)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load users", err)
	}
	return users, nil
}

// UpdateUser applies a partial profile update. Users may update themselves;
// admins may update anyone. Role and is_active are not part of the patch.
func (s *UserService) UpdateUser(ctx context.Context, caller *models.User, userID int64, patch models.UserPatch) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.UpdateUser")
	defer span.End()

	if caller.Role != models.RoleAdmin && caller.ID != userID {
		return nil, apperr.New(apperr.KindForbidden,
			"Access denied. You don't have permission to access this resource.")
	}
	if patch.Empty() {
		return nil, apperr.New(apperr.KindInvalidInput, "No fields to update")
	}

	user, err := s.store.UpdateUser(ctx, userID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to update user", err)
	}
	return user, nil
}

// SetUserRole changes a user's role. Admin only.
func (s *UserService) SetUserRole(ctx context.Context, userID int64, role string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.SetUserRole")
	defer span.End()

	if !models.ValidRole(role) {
		return nil, apperr.New(apperr.KindInvalidInput, "Invalid role. Must be: buyer, seller, or admin")
	}
	updated, err := s.store.SetUserRole(ctx, userID, role)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to update role", err)
	}
	if !updated {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}

	s.logger.Info("User role changed",
		zap.Int64("user_id", userID),
		zap.String("role", role))
	return s.store.GetUserByID(ctx, userID)
}

// DeleteUser removes a user account. Admin only. Order and product history
// keeps the user id; joined display names go null.
func (s *UserService) DeleteUser(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "UserService.DeleteUser")
	defer span.End()

	deleted, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "Failed to delete user", err)
	}
	if !deleted {
		return apperr.New(apperr.KindNotFound, "User not found")
	}
	s.logger.Info("User deleted", zap.Int64("user_id", userID))
	return nil
}

// AdminStats returns marketplace-wide aggregates. Admin only.
func (s *UserService) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	stats, err := s.store.AdminStats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load stats", err)
	}
	return stats, nil
}

// SellerStats returns per-seller aggregates for the caller.
func (s *UserService) SellerStats(ctx context.Context, sellerID int64) (*models.SellerStats, error) {
	stats, err := s.store.SellerStats(ctx, sellerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load stats", err)
	}
	return stats, nil
}
