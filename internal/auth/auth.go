package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"marketplace-api/internal/apperr"
	"marketplace-api/internal/models"
	"marketplace-api/internal/store"
	"marketplace-api/internal/util"

	"go.uber.org/zap"
)

// ExtractToken reads the bearer credential from the request. Header-name
// casing is already canonicalized by net/http; proxies that rewrite the
// Authorization header are covered by the forwarded fallback. Returns ""
// when no credential is present.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.Header.Get("X-Forwarded-Authorization")
	}
	if header == "" {
		return ""
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticator maps bearer credentials to marketplace users and enforces
// role checks.
type Authenticator struct {
	store    store.Store
	verifier *Verifier
	logger   *zap.Logger
}

// NewAuthenticator creates an authenticator over the given store.
func NewAuthenticator(st store.Store, verifier *Verifier) *Authenticator {
	return &Authenticator{
		store:    st,
		verifier: verifier,
		logger:   util.GetLogger(),
	}
}

// VerifySubject verifies the request's bearer token and returns its
// subject without requiring a local account. Registration uses this before
// the account exists.
func (a *Authenticator) VerifySubject(r *http.Request) (string, error) {
	token := ExtractToken(r)
	if token == "" {
		util.AuthFailuresTotal.WithLabelValues("missing_token").Inc()
		return "", apperr.New(apperr.KindUnauthenticated,
			"Authentication required. Please provide a valid ID token in Authorization header.")
	}
	subject, err := a.verifier.Verify(token)
	if err != nil {
		util.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
		a.logger.Debug("Token verification failed", zap.Error(err))
		return "", apperr.New(apperr.KindUnauthenticated,
			"Authentication required. Please provide a valid ID token in Authorization header.")
	}
	return subject, nil
}

// Authenticate resolves the request's bearer token to an active user.
// Every failure is Unauthenticated; the reason never reaches the client.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*models.User, error) {
	subject, err := a.VerifySubject(r)
	if err != nil {
		return nil, err
	}

	user, err := a.store.GetActiveUserByFirebaseUID(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		util.AuthFailuresTotal.WithLabelValues("unknown_user").Inc()
		return nil, apperr.New(apperr.KindUnauthenticated, "User not found or inactive")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to authenticate", err)
	}
	return user, nil
}

// RequireRole authenticates and then checks the user's role against the
// allowed set.
func (a *Authenticator) RequireRole(ctx context.Context, r *http.Request, roles ...string) (*models.User, error) {
	user, err := a.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}

	for _, role := range roles {
		if user.Role == role {
			return user, nil
		}
	}

	util.AuthFailuresTotal.WithLabelValues("forbidden_role").Inc()
	return nil, apperr.Newf(apperr.KindForbidden,
		"Access denied. Required role: %s", strings.Join(roles, " or "))
}

// IsOwnerOrAdmin reports whether user may act on a resource owned by
// ownerID. Admins bypass ownership.
func IsOwnerOrAdmin(user *models.User, ownerID int64) bool {
	return user.Role == models.RoleAdmin || user.ID == ownerID
}
