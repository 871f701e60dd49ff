package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-api/internal/auth"
	"marketplace-api/internal/models"
	"marketplace-api/internal/service"
	"marketplace-api/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store  *store.MemStore
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemStore()

	users := service.NewUserService(st)
	catalog := service.NewCatalogService(st, nil)
	orders := service.NewOrderService(st, nil, nil)
	authenticator := auth.NewAuthenticator(st, auth.NewVerifier("test-project", true))

	router := gin.New()
	NewHandler(users, catalog, orders, authenticator).SetupRoutes(router)
	return &testEnv{store: st, router: router}
}

// tokenFor mints a structurally valid ID token for the given subject.
func tokenFor(t *testing.T, uid string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": uid,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (e *testEnv) seedUser(t *testing.T, role string) (*models.User, string) {
	t.Helper()
	uid := fmt.Sprintf("uid-%s-%d", role, time.Now().UnixNano())
	u := &models.User{
		FirebaseUID: uid,
		Email:       uid + "@example.com",
		Name:        "Test " + role,
		Role:        role,
		IsActive:    true,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u, tokenFor(t, uid)
}

func (e *testEnv) seedProduct(t *testing.T, sellerID int64, name, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		SellerID:      sellerID,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsActive:      true,
	}
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnvelopeOnUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.request(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)

	w, resp = env.request(t, http.MethodDelete, "/api/v1/categories", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Method not allowed", resp.Message)
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := tokenFor(t, "new-uid")

	w, resp := env.request(t, http.MethodPost, "/api/v1/users/register", token, gin.H{
		"email": "new@example.com",
		"name":  "Newcomer",
		"role":  "seller",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "User registered successfully", resp.Message)

	// replays conflict
	w, resp = env.request(t, http.MethodPost, "/api/v1/users/register", token, gin.H{
		"email": "new@example.com",
		"name":  "Newcomer",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "User already exists", resp.Message)

	// no token
	w, _ = env.request(t, http.MethodPost, "/api/v1/users/register", "", gin.H{
		"email": "x@example.com",
		"name":  "X",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserEndpointsAuthorization(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.seedUser(t, models.RoleBuyer)
	_, bobToken := env.seedUser(t, models.RoleBuyer)
	_, adminToken := env.seedUser(t, models.RoleAdmin)

	path := fmt.Sprintf("/api/v1/users/%d", alice.ID)

	w, _ := env.request(t, http.MethodGet, path, aliceToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.request(t, http.MethodGet, path, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.request(t, http.MethodGet, path, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// listing is admin only
	w, _ = env.request(t, http.MethodGet, "/api/v1/users", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodGet, "/api/v1/users?role=buyer", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// subject lookup: self and admin, never another user
	selfPath := "/api/v1/users?firebase_uid=" + alice.FirebaseUID
	w, _ = env.request(t, http.MethodGet, selfPath, aliceToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.request(t, http.MethodGet, selfPath, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodGet, selfPath, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// role change is admin only
	w, _ = env.request(t, http.MethodPut, path+"/role", bobToken, gin.H{"role": "seller"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, resp := env.request(t, http.MethodPut, path+"/role", adminToken, gin.H{"role": "seller"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User role updated successfully", resp.Message)

	// delete is admin only
	w, _ = env.request(t, http.MethodDelete, path, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodDelete, path, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateUserEndpoint(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.seedUser(t, models.RoleBuyer)
	path := fmt.Sprintf("/api/v1/users/%d", alice.ID)

	w, resp := env.request(t, http.MethodPut, path, aliceToken, gin.H{"phone": "555-0100"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User updated successfully", resp.Message)

	w, resp = env.request(t, http.MethodPut, path, aliceToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No fields to update", resp.Message)
}

func TestProductEndpoints(t *testing.T) {
	env := newTestEnv(t)
	seller, sellerToken := env.seedUser(t, models.RoleSeller)
	_, buyerToken := env.seedUser(t, models.RoleBuyer)

	// buyers cannot create products
	w, _ := env.request(t, http.MethodPost, "/api/v1/products", buyerToken, gin.H{
		"name": "Nope", "price": "1.00",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := env.request(t, http.MethodPost, "/api/v1/products", sellerToken, gin.H{
		"name":           "Lamp",
		"price":          "19.99",
		"stock_quantity": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Product created successfully", resp.Message)

	// listing is public
	w, resp = env.request(t, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page service.ProductPage
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Products, 1)
	assert.Equal(t, seller.ID, page.Products[0].SellerID)

	productPath := fmt.Sprintf("/api/v1/products/%d", page.Products[0].ID)
	w, _ = env.request(t, http.MethodGet, productPath, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// only the owner may update
	w, _ = env.request(t, http.MethodPut, productPath, buyerToken, gin.H{"price": "10.00"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodPut, productPath, sellerToken, gin.H{"price": "10.00"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.request(t, http.MethodDelete, productPath, sellerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.request(t, http.MethodGet, productPath, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderEndpoints(t *testing.T) {
	env := newTestEnv(t)
	buyer, buyerToken := env.seedUser(t, models.RoleBuyer)
	seller, sellerToken := env.seedUser(t, models.RoleSeller)
	_, strangerToken := env.seedUser(t, models.RoleBuyer)
	product := env.seedProduct(t, seller.ID, "Desk", "100.00", 5)

	// only buyers and admins place orders
	w, _ := env.request(t, http.MethodPost, "/api/v1/orders", sellerToken, gin.H{
		"shipping_address": "1 Main St",
		"items":            []gin.H{{"product_id": product.ID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := env.request(t, http.MethodPost, "/api/v1/orders", buyerToken, gin.H{
		"shipping_address": "1 Main St",
		"items": []gin.H{
			{"product_id": product.ID, "quantity": 2},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Order placed successfully", resp.Message)

	var result service.CreateOrderResult
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.OrderIDs, 1)
	assert.Equal(t, buyer.ID, result.Order.BuyerID)

	orderPath := fmt.Sprintf("/api/v1/orders/%d", result.OrderIDs[0])

	w, _ = env.request(t, http.MethodGet, orderPath, buyerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.request(t, http.MethodGet, orderPath, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodGet, orderPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// seller ships, buyer cannot
	w, resp = env.request(t, http.MethodPut, orderPath+"/status", buyerToken, gin.H{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Buyers can only cancel pending orders", resp.Message)

	w, _ = env.request(t, http.MethodPut, orderPath+"/status", sellerToken, gin.H{"status": "shipped"})
	assert.Equal(t, http.StatusOK, w.Code)

	// insufficient stock surfaces as 400 with remaining stock
	w, resp = env.request(t, http.MethodPost, "/api/v1/orders", buyerToken, gin.H{
		"shipping_address": "1 Main St",
		"items": []gin.H{
			{"product_id": product.ID, "quantity": 10},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Insufficient stock for Desk. Available: 3", resp.Message)
}

func TestListOrdersEndpointScoping(t *testing.T) {
	env := newTestEnv(t)
	_, buyerToken := env.seedUser(t, models.RoleBuyer)
	otherBuyer, _ := env.seedUser(t, models.RoleBuyer)
	seller, _ := env.seedUser(t, models.RoleSeller)
	product := env.seedProduct(t, seller.ID, "Plant", "8.00", 10)

	w, _ := env.request(t, http.MethodPost, "/api/v1/orders", buyerToken, gin.H{
		"shipping_address": "1 Main St",
		"items":            []gin.H{{"product_id": product.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := env.request(t, http.MethodGet, "/api/v1/orders", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []models.Order
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &orders))
	assert.Len(t, orders, 1)

	// peeking at another buyer's orders is refused
	path := fmt.Sprintf("/api/v1/orders?buyer_id=%d", otherBuyer.ID)
	w, _ = env.request(t, http.MethodGet, path, buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, buyerToken := env.seedUser(t, models.RoleBuyer)
	_, sellerToken := env.seedUser(t, models.RoleSeller)
	_, adminToken := env.seedUser(t, models.RoleAdmin)

	w, _ := env.request(t, http.MethodGet, "/api/v1/stats/admin", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodGet, "/api/v1/stats/admin", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.request(t, http.MethodGet, "/api/v1/stats/seller", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.request(t, http.MethodGet, "/api/v1/stats/seller", sellerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCategoriesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedCategory("Home", true)

	w, resp := env.request(t, http.MethodGet, "/api/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}
