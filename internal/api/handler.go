package api

import (
	"net/http"
	"strconv"
	"time"

	"marketplace-api/internal/auth"
	"marketplace-api/internal/models"
	"marketplace-api/internal/service"
	"marketplace-api/internal/store"
	"marketplace-api/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	users   *service.UserService
	catalog *service.CatalogService
	orders  *service.OrderService
	auth    *auth.Authenticator
}

// NewHandler creates a new HTTP handler
func NewHandler(users *service.UserService, catalog *service.CatalogService, orders *service.OrderService, authenticator *auth.Authenticator) *Handler {
	return &Handler{
		users:   users,
		catalog: catalog,
		orders:  orders,
		auth:    authenticator,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, Response{Success: false, Message: "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Response{Success: false, Message: "Not found"})
	})

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/categories", h.listCategories)

		v1.POST("/users/register", h.registerUser)
		v1.GET("/users", h.listUsers)
		v1.GET("/users/:id", h.getUser)
		v1.PUT("/users/:id", h.updateUser)
		v1.PUT("/users/:id/role", h.setUserRole)
		v1.DELETE("/users/:id", h.deleteUser)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/products", h.createProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)

		v1.GET("/stats/admin", h.adminStats)
		v1.GET("/stats/seller", h.sellerStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// --- categories ---

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Categories retrieved successfully", categories)
}

// --- users ---

func (h *Handler) registerUser(c *gin.Context) {
	uid, err := h.auth.VerifySubject(c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	user, err := h.users.Register(c.Request.Context(), uid, &req)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "User registered successfully", user)
}

// listUsers serves both the admin listing and the by-subject lookup that
// clients use to resolve their own profile after sign-in.
func (h *Handler) listUsers(c *gin.Context) {
	if uid := c.Query("firebase_uid"); uid != "" {
		caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			respondErr(c, err)
			return
		}
		user, err := h.users.GetUserByFirebaseUID(c.Request.Context(), caller, uid)
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "User retrieved successfully", user)
		return
	}

	if _, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleAdmin); err != nil {
		respondErr(c, err)
		return
	}

	users, err := h.users.ListUsers(c.Request.Context(), c.Query("role"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Users retrieved successfully", users)
}

func (h *Handler) getUser(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid user ID")
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), caller, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "User retrieved successfully", user)
}

func (h *Handler) updateUser(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid user ID")
		return
	}

	var patch models.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	user, err := h.users.UpdateUser(c.Request.Context(), caller, id, patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "User updated successfully", user)
}

func (h *Handler) setUserRole(c *gin.Context) {
	if _, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleAdmin); err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid user ID")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	user, err := h.users.SetUserRole(c.Request.Context(), id, req.Role)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "User role updated successfully", user)
}

func (h *Handler) deleteUser(c *gin.Context) {
	if _, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleAdmin); err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid user ID")
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "User deleted successfully", nil)
}

// --- products ---

func intQuery(c *gin.Context, name string) int64 {
	v, _ := strconv.ParseInt(c.Query(name), 10, 64)
	return v
}

func (h *Handler) listProducts(c *gin.Context) {
	params := service.ListProductsParams{
		SellerID:   intQuery(c, "seller_id"),
		CategoryID: intQuery(c, "category_id"),
		Search:     c.Query("search"),
		Page:       int(intQuery(c, "page")),
		Limit:      int(intQuery(c, "limit")),
	}

	page, err := h.catalog.ListProducts(c.Request.Context(), params)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Products retrieved successfully", page)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid product ID")
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Product retrieved successfully", product)
}

func (h *Handler) createProduct(c *gin.Context) {
	caller, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), caller, &req)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "Product created successfully", product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid product ID")
		return
	}

	var patch models.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), caller, id, &patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Product updated successfully", product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid product ID")
		return
	}

	if err := h.catalog.DeleteProduct(c.Request.Context(), caller, id); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Product deleted successfully", nil)
}

// --- orders ---

func (h *Handler) createOrder(c *gin.Context) {
	caller, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleBuyer, models.RoleAdmin)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), caller, &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "Order placed successfully", result)
}

func (h *Handler) listOrders(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}

	filter := store.OrderFilter{
		BuyerID:  intQuery(c, "buyer_id"),
		SellerID: intQuery(c, "seller_id"),
		Status:   c.Query("status"),
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), caller, filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Orders retrieved successfully", orders)
}

func (h *Handler) getOrder(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid order ID")
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), caller, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Order retrieved successfully", order)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	caller, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	id, ok := idParam(c)
	if !ok {
		respondBadRequest(c, "Invalid order ID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	if err := h.orders.UpdateStatus(c.Request.Context(), caller, id, req.Status); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Order status updated successfully", nil)
}

// --- stats ---

func (h *Handler) adminStats(c *gin.Context) {
	if _, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleAdmin); err != nil {
		respondErr(c, err)
		return
	}

	stats, err := h.users.AdminStats(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Stats retrieved successfully", stats)
}

func (h *Handler) sellerStats(c *gin.Context) {
	caller, err := h.auth.RequireRole(c.Request.Context(), c.Request, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		respondErr(c, err)
		return
	}

	sellerID := caller.ID
	if caller.Role == models.RoleAdmin {
		if id := intQuery(c, "seller_id"); id != 0 {
			sellerID = id
		}
	}

	stats, err := h.users.SellerStats(c.Request.Context(), sellerID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Stats retrieved successfully", stats)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
