package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace-api/internal/apperr"
	"marketplace-api/internal/models"
	"marketplace-api/internal/store"
	"marketplace-api/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cache is a read-through cache with namespace-wide invalidation. A nil
// Cache disables caching; cache errors only produce misses.
type Cache interface {
	Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, namespace, key string, value interface{}) error
	Invalidate(ctx context.Context, namespace string) error
}

const (
	cacheNSProducts   = "products"
	cacheNSCategories = "categories"

	defaultPageLimit = 20
	maxPageLimit     = 50
)

// CatalogService manages products and categories.
type CatalogService struct {
	store  store.Store
	cache  Cache
	logger *zap.Logger
}

func NewCatalogService(st store.Store, cache Cache) *CatalogService {
	return &CatalogService{store: st, cache: cache, logger: util.GetLogger()}
}

// CreateProductRequest is the client input for product creation. The
// seller is taken from the authenticated caller.
type CreateProductRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CategoryID    *int64          `json:"category_id"`
	ImageBase64   *string         `json:"image_base64"`
}

// CreateProduct creates a product owned by the caller.
func (s *CatalogService) CreateProduct(ctx context.Context, seller *models.User, req *CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if req.Name == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "Missing required fields: name, price")
	}
	if req.Price.IsNegative() || req.Price.IsZero() {
		return nil, apperr.New(apperr.KindInvalidInput, "Price must be greater than zero")
	}
	if req.StockQuantity < 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "Stock quantity cannot be negative")
	}

	product := &models.Product{
		SellerID:      seller.ID,
		CategoryID:    req.CategoryID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		ImageBase64:   req.ImageBase64,
		IsActive:      true,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to create product", err)
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.Int64("seller_id", seller.ID))
	s.invalidate(ctx, cacheNSProducts)

	return s.getProduct(ctx, product.ID)
}

// ListProductsParams are the public listing filters. Page and Limit are
// clamped server-side.
type ListProductsParams struct {
	SellerID   int64
	CategoryID int64
	Search     string
	Page       int
	Limit      int
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	Products []models.Product `json:"products"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// ListProducts returns active products, newest first. Limit is clamped to
// [1, 50] with a default of 20; page is clamped to a minimum of 1.
func (s *CatalogService) ListProducts(ctx context.Context, params ListProductsParams) (*ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	if params.Limit <= 0 {
		params.Limit = defaultPageLimit
	}
	if params.Limit > maxPageLimit {
		params.Limit = maxPageLimit
	}
	if params.Page < 1 {
		params.Page = 1
	}

	filter := store.ProductFilter{
		SellerID:   params.SellerID,
		CategoryID: params.CategoryID,
		Search:     params.Search,
		Page:       params.Page,
		Limit:      params.Limit,
	}

	cacheKey := fmt.Sprintf("list:%d:%d:%s:%d:%d",
		params.SellerID, params.CategoryID, params.Search, params.Page, params.Limit)
	var page ProductPage
	if s.cacheGet(ctx, cacheNSProducts, cacheKey, &page) {
		return &page, nil
	}

	products, total, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load products", err)
	}

	page = ProductPage{Products: products, Total: total, Page: params.Page, Limit: params.Limit}
	s.cacheSet(ctx, cacheNSProducts, cacheKey, &page)
	return &page, nil
}

// GetProduct returns one active product with joined seller and category names.
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	cacheKey := fmt.Sprintf("id:%d", productID)
	var cached models.Product
	if s.cacheGet(ctx, cacheNSProducts, cacheKey, &cached) {
		return &cached, nil
	}

	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cacheNSProducts, cacheKey, product)
	return product, nil
}

func (s *CatalogService) getProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Product not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load product", err)
	}
	if !product.IsActive {
		return nil, apperr.New(apperr.KindNotFound, "Product not found")
	}
	return product, nil
}

// UpdateProduct applies a partial update. Only the owning seller or an
// admin may modify a product.
func (s *CatalogService) UpdateProduct(ctx context.Context, caller *models.User, productID int64, patch *models.ProductPatch) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if caller.Role != models.RoleAdmin && caller.ID != product.SellerID {
		return nil, apperr.New(apperr.KindForbidden,
			"Access denied. You can only modify your own products.")
	}

	if patch.Empty() {
		return nil, apperr.New(apperr.KindInvalidInput, "No fields to update")
	}
	if patch.Price != nil && (patch.Price.IsNegative() || patch.Price.IsZero()) {
		return nil, apperr.New(apperr.KindInvalidInput, "Price must be greater than zero")
	}
	if patch.StockQuantity != nil && *patch.StockQuantity < 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "Stock quantity cannot be negative")
	}

	updated, err := s.store.UpdateProduct(ctx, productID, *patch)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to update product", err)
	}
	if !updated {
		return nil, apperr.New(apperr.KindNotFound, "Product not found")
	}

	s.invalidate(ctx, cacheNSProducts)
	return s.getProduct(ctx, productID)
}

// DeleteProduct removes a product. Deletion is refused while any pending
// order still references the product.
func (s *CatalogService) DeleteProduct(ctx context.Context, caller *models.User, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteProduct")
	defer span.End()

	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return err
	}
	if caller.Role != models.RoleAdmin && caller.ID != product.SellerID {
		return apperr.New(apperr.KindForbidden,
			"Access denied. You can only modify your own products.")
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		pending, err := tx.CountPendingOrderItems(ctx, productID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "Failed to check pending orders", err)
		}
		if pending > 0 {
			return apperr.New(apperr.KindConflict, "Cannot delete product with pending orders")
		}
		deleted, err := tx.DeleteProduct(ctx, productID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "Failed to delete product", err)
		}
		if !deleted {
			return apperr.New(apperr.KindNotFound, "Product not found")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Product deleted",
		zap.Int64("product_id", productID),
		zap.Int64("caller_id", caller.ID))
	s.invalidate(ctx, cacheNSProducts)
	return nil
}

// ListCategories returns all categories ordered by name.
func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListCategories")
	defer span.End()

	var cached []models.Category
	if s.cacheGet(ctx, cacheNSCategories, "all", &cached) {
		return cached, nil
	}

	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load categories", err)
	}
	s.cacheSet(ctx, cacheNSCategories, "all", categories)
	return categories, nil
}

func (s *CatalogService) cacheGet(ctx context.Context, ns, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, ns, key, dest)
	if err != nil {
		s.logger.Warn("Cache read failed", zap.String("namespace", ns), zap.Error(err))
		return false
	}
	if hit {
		util.CacheHitsTotal.WithLabelValues(ns).Inc()
	} else {
		util.CacheMissesTotal.WithLabelValues(ns).Inc()
	}
	return hit
}

func (s *CatalogService) cacheSet(ctx context.Context, ns, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, ns, key, value); err != nil {
		s.logger.Warn("Cache write failed", zap.String("namespace", ns), zap.Error(err))
	}
}

func (s *CatalogService) invalidate(ctx context.Context, ns string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, ns); err != nil {
		s.logger.Warn("Cache invalidation failed", zap.String("namespace", ns), zap.Error(err))
	}
}
