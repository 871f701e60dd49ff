package service

import (
	"context"
	"testing"

	"marketplace-api/internal/apperr"
	"marketplace-api/internal/models"
	"marketplace-api/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProduct(t *testing.T) {
	st := store.NewMemStore()
	svc := NewCatalogService(st, nil)
	seller := newUser(t, st, models.RoleSeller)

	product, err := svc.CreateProduct(context.Background(), seller, &CreateProductRequest{
		Name:          "Table",
		Description:   "A sturdy oak table",
		Price:         decimal.RequireFromString("120.00"),
		StockQuantity: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, seller.ID, product.SellerID)
	assert.True(t, product.IsActive)
	require.NotNil(t, product.SellerName)
	assert.Equal(t, seller.Name, *product.SellerName)

	_, err = svc.CreateProduct(context.Background(), seller, &CreateProductRequest{
		Price: decimal.RequireFromString("1.00"),
	})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = svc.CreateProduct(context.Background(), seller, &CreateProductRequest{
		Name:  "Free",
		Price: decimal.Zero,
	})
	assert.Equal(t, "Price must be greater than zero", apperr.MessageOf(err))

	_, err = svc.CreateProduct(context.Background(), seller, &CreateProductRequest{
		Name:          "Bad stock",
		Price:         decimal.RequireFromString("1.00"),
		StockQuantity: -1,
	})
	assert.Equal(t, "Stock quantity cannot be negative", apperr.MessageOf(err))
}

func TestListProductsClampsPagination(t *testing.T) {
	st := store.NewMemStore()
	svc := NewCatalogService(st, nil)
	seller := newUser(t, st, models.RoleSeller)
	for i := 0; i < 25; i++ {
		newProduct(t, st, seller.ID, "Item", "1.00", 1)
	}

	page, err := svc.ListProducts(context.Background(), ListProductsParams{})
	require.NoError(t, err)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Products, 20)
	assert.Equal(t, 25, page.Total)

	page, err = svc.ListProducts(context.Background(), ListProductsParams{Limit: 500, Page: -3})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Products, 25)

	page, err = svc.ListProducts(context.Background(), ListProductsParams{Limit: 10, Page: 3})
	require.NoError(t, err)
	assert.Len(t, page.Products, 5)
}

func TestGetProductHidesInactive(t *testing.T) {
	st := store.NewMemStore()
	svc := NewCatalogService(st, nil)
	seller := newUser(t, st, models.RoleSeller)
	product := newProduct(t, st, seller.ID, "Ghost", "1.00", 1)

	got, err := svc.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, got.ID)

	inactive := false
	_, err = st.UpdateProduct(context.Background(), product.ID, models.ProductPatch{IsActive: &inactive})
	require.NoError(t, err)

	_, err = svc.GetProduct(context.Background(), product.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateProductOwnership(t *testing.T) {
	st := store.NewMemStore()
	svc := NewCatalogService(st, nil)
	seller := newUser(t, st, models.RoleSeller)
	other := newUser(t, st, models.RoleSeller)
	admin := newUser(t, st, models.RoleAdmin)
	product := newProduct(t, st, seller.ID, "Sofa", "300.00", 2)

	price := decimal.RequireFromString("280.00")
	_, err := svc.UpdateProduct(context.Background(), other, product.ID, &models.ProductPatch{Price: &price})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	updated, err := svc.UpdateProduct(context.Background(), seller, product.ID, &models.ProductPatch{Price: &price})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))

	stock := 7
	updated, err = svc.UpdateProduct(context.Background(), admin, product.ID, &models.ProductPatch{StockQuantity: &stock})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.StockQuantity)

	_, err = svc.UpdateProduct(context.Background(), seller, product.ID, &models.ProductPatch{})
	assert.Equal(t, "No fields to update", apperr.MessageOf(err))

	bad := decimal.RequireFromString("-1.00")
	_, err = svc.UpdateProduct(context.Background(), seller, product.ID, &models.ProductPatch{Price: &bad})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestDeleteProductBlockedByPendingOrders(t *testing.T) {
	st := store.NewMemStore()
	catalog := NewCatalogService(st, nil)
	orders := NewOrderService(st, nil, nil)

	buyer := newUser(t, st, models.RoleBuyer)
	seller := newUser(t, st, models.RoleSeller)
	product := newProduct(t, st, seller.ID, "Stool", "15.00", 5)
	order := placeOrder(t, orders, buyer, product.ID, 1)

	err := catalog.DeleteProduct(context.Background(), seller, product.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "Cannot delete product with pending orders", apperr.MessageOf(err))

	require.NoError(t, orders.UpdateStatus(context.Background(), seller, order.ID, models.OrderStatusShipped))
	require.NoError(t, catalog.DeleteProduct(context.Background(), seller, product.ID))

	_, err = catalog.GetProduct(context.Background(), product.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteProductOwnership(t *testing.T) {
	st := store.NewMemStore()
	svc := NewCatalogService(st, nil)
	seller := newUser(t, st, models.RoleSeller)
	other := newUser(t, st, models.RoleSeller)
	product := newProduct(t, st, seller.ID, "Bin", "4.00", 5)

	err := svc.DeleteProduct(context.Background(), other, product.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	err = svc.DeleteProduct(context.Background(), seller, 9999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListCategories(t *testing.T) {
	st := store.NewMemStore()
	svc := NewCatalogService(st, nil)
	st.SeedCategory("Home", true)
	st.SeedCategory("Electronics", true)

	categories, err := svc.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Electronics", categories[0].Name)
	assert.Equal(t, "Home", categories[1].Name)
}
