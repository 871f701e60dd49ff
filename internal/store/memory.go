package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace-api/internal/models"

	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store used by tests and database-free local
// runs. One mutex serializes everything, which also gives InTx the same
// isolation the row locks give Postgres.
type MemStore struct {
	mu sync.Mutex

	users      map[int64]*models.User
	categories map[int64]*models.Category
	products   map[int64]*models.Product
	orders     map[int64]*models.Order
	orderItems map[int64]*models.OrderItem
	processed  map[string]string

	userSeq, categorySeq, productSeq, orderSeq, itemSeq int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:      map[int64]*models.User{},
		categories: map[int64]*models.Category{},
		products:   map[int64]*models.Product{},
		orders:     map[int64]*models.Order{},
		orderItems: map[int64]*models.OrderItem{},
		processed:  map[string]string{},
	}
}

// SeedCategory inserts a category directly; categories are read-only
// through the Store interface.
func (s *MemStore) SeedCategory(name string, active bool) *models.Category {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.categorySeq++
	c := &models.Category{ID: s.categorySeq, Name: name, IsActive: active, CreatedAt: time.Now()}
	s.categories[c.ID] = c
	out := *c
	return &out
}

func (s *MemStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userSeq++
	u.ID = s.userSeq
	u.IsActive = true
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	s.users[u.ID] = &stored
	return nil
}

func (s *MemStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemStore) GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.FirebaseUID == uid {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) GetActiveUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.FirebaseUID == uid && u.IsActive {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) UserExists(ctx context.Context, firebaseUID, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.FirebaseUID == firebaseUID || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := []models.User{}
	for _, u := range s.users {
		if role == "" || u.Role == role {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })
	return users, nil
}

func (s *MemStore) UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Phone != nil {
		u.Phone = patch.Phone
	}
	if patch.Address != nil {
		u.Address = patch.Address
	}
	if patch.ProfileImage != nil {
		u.ProfileImage = patch.ProfileImage
	}
	u.UpdatedAt = time.Now()
	out := *u
	return &out, nil
}

func (s *MemStore) SetUserRole(ctx context.Context, id int64, role string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	u.Role = role
	u.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) DeleteUser(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return false, nil
	}
	delete(s.users, id)
	return true, nil
}

func (s *MemStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	categories := []models.Category{}
	for _, c := range s.categories {
		if c.IsActive {
			categories = append(categories, *c)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (s *MemStore) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.productSeq++
	p.ID = s.productSeq
	p.IsActive = true
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	s.products[p.ID] = &stored
	s.decorateProduct(p)
	return nil
}

func (s *MemStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	s.decorateProduct(&out)
	return &out, nil
}

func (s *MemStore) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []models.Product{}
	for _, p := range s.products {
		if !p.IsActive {
			continue
		}
		if f.SellerID != 0 && p.SellerID != f.SellerID {
			continue
		}
		if f.CategoryID != 0 && (p.CategoryID == nil || *p.CategoryID != f.CategoryID) {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(p.Name), needle) &&
				!strings.Contains(strings.ToLower(p.Description), needle) {
				continue
			}
		}
		out := *p
		s.decorateProduct(&out)
		matched = append(matched, out)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemStore) UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return false, nil
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.StockQuantity != nil {
		p.StockQuantity = *patch.StockQuantity
	}
	if patch.CategoryID != nil {
		p.CategoryID = patch.CategoryID
	}
	if patch.ImageBase64 != nil {
		p.ImageBase64 = patch.ImageBase64
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *o
	s.decorateOrder(&out)
	return &out, nil
}

func (s *MemStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []models.Order{}
	for _, o := range s.orders {
		if f.BuyerID != 0 && o.BuyerID != f.BuyerID {
			continue
		}
		if f.SellerID != 0 && o.SellerID != f.SellerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out := *o
		s.decorateOrder(&out)
		orders = append(orders, out)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (s *MemStore) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.AdminStats{TotalRevenue: decimal.Zero}
	for _, u := range s.users {
		stats.TotalUsers++
		switch u.Role {
		case models.RoleSeller:
			stats.TotalSellers++
		case models.RoleBuyer:
			stats.TotalBuyers++
		}
	}
	stats.TotalProducts = len(s.products)
	for _, o := range s.orders {
		stats.TotalOrders++
		if o.Status == models.OrderStatusCompleted {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalAmount)
		}
	}
	return &stats, nil
}

func (s *MemStore) SellerStats(ctx context.Context, sellerID int64) (*models.SellerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.SellerStats{TotalRevenue: decimal.Zero}
	for _, p := range s.products {
		if p.SellerID == sellerID {
			stats.TotalProducts++
		}
	}
	for _, o := range s.orders {
		if o.SellerID != sellerID {
			continue
		}
		stats.TotalOrders++
		if o.Status == models.OrderStatusPending {
			stats.PendingOrders++
		}
		if o.Status == models.OrderStatusCompleted {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalAmount)
		}
	}
	return &stats, nil
}

func (s *MemStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *MemStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = eventType
	}
	return nil
}

// InTx holds the store lock for the duration of fn and restores a snapshot
// of the mutable state when fn fails, mirroring a rolled-back transaction.
func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	products   map[int64]*models.Product
	orders     map[int64]*models.Order
	orderItems map[int64]*models.OrderItem

	productSeq, orderSeq, itemSeq int64
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products:   make(map[int64]*models.Product, len(s.products)),
		orders:     make(map[int64]*models.Order, len(s.orders)),
		orderItems: make(map[int64]*models.OrderItem, len(s.orderItems)),
		productSeq: s.productSeq,
		orderSeq:   s.orderSeq,
		itemSeq:    s.itemSeq,
	}
	for id, p := range s.products {
		cp := *p
		snap.products[id] = &cp
	}
	for id, o := range s.orders {
		cp := *o
		snap.orders[id] = &cp
	}
	for id, item := range s.orderItems {
		cp := *item
		snap.orderItems[id] = &cp
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.products = snap.products
	s.orders = snap.orders
	s.orderItems = snap.orderItems
	s.productSeq = snap.productSeq
	s.orderSeq = snap.orderSeq
	s.itemSeq = snap.itemSeq
}

func (s *MemStore) decorateProduct(p *models.Product) {
	if u, ok := s.users[p.SellerID]; ok {
		name := u.Name
		p.SellerName = &name
	}
	if p.CategoryID != nil {
		if c, ok := s.categories[*p.CategoryID]; ok {
			name := c.Name
			p.CategoryName = &name
		}
	}
}

func (s *MemStore) decorateOrder(o *models.Order) {
	if buyer, ok := s.users[o.BuyerID]; ok {
		name, email := buyer.Name, buyer.Email
		o.BuyerName = &name
		o.BuyerEmail = &email
	}
	if seller, ok := s.users[o.SellerID]; ok {
		name, email := seller.Name, seller.Email
		o.SellerName = &name
		o.SellerEmail = &email
	}
	o.Items = s.itemsFor(o.ID)
}

func (s *MemStore) itemsFor(orderID int64) []models.OrderItem {
	items := []models.OrderItem{}
	for _, item := range s.orderItems {
		if item.OrderID == orderID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// memTx operates on the already-locked MemStore state.
type memTx struct {
	s *MemStore
}

var _ Tx = (*memTx)(nil)

func (t *memTx) ProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	t.s.orderSeq++
	o.ID = t.s.orderSeq
	o.CreatedAt = time.Now()
	stored := *o
	t.s.orders[o.ID] = &stored
	return nil
}

func (t *memTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	t.s.itemSeq++
	item.ID = t.s.itemSeq
	stored := *item
	t.s.orderItems[item.ID] = &stored
	return nil
}

func (t *memTx) AddStock(ctx context.Context, productID int64, delta int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return ErrNotFound
	}
	if p.StockQuantity+delta < 0 {
		return fmt.Errorf("stock for product %d would go negative", productID)
	}
	p.StockQuantity += delta
	p.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *o
	return &out, nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, id int64, status string, shippedAt, completedAt *time.Time) error {
	o, ok := t.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	if shippedAt != nil {
		o.ShippedAt = shippedAt
	}
	if completedAt != nil {
		o.CompletedAt = completedAt
	}
	return nil
}

func (t *memTx) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return t.s.itemsFor(orderID), nil
}

func (t *memTx) CountPendingOrderItems(ctx context.Context, productID int64) (int, error) {
	count := 0
	for _, item := range t.s.orderItems {
		if item.ProductID != productID {
			continue
		}
		if o, ok := t.s.orders[item.OrderID]; ok && o.Status == models.OrderStatusPending {
			count++
		}
	}
	return count, nil
}

func (t *memTx) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	if _, ok := t.s.products[id]; !ok {
		return false, nil
	}
	delete(t.s.products, id)
	return true, nil
}
