package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"marketplace-api/internal/apperr"
	"marketplace-api/internal/models"
	"marketplace-api/internal/store"
	"marketplace-api/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventSink publishes order lifecycle events. Publishing is best-effort:
// a failed publish never fails the request.
type EventSink interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// IdempotencyGuard claims request-level idempotency keys. A claim is held
// only by requests that commit; failed requests release it so the client
// can retry under the same key.
type IdempotencyGuard interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

const idempotencyTTL = 24 * time.Hour

// OrderService implements the order workflow: seller split, server-side
// repricing, stock bookkeeping and the status state machine.
type OrderService struct {
	store  store.Store
	idem   IdempotencyGuard
	events EventSink
	logger *zap.Logger
}

// NewOrderService creates a new order service. idem and events may be nil;
// the corresponding features are then skipped.
func NewOrderService(st store.Store, idem IdempotencyGuard, events EventSink) *OrderService {
	return &OrderService{
		store:  st,
		idem:   idem,
		events: events,
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest is the client input for order placement. Buyer
// identity comes from authentication; client-supplied buyer or price
// fields are not part of the schema and are dropped on decode.
type CreateOrderRequest struct {
	ShippingAddress string            `json:"shipping_address"`
	Phone           *string           `json:"phone"`
	Notes           *string           `json:"notes"`
	Items           []CreateOrderItem `json:"items"`
}

// CreateOrderItem is one requested cart line.
type CreateOrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	// ImageBase64 is used only when the catalog has no image for the
	// product; otherwise the catalog value wins.
	ImageBase64 *string `json:"image_base64"`
}

// CreateOrderResult carries the first created order (with joined names and
// items) plus the ids of every order the cart produced, for multi-seller
// confirmation display.
type CreateOrderResult struct {
	Order    *models.Order `json:"order"`
	OrderIDs []int64       `json:"order_ids"`
}

// pricedLine is a validated cart line with authoritative catalog values.
type pricedLine struct {
	product  *models.Product
	quantity int
	image    *string
}

// CreateOrder splits the cart into one order per seller inside a single
// transaction. Any failure rolls back every order, item and stock change
// made for this request.
func (s *OrderService) CreateOrder(ctx context.Context, buyer *models.User, req *CreateOrderRequest, idempotencyKey string) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	if req.ShippingAddress == "" {
		util.OrdersFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, apperr.New(apperr.KindInvalidInput, "Missing required fields: shipping_address")
	}
	if len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, apperr.New(apperr.KindInvalidInput, "Order must have at least one item")
	}

	keyClaimed := false
	if idempotencyKey != "" && s.idem != nil {
		claimed, err := s.idem.ClaimIdempotencyKey(ctx, idempotencyKey, idempotencyTTL)
		if err != nil {
			// idempotency degrades to best-effort when redis is down
			s.logger.Warn("Idempotency check unavailable", zap.Error(err))
		} else if !claimed {
			util.OrdersFailedTotal.WithLabelValues("duplicate").Inc()
			return nil, apperr.New(apperr.KindConflict, "Duplicate order request")
		} else {
			keyClaimed = true
		}
	}

	var (
		created []*models.Order
		events  []*models.OrderCreatedEvent
	)

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		lines, err := s.priceCart(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		for _, group := range groupBySeller(lines) {
			order := &models.Order{
				BuyerID:         buyer.ID,
				SellerID:        group.sellerID,
				Status:          models.OrderStatusPending,
				TotalAmount:     group.total(),
				ShippingAddress: req.ShippingAddress,
				Phone:           req.Phone,
				Notes:           req.Notes,
			}
			if err := tx.InsertOrder(ctx, order); err != nil {
				return apperr.Wrap(apperr.KindInternal, "Failed to create order", err)
			}

			event := &models.OrderCreatedEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeOrderCreated,
					Timestamp: time.Now(),
				},
				OrderID:     order.ID,
				BuyerID:     buyer.ID,
				SellerID:    group.sellerID,
				TotalAmount: order.TotalAmount,
			}

			for _, line := range group.lines {
				item := &models.OrderItem{
					OrderID:     order.ID,
					ProductID:   line.product.ID,
					ProductName: line.product.Name,
					Price:       line.product.Price,
					Quantity:    line.quantity,
					ImageBase64: line.image,
				}
				if err := tx.InsertOrderItem(ctx, item); err != nil {
					return apperr.Wrap(apperr.KindInternal, "Failed to add order item", err)
				}
				if err := tx.AddStock(ctx, line.product.ID, -line.quantity); err != nil {
					return apperr.Wrap(apperr.KindInternal, "Failed to update stock", err)
				}
				event.Items = append(event.Items, models.OrderItemEvent{
					ProductID:   line.product.ID,
					ProductName: line.product.Name,
					Quantity:    line.quantity,
					Price:       line.product.Price,
				})
			}

			created = append(created, order)
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		// nothing committed, so the key must be retryable again
		if keyClaimed {
			if relErr := s.idem.ReleaseIdempotencyKey(ctx, idempotencyKey); relErr != nil {
				s.logger.Warn("Failed to release idempotency key",
					zap.String("key", idempotencyKey), zap.Error(relErr))
			}
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	orderIDs := make([]int64, len(created))
	for i, order := range created {
		orderIDs[i] = order.ID
		util.OrdersCreatedTotal.Inc()
	}
	s.logger.Info("Orders placed",
		zap.Int64("buyer_id", buyer.ID),
		zap.Int64s("order_ids", orderIDs))

	s.publishCreated(ctx, events)

	first, err := s.store.GetOrder(ctx, orderIDs[0])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load created order", err)
	}
	return &CreateOrderResult{Order: first, OrderIDs: orderIDs}, nil
}

// priceCart locks every referenced product and validates the cart against
// catalog state, returning lines priced from the catalog. Products are
// locked in id order so concurrent carts cannot deadlock.
func (s *OrderService) priceCart(ctx context.Context, tx store.Tx, items []CreateOrderItem) ([]pricedLine, error) {
	ids := make([]int64, 0, len(items))
	seen := map[int64]bool{}
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		product, err := tx.ProductForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			util.OrdersFailedTotal.WithLabelValues("product_not_found").Inc()
			return nil, apperr.Newf(apperr.KindNotFound, "Product not found: %d", id)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "Failed to load product", err)
		}
		if !product.IsActive {
			util.OrdersFailedTotal.WithLabelValues("product_not_found").Inc()
			return nil, apperr.Newf(apperr.KindNotFound, "Product not found: %d", id)
		}
		products[id] = product
	}

	// remaining tracks stock across duplicate lines for the same product
	remaining := make(map[int64]int, len(products))
	for id, product := range products {
		remaining[id] = product.StockQuantity
	}

	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			util.OrdersFailedTotal.WithLabelValues("invalid_input").Inc()
			return nil, apperr.Newf(apperr.KindInvalidInput,
				"Quantity must be a positive integer for product %d", item.ProductID)
		}

		product := products[item.ProductID]
		if remaining[item.ProductID] < item.Quantity {
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, apperr.Newf(apperr.KindInvalidInput,
				"Insufficient stock for %s. Available: %d", product.Name, remaining[item.ProductID])
		}
		remaining[item.ProductID] -= item.Quantity

		image := product.ImageBase64
		if image == nil {
			image = item.ImageBase64
		}
		lines = append(lines, pricedLine{product: product, quantity: item.Quantity, image: image})
	}
	return lines, nil
}

// sellerGroup is the slice of cart lines destined for one order.
type sellerGroup struct {
	sellerID int64
	lines    []pricedLine
}

func (g sellerGroup) total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range g.lines {
		subtotal := line.product.Price.Mul(decimal.NewFromInt(int64(line.quantity)))
		total = total.Add(subtotal)
	}
	return total
}

// groupBySeller partitions lines per product seller, preserving the order
// in which each seller first appears in the cart.
func groupBySeller(lines []pricedLine) []sellerGroup {
	groups := []sellerGroup{}
	index := map[int64]int{}
	for _, line := range lines {
		sellerID := line.product.SellerID
		i, ok := index[sellerID]
		if !ok {
			i = len(groups)
			index[sellerID] = i
			groups = append(groups, sellerGroup{sellerID: sellerID})
		}
		groups[i].lines = append(groups[i].lines, line)
	}
	return groups
}

func (s *OrderService) publishCreated(ctx context.Context, events []*models.OrderCreatedEvent) {
	if s.events == nil {
		return
	}
	for _, event := range events {
		if err := s.events.PublishOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCreated event",
				zap.Int64("order_id", event.OrderID), zap.Error(err))
		}
	}
}

// UpdateStatus applies a status transition. Status write and conditional
// stock restoration commit in one transaction.
func (s *OrderService) UpdateStatus(ctx context.Context, caller *models.User, orderID int64, status string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !models.ValidOrderStatus(status) {
		return apperr.New(apperr.KindInvalidInput,
			"Invalid status. Must be: pending, shipped, completed, or cancelled")
	}

	var (
		fromStatus string
		buyerID    int64
		sellerID   int64
		restored   int
	)

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		order, err := tx.OrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "Order not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "Failed to load order", err)
		}

		if caller.Role != models.RoleAdmin && caller.ID != order.SellerID && caller.ID != order.BuyerID {
			return apperr.New(apperr.KindForbidden,
				"Access denied. You don't have permission to update this order.")
		}

		// buyers may only cancel their own pending orders
		if caller.Role == models.RoleBuyer && caller.ID != order.SellerID {
			if status != models.OrderStatusCancelled || order.Status != models.OrderStatusPending {
				return apperr.New(apperr.KindInvalidInput, "Buyers can only cancel pending orders")
			}
		}

		if !models.CanTransition(order.Status, status) {
			return apperr.Newf(apperr.KindInvalidInput,
				"Cannot change status from %s to %s", order.Status, status)
		}

		now := time.Now()
		var shippedAt, completedAt *time.Time
		switch status {
		case models.OrderStatusShipped:
			shippedAt = &now
		case models.OrderStatusCompleted:
			completedAt = &now
		}

		if err := tx.SetOrderStatus(ctx, orderID, status, shippedAt, completedAt); err != nil {
			return apperr.Wrap(apperr.KindInternal, "Failed to update order status", err)
		}

		if status == models.OrderStatusCancelled && order.Status != models.OrderStatusCancelled {
			items, err := tx.OrderItems(ctx, orderID)
			if err != nil {
				return apperr.Wrap(apperr.KindInternal, "Failed to load order items", err)
			}
			for _, item := range items {
				if err := tx.AddStock(ctx, item.ProductID, item.Quantity); err != nil {
					return apperr.Wrap(apperr.KindInternal, "Failed to restore stock", err)
				}
				restored += item.Quantity
			}
		}

		fromStatus = order.Status
		buyerID = order.BuyerID
		sellerID = order.SellerID
		return nil
	})
	if err != nil {
		return err
	}

	util.OrderStatusChangesTotal.WithLabelValues(status).Inc()
	if status == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		util.StockRestoredTotal.Add(float64(restored))
	}
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", fromStatus),
		zap.String("to", status))

	if s.events != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: time.Now(),
			},
			OrderID:    orderID,
			BuyerID:    buyerID,
			SellerID:   sellerID,
			FromStatus: fromStatus,
			ToStatus:   status,
		}
		if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
	return nil
}

// GetOrder returns one order with joined names and items. Only the order's
// buyer, its seller or an admin may read it.
func (s *OrderService) GetOrder(ctx context.Context, caller *models.User, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load order", err)
	}

	if caller.Role != models.RoleAdmin && caller.ID != order.BuyerID && caller.ID != order.SellerID {
		return nil, apperr.New(apperr.KindForbidden,
			"Access denied. You don't have permission to access this resource.")
	}
	return order, nil
}

// ListOrders returns orders matching the filter, newest first. Non-admin
// callers are restricted to their own side of the order.
func (s *OrderService) ListOrders(ctx context.Context, caller *models.User, filter store.OrderFilter) ([]models.Order, error) {
	if caller.Role != models.RoleAdmin {
		switch {
		case filter.BuyerID == caller.ID && filter.SellerID == 0:
		case filter.SellerID == caller.ID && filter.BuyerID == 0:
		case filter.BuyerID == 0 && filter.SellerID == 0:
			// default to the caller's own orders
			if caller.Role == models.RoleSeller {
				filter.SellerID = caller.ID
			} else {
				filter.BuyerID = caller.ID
			}
		default:
			return nil, apperr.New(apperr.KindForbidden,
				"Access denied. You don't have permission to access this resource.")
		}
	}

	orders, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load orders", err)
	}
	return orders, nil
}
