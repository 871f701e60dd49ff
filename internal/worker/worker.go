package worker

import (
	"context"

	"marketplace-api/internal/broker"
	"marketplace-api/internal/models"
	"marketplace-api/internal/store"
	"marketplace-api/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes order events and emits buyer and seller
// notifications. Delivery is at-least-once; processed event ids are
// recorded so redeliveries are dropped.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        store.Store
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, st store.Store) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    st,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(w.handleOrderCreated)
	eventHandler.OnOrderStatusChanged(w.handleOrderStatusChanged)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// claim records the event id, returning false when it was already handled.
func (w *NotificationWorker) claim(ctx context.Context, eventID, eventType string) (bool, error) {
	processed, err := w.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, err
	}
	if processed {
		w.logger.Debug("Skipping already processed event", zap.String("event_id", eventID))
		return false, nil
	}
	if err := w.store.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		return false, err
	}
	return true, nil
}

func (w *NotificationWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	fresh, err := w.claim(ctx, event.EventID, event.EventType)
	if err != nil || !fresh {
		return err
	}

	// notification dispatch is a log line for now; the event plumbing and
	// idempotency are what matter here
	w.logger.Info("New order notification",
		zap.Int64("order_id", event.OrderID),
		zap.Int64("buyer_id", event.BuyerID),
		zap.Int64("seller_id", event.SellerID),
		zap.String("total", event.TotalAmount.String()),
		zap.Int("items", len(event.Items)))
	return nil
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	fresh, err := w.claim(ctx, event.EventID, event.EventType)
	if err != nil || !fresh {
		return err
	}

	w.logger.Info("Order status notification",
		zap.Int64("order_id", event.OrderID),
		zap.Int64("buyer_id", event.BuyerID),
		zap.Int64("seller_id", event.SellerID),
		zap.String("from", event.FromStatus),
		zap.String("to", event.ToStatus))
	return nil
}
