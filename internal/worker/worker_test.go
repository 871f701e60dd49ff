package worker

import (
	"context"
	"testing"

	"marketplace-api/internal/models"
	"marketplace-api/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOrderCreatedIsIdempotent(t *testing.T) {
	st := store.NewMemStore()
	w := NewNotificationWorker(nil, st)

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderCreated,
		},
		OrderID:     1,
		BuyerID:     2,
		SellerID:    3,
		TotalAmount: decimal.RequireFromString("10.00"),
	}

	require.NoError(t, w.handleOrderCreated(context.Background(), event))

	processed, err := st.IsEventProcessed(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	// redelivery is a no-op
	require.NoError(t, w.handleOrderCreated(context.Background(), event))
}

func TestHandleOrderStatusChanged(t *testing.T) {
	st := store.NewMemStore()
	w := NewNotificationWorker(nil, st)

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-2",
			EventType: models.EventTypeOrderStatusChanged,
		},
		OrderID:    1,
		FromStatus: models.OrderStatusPending,
		ToStatus:   models.OrderStatusShipped,
	}

	require.NoError(t, w.handleOrderStatusChanged(context.Background(), event))
	require.NoError(t, w.handleOrderStatusChanged(context.Background(), event))

	processed, err := st.IsEventProcessed(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.True(t, processed)
}
