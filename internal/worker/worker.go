package worker

import (
	"context"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// EventLedger records which events have already been handled
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ConfirmationWorker confirms placed orders from the order event stream
type ConfirmationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	ledger       EventLedger
	logger       *zap.Logger
}

// NewConfirmationWorker creates a new confirmation worker
func NewConfirmationWorker(consumer *broker.Consumer, ledger EventLedger) *ConfirmationWorker {
	w := &ConfirmationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		ledger:       ledger,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderPlaced(w.HandleOrderPlaced)
	return w
}

// Start consumes events until ctx is done
func (w *ConfirmationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting confirmation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ConfirmationWorker) Stop() error {
	w.logger.Info("Stopping confirmation worker")
	return w.consumer.Close()
}

// HandleOrderPlaced confirms an order once per event id
func (w *ConfirmationWorker) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	ctx, span := util.StartSpan(ctx, "ConfirmationWorker.HandleOrderPlaced")
	defer span.End()

	processed, err := w.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	w.logger.Info("Order confirmed",
		zap.String("order_id", event.OrderID),
		zap.String("email", event.Email),
		zap.Int("total_items", event.TotalItems),
		zap.String("total_price", event.TotalPrice.String()))
	util.OrdersConfirmedTotal.Inc()

	if err := w.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	return nil
}
