package event

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payment-gateway-service/internal/message"
	"payment-gateway-service/internal/model"
)

type OrderWriter interface {
	CreateOrder(ctx context.Context, order *model.Order) (bool, error)
}

// Processor turns order.created events into payable orders.
type Processor struct {
	repo   OrderWriter
	logger *slog.Logger
}

func NewProcessor(repo OrderWriter, logger *slog.Logger) *Processor {
	return &Processor{repo: repo, logger: logger}
}

func (p *Processor) Process(ctx context.Context, event message.OrderEvent) error {
	if event.Event != message.EventOrderCreated {
		p.logger.DebugContext(ctx, "Skipping event", "event", event.Event)
		return nil
	}

	p.logger.InfoContext(ctx, "Processing event", "orderNumber", event.Payload.OrderNumber)

	items := make([]model.OrderItem, 0, len(event.Payload.Items))
	for _, item := range event.Payload.Items {
		items = append(items, model.OrderItem{
			ID:          uuid.New(),
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Round(2),
		})
	}

	order, err := model.NewOrder(event.Payload.OrderNumber, event.Payload.TotalAmount, event.Payload.ShippingFee,
		event.Payload.DiscountAmount, event.Payload.ShippingAddress, event.Payload.BillingAddress, items)
	if err != nil {
		return errors.Wrapf(err, "event %s", event.ID)
	}
	if event.Payload.ID != uuid.Nil {
		order.ID = event.Payload.ID
	}
	order.Notes = event.Payload.Notes
	order.GuestEmail = event.Payload.GuestEmail

	created, err := p.repo.CreateOrder(ctx, order)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating order", "error", err)
		return err
	}
	if !created {
		p.logger.InfoContext(ctx, "Order already exists, event ignored", "orderNumber", order.OrderNumber)
		return nil
	}

	p.logger.InfoContext(ctx, "Successfully processed event", "orderId", order.ID)
	return nil
}
