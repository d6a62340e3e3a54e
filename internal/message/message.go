package message

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/model"
)

const (
	EventOrderCreated     = "order.created"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// OrderEvent is published by checkout on the order-events topic.
type OrderEvent struct {
	ID      uuid.UUID `json:"id"`
	Event   string    `json:"event"`
	Payload Order     `json:"payload"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ShippingFee     decimal.Decimal `json:"shippingFee"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	Notes           string          `json:"notes"`
	GuestEmail      string          `json:"guestEmail"`
	ShippingAddress model.Address   `json:"shippingAddress"`
	BillingAddress  model.Address   `json:"billingAddress"`
	Items           []OrderItem     `json:"items"`
}

type OrderItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// PaymentNotification is published on the payment-notifications topic for the mailer.
type PaymentNotification struct {
	ID            uuid.UUID           `json:"id"`
	Event         string              `json:"event"`
	OrderID       uuid.UUID           `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	PaymentID     uuid.UUID           `json:"paymentId"`
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	Amount        decimal.Decimal     `json:"amount"`
	GuestEmail    string              `json:"guestEmail,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`
}
