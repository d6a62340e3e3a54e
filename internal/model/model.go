package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/paymenterr"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransitionTo reports whether an operator may move an order from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Address is a snapshot copied into the order at checkout.
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type OrderItem struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ShippingFee     decimal.Decimal `json:"shippingFee"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	Notes           string          `json:"notes,omitempty"`
	GuestEmail      string          `json:"guestEmail,omitempty"`
	ShippingAddress Address         `json:"shippingAddress"`
	BillingAddress  Address         `json:"billingAddress"`
	Items           []OrderItem     `json:"items"`
	Payments        []PaymentRecord `json:"payments"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// PaymentRecord is one persisted attempt to pay for an order.
type PaymentRecord struct {
	ID            uuid.UUID         `json:"id"`
	OrderID       uuid.UUID         `json:"orderId"`
	Amount        decimal.Decimal   `json:"amount"`
	Method        string            `json:"method"`
	Status        PaymentStatus     `json:"status"`
	TransactionID *string           `json:"transactionId,omitempty"`
	Nonce         string            `json:"nonce"`
	DeclineCode   string            `json:"declineCode,omitempty"`
	Diagnosis     string            `json:"diagnosis,omitempty"`
	RawResponse   map[string]string `json:"rawResponse"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// SecurityEvent records a callback that failed verification. It is never linked to an order.
type SecurityEvent struct {
	ID             uuid.UUID         `json:"id"`
	Reason         string            `json:"reason"`
	ClaimedOrderID string            `json:"claimedOrderId"`
	RemoteAddr     string            `json:"remoteAddr"`
	RawPayload     map[string]string `json:"rawPayload"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// NewOrder creates a PENDING/PENDING order and derives FinalAmount from the other amounts.
func NewOrder(orderNumber string, total, shipping, discount decimal.Decimal, shippingAddr, billingAddr Address, items []OrderItem) (*Order, error) {
	if orderNumber == "" {
		return nil, errors.Wrap(paymenterr.ErrValidation, "order number is required")
	}
	if total.IsNegative() || shipping.IsNegative() || discount.IsNegative() {
		return nil, errors.Wrap(paymenterr.ErrValidation, "amounts must not be negative")
	}

	total, shipping, discount = total.Round(2), shipping.Round(2), discount.Round(2)
	final := FinalAmount(total, shipping, discount)
	if final.IsNegative() {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "discount %s exceeds order total", discount.String())
	}

	now := time.Now()
	return &Order{
		ID:              uuid.New(),
		OrderNumber:     orderNumber,
		Status:          OrderStatusPending,
		PaymentStatus:   PaymentStatusPending,
		TotalAmount:     total,
		ShippingFee:     shipping,
		DiscountAmount:  discount,
		FinalAmount:     final,
		ShippingAddress: shippingAddr,
		BillingAddress:  billingAddr,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// FinalAmount returns total + shipping - discount rounded to two decimals.
func FinalAmount(total, shipping, discount decimal.Decimal) decimal.Decimal {
	return total.Add(shipping).Sub(discount).Round(2)
}

// AmountsConsistent reports whether the stored final amount matches its parts.
func (o *Order) AmountsConsistent() bool {
	return o.FinalAmount.Round(2).Equal(FinalAmount(o.TotalAmount, o.ShippingFee, o.DiscountAmount))
}

// Payable reports whether a new payment attempt may be started for the order.
func (o *Order) Payable() error {
	if o.PaymentStatus == PaymentStatusCompleted {
		return errors.Wrapf(paymenterr.ErrValidation, "order %s is already paid", o.OrderNumber)
	}
	if o.Status == OrderStatusCancelled {
		return errors.Wrapf(paymenterr.ErrValidation, "order %s is cancelled", o.OrderNumber)
	}
	return nil
}
