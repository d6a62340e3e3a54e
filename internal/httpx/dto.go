package httpx

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/model"
)

type InitiatePaymentRequest struct {
	OrderID      string          `json:"orderId"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	GuestEmail   string          `json:"guestEmail"`
	Installments int             `json:"installments"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// OrderResponse is the customer view of an order. Payment attempts carry no decline
// code, diagnosis or raw bank response; those are only served on the admin routes.
type OrderResponse struct {
	ID              uuid.UUID                `json:"id"`
	OrderNumber     string                   `json:"orderNumber"`
	Status          model.OrderStatus        `json:"status"`
	PaymentStatus   model.PaymentStatus      `json:"paymentStatus"`
	TotalAmount     decimal.Decimal          `json:"totalAmount"`
	ShippingFee     decimal.Decimal          `json:"shippingFee"`
	DiscountAmount  decimal.Decimal          `json:"discountAmount"`
	FinalAmount     decimal.Decimal          `json:"finalAmount"`
	Notes           string                   `json:"notes,omitempty"`
	GuestEmail      string                   `json:"guestEmail,omitempty"`
	ShippingAddress model.Address            `json:"shippingAddress"`
	BillingAddress  model.Address            `json:"billingAddress"`
	Items           []model.OrderItem        `json:"items"`
	Payments        []PaymentAttemptResponse `json:"payments"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

type PaymentAttemptResponse struct {
	ID            uuid.UUID           `json:"id"`
	Amount        decimal.Decimal     `json:"amount"`
	Method        string              `json:"method"`
	Status        model.PaymentStatus `json:"status"`
	TransactionID *string             `json:"transactionId,omitempty"`
	Message       string              `json:"message,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

func toOrderResponse(order *model.Order) OrderResponse {
	payments := make([]PaymentAttemptResponse, 0, len(order.Payments))
	for _, p := range order.Payments {
		attempt := PaymentAttemptResponse{
			ID:            p.ID,
			Amount:        p.Amount,
			Method:        p.Method,
			Status:        p.Status,
			TransactionID: p.TransactionID,
			CreatedAt:     p.CreatedAt,
		}
		if p.Status == model.PaymentStatusFailed {
			attempt.Message = gateway.CustomerMessage
		}
		payments = append(payments, attempt)
	}

	items := order.Items
	if items == nil {
		items = []model.OrderItem{}
	}

	return OrderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		TotalAmount:     order.TotalAmount,
		ShippingFee:     order.ShippingFee,
		DiscountAmount:  order.DiscountAmount,
		FinalAmount:     order.FinalAmount,
		Notes:           order.Notes,
		GuestEmail:      order.GuestEmail,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		Items:           items,
		Payments:        payments,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}
