// Package store declares the persistence contract used by the payment reconciler.
// internal/db implements it on PostgreSQL.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payment-gateway-service/internal/message"
	"payment-gateway-service/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// PaymentTx is the set of writes the reconciler performs under one order lock.
// Nothing is visible to other readers until the enclosing transaction commits.
type PaymentTx interface {
	// GetOrderByNumberForUpdate locks the order row until the transaction ends.
	GetOrderByNumberForUpdate(ctx context.Context, orderNumber string) (*model.Order, error)
	PaymentExists(ctx context.Context, orderID uuid.UUID, nonce string, status model.PaymentStatus) (bool, error)
	CreatePayment(ctx context.Context, payment *model.PaymentRecord) error
	// UpdatePaymentStatus never downgrades a COMPLETED order and reports whether a row changed.
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status model.PaymentStatus) (bool, error)
	EnqueueNotification(ctx context.Context, notification message.PaymentNotification) error
}

type TxFunc func(ctx context.Context, tx PaymentTx) error
