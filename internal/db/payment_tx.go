package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"payment-gateway-service/internal/message"
	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/store"
)

// paymentTx implements store.PaymentTx on an open pgx transaction.
type paymentTx struct {
	tx pgx.Tx
}

var _ store.PaymentTx = (*paymentTx)(nil)

func (t *paymentTx) GetOrderByNumberForUpdate(ctx context.Context, orderNumber string) (*model.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM customer_order WHERE order_number = $1 FOR UPDATE`, orderNumber))
}

func (t *paymentTx) PaymentExists(ctx context.Context, orderID uuid.UUID, nonce string, status model.PaymentStatus) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment WHERE order_id = $1 AND nonce = $2 AND status = $3)`,
		orderID, nonce, string(status)).Scan(&exists)
	return exists, err
}

func (t *paymentTx) CreatePayment(ctx context.Context, payment *model.PaymentRecord) error {
	raw, err := json.Marshal(payment.RawResponse)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO payment (id, order_id, amount, method, status, transaction_id, nonce,
	          decline_code, diagnosis, raw_response, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID, payment.OrderID, payment.Amount.StringFixed(2), payment.Method, string(payment.Status),
		payment.TransactionID, payment.Nonce, payment.DeclineCode, payment.Diagnosis, raw, payment.CreatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(store.ErrDuplicate, "payment for order %s", payment.OrderID)
	}
	return errors.Wrap(err, "insert payment")
}

func (t *paymentTx) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status model.PaymentStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE customer_order SET payment_status = $2, updated_at = $3
	          WHERE id = $1 AND payment_status <> 'COMPLETED' AND payment_status <> $2`,
		orderID, string(status), time.Now())
	if err != nil {
		return false, errors.Wrap(err, "update payment status")
	}
	return tag.RowsAffected() > 0, nil
}

func (t *paymentTx) EnqueueNotification(ctx context.Context, notification message.PaymentNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = t.tx.Exec(ctx, `INSERT INTO notification_outbox (id, order_id, event, payload, created_at, updated_at, scheduled_at)
	          VALUES ($1, $2, $3, $4, $5, $5, $5)`,
		notification.ID, notification.OrderID, notification.Event, string(payload), now)
	return errors.Wrap(err, "insert notification")
}
