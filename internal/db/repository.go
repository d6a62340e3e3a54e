package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/store"
)

const uniqueViolation = "23505"

const orderColumns = `id, order_number, status, payment_status, total_amount::text, shipping_fee::text,
	discount_amount::text, final_amount::text, notes, guest_email, shipping_address, billing_address,
	created_at, updated_at`

const paymentColumns = `id, order_id, amount::text, method, status, transaction_id, nonce, decline_code,
	diagnosis, raw_response, created_at`

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateOrder inserts the order with its items. It reports false when an order with
// the same id or number already exists.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *model.Order) (bool, error) {
	shippingAddr, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return false, err
	}
	billingAddr, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO customer_order (id, order_number, status, payment_status, total_amount, shipping_fee,
	          discount_amount, final_amount, notes, guest_email, shipping_address, billing_address, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	          ON CONFLICT DO NOTHING`
	tag, err := tx.Exec(ctx, query, order.ID, order.OrderNumber, string(order.Status), string(order.PaymentStatus),
		order.TotalAmount.StringFixed(2), order.ShippingFee.StringFixed(2), order.DiscountAmount.StringFixed(2),
		order.FinalAmount.StringFixed(2), order.Notes, order.GuestEmail, shippingAddr, billingAddr,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return false, errors.Wrap(err, "insert order")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}

		_, err := tx.Exec(ctx, `INSERT INTO order_item (id, order_id, product_id, product_name, quantity, unit_price)
		          VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice.StringFixed(2))
		if err != nil {
			return false, errors.Wrap(err, "insert order item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// GetOrder loads an order with its items and full payment history.
func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM customer_order WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if order.Items, err = r.selectItems(ctx, id); err != nil {
		return nil, err
	}
	if order.Payments, err = r.SelectPayments(ctx, id); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM customer_order WHERE order_number = $1`, orderNumber))
}

// UpdateOrderStatus applies an operator transition. Payment status is never touched here.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	order, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM customer_order WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "order %s cannot move from %s to %s", order.OrderNumber, order.Status, next)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `UPDATE customer_order SET status = $2, updated_at = $3 WHERE id = $1`, id, string(next), now); err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	order.Status = next
	order.UpdatedAt = now
	return order, nil
}

func (r *OrderRepository) SelectPayments(ctx context.Context, orderID uuid.UUID) ([]model.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payment WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []model.PaymentRecord{}
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

func (r *OrderRepository) CreateSecurityEvent(ctx context.Context, event *model.SecurityEvent) error {
	raw, err := json.Marshal(event.RawPayload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `INSERT INTO gateway_security_event (id, reason, claimed_order_id, remote_addr, raw_payload, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Reason, event.ClaimedOrderID, event.RemoteAddr, raw, event.CreatedAt)
	return errors.Wrap(err, "insert security event")
}

func (r *OrderRepository) CountSecurityEvents(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM gateway_security_event`).Scan(&count)
	return count, err
}

// WithinTx runs fn in one transaction; either every write of fn commits or none does.
func (r *OrderRepository) WithinTx(ctx context.Context, fn store.TxFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(paymenterr.ErrTransport, err.Error())
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &paymentTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *OrderRepository) selectItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, product_name, quantity, unit_price::text
	          FROM order_item WHERE order_id = $1 ORDER BY product_id, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.OrderItem{}
	for rows.Next() {
		var item model.OrderItem
		var unitPrice string
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &unitPrice); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		order                            model.Order
		status, paymentStatus            string
		total, shipping, discount, final string
		shippingAddr, billingAddr        []byte
	)

	err := row.Scan(&order.ID, &order.OrderNumber, &status, &paymentStatus, &total, &shipping, &discount, &final,
		&order.Notes, &order.GuestEmail, &shippingAddr, &billingAddr, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatus(status)
	order.PaymentStatus = model.PaymentStatus(paymentStatus)

	for _, amount := range []struct {
		dst *decimal.Decimal
		src string
	}{{&order.TotalAmount, total}, {&order.ShippingFee, shipping}, {&order.DiscountAmount, discount}, {&order.FinalAmount, final}} {
		if *amount.dst, err = decimal.NewFromString(amount.src); err != nil {
			return nil, err
		}
	}

	if err := json.Unmarshal(shippingAddr, &order.ShippingAddress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(billingAddr, &order.BillingAddress); err != nil {
		return nil, err
	}
	return &order, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		payment model.PaymentRecord
		amount  string
		status  string
		raw     []byte
	)

	err := row.Scan(&payment.ID, &payment.OrderID, &amount, &payment.Method, &status, &payment.TransactionID,
		&payment.Nonce, &payment.DeclineCode, &payment.Diagnosis, &raw, &payment.CreatedAt)
	if err != nil {
		return nil, err
	}

	payment.Status = model.PaymentStatus(status)
	if payment.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &payment.RawResponse); err != nil {
		return nil, err
	}
	return &payment, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
