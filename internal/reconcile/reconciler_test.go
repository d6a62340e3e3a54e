package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"payment-gateway-service/internal/callback"
	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/message"
	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/signature"
	"payment-gateway-service/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSecret = "TEST1234"

func testConfig() gateway.Config {
	return gateway.Config{
		MerchantID:             "100200300",
		Secret:                 testSecret,
		Endpoint:               "https://bank.example/fim/est3Dgate",
		StoreType:              "3d_pay_hosting",
		GenericDeclineMessages: []string{"Declined"},
	}
}

// memStore is a transactional in-memory store. WithinTx holds one lock for the whole
// transaction and only publishes staged writes when fn succeeds.
type memStore struct {
	mu             sync.Mutex
	orders         map[string]model.Order
	payments       []model.PaymentRecord
	notifications  []message.PaymentNotification
	securityEvents []model.SecurityEvent
	failEnqueue    bool
}

func newMemStore(orders ...*model.Order) *memStore {
	s := &memStore{orders: make(map[string]model.Order)}
	for _, o := range orders {
		s.orders[o.OrderNumber] = *o
	}
	return s
}

func (s *memStore) WithinTx(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:  s,
		orders: make(map[string]model.Order, len(s.orders)),
	}
	for k, v := range s.orders {
		tx.orders[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.orders = tx.orders
	s.payments = append(s.payments, tx.payments...)
	s.notifications = append(s.notifications, tx.notifications...)
	return nil
}

func (s *memStore) CreateSecurityEvent(_ context.Context, event *model.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.securityEvents = append(s.securityEvents, *event)
	return nil
}

func (s *memStore) order(number string) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[number]
}

func (s *memStore) paymentsWithStatus(status model.PaymentStatus) []model.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.PaymentRecord
	for _, p := range s.payments {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

type memTx struct {
	store         *memStore
	orders        map[string]model.Order
	payments      []model.PaymentRecord
	notifications []message.PaymentNotification
}

func (t *memTx) allPayments() []model.PaymentRecord {
	all := make([]model.PaymentRecord, 0, len(t.store.payments)+len(t.payments))
	all = append(all, t.store.payments...)
	return append(all, t.payments...)
}

func (t *memTx) GetOrderByNumberForUpdate(_ context.Context, orderNumber string) (*model.Order, error) {
	order, ok := t.orders[orderNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (t *memTx) PaymentExists(_ context.Context, orderID uuid.UUID, nonce string, status model.PaymentStatus) (bool, error) {
	for _, p := range t.allPayments() {
		if p.OrderID == orderID && p.Nonce == nonce && p.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreatePayment(_ context.Context, payment *model.PaymentRecord) error {
	if payment.Status == model.PaymentStatusCompleted {
		for _, p := range t.allPayments() {
			if p.OrderID == payment.OrderID && p.Status == model.PaymentStatusCompleted {
				return store.ErrDuplicate
			}
		}
	}
	t.payments = append(t.payments, *payment)
	return nil
}

func (t *memTx) UpdatePaymentStatus(_ context.Context, orderID uuid.UUID, status model.PaymentStatus) (bool, error) {
	for k, o := range t.orders {
		if o.ID == orderID && o.PaymentStatus != model.PaymentStatusCompleted && o.PaymentStatus != status {
			o.PaymentStatus = status
			t.orders[k] = o
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) EnqueueNotification(_ context.Context, notification message.PaymentNotification) error {
	if t.store.failEnqueue {
		return errors.New("outbox unavailable")
	}
	t.notifications = append(t.notifications, notification)
	return nil
}

func newOrder(t *testing.T, number string) *model.Order {
	t.Helper()

	order, err := model.NewOrder(number, decimal.RequireFromString("90"), decimal.RequireFromString("15"),
		decimal.RequireFromString("5"), model.Address{City: "İstanbul"}, model.Address{City: "İstanbul"}, nil)
	require.NoError(t, err)
	order.GuestEmail = "guest@example.com"
	return order
}

func bankFields(orderNumber, nonce string, overrides map[string]string) map[string]string {
	fields := map[string]string{
		"clientid":       "100200300",
		"oid":            orderNumber,
		"amount":         "100.00",
		"currency":       "949",
		"rnd":            nonce,
		"mdStatus":       "1",
		"Response":       "Approved",
		"ProcReturnCode": "00",
		"TransId":        "TX-" + nonce,
	}
	for k, v := range overrides {
		if v == "" {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	return fields
}

// verified signs fields like the bank and runs them through the verifier.
func verified(t *testing.T, fields map[string]string, tamper func(map[string]string)) Callback {
	t.Helper()

	sig, err := signature.Sign(fields, testSecret)
	require.NoError(t, err)
	fields["HASH"] = sig
	if tamper != nil {
		tamper(fields)
	}

	payload := callback.NewPayload(fields)
	outcome := callback.NewVerifier(slog.Default()).Verify(context.Background(), payload, testConfig())
	return Callback{
		OrderNumber: payload.OrderID(),
		Outcome:     outcome,
		Payload:     payload,
		RemoteAddr:  "203.0.113.7",
	}
}

func TestReconciler_Approved(t *testing.T) {
	order := newOrder(t, "ORD-1")
	s := newMemStore(order)
	sut := NewReconciler(s, slog.Default())

	result, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n1", nil), nil))
	require.NoError(t, err)

	assert.True(t, result.Outcome.Approved())
	assert.False(t, result.Duplicate)
	assert.Equal(t, model.PaymentStatusCompleted, result.PaymentStatus)
	assert.Equal(t, order.ID, result.OrderID)

	stored := s.order("ORD-1")
	assert.Equal(t, model.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, model.OrderStatusPending, stored.Status)

	completed := s.paymentsWithStatus(model.PaymentStatusCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, result.PaymentID, completed[0].ID)
	require.NotNil(t, completed[0].TransactionID)
	assert.Equal(t, "TX-n1", *completed[0].TransactionID)
	assert.Equal(t, "100.00", completed[0].Amount.StringFixed(2))
	assert.Equal(t, MethodCard, completed[0].Method)
	assert.Equal(t, "Approved", completed[0].RawResponse["response"])

	require.Len(t, s.notifications, 1)
	assert.Equal(t, message.EventPaymentCompleted, s.notifications[0].Event)
	assert.Equal(t, "guest@example.com", s.notifications[0].GuestEmail)
}

func TestReconciler_Declined(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	sut := NewReconciler(s, slog.Default())

	cb := verified(t, bankFields("ORD-1", "n1", map[string]string{
		"mdStatus":       "0",
		"Response":       "Declined",
		"ProcReturnCode": "0005",
		"ErrMsg":         "Declined",
		"TransId":        "",
	}), nil)

	result, err := sut.OnCallback(context.Background(), cb)
	require.NoError(t, err)

	assert.True(t, result.Outcome.Declined())
	assert.Equal(t, model.PaymentStatusFailed, result.PaymentStatus)
	assert.Equal(t, gateway.Translate("0005", "", true), result.Diagnosis)
	assert.Contains(t, result.Diagnosis, "Yetersiz limit")
	assert.Equal(t, gateway.CustomerMessage, result.CustomerMessage)

	assert.Equal(t, model.PaymentStatusFailed, s.order("ORD-1").PaymentStatus)

	failed := s.paymentsWithStatus(model.PaymentStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "0005", failed[0].DeclineCode)
	assert.Equal(t, result.Diagnosis, failed[0].Diagnosis)
	assert.Nil(t, failed[0].TransactionID)

	require.Len(t, s.notifications, 1)
	assert.Equal(t, message.EventPaymentFailed, s.notifications[0].Event)

	assert.ErrorIs(t, result.Err(), paymenterr.ErrGatewayDecline)
}

func TestReconciler_TamperedRejected(t *testing.T) {
	order := newOrder(t, "ORD-1")
	s := newMemStore(order)
	sut := NewReconciler(s, slog.Default())

	cb := verified(t, bankFields("ORD-1", "n1", nil), func(f map[string]string) {
		f["amount"] = "1.00"
	})
	require.True(t, cb.Outcome.Rejected())

	result, err := sut.OnCallback(context.Background(), cb)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, paymenterr.ErrSecurityViolation))

	assert.Equal(t, *order, s.order("ORD-1"))
	assert.Empty(t, s.payments)
	assert.Empty(t, s.notifications)

	require.Len(t, s.securityEvents, 1)
	assert.Equal(t, callback.ReasonBadSignature, s.securityEvents[0].Reason)
	assert.Equal(t, "ORD-1", s.securityEvents[0].ClaimedOrderID)
	assert.Equal(t, "203.0.113.7", s.securityEvents[0].RemoteAddr)
}

func TestReconciler_DuplicateApproved(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	sut := NewReconciler(s, slog.Default())

	first, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n1", nil), nil))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n1", nil), nil))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, model.PaymentStatusCompleted, second.PaymentStatus)

	assert.Len(t, s.paymentsWithStatus(model.PaymentStatusCompleted), 1)
	assert.Len(t, s.notifications, 1)
}

func TestReconciler_DeclineAfterCompletedKeepsStatus(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	sut := NewReconciler(s, slog.Default())

	_, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n1", nil), nil))
	require.NoError(t, err)

	result, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n2", map[string]string{
		"Response":       "Declined",
		"ProcReturnCode": "51",
		"TransId":        "",
	}), nil))
	require.NoError(t, err)

	assert.Equal(t, model.PaymentStatusCompleted, result.PaymentStatus)
	assert.Equal(t, model.PaymentStatusCompleted, s.order("ORD-1").PaymentStatus)
	assert.Len(t, s.paymentsWithStatus(model.PaymentStatusCompleted), 1)
	assert.Len(t, s.paymentsWithStatus(model.PaymentStatusFailed), 1)
	assert.Len(t, s.notifications, 1)
}

func TestReconciler_RetryAfterDecline(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	sut := NewReconciler(s, slog.Default())

	declined := bankFields("ORD-1", "n1", map[string]string{"mdStatus": "0", "Response": "", "ProcReturnCode": ""})
	result, err := sut.OnCallback(context.Background(), verified(t, declined, nil))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, result.PaymentStatus)
	assert.Equal(t, gateway.Translate("MD0", "", true), result.Diagnosis)

	result, err = sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n2", nil), nil))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, result.PaymentStatus)

	assert.Equal(t, model.PaymentStatusCompleted, s.order("ORD-1").PaymentStatus)
	assert.Len(t, s.payments, 2)
}

func TestReconciler_DuplicateDecline(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	sut := NewReconciler(s, slog.Default())

	fields := func() map[string]string {
		return bankFields("ORD-1", "n1", map[string]string{"Response": "Declined", "ProcReturnCode": "54", "TransId": ""})
	}

	_, err := sut.OnCallback(context.Background(), verified(t, fields(), nil))
	require.NoError(t, err)

	result, err := sut.OnCallback(context.Background(), verified(t, fields(), nil))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	assert.Len(t, s.paymentsWithStatus(model.PaymentStatusFailed), 1)
	assert.Len(t, s.notifications, 1)
}

func TestReconciler_UnknownOrder(t *testing.T) {
	s := newMemStore()
	sut := NewReconciler(s, slog.Default())

	_, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-404", "n1", nil), nil))
	assert.True(t, errors.Is(err, paymenterr.ErrValidation))
	assert.Empty(t, s.payments)
}

func TestReconciler_MissingOrderNumber(t *testing.T) {
	sut := NewReconciler(newMemStore(), slog.Default())

	_, err := sut.OnCallback(context.Background(), Callback{Outcome: callback.Outcome{Kind: callback.KindApproved}})
	assert.True(t, errors.Is(err, paymenterr.ErrValidation))
}

func TestReconciler_AtomicOnFailure(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	s.failEnqueue = true
	sut := NewReconciler(s, slog.Default())

	_, err := sut.OnCallback(context.Background(), verified(t, bankFields("ORD-1", "n1", nil), nil))
	require.Error(t, err)

	assert.Equal(t, model.PaymentStatusPending, s.order("ORD-1").PaymentStatus)
	assert.Empty(t, s.payments)
	assert.Empty(t, s.notifications)
}

func TestReconciler_ConcurrentDuplicates(t *testing.T) {
	s := newMemStore(newOrder(t, "ORD-1"))
	sut := NewReconciler(s, slog.Default())

	cb := verified(t, bankFields("ORD-1", "n1", nil), nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	duplicates := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := sut.OnCallback(context.Background(), cb)
			if assert.NoError(t, err) && result.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 19, duplicates)
	assert.Len(t, s.paymentsWithStatus(model.PaymentStatusCompleted), 1)
	assert.Equal(t, model.PaymentStatusCompleted, s.order("ORD-1").PaymentStatus)
}
