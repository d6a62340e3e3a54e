package db_test

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"payment-gateway-service/internal/callback"
	"payment-gateway-service/internal/db"
	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/reconcile"
	"payment-gateway-service/internal/store"
	"payment-gateway-service/internal/testhelpers"
)

type OrderRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.OrderRepository
	outbox      *db.OutboxRepository
	ctx         context.Context
}

func (s *OrderRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(s.ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewOrderRepository(pool)
	s.outbox = db.NewOutboxRepository(pool)
}

func (s *OrderRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *OrderRepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE notification_outbox, gateway_security_event, payment, order_item, customer_order`)
	if err != nil {
		log.Fatalf("error truncating tables: %s", err)
	}
}

func (s *OrderRepositoryTestSuite) newOrder(orderNumber string) *model.Order {
	order, err := model.NewOrder(orderNumber,
		decimal.RequireFromString("100.00"), decimal.RequireFromString("29.90"), decimal.RequireFromString("10.00"),
		model.Address{FullName: "Ayşe Yılmaz", Line1: "Bağdat Cd. 1", City: "İstanbul", Country: "TR"},
		model.Address{FullName: "Ayşe Yılmaz", Line1: "Bağdat Cd. 1", City: "İstanbul", Country: "TR"},
		[]model.OrderItem{{ProductID: "SKU-1", ProductName: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("50.00")}},
	)
	s.Require().NoError(err)

	created, err := s.sut.CreateOrder(s.ctx, order)
	s.Require().NoError(err)
	s.Require().True(created)
	return order
}

func callbackFor(orderNumber string, kind callback.Kind, nonce string) reconcile.Callback {
	fields := map[string]string{
		"oid":    orderNumber,
		"amount": "119.90",
		"rnd":    nonce,
	}
	outcome := callback.Outcome{Kind: kind}
	switch kind {
	case callback.KindApproved:
		outcome.TransactionID = "TX-" + nonce
		outcome.AuthCode = "123456"
		fields["response"] = "Approved"
		fields["procreturncode"] = "00"
	case callback.KindDeclined:
		outcome.Code = "51"
		outcome.Message = "Insufficient funds"
		fields["response"] = "Declined"
		fields["procreturncode"] = "51"
	}
	return reconcile.Callback{OrderNumber: orderNumber, Outcome: outcome, Payload: callback.NewPayload(fields)}
}

func (s *OrderRepositoryTestSuite) TestCreateOrder_Idempotent() {
	t := s.T()

	order := s.newOrder("ORD-1")

	created, err := s.sut.CreateOrder(s.ctx, order)
	assert.NoError(t, err)
	assert.False(t, created)

	loaded, err := s.sut.GetOrder(s.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", loaded.OrderNumber)
	assert.Equal(t, "119.90", loaded.FinalAmount.StringFixed(2))
	assert.Equal(t, "İstanbul", loaded.ShippingAddress.City)
	assert.Len(t, loaded.Items, 1)
	assert.Empty(t, loaded.Payments)
	assert.True(t, loaded.AmountsConsistent())
}

func (s *OrderRepositoryTestSuite) TestGetOrder_NotFound() {
	_, err := s.sut.GetOrder(s.ctx, uuid.New())
	assert.ErrorIs(s.T(), err, store.ErrNotFound)

	_, err = s.sut.GetOrderByNumber(s.ctx, "missing")
	assert.ErrorIs(s.T(), err, store.ErrNotFound)
}

func (s *OrderRepositoryTestSuite) TestUpdateOrderStatus() {
	t := s.T()
	order := s.newOrder("ORD-2")

	updated, err := s.sut.UpdateOrderStatus(s.ctx, order.ID, model.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, model.PaymentStatusPending, updated.PaymentStatus)

	_, err = s.sut.UpdateOrderStatus(s.ctx, order.ID, model.OrderStatusPending)
	assert.ErrorIs(t, err, paymenterr.ErrValidation)
}

func (s *OrderRepositoryTestSuite) TestReconcile_ApprovedWritesPaymentAndOutbox() {
	t := s.T()
	order := s.newOrder("ORD-3")
	sut := reconcile.NewReconciler(s.sut, slog.Default())

	result, err := sut.OnCallback(s.ctx, callbackFor("ORD-3", callback.KindApproved, "n1"))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	loaded, err := s.sut.GetOrder(s.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, loaded.PaymentStatus)
	require.Len(t, loaded.Payments, 1)
	assert.Equal(t, model.PaymentStatusCompleted, loaded.Payments[0].Status)
	assert.Equal(t, "TX-n1", *loaded.Payments[0].TransactionID)
	assert.Equal(t, "ORD-3", loaded.Payments[0].RawResponse["oid"])

	notifications, err := s.outbox.SelectByOrderID(s.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "payment.completed", notifications[0].Event)
	assert.NotNil(t, notifications[0].ScheduledAt)
}

func (s *OrderRepositoryTestSuite) TestReconcile_LateDeclineKeepsCompleted() {
	t := s.T()
	order := s.newOrder("ORD-4")
	sut := reconcile.NewReconciler(s.sut, slog.Default())

	_, err := sut.OnCallback(s.ctx, callbackFor("ORD-4", callback.KindApproved, "n1"))
	require.NoError(t, err)
	_, err = sut.OnCallback(s.ctx, callbackFor("ORD-4", callback.KindDeclined, "n2"))
	require.NoError(t, err)

	loaded, err := s.sut.GetOrder(s.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, loaded.PaymentStatus)
	assert.Len(t, loaded.Payments, 2)
}

func (s *OrderRepositoryTestSuite) TestReconcile_ConcurrentApprovedCallbacks() {
	t := s.T()
	order := s.newOrder("ORD-5")
	sut := reconcile.NewReconciler(s.sut, slog.Default())

	const workers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := sut.OnCallback(s.ctx, callbackFor("ORD-5", callback.KindApproved, "n1"))
			if !assert.NoError(t, err) {
				return
			}
			if result.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers-1, duplicates)

	payments, err := s.sut.SelectPayments(s.ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	notifications, err := s.outbox.SelectByOrderID(s.ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func (s *OrderRepositoryTestSuite) TestReconcile_SecondCompletedPaymentRejectedByIndex() {
	t := s.T()
	order := s.newOrder("ORD-6")

	insert := func(nonce string) error {
		return s.sut.WithinTx(s.ctx, func(ctx context.Context, tx store.PaymentTx) error {
			return tx.CreatePayment(ctx, &model.PaymentRecord{
				ID:          uuid.New(),
				OrderID:     order.ID,
				Amount:      order.FinalAmount,
				Method:      reconcile.MethodCard,
				Status:      model.PaymentStatusCompleted,
				Nonce:       nonce,
				RawResponse: map[string]string{},
				CreatedAt:   time.Now(),
			})
		})
	}

	require.NoError(t, insert("a"))
	assert.ErrorIs(t, insert("b"), store.ErrDuplicate)
}

func (s *OrderRepositoryTestSuite) TestReconcile_RejectedStoresSecurityEventOnly() {
	t := s.T()
	order := s.newOrder("ORD-7")
	sut := reconcile.NewReconciler(s.sut, slog.Default())

	cb := callbackFor("ORD-7", callback.KindRejected, "n1")
	cb.Outcome.Reason = callback.ReasonBadSignature
	cb.RemoteAddr = "203.0.113.7"

	_, err := sut.OnCallback(s.ctx, cb)
	assert.ErrorIs(t, err, paymenterr.ErrSecurityViolation)

	count, err := s.sut.CountSecurityEvents(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := s.sut.GetOrder(s.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, loaded.PaymentStatus)
	assert.Empty(t, loaded.Payments)
}

func TestOrderRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(OrderRepositoryTestSuite))
}
