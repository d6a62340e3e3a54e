package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"payment-gateway-service/internal/store"
)

const notificationColumns = `id, order_id, event, payload, created_at, updated_at, scheduled_at, published_at,
	publish_attempts, error`

type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetScheduled locks up to limit due notifications; concurrent producers skip locked rows.
func (r *OutboxRepository) GetScheduled(ctx context.Context, tx pgx.Tx, limit int) ([]*NotificationEntity, error) {
	rows, err := tx.Query(ctx, `SELECT `+notificationColumns+` FROM notification_outbox
	          WHERE scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY scheduled_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*NotificationEntity
	for rows.Next() {
		entity, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (r *OutboxRepository) Update(ctx context.Context, tx pgx.Tx, entity *NotificationEntity) error {
	_, err := tx.Exec(ctx, `UPDATE notification_outbox
	          SET updated_at = now(), scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`,
		entity.ID, entity.ScheduledAt, entity.PublishedAt, entity.PublishAttempts, entity.Error)
	return err
}

func (r *OutboxRepository) SelectByID(ctx context.Context, id uuid.UUID) (*NotificationEntity, error) {
	entity, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notification_outbox WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return entity, err
}

func (r *OutboxRepository) SelectByOrderID(ctx context.Context, orderID uuid.UUID) ([]*NotificationEntity, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notification_outbox WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*NotificationEntity
	for rows.Next() {
		entity, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func scanNotification(row pgx.Row) (*NotificationEntity, error) {
	var entity NotificationEntity
	err := row.Scan(&entity.ID, &entity.OrderID, &entity.Event, &entity.Payload, &entity.CreatedAt, &entity.UpdatedAt,
		&entity.ScheduledAt, &entity.PublishedAt, &entity.PublishAttempts, &entity.Error)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}
