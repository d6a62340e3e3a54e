package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-gateway-service/internal/config"
	"payment-gateway-service/internal/db"
	"payment-gateway-service/internal/logcontext"
)

const (
	defaultPollingInterval    = 500 * time.Millisecond
	defaultFetchSize          = 200
	defaultRescheduleDelay    = 10 * time.Second
	defaultMaxPublishAttempts = 3
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`notification_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`notification_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`notification_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`notification_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`notification_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`notification_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`notification_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`notification_producer_messages_total{result="rescheduled"}`)
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer relays outbox rows written by the reconciler to the notification topic.
type Producer struct {
	repo               *db.OutboxRepository
	writer             MessageWriter
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo *db.OutboxRepository, writer MessageWriter, cfg config.Outbox, logger *slog.Logger) *Producer {
	p := &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(cfg.PollingIntervalMs) * time.Millisecond,
		fetchSize:          cfg.FetchSize,
		retryDelay:         time.Duration(cfg.RescheduleDelayMs) * time.Millisecond,
		maxPublishAttempts: cfg.MaxPublishAttempts,
		logger:             logger,
	}
	if p.pollingInterval <= 0 {
		p.pollingInterval = defaultPollingInterval
	}
	if p.fetchSize <= 0 {
		p.fetchSize = defaultFetchSize
	}
	if p.retryDelay <= 0 {
		p.retryDelay = defaultRescheduleDelay
	}
	if p.maxPublishAttempts <= 0 {
		p.maxPublishAttempts = defaultMaxPublishAttempts
	}
	return p
}

// Run polls the outbox until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Process(ctx)
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Context done, stopping notification producer")
			return nil
		}
	}
}

// Process publishes one batch of due notifications.
func (p *Producer) Process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	notifications, err := p.repo.GetScheduled(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching scheduled notifications", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(notifications) == 0 {
		p.logger.DebugContext(ctx, "No scheduled notifications found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing notifications to Kafka", "count", len(notifications))

	publishErr := p.writer.WriteMessages(ctx, toKafkaMessages(notifications)...)
	if publishErr != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", publishErr)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, notification := range notifications {
		messageCtx := logcontext.AppendCtx(ctx, slog.String("id", notification.ID.String()))

		p.applyPublishResult(messageCtx, notification, publishErr, now)

		if err := p.repo.Update(messageCtx, tx, notification); err != nil {
			p.logger.ErrorContext(messageCtx, "Error updating notification", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Transaction committed successfully")
	producerSuccessCounter.Inc()
}

// applyPublishResult moves a notification to published, rescheduled or given up.
func (p *Producer) applyPublishResult(ctx context.Context, notification *db.NotificationEntity, publishErr error, now time.Time) {
	notification.PublishAttempts++

	if publishErr == nil {
		notification.ScheduledAt = nil
		notification.PublishedAt = &now
		notification.Error = nil

		producerMessagesPublishedCounter.Inc()
		return
	}

	errMsg := publishErr.Error()
	notification.Error = &errMsg

	if notification.PublishAttempts >= p.maxPublishAttempts {
		p.logger.WarnContext(ctx, "Max attempts reached for notification")
		notification.ScheduledAt = nil

		producerMessagesMaxAttemptsCounter.Inc()
		return
	}

	scheduledAt := now.Add(time.Duration(notification.PublishAttempts) * p.retryDelay)
	notification.ScheduledAt = &scheduledAt

	producerMessagesRescheduledCounter.Inc()
}

func toKafkaMessages(notifications []*db.NotificationEntity) []kafka.Message {
	kafkaMessages := make([]kafka.Message, 0, len(notifications))

	for _, entity := range notifications {
		kafkaMessages = append(kafkaMessages, kafka.Message{
			Key:   []byte(entity.OrderID.String()), // order id as key keeps per-order ordering
			Value: []byte(entity.Payload),
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(entity.Event)},
			},
		})
	}
	return kafkaMessages
}
