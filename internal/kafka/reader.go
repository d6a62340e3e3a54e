package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"payment-gateway-service/internal/config"
	"payment-gateway-service/internal/logcontext"
	"payment-gateway-service/internal/message"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var orderEventMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="order_event"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="order_event"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="order_event"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="order_event"}`),
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type OrderEventProcessor interface {
	Process(ctx context.Context, event message.OrderEvent) error
}

func NewReader(cfg config.Kafka, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   topic,
	})
}

// ReadOrderEvents consumes order events until ctx is done.
func ReadOrderEvents(ctx context.Context, reader MessageReader, processor OrderEventProcessor, logger *slog.Logger) error {
	return readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var e message.OrderEvent
		if err := json.Unmarshal(value, &e); err != nil {
			logger.ErrorContext(ctx, "Error unmarshalling message", "error", err)
			orderEventMetrics.UnmarshalErrorCounter.Inc()
			return nil
		}
		ctx = logcontext.AppendCtx(ctx, slog.String("eventId", e.ID.String()))
		if err := processor.Process(ctx, e); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "error", err)
			orderEventMetrics.ProcessErrorCounter.Inc()
			return nil
		}
		orderEventMetrics.SuccessCounter.Inc()
		return nil
	}, orderEventMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) error {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				logger.InfoContext(ctx, "Stopping reader", "reason", err)
				return nil
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.DebugContext(ctx, "Received message", "topic", m.Topic, "offset", m.Offset)

		if err := process(ctx, m.Value); err != nil {
			return err
		}
	}
}
