package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/hotspot-sync-service/internal/config"
	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/mapsync"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

// maxMessageBytes matches the broker's default message.max.bytes.
const maxMessageBytes = 1 << 20

// messageWriter is the subset of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes map commands and summaries to their Kafka topics.
// It implements mapsync.CommandSink and pipeline.SummarySink.
type Writer struct {
	writer       messageWriter
	commandTopic string
	summaryTopic string
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewWriter creates a Kafka producer for the configured command and summary topics.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchBytes:             maxMessageBytes,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{
		writer:       w,
		commandTopic: cfg.KafkaCommandTopic,
		summaryTopic: cfg.KafkaSummaryTopic,
		metrics:      metrics,
		logger:       logger,
	}
}

// PublishCommand writes one map command, keyed by source so a view sees
// commands for a source in order.
func (w *Writer) PublishCommand(ctx context.Context, cmd mapsync.Command) error {
	msg, err := commandMessage(w.commandTopic, cmd)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s command: %w", cmd.Type, err)
	}
	return nil
}

// PublishSummary writes the summary for a filter state, keyed by date.
func (w *Writer) PublishSummary(ctx context.Context, report domain.SummaryReport) error {
	msg, err := summaryMessage(w.summaryTopic, report)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	w.metrics.SummariesPublished.Inc()
	w.logger.Debug("summary published", "date", report.Filter.Date, "total", report.Summary.Total)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// commandMessage marshals a map command into a Kafka message.
func commandMessage(topic string, cmd mapsync.Command) (kafkago.Message, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize map command: %w", err)
	}
	if len(data) > maxMessageBytes {
		return kafkago.Message{}, fmt.Errorf("%s command is %d bytes, limit %d", cmd.Type, len(data), maxMessageBytes)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(cmd.SourceID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "command", Value: []byte(cmd.Type)},
		},
	}, nil
}

// summaryMessage marshals a summary report into a Kafka message.
func summaryMessage(topic string, report domain.SummaryReport) (kafkago.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize summary: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(report.Filter.Date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "date", Value: []byte(report.Filter.Date)},
			{Key: "period", Value: []byte(report.Filter.Period)},
			{Key: "sensor", Value: []byte(report.Filter.Sensor)},
			{Key: "generated_at", Value: []byte(report.Summary.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
