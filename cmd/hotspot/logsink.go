package main

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/mapsync"
)

// logSink stands in for Kafka when KAFKA_ENABLED=false.
type logSink struct {
	logger *slog.Logger
}

func newLogSink(logger *slog.Logger) *logSink {
	return &logSink{logger: logger.With("sink", "log")}
}

func (s *logSink) PublishCommand(_ context.Context, cmd mapsync.Command) error {
	s.logger.Debug("map command", "type", cmd.Type, "source", cmd.SourceID)
	return nil
}

func (s *logSink) PublishSummary(_ context.Context, report domain.SummaryReport) error {
	s.logger.Info("summary",
		"date", report.Filter.Date,
		"period", report.Filter.Period,
		"sensor", report.Filter.Sensor,
		"total", report.Summary.Total,
		"unmapped", report.Summary.Unmapped,
	)
	return nil
}

func (s *logSink) Close() error { return nil }
