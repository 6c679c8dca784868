// Package publish distributes completed coverage reports to downstream
// consumers. Publication never fails a correlation.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/telhawk-coverage/internal/metrics"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// Publisher delivers a report to one sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, report *models.CoverageReport) error
	Close() error
}

// SubjectPublisher is the part of the NATS client used for reports.
type SubjectPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes reports on a NATS subject.
type NATSPublisher struct {
	conn    SubjectPublisher
	subject string
}

// NewNATSPublisher publishes reports on subject.
func NewNATSPublisher(conn SubjectPublisher, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Publish sends report as a JSON message.
func (p *NATSPublisher) Publish(ctx context.Context, report *models.CoverageReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := p.conn.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (p *NATSPublisher) Close() error { return nil }

// Multi fans a report out to every configured publisher.
type Multi struct {
	publishers []Publisher
	logger     *slog.Logger
}

// NewMulti combines publishers. nil entries are ignored.
func NewMulti(logger *slog.Logger, publishers ...Publisher) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With(slog.String("component", "publisher"))}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

// Publish tries every sink and joins the failures.
func (m *Multi) Publish(ctx context.Context, report *models.CoverageReport) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, report); err != nil {
			metrics.ReportsPublished.WithLabelValues(p.Name(), "error").Inc()
			m.logger.Warn("report publication failed",
				slog.String("sink", p.Name()),
				slog.String("report_id", report.ReportID),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		metrics.ReportsPublished.WithLabelValues(p.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.publishers) }

// NoOp discards reports.
type NoOp struct{}

func (NoOp) Name() string { return "noop" }
func (NoOp) Publish(context.Context, *models.CoverageReport) error { return nil }
func (NoOp) Close() error { return nil }
