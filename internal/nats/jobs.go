package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/telhawk-coverage/internal/middleware"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// Correlator runs one coverage correlation.
type Correlator interface {
	Correlate(ctx context.Context, req models.CorrelateRequest) (*models.CoverageReport, error)
}

type jobError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JobHandler answers correlation requests received on SubjectJobsCorrelate.
type JobHandler struct {
	correlator Correlator
	timeout    time.Duration
	logger     *slog.Logger
}

// NewJobHandler creates a handler. timeout bounds each job; zero means no
// bound beyond the engine's own operation timeout.
func NewJobHandler(correlator Correlator, timeout time.Duration, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		correlator: correlator,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "coverage-jobs")),
	}
}

// Register subscribes the handler to the correlation job subject.
func (h *JobHandler) Register(c *Client) error {
	return c.QueueSubscribe(SubjectJobsCorrelate, QueueCoverageWorkers, h.HandleMsg)
}

// HandleMsg processes one job message and replies when a reply subject is set.
func (h *JobHandler) HandleMsg(ctx context.Context, msg *nats.Msg) error {
	reqID := msg.Header.Get(middleware.RequestIDHeader)
	if reqID != "" {
		ctx = middleware.WithRequestID(ctx, reqID)
	}

	reply := h.Handle(ctx, msg.Data)
	if msg.Reply == "" {
		return nil
	}
	if err := msg.Respond(reply); err != nil {
		return fmt.Errorf("respond to %s: %w", msg.Reply, err)
	}
	return nil
}

// Handle decodes a CorrelateRequest, runs it, and returns the JSON reply: the
// coverage report on success, {"success": false, "error": ...} otherwise.
func (h *JobHandler) Handle(ctx context.Context, data []byte) []byte {
	var req models.CorrelateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return h.failure(fmt.Errorf("invalid job payload: %w", err))
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.correlator.Correlate(ctx, req)
	if err != nil {
		h.logger.Error("correlation job failed",
			slog.String("operation_id", req.OperationID),
			slog.String("error", err.Error()))
		return h.failure(err)
	}

	out, err := json.Marshal(report)
	if err != nil {
		return h.failure(fmt.Errorf("marshal report: %w", err))
	}
	return out
}

func (h *JobHandler) failure(err error) []byte {
	out, _ := json.Marshal(jobError{Success: false, Error: err.Error()})
	return out
}
