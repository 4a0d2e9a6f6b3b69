package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/queue"
	"github.com/sungwon/mail-dispatch/internal/storage"
)

// orchestrator is the part of dispatch.Orchestrator the handler drives.
type orchestrator interface {
	SendMessage(ctx context.Context, job *queue.Job) error
	UpdateStatus(ctx context.Context, job *queue.Job, status message.Status, description string) error
	UpdateContent(ctx context.Context, job *queue.Job)
}

// Handler implements queue.Processor and queue.Listener. It hands active jobs
// to the orchestrator and records the final outcome of each job.
type Handler struct {
	dispatch       orchestrator
	markProcessing bool
	log            zerolog.Logger
}

// NewHandler creates a Handler. When markProcessing is set, every attempt
// records PROCESSING before the send.
func NewHandler(o orchestrator, markProcessing bool, log zerolog.Logger) *Handler {
	return &Handler{
		dispatch:       o,
		markProcessing: markProcessing,
		log:            log,
	}
}

// Process implements queue.Processor.
func (h *Handler) Process(ctx context.Context, job *queue.Job) error {
	if h.markProcessing {
		if err := h.dispatch.UpdateStatus(ctx, job, message.StatusProcessing, ""); err != nil {
			// A finished record refuses PROCESSING; SendMessage skips it.
			lvl := h.log.Warn()
			if errors.Is(err, storage.ErrInvalidTransition) {
				lvl = h.log.Debug()
			}
			lvl.Err(err).Str("job_id", job.ID).Msg("failed to set processing status")
		}
	}
	return h.dispatch.SendMessage(ctx, job)
}

// JobCompleted implements queue.Listener by scrubbing the message content.
func (h *Handler) JobCompleted(ctx context.Context, job *queue.Job) {
	h.dispatch.UpdateContent(ctx, job)
}

// JobFailed implements queue.Listener. It records FAILED with the failure
// reason, then scrubs the content.
func (h *Handler) JobFailed(ctx context.Context, job *queue.Job, err error) {
	reason := job.FailedReason
	if err != nil {
		reason = err.Error()
	}
	if uerr := h.dispatch.UpdateStatus(ctx, job, message.StatusFailed, reason); uerr != nil {
		h.log.Error().Err(uerr).
			Str("job_id", job.ID).
			Str("client", job.Data.Client).
			Str("message_id", job.Data.MessageID).
			Msg("failed to record failed status")
	}
	h.dispatch.UpdateContent(ctx, job)
}
