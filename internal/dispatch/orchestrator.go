// Package dispatch moves messages through enqueue, delivery and terminal
// status. It bridges the job queue, the message store and the mail
// transport, and owns the cancellation protocol.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sungwon/mail-dispatch/internal/logger"
	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/metrics"
	"github.com/sungwon/mail-dispatch/internal/queue"
	"github.com/sungwon/mail-dispatch/internal/storage"
	"github.com/sungwon/mail-dispatch/internal/transport"
)

const tracerName = "github.com/sungwon/mail-dispatch/internal/dispatch"

// DataStore persists message records.
type DataStore interface {
	UpdateStatus(ctx context.Context, client, messageID string, status message.Status, description string) error
	ReadMessage(ctx context.Context, client, messageID string) (*message.Message, error)
	UpdateMessageSendResult(ctx context.Context, client, messageID string, result message.SendResult) error
	DeleteMessageEmail(ctx context.Context, client, messageID string) error
}

// JobQueue is the part of queue.Queue the orchestrator uses.
type JobQueue interface {
	Add(ctx context.Context, data queue.JobData, opts queue.AddOptions) (*queue.Job, error)
	GetJob(ctx context.Context, id string) (*queue.Job, error)
}

// Transport delivers an envelope.
type Transport interface {
	Send(ctx context.Context, env *message.Envelope) (*transport.Result, error)
}

// EnqueueOptions configure the job created by Enqueue.
type EnqueueOptions struct {
	Delay    time.Duration
	Attempts int
	// Meta is passed through to the queue untouched.
	Meta map[string]string
}

// ErrContentMissing is reported when a message reaches delivery after its
// content was scrubbed.
var ErrContentMissing = errors.New("dispatch: message content is missing")

// Orchestrator is safe for concurrent use across distinct jobs.
type Orchestrator struct {
	queue     JobQueue
	store     DataStore
	transport Transport
	log       zerolog.Logger
	tracer    trace.Tracer

	propagateSendErrors bool
	backgroundTimeout   time.Duration
	bg                  *background
}

// New creates an Orchestrator over its three collaborators.
func New(q JobQueue, store DataStore, tr Transport, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:             q,
		store:             store,
		transport:         tr,
		log:               log.With().Str("component", "dispatch").Logger(),
		backgroundTimeout: defaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	o.bg = newBackground(o.backgroundTimeout, o.log)
	return o
}

// Close waits for background tasks started by RemoveJob.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.bg.Close(ctx)
}

// Enqueue records ENQUEUED for the message and then submits a job keyed by
// its id. A failed submission is logged but not returned: the status write
// has already happened and is not rolled back.
//
// Job ids are not scoped by client, so a message id held by another client's
// live job is refused with KindClientMismatch.
func (o *Orchestrator) Enqueue(ctx context.Context, client string, msg *message.Message, opts EnqueueOptions) error {
	if client == "" || msg == nil || !message.ValidID(msg.MessageID) || msg.Email == nil {
		return ErrInvalidMessage
	}

	log := logger.ForMessage(o.log, client, msg.MessageID)

	if owner := o.liveOwner(ctx, msg.MessageID); owner != "" && owner != client {
		metrics.DispatchEnqueuedTotal.WithLabelValues("conflict").Inc()
		log.Warn().Str("owner", owner).Msg("message id held by another client's job")
		return &Error{Kind: KindClientMismatch, JobID: msg.MessageID, Client: client, Detail: "job id in use"}
	}

	if err := o.store.UpdateStatus(ctx, client, msg.MessageID, message.StatusEnqueued, ""); err != nil {
		metrics.DispatchEnqueuedTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("set enqueued status: %w", err)
	}

	job, err := o.queue.Add(ctx, queue.JobData{Client: client, MessageID: msg.MessageID}, queue.AddOptions{
		JobID:    msg.MessageID,
		Delay:    opts.Delay,
		Attempts: opts.Attempts,
		Meta:     opts.Meta,
	})
	if err != nil {
		metrics.DispatchEnqueuedTotal.WithLabelValues("queue_error").Inc()
		log.Error().Err(err).Msg("failed to add job to queue")
		return nil
	}

	if heldByOther(job, client) {
		// Lost a race with another client's Add between the lookup and here.
		metrics.DispatchEnqueuedTotal.WithLabelValues("conflict").Inc()
		log.Error().Str("owner", job.Data.Client).Msg("message id taken by another client's job")
		return &Error{Kind: KindClientMismatch, JobID: msg.MessageID, Client: client, Detail: "job id in use"}
	}

	metrics.DispatchEnqueuedTotal.WithLabelValues("queued").Inc()
	log.Info().Str("job_id", job.ID).Dur("delay", opts.Delay).Msg("message enqueued")
	return nil
}

// SendMessage delivers the message a job refers to. Jobs without identifying
// data are ignored. Records already in a terminal status are skipped so a
// redelivered job never sends twice.
//
// Read and transport failures are swallowed unless error propagation is
// enabled, in which case permanent failures are marked with queue.Permanent.
func (o *Orchestrator) SendMessage(ctx context.Context, job *queue.Job) error {
	if job == nil || job.Data.Client == "" || job.Data.MessageID == "" {
		o.log.Debug().Msg("job without message reference, skipping")
		return nil
	}
	client, messageID := job.Data.Client, job.Data.MessageID

	ctx, span := o.tracer.Start(ctx, "dispatch.SendMessage", trace.WithAttributes(
		attribute.String("client", client),
		attribute.String("message_id", messageID),
		attribute.Int("attempt", job.Attempts+1),
	))
	defer span.End()

	log := logger.ForMessage(o.log, client, messageID).With().Str("job_id", job.ID).Logger()

	msg, err := o.store.ReadMessage(ctx, client, messageID)
	if err != nil {
		metrics.DispatchSendsTotal.WithLabelValues("store_error").Inc()
		log.Error().Err(err).Msg("failed to read message")
		span.RecordError(err)
		span.SetStatus(codes.Error, "read message")
		return o.sendFailure(fmt.Errorf("read message: %w", err), errors.Is(err, storage.ErrNotFound))
	}

	if msg.Status.IsTerminal() {
		metrics.DispatchSendsTotal.WithLabelValues("skipped").Inc()
		log.Warn().Str("status", msg.Status.String()).Msg("message already finished, skipping send")
		return nil
	}
	if !msg.HasContent() {
		metrics.DispatchSendsTotal.WithLabelValues("skipped").Inc()
		log.Warn().Msg("message content missing, skipping send")
		return o.sendFailure(ErrContentMissing, true)
	}

	start := time.Now()
	res, err := o.transport.Send(ctx, msg.Email)
	metrics.DispatchSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		permanent := transport.IsPermanent(err)
		metrics.DispatchSendsTotal.WithLabelValues("transport_error").Inc()
		log.Error().Err(err).Bool("permanent", permanent).Msg("mail transport send failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		return o.sendFailure(fmt.Errorf("send: %w", err), permanent)
	}

	result := message.SendResult{SMTPMessageID: res.MessageID, Response: res.Response}
	if err := o.store.UpdateMessageSendResult(ctx, client, messageID, result); err != nil {
		// The mail is out. Retrying would send it again, so this is only logged.
		metrics.DispatchSendsTotal.WithLabelValues("store_error").Inc()
		log.Error().Err(err).Str("smtp_msg_id", res.MessageID).Msg("message sent but send result not recorded")
		span.RecordError(err)
		return nil
	}

	metrics.DispatchSendsTotal.WithLabelValues("sent").Inc()
	span.SetAttributes(attribute.String("smtp_msg_id", res.MessageID))
	log.Info().Str("smtp_msg_id", res.MessageID).Str("response", res.Response).Msg("message sent")
	return nil
}

// liveOwner returns the client of the unfinished job holding id, or "" when
// there is none. Lookup failures are left for Add to report.
func (o *Orchestrator) liveOwner(ctx context.Context, id string) string {
	job, err := o.queue.GetJob(ctx, id)
	if err != nil || job == nil {
		return ""
	}
	state, err := job.State(ctx)
	if err != nil || state == queue.StateCompleted || state == queue.StateFailed {
		return ""
	}
	return job.Data.Client
}

// heldByOther reports whether job carries another client's payload.
func heldByOther(job *queue.Job, client string) bool {
	return job.Data.Client != "" && job.Data.Client != client
}

func (o *Orchestrator) sendFailure(err error, permanent bool) error {
	if !o.propagateSendErrors {
		return nil
	}
	if permanent {
		return queue.Permanent(err)
	}
	return err
}

// UpdateStatus writes status and description for the job's message. Jobs
// without identifying data are ignored.
func (o *Orchestrator) UpdateStatus(ctx context.Context, job *queue.Job, status message.Status, description string) error {
	if job == nil || job.Data.Client == "" || job.Data.MessageID == "" {
		return nil
	}
	if err := o.store.UpdateStatus(ctx, job.Data.Client, job.Data.MessageID, status, description); err != nil {
		return fmt.Errorf("update status of %s to %s: %w", job.Data.MessageID, status, err)
	}
	return nil
}

// UpdateContent scrubs the stored email body and clears the job payload.
// It is idempotent and never fails; errors are logged.
func (o *Orchestrator) UpdateContent(ctx context.Context, job *queue.Job) {
	if job == nil {
		return
	}
	log := logger.ForMessage(o.log, job.Data.Client, job.Data.MessageID).With().Str("job_id", job.ID).Logger()

	if job.Data.Client != "" && job.Data.MessageID != "" {
		if err := o.store.DeleteMessageEmail(ctx, job.Data.Client, job.Data.MessageID); err != nil {
			metrics.DispatchContentScrubsTotal.WithLabelValues("failure").Inc()
			log.Error().Err(err).Msg("failed to delete message content")
		} else {
			metrics.DispatchContentScrubsTotal.WithLabelValues("success").Inc()
			log.Debug().Msg("message content deleted")
		}
	}

	if job.Data.IsZero() {
		return
	}
	if err := job.Update(ctx, queue.JobData{}); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
		log.Error().Err(err).Msg("failed to clear job payload")
	}
}

// RemoveJob cancels a delayed job owned by client. It returns false, nil when
// no such job exists. Refusals are *Error values checked in order: data
// integrity, then ownership, then state. An empty payload is the mark of a
// finished job whose content was scrubbed, so it is reported as
// KindUncancellable rather than KindDataIntegrity.
//
// The status change to REMOVED and the content scrub run in the background
// once the job is gone from the queue.
func (o *Orchestrator) RemoveJob(ctx context.Context, client, jobID string) (removed bool, err error) {
	ctx, span := o.tracer.Start(ctx, "dispatch.RemoveJob", trace.WithAttributes(
		attribute.String("client", client),
		attribute.String("job_id", jobID),
	))
	defer func() {
		outcome := "removed"
		switch {
		case err != nil:
			outcome = KindOf(err).String()
			if outcome == KindUnknown.String() {
				outcome = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		case !removed:
			outcome = "not_found"
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		metrics.DispatchRemovalsTotal.WithLabelValues(outcome).Inc()
		span.End()
	}()

	log := o.log.With().Str("client", client).Str("job_id", jobID).Logger()

	job, err := o.queue.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job == nil {
		return false, nil
	}

	data := job.Data
	switch {
	case data.IsZero():
		// Finished jobs have their payload cleared.
		return false, &Error{Kind: KindUncancellable, JobID: jobID, Client: client, Detail: "job already finished"}
	case data.Client == "" || data.MessageID == "":
		log.Error().Str("data_client", data.Client).Str("data_message_id", data.MessageID).Msg("job payload is incomplete")
		return false, &Error{Kind: KindDataIntegrity, JobID: jobID, Client: client, Detail: "incomplete job payload"}
	case data.MessageID != jobID:
		log.Error().Str("data_message_id", data.MessageID).Msg("job id does not match its message id")
		return false, &Error{Kind: KindDataIntegrity, JobID: jobID, Client: client, Detail: "message id " + data.MessageID}
	}

	if data.Client != client {
		log.Warn().Str("owner", data.Client).Msg("cancellation requested by non-owner")
		return false, &Error{Kind: KindClientMismatch, JobID: jobID, Client: client}
	}

	state, err := job.State(ctx)
	if errors.Is(err, queue.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get state of job %s: %w", jobID, err)
	}
	if state != queue.StateDelayed {
		return false, &Error{Kind: KindUncancellable, JobID: jobID, Client: client, Detail: "job is " + string(state)}
	}

	if err := job.Remove(ctx); err != nil {
		if errors.Is(err, queue.ErrJobActive) {
			return false, &Error{Kind: KindUncancellable, JobID: jobID, Client: client, Detail: "job became active"}
		}
		return false, fmt.Errorf("remove job %s: %w", jobID, err)
	}

	log.Info().Msg("job removed")

	o.bg.Go(ctx, "remove_cleanup", func(ctx context.Context) error {
		statusErr := o.UpdateStatus(ctx, job, message.StatusRemoved, "removed by client")
		o.UpdateContent(ctx, job)
		return statusErr
	})

	return true, nil
}
