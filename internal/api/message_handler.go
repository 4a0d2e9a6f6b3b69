package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sungwon/mail-dispatch/internal/auth"
	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/logger"
	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/storage"
)

// MessageStore is the part of storage.Store the message endpoints use.
type MessageStore interface {
	CreateMessage(ctx context.Context, client, messageID string, email *message.Envelope) error
	ReadMessage(ctx context.Context, client, messageID string) (*message.Message, error)
}

// Dispatcher is the part of dispatch.Orchestrator the message endpoints use.
type Dispatcher interface {
	Enqueue(ctx context.Context, client string, msg *message.Message, opts dispatch.EnqueueOptions) error
	RemoveJob(ctx context.Context, client, jobID string) (bool, error)
}

// SendQuota meters accepted messages per client.
type SendQuota interface {
	Reserve(ctx context.Context, client string) error
	Release(ctx context.Context, client string) error
}

var validate = validator.New()

// sendRequest is the JSON body for submitting a message.
type sendRequest struct {
	MessageID string            `json:"message_id"`
	Email     *message.Envelope `json:"email" validate:"required"`
	DelayMS   int64             `json:"delay_ms" validate:"gte=0"`
	Attempts  int               `json:"attempts" validate:"gte=0,lte=25"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// messageResponse is the status view of a message. The email body is never
// returned.
type messageResponse struct {
	MessageID         string              `json:"message_id"`
	Client            string              `json:"client"`
	Status            string              `json:"status"`
	StatusDescription string              `json:"status_description,omitempty"`
	HasContent        bool                `json:"has_content"`
	SendResult        *message.SendResult `json:"send_result,omitempty"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
}

func toMessageResponse(m *message.Message) messageResponse {
	return messageResponse{
		MessageID:         m.MessageID,
		Client:            m.Client,
		Status:            string(m.Status),
		StatusDescription: m.StatusDescription,
		HasContent:        m.HasContent(),
		SendResult:        m.SendResult,
		CreatedAt:         m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         m.UpdatedAt.Format(time.RFC3339),
	}
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return details
}

// SendMessageHandler handles POST /api/v1/messages. It stores the message,
// then hands it to the dispatcher to be queued.
func SendMessageHandler(store MessageStore, d Dispatcher, quota SendQuota) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.FromContext(ctx)

		client := auth.ClientFromContext(ctx)
		if client == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			respondValidationErrors(w, validationDetails(err))
			return
		}

		if req.MessageID == "" {
			req.MessageID = uuid.NewString()
		}
		if !message.ValidID(req.MessageID) {
			respondError(w, http.StatusBadRequest, "invalid message_id")
			return
		}

		if quota != nil {
			if err := quota.Reserve(ctx, client); err != nil {
				if errors.Is(err, auth.ErrQuotaExceeded) {
					respondError(w, http.StatusTooManyRequests, "monthly send limit exceeded")
					return
				}
				log.Error().Err(err).Str("client", client).Msg("failed to reserve send quota")
				respondError(w, http.StatusServiceUnavailable, "quota service unavailable")
				return
			}
		}
		release := func() {
			if quota == nil {
				return
			}
			if err := quota.Release(context.WithoutCancel(ctx), client); err != nil {
				log.Warn().Err(err).Str("client", client).Msg("failed to release send quota")
			}
		}

		if err := store.CreateMessage(ctx, client, req.MessageID, req.Email); err != nil {
			release()
			if errors.Is(err, storage.ErrDuplicate) {
				respondError(w, http.StatusConflict, "message_id already exists")
				return
			}
			log.Error().Err(err).Str("client", client).Str("message_id", req.MessageID).Msg("failed to store message")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		msg := &message.Message{Client: client, MessageID: req.MessageID, Email: req.Email}
		opts := dispatch.EnqueueOptions{
			Delay:    time.Duration(req.DelayMS) * time.Millisecond,
			Attempts: req.Attempts,
			Meta:     map[string]string{"correlation_id": logger.CorrelationIDFromContext(ctx)},
		}
		if err := d.Enqueue(ctx, client, msg, opts); err != nil {
			if errors.Is(err, dispatch.ErrClientMismatch) {
				log.Warn().Err(err).Str("client", client).Str("message_id", req.MessageID).Msg("message id held by another client")
				respondRefusal(w, http.StatusConflict, "message_id already in use", dispatch.KindClientMismatch)
				return
			}
			log.Error().Err(err).Str("client", client).Str("message_id", req.MessageID).Msg("failed to enqueue message")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		respondJSON(w, http.StatusAccepted, sendResponse{
			MessageID: req.MessageID,
			Status:    string(message.StatusEnqueued),
		})
	}
}

// GetMessageHandler handles GET /api/v1/messages/{id}.
func GetMessageHandler(store MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		client := auth.ClientFromContext(ctx)
		if client == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id := chi.URLParam(r, "id")
		if !message.ValidID(id) {
			respondError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		m, err := store.ReadMessage(ctx, client, id)
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "message not found")
			return
		}
		if err != nil {
			log := logger.ForMessage(logger.FromContext(ctx), client, id)
			log.Error().Err(err).Msg("failed to read message")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		respondJSON(w, http.StatusOK, toMessageResponse(m))
	}
}

// CancelMessageHandler handles DELETE /api/v1/messages/{id}. Only messages
// still waiting on their delay can be cancelled.
func CancelMessageHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		client := auth.ClientFromContext(ctx)
		if client == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id := chi.URLParam(r, "id")
		if !message.ValidID(id) {
			respondError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		removed, err := d.RemoveJob(ctx, client, id)
		switch {
		case err == nil && removed:
			respondJSON(w, http.StatusOK, map[string]any{"message_id": id, "removed": true})
		case err == nil:
			respondError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, dispatch.ErrClientMismatch):
			respondRefusal(w, http.StatusForbidden, "job belongs to another client", dispatch.KindClientMismatch)
		case errors.Is(err, dispatch.ErrUncancellable):
			respondRefusal(w, http.StatusConflict, "job can no longer be cancelled", dispatch.KindUncancellable)
		default:
			log := logger.FromContext(ctx)
			log.Error().Err(err).
				Str("client", client).
				Str("job_id", id).
				Str("kind", dispatch.KindOf(err).String()).
				Msg("failed to remove job")
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
	}
}
