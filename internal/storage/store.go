package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/msgstore"
)

// Store is the dispatch data store: message records in Postgres, email
// bodies in a content store.
type Store struct {
	queries Querier
	content msgstore.ContentStore
	logger  zerolog.Logger
}

// NewStore creates a Store.
func NewStore(queries Querier, content msgstore.ContentStore, logger zerolog.Logger) *Store {
	return &Store{
		queries: queries,
		content: content,
		logger:  logger.With().Str("component", "store").Logger(),
	}
}

// CreateMessage inserts a record without a status and stores its body. A
// record is never left pointing at content that failed to store.
func (s *Store) CreateMessage(ctx context.Context, client, messageID string, email *message.Envelope) error {
	if email == nil {
		return fmt.Errorf("create message %s/%s: missing email", client, messageID)
	}
	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	if err := s.queries.InsertMessage(ctx, InsertMessageParams{Client: client, MessageID: messageID}); err != nil {
		return err
	}

	key := msgstore.ContentKey(client, messageID)
	if err := s.content.Put(ctx, key, body); err != nil {
		if delErr := s.queries.DeleteMessage(context.WithoutCancel(ctx), client, messageID); delErr != nil {
			s.logger.Error().Err(delErr).
				Str("client", client).
				Str("message_id", messageID).
				Msg("failed to roll back message record")
		}
		return fmt.Errorf("store content: %w", err)
	}

	if err := s.queries.SetHasContent(ctx, client, messageID, true); err != nil {
		if delErr := s.content.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Error().Err(delErr).
				Str("client", client).
				Str("message_id", messageID).
				Msg("failed to roll back message content")
		}
		return err
	}
	return nil
}

// UpdateStatus moves the record to status. It returns ErrNotFound when the
// record does not exist and ErrInvalidTransition when the current status does
// not permit the move.
func (s *Store) UpdateStatus(ctx context.Context, client, messageID string, status message.Status, description string) error {
	allowed := message.Predecessors(status)
	if allowed == nil {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	n, err := s.queries.UpdateMessageStatus(ctx, UpdateMessageStatusParams{
		Client:            client,
		MessageID:         messageID,
		Status:            string(status),
		StatusDescription: description,
		Allowed:           statusStrings(allowed),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return s.explainNoop(ctx, client, messageID, status)
	}
	return nil
}

// UpdateMessageSendResult records the transport result and COMPLETED together.
func (s *Store) UpdateMessageSendResult(ctx context.Context, client, messageID string, result message.SendResult) error {
	n, err := s.queries.SetSendResult(ctx, SetSendResultParams{
		Client:       client,
		MessageID:    messageID,
		SmtpMsgID:    result.SMTPMessageID,
		SmtpResponse: result.Response,
		Allowed:      statusStrings(message.Predecessors(message.StatusCompleted)),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return s.explainNoop(ctx, client, messageID, message.StatusCompleted)
	}
	return nil
}

// ReadMessage returns the record with its body attached when one is stored.
func (s *Store) ReadMessage(ctx context.Context, client, messageID string) (*message.Message, error) {
	row, err := s.queries.GetMessage(ctx, client, messageID)
	if err != nil {
		return nil, err
	}
	m := row.toMessage()
	if !row.HasContent {
		return m, nil
	}

	body, err := s.content.Get(ctx, msgstore.ContentKey(client, messageID))
	if errors.Is(err, msgstore.ErrNotFound) {
		s.logger.Warn().
			Str("client", client).
			Str("message_id", messageID).
			Msg("content flagged present but missing, treating as scrubbed")
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	var env message.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	m.Email = &env
	return m, nil
}

// DeleteMessageEmail scrubs the stored body. Scrubbing an already scrubbed or
// missing message is not an error.
func (s *Store) DeleteMessageEmail(ctx context.Context, client, messageID string) error {
	if err := s.content.Delete(ctx, msgstore.ContentKey(client, messageID)); err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return s.queries.SetHasContent(ctx, client, messageID, false)
}

func (s *Store) explainNoop(ctx context.Context, client, messageID string, to message.Status) error {
	row, err := s.queries.GetMessage(ctx, client, messageID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, message.Status(row.Status), to)
}
