package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sungwon/mail-dispatch/internal/metrics"
)

// Querier is the set of message statements used by Store.
type Querier interface {
	InsertMessage(ctx context.Context, arg InsertMessageParams) error
	DeleteMessage(ctx context.Context, client, messageID string) error
	SetHasContent(ctx context.Context, client, messageID string, hasContent bool) error
	UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusParams) (int64, error)
	SetSendResult(ctx context.Context, arg SetSendResultParams) (int64, error)
	GetMessage(ctx context.Context, client, messageID string) (MessageRow, error)
}

var _ Querier = (*Queries)(nil)

func observe(query string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues(query).Inc()
	}
}

const insertMessage = `-- name: InsertMessage :exec
INSERT INTO messages (client, message_id)
VALUES ($1, $2)
`

func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) (err error) {
	start := time.Now()
	defer func() { observe("insert_message", start, err) }()
	_, err = q.db.Exec(ctx, insertMessage, arg.Client, arg.MessageID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const deleteMessage = `-- name: DeleteMessage :exec
DELETE FROM messages WHERE client = $1 AND message_id = $2
`

func (q *Queries) DeleteMessage(ctx context.Context, client, messageID string) (err error) {
	start := time.Now()
	defer func() { observe("delete_message", start, err) }()
	if _, err = q.db.Exec(ctx, deleteMessage, client, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

const setHasContent = `-- name: SetHasContent :exec
UPDATE messages SET has_content = $3, updated_at = now()
WHERE client = $1 AND message_id = $2
`

func (q *Queries) SetHasContent(ctx context.Context, client, messageID string, hasContent bool) (err error) {
	start := time.Now()
	defer func() { observe("set_has_content", start, err) }()
	if _, err = q.db.Exec(ctx, setHasContent, client, messageID, hasContent); err != nil {
		return fmt.Errorf("set has_content: %w", err)
	}
	return nil
}

const updateMessageStatus = `-- name: UpdateMessageStatus :execrows
UPDATE messages
SET status = $3, status_description = NULLIF($4, ''), updated_at = now()
WHERE client = $1 AND message_id = $2 AND status = ANY($5::text[])
`

// UpdateMessageStatus returns the number of rows changed; zero means the
// record is missing or its status is not in Allowed.
func (q *Queries) UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusParams) (n int64, err error) {
	start := time.Now()
	defer func() { observe("update_message_status", start, err) }()
	tag, err := q.db.Exec(ctx, updateMessageStatus,
		arg.Client, arg.MessageID, arg.Status, arg.StatusDescription, arg.Allowed)
	if err != nil {
		return 0, fmt.Errorf("update message status: %w", err)
	}
	return tag.RowsAffected(), nil
}

const setSendResult = `-- name: SetSendResult :execrows
UPDATE messages
SET status = 'COMPLETED', status_description = NULL,
    smtp_msg_id = $3, smtp_response = $4, updated_at = now()
WHERE client = $1 AND message_id = $2 AND status = ANY($5::text[])
`

// SetSendResult writes the send result and COMPLETED in one statement.
func (q *Queries) SetSendResult(ctx context.Context, arg SetSendResultParams) (n int64, err error) {
	start := time.Now()
	defer func() { observe("set_send_result", start, err) }()
	tag, err := q.db.Exec(ctx, setSendResult,
		arg.Client, arg.MessageID, arg.SmtpMsgID, arg.SmtpResponse, arg.Allowed)
	if err != nil {
		return 0, fmt.Errorf("set send result: %w", err)
	}
	return tag.RowsAffected(), nil
}

const getMessage = `-- name: GetMessage :one
SELECT client, message_id, status, COALESCE(status_description, ''), has_content,
       COALESCE(smtp_msg_id, ''), COALESCE(smtp_response, ''), created_at, updated_at
FROM messages
WHERE client = $1 AND message_id = $2
`

func (q *Queries) GetMessage(ctx context.Context, client, messageID string) (row MessageRow, err error) {
	start := time.Now()
	defer func() { observe("get_message", start, err) }()
	err = q.db.QueryRow(ctx, getMessage, client, messageID).Scan(
		&row.Client,
		&row.MessageID,
		&row.Status,
		&row.StatusDescription,
		&row.HasContent,
		&row.SmtpMsgID,
		&row.SmtpResponse,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return MessageRow{}, ErrNotFound
	}
	if err != nil {
		return MessageRow{}, fmt.Errorf("get message: %w", err)
	}
	return row, nil
}
