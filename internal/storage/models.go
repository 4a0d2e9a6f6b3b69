package storage

import (
	"time"

	"github.com/sungwon/mail-dispatch/internal/message"
)

// MessageRow is one row of the messages table.
type MessageRow struct {
	Client            string
	MessageID         string
	Status            string
	StatusDescription string
	HasContent        bool
	SmtpMsgID         string
	SmtpResponse      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InsertMessageParams identifies a new message record.
type InsertMessageParams struct {
	Client    string
	MessageID string
}

// UpdateMessageStatusParams sets a status when the current status is one of
// Allowed.
type UpdateMessageStatusParams struct {
	Client            string
	MessageID         string
	Status            string
	StatusDescription string
	Allowed           []string
}

// SetSendResultParams records a successful delivery.
type SetSendResultParams struct {
	Client       string
	MessageID    string
	SmtpMsgID    string
	SmtpResponse string
	Allowed      []string
}

// toMessage converts the row to the domain type. The envelope is attached by
// the caller.
func (r MessageRow) toMessage() *message.Message {
	m := &message.Message{
		Client:            r.Client,
		MessageID:         r.MessageID,
		Status:            message.Status(r.Status),
		StatusDescription: r.StatusDescription,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if m.Status == message.StatusCompleted {
		m.SendResult = &message.SendResult{
			SMTPMessageID: r.SmtpMsgID,
			Response:      r.SmtpResponse,
		}
	}
	return m
}

func statusStrings(statuses []message.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
