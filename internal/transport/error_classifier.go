package transport

import (
	"errors"
	"fmt"

	"github.com/emersion/go-smtp"
)

// Error wraps a mail server error with classification metadata.
type Error struct {
	// Transport is the name of the transport that returned the error.
	Transport string
	// Code is the SMTP reply code, or zero for connection-level failures.
	Code int
	// Message is the server's error text.
	Message string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool

	err error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %d %s", e.Transport, e.Code, e.Message)
	}
	return e.Transport + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.err }

// IsPermanent returns true if the error is a permanent failure that should
// not be retried.
func IsPermanent(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// IsTransient returns true if the error is a temporary failure that may
// succeed on retry.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return !te.Permanent
	}
	// Unknown errors are treated as transient to avoid data loss.
	return true
}

// ClassifySMTPError creates an Error from a failed SMTP step. 5xx replies are
// permanent; 4xx replies and connection failures are transient.
func ClassifySMTPError(transportName, step string, err error) *Error {
	if err == nil {
		return nil
	}

	te := &Error{
		Transport: transportName,
		Message:   step + ": " + err.Error(),
		err:       err,
	}

	var se *smtp.SMTPError
	if errors.As(err, &se) {
		te.Code = se.Code
		te.Message = step + ": " + se.Message
		te.Permanent = se.Code >= 500 && se.Code < 600
	}
	return te
}
