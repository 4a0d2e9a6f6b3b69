package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a cancellation failure so callers can map each case to a
// distinct outcome.
type Kind int

const (
	KindUnknown Kind = iota
	// KindClientMismatch means the caller does not own the job.
	KindClientMismatch
	// KindDataIntegrity means the job's payload disagrees with its id.
	KindDataIntegrity
	// KindUncancellable means the job has left the delayed state.
	KindUncancellable
)

func (k Kind) String() string {
	switch k {
	case KindClientMismatch:
		return "client_mismatch"
	case KindDataIntegrity:
		return "data_integrity"
	case KindUncancellable:
		return "uncancellable"
	default:
		return "unknown"
	}
}

// Error is returned by RemoveJob for each refused cancellation, and by
// Enqueue when another client's live job holds the message id.
type Error struct {
	Kind   Kind
	JobID  string
	Client string
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch: %s: job %s", e.Kind, e.JobID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrUncancellable)
// works regardless of job id.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrClientMismatch = &Error{Kind: KindClientMismatch}
	ErrDataIntegrity  = &Error{Kind: KindDataIntegrity}
	ErrUncancellable  = &Error{Kind: KindUncancellable}
)

// ErrInvalidMessage is returned by Enqueue for a missing client, id or email.
var ErrInvalidMessage = errors.New("dispatch: invalid message")

// KindOf returns the kind of the *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
