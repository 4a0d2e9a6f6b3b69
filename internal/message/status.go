package message

// Status is the lifecycle status of a dispatched message.
type Status string

const (
	// StatusNone marks a record written by the producer that has not been
	// enqueued yet.
	StatusNone       Status = ""
	StatusEnqueued   Status = "ENQUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRemoved    Status = "REMOVED"
)

// transitions lists, for each target status, the statuses it may be entered
// from. Terminal statuses appear on the right-hand side only. A PROCESSING
// record can be REMOVED because a job waiting out its retry backoff is
// delayed again and therefore cancellable.
var transitions = map[Status][]Status{
	StatusEnqueued:   {StatusNone, StatusEnqueued},
	StatusProcessing: {StatusEnqueued, StatusProcessing},
	StatusCompleted:  {StatusEnqueued, StatusProcessing},
	StatusFailed:     {StatusEnqueued, StatusProcessing},
	StatusRemoved:    {StatusEnqueued, StatusProcessing},
}

// Valid reports whether s is one of the known statuses (StatusNone excluded).
func (s Status) Valid() bool {
	switch s {
	case StatusEnqueued, StatusProcessing, StatusCompleted, StatusFailed, StatusRemoved:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRemoved
}

func (s Status) String() string {
	if s == StatusNone {
		return "NONE"
	}
	return string(s)
}

// Predecessors returns the statuses a record must currently hold for a
// transition into to to be legal. It returns nil for an unknown target.
func Predecessors(to Status) []Status {
	from, ok := transitions[to]
	if !ok {
		return nil
	}
	out := make([]Status, len(from))
	copy(out, from)
	return out
}

// CanTransition reports whether a record in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}
