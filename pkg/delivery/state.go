package delivery

// State is the delivery state of a request.
type State int

const (
	StatePending State = iota
	StateDelivered
	StateFailed
	StateRetracted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	case StateRetracted:
		return "retracted"
	default:
		return "unknown"
	}
}

// Receipt describes what happened to one request.
type Receipt struct {
	RequestID string
	State     State
	// ResponseID is the message posted (or edited) for the request.
	ResponseID string
	// SourceRemoved reports whether the triggering message was deleted.
	SourceRemoved bool
	// RetractionOffered reports whether the requester can retract the response.
	RetractionOffered bool
}
