package domain

import "errors"

// Outcome classifies the result of a render attempt.
type Outcome int

const (
	// OutcomeImage means the backend produced an image.
	OutcomeImage Outcome = iota
	// OutcomeRenderingFailed means the backend rejected the document and sent a log.
	OutcomeRenderingFailed
	// OutcomeTimeout means the backend was too slow.
	OutcomeTimeout
	// OutcomeTransportFault covers every connection-level failure.
	OutcomeTransportFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeImage:
		return "image"
	case OutcomeRenderingFailed:
		return "rendering_failed"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "transport_fault"
	}
}

// Classify maps the error returned by a protocol client onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeImage
	}
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return OutcomeRenderingFailed
	}
	if errors.Is(err, ErrTimeout) {
		return OutcomeTimeout
	}
	return OutcomeTransportFault
}
