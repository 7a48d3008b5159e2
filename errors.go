package disclosegate

import "errors"

// Hard-stop errors halt the affected operation and escalate to a human.
// Everything else is surfaced to the caller without corrupting state.
var (
	// ErrTamperedDraft means draft content changed after approval. The
	// draft is blocked and must be re-approved from scratch; the stale
	// token is never reusable.
	ErrTamperedDraft = errors.New("draft content changed after approval")

	// ErrForbiddenAction means the acting principal does not hold the
	// capability for the attempted operation.
	ErrForbiddenAction = errors.New("actor lacks capability for action")

	// ErrApprovalRequired means the operation needs a human decision that
	// has not been recorded yet.
	ErrApprovalRequired = errors.New("human approval required")

	// ErrTokenExpired means the approval token's TTL elapsed before use.
	// Expiry is checked lazily at the point of use, never by a sweeper.
	ErrTokenExpired = errors.New("approval token expired")

	// ErrTokenUsed means the single-use approval token was already
	// consumed.
	ErrTokenUsed = errors.New("approval token already used")

	// ErrValidation covers malformed or unverifiable input: empty
	// rationale, unknown ids, status updates without confirmable evidence.
	ErrValidation = errors.New("validation failed")

	// ErrSubmissionFailed means delivery retries were exhausted or the
	// platform rejected the submission permanently.
	ErrSubmissionFailed = errors.New("submission failed")
)

// TransitionError reports an attempted draft status transition outside the
// closed transition table.
type TransitionError struct {
	DraftID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return "invalid status transition " + string(e.From) + " -> " + string(e.To) + " for draft " + e.DraftID
}

// FailureKind classifies platform delivery errors.
type FailureKind string

const (
	// FailureTransient is retryable: network errors, 5xx, rate limits.
	FailureTransient FailureKind = "transient"
	// FailurePermanent is not retryable: 4xx validation, schema rejection.
	FailurePermanent FailureKind = "permanent"
)

// PlatformError is a typed delivery failure from a platform adapter.
// Transient errors drive the retry policy; permanent errors terminate the
// submission immediately.
type PlatformError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return "platform error (" + string(e.Kind) + "): " + e.Message
}

// Transient reports whether the error should be retried.
func (e *PlatformError) Transient() bool { return e.Kind == FailureTransient }
