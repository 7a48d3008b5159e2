package disclosegate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus is a queued submission's delivery state.
type SubmissionStatus string

const (
	SubmissionQueued    SubmissionStatus = "QUEUED"
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionFailed    SubmissionStatus = "FAILED"
	SubmissionCanceled  SubmissionStatus = "CANCELED"
)

// Terminal reports whether the submission left the queue for good.
func (s SubmissionStatus) Terminal() bool { return s != SubmissionQueued }

// QueuedSubmission is owned by the retry executor for the duration of
// delivery. AttemptCount counts retries already consumed; retries of the
// same submission are strictly sequential.
type QueuedSubmission struct {
	SubmissionID  string
	DraftID       string
	Platform      string
	AttemptCount  int
	NextRetryAt   time.Time
	Status        SubmissionStatus
	ReceiptDigest string
	EnqueuedAt    time.Time
}

// Enqueue consumes an approval token and queues the draft for delivery.
//
// The token must reference the draft, be unused and unexpired, and its
// bound hash must equal the hash of the content as it exists right now. A
// mismatch blocks the draft (re-approval from scratch) and the stale token
// is consumed so it can never be replayed against reverted content.
func (g *Gate) Enqueue(actor Actor, draftID, tokenID, platform string) (QueuedSubmission, error) {
	if err := actor.require(ActionEnqueue); err != nil {
		return QueuedSubmission{}, err
	}

	token, err := g.store.GetToken(tokenID)
	if err != nil {
		return QueuedSubmission{}, fmt.Errorf("%w: unknown token %s", ErrValidation, tokenID)
	}
	if token.DraftID != draftID {
		return QueuedSubmission{}, fmt.Errorf("%w: token %s is not bound to draft %s", ErrValidation, tokenID, draftID)
	}
	if token.Used {
		return QueuedSubmission{}, fmt.Errorf("%w: token %s", ErrTokenUsed, tokenID)
	}
	now := g.now().UTC()
	if !now.Before(token.ExpiresAt) {
		return QueuedSubmission{}, fmt.Errorf("%w: token %s expired at %s", ErrTokenExpired, tokenID, token.ExpiresAt.Format(time.RFC3339))
	}

	d, err := g.store.GetDraft(draftID)
	if err != nil {
		return QueuedSubmission{}, fmt.Errorf("%w: unknown draft %s", ErrValidation, draftID)
	}

	if HashContent(d.Content) != token.DraftHashAtIssue {
		// Burn the token first: it must never survive to re-match content
		// that is later reverted to the approved bytes.
		if _, err := g.store.ConsumeToken(tokenID); err != nil {
			return QueuedSubmission{}, err
		}
		if err := transitionDraft(g.store, g.trail, actor.ID, draftID, d.Status, StatusBlocked, map[string]any{
			"token_id": tokenID,
			"reason":   "content hash mismatch at enqueue",
		}); err != nil {
			return QueuedSubmission{}, err
		}
		return QueuedSubmission{}, fmt.Errorf("%w: draft %s", ErrTamperedDraft, draftID)
	}

	ok, err := g.store.ConsumeToken(tokenID)
	if err != nil {
		return QueuedSubmission{}, err
	}
	if !ok {
		return QueuedSubmission{}, fmt.Errorf("%w: token %s", ErrTokenUsed, tokenID)
	}

	q := QueuedSubmission{
		SubmissionID: "sub_" + uuid.NewString(),
		DraftID:      draftID,
		Platform:     platform,
		Status:       SubmissionQueued,
		EnqueuedAt:   now,
	}
	if err := g.store.PutSubmission(q); err != nil {
		return QueuedSubmission{}, fmt.Errorf("store submission: %w", err)
	}

	if err := transitionDraft(g.store, g.trail, actor.ID, draftID, d.Status, StatusSubmitting, map[string]any{
		"submission_id": q.SubmissionID,
	}); err != nil {
		return QueuedSubmission{}, err
	}
	_, err = g.trail.Append(actor.ID, "submission.enqueued", map[string]any{
		"submission_id": q.SubmissionID,
		"draft_id":      draftID,
		"platform":      platform,
		"token_id":      tokenID,
	})
	if err != nil {
		return QueuedSubmission{}, err
	}
	return q, nil
}

// Revoke cancels any pending scheduled delivery for the draft's
// submission. The executor observes the cancellation lazily, immediately
// before its next attempt would fire; no active sweep exists.
func (g *Gate) Revoke(actor Actor, draftID, reason string) error {
	if err := actor.require(ActionRevoke); err != nil {
		return err
	}
	ok, err := g.store.CancelSubmission(draftID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no pending submission for draft %s", ErrValidation, draftID)
	}
	_, err = g.trail.Append(actor.ID, "submission.revoked", map[string]any{
		"draft_id": draftID,
		"reason":   reason,
	})
	return err
}
