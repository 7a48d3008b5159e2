package disclosegate

import "time"

// Status is a draft's position in the submission lifecycle.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusSubmitting      Status = "SUBMITTING"
	StatusSubmitted       Status = "SUBMITTED"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"
	StatusBlocked         Status = "BLOCKED"
)

// transitions is the closed lifecycle table. Anything not listed is
// rejected with a TransitionError; no transition skips or reverses.
//
//	DRAFT -> PENDING_APPROVAL -> APPROVED -> SUBMITTING -> SUBMITTED
//	PENDING_APPROVAL -> REJECTED
//	APPROVED -> BLOCKED -> PENDING_APPROVAL   (tampered content, re-approve)
//	SUBMITTING -> FAILED
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusSubmitting, StatusBlocked},
	StatusBlocked:         {StatusPendingApproval},
	StatusSubmitting:      {StatusSubmitted, StatusFailed},
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends the lifecycle. Terminal drafts are
// retained for audit, never purged.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusRejected || s == StatusFailed
}

// DraftContent is the hand-off from the external report generator. The
// content hash is trusted as authoritative for the text at hand-off time.
type DraftContent struct {
	Text        string
	ContentHash string
}

// Draft is an immutable-once-approved submission draft. Content never
// mutates after the status leaves DRAFT; a post-approval edit is detected
// at enqueue and blocks the draft.
type Draft struct {
	DraftID     string
	FindingID   string
	ProgramID   string
	Content     string
	ContentHash string
	Fingerprint string
	Status      Status
	CreatedAt   time.Time
}

// transitionDraft moves a draft through the table with a store-level
// compare-and-set, and writes the audit entry for the change. The CAS
// guards against concurrent movers: losing the race surfaces as a
// TransitionError against the fresh status.
func transitionDraft(store StateStore, trail *Trail, actor string, draftID string, from, to Status, payload map[string]any) error {
	if !CanTransition(from, to) {
		return &TransitionError{DraftID: draftID, From: from, To: to}
	}
	ok, err := store.SetDraftStatus(draftID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		fresh, err := store.GetDraft(draftID)
		if err != nil {
			return err
		}
		return &TransitionError{DraftID: draftID, From: fresh.Status, To: to}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["draft_id"] = draftID
	payload["from"] = string(from)
	payload["to"] = string(to)
	_, err = trail.Append(actor, "draft.status_changed", payload)
	return err
}
