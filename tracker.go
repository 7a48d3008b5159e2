package disclosegate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Evidence carries the external proof accompanying a status update: a
// platform callback payload with its HMAC signature, or the digest of a
// receipt the executor recorded at delivery. At least one must verify.
type Evidence struct {
	Payload       []byte
	Signature     string
	ReceiptDigest string
}

// Tracker records externally confirmed status updates against submissions.
// It never infers: no timers, no absence-of-response heuristics. An update
// without verifiable evidence is rejected and prior state is untouched.
type Tracker struct {
	store   StateStore
	trail   *Trail
	secrets map[string]string // platform -> callback HMAC secret
}

// NewTracker wires the tracker to the state store and audit trail. secrets
// maps platform names to their callback signing secrets.
func NewTracker(store StateStore, trail *Trail, secrets map[string]string) *Tracker {
	return &Tracker{store: store, trail: trail, secrets: secrets}
}

// RecordConfirmedUpdate accepts an external status for a submission when
// the evidence checks out, and audits the acceptance. Unconfirmed or
// ambiguous updates fail with ErrValidation.
func (t *Tracker) RecordConfirmedUpdate(actor Actor, submissionID, externalStatus string, ev Evidence) error {
	if err := actor.require(ActionConfirmStatus); err != nil {
		return err
	}
	if strings.TrimSpace(externalStatus) == "" {
		return fmt.Errorf("%w: external status is required", ErrValidation)
	}
	sub, err := t.store.GetSubmission(submissionID)
	if err != nil {
		return fmt.Errorf("%w: unknown submission %s", ErrValidation, submissionID)
	}
	if err := t.verify(sub, ev); err != nil {
		return err
	}

	payload := map[string]any{
		"submission_id":   submissionID,
		"draft_id":        sub.DraftID,
		"external_status": externalStatus,
	}
	if len(ev.Payload) > 0 {
		sum := sha256.Sum256(ev.Payload)
		payload["evidence_digest"] = hex.EncodeToString(sum[:])
	}
	if ev.ReceiptDigest != "" {
		payload["receipt_digest"] = ev.ReceiptDigest
	}
	_, err = t.trail.Append(actor.ID, "status.confirmed", payload)
	return err
}

// verify accepts either a signed callback payload or a receipt digest that
// matches the one audited at delivery.
func (t *Tracker) verify(sub QueuedSubmission, ev Evidence) error {
	if ev.Signature != "" && len(ev.Payload) > 0 {
		secret, ok := t.secrets[sub.Platform]
		if !ok || secret == "" {
			return fmt.Errorf("%w: no callback secret for platform %q", ErrValidation, sub.Platform)
		}
		if !verifyCallbackSignature(secret, ev.Payload, ev.Signature) {
			return fmt.Errorf("%w: callback signature mismatch", ErrValidation)
		}
		return nil
	}
	if ev.ReceiptDigest != "" {
		if sub.ReceiptDigest == "" || ev.ReceiptDigest != sub.ReceiptDigest {
			return fmt.Errorf("%w: receipt digest does not match delivery record", ErrValidation)
		}
		return nil
	}
	return fmt.Errorf("%w: status update carries no verifiable evidence", ErrValidation)
}

// SignCallback computes the signature header value a platform attaches to
// its callback body.
func SignCallback(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func verifyCallbackSignature(secret string, body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Status projects a submission's current state by folding its audit events
// in chain order. The projection is computed on read and never stored, so
// the chain stays the single source of truth.
func (t *Tracker) Status(submissionID string) (string, error) {
	records, err := t.trail.Records(1)
	if err != nil {
		return "", err
	}
	status := ""
	for _, r := range records {
		if r.Payload == nil || r.Payload["submission_id"] != submissionID {
			continue
		}
		switch r.Action {
		case "submission.enqueued":
			status = string(SubmissionQueued)
		case "submission.retry_scheduled":
			status = "RETRY_SCHEDULED"
		case "submission.submitted":
			status = string(SubmissionSubmitted)
		case "submission.failed":
			status = string(SubmissionFailed)
		case "submission.canceled":
			status = string(SubmissionCanceled)
		case "status.confirmed":
			if s, ok := r.Payload["external_status"].(string); ok {
				status = s
			}
		}
	}
	if status == "" {
		return "", fmt.Errorf("%w: no events for submission %s", ErrValidation, submissionID)
	}
	return status, nil
}
