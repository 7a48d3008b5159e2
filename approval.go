package disclosegate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision is a recorded human decision on a pending draft.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// ApprovalRequest parks a draft while a human decides. The gate does not
// block a worker waiting for the decision; the draft sits in
// PENDING_APPROVAL until RecordDecision is called.
type ApprovalRequest struct {
	RequestID   string
	DraftID     string
	Decision    Decision // empty while pending
	HumanID     string
	Rationale   string
	RequestedBy string
	RequestedAt time.Time
	DecidedAt   time.Time
}

// Pending reports whether the request still awaits a decision.
func (r ApprovalRequest) Pending() bool { return r.Decision == "" }

// ApprovalToken is the single-use credential binding a human decision to
// the exact content hash approved. Used flips true exactly once, atomically
// with the consuming enqueue. Expiry is checked lazily at use time.
type ApprovalToken struct {
	TokenID          string
	DraftID          string
	DraftHashAtIssue string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Used             bool
}

// GateConfig controls approval behavior.
type GateConfig struct {
	// TokenTTL bounds how long an issued token stays usable.
	TokenTTL time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Gate captures human decisions on drafts and issues approval tokens. It
// also owns draft creation, so every draft passes the duplicate index on
// the way in.
type Gate struct {
	store StateStore
	trail *Trail
	det   *Detector
	ttl   time.Duration
	now   func() time.Time
}

// NewGate wires the approval gate to its state store, audit trail, and
// duplicate detector.
func NewGate(store StateStore, trail *Trail, det *Detector, cfg GateConfig) *Gate {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Gate{store: store, trail: trail, det: det, ttl: cfg.TokenTTL, now: cfg.Clock}
}

// CreateDraft registers the finding's fingerprint, stores the draft in
// DRAFT, and audits the creation. A duplicate candidate, when present, is
// returned as a warning only; the second draft is produced regardless.
// The content hash from the report generator is trusted as authoritative
// for the hand-off; when absent it is computed here.
func (g *Gate) CreateDraft(actor Actor, f Finding, programID string, content DraftContent) (Draft, *DuplicateCandidate, error) {
	if err := actor.require(ActionDraft); err != nil {
		return Draft{}, nil, err
	}
	if strings.TrimSpace(content.Text) == "" {
		return Draft{}, nil, fmt.Errorf("%w: draft content is required", ErrValidation)
	}

	candidate, err := g.det.Check(f)
	if err != nil {
		return Draft{}, nil, err
	}
	fp, err := g.det.Register(f)
	if err != nil {
		return Draft{}, nil, err
	}

	hash := content.ContentHash
	if hash == "" {
		hash = HashContent(content.Text)
	}
	d := Draft{
		DraftID:     "drf_" + uuid.NewString(),
		FindingID:   f.FindingID,
		ProgramID:   programID,
		Content:     content.Text,
		ContentHash: hash,
		Fingerprint: fp,
		Status:      StatusDraft,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.store.PutDraft(d); err != nil {
		return Draft{}, nil, fmt.Errorf("store draft: %w", err)
	}

	payload := map[string]any{
		"draft_id":     d.DraftID,
		"finding_id":   d.FindingID,
		"program_id":   d.ProgramID,
		"content_hash": d.ContentHash,
		"fingerprint":  fp,
	}
	if candidate != nil {
		payload["duplicate_of"] = candidate.PriorFindingIDs
	}
	if _, err := g.trail.Append(actor.ID, "draft.created", payload); err != nil {
		return Draft{}, nil, err
	}
	return d, candidate, nil
}

// RequestApproval parks the draft in PENDING_APPROVAL and returns the
// request id the human decision must reference. Blocked drafts re-enter
// review here after their stale token was invalidated.
func (g *Gate) RequestApproval(actor Actor, draftID string) (string, error) {
	if err := actor.require(ActionRequestReview); err != nil {
		return "", err
	}
	d, err := g.store.GetDraft(draftID)
	if err != nil {
		return "", fmt.Errorf("%w: unknown draft %s", ErrValidation, draftID)
	}

	if err := transitionDraft(g.store, g.trail, actor.ID, draftID, d.Status, StatusPendingApproval, nil); err != nil {
		return "", err
	}

	req := ApprovalRequest{
		RequestID:   "apr_" + uuid.NewString(),
		DraftID:     draftID,
		RequestedBy: actor.ID,
		RequestedAt: g.now().UTC(),
	}
	if err := g.store.PutApprovalRequest(req); err != nil {
		return "", fmt.Errorf("store approval request: %w", err)
	}
	_, err = g.trail.Append(actor.ID, "approval.requested", map[string]any{
		"request_id": req.RequestID,
		"draft_id":   draftID,
	})
	if err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// RecordDecision settles a pending approval request.
//
// APPROVE hashes the draft content at this instant, issues a single-use
// token bound to that hash, moves the draft to APPROVED, and audits the
// binding of token, human, rationale, and hash. REJECT moves the draft to
// REJECTED and cancels any queued submission; no token is issued. The
// rationale is mandatory either way.
func (g *Gate) RecordDecision(requestID string, human Actor, decision Decision, rationale string) (*ApprovalToken, error) {
	if err := human.require(ActionDecide); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rationale) == "" {
		return nil, fmt.Errorf("%w: rationale is required", ErrValidation)
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}

	req, err := g.store.GetApprovalRequest(requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown approval request %s", ErrValidation, requestID)
	}
	d, err := g.store.GetDraft(req.DraftID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown draft %s", ErrValidation, req.DraftID)
	}

	ok, err := g.store.DecideApprovalRequest(requestID, decision, human.ID, rationale)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: approval request %s already decided", ErrValidation, requestID)
	}

	if decision == DecisionReject {
		if err := transitionDraft(g.store, g.trail, human.ID, d.DraftID, StatusPendingApproval, StatusRejected, map[string]any{
			"request_id": requestID,
			"rationale":  rationale,
		}); err != nil {
			return nil, err
		}
		if _, err := g.store.CancelSubmission(d.DraftID); err != nil {
			return nil, err
		}
		_, err = g.trail.Append(human.ID, "approval.rejected", map[string]any{
			"request_id": requestID,
			"draft_id":   d.DraftID,
			"rationale":  rationale,
		})
		return nil, err
	}

	now := g.now().UTC()
	// Bind the token to the content as it exists right now, not the hash
	// recorded at drafting. Any later content change fails the enqueue
	// comparison even if reverted bit-for-bit afterwards.
	h := HashContent(d.Content)
	token := ApprovalToken{
		TokenID:          "tok_" + uuid.NewString(),
		DraftID:          d.DraftID,
		DraftHashAtIssue: h,
		IssuedAt:         now,
		ExpiresAt:        now.Add(g.ttl),
	}
	if err := g.store.PutToken(token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	if err := transitionDraft(g.store, g.trail, human.ID, d.DraftID, StatusPendingApproval, StatusApproved, map[string]any{
		"request_id": requestID,
	}); err != nil {
		return nil, err
	}
	_, err = g.trail.Append(human.ID, "approval.granted", map[string]any{
		"request_id":          requestID,
		"draft_id":            d.DraftID,
		"token_id":            token.TokenID,
		"human_id":            human.ID,
		"rationale":           rationale,
		"draft_hash_at_issue": h,
		"expires_at":          token.ExpiresAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}
