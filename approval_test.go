package disclosegate

import (
	"errors"
	"testing"
	"time"
)

// newTestGate wires a gate over in-memory storage with a controllable
// clock. now may be nil for real time.
func newTestGate(t *testing.T, now func() time.Time) (Store, *Trail, *Gate) {
	t.Helper()
	store := OpenMemoryStore()
	trail, err := OpenTrail(store, TrailConfig{Clock: now})
	if err != nil {
		t.Fatalf("OpenTrail failed: %v", err)
	}
	det, err := NewDetector(store, 16)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return store, trail, NewGate(store, trail, det, GateConfig{TokenTTL: time.Hour, Clock: now})
}

var (
	testResearcher = NewActor("researcher-1", ActionDraft, ActionRequestReview, ActionEnqueue, ActionRevoke)
	testReviewer   = NewActor("lead-2", ActionDecide)
)

func testFinding(id string) Finding {
	return Finding{
		FindingID:          id,
		Target:             "https://api.example.com",
		VulnerabilityClass: "IDOR",
		Endpoint:           "/v2/users/{id}",
	}
}

func TestGate_CreateDraft(t *testing.T) {
	_, trail, gate := newTestGate(t, nil)

	d, dup, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "report body"})
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	if dup != nil {
		t.Fatalf("Unexpected duplicate candidate on first draft: %v", dup)
	}
	if d.Status != StatusDraft {
		t.Fatalf("Expected DRAFT status, got %s", d.Status)
	}
	if d.ContentHash != HashContent("report body") {
		t.Fatalf("Content hash not computed from text")
	}
	if d.Fingerprint == "" {
		t.Fatal("Expected fingerprint to be registered")
	}

	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Action != "draft.created" {
		t.Fatalf("Expected draft.created audit record, got %v", records)
	}
	if records[0].Actor != testResearcher.ID {
		t.Fatalf("Expected actor %s, got %s", testResearcher.ID, records[0].Actor)
	}
}

func TestGate_CreateDraft_RequiresCapability(t *testing.T) {
	_, _, gate := newTestGate(t, nil)
	nobody := NewActor("intern-9")
	_, _, err := gate.CreateDraft(nobody, testFinding("fnd-1"), "prog-1", DraftContent{Text: "x"})
	if !errors.Is(err, ErrForbiddenAction) {
		t.Fatalf("Expected ErrForbiddenAction, got: %v", err)
	}
}

func TestGate_CreateDraft_EmptyContent(t *testing.T) {
	_, _, gate := newTestGate(t, nil)
	_, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got: %v", err)
	}
}

func TestGate_DuplicateWarningDoesNotBlock(t *testing.T) {
	_, _, gate := newTestGate(t, nil)

	first, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "first"})
	if err != nil {
		t.Fatal(err)
	}

	// Same normalized fingerprint, different finding id
	f2 := testFinding("fnd-2")
	f2.Target = "API.example.com/"
	f2.Endpoint = "v2/users/{id}?debug=1"
	second, dup, err := gate.CreateDraft(testResearcher, f2, "prog-1", DraftContent{Text: "second"})
	if err != nil {
		t.Fatalf("Duplicate must not block drafting: %v", err)
	}
	if dup == nil {
		t.Fatal("Expected duplicate candidate")
	}
	if len(dup.PriorFindingIDs) != 1 || dup.PriorFindingIDs[0] != "fnd-1" {
		t.Fatalf("Expected prior finding fnd-1, got %v", dup.PriorFindingIDs)
	}
	if second.DraftID == first.DraftID {
		t.Fatal("Expected distinct drafts")
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatal("Expected matching fingerprints")
	}
}

func TestGate_ApproveIssuesToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, trail, gate := newTestGate(t, func() time.Time { return now })

	d, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "report body"})
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := gate.RequestApproval(testResearcher, d.DraftID)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}

	token, err := gate.RecordDecision(reqID, testReviewer, DecisionApprove, "Reproduced on staging")
	if err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	if token == nil {
		t.Fatal("Expected a token on approval")
	}
	if token.DraftID != d.DraftID {
		t.Fatalf("Token bound to wrong draft: %s", token.DraftID)
	}
	if token.DraftHashAtIssue != HashContent("report body") {
		t.Fatal("Token not bound to content hash at decision instant")
	}
	if token.Used {
		t.Fatal("Fresh token must be unused")
	}
	if !token.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("Unexpected expiry: %v", token.ExpiresAt)
	}

	// The audit trail binds token, human, and rationale
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}
	last := records[len(records)-1]
	if last.Action != "approval.granted" {
		t.Fatalf("Expected approval.granted, got %s", last.Action)
	}
	p := last.Payload
	if p["token_id"] != token.TokenID || p["human_id"] != "lead-2" || p["rationale"] != "Reproduced on staging" {
		t.Fatalf("Approval audit payload incomplete: %v", p)
	}
	if p["draft_hash_at_issue"] != token.DraftHashAtIssue {
		t.Fatal("Approval audit missing bound hash")
	}
}

func TestGate_DecisionRequiresRationale(t *testing.T) {
	_, _, gate := newTestGate(t, nil)
	d, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := gate.RequestApproval(testResearcher, d.DraftID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := gate.RecordDecision(reqID, testReviewer, DecisionApprove, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for empty rationale, got: %v", err)
	}
	if _, err := gate.RecordDecision(reqID, testReviewer, DecisionReject, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for empty rationale, got: %v", err)
	}
}

func TestGate_DecisionRequiresCapability(t *testing.T) {
	_, _, gate := newTestGate(t, nil)
	d, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := gate.RequestApproval(testResearcher, d.DraftID)
	if err != nil {
		t.Fatal(err)
	}

	// The drafting researcher does not hold the decide capability
	_, err = gate.RecordDecision(reqID, testResearcher, DecisionApprove, "self approval")
	if !errors.Is(err, ErrForbiddenAction) {
		t.Fatalf("Expected ErrForbiddenAction, got: %v", err)
	}
}

func TestGate_RejectIsTerminal(t *testing.T) {
	store, trail, gate := newTestGate(t, nil)
	d, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := gate.RequestApproval(testResearcher, d.DraftID)
	if err != nil {
		t.Fatal(err)
	}

	token, err := gate.RecordDecision(reqID, testReviewer, DecisionReject, "Out of scope for this program")
	if err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	if token != nil {
		t.Fatal("No token may be issued on rejection")
	}

	fresh, err := store.GetDraft(d.DraftID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != StatusRejected {
		t.Fatalf("Expected REJECTED, got %s", fresh.Status)
	}

	// REJECTED is terminal: a new review request is not accepted
	if _, err := gate.RequestApproval(testResearcher, d.DraftID); err == nil {
		t.Fatal("Expected rejected draft to refuse re-review")
	}

	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}
	last := records[len(records)-1]
	if last.Action != "approval.rejected" {
		t.Fatalf("Expected approval.rejected, got %s", last.Action)
	}
}

func TestGate_DecisionSingleUse(t *testing.T) {
	_, _, gate := newTestGate(t, nil)
	d, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := gate.RequestApproval(testResearcher, d.DraftID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.RecordDecision(reqID, testReviewer, DecisionApprove, "ok"); err != nil {
		t.Fatal(err)
	}

	// The same request cannot be decided twice
	_, err = gate.RecordDecision(reqID, testReviewer, DecisionReject, "changed my mind")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation on second decision, got: %v", err)
	}
}
