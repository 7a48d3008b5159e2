package disclosegate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "disclosegate-sqlite-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := OpenSQLiteStore(filepath.Join(tmpDir, "gate.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.(*sqliteStore).Close() })
	return store
}

func TestSQLiteStore_ChainRoundTrip(t *testing.T) {
	store := openTestSQLite(t)
	trail, err := OpenTrail(store, TrailConfig{CheckpointEvery: 2})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_, err := trail.Append("researcher-1", "draft.created", map[string]any{"draft_id": "drf_1", "n": i})
		if err != nil {
			t.Fatalf("Append failed at %d: %v", i, err)
		}
	}

	// The persisted chain verifies after a round trip through SQLite
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(records))
	}
	if err := VerifyChain(records); err != nil {
		t.Fatalf("VerifyChain failed after round trip: %v", err)
	}

	cps, err := store.Checkpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Fatalf("Expected 2 checkpoints, got %d", len(cps))
	}

	tail, ok, err := store.TailRecord()
	if err != nil || !ok {
		t.Fatalf("TailRecord failed: ok=%v err=%v", ok, err)
	}
	if tail.Index != 5 || tail.Hash != records[4].Hash {
		t.Fatal("Tail does not match last appended record")
	}
}

func TestSQLiteStore_RejectsNonContiguousAppend(t *testing.T) {
	store := openTestSQLite(t)
	trail, err := OpenTrail(store, TrailConfig{})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := trail.Append("researcher-1", "draft.created", nil)
	if err != nil {
		t.Fatal(err)
	}

	// A gap in indexes is refused at the storage layer
	bad := rec
	bad.Index = rec.Index + 2
	bad.ID = "aud_gap"
	if err := store.AppendRecord(bad, nil); err == nil {
		t.Fatal("Expected non-contiguous append to fail")
	}
}

func TestSQLiteStore_StateOperations(t *testing.T) {
	store := openTestSQLite(t)
	now := time.Now().UTC()

	// Drafts with compare-and-set status
	d := Draft{
		DraftID: "drf_1", FindingID: "fnd-1", ProgramID: "prog-1",
		Content: "body", ContentHash: HashContent("body"),
		Fingerprint: "fp1", Status: StatusDraft, CreatedAt: now,
	}
	if err := store.PutDraft(d); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDraft("drf_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "body" || got.Status != StatusDraft || !got.CreatedAt.Equal(now) {
		t.Fatalf("Draft round trip mismatch: %+v", got)
	}
	if ok, err := store.SetDraftStatus("drf_1", StatusApproved, StatusSubmitting); err != nil || ok {
		t.Fatalf("CAS with wrong from must fail: ok=%v err=%v", ok, err)
	}
	if ok, err := store.SetDraftStatus("drf_1", StatusDraft, StatusPendingApproval); err != nil || !ok {
		t.Fatalf("CAS with correct from must succeed: ok=%v err=%v", ok, err)
	}

	// Approval requests settle exactly once
	req := ApprovalRequest{RequestID: "apr_1", DraftID: "drf_1", RequestedBy: "researcher-1", RequestedAt: now}
	if err := store.PutApprovalRequest(req); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.DecideApprovalRequest("apr_1", DecisionApprove, "lead-2", "ok"); err != nil || !ok {
		t.Fatalf("First decision must succeed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.DecideApprovalRequest("apr_1", DecisionReject, "lead-2", "no"); err != nil || ok {
		t.Fatalf("Second decision must fail: ok=%v err=%v", ok, err)
	}
	r, err := store.GetApprovalRequest("apr_1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != DecisionApprove || r.HumanID != "lead-2" || r.Pending() {
		t.Fatalf("Decision not persisted: %+v", r)
	}

	// Tokens consume exactly once
	tok := ApprovalToken{TokenID: "tok_1", DraftID: "drf_1", DraftHashAtIssue: "h", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.PutToken(tok); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.ConsumeToken("tok_1"); err != nil || !ok {
		t.Fatalf("First consume must succeed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.ConsumeToken("tok_1"); err != nil || ok {
		t.Fatalf("Second consume must fail: ok=%v err=%v", ok, err)
	}
	gt, err := store.GetToken("tok_1")
	if err != nil {
		t.Fatal(err)
	}
	if !gt.Used || !gt.ExpiresAt.Equal(tok.ExpiresAt) {
		t.Fatalf("Token round trip mismatch: %+v", gt)
	}

	// Submissions update and cancel
	q := QueuedSubmission{SubmissionID: "sub_1", DraftID: "drf_1", Platform: "hackerone", Status: SubmissionQueued, EnqueuedAt: now}
	if err := store.PutSubmission(q); err != nil {
		t.Fatal(err)
	}
	q.AttemptCount = 2
	q.NextRetryAt = now.Add(time.Minute)
	if err := store.UpdateSubmission(q); err != nil {
		t.Fatal(err)
	}
	gq, err := store.GetSubmission("sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if gq.AttemptCount != 2 || !gq.NextRetryAt.Equal(q.NextRetryAt) {
		t.Fatalf("Submission round trip mismatch: %+v", gq)
	}
	if ok, err := store.CancelSubmission("drf_1"); err != nil || !ok {
		t.Fatalf("Cancel must succeed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CancelSubmission("drf_1"); err != nil || ok {
		t.Fatalf("Second cancel must fail: ok=%v err=%v", ok, err)
	}

	// Fingerprint index preserves insertion order
	for _, id := range []string{"fnd-1", "fnd-2", "fnd-3"} {
		if err := store.AddFingerprint("fp1", id); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := store.FindingsByFingerprint("fp1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "fnd-1" || ids[2] != "fnd-3" {
		t.Fatalf("Unexpected fingerprint order: %v", ids)
	}
	empty, err := store.FindingsByFingerprint("fp-missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("Expected empty result, got %v", empty)
	}
}

func TestSQLiteStore_FullPipeline(t *testing.T) {
	store := openTestSQLite(t)
	trail, err := OpenTrail(store, TrailConfig{})
	if err != nil {
		t.Fatal(err)
	}
	det, err := NewDetector(store, 16)
	if err != nil {
		t.Fatal(err)
	}
	gate := NewGate(store, trail, det, GateConfig{TokenTTL: time.Hour})

	d, _, err := gate.CreateDraft(testResearcher, testFinding("fnd-1"), "prog-1", DraftContent{Text: "report"})
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := gate.RequestApproval(testResearcher, d.DraftID)
	if err != nil {
		t.Fatal(err)
	}
	token, err := gate.RecordDecision(reqID, testReviewer, DecisionApprove, "verified")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Enqueue(testResearcher, d.DraftID, token.TokenID, "hackerone"); err != nil {
		t.Fatal(err)
	}

	// The chain written through the whole pipeline verifies
	if err := trail.Verify(); err != nil {
		t.Fatalf("Chain verification failed: %v", err)
	}
}
