package disclosegate

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// buildChain appends n records and returns the trail with its store.
func buildChain(t *testing.T, n int) (*Trail, Store) {
	t.Helper()
	store := OpenMemoryStore()
	trail, err := OpenTrail(store, TrailConfig{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if _, err := trail.Append("researcher-1", "draft.created", map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	return trail, store
}

func TestArchive_VerifySegmentAdvancesTip(t *testing.T) {
	trail, _ := buildChain(t, 6)
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}

	archive := NewArchive()
	archive.RegisterLog("gate-1")

	// First segment anchors at genesis
	genesis := Checkpoint{Index: 0, Hash: GenesisHash}
	if err := archive.VerifySegment(NewSegment("gate-1", genesis, records[:3])); err != nil {
		t.Fatalf("VerifySegment failed: %v", err)
	}
	tip, ok := archive.Tip("gate-1")
	if !ok || tip.Index != 3 {
		t.Fatalf("Expected tip at 3, got %v", tip)
	}

	// The next segment must extend the verified tip
	anchor := Checkpoint{Index: records[2].Index, Hash: records[2].Hash}
	if err := archive.VerifySegment(NewSegment("gate-1", anchor, records[3:])); err != nil {
		t.Fatalf("VerifySegment failed on suffix: %v", err)
	}
	tip, _ = archive.Tip("gate-1")
	if tip.Index != 6 {
		t.Fatalf("Expected tip at 6, got %d", tip.Index)
	}

	// Re-sending the first segment no longer anchors at the tip
	if err := archive.VerifySegment(NewSegment("gate-1", genesis, records[:3])); err == nil {
		t.Fatal("Expected stale segment to be rejected")
	}
}

func TestArchive_RejectsTamperedSegment(t *testing.T) {
	trail, _ := buildChain(t, 3)
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}
	records[1].Actor = "intruder"

	archive := NewArchive()
	archive.RegisterLog("gate-1")
	err = archive.VerifySegment(NewSegment("gate-1", Checkpoint{Index: 0, Hash: GenesisHash}, records))
	if err == nil {
		t.Fatal("Expected tampered segment to be rejected")
	}
	if tip, _ := archive.Tip("gate-1"); tip.Index != 0 {
		t.Fatalf("Tip advanced on rejected segment: %v", tip)
	}
}

func TestHTTPTransport_GobAndProto(t *testing.T) {
	trail, _ := buildChain(t, 4)
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(NewArchive(), nil, nil)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	transport := NewHTTPTransport(ts.URL)
	if err := transport.RegisterLog("gate-1"); err != nil {
		t.Fatalf("RegisterLog failed: %v", err)
	}

	// Gob segment for the first half
	ok, err := transport.SendSegment(NewSegment("gate-1", Checkpoint{Index: 0, Hash: GenesisHash}, records[:2]))
	if err != nil || !ok {
		t.Fatalf("Gob segment rejected: ok=%v err=%v", ok, err)
	}

	// Protobuf segment for the rest
	transport.UseProto = true
	anchor := Checkpoint{Index: records[1].Index, Hash: records[1].Hash}
	ok, err = transport.SendSegment(NewSegment("gate-1", anchor, records[2:]))
	if err != nil || !ok {
		t.Fatalf("Proto segment rejected: ok=%v err=%v", ok, err)
	}

	tip, found := srv.Archive.Tip("gate-1")
	if !found || tip.Index != 4 {
		t.Fatalf("Expected archive tip at 4, got %v", tip)
	}

	// Checkpoints are accepted for registered logs
	err = transport.SendCheckpoint(CheckpointMessage{
		LogID:      "gate-1",
		Checkpoint: Checkpoint{Index: 4, Hash: records[3].Hash, TakenAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("SendCheckpoint failed: %v", err)
	}
}

func TestHTTPTransport_RejectsBrokenSegment(t *testing.T) {
	trail, _ := buildChain(t, 3)
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}
	records[2].PayloadDigest = "forged"

	srv := NewServer(NewArchive(), nil, nil)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	transport := NewHTTPTransport(ts.URL)
	if err := transport.RegisterLog("gate-1"); err != nil {
		t.Fatal(err)
	}
	ok, err := transport.SendSegment(NewSegment("gate-1", Checkpoint{Index: 0, Hash: GenesisHash}, records))
	if ok || err == nil {
		t.Fatalf("Expected broken segment to be rejected: ok=%v err=%v", ok, err)
	}
}

func TestServer_StatusCallback(t *testing.T) {
	store, trail, gate := newTestGate(t, nil)
	d, token := approvedDraft(t, gate)
	sub, err := gate.Enqueue(testResearcher, d.DraftID, token.TokenID, "hackerone")
	if err != nil {
		t.Fatal(err)
	}

	tracker := NewTracker(store, trail, map[string]string{"hackerone": "s3cret"})
	srv := NewServer(NewArchive(), tracker, nil)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	body := []byte(`{"submission_id":"` + sub.SubmissionID + `","external_status":"TRIAGED"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/status/callback", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gate-Signature", SignCallback("s3cret", body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	status, err := tracker.Status(sub.SubmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if status != "TRIAGED" {
		t.Fatalf("Expected TRIAGED, got %s", status)
	}

	// An unsigned callback is refused with 401
	req2, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/status/callback", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for unsigned callback, got %d", resp2.StatusCode)
	}
}

func TestLocalTransport(t *testing.T) {
	trail, _ := buildChain(t, 2)
	records, err := trail.Records(1)
	if err != nil {
		t.Fatal(err)
	}

	lt := NewLocalTransport(NewArchive())
	if err := lt.RegisterLog("gate-1"); err != nil {
		t.Fatal(err)
	}
	ok, err := lt.SendSegment(NewSegment("gate-1", Checkpoint{Index: 0, Hash: GenesisHash}, records))
	if err != nil || !ok {
		t.Fatalf("Local segment rejected: ok=%v err=%v", ok, err)
	}
	if err := lt.SendCheckpoint(CheckpointMessage{LogID: "gate-1", Checkpoint: Checkpoint{Index: 2, Hash: records[1].Hash}}); err != nil {
		t.Fatalf("Local checkpoint rejected: %v", err)
	}
}
