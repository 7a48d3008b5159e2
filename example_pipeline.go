package disclosegate

// Example: Full Disclosure Pipeline
//
// This example walks a draft through the whole gate: creation with
// duplicate detection, human approval, token-gated submission, retried
// delivery, and confirmed status tracking. Every step lands in the audit
// chain, so the sequence below leaves a verifiable record.
//
// Usage Example:
//
//   // ===== Wiring =====
//
//   store, _ := disclosegate.OpenSQLiteStore("file:gate.db")
//   trail, _ := disclosegate.OpenTrail(store, disclosegate.TrailConfig{CheckpointEvery: 100})
//   det, _ := disclosegate.NewDetector(store, 1024)
//   gate := disclosegate.NewGate(store, trail, det, disclosegate.GateConfig{TokenTTL: 24 * time.Hour})
//
//   researcher := disclosegate.NewActor("researcher-7",
//       disclosegate.ActionDraft, disclosegate.ActionRequestReview, disclosegate.ActionEnqueue)
//   reviewer := disclosegate.NewActor("lead-2", disclosegate.ActionDecide)
//
//   // ===== Draft =====
//
//   draft, dup, _ := gate.CreateDraft(researcher,
//       disclosegate.Finding{
//           FindingID:          "fnd-881",
//           Target:             "https://api.example.com",
//           VulnerabilityClass: "IDOR",
//           Endpoint:           "/v2/users/{id}",
//       },
//       "example-vdp",
//       disclosegate.DraftContent{Text: "An IDOR on /v2/users allows..."},
//   )
//   if dup != nil {
//       log.Printf("possible duplicate of %v", dup.PriorFindingIDs)
//   }
//
//   // ===== Approval =====
//
//   reqID, _ := gate.RequestApproval(researcher, draft.DraftID)
//   token, _ := gate.RecordDecision(reqID, reviewer, disclosegate.DecisionApprove,
//       "Reproduced against staging, severity confirmed")
//
//   // ===== Submission =====
//
//   sub, _ := gate.Enqueue(researcher, draft.DraftID, token.TokenID, "hackerone")
//
//   exec := disclosegate.NewExecutor(store, trail,
//       map[string]disclosegate.PlatformAdapter{"hackerone": adapter},
//       disclosegate.ExecutorConfig{Workers: 4}, nil)
//   ctx, cancel := context.WithCancel(context.Background())
//   go exec.Run(ctx)
//   exec.Dispatch(sub.SubmissionID)
//
//   // ===== Status =====
//
//   // The platform later confirms triage via a signed callback; the
//   // tracker records it and the projected status reflects it.
//   status, _ := tracker.Status(sub.SubmissionID)   // "TRIAGED"
//
//   cancel()
//
// Token Semantics:
//
//   - A token is bound to the draft content hash at the moment of
//     approval. Any edit after approval, including an edit that is later
//     reverted byte for byte, makes Enqueue burn the token and block the
//     draft. The researcher must request approval again.
//   - A token is single use and expires after GateConfig.TokenTTL.
//
// Retry Semantics:
//
//   - The executor retries transient platform failures (429, 5xx,
//     timeouts) with exponential backoff and jitter. Permanent failures
//     (4xx validation) fail immediately.
//   - Revoking a draft mid-retry takes effect before the next attempt;
//     no further platform calls are made for a canceled submission.
//
