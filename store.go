package disclosegate

// StateStore persists the gate's mutable state: drafts, approval requests,
// tokens, queued submissions, and the duplicate-fingerprint index. The
// fingerprint index and token table support concurrent reads; writes are
// single-row atomic operations (compare-and-set), never a global lock.
type StateStore interface {
	PutDraft(d Draft) error
	GetDraft(id string) (Draft, error)
	// SetDraftStatus atomically moves a draft from -> to. Returns false
	// without change when the current status is not from.
	SetDraftStatus(id string, from, to Status) (bool, error)

	PutApprovalRequest(r ApprovalRequest) error
	GetApprovalRequest(id string) (ApprovalRequest, error)
	// DecideApprovalRequest atomically settles a pending request. Returns
	// false when the request was already decided.
	DecideApprovalRequest(id string, decision Decision, humanID, rationale string) (bool, error)

	PutToken(t ApprovalToken) error
	GetToken(id string) (ApprovalToken, error)
	// ConsumeToken atomically flips used false -> true. Returns false when
	// the token was already used.
	ConsumeToken(id string) (bool, error)

	PutSubmission(q QueuedSubmission) error
	GetSubmission(id string) (QueuedSubmission, error)
	UpdateSubmission(q QueuedSubmission) error
	// CancelSubmission atomically cancels the queued submission for a
	// draft. Returns false when no submission is pending for it.
	CancelSubmission(draftID string) (bool, error)

	// AddFingerprint appends a finding reference to the append-only
	// duplicate index. Entries are never removed.
	AddFingerprint(fingerprint, findingID string) error
	FindingsByFingerprint(fingerprint string) ([]string, error)
}

// Store combines chain persistence with gate state. The SQLite and
// in-memory backends implement both; the file backend persists the chain
// only.
type Store interface {
	AuditStore
	StateStore
}
