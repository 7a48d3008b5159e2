package disclosegate

import (
	"fmt"
	"sync"
)

// memoryStore keeps the chain and gate state in process memory. Suited to
// tests and single-run tooling; production deployments want the SQLite or
// file backends for durability.
type memoryStore struct {
	mu          sync.RWMutex
	records     []AuditRecord
	checkpoints []Checkpoint
	drafts      map[string]Draft
	approvals   map[string]ApprovalRequest
	tokens      map[string]ApprovalToken
	submissions map[string]QueuedSubmission
	fingerprint map[string][]string
}

// OpenMemoryStore creates an empty in-memory store.
func OpenMemoryStore() Store {
	return &memoryStore{
		drafts:      make(map[string]Draft),
		approvals:   make(map[string]ApprovalRequest),
		tokens:      make(map[string]ApprovalToken),
		submissions: make(map[string]QueuedSubmission),
		fingerprint: make(map[string][]string),
	}
}

func (s *memoryStore) AppendRecord(r AuditRecord, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.records)) + 1; r.Index != want {
		return fmt.Errorf("non-contiguous append: have %d, got %d", want-1, r.Index)
	}
	s.records = append(s.records, r)
	if cp != nil {
		s.checkpoints = append(s.checkpoints, *cp)
	}
	return nil
}

func (s *memoryStore) IterRecords(fromIndex uint64) (<-chan AuditRecord, func() error, error) {
	s.mu.RLock()
	snapshot := append([]AuditRecord(nil), s.records...)
	s.mu.RUnlock()

	out := make(chan AuditRecord, 64)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for _, r := range snapshot {
			if r.Index < fromIndex {
				continue
			}
			select {
			case out <- r:
			case <-stop:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() error { once.Do(func() { close(stop) }); return nil }, nil
}

func (s *memoryStore) TailRecord() (AuditRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return AuditRecord{}, false, nil
	}
	return s.records[len(s.records)-1], true, nil
}

func (s *memoryStore) Checkpoints() ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Checkpoint(nil), s.checkpoints...), nil
}

func (s *memoryStore) PutDraft(d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.DraftID] = d
	return nil
}

func (s *memoryStore) GetDraft(id string) (Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return Draft{}, fmt.Errorf("draft %s not found", id)
	}
	return d, nil
}

func (s *memoryStore) SetDraftStatus(id string, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return false, fmt.Errorf("draft %s not found", id)
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	s.drafts[id] = d
	return true, nil
}

func (s *memoryStore) PutApprovalRequest(r ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[r.RequestID] = r
	return nil
}

func (s *memoryStore) GetApprovalRequest(id string) (ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.approvals[id]
	if !ok {
		return ApprovalRequest{}, fmt.Errorf("approval request %s not found", id)
	}
	return r, nil
}

func (s *memoryStore) DecideApprovalRequest(id string, decision Decision, humanID, rationale string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.approvals[id]
	if !ok {
		return false, fmt.Errorf("approval request %s not found", id)
	}
	if !r.Pending() {
		return false, nil
	}
	r.Decision = decision
	r.HumanID = humanID
	r.Rationale = rationale
	s.approvals[id] = r
	return true, nil
}

func (s *memoryStore) PutToken(t ApprovalToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.TokenID] = t
	return nil
}

func (s *memoryStore) GetToken(id string) (ApprovalToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return ApprovalToken{}, fmt.Errorf("token %s not found", id)
	}
	return t, nil
}

func (s *memoryStore) ConsumeToken(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return false, fmt.Errorf("token %s not found", id)
	}
	if t.Used {
		return false, nil
	}
	t.Used = true
	s.tokens[id] = t
	return true, nil
}

func (s *memoryStore) PutSubmission(q QueuedSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[q.SubmissionID] = q
	return nil
}

func (s *memoryStore) GetSubmission(id string) (QueuedSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.submissions[id]
	if !ok {
		return QueuedSubmission{}, fmt.Errorf("submission %s not found", id)
	}
	return q, nil
}

func (s *memoryStore) UpdateSubmission(q QueuedSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[q.SubmissionID]; !ok {
		return fmt.Errorf("submission %s not found", q.SubmissionID)
	}
	s.submissions[q.SubmissionID] = q
	return nil
}

func (s *memoryStore) CancelSubmission(draftID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range s.submissions {
		if q.DraftID == draftID && q.Status == SubmissionQueued {
			q.Status = SubmissionCanceled
			s.submissions[id] = q
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) AddFingerprint(fingerprint, findingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint[fingerprint] = append(s.fingerprint[fingerprint], findingID)
	return nil
}

func (s *memoryStore) FindingsByFingerprint(fingerprint string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.fingerprint[fingerprint]...), nil
}
