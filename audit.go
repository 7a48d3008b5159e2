// Package disclosegate gates the delivery of human-approved vulnerability
// findings to external disclosure platforms. Every state change is recorded
// in a tamper-evident hash-chained audit trail, and no submission can leave
// the system without a single-use approval token bound to the exact content
// a human signed off on.
package disclosegate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the fixed prev_hash of the first record in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditRecord is one link of the hash chain. Records are immutable once
// appended; only the Trail that created a record may produce its successor.
//
// Hash covers PrevHash plus the canonical encoding of (action,
// payload_digest, actor, timestamp), so any retroactive edit to a record
// invalidates every record after it.
type AuditRecord struct {
	Index         uint64         `json:"-"`
	ID            string         `json:"id"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
	Timestamp     time.Time      `json:"timestamp"`
	Actor         string         `json:"actor"`
	Action        string         `json:"action"`
	PayloadDigest string         `json:"payload_digest"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Checkpoint is a trusted (index, hash) anchor published every N records.
// External verifiers can replay a suffix of the chain starting from a
// checkpoint instead of from genesis.
type Checkpoint struct {
	Index   uint64    `json:"index"`
	Hash    string    `json:"hash"`
	TakenAt time.Time `json:"taken_at"`
}

// AuditStore abstracts durable, append-only persistence of the chain.
// Implementations must not return from Append before the record is durable.
type AuditStore interface {
	// AppendRecord stores a record and, when non-nil, a checkpoint taken at
	// the same index. The store must reject non-contiguous indexes.
	AppendRecord(r AuditRecord, cp *Checkpoint) error

	// IterRecords streams records with Index >= fromIndex in ascending
	// order. The returned func cancels the iteration.
	IterRecords(fromIndex uint64) (<-chan AuditRecord, func() error, error)

	// TailRecord returns the last appended record, if any.
	TailRecord() (AuditRecord, bool, error)

	// Checkpoints returns all stored checkpoints in ascending index order.
	Checkpoints() ([]Checkpoint, error)
}

// ErrIntegrity reports a broken hash chain. This is a hard stop: the trail
// refuses further appends until the store is manually inspected and
// repaired. It is never auto-repaired or swallowed.
var ErrIntegrity = errors.New("audit chain integrity violation")

// TrailConfig controls chain behavior.
type TrailConfig struct {
	// CheckpointEvery publishes a checkpoint every N records (0 = disabled).
	CheckpointEvery uint64

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Trail is the append-only hash-chained audit log. Append is the sole
// mutator of the chain tail; a mutex serializes all callers so chain
// ordering is total and deterministic.
type Trail struct {
	mu     sync.Mutex
	store  AuditStore
	cfg    TrailConfig
	index  uint64
	tip    string
	halted bool
}

// OpenTrail binds a Trail to a store, resuming from the stored tail.
func OpenTrail(store AuditStore, cfg TrailConfig) (*Trail, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	t := &Trail{store: store, cfg: cfg, tip: GenesisHash}
	rec, ok, err := store.TailRecord()
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}
	if ok {
		t.index = rec.Index
		t.tip = rec.Hash
	}
	return t, nil
}

// Append records a state change and returns the new chain link. The payload
// is digested canonically; the digest, not the payload, enters the hash.
// Identical (actor, action, payload) appended twice produce different
// hashes because the previous hash is part of the input.
func (t *Trail) Append(actor, action string, payload map[string]any) (AuditRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.halted {
		return AuditRecord{}, fmt.Errorf("%w: trail halted, manual resolution required", ErrIntegrity)
	}
	if actor == "" || action == "" {
		return AuditRecord{}, fmt.Errorf("%w: actor and action are required", ErrValidation)
	}

	digest, err := payloadDigest(payload)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("digest payload: %w", err)
	}

	ts := t.cfg.Clock().UTC()
	rec := AuditRecord{
		Index:         t.index + 1,
		ID:            "aud_" + uuid.NewString(),
		PrevHash:      t.tip,
		Timestamp:     ts,
		Actor:         actor,
		Action:        action,
		PayloadDigest: digest,
		Payload:       payload,
	}
	rec.Hash = chainHash(rec.PrevHash, rec.Action, rec.PayloadDigest, rec.Actor, rec.Timestamp)

	var cp *Checkpoint
	if t.cfg.CheckpointEvery != 0 && rec.Index%t.cfg.CheckpointEvery == 0 {
		cp = &Checkpoint{Index: rec.Index, Hash: rec.Hash, TakenAt: ts}
	}

	if err := t.store.AppendRecord(rec, cp); err != nil {
		return AuditRecord{}, fmt.Errorf("append record: %w", err)
	}

	t.index = rec.Index
	t.tip = rec.Hash
	return rec, nil
}

// Records returns all stored records from fromIndex onward.
func (t *Trail) Records(fromIndex uint64) ([]AuditRecord, error) {
	ch, done, err := t.store.IterRecords(fromIndex)
	if err != nil {
		return nil, err
	}
	defer done() //nolint:errcheck
	var out []AuditRecord
	for r := range ch {
		out = append(out, r)
	}
	return out, nil
}

// Verify replays the full stored chain from genesis. On failure the trail
// halts: no further appends are accepted until manually resolved.
func (t *Trail) Verify() error {
	records, err := t.Records(1)
	if err != nil {
		return err
	}
	if err := VerifyChain(records); err != nil {
		t.mu.Lock()
		t.halted = true
		t.mu.Unlock()
		return err
	}
	return nil
}

// VerifyChain recomputes every hash from GenesisHash forward and fails
// closed: a single altered byte in any record invalidates all records after
// it. Records must start at index 1.
func VerifyChain(records []AuditRecord) error {
	return VerifyChainFrom(records, Checkpoint{Index: 0, Hash: GenesisHash})
}

// VerifyChainFrom replays records against a trusted starting anchor. The
// first record must directly extend the anchor.
func VerifyChainFrom(records []AuditRecord, from Checkpoint) error {
	prev := from.Hash
	expect := from.Index
	for _, r := range records {
		expect++
		if r.Index != expect {
			return fmt.Errorf("%w: gap at index %d (expected %d)", ErrIntegrity, r.Index, expect)
		}
		if r.PrevHash != prev {
			return fmt.Errorf("%w: broken link at index %d", ErrIntegrity, r.Index)
		}
		if r.Payload != nil {
			d, err := payloadDigest(r.Payload)
			if err != nil {
				return fmt.Errorf("digest payload at index %d: %w", r.Index, err)
			}
			if d != r.PayloadDigest {
				return fmt.Errorf("%w: payload digest mismatch at index %d", ErrIntegrity, r.Index)
			}
		}
		h := chainHash(r.PrevHash, r.Action, r.PayloadDigest, r.Actor, r.Timestamp)
		if !hmac.Equal([]byte(h), []byte(r.Hash)) {
			return fmt.Errorf("%w: hash mismatch at index %d", ErrIntegrity, r.Index)
		}
		prev = r.Hash
	}
	return nil
}

// chainHash computes sha256(prev_hash || canonical binding) in lowercase hex.
func chainHash(prevHash, action, digest, actor string, ts time.Time) string {
	binding, _ := json.Marshal(map[string]string{
		"action":         action,
		"actor":          actor,
		"payload_digest": digest,
		"timestamp":      ts.UTC().Format(time.RFC3339Nano),
	})
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(binding)
	return hex.EncodeToString(h.Sum(nil))
}

// payloadDigest hashes the canonical JSON encoding of the payload:
// json.Marshal sorts map keys, so equal payloads digest equally. A nil
// payload digests the empty object.
func payloadDigest(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashContent computes the lowercase hex sha256 of draft content. Approval
// tokens bind this value at decision time.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
