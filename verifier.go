package disclosegate

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
)

// Verifier replays a stored chain without holding the trail lock. It is
// safe to run against a store another process is appending to: records past
// the tail observed at iteration start are simply not checked.
type Verifier struct{ store AuditStore }

// NewVerifier creates a verifier over an audit store.
func NewVerifier(store AuditStore) *Verifier {
	return &Verifier{store: store}
}

// VerifyAll replays the full chain from genesis and checks that the final
// hash matches the stored tail.
func (v *Verifier) VerifyAll() (uint64, error) {
	return v.verifyFrom(Checkpoint{Index: 0, Hash: GenesisHash})
}

// VerifyFromCheckpoint replays from a checkpoint, trusting its hash as the
// anchor. A checkpoint not produced by this log makes verification fail on
// the first record after it.
func (v *Verifier) VerifyFromCheckpoint(cp Checkpoint) (uint64, error) {
	return v.verifyFrom(cp)
}

// VerifyLatest anchors at the most recent stored checkpoint, falling back
// to genesis when none exist.
func (v *Verifier) VerifyLatest() (uint64, error) {
	cps, err := v.store.Checkpoints()
	if err != nil {
		return 0, err
	}
	if len(cps) == 0 {
		return v.VerifyAll()
	}
	return v.verifyFrom(cps[len(cps)-1])
}

func (v *Verifier) verifyFrom(cp Checkpoint) (uint64, error) {
	ch, done, err := v.store.IterRecords(cp.Index + 1)
	if err != nil {
		return 0, err
	}
	defer done()
	var recs []AuditRecord
	for r := range ch {
		recs = append(recs, r)
	}
	if err := VerifyChainFrom(recs, cp); err != nil {
		return 0, err
	}

	tail, ok, err := v.store.TailRecord()
	if err != nil {
		return 0, err
	}
	if !ok {
		// Empty chain verifies trivially against the genesis anchor.
		if cp.Index == 0 && cp.Hash == GenesisHash {
			return 0, nil
		}
		return 0, errors.New("tail record unavailable")
	}
	final := cp.Hash
	if n := len(recs); n > 0 {
		final = recs[n-1].Hash
	}
	fh, err := hex.DecodeString(final)
	if err != nil {
		return 0, err
	}
	th, err := hex.DecodeString(tail.Hash)
	if err != nil {
		return 0, err
	}
	if !hmac.Equal(fh, th) {
		return 0, ErrIntegrity
	}
	return tail.Index, nil
}
