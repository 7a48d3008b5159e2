package disclosegate

import (
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

// fingerprintKey is the BLAKE3 keyed-hash domain for duplicate
// fingerprints. Changing it invalidates every stored fingerprint. The
// bytes are the ASCII domain name, zero-padded to 32, so the key is
// readable in hex dumps.
var fingerprintKey = [32]byte{
	'd', 'i', 's', 'c', 'l', 'o', 's', 'e', 'g', 'a', 't', 'e', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Finding is the validated input checked for duplicates before drafting.
type Finding struct {
	FindingID          string
	Target             string
	VulnerabilityClass string
	Endpoint           string
}

// DuplicateCandidate is a non-blocking warning that a finding's normalized
// fingerprint matches earlier findings. The caller may proceed with an
// explicit override; drafting is never blocked by a match.
type DuplicateCandidate struct {
	Fingerprint     string
	PriorFindingIDs []string
}

// Fingerprint computes the normalized keyed digest of
// (target, vulnerability class, endpoint) in lowercase hex.
func Fingerprint(f Finding) string {
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("disclosegate: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write([]byte(normalizeTarget(f.Target)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeClass(f.VulnerabilityClass)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeEndpoint(f.Endpoint)))
	return hex.EncodeToString(h.Sum(nil)[:32])
}

func normalizeTarget(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

func normalizeClass(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeEndpoint(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	if len(s) > 1 {
		s = strings.TrimSuffix(s, "/")
	}
	return strings.ToLower(s)
}

// Detector surfaces duplicate warnings against the append-only fingerprint
// index. A small LRU sits in front of the store for hot lookups.
type Detector struct {
	store StateStore
	cache *lru.Cache[string, []string]
}

// NewDetector builds a detector over the given state store. cacheSize <= 0
// picks a default.
func NewDetector(store StateStore, cacheSize int) (*Detector, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Detector{store: store, cache: cache}, nil
}

// Check returns a candidate when prior findings share the fingerprint, nil
// otherwise. It never blocks drafting.
func (d *Detector) Check(f Finding) (*DuplicateCandidate, error) {
	fp := Fingerprint(f)
	prior, ok := d.cache.Get(fp)
	if !ok {
		var err error
		prior, err = d.store.FindingsByFingerprint(fp)
		if err != nil {
			return nil, fmt.Errorf("lookup fingerprint: %w", err)
		}
		d.cache.Add(fp, prior)
	}
	if len(prior) == 0 {
		return nil, nil
	}
	return &DuplicateCandidate{
		Fingerprint:     fp,
		PriorFindingIDs: append([]string(nil), prior...),
	}, nil
}

// Register appends the finding to the index. Called at draft creation;
// entries are never removed.
func (d *Detector) Register(f Finding) (string, error) {
	if f.FindingID == "" {
		return "", fmt.Errorf("%w: finding id is required", ErrValidation)
	}
	fp := Fingerprint(f)
	if err := d.store.AddFingerprint(fp, f.FindingID); err != nil {
		return "", fmt.Errorf("register fingerprint: %w", err)
	}
	d.cache.Remove(fp)
	return fp, nil
}
