package disclosegate

import (
	"crypto/tls"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Archive is the external audit archive's view of gate chains. It holds the
// last verified tip per chain and refuses segments that do not extend it,
// so a gate cannot quietly rewrite history it already shipped.
type Archive struct {
	mu          sync.RWMutex
	tips        map[string]Checkpoint
	checkpoints map[string][]Checkpoint
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{
		tips:        make(map[string]Checkpoint),
		checkpoints: make(map[string][]Checkpoint),
	}
}

// RegisterLog initializes a chain at genesis. Registering an existing chain
// is a no-op; the verified tip is never reset.
func (a *Archive) RegisterLog(logID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tips[logID]; !ok {
		a.tips[logID] = Checkpoint{Index: 0, Hash: GenesisHash}
	}
}

// AcceptCheckpoint stores a published checkpoint for later suffix
// verification.
func (a *Archive) AcceptCheckpoint(logID string, cp Checkpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tips[logID]; !ok {
		return fmt.Errorf("unknown log id %s", logID)
	}
	a.checkpoints[logID] = append(a.checkpoints[logID], cp)
	return nil
}

// VerifySegment replays a shipped segment against the chain's verified tip
// and advances the tip on success. A segment that does not start at the
// tip, or fails hash verification anywhere, is rejected whole.
func (a *Archive) VerifySegment(seg Segment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tip, ok := a.tips[seg.LogID]
	if !ok {
		return fmt.Errorf("unknown log id %s", seg.LogID)
	}
	if seg.From.Index != tip.Index || seg.From.Hash != tip.Hash {
		return fmt.Errorf("%w: segment anchored at %d, verified tip is %d", ErrIntegrity, seg.From.Index, tip.Index)
	}
	if err := VerifyChainFrom(seg.Records, seg.From); err != nil {
		return err
	}
	if n := len(seg.Records); n > 0 {
		last := seg.Records[n-1]
		a.tips[seg.LogID] = Checkpoint{Index: last.Index, Hash: last.Hash}
	}
	return nil
}

// Tip returns the chain's last verified (index, hash).
func (a *Archive) Tip(logID string) (Checkpoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp, ok := a.tips[logID]
	return cp, ok
}

// Server exposes the archive over HTTP and receives platform status
// callbacks on behalf of the status tracker.
type Server struct {
	Archive   *Archive
	Tracker   *Tracker
	log       *slog.Logger
	actor     Actor
	tlsConfig *tls.Config
}

// NewServer creates an archive server. tracker may be nil when the
// deployment does not receive platform callbacks.
func NewServer(archive *Archive, tracker *Tracker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Archive: archive,
		Tracker: tracker,
		log:     log,
		actor:   NewActor("archive-server", ActionConfirmStatus),
	}
}

// SetTLSConfig clones cfg and stores it for use when serving HTTPS
// requests. A nil cfg selects defaults.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	if cfg == nil {
		s.tlsConfig = nil
		return
	}
	s.tlsConfig = cfg.Clone()
}

func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-protobuf") ||
		strings.HasPrefix(ct, "application/protobuf")
}

func decodeSegment(r *http.Request) (Segment, error) {
	if isProtobuf(r) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return Segment{}, fmt.Errorf("read body: %w", err)
		}
		return DecodeSegmentProto(body)
	}
	var seg Segment
	if err := gob.NewDecoder(r.Body).Decode(&seg); err != nil {
		return Segment{}, fmt.Errorf("decode gob: %w", err)
	}
	return seg, nil
}

// HandleRegister handles POST /api/v1/audit/register.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var logID string
	if err := gob.NewDecoder(r.Body).Decode(&logID); err != nil {
		http.Error(w, fmt.Sprintf("Invalid registration: %v", err), http.StatusBadRequest)
		return
	}
	s.Archive.RegisterLog(logID)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "registered", "log_id": logID})
}

// HandleCheckpoint handles POST /api/v1/audit/checkpoint.
func (s *Server) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg CheckpointMessage
	if err := gob.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid checkpoint: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.Archive.AcceptCheckpoint(msg.LogID, msg.Checkpoint); err != nil {
		http.Error(w, fmt.Sprintf("Accept checkpoint failed: %v", err), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "log_id": msg.LogID})
}

// HandleVerify handles POST /api/v1/audit/verify. Supports both gob and
// protobuf segment encodings.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seg, err := decodeSegment(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid segment: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.Archive.VerifySegment(seg); err != nil {
		s.log.Warn("segment rejected", "log_id", seg.LogID, "err", err)
		http.Error(w, fmt.Sprintf("Verification failed: %v", err), http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "verified", "log_id": seg.LogID, "verified": true})
}

// statusCallback is the JSON body platforms POST to confirm a submission's
// external status. The raw body is HMAC-signed; the tracker verifies the
// signature before anything is recorded.
type statusCallback struct {
	SubmissionID   string `json:"submission_id"`
	ExternalStatus string `json:"external_status"`
}

// HandleStatusCallback handles POST /api/v1/status/callback.
func (s *Server) HandleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Tracker == nil {
		http.Error(w, "Status callbacks not configured", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Read body failed", http.StatusBadRequest)
		return
	}
	var cb statusCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		http.Error(w, fmt.Sprintf("Invalid callback: %v", err), http.StatusBadRequest)
		return
	}
	ev := Evidence{Payload: body, Signature: r.Header.Get("X-Gate-Signature")}
	if err := s.Tracker.RecordConfirmedUpdate(s.actor, cb.SubmissionID, cb.ExternalStatus, ev); err != nil {
		if errors.Is(err, ErrValidation) {
			http.Error(w, fmt.Sprintf("Rejected: %v", err), http.StatusUnauthorized)
			return
		}
		http.Error(w, fmt.Sprintf("Record failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "recorded", "submission_id": cb.SubmissionID})
}

// SetupRoutes configures HTTP routes for the archive server.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/audit/register", s.HandleRegister)
	mux.HandleFunc("/api/v1/audit/checkpoint", s.HandleCheckpoint)
	mux.HandleFunc("/api/v1/audit/verify", s.HandleVerify)
	mux.HandleFunc("/api/v1/status/callback", s.HandleStatusCallback)
}

func (s *Server) tlsConfigWithDefaults() *tls.Config {
	if s.tlsConfig == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// ListenAndServeTLS starts the HTTPS archive server.
func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	server := &http.Server{
		Addr:      addr,
		Handler:   mux,
		TLSConfig: s.tlsConfigWithDefaults(),
	}
	return server.ListenAndServeTLS(certFile, keyFile)
}
