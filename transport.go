package disclosegate

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// CheckpointMessage carries a published checkpoint to the archive.
type CheckpointMessage struct {
	LogID      string
	Checkpoint Checkpoint
}

// ArchiveTransport defines how chain data reaches the external audit
// archive. Different implementations can use HTTP, a shared folder, or an
// in-process archive.
type ArchiveTransport interface {
	// RegisterLog announces a new chain to the archive.
	RegisterLog(logID string) error

	// SendCheckpoint publishes a trusted (index, hash) anchor.
	SendCheckpoint(msg CheckpointMessage) error

	// SendSegment ships a contiguous chain segment for verification.
	// Returns true if the archive verified and accepted it.
	SendSegment(seg Segment) (bool, error)
}

// HTTPTransport implements ArchiveTransport over HTTP/HTTPS. Gob is the
// default body encoding; UseProto switches segments to the protobuf wire
// format.
type HTTPTransport struct {
	BaseURL  string       // base URL of the archive (e.g. "https://archive.example.com")
	Client   *http.Client // can customize timeouts, TLS, etc.
	UseProto bool
}

// NewHTTPTransport creates an HTTP transport for the given archive.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{BaseURL: baseURL, Client: &http.Client{}}
}

func (t *HTTPTransport) post(path, contentType string, body io.Reader) error {
	resp, err := t.Client.Post(t.BaseURL+path, contentType, body)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("archive returned %d: %s", resp.StatusCode, b)
	}
	return nil
}

// RegisterLog announces the chain via HTTP POST.
func (t *HTTPTransport) RegisterLog(logID string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(logID); err != nil {
		return fmt.Errorf("encode log id: %w", err)
	}
	return t.post("/api/v1/audit/register", "application/octet-stream", &buf)
}

// SendCheckpoint publishes a checkpoint via HTTP POST.
func (t *HTTPTransport) SendCheckpoint(msg CheckpointMessage) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return t.post("/api/v1/audit/checkpoint", "application/octet-stream", &buf)
}

// SendSegment ships a segment for verification via HTTP POST.
func (t *HTTPTransport) SendSegment(seg Segment) (bool, error) {
	var body bytes.Buffer
	contentType := "application/octet-stream"
	if t.UseProto {
		b, err := EncodeSegmentProto(seg)
		if err != nil {
			return false, fmt.Errorf("encode segment: %w", err)
		}
		body.Write(b)
		contentType = "application/x-protobuf"
	} else {
		if err := gob.NewEncoder(&body).Encode(seg); err != nil {
			return false, fmt.Errorf("encode segment: %w", err)
		}
	}

	resp, err := t.Client.Post(t.BaseURL+"/api/v1/audit/verify", contentType, &body)
	if err != nil {
		return false, fmt.Errorf("post segment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	b, _ := io.ReadAll(resp.Body)
	return false, fmt.Errorf("verification failed: %s", b)
}

// LocalTransport talks to an in-process Archive. Useful for tests or
// single-machine deployments where the gate and its archive are co-located.
type LocalTransport struct {
	Archive *Archive
}

// NewLocalTransport creates a transport bound to a local archive.
func NewLocalTransport(archive *Archive) *LocalTransport {
	return &LocalTransport{Archive: archive}
}

// RegisterLog registers the chain with the local archive.
func (t *LocalTransport) RegisterLog(logID string) error {
	t.Archive.RegisterLog(logID)
	return nil
}

// SendCheckpoint publishes a checkpoint to the local archive.
func (t *LocalTransport) SendCheckpoint(msg CheckpointMessage) error {
	return t.Archive.AcceptCheckpoint(msg.LogID, msg.Checkpoint)
}

// SendSegment verifies a segment against the local archive.
func (t *LocalTransport) SendSegment(seg Segment) (bool, error) {
	err := t.Archive.VerifySegment(seg)
	return err == nil, err
}

// FolderTransport writes registrations, checkpoints, and segments into a
// local folder structure, enabling self-contained deployments where the
// archive is a shared directory:
//
//	{dir}/logs/{logID}            - registration marker
//	{dir}/checkpoints/{logID}/    - one gob file per checkpoint index
//	{dir}/segments/{logID}/       - one gob file per shipped segment
type FolderTransport struct {
	BaseDir string
	mu      sync.Mutex
}

// NewFolderTransport creates the folder layout under dir.
func NewFolderTransport(dir string) (*FolderTransport, error) {
	for _, d := range []string{
		filepath.Join(dir, "logs"),
		filepath.Join(dir, "checkpoints"),
		filepath.Join(dir, "segments"),
	} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, err
		}
	}
	return &FolderTransport{BaseDir: dir}, nil
}

// RegisterLog drops a marker file for the chain.
func (ft *FolderTransport) RegisterLog(logID string) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return os.WriteFile(filepath.Join(ft.BaseDir, "logs", logID), nil, 0600)
}

// SendCheckpoint writes the checkpoint to its per-log directory.
func (ft *FolderTransport) SendCheckpoint(msg CheckpointMessage) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	dir := filepath.Join(ft.BaseDir, "checkpoints", msg.LogID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%020d.gob", msg.Checkpoint.Index)))
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(msg)
}

// SendSegment writes the segment beside earlier ones; verification happens
// out of band when the folder is replayed.
func (ft *FolderTransport) SendSegment(seg Segment) (bool, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if len(seg.Records) == 0 {
		return false, fmt.Errorf("empty segment")
	}
	dir := filepath.Join(ft.BaseDir, "segments", seg.LogID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false, err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%020d.gob", seg.Records[0].Index)))
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(seg); err != nil {
		return false, err
	}
	return true, nil
}
