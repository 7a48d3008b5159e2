package disclosegate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// fileStore implements AuditStore using POSIX files with append-only
// semantics. One JSON record per line in records.jsonl (the persisted
// projection), one JSON checkpoint per line in checkpoints.jsonl. Every
// append is flocked and fsynced before return, so a record is durable when
// Append returns.
//
// The file backend persists the chain only; gate state (drafts, tokens,
// submissions) needs the SQLite or in-memory store.
type fileStore struct {
	dir     string
	logFile *os.File
	cpFile  *os.File
	mu      sync.Mutex
	lastIdx uint64
}

const (
	recordsFileName     = "records.jsonl"
	checkpointsFileName = "checkpoints.jsonl"
)

// OpenFileStore creates or opens a file-based audit store in the given
// directory.
func OpenFileStore(dir string) (AuditStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(dir, recordsFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open records file: %w", err)
	}
	cpFile, err := os.OpenFile(filepath.Join(dir, checkpointsFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("open checkpoints file: %w", err)
	}
	s := &fileStore{dir: dir, logFile: logFile, cpFile: cpFile}
	tail, ok, err := s.TailRecord()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if ok {
		s.lastIdx = tail.Index
	}
	return s, nil
}

// Close releases the underlying files.
func (s *fileStore) Close() error {
	err1 := s.logFile.Close()
	err2 := s.cpFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendRecord(r AuditRecord, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastIdx != r.Index-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", s.lastIdx, r.Index)
	}

	if err := syscall.Flock(int(s.logFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock records file: %w", err)
	}
	defer syscall.Flock(int(s.logFile.Fd()), syscall.LOCK_UN) //nolint:errcheck

	line, err := marshalStoredRecord(r)
	if err != nil {
		return err
	}
	if _, err := s.logFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := s.logFile.Sync(); err != nil {
		return fmt.Errorf("sync records file: %w", err)
	}

	if cp != nil {
		b, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		if _, err := s.cpFile.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
		if err := s.cpFile.Sync(); err != nil {
			return fmt.Errorf("sync checkpoints file: %w", err)
		}
	}

	s.lastIdx = r.Index
	return nil
}

func (s *fileStore) IterRecords(fromIndex uint64) (<-chan AuditRecord, func() error, error) {
	f, err := os.Open(filepath.Join(s.dir, recordsFileName))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan AuditRecord, 64)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		defer f.Close()
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			r, err := unmarshalStoredRecord(sc.Bytes())
			if err != nil {
				return
			}
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

func (s *fileStore) TailRecord() (AuditRecord, bool, error) {
	f, err := os.Open(filepath.Join(s.dir, recordsFileName))
	if err != nil {
		return AuditRecord{}, false, err
	}
	defer f.Close()
	var last []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		last = append(last[:0], sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return AuditRecord{}, false, err
	}
	if len(last) == 0 {
		return AuditRecord{}, false, nil
	}
	r, err := unmarshalStoredRecord(last)
	if err != nil {
		return AuditRecord{}, false, err
	}
	return r, true, nil
}

func (s *fileStore) Checkpoints() ([]Checkpoint, error) {
	f, err := os.Open(filepath.Join(s.dir, checkpointsFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Checkpoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var cp Checkpoint
		if err := json.Unmarshal(sc.Bytes(), &cp); err != nil {
			return nil, fmt.Errorf("parse checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, sc.Err()
}

// storedRecord is the on-disk line format: the persisted projection plus
// the chain index.
type storedRecord struct {
	Index uint64 `json:"index"`
	AuditRecord
}

func marshalStoredRecord(r AuditRecord) ([]byte, error) {
	return json.Marshal(storedRecord{Index: r.Index, AuditRecord: r})
}

func unmarshalStoredRecord(line []byte) (AuditRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal(line, &sr); err != nil {
		return AuditRecord{}, fmt.Errorf("parse record: %w", err)
	}
	sr.AuditRecord.Index = sr.Index
	return sr.AuditRecord, nil
}
