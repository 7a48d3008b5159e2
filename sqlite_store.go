package disclosegate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
// synchronous=FULL keeps the write-before-return durability the audit
// chain requires.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &sqliteStore{db: db}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS audit_records (
  idx            INTEGER PRIMARY KEY,
  id             TEXT    NOT NULL UNIQUE,
  prev_hash      TEXT    NOT NULL,
  hash           TEXT    NOT NULL,
  ts             TEXT    NOT NULL,
  actor          TEXT    NOT NULL,
  action         TEXT    NOT NULL,
  payload_digest TEXT    NOT NULL,
  payload        TEXT
);
CREATE TABLE IF NOT EXISTS checkpoints (
  idx      INTEGER PRIMARY KEY,
  hash     TEXT NOT NULL,
  taken_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS drafts (
  draft_id     TEXT PRIMARY KEY,
  finding_id   TEXT NOT NULL,
  program_id   TEXT NOT NULL,
  content      TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  fingerprint  TEXT NOT NULL,
  status       TEXT NOT NULL,
  created_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS approval_requests (
  request_id   TEXT PRIMARY KEY,
  draft_id     TEXT NOT NULL,
  decision     TEXT NOT NULL DEFAULT '',
  human_id     TEXT NOT NULL DEFAULT '',
  rationale    TEXT NOT NULL DEFAULT '',
  requested_by TEXT NOT NULL,
  requested_at TEXT NOT NULL,
  decided_at   TEXT
);
CREATE TABLE IF NOT EXISTS tokens (
  token_id            TEXT PRIMARY KEY,
  draft_id            TEXT NOT NULL,
  draft_hash_at_issue TEXT NOT NULL,
  issued_at           TEXT NOT NULL,
  expires_at          TEXT NOT NULL,
  used                INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS submissions (
  submission_id  TEXT PRIMARY KEY,
  draft_id       TEXT NOT NULL,
  platform       TEXT NOT NULL,
  attempt_count  INTEGER NOT NULL DEFAULT 0,
  next_retry_at  TEXT,
  status         TEXT NOT NULL,
  receipt_digest TEXT NOT NULL DEFAULT '',
  enqueued_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_draft ON submissions(draft_id);
CREATE TABLE IF NOT EXISTS fingerprints (
  seq         INTEGER PRIMARY KEY AUTOINCREMENT,
  fingerprint TEXT NOT NULL,
  finding_id  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fingerprints_fp ON fingerprints(fingerprint);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Close releases the underlying database handle.
func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendRecord(r AuditRecord, cp *Checkpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var maxIdx sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx),0) FROM audit_records`).Scan(&maxIdx.Int64); err != nil {
		return err
	}
	if uint64(maxIdx.Int64) != r.Index-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", maxIdx.Int64, r.Index)
	}

	var payload any
	if r.Payload != nil {
		b, err := json.Marshal(r.Payload)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_records(idx, id, prev_hash, hash, ts, actor, action, payload_digest, payload)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Index, r.ID, r.PrevHash, r.Hash, r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Actor, r.Action, r.PayloadDigest, payload); err != nil {
		return err
	}

	if cp != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints(idx, hash, taken_at) VALUES(?, ?, ?)
			 ON CONFLICT(idx) DO NOTHING`,
			cp.Index, cp.Hash, cp.TakenAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanRecord(idx uint64, id, prevHash, hash, ts, actor, action, digest string, payload sql.NullString) (AuditRecord, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	r := AuditRecord{
		Index: idx, ID: id, PrevHash: prevHash, Hash: hash,
		Timestamp: t, Actor: actor, Action: action, PayloadDigest: digest,
	}
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &r.Payload); err != nil {
			return AuditRecord{}, fmt.Errorf("parse payload: %w", err)
		}
	}
	return r, nil
}

func (s *sqliteStore) IterRecords(fromIndex uint64) (<-chan AuditRecord, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, id, prev_hash, hash, ts, actor, action, payload_digest, payload
		 FROM audit_records WHERE idx >= ? ORDER BY idx ASC`, fromIndex)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan AuditRecord, 64)
	go func() {
		defer close(out)
		defer rows.Close()
		defer cancel()
		for rows.Next() {
			var idx uint64
			var id, prevHash, hash, ts, actor, action, digest string
			var payload sql.NullString
			if err := rows.Scan(&idx, &id, &prevHash, &hash, &ts, &actor, &action, &digest, &payload); err != nil {
				return
			}
			r, err := scanRecord(idx, id, prevHash, hash, ts, actor, action, digest, payload)
			if err != nil {
				return
			}
			out <- r
		}
	}()
	return out, func() error { cancel(); return nil }, nil
}

func (s *sqliteStore) TailRecord() (AuditRecord, bool, error) {
	var idx uint64
	var id, prevHash, hash, ts, actor, action, digest string
	var payload sql.NullString
	err := s.db.QueryRow(
		`SELECT idx, id, prev_hash, hash, ts, actor, action, payload_digest, payload
		 FROM audit_records ORDER BY idx DESC LIMIT 1`).
		Scan(&idx, &id, &prevHash, &hash, &ts, &actor, &action, &digest, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return AuditRecord{}, false, nil
	}
	if err != nil {
		return AuditRecord{}, false, err
	}
	r, err := scanRecord(idx, id, prevHash, hash, ts, actor, action, digest, payload)
	if err != nil {
		return AuditRecord{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) Checkpoints() ([]Checkpoint, error) {
	rows, err := s.db.Query(`SELECT idx, hash, taken_at FROM checkpoints ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Checkpoint
	for rows.Next() {
		var idx uint64
		var hash, at string
		if err := rows.Scan(&idx, &hash, &at); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, err
		}
		out = append(out, Checkpoint{Index: idx, Hash: hash, TakenAt: t})
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDraft(d Draft) error {
	_, err := s.db.Exec(
		`INSERT INTO drafts(draft_id, finding_id, program_id, content, content_hash, fingerprint, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(draft_id) DO UPDATE SET
		   content=excluded.content, content_hash=excluded.content_hash, status=excluded.status`,
		d.DraftID, d.FindingID, d.ProgramID, d.Content, d.ContentHash, d.Fingerprint,
		string(d.Status), d.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) GetDraft(id string) (Draft, error) {
	var d Draft
	var status, created string
	err := s.db.QueryRow(
		`SELECT draft_id, finding_id, program_id, content, content_hash, fingerprint, status, created_at
		 FROM drafts WHERE draft_id=?`, id).
		Scan(&d.DraftID, &d.FindingID, &d.ProgramID, &d.Content, &d.ContentHash, &d.Fingerprint, &status, &created)
	if err != nil {
		return Draft{}, err
	}
	d.Status = Status(status)
	d.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	return d, err
}

func (s *sqliteStore) SetDraftStatus(id string, from, to Status) (bool, error) {
	res, err := s.db.Exec(`UPDATE drafts SET status=? WHERE draft_id=? AND status=?`,
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) PutApprovalRequest(r ApprovalRequest) error {
	_, err := s.db.Exec(
		`INSERT INTO approval_requests(request_id, draft_id, requested_by, requested_at)
		 VALUES(?, ?, ?, ?)`,
		r.RequestID, r.DraftID, r.RequestedBy, r.RequestedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) GetApprovalRequest(id string) (ApprovalRequest, error) {
	var r ApprovalRequest
	var decision, requested string
	var decided sql.NullString
	err := s.db.QueryRow(
		`SELECT request_id, draft_id, decision, human_id, rationale, requested_by, requested_at, decided_at
		 FROM approval_requests WHERE request_id=?`, id).
		Scan(&r.RequestID, &r.DraftID, &decision, &r.HumanID, &r.Rationale, &r.RequestedBy, &requested, &decided)
	if err != nil {
		return ApprovalRequest{}, err
	}
	r.Decision = Decision(decision)
	if r.RequestedAt, err = time.Parse(time.RFC3339Nano, requested); err != nil {
		return ApprovalRequest{}, err
	}
	if decided.Valid {
		if r.DecidedAt, err = time.Parse(time.RFC3339Nano, decided.String); err != nil {
			return ApprovalRequest{}, err
		}
	}
	return r, nil
}

// DecideApprovalRequest settles a pending request with a single guarded
// UPDATE; a second decision on the same request matches zero rows.
func (s *sqliteStore) DecideApprovalRequest(id string, decision Decision, humanID, rationale string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE approval_requests SET decision=?, human_id=?, rationale=?, decided_at=?
		 WHERE request_id=? AND decision=''`,
		string(decision), humanID, rationale, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) PutToken(t ApprovalToken) error {
	_, err := s.db.Exec(
		`INSERT INTO tokens(token_id, draft_id, draft_hash_at_issue, issued_at, expires_at, used)
		 VALUES(?, ?, ?, ?, ?, 0)`,
		t.TokenID, t.DraftID, t.DraftHashAtIssue,
		t.IssuedAt.UTC().Format(time.RFC3339Nano), t.ExpiresAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) GetToken(id string) (ApprovalToken, error) {
	var t ApprovalToken
	var issued, expires string
	var used int
	err := s.db.QueryRow(
		`SELECT token_id, draft_id, draft_hash_at_issue, issued_at, expires_at, used
		 FROM tokens WHERE token_id=?`, id).
		Scan(&t.TokenID, &t.DraftID, &t.DraftHashAtIssue, &issued, &expires, &used)
	if err != nil {
		return ApprovalToken{}, err
	}
	if t.IssuedAt, err = time.Parse(time.RFC3339Nano, issued); err != nil {
		return ApprovalToken{}, err
	}
	if t.ExpiresAt, err = time.Parse(time.RFC3339Nano, expires); err != nil {
		return ApprovalToken{}, err
	}
	t.Used = used != 0
	return t, nil
}

// ConsumeToken is the single-row compare-and-set guarding single use.
func (s *sqliteStore) ConsumeToken(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE tokens SET used=1 WHERE token_id=? AND used=0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) PutSubmission(q QueuedSubmission) error {
	var next any
	if !q.NextRetryAt.IsZero() {
		next = q.NextRetryAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(
		`INSERT INTO submissions(submission_id, draft_id, platform, attempt_count, next_retry_at, status, receipt_digest, enqueued_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		q.SubmissionID, q.DraftID, q.Platform, q.AttemptCount, next,
		string(q.Status), q.ReceiptDigest, q.EnqueuedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) GetSubmission(id string) (QueuedSubmission, error) {
	var q QueuedSubmission
	var status, enqueued string
	var next sql.NullString
	err := s.db.QueryRow(
		`SELECT submission_id, draft_id, platform, attempt_count, next_retry_at, status, receipt_digest, enqueued_at
		 FROM submissions WHERE submission_id=?`, id).
		Scan(&q.SubmissionID, &q.DraftID, &q.Platform, &q.AttemptCount, &next, &status, &q.ReceiptDigest, &enqueued)
	if err != nil {
		return QueuedSubmission{}, err
	}
	q.Status = SubmissionStatus(status)
	if q.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueued); err != nil {
		return QueuedSubmission{}, err
	}
	if next.Valid {
		if q.NextRetryAt, err = time.Parse(time.RFC3339Nano, next.String); err != nil {
			return QueuedSubmission{}, err
		}
	}
	return q, nil
}

func (s *sqliteStore) UpdateSubmission(q QueuedSubmission) error {
	var next any
	if !q.NextRetryAt.IsZero() {
		next = q.NextRetryAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.Exec(
		`UPDATE submissions SET attempt_count=?, next_retry_at=?, status=?, receipt_digest=?
		 WHERE submission_id=?`,
		q.AttemptCount, next, string(q.Status), q.ReceiptDigest, q.SubmissionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("submission %s not found", q.SubmissionID)
	}
	return err
}

func (s *sqliteStore) CancelSubmission(draftID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE submissions SET status=? WHERE draft_id=? AND status=?`,
		string(SubmissionCanceled), draftID, string(SubmissionQueued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n >= 1, err
}

func (s *sqliteStore) AddFingerprint(fingerprint, findingID string) error {
	_, err := s.db.Exec(`INSERT INTO fingerprints(fingerprint, finding_id) VALUES(?, ?)`,
		fingerprint, findingID)
	return err
}

func (s *sqliteStore) FindingsByFingerprint(fingerprint string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT finding_id FROM fingerprints WHERE fingerprint=? ORDER BY seq ASC`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
