package disclosegate

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// recordJSON is the minimal persisted projection of an audit record.
type recordJSON struct {
	ID            string `json:"id"`
	PrevHash      string `json:"prev_hash"`
	Hash          string `json:"hash"`
	Timestamp     string `json:"timestamp"`
	Actor         string `json:"actor"`
	Action        string `json:"action"`
	PayloadDigest string `json:"payload_digest"`
}

// MarshalRecordJSON renders the canonical JSON projection of a record.
func MarshalRecordJSON(r AuditRecord) ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:            r.ID,
		PrevHash:      r.PrevHash,
		Hash:          r.Hash,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:         r.Actor,
		Action:        r.Action,
		PayloadDigest: r.PayloadDigest,
	})
}

// UnmarshalRecordJSON parses the JSON projection back into a record. The
// payload itself does not travel; only its digest does.
func UnmarshalRecordJSON(b []byte) (AuditRecord, error) {
	var rj recordJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return AuditRecord{}, fmt.Errorf("parse record: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, rj.Timestamp)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return AuditRecord{
		ID:            rj.ID,
		PrevHash:      rj.PrevHash,
		Hash:          rj.Hash,
		Timestamp:     ts,
		Actor:         rj.Actor,
		Action:        rj.Action,
		PayloadDigest: rj.PayloadDigest,
	}, nil
}

// Segment is a contiguous slice of the chain shipped to an external
// archive, anchored at From (the checkpoint, or genesis, the first record
// extends).
type Segment struct {
	LogID   string
	From    Checkpoint
	Records []AuditRecord
}

// NewSegment builds a shippable segment. Payloads stay home; the digest in
// each record binds them, and the archive verifies hashes over digests
// alone.
func NewSegment(logID string, from Checkpoint, records []AuditRecord) Segment {
	out := make([]AuditRecord, len(records))
	for i, r := range records {
		r.Payload = nil
		out[i] = r
	}
	return Segment{LogID: logID, From: from, Records: out}
}

// The protobuf wire format encodes a segment as a structpb value, the
// schemaless well-known type. This keeps a stable binary encoding without
// a generated message package; the archive side decodes with the same
// helpers.

func recordToValue(r AuditRecord) (*structpb.Value, error) {
	return structpb.NewValue(map[string]any{
		"index":          r.Index,
		"id":             r.ID,
		"prev_hash":      r.PrevHash,
		"hash":           r.Hash,
		"timestamp":      r.Timestamp.UTC().Format(time.RFC3339Nano),
		"actor":          r.Actor,
		"action":         r.Action,
		"payload_digest": r.PayloadDigest,
	})
}

// EncodeSegmentProto marshals a segment into protobuf bytes.
func EncodeSegmentProto(seg Segment) ([]byte, error) {
	records := make([]any, 0, len(seg.Records))
	for _, r := range seg.Records {
		v, err := recordToValue(r)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", r.Index, err)
		}
		records = append(records, v.AsInterface())
	}
	s, err := structpb.NewStruct(map[string]any{
		"log_id": seg.LogID,
		"from": map[string]any{
			"index": seg.From.Index,
			"hash":  seg.From.Hash,
		},
		"records": records,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeSegmentProto parses protobuf bytes produced by EncodeSegmentProto.
func DecodeSegmentProto(b []byte) (Segment, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Segment{}, fmt.Errorf("unmarshal segment: %w", err)
	}
	m := s.AsMap()

	seg := Segment{}
	seg.LogID, _ = m["log_id"].(string)
	if from, ok := m["from"].(map[string]any); ok {
		if idx, ok := from["index"].(float64); ok {
			seg.From.Index = uint64(idx)
		}
		seg.From.Hash, _ = from["hash"].(string)
	}
	rawRecords, _ := m["records"].([]any)
	for i, raw := range rawRecords {
		rm, ok := raw.(map[string]any)
		if !ok {
			return Segment{}, fmt.Errorf("record %d: unexpected shape", i)
		}
		r, err := recordFromMap(rm)
		if err != nil {
			return Segment{}, fmt.Errorf("record %d: %w", i, err)
		}
		seg.Records = append(seg.Records, r)
	}
	return seg, nil
}

func recordFromMap(m map[string]any) (AuditRecord, error) {
	var r AuditRecord
	if idx, ok := m["index"].(float64); ok {
		r.Index = uint64(idx)
	}
	r.ID, _ = m["id"].(string)
	r.PrevHash, _ = m["prev_hash"].(string)
	r.Hash, _ = m["hash"].(string)
	r.Actor, _ = m["actor"].(string)
	r.Action, _ = m["action"].(string)
	r.PayloadDigest, _ = m["payload_digest"].(string)
	tsRaw, _ := m["timestamp"].(string)
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	r.Timestamp = ts
	if r.Hash == "" || r.PrevHash == "" {
		return AuditRecord{}, fmt.Errorf("missing hash fields")
	}
	return r, nil
}
