package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAppendAndChainVerify(t *testing.T) {
	log := NewLog()
	ctx := context.Background()

	if _, err := log.Record(ctx, "act-1", "ledger", StageSubmitted, "ok", nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := log.Record(ctx, "act-1", "ledger", StageApprovalDecided, "auto_approved", nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := log.Record(ctx, "act-1", "ledger", StageExecuted, "succeeded", nil, map[string]string{"attempt": "1"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if log.Size() != 3 {
		t.Fatalf("size = %d, want 3", log.Size())
	}
	if err := log.VerifyChain(); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func TestChainDetectsTampering(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_, _ = log.Record(ctx, "act-1", "ledger", StageSubmitted, "ok", nil, nil)
	entry, _ := log.Record(ctx, "act-1", "ledger", StageExecuted, "succeeded", nil, nil)

	entry.Result = "failed" // mutate after append

	err := log.VerifyChain()
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("tampering should break the chain, got %v", err)
	}
}

func TestEntriesAreUTC(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.FixedZone("PST", -8*3600))
	log := NewLog().WithClock(func() time.Time { return fixed })

	entry, err := log.Record(context.Background(), "act-1", "", StageSubmitted, "ok", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp location = %v, want UTC", entry.Timestamp.Location())
	}
	if !entry.Timestamp.Equal(fixed) {
		t.Errorf("timestamp changed instant: %v vs %v", entry.Timestamp, fixed)
	}
}

func TestQueryFilters(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_, _ = log.Record(ctx, "act-1", "ledger", StageSubmitted, "ok", nil, nil)
	_, _ = log.Record(ctx, "act-2", "social", StageSubmitted, "ok", nil, nil)
	_, _ = log.Record(ctx, "act-1", "ledger", StageExecuted, "succeeded", nil, nil)
	_, _ = log.Record(ctx, "act-2", "social", StageExecuted, "failed", errors.New("boom"), nil)

	got := log.Query(QueryFilter{ActionID: "act-1"})
	if len(got) != 2 {
		t.Fatalf("action filter: got %d entries, want 2", len(got))
	}

	got = log.Query(QueryFilter{Stage: StageExecuted})
	if len(got) != 2 {
		t.Fatalf("stage filter: got %d entries, want 2", len(got))
	}

	got = log.Query(QueryFilter{Service: "social", Stage: StageExecuted})
	if len(got) != 1 || got[0].Error != "boom" {
		t.Fatalf("combined filter wrong: %+v", got)
	}

	got = log.Query(QueryFilter{MaxResults: 1})
	if len(got) != 1 {
		t.Fatalf("max results not honored: %d", len(got))
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	log := NewLog()
	log.AddHandler(NewWriterSink(&buf))

	_, _ = log.Record(context.Background(), "act-1", "ledger", StageSubmitted, "ok", nil, nil)

	line := buf.String()
	if !strings.HasPrefix(line, "AUDIT: ") {
		t.Fatalf("missing AUDIT prefix: %q", line)
	}
	if !strings.Contains(line, `"action_id":"act-1"`) {
		t.Fatalf("entry not serialized: %q", line)
	}
}

func TestGeneratePack(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_, _ = log.Record(ctx, "act-1", "ledger", StageSubmitted, "ok", nil, nil)
	_, _ = log.Record(ctx, "act-1", "ledger", StageExecuted, "succeeded", nil, nil)

	pack, checksum, err := NewExporter(log).GeneratePack(ctx, ExportRequest{ActionID: "act-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	sum := sha256.Sum256(pack)
	if hex.EncodeToString(sum[:]) != checksum {
		t.Fatal("checksum does not match pack bytes")
	}

	r, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	if err != nil {
		t.Fatalf("pack is not a zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	for _, want := range []string{"entries.json", "manifest.json", "README.txt"} {
		if !names[want] {
			t.Errorf("pack missing %s", want)
		}
	}
}

func TestGeneratePackRejectsBadRange(t *testing.T) {
	exp := NewExporter(NewLog())
	_, _, err := exp.GeneratePack(context.Background(), ExportRequest{
		StartTime: time.Now(),
		EndTime:   time.Now().Add(-time.Hour),
	})
	if !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("want ErrInvalidTimeRange, got %v", err)
	}
}
