package store

import (
	"context"
	"testing"
	"time"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
)

type fakeSink struct {
	name       string
	fullContent bool
	supportsTTL bool
	puts       []capability.SinkMetadata
	payloads   [][]byte
	err        error

	headMeta capability.SinkMetadata
	getValue []byte
}

func (f *fakeSink) Name() string              { return f.name }
func (f *fakeSink) AcceptsFullContent() bool  { return f.fullContent }
func (f *fakeSink) SupportsTTL() bool         { return f.supportsTTL }
func (f *fakeSink) Put(ctx context.Context, key string, value []byte, meta capability.SinkMetadata) error {
	f.puts = append(f.puts, meta)
	f.payloads = append(f.payloads, value)
	return f.err
}
func (f *fakeSink) Get(ctx context.Context, key string) ([]byte, error) { return f.getValue, nil }
func (f *fakeSink) Head(ctx context.Context, key string) (capability.SinkMetadata, error) {
	return f.headMeta, nil
}
func (f *fakeSink) Delete(ctx context.Context, key string) error { return nil }

func TestWriteFansOutToAllNamedSinks(t *testing.T) {
	full := &fakeSink{name: "full", fullContent: true, supportsTTL: true}
	preview := &fakeSink{name: "preview", fullContent: false, supportsTTL: true}
	m := NewManager(full, preview)

	results := m.Write(context.Background(), []string{"full", "preview"}, "k1",
		[]byte("full body"), []byte("preview"), capability.SinkMetadata{}, true)

	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", results)
	}
	if string(full.payloads[0]) != "full body" {
		t.Errorf("full sink got %q, want full body (AcceptsFullContent + retainFullContent)", full.payloads[0])
	}
	if string(preview.payloads[0]) != "preview" {
		t.Errorf("preview-only sink got %q, want preview", preview.payloads[0])
	}
	if !results["preview"].Skipped {
		t.Errorf("preview sink should be marked Skipped when full content was requested but not accepted")
	}
}

func TestWritePrivacyInvariantWithoutRetainFullContent(t *testing.T) {
	full := &fakeSink{name: "full", fullContent: true, supportsTTL: true}
	m := NewManager(full)

	m.Write(context.Background(), []string{"full"}, "k1", []byte("full body"), []byte("preview"), capability.SinkMetadata{}, false)
	if string(full.payloads[0]) != "preview" {
		t.Errorf("got %q, want preview (retainFullContent is false)", full.payloads[0])
	}
	r := m.Write(context.Background(), []string{"full"}, "k1", []byte("full body"), []byte("preview"), capability.SinkMetadata{}, false)
	if r["full"].Skipped {
		t.Error("Skipped should only be true when full content was requested but declined, not when it was never requested")
	}
}

func TestWriteUnknownSinkReportsError(t *testing.T) {
	m := NewManager()
	results := m.Write(context.Background(), []string{"nope"}, "k", nil, nil, capability.SinkMetadata{}, false)
	if results["nope"].Err == nil {
		t.Error("want an error for an unregistered sink name")
	}
}

func TestPrimaryAndInconsistent(t *testing.T) {
	results := map[string]SinkResult{"metadata": {Sink: "metadata", Err: nil}}
	if !Primary(results, "metadata") {
		t.Error("Primary should report true when the named sink succeeded")
	}
	if Primary(results, "missing") {
		t.Error("Primary should report false for a sink with no result")
	}
	if !Inconsistent("hash-a", "hash-b") {
		t.Error("Inconsistent should detect a hash mismatch")
	}
	if Inconsistent("", "hash-b") {
		t.Error("Inconsistent should not flag a missing hash as a mismatch")
	}
}

func TestRepairRewritesBackupOnHashMismatch(t *testing.T) {
	primary := &fakeSink{name: "blob", headMeta: capability.SinkMetadata{ContentHash: "hash-a"}, getValue: []byte("current body")}
	backup := &fakeSink{name: "evidence", headMeta: capability.SinkMetadata{ContentHash: "hash-b"}}
	m := NewManager(primary, backup)

	if err := m.Repair(context.Background(), "k1", "blob", "evidence"); err != nil {
		t.Fatal(err)
	}
	if len(backup.payloads) != 1 || string(backup.payloads[0]) != "current body" {
		t.Errorf("backup.payloads = %v, want one write of the primary's current body", backup.payloads)
	}
}

func TestRepairNoopWhenConsistent(t *testing.T) {
	primary := &fakeSink{name: "blob", headMeta: capability.SinkMetadata{ContentHash: "hash-a"}}
	backup := &fakeSink{name: "evidence", headMeta: capability.SinkMetadata{ContentHash: "hash-a"}}
	m := NewManager(primary, backup)

	if err := m.Repair(context.Background(), "k1", "blob", "evidence"); err != nil {
		t.Fatal(err)
	}
	if len(backup.payloads) != 0 {
		t.Errorf("backup.payloads = %v, want no write when hashes already match", backup.payloads)
	}
}

func TestRepairUnknownSink(t *testing.T) {
	m := NewManager(&fakeSink{name: "blob"})
	if err := m.Repair(context.Background(), "k1", "blob", "missing"); err == nil {
		t.Error("want an error for an unregistered backup sink")
	}
}

func TestTTLForOverrideAndDefault(t *testing.T) {
	if got := TTLFor(email.KindEmail, nil); got != 365*24*time.Hour {
		t.Errorf("TTLFor(EMAIL) = %v, want 365 days", got)
	}
	overrides := map[email.Kind]time.Duration{email.KindEmail: time.Hour}
	if got := TTLFor(email.KindEmail, overrides); got != time.Hour {
		t.Errorf("TTLFor(EMAIL) with override = %v, want 1h", got)
	}
}

func TestEmailKeySanitizesMessageID(t *testing.T) {
	key := EmailKey(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), "weird id/with:chars")
	want := "emails/2026-07-31/weird-id-with-chars.eml"
	if key != want {
		t.Errorf("EmailKey = %q, want %q", key, want)
	}
}
