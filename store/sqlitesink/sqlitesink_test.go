package sqlitesink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chittyos/chittyrouter-sub005/capability"
)

func newTestPool(t *testing.T) *Sink {
	t.Helper()
	pool, err := Open(filepath.Join(t.TempDir(), "hot.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return New("hot_primary", pool)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestPool(t)
	ctx := context.Background()

	meta := capability.SinkMetadata{MessageID: "m1", From: "a@example.com", To: "b@example.com", Subject: "hi"}
	if err := s.Put(ctx, "k1", []byte("hello world"), meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("Get = %q, want %q", got, "hello world")
	}
}

func TestPutOverwritesOnConflict(t *testing.T) {
	s := newTestPool(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k1", []byte("first"), capability.SinkMetadata{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k1", []byte("second, and longer"), capability.SinkMetadata{Subject: "updated"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second, and longer" {
		t.Errorf("Get after overwrite = %q", got)
	}

	head, err := s.Head(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if head.Subject != "updated" {
		t.Errorf("Head.Subject = %q, want updated", head.Subject)
	}
}

func TestGetUnknownKeyReturnsNotFoundError(t *testing.T) {
	s := newTestPool(t)
	_, err := s.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("want an error for a missing key")
	}
}

func TestHeadReportsStoredMetadataAndTTL(t *testing.T) {
	s := newTestPool(t)
	ctx := context.Background()

	storedAt := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	meta := capability.SinkMetadata{MessageID: "m2", ContentHash: "deadbeef", StoredAt: storedAt, TTL: 2 * time.Hour}
	if err := s.Put(ctx, "k2", []byte("content"), meta); err != nil {
		t.Fatal(err)
	}

	head, err := s.Head(ctx, "k2")
	if err != nil {
		t.Fatal(err)
	}
	if head.MessageID != "m2" || head.ContentHash != "deadbeef" {
		t.Errorf("Head = %+v", head)
	}
	if head.TTL != 2*time.Hour {
		t.Errorf("Head.TTL = %v, want 2h", head.TTL)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	s := newTestPool(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k3", []byte("gone soon"), capability.SinkMetadata{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k3"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k3"); err == nil {
		t.Error("want an error reading a deleted key")
	}
}

func TestJanitorCleanNowRemovesExpiredRows(t *testing.T) {
	pool, err := Open(filepath.Join(t.TempDir(), "hot.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()
	s := New("hot_primary", pool)
	ctx := context.Background()

	expired := capability.SinkMetadata{StoredAt: time.Now().Add(-2 * time.Hour), TTL: time.Hour}
	if err := s.Put(ctx, "stale", []byte("old"), expired); err != nil {
		t.Fatal(err)
	}
	fresh := capability.SinkMetadata{TTL: 24 * time.Hour}
	if err := s.Put(ctx, "fresh", []byte("new"), fresh); err != nil {
		t.Fatal(err)
	}

	j := NewJanitor(pool)
	go j.Run()
	defer j.Shutdown(context.Background())

	j.CleanNow()
	// CleanNow is best-effort and asynchronous; give the sweep goroutine a
	// moment to pick up the request before asserting on its effect.
	time.Sleep(200 * time.Millisecond)

	if _, err := s.Get(ctx, "stale"); err == nil {
		t.Error("want the expired row swept by the janitor")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh row should survive the sweep, got err %v", err)
	}
}

func TestNameAndCapabilities(t *testing.T) {
	s := newTestPool(t)
	if s.Name() != "hot_primary" {
		t.Errorf("Name() = %q", s.Name())
	}
	if !s.AcceptsFullContent() {
		t.Error("AcceptsFullContent() should be true for the HOT tier")
	}
	if !s.SupportsTTL() {
		t.Error("SupportsTTL() should be true for the HOT tier")
	}
}
