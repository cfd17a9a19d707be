package limiter

import (
	"context"
	"testing"
	"time"
)

// fakeCounters is an in-memory Counters fake, enough to drive Limiter.Check
// without a real Redis instance.
type fakeCounters struct {
	counts map[string]int64
	seen   map[string]bool
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: map[string]int64{}, seen: map[string]bool{}}
}

func (f *fakeCounters) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounters) SeenOrMark(ctx context.Context, contentHash string, ttl time.Duration) (bool, error) {
	if f.seen[contentHash] {
		return true, nil
	}
	f.seen[contentHash] = true
	return false, nil
}

func TestCheckAllowsFirstMessage(t *testing.T) {
	l := New(newFakeCounters(), DefaultLimits())
	d, err := l.Check(context.Background(), "a@example.com", "example.com", "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Errorf("first message should be allowed, got reason %q", d.Reason)
	}
}

func TestCheckDedupBeforeRateLimit(t *testing.T) {
	counters := newFakeCounters()
	l := New(counters, DefaultLimits())
	ctx := context.Background()

	if _, err := l.Check(ctx, "a@example.com", "example.com", "dup-hash"); err != nil {
		t.Fatal(err)
	}
	d, err := l.Check(ctx, "a@example.com", "example.com", "dup-hash")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != "duplicate" {
		t.Errorf("want duplicate, got %+v", d)
	}
	// A deduped message must not have consumed sender-limit quota.
	if counters.counts[senderCounterKey("a@example.com")] != 1 {
		t.Errorf("sender counter = %d, want 1 (dedup should short-circuit)", counters.counts[senderCounterKey("a@example.com")])
	}
}

func TestCheckSenderLimit(t *testing.T) {
	counters := newFakeCounters()
	l := New(counters, Limits{PerSenderHourLimit: 2, PerDomainHourLimit: 1000, DedupTTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "a@example.com", "example.com", uniqueHash(i))
		if err != nil || !d.Allowed {
			t.Fatalf("message %d should be allowed, got %+v, err=%v", i, d, err)
		}
	}
	d, err := l.Check(ctx, "a@example.com", "example.com", uniqueHash(99))
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != "ratelimit_sender" {
		t.Errorf("want ratelimit_sender, got %+v", d)
	}
}

func uniqueHash(i int) string {
	return "hash-" + string(rune('a'+i))
}
