// Package store implements the Storage Sink Manager (C7): a named-sink
// registry, privacy-enforcing fan-out, deterministic key derivation, and
// per-kind TTL defaults, per spec.md §4.6.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
)

// TTL defaults per Envelope kind, spec.md §4.6.
var kindTTL = map[email.Kind]time.Duration{
	email.KindEmail: 365 * 24 * time.Hour,
	email.KindPDF:   1825 * 24 * time.Hour,
	email.KindVoice: 90 * 24 * time.Hour,
	email.KindAPI:   30 * 24 * time.Hour,
	email.KindJSON:  30 * 24 * time.Hour,
	email.KindURL:   90 * 24 * time.Hour,
	email.KindSMS:   365 * 24 * time.Hour,
	email.KindImage: 365 * 24 * time.Hour,
	email.KindVideo: 90 * 24 * time.Hour,
	email.KindText:  365 * 24 * time.Hour,
}

// TTLFor returns the per-kind default TTL, overridable by gwconfig.
func TTLFor(kind email.Kind, overrides map[email.Kind]time.Duration) time.Duration {
	if overrides != nil {
		if d, ok := overrides[kind]; ok {
			return d
		}
	}
	if d, ok := kindTTL[kind]; ok {
		return d
	}
	return 30 * 24 * time.Hour
}

var unsafeKeyChar = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// SanitizeKeyPart replaces any character outside [A-Za-z0-9.-] with '-',
// per spec.md §4.6.
func SanitizeKeyPart(s string) string {
	return unsafeKeyChar.ReplaceAllString(s, "-")
}

// EmailKey derives the deterministic key for an email body write.
func EmailKey(receivedAt time.Time, messageID string) string {
	return fmt.Sprintf("emails/%s/%s.eml", receivedAt.UTC().Format("2006-01-02"), SanitizeKeyPart(messageID))
}

// AttachmentKey derives the deterministic key for an attachment write.
func AttachmentKey(receivedAt time.Time, messageID, name string) string {
	return fmt.Sprintf("attachments/%s/%s/%s", receivedAt.UTC().Format("2006-01-02"), SanitizeKeyPart(messageID), SanitizeKeyPart(name))
}

// SinkResult is one sink's outcome from a fan-out write.
type SinkResult struct {
	Sink    string
	Err     error
	Skipped bool // true when the sink declined full content it doesn't accept
}

// Manager fans writes out to a set of named sinks, enforcing the privacy
// invariant (full content only when both the envelope opts in and the
// sink accepts it) regardless of which concrete Sink implementations are
// registered.
type Manager struct {
	sinks map[string]capability.Sink
}

// NewManager builds a Manager over the given sinks, keyed by
// capability.Sink.Name().
func NewManager(sinks ...capability.Sink) *Manager {
	m := &Manager{sinks: make(map[string]capability.Sink, len(sinks))}
	for _, s := range sinks {
		m.sinks[s.Name()] = s
	}
	return m
}

// Write fans a single (key, value) pair out to the named sinks
// concurrently, per Design Notes §9: a set of tasks returning (sink_name,
// result) joined into a map, never a shared "last error" variable.
//
// retainFullContent gates whether `value` (the full content) or only
// `preview` (already truncated, always safe) is written to each sink: a
// sink only receives full content when retainFullContent is true AND the
// sink itself advertises AcceptsFullContent.
func (m *Manager) Write(ctx context.Context, names []string, key string, value, preview []byte, meta capability.SinkMetadata, retainFullContent bool) map[string]SinkResult {
	results := make(map[string]SinkResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		sink, ok := m.sinks[name]
		if !ok {
			mu.Lock()
			results[name] = SinkResult{Sink: name, Err: fmt.Errorf("unknown sink %q", name)}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(name string, sink capability.Sink) {
			defer wg.Done()
			payload := preview
			skipped := false
			if retainFullContent && sink.AcceptsFullContent() {
				payload = value
			} else if retainFullContent {
				skipped = true
			}
			m2 := meta
			if sink.SupportsTTL() {
				m2.TTL = meta.TTL
			} else {
				m2.Extra = withExpiry(meta.Extra, meta.StoredAt.Add(meta.TTL))
			}
			err := sink.Put(ctx, key, payload, m2)
			mu.Lock()
			results[name] = SinkResult{Sink: name, Err: err, Skipped: skipped}
			mu.Unlock()
		}(name, sink)
	}
	wg.Wait()
	return results
}

func withExpiry(extra map[string]string, expiry time.Time) map[string]string {
	out := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["expires_at"] = expiry.UTC().Format(time.RFC3339)
	return out
}

// Primary reports whether results for the primary sink of the selected
// tier succeeded — the pipeline's success criterion per §4.6: "The
// pipeline succeeds if the primary sink ... succeeds; others are
// advisory."
func Primary(results map[string]SinkResult, primary string) bool {
	r, ok := results[primary]
	if !ok {
		return false
	}
	return r.Err == nil
}

// Inconsistent reports a hash mismatch between two sinks' stored content,
// which Repair (idempotent re-write from the authoritative primary)
// resolves out of band.
func Inconsistent(primaryHash, backupHash string) bool {
	return primaryHash != "" && backupHash != "" && primaryHash != backupHash
}

// Repair implements the §4.6 replication-repair flow: it heads key on
// both primary and backup, and if their content hashes disagree,
// re-writes backup from primary's current bytes. Re-Put of identical
// content is a no-op at the sink, so repeated or overlapping calls are
// safe to retry.
func (m *Manager) Repair(ctx context.Context, key, primary, backup string) error {
	pSink, ok := m.sinks[primary]
	if !ok {
		return fmt.Errorf("unknown sink %q", primary)
	}
	bSink, ok := m.sinks[backup]
	if !ok {
		return fmt.Errorf("unknown sink %q", backup)
	}

	pMeta, err := pSink.Head(ctx, key)
	if err != nil {
		return err
	}
	bMeta, err := bSink.Head(ctx, key)
	if err != nil {
		return err
	}
	if !Inconsistent(pMeta.ContentHash, bMeta.ContentHash) {
		return nil
	}

	value, err := pSink.Get(ctx, key)
	if err != nil {
		return err
	}
	return bSink.Put(ctx, key, value, pMeta)
}
