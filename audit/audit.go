// Package audit implements the Metrics & Audit Log (C10): the LogEntry
// record, the recent_log/urgent_items rings, the stats counters, and
// structured logging, per spec.md §3 and §4.8.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Size limits, per spec.md §3.
const (
	RecentLogCap   = 100
	UrgentItemsCap = 50
	MaxEntryBytes  = 2 * 1024

	RecentLogTTL   = 7 * 24 * time.Hour
	UrgentItemsTTL = 3 * 24 * time.Hour
	StatsTTL       = 24 * time.Hour
)

// LogEntry is the C10 record, deliberately excluding body, full subject,
// and attachment contents.
type LogEntry struct {
	EnvelopeID   string    `json:"envelope_id"`
	ReceivedAt   time.Time `json:"received_at"`
	Category     string    `json:"category"`
	UrgencyLevel string    `json:"urgency_level"`
	Score        int       `json:"score"`
	ContentHash  string    `json:"content_hash"`
	Destinations []string  `json:"destinations"`
	Reasons      []string  `json:"reasons"`
}

func isUrgent(level string) bool {
	return level == "HIGH" || level == "CRITICAL"
}

// Rings is the append-and-trim backing for recent_log/urgent_items, kept
// in a KV store (store/sqlitesink) under a single versioned row per
// spec.md §9 ("rewritten in full on each append under compare-and-swap
// on their version tag").
type Rings interface {
	// LoadRing reads the current JSON-encoded ring for name ("recent_log"
	// or "urgent_items") along with its version tag.
	LoadRing(ctx context.Context, name string) (entries []LogEntry, version int64, err error)
	// SaveRing writes entries back conditioned on version matching the
	// stored version; ok is false on a version mismatch so the caller
	// retries the read-modify-write.
	SaveRing(ctx context.Context, name string, entries []LogEntry, version int64, ttl time.Duration) (ok bool, err error)
}

// Stats is the {total, by_category, by_level, day} counters.
type Stats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByLevel    map[string]int `json:"by_level"`
	Day        string         `json:"day"`
}

// StatsStore persists Stats under the same version-tagged
// read-modify-write discipline as Rings.
type StatsStore interface {
	LoadStats(ctx context.Context) (Stats, int64, error)
	SaveStats(ctx context.Context, s Stats, version int64, ttl time.Duration) (bool, error)
}

// Log owns the rings, stats, and structured logging for one gateway
// instance.
type Log struct {
	Rings  Rings
	Stats  StatsStore
	Logger zerolog.Logger
}

// New builds a Log.
func New(rings Rings, stats StatsStore, logger zerolog.Logger) *Log {
	return &Log{Rings: rings, Stats: stats, Logger: logger}
}

// Record appends entry to recent_log (always) and urgent_items (when
// urgent), updates stats, and emits a structured log line. Ring/stats
// updates retry their compare-and-swap a bounded number of times under
// contention rather than blocking on a lock.
func (l *Log) Record(ctx context.Context, entry LogEntry) error {
	entry = clamp(entry)

	if err := l.appendRing(ctx, "recent_log", entry, RecentLogCap, RecentLogTTL); err != nil {
		return fmt.Errorf("audit: recent_log append: %w", err)
	}
	if isUrgent(entry.UrgencyLevel) {
		if err := l.appendRing(ctx, "urgent_items", entry, UrgentItemsCap, UrgentItemsTTL); err != nil {
			return fmt.Errorf("audit: urgent_items append: %w", err)
		}
	}
	if err := l.bumpStats(ctx, entry); err != nil {
		return fmt.Errorf("audit: stats update: %w", err)
	}

	ev := l.Logger.Info()
	if isUrgent(entry.UrgencyLevel) {
		ev = l.Logger.Warn()
	}
	ev.Str("envelope_id", entry.EnvelopeID).
		Str("category", entry.Category).
		Str("urgency_level", entry.UrgencyLevel).
		Int("score", entry.Score).
		Strs("reasons", entry.Reasons).
		Msg("envelope processed")
	return nil
}

// clamp enforces the ≤2KiB entry-size invariant by trimming reasons,
// never the structural fields.
func clamp(e LogEntry) LogEntry {
	for {
		raw, err := json.Marshal(e)
		if err != nil || len(raw) <= MaxEntryBytes || len(e.Reasons) == 0 {
			return e
		}
		e.Reasons = e.Reasons[:len(e.Reasons)-1]
	}
}

const maxCASAttempts = 5

func (l *Log) appendRing(ctx context.Context, name string, entry LogEntry, cap int, ttl time.Duration) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entries, version, err := l.Rings.LoadRing(ctx, name)
		if err != nil {
			return err
		}
		entries = append([]LogEntry{entry}, entries...)
		if len(entries) > cap {
			entries = entries[:cap]
		}
		ok, err := l.Rings.SaveRing(ctx, name, entries, version, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("audit: %s: exceeded %d compare-and-swap attempts", name, maxCASAttempts)
}

func (l *Log) bumpStats(ctx context.Context, entry LogEntry) error {
	day := entry.ReceivedAt.UTC().Format("2006-01-02")
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		s, version, err := l.Stats.LoadStats(ctx)
		if err != nil {
			return err
		}
		if s.Day != day {
			s = Stats{Day: day}
		}
		if s.ByCategory == nil {
			s.ByCategory = make(map[string]int)
		}
		if s.ByLevel == nil {
			s.ByLevel = make(map[string]int)
		}
		s.Total++
		s.ByCategory[entry.Category]++
		s.ByLevel[entry.UrgencyLevel]++

		ok, err := l.Stats.SaveStats(ctx, s, version, StatsTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("audit: stats: exceeded %d compare-and-swap attempts", maxCASAttempts)
}
