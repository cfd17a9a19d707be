// Package limiter implements Rate Limit & Dedup (C8): per-sender and
// per-domain 1-hour sliding windows plus 24-hour content-hash dedup, per
// spec.md §4.7.
package limiter

import (
	"context"
	"time"
)

// Defaults per spec.md §6.
const (
	DefaultPerSenderHourLimit = 200
	DefaultPerDomainHourLimit = 500
	DefaultDedupTTL           = 24 * time.Hour
)

// Counters is the atomic sliding-window/dedup primitive set this package
// needs. store/redissink implements it over Redis's native INCR/EXPIRE
// and SET NX EX, giving per-key atomicity without a global lock (§5).
type Counters interface {
	// Incr increments the window counter for key, (re)arming its expiry
	// to window on first increment, and returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// SeenOrMark reports whether contentHash was already marked within
	// its TTL, atomically marking it if not.
	SeenOrMark(ctx context.Context, contentHash string, ttl time.Duration) (bool, error)
}

// Limits configures the window sizes and TTL; gwconfig populates this
// from per_sender_hour_limit / per_domain_hour_limit / dedup_ttl_seconds.
type Limits struct {
	PerSenderHourLimit int
	PerDomainHourLimit int
	DedupTTL           time.Duration
}

// DefaultLimits matches spec.md §6's defaults.
func DefaultLimits() Limits {
	return Limits{
		PerSenderHourLimit: DefaultPerSenderHourLimit,
		PerDomainHourLimit: DefaultPerDomainHourLimit,
		DedupTTL:           DefaultDedupTTL,
	}
}

// Decision is C8's verdict for one envelope.
type Decision struct {
	Allowed bool
	Reason  string // "ratelimit_sender", "ratelimit_domain", "duplicate", or "" when allowed
}

// Limiter evaluates rate-limit and dedup policy ahead of routing/storage.
type Limiter struct {
	Counters Counters
	Limits   Limits
}

// New builds a Limiter over the given Counters backend and Limits.
func New(counters Counters, limits Limits) *Limiter {
	return &Limiter{Counters: counters, Limits: limits}
}

// Check evaluates dedup first (§4.7: a duplicate is dropped before its
// rate-limit counters are touched, since a duplicate must not consume
// quota), then the sender and domain windows.
func (l *Limiter) Check(ctx context.Context, sender, domain, contentHash string) (Decision, error) {
	ttl := l.Limits.DedupTTL
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if contentHash != "" {
		seen, err := l.Counters.SeenOrMark(ctx, contentHash, ttl)
		if err != nil {
			return Decision{}, err
		}
		if seen {
			return Decision{Allowed: false, Reason: "duplicate"}, nil
		}
	}

	senderLimit := l.Limits.PerSenderHourLimit
	if senderLimit <= 0 {
		senderLimit = DefaultPerSenderHourLimit
	}
	domainLimit := l.Limits.PerDomainHourLimit
	if domainLimit <= 0 {
		domainLimit = DefaultPerDomainHourLimit
	}

	if sender != "" {
		n, err := l.Counters.Incr(ctx, senderCounterKey(sender), time.Hour)
		if err != nil {
			return Decision{}, err
		}
		if n > int64(senderLimit) {
			return Decision{Allowed: false, Reason: "ratelimit_sender"}, nil
		}
	}
	if domain != "" {
		n, err := l.Counters.Incr(ctx, domainCounterKey(domain), time.Hour)
		if err != nil {
			return Decision{}, err
		}
		if n > int64(domainLimit) {
			return Decision{Allowed: false, Reason: "ratelimit_domain"}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

func senderCounterKey(sender string) string { return "ratelimit:sender:" + sender }
func domainCounterKey(domain string) string { return "ratelimit:domain:" + domain }
