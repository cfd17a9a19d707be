// Package route implements the Routing Engine (C6): destination
// resolution, the priority bit, tier selection, sink selection, and
// at-most-once forwarding with retry, per spec.md §4.5.
package route

import (
	"context"
	"fmt"
	"time"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/internal/retry"
	"github.com/chittyos/chittyrouter-sub005/recognize"
	"github.com/chittyos/chittyrouter-sub005/triage"
)

// Tier values, per spec.md §4.5.
const (
	TierHot     = "HOT"
	TierWarm    = "WARM"
	TierCold    = "COLD"
	TierArchive = "ARCHIVE"
)

// Sink role names; store/store.go's Manager registers concrete sinks
// under these logical names per tier policy.
const (
	SinkMetadata    = "metadata"
	SinkRecentLog   = "recent_log"
	SinkBlob        = "blob"
	SinkVectorIndex = "vector_index"
	SinkCaseGraph   = "case_graph"
	SinkEvidence    = "evidence"
)

// Decision is the C6 output.
type Decision struct {
	Destinations []capability.Destination
	Tier         string
	Sinks        []string
	Reasons      []string
}

// RecentAccessHint carries the "recent-access hint" spec.md §4.5 names
// for HOT-tier selection; callers with no signal pass false.
type RecentAccessHint bool

// Decide computes destinations, tier, and sink set for one envelope.
// defaultForwardTo is used when neither the address-route nor known-case
// table produced a match. evidenceDest marks a destination that also
// routes to the evidence archive (mongosink).
func Decide(env *email.Envelope, tr triage.Triage, rec recognize.Result, sizeBytes int64, recentAccess RecentAccessHint, defaultForwardTo string, evidenceDest bool) Decision {
	forwardTo := rec.ForwardTo
	var reasons []string
	if forwardTo != "" {
		if rec.KnownCase != nil {
			reasons = append(reasons, "known_case:"+rec.KnownCase.CanonicalCaseName)
		} else {
			reasons = append(reasons, "address_route")
		}
	} else {
		forwardTo = defaultForwardTo
		reasons = append(reasons, "default_route")
	}

	priorityBit := tr.UrgencyLevel == triage.LevelHigh || tr.UrgencyLevel == triage.LevelCritical
	if priorityBit {
		reasons = append(reasons, fmt.Sprintf("priority_%s", priorityLabel(tr.UrgencyLevel)))
	}

	tier := selectTier(tr, sizeBytes, bool(recentAccess))
	sinks := selectSinks(env, rec, evidenceDest)

	var destinations []capability.Destination
	if forwardTo != "" {
		destinations = []capability.Destination{{Address: forwardTo, PriorityBit: priorityBit}}
	}

	return Decision{Destinations: destinations, Tier: tier, Sinks: sinks, Reasons: reasons}
}

func priorityLabel(level string) string {
	switch level {
	case triage.LevelCritical:
		return "critical"
	default:
		return "high"
	}
}

// selectTier implements spec.md §4.5 step 3.
func selectTier(tr triage.Triage, sizeBytes int64, recentAccess bool) string {
	switch {
	case tr.UrgencyLevel == triage.LevelHigh || tr.UrgencyLevel == triage.LevelCritical:
		return TierHot
	case sizeBytes < 1<<20 && recentAccess:
		return TierHot
	case retentionDays(tr) >= 365:
		return TierCold
	case retentionDays(tr) >= 90:
		return TierWarm
	default:
		return TierArchive
	}
}

// retentionDays is a placeholder signal until a per-kind retention input
// is threaded in; store.TTLFor supplies the authoritative per-kind TTL
// the sink manager actually applies.
func retentionDays(tr triage.Triage) int {
	if tr.Category == triage.CategoryEvidence || tr.Category == triage.CategoryLegal {
		return 365
	}
	return 90
}

// selectSinks implements spec.md §4.5 step 4, extended with the case
// graph and evidence archive as advisory sinks: case_graph links every
// recognized-case envelope into its case's message graph, and evidence
// archives anything routed to an evidence destination or tied to a known
// case with PDF/image/video content.
func selectSinks(env *email.Envelope, rec recognize.Result, evidenceDest bool) []string {
	sinks := []string{SinkMetadata, SinkRecentLog}

	hasBlob := false
	switch env.Kind {
	case email.KindPDF, email.KindImage, email.KindVideo, email.KindVoice:
		sinks = append(sinks, SinkBlob)
		hasBlob = true
	}
	if rec.KnownCase != nil {
		if !hasBlob {
			sinks = append(sinks, SinkBlob)
			hasBlob = true
		}
		sinks = append(sinks, SinkCaseGraph)
	}
	if evidenceDest || (rec.KnownCase != nil && hasBlob) {
		sinks = append(sinks, SinkEvidence)
	}
	if env.Preview != "" {
		sinks = append(sinks, SinkVectorIndex)
	}
	return sinks
}

// ForwardDedup records at-most-once forwarding per (envelope_id,
// destination): a dedup record must be written before Forwarder is
// invoked and consulted on retry, per spec.md §4.5.
type ForwardDedup interface {
	SeenOrMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// forwardDedupTTL bounds how long an at-most-once record is honored;
// generously longer than the pipeline deadline so a retried run of the
// same envelope never double-forwards.
const forwardDedupTTL = time.Hour

// Forward invokes fwd for each destination with the §4.5 retry policy,
// enforcing at-most-once semantics via dedup and never letting one
// destination's failure block another. It returns a result per
// destination address.
type ForwardResult struct {
	Address string
	Err     error
	Skipped bool // true when an at-most-once dedup record already existed
}

func Forward(ctx context.Context, fwd capability.Forwarder, dedup ForwardDedup, envelopeID string, destinations []capability.Destination, subject, preview string) []ForwardResult {
	results := make([]ForwardResult, 0, len(destinations))
	for _, dest := range destinations {
		key := envelopeID + ":" + dest.Address
		if dedup != nil {
			alreadySent, err := dedup.SeenOrMark(ctx, key, forwardDedupTTL)
			if err != nil {
				results = append(results, ForwardResult{Address: dest.Address, Err: err})
				continue
			}
			if alreadySent {
				results = append(results, ForwardResult{Address: dest.Address, Skipped: true})
				continue
			}
		}

		err := retry.Do(ctx, retry.ForwardPolicy(), isTransient, func(ctx context.Context, attempt int) error {
			return fwd.Forward(ctx, envelopeID, dest, subject, preview)
		})
		results = append(results, ForwardResult{Address: dest.Address, Err: err})
	}
	return results
}

func isTransient(err error) bool {
	if capErr, ok := err.(*capability.Error); ok {
		return capErr.Transient()
	}
	return true
}
