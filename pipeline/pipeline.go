// Package pipeline implements the Pipeline Coordinator (C9): the
// INGEST->NORMALIZED->RECOGNIZED->(CLASSIFIED‖SCORED)->DECIDED->PERSISTED->FORWARDED->DONE
// state machine, per spec.md §4.8.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chittyos/chittyrouter-sub005/audit"
	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/limiter"
	"github.com/chittyos/chittyrouter-sub005/normalize"
	"github.com/chittyos/chittyrouter-sub005/recognize"
	"github.com/chittyos/chittyrouter-sub005/route"
	"github.com/chittyos/chittyrouter-sub005/store"
	"github.com/chittyos/chittyrouter-sub005/triage"
)

// State names the coordinator's state machine, per spec.md §4.8. Terminal
// is always DONE; no state is revisited within a run.
type State string

const (
	StateIngest     State = "INGEST"
	StateNormalized State = "NORMALIZED"
	StateRecognized State = "RECOGNIZED"
	StateDecided    State = "DECIDED"
	StatePersisted  State = "PERSISTED"
	StateForwarded  State = "FORWARDED"
	StateDropped    State = "DROPPED"
	StateDone       State = "DONE"
)

// DefaultDeadline is pipeline_deadline_ms's default, per spec.md §6.
const DefaultDeadline = 30 * time.Second

// Config bundles the collaborators and policy a Coordinator run needs.
type Config struct {
	Tables           recognize.Tables
	Limits           normalize.Limits
	NormalizeCaps    normalize.Capabilities
	Limiter          *limiter.Limiter
	Classifier       capability.Classifier
	Forwarder        capability.Forwarder
	ForwardDedup     route.ForwardDedup
	SinkManager      *store.Manager
	SinkTTLOverrides map[email.Kind]time.Duration
	Audit            *audit.Log
	Metrics          *audit.Metrics
	DefaultRoute     string
	RetainFullContent bool
	Deadline         time.Duration
}

// Result is what one Run call reports back to the caller (e.g. the
// httpapi /intake handler).
type Result struct {
	Envelope  *email.Envelope
	Triage    triage.Triage
	Routing   route.Decision
	State     State
	Forwarded []route.ForwardResult
	Stored    map[string]store.SinkResult
	Reasons   []string
}

// Coordinator runs one envelope through the full C9 state machine.
type Coordinator struct {
	cfg Config
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Admission is the ingress-wide backpressure gate: at most max_inflight
// items run concurrently, per spec.md §5; additional items block at
// admission rather than being rejected.
type Admission struct {
	sem *semaphore.Weighted
}

// NewAdmission builds an Admission gate with the given capacity
// (max_inflight, default 100).
func NewAdmission(maxInflight int64) *Admission {
	if maxInflight <= 0 {
		maxInflight = 100
	}
	return &Admission{sem: semaphore.NewWeighted(maxInflight)}
}

// Acquire blocks until a slot is free or ctx is done.
func (a *Admission) Acquire(ctx context.Context) error {
	return a.sem.Acquire(ctx, 1)
}

// Release frees a slot acquired by Acquire.
func (a *Admission) Release() {
	a.sem.Release(1)
}

// Run executes the full pipeline for one input, honoring the
// pipeline-wide deadline.
func (c *Coordinator) Run(ctx context.Context, in normalize.Input) Result {
	deadline := c.cfg.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// INGEST -> NORMALIZED
	env := normalize.Normalize(ctx, in, c.cfg.NormalizeCaps, c.cfg.Limits)
	env.ID = uuid.NewString()

	// NORMALIZED -> RECOGNIZED: pure function, must not suspend.
	rec := recognize.Recognize(env, c.cfg.Tables)

	// Rate limit & dedup can drop at any state; per §4.8 evaluate
	// immediately after RECOGNIZED, before spending classifier/scoring
	// budget on an item that will be dropped anyway.
	if c.cfg.Limiter != nil {
		sender := ""
		domain := ""
		if len(env.Principals.From) > 0 {
			sender = env.Principals.From[0].Addr
			domain = env.Principals.From[0].Domain()
		}
		decision, err := c.cfg.Limiter.Check(ctx, sender, domain, env.ContentHash)
		if err == nil && !decision.Allowed {
			return c.drop(ctx, env, rec, decision.Reason)
		}
	}

	// RECOGNIZED -> CLASSIFIED ‖ SCORED: C4's classifier-independent
	// rules and C5's classifier RPC run in their own goroutines, joined at
	// a barrier via errgroup, per Design Notes §9 ("task/channel
	// discipline so timeouts collapse to a single deadline check"). The
	// classifier:<hint> rule is a real data dependency on C5's output, so
	// it's folded in by MergeClassifier after the join rather than run
	// inside either goroutine.
	var cls capability.Classification
	var base triage.Triage
	evidenceDest := isEvidenceDestination(env)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if c.cfg.Classifier == nil {
			return nil
		}
		result, err := c.cfg.Classifier.Classify(gctx, env.ContentHash, env.Subject, env.Preview)
		if err != nil {
			return nil // classifier failures never abort the pipeline (§4.3)
		}
		cls = result
		return nil
	})
	g.Go(func() error {
		base = triage.ScoreBase(env, rec, evidenceDest)
		return nil
	})
	_ = g.Wait() // err is always nil by construction above; SCORED proceeds regardless

	tr := triage.MergeClassifier(base, cls)

	// DECIDED -> PERSISTED: sink fan-out.
	routing := route.Decide(env, tr, rec, env.SizeBytes, false, c.cfg.DefaultRoute, evidenceDest)
	var stored map[string]store.SinkResult
	if c.cfg.SinkManager != nil {
		key := store.EmailKey(env.ReceivedAt, env.ID)
		meta := capability.SinkMetadata{
			MessageID:   env.ID,
			From:        firstAddr(env.Principals.From),
			To:          firstAddr(env.Principals.To),
			Subject:     env.Subject,
			ContentHash: env.ContentHash,
			SizeBytes:   env.SizeBytes,
			StoredAt:    env.ReceivedAt,
			TTL:         store.TTLFor(env.Kind, c.cfg.SinkTTLOverrides),
		}
		if rec.CaseKey != "" {
			meta.Extra = map[string]string{"case_key": rec.CaseKey}
		}
		preview := []byte(env.Preview)
		stored = c.cfg.SinkManager.Write(ctx, routing.Sinks, key, preview, preview, meta, c.cfg.RetainFullContent)

		// blob and evidence hold replicas of the same bytes when both are
		// written; schedule an out-of-band repair check rather than
		// blocking PERSISTED on it (§4.6).
		if hasSink(routing.Sinks, route.SinkBlob) && hasSink(routing.Sinks, route.SinkEvidence) {
			mgr := c.cfg.SinkManager
			go func(key string) {
				repairCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = mgr.Repair(repairCtx, key, route.SinkBlob, route.SinkEvidence)
			}(key)
		}
	}

	// PERSISTED -> FORWARDED.
	var forwarded []route.ForwardResult
	if c.cfg.Forwarder != nil {
		forwarded = route.Forward(ctx, c.cfg.Forwarder, c.cfg.ForwardDedup, env.ID, routing.Destinations, env.Subject, env.Preview)
	}

	reasons := append(append([]string{}, tr.Reasons...), routing.Reasons...)
	reasons = append(reasons, env.DropReasons...)

	if c.cfg.Audit != nil {
		_ = c.cfg.Audit.Record(ctx, audit.LogEntry{
			EnvelopeID:   env.ID,
			ReceivedAt:   env.ReceivedAt,
			Category:     tr.Category,
			UrgencyLevel: tr.UrgencyLevel,
			Score:        tr.UrgencyScore,
			ContentHash:  env.ContentHash,
			Destinations: destinationAddrs(routing.Destinations),
			Reasons:      reasons,
		})
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordProcessed(ctx, tr.Category)
		for _, f := range forwarded {
			c.cfg.Metrics.RecordForward(ctx, f.Err == nil)
		}
	}

	return Result{
		Envelope:  env,
		Triage:    tr,
		Routing:   routing,
		State:     StateDone,
		Forwarded: forwarded,
		Stored:    stored,
		Reasons:   reasons,
	}
}

// drop short-circuits the pipeline on a C8 verdict. Per spec.md §4.7, a
// duplicate "returns without invoking sinks or the forwarder"; a
// rate-limit drop only skips forwarding, so its envelope still lands in
// the metadata/recent_log sinks.
func (c *Coordinator) drop(ctx context.Context, env *email.Envelope, rec recognize.Result, reason string) Result {
	env.AddDropReason("dropped:" + reason)

	var stored map[string]store.SinkResult
	if reason != "duplicate" && c.cfg.SinkManager != nil {
		key := store.EmailKey(env.ReceivedAt, env.ID)
		meta := capability.SinkMetadata{
			MessageID:   env.ID,
			From:        firstAddr(env.Principals.From),
			To:          firstAddr(env.Principals.To),
			Subject:     env.Subject,
			ContentHash: env.ContentHash,
			SizeBytes:   env.SizeBytes,
			StoredAt:    env.ReceivedAt,
			TTL:         store.TTLFor(env.Kind, c.cfg.SinkTTLOverrides),
		}
		if rec.CaseKey != "" {
			meta.Extra = map[string]string{"case_key": rec.CaseKey}
		}
		preview := []byte(env.Preview)
		stored = c.cfg.SinkManager.Write(ctx, []string{route.SinkMetadata, route.SinkRecentLog}, key, preview, preview, meta, c.cfg.RetainFullContent)
	}

	if c.cfg.Audit != nil {
		_ = c.cfg.Audit.Record(ctx, audit.LogEntry{
			EnvelopeID:  env.ID,
			ReceivedAt:  env.ReceivedAt,
			Category:    triage.CategoryGeneral,
			ContentHash: env.ContentHash,
			Reasons:     env.DropReasons,
		})
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordDropped(ctx, reason)
	}
	return Result{Envelope: env, State: StateDone, Stored: stored, Reasons: env.DropReasons}
}

func hasSink(sinks []string, name string) bool {
	for _, s := range sinks {
		if s == name {
			return true
		}
	}
	return false
}

func isEvidenceDestination(env *email.Envelope) bool {
	for _, a := range append(append([]email.Address{}, env.Principals.To...), env.Principals.CC...) {
		if strings.HasPrefix(strings.ToLower(a.Addr), "evidence@") {
			return true
		}
	}
	return false
}

func firstAddr(addrs []email.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].Addr
}

func destinationAddrs(dests []capability.Destination) []string {
	out := make([]string, len(dests))
	for i, d := range dests {
		out[i] = d.Address
	}
	return out
}
