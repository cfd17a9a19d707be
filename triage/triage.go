// Package triage implements the Triage Scorer (C4): a deterministic,
// additive urgency score plus category and reason tokens, per spec.md
// §3 (Triage data model) and §4.4.
package triage

import (
	"regexp"
	"strings"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/recognize"
)

// Category values, per spec.md §3.
const (
	CategoryCase        = "case"
	CategoryLegal       = "legal"
	CategoryFinancial   = "financial"
	CategoryCompliance  = "compliance"
	CategoryEvidence    = "evidence"
	CategoryEmergency   = "emergency"
	CategoryGeneral     = "general"
)

// Level values, per spec.md §3.
const (
	LevelInfo     = "INFO"
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// Triage is the C4 output record.
type Triage struct {
	Category     string
	UrgencyScore int
	UrgencyLevel string
	Reasons      []string
	CaseKey      string
}

var (
	courtWords   = []string{"court", "filing", "motion", "subpoena", "hearing"}
	urgentWords  = []string{"urgent", "asap", "immediate", "deadline", "critical", "emergency"}
	creditorWords = []string{"past due", "final notice", "collections", "debt"}
	complianceWords = []string{"annual report", "filing deadline", "secretary of state"}

	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	usDatePattern  = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
)

// Level maps a score to its bucket, per spec.md §3: boundaries are
// inclusive-left (<10 INFO, 10-24 LOW, 25-49 MEDIUM, 50-79 HIGH, >=80
// CRITICAL).
func Level(score int) string {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	case score >= 10:
		return LevelLow
	default:
		return LevelInfo
	}
}

// Score computes the C4 triage for an envelope given the recognizer's
// result and the (possibly fallback) classifier output. The scoring rule
// table and the order reasons are appended in are fixed by spec.md §4.4
// and are load-bearing for the determinism property in §8: given
// identical inputs, Score returns identical output across calls.
//
// Score is ScoreBase followed by MergeClassifier; the pipeline calls the
// two halves separately so the classifier-independent rules run
// concurrently with the C5 classifier RPC (§5), but Score remains the
// single-call entry point for anything that already has both inputs.
func Score(env *email.Envelope, rec recognize.Result, evidenceDest bool, cls capability.Classification) Triage {
	return MergeClassifier(ScoreBase(env, rec, evidenceDest), cls)
}

// ScoreBase computes every additive rule that does not depend on C5's
// output: the court/urgent/sender/date/header/case/creditor/compliance
// signals and the category. It has no RPCs and never suspends.
func ScoreBase(env *email.Envelope, rec recognize.Result, evidenceDest bool) Triage {
	text := strings.ToLower(env.Subject + " " + env.Preview)

	var score int
	var reasons []string

	if containsAny(text, courtWords) {
		score += 25
		reasons = append(reasons, "court")
	}
	if containsAny(text, urgentWords) {
		score += 20
		reasons = append(reasons, "urgent")
	}
	if tok, ok := importantSender(env); ok {
		score += 15
		reasons = append(reasons, "important_sender:"+tok)
	}
	if isoDatePattern.MatchString(text) || usDatePattern.MatchString(text) {
		score += 5
		reasons = append(reasons, "contains_date")
	}
	if hasHeaderPriority(env) {
		score += 10
		reasons = append(reasons, "header_priority")
	}
	if rec.CaseKey != "" {
		score += 20
		reasons = append(reasons, "case_address:"+rec.CaseKey)
	}
	if rec.KnownCase != nil && strings.EqualFold(rec.KnownCase.DefaultPriority, "CRITICAL") {
		score += 25
		reasons = append(reasons, "case:"+rec.KnownCase.CanonicalCaseName)
	}
	if containsAny(text, creditorWords) {
		score += 15
		reasons = append(reasons, "creditor")
	}
	if containsAny(text, complianceWords) {
		score += 10
		reasons = append(reasons, "compliance")
	}

	if score > 100 {
		score = 100
	}

	_, hasImportantSender := importantSender(env)
	return Triage{
		Category:     category(rec, evidenceDest, text, hasImportantSender),
		UrgencyScore: score,
		UrgencyLevel: Level(score),
		Reasons:      reasons,
		CaseKey:      rec.CaseKey,
	}
}

// MergeClassifier folds C5's output into a ScoreBase result: the
// classifier:<hint> rule and the classifier_unavailable fallback
// reason, then reclamps the score and recomputes the urgency level.
// Category and CaseKey, being independent of the classifier, pass
// through unchanged.
func MergeClassifier(base Triage, cls capability.Classification) Triage {
	score := base.UrgencyScore
	reasons := base.Reasons

	if pts, tok, ok := classifierPoints(cls); ok {
		score += pts
		reasons = append(reasons, "classifier:"+tok)
	}
	if cls.FromFallback {
		reasons = append(reasons, "classifier_unavailable")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	base.UrgencyScore = score
	base.UrgencyLevel = Level(score)
	base.Reasons = reasons
	return base
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func importantSender(env *email.Envelope) (string, bool) {
	var domain string
	if len(env.Principals.From) > 0 {
		domain = env.Principals.From[0].Domain()
	}
	if domain == "" {
		return "", false
	}
	if strings.Contains(domain, "court") {
		return "court", true
	}
	if strings.HasSuffix(domain, ".gov") {
		return "gov", true
	}
	return "", false
}

func hasHeaderPriority(env *email.Envelope) bool {
	if strings.EqualFold(env.Headers["importance"], "high") {
		return true
	}
	switch env.Headers["x-priority"] {
	case "1", "High":
		return true
	}
	return false
}

// classifierPoints maps the classifier's urgency hint to score and a
// reason token, per the table in §4.4.
func classifierPoints(cls capability.Classification) (int, string, bool) {
	switch strings.ToUpper(cls.UrgencyHint) {
	case "CRITICAL":
		return 30, "CRITICAL", true
	case "HIGH":
		return 20, "HIGH", true
	case "MEDIUM":
		return 10, "MEDIUM", true
	case "LOW":
		return 0, "LOW", true
	default:
		return 0, "", false
	}
}

// category selects the category per §4.4's ordered precedence: case ->
// evidence (if evidence@ destination) -> compliance -> financial
// (creditor) -> legal (court signal) -> emergency (urgent + important
// sender) -> general.
func category(rec recognize.Result, evidenceDest bool, text string, importantSenderMatched bool) string {
	switch {
	case rec.CaseKey != "":
		return CategoryCase
	case evidenceDest:
		return CategoryEvidence
	case containsAny(text, complianceWords):
		return CategoryCompliance
	case containsAny(text, creditorWords):
		return CategoryFinancial
	case containsAny(text, courtWords):
		return CategoryLegal
	case containsAny(text, urgentWords) && importantSenderMatched:
		return CategoryEmergency
	default:
		return CategoryGeneral
	}
}
