// Package recognize implements the Address & Pattern Recognizer (C3):
// case-address extraction, the known-case table, and the address-route
// table, per spec.md §4.2.
package recognize

import (
	"regexp"
	"strings"

	"github.com/chittyos/chittyrouter-sub005/email"
)

// caseAddressPattern anchors at the local-part start and supports
// hyphenated multi-word names, e.g. "arias-v-bianchi" or
// "arias-smith-v-bianchi-jones".
var caseAddressPattern = regexp.MustCompile(`^([a-zA-Z0-9][a-zA-Z0-9-]*)-v-([a-zA-Z0-9][a-zA-Z0-9-]*)$`)

// CaseEntry is one row of the known-case table (§4.2): the exact
// destination address maps to a canonical case name, a forward-to
// address, and a default priority.
type CaseEntry struct {
	Address           string
	CanonicalCaseName string
	ForwardTo         string
	DefaultPriority   string // e.g. "CRITICAL", "HIGH", ""
}

// RouteEntry is one row of the address-route table (§4.2): an exact
// destination maps to a forward-to address.
type RouteEntry struct {
	Address   string
	ForwardTo string
}

// Tables is the configuration-driven, exactly-enumerated set of routing
// tables named in Design Notes §9 ("do not use source-language class
// inheritance to express variants").
type Tables struct {
	KnownCases  []CaseEntry
	AddrRoutes  []RouteEntry
	DefaultRoute string
}

func (t Tables) lookupCase(addr string) (CaseEntry, bool) {
	addr = strings.ToLower(addr)
	for _, c := range t.KnownCases {
		if strings.ToLower(c.Address) == addr {
			return c, true
		}
	}
	return CaseEntry{}, false
}

func (t Tables) lookupRoute(addr string) (string, bool) {
	addr = strings.ToLower(addr)
	for _, r := range t.AddrRoutes {
		if strings.ToLower(r.Address) == addr {
			return r.ForwardTo, true
		}
	}
	return "", false
}

// Result is what the recognizer contributes to the pipeline: an optional
// case key, the resolved forward-to address (if a table matched), a
// known-case match (if any), and additional reason tokens.
type Result struct {
	CaseKey     string
	KnownCase   *CaseEntry
	MatchedAddr string // the destination address that produced CaseKey/KnownCase
	ForwardTo   string // "" if no table entry matched; route.go applies the default
	Reasons     []string
}

// Recognize examines env.Principals.To first, then Cc, in list order; the
// first matching rule wins (§4.2). If multiple case addresses appear, the
// first produces CaseKey, the rest only contribute Reasons.
func Recognize(env *email.Envelope, tables Tables) Result {
	var res Result

	addrs := make([]email.Address, 0, len(env.Principals.To)+len(env.Principals.CC))
	addrs = append(addrs, env.Principals.To...)
	addrs = append(addrs, env.Principals.CC...)

	for _, a := range addrs {
		caseKey, ok := ExtractCaseKey(a.Addr)
		if !ok {
			continue
		}
		if res.CaseKey == "" {
			res.CaseKey = caseKey
			res.MatchedAddr = a.Addr
			res.Reasons = append(res.Reasons, "case_address:"+caseKey)
		} else {
			res.Reasons = append(res.Reasons, "case_address:"+caseKey)
		}
	}

	for _, a := range addrs {
		if kc, ok := tables.lookupCase(a.Addr); ok {
			if res.KnownCase == nil {
				kcCopy := kc
				res.KnownCase = &kcCopy
				res.ForwardTo = kc.ForwardTo
				if res.MatchedAddr == "" {
					res.MatchedAddr = a.Addr
				}
			}
			break
		}
	}

	if res.ForwardTo == "" {
		for _, a := range addrs {
			if fwd, ok := tables.lookupRoute(a.Addr); ok {
				res.ForwardTo = fwd
				break
			}
		}
	}

	return res
}

// ExtractCaseKey extracts a case key from a "<plaintiff>-v-<defendant>"
// local part, per §4.2. Matching folds case and supports hyphenated
// multi-word names.
func ExtractCaseKey(addr string) (string, bool) {
	local := addr
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	local = strings.ToLower(local)
	m := caseAddressPattern.FindStringSubmatch(local)
	if m == nil {
		return "", false
	}
	return m[1] + "_v_" + m[2], true
}
