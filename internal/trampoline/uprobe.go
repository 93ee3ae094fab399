package trampoline

import (
	"strconv"
	"strings"

	"github.com/thesamesam/dtrace-utils/internal/probe"
)

// BuildUprobe emits the user-space (pid/USDT) trampoline (spec §4.D
// "User-space trampoline"): pid-provider dispatch guarded by a pid
// comparison, then — on entry sites only — USDT dispatch driven by the
// usdt_prids map and a clause-selector mask. cache holds the per-session
// provider-shape classification so that cost is paid once per provider
// rather than once per underlying probe.
func BuildUprobe(u *probe.Underlying, cache *ClauseCache) *Program {
	b := NewBuilder("uprobe")

	pidOverlyings, usdtOverlyings := splitByKind(u.Overlying)

	// (b) pid-provider dispatch, lower-numbered overlying probes first
	// (spec §4.D "Ordering guarantees").
	sortByPRID(pidOverlyings)
	for _, o := range pidOverlyings {
		pid, ok := pidLiteralOf(o.Desc)
		if !ok {
			continue
		}
		elseLabel := b.Label("pid_else")
		b.CmpPID(pid, elseLabel)
		b.SetPRID(uint64(o.PRID))
		for i := range o.Clauses {
			b.CallClause(i)
		}
		b.Mark(elseLabel)
	}

	// (c) return sites never run USDT dispatch.
	if u.Flags.IsReturn {
		b.Return()
		return b.Build()
	}

	// (d)/(e) USDT dispatch: save native args (handled by the caller's
	// argument-arena wiring, not a trampoline instruction here), probe
	// usdt_prids, and bail if this (pid, underlying-PRID) pair is absent.
	absentLabel := b.Label("usdt_absent")
	b.MapLookupUSDT(absentLabel)

	sortByPRID(usdtOverlyings)
	if isEnabledQuerySite(u) {
		b.WriteUserWitness()
		b.Mark(absentLabel)
		b.Return()
		return b.Build()
	}

	exitLabel := b.Label("usdt_exit")
	clauses := eligibleClauses(cache, u, usdtOverlyings)
	for i := range clauses {
		skipLabel := b.Label("clause_skip")
		b.CheckMaskBit(i, skipLabel)
		b.CheckActivity(exitLabel)
		b.CallClause(i)
		b.Mark(skipLabel)
		b.ShiftMask()
	}
	b.Mark(exitLabel)
	b.Mark(absentLabel)
	b.Return()
	return b.Build()
}

func splitByKind(overlying []*probe.Overlying) (pid, usdt []*probe.Overlying) {
	for _, o := range overlying {
		if o.IsUSDT {
			usdt = append(usdt, o)
		} else {
			pid = append(pid, o)
		}
	}
	return pid, usdt
}

func sortByPRID(overlying []*probe.Overlying) {
	for i := 1; i < len(overlying); i++ {
		for j := i; j > 0 && overlying[j-1].PRID > overlying[j].PRID; j-- {
			overlying[j-1], overlying[j] = overlying[j], overlying[j-1]
		}
	}
}

// pidLiteralOf extracts the literal pid a pid-provider description names
// (its Module field, spec §4.A pid provider convention).
func pidLiteralOf(desc probe.Description) (uint64, bool) {
	v, err := strconv.ParseUint(desc.Module, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isEnabledQuerySite(u *probe.Underlying) bool {
	return u.Flags.IsEnabledQuery
}

// eligibleClauses applies ClassifyClause (spec §4.D `ignore_clause`) to
// every USDT-tagged overlying fanned into u, keeping only the clauses that
// could ever fire for this particular underlying site.
func eligibleClauses(cache *ClauseCache, u *probe.Underlying, usdtOverlyings []*probe.Overlying) []*probe.Overlying {
	var uprpFunction string
	if u.Uprobe != nil {
		uprpFunction = u.Uprobe.Function
	}

	var out []*probe.Overlying
	for _, o := range usdtOverlyings {
		if ClassifyClause(cache, o.Desc, uprpFunction) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ClauseCache memoizes the provider-shape half of ClassifyClause (spec
// §SUPPLEMENTED "pid-provider vs USDT exclusion predicate"): the decision
// depends only on the clause's provider string, so once computed for a
// given provider it never needs recomputing for the life of the session
// (`ignore_clause`'s DT_CLSFLAG_USDT_INCLUDE/EXCLUDE clause-flag cache,
// `dt_prov_uprobe.c:287-321`).
type ClauseCache struct {
	shape map[string]bool // provider -> excluded
}

func NewClauseCache() *ClauseCache {
	return &ClauseCache{shape: make(map[string]bool)}
}

func (c *ClauseCache) shapeExcluded(provider string) bool {
	if v, ok := c.shape[provider]; ok {
		return v
	}
	v := providerShapeExcludesUSDT(provider)
	c.shape[provider] = v
	return v
}

// ClassifyClause reports whether a clause bound to desc can be ignored as
// a USDT candidate for the underlying site uprpFunction belongs to (spec
// §4.D `ignore_clause`, grounded on `dt_prov_uprobe.c:279-332`). Two
// independent checks compose:
//
//  1. Provider shape: a provider whose last character is neither '*' nor
//     a digit can never be USDT; a "pid<digits>" provider is a pid probe,
//     not USDT. Both are cached per provider string via cache.
//  2. Function match: unless the clause leaves its function field
//     wildcarded, it must glob-match the underlying site's function —
//     this is evaluated fresh every call since it depends on uprp, not
//     just the clause.
func ClassifyClause(cache *ClauseCache, desc probe.Description, uprpFunction string) bool {
	if cache.shapeExcluded(desc.Provider) {
		return true
	}

	if desc.Function != "" && desc.Function != "-" {
		pattern := probe.Description{Function: desc.Function}
		candidate := probe.Description{Function: uprpFunction}
		if !pattern.Matches(candidate) {
			return true
		}
	}

	return false
}

// providerShapeExcludesUSDT implements the two shape-only rules of
// ignore_clause: last-char-not-"*"-or-digit, and "pid<digits>".
func providerShapeExcludesUSDT(provider string) bool {
	if provider == "" {
		return false
	}
	last := provider[len(provider)-1]
	if last != '*' && !(last >= '0' && last <= '9') {
		return true
	}
	if strings.HasPrefix(provider, "pid") && isAllDigits(strings.TrimPrefix(provider, "pid")) {
		return true
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
