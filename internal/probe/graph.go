package probe

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is returned by Insert when a probe with the same
	// description already exists (spec §4.B).
	ErrDuplicate = errors.New("duplicate probe description")

	// ErrDuplicateUSDT is returned when a second USDT overlying probe
	// is fanned out onto an underlying site that already has one
	// (spec invariant 5).
	ErrDuplicateUSDT = errors.New("duplicate-usdt")

	// ErrNoSuchProbe is returned by lookups that find nothing.
	ErrNoSuchProbe = errors.New("no-such-probe")
)

// Graph is the two-level overlying/underlying probe graph (spec §4.B).
// It is not safe for concurrent use; the control plane is
// single-threaded by design (spec §5).
type Graph struct {
	byDesc      map[Description]*Overlying
	byPRID      map[PRID]*Overlying
	underlying  map[string]*Underlying // keyed by CanonicalDesc
	uprobeIndex map[uprobeKey]*Underlying

	prids     *PRIDAllocator
	enablings []*Overlying
}

func NewGraph(prids *PRIDAllocator) *Graph {
	return &Graph{
		byDesc:      make(map[Description]*Overlying),
		byPRID:      make(map[PRID]*Overlying),
		underlying:  make(map[string]*Underlying),
		uprobeIndex: make(map[uprobeKey]*Underlying),
		prids:       prids,
	}
}

// Lookup returns the overlying probe with an exact-match description, or
// (nil, false) (spec §4.B `lookup`).
func (g *Graph) Lookup(desc Description) (*Overlying, bool) {
	o, ok := g.byDesc[desc]
	return o, ok
}

// LookupPRID returns the overlying probe with the given PRID.
func (g *Graph) LookupPRID(prid PRID) (*Overlying, bool) {
	o, ok := g.byPRID[prid]
	return o, ok
}

// HighWater returns the highest PRID allocated so far, across both
// overlying and underlying probes (spec §4.F step 4 "PRIDs above the
// high-water mark").
func (g *Graph) HighWater() PRID {
	return g.prids.HighWater()
}

// Insert creates a new overlying probe with a freshly minted PRID (spec
// §4.B `insert`). Fails with ErrDuplicate if an identical description is
// already registered.
func (g *Graph) Insert(desc Description, provider string, private interface{}) (*Overlying, error) {
	if _, exists := g.byDesc[desc]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, desc)
	}
	o := newOverlying(desc, provider, g.prids.Alloc(), private)
	g.byDesc[desc] = o
	g.byPRID[o.PRID] = o
	return o, nil
}

// LookupOrCreateUprobe returns the existing underlying probe for a uprobe
// site keyed by (dev, inode, offset, is-return), or creates one. Native
// argument metadata passed on creation is only ever applied once, on the
// first call for a given key (spec §4.B "native argument metadata is
// populated into the descriptor array on first creation only").
func (g *Graph) LookupOrCreateUprobe(canonicalDesc, function string, device, inode, offset uint64, isReturn bool, nativeArgv, xlatArgv []string, argMap []int8) *Underlying {
	key := uprobeKey{Device: device, Inode: inode, Offset: offset, IsReturn: isReturn}
	if u, ok := g.uprobeIndex[key]; ok {
		return u
	}

	arena, descs, hasMapping := BuildArena(nativeArgv, xlatArgv, argMap)
	u := &Underlying{
		CanonicalDesc: canonicalDesc,
		PRID:          g.prids.Alloc(),
		Flags: SiteFlags{
			IsReturn:      isReturn,
			HasArgMapping: hasMapping,
		},
		Uprobe: &UprobeSite{
			Device:     device,
			Inode:      inode,
			Offset:     offset,
			Function:   function,
			NativeArgc: len(nativeArgv),
			ArgDescs:   descs,
			Arena:      arena,
		},
		key: key,
	}
	g.uprobeIndex[key] = u
	g.underlying[canonicalDesc] = u
	return u
}

// LookupOrCreateSite returns the existing non-uprobe underlying probe
// keyed by its canonical description (e.g. rawfbt kernel function
// boundary sites), creating one if absent.
func (g *Graph) LookupOrCreateSite(canonicalDesc string, flags SiteFlags) *Underlying {
	if u, ok := g.underlying[canonicalDesc]; ok {
		return u
	}
	u := &Underlying{CanonicalDesc: canonicalDesc, PRID: g.prids.Alloc(), Flags: flags}
	g.underlying[canonicalDesc] = u
	return u
}

// FanoutAdd establishes the symmetric overlying<->underlying link. It is
// idempotent (spec §4.B `fanout_add`, spec law "Idempotence"). Attaching
// a second USDT overlying probe to an underlying that already carries one
// fails with ErrDuplicateUSDT (spec invariant 5).
func (g *Graph) FanoutAdd(o *Overlying, u *Underlying) error {
	if o.IsUSDT && u.usdtOverlyingCount() > 0 && !u.hasOverlying(o) {
		return ErrDuplicateUSDT
	}
	if !o.hasUnderlying(u) {
		o.Underlying = append(o.Underlying, u)
	}
	if !u.hasOverlying(o) {
		u.Overlying = append(u.Overlying, o)
	}
	return nil
}

// Destroy unlinks o from every underlying probe it fans out from,
// removes it from the graph, and lets the caller release provider-owned
// state (probe_destroy is a provider callback, invoked by the caller, not
// the graph — spec §4.A/§4.B).
func (g *Graph) Destroy(o *Overlying) {
	for _, u := range o.Underlying {
		u.Overlying = removeOverlying(u.Overlying, o)
	}
	o.Underlying = nil
	g.removeFromEnablings(o)
	delete(g.byDesc, o.Desc)
	delete(g.byPRID, o.PRID)
}

// Disable removes o from the session's enablings list and breaks its
// underlying fan-out links, but keeps the probe record itself so it can
// be looked up and cheaply re-enabled later (spec §4.B `disable`).
func (g *Graph) Disable(o *Overlying) {
	for _, u := range o.Underlying {
		u.Overlying = removeOverlying(u.Overlying, o)
	}
	o.Underlying = nil
	o.State = StateDisabled
	g.removeFromEnablings(o)
}

// Enable marks o enabled and adds it to the session's enablings list if
// not already present.
func (g *Graph) Enable(o *Overlying) {
	o.State = StateEnabled
	for _, e := range g.enablings {
		if e == o {
			return
		}
	}
	g.enablings = append(g.enablings, o)
}

// Enablings returns the current enablings list (used by the discovery
// loop, spec §4.F step 2).
func (g *Graph) Enablings() []*Overlying {
	return g.enablings
}

func (g *Graph) removeFromEnablings(o *Overlying) {
	for i, e := range g.enablings {
		if e == o {
			g.enablings = append(g.enablings[:i], g.enablings[i+1:]...)
			return
		}
	}
}

func removeOverlying(list []*Overlying, target *Overlying) []*Overlying {
	for i, o := range list {
		if o == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
