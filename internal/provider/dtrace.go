package provider

import (
	"context"
	"fmt"

	"github.com/thesamesam/dtrace-utils/internal/probe"
)

// Synthetic probe names owned by the "dtrace" pseudo-provider (spec §4.A
// "dtrace must be first because it owns the always-present BEGIN/END/ERROR
// probes whose PRIDs are consumed by other components").
const (
	ProbeBegin = "BEGIN"
	ProbeEnd   = "END"
	ProbeError = "ERROR"
)

// DtraceProvider is the always-first pseudo-provider: it owns three
// synthetic probes with no backing kernel instrumentation site. BEGIN
// fires once at session start, END once at session stop, ERROR once per
// data-plane fault (spec §7 "A fault produces one error-probe firing").
type DtraceProvider struct {
	begin *probe.Overlying
	end   *probe.Overlying
	err   *probe.Overlying
}

func NewDtraceProvider() *DtraceProvider {
	return &DtraceProvider{}
}

func (p *DtraceProvider) Name() string { return "dtrace" }

// Populate inserts the three synthetic probes. They carry no underlying
// probe: there is nothing to fan out to, and Attach/Detach/AddProbe are
// no-ops for them.
func (p *DtraceProvider) Populate(ctx context.Context, g *probe.Graph) error {
	var err error
	if p.begin, err = insertSynthetic(g, p.Name(), ProbeBegin); err != nil {
		return err
	}
	if p.end, err = insertSynthetic(g, p.Name(), ProbeEnd); err != nil {
		return err
	}
	if p.err, err = insertSynthetic(g, p.Name(), ProbeError); err != nil {
		return err
	}
	return nil
}

func insertSynthetic(g *probe.Graph, provider, name string) (*probe.Overlying, error) {
	desc := probe.Description{Provider: provider, Name: name}
	o, err := g.Insert(desc, provider, nil)
	if err != nil {
		return nil, fmt.Errorf("dtrace: inserting %s: %w", name, err)
	}
	return o, nil
}

// BeginPRID/EndPRID/ErrorPRID expose the allocated PRIDs so the session
// layer can fire them synthetically without a description lookup on
// every session start/stop/fault (spec §4.A "whose PRIDs are consumed by
// other components").
func (p *DtraceProvider) BeginPRID() probe.PRID { return p.begin.PRID }
func (p *DtraceProvider) EndPRID() probe.PRID   { return p.end.PRID }
func (p *DtraceProvider) ErrorPRID() probe.PRID { return p.err.PRID }

// ProvideProbe matches the three synthetic descriptions against pattern;
// there is nothing to discover beyond what Populate already inserted.
func (p *DtraceProvider) ProvideProbe(ctx context.Context, g *probe.Graph, pattern probe.Description) ([]*probe.Overlying, error) {
	var matches []*probe.Overlying
	for _, o := range []*probe.Overlying{p.begin, p.end, p.err} {
		if o != nil && pattern.Matches(o.Desc) {
			matches = append(matches, o)
		}
	}
	return matches, nil
}

// Discover is a no-op: the synthetic probe set never changes after
// Populate.
func (p *DtraceProvider) Discover(ctx context.Context, g *probe.Graph) error { return nil }

// Trampoline, Attach, Detach, and AddProbe are no-ops: these probes have
// no underlying kernel instrumentation site to compile a program for or
// bind one to.
func (p *DtraceProvider) Trampoline(u *probe.Underlying) (probe.TrampolineProgram, error) {
	return nil, nil
}
func (p *DtraceProvider) Attach(u *probe.Underlying) error { return nil }
func (p *DtraceProvider) Detach(u *probe.Underlying) error { return nil }
func (p *DtraceProvider) ProbeDestroy(o *probe.Overlying)  {}
func (p *DtraceProvider) AddProbe(o *probe.Overlying) error { return nil }

// Enable marks the overlying probe active. With no underlying probes to
// recurse into, this is the entire enable path.
func (p *DtraceProvider) Enable(g *probe.Graph, o *probe.Overlying) error {
	g.Enable(o)
	return nil
}

// ProbeInfo reports no arguments: BEGIN/END/ERROR carry session-level
// context (epid, fault-kind, illegal-value for ERROR) passed out of band
// by the session layer rather than through the argument arena.
func (p *DtraceProvider) ProbeInfo(o *probe.Overlying) []probe.ArgDescriptor { return nil }
