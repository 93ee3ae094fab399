package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/thesamesam/dtrace-utils/internal/backend"
	"github.com/thesamesam/dtrace-utils/internal/dof"
	"github.com/thesamesam/dtrace-utils/internal/kmap"
	"github.com/thesamesam/dtrace-utils/internal/probe"
	"github.com/thesamesam/dtrace-utils/internal/trampoline"
	"github.com/thesamesam/dtrace-utils/internal/usdt"
)

const (
	uprobeName = "uprobe"
	pidName    = "pid"
	usdtName   = "usdt"
)

// usdtPrivate is the per-overlying private data the pid/USDT provider
// stashes via Graph.Insert's private slot: the set of live pids this
// overlying probe is currently fanned out against, so discovery can tell
// a fresh process apart from a stale one (spec §4.A grounding: the
// original's "list of associated underlying probes" per overlying).
type usdtPrivate struct {
	livePIDs map[uint32]bool
}

// PIDUSDTProvider implements both the pid provider (fixed offset into a
// named executable) and the USDT provider (ELF-note-declared tracepoints,
// matched by live process) over a shared uprobe underlying layer (spec
// §4.A, grounded on the pid/USDT uprobe provider).
type PIDUSDTProvider struct {
	backend backend.Controller
	usdt    *kmap.USDTTable

	// scan is the ELF USDT scanner seam (usdt.Scan by default), swapped
	// in tests for a fake.
	scan func(path string) ([]usdt.Probe, error)

	// listPIDs enumerates currently-live process ids, swapped in tests.
	listPIDs func() ([]uint32, error)

	exePath func(pid uint32) (string, error)

	name string // "pid" or "usdt"; Attach/Detach/ProbeInfo are shared

	// clauseCache memoizes ClassifyClause's provider-shape decision for
	// the life of the session (spec §SUPPLEMENTED "pid-provider vs USDT
	// exclusion predicate").
	clauseCache *trampoline.ClauseCache
}

func NewPIDProvider(b backend.Controller, clauseCache *trampoline.ClauseCache) *PIDUSDTProvider {
	return &PIDUSDTProvider{
		backend:     b,
		usdt:        kmap.NewUSDTTable(kmap.NewMemMap()),
		scan:        usdt.Scan,
		listPIDs:    listProcPIDs,
		exePath:     procExePath,
		name:        pidName,
		clauseCache: clauseCache,
	}
}

func NewUSDTProvider(b backend.Controller, table *kmap.USDTTable, clauseCache *trampoline.ClauseCache) *PIDUSDTProvider {
	return &PIDUSDTProvider{
		backend:     b,
		usdt:        table,
		scan:        usdt.Scan,
		listPIDs:    listProcPIDs,
		exePath:     procExePath,
		name:        usdtName,
		clauseCache: clauseCache,
	}
}

func (p *PIDUSDTProvider) Name() string { return p.name }

// Populate registers the provider's empty probe namespace; neither pid
// nor USDT probes are statically enumerable (they depend on a process
// being named, or alive, at probe time), matching the original's
// "populate" that only calls dt_provider_create with no probes.
func (p *PIDUSDTProvider) Populate(ctx context.Context, g *probe.Graph) error {
	return nil
}

// ProvideProbe resolves a pid/USDT description against a live process.
// For the pid provider, pattern.Module is a pid whose executable is
// resolved through /proc, pattern.Name is the hex offset within it, and
// pattern.Function is recorded as the containing function. For the USDT
// provider, pattern.Module is a pid and pattern.Function/Name select a
// provider:probe pair among the ELF notes found in that pid's image.
func (p *PIDUSDTProvider) ProvideProbe(ctx context.Context, g *probe.Graph, pattern probe.Description) ([]*probe.Overlying, error) {
	if p.name == usdtName {
		return p.provideUSDT(g, pattern)
	}
	return p.providePID(g, pattern)
}

func (p *PIDUSDTProvider) providePID(g *probe.Graph, pattern probe.Description) ([]*probe.Overlying, error) {
	pid, err := strconv.ParseUint(pattern.Module, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("pid: module field %q is not a pid", pattern.Module)
	}
	exe, err := p.exePath(uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("pid: resolving executable for pid %d: %w", pid, err)
	}

	offset, err := strconv.ParseUint(strings.TrimPrefix(pattern.Name, "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("pid: name field %q is not an offset", pattern.Name)
	}

	desc := probe.Description{Provider: pidName, Module: pattern.Module, Function: pattern.Function, Name: pattern.Name}
	o, err := g.Insert(desc, pidName, &usdtPrivate{livePIDs: map[uint32]bool{uint32(pid): true}})
	if err != nil {
		return nil, fmt.Errorf("pid: inserting %s: %w", desc, err)
	}

	dev, inode, statErr := statDevInode(exe)
	if statErr != nil {
		return nil, fmt.Errorf("pid: stat %s: %w", exe, statErr)
	}
	canonical := canonicalUprobeDesc(dev, inode, pattern.Function, offset, false)
	u := g.LookupOrCreateUprobe(canonical, pattern.Function, dev, inode, offset, false, nil, nil, nil)
	u.Uprobe.MappingPath = exe
	if err := g.FanoutAdd(o, u); err != nil {
		return nil, fmt.Errorf("pid: fanout %s: %w", desc, err)
	}
	return []*probe.Overlying{o}, nil
}

func (p *PIDUSDTProvider) provideUSDT(g *probe.Graph, pattern probe.Description) ([]*probe.Overlying, error) {
	pid, err := strconv.ParseUint(pattern.Module, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("usdt: module field %q is not a pid", pattern.Module)
	}
	exe, err := p.exePath(uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("usdt: resolving executable for pid %d: %w", pid, err)
	}

	probes, err := p.scan(exe)
	if err != nil {
		return nil, fmt.Errorf("usdt: scanning %s: %w", exe, err)
	}

	var out []*probe.Overlying
	for _, up := range probes {
		provPattern := probe.Description{Provider: usdtName, Function: up.Provider, Name: up.Name}
		if !pattern.Matches(provPattern) {
			continue
		}
		o, err := p.insertUSDT(g, uint32(pid), exe, up)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (p *PIDUSDTProvider) insertUSDT(g *probe.Graph, pid uint32, exe string, up usdt.Probe) (*probe.Overlying, error) {
	desc := probe.Description{Provider: usdtName, Module: strconv.FormatUint(uint64(pid), 10), Function: up.Provider, Name: up.Name}
	existing, ok := g.Lookup(desc)
	if ok {
		return existing, nil
	}

	o, err := g.Insert(desc, usdtName, &usdtPrivate{livePIDs: map[uint32]bool{pid: true}})
	if err != nil {
		return nil, fmt.Errorf("usdt: inserting %s: %w", desc, err)
	}
	o.IsUSDT = true

	dev, inode, statErr := statDevInode(exe)
	if statErr != nil {
		return nil, fmt.Errorf("usdt: stat %s: %w", exe, statErr)
	}
	canonical := canonicalUprobeDesc(dev, inode, "", up.PC, false)
	u := g.LookupOrCreateUprobe(canonical, "", dev, inode, up.PC, false, nil, nil, nil)
	u.Uprobe.MappingPath = exe
	u.Flags.IsUSDT = true
	if err := g.FanoutAdd(o, u); err != nil {
		return nil, fmt.Errorf("usdt: fanout %s: %w", desc, err)
	}

	if err := p.usdt.Put(pid, uint32(u.PRID), uint32(o.PRID), 0); err != nil {
		return nil, fmt.Errorf("usdt: recording pid/prid mapping: %w", err)
	}
	return o, nil
}

// ProvideFromDOF inserts every probe described by an already-decoded DOF
// record stream (spec §6) against a live pid, the richer alternative to
// provideUSDT's ELF-note scan: it carries native/translated argument
// descriptors and distinguishes is-enabled tracepoints from firing ones.
// Only the USDT provider consumes DOF; the pid provider has no static
// description to decode one against.
func (p *PIDUSDTProvider) ProvideFromDOF(g *probe.Graph, pid uint32, exe string, providers []dof.ProviderRecord) ([]*probe.Overlying, error) {
	if p.name != usdtName {
		return nil, fmt.Errorf("%s: ProvideFromDOF is only valid on the usdt provider", p.name)
	}
	dev, inode, err := statDevInode(exe)
	if err != nil {
		return nil, fmt.Errorf("usdt: stat %s: %w", exe, err)
	}

	var out []*probe.Overlying
	for _, pr := range providers {
		for _, pb := range pr.Probes {
			o, err := p.insertDOFProbe(g, pid, exe, dev, inode, pr.Info.Name, pb)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (p *PIDUSDTProvider) insertDOFProbe(g *probe.Graph, pid uint32, exe string, dev, inode uint64, providerName string, pb dof.ProbeRecord) (*probe.Overlying, error) {
	desc := probe.Description{Provider: usdtName, Module: strconv.FormatUint(uint64(pid), 10), Function: providerName, Name: pb.Info.Name}
	if existing, ok := g.Lookup(desc); ok {
		return existing, nil
	}

	o, err := g.Insert(desc, usdtName, &usdtPrivate{livePIDs: map[uint32]bool{pid: true}})
	if err != nil {
		return nil, fmt.Errorf("usdt: inserting %s: %w", desc, err)
	}
	o.IsUSDT = true

	for _, tp := range pb.Tracepoints {
		canonical := canonicalUprobeDesc(dev, inode, pb.Info.Function, tp.Addr, false)
		u := g.LookupOrCreateUprobe(canonical, pb.Info.Function, dev, inode, tp.Addr, false, pb.NativeArgs, pb.XlatArgs, pb.ArgMap)
		u.Uprobe.MappingPath = exe
		u.Flags.IsUSDT = true
		u.Flags.IsEnabledQuery = tp.IsEnabled
		if err := g.FanoutAdd(o, u); err != nil {
			return nil, fmt.Errorf("usdt: fanout %s: %w", desc, err)
		}
		if err := p.usdt.Put(pid, uint32(u.PRID), uint32(o.PRID), 0); err != nil {
			return nil, fmt.Errorf("usdt: recording pid/prid mapping: %w", err)
		}
	}
	return o, nil
}

// DecodeDOFStream decodes and assembles a DOF-parsed record stream into
// per-provider probe groups, ready for ProvideFromDOF.
func DecodeDOFStream(r io.Reader) ([]dof.ProviderRecord, error) {
	records, err := dof.Decode(r)
	if err != nil {
		return nil, err
	}
	providers, errInfo := dof.Assemble(records)
	if errInfo != nil {
		return providers, errInfo
	}
	return providers, nil
}

// Discover performs USDT's per-tick pruning (spec §4.F): it deletes the
// usdt_prids entries of pids that are no longer live (grounded on
// clean_usdt_probes). It does not scan processes for new probes, and it
// is a no-op for the pid provider.
func (p *PIDUSDTProvider) Discover(ctx context.Context, g *probe.Graph) error {
	if p.name != usdtName {
		return nil
	}
	live, err := p.listPIDs()
	if err != nil {
		return fmt.Errorf("usdt: listing live pids: %w", err)
	}
	liveSet := make(map[uint32]bool, len(live))
	for _, pid := range live {
		liveSet[pid] = true
	}

	for _, k := range p.usdt.Keys() {
		if !liveSet[k.PID] {
			if err := p.usdt.Delete(k.PID, k.UnderlyingPRID); err != nil {
				return fmt.Errorf("usdt: pruning stale pid %d: %w", k.PID, err)
			}
		}
	}
	return nil
}

// canonicalUprobeDesc renders the canonical uprobe underlying-probe
// description (spec §3 "Underlying probe", scenario 2): hex device and
// inode (no "0x" prefix), the containing function (empty when unknown),
// and a bare hex offset — or the literal "return" on a return site.
func canonicalUprobeDesc(dev, inode uint64, function string, offset uint64, isReturn bool) string {
	probeSeg := "return"
	if !isReturn {
		probeSeg = strconv.FormatUint(offset, 16)
	}
	return fmt.Sprintf("uprobe:%x_%x:%s:%s", dev, inode, function, probeSeg)
}

func (p *PIDUSDTProvider) Trampoline(u *probe.Underlying) (probe.TrampolineProgram, error) {
	if p.clauseCache == nil {
		p.clauseCache = trampoline.NewClauseCache()
	}
	return trampoline.BuildUprobe(u, p.clauseCache), nil
}

func (p *PIDUSDTProvider) Attach(u *probe.Underlying) error {
	if u.Uprobe == nil {
		return fmt.Errorf("%s: underlying %s has no uprobe site", p.name, u.CanonicalDesc)
	}
	site := backend.SiteSpec{
		Kind:     backend.SiteUprobe,
		IsReturn: u.Flags.IsReturn,
		Group:    "dt_pid",
		Name:     uprobeEventName(u),
		Path:     u.Uprobe.MappingPath,
		Offset:   u.Uprobe.Offset,
	}
	h, err := p.backend.Create(site)
	if err != nil {
		return fmt.Errorf("%s: create %s: %w", p.name, u.CanonicalDesc, err)
	}
	u.Backend = h
	return nil
}

func (p *PIDUSDTProvider) Detach(u *probe.Underlying) error {
	h, ok := u.Backend.(*backend.Handle)
	if !ok || h == nil {
		return nil
	}
	if err := p.backend.Detach(h); err != nil {
		return err
	}
	return p.backend.Destroy(h)
}

func (p *PIDUSDTProvider) ProbeDestroy(o *probe.Overlying) {}

func (p *PIDUSDTProvider) Enable(g *probe.Graph, o *probe.Overlying) error {
	g.Enable(o)
	return nil
}

func (p *PIDUSDTProvider) ProbeInfo(o *probe.Overlying) []probe.ArgDescriptor {
	if len(o.Underlying) == 0 || o.Underlying[0].Uprobe == nil {
		return nil
	}
	return o.Underlying[0].Uprobe.ArgDescs
}

func (p *PIDUSDTProvider) AddProbe(o *probe.Overlying) error {
	for _, u := range o.Underlying {
		prog, err := p.Trampoline(u)
		if err != nil {
			return fmt.Errorf("%s: compiling trampoline for %s: %w", p.name, u.CanonicalDesc, err)
		}
		u.Trampoline = prog
		if err := p.Attach(u); err != nil {
			return err
		}
	}
	return nil
}

func uprobeEventName(u *probe.Underlying) string {
	prefix := "p"
	if u.Flags.IsReturn {
		prefix = "r"
	}
	return fmt.Sprintf("%s_%d_%d_%#x", prefix, u.Uprobe.Device, u.Uprobe.Inode, u.Uprobe.Offset)
}

func statDevInode(path string) (dev, inode uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), st.Ino, nil
}

func listProcPIDs() ([]uint32, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var pids []uint32
	for _, e := range entries {
		pid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, uint32(pid))
	}
	return pids, nil
}

func procExePath(pid uint32) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}
