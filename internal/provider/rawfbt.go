package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/thesamesam/dtrace-utils/internal/backend"
	"github.com/thesamesam/dtrace-utils/internal/config"
	"github.com/thesamesam/dtrace-utils/internal/probe"
	"github.com/thesamesam/dtrace-utils/internal/trampoline"
)

const (
	rawfbtName          = "rawfbt"
	rawfbtDefaultModule = "vmlinux"

	entryName  = "entry"
	returnName = "return"
)

// rawfbtExcludedPrefixes are function-list entries the original source
// weeds out because they do not correspond to traceable, stable kernel
// symbols.
var rawfbtExcludedPrefixes = []string{
	"__ftrace_invalid_address__",
	"__probestub_",
	"__traceiter_",
}

// ModuleResolver maps a kernel symbol to the module that defines it, the
// way dtrace_lookup_by_name(DTRACE_OBJ_KMODS, ...) does. KallsymsResolver
// is the real implementation; tests supply a map-backed fake.
type ModuleResolver interface {
	ResolveModule(symbol string) (module string, ok bool)
}

// RawFBTProvider implements kernel function boundary tracing over every
// symbol tracefs exposes as kprobe-able (spec §4.A, grounded on the raw
// function boundary tracing provider).
type RawFBTProvider struct {
	backend  backend.Controller
	resolver ModuleResolver
	listPath string
}

func NewRawFBTProvider(b backend.Controller, resolver ModuleResolver) *RawFBTProvider {
	return &RawFBTProvider{
		backend:  b,
		resolver: resolver,
		listPath: config.AvailFilterFuncs,
	}
}

func (p *RawFBTProvider) Name() string { return rawfbtName }

// Populate scans the kernel's function list and inserts an entry and a
// return overlying probe for every eligible symbol.
func (p *RawFBTProvider) Populate(ctx context.Context, g *probe.Graph) error {
	f, err := os.Open(p.listPath)
	if os.IsNotExist(err) {
		return nil // rawfbt unsupported on this kernel; not fatal
	}
	if err != nil {
		return fmt.Errorf("rawfbt: opening %s: %w", p.listPath, err)
	}
	defer f.Close()

	return p.populateFrom(g, f)
}

func (p *RawFBTProvider) populateFrom(g *probe.Graph, r io.Reader) error {
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fn, mod, ok := parseFilterFunctionLine(scanner.Text())
		if !ok {
			continue
		}
		if rawfbtExcluded(fn) {
			continue
		}
		if mod == "" {
			if resolved, ok := p.resolver.ResolveModule(fn); ok {
				mod = resolved
			} else {
				mod = rawfbtDefaultModule
			}
		}

		// Duplicate function names across modules can't be disambiguated
		// by the kernel's kprobe_events grammar; keep the first sighting.
		if seen[fn] {
			continue
		}
		seen[fn] = true

		if err := p.insertPair(g, mod, fn); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (p *RawFBTProvider) insertPair(g *probe.Graph, mod, fn string) error {
	for _, kind := range []string{entryName, returnName} {
		desc := probe.Description{Provider: rawfbtName, Module: mod, Function: fn, Name: kind}
		o, err := g.Insert(desc, rawfbtName, nil)
		if err != nil {
			if err == probe.ErrDuplicate {
				continue
			}
			return fmt.Errorf("rawfbt: inserting %s: %w", desc, err)
		}
		canonical := fmt.Sprintf("rawfbt:%s:%s:%s", mod, fn, kind)
		u := g.LookupOrCreateSite(canonical, probe.SiteFlags{IsReturn: kind == returnName, IsFuncCall: true})
		if err := g.FanoutAdd(o, u); err != nil {
			return fmt.Errorf("rawfbt: fanout %s: %w", desc, err)
		}
	}
	return nil
}

// parseFilterFunctionLine parses one line of available_filter_functions:
// either "funcname" or "funcname [modname]".
func parseFilterFunctionLine(line string) (fn, mod string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	if i := strings.IndexByte(line, ' '); i >= 0 {
		fn = line[:i]
		mod = strings.TrimSuffix(strings.TrimPrefix(line[i+1:], "["), "]")
		return fn, mod, true
	}
	return line, "", true
}

func rawfbtExcluded(fn string) bool {
	for _, prefix := range rawfbtExcludedPrefixes {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}

// ProvideProbe returns no probes: rawfbt probes are created only by
// Populate, and rawfbt has no lazy/on-demand discovery.
func (p *RawFBTProvider) ProvideProbe(ctx context.Context, g *probe.Graph, pattern probe.Description) ([]*probe.Overlying, error) {
	return nil, nil
}

// Discover is a no-op: the kernel's function list is read once at
// session start.
func (p *RawFBTProvider) Discover(ctx context.Context, g *probe.Graph) error { return nil }

// Trampoline emits the VM program for a kernel function boundary site
// (spec §4.D); the compiler itself lives in internal/trampoline.
func (p *RawFBTProvider) Trampoline(u *probe.Underlying) (probe.TrampolineProgram, error) {
	return trampoline.BuildFBT(u), nil
}

func (p *RawFBTProvider) Attach(u *probe.Underlying) error {
	site := backend.SiteSpec{
		Kind:     backend.SiteKprobe,
		IsReturn: u.Flags.IsReturn,
		Group:    "rawfbt",
		Name:     kprobeSafeName(u.CanonicalDesc),
		Symbol:   kprobeSymbol(u.CanonicalDesc),
	}
	h, err := p.backend.Create(site)
	if err != nil {
		return fmt.Errorf("rawfbt: create %s: %w", u.CanonicalDesc, err)
	}
	u.Backend = h
	return nil
}

func (p *RawFBTProvider) Detach(u *probe.Underlying) error {
	h, ok := u.Backend.(*backend.Handle)
	if !ok || h == nil {
		return nil
	}
	if err := p.backend.Detach(h); err != nil {
		return err
	}
	return p.backend.Destroy(h)
}

func (p *RawFBTProvider) ProbeDestroy(o *probe.Overlying) {}

func (p *RawFBTProvider) Enable(g *probe.Graph, o *probe.Overlying) error {
	g.Enable(o)
	return nil
}

func (p *RawFBTProvider) ProbeInfo(o *probe.Overlying) []probe.ArgDescriptor {
	if len(o.Underlying) == 0 || o.Underlying[0].Uprobe == nil {
		return nil
	}
	return o.Underlying[0].Uprobe.ArgDescs
}

func (p *RawFBTProvider) AddProbe(o *probe.Overlying) error {
	for _, u := range o.Underlying {
		prog, err := p.Trampoline(u)
		if err != nil {
			return fmt.Errorf("rawfbt: compiling trampoline for %s: %w", u.CanonicalDesc, err)
		}
		u.Trampoline = prog
		if err := p.Attach(u); err != nil {
			return err
		}
	}
	return nil
}

// kprobeSafeName and kprobeSymbol derive the tracefs event name from a
// canonical description, replacing characters the kprobe_events grammar
// rejects in event names ('.' and ':').
func kprobeSafeName(canonical string) string {
	return strings.NewReplacer(".", "_", ":", "_").Replace(canonical)
}

func kprobeSymbol(canonical string) string {
	// canonical is "rawfbt:<module>:<function>:<entry|return>".
	parts := strings.Split(canonical, ":")
	if len(parts) < 3 {
		return canonical
	}
	return parts[2]
}

// KallsymsResolver resolves a module name for a kernel symbol by scanning
// /proc/kallsyms, matching the original's dtrace_lookup_by_name lookup
// for symbols whose module name is not already present in the function
// list line (spec §4.A rawfbt grounding).
type KallsymsResolver struct {
	path string
}

func NewKallsymsResolver() *KallsymsResolver {
	return &KallsymsResolver{path: "/proc/kallsyms"}
}

// ResolveModule scans kallsyms for symbol and returns its module, stripped
// of the surrounding brackets kallsyms itself uses. For synthetic symbol
// names (containing '.'), only the base name before the '.' is looked up,
// since the suffix is a compiler-generated disambiguator not present in
// kallsyms.
func (r *KallsymsResolver) ResolveModule(symbol string) (string, bool) {
	base := symbol
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		base = symbol[:i]
	}

	f, err := os.Open(r.path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[2] != base {
			continue
		}
		return strings.Trim(fields[3], "[]"), true
	}
	return "", false
}
