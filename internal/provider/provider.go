// Package provider implements the provider registry (spec §4.A): a
// fixed set of instrumentation families (kernel function boundary
// tracing, pid/USDT user-space tracing, the always-present "dtrace"
// pseudo-provider) registered in a deterministic order, each exposing the
// same tagged-capability callback record.
package provider

import (
	"context"
	"fmt"

	"github.com/thesamesam/dtrace-utils/internal/probe"
)

// Provider is the tagged-capability record every provider implementation
// exposes (spec §4.A, spec §9 "Dynamic dispatch across providers": model
// as a fixed-method-set interface rather than inheritance). Providers
// with no behaviour for a hook simply return nil/no-op from it.
type Provider interface {
	// Name is the provider's registration key (bounded length, spec
	// §4.A, compared by equality in the registry's lookup table).
	Name() string

	// Populate enumerates every statically-known probe at session
	// start (spec §4.A `populate`).
	Populate(ctx context.Context, g *probe.Graph) error

	// ProvideProbe enumerates probes matching a (possibly wildcarded)
	// description (spec §4.A `provide_probe`).
	ProvideProbe(ctx context.Context, g *probe.Graph, pattern probe.Description) ([]*probe.Overlying, error)

	// Discover runs one periodic reconciliation pass (spec §4.A
	// `discover`, driven by the discovery loop, spec §4.F).
	Discover(ctx context.Context, g *probe.Graph) error

	// Trampoline emits the VM program for an underlying probe (spec
	// §4.A `trampoline`, §4.D).
	Trampoline(u *probe.Underlying) (probe.TrampolineProgram, error)

	// Attach binds a compiled program to the underlying probe's kernel
	// site (spec §4.A `attach`).
	Attach(u *probe.Underlying) error

	// Detach unbinds it (spec §4.A `detach`).
	Detach(u *probe.Underlying) error

	// ProbeDestroy releases provider-owned per-probe storage (spec §4.A
	// `probe_destroy`).
	ProbeDestroy(o *probe.Overlying)

	// Enable marks an overlying probe active, recursively enabling its
	// underlyings (spec §4.A `enable`).
	Enable(g *probe.Graph, o *probe.Overlying) error

	// ProbeInfo reports argument descriptors for a probe (spec §4.A
	// `probe_info`).
	ProbeInfo(o *probe.Overlying) []probe.ArgDescriptor

	// AddProbe is the session-time hook invoked by discovery for every
	// newly-inserted probe: compile, load, and attach its program (spec
	// §4.A `add_probe`, §4.F step 4).
	AddProbe(o *probe.Overlying) error
}

// Registry is the open-addressed-by-name provider table (spec §4.A). Its
// registration order is preserved and is significant: "dtrace" must come
// first so BEGIN/END/ERROR PRIDs are allocated before any other provider
// runs Populate.
type Registry struct {
	byName map[string]Provider
	order  []Provider
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds a provider to the registry, preserving call order.
// Re-registering an existing name replaces it without reordering.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, p)
	} else {
		for i, existing := range r.order {
			if existing.Name() == name {
				r.order[i] = p
			}
		}
	}
	r.byName[name] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Ordered returns every registered provider in registration order.
func (r *Registry) Ordered() []Provider {
	return r.order
}

// PopulateAll runs Populate on every registered provider in order. On
// the first failure it stops and returns the wrapped error, which aborts
// session start (spec §4.A "Failure"); providers already populated are
// not released.
func (r *Registry) PopulateAll(ctx context.Context, g *probe.Graph) error {
	for _, p := range r.order {
		if err := p.Populate(ctx, g); err != nil {
			return fmt.Errorf("provider %q populate failed, aborting session start: %w", p.Name(), err)
		}
	}
	return nil
}
