package provider

import (
	"context"
	"testing"

	"github.com/thesamesam/dtrace-utils/internal/probe"
)

func TestDtraceProvider_Populate_InsertsThreeSynthetics(t *testing.T) {
	g := probe.NewGraph(&probe.PRIDAllocator{})
	p := NewDtraceProvider()

	if err := p.Populate(context.Background(), g); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	if p.BeginPRID() == probe.NoPRID || p.EndPRID() == probe.NoPRID || p.ErrorPRID() == probe.NoPRID {
		t.Fatal("Populate() left a synthetic probe without a PRID")
	}
	if p.BeginPRID() == p.EndPRID() || p.EndPRID() == p.ErrorPRID() {
		t.Error("BEGIN/END/ERROR should each get a distinct PRID")
	}

	if _, ok := g.Lookup(probe.Description{Provider: "dtrace", Name: ProbeBegin}); !ok {
		t.Error("BEGIN probe not found by exact lookup after Populate")
	}
}

func TestDtraceProvider_Populate_SecondCallFails(t *testing.T) {
	g := probe.NewGraph(&probe.PRIDAllocator{})
	p := NewDtraceProvider()

	if err := p.Populate(context.Background(), g); err != nil {
		t.Fatalf("first Populate() error = %v", err)
	}
	if err := p.Populate(context.Background(), g); err == nil {
		t.Fatal("second Populate() should fail: BEGIN/END/ERROR already registered")
	}
}

func TestDtraceProvider_ProvideProbe_MatchesWildcard(t *testing.T) {
	g := probe.NewGraph(&probe.PRIDAllocator{})
	p := NewDtraceProvider()
	if err := p.Populate(context.Background(), g); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	matches, err := p.ProvideProbe(context.Background(), g, probe.Description{Provider: "dtrace", Name: "*"})
	if err != nil {
		t.Fatalf("ProvideProbe() error = %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("ProvideProbe() returned %d matches, want 3", len(matches))
	}
}

func TestDtraceProvider_Enable_AddsToEnablings(t *testing.T) {
	g := probe.NewGraph(&probe.PRIDAllocator{})
	p := NewDtraceProvider()
	if err := p.Populate(context.Background(), g); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	begin, _ := g.Lookup(probe.Description{Provider: "dtrace", Name: ProbeBegin})
	if err := p.Enable(g, begin); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if begin.State != probe.StateEnabled {
		t.Errorf("State = %v, want StateEnabled", begin.State)
	}

	found := false
	for _, e := range g.Enablings() {
		if e == begin {
			found = true
		}
	}
	if !found {
		t.Error("Enable() did not add BEGIN to the enablings list")
	}
}

func TestDtraceProvider_NoopHooks(t *testing.T) {
	p := NewDtraceProvider()
	if prog, err := p.Trampoline(nil); prog != nil || err != nil {
		t.Errorf("Trampoline() = %v, %v, want nil, nil", prog, err)
	}
	if err := p.Attach(nil); err != nil {
		t.Errorf("Attach() error = %v", err)
	}
	if err := p.Detach(nil); err != nil {
		t.Errorf("Detach() error = %v", err)
	}
	if err := p.AddProbe(nil); err != nil {
		t.Errorf("AddProbe() error = %v", err)
	}
	if info := p.ProbeInfo(nil); info != nil {
		t.Errorf("ProbeInfo() = %v, want nil", info)
	}
	p.ProbeDestroy(nil) // must not panic
}
