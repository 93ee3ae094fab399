package provider

import (
	"strings"
	"testing"

	"github.com/thesamesam/dtrace-utils/internal/probe"
)

type fakeResolver struct {
	modules map[string]string
}

func (f *fakeResolver) ResolveModule(symbol string) (string, bool) {
	m, ok := f.modules[symbol]
	return m, ok
}

func TestParseFilterFunctionLine(t *testing.T) {
	cases := []struct {
		line    string
		wantFn  string
		wantMod string
		wantOK  bool
	}{
		{"sys_open", "sys_open", "", true},
		{"vfs_read [ext4]", "vfs_read", "ext4", true},
		{"", "", "", false},
		{"   ", "", "", false},
	}
	for _, tt := range cases {
		fn, mod, ok := parseFilterFunctionLine(tt.line)
		if ok != tt.wantOK || fn != tt.wantFn || mod != tt.wantMod {
			t.Errorf("parseFilterFunctionLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.line, fn, mod, ok, tt.wantFn, tt.wantMod, tt.wantOK)
		}
	}
}

func TestRawfbtExcluded(t *testing.T) {
	excluded := []string{
		"__ftrace_invalid_address__boot",
		"__probestub_sched_switch",
		"__traceiter_kfree",
	}
	for _, fn := range excluded {
		if !rawfbtExcluded(fn) {
			t.Errorf("rawfbtExcluded(%q) = false, want true", fn)
		}
	}
	if rawfbtExcluded("sys_open") {
		t.Error("rawfbtExcluded(\"sys_open\") = true, want false")
	}
}

func TestRawFBTProvider_PopulateFrom_InsertsEntryAndReturn(t *testing.T) {
	g := probe.NewGraph(probe.NewPRIDAllocator())
	p := NewRawFBTProvider(nil, &fakeResolver{modules: map[string]string{}})

	input := strings.NewReader("sys_open\nvfs_read [ext4]\n__probestub_sched_switch\n")
	if err := p.populateFrom(g, input); err != nil {
		t.Fatalf("populateFrom() error = %v", err)
	}

	if _, ok := g.Lookup(probe.Description{Provider: rawfbtName, Module: rawfbtDefaultModule, Function: "sys_open", Name: entryName}); !ok {
		t.Error("sys_open entry probe not inserted with default module")
	}
	if _, ok := g.Lookup(probe.Description{Provider: rawfbtName, Module: rawfbtDefaultModule, Function: "sys_open", Name: returnName}); !ok {
		t.Error("sys_open return probe not inserted")
	}
	if _, ok := g.Lookup(probe.Description{Provider: rawfbtName, Module: "ext4", Function: "vfs_read", Name: entryName}); !ok {
		t.Error("vfs_read entry probe not inserted with explicit module")
	}
	if _, ok := g.Lookup(probe.Description{Provider: rawfbtName, Function: "__probestub_sched_switch", Name: entryName}); ok {
		t.Error("excluded symbol should not be inserted")
	}
}

func TestRawFBTProvider_PopulateFrom_UsesResolver(t *testing.T) {
	g := probe.NewGraph(probe.NewPRIDAllocator())
	p := NewRawFBTProvider(nil, &fakeResolver{modules: map[string]string{"my_func": "mymod"}})

	if err := p.populateFrom(g, strings.NewReader("my_func\n")); err != nil {
		t.Fatalf("populateFrom() error = %v", err)
	}

	if _, ok := g.Lookup(probe.Description{Provider: rawfbtName, Module: "mymod", Function: "my_func", Name: entryName}); !ok {
		t.Error("resolver-provided module not used")
	}
}

func TestRawFBTProvider_PopulateFrom_DedupesDuplicateFunctionNames(t *testing.T) {
	g := probe.NewGraph(probe.NewPRIDAllocator())
	p := NewRawFBTProvider(nil, &fakeResolver{modules: map[string]string{}})

	if err := p.populateFrom(g, strings.NewReader("dup_fn\ndup_fn\n")); err != nil {
		t.Fatalf("populateFrom() error = %v", err)
	}
	// No error means the second sighting was silently skipped rather than
	// hitting ErrDuplicate, which populateFrom must swallow.
}

func TestKprobeSafeName(t *testing.T) {
	if got, want := kprobeSafeName("rawfbt:ext4:vfs_read.part.0:entry"), "rawfbt_ext4_vfs_read_part_0_entry"; got != want {
		t.Errorf("kprobeSafeName() = %q, want %q", got, want)
	}
}

func TestKprobeSymbol(t *testing.T) {
	if got, want := kprobeSymbol("rawfbt:ext4:vfs_read:entry"), "vfs_read"; got != want {
		t.Errorf("kprobeSymbol() = %q, want %q", got, want)
	}
}
