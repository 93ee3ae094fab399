package probe

import (
	"errors"
	"testing"
)

func TestGraph_InsertLookupDestroy(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())
	desc := Description{"rawfbt", "vmlinux", "do_nanosleep", "entry"}

	o, err := g.Insert(desc, "rawfbt", nil)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if o.PRID == NoPRID {
		t.Error("expected non-zero PRID")
	}

	got, ok := g.Lookup(desc)
	if !ok || got != o {
		t.Error("Lookup() did not return inserted probe")
	}

	g.Destroy(o)
	if _, ok := g.Lookup(desc); ok {
		t.Error("Lookup() should fail after Destroy()")
	}
}

func TestGraph_Insert_Duplicate(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())
	desc := Description{"rawfbt", "vmlinux", "do_nanosleep", "entry"}

	if _, err := g.Insert(desc, "rawfbt", nil); err != nil {
		t.Fatalf("first Insert() error = %v", err)
	}
	if _, err := g.Insert(desc, "rawfbt", nil); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Insert() error = %v, want ErrDuplicate", err)
	}
}

func TestGraph_FanoutAdd_Symmetric(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())
	desc := Description{"rawfbt", "vmlinux", "do_nanosleep", "entry"}
	o, _ := g.Insert(desc, "rawfbt", nil)
	u := g.LookupOrCreateSite("rawfbt:vmlinux:do_nanosleep:entry", SiteFlags{})

	if err := g.FanoutAdd(o, u); err != nil {
		t.Fatalf("FanoutAdd() error = %v", err)
	}
	if !o.hasUnderlying(u) || !u.hasOverlying(o) {
		t.Error("fan-out links are not symmetric")
	}
}

func TestGraph_FanoutAdd_Idempotent(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())
	o, _ := g.Insert(Description{"rawfbt", "vmlinux", "f", "entry"}, "rawfbt", nil)
	u := g.LookupOrCreateSite("rawfbt:vmlinux:f:entry", SiteFlags{})

	g.FanoutAdd(o, u)
	g.FanoutAdd(o, u)

	if len(o.Underlying) != 1 || len(u.Overlying) != 1 {
		t.Errorf("expected idempotent fan-out, got %d underlying, %d overlying", len(o.Underlying), len(u.Overlying))
	}
}

func TestGraph_FanoutAdd_DuplicateUSDT(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())
	u := g.LookupOrCreateSite("uprobe:1_2:place", SiteFlags{IsUSDT: true})

	o1, _ := g.Insert(Description{"test_prov1", "a.out", "main", "place"}, "pid", nil)
	o1.IsUSDT = true
	o2, _ := g.Insert(Description{"test_prov2", "a.out", "main", "place"}, "pid", nil)
	o2.IsUSDT = true

	if err := g.FanoutAdd(o1, u); err != nil {
		t.Fatalf("first FanoutAdd() error = %v", err)
	}
	if err := g.FanoutAdd(o2, u); !errors.Is(err, ErrDuplicateUSDT) {
		t.Errorf("second USDT FanoutAdd() error = %v, want ErrDuplicateUSDT", err)
	}
}

func TestGraph_LookupOrCreateUprobe_SingleUnderlyingPerKey(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())

	u1 := g.LookupOrCreateUprobe("uprobe:fe01_77:main:400100", "main", 0xfe01, 0x77, 0x400100, false, []string{"int"}, nil, nil)
	u2 := g.LookupOrCreateUprobe("uprobe:fe01_77:main:400100", "main", 0xfe01, 0x77, 0x400100, false, []string{"int", "char*"}, nil, nil)

	if u1 != u2 {
		t.Error("expected the same underlying probe for identical (dev, inode, offset, is-return)")
	}
	if u1.Uprobe.NativeArgc != 1 {
		t.Errorf("NativeArgc = %d, want 1 (metadata from first creation only)", u1.Uprobe.NativeArgc)
	}
}

func TestGraph_Disable_RemovesFanoutKeepsRecord(t *testing.T) {
	g := NewGraph(NewPRIDAllocator())
	desc := Description{"rawfbt", "vmlinux", "f", "entry"}
	o, _ := g.Insert(desc, "rawfbt", nil)
	u := g.LookupOrCreateSite("rawfbt:vmlinux:f:entry", SiteFlags{})
	g.FanoutAdd(o, u)
	g.Enable(o)

	g.Disable(o)

	if len(o.Underlying) != 0 {
		t.Error("Disable() should clear underlying fan-out")
	}
	if _, ok := g.Lookup(desc); !ok {
		t.Error("Disable() should keep the probe record looked-up by description")
	}
	for _, e := range g.Enablings() {
		if e == o {
			t.Error("Disable() should remove probe from enablings list")
		}
	}
}

func TestBuildArena_MappingMismatchSetsFlag(t *testing.T) {
	native := []string{"int", "char*", "long"}
	xlat := []string{"int", "string"}
	argMap := []int8{0, 2}

	arena, descs, hasMapping := BuildArena(native, xlat, argMap)
	if !hasMapping {
		t.Error("expected HasArgMapping to be set when mapping index != slot index")
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if len(arena) == 0 {
		t.Error("expected non-empty arena")
	}
}

func TestArenaString_OutOfRangeClampsEmpty(t *testing.T) {
	arena := []byte("hello\x00world\x00")
	if got := ArenaString(arena, 0); got != "hello" {
		t.Errorf("ArenaString(0) = %q, want hello", got)
	}
	if got := ArenaString(arena, 6); got != "world" {
		t.Errorf("ArenaString(6) = %q, want world", got)
	}
	if got := ArenaString(arena, 1000); got != "" {
		t.Errorf("ArenaString(out-of-range) = %q, want empty", got)
	}
	if got := ArenaString(arena, -1); got != "" {
		t.Errorf("ArenaString(-1) = %q, want empty", got)
	}
}

func TestPRIDAllocator_DenseAndMonotonic(t *testing.T) {
	a := NewPRIDAllocator()
	p1 := a.Alloc()
	p2 := a.Alloc()
	if p1 == NoPRID || p2 == NoPRID {
		t.Fatal("allocated PRID should never be zero")
	}
	if p2 <= p1 {
		t.Errorf("expected monotonically increasing PRIDs, got %d then %d", p1, p2)
	}
	if a.HighWater() != p2 {
		t.Errorf("HighWater() = %d, want %d", a.HighWater(), p2)
	}
}
