package probe

// SiteFlags are the per-site flags carried by an underlying probe (spec
// §3).
type SiteFlags struct {
	IsReturn       bool
	IsFuncCall     bool
	IsEnabledQuery bool
	IsUSDT         bool
	HasArgMapping  bool
}

// ArgDescriptor describes one argument of an underlying probe (spec §3).
// NativeType/XlatType hold their own copies of the type strings;
// MappingIndex is the native argument this translated slot maps to.
type ArgDescriptor struct {
	NativeType   string
	XlatType     string
	MappingIndex int
	Flags        uint32
}

// UprobeSite carries the extra metadata a user-space underlying probe
// needs beyond the common Underlying fields (spec §3 "Uprobe site
// record").
type UprobeSite struct {
	Device      uint64
	Inode       uint64
	MappingPath string
	Offset      uint64

	// Function is the symbol containing this site, when known (spec §3
	// canonical uprobe description "uprobe:<dev>_<inode>:<function>:
	// <offset-or-return>"). Empty when the insertion path has no
	// symbolization available (a plain ELF-note USDT scan); the
	// function-name match in trampoline.ClassifyClause treats an empty
	// function as matching only an unconstrained clause pattern.
	Function string

	NativeArgc int
	ArgDescs   []ArgDescriptor
	// Arena holds the concatenated native+xlated argv blobs (spec §4.B
	// argument arena construction); ArgDescs own copies of their type
	// strings and do not reference it.
	Arena []byte
}

// uprobeKey identifies an underlying uprobe site uniquely (spec invariant
// 4: "Exactly one underlying probe per (device, inode, offset, is-return)
// tuple").
type uprobeKey struct {
	Device   uint64
	Inode    uint64
	Offset   uint64
	IsReturn bool
}

// BackendHandle is an opaque reference into the tracepoint backend (spec
// §4.C); its concrete type is backend.Handle, kept as interface{} here so
// the probe graph does not import the backend package.
type BackendHandle interface{}

// TrampolineProgram is the compiled VM program attached to this site
// (spec §4.D); kept opaque here for the same reason as BackendHandle.
type TrampolineProgram interface{}

// Underlying is a shared kernel instrumentation site: spec §3 "Underlying
// probe".
type Underlying struct {
	CanonicalDesc string
	Flags         SiteFlags

	// PRID is the underlying probe's own dense identifier ("uprid"),
	// drawn from the same session-wide counter as overlying PRIDs (spec
	// §3 "USDT per-process key/value", the `(pid, underlying-PRID)` key
	// into the kernel map `usdt_prids`).
	PRID PRID

	Backend    BackendHandle
	Trampoline TrampolineProgram
	Overlying  []*Overlying
	Uprobe     *UprobeSite // nil for non-uprobe sites (rawfbt, raw tracepoint)

	key uprobeKey
}

// Key exposes the uprobe site key for callers outside the package that
// need a stable identity for a uprobe site beyond its PRID (e.g. log
// correlation); the PRID itself is the value that belongs in kernel map
// keys.
func (u *Underlying) Key() (device, inode, offset uint64, isReturn bool) {
	return u.key.Device, u.key.Inode, u.key.Offset, u.key.IsReturn
}

func (u *Underlying) hasOverlying(o *Overlying) bool {
	for _, existing := range u.Overlying {
		if existing == o {
			return true
		}
	}
	return false
}

// usdtOverlyingCount returns how many fanned-out overlying probes carry
// the USDT tag (used to enforce invariant 5: at most one USDT overlying
// per underlying).
func (u *Underlying) usdtOverlyingCount() int {
	n := 0
	for _, o := range u.Overlying {
		if o.IsUSDT {
			n++
		}
	}
	return n
}
