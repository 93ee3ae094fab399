package trampoline

import "github.com/thesamesam/dtrace-utils/internal/probe"

// BuildFBT emits the kernel function boundary tracing trampoline (spec
// §4.D "Kernel function boundary tracing trampoline"): entry probes copy
// the first 6 registers into the arg slots, return probes copy the
// return value into slot 1 and mark slot 0 unrecoverable, then every
// fanned-out clause runs unconditionally.
func BuildFBT(u *probe.Underlying) *Program {
	b := NewBuilder("fbt")

	if u.Flags.IsReturn {
		b.SetArgSlot(0, ^uint64(0))
		b.LoadRetval()
	} else {
		for reg := 0; reg < 6; reg++ {
			b.LoadReg(reg)
		}
	}

	for _, o := range u.Overlying {
		b.SetPRID(uint64(o.PRID))
		for i := range o.Clauses {
			b.CallClause(i)
		}
	}

	b.Return()
	return b.Build()
}
