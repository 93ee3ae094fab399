package trampoline

import "fmt"

// Builder accumulates instructions and mints unique local labels, the
// way the generator resolves "branch targets are local labels" (spec
// §4.D (b)).
type Builder struct {
	prog      Program
	labelSeq  int
	prefix    string
}

func NewBuilder(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Label mints a fresh, collision-free label name scoped to this program.
func (b *Builder) Label(hint string) string {
	b.labelSeq++
	return fmt.Sprintf("%s_%s_%d", b.prefix, hint, b.labelSeq)
}

func (b *Builder) emit(in Instr) {
	b.prog.Instrs = append(b.prog.Instrs, in)
}

func (b *Builder) Mark(label string) {
	b.emit(Instr{Op: OpLabel, Label: label})
}

func (b *Builder) LoadReg(slot int) {
	b.emit(Instr{Op: OpLoadReg, ArgSlot: slot})
}

func (b *Builder) LoadRetval() {
	b.emit(Instr{Op: OpLoadRetval})
}

func (b *Builder) SetArgSlot(slot int, literal uint64) {
	b.emit(Instr{Op: OpSetArgSlot, ArgSlot: slot, Literal: literal})
}

func (b *Builder) SetPRID(prid uint64) {
	b.emit(Instr{Op: OpSetPRID, Literal: prid})
}

// CmpPID emits a comparison that falls through to elseLabel when the
// current pid does not equal pid.
func (b *Builder) CmpPID(pid uint64, elseLabel string) {
	b.emit(Instr{Op: OpCmpPID, Literal: pid, Label: elseLabel})
}

// MapLookupUSDT emits the usdt_prids probe, falling through to
// absentLabel when the key is not present (spec §4.D (e)).
func (b *Builder) MapLookupUSDT(absentLabel string) {
	b.emit(Instr{Op: OpMapLookupUSDT, Label: absentLabel})
}

func (b *Builder) WriteUserWitness() {
	b.emit(Instr{Op: OpWriteUserWitness})
}

// CheckActivity emits the inactive-session early exit (spec §4.D (g)).
func (b *Builder) CheckActivity(exitLabel string) {
	b.emit(Instr{Op: OpCheckActivity, Label: exitLabel})
}

// CheckMaskBit emits the per-clause mask test, falling through to
// skipLabel when bit i is clear.
func (b *Builder) CheckMaskBit(clauseIdx int, skipLabel string) {
	b.emit(Instr{Op: OpCheckMaskBit, ClauseIdx: clauseIdx, Label: skipLabel})
}

func (b *Builder) ShiftMask() {
	b.emit(Instr{Op: OpShiftMask})
}

func (b *Builder) CallClause(idx int) {
	b.emit(Instr{Op: OpCallClause, ClauseIdx: idx})
}

func (b *Builder) Return() {
	b.emit(Instr{Op: OpReturn})
}

func (b *Builder) Build() *Program {
	return &b.prog
}
