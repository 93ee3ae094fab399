package bvar

type fakeHelpers struct {
	task        uint64
	pidTgid     uint64
	uidGid      uint64
	ktime       uint64
	callerPC    uint64
	callerOK    bool
	mem         map[uint64]uint64
	mem32       map[uint64]uint32
	parentOff   uint32
	tgidOff     uint32
	offsetsOK   bool
	probeStrs   map[uint32]ProbeStrings
	stringTable []byte
	cpuInfoPtr  uint64
	cpuInfoOK   bool
}

func newFakeHelpers() *fakeHelpers {
	return &fakeHelpers{
		mem:       make(map[uint64]uint64),
		mem32:     make(map[uint64]uint32),
		probeStrs: make(map[uint32]ProbeStrings),
	}
}

func (f *fakeHelpers) CurrentTask() uint64        { return f.task }
func (f *fakeHelpers) CurrentPidTgid() uint64      { return f.pidTgid }
func (f *fakeHelpers) CurrentUidGid() uint64       { return f.uidGid }
func (f *fakeHelpers) KtimeNS() uint64             { return f.ktime }
func (f *fakeHelpers) CallerPC() (uint64, bool)    { return f.callerPC, f.callerOK }
func (f *fakeHelpers) StringTable() []byte         { return f.stringTable }
func (f *fakeHelpers) CurCPUInfo() (uint64, bool)  { return f.cpuInfoPtr, f.cpuInfoOK }

func (f *fakeHelpers) ReadUint64(addr uint64) (uint64, bool) {
	v, ok := f.mem[addr]
	return v, ok
}

func (f *fakeHelpers) ReadUint32(addr uint64) (uint32, bool) {
	v, ok := f.mem32[addr]
	return v, ok
}

func (f *fakeHelpers) TaskOffsets() (uint32, uint32, bool) {
	return f.parentOff, f.tgidOff, f.offsetsOK
}

func (f *fakeHelpers) ProbeStrings(prid uint32) (ProbeStrings, bool) {
	s, ok := f.probeStrs[prid]
	return s, ok
}
