package probe

import "strings"

// BuildArena concatenates the native and translated argv blobs supplied
// by the DOF parser (or a provider's own static argument list) into one
// per-site arena, and builds the descriptor array alongside it, each
// descriptor holding its own copy of its type strings (spec §4.B
// "Argument arena construction").
//
// argMap, if non-empty, maps translated slot i to native argument index
// argMap[i]; a mismatch between argMap[i] and i makes the returned
// hasMapping true.
func BuildArena(nativeArgv, xlatArgv []string, argMap []int8) (arena []byte, descs []ArgDescriptor, hasMapping bool) {
	var b strings.Builder
	nativeOffsets := make([]int, len(nativeArgv))
	for i, a := range nativeArgv {
		nativeOffsets[i] = b.Len()
		b.WriteString(a)
		b.WriteByte(0)
	}
	xlatOffsets := make([]int, len(xlatArgv))
	for i, a := range xlatArgv {
		xlatOffsets[i] = b.Len()
		b.WriteString(a)
		b.WriteByte(0)
	}
	arena = []byte(b.String())

	n := len(xlatArgv)
	if n == 0 {
		n = len(nativeArgv)
	}
	descs = make([]ArgDescriptor, 0, n)

	for i := 0; i < n; i++ {
		mappingIndex := i
		if i < len(argMap) {
			mappingIndex = int(argMap[i])
		}
		d := ArgDescriptor{MappingIndex: mappingIndex}
		if mappingIndex >= 0 && mappingIndex < len(nativeArgv) {
			d.NativeType = nativeArgv[mappingIndex]
		}
		if i < len(xlatArgv) {
			d.XlatType = xlatArgv[i]
		} else if mappingIndex >= 0 && mappingIndex < len(nativeArgv) {
			d.XlatType = nativeArgv[mappingIndex]
		}
		if mappingIndex != i {
			hasMapping = true
		}
		descs = append(descs, d)
	}

	return arena, descs, hasMapping
}

// ArenaString returns the \0-terminated string starting at offset within
// arena. An out-of-range offset returns "" rather than panicking, mirroring
// the built-in runtime's string-table clamp behaviour (spec §4.E).
func ArenaString(arena []byte, offset int) string {
	if offset < 0 || offset >= len(arena) {
		return ""
	}
	end := offset
	for end < len(arena) && arena[end] != 0 {
		end++
	}
	return string(arena[offset:end])
}
