// Package cpu implements the segment descriptor tables, the interrupt
// descriptor table and exception/IRQ entry stubs, and the context-switch
// assembly that the scheduler drives (spec §4.3, §4.4, §4.7). The
// assembly-backed pieces follow the teacher's convention of declaring a
// body-less Go function and implementing it in a companion *_amd64.s
// file (see gate_amd64.go in the retrieval pack for the same pattern).
package cpu

import "unsafe"

// Selector is a GDT/LDT segment selector: {index, TI, RPL}.
type Selector uint16

// Fixed GDT layout (spec §4.3). The 32-bit user-code slot exists only so
// SYSRET can reconstruct user CS/SS from STAR's 48-bit base encoding;
// 32-bit user code itself is never executed.
const (
	SelectorNull       Selector = 0x00
	SelectorKernelCode Selector = 0x08
	SelectorKernelData Selector = 0x10
	SelectorTSSLow     Selector = 0x18
	SelectorTSSHigh    Selector = 0x20 // occupies the next 8 bytes, not a real selector
	SelectorUserCode32 Selector = 0x28
	SelectorUserData   Selector = 0x30
	SelectorUserCode64 Selector = 0x38
	SelectorUserData64 Selector = 0x40

	gdtEntryCount = 9 // null, kcode, kdata, tss (2 slots), ucode32, udata, ucode64, udata64
)

// descriptor is one 8-byte GDT entry in the classic segment-descriptor
// encoding. Only the access byte and the long-mode/granularity flags
// matter on x86_64; base/limit are ignored by the CPU for everything
// except the TSS descriptor, which overlays two consecutive slots.
type descriptor uint64

const (
	accessPresent     = 1 << 7
	accessDPL3        = 3 << 5
	accessNotSystem   = 1 << 4 // code/data, not a system descriptor
	accessExecutable  = 1 << 3
	accessReadWrite   = 1 << 1
	accessAccessed    = 1 << 0
	flagsLongMode     = uint64(1) << 53 // bit 21 of the flags nibble, shifted into place below
	flagsDefaultBig32 = uint64(1) << 54
	flagsGranularity  = uint64(1) << 55
)

func flatDescriptor(access uint8, longMode, size32 bool) descriptor {
	d := uint64(access) << 40
	d |= uint64(0xF) << 48 // limit high nibble, flat segment
	if longMode {
		d |= flagsLongMode
	}
	if size32 {
		d |= flagsDefaultBig32
	}
	d |= flagsGranularity
	return descriptor(d)
}

// GDT is the fixed-size global descriptor table plus the TSS descriptor
// that occupies two of its slots.
type GDT struct {
	entries [gdtEntryCount]descriptor
}

// Init populates every fixed entry. tssBase is the linear address of the
// TSS struct (spec §4.3); it must already be mapped before Init runs.
func (g *GDT) Init(tssBase uintptr) {
	g.entries[0] = 0 // null
	g.entries[1] = flatDescriptor(accessPresent|accessNotSystem|accessExecutable|accessReadWrite, true, false)
	g.entries[2] = flatDescriptor(accessPresent|accessNotSystem|accessReadWrite, false, true)
	g.entries[3], g.entries[4] = tssDescriptorPair(tssBase, uint32(unsafe.Sizeof(TSS{})-1))
	g.entries[5] = flatDescriptor(accessPresent|accessDPL3|accessNotSystem|accessExecutable|accessReadWrite, false, true)
	g.entries[6] = flatDescriptor(accessPresent|accessDPL3|accessNotSystem|accessReadWrite, false, true)
	g.entries[7] = flatDescriptor(accessPresent|accessDPL3|accessNotSystem|accessExecutable|accessReadWrite, true, false)
	g.entries[8] = flatDescriptor(accessPresent|accessDPL3|accessNotSystem|accessReadWrite, false, true)
}

// tssDescriptorPair builds the 16-byte system descriptor (type 0x9,
// available 64-bit TSS) that occupies the TSS-low/TSS-high slots.
func tssDescriptorPair(base uintptr, limit uint32) (lo, hi descriptor) {
	b := uint64(base)
	l := uint64(limit)
	loVal := (l & 0xFFFF) | ((b & 0xFFFFFF) << 16)
	loVal |= uint64(0x89) << 40 // present, DPL0, type=0x9 (available 64-bit TSS)
	loVal |= ((l >> 16) & 0xF) << 48
	loVal |= ((b >> 24) & 0xFF) << 56
	hiVal := (b >> 32) & 0xFFFF_FFFF
	return descriptor(loVal), descriptor(hiVal)
}

// Pointer returns the {limit, base} value LGDT expects.
func (g *GDT) Pointer() (limit uint16, base uintptr) {
	return uint16(unsafe.Sizeof(g.entries) - 1), uintptr(unsafe.Pointer(&g.entries[0]))
}

// LoadGDT executes LGDT with the given pointer and reloads every segment
// register. Implemented in gdt_amd64.s.
//
//go:noescape
func LoadGDT(limit uint16, base uintptr, codeSelector, dataSelector Selector)

// LoadTSS executes LTR with the TSS selector. Implemented in gdt_amd64.s.
//
//go:noescape
func LoadTSS(selector Selector)
