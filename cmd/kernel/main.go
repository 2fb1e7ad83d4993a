// Command kernel is the freestanding entry point. It never returns: once
// kernelMain finishes wiring every subsystem it loops forever, driving
// the scheduler one yield at a time and idling with hlt when nothing is
// runnable.
package main

import (
	"nucleus/internal/apic"
	"nucleus/internal/boot"
	"nucleus/internal/clock"
	"nucleus/internal/cpu"
	"nucleus/internal/initrd"
	"nucleus/internal/kerr"
	"nucleus/internal/klog"
	"nucleus/internal/mem"
	"nucleus/internal/sched"
	"nucleus/internal/syscall"
	"nucleus/internal/tlv"
)

// kernelMain wires every subsystem in dependency order (spec §2):
// paging -> page allocator -> kernel/user mappers -> GDT+TSS -> IDT ->
// APIC+clock manager -> TLV/yield_info -> process+scheduler -> syscall.
// args is handed over by the bootloader-call assembly in runtime_amd64.s.
func kernelMain(args *boot.KernelArgs) {
	klog.SetSink(earlyConsoleSink{})
	kerr.HaltFunc = func() {
		for {
			halt()
		}
	}

	if err := boot.Parse(args); err != nil {
		kerr.Panic(err.Error())
	}

	physBitmap := mem.NewBitmap(bitmapBacking(args.MemoryMap), bitmapPageCount(args.MemoryMap))
	physAlloc := mem.NewPageAllocator(physBitmap, args.PageTablePtr, identityTranslate, invalidatePage)
	kernelMapper := mem.NewKernelMapper(physAlloc)

	var tssStacks cpu.Stacks
	var tss cpu.TSS
	tss.Init(&tssStacks)

	var gdt cpu.GDT
	gdt.Init(addrOf(&tss))
	gdtLimit, gdtBase := gdt.Pointer()
	cpu.LoadGDT(gdtLimit, gdtBase, cpu.SelectorKernelCode, cpu.SelectorKernelData)
	cpu.LoadTSS(cpu.SelectorTSSLow)

	var idt cpu.IDT
	idt.Init(cpu.SelectorKernelCode)
	idtLimit, idtBase := idt.Pointer()
	cpu.LoadIDT(idtLimit, idtBase)

	madt, err := apic.ParseMADT(acpiTableBytes(args.Arch.ACPIPtr))
	if err != nil {
		kerr.Panic(err.Error())
	}
	lapicPhys, err := kernelMapper.MapMMIO(uintptr(madt.LocalAPICAddress), mem.PageSize)
	if err != nil {
		kerr.Panic(err.Error())
	}
	lapic := apic.NewLocalAPIC(mmioView{base: lapicPhys}, 0xFF)

	vectors := apic.NewVectorAllocator()
	ioapics := make([]*apic.IOAPIC, 0, len(madt.IOAPICs))
	for _, e := range madt.IOAPICs {
		ioBase, err := kernelMapper.MapMMIO(uintptr(e.Address), mem.PageSize)
		if err != nil {
			kerr.Panic(err.Error())
		}
		ioapics = append(ioapics, apic.NewIOAPIC(mmioView{base: ioBase}, e.GSIBase))
	}
	wireLegacyIRQs(vectors, ioapics, madt.Overrides)

	clockMgr, err := clock.NewManager(clockCandidates(lapic)...)
	if err != nil {
		kerr.Panic(err.Error())
	}
	klog.Logf(klog.Info, "boot", "clock backend: %s", clockMgr.BackendName())

	var block tlv.Block
	block.Init()
	installGSBase(&block)

	files, err := initrd.Parse(readBuffer(args.Initrd))
	if err != nil {
		kerr.Panic(err.Error())
	}
	klog.Logf(klog.Info, "boot", "initrd: %d files", len(files))

	scheduler := sched.New(syscall.NewTable())

	cpu.InitSyscall(syscallEntryAddr(), cpu.SelectorKernelCode, cpu.SelectorUserCode32)

	for {
		// Arm one quantum's worth of preemption before handing control to
		// the next process (spec §4.5/§8 Scenario 5); a backend that
		// can't accept a countdown (e.g. the raw-TSC fallback mid-boot)
		// just never interrupts, so the process runs until it yields on
		// its own.
		if err := clockMgr.StartCountdown(schedulerQuantumMs); err != nil {
			klog.Logf(klog.Warn, "sched", "quantum timer not armed: %s", err.Message)
		}
		scheduler.Run(cpuReturnAdapter{}, &block)
		halt()
	}
}

// schedulerQuantumMs is the preemption quantum (spec §4.5/§4.7): how
// long a process runs before the scheduler forces a reschedule.
const schedulerQuantumMs = 10

type cpuReturnAdapter struct{}

func (cpuReturnAdapter) ReturnToUser(pageTableRoot uintptr) {
	cpu.ReturnToUser(pageTableRoot)
}

// main exists only to satisfy the `package main` convention; the real
// entry point is kernelEntry, called directly from runtime_amd64.s before
// the Go runtime's normal program-start machinery would otherwise run.
func main() {}

// kernelEntry is called from _start with the bootloader-supplied
// KernelArgs pointer (passed in RDI per the bootloader's calling
// convention) already resolved into a Go pointer by the assembly stub.
func kernelEntry(args *boot.KernelArgs) {
	kernelMain(args)
}
