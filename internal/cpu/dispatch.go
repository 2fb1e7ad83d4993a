package cpu

import (
	_ "unsafe" // for go:linkname

	"nucleus/internal/kerr"
	"nucleus/internal/tlv"
)

// recordYield fills in the current CPU's yield_info from an exception
// trap (spec §4.4: "the common body records reason=exception, the
// vector as exception_type, the pushed error code or 0, and, for vector
// 14 only, the faulting address from CR2"). Called from commonStub
// in idt_stubs_amd64.s once the interrupted register file has been saved
// into the thread-local block.
//
// Double fault and machine check never return to the scheduler: both
// mean the CPU's own fault-handling state is no longer trustworthy, so
// this routes straight to kerr.Panic instead of recording a yield the
// scheduler would try to reschedule around (spec §7).
//
//go:linkname recordYield nucleus/internal/cpu.recordYield
func recordYield(vector uint8, errorCode uint64, cr2 uintptr) {
	switch Vector(vector) {
	case VectorDoubleFault:
		kerr.Panic("double fault")
	case VectorMachineCheck:
		kerr.Panic("machine check")
	}

	b := tlv.Self()
	b.YieldInfo.Reason = classify(vector)
	b.YieldInfo.ExceptionType = uint32(vector)
	b.YieldInfo.ErrorCode = errorCode
	if Vector(vector) == VectorPageFault {
		b.YieldInfo.PageFaultAddress = cr2
	} else {
		b.YieldInfo.PageFaultAddress = 0
	}
}

// numYieldSyscall and numExitSyscall mirror internal/syscall.NumYield
// and NumExit. cpu can't import internal/syscall (that package imports
// internal/proc, which this code must stay free of to keep the
// assembly-adjacent layer independent of process/address-space
// policy), so the two numbers that get special yield-reason treatment
// are duplicated here.
const (
	numYieldSyscall = 2
	numExitSyscall  = 3
)

// recordSyscallYield classifies a SYSCALL trap's yield reason from the
// syscall number already saved in the current process's RAX (spec
// §4.7): Yield is a no-op give-up-the-CPU, Exit asks the scheduler to
// free the process, anything else is a genuine request for the
// dispatch table. Called from SyscallEntry in context_amd64.s once the
// caller's register file has been saved into the TLV block.
//
//go:linkname recordSyscallYield nucleus/internal/cpu.recordSyscallYield
func recordSyscallYield(num uint64) {
	b := tlv.Self()
	switch num {
	case numYieldSyscall:
		b.YieldInfo.Reason = tlv.YieldSyscall
	case numExitSyscall:
		b.YieldInfo.Reason = tlv.YieldExitRequest
	default:
		b.YieldInfo.Reason = tlv.YieldSyscallRequest
	}
	b.YieldInfo.ExceptionType = 0
	b.YieldInfo.ErrorCode = 0
	b.YieldInfo.PageFaultAddress = 0
}

func classify(vector uint8) tlv.YieldReason {
	switch {
	case vector < 32:
		return tlv.YieldException
	case vector == irqTimerVector:
		return tlv.YieldTimerPreempt
	default:
		return tlv.YieldIRQ
	}
}

// irqTimerVector is the APIC timer's fixed delivery vector (spec §4.5),
// the one IRQ source that yields as a preemption rather than a generic
// IRQ so the scheduler can distinguish "my quantum expired" from "a
// device wants attention". IRQ vectors start at VectorIRQBase (128) —
// IDT.Init leaves 32-127 non-present — so the timer's slot is the first
// one past that base, not an offset from the legacy PIC's 0x20 base.
const irqTimerVector = uint8(VectorIRQBase) + 0

// syscallVector is never delivered through the IDT at all — SYSCALL
// bypasses gate dispatch entirely via the LSTAR MSR — but it shares the
// same YieldReason classification scheme, recorded directly by the
// SYSCALL entry stub instead of recordYield.
const syscallVector = 0x80
