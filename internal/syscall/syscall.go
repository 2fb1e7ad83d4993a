// Package syscall implements the kernel-side system call dispatch
// table (spec §4.8, §6): a small, fixed set of numbered calls, bounds-
// checked against the table before dispatch.
package syscall

import (
	"nucleus/internal/klog"
	"nucleus/internal/proc"
)

// Numbers, per spec §6/§8. NumYield and NumExit are classified into
// their own YieldReason (tlv.YieldSyscall, tlv.YieldExitRequest) by
// internal/cpu.recordSyscallYield before the trap ever reaches
// Dispatch, so neither has — or needs — a table entry here; the
// numbers are still reserved here as the source of truth cpu's mirror
// constants cite.
const (
	NumGetPID = 0
	NumDebug  = 1
	NumYield  = 2
	NumExit   = 3
)

// unknownResult is returned for any syscall number outside the table
// (spec §4.8: "an out-of-range or unallocated index returns -1 rather
// than trapping").
const unknownResult = ^uint64(0) // -1 as uint64

// Handler services one syscall number given the calling process and its
// argument registers (RDI, RSI, RDX, per the SYSCALL ABI this kernel
// uses), returning the value placed back into RAX.
type Handler func(p *proc.Process, arg0, arg1, arg2 uint64) uint64

// Table is the fixed dispatch table, indexed directly by syscall
// number; a nil entry behaves exactly like an out-of-range number.
// NumYield and NumExit have no slot here — they're classified into
// their own YieldReason before a trap ever reaches Dispatch, so they
// never index into handlers.
type Table struct {
	handlers [2]Handler
}

// NewTable returns a table with the built-in dispatched syscalls wired
// up.
func NewTable() *Table {
	t := &Table{}
	t.handlers[NumGetPID] = getPID
	t.handlers[NumDebug] = debug
	return t
}

// Dispatch bounds-checks num against the table and invokes the matching
// handler, or returns unknownResult.
func (t *Table) Dispatch(p *proc.Process, num uint64, arg0, arg1, arg2 uint64) uint64 {
	if num >= uint64(len(t.handlers)) {
		return unknownResult
	}
	h := t.handlers[num]
	if h == nil {
		return unknownResult
	}
	return h(p, arg0, arg1, arg2)
}

func getPID(p *proc.Process, _, _, _ uint64) uint64 {
	return p.ID
}

// maxDebugLen caps how much of a process's claimed buffer Debug will
// ever read and log in one call, regardless of the rsi it was handed.
const maxDebugLen = 256

// debug reads the rsi-byte buffer at user pointer rdi and logs it at
// Info level (spec §4.8 "Debug(rdi=ptr, rsi=len), logs the message,
// returns 0"). A pointer into memory the process never mapped, or a
// length that runs off the end of what is mapped, just truncates the
// logged message rather than faulting — this handler runs with the
// calling process's page table still live.
func debug(p *proc.Process, arg0, arg1, _ uint64) uint64 {
	n := arg1
	if n > maxDebugLen {
		n = maxDebugLen
	}
	buf := make([]byte, n)
	read := 0
	if p.Mapper != nil {
		read = p.Mapper.ReadBuffer(uintptr(arg0), buf)
	}
	klog.Logf(klog.Info, "syscall", "debug from pid %d: %s", p.ID, string(buf[:read]))
	return 0
}
