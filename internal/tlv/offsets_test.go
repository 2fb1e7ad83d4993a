package tlv

import (
	"testing"
	"unsafe"
)

// These offsets are read directly by hand-written assembly in
// internal/cpu (commonStub, ReturnToUser/returnToKernel, and the
// SYSCALL entry point). A Go-level
// struct reorder that silently breaks one of them would only show up
// as a corrupted register file at runtime, so every field assembly
// touches gets a static assertion here instead.
func TestBlockLayout(t *testing.T) {
	var b Block

	assertOffset(t, "SelfPointer", unsafe.Offsetof(b.SelfPointer), 0)
	assertOffset(t, "CurrentProcess.ID", unsafe.Offsetof(b.CurrentProcess)+unsafe.Offsetof(b.CurrentProcess.ID), unsafe.Offsetof(b.CurrentProcess))
	assertOffset(t, "CurrentProcess.Registers.RAX",
		unsafe.Offsetof(b.CurrentProcess)+unsafe.Offsetof(b.CurrentProcess.Registers)+unsafe.Offsetof(b.CurrentProcess.Registers.RAX),
		unsafe.Offsetof(b.CurrentProcess)+unsafe.Offsetof(b.CurrentProcess.Registers))
	assertOffset(t, "CurrentProcess.PageMapper.PageTable",
		unsafe.Offsetof(b.CurrentProcess)+unsafe.Offsetof(b.CurrentProcess.PageMapper)+unsafe.Offsetof(b.CurrentProcess.PageMapper.PageTable),
		unsafe.Offsetof(b.CurrentProcess)+unsafe.Offsetof(b.CurrentProcess.PageMapper))

	vecOff := unsafe.Offsetof(b.CurrentProcess) + unsafe.Offsetof(b.CurrentProcess.VectorStore)
	if vecOff%16 != 0 {
		t.Fatalf("CurrentProcess.VectorStore must be 16-byte aligned for FXSAVE, got offset %d", vecOff)
	}
	if unsafe.Sizeof(b.CurrentProcess.VectorStore.data) != vectorStoreSize {
		t.Fatalf("vector store size = %d, want %d", unsafe.Sizeof(b.CurrentProcess.VectorStore.data), vectorStoreSize)
	}

	kmpOff := unsafe.Offsetof(b.KernelMainProcess)
	assertOffset(t, "KernelMainProcess.RBX", kmpOff+unsafe.Offsetof(b.KernelMainProcess.RBX), kmpOff)
	assertOffset(t, "KernelMainProcess.RBP", kmpOff+unsafe.Offsetof(b.KernelMainProcess.RBP), kmpOff+8)
	assertOffset(t, "KernelMainProcess.R12", kmpOff+unsafe.Offsetof(b.KernelMainProcess.R12), kmpOff+16)
	assertOffset(t, "KernelMainProcess.R13", kmpOff+unsafe.Offsetof(b.KernelMainProcess.R13), kmpOff+24)
	assertOffset(t, "KernelMainProcess.R14", kmpOff+unsafe.Offsetof(b.KernelMainProcess.R14), kmpOff+32)
	assertOffset(t, "KernelMainProcess.R15", kmpOff+unsafe.Offsetof(b.KernelMainProcess.R15), kmpOff+40)
	assertOffset(t, "KernelMainProcess.KernelRSP", kmpOff+unsafe.Offsetof(b.KernelMainProcess.KernelRSP), kmpOff+48)
	assertOffset(t, "KernelMainProcess.ReturnRIP", kmpOff+unsafe.Offsetof(b.KernelMainProcess.ReturnRIP), kmpOff+56)
	assertOffset(t, "KernelMainProcess.FS", kmpOff+unsafe.Offsetof(b.KernelMainProcess.FS), kmpOff+64)

	yiOff := unsafe.Offsetof(b.YieldInfo)
	assertOffset(t, "YieldInfo.Reason", yiOff+unsafe.Offsetof(b.YieldInfo.Reason), yiOff)
}

func assertOffset(t *testing.T, field string, got, want uintptr) {
	t.Helper()
	if got != want {
		t.Fatalf("%s offset = %d, want %d", field, got, want)
	}
}

func TestInitSetsSelfPointer(t *testing.T) {
	var b Block
	b.Init()
	if b.SelfPointer != uintptr(unsafe.Pointer(&b)) {
		t.Fatalf("SelfPointer = %#x, want %#x", b.SelfPointer, uintptr(unsafe.Pointer(&b)))
	}
}
