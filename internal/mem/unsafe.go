package mem

import "unsafe"

// ptrFromUintptr and uintptrFromPtr are the only two points in this
// package that convert between uintptr and unsafe.Pointer. Centralizing
// them mirrors the teacher's castToPointer[T]/pointerToUintptr helpers in
// page.go: every other file works in the uintptr domain.
func ptrFromUintptr(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr) //nolint:govet // freestanding: addr is a physical/direct-mapped address, not a Go-managed allocation
}

func uintptrFromPtr(p unsafe.Pointer) uintptr {
	return uintptr(p)
}
