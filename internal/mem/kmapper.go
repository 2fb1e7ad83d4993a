package mem

import "nucleus/internal/kerr"

// KernelMapper owns the kernel's PML4 (spec §3 "Virtual mapper
// (kernel)"). It is used to map MMIO, extend the heap, and create
// temporary mapping windows. It does not restrict itself to the upper
// half: MapMMIO identity-maps at the device's physical address.
type KernelMapper struct {
	*PageAllocator
}

// NewKernelMapper wraps an already-initialized root table (reused from
// the bootloader's own mapping, per spec §2 dependency order) as the
// kernel mapper.
func NewKernelMapper(alloc *PageAllocator) *KernelMapper {
	return &KernelMapper{PageAllocator: alloc}
}

// MapMMIO identity-maps a device's physical register window into the
// kernel's address space as present|writable|cache-disable|write-through, returning the
// mapped virtual address (spec §8 scenario 2, "identity map MMIO").
func (k *KernelMapper) MapMMIO(phys uintptr, size uintptr) (uintptr, *kerr.Error) {
	flags := FlagWritable | FlagCacheDisable | FlagWriteThrough
	if err := k.MapRange(phys, phys, flags, size); err != nil {
		return 0, err
	}
	return phys, nil
}

// ExtendHeap maps size freshly-allocated physical frames starting at virt
// as kernel read/write data, for the separate linked-list heap allocator
// (out of scope, spec §1) to carve pages out of.
func (k *KernelMapper) ExtendHeap(virt uintptr, size uintptr) *kerr.Error {
	n := pageCount(virt, size)
	v := alignDown(virt)
	for i := 0; i < n; i++ {
		frame, err := k.ReservePage()
		if err != nil {
			return err
		}
		if err := k.MapRange(frame, v, FlagWritable, PageSize); err != nil {
			k.FreePage(frame)
			return err
		}
		v += PageSize
	}
	return nil
}

// UpperHalf returns a copy of the kernel's top-level table's upper 256
// PML4 entries (slots 256..511), used by UserMapper construction to give
// every process the same kernel view (spec §4.2(a), §8 invariant 3).
func (k *KernelMapper) UpperHalf() [level4KernelStart]PTE {
	var out [level4KernelStart]PTE
	t := k.tableAt(k.root)
	copy(out[:], t[level4KernelStart:])
	return out
}
