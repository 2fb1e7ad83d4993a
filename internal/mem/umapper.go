package mem

import "nucleus/internal/kerr"

// UserMapper extends PageAllocator with the three guarantees spec §4.2
// names: a shared, immutable upper half; buffer-backed mapping for ELF
// segment loading; and recursive unmap that frees emptied parent tables.
type UserMapper struct {
	*PageAllocator
}

// NewUserMapper allocates a fresh PML4, zeroes the lower 256 slots and
// copies the kernel's upper 256 slots into it verbatim (spec §4.2(a),
// §3 PTE invariant: "the top 256 slots of every process's PML4 are a
// verbatim copy of the kernel's top 256").
func NewUserMapper(phys *PageAllocator, kernel *KernelMapper) (*UserMapper, *kerr.Error) {
	root, err := phys.ReservePage()
	if err != nil {
		return nil, err
	}
	alloc := NewPageAllocator(phys.bitmap, root, phys.toVirt, phys.invlpg)
	alloc.zeroFrame(root)
	t := alloc.tableAt(root)
	upper := kernel.UpperHalf()
	copy(t[level4KernelStart:], upper[:])
	return &UserMapper{PageAllocator: alloc}, nil
}

// UpperHalf returns a copy of this mapper's PML4 slots 256..511, for
// comparison against KernelMapper.UpperHalf (spec §8 invariant 3).
func (u *UserMapper) UpperHalf() [level4KernelStart]PTE {
	var out [level4KernelStart]PTE
	copy(out[:], u.tableAt(u.root)[level4KernelStart:])
	return out
}

// MapCopyFromBuffer maps ceil((virt&0xFFF + size)/PageSize) leaves
// starting at virt's page,
// copying buffer contents into each page and zero-filling the remainder
// (spec §4.2(b)). The start offset for the first page is virt&0xFFF; each
// subsequent page copies min(remaining buffer, PageSize) bytes, and pages
// entirely beyond the buffer are zero-filled.
func (u *UserMapper) MapCopyFromBuffer(virt uintptr, size uintptr, buffer []byte) *kerr.Error {
	if !rangeWithinCanonical48(virt, size) || virt >= userSpaceCeiling {
		return kerr.ErrNonCanonicalRange
	}
	n := pageCount(virt, size)
	v := alignDown(virt)
	startOffset := virt & (PageSize - 1)
	written := 0
	for i := 0; i < n; i++ {
		frame, err := u.ReservePage()
		if err != nil {
			return err
		}
		if err := u.MapRange(frame, v, FlagWritable|FlagUser, PageSize); err != nil {
			u.FreePage(frame)
			return err
		}
		u.zeroFrame(frame)

		offset := 0
		if i == 0 {
			offset = int(startOffset)
		}
		capacity := PageSize - offset
		remaining := len(buffer) - written
		n2 := remaining
		if n2 > capacity {
			n2 = capacity
		}
		if n2 > 0 {
			dst := (*[PageSize]byte)(ptrFromUintptr(u.toVirt(frame)))
			copy(dst[offset:offset+n2], buffer[written:written+n2])
			written += n2
		}
		v += PageSize
	}
	return nil
}

// ReadBuffer copies up to len(out) bytes from user virtual address virt
// into out, crossing page boundaries the same way MapCopyFromBuffer
// writes them. It stops at the first unmapped page and returns the
// number of bytes actually copied — a user process handing the kernel
// a pointer it never mapped gets a short read, not a fault (spec §4.8
// Debug's rdi/rsi contract).
func (u *UserMapper) ReadBuffer(virt uintptr, out []byte) int {
	read := 0
	for read < len(out) {
		addr := virt + uintptr(read)
		phys, ok := u.TranslateAddr(addr)
		if !ok {
			break
		}
		offset := addr & (PageSize - 1)
		chunk := PageSize - int(offset)
		if remaining := len(out) - read; chunk > remaining {
			chunk = remaining
		}
		src := (*[PageSize]byte)(ptrFromUintptr(u.toVirt(phys - offset)))
		copy(out[read:read+chunk], src[offset:offset+uintptr(chunk)])
		read += chunk
	}
	return read
}

// relaxParent overrides PageAllocator's: the user mapper additionally
// clears NX on parent entries when the new leaf flags allow execution.
// Spec §9 flags this asymmetry with the kernel mapper as a source-level
// ambiguity; this repository treats it as intentional and documents the
// decision in DESIGN.md rather than unifying the two mappers' behavior.
func (u *UserMapper) relaxParent(t *Table, idx int, leafFlags Flag) {
	pte := t[idx]
	_, frame := pte.Decode()
	merged := Flag(uint64(pte)&^physAddrMask) | (leafFlags & (FlagWritable | FlagUser)) | FlagPresent
	if leafFlags&FlagNoExecute == 0 {
		merged &^= FlagNoExecute
	} else if uint64(pte)&uint64(FlagNoExecute) != 0 {
		merged |= FlagNoExecute
	}
	t[idx] = Encode(merged, frame)
}

// ChangeFlagsRelaxing reimplements PageAllocator.ChangeFlagsRelaxing using
// this mapper's NX-aware relaxParent. This is the function process
// construction uses to make a loaded segment executable beneath a PML4
// inherited from the kernel (spec §4.1, §4.9).
func (u *UserMapper) ChangeFlagsRelaxing(virt uintptr, flags Flag, size uintptr) *kerr.Error {
	if !rangeWithinCanonical48(virt, size) {
		return kerr.ErrNonCanonicalRange
	}
	n := pageCount(virt, size)
	v := alignDown(virt)
	leafFlags := (flags & writeableFlagMask) | FlagPresent
	for i := 0; i < n; i++ {
		tablePhys := u.root
		ok := true
		for level := 4; level >= 2; level-- {
			idx := indexForLevel(v, level)
			t := u.tableAt(tablePhys)
			pte := t[idx]
			if !pte.Present() {
				ok = false
				break
			}
			u.relaxParent(t, idx, flags)
			_, frame := pte.Decode()
			tablePhys = frame
		}
		if ok {
			idx := indexForLevel(v, 1)
			t := u.tableAt(tablePhys)
			if t[idx].Present() {
				_, frame := t[idx].Decode()
				t[idx] = Encode(leafFlags, frame)
				u.invlpg(v)
			}
		}
		v += PageSize
	}
	return nil
}

// UnmapPageRecursive removes the mapping at virt and, walking back up
// from the leaf, frees every intermediate table that became empty (spec
// §4.2(c)). If freeLeaf is true the leaf's physical frame is also freed
// (it is false when the caller wants to keep the frame, e.g. it is still
// referenced elsewhere).
func (u *UserMapper) UnmapPageRecursive(virt uintptr, freeLeaf bool) bool {
	var chain [4]struct {
		tablePhys uintptr
		index     int
	}
	tablePhys := u.root
	for level := 4; level >= 1; level-- {
		idx := indexForLevel(virt, level)
		chain[4-level] = struct {
			tablePhys uintptr
			index     int
		}{tablePhys, idx}
		if level == 1 {
			break
		}
		t := u.tableAt(tablePhys)
		pte := t[idx]
		if !pte.Present() {
			return false
		}
		if pte.IsHuge() {
			return false
		}
		_, frame := pte.Decode()
		tablePhys = frame
	}

	// chain[3] = PT (leaf) table + index of the leaf within it
	// chain[2] = PD table  + index of that PT within it
	// chain[1] = PDPT table + index of that PD within it
	// chain[0] = PML4 table + index of that PDPT within it (never freed)
	leaf := chain[3]
	leafTable := u.tableAt(leaf.tablePhys)
	pte := leafTable[leaf.index]
	if !pte.Present() {
		return false
	}
	_, frame := pte.Decode()
	if freeLeaf {
		u.FreePage(frame)
	}
	leafTable[leaf.index] = 0
	u.invlpg(virt)

	if !tableIsEmpty(u.tableAt(leaf.tablePhys)) {
		return true
	}
	u.FreePage(leaf.tablePhys)
	u.tableAt(chain[2].tablePhys)[chain[2].index] = 0

	if !tableIsEmpty(u.tableAt(chain[2].tablePhys)) {
		return true
	}
	u.FreePage(chain[2].tablePhys)
	u.tableAt(chain[1].tablePhys)[chain[1].index] = 0

	if !tableIsEmpty(u.tableAt(chain[1].tablePhys)) {
		return true
	}
	u.FreePage(chain[1].tablePhys)
	u.tableAt(chain[0].tablePhys)[chain[0].index] = 0
	return true
}

func tableIsEmpty(t *Table) bool {
	for _, pte := range t {
		if pte.Present() {
			return false
		}
	}
	return true
}

// Deinit walks only the lower half, freeing every present parent and leaf
// frame, and never touches the shared kernel mappings (spec §4.2,
// UserMapper lifecycle). The PML4 frame itself is freed last.
func (u *UserMapper) Deinit() {
	t := u.tableAt(u.root)
	for l4 := 0; l4 < level4KernelStart; l4++ {
		pte := t[l4]
		if !pte.Present() {
			continue
		}
		_, l3Phys := pte.Decode()
		u.deinitTable(l3Phys, 3)
		u.FreePage(l3Phys)
		t[l4] = 0
	}
	u.FreePage(u.root)
}

// deinitTable recursively frees every present child of a non-leaf table
// at the given level (3=PDPT, 2=PD, 1=PT — leaves at level 1 have no
// children to recurse into, only the frame itself, which deinitTable's
// caller frees after the call returns for levels >= 2; level 1 leaves are
// freed here directly).
func (u *UserMapper) deinitTable(tablePhys uintptr, level int) {
	t := u.tableAt(tablePhys)
	for i, pte := range t {
		if !pte.Present() {
			continue
		}
		_, childPhys := pte.Decode()
		if level == 1 {
			u.FreePage(childPhys)
		} else {
			u.deinitTable(childPhys, level-1)
			u.FreePage(childPhys)
		}
		t[i] = 0
	}
}
